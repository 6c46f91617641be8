package analyzer

import (
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

func TestParseFindingsPlainJSON(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	response := `{"findings":[{"service":"  Checkout API ","namespace":"prod","severity":"HIGH","status_keyword":"CrashLoopBackOff","description":" restarting every 30s "}]}`

	findings, err := ParseFindings(response, now)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	f := findings[0]
	if f.Service != "checkout api" {
		t.Errorf("service not normalized: %q", f.Service)
	}
	if f.Severity != models.SeverityHigh {
		t.Errorf("severity: %s", f.Severity)
	}
	if f.Status != models.StatusCrashLoop {
		t.Errorf("status: %s", f.Status)
	}
	if f.Description != "restarting every 30s" {
		t.Errorf("description: %q", f.Description)
	}
	if !f.DetectedAt.Equal(now) {
		t.Errorf("detected_at: %v", f.DetectedAt)
	}
}

func TestParseFindingsStripsFences(t *testing.T) {
	response := "```json\n{\"findings\":[{\"service\":\"svc\",\"severity\":\"low\",\"status_keyword\":\"Pending\"}]}\n```"
	findings, err := ParseFindings(response, time.Now())
	if err != nil {
		t.Fatalf("fenced response must parse: %v", err)
	}
	if len(findings) != 1 || findings[0].Status != models.StatusPending {
		t.Fatalf("unexpected findings: %+v", findings)
	}
}

func TestParseFindingsExtractsFromProse(t *testing.T) {
	response := "Here is the analysis you asked for:\n{\"findings\":[]}\nLet me know if you need more."
	findings, err := ParseFindings(response, time.Now())
	if err != nil {
		t.Fatalf("prose-wrapped response must parse: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("expected empty findings, got %+v", findings)
	}
}

func TestParseFindingsUnknownKeyword(t *testing.T) {
	response := `{"findings":[{"service":"svc","severity":"medium","status_keyword":"DiskPressure"}]}`
	findings, err := ParseFindings(response, time.Now())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if findings[0].Status != models.StatusUnknown {
		t.Fatalf("off-vocabulary keyword must degrade to Unknown, got %s", findings[0].Status)
	}
}

func TestParseFindingsRejectsMissingService(t *testing.T) {
	response := `{"findings":[{"service":"   ","severity":"high","status_keyword":"OOM"}]}`
	if _, err := ParseFindings(response, time.Now()); err == nil {
		t.Fatalf("finding without service must be rejected")
	}
}

func TestParseFindingsRejectsGarbage(t *testing.T) {
	for _, response := range []string{"", "not json at all", "```\n```"} {
		if _, err := ParseFindings(response, time.Now()); err == nil {
			t.Fatalf("expected error for %q", response)
		}
	}
}
