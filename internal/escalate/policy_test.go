package escalate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

func finding(service string, status models.StatusKeyword, severity models.Severity) models.Finding {
	return models.Finding{Service: service, Status: status, Severity: severity, DetectedAt: time.Now()}
}

func emptyTrend() models.TrendReport {
	return models.TrendReport{Worsening: map[models.IssueKey]int{}}
}

func TestDecideBaseSeverityIsMax(t *testing.T) {
	policy := NewPolicy(models.SeverityHigh, nil, nil, nil)
	current := []models.Finding{
		finding("svcA", models.StatusPending, models.SeverityLow),
		finding("svcB", models.StatusOOM, models.SeverityHigh),
	}

	decision := policy.Decide(current, emptyTrend())
	if decision.Severity != models.SeverityHigh {
		t.Fatalf("expected high, got %s", decision.Severity)
	}
	if !decision.ShouldNotify {
		t.Fatalf("severity at threshold must notify: %+v", decision)
	}
}

func TestDecideBelowThresholdStaysQuiet(t *testing.T) {
	policy := NewPolicy(models.SeverityHigh, nil, nil, nil)
	current := []models.Finding{finding("svcA", models.StatusPending, models.SeverityMedium)}

	decision := policy.Decide(current, emptyTrend())
	if decision.ShouldNotify {
		t.Fatalf("medium below high threshold must not notify: %+v", decision)
	}
}

func TestDecideWorseningPromotesOneLevel(t *testing.T) {
	policy := NewPolicy(models.SeverityHigh, nil, nil, nil)
	oom := finding("svcY", models.StatusOOM, models.SeverityHigh)
	trend := emptyTrend()
	trend.Worsening[oom.Key()] = 2

	decision := policy.Decide([]models.Finding{oom}, trend)
	if decision.Severity != models.SeverityCritical {
		t.Fatalf("expected promotion to critical, got %s", decision.Severity)
	}
	if !decision.ShouldNotify {
		t.Fatalf("promoted decision must notify: %+v", decision)
	}
}

func TestDecidePromotionCapsAtCritical(t *testing.T) {
	policy := NewPolicy(models.SeverityHigh, nil, nil, nil)
	crash := finding("svcX", models.StatusCrashLoop, models.SeverityCritical)
	trend := emptyTrend()
	trend.Worsening[crash.Key()] = 4

	decision := policy.Decide([]models.Finding{crash}, trend)
	if decision.Severity != models.SeverityCritical {
		t.Fatalf("promotion must cap at critical, got %s", decision.Severity)
	}
}

func TestDecideRecovery(t *testing.T) {
	policy := NewPolicy(models.SeverityHigh, nil, nil, nil)
	trend := emptyTrend()
	trend.ResolvedIssues = []models.IssueKey{{Service: "svcx", Status: models.StatusCrashLoop}}

	decision := policy.Decide(nil, trend)
	if decision.Severity != models.SeverityInfo || !decision.ShouldNotify || decision.Reason != "recovery" {
		t.Fatalf("expected recovery decision, got %+v", decision)
	}
}

func TestDecideQuietWhenNothingHappened(t *testing.T) {
	policy := NewPolicy(models.SeverityHigh, nil, nil, nil)
	decision := policy.Decide(nil, emptyTrend())
	if decision.ShouldNotify || decision.Severity != models.SeverityNone {
		t.Fatalf("empty cycle with no resolutions must stay quiet: %+v", decision)
	}
}

func TestDecideNewCriticalBypassesThreshold(t *testing.T) {
	policy := NewPolicy(models.SeverityCritical, nil, nil, nil)
	crash := finding("svcX", models.StatusCrashLoop, models.SeverityCritical)
	other := finding("svcB", models.StatusPending, models.SeverityLow)
	trend := emptyTrend()
	trend.NewIssues = []models.IssueKey{crash.Key()}

	decision := policy.Decide([]models.Finding{other, crash}, trend)
	if !decision.ShouldNotify {
		t.Fatalf("new critical issue must notify regardless of threshold: %+v", decision)
	}
}

func TestDecideDeterministic(t *testing.T) {
	policy := NewPolicy(models.SeverityHigh, nil, nil, nil)
	oom := finding("svcY", models.StatusOOM, models.SeverityHigh)
	trend := emptyTrend()
	trend.Worsening[oom.Key()] = 2
	current := []models.Finding{oom}

	if a, b := policy.Decide(current, trend), policy.Decide(current, trend); a != b {
		t.Fatalf("decisions differ: %+v vs %+v", a, b)
	}
}

func TestRulePackForcesAndSuppresses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	body := `rules:
  - id: silence-batch
    match:
      service: "batch-worker"
    notify: never
  - id: page-payments
    match:
      service: "payments"
      status: "CrashLoop"
    notify: always
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	pack, err := LoadRulePack(path, nil)
	if err != nil {
		t.Fatalf("load rule pack: %v", err)
	}
	policy := NewPolicy(models.SeverityHigh, nil, pack, nil)

	suppressed := policy.Decide([]models.Finding{finding("batch-worker", models.StatusOOM, models.SeverityCritical)}, emptyTrend())
	if suppressed.ShouldNotify {
		t.Fatalf("rule should suppress notification: %+v", suppressed)
	}

	forced := policy.Decide([]models.Finding{finding("payments", models.StatusCrashLoop, models.SeverityLow)}, emptyTrend())
	if !forced.ShouldNotify {
		t.Fatalf("rule should force notification: %+v", forced)
	}
}

func TestLoadRulePackMissingFile(t *testing.T) {
	pack, err := LoadRulePack("does-not-exist.yaml", nil)
	if err != nil {
		t.Fatalf("missing rule pack must not error: %v", err)
	}
	if pack != nil {
		t.Fatalf("expected nil pack for missing file")
	}
}
