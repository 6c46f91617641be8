package trend

import (
	"reflect"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

func finding(service string, status models.StatusKeyword, severity models.Severity) models.Finding {
	return models.Finding{Service: service, Status: status, Severity: severity, DetectedAt: time.Now()}
}

func completedCycle(id string, findings ...models.Finding) models.Cycle {
	return models.Cycle{ID: id, Status: models.CycleCompleted, Findings: findings}
}

func hasKey(keys []models.IssueKey, key models.IssueKey) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

func TestDetectNewIssueWithEmptyHistory(t *testing.T) {
	detector := NewDetector()
	current := []models.Finding{finding("svcZ", models.StatusPending, models.SeverityMedium)}

	report := detector.Detect(current, nil)

	want := models.IssueKey{Service: "svcz", Status: models.StatusPending}
	if !hasKey(report.NewIssues, want) || len(report.NewIssues) != 1 {
		t.Fatalf("expected new_issues = {%v}, got %v", want, report.NewIssues)
	}
	if len(report.RecurringIssues) != 0 || len(report.ResolvedIssues) != 0 {
		t.Errorf("unexpected recurring/resolved: %+v", report)
	}
	if len(report.Worsening) != 0 {
		t.Errorf("expected empty worsening, got %v", report.Worsening)
	}
}

func TestDetectResolution(t *testing.T) {
	detector := NewDetector()
	history := []models.Cycle{
		completedCycle("c1", finding("svcX", models.StatusCrashLoop, models.SeverityCritical)),
	}

	report := detector.Detect(nil, history)

	want := models.IssueKey{Service: "svcx", Status: models.StatusCrashLoop}
	if !hasKey(report.ResolvedIssues, want) || len(report.ResolvedIssues) != 1 {
		t.Fatalf("expected resolved_issues = {%v}, got %v", want, report.ResolvedIssues)
	}
	if len(report.NewIssues) != 0 {
		t.Errorf("expected no new issues, got %v", report.NewIssues)
	}
}

func TestDetectWorseningStreak(t *testing.T) {
	detector := NewDetector()
	history := []models.Cycle{
		completedCycle("c1", finding("svcY", models.StatusOOM, models.SeverityHigh)),
		completedCycle("c2", finding("svcY", models.StatusOOM, models.SeverityCritical)),
	}
	current := []models.Finding{finding("svcY", models.StatusOOM, models.SeverityCritical)}

	report := detector.Detect(current, history)

	key := models.IssueKey{Service: "svcy", Status: models.StatusOOM}
	if !hasKey(report.RecurringIssues, key) {
		t.Fatalf("expected %v recurring, got %v", key, report.RecurringIssues)
	}
	if report.Worsening[key] < 2 {
		t.Fatalf("expected worsening streak >= 2, got %v", report.Worsening)
	}
	// Full non-decreasing run: high -> critical -> critical.
	if report.Worsening[key] != 3 {
		t.Errorf("expected streak of 3, got %d", report.Worsening[key])
	}
}

func TestDetectRankDecreaseEndsStreak(t *testing.T) {
	detector := NewDetector()
	history := []models.Cycle{
		completedCycle("c1", finding("svcY", models.StatusOOM, models.SeverityCritical)),
	}
	current := []models.Finding{finding("svcY", models.StatusOOM, models.SeverityLow)}

	report := detector.Detect(current, history)
	if len(report.Worsening) != 0 {
		t.Fatalf("severity drop must not count as worsening: %v", report.Worsening)
	}
}

func TestDetectFlappingRestartsStreak(t *testing.T) {
	detector := NewDetector()
	key := models.IssueKey{Service: "svcy", Status: models.StatusOOM}

	// Issue present, absent for one cycle, then back: the gap resets the
	// streak, so a single reappearance is not yet worsening.
	history := []models.Cycle{
		completedCycle("c1", finding("svcY", models.StatusOOM, models.SeverityHigh)),
		completedCycle("c2"),
	}
	current := []models.Finding{finding("svcY", models.StatusOOM, models.SeverityHigh)}

	report := detector.Detect(current, history)
	if _, ok := report.Worsening[key]; ok {
		t.Fatalf("gap must reset the streak: %v", report.Worsening)
	}
	// It resolved in c2 relative to c1, then came back: with c2 as the most
	// recent completed cycle the key reads as recurring (seen in window).
	if !hasKey(report.RecurringIssues, key) {
		t.Errorf("expected recurring after flap, got %+v", report)
	}
}

func TestDetectExcludesDegradedCycles(t *testing.T) {
	detector := NewDetector()
	history := []models.Cycle{
		{ID: "c1", Status: models.CycleFailed, Findings: []models.Finding{
			finding("svcX", models.StatusCrashLoop, models.SeverityCritical),
		}},
	}
	current := []models.Finding{finding("svcX", models.StatusCrashLoop, models.SeverityCritical)}

	report := detector.Detect(current, history)

	key := models.IssueKey{Service: "svcx", Status: models.StatusCrashLoop}
	if !hasKey(report.NewIssues, key) {
		t.Fatalf("failed cycle contributed to seen set: %+v", report)
	}
	if len(report.ResolvedIssues) != 0 {
		t.Errorf("failed cycle must not produce resolutions: %v", report.ResolvedIssues)
	}
}

func TestDetectResolutionUsesOnlyMostRecentCycle(t *testing.T) {
	detector := NewDetector()
	history := []models.Cycle{
		completedCycle("c1", finding("svcA", models.StatusImagePull, models.SeverityMedium)),
		completedCycle("c2"),
	}

	report := detector.Detect(nil, history)
	if len(report.ResolvedIssues) != 0 {
		t.Fatalf("issue absent from the most recent cycle already resolved earlier: %v", report.ResolvedIssues)
	}
}

func TestDetectDeterministic(t *testing.T) {
	detector := NewDetector()
	history := []models.Cycle{
		completedCycle("c1",
			finding("svcA", models.StatusCrashLoop, models.SeverityHigh),
			finding("svcB", models.StatusOOM, models.SeverityMedium),
		),
		completedCycle("c2",
			finding("svcA", models.StatusCrashLoop, models.SeverityCritical),
		),
	}
	current := []models.Finding{
		finding("svcA", models.StatusCrashLoop, models.SeverityCritical),
		finding("svcC", models.StatusPending, models.SeverityLow),
	}

	first := detector.Detect(current, history)
	second := detector.Detect(current, history)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("reports differ:\n%+v\n%+v", first, second)
	}
}

func TestDetectDuplicateKeysUseMaxSeverity(t *testing.T) {
	detector := NewDetector()
	history := []models.Cycle{
		completedCycle("c1", finding("svcA", models.StatusOOM, models.SeverityHigh)),
	}
	// Same key twice in one cycle; the critical instance drives the streak.
	current := []models.Finding{
		finding("svcA", models.StatusOOM, models.SeverityLow),
		finding("svcA", models.StatusOOM, models.SeverityCritical),
	}

	report := detector.Detect(current, history)
	key := models.IssueKey{Service: "svca", Status: models.StatusOOM}
	if report.Worsening[key] != 2 {
		t.Fatalf("expected streak 2 from max severity, got %v", report.Worsening)
	}
}
