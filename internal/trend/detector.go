package trend

import (
	"sort"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

// Detector classifies the current cycle's findings against recent history:
// brand-new issues, recurring ones, issues that just resolved, and issues
// getting worse across consecutive cycles. Detection is a pure function of
// its inputs; streak counts are recomputed fresh from the loaded window on
// every call, never carried in external state.
type Detector struct{}

// NewDetector constructs a Detector.
func NewDetector() *Detector { return &Detector{} }

// Detect compares current findings with the history window. Only COMPLETED
// cycles count as evidence: a failed or incomplete cycle must never read as
// "everything resolved". Resolution is judged against the single most
// recent completed cycle only, so an issue that flaps out for one cycle is
// reported as resolved and then new again rather than continuously
// worsening.
func (d *Detector) Detect(current []models.Finding, history []models.Cycle) models.TrendReport {
	completed := make([]models.Cycle, 0, len(history))
	for _, cycle := range history {
		if cycle.Status == models.CycleCompleted {
			completed = append(completed, cycle)
		}
	}

	currentRanks := maxRanks(current)
	seen := make(map[models.IssueKey]struct{})
	for _, cycle := range completed {
		for _, finding := range cycle.Findings {
			seen[finding.Key()] = struct{}{}
		}
	}

	report := models.TrendReport{
		NewIssues:       []models.IssueKey{},
		RecurringIssues: []models.IssueKey{},
		ResolvedIssues:  []models.IssueKey{},
		Worsening:       make(map[models.IssueKey]int),
	}

	for key := range currentRanks {
		if _, ok := seen[key]; ok {
			report.RecurringIssues = append(report.RecurringIssues, key)
		} else {
			report.NewIssues = append(report.NewIssues, key)
		}
	}

	if len(completed) > 0 {
		previous := maxRanks(completed[len(completed)-1].Findings)
		for key := range previous {
			if _, stillPresent := currentRanks[key]; !stillPresent {
				report.ResolvedIssues = append(report.ResolvedIssues, key)
			}
		}
	}

	for key, rank := range currentRanks {
		if count := trailingStreak(key, rank, completed); count >= 2 {
			report.Worsening[key] = count
		}
	}

	sortKeys(report.NewIssues)
	sortKeys(report.RecurringIssues)
	sortKeys(report.ResolvedIssues)
	return report
}

// trailingStreak counts consecutive trailing cycles (current included) in
// which the key appears with a severity rank no lower than its immediately
// prior appearance. Any gap or rank decrease ends the streak.
func trailingStreak(key models.IssueKey, currentRank int, completed []models.Cycle) int {
	count := 1
	newer := currentRank
	for i := len(completed) - 1; i >= 0; i-- {
		older, present := maxRanks(completed[i].Findings)[key]
		if !present || newer < older {
			break
		}
		count++
		newer = older
	}
	return count
}

// maxRanks collapses findings to one severity rank per issue key, keeping
// the highest when a key appears more than once in a cycle.
func maxRanks(findings []models.Finding) map[models.IssueKey]int {
	ranks := make(map[models.IssueKey]int, len(findings))
	for _, finding := range findings {
		key := finding.Key()
		rank := finding.Severity.Rank()
		if existing, ok := ranks[key]; !ok || rank > existing {
			ranks[key] = rank
		}
	}
	return ranks
}

func sortKeys(keys []models.IssueKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
}
