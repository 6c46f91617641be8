package escalate

import (
	"log/slog"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

// PriorityTable assigns each decision severity its notification priority.
// The table is static for the process lifetime; Decide consults nothing else.
type PriorityTable map[models.Severity]int

// DefaultPriorityTable returns the canonical severity ordering.
func DefaultPriorityTable() PriorityTable {
	return PriorityTable{
		models.SeverityNone:     0,
		models.SeverityInfo:     1,
		models.SeverityLow:      2,
		models.SeverityMedium:   3,
		models.SeverityHigh:     4,
		models.SeverityCritical: 5,
	}
}

// Policy turns current findings plus their trend classification into a
// notification decision. Decide is a pure function of its inputs and the
// static configuration; it holds no hidden state.
type Policy struct {
	threshold models.Severity
	table     PriorityTable
	rules     *RulePack
	logger    *slog.Logger
}

// NewPolicy constructs a Policy. A nil table falls back to the default
// ordering; rules may be nil when no rule pack is configured.
func NewPolicy(threshold models.Severity, table PriorityTable, rules *RulePack, logger *slog.Logger) *Policy {
	if table == nil {
		table = DefaultPriorityTable()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{threshold: threshold, table: table, rules: rules, logger: logger}
}

// Decide derives the decision severity from the worst current finding,
// promotes it one level when any current issue is on a worsening streak,
// and emits a recovery notice when a clean cycle follows resolved issues.
func (p *Policy) Decide(current []models.Finding, trend models.TrendReport) models.EscalationDecision {
	if len(current) == 0 {
		if len(trend.ResolvedIssues) > 0 {
			return models.EscalationDecision{
				Severity:     models.SeverityInfo,
				ShouldNotify: true,
				Reason:       "recovery",
			}
		}
		return models.EscalationDecision{Severity: models.SeverityNone, Reason: "no findings"}
	}

	severity := models.SeverityNone
	for _, finding := range current {
		if p.table[finding.Severity] > p.table[severity] {
			severity = finding.Severity
		}
	}

	reason := "max finding severity"
	if p.anyWorsening(current, trend) {
		severity = promote(severity)
		reason = "worsening streak promotion"
	}

	notify := p.table[severity] >= p.table[p.threshold]
	if !notify && p.hasCriticalNewIssue(current, trend) {
		notify = true
		reason = "new critical issue"
	}

	decision := models.EscalationDecision{Severity: severity, ShouldNotify: notify, Reason: reason}
	if p.rules != nil {
		decision = p.rules.Apply(decision, current, p.table)
	}
	return decision
}

func (p *Policy) anyWorsening(current []models.Finding, trend models.TrendReport) bool {
	for _, finding := range current {
		if _, ok := trend.Worsening[finding.Key()]; ok {
			return true
		}
	}
	return false
}

func (p *Policy) hasCriticalNewIssue(current []models.Finding, trend models.TrendReport) bool {
	newKeys := make(map[models.IssueKey]struct{}, len(trend.NewIssues))
	for _, key := range trend.NewIssues {
		newKeys[key] = struct{}{}
	}
	for _, finding := range current {
		if finding.Severity != models.SeverityCritical {
			continue
		}
		if _, ok := newKeys[finding.Key()]; ok {
			return true
		}
	}
	return false
}

// promote raises a severity one level, capped at critical.
func promote(severity models.Severity) models.Severity {
	switch severity {
	case models.SeverityNone:
		return models.SeverityInfo
	case models.SeverityInfo:
		return models.SeverityLow
	case models.SeverityLow:
		return models.SeverityMedium
	case models.SeverityMedium:
		return models.SeverityHigh
	default:
		return models.SeverityCritical
	}
}
