package models

import "time"

// CycleStatus enumerates terminal states of a monitoring cycle.
type CycleStatus string

const (
	CycleCompleted  CycleStatus = "completed"
	CycleIncomplete CycleStatus = "incomplete"
	CycleFailed     CycleStatus = "failed"
)

// Cycle is one complete execution of the monitoring loop and its persisted
// outcome. A cycle is finalized exactly once and immutable afterwards.
type Cycle struct {
	ID          string              `json:"cycle_id"`
	Target      string              `json:"target"`
	StartedAt   time.Time           `json:"started_at"`
	CompletedAt time.Time           `json:"completed_at"`
	Status      CycleStatus         `json:"status"`
	Findings    []Finding           `json:"findings,omitempty"`
	Trend       *TrendReport        `json:"trend,omitempty"`
	Escalation  *EscalationDecision `json:"escalation,omitempty"`
}

// TrendReport classifies the current cycle's findings against recent history.
type TrendReport struct {
	NewIssues       []IssueKey       `json:"new_issues"`
	RecurringIssues []IssueKey       `json:"recurring_issues"`
	ResolvedIssues  []IssueKey       `json:"resolved_issues"`
	Worsening       map[IssueKey]int `json:"worsening"`
}

// EscalationDecision is the structured notification verdict for one cycle.
type EscalationDecision struct {
	Severity     Severity `json:"severity"`
	ShouldNotify bool     `json:"should_notify"`
	Reason       string   `json:"reason"`
}
