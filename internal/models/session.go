package models

import "time"

// EntryRole distinguishes the pinned system preamble from cycle summaries.
type EntryRole string

const (
	RoleSystem       EntryRole = "system"
	RoleCycleSummary EntryRole = "cycle_summary"
)

// SessionEntry is one record in the bounded session log. The token estimate
// is computed once at append time so pruning arithmetic stays stable.
type SessionEntry struct {
	Role          EntryRole `json:"role"`
	Content       string    `json:"content"`
	TokenEstimate int       `json:"token_estimate"`
	Critical      bool      `json:"critical"`
	Timestamp     time.Time `json:"timestamp"`
}

// Session is the ordered log of accumulated cycle summaries for one
// monitored target, subject to the context token budget.
type Session struct {
	ID           string         `json:"session_id"`
	Target       string         `json:"target"`
	Entries      []SessionEntry `json:"entries"`
	CreatedAt    time.Time      `json:"created_at"`
	LastPrunedAt time.Time      `json:"last_pruned_at,omitempty"`
}

// TotalTokens sums the stored entry estimates.
func (s *Session) TotalTokens() int {
	total := 0
	for _, entry := range s.Entries {
		total += entry.TokenEstimate
	}
	return total
}
