package session

import (
	"time"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

// EstimateTokens returns ceil(len(text)/4). The heuristic is fixed and
// documented: it must be identical across implementations so prune
// behaviour is deterministic and testable.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Budget enforces the context token budget over a session log.
type Budget struct {
	MaxTokens     int
	PruneRatio    float64
	RecencyWindow int
}

// PruneResult reports what a prune pass did.
type PruneResult struct {
	Removed     int
	TotalTokens int
	// Exceeded is set when every removable entry is gone and the total
	// still exceeds MaxTokens. Non-fatal; protected entries are never removed.
	Exceeded bool
}

// MaybePrune removes prunable entries oldest-first until the session total
// is at or under MaxTokens*PruneRatio. Entries are protected when they are
// SYSTEM role, critical, or among the most recent RecencyWindow entries by
// insertion order (judged against the list as it stood before removal).
// The pass is a no-op while the total is at or under the prune target.
func (b Budget) MaybePrune(sess *models.Session, now time.Time) PruneResult {
	target := int(float64(b.MaxTokens) * b.PruneRatio)
	total := sess.TotalTokens()
	if total <= target {
		return PruneResult{TotalTokens: total}
	}

	count := len(sess.Entries)
	kept := make([]models.SessionEntry, 0, count)
	removed := 0
	prunableLeft := false

	for i, entry := range sess.Entries {
		protected := entry.Role == models.RoleSystem ||
			entry.Critical ||
			i >= count-b.RecencyWindow
		if protected {
			kept = append(kept, entry)
			continue
		}
		if total > target {
			total -= entry.TokenEstimate
			removed++
			continue
		}
		prunableLeft = true
		kept = append(kept, entry)
	}

	if removed > 0 {
		sess.Entries = kept
		sess.LastPrunedAt = now.UTC()
	}

	return PruneResult{
		Removed:     removed,
		TotalTokens: total,
		Exceeded:    !prunableLeft && total > b.MaxTokens,
	}
}
