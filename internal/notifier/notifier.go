package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

// Notifier delivers one escalation message per cycle. Delivery failures are
// reported, not retried across cycles; the next cycle produces its own
// decision.
type Notifier interface {
	Notify(ctx context.Context, target string, decision models.EscalationDecision, findings []models.Finding, trend models.TrendReport) error
}

// FormatMessage renders the operator-facing notification body. Findings are
// ordered worst first so the headline issue leads.
func FormatMessage(target string, decision models.EscalationDecision, findings []models.Finding, trend models.TrendReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s\n", strings.ToUpper(string(decision.Severity)), target, decision.Reason)

	sorted := make([]models.Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity.Rank() > sorted[j].Severity.Rank()
	})
	for _, f := range sorted {
		fmt.Fprintf(&b, "- %s [%s/%s]", f.Key().String(), f.Severity, f.Status)
		if f.Description != "" {
			fmt.Fprintf(&b, ": %s", f.Description)
		}
		b.WriteByte('\n')
	}

	if len(trend.ResolvedIssues) > 0 {
		keys := make([]string, 0, len(trend.ResolvedIssues))
		for _, k := range trend.ResolvedIssues {
			keys = append(keys, k.String())
		}
		fmt.Fprintf(&b, "resolved: %s\n", strings.Join(keys, ", "))
	}
	if len(trend.Worsening) > 0 {
		keys := make([]string, 0, len(trend.Worsening))
		for k := range trend.Worsening {
			keys = append(keys, fmt.Sprintf("%s (x%d)", k.String(), trend.Worsening[k]))
		}
		sort.Strings(keys)
		fmt.Fprintf(&b, "worsening: %s\n", strings.Join(keys, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// LogNotifier writes notifications to the structured log. It is the default
// channel and the fallback when no credentials are configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, target string, decision models.EscalationDecision, findings []models.Finding, trend models.TrendReport) error {
	n.logger.Warn("escalation",
		"target", target,
		"severity", string(decision.Severity),
		"reason", decision.Reason,
		"message", FormatMessage(target, decision, findings, trend))
	return nil
}
