package history

import (
	"fmt"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/utils"
)

// FormatSummary renders a deterministic digest of a history window for
// narration. Identical input always yields byte-identical output, and the
// digest has no influence on trend classification. Degraded cycles appear
// as explicit history gaps so operators are never told an issue was fixed
// when monitoring simply failed to run.
func FormatSummary(window Window) string {
	var b strings.Builder
	fmt.Fprintf(&b, "history: %d completed cycle(s), %d gap(s)\n", len(window.Cycles), len(window.Gaps))

	for _, cycle := range window.Cycles {
		fmt.Fprintf(&b, "- %s %s findings=%d", utils.FormatUTC(cycle.CompletedAt), cycle.Status, len(cycle.Findings))
		if len(cycle.Findings) > 0 {
			b.WriteString(" [")
			b.WriteString(strings.Join(findingDigests(cycle.Findings), "; "))
			b.WriteString("]")
		}
		b.WriteString("\n")
	}

	for _, gap := range window.Gaps {
		fmt.Fprintf(&b, "- %s history gap (%s)\n", utils.FormatUTC(gap.CompletedAt), gap.Status)
	}

	return b.String()
}

func findingDigests(findings []models.Finding) []string {
	digests := make([]string, 0, len(findings))
	for _, f := range findings {
		digests = append(digests, fmt.Sprintf("%s %s", f.Key(), f.Severity))
	}
	sort.Strings(digests)
	return digests
}
