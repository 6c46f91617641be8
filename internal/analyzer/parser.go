package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/utils"
)

// rawFinding mirrors the JSON shape the model is asked to emit. Fields are
// free-form strings here; normalization onto the vocabulary happens in
// ParseFindings so a slightly off keyword degrades to Unknown instead of
// breaking the cycle.
type rawFinding struct {
	Service     string `json:"service"`
	Namespace   string `json:"namespace"`
	Severity    string `json:"severity"`
	Status      string `json:"status_keyword"`
	Description string `json:"description"`
}

type findingsEnvelope struct {
	Findings []rawFinding `json:"findings"`
}

// ParseFindings extracts findings from a model response. The response should
// be a JSON object {"findings": [...]}, but models occasionally wrap output
// in markdown fences, so those are stripped before parsing. Findings with an
// empty service are rejected outright: an unattributable finding cannot be
// keyed across cycles.
func ParseFindings(response string, now time.Time) ([]models.Finding, error) {
	cleaned := stripFences(response)
	if cleaned == "" {
		return nil, utils.NewAppError("analyzer.parse", "empty response", nil)
	}

	var envelope findingsEnvelope
	if err := json.Unmarshal([]byte(cleaned), &envelope); err != nil {
		return nil, utils.NewAppError("analyzer.parse", "response is not valid JSON", err)
	}

	findings := make([]models.Finding, 0, len(envelope.Findings))
	for i, raw := range envelope.Findings {
		service := models.NormalizeService(raw.Service)
		if service == "" {
			return nil, utils.NewAppError("analyzer.parse", fmt.Sprintf("finding %d has no service", i), nil)
		}
		findings = append(findings, models.Finding{
			Service:     service,
			Namespace:   strings.TrimSpace(raw.Namespace),
			Severity:    models.ParseSeverity(raw.Severity),
			Status:      models.ParseStatusKeyword(raw.Status),
			Description: strings.TrimSpace(raw.Description),
			DetectedAt:  now,
		})
	}
	return findings, nil
}

// stripFences removes a surrounding markdown code fence if present and trims
// any leading prose before the first brace.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	if !strings.HasPrefix(s, "{") {
		if idx := strings.Index(s, "{"); idx >= 0 {
			if end := strings.LastIndex(s, "}"); end > idx {
				s = s[idx : end+1]
			}
		}
	}
	return s
}
