package escalate

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-sentry/internal/models"
)

// RulePack holds operator overrides for the notification decision, loaded
// from a YAML file. Rules can force or suppress delivery for specific
// service/status combinations without touching the global threshold.
type RulePack struct {
	rules  []Rule
	logger *slog.Logger
}

// Rule represents a single override.
type Rule struct {
	ID        string    `yaml:"id"`
	Match     RuleMatch `yaml:"match"`
	Notify    string    `yaml:"notify"`    // "always" or "never"
	Threshold string    `yaml:"threshold"` // alternative: per-rule severity threshold
}

// RuleMatch defines optional attributes for rule matching.
type RuleMatch struct {
	Service string `yaml:"service"`
	Status  string `yaml:"status"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRulePack loads rules from the provided path. If the path is empty or
// the file is absent, overrides are simply disabled (nil pack).
func LoadRulePack(path string, logger *slog.Logger) (*RulePack, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RulePack{rules: cfg.Rules, logger: logger}, nil
}

// Apply adjusts a decision according to the first matching rule. The
// decision severity is never changed, only whether it is delivered.
func (rp *RulePack) Apply(decision models.EscalationDecision, current []models.Finding, table PriorityTable) models.EscalationDecision {
	if rp == nil {
		return decision
	}
	for _, rule := range rp.rules {
		if !ruleMatches(rule.Match, current) {
			continue
		}
		switch strings.ToLower(rule.Notify) {
		case "always":
			decision.ShouldNotify = true
			decision.Reason = "rule " + rule.ID
			return decision
		case "never":
			decision.ShouldNotify = false
			decision.Reason = "rule " + rule.ID
			return decision
		}
		if rule.Threshold != "" {
			threshold := models.ParseSeverity(rule.Threshold)
			decision.ShouldNotify = table[decision.Severity] >= table[threshold]
			decision.Reason = "rule " + rule.ID
			return decision
		}
	}
	return decision
}

func ruleMatches(match RuleMatch, current []models.Finding) bool {
	if match.Service == "" && match.Status == "" {
		return false
	}
	for _, finding := range current {
		if match.Service != "" && !strings.EqualFold(models.NormalizeService(match.Service), models.NormalizeService(finding.Service)) {
			continue
		}
		if match.Status != "" && models.ParseStatusKeyword(match.Status) != finding.Status {
			continue
		}
		return true
	}
	return false
}
