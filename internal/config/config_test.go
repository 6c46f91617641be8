package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	if cfg.Session.MaxContextTokens != 120000 {
		t.Errorf("expected maxContextTokens 120000, got %d", cfg.Session.MaxContextTokens)
	}
	if cfg.Session.PruneRatio != 0.8 {
		t.Errorf("expected pruneRatio 0.8, got %v", cfg.Session.PruneRatio)
	}
	if cfg.Session.RecencyWindow != 50 {
		t.Errorf("expected recencyWindow 50, got %d", cfg.Session.RecencyWindow)
	}
	if cfg.History.MaxCycles != 5 || cfg.History.MaxHours != 24 {
		t.Errorf("unexpected history window defaults: %+v", cfg.History)
	}
	if cfg.Escalation.NotifyThreshold != "high" {
		t.Errorf("expected notifyThreshold high, got %q", cfg.Escalation.NotifyThreshold)
	}
	if len(cfg.Targets) != 1 || cfg.Targets[0].Name != "default" {
		t.Errorf("expected single default target, got %+v", cfg.Targets)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sentry.yaml")
	body := `
session:
  maxContextTokens: 4000
cycle:
  interval: 30s
  timeout: 10s
targets:
  - name: prod-east
  - name: prod-west
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("MIRADOR_SENTRY_MAX_HISTORY_CYCLES", "9")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Session.MaxContextTokens != 4000 {
		t.Errorf("file override lost: %d", cfg.Session.MaxContextTokens)
	}
	if cfg.Cycle.Interval != 30*time.Second {
		t.Errorf("expected interval 30s, got %v", cfg.Cycle.Interval)
	}
	if cfg.History.MaxCycles != 9 {
		t.Errorf("env override lost: %d", cfg.History.MaxCycles)
	}
	if len(cfg.Targets) != 2 {
		t.Errorf("expected 2 targets, got %+v", cfg.Targets)
	}
}

func TestValidateRejectsBadPruneRatio(t *testing.T) {
	for _, ratio := range []float64{0, -0.5, 1.5} {
		cfg := defaultConfig()
		cfg.Targets = []TargetConfig{{Name: "default"}}
		cfg.Session.PruneRatio = ratio
		if err := cfg.Validate(); err == nil {
			t.Errorf("expected validation error for pruneRatio %v", ratio)
		}
	}
}

func TestValidateRejectsBadWindow(t *testing.T) {
	cfg := defaultConfig()
	cfg.Targets = []TargetConfig{{Name: "default"}}
	cfg.History.MaxCycles = 0
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "maxCycles") {
		t.Fatalf("expected maxCycles validation error, got %v", err)
	}
}

func TestValidateRejectsDuplicateTargets(t *testing.T) {
	cfg := defaultConfig()
	cfg.Targets = []TargetConfig{{Name: "a"}, {Name: "a"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected duplicate target error")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
