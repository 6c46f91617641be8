package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the sentry daemon.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Session    SessionConfig    `yaml:"session"`
	History    HistoryConfig    `yaml:"history"`
	Cycle      CycleConfig      `yaml:"cycle"`
	Escalation EscalationConfig `yaml:"escalation"`
	Analyzer   AnalyzerConfig   `yaml:"analyzer"`
	Notifier   NotifierConfig   `yaml:"notifier"`
	Logging    LoggingConfig    `yaml:"logging"`
	Targets    []TargetConfig   `yaml:"targets"`
}

// ServerConfig controls the metrics listener and shutdown behaviour.
type ServerConfig struct {
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// StorageConfig locates durable state (session files and the cycle store).
type StorageConfig struct {
	DataDir string `yaml:"dataDir"`
}

// SessionConfig bounds the accumulated session log.
type SessionConfig struct {
	MaxContextTokens int           `yaml:"maxContextTokens"`
	PruneRatio       float64       `yaml:"pruneRatio"`
	RecencyWindow    int           `yaml:"recencyWindow"`
	TTL              time.Duration `yaml:"ttl"`
}

// HistoryConfig bounds the cycle-history window consulted for trends.
type HistoryConfig struct {
	MaxCycles     int           `yaml:"maxCycles"`
	MaxHours      int           `yaml:"maxHours"`
	RetentionDays int           `yaml:"retentionDays"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// CycleConfig drives the monitoring loop cadence.
type CycleConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// EscalationConfig controls the notification decision.
type EscalationConfig struct {
	NotifyThreshold string `yaml:"notifyThreshold"`
	RulesPath       string `yaml:"rulesPath"`
}

// AnalyzerConfig configures the bundled Claude-backed analyzer.
type AnalyzerConfig struct {
	Model           string        `yaml:"model"`
	MaxTokens       int           `yaml:"maxTokens"`
	SnapshotCommand string        `yaml:"snapshotCommand"`
	Timeout         time.Duration `yaml:"timeout"`
}

// NotifierConfig selects the delivery channel. Credentials come from the
// environment, never from the file.
type NotifierConfig struct {
	Kind   string `yaml:"kind"`
	ChatID string `yaml:"-"`
	Token  string `yaml:"-"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// TargetConfig names one monitored resource pool. Targets are fully
// isolated: separate session file, history partition, and timer.
type TargetConfig struct {
	Name            string `yaml:"name"`
	SnapshotCommand string `yaml:"snapshotCommand"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_SENTRY_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if len(cfg.Targets) == 0 {
		cfg.Targets = []TargetConfig{{Name: "default"}}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{DataDir: "./data"},
		Session: SessionConfig{
			MaxContextTokens: 120000,
			PruneRatio:       0.8,
			RecencyWindow:    50,
			TTL:              72 * time.Hour,
		},
		History: HistoryConfig{
			MaxCycles:     5,
			MaxHours:      24,
			RetentionDays: 14,
			SweepInterval: time.Hour,
		},
		Cycle: CycleConfig{
			Interval: 5 * time.Minute,
			Timeout:  2 * time.Minute,
		},
		Escalation: EscalationConfig{NotifyThreshold: "high"},
		Analyzer: AnalyzerConfig{
			Model:     "claude-3-5-haiku-20241022",
			MaxTokens: 4096,
			Timeout:   90 * time.Second,
		},
		Notifier: NotifierConfig{Kind: "log"},
		Logging:  LoggingConfig{Level: "info", JSON: false},
	}
}

// Validate rejects settings that would leave pruning or windowing behaviour
// undefined. The process must refuse to start cycling on any error here.
func (c *Config) Validate() error {
	if c.Session.PruneRatio <= 0 || c.Session.PruneRatio > 1 {
		return fmt.Errorf("session.pruneRatio must be in (0,1], got %v", c.Session.PruneRatio)
	}
	if c.Session.MaxContextTokens <= 0 {
		return fmt.Errorf("session.maxContextTokens must be positive, got %d", c.Session.MaxContextTokens)
	}
	if c.Session.RecencyWindow < 0 {
		return fmt.Errorf("session.recencyWindow must not be negative, got %d", c.Session.RecencyWindow)
	}
	if c.History.MaxCycles <= 0 {
		return fmt.Errorf("history.maxCycles must be positive, got %d", c.History.MaxCycles)
	}
	if c.History.MaxHours <= 0 {
		return fmt.Errorf("history.maxHours must be positive, got %d", c.History.MaxHours)
	}
	if c.Cycle.Interval <= 0 {
		return fmt.Errorf("cycle.interval must be positive, got %v", c.Cycle.Interval)
	}
	if c.Cycle.Timeout <= 0 {
		return fmt.Errorf("cycle.timeout must be positive, got %v", c.Cycle.Timeout)
	}
	switch strings.ToLower(c.Escalation.NotifyThreshold) {
	case "low", "medium", "high", "critical":
	default:
		return fmt.Errorf("escalation.notifyThreshold must be one of low/medium/high/critical, got %q", c.Escalation.NotifyThreshold)
	}
	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage.dataDir must not be empty")
	}
	seen := make(map[string]struct{}, len(c.Targets))
	for _, target := range c.Targets {
		if target.Name == "" {
			return fmt.Errorf("targets must have non-empty names")
		}
		if _, dup := seen[target.Name]; dup {
			return fmt.Errorf("duplicate target %q", target.Name)
		}
		seen[target.Name] = struct{}{}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_SENTRY_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_SENTRY_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("MIRADOR_SENTRY_MAX_CONTEXT_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.MaxContextTokens = n
		}
	}
	if v := os.Getenv("MIRADOR_SENTRY_PRUNE_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Session.PruneRatio = f
		}
	}
	if v := os.Getenv("MIRADOR_SENTRY_RECENCY_WINDOW"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Session.RecencyWindow = n
		}
	}
	if v := os.Getenv("MIRADOR_SENTRY_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Session.TTL = d
		}
	}
	if v := os.Getenv("MIRADOR_SENTRY_MAX_HISTORY_CYCLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.History.MaxCycles = n
		}
	}
	if v := os.Getenv("MIRADOR_SENTRY_MAX_HISTORY_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.History.MaxHours = n
		}
	}
	if v := os.Getenv("MIRADOR_SENTRY_CYCLE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cycle.Interval = d
		}
	}
	if v := os.Getenv("MIRADOR_SENTRY_CYCLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cycle.Timeout = d
		}
	}
	if v := os.Getenv("MIRADOR_SENTRY_NOTIFY_THRESHOLD"); v != "" {
		cfg.Escalation.NotifyThreshold = v
	}
	if v := os.Getenv("MIRADOR_SENTRY_RULES_PATH"); v != "" {
		cfg.Escalation.RulesPath = v
	}
	if v := os.Getenv("MIRADOR_SENTRY_ANALYZER_MODEL"); v != "" {
		cfg.Analyzer.Model = v
	}
	if v := os.Getenv("MIRADOR_SENTRY_SNAPSHOT_COMMAND"); v != "" {
		cfg.Analyzer.SnapshotCommand = v
	}
	if v := os.Getenv("MIRADOR_SENTRY_NOTIFIER"); v != "" {
		cfg.Notifier.Kind = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Notifier.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Notifier.ChatID = v
	}
	if v := os.Getenv("MIRADOR_SENTRY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_SENTRY_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}
