package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-sentry/internal/analyzer"
	"github.com/miradorstack/mirador-sentry/internal/config"
	"github.com/miradorstack/mirador-sentry/internal/escalate"
	"github.com/miradorstack/mirador-sentry/internal/history"
	"github.com/miradorstack/mirador-sentry/internal/metrics"
	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/notifier"
	"github.com/miradorstack/mirador-sentry/internal/runner"
	"github.com/miradorstack/mirador-sentry/internal/session"
	"github.com/miradorstack/mirador-sentry/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-sentry",
		slog.Int("targets", len(cfg.Targets)),
		slog.Duration("interval", cfg.Cycle.Interval))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	cycles, err := history.Open(cfg.Storage.DataDir, utils.ComponentLogger(logger, "history", ""))
	if err != nil {
		logger.Error("failed to open cycle store", slog.Any("error", err))
		os.Exit(1)
	}
	defer cycles.Close()

	rules, err := escalate.LoadRulePack(cfg.Escalation.RulesPath, utils.ComponentLogger(logger, "escalate", ""))
	if err != nil {
		logger.Error("failed to load escalation rule pack", slog.Any("error", err))
		os.Exit(1)
	}

	deliver, err := buildNotifier(cfg, logger)
	if err != nil {
		logger.Error("failed to build notifier", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runners := make([]*runner.Runner, 0, len(cfg.Targets))
	for _, target := range cfg.Targets {
		analyze, err := buildAnalyzer(cfg, target, logger)
		if err != nil {
			logger.Error("failed to build analyzer", slog.String("target", target.Name), slog.Any("error", err))
			os.Exit(1)
		}

		policy := escalate.NewPolicy(
			models.ParseSeverity(cfg.Escalation.NotifyThreshold),
			nil,
			rules,
			utils.ComponentLogger(logger, "escalate", target.Name),
		)

		runners = append(runners, runner.New(runner.Options{
			Target:       target.Name,
			Analyzer:     analyze,
			Notifier:     deliver,
			Sessions:     session.NewStore(cfg.Storage.DataDir, target.Name, cfg.Session.TTL, utils.ComponentLogger(logger, "session", target.Name)),
			Budget:       session.Budget{MaxTokens: cfg.Session.MaxContextTokens, PruneRatio: cfg.Session.PruneRatio, RecencyWindow: cfg.Session.RecencyWindow},
			Cycles:       cycles,
			MaxCycles:    cfg.History.MaxCycles,
			MaxHours:     cfg.History.MaxHours,
			CycleTimeout: cfg.Cycle.Timeout,
			Logger:       utils.ComponentLogger(logger, "runner", target.Name),
		}, policy))
	}

	retention := time.Duration(cfg.History.RetentionDays) * 24 * time.Hour
	scheduler, err := runner.NewScheduler(ctx, runners, cfg.Cycle.Interval, cycles, retention, cfg.History.SweepInterval, utils.ComponentLogger(logger, "scheduler", ""))
	if err != nil {
		logger.Error("failed to build scheduler", slog.Any("error", err))
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	scheduler.Start(ctx)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	stopped := scheduler.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(cfg.Server.GracefulTimeout):
		logger.Warn("graceful timeout exceeded, abandoning running cycle")
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("mirador-sentry stopped")
}

func buildAnalyzer(cfg *config.Config, target config.TargetConfig, logger *slog.Logger) (analyzer.Analyzer, error) {
	return analyzer.NewClaudeAnalyzer(
		os.Getenv("ANTHROPIC_API_KEY"),
		cfg.Analyzer,
		target.SnapshotCommand,
		utils.ComponentLogger(logger, "analyzer", target.Name),
	)
}

func buildNotifier(cfg *config.Config, logger *slog.Logger) (notifier.Notifier, error) {
	switch cfg.Notifier.Kind {
	case "telegram":
		return notifier.NewTelegram(cfg.Notifier.Token, cfg.Notifier.ChatID)
	case "", "log":
		return notifier.NewLogNotifier(utils.ComponentLogger(logger, "notifier", "")), nil
	default:
		return nil, utils.NewAppError("main", "unknown notifier kind "+cfg.Notifier.Kind, nil)
	}
}
