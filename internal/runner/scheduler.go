package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/miradorstack/mirador-sentry/internal/history"
)

// Scheduler fires each target's runner on a fixed interval and runs the
// history retention sweep. Ticks landing while a cycle is in flight are
// skipped by the runner's busy flag.
type Scheduler struct {
	cron    *cronlib.Cron
	runners []*Runner
	logger  *slog.Logger
}

// NewScheduler wires all runners onto one cron instance. An immediate first
// cycle fires on Start; the cron entries carry the steady-state cadence.
func NewScheduler(ctx context.Context, runners []*Runner, interval time.Duration, cycles *history.Store, retention, sweepInterval time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	scheduler := &Scheduler{
		cron:    cronlib.New(),
		runners: runners,
		logger:  logger,
	}

	for _, r := range runners {
		runner := r
		spec := fmt.Sprintf("@every %s", interval)
		if _, err := scheduler.cron.AddFunc(spec, func() {
			scheduler.runOnce(ctx, runner)
		}); err != nil {
			return nil, fmt.Errorf("schedule target %s: %w", runner.Target(), err)
		}
	}

	if cycles != nil && retention > 0 && sweepInterval > 0 {
		spec := fmt.Sprintf("@every %s", sweepInterval)
		if _, err := scheduler.cron.AddFunc(spec, func() {
			removed, err := cycles.Sweep(ctx, retention, time.Now())
			if err != nil {
				logger.Error("retention sweep failed", slog.Any("error", err))
				return
			}
			if removed > 0 {
				logger.Info("retention sweep", slog.Int64("removed", removed))
			}
		}); err != nil {
			return nil, fmt.Errorf("schedule retention sweep: %w", err)
		}
	}

	return scheduler, nil
}

// Start kicks off an immediate cycle for every target, then begins the
// interval schedule.
func (s *Scheduler) Start(ctx context.Context) {
	for _, runner := range s.runners {
		go s.runOnce(ctx, runner)
	}
	s.cron.Start()
}

// Stop halts the schedule and waits for any running jobs to finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runOnce(ctx context.Context, runner *Runner) {
	if ctx.Err() != nil {
		return
	}
	cycle, err := runner.RunCycle(ctx)
	switch {
	case errors.Is(err, ErrCycleInFlight):
		s.logger.Warn("tick skipped, cycle still in flight", slog.String("target", runner.Target()))
	case err != nil:
		s.logger.Error("cycle finished degraded",
			slog.String("target", runner.Target()),
			slog.String("cycle_id", cycle.ID),
			slog.Any("error", err))
	default:
		s.logger.Info("cycle completed",
			slog.String("target", runner.Target()),
			slog.String("cycle_id", cycle.ID),
			slog.Int("findings", len(cycle.Findings)))
	}
}
