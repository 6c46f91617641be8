package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/miradorstack/mirador-sentry/internal/analyzer"
	"github.com/miradorstack/mirador-sentry/internal/escalate"
	"github.com/miradorstack/mirador-sentry/internal/history"
	"github.com/miradorstack/mirador-sentry/internal/metrics"
	"github.com/miradorstack/mirador-sentry/internal/models"
	"github.com/miradorstack/mirador-sentry/internal/notifier"
	"github.com/miradorstack/mirador-sentry/internal/session"
	"github.com/miradorstack/mirador-sentry/internal/trend"
	"github.com/miradorstack/mirador-sentry/internal/utils"
)

// ErrCycleInFlight is returned when a tick fires while the previous cycle
// for the same target is still running. Ticks are skipped, never queued.
var ErrCycleInFlight = errors.New("cycle already in flight")

const systemPreamble = "You are monitoring a managed resource pool. Accumulated cycle summaries follow; treat them as the authoritative record of what has already been observed and reported."

// Options collects the collaborators and tuning for one target's runner.
type Options struct {
	Target       string
	Analyzer     analyzer.Analyzer
	Notifier     notifier.Notifier
	Sessions     *session.Store
	Budget       session.Budget
	Cycles       *history.Store
	MaxCycles    int
	MaxHours     int
	CycleTimeout time.Duration
	Logger       *slog.Logger
}

// Runner drives the monitoring loop for exactly one target. It is the
// single writer of that target's session file and cycle records; targets
// never share a Runner.
type Runner struct {
	target   string
	analyzer analyzer.Analyzer
	notifier notifier.Notifier
	sessions *session.Store
	budget   session.Budget
	cycles   *history.Store
	detector *trend.Detector
	policy   *escalate.Policy

	maxCycles    int
	maxHours     int
	cycleTimeout time.Duration

	logger  *slog.Logger
	latency *utils.LatencyTracker

	mu         sync.Mutex
	busy       bool
	sess       *models.Session
	lastIDNano int64
}

// New constructs a Runner.
func New(opts Options, policy *escalate.Policy) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		target:       opts.Target,
		analyzer:     opts.Analyzer,
		notifier:     opts.Notifier,
		sessions:     opts.Sessions,
		budget:       opts.Budget,
		cycles:       opts.Cycles,
		detector:     trend.NewDetector(),
		policy:       policy,
		maxCycles:    opts.MaxCycles,
		maxHours:     opts.MaxHours,
		cycleTimeout: opts.CycleTimeout,
		logger:       logger,
		latency:      utils.NewLatencyTracker(512),
	}
}

// Target returns the monitored target name.
func (r *Runner) Target() string { return r.target }

// RunCycle executes one monitoring cycle. Only one cycle per target is ever
// in flight: a call arriving while another runs returns ErrCycleInFlight
// without side effects. Every started cycle finalizes exactly one record.
func (r *Runner) RunCycle(ctx context.Context) (models.Cycle, error) {
	r.mu.Lock()
	if r.busy {
		r.mu.Unlock()
		return models.Cycle{}, ErrCycleInFlight
	}
	r.busy = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.busy = false
		r.mu.Unlock()
	}()

	start := time.Now().UTC()
	cycle := models.Cycle{
		ID:        r.nextCycleID(start),
		Target:    r.target,
		StartedAt: start,
	}

	cctx := ctx
	var cancel context.CancelFunc
	if r.cycleTimeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, r.cycleTimeout)
		defer cancel()
	}

	if err := r.ensureSession(start); err != nil {
		return r.finalizeDegraded(ctx, cycle, models.CycleFailed, err)
	}

	findings, err := r.analyzer.Analyze(cctx, r.target)
	if err != nil {
		status := models.CycleFailed
		// Timeouts and shutdown cancellation are monitoring gaps, not
		// analyzer failures.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || cctx.Err() != nil {
			status = models.CycleIncomplete
		}
		return r.finalizeDegraded(ctx, cycle, status, err)
	}
	cycle.Findings = findings

	window, err := r.cycles.LoadRecent(cctx, r.target, r.maxCycles, r.maxHours, start)
	if err != nil {
		if cctx.Err() != nil {
			return r.finalizeDegraded(ctx, cycle, models.CycleIncomplete, cctx.Err())
		}
		// History unavailability degrades to an empty window rather than
		// aborting the cycle: findings were already gathered.
		r.logger.Error("history load failed, classifying against empty window", slog.Any("error", err))
		window = history.Window{}
	}

	report := r.detector.Detect(findings, window.Cycles)
	decision := r.policy.Decide(findings, report)
	cycle.Trend = &report
	cycle.Escalation = &decision

	if decision.ShouldNotify {
		if err := r.notifier.Notify(cctx, r.target, decision, findings, report); err != nil {
			r.logger.Error("notification delivery failed", slog.Any("error", err))
			metrics.ObserveNotification(r.target, "failed")
		} else {
			metrics.ObserveNotification(r.target, "sent")
		}
	} else {
		metrics.ObserveNotification(r.target, "skipped")
	}

	// A cycle that outlived its deadline at any suspension point must never
	// finalize COMPLETED or feed trend evidence to later cycles.
	if cctx.Err() != nil {
		return r.finalizeDegraded(ctx, cycle, models.CycleIncomplete, cctx.Err())
	}

	cycle.Status = models.CycleCompleted
	cycle.CompletedAt = time.Now().UTC()

	if err := r.cycles.SaveCycle(ctx, cycle); err != nil {
		return cycle, utils.NewAppError("runner.cycle", "persist cycle record", err)
	}

	r.mergeIntoSession(cycle, window)
	r.observe(cycle)
	return cycle, nil
}

// finalizeDegraded records a FAILED or INCOMPLETE cycle. Degraded cycles
// carry no findings, trend, or escalation, and are never merged into the
// session log.
func (r *Runner) finalizeDegraded(ctx context.Context, cycle models.Cycle, status models.CycleStatus, cause error) (models.Cycle, error) {
	cycle.Status = status
	cycle.Findings = nil
	cycle.Trend = nil
	cycle.Escalation = nil
	cycle.CompletedAt = time.Now().UTC()

	r.logger.Error("cycle degraded",
		slog.String("cycle_id", cycle.ID),
		slog.String("status", string(status)),
		slog.Any("error", cause))

	if err := r.cycles.SaveCycle(ctx, cycle); err != nil {
		r.logger.Error("persist degraded cycle failed", slog.Any("error", err))
	}
	r.observe(cycle)
	return cycle, cause
}

// ensureSession loads the durable session or starts a fresh one with the
// pinned system preamble.
func (r *Runner) ensureSession(now time.Time) error {
	if r.sess != nil {
		return nil
	}
	sess, err := r.sessions.Load(now)
	if err != nil {
		return err
	}
	if sess == nil {
		sess = r.sessions.NewSession(now)
		session.Append(sess, models.RoleSystem, systemPreamble, true, now)
		if err := r.sessions.Persist(sess); err != nil {
			return err
		}
		r.logger.Info("started fresh session", slog.String("session_id", sess.ID))
	}
	r.sess = sess
	return nil
}

// mergeIntoSession appends the cycle summary, runs the budget pass, and
// persists. Persistence gets one retry; a second failure is logged and the
// in-memory session carries on so the next cycle can try again.
func (r *Runner) mergeIntoSession(cycle models.Cycle, window history.Window) {
	critical := cycle.Escalation != nil && cycle.Escalation.Severity == models.SeverityCritical
	session.Append(r.sess, models.RoleCycleSummary, summarize(cycle, window), critical, cycle.CompletedAt)

	result := r.budget.MaybePrune(r.sess, cycle.CompletedAt)
	if result.Removed > 0 {
		r.logger.Info("session pruned",
			slog.Int("removed", result.Removed),
			slog.Int("total_tokens", result.TotalTokens))
		metrics.AddPrunedEntries(r.target, result.Removed)
	}
	if result.Exceeded {
		r.logger.Warn("session over budget with only protected entries", slog.Any("error", utils.ErrBudgetExceeded))
		metrics.IncBudgetExceeded(r.target)
	}
	metrics.SetSessionTokens(r.target, r.sess.TotalTokens())

	if err := r.sessions.Persist(r.sess); err != nil {
		r.logger.Warn("session persist failed, retrying once", slog.Any("error", err))
		if err := r.sessions.Persist(r.sess); err != nil {
			r.logger.Error("session persist failed after retry, continuing with in-memory session", slog.Any("error", err))
		}
	}
}

func (r *Runner) observe(cycle models.Cycle) {
	duration := cycle.CompletedAt.Sub(cycle.StartedAt)
	metrics.ObserveCycle(r.target, duration, string(cycle.Status))
	r.latency.Observe(duration)
	if r.latency.Count()%20 == 0 {
		r.logger.Info("cycle latency",
			slog.Duration("p50", r.latency.Percentile(50)),
			slog.Duration("p95", r.latency.Percentile(95)))
	}
}

// nextCycleID derives a strictly increasing ID from the cycle start time.
// Two starts landing in the same nanosecond (coarse clocks) still order.
func (r *Runner) nextCycleID(start time.Time) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	nano := start.UnixNano()
	if nano <= r.lastIDNano {
		nano = r.lastIDNano + 1
	}
	r.lastIDNano = nano
	return fmt.Sprintf("c%020d", nano)
}

// summarize renders the narration entry appended to the session after a
// completed cycle. Deterministic for a given cycle and window.
func summarize(cycle models.Cycle, window history.Window) string {
	var b strings.Builder
	fmt.Fprintf(&b, "cycle %s at %s: %d finding(s)", cycle.ID, utils.FormatUTC(cycle.CompletedAt), len(cycle.Findings))
	if cycle.Escalation != nil {
		fmt.Fprintf(&b, ", severity %s (%s)", cycle.Escalation.Severity, cycle.Escalation.Reason)
		if cycle.Escalation.ShouldNotify {
			b.WriteString(", notified")
		}
	}
	b.WriteString("\n")

	if len(cycle.Findings) > 0 {
		digests := make([]string, 0, len(cycle.Findings))
		for _, f := range cycle.Findings {
			digests = append(digests, fmt.Sprintf("%s %s", f.Key(), f.Severity))
		}
		sort.Strings(digests)
		fmt.Fprintf(&b, "findings: %s\n", strings.Join(digests, "; "))
	}
	if cycle.Trend != nil {
		fmt.Fprintf(&b, "trend: %d new, %d recurring, %d resolved, %d worsening\n",
			len(cycle.Trend.NewIssues), len(cycle.Trend.RecurringIssues),
			len(cycle.Trend.ResolvedIssues), len(cycle.Trend.Worsening))
	}
	b.WriteString(history.FormatSummary(window))
	return strings.TrimRight(b.String(), "\n")
}
