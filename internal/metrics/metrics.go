package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeCompleted labels cycles that reached COMPLETED.
	OutcomeCompleted = "completed"
	// OutcomeIncomplete labels cycles that timed out.
	OutcomeIncomplete = "incomplete"
	// OutcomeFailed labels cycles aborted by analyzer failure.
	OutcomeFailed = "failed"
)

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentry",
			Name:      "cycles_total",
			Help:      "Total number of monitoring cycles, partitioned by outcome.",
		},
		[]string{"target", "outcome"},
	)

	cycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_sentry",
			Name:      "cycle_seconds",
			Help:      "Cycle wall-clock duration in seconds.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 90, 120, 180},
		},
	)

	sessionTokens = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "mirador_sentry",
			Name:      "session_tokens",
			Help:      "Estimated token total of the session log after the last cycle.",
		},
		[]string{"target"},
	)

	prunedEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentry",
			Name:      "session_entries_pruned_total",
			Help:      "Session entries removed by budget pruning.",
		},
		[]string{"target"},
	)

	budgetExceededTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentry",
			Name:      "budget_exceeded_total",
			Help:      "Prune passes that ran out of removable entries while over budget.",
		},
		[]string{"target"},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentry",
			Name:      "notifications_total",
			Help:      "Notification deliveries, partitioned by result.",
		},
		[]string{"target", "result"},
	)
)

// Register attaches mirador-sentry collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		cyclesTotal,
		cycleDurationSeconds,
		sessionTokens,
		prunedEntriesTotal,
		budgetExceededTotal,
		notificationsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCycle records a finished cycle's duration and outcome label.
func ObserveCycle(target string, duration time.Duration, outcome string) {
	cyclesTotal.WithLabelValues(target, outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	cycleDurationSeconds.Observe(duration.Seconds())
}

// SetSessionTokens publishes the current estimated session size.
func SetSessionTokens(target string, tokens int) {
	sessionTokens.WithLabelValues(target).Set(float64(tokens))
}

// AddPrunedEntries counts entries removed by a prune pass.
func AddPrunedEntries(target string, n int) {
	if n <= 0 {
		return
	}
	prunedEntriesTotal.WithLabelValues(target).Add(float64(n))
}

// IncBudgetExceeded counts a non-fatal over-budget condition.
func IncBudgetExceeded(target string) {
	budgetExceededTotal.WithLabelValues(target).Inc()
}

// ObserveNotification records a delivery attempt result ("sent", "failed" or "skipped").
func ObserveNotification(target, result string) {
	notificationsTotal.WithLabelValues(target, result).Inc()
}
