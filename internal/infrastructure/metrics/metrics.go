// Package metrics exposes Prometheus instrumentation for the quota and
// progress engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	// QuotaDecisions counts consume attempts by capability and outcome.
	QuotaDecisions *prometheus.CounterVec

	// QuotaRefunds counts refund attempts by capability and whether a unit
	// was actually restored.
	QuotaRefunds *prometheus.CounterVec

	// ProgressAttempts counts recorded attempts, split by whether the
	// attempt newly completed the unit.
	ProgressAttempts *prometheus.CounterVec

	// LeaderboardQueries counts leaderboard reads.
	LeaderboardQueries prometheus.Counter
}

// New creates the engine collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer for the process-wide registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		QuotaDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trainbot",
			Subsystem: "quota",
			Name:      "decisions_total",
			Help:      "Consume attempts by capability and outcome.",
		}, []string{"capability", "outcome"}),

		QuotaRefunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trainbot",
			Subsystem: "quota",
			Name:      "refunds_total",
			Help:      "Refund attempts by capability and result.",
		}, []string{"capability", "result"}),

		ProgressAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trainbot",
			Subsystem: "progress",
			Name:      "attempts_total",
			Help:      "Recorded lesson attempts by completion outcome.",
		}, []string{"outcome"}),

		LeaderboardQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trainbot",
			Subsystem: "leaderboard",
			Name:      "queries_total",
			Help:      "Leaderboard projection reads.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.QuotaDecisions, m.QuotaRefunds, m.ProgressAttempts, m.LeaderboardQueries)
	}
	return m
}

// Outcome labels for QuotaDecisions.
const (
	OutcomeAllowed   = "allowed"
	OutcomeDenied    = "denied"
	OutcomeUnlimited = "unlimited"
	OutcomeError     = "error"
)

// Result labels for QuotaRefunds.
const (
	RefundRestored = "restored"
	RefundNoop     = "noop"
	RefundError    = "error"
)

// Outcome labels for ProgressAttempts.
const (
	AttemptCompleted = "completed"
	AttemptPartial   = "partial"
	AttemptError     = "error"
)
