// Package facade is the single entry point chat-flow handlers use to gate
// and record quota-gated actions. It composes the period resolver, the quota
// ledger, the progress store, and the leaderboard aggregator, and is the
// only component permitted to mutate ledger and progress rows.
//
// The facade defines the transaction boundaries: TryConsume, Refund, and
// RecordAttempt are each one atomic unit. There is deliberately no
// multi-step transaction spanning ledger and progress; callers gate first,
// act, then report the outcome, and a crash in between leaves at most one
// consumed-but-unrewarded unit, recoverable through the refund path.
package facade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trainbot-hub/trainbot/internal/domain/progress"
	"github.com/trainbot-hub/trainbot/internal/domain/quota"
	"github.com/trainbot-hub/trainbot/internal/infrastructure/metrics"
	"github.com/trainbot-hub/trainbot/pkg/logger"
)

// Invalidator drops derived projections after a progress write. Satisfied by
// the Redis cached aggregator; nil when caching is disabled.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Options configures a Facade.
type Options struct {
	Resolver quota.PeriodResolver
	Limits   quota.Limits
	Ledger   quota.Ledger
	Store    progress.Store
	Agg      progress.Aggregator

	// Invalidator is optional; nil disables projection invalidation.
	Invalidator Invalidator

	// Policy controls which reported failure classes refund the unit.
	Policy RefundPolicy

	// UnlimitedUsers bypass the ledger entirely (bot administrators).
	UnlimitedUsers map[quota.UserID]struct{}

	Log     *logger.Logger
	Metrics *metrics.Metrics
}

// Facade is the quota and progress entry point.
type Facade struct {
	resolver    quota.PeriodResolver
	limits      quota.Limits
	ledger      quota.Ledger
	store       progress.Store
	agg         progress.Aggregator
	invalidator Invalidator
	policy      RefundPolicy
	unlimited   map[quota.UserID]struct{}
	log         *logger.Logger
	metrics     *metrics.Metrics
}

// New creates a Facade. Ledger, Store, and Agg are required.
func New(opts Options) (*Facade, error) {
	if opts.Ledger == nil {
		return nil, errors.New("facade: ledger is required")
	}
	if opts.Store == nil {
		return nil, errors.New("facade: progress store is required")
	}
	if opts.Agg == nil {
		return nil, errors.New("facade: aggregator is required")
	}
	log := opts.Log
	if log == nil {
		log = logger.Default()
	}
	return &Facade{
		resolver:    opts.Resolver,
		limits:      opts.Limits,
		ledger:      opts.Ledger,
		store:       opts.Store,
		agg:         opts.Agg,
		invalidator: opts.Invalidator,
		policy:      opts.Policy,
		unlimited:   opts.UnlimitedUsers,
		log:         log.With(logger.Component("facade")),
		metrics:     opts.Metrics,
	}, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// QUOTA GATE
// ══════════════════════════════════════════════════════════════════════════════

// TryConsume asks whether the user may perform the capability now, consuming
// one unit of the daily allowance when permitted.
//
// Fail-closed: on any ledger error the decision is denied and the error is
// returned; an uncertain consume is always treated as consumed, never as
// available.
func (f *Facade) TryConsume(ctx context.Context, user quota.UserID, capability quota.Capability, now time.Time) (quota.Decision, error) {
	if !capability.IsValid() {
		return quota.Decision{}, fmt.Errorf("%w: %q", quota.ErrInvalidCapability, capability)
	}

	period := f.resolver.Resolve(now)

	if _, ok := f.unlimited[user]; ok {
		f.count(f.metricDecision(capability, metrics.OutcomeUnlimited))
		return quota.Decision{
			Allowed:   true,
			Remaining: f.limits.LimitFor(capability),
			Period:    period,
			Unlimited: true,
		}, nil
	}

	decision, err := f.ledger.TryConsume(ctx, user, capability, period, f.limits.LimitFor(capability))
	if err != nil {
		f.count(f.metricDecision(capability, metrics.OutcomeError))
		f.log.Error("consume failed, denying",
			logger.UserID(int64(user)),
			logger.Capability(capability.String()),
			logger.PeriodID(string(period)),
			logger.Err(err))
		return quota.Decision{Period: period}, err
	}

	if decision.Allowed {
		f.count(f.metricDecision(capability, metrics.OutcomeAllowed))
	} else {
		f.count(f.metricDecision(capability, metrics.OutcomeDenied))
	}

	f.log.Debug("quota decision",
		logger.UserID(int64(user)),
		logger.Capability(capability.String()),
		logger.PeriodID(string(period)),
		logger.Bool("allowed", decision.Allowed),
		logger.Remaining(decision.Remaining))

	return decision, nil
}

// Refund returns one consumed unit for the current period. Refunding after
// the period has rolled over, or when nothing was consumed, is a logged
// no-op: the allowance has already been reset, so there is nothing to give
// back.
func (f *Facade) Refund(ctx context.Context, user quota.UserID, capability quota.Capability, now time.Time) error {
	if !capability.IsValid() {
		return fmt.Errorf("%w: %q", quota.ErrInvalidCapability, capability)
	}

	if _, ok := f.unlimited[user]; ok {
		return nil
	}

	period := f.resolver.Resolve(now)

	restored, err := f.ledger.Refund(ctx, user, capability, period)
	if err != nil {
		f.count(f.metricRefund(capability, metrics.RefundError))
		return err
	}

	if restored {
		f.count(f.metricRefund(capability, metrics.RefundRestored))
	} else {
		f.count(f.metricRefund(capability, metrics.RefundNoop))
		f.log.Warn("refund had nothing to restore",
			logger.UserID(int64(user)),
			logger.Capability(capability.String()),
			logger.PeriodID(string(period)))
	}
	return nil
}

// ReportOutcome records how the gated action ended and applies the refund
// policy. Only failure classes the configured policy covers give the unit
// back; everything else leaves the ledger untouched.
func (f *Facade) ReportOutcome(ctx context.Context, user quota.UserID, capability quota.Capability, outcome Outcome, now time.Time) error {
	if !f.policy.ShouldRefund(outcome) {
		return nil
	}
	f.log.Info("refunding per policy",
		logger.UserID(int64(user)),
		logger.Capability(capability.String()),
		logger.String("outcome", outcome.String()))
	return f.Refund(ctx, user, capability, now)
}

// Remaining reports the allowance left for the capability in the current
// period without consuming anything.
func (f *Facade) Remaining(ctx context.Context, user quota.UserID, capability quota.Capability, now time.Time) (int, error) {
	if !capability.IsValid() {
		return 0, fmt.Errorf("%w: %q", quota.ErrInvalidCapability, capability)
	}

	limit := f.limits.LimitFor(capability)
	if _, ok := f.unlimited[user]; ok {
		return limit, nil
	}

	consumed, err := f.ledger.Consumed(ctx, user, capability, f.resolver.Resolve(now))
	if err != nil {
		return 0, err
	}
	if consumed > limit {
		return 0, nil
	}
	return limit - consumed, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// RecordAttempt durably records one lesson-unit attempt: best score is
// raised monotonically, completion is sticky, and the result reports whether
// the unit was already completed before this call so completion bonuses are
// awarded at most once.
func (f *Facade) RecordAttempt(ctx context.Context, user quota.UserID, unit progress.UnitID, score float64, completed bool, now time.Time) (progress.AttemptResult, error) {
	if score < 0 {
		return progress.AttemptResult{}, fmt.Errorf("progress: score cannot be negative: %v", score)
	}

	result, err := f.store.RecordAttempt(ctx, user, unit, score, completed, now)
	if err != nil {
		f.countAttempt(metrics.AttemptError)
		f.log.Error("record attempt failed",
			logger.UserID(int64(user)),
			logger.UnitID(int64(unit)),
			logger.Err(err))
		return progress.AttemptResult{}, err
	}

	if result.Completed && !result.PreviouslyCompleted {
		f.countAttempt(metrics.AttemptCompleted)
	} else {
		f.countAttempt(metrics.AttemptPartial)
	}

	if f.invalidator != nil {
		if err := f.invalidator.Invalidate(ctx); err != nil {
			// Stale projections expire by TTL; the attempt itself is safe.
			f.log.Warn("leaderboard invalidation failed", logger.Err(err))
		}
	}

	f.log.Debug("attempt recorded",
		logger.UserID(int64(user)),
		logger.UnitID(int64(unit)),
		logger.Score(result.BestScore),
		logger.Bool("completed", result.Completed))

	return result, nil
}

// Progress returns the recorded state for one user and unit.
func (f *Facade) Progress(ctx context.Context, user quota.UserID, unit progress.UnitID) (progress.Record, error) {
	return f.store.Get(ctx, user, unit)
}

// TopUsers returns the ranked leaderboard projection.
func (f *Facade) TopUsers(ctx context.Context, limit int, since time.Time) ([]progress.LeaderboardEntry, error) {
	if f.metrics != nil {
		f.metrics.LeaderboardQueries.Inc()
	}
	return f.agg.TopUsers(ctx, limit, since)
}

// ══════════════════════════════════════════════════════════════════════════════
// METRIC HELPERS
// ══════════════════════════════════════════════════════════════════════════════

type counterInc interface{ Inc() }

func (f *Facade) metricDecision(c quota.Capability, outcome string) counterInc {
	if f.metrics == nil {
		return nil
	}
	return f.metrics.QuotaDecisions.WithLabelValues(c.String(), outcome)
}

func (f *Facade) metricRefund(c quota.Capability, result string) counterInc {
	if f.metrics == nil {
		return nil
	}
	return f.metrics.QuotaRefunds.WithLabelValues(c.String(), result)
}

func (f *Facade) countAttempt(outcome string) {
	if f.metrics != nil {
		f.metrics.ProgressAttempts.WithLabelValues(outcome).Inc()
	}
}

func (f *Facade) count(c counterInc) {
	if c != nil {
		c.Inc()
	}
}
