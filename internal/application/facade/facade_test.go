package facade

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trainbot-hub/trainbot/internal/domain/progress"
	"github.com/trainbot-hub/trainbot/internal/domain/quota"
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY FAKES
// ══════════════════════════════════════════════════════════════════════════════

// memLedger implements quota.Ledger with the same per-key atomicity contract
// as the PostgreSQL repository, guarded by a single mutex.
type memLedger struct {
	mu       sync.Mutex
	consumed map[string]int
	failWith error
}

func newMemLedger() *memLedger {
	return &memLedger{consumed: make(map[string]int)}
}

func ledgerKey(user quota.UserID, c quota.Capability, p quota.PeriodID) string {
	return fmt.Sprintf("%d|%s|%s", user, c, p)
}

func (l *memLedger) TryConsume(_ context.Context, user quota.UserID, c quota.Capability, p quota.PeriodID, limit int) (quota.Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failWith != nil {
		return quota.Decision{}, l.failWith
	}

	key := ledgerKey(user, c, p)
	if l.consumed[key] >= limit {
		return quota.Decision{Allowed: false, Remaining: 0, Period: p}, nil
	}
	l.consumed[key]++
	return quota.Decision{Allowed: true, Remaining: limit - l.consumed[key], Period: p}, nil
}

func (l *memLedger) Refund(_ context.Context, user quota.UserID, c quota.Capability, p quota.PeriodID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failWith != nil {
		return false, l.failWith
	}

	key := ledgerKey(user, c, p)
	if l.consumed[key] <= 0 {
		return false, nil
	}
	l.consumed[key]--
	return true, nil
}

func (l *memLedger) Consumed(_ context.Context, user quota.UserID, c quota.Capability, p quota.PeriodID) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.failWith != nil {
		return 0, l.failWith
	}
	return l.consumed[ledgerKey(user, c, p)], nil
}

// memStore implements progress.Store with the monotonic-merge contract.
type memStore struct {
	mu      sync.Mutex
	records map[string]progress.Record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]progress.Record)}
}

func storeKey(user quota.UserID, unit progress.UnitID) string {
	return fmt.Sprintf("%d|%d", user, unit)
}

func (s *memStore) RecordAttempt(_ context.Context, user quota.UserID, unit progress.UnitID, score float64, completed bool, now time.Time) (progress.AttemptResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey(user, unit)
	rec, ok := s.records[key]
	if !ok {
		rec = progress.Record{User: user, Unit: unit}
	}

	prevCompleted := rec.Completed
	if score > rec.BestScore {
		rec.BestScore = score
	}
	rec.Completed = rec.Completed || completed
	rec.AttemptCount++
	rec.LastAttempt = now
	s.records[key] = rec

	return progress.AttemptResult{
		BestScore:           rec.BestScore,
		Completed:           rec.Completed,
		PreviouslyCompleted: prevCompleted,
		AttemptCount:        rec.AttemptCount,
	}, nil
}

func (s *memStore) Get(_ context.Context, user quota.UserID, unit progress.UnitID) (progress.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[storeKey(user, unit)]
	if !ok {
		return progress.Record{}, progress.ErrRecordNotFound
	}
	return rec, nil
}

// memAggregator derives the ranked projection from the store on every call,
// using the same ordering as the SQL aggregation.
type memAggregator struct {
	store *memStore
}

func (a *memAggregator) TopUsers(_ context.Context, limit int, since time.Time) ([]progress.LeaderboardEntry, error) {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()

	byUser := make(map[quota.UserID]*progress.LeaderboardEntry)
	for _, rec := range a.store.records {
		if !since.IsZero() && rec.LastAttempt.Before(since) {
			continue
		}
		e, ok := byUser[rec.User]
		if !ok {
			e = &progress.LeaderboardEntry{User: rec.User}
			byUser[rec.User] = e
		}
		if rec.Completed {
			e.CompletedUnits++
			e.TotalScore += rec.BestScore
		}
		if rec.LastAttempt.After(e.LastAttempt) {
			e.LastAttempt = rec.LastAttempt
		}
	}

	entries := make([]progress.LeaderboardEntry, 0, len(byUser))
	for _, e := range byUser {
		entries = append(entries, *e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CompletedUnits != entries[j].CompletedUnits {
			return entries[i].CompletedUnits > entries[j].CompletedUnits
		}
		if entries[i].TotalScore != entries[j].TotalScore {
			return entries[i].TotalScore > entries[j].TotalScore
		}
		return entries[i].LastAttempt.Before(entries[j].LastAttempt)
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

type countingInvalidator struct {
	mu    sync.Mutex
	calls int
}

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func (c *countingInvalidator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// ══════════════════════════════════════════════════════════════════════════════
// TEST SETUP
// ══════════════════════════════════════════════════════════════════════════════

type fixture struct {
	facade      *Facade
	ledger      *memLedger
	store       *memStore
	invalidator *countingInvalidator
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()

	ledger := newMemLedger()
	store := newMemStore()
	inv := &countingInvalidator{}

	opts := Options{
		Resolver: quota.NewPeriodResolver(time.UTC, 0),
		Limits: quota.Limits{
			quota.CapabilityTextGeneration:  5,
			quota.CapabilityImageGeneration: 2,
			quota.CapabilityQuizEvaluation:  20,
		},
		Ledger:      ledger,
		Store:       store,
		Agg:         &memAggregator{store: store},
		Invalidator: inv,
		Policy:      RefundOnProviderError,
	}
	if mutate != nil {
		mutate(&opts)
	}

	f, err := New(opts)
	require.NoError(t, err)

	return &fixture{facade: f, ledger: ledger, store: store, invalidator: inv}
}

var day1 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// ══════════════════════════════════════════════════════════════════════════════
// QUOTA TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestTryConsume_ExhaustsLimit(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := fx.facade.TryConsume(ctx, 100, quota.CapabilityTextGeneration, day1)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 4-i, d.Remaining)
	}

	d, err := fx.facade.TryConsume(ctx, 100, quota.CapabilityTextGeneration, day1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
}

func TestTryConsume_ConcurrentNeverOversells(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	const workers = 50
	allowed := make(chan bool, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := fx.facade.TryConsume(ctx, 100, quota.CapabilityTextGeneration, day1)
			assert.NoError(t, err)
			allowed <- d.Allowed
		}()
	}
	wg.Wait()
	close(allowed)

	count := 0
	for a := range allowed {
		if a {
			count++
		}
	}
	assert.Equal(t, 5, count)
}

func TestTryConsume_PerCapabilityIsolation(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	// Exhaust image generation (limit 2).
	for i := 0; i < 2; i++ {
		d, err := fx.facade.TryConsume(ctx, 100, quota.CapabilityImageGeneration, day1)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := fx.facade.TryConsume(ctx, 100, quota.CapabilityImageGeneration, day1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// Text generation for the same user is untouched.
	d, err = fx.facade.TryConsume(ctx, 100, quota.CapabilityTextGeneration, day1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
}

func TestTryConsume_PerUserIsolation(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := fx.facade.TryConsume(ctx, 100, quota.CapabilityImageGeneration, day1)
		require.NoError(t, err)
	}

	d, err := fx.facade.TryConsume(ctx, 200, quota.CapabilityImageGeneration, day1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
}

func TestTryConsume_RolloverGrantsFreshAllowance(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := fx.facade.TryConsume(ctx, 100, quota.CapabilityTextGeneration, day1)
		require.NoError(t, err)
	}
	d, err := fx.facade.TryConsume(ctx, 100, quota.CapabilityTextGeneration, day1)
	require.NoError(t, err)
	require.False(t, d.Allowed)

	day2 := day1.AddDate(0, 0, 1)
	d, err = fx.facade.TryConsume(ctx, 100, quota.CapabilityTextGeneration, day2)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
	assert.Equal(t, quota.PeriodID("2026-03-15"), d.Period)
}

func TestTryConsume_InvalidCapability(t *testing.T) {
	fx := newFixture(t, nil)

	_, err := fx.facade.TryConsume(context.Background(), 100, quota.Capability("video"), day1)
	assert.ErrorIs(t, err, quota.ErrInvalidCapability)
}

func TestTryConsume_FailClosed(t *testing.T) {
	fx := newFixture(t, nil)
	fx.ledger.failWith = quota.ErrLedgerUnavailable

	d, err := fx.facade.TryConsume(context.Background(), 100, quota.CapabilityTextGeneration, day1)
	assert.ErrorIs(t, err, quota.ErrLedgerUnavailable)
	assert.False(t, d.Allowed)
}

func TestTryConsume_UnlimitedUserBypassesLedger(t *testing.T) {
	fx := newFixture(t, func(o *Options) {
		o.UnlimitedUsers = map[quota.UserID]struct{}{42: {}}
	})
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		d, err := fx.facade.TryConsume(ctx, 42, quota.CapabilityTextGeneration, day1)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.True(t, d.Unlimited)
	}

	// Nothing was written to the ledger.
	consumed, err := fx.ledger.Consumed(ctx, 42, quota.CapabilityTextGeneration, quota.PeriodID("2026-03-14"))
	require.NoError(t, err)
	assert.Equal(t, 0, consumed)
}

func TestTryConsume_ZeroLimitAlwaysDenied(t *testing.T) {
	fx := newFixture(t, func(o *Options) {
		o.Limits = quota.Limits{}
	})

	d, err := fx.facade.TryConsume(context.Background(), 100, quota.CapabilityTextGeneration, day1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

// ══════════════════════════════════════════════════════════════════════════════
// REFUND TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestRefund_RestoresOneUnit(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := fx.facade.TryConsume(ctx, 100, quota.CapabilityTextGeneration, day1)
		require.NoError(t, err)
	}

	require.NoError(t, fx.facade.Refund(ctx, 100, quota.CapabilityTextGeneration, day1))

	d, err := fx.facade.TryConsume(ctx, 100, quota.CapabilityTextGeneration, day1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// Back at the limit now.
	d, err = fx.facade.TryConsume(ctx, 100, quota.CapabilityTextGeneration, day1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestRefund_FullSequenceAtLowLimit(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	d, err := fx.facade.TryConsume(ctx, 100, quota.CapabilityImageGeneration, day1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)

	d, err = fx.facade.TryConsume(ctx, 100, quota.CapabilityImageGeneration, day1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	d, err = fx.facade.TryConsume(ctx, 100, quota.CapabilityImageGeneration, day1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	require.NoError(t, fx.facade.Refund(ctx, 100, quota.CapabilityImageGeneration, day1))

	remaining, err := fx.facade.Remaining(ctx, 100, quota.CapabilityImageGeneration, day1)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)

	d, err = fx.facade.TryConsume(ctx, 100, quota.CapabilityImageGeneration, day1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
}

func TestRefund_NoopWhenNothingConsumed(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, fx.facade.Refund(ctx, 100, quota.CapabilityTextGeneration, day1))

	// Consumption never drops below zero: the allowance is unchanged.
	remaining, err := fx.facade.Remaining(ctx, 100, quota.CapabilityTextGeneration, day1)
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)
}

func TestRefund_AfterRolloverIsNoop(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	_, err := fx.facade.TryConsume(ctx, 100, quota.CapabilityTextGeneration, day1)
	require.NoError(t, err)

	// The refund lands in the next period, which has no consumption.
	day2 := day1.AddDate(0, 0, 1)
	require.NoError(t, fx.facade.Refund(ctx, 100, quota.CapabilityTextGeneration, day2))

	remaining, err := fx.facade.Remaining(ctx, 100, quota.CapabilityTextGeneration, day2)
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)
}

func TestReportOutcome_PolicyMatrix(t *testing.T) {
	tests := []struct {
		name         string
		policy       RefundPolicy
		outcome      Outcome
		wantRefunded bool
	}{
		{"provider error refunds by default", RefundOnProviderError, OutcomeProviderError, true},
		{"user error keeps the unit by default", RefundOnProviderError, OutcomeUserError, false},
		{"success never refunds", RefundOnProviderError, OutcomeSucceeded, false},
		{"any failure refunds provider errors", RefundOnAnyFailure, OutcomeProviderError, true},
		{"any failure refunds user errors", RefundOnAnyFailure, OutcomeUserError, true},
		{"any failure does not refund success", RefundOnAnyFailure, OutcomeSucceeded, false},
		{"never refunds provider errors", RefundNever, OutcomeProviderError, false},
		{"never refunds user errors", RefundNever, OutcomeUserError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, func(o *Options) {
				o.Policy = tt.policy
			})
			ctx := context.Background()

			_, err := fx.facade.TryConsume(ctx, 100, quota.CapabilityTextGeneration, day1)
			require.NoError(t, err)

			require.NoError(t, fx.facade.ReportOutcome(ctx, 100, quota.CapabilityTextGeneration, tt.outcome, day1))

			remaining, err := fx.facade.Remaining(ctx, 100, quota.CapabilityTextGeneration, day1)
			require.NoError(t, err)
			if tt.wantRefunded {
				assert.Equal(t, 5, remaining)
			} else {
				assert.Equal(t, 4, remaining)
			}
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestRecordAttempt_MonotonicBestScore(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	r, err := fx.facade.RecordAttempt(ctx, 100, 7, 60, false, day1)
	require.NoError(t, err)
	assert.Equal(t, 60.0, r.BestScore)
	assert.False(t, r.Completed)
	assert.Equal(t, 1, r.AttemptCount)

	// A lower score never lowers the best.
	r, err = fx.facade.RecordAttempt(ctx, 100, 7, 40, false, day1)
	require.NoError(t, err)
	assert.Equal(t, 60.0, r.BestScore)
	assert.Equal(t, 2, r.AttemptCount)

	r, err = fx.facade.RecordAttempt(ctx, 100, 7, 90, true, day1)
	require.NoError(t, err)
	assert.Equal(t, 90.0, r.BestScore)
	assert.True(t, r.Completed)
}

func TestRecordAttempt_CompletionIsSticky(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	r, err := fx.facade.RecordAttempt(ctx, 100, 7, 80, true, day1)
	require.NoError(t, err)
	require.True(t, r.Completed)
	assert.False(t, r.PreviouslyCompleted)

	// A later failed attempt does not revert completion, and reports the
	// prior completion so bonuses are not re-awarded.
	r, err = fx.facade.RecordAttempt(ctx, 100, 7, 30, false, day1)
	require.NoError(t, err)
	assert.True(t, r.Completed)
	assert.True(t, r.PreviouslyCompleted)
}

func TestRecordAttempt_ConcurrentKeepsMaxScore(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	const workers = 20
	firstCompletions := make(chan bool, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(score float64) {
			defer wg.Done()
			r, err := fx.facade.RecordAttempt(ctx, 100, 7, score, true, day1)
			assert.NoError(t, err)
			firstCompletions <- !r.PreviouslyCompleted
		}(float64(i + 1))
	}
	wg.Wait()
	close(firstCompletions)

	rec, err := fx.facade.Progress(ctx, 100, 7)
	require.NoError(t, err)
	assert.Equal(t, float64(workers), rec.BestScore)
	assert.Equal(t, workers, rec.AttemptCount)
	assert.True(t, rec.Completed)

	// Exactly one attempt observed the transition to completed.
	first := 0
	for f := range firstCompletions {
		if f {
			first++
		}
	}
	assert.Equal(t, 1, first)
}

func TestRecordAttempt_RejectsNegativeScore(t *testing.T) {
	fx := newFixture(t, nil)

	_, err := fx.facade.RecordAttempt(context.Background(), 100, 7, -1, false, day1)
	assert.Error(t, err)
}

func TestRecordAttempt_InvalidatesProjection(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	_, err := fx.facade.RecordAttempt(ctx, 100, 7, 50, false, day1)
	require.NoError(t, err)
	_, err = fx.facade.RecordAttempt(ctx, 100, 8, 70, true, day1)
	require.NoError(t, err)

	assert.Equal(t, 2, fx.invalidator.count())
}

func TestProgress_NotFound(t *testing.T) {
	fx := newFixture(t, nil)

	_, err := fx.facade.Progress(context.Background(), 100, 999)
	assert.ErrorIs(t, err, progress.ErrRecordNotFound)
}

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestTopUsers_Ordering(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	// User A: 2 completed units, total 150.
	_, err := fx.facade.RecordAttempt(ctx, 1, 10, 80, true, day1)
	require.NoError(t, err)
	_, err = fx.facade.RecordAttempt(ctx, 1, 11, 70, true, day1.Add(time.Hour))
	require.NoError(t, err)

	// User B: 2 completed units, total 180. Outranks A on score.
	_, err = fx.facade.RecordAttempt(ctx, 2, 10, 90, true, day1.Add(2*time.Hour))
	require.NoError(t, err)
	_, err = fx.facade.RecordAttempt(ctx, 2, 11, 90, true, day1.Add(3*time.Hour))
	require.NoError(t, err)

	// User C: 1 completed unit with a huge score. Unit count dominates.
	_, err = fx.facade.RecordAttempt(ctx, 3, 10, 100, true, day1.Add(4*time.Hour))
	require.NoError(t, err)

	entries, err := fx.facade.TopUsers(ctx, 10, time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, quota.UserID(2), entries[0].User)
	assert.Equal(t, quota.UserID(1), entries[1].User)
	assert.Equal(t, quota.UserID(3), entries[2].User)

	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, 2, entries[1].Rank)
	assert.Equal(t, 3, entries[2].Rank)
}

func TestTopUsers_CompletedCountDominatesScore(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	// User A: 2 completed units, 10 points total.
	_, err := fx.facade.RecordAttempt(ctx, 1, 10, 5, true, day1)
	require.NoError(t, err)
	_, err = fx.facade.RecordAttempt(ctx, 1, 11, 5, true, day1)
	require.NoError(t, err)

	// User B: 3 completed units, 8 points total.
	_, err = fx.facade.RecordAttempt(ctx, 2, 10, 3, true, day1)
	require.NoError(t, err)
	_, err = fx.facade.RecordAttempt(ctx, 2, 11, 3, true, day1)
	require.NoError(t, err)
	_, err = fx.facade.RecordAttempt(ctx, 2, 12, 2, true, day1)
	require.NoError(t, err)

	// User C: 1 completed unit, 20 points. Highest score, fewest units.
	_, err = fx.facade.RecordAttempt(ctx, 3, 10, 20, true, day1)
	require.NoError(t, err)

	entries, err := fx.facade.TopUsers(ctx, 3, time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, quota.UserID(2), entries[0].User)
	assert.Equal(t, quota.UserID(1), entries[1].User)
	assert.Equal(t, quota.UserID(3), entries[2].User)
}

func TestTopUsers_TieBrokenByEarliestAttempt(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	// Identical unit counts and scores; user 2 got there first.
	_, err := fx.facade.RecordAttempt(ctx, 1, 10, 80, true, day1.Add(2*time.Hour))
	require.NoError(t, err)
	_, err = fx.facade.RecordAttempt(ctx, 2, 10, 80, true, day1)
	require.NoError(t, err)

	entries, err := fx.facade.TopUsers(ctx, 10, time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, quota.UserID(2), entries[0].User)
	assert.Equal(t, quota.UserID(1), entries[1].User)
}

func TestTopUsers_SinceWindow(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	_, err := fx.facade.RecordAttempt(ctx, 1, 10, 80, true, day1)
	require.NoError(t, err)
	_, err = fx.facade.RecordAttempt(ctx, 2, 10, 90, true, day1.AddDate(0, 0, 7))
	require.NoError(t, err)

	entries, err := fx.facade.TopUsers(ctx, 10, day1.AddDate(0, 0, 3))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, quota.UserID(2), entries[0].User)
}

// ══════════════════════════════════════════════════════════════════════════════
// POLICY TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestParsePolicy(t *testing.T) {
	assert.Equal(t, RefundOnAnyFailure, ParsePolicy("any_failure"))
	assert.Equal(t, RefundNever, ParsePolicy("never"))
	assert.Equal(t, RefundOnProviderError, ParsePolicy("provider_error"))
	assert.Equal(t, RefundOnProviderError, ParsePolicy(""))
	assert.Equal(t, RefundOnProviderError, ParsePolicy("nonsense"))
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Options{Store: newMemStore(), Agg: &memAggregator{store: newMemStore()}})
	assert.Error(t, err)

	_, err = New(Options{Ledger: newMemLedger(), Agg: &memAggregator{store: newMemStore()}})
	assert.Error(t, err)

	_, err = New(Options{Ledger: newMemLedger(), Store: newMemStore()})
	assert.Error(t, err)
}
