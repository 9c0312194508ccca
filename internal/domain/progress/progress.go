// Package progress contains the learning-progress domain: per-user,
// per-lesson-unit completion and scoring records, and the leaderboard
// projection derived from them.
package progress

import (
	"context"
	"errors"
	"time"

	"github.com/trainbot-hub/trainbot/internal/domain/quota"
)

// UnitID identifies one lesson unit (a lesson step or quiz).
type UnitID int64

// Record is the durable state for one (user, unit) pair.
// BestScore is non-decreasing across updates; Completed never reverts.
type Record struct {
	User         quota.UserID
	Unit         UnitID
	BestScore    float64
	Completed    bool
	AttemptCount int
	LastAttempt  time.Time
}

// AttemptResult is returned by RecordAttempt. PreviouslyCompleted reflects
// the committed state before this attempt, letting callers award completion
// bonuses at most once.
type AttemptResult struct {
	BestScore           float64
	Completed           bool
	PreviouslyCompleted bool
	AttemptCount        int
}

// Store is the durable progress store.
//
// RecordAttempt must be atomic per (user, unit) key: the monotonic max is
// computed against the committed value at update time, never a stale read.
type Store interface {
	// RecordAttempt upserts one attempt: creates the record on first
	// attempt, otherwise raises BestScore to max(existing, score), makes
	// Completed sticky, bumps AttemptCount and LastAttempt.
	RecordAttempt(ctx context.Context, user quota.UserID, unit UnitID, score float64, completed bool, now time.Time) (AttemptResult, error)

	// Get reads the committed record, or ErrRecordNotFound.
	Get(ctx context.Context, user quota.UserID, unit UnitID) (Record, error)
}

// LeaderboardEntry is a derived, never-stored projection: one user's
// aggregate standing computed on demand from progress records.
type LeaderboardEntry struct {
	User           quota.UserID
	CompletedUnits int
	TotalScore     float64
	// LastAttempt is the user's most recent attempt; earlier wins ties.
	LastAttempt time.Time
	Rank        int
}

// Aggregator computes ranked leaderboard views. Read-only: safe to run
// concurrently with any number of ledger and store mutations.
type Aggregator interface {
	// TopUsers returns at most limit entries ordered by completed-unit
	// count descending, then total score descending, ties broken by the
	// earliest last-attempt timestamp. A non-zero since restricts the
	// aggregation to attempts at or after that instant.
	TopUsers(ctx context.Context, limit int, since time.Time) ([]LeaderboardEntry, error)
}

// Progress domain errors.
var (
	// ErrStoreUnavailable indicates a transient storage failure. The attempt
	// is not silently dropped: callers surface it as retryable.
	ErrStoreUnavailable = errors.New("progress: store unavailable")

	// ErrRecordNotFound is returned by Get when no attempt was ever recorded
	// for the (user, unit) pair.
	ErrRecordNotFound = errors.New("progress: record not found")
)
