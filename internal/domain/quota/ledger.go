package quota

import (
	"context"
	"time"
)

// UserID identifies a user. Identity records are owned externally (by the
// chat platform integration); the ledger only keys on them.
type UserID int64

// Limits maps each capability to its configured daily allowance.
type Limits map[Capability]int

// LimitFor returns the configured limit for a capability, or 0 when the
// capability has no allowance configured.
func (l Limits) LimitFor(c Capability) int {
	return l[c]
}

// Decision is the outcome of a consume attempt.
type Decision struct {
	// Allowed reports whether one unit of allowance was consumed.
	Allowed bool

	// Remaining is the allowance left in the current period after this
	// decision. Zero when denied.
	Remaining int

	// Period is the quota period the decision was evaluated against.
	Period PeriodID

	// Unlimited is set when the user bypasses the ledger entirely.
	Unlimited bool
}

// Ledger is the durable per-user, per-capability counter store.
//
// Implementations must make TryConsume a single atomic unit per
// (user, capability, period) key: concurrent callers must never both observe
// remaining allowance and both succeed when only one unit is left.
type Ledger interface {
	// TryConsume atomically consumes one unit of allowance for the given
	// period if any remains, creating or superseding the row for a fresh
	// period as needed (lazy rollover). limit is the configured allowance
	// for the capability.
	TryConsume(ctx context.Context, user UserID, capability Capability, period PeriodID, limit int) (Decision, error)

	// Refund returns one previously consumed unit for the given period,
	// floored at zero consumed. Refunding a period with no row is a no-op;
	// the bool result reports whether a unit was actually restored.
	Refund(ctx context.Context, user UserID, capability Capability, period PeriodID) (bool, error)

	// Consumed reads the committed consumed count for the given period.
	// Returns 0 when no row exists.
	Consumed(ctx context.Context, user UserID, capability Capability, period PeriodID) (int, error)
}

// Event is one append-only audit record of a ledger mutation.
type Event struct {
	ID         string
	User       UserID
	Capability Capability
	Period     PeriodID
	// Delta is +1 for a consume, -1 for a refund.
	Delta      int
	RecordedAt time.Time
}
