package quota

import (
	"fmt"
	"time"
)

// PeriodID identifies one quota period: a calendar date in the configured
// timezone, shifted by the reset hour. Two timestamps map to the same
// PeriodID exactly when they fall between the same two reset boundaries.
type PeriodID string

// PeriodResolver computes quota periods from wall-clock timestamps.
// It is a pure value: no I/O, no error paths. Malformed configuration is a
// startup-time failure in config loading, never a runtime concern here.
type PeriodResolver struct {
	loc       *time.Location
	resetHour int
}

// NewPeriodResolver creates a resolver with the given timezone and reset
// hour (0-23). An hour outside that range is clamped to midnight.
func NewPeriodResolver(loc *time.Location, resetHour int) PeriodResolver {
	if loc == nil {
		loc = time.UTC
	}
	if resetHour < 0 || resetHour > 23 {
		resetHour = 0
	}
	return PeriodResolver{loc: loc, resetHour: resetHour}
}

// Resolve returns the period identifier for the given instant.
// The identifier is the calendar date, in the configured zone, of the moment
// resetHour hours earlier; a day therefore "starts" at the reset boundary.
func (r PeriodResolver) Resolve(now time.Time) PeriodID {
	shifted := now.In(r.loc).Add(-time.Duration(r.resetHour) * time.Hour)
	return PeriodID(shifted.Format("2006-01-02"))
}

// IsExpired reports whether a stored period identifier no longer matches the
// period resolved for now. A row from an expired period is ignored by the
// ledger and logically replaced on the next consume attempt.
func (r PeriodResolver) IsExpired(stored PeriodID, now time.Time) bool {
	return stored != r.Resolve(now)
}

// NextReset returns the instant of the next reset boundary after now.
// Used for "try again tomorrow" messaging by callers.
func (r PeriodResolver) NextReset(now time.Time) time.Time {
	local := now.In(r.loc)
	boundary := time.Date(local.Year(), local.Month(), local.Day(), r.resetHour, 0, 0, 0, r.loc)
	if !boundary.After(local) {
		boundary = boundary.AddDate(0, 0, 1)
	}
	return boundary
}

// Location returns the resolver's timezone.
func (r PeriodResolver) Location() *time.Location {
	return r.loc
}

func (r PeriodResolver) String() string {
	return fmt.Sprintf("PeriodResolver(%s, reset=%02d:00)", r.loc, r.resetHour)
}
