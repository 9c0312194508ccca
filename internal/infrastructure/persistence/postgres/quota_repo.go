// Package postgres implements the PostgreSQL persistence layer for the
// trainbot quota and progress engine.
package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/trainbot-hub/trainbot/internal/domain/quota"
	"github.com/trainbot-hub/trainbot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// QUOTA LEDGER IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// QuotaRepository implements quota.Ledger for PostgreSQL.
//
// The check-and-increment is a single conditional upsert: the ON CONFLICT
// row lock serializes concurrent callers on the same (user, capability,
// period) key, so two requests can never both take the last unit. Rollover
// is implicit: a new period addresses a new primary key, so a stale row from
// yesterday is never consulted.
type QuotaRepository struct {
	conn *Connection
}

// NewQuotaRepository creates a new QuotaRepository.
func NewQuotaRepository(conn *Connection) *QuotaRepository {
	return &QuotaRepository{conn: conn}
}

var _ quota.Ledger = (*QuotaRepository)(nil)

// TryConsume atomically consumes one unit of allowance if any remains.
// Every granted unit also appends a quota_events audit row in the same
// transaction.
func (r *QuotaRepository) TryConsume(ctx context.Context, user quota.UserID, capability quota.Capability, period quota.PeriodID, limit int) (quota.Decision, error) {
	decision := quota.Decision{Period: period}

	// A zero or negative allowance can never be consumed; skip the round trip.
	if limit <= 0 {
		return decision, nil
	}

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		var consumed, dailyLimit int
		err := tx.QueryRow(ctx, `
			INSERT INTO user_quota (user_id, capability, period_id, consumed, daily_limit)
			VALUES ($1, $2, $3, 1, $4)
			ON CONFLICT (user_id, capability, period_id) DO UPDATE
			SET consumed = user_quota.consumed + 1,
			    daily_limit = EXCLUDED.daily_limit,
			    updated_at = NOW()
			WHERE user_quota.consumed < EXCLUDED.daily_limit
			RETURNING consumed, daily_limit
		`, int64(user), capability.String(), string(period), limit).Scan(&consumed, &dailyLimit)

		if IsNoRows(err) {
			// Condition failed: the allowance is exhausted.
			return nil
		}
		if err != nil {
			return err
		}

		decision.Allowed = true
		decision.Remaining = dailyLimit - consumed

		_, err = tx.Exec(ctx, `
			INSERT INTO quota_events (id, user_id, capability, period_id, delta)
			VALUES ($1, $2, $3, $4, 1)
		`, uuid.New(), int64(user), capability.String(), string(period))
		return err
	})
	if err != nil {
		return quota.Decision{Period: period}, shared.WrapError("quota", "TryConsume", quota.ErrLedgerUnavailable, "consume failed", err)
	}

	return decision, nil
}

// Refund returns one previously consumed unit for the given period, floored
// at zero. Refunding a period with no row (never consumed, or already rolled
// over) restores nothing and is reported as false, nil.
func (r *QuotaRepository) Refund(ctx context.Context, user quota.UserID, capability quota.Capability, period quota.PeriodID) (bool, error) {
	var restored bool

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE user_quota
			SET consumed = consumed - 1, updated_at = NOW()
			WHERE user_id = $1 AND capability = $2 AND period_id = $3 AND consumed > 0
		`, int64(user), capability.String(), string(period))
		if err != nil {
			return err
		}

		restored = tag.RowsAffected() > 0
		if !restored {
			return nil
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO quota_events (id, user_id, capability, period_id, delta)
			VALUES ($1, $2, $3, $4, -1)
		`, uuid.New(), int64(user), capability.String(), string(period))
		return err
	})
	if err != nil {
		return false, shared.WrapError("quota", "Refund", quota.ErrLedgerUnavailable, "refund failed", err)
	}

	return restored, nil
}

// Consumed reads the committed consumed count for the given period.
func (r *QuotaRepository) Consumed(ctx context.Context, user quota.UserID, capability quota.Capability, period quota.PeriodID) (int, error) {
	var consumed int
	err := r.conn.QueryRow(ctx, `
		SELECT consumed FROM user_quota
		WHERE user_id = $1 AND capability = $2 AND period_id = $3
	`, int64(user), capability.String(), string(period)).Scan(&consumed)

	if IsNoRows(err) {
		return 0, nil
	}
	if err != nil {
		return 0, shared.WrapError("quota", "Consumed", quota.ErrLedgerUnavailable, "read failed", err)
	}
	return consumed, nil
}

// Events returns the most recent audit events for a user, newest first.
func (r *QuotaRepository) Events(ctx context.Context, user quota.UserID, limit int) ([]quota.Event, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, user_id, capability, period_id, delta, recorded_at
		FROM quota_events
		WHERE user_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2
	`, int64(user), limit)
	if err != nil {
		return nil, shared.WrapError("quota", "Events", quota.ErrLedgerUnavailable, "query failed", err)
	}
	defer rows.Close()

	var events []quota.Event
	for rows.Next() {
		var (
			ev         quota.Event
			id         uuid.UUID
			userID     int64
			capability string
			period     string
		)
		if err := rows.Scan(&id, &userID, &capability, &period, &ev.Delta, &ev.RecordedAt); err != nil {
			return nil, shared.WrapError("quota", "Events", quota.ErrLedgerUnavailable, "scan failed", err)
		}
		ev.ID = id.String()
		ev.User = quota.UserID(userID)
		ev.Capability = quota.Capability(capability)
		ev.Period = quota.PeriodID(period)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.WrapError("quota", "Events", quota.ErrLedgerUnavailable, "iteration failed", err)
	}
	return events, nil
}

// PruneExpired deletes quota rows whose period precedes keepFrom. Superseded
// rows are never read again, so pruning is purely a space reclamation.
func (r *QuotaRepository) PruneExpired(ctx context.Context, keepFrom quota.PeriodID) (int64, error) {
	tag, err := r.conn.Exec(ctx, `
		DELETE FROM user_quota WHERE period_id < $1
	`, string(keepFrom))
	if err != nil {
		return 0, shared.WrapError("quota", "PruneExpired", quota.ErrLedgerUnavailable, "delete failed", err)
	}
	return tag.RowsAffected(), nil
}
