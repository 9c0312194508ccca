// Package postgres implements the PostgreSQL persistence layer for the
// trainbot quota and progress engine.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/trainbot-hub/trainbot/internal/domain/progress"
	"github.com/trainbot-hub/trainbot/internal/domain/quota"
	"github.com/trainbot-hub/trainbot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS STORE IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Store for PostgreSQL.
//
// RecordAttempt runs as ensure-row, locking read, monotonic update inside
// one transaction. The SELECT ... FOR UPDATE serializes concurrent attempts
// on the same (user, unit) key and yields the committed pre-attempt state,
// so PreviouslyCompleted can never report false to two racing callers when
// one of them completed the unit first.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

var _ progress.Store = (*ProgressRepository)(nil)

// RecordAttempt upserts one attempt with max-score and sticky-completed
// semantics computed against the committed row at update time.
func (r *ProgressRepository) RecordAttempt(ctx context.Context, user quota.UserID, unit progress.UnitID, score float64, completed bool, now time.Time) (progress.AttemptResult, error) {
	var result progress.AttemptResult

	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		// Ensure the row exists so the locking read below always has a
		// target. ON CONFLICT DO NOTHING resolves the first-attempt race:
		// the loser of the insert proceeds to lock the winner's row.
		_, err := tx.Exec(ctx, `
			INSERT INTO user_progress (user_id, unit_id, best_score, completed, attempt_count, last_attempt)
			VALUES ($1, $2, 0, FALSE, 0, $3)
			ON CONFLICT (user_id, unit_id) DO NOTHING
		`, int64(user), int64(unit), now)
		if err != nil {
			return err
		}

		var prevCompleted bool
		err = tx.QueryRow(ctx, `
			SELECT completed FROM user_progress
			WHERE user_id = $1 AND unit_id = $2
			FOR UPDATE
		`, int64(user), int64(unit)).Scan(&prevCompleted)
		if err != nil {
			return err
		}

		err = tx.QueryRow(ctx, `
			UPDATE user_progress
			SET best_score = GREATEST(best_score, $3),
			    completed = completed OR $4,
			    attempt_count = attempt_count + 1,
			    last_attempt = $5
			WHERE user_id = $1 AND unit_id = $2
			RETURNING best_score, completed, attempt_count
		`, int64(user), int64(unit), score, completed, now).Scan(
			&result.BestScore,
			&result.Completed,
			&result.AttemptCount,
		)
		if err != nil {
			return err
		}

		result.PreviouslyCompleted = prevCompleted
		return nil
	})
	if err != nil {
		return progress.AttemptResult{}, shared.WrapError("progress", "RecordAttempt", progress.ErrStoreUnavailable, "upsert failed", err)
	}

	return result, nil
}

// Get reads the committed record for a (user, unit) pair.
func (r *ProgressRepository) Get(ctx context.Context, user quota.UserID, unit progress.UnitID) (progress.Record, error) {
	rec := progress.Record{User: user, Unit: unit}

	err := r.conn.QueryRow(ctx, `
		SELECT best_score, completed, attempt_count, last_attempt
		FROM user_progress
		WHERE user_id = $1 AND unit_id = $2
	`, int64(user), int64(unit)).Scan(
		&rec.BestScore,
		&rec.Completed,
		&rec.AttemptCount,
		&rec.LastAttempt,
	)

	if IsNoRows(err) {
		return progress.Record{}, progress.ErrRecordNotFound
	}
	if err != nil {
		return progress.Record{}, shared.WrapError("progress", "Get", progress.ErrStoreUnavailable, "read failed", err)
	}
	return rec, nil
}

// CountByUser returns how many units the user has attempted and completed.
func (r *ProgressRepository) CountByUser(ctx context.Context, user quota.UserID) (attempted, completed int, err error) {
	err = r.conn.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE completed)
		FROM user_progress
		WHERE user_id = $1
	`, int64(user)).Scan(&attempted, &completed)
	if err != nil {
		return 0, 0, shared.WrapError("progress", "CountByUser", progress.ErrStoreUnavailable, "count failed", err)
	}
	return attempted, completed, nil
}
