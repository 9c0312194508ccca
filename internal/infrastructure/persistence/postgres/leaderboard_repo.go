// Package postgres implements the PostgreSQL persistence layer for the
// trainbot quota and progress engine.
package postgres

import (
	"context"
	"time"

	"github.com/trainbot-hub/trainbot/internal/domain/progress"
	"github.com/trainbot-hub/trainbot/internal/domain/quota"
	"github.com/trainbot-hub/trainbot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD AGGREGATION
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardRepository implements progress.Aggregator for PostgreSQL.
//
// Each invocation runs one aggregate query; the statement snapshot under
// READ COMMITTED guarantees no half-written row is ever observed, and the
// result is a fresh projection with no lifecycle of its own.
type LeaderboardRepository struct {
	conn *Connection
}

// NewLeaderboardRepository creates a new LeaderboardRepository.
func NewLeaderboardRepository(conn *Connection) *LeaderboardRepository {
	return &LeaderboardRepository{conn: conn}
}

var _ progress.Aggregator = (*LeaderboardRepository)(nil)

// TopUsers computes the ranked leaderboard: completed-unit count descending,
// then total best score over completed units descending, ties broken by the
// earliest last-attempt timestamp (earlier completion ranks higher).
func (r *LeaderboardRepository) TopUsers(ctx context.Context, limit int, since time.Time) ([]progress.LeaderboardEntry, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT user_id,
		       COUNT(*) FILTER (WHERE completed) AS completed_units,
		       COALESCE(SUM(best_score) FILTER (WHERE completed), 0) AS total_score,
		       MAX(last_attempt) AS last_attempt
		FROM user_progress
	`
	args := []interface{}{limit}
	if !since.IsZero() {
		query += ` WHERE last_attempt >= $2`
		args = append(args, since)
	}
	query += `
		GROUP BY user_id
		ORDER BY completed_units DESC, total_score DESC, last_attempt ASC
		LIMIT $1
	`

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.WrapError("leaderboard", "TopUsers", progress.ErrStoreUnavailable, "query failed", err)
	}
	defer rows.Close()

	var entries []progress.LeaderboardEntry
	for rows.Next() {
		var (
			entry  progress.LeaderboardEntry
			userID int64
		)
		if err := rows.Scan(&userID, &entry.CompletedUnits, &entry.TotalScore, &entry.LastAttempt); err != nil {
			return nil, shared.WrapError("leaderboard", "TopUsers", progress.ErrStoreUnavailable, "scan failed", err)
		}
		entry.User = quota.UserID(userID)
		entry.Rank = len(entries) + 1
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.WrapError("leaderboard", "TopUsers", progress.ErrStoreUnavailable, "iteration failed", err)
	}
	return entries, nil
}

// UserRank returns the 1-based rank of one user, or 0 when the user has no
// progress rows yet.
func (r *LeaderboardRepository) UserRank(ctx context.Context, user int64) (int, error) {
	var rank int
	err := r.conn.QueryRow(ctx, `
		WITH standings AS (
			SELECT user_id,
			       RANK() OVER (
			           ORDER BY COUNT(*) FILTER (WHERE completed) DESC,
			                    COALESCE(SUM(best_score) FILTER (WHERE completed), 0) DESC,
			                    MAX(last_attempt) ASC
			       ) AS rank
			FROM user_progress
			GROUP BY user_id
		)
		SELECT rank FROM standings WHERE user_id = $1
	`, user).Scan(&rank)

	if IsNoRows(err) {
		return 0, nil
	}
	if err != nil {
		return 0, shared.WrapError("leaderboard", "UserRank", progress.ErrStoreUnavailable, "query failed", err)
	}
	return rank, nil
}
