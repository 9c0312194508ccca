// Package redis implements the Redis caching layer for the trainbot quota
// and progress engine.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trainbot-hub/trainbot/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD READ-THROUGH CACHE
// ══════════════════════════════════════════════════════════════════════════════

// CachedAggregator wraps a progress.Aggregator with a Redis read-through
// cache. Cache entries carry a short TTL and are additionally invalidated by
// the facade after every recorded attempt, so a stale projection survives at
// most one write or the TTL, whichever comes first. A cache failure is never
// fatal: the query falls through to the durable store.
type CachedAggregator struct {
	next  progress.Aggregator
	cache *Cache
	ttl   time.Duration
}

// NewCachedAggregator creates a read-through cache over next. A nil cache
// disables caching and delegates every call.
func NewCachedAggregator(next progress.Aggregator, cache *Cache) *CachedAggregator {
	return &CachedAggregator{
		next:  next,
		cache: cache,
		ttl:   TTLLeaderboard,
	}
}

var _ progress.Aggregator = (*CachedAggregator)(nil)

// TopUsers serves the ranked projection from cache when fresh, otherwise
// recomputes it from the underlying aggregator and stores the result.
func (a *CachedAggregator) TopUsers(ctx context.Context, limit int, since time.Time) ([]progress.LeaderboardEntry, error) {
	if a.cache == nil {
		return a.next.TopUsers(ctx, limit, since)
	}

	key := topUsersKey(limit, since)

	var cached []progress.LeaderboardEntry
	err := a.cache.Get(ctx, key, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		// Degraded cache: fall through to the store.
		return a.next.TopUsers(ctx, limit, since)
	}

	entries, err := a.next.TopUsers(ctx, limit, since)
	if err != nil {
		return nil, err
	}

	// Best effort; a failed store just means the next call recomputes.
	_ = a.cache.Set(ctx, key, entries, a.ttl)

	return entries, nil
}

// Invalidate drops every cached leaderboard projection. Called by the facade
// after each recorded attempt.
func (a *CachedAggregator) Invalidate(ctx context.Context) error {
	if a.cache == nil {
		return nil
	}
	return a.cache.DeleteByPrefix(ctx, PrefixLeaderboard)
}

func topUsersKey(limit int, since time.Time) string {
	if since.IsZero() {
		return fmt.Sprintf("%stop:%d", PrefixLeaderboard, limit)
	}
	return fmt.Sprintf("%stop:%d:%d", PrefixLeaderboard, limit, since.Unix())
}
