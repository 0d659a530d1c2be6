package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/campushub/campus-hub/internal/domain/leaderboard"
)

// ErrCacheBypassed is returned by Version while the cache is bypassed after a
// failed invalidation.
var ErrCacheBypassed = errors.New("cache: bypassed after failed invalidation")

// LeaderboardCache caches top-N pages under a version counter.
//
// Pages are keyed by version and limit. Invalidate increments the version,
// so every page written before the bump becomes unreachable at once and
// expires on its TTL.
//
// If the bump itself fails the cache is bypassed for one TTL window and the
// bump stays pending. Once the window is over, Version retries the bump
// before reading, and keeps bypassing until it lands, so this process never
// reads a page of the version the failed write should have retired. Other
// processes sharing the keyspace only see the bump once it lands; until then
// they may serve a page that predates the write, for at most one TTL.
type LeaderboardCache struct {
	cache  *Cache
	ttl    time.Duration
	logger *slog.Logger

	mu          sync.Mutex
	bypassUntil time.Time
	pendingBump bool
	now         func() time.Time
}

var _ leaderboard.Cache = (*LeaderboardCache)(nil)

// NewLeaderboardCache creates a versioned leaderboard cache.
func NewLeaderboardCache(cache *Cache, ttl time.Duration, logger *slog.Logger) *LeaderboardCache {
	if ttl <= 0 {
		ttl = DefaultLeaderboardTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LeaderboardCache{
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "leaderboard_cache"),
		now:    time.Now,
	}
}

// bypassed reports whether reads must skip the cache and whether a failed
// bump is waiting to be retried.
func (lc *LeaderboardCache) bypassed() (bypass, pending bool) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.now().Before(lc.bypassUntil), lc.pendingBump
}

// Version implements leaderboard.Cache.
func (lc *LeaderboardCache) Version(ctx context.Context) (int64, error) {
	bypass, pending := lc.bypassed()
	if bypass {
		return 0, ErrCacheBypassed
	}
	if pending {
		if err := lc.bump(ctx); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrCacheBypassed, err)
		}
		lc.logger.Info("pending leaderboard version bump applied")
	}
	v, err := lc.cache.counter(ctx, lc.cache.keys.leaderboardVersion())
	if err != nil {
		return 0, fmt.Errorf("read leaderboard version: %w", err)
	}
	return v, nil
}

// GetTop implements leaderboard.Cache.
func (lc *LeaderboardCache) GetTop(ctx context.Context, version int64, limit int) ([]leaderboard.Entry, bool, error) {
	var entries []leaderboard.Entry
	err := lc.cache.getJSON(ctx, lc.cache.keys.leaderboardTop(version, limit), &entries)
	if errors.Is(err, ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return entries, true, nil
}

// SetTop implements leaderboard.Cache.
func (lc *LeaderboardCache) SetTop(ctx context.Context, version int64, limit int, entries []leaderboard.Entry) error {
	if entries == nil {
		entries = []leaderboard.Entry{}
	}
	return lc.cache.setJSON(ctx, lc.cache.keys.leaderboardTop(version, limit), entries, lc.ttl)
}

// Invalidate implements leaderboard.Cache.
func (lc *LeaderboardCache) Invalidate(ctx context.Context) error {
	return lc.bump(ctx)
}

// bump increments the version. On failure the bump is left pending and the
// bypass window restarts.
func (lc *LeaderboardCache) bump(ctx context.Context) error {
	err := lc.cache.client.Incr(ctx, lc.cache.keys.leaderboardVersion()).Err()

	lc.mu.Lock()
	defer lc.mu.Unlock()
	if err == nil {
		lc.pendingBump = false
		return nil
	}
	lc.pendingBump = true
	lc.bypassUntil = lc.now().Add(lc.ttl)

	lc.logger.Warn("leaderboard cache version bump failed, bypassing cache",
		"bypass_for", lc.ttl,
		"error", err,
	)
	return fmt.Errorf("bump leaderboard version: %w", err)
}
