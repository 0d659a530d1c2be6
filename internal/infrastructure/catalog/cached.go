package catalog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/campushub/campus-hub/internal/domain/achievement"
)

// DefaultTTL is how long a loaded catalog is served before reloading.
const DefaultTTL = 5 * time.Minute

// reloadTimeout bounds one shared source read.
const reloadTimeout = 10 * time.Second

// Cached serves a validated copy of a catalog source. Concurrent reloads
// collapse into one source call. If a reload fails while a previous copy
// exists, the previous copy keeps being served until the next attempt.
type Cached struct {
	source   achievement.CatalogSource
	registry *achievement.Registry
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	defs     []achievement.Definition
	loadedAt time.Time
	valid    bool
}

var _ achievement.CatalogSource = (*Cached)(nil)

// NewCached wraps source. ttl <= 0 means DefaultTTL.
func NewCached(source achievement.CatalogSource, registry *achievement.Registry, ttl time.Duration, logger *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{
		source:   source,
		registry: registry,
		ttl:      ttl,
		logger:   logger.With("component", "achievement_catalog"),
		now:      time.Now,
	}
}

// LoadDefinitions implements achievement.CatalogSource. The returned slice is
// shared and must not be modified.
func (c *Cached) LoadDefinitions(ctx context.Context) ([]achievement.Definition, error) {
	c.mu.RLock()
	if c.valid && c.now().Sub(c.loadedAt) < c.ttl {
		defs := c.defs
		c.mu.RUnlock()
		return defs, nil
	}
	c.mu.RUnlock()

	// The load is shared by every waiting caller: a caller that gives up
	// returns early without failing it for the rest.
	ch := c.group.DoChan("catalog", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reloadTimeout)
		defer cancel()
		return c.reload(rctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]achievement.Definition), nil
	}
}

// Invalidate forces the next read to reload from the source.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

func (c *Cached) reload(ctx context.Context) ([]achievement.Definition, error) {
	c.mu.RLock()
	if c.valid && c.now().Sub(c.loadedAt) < c.ttl {
		defs := c.defs
		c.mu.RUnlock()
		return defs, nil
	}
	c.mu.RUnlock()

	defs, err := c.source.LoadDefinitions(ctx)
	if err == nil {
		err = Validate(defs, c.registry)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		if c.defs != nil {
			c.logger.Warn("catalog reload failed, serving previous copy",
				"definitions", len(c.defs),
				"error", err,
			)
			c.loadedAt = c.now()
			c.valid = true
			return c.defs, nil
		}
		return nil, err
	}

	c.defs = defs
	c.loadedAt = c.now()
	c.valid = true
	c.logger.Debug("catalog loaded", "definitions", len(defs))
	return defs, nil
}
