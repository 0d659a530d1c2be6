// Package bootstrap assembles the points engine and its infrastructure from
// configuration. Both the API server and the admin CLI start from here.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/campushub/campus-hub/config"
	"github.com/campushub/campus-hub/internal/application/engine"
	"github.com/campushub/campus-hub/internal/domain/achievement"
	"github.com/campushub/campus-hub/internal/domain/leaderboard"
	"github.com/campushub/campus-hub/internal/domain/notification"
	"github.com/campushub/campus-hub/internal/domain/points"
	"github.com/campushub/campus-hub/internal/infrastructure/catalog"
	"github.com/campushub/campus-hub/internal/infrastructure/external/stats"
	"github.com/campushub/campus-hub/internal/infrastructure/messaging"
	"github.com/campushub/campus-hub/internal/infrastructure/persistence/memory"
	"github.com/campushub/campus-hub/internal/infrastructure/persistence/postgres"
	"github.com/campushub/campus-hub/internal/infrastructure/persistence/redis"
	"github.com/campushub/campus-hub/internal/infrastructure/persistence/sqlite"
	"github.com/campushub/campus-hub/pkg/circuitbreaker"
	"github.com/campushub/campus-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORES
// ══════════════════════════════════════════════════════════════════════════════

// Stores is the storage side of the engine for one driver.
type Stores struct {
	Driver string

	Ledger       points.Ledger
	Leaderboard  leaderboard.Reader
	Catalog      achievement.CatalogSource
	Unlocks      achievement.UnlockRepository
	Auditor      points.Auditor
	BonusAuditor achievement.BonusAuditor

	// Seeder is nil for the memory driver, which is built from the catalog.
	Seeder catalog.Seeder

	// Migrate applies schema migrations. Nil when the driver needs none.
	Migrate func(ctx context.Context) error

	// Ping reports storage reachability for health checks.
	Ping func(ctx context.Context) error

	close func() error
}

// Close releases storage resources.
func (s *Stores) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

// OpenStores opens the store selected by cfg.Driver. defs seeds the memory
// driver and is ignored by the SQL drivers.
func OpenStores(ctx context.Context, cfg config.DatabaseConfig, defs []achievement.Definition, logger *slog.Logger) (*Stores, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		store := memory.NewStore(defs)
		return &Stores{
			Driver:       cfg.Driver,
			Ledger:       store,
			Leaderboard:  store,
			Catalog:      store,
			Unlocks:      store,
			Auditor:      store,
			BonusAuditor: store,
			Ping:         func(context.Context) error { return nil },
		}, nil

	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Driver:       cfg.Driver,
			Ledger:       store,
			Leaderboard:  store,
			Catalog:      store,
			Unlocks:      store,
			Auditor:      store,
			BonusAuditor: store,
			Seeder:       store,
			Ping:         store.Health,
			close:        store.Close,
		}, nil

	case config.DriverPostgres:
		opts := postgres.PoolOptions{
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.ConnMaxLifetime,
			MaxConnIdleTime: cfg.ConnMaxIdleTime,
		}

		var conn *postgres.Connection
		err := retry.StartupPolicy(logRetry(logger, "postgres")).Do(ctx, func(ctx context.Context) error {
			var err error
			conn, err = postgres.NewConnection(ctx, cfg.URL, opts)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}

		ledger := postgres.NewLedgerRepository(conn)
		achievements := postgres.NewAchievementRepository(conn)
		migrator := postgres.NewMigrator(conn)
		return &Stores{
			Driver:       cfg.Driver,
			Ledger:       ledger,
			Leaderboard:  postgres.NewLeaderboardRepository(conn),
			Catalog:      achievements,
			Unlocks:      achievements,
			Auditor:      ledger,
			BonusAuditor: achievements,
			Seeder:       achievements,
			Migrate:      migrator.Migrate,
			Ping:         conn.Ping,
			close: func() error {
				conn.Close()
				return nil
			},
		}, nil
	}

	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

// CatalogSource returns the configured catalog: the YAML file when a path is
// set, the built-in definitions otherwise.
func CatalogSource(cfg config.EngineConfig, registry *achievement.Registry) achievement.CatalogSource {
	if cfg.CatalogPath != "" {
		return catalog.NewFileSource(cfg.CatalogPath, registry)
	}
	return catalog.StaticSource(achievement.DefaultDefinitions())
}

// ══════════════════════════════════════════════════════════════════════════════
// RUNTIME
// ══════════════════════════════════════════════════════════════════════════════

// Runtime is a fully wired engine with the infrastructure behind it.
type Runtime struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *achievement.Registry
	Stores   *Stores
	Catalog  *catalog.Cached
	Engine   *engine.Engine

	// Redis is nil when Redis is not configured or unreachable.
	Redis *redis.Cache
	Bus   *messaging.Bus
}

var _ engine.CatalogInvalidator = (*catalog.Cached)(nil)

// New opens storage, seeds the catalog, connects optional Redis and the
// stats provider, and builds the engine.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{
		Config:   cfg,
		Logger:   logger,
		Registry: achievement.DefaultRegistry(),
	}
	if err := rt.build(ctx); err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) build(ctx context.Context) error {
	cfg, logger := rt.Config, rt.Logger

	// ─────────────────────────────────────────────────────────────────────────
	// 1. CATALOG + STORAGE
	// ─────────────────────────────────────────────────────────────────────────
	source := CatalogSource(cfg.Engine, rt.Registry)
	defs, err := source.LoadDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("load achievement catalog: %w", err)
	}
	if err := catalog.Validate(defs, rt.Registry); err != nil {
		return err
	}

	rt.Stores, err = OpenStores(ctx, cfg.Database, defs, logger)
	if err != nil {
		return err
	}
	logger.Info("storage opened", "driver", rt.Stores.Driver)

	if rt.Stores.Migrate != nil {
		if err := rt.Stores.Migrate(ctx); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}
	if rt.Stores.Seeder != nil && cfg.Database.SeedCatalog {
		n, err := catalog.Seed(ctx, source, rt.Stores.Seeder, rt.Registry)
		if err != nil {
			return err
		}
		logger.Info("achievement catalog seeded", "definitions", n)
	}

	rt.Catalog = catalog.NewCached(rt.Stores.Catalog, rt.Registry, cfg.Engine.CatalogTTL, logger)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. REDIS (optional)
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Redis.Enabled() {
		rt.Redis, err = connectRedis(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn("redis unavailable, continuing without cache and pub/sub", "error", err)
			rt.Redis = nil
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. EVENT BUS + NOTIFICATIONS
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultBusConfig()
	busCfg.Logger = logger
	rt.Bus = messaging.NewBus(busCfg)

	if cfg.Features.IsEnabled(config.FeatureNotifications) {
		fanout := messaging.NewFanout(messaging.FanoutConfig{
			Transport: rt.transport(),
			Balances:  rt.Stores.Ledger,
			Logger:    logger,
		})
		if err := fanout.Register(rt.Bus); err != nil {
			return fmt.Errorf("register notification fan-out: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ENGINE
	// ─────────────────────────────────────────────────────────────────────────
	deps := engine.Dependencies{
		Ledger:       rt.Stores.Ledger,
		Leaderboard:  rt.Stores.Leaderboard,
		Catalog:      rt.Catalog,
		Unlocks:      rt.Stores.Unlocks,
		Auditor:      rt.Stores.Auditor,
		BonusAuditor: rt.Stores.BonusAuditor,
		Registry:     rt.Registry,
		Events:       rt.Bus,
		Logger:       logger,
	}
	if rt.Redis != nil && cfg.Features.IsEnabled(config.FeatureLeaderboardCache) {
		deps.Cache = redis.NewLeaderboardCache(rt.Redis, cfg.Engine.LeaderboardCacheTTL, logger)
	}
	if cfg.Engine.StatsURL != "" {
		deps.Stats = stats.NewClient(stats.ClientConfig{
			BaseURL: cfg.Engine.StatsURL,
			APIKey:  cfg.Engine.StatsAPIKey,
			Timeout: cfg.Engine.StatsTimeout,
			Logger:  logger,
		}, circuitbreaker.StatsProviderBreaker(func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		}))
	} else {
		logger.Warn("no stats provider configured, achievements will never unlock")
	}

	opts := engine.DefaultOptions()
	opts.StatsTimeout = cfg.Engine.StatsTimeout
	opts.EnableAchievements = cfg.Features.IsEnabled(config.FeatureAchievements)
	opts.EnableBonuses = cfg.Features.IsEnabled(config.FeatureAchievementBonuses)
	opts.MaxAchievementsPerRun = cfg.Engine.MaxAchievementsPerRun
	opts.AchievementsFor = cfg.Features.Gate(config.FeatureAchievements)

	rt.Engine, err = engine.New(deps, opts)
	return err
}

// HealthCheck is one reachability probe of the runtime.
type HealthCheck struct {
	Check func(ctx context.Context) error

	// Critical probes gate readiness. Redis is not critical: the engine
	// reads through to the store when the cache is gone.
	Critical bool
}

// HealthChecks returns the probes of the runtime by name.
func (rt *Runtime) HealthChecks() map[string]HealthCheck {
	checks := map[string]HealthCheck{
		"storage": {Check: rt.Stores.Ping, Critical: true},
	}
	if rt.Redis != nil {
		checks["redis"] = HealthCheck{Check: rt.Redis.Ping}
	}
	return checks
}

// Close stops the event bus and releases connections. In-flight
// notifications are allowed to finish first.
func (rt *Runtime) Close() error {
	var errs []error
	if rt.Bus != nil {
		errs = append(errs, rt.Bus.Close())
	}
	if rt.Redis != nil {
		errs = append(errs, rt.Redis.Close())
	}
	if rt.Stores != nil {
		errs = append(errs, rt.Stores.Close())
	}
	return errors.Join(errs...)
}

// transport picks Redis pub/sub when available and a log-only transport
// otherwise.
func (rt *Runtime) transport() notification.Transport {
	if rt.Redis != nil {
		return redis.NewPubSubTransport(rt.Redis)
	}
	logger := rt.Logger.With("component", "notification_log")
	return notification.TransportFunc(func(_ context.Context, userID string, payload notification.Payload) error {
		logger.Debug("notification", "user_id", userID, "type", payload.Type.String())
		return nil
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func connectRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*redis.Cache, error) {
	rc := redis.DefaultConfig()
	rc.Addr = cfg.Addr
	rc.Password = cfg.Password
	rc.DB = cfg.DB
	rc.Namespace = cfg.Namespace
	rc.PoolSize = cfg.PoolSize
	rc.MinIdleConns = cfg.MinIdleConns
	rc.DialTimeout = cfg.DialTimeout
	rc.ReadTimeout = cfg.ReadTimeout
	rc.WriteTimeout = cfg.WriteTimeout

	policy := retry.DefaultPolicy()
	policy.InitialDelay = 200 * time.Millisecond
	policy.OnRetry = logRetry(logger, "redis")

	return retry.DoWithData(ctx, policy, func(ctx context.Context) (*redis.Cache, error) {
		return redis.NewCache(ctx, rc)
	})
}

func logRetry(logger *slog.Logger, dependency string) func(attempt int, err error, delay time.Duration) {
	return func(attempt int, err error, delay time.Duration) {
		logger.Warn("dependency not ready, retrying",
			"dependency", dependency,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}
}
