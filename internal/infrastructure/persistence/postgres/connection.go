// Package postgres implements the PostgreSQL persistence layer of the points
// engine: the ledger, the aggregate, achievement unlocks and the leaderboard
// queries. Per-user serialization comes from the row lock taken by
// UPDATE user_points ... SET points = points + $n inside a transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrConnectionClosed = errors.New("postgres: pool closed")
	ErrMigrationFailed  = errors.New("postgres: migration failed")
)

// PoolOptions overrides pool settings parsed from the URL. Zero values keep
// whatever the URL (or pgx) decided.
type PoolOptions struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// DefaultPoolOptions sizes the pool for a single engine process.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxConns:          10,
		MinConns:          2,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
	}
}

func (o PoolOptions) apply(cfg *pgxpool.Config) {
	if o.MaxConns > 0 {
		cfg.MaxConns = o.MaxConns
	}
	if o.MinConns > 0 {
		cfg.MinConns = o.MinConns
	}
	if o.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = o.MaxConnLifetime
	}
	if o.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = o.MaxConnIdleTime
	}
	if o.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = o.HealthCheckPeriod
	}
}

// Connection is the pgx pool shared by the repositories.
type Connection struct {
	pool   *pgxpool.Pool
	closed atomic.Bool
}

// NewConnection opens a pool for databaseURL and pings it once.
func NewConnection(ctx context.Context, databaseURL string, opts PoolOptions) (*Connection, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse url: %w", err)
	}
	opts.apply(cfg)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Connection{pool: pool}, nil
}

// Close is idempotent.
func (c *Connection) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.pool.Close()
	}
}

// Ping backs the storage health probe.
func (c *Connection) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	return c.pool.Ping(ctx)
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERIES
// ══════════════════════════════════════════════════════════════════════════════

func (c *Connection) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if c.closed.Load() {
		return pgconn.CommandTag{}, ErrConnectionClosed
	}
	return c.pool.Exec(ctx, sql, args...)
}

func (c *Connection) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	return c.pool.Query(ctx, sql, args...)
}

func (c *Connection) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if c.closed.Load() {
		return closedRow{}
	}
	return c.pool.QueryRow(ctx, sql, args...)
}

type closedRow struct{}

func (closedRow) Scan(...any) error { return ErrConnectionClosed }

// inTx runs fn in a read-committed transaction. It commits when fn returns
// nil and rolls back otherwise, including on panic.
func (c *Connection) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	committed = true
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR HELPERS
// ══════════════════════════════════════════════════════════════════════════════

const (
	sqlStateUniqueViolation = "23505"
	sqlStateOutOfRange      = "22003"
)

// IsUniqueViolation reports a duplicate key, e.g. a second unlock of the
// same achievement.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateUniqueViolation
}

// IsOutOfRange reports an INTEGER overflow, e.g. an aggregate pushed past
// its column range.
func IsOutOfRange(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == sqlStateOutOfRange
}

func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
