package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// migration is one forward-only schema step. Versions are applied in order
// and recorded in schema_migrations; there are no down migrations.
type migration struct {
	version int
	name    string
	sql     string
}

var migrations = []migration{
	{1, "create_points_ledger", migration001},
	{2, "create_achievements", migration002},
}

// Migrator brings the schema up to date.
type Migrator struct {
	conn *Connection
}

func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn}
}

// Migrate applies every pending migration, each in its own transaction
// together with its schema_migrations row. Running it twice is a no-op.
func (m *Migrator) Migrate(ctx context.Context) error {
	if _, err := m.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("%w: tracking table: %v", ErrMigrationFailed, err)
	}

	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range migrations {
		if applied[mig.version] {
			continue
		}
		err := m.conn.inTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.sql); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
				mig.version, mig.name,
			)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: %03d_%s: %v", ErrMigrationFailed, mig.version, mig.name, err)
		}
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]bool, error) {
	rows, err := m.conn.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int])
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}

	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// MIGRATION 001: POINTS LEDGER
// ──────────────────────────────────────────────────────────────────────────────

const migration001 = `
-- Aggregate per user. Level is never stored; it is derived from points.
CREATE TABLE IF NOT EXISTS user_points (
    user_id    TEXT PRIMARY KEY,
    points     INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL,

    CONSTRAINT user_points_non_negative CHECK (points >= 0)
);

-- Leaderboard order: points DESC, most recent write first, then user_id.
CREATE INDEX IF NOT EXISTS idx_user_points_ranking
    ON user_points (points DESC, updated_at DESC, user_id ASC);

-- Append-only ledger. Rows are never updated or deleted.
CREATE TABLE IF NOT EXISTS point_transactions (
    seq          BIGSERIAL PRIMARY KEY,
    id           TEXT NOT NULL UNIQUE,
    user_id      TEXT NOT NULL,
    points       INTEGER NOT NULL,
    kind         VARCHAR(10) NOT NULL,
    reason       VARCHAR(100) NOT NULL,
    reference_id TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMP WITH TIME ZONE NOT NULL,

    CONSTRAINT point_transactions_positive CHECK (points > 0),
    CONSTRAINT point_transactions_kind CHECK (kind IN ('earned', 'spent'))
);

CREATE INDEX IF NOT EXISTS idx_point_transactions_user
    ON point_transactions (user_id, created_at DESC, seq DESC);
CREATE INDEX IF NOT EXISTS idx_point_transactions_reference
    ON point_transactions (user_id, reference_id);
`

// ──────────────────────────────────────────────────────────────────────────────
// MIGRATION 002: ACHIEVEMENTS
// ──────────────────────────────────────────────────────────────────────────────

const migration002 = `
CREATE TABLE IF NOT EXISTS achievements (
    id              TEXT PRIMARY KEY,
    name            VARCHAR(100) NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    category        VARCHAR(30) NOT NULL,
    points_required INTEGER NOT NULL DEFAULT 0,
    criterion       VARCHAR(50) NOT NULL,
    is_active       BOOLEAN NOT NULL DEFAULT TRUE,
    sort_order      INTEGER NOT NULL DEFAULT 0,

    CONSTRAINT achievements_bonus_non_negative CHECK (points_required >= 0)
);

-- One unlock per (user, achievement); the primary key is the idempotency guard.
CREATE TABLE IF NOT EXISTS user_achievements (
    user_id        TEXT NOT NULL,
    achievement_id TEXT NOT NULL REFERENCES achievements(id),
    unlocked_at    TIMESTAMP WITH TIME ZONE NOT NULL,
    PRIMARY KEY (user_id, achievement_id)
);
`
