package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/campushub/campus-hub/internal/domain/achievement"
	"github.com/campushub/campus-hub/internal/domain/points"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AchievementRepository stores the catalog and the unlock records.
type AchievementRepository struct {
	conn *Connection
}

var (
	_ achievement.CatalogSource    = (*AchievementRepository)(nil)
	_ achievement.UnlockRepository = (*AchievementRepository)(nil)
	_ achievement.BonusAuditor     = (*AchievementRepository)(nil)
)

// NewAchievementRepository creates a new AchievementRepository.
func NewAchievementRepository(conn *Connection) *AchievementRepository {
	return &AchievementRepository{conn: conn}
}

// SeedDefinitions upserts the catalog in one batch.
func (r *AchievementRepository) SeedDefinitions(ctx context.Context, defs []achievement.Definition) error {
	return r.conn.inTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i, def := range defs {
			batch.Queue(`
				INSERT INTO achievements (id, name, description, category, points_required, criterion, is_active, sort_order)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (id) DO UPDATE SET
					name = EXCLUDED.name,
					description = EXCLUDED.description,
					category = EXCLUDED.category,
					points_required = EXCLUDED.points_required,
					criterion = EXCLUDED.criterion,
					is_active = EXCLUDED.is_active,
					sort_order = EXCLUDED.sort_order
			`, def.ID, def.Name, def.Description, string(def.Category), def.PointsRequired, def.Criterion, def.IsActive, i)
		}

		br := tx.SendBatch(ctx, batch)
		for _, def := range defs {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("failed to seed achievement %s: %w", def.ID, err)
			}
		}
		return br.Close()
	})
}

// LoadDefinitions returns every definition in catalog order.
func (r *AchievementRepository) LoadDefinitions(ctx context.Context) ([]achievement.Definition, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, name, description, category, points_required, criterion, is_active
		  FROM achievements
		 ORDER BY sort_order, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load achievements: %w", err)
	}
	defer rows.Close()

	var out []achievement.Definition
	for rows.Next() {
		var (
			def      achievement.Definition
			category string
		)
		if err := rows.Scan(&def.ID, &def.Name, &def.Description, &category, &def.PointsRequired, &def.Criterion, &def.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		def.Category = achievement.Category(category)
		out = append(out, def)
	}
	return out, rows.Err()
}

// Unlock inserts the unlock record. The primary key makes the insert a no-op
// for pairs that are already unlocked.
func (r *AchievementRepository) Unlock(ctx context.Context, u achievement.Unlock) (bool, error) {
	tag, err := r.conn.Exec(ctx, `
		INSERT INTO user_achievements (user_id, achievement_id, unlocked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, achievement_id) DO NOTHING
	`, u.UserID, u.AchievementID, u.UnlockedAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert unlock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListUnlocks returns the user's unlocks, oldest first.
func (r *AchievementRepository) ListUnlocks(ctx context.Context, userID string) ([]achievement.Unlock, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT user_id, achievement_id, unlocked_at
		  FROM user_achievements
		 WHERE user_id = $1
		 ORDER BY unlocked_at, achievement_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unlocks: %w", err)
	}
	defer rows.Close()

	out := []achievement.Unlock{}
	for rows.Next() {
		var u achievement.Unlock
		if err := rows.Scan(&u.UserID, &u.AchievementID, &u.UnlockedAt); err != nil {
			return nil, fmt.Errorf("failed to scan unlock: %w", err)
		}
		u.UnlockedAt = u.UnlockedAt.UTC()
		out = append(out, u)
	}
	return out, rows.Err()
}

// MissingBonuses finds unlocks of bonus-carrying achievements that have no
// matching earned transaction.
func (r *AchievementRepository) MissingBonuses(ctx context.Context, defs []achievement.Definition) ([]achievement.MissingBonus, error) {
	var out []achievement.MissingBonus
	for _, def := range defs {
		if !def.HasBonus() {
			continue
		}

		rows, err := r.conn.Query(ctx, `
			SELECT ua.user_id, ua.unlocked_at
			  FROM user_achievements ua
			 WHERE ua.achievement_id = $1
			   AND NOT EXISTS (
			       SELECT 1 FROM point_transactions t
			        WHERE t.user_id = ua.user_id
			          AND t.reference_id = ua.achievement_id
			          AND t.kind = 'earned'
			          AND t.reason = $2)
			 ORDER BY ua.unlocked_at, ua.user_id
		`, def.ID, points.AchievementReason(def.Name))
		if err != nil {
			return nil, fmt.Errorf("failed to query missing bonuses: %w", err)
		}

		for rows.Next() {
			mb := achievement.MissingBonus{AchievementID: def.ID, Name: def.Name, Bonus: def.PointsRequired}
			if err := rows.Scan(&mb.UserID, &mb.UnlockedAt); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan missing bonus: %w", err)
			}
			mb.UnlockedAt = mb.UnlockedAt.UTC()
			out = append(out, mb)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}
