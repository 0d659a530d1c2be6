package sqlite

import (
	"context"
	"fmt"

	"github.com/campushub/campus-hub/internal/domain/achievement"
	"github.com/campushub/campus-hub/internal/domain/points"
)

var (
	_ achievement.CatalogSource    = (*Store)(nil)
	_ achievement.UnlockRepository = (*Store)(nil)
	_ achievement.BonusAuditor     = (*Store)(nil)
)

// SeedDefinitions upserts the catalog. Definitions are stored in slice order.
func (s *Store) SeedDefinitions(ctx context.Context, defs []achievement.Definition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, def := range defs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO achievements (id, name, description, category, points_required, criterion, is_active, sort_order)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			    name = excluded.name,
			    description = excluded.description,
			    category = excluded.category,
			    points_required = excluded.points_required,
			    criterion = excluded.criterion,
			    is_active = excluded.is_active,
			    sort_order = excluded.sort_order`,
			def.ID, def.Name, def.Description, string(def.Category), def.PointsRequired, def.Criterion, def.IsActive, i,
		); err != nil {
			return fmt.Errorf("seed achievement %s: %w", def.ID, err)
		}
	}
	return tx.Commit()
}

// LoadDefinitions implements achievement.CatalogSource.
func (s *Store) LoadDefinitions(ctx context.Context) ([]achievement.Definition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, category, points_required, criterion, is_active
		   FROM achievements
		  ORDER BY sort_order, id`)
	if err != nil {
		return nil, fmt.Errorf("load achievements: %w", err)
	}
	defer rows.Close()

	var out []achievement.Definition
	for rows.Next() {
		var (
			def      achievement.Definition
			category string
		)
		if err := rows.Scan(&def.ID, &def.Name, &def.Description, &category, &def.PointsRequired, &def.Criterion, &def.IsActive); err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		def.Category = achievement.Category(category)
		out = append(out, def)
	}
	return out, rows.Err()
}

// Unlock implements achievement.UnlockRepository.
func (s *Store) Unlock(ctx context.Context, u achievement.Unlock) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO user_achievements (user_id, achievement_id, unlocked_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (user_id, achievement_id) DO NOTHING`,
		u.UserID, u.AchievementID, toNanos(u.UnlockedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert unlock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("unlock rows affected: %w", err)
	}
	return n == 1, nil
}

// ListUnlocks implements achievement.UnlockRepository.
func (s *Store) ListUnlocks(ctx context.Context, userID string) ([]achievement.Unlock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, achievement_id, unlocked_at
		   FROM user_achievements
		  WHERE user_id = ?
		  ORDER BY unlocked_at, achievement_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list unlocks: %w", err)
	}
	defer rows.Close()

	out := []achievement.Unlock{}
	for rows.Next() {
		var (
			u  achievement.Unlock
			at int64
		)
		if err := rows.Scan(&u.UserID, &u.AchievementID, &at); err != nil {
			return nil, fmt.Errorf("scan unlock: %w", err)
		}
		u.UnlockedAt = fromNanos(at)
		out = append(out, u)
	}
	return out, rows.Err()
}

// MissingBonuses implements achievement.BonusAuditor.
func (s *Store) MissingBonuses(ctx context.Context, defs []achievement.Definition) ([]achievement.MissingBonus, error) {
	var out []achievement.MissingBonus
	for _, def := range defs {
		if !def.HasBonus() {
			continue
		}
		missing, err := s.missingBonusFor(ctx, def)
		if err != nil {
			return nil, err
		}
		out = append(out, missing...)
	}
	return out, nil
}

func (s *Store) missingBonusFor(ctx context.Context, def achievement.Definition) ([]achievement.MissingBonus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ua.user_id, ua.unlocked_at
		   FROM user_achievements ua
		  WHERE ua.achievement_id = ?
		    AND NOT EXISTS (
		        SELECT 1 FROM point_transactions t
		         WHERE t.user_id = ua.user_id
		           AND t.reference_id = ua.achievement_id
		           AND t.kind = 'earned'
		           AND t.reason = ?)
		  ORDER BY ua.unlocked_at, ua.user_id`,
		def.ID, points.AchievementReason(def.Name),
	)
	if err != nil {
		return nil, fmt.Errorf("query missing bonuses: %w", err)
	}
	defer rows.Close()

	var out []achievement.MissingBonus
	for rows.Next() {
		var (
			userID string
			at     int64
		)
		if err := rows.Scan(&userID, &at); err != nil {
			return nil, fmt.Errorf("scan missing bonus: %w", err)
		}
		out = append(out, achievement.MissingBonus{
			UserID:        userID,
			AchievementID: def.ID,
			Name:          def.Name,
			Bonus:         def.PointsRequired,
			UnlockedAt:    fromNanos(at),
		})
	}
	return out, rows.Err()
}
