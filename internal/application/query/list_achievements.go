package query

import (
	"context"
	"fmt"

	"github.com/campushub/campus-hub/internal/domain/achievement"
	"github.com/campushub/campus-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST ACHIEVEMENTS QUERIES
// Открытые достижения пользователя и достижения, которые ещё можно открыть.
// ══════════════════════════════════════════════════════════════════════════════

// ListAchievementsQuery содержит параметры запроса.
type ListAchievementsQuery struct {
	UserID string
}

// ListAchievementsHandler обрабатывает оба запроса списка достижений.
type ListAchievementsHandler struct {
	catalog achievement.CatalogSource
	unlocks achievement.UnlockRepository
}

// NewListAchievementsHandler создаёт обработчик.
func NewListAchievementsHandler(catalog achievement.CatalogSource, unlocks achievement.UnlockRepository) *ListAchievementsHandler {
	return &ListAchievementsHandler{catalog: catalog, unlocks: unlocks}
}

// Unlocked возвращает открытые достижения в порядке открытия. Открытия,
// определения которых удалены из каталога, пропускаются.
func (h *ListAchievementsHandler) Unlocked(ctx context.Context, q ListAchievementsQuery) ([]achievement.UnlockedAchievement, error) {
	if q.UserID == "" {
		return nil, shared.ErrUnknownUser
	}

	defs, unlocks, err := h.load(ctx, q.UserID)
	if err != nil {
		return nil, err
	}

	idx := achievement.Index(defs)
	out := make([]achievement.UnlockedAchievement, 0, len(unlocks))
	for _, u := range unlocks {
		def, ok := idx[u.AchievementID]
		if !ok {
			continue
		}
		out = append(out, achievement.UnlockedAchievement{Definition: def, UnlockedAt: u.UnlockedAt})
	}
	return out, nil
}

// Available возвращает активные достижения, которые пользователь ещё не открыл,
// в порядке каталога.
func (h *ListAchievementsHandler) Available(ctx context.Context, q ListAchievementsQuery) ([]achievement.Definition, error) {
	if q.UserID == "" {
		return nil, shared.ErrUnknownUser
	}

	defs, unlocks, err := h.load(ctx, q.UserID)
	if err != nil {
		return nil, err
	}

	done := achievement.UnlockedSet(unlocks)
	out := make([]achievement.Definition, 0, len(defs))
	for _, def := range achievement.Active(defs) {
		if _, ok := done[def.ID]; ok {
			continue
		}
		out = append(out, def)
	}
	return out, nil
}

// Catalog возвращает все активные определения.
func (h *ListAchievementsHandler) Catalog(ctx context.Context) ([]achievement.Definition, error) {
	defs, err := h.catalog.LoadDefinitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list_achievements: %w", err)
	}
	return achievement.Active(defs), nil
}

func (h *ListAchievementsHandler) load(ctx context.Context, userID string) ([]achievement.Definition, []achievement.Unlock, error) {
	defs, err := h.catalog.LoadDefinitions(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list_achievements: %w", err)
	}
	unlocks, err := h.unlocks.ListUnlocks(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("list_achievements: %w", err)
	}
	return defs, unlocks, nil
}
