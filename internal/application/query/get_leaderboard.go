// Package query contains read operations following CQRS pattern.
// Queries never modify state - they only read and return data.
// Each query is a self-contained use case with its own request/response types.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/campushub/campus-hub/internal/domain/leaderboard"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEADERBOARD QUERY
// Получает топ-N пользователей по очкам.
// Кеш используется по схеме cache-aside с версией: ответ никогда не старше
// последней закоммиченной записи в леджер.
// ══════════════════════════════════════════════════════════════════════════════

// GetLeaderboardQuery содержит параметры запроса лидерборда.
type GetLeaderboardQuery struct {
	// Limit - количество записей (по умолчанию 10, максимум 100).
	Limit int
}

// GetLeaderboardResult содержит результат запроса лидерборда.
type GetLeaderboardResult struct {
	// Entries - записи лидерборда в порядке рейтинга.
	Entries []leaderboard.Entry `json:"entries"`

	// Limit - применённый лимит.
	Limit int `json:"limit"`

	// FromCache - ответ взят из кеша.
	FromCache bool `json:"-"`

	// GeneratedAt - время генерации результата.
	GeneratedAt time.Time `json:"generated_at"`
}

// GetLeaderboardHandler обрабатывает запрос лидерборда.
type GetLeaderboardHandler struct {
	reader leaderboard.Reader
	cache  leaderboard.Cache
	logger *slog.Logger
	clock  func() time.Time
}

// NewGetLeaderboardHandler создаёт обработчик. cache может быть nil.
func NewGetLeaderboardHandler(reader leaderboard.Reader, cache leaderboard.Cache, logger *slog.Logger) *GetLeaderboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &GetLeaderboardHandler{
		reader: reader,
		cache:  cache,
		logger: logger.With("component", "get_leaderboard"),
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// Handle выполняет запрос. Ошибки кеша не мешают ответу из хранилища.
func (h *GetLeaderboardHandler) Handle(ctx context.Context, q GetLeaderboardQuery) (*GetLeaderboardResult, error) {
	limit := leaderboard.NormalizeLimit(q.Limit)

	version, cacheUsable := h.cacheVersion(ctx)
	if cacheUsable {
		entries, ok, err := h.cache.GetTop(ctx, version, limit)
		if err != nil {
			h.logger.Warn("leaderboard cache read failed", "error", err)
		} else if ok {
			return &GetLeaderboardResult{
				Entries:     entries,
				Limit:       limit,
				FromCache:   true,
				GeneratedAt: h.clock(),
			}, nil
		}
	}

	entries, err := h.reader.Top(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("get_leaderboard: %w", err)
	}
	if entries == nil {
		entries = []leaderboard.Entry{}
	}

	if cacheUsable {
		if err := h.cache.SetTop(ctx, version, limit, entries); err != nil {
			h.logger.Warn("leaderboard cache write failed", "error", err)
		}
	}

	return &GetLeaderboardResult{
		Entries:     entries,
		Limit:       limit,
		GeneratedAt: h.clock(),
	}, nil
}

// cacheVersion читает версию до обращения к хранилищу.
func (h *GetLeaderboardHandler) cacheVersion(ctx context.Context) (int64, bool) {
	if h.cache == nil {
		return 0, false
	}
	v, err := h.cache.Version(ctx)
	if err != nil {
		h.logger.Debug("leaderboard cache skipped", "error", err)
		return 0, false
	}
	return v, true
}
