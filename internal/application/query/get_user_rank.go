package query

import (
	"context"
	"fmt"

	"github.com/campushub/campus-hub/internal/domain/leaderboard"
	"github.com/campushub/campus-hub/internal/domain/points"
	"github.com/campushub/campus-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET USER RANK QUERY
// Позиция пользователя в полном рейтинге. Всегда читается из хранилища.
// ══════════════════════════════════════════════════════════════════════════════

// GetUserRankQuery содержит параметры запроса позиции.
type GetUserRankQuery struct {
	UserID string
}

// GetUserRankResult содержит позицию и баланс пользователя.
type GetUserRankResult struct {
	UserID     string           `json:"user_id"`
	Rank       leaderboard.Rank `json:"rank"`
	Points     int              `json:"points"`
	Level      int              `json:"level"`
	TotalUsers int              `json:"total_users"`
}

// GetUserRankHandler обрабатывает запрос позиции.
type GetUserRankHandler struct {
	reader leaderboard.Reader
	ledger points.Ledger
}

// NewGetUserRankHandler создаёт обработчик.
func NewGetUserRankHandler(reader leaderboard.Reader, ledger points.Ledger) *GetUserRankHandler {
	return &GetUserRankHandler{reader: reader, ledger: ledger}
}

// Handle выполняет запрос. Пользователь без записей получает позицию после
// всех пользователей с ненулевой историей.
func (h *GetUserRankHandler) Handle(ctx context.Context, q GetUserRankQuery) (*GetUserRankResult, error) {
	if q.UserID == "" {
		return nil, shared.ErrUnknownUser
	}

	rank, err := h.reader.RankOf(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_user_rank: %w", err)
	}

	balance, err := h.ledger.Balance(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_user_rank: %w", err)
	}

	total, err := h.reader.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("get_user_rank: %w", err)
	}
	if int(rank) > total {
		total = int(rank)
	}

	return &GetUserRankResult{
		UserID:     q.UserID,
		Rank:       rank,
		Points:     balance.Points,
		Level:      balance.Level().Int(),
		TotalUsers: total,
	}, nil
}
