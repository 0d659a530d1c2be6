package query

import (
	"context"
	"fmt"
	"time"

	"github.com/campushub/campus-hub/internal/domain/points"
	"github.com/campushub/campus-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET USER POINTS QUERY
// Баланс и уровень пользователя. Уровень вычисляется при каждом чтении.
// ══════════════════════════════════════════════════════════════════════════════

// GetUserPointsQuery содержит параметры запроса баланса.
type GetUserPointsQuery struct {
	UserID string
}

// GetUserPointsResult - баланс пользователя.
type GetUserPointsResult struct {
	UserID            string     `json:"user_id"`
	Points            int        `json:"points"`
	Level             int        `json:"level"`
	PointsToNextLevel int        `json:"points_to_next_level"`
	UpdatedAt         *time.Time `json:"updated_at,omitempty"`
}

// GetUserPointsHandler обрабатывает запрос баланса.
type GetUserPointsHandler struct {
	ledger points.Ledger
}

// NewGetUserPointsHandler создаёт обработчик.
func NewGetUserPointsHandler(ledger points.Ledger) *GetUserPointsHandler {
	return &GetUserPointsHandler{ledger: ledger}
}

// Handle выполняет запрос. Неизвестный пользователь имеет 0 очков и уровень 1.
func (h *GetUserPointsHandler) Handle(ctx context.Context, q GetUserPointsQuery) (*GetUserPointsResult, error) {
	if q.UserID == "" {
		return nil, shared.ErrUnknownUser
	}

	b, err := h.ledger.Balance(ctx, q.UserID)
	if err != nil {
		return nil, fmt.Errorf("get_user_points: %w", err)
	}

	res := &GetUserPointsResult{
		UserID:            q.UserID,
		Points:            b.Points,
		Level:             b.Level().Int(),
		PointsToNextLevel: points.PointsToNextLevel(b.Points),
	}
	if !b.UpdatedAt.IsZero() {
		at := b.UpdatedAt
		res.UpdatedAt = &at
	}
	return res, nil
}
