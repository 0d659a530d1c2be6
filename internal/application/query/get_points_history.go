package query

import (
	"context"
	"fmt"

	"github.com/campushub/campus-hub/internal/domain/points"
	"github.com/campushub/campus-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET POINTS HISTORY QUERY
// Постраничная история транзакций пользователя, новые первыми.
// ══════════════════════════════════════════════════════════════════════════════

// GetPointsHistoryQuery содержит параметры запроса истории.
type GetPointsHistoryQuery struct {
	UserID string
	Page   int
	Limit  int
}

// GetPointsHistoryResult - страница истории.
type GetPointsHistoryResult struct {
	Transactions []points.Transaction `json:"transactions"`
	Pagination   points.PageMeta      `json:"pagination"`
}

// GetPointsHistoryHandler обрабатывает запрос истории.
type GetPointsHistoryHandler struct {
	ledger points.Ledger
}

// NewGetPointsHistoryHandler создаёт обработчик.
func NewGetPointsHistoryHandler(ledger points.Ledger) *GetPointsHistoryHandler {
	return &GetPointsHistoryHandler{ledger: ledger}
}

// Handle выполняет запрос.
func (h *GetPointsHistoryHandler) Handle(ctx context.Context, q GetPointsHistoryQuery) (*GetPointsHistoryResult, error) {
	if q.UserID == "" {
		return nil, shared.ErrUnknownUser
	}

	page := points.NewPage(q.Page, q.Limit)
	txs, total, err := h.ledger.History(ctx, q.UserID, page)
	if err != nil {
		return nil, fmt.Errorf("get_points_history: %w", err)
	}
	if txs == nil {
		txs = []points.Transaction{}
	}

	return &GetPointsHistoryResult{
		Transactions: txs,
		Pagination:   points.NewPageMeta(page, total),
	}, nil
}
