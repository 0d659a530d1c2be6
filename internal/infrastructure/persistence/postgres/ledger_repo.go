package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/campushub/campus-hub/internal/domain/points"
	"github.com/campushub/campus-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// LedgerRepository implements points.Ledger and points.Auditor for PostgreSQL.
type LedgerRepository struct {
	conn *Connection
}

var (
	_ points.Ledger  = (*LedgerRepository)(nil)
	_ points.Auditor = (*LedgerRepository)(nil)
)

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(conn *Connection) *LedgerRepository {
	return &LedgerRepository{conn: conn}
}

// Append writes the transaction and moves the aggregate in one transaction.
// The UPDATE takes the row lock, so concurrent appends for the same user
// queue behind each other and every increment lands.
func (r *LedgerRepository) Append(ctx context.Context, params points.AppendParams) (*points.AppendResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	t := params.Transaction()
	delta := t.Delta()

	var result *points.AppendResult
	err := r.conn.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO user_points (user_id, points, updated_at)
			VALUES ($1, 0, $2)
			ON CONFLICT (user_id) DO NOTHING
		`, t.UserID, t.CreatedAt); err != nil {
			return fmt.Errorf("failed to ensure aggregate: %w", err)
		}

		var (
			newPoints int
			updatedAt time.Time
		)
		err := tx.QueryRow(ctx, `
			UPDATE user_points
			   SET points = points + $2,
			       updated_at = GREATEST(updated_at, $3)
			 WHERE user_id = $1 AND points + $2 >= 0
			RETURNING points, updated_at
		`, t.UserID, delta, t.CreatedAt).Scan(&newPoints, &updatedAt)
		if IsNoRows(err) {
			return shared.ErrInsufficientPoints
		}
		if IsOutOfRange(err) {
			return fmt.Errorf("%w: total would exceed %d", shared.ErrInvalidAmount, points.MaxPoints)
		}
		if err != nil {
			return fmt.Errorf("failed to update aggregate: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO point_transactions (id, user_id, points, kind, reason, reference_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, t.ID, t.UserID, t.Points, string(t.Kind), t.Reason, t.ReferenceID, t.CreatedAt); err != nil {
			if IsUniqueViolation(err) {
				return shared.WrapError("points", "Append", shared.ErrAlreadyExists, "duplicate transaction id", err)
			}
			return fmt.Errorf("failed to insert transaction: %w", err)
		}

		result = &points.AppendResult{
			Transaction:    t,
			PreviousPoints: newPoints - delta,
			Balance: points.Balance{
				UserID:    t.UserID,
				Points:    newPoints,
				UpdatedAt: updatedAt.UTC(),
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Balance returns the aggregate, or a zero balance for unknown users.
func (r *LedgerRepository) Balance(ctx context.Context, userID string) (points.Balance, error) {
	b := points.Balance{UserID: userID}
	err := r.conn.QueryRow(ctx, `
		SELECT points, updated_at FROM user_points WHERE user_id = $1
	`, userID).Scan(&b.Points, &b.UpdatedAt)
	if IsNoRows(err) {
		return points.ZeroBalance(userID), nil
	}
	if err != nil {
		return points.Balance{}, fmt.Errorf("failed to get balance: %w", err)
	}
	b.UpdatedAt = b.UpdatedAt.UTC()
	return b, nil
}

// History returns one page of transactions, newest first, and the total count.
func (r *LedgerRepository) History(ctx context.Context, userID string, page points.Page) ([]points.Transaction, int, error) {
	var total int
	if err := r.conn.QueryRow(ctx, `
		SELECT COUNT(*) FROM point_transactions WHERE user_id = $1
	`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	rows, err := r.conn.Query(ctx, `
		SELECT id, user_id, points, kind, reason, reference_id, created_at
		  FROM point_transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC, seq DESC
		 LIMIT $2 OFFSET $3
	`, userID, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]points.Transaction, 0, page.Limit)
	for rows.Next() {
		var (
			t    points.Transaction
			kind string
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.Points, &kind, &t.Reason, &t.ReferenceID, &t.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Kind = points.Kind(kind)
		t.CreatedAt = t.CreatedAt.UTC()
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// Divergences lists users whose aggregate differs from the ledger sum.
func (r *LedgerRepository) Divergences(ctx context.Context) ([]points.Divergence, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT up.user_id, up.points,
		       COALESCE(SUM(CASE WHEN t.kind = 'earned' THEN t.points ELSE -t.points END), 0)::INTEGER
		  FROM user_points up
		  LEFT JOIN point_transactions t ON t.user_id = up.user_id
		 GROUP BY up.user_id, up.points
		HAVING up.points <> COALESCE(SUM(CASE WHEN t.kind = 'earned' THEN t.points ELSE -t.points END), 0)
		 ORDER BY up.user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile ledger: %w", err)
	}
	defer rows.Close()

	var out []points.Divergence
	for rows.Next() {
		var d points.Divergence
		if err := rows.Scan(&d.UserID, &d.AggregatePoints, &d.LedgerPoints); err != nil {
			return nil, fmt.Errorf("failed to scan divergence: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
