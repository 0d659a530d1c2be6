package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/campushub/campus-hub/internal/domain/points"
	"github.com/campushub/campus-hub/internal/domain/shared"
)

var (
	_ points.Ledger  = (*Store)(nil)
	_ points.Auditor = (*Store)(nil)
)

// Append implements points.Ledger. The aggregate update and the ledger insert
// share one transaction; a spend that would go below zero matches no row and
// rolls back.
func (s *Store) Append(ctx context.Context, params points.AppendParams) (*points.AppendResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	tx := params.Transaction()
	delta := tx.Delta()

	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = dbtx.Rollback() }()

	if _, err := dbtx.ExecContext(ctx,
		`INSERT INTO user_points (user_id, points, updated_at) VALUES (?, 0, 0)
		 ON CONFLICT (user_id) DO NOTHING`,
		tx.UserID,
	); err != nil {
		return nil, fmt.Errorf("ensure aggregate: %w", err)
	}

	var (
		newPoints int
		updatedAt int64
	)
	err = dbtx.QueryRowContext(ctx,
		`UPDATE user_points
		    SET points = points + ?, updated_at = MAX(updated_at, ?)
		  WHERE user_id = ? AND points + ? BETWEEN 0 AND ?
		RETURNING points, updated_at`,
		delta, toNanos(tx.CreatedAt), tx.UserID, delta, points.MaxPoints,
	).Scan(&newPoints, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if delta > 0 {
			return nil, fmt.Errorf("%w: total would exceed %d", shared.ErrInvalidAmount, points.MaxPoints)
		}
		return nil, shared.ErrInsufficientPoints
	}
	if err != nil {
		return nil, fmt.Errorf("update aggregate: %w", err)
	}

	if _, err := dbtx.ExecContext(ctx,
		`INSERT INTO point_transactions (id, user_id, points, kind, reason, reference_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.UserID, tx.Points, string(tx.Kind), tx.Reason, tx.ReferenceID, toNanos(tx.CreatedAt),
	); err != nil {
		if isUniqueViolation(err) {
			return nil, shared.WrapError("points", "Append", shared.ErrAlreadyExists, "duplicate transaction id", err)
		}
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	if err := dbtx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}

	return &points.AppendResult{
		Transaction:    tx,
		PreviousPoints: newPoints - delta,
		Balance: points.Balance{
			UserID:    tx.UserID,
			Points:    newPoints,
			UpdatedAt: fromNanos(updatedAt),
		},
	}, nil
}

// Balance implements points.Ledger.
func (s *Store) Balance(ctx context.Context, userID string) (points.Balance, error) {
	var (
		total     int
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT points, updated_at FROM user_points WHERE user_id = ?`, userID,
	).Scan(&total, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return points.ZeroBalance(userID), nil
	}
	if err != nil {
		return points.Balance{}, fmt.Errorf("get balance: %w", err)
	}
	return points.Balance{UserID: userID, Points: total, UpdatedAt: fromNanos(updatedAt)}, nil
}

// History implements points.Ledger.
func (s *Store) History(ctx context.Context, userID string, page points.Page) ([]points.Transaction, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM point_transactions WHERE user_id = ?`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, points, kind, reason, reference_id, created_at
		   FROM point_transactions
		  WHERE user_id = ?
		  ORDER BY created_at DESC, seq DESC
		  LIMIT ? OFFSET ?`,
		userID, page.Limit, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]points.Transaction, 0, page.Limit)
	for rows.Next() {
		var (
			tx        points.Transaction
			kind      string
			createdAt int64
		)
		if err := rows.Scan(&tx.ID, &tx.UserID, &tx.Points, &kind, &tx.Reason, &tx.ReferenceID, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Kind = points.Kind(kind)
		tx.CreatedAt = fromNanos(createdAt)
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, total, nil
}

// Divergences implements points.Auditor.
func (s *Store) Divergences(ctx context.Context) ([]points.Divergence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT up.user_id, up.points,
		        COALESCE(SUM(CASE WHEN t.kind = 'earned' THEN t.points ELSE -t.points END), 0) AS ledger
		   FROM user_points up
		   LEFT JOIN point_transactions t ON t.user_id = up.user_id
		  GROUP BY up.user_id, up.points
		 HAVING up.points <> COALESCE(SUM(CASE WHEN t.kind = 'earned' THEN t.points ELSE -t.points END), 0)
		  ORDER BY up.user_id`)
	if err != nil {
		return nil, fmt.Errorf("reconcile ledger: %w", err)
	}
	defer rows.Close()

	var out []points.Divergence
	for rows.Next() {
		var d points.Divergence
		if err := rows.Scan(&d.UserID, &d.AggregatePoints, &d.LedgerPoints); err != nil {
			return nil, fmt.Errorf("scan divergence: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
