package sqlite

import (
	"context"
	"fmt"

	"github.com/campushub/campus-hub/internal/domain/leaderboard"
	"github.com/campushub/campus-hub/internal/domain/points"
)

var _ leaderboard.Reader = (*Store)(nil)

// Top implements leaderboard.Reader.
func (s *Store) Top(ctx context.Context, limit int) ([]leaderboard.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, points, updated_at
		   FROM user_points
		  ORDER BY points DESC, updated_at DESC, user_id ASC
		  LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	out := make([]leaderboard.Entry, 0, limit)
	for rows.Next() {
		var (
			b         points.Balance
			updatedAt int64
		)
		if err := rows.Scan(&b.UserID, &b.Points, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		b.UpdatedAt = fromNanos(updatedAt)
		out = append(out, leaderboard.NewEntry(leaderboard.Rank(len(out)+1), b))
	}
	return out, rows.Err()
}

// RankOf implements leaderboard.Reader. The count of users strictly ahead is
// taken under the same ordering as Top.
func (s *Store) RankOf(ctx context.Context, userID string) (leaderboard.Rank, error) {
	b, err := s.Balance(ctx, userID)
	if err != nil {
		return 0, err
	}
	at := toNanos(b.UpdatedAt)

	var ahead int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_points
		  WHERE points > ?
		     OR (points = ? AND updated_at > ?)
		     OR (points = ? AND updated_at = ? AND user_id < ?)`,
		b.Points, b.Points, at, b.Points, at, userID,
	).Scan(&ahead)
	if err != nil {
		return 0, fmt.Errorf("query rank: %w", err)
	}
	return leaderboard.Rank(ahead + 1), nil
}

// Count implements leaderboard.Reader.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM user_points`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
