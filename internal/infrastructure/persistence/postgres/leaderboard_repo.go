package postgres

import (
	"context"
	"fmt"

	"github.com/campushub/campus-hub/internal/domain/leaderboard"
	"github.com/campushub/campus-hub/internal/domain/points"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// LeaderboardRepository implements leaderboard.Reader directly over the
// user_points aggregate, so every read sees all committed appends.
type LeaderboardRepository struct {
	conn   *Connection
	ledger *LedgerRepository
}

var _ leaderboard.Reader = (*LeaderboardRepository)(nil)

// NewLeaderboardRepository creates a new LeaderboardRepository.
func NewLeaderboardRepository(conn *Connection) *LeaderboardRepository {
	return &LeaderboardRepository{conn: conn, ledger: NewLedgerRepository(conn)}
}

// Top returns the first limit users of the full ordering.
func (r *LeaderboardRepository) Top(ctx context.Context, limit int) ([]leaderboard.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := r.conn.Query(ctx, `
		SELECT user_id, points, updated_at
		  FROM user_points
		 ORDER BY points DESC, updated_at DESC, user_id ASC
		 LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	out := make([]leaderboard.Entry, 0, limit)
	for rows.Next() {
		var b points.Balance
		if err := rows.Scan(&b.UserID, &b.Points, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		b.UpdatedAt = b.UpdatedAt.UTC()
		out = append(out, leaderboard.NewEntry(leaderboard.Rank(len(out)+1), b))
	}
	return out, rows.Err()
}

// RankOf returns 1 + the number of users strictly ahead of userID.
func (r *LeaderboardRepository) RankOf(ctx context.Context, userID string) (leaderboard.Rank, error) {
	b, err := r.ledger.Balance(ctx, userID)
	if err != nil {
		return 0, err
	}

	var ahead int
	err = r.conn.QueryRow(ctx, `
		SELECT COUNT(*) FROM user_points
		 WHERE points > $1
		    OR (points = $1 AND updated_at > $2)
		    OR (points = $1 AND updated_at = $2 AND user_id < $3)
	`, b.Points, b.UpdatedAt, userID).Scan(&ahead)
	if err != nil {
		return 0, fmt.Errorf("failed to query rank: %w", err)
	}
	return leaderboard.Rank(ahead + 1), nil
}

// Count returns the number of users with an aggregate row.
func (r *LeaderboardRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM user_points`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}
