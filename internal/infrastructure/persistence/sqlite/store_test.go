package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushub/campus-hub/internal/domain/achievement"
	"github.com/campushub/campus-hub/internal/domain/points"
	"github.com/campushub/campus-hub/internal/domain/shared"
)

var baseTime = time.Date(2026, 4, 10, 8, 0, 0, 0, time.UTC)

func openTempStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "points.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func earn(id, user string, amount int, at time.Time) points.AppendParams {
	return points.AppendParams{
		TransactionID: id,
		UserID:        user,
		Points:        amount,
		Kind:          points.KindEarned,
		Reason:        points.ReasonAcceptedConnection,
		At:            at,
	}
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	assert.Error(t, err)
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.db")

	first, err := Open(context.Background(), path)
	require.NoError(t, err)
	_, err = first.Append(context.Background(), earn("tx-1", "u1", 15, baseTime))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer second.Close()

	b, err := second.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 15, b.Points)
}

func TestAppend_ConnectionAcceptance(t *testing.T) {
	ctx := context.Background()
	store := openTempStore(t)

	res, err := store.Append(ctx, earn("tx-1", "u1", 15, baseTime))
	require.NoError(t, err)
	assert.Equal(t, 0, res.PreviousPoints)
	assert.Equal(t, 15, res.Balance.Points)
	assert.Equal(t, points.Level(1), res.Balance.Level())
	assert.True(t, res.Balance.UpdatedAt.Equal(baseTime))
}

func TestAppend_ConcurrentAwards(t *testing.T) {
	ctx := context.Background()
	store := openTempStore(t)

	_, err := store.Append(ctx, earn("seed", "u1", 80, baseTime))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Append(ctx, earn(fmt.Sprintf("tx-%d", i), "u1", 50, baseTime.Add(time.Second)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	b, err := store.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 180, b.Points)

	divergences, err := store.Divergences(ctx)
	require.NoError(t, err)
	assert.Empty(t, divergences)
}

func TestAppend_SpendBelowZeroRollsBack(t *testing.T) {
	ctx := context.Background()
	store := openTempStore(t)

	_, err := store.Append(ctx, earn("tx-1", "u1", 20, baseTime))
	require.NoError(t, err)

	spend := earn("tx-2", "u1", 25, baseTime.Add(time.Minute))
	spend.Kind = points.KindSpent
	_, err = store.Append(ctx, spend)
	assert.True(t, errors.Is(err, shared.ErrInsufficientPoints))

	b, _ := store.Balance(ctx, "u1")
	assert.Equal(t, 20, b.Points)
	assert.True(t, b.UpdatedAt.Equal(baseTime))

	spend.Points = 5
	res, err := store.Append(ctx, spend)
	require.NoError(t, err)
	assert.Equal(t, 15, res.Balance.Points)
}

func TestAppend_DuplicateTransactionID(t *testing.T) {
	ctx := context.Background()
	store := openTempStore(t)

	_, err := store.Append(ctx, earn("tx-1", "u1", 10, baseTime))
	require.NoError(t, err)
	_, err = store.Append(ctx, earn("tx-1", "u1", 10, baseTime))
	assert.True(t, shared.IsAlreadyExists(err))

	b, _ := store.Balance(ctx, "u1")
	assert.Equal(t, 10, b.Points)
}

func TestHistory_PagedNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := openTempStore(t)

	for i := 0; i < 5; i++ {
		_, err := store.Append(ctx, earn(fmt.Sprintf("tx-%d", i), "u1", 10, baseTime.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	txs, total, err := store.History(ctx, "u1", points.NewPage(1, 2))
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, txs, 2)
	assert.Equal(t, "tx-4", txs[0].ID)
	assert.Equal(t, points.KindEarned, txs[0].Kind)
	assert.True(t, txs[0].CreatedAt.Equal(baseTime.Add(4*time.Minute)))

	txs, _, err = store.History(ctx, "u1", points.NewPage(3, 2))
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "tx-0", txs[0].ID)

	txs, total, err = store.History(ctx, "u1", points.NewPage(1<<62, 4))
	require.NoError(t, err)
	assert.Empty(t, txs)
	assert.Equal(t, 5, total)
}

func TestAppend_TotalCannotOverflow(t *testing.T) {
	ctx := context.Background()
	store := openTempStore(t)

	_, err := store.Append(ctx, earn("tx-1", "u1", 10, baseTime))
	require.NoError(t, err)

	_, err = store.Append(ctx, earn("tx-2", "u1", points.MaxPoints, baseTime))
	assert.True(t, errors.Is(err, shared.ErrInvalidAmount))

	_, err = store.Append(ctx, earn("tx-3", "u1", points.MaxPoints+1, baseTime))
	assert.True(t, errors.Is(err, shared.ErrInvalidAmount))

	b, err := store.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, b.Points)

	_, total, err := store.History(ctx, "u1", points.NewPage(1, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestLeaderboard_TopThreeAndRank(t *testing.T) {
	ctx := context.Background()
	store := openTempStore(t)

	_, _ = store.Append(ctx, earn("1", "alice", 300, baseTime))
	_, _ = store.Append(ctx, earn("2", "bob", 250, baseTime.Add(time.Minute)))
	_, _ = store.Append(ctx, earn("3", "carol", 250, baseTime.Add(2*time.Minute)))
	_, _ = store.Append(ctx, earn("4", "dana", 100, baseTime))

	top, err := store.Top(ctx, 3)
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "alice", top[0].UserID)
	assert.Equal(t, "carol", top[1].UserID)
	assert.Equal(t, "bob", top[2].UserID)
	assert.EqualValues(t, 3, top[2].Rank)
	assert.Equal(t, 3, top[2].Level)

	for i, want := range []string{"alice", "carol", "bob", "dana"} {
		rank, err := store.RankOf(ctx, want)
		require.NoError(t, err)
		assert.EqualValues(t, i+1, rank, want)
	}

	rank, err := store.RankOf(ctx, "newcomer")
	require.NoError(t, err)
	assert.EqualValues(t, 5, rank)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestAchievements_SeedUnlockAndAudit(t *testing.T) {
	ctx := context.Background()
	store := openTempStore(t)
	defs := achievement.DefaultDefinitions()

	require.NoError(t, store.SeedDefinitions(ctx, defs))
	require.NoError(t, store.SeedDefinitions(ctx, defs))

	loaded, err := store.LoadDefinitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, defs, loaded)

	u := achievement.Unlock{UserID: "u1", AchievementID: "ach-social-butterfly", UnlockedAt: baseTime}
	created, err := store.Unlock(ctx, u)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.Unlock(ctx, u)
	require.NoError(t, err)
	assert.False(t, created)

	unlocks, err := store.ListUnlocks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	assert.True(t, unlocks[0].UnlockedAt.Equal(baseTime))

	missing, err := store.MissingBonuses(ctx, defs)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, "u1", missing[0].UserID)

	_, err = store.Append(ctx, points.AppendParams{
		TransactionID: "bonus",
		UserID:        "u1",
		Points:        50,
		Kind:          points.KindEarned,
		Reason:        points.AchievementReason("Social Butterfly"),
		ReferenceID:   "ach-social-butterfly",
		At:            baseTime,
	})
	require.NoError(t, err)

	missing, err = store.MissingBonuses(ctx, defs)
	require.NoError(t, err)
	assert.Empty(t, missing)
}
