package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushub/campus-hub/internal/application/saga"
	"github.com/campushub/campus-hub/internal/domain/achievement"
	"github.com/campushub/campus-hub/internal/domain/leaderboard"
	"github.com/campushub/campus-hub/internal/domain/points"
	"github.com/campushub/campus-hub/internal/domain/shared"
	"github.com/campushub/campus-hub/internal/infrastructure/catalog"
	"github.com/campushub/campus-hub/internal/infrastructure/persistence/memory"
)

var baseTime = time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fakeStats struct {
	mu    sync.Mutex
	stats map[string]achievement.StatsSnapshot
	err   error
	block bool
	calls int
}

func (f *fakeStats) GetStats(ctx context.Context, userID string) (achievement.StatsSnapshot, error) {
	f.mu.Lock()
	f.calls++
	block, err, s := f.block, f.err, f.stats[userID]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return achievement.StatsSnapshot{}, ctx.Err()
	}
	if err != nil {
		return achievement.StatsSnapshot{}, err
	}
	return s, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(event shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) ofType(t shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []shared.Event
	for _, e := range p.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

// bonusFailingLedger rejects achievement bonus appends.
type bonusFailingLedger struct {
	*memory.Store
}

func (l bonusFailingLedger) Append(ctx context.Context, p points.AppendParams) (*points.AppendResult, error) {
	if strings.HasPrefix(p.Reason, points.ReasonAchievementPrefix) {
		return nil, errors.New("connection reset")
	}
	return l.Store.Append(ctx, p)
}

// mapCache is a versioned leaderboard.Cache kept in a map.
type mapCache struct {
	mu      sync.Mutex
	version int64
	pages   map[[2]int64][]leaderboard.Entry
}

func newMapCache() *mapCache {
	return &mapCache{pages: make(map[[2]int64][]leaderboard.Entry)}
}

func (c *mapCache) Version(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version, nil
}

func (c *mapCache) GetTop(_ context.Context, version int64, limit int) ([]leaderboard.Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.pages[[2]int64{version, int64(limit)}]
	return e, ok, nil
}

func (c *mapCache) SetTop(_ context.Context, version int64, limit int, entries []leaderboard.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[[2]int64{version, int64(limit)}] = entries
	return nil
}

func (c *mapCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
	return nil
}

type fakeAuditor []points.Divergence

func (a fakeAuditor) Divergences(context.Context) ([]points.Divergence, error) {
	return a, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HARNESS
// ══════════════════════════════════════════════════════════════════════════════

type harness struct {
	engine *Engine
	store  *memory.Store
	stats  *fakeStats
	events *recordingPublisher
	clock  *fakeClock
}

func newHarness(t *testing.T, mutate func(*Dependencies, *Options)) *harness {
	t.Helper()

	h := &harness{
		store:  memory.NewStore(achievement.DefaultDefinitions()),
		stats:  &fakeStats{stats: map[string]achievement.StatsSnapshot{}},
		events: &recordingPublisher{},
		clock:  &fakeClock{t: baseTime},
	}

	deps := Dependencies{
		Ledger:       h.store,
		Leaderboard:  h.store,
		Catalog:      h.store,
		Unlocks:      h.store,
		Auditor:      h.store,
		BonusAuditor: h.store,
		Stats:        h.stats,
		Events:       h.events,
		Clock:        h.clock.Now,
	}
	opts := DefaultOptions()
	if mutate != nil {
		mutate(&deps, &opts)
	}

	e, err := New(deps, opts)
	require.NoError(t, err)
	h.engine = e
	return h
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestNew_RequiresStores(t *testing.T) {
	_, err := New(Dependencies{}, DefaultOptions())
	assert.Error(t, err)
}

func TestEngine_AcceptedConnection(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.engine.AwardPoints(ctx, "bob", points.DefaultAward(points.ReasonAcceptedConnection), points.ReasonAcceptedConnection, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, 15, res.Points)
	assert.Equal(t, 1, res.Level)
	assert.False(t, res.LeveledUp)

	up, err := h.engine.GetUserPoints(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 15, up.Points)
	assert.Equal(t, 1, up.Level)
	assert.Equal(t, 85, up.PointsToNextLevel)

	hist, err := h.engine.GetPointsHistory(ctx, "bob", 1, 10)
	require.NoError(t, err)
	require.Len(t, hist.Transactions, 1)
	tx := hist.Transactions[0]
	assert.Equal(t, points.KindEarned, tx.Kind)
	assert.Equal(t, "accepted_connection", tx.Reason)
	assert.Equal(t, "conn-1", tx.ReferenceID)
	assert.Equal(t, 1, hist.Pagination.Total)

	assert.Len(t, h.events.ofType(shared.EventPointsAwarded), 1)
}

func TestEngine_UnknownUserHasLevelOne(t *testing.T) {
	h := newHarness(t, nil)

	up, err := h.engine.GetUserPoints(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, up.Points)
	assert.Equal(t, 1, up.Level)
	assert.Nil(t, up.UpdatedAt)
}

func TestEngine_RejectsBeforeWriting(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.AwardPoints(ctx, "bob", 0, "x", "")
	assert.True(t, errors.Is(err, shared.ErrInvalidAmount))

	_, err = h.engine.AwardPoints(ctx, "bob", -5, "x", "")
	assert.True(t, errors.Is(err, shared.ErrInvalidAmount))

	_, err = h.engine.AwardPoints(ctx, "", 10, "x", "")
	assert.True(t, errors.Is(err, shared.ErrUnknownUser))

	hist, err := h.engine.GetPointsHistory(ctx, "bob", 1, 10)
	require.NoError(t, err)
	assert.Empty(t, hist.Transactions)
	assert.Empty(t, h.events.ofType(shared.EventPointsAwarded))
}

func TestEngine_DirectoryRejectsUnknownUser(t *testing.T) {
	h := newHarness(t, func(d *Dependencies, _ *Options) {
		d.Directory = memory.NewDirectory("alice")
	})
	ctx := context.Background()

	_, err := h.engine.AwardPoints(ctx, "mallory", 10, "x", "")
	assert.True(t, errors.Is(err, shared.ErrUnknownUser))

	_, err = h.engine.AwardPoints(ctx, "alice", 10, "x", "")
	assert.NoError(t, err)
}

func TestEngine_SpendNeverGoesNegative(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.AwardPoints(ctx, "bob", 30, "x", "")
	require.NoError(t, err)

	_, err = h.engine.SpendPoints(ctx, "bob", 50, "shop", "item-1")
	assert.True(t, errors.Is(err, shared.ErrInsufficientPoints))

	res, err := h.engine.SpendPoints(ctx, "bob", 20, "shop", "item-2")
	require.NoError(t, err)
	assert.Equal(t, 10, res.Points)
	assert.Len(t, h.events.ofType(shared.EventPointsSpent), 1)

	report, err := h.engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.False(t, report.HasIssues())
}

func TestEngine_AchievementWithBonus(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.AwardPoints(ctx, "alice", 95, "seed", "")
	require.NoError(t, err)
	h.stats.stats["alice"] = achievement.StatsSnapshot{ConnectionsCount: 10}

	res, err := h.engine.EvaluateAchievements(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, res.Unlocked, 1)
	assert.Equal(t, "ach-social-butterfly", res.Unlocked[0].ID)
	assert.True(t, res.Unlocked[0].BonusAwarded)
	assert.Equal(t, 50, res.TotalBonus)

	up, err := h.engine.GetUserPoints(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 145, up.Points)
	assert.Equal(t, 2, up.Level)

	hist, err := h.engine.GetPointsHistory(ctx, "alice", 1, 10)
	require.NoError(t, err)
	require.Len(t, hist.Transactions, 2)
	assert.Equal(t, "achievement_unlocked_Social Butterfly", hist.Transactions[0].Reason)
	assert.Equal(t, "ach-social-butterfly", hist.Transactions[0].ReferenceID)

	assert.Len(t, h.events.ofType(shared.EventAchievementUnlocked), 1)

	// A second run with the same stats changes nothing.
	res, err = h.engine.EvaluateAchievements(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, res.Unlocked)

	up, err = h.engine.GetUserPoints(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 145, up.Points)

	unlocked, err := h.engine.ListUnlockedAchievements(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, unlocked, 1)

	available, err := h.engine.ListAvailableAchievements(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, available, 3)
	for _, def := range available {
		assert.NotEqual(t, "ach-social-butterfly", def.ID)
	}
}

func TestEngine_ConcurrentEvaluationsAwardOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.stats.stats["alice"] = achievement.StatsSnapshot{ConnectionsCount: 12, EventsAttended: 25}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.EvaluateAchievements(ctx, "alice")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	up, err := h.engine.GetUserPoints(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 150, up.Points)

	unlocked, err := h.engine.ListUnlockedAchievements(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, unlocked, 2)
}

func TestEngine_StatsUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.stats.err = errors.New("stats service down")

	res, err := h.engine.EvaluateAchievements(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, res.StatsUnavailable)
	assert.Empty(t, res.Unlocked)

	unlocked, err := h.engine.ListUnlockedAchievements(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, unlocked)
}

func TestEngine_StatsTimeout(t *testing.T) {
	h := newHarness(t, func(_ *Dependencies, o *Options) {
		o.StatsTimeout = 20 * time.Millisecond
	})
	h.stats.block = true

	start := time.Now()
	res, err := h.engine.EvaluateAchievements(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, res.StatsUnavailable)
	assert.Less(t, time.Since(start), time.Second)
}

func TestEngine_BonusFailureLeavesReconciliationGap(t *testing.T) {
	h := newHarness(t, func(d *Dependencies, _ *Options) {
		store := d.Ledger.(*memory.Store)
		d.Ledger = bonusFailingLedger{store}
	})
	ctx := context.Background()
	h.stats.stats["alice"] = achievement.StatsSnapshot{ConnectionsCount: 10}

	res, err := h.engine.EvaluateAchievements(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, res.Unlocked, 1)
	assert.False(t, res.Unlocked[0].BonusAwarded)
	assert.Zero(t, res.TotalBonus)

	// The unlock stays and is not retried.
	res, err = h.engine.EvaluateAchievements(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, res.Unlocked)

	up, err := h.engine.GetUserPoints(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, up.Points)

	report, err := h.engine.Reconcile(ctx)
	require.NoError(t, err)
	assert.True(t, report.HasIssues())
	require.Len(t, report.MissingBonuses, 1)
	assert.Equal(t, "alice", report.MissingBonuses[0].UserID)
	assert.Equal(t, 50, report.MissingBonuses[0].Bonus)
}

func TestEngine_AchievementsDisabled(t *testing.T) {
	h := newHarness(t, func(_ *Dependencies, o *Options) {
		o.EnableAchievements = false
	})
	h.stats.stats["alice"] = achievement.StatsSnapshot{ConnectionsCount: 10}

	res, err := h.engine.EvaluateAchievements(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, res.Unlocked)
	assert.Zero(t, h.stats.calls)
}

func TestEngine_AchievementsGatedPerUser(t *testing.T) {
	h := newHarness(t, func(_ *Dependencies, o *Options) {
		o.AchievementsFor = func(userID string) bool { return userID == "alice" }
	})
	h.stats.stats["alice"] = achievement.StatsSnapshot{ConnectionsCount: 10}
	h.stats.stats["bob"] = achievement.StatsSnapshot{ConnectionsCount: 10}
	ctx := context.Background()

	res, err := h.engine.EvaluateAchievements(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, res.Unlocked)

	res, err = h.engine.EvaluateAchievements(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, res.Unlocked, 1)
}

func TestEngine_LeaderboardTies(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	award := func(user string, amount int, at time.Time) {
		h.clock.Set(at)
		_, err := h.engine.AwardPoints(ctx, user, amount, "seed", "")
		require.NoError(t, err)
	}
	award("alice", 100, baseTime)
	award("carol", 50, baseTime.Add(time.Minute))
	award("dave", 100, baseTime.Add(2*time.Minute))
	award("bob", 100, baseTime.Add(2*time.Minute))

	res, err := h.engine.GetLeaderboard(ctx, 3)
	require.NoError(t, err)
	require.Len(t, res.Entries, 3)
	assert.Equal(t, "bob", res.Entries[0].UserID)
	assert.Equal(t, "dave", res.Entries[1].UserID)
	assert.Equal(t, "alice", res.Entries[2].UserID)
	for i, e := range res.Entries {
		assert.Equal(t, leaderboard.Rank(i+1), e.Rank)
		assert.Equal(t, 2, e.Level)
	}

	rank, err := h.engine.GetRank(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, leaderboard.Rank(4), rank.Rank)
	assert.Equal(t, 4, rank.TotalUsers)

	rank, err = h.engine.GetRank(ctx, "zed")
	require.NoError(t, err)
	assert.Equal(t, leaderboard.Rank(5), rank.Rank)
	assert.Equal(t, 0, rank.Points)
}

func TestEngine_RankMonotonicity(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for i, user := range []string{"a", "b", "c", "d"} {
		h.clock.Set(baseTime.Add(time.Duration(i) * time.Second))
		_, err := h.engine.AwardPoints(ctx, user, 10*(i+1), "seed", "")
		require.NoError(t, err)
	}

	before, err := h.engine.GetRank(ctx, "a")
	require.NoError(t, err)

	h.clock.Set(baseTime.Add(time.Minute))
	_, err = h.engine.AwardPoints(ctx, "a", 25, "seed", "")
	require.NoError(t, err)

	after, err := h.engine.GetRank(ctx, "a")
	require.NoError(t, err)
	assert.LessOrEqual(t, after.Rank, before.Rank)
}

func TestEngine_LeaderboardCacheIsReadAfterWrite(t *testing.T) {
	cache := newMapCache()
	h := newHarness(t, func(d *Dependencies, _ *Options) {
		d.Cache = cache
	})
	ctx := context.Background()

	_, err := h.engine.AwardPoints(ctx, "alice", 40, "seed", "")
	require.NoError(t, err)

	first, err := h.engine.GetLeaderboard(ctx, 10)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := h.engine.GetLeaderboard(ctx, 10)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Entries, second.Entries)

	h.clock.Set(baseTime.Add(time.Second))
	_, err = h.engine.AwardPoints(ctx, "bob", 60, "seed", "")
	require.NoError(t, err)

	third, err := h.engine.GetLeaderboard(ctx, 10)
	require.NoError(t, err)
	assert.False(t, third.FromCache)
	require.Len(t, third.Entries, 2)
	assert.Equal(t, "bob", third.Entries[0].UserID)
}

func TestEngine_ReconcileReportsDivergence(t *testing.T) {
	h := newHarness(t, func(d *Dependencies, _ *Options) {
		d.Auditor = fakeAuditor{{UserID: "eve", AggregatePoints: 120, LedgerPoints: 100}}
	})

	report, err := h.engine.Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, report.HasIssues())
	require.Len(t, report.Divergences, 1)
	assert.Equal(t, 20, report.Divergences[0].Drift())
	assert.Empty(t, report.MissingBonuses)
}

func TestEngine_ListCatalog(t *testing.T) {
	h := newHarness(t, nil)

	defs, err := h.engine.ListCatalog(context.Background())
	require.NoError(t, err)
	assert.Len(t, defs, 4)
}

// swappableCatalog stands in for a SQL catalog reseeded by another process.
type swappableCatalog struct {
	mu   sync.Mutex
	defs []achievement.Definition
	err  error
}

func (c *swappableCatalog) LoadDefinitions(context.Context) ([]achievement.Definition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.defs, c.err
}

func (c *swappableCatalog) set(defs []achievement.Definition, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defs, c.err = defs, err
}

func TestEngine_ReloadCatalogPicksUpReseed(t *testing.T) {
	src := &swappableCatalog{defs: achievement.DefaultDefinitions()}
	cached := catalog.NewCached(src, achievement.DefaultRegistry(), time.Hour, nil)
	h := newHarness(t, func(d *Dependencies, _ *Options) { d.Catalog = cached })
	ctx := context.Background()

	defs, err := h.engine.ListCatalog(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, 4)

	src.set(achievement.DefaultDefinitions()[:2], nil)
	defs, err = h.engine.ListCatalog(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, 4, "served from cache until reloaded")

	n, err := h.engine.ReloadCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	defs, err = h.engine.ListCatalog(ctx)
	require.NoError(t, err)
	assert.Len(t, defs, 2)
}

func TestEngine_ReloadCatalogWithoutCache(t *testing.T) {
	h := newHarness(t, nil)

	n, err := h.engine.ReloadCatalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestEngine_CatalogFailureNamesStep(t *testing.T) {
	src := &swappableCatalog{err: errors.New("catalog table missing")}
	h := newHarness(t, func(d *Dependencies, _ *Options) { d.Catalog = src })

	_, err := h.engine.EvaluateAchievements(context.Background(), "alice")
	require.Error(t, err)

	step, ok := saga.FailedStep(err)
	require.True(t, ok)
	assert.Equal(t, saga.StepLoadCatalog, step)

	_, ok = saga.FailedStep(errors.New("unrelated"))
	assert.False(t, ok)
}
