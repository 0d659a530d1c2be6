package messaging

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campushub/campus-hub/internal/domain/notification"
	"github.com/campushub/campus-hub/internal/domain/points"
	"github.com/campushub/campus-hub/internal/domain/shared"
)

func pointsEvent(user string, total int) *shared.PointsChangedEvent {
	return &shared.PointsChangedEvent{
		BaseEvent:      shared.NewBaseEvent(shared.EventPointsAwarded, user, time.Now()),
		Kind:           "earned",
		Amount:         total,
		Reason:         "accepted_connection",
		PreviousPoints: 0,
		Points:         total,
		PreviousLevel:  1,
		Level:          points.CalculateLevel(total).Int(),
	}
}

func TestBus_SyncDelivery(t *testing.T) {
	bus := NewBus(BusConfig{})
	defer bus.Close()

	var typed, all int
	require.NoError(t, bus.Subscribe(shared.EventPointsAwarded, func(shared.Event) error { typed++; return nil }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { all++; return nil }))
	require.NoError(t, bus.Subscribe(shared.EventPointsSpent, func(shared.Event) error { t.Fatal("wrong type"); return nil }))

	require.NoError(t, bus.Publish(pointsEvent("u1", 15)))
	assert.Equal(t, 1, typed)
	assert.Equal(t, 1, all)
	assert.Equal(t, BusStats{Published: 1, Delivered: 2}, bus.Stats())
}

func TestBus_AsyncDoesNotBlockPublisher(t *testing.T) {
	bus := NewBus(DefaultBusConfig())

	started := make(chan struct{})
	release := make(chan struct{})
	var done atomic.Int32
	require.NoError(t, bus.Subscribe(shared.EventPointsAwarded, func(shared.Event) error {
		close(started)
		<-release
		done.Add(1)
		return nil
	}))

	start := time.Now()
	require.NoError(t, bus.Publish(pointsEvent("u1", 15)))
	assert.Less(t, time.Since(start), time.Second)

	<-started
	close(release)
	require.NoError(t, bus.Close())
	assert.Equal(t, int32(1), done.Load())
}

func TestBus_FullQueueDrops(t *testing.T) {
	bus := NewBus(BusConfig{Workers: 1, QueueSize: 1})

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	require.NoError(t, bus.Subscribe(shared.EventPointsAwarded, func(shared.Event) error {
		started <- struct{}{}
		<-release
		return nil
	}))

	// First delivery occupies the worker, second fills the queue.
	require.NoError(t, bus.Publish(pointsEvent("u1", 1)))
	<-started
	require.NoError(t, bus.Publish(pointsEvent("u1", 2)))
	require.NoError(t, bus.Publish(pointsEvent("u1", 3)))

	close(release)
	require.NoError(t, bus.Close())
	assert.Equal(t, BusStats{Published: 3, Delivered: 2, Dropped: 1}, bus.Stats())
}

func TestBus_PanicIsRecovered(t *testing.T) {
	bus := NewBus(BusConfig{})
	defer bus.Close()

	require.NoError(t, bus.Subscribe(shared.EventPointsAwarded, func(shared.Event) error { panic("boom") }))

	assert.NotPanics(t, func() { _ = bus.Publish(pointsEvent("u1", 15)) })
	assert.Equal(t, int64(1), bus.Stats().Failed)
}

func TestBus_Closed(t *testing.T) {
	bus := NewBus(DefaultBusConfig())
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(pointsEvent("u1", 1)), ErrBusClosed)
	assert.ErrorIs(t, bus.Subscribe(shared.EventPointsAwarded, func(shared.Event) error { return nil }), ErrBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(nil), ErrNilHandler)
}

// ──────────────────────────────────────────────────────────────────────────────
// Fan-out
// ──────────────────────────────────────────────────────────────────────────────

type recordingTransport struct {
	mu       sync.Mutex
	payloads []notification.Payload
	err      error
}

func (r *recordingTransport) Push(_ context.Context, _ string, p notification.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, p)
	return r.err
}

type fixedBalances map[string]points.Balance

func (f fixedBalances) Balance(_ context.Context, userID string) (points.Balance, error) {
	return f[userID], nil
}

func TestFanout_PointsAndAchievement(t *testing.T) {
	transport := &recordingTransport{}
	bus := NewBus(BusConfig{})
	defer bus.Close()

	fanout := NewFanout(FanoutConfig{
		Transport: transport,
		Balances:  fixedBalances{"u1": {UserID: "u1", Points: 145}},
	})
	require.NoError(t, fanout.Register(bus))

	require.NoError(t, bus.Publish(pointsEvent("u1", 95)))
	require.NoError(t, bus.Publish(&shared.AchievementUnlockedEvent{
		BaseEvent:     shared.NewBaseEvent(shared.EventAchievementUnlocked, "u1", time.Now()),
		AchievementID: "ach-social-butterfly",
		Name:          "Social Butterfly",
		Category:      "social",
		Bonus:         50,
		BonusAwarded:  true,
	}))

	require.Len(t, transport.payloads, 2)
	assert.Equal(t, notification.TypePointsUpdated, transport.payloads[0].Type)
	assert.Equal(t, 95, transport.payloads[0].Points)

	ach := transport.payloads[1]
	assert.Equal(t, notification.TypeAchievementUnlocked, ach.Type)
	assert.Equal(t, 145, ach.Points)
	assert.Equal(t, 2, ach.Level)
	require.NotNil(t, ach.Achievement)
	assert.Equal(t, "ach-social-butterfly", ach.Achievement.ID)
}

func TestFanout_TransportErrorIsNotRetried(t *testing.T) {
	transport := &recordingTransport{err: errors.New("socket closed")}
	fanout := NewFanout(FanoutConfig{Transport: transport})

	err := fanout.Handle(pointsEvent("u1", 15))
	assert.Error(t, err)
	assert.Len(t, transport.payloads, 1)
}

func TestFanout_PushTimeout(t *testing.T) {
	var deadline time.Time
	fanout := NewFanout(FanoutConfig{
		PushTimeout: 50 * time.Millisecond,
		Transport: notification.TransportFunc(func(ctx context.Context, _ string, _ notification.Payload) error {
			deadline, _ = ctx.Deadline()
			<-ctx.Done()
			return ctx.Err()
		}),
	})

	start := time.Now()
	err := fanout.Handle(pointsEvent("u1", 15))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, deadline.IsZero())
}
