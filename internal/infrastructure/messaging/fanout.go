package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/campushub/campus-hub/internal/domain/notification"
	"github.com/campushub/campus-hub/internal/domain/points"
	"github.com/campushub/campus-hub/internal/domain/shared"
	"github.com/campushub/campus-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION FAN-OUT
// ══════════════════════════════════════════════════════════════════════════════

// DefaultPushTimeout bounds a single transport push.
const DefaultPushTimeout = 3 * time.Second

// BalanceReader reads a user's current balance.
type BalanceReader interface {
	Balance(ctx context.Context, userID string) (points.Balance, error)
}

// FanoutConfig configures a Fanout.
type FanoutConfig struct {
	// Transport delivers payloads to the connected client.
	Transport notification.Transport

	// Balances is used to attach the post-bonus balance to achievement
	// notifications. Optional; without it the balance fields stay zero.
	Balances BalanceReader

	// PushTimeout bounds each delivery. Zero means DefaultPushTimeout.
	PushTimeout time.Duration

	Logger *slog.Logger
}

// Fanout turns committed engine events into client notifications.
// Delivery is best effort: a failed push is logged and dropped.
type Fanout struct {
	transport notification.Transport
	balances  BalanceReader
	timeout   time.Duration
	logger    *slog.Logger
}

// NewFanout creates a Fanout.
func NewFanout(cfg FanoutConfig) *Fanout {
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = DefaultPushTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Fanout{
		transport: cfg.Transport,
		balances:  cfg.Balances,
		timeout:   cfg.PushTimeout,
		logger:    cfg.Logger.With(logger.Component("notification_fanout")),
	}
}

// Register subscribes the fan-out to the events it notifies about.
func (f *Fanout) Register(sub shared.EventSubscriber) error {
	for _, t := range []shared.EventType{
		shared.EventPointsAwarded,
		shared.EventPointsSpent,
		shared.EventAchievementUnlocked,
	} {
		if err := sub.Subscribe(t, f.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Handle is the shared.EventHandler of the fan-out.
func (f *Fanout) Handle(event shared.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	payload, ok := f.payloadFor(ctx, event)
	if !ok {
		return nil
	}
	return f.Notify(ctx, payload)
}

// Notify pushes one payload. The error is logged and returned for metrics;
// nothing retries it.
func (f *Fanout) Notify(ctx context.Context, payload notification.Payload) error {
	if f.transport == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.transport.Push(ctx, payload.UserID, payload); err != nil {
		f.logger.Warn("notification push failed",
			logger.UserID(payload.UserID),
			"type", payload.Type,
			logger.Err(err),
		)
		return fmt.Errorf("%w: %s to %s: %w", shared.ErrNotificationFailed, payload.Type, payload.UserID, err)
	}
	return nil
}

func (f *Fanout) payloadFor(ctx context.Context, event shared.Event) (notification.Payload, bool) {
	switch e := event.(type) {
	case *shared.PointsChangedEvent:
		return notification.FromPointsChanged(e), true

	case *shared.AchievementUnlockedEvent:
		var total, level int
		if f.balances != nil {
			b, err := f.balances.Balance(ctx, e.AggregateID())
			if err != nil {
				f.logger.Debug("balance lookup for notification failed",
					logger.UserID(e.AggregateID()),
					logger.Err(err),
				)
			} else {
				total, level = b.Points, b.Level().Int()
			}
		}
		return notification.FromAchievementUnlocked(e, total, level), true

	default:
		return notification.Payload{}, false
	}
}
