// Package messaging implements the in-process event bus of the points engine
// and the notification fan-out that rides on it.
package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/campushub/campus-hub/internal/domain/shared"
	"github.com/campushub/campus-hub/pkg/logger"
)

var (
	ErrBusClosed    = errors.New("event bus is closed")
	ErrHandlerPanic = errors.New("event handler panicked")
	ErrNilHandler   = errors.New("event handler is nil")
)

// BusConfig configures a Bus.
type BusConfig struct {
	// Workers is the number of delivery goroutines. Zero delivers
	// synchronously inside Publish, which tests rely on.
	Workers int

	// QueueSize bounds pending deliveries. When the queue is full the
	// delivery is dropped and counted instead of blocking the publisher.
	QueueSize int

	Logger *slog.Logger
}

// DefaultBusConfig is the asynchronous setup used by the engine.
func DefaultBusConfig() BusConfig {
	return BusConfig{Workers: 4, QueueSize: 1024}
}

// delivery is one (event, handler) pair waiting for a worker.
type delivery struct {
	event   shared.Event
	handler shared.EventHandler
}

// BusStats counts deliveries since the bus was created.
type BusStats struct {
	Published int64
	Delivered int64
	Failed    int64
	Dropped   int64
}

// Bus is the in-process shared.EventBus. Publishing never waits on a
// handler: deliveries go through a bounded queue drained by a fixed worker
// pool, so a slow notification transport cannot hold up a ledger write.
type Bus struct {
	logger *slog.Logger

	mu       sync.RWMutex
	byType   map[shared.EventType][]shared.EventHandler
	wildcard []shared.EventHandler
	closed   bool

	queue   chan delivery
	workers sync.WaitGroup

	published, delivered, failed, dropped atomic.Int64
}

var _ shared.EventBus = (*Bus)(nil)

// NewBus creates a bus and starts its workers.
func NewBus(cfg BusConfig) *Bus {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	b := &Bus{
		logger: cfg.Logger.With(logger.Component("event_bus")),
		byType: make(map[shared.EventType][]shared.EventHandler),
	}

	if cfg.Workers > 0 {
		b.queue = make(chan delivery, max(cfg.QueueSize, cfg.Workers))
		b.workers.Add(cfg.Workers)
		for range cfg.Workers {
			go b.work()
		}
	}
	return b
}

// Subscribe registers handler for one event type.
func (b *Bus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.add(func() { b.byType[eventType] = append(b.byType[eventType], handler) }, handler)
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(handler shared.EventHandler) error {
	return b.add(func() { b.wildcard = append(b.wildcard, handler) }, handler)
}

func (b *Bus) add(register func(), handler shared.EventHandler) error {
	if handler == nil {
		return ErrNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	register()
	return nil
}

// Publish hands event to its subscribers. Handler errors are logged and
// counted, never returned.
func (b *Bus) Publish(event shared.Event) error {
	if event == nil {
		return errors.New("event is nil")
	}

	// The read lock is held while enqueueing so Close cannot close the
	// queue under a sender.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	b.published.Add(1)

	for _, h := range b.byType[event.EventType()] {
		b.dispatch(delivery{event: event, handler: h})
	}
	for _, h := range b.wildcard {
		b.dispatch(delivery{event: event, handler: h})
	}
	return nil
}

func (b *Bus) dispatch(d delivery) {
	if b.queue == nil {
		b.run(d)
		return
	}
	select {
	case b.queue <- d:
	default:
		b.dropped.Add(1)
		b.logger.Warn("event queue full, delivery dropped",
			"event_type", d.event.EventType(),
			logger.UserID(d.event.AggregateID()),
		)
	}
}

func (b *Bus) work() {
	defer b.workers.Done()
	for d := range b.queue {
		b.run(d)
	}
}

// run executes one handler and turns a panic into a counted failure.
func (b *Bus) run(d delivery) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("event handler panic",
					"event_type", d.event.EventType(),
					"panic", r,
					"stack", string(debug.Stack()),
				)
				err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			}
		}()
		return d.handler(d.event)
	}()

	if err != nil {
		b.failed.Add(1)
		b.logger.Debug("event handler failed",
			"event_type", d.event.EventType(),
			logger.UserID(d.event.AggregateID()),
			logger.Err(err),
		)
		return
	}
	b.delivered.Add(1)
}

// Close rejects new events, then waits until queued deliveries are done.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.queue != nil {
		close(b.queue)
	}
	b.mu.Unlock()

	b.workers.Wait()
	s := b.Stats()
	b.logger.Info("event bus closed",
		"published", s.Published,
		"delivered", s.Delivered,
		"failed", s.Failed,
		"dropped", s.Dropped,
	)
	return nil
}

// Stats returns the delivery counters.
func (b *Bus) Stats() BusStats {
	return BusStats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Failed:    b.failed.Load(),
		Dropped:   b.dropped.Load(),
	}
}
