// Package circuitbreaker guards calls to a flaky dependency.
//
// The engine wraps the stats provider with it: after FailureThreshold
// consecutive failures the breaker opens and calls fail fast with
// ErrCircuitOpen until Cooldown has passed. One probe call is then let
// through; its outcome closes or re-opens the breaker.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without calling the guarded function.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config configures a CircuitBreaker. Zero values fall back to defaults.
type Config struct {
	Name             string
	FailureThreshold int           // default 5
	Cooldown         time.Duration // default 30s

	// OnStateChange is called with the lock held; keep it short.
	OnStateChange func(name string, from, to State)

	// IsFailure decides whether an error counts against the dependency.
	// Nil counts every error.
	IsFailure func(error) bool
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a closed breaker.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// StatsProviderBreaker returns the breaker used in front of the stats
// provider. Caller cancellation is not the provider's fault.
func StatsProviderBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(Config{
		Name:             "stats-provider",
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		OnStateChange:    onStateChange,
		IsFailure:        func(err error) bool { return !errors.Is(err, context.Canceled) },
	})
}

// Execute calls fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.acquire(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.Cooldown {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.probing = true
		return nil
	default:
		// Half-open: only the single probe is in flight.
		if cb.probing {
			return ErrCircuitOpen
		}
		cb.probing = true
		return nil
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := err != nil
	if failed && cb.cfg.IsFailure != nil {
		failed = cb.cfg.IsFailure(err)
	}

	if cb.state == StateHalfOpen {
		cb.probing = false
		if failed {
			cb.open()
		} else {
			cb.failures = 0
			cb.transition(StateClosed)
		}
		return
	}

	if !failed {
		cb.failures = 0
		return
	}
	cb.failures++
	if cb.failures >= cb.cfg.FailureThreshold {
		cb.open()
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.transition(StateOpen)
}

func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State returns the current position.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}
