// Package retry runs an operation again with exponential backoff and jitter.
// The engine only uses it while connecting to its stores at startup; ledger
// writes and notification pushes are never retried.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// PermanentError stops the retry loop immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying, e.g. a malformed DSN.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Policy controls the backoff schedule.
type Policy struct {
	MaxAttempts  int           // including the first call
	InitialDelay time.Duration // delay before the second call
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // 0..1, fraction of the delay added or removed

	// OnRetry is called before sleeping.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy is three attempts starting at 100ms.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// StartupPolicy is used when dialing Postgres or Redis at boot, when the
// dependency may still be starting next to the engine.
func StartupPolicy(onRetry func(attempt int, err error, delay time.Duration)) Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
		OnRetry:      onRetry,
	}
}

// Do calls op until it succeeds, returns a permanent error, the context is
// done, or the attempts run out. The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := max(p.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		var perm *PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		delay := p.delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}
	return lastErr
}

// delay returns InitialDelay * Multiplier^(attempt-1), capped and jittered.
func (p Policy) delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// DoWithData is Do for operations that produce a value.
func DoWithData[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := p.Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	return result, err
}
