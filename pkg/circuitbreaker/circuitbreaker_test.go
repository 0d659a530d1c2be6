package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("provider down")

func fail(context.Context) error { return errDown }
func ok(context.Context) error   { return nil }

// clock lets tests move time without sleeping.
type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg Config) (*CircuitBreaker, *clock) {
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := New(cfg)
	cb.now = c.now
	return cb, c
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	var transitions []State
	cb, _ := newTestBreaker(Config{
		Name:             "test",
		FailureThreshold: 2,
		Cooldown:         time.Hour,
		OnStateChange:    func(_ string, _, to State) { transitions = append(transitions, to) },
	})
	ctx := context.Background()

	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
	assert.Equal(t, []State{StateOpen}, transitions)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(Config{FailureThreshold: 2})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, ok))
	_ = cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ProbeCloses(t *testing.T) {
	cb, clk := newTestBreaker(Config{FailureThreshold: 1, Cooldown: time.Minute})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.State())

	clk.advance(30 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)

	clk.advance(31 * time.Second)
	assert.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb, clk := newTestBreaker(Config{FailureThreshold: 1, Cooldown: time.Minute})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clk.advance(time.Minute)
	assert.ErrorIs(t, cb.Execute(ctx, fail), errDown)
	assert.Equal(t, StateOpen, cb.State())

	// The cooldown restarts from the failed probe.
	clk.advance(59 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)
}

func TestCircuitBreaker_SingleProbeInFlight(t *testing.T) {
	cb, clk := newTestBreaker(Config{FailureThreshold: 1, Cooldown: time.Minute})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	clk.advance(time.Minute)

	err := cb.Execute(ctx, func(ctx context.Context) error {
		assert.Equal(t, StateHalfOpen, cb.State())
		assert.ErrorIs(t, cb.Execute(ctx, ok), ErrCircuitOpen)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestStatsProviderBreaker_IgnoresCancellation(t *testing.T) {
	cb := StatsProviderBreaker(nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_ = cb.Execute(ctx, func(context.Context) error { return context.Canceled })
	}
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, "stats-provider", cb.Name())
	assert.Equal(t, "closed", cb.State().String())
}
