package handlers

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthChecker reports service health for /health and /ready.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc returns nil when the dependency is usable.
type HealthCheckFunc func(ctx context.Context) error

// Overall health states.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded" // an optional dependency is down
	StatusDown     = "down"     // a critical dependency is down
)

// HealthStatus is the body of /health.
type HealthStatus struct {
	Status  string                 `json:"status"`
	Healthy bool                   `json:"healthy"`
	Ready   bool                   `json:"ready"`
	Message string                 `json:"message,omitempty"`
	Checks  map[string]CheckResult `json:"checks,omitempty"`

	Uptime    string    `json:"uptime,omitempty"`
	Version   string    `json:"version,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckResult is the outcome of one probe.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

type probe struct {
	check    HealthCheckFunc
	critical bool
}

// CompositeHealthChecker runs its probes in parallel. A failing critical
// probe (storage) makes the service not ready; a failing optional probe
// (the Redis leaderboard cache) only degrades it, since the engine falls
// back to the store.
type CompositeHealthChecker struct {
	version string
	started time.Time
	timeout time.Duration

	mu     sync.RWMutex
	probes map[string]probe
}

// NewCompositeHealthChecker creates a checker with a 5s per-probe timeout.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		version: version,
		started: time.Now(),
		timeout: 5 * time.Second,
		probes:  make(map[string]probe),
	}
}

// AddCheck registers a critical probe.
func (c *CompositeHealthChecker) AddCheck(name string, check HealthCheckFunc) {
	c.add(name, probe{check: check, critical: true})
}

// AddOptionalCheck registers a probe whose failure only degrades health.
func (c *CompositeHealthChecker) AddOptionalCheck(name string, check HealthCheckFunc) {
	c.add(name, probe{check: check})
}

func (c *CompositeHealthChecker) add(name string, p probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = p
}

// Check implements HealthChecker.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	probes := make(map[string]probe, len(c.probes))
	for name, p := range c.probes {
		probes[name] = p
	}
	c.mu.RUnlock()

	var (
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(probes))
		g       errgroup.Group
	)
	for name, p := range probes {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			err := p.check(pctx)
			res := CheckResult{
				Healthy:  err == nil,
				Critical: p.critical,
				Duration: time.Since(start).Round(time.Millisecond).String(),
			}
			if err != nil {
				res.Error = err.Error()
			}

			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return c.summarize(results)
}

func (c *CompositeHealthChecker) summarize(results map[string]CheckResult) HealthStatus {
	status := HealthStatus{
		Status:    StatusOK,
		Healthy:   true,
		Ready:     true,
		Checks:    results,
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Version:   c.version,
		Timestamp: time.Now().UTC(),
	}

	var critical, optional []string
	for name, r := range results {
		switch {
		case r.Healthy:
		case r.Critical:
			critical = append(critical, name)
		default:
			optional = append(optional, name)
		}
	}
	slices.Sort(critical)
	slices.Sort(optional)

	switch {
	case len(critical) > 0:
		status.Status = StatusDown
		status.Healthy = false
		status.Ready = false
		status.Message = "unavailable: " + strings.Join(append(critical, optional...), ", ")
	case len(optional) > 0:
		status.Status = StatusDegraded
		status.Message = "degraded: " + strings.Join(optional, ", ")
	}
	return status
}
