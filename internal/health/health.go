// Package health answers the sidecar's own liveness, readiness and startup
// probes when the application has no probe of its own to forward to.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"grimm.is/switchyard/internal/clock"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents a single health check.
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

// Report represents the overall health report.
type Report struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks"`
	Timestamp time.Time        `json:"timestamp"`
}

// CheckFunc is a function that performs a health check.
type CheckFunc func(ctx context.Context) Check

// Checker performs health checks.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	cache   *Report
	ttl     time.Duration
	started atomic.Bool
}

// NewChecker creates a checker with the host checks registered.
func NewChecker() *Checker {
	c := NewEmptyChecker()
	c.Register("conntrack", CheckConntrack)
	c.Register("memory", CheckMemory)
	return c
}

// NewEmptyChecker creates a checker with no checks.
func NewEmptyChecker() *Checker {
	return &Checker{
		checks: make(map[string]CheckFunc),
		ttl:    5 * time.Second,
	}
}

// SetTTL changes how long a report is cached. Zero disables caching.
func (c *Checker) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
	c.cache = nil
}

// Register adds a health check.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
	c.cache = nil
}

// MarkStarted flips the startup probe to passing. It is called once listener
// composition has finished.
func (c *Checker) MarkStarted() {
	c.started.Store(true)
}

// Started reports whether MarkStarted has been called.
func (c *Checker) Started() bool {
	return c.started.Load()
}

// Check runs all health checks and returns a report.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	if c.cache != nil && clock.Since(c.cache.Timestamp) < c.ttl {
		report := *c.cache
		c.mu.RUnlock()
		return report
	}
	checkFuncs := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checkFuncs[name] = fn
	}
	c.mu.RUnlock()

	checks := make(map[string]Check)
	overallStatus := StatusHealthy

	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, fn := range checkFuncs {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()
			check := fn(ctx)
			check.Name = name

			mu.Lock()
			checks[name] = check
			if check.Status == StatusUnhealthy {
				overallStatus = StatusUnhealthy
			} else if check.Status == StatusDegraded && overallStatus != StatusUnhealthy {
				overallStatus = StatusDegraded
			}
			mu.Unlock()
		}(name, fn)
	}

	wg.Wait()

	report := Report{
		Status:    overallStatus,
		Checks:    checks,
		Timestamp: clock.Now(),
	}

	c.mu.Lock()
	if c.ttl > 0 {
		c.cache = &report
	}
	c.mu.Unlock()

	return report
}

// Handler returns an HTTP handler serving the full JSON report.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		report := c.Check(ctx)

		w.Header().Set("Content-Type", "application/json")

		switch report.Status {
		case StatusHealthy, StatusDegraded:
			w.WriteHeader(http.StatusOK)
		case StatusUnhealthy:
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		json.NewEncoder(w).Encode(report)
	}
}

// LivenessHandler returns a simple liveness probe handler.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

// ReadinessHandler returns a readiness probe handler.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		report := c.Check(ctx)

		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("NOT READY"))
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
	}
}

// StartupHandler fails until MarkStarted has been called.
func (c *Checker) StartupHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !c.Started() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("STARTING"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("STARTED"))
	}
}

// ListenerCounts reports how many listeners are serving and how many failed.
type ListenerCounts func() (bound, failed int)

// CheckListeners builds a check over the composed listener set. No bound
// listener is unhealthy; any failed group is degraded.
func CheckListeners(counts ListenerCounts) CheckFunc {
	return func(ctx context.Context) Check {
		start := clock.Now()
		check := Check{LastChecked: start}

		bound, failed := counts()
		switch {
		case bound == 0:
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("no listeners bound (%d failed)", failed)
		case failed > 0:
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("%d listeners bound, %d failed", bound, failed)
		default:
			check.Status = StatusHealthy
			check.Message = fmt.Sprintf("%d listeners bound", bound)
		}

		check.Duration = clock.Since(start)
		return check
	}
}
