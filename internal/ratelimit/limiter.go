// Package ratelimit provides fixed-window limiters keyed by string. The
// dispatchers use it to keep per-listener error logging bounded when a
// module fails for every connection.
package ratelimit

import (
	"sync"
	"time"

	"grimm.is/switchyard/internal/clock"
)

// Limiter manages fixed-window rate limiting for multiple keys.
type Limiter struct {
	limit    int
	interval time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
}

// bucket implements a fixed-window token bucket
type bucket struct {
	tokens     int
	lastFill   time.Time
	suppressed int
}

// New creates a limiter allowing limit events per interval for each key.
func New(limit int, interval time.Duration) *Limiter {
	return &Limiter{
		limit:    limit,
		interval: interval,
		buckets:  make(map[string]*bucket),
	}
}

// Allow reports whether an event for key is allowed. When allowed, it also
// returns how many events for key were refused since the last allowed one.
func (l *Limiter) Allow(key string) (ok bool, suppressed int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := clock.Now()
	b, exists := l.buckets[key]
	if !exists {
		b = &bucket{tokens: l.limit, lastFill: now}
		l.buckets[key] = b
	}

	// Reset tokens after interval
	if now.Sub(b.lastFill) >= l.interval {
		b.tokens = l.limit
		b.lastFill = now
	}

	if b.tokens <= 0 {
		b.suppressed++
		return false, 0
	}
	b.tokens--
	suppressed = b.suppressed
	b.suppressed = 0
	return true, suppressed
}

// Reset clears the state for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// CleanupExpired removes buckets that have not been refilled within maxAge.
func (l *Limiter) CleanupExpired(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := clock.Now()
	for key, b := range l.buckets {
		if now.Sub(b.lastFill) > maxAge {
			delete(l.buckets, key)
		}
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
