package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"grimm.is/switchyard/internal/clock"
)

func TestLimiter_Allow_Basic(t *testing.T) {
	l := New(3, time.Minute)

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("inbound")
		assert.True(t, ok, "event %d should be allowed", i+1)
	}
	ok, _ := l.Allow("inbound")
	assert.False(t, ok, "4th event should be denied")
}

func TestLimiter_Allow_DifferentKeys(t *testing.T) {
	l := New(2, time.Minute)

	for i := 0; i < 2; i++ {
		ok, _ := l.Allow("inbound")
		assert.True(t, ok)
		ok, _ = l.Allow("dns")
		assert.True(t, ok)
	}
	ok, _ := l.Allow("inbound")
	assert.False(t, ok)
	ok, _ = l.Allow("dns")
	assert.False(t, ok)
	assert.Equal(t, 2, l.Len())
}

func TestLimiter_RefillReportsSuppressed(t *testing.T) {
	mock := clock.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	defer clock.Set(mock)()

	l := New(1, time.Second)
	ok, suppressed := l.Allow("k")
	assert.True(t, ok)
	assert.Zero(t, suppressed)

	for i := 0; i < 4; i++ {
		ok, _ = l.Allow("k")
		assert.False(t, ok)
	}

	mock.Advance(time.Second)
	ok, suppressed = l.Allow("k")
	assert.True(t, ok)
	assert.Equal(t, 4, suppressed)

	mock.Advance(time.Second)
	_, suppressed = l.Allow("k")
	assert.Zero(t, suppressed)
}

func TestLimiter_ResetAndCleanup(t *testing.T) {
	mock := clock.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	defer clock.Set(mock)()

	l := New(1, time.Second)
	l.Allow("a")
	l.Allow("b")

	l.Reset("a")
	ok, _ := l.Allow("a")
	assert.True(t, ok, "reset key starts fresh")

	mock.Advance(time.Minute)
	l.CleanupExpired(30 * time.Second)
	assert.Equal(t, 0, l.Len())
}
