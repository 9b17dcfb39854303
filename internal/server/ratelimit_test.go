package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeviceLimiter(t *testing.T) {
	l := NewDeviceLimiter(0.001, 3)
	defer l.Stop()

	assert.True(t, l.AllowN("a", 2))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
}

func TestDeviceLimiterCapsBatchChargeAtBurst(t *testing.T) {
	l := NewDeviceLimiter(0.001, 3)
	defer l.Stop()

	assert.True(t, l.AllowN("b", 50))
	assert.False(t, l.Allow("b"))
	assert.False(t, l.AllowN("b", 50))
}

func TestDeviceLimiterCleanup(t *testing.T) {
	l := NewDeviceLimiter(1, 1)
	defer l.Stop()

	l.Allow("stale")
	l.Allow("fresh")
	l.mu.Lock()
	l.limiters["stale"].lastSeen = time.Now().Add(-2 * time.Hour)
	l.mu.Unlock()

	l.cleanup()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.limiters, "stale")
	assert.Contains(t, l.limiters, "fresh")
}

func TestDeviceLimiterStopIdempotent(t *testing.T) {
	l := NewDeviceLimiter(1, 1)
	l.Stop()
	l.Stop()
}
