package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DeviceLimiter rate limits ingestion per device id.
type DeviceLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	idle     time.Duration
	stop     chan struct{}
	once     sync.Once
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewDeviceLimiter(perSecond float64, burst int) *DeviceLimiter {
	l := &DeviceLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		idle:     time.Hour,
		stop:     make(chan struct{}),
	}
	go l.cleanupLoop(10 * time.Minute)
	return l
}

func (l *DeviceLimiter) Allow(deviceID string) bool {
	return l.AllowN(deviceID, 1)
}

// AllowN reports whether n events from deviceID may be ingested now. A
// charge above the burst is capped at the burst, so a full bucket always
// admits one batch.
func (l *DeviceLimiter) AllowN(deviceID string, n int) bool {
	n = min(max(n, 1), l.burst)

	l.mu.Lock()
	entry, ok := l.limiters[deviceID]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[deviceID] = entry
	}
	now := time.Now()
	entry.lastSeen = now
	l.mu.Unlock()

	return entry.limiter.AllowN(now, n)
}

func (l *DeviceLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

func (l *DeviceLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-l.idle)
	for id, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, id)
		}
	}
}

func (l *DeviceLimiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}
