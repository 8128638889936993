package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// keyLimiter tracks the limiter and last-seen time of one key.
type keyLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// memoryLimiter keeps one token bucket per key. Buckets refill at
// Requests/Window and hold at most Requests tokens.
type memoryLimiter struct {
	mu       sync.Mutex
	limiters map[string]*keyLimiter
	config   Config
	rate     rate.Limit
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewMemoryLimiter creates an in-memory rate limiter. Keys idle for two
// windows are evicted in the background until Stop is called.
func NewMemoryLimiter(cfg Config) Limiter {
	l := newMemoryLimiter(cfg, time.Now)
	if cfg.Enabled && cfg.Window > 0 {
		go l.cleanup(cfg.Window * 2)
	}
	return l
}

func newMemoryLimiter(cfg Config, now func() time.Time) *memoryLimiter {
	l := &memoryLimiter{
		limiters: make(map[string]*keyLimiter),
		config:   cfg,
		now:      now,
		stopCh:   make(chan struct{}),
	}
	if cfg.Window > 0 {
		l.rate = rate.Limit(float64(cfg.Requests) / cfg.Window.Seconds())
	}
	return l
}

// Allow checks if a request from the given key should be allowed.
func (l *memoryLimiter) Allow(key string) bool {
	if !l.config.Enabled {
		return true
	}

	l.mu.Lock()
	now := l.now()
	entry, ok := l.limiters[key]
	if !ok {
		entry = &keyLimiter{limiter: rate.NewLimiter(l.rate, l.config.Requests)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	l.mu.Unlock()

	return entry.limiter.AllowN(now, 1)
}

// Reset clears the rate limit state for the given key.
func (l *memoryLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, key)
}

func (l *memoryLimiter) cleanup(staleAfter time.Duration) {
	ticker := time.NewTicker(staleAfter)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanupStale(staleAfter)
		case <-l.stopCh:
			return
		}
	}
}

// cleanupStale removes keys not seen within staleAfter.
func (l *memoryLimiter) cleanupStale(staleAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-staleAfter)
	for key, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (l *memoryLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Stoppable extends Limiter with a Stop method for cleanup.
type Stoppable interface {
	Limiter
	Stop()
}

var _ Stoppable = (*memoryLimiter)(nil)
