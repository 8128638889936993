package ratelimit

import (
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stopLimiter(t *testing.T, l Limiter) {
	t.Helper()
	s, ok := l.(Stoppable)
	require.True(t, ok)
	t.Cleanup(s.Stop)
}

func TestMemoryLimiter_Quota(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		calls []string
		want  []bool
	}{
		{
			name:  "exhausts after requests",
			cfg:   Config{Enabled: true, Requests: 3, Window: time.Minute},
			calls: []string{"a", "a", "a", "a", "a"},
			want:  []bool{true, true, true, false, false},
		},
		{
			name:  "keys are independent",
			cfg:   Config{Enabled: true, Requests: 2, Window: time.Minute},
			calls: []string{"a", "a", "a", "b", "b", "b"},
			want:  []bool{true, true, false, true, true, false},
		},
		{
			name:  "disabled allows everything",
			cfg:   Config{Requests: 1, Window: time.Minute},
			calls: []string{"a", "a", "a"},
			want:  []bool{true, true, true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewMemoryLimiter(tt.cfg)
			stopLimiter(t, l)
			got := make([]bool, len(tt.calls))
			for i, key := range tt.calls {
				got[i] = l.Allow(key)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMemoryLimiter_Reset(t *testing.T) {
	l := NewMemoryLimiter(Config{Enabled: true, Requests: 2, Window: time.Minute})
	stopLimiter(t, l)

	l.Allow("sub")
	l.Allow("sub")
	require.False(t, l.Allow("sub"))

	l.Reset("sub")
	assert.True(t, l.Allow("sub"))
	assert.True(t, l.Allow("sub"))
	assert.False(t, l.Allow("sub"))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func TestMemoryLimiter_WindowExpiry(t *testing.T) {
	clock := newFakeClock()
	limiter := newMemoryLimiter(Config{Enabled: true, Requests: 2, Window: time.Second}, clock.Now)

	key := "test-key"
	assert.True(t, limiter.Allow(key))
	assert.True(t, limiter.Allow(key))
	assert.False(t, limiter.Allow(key))

	clock.Advance(time.Second)
	assert.True(t, limiter.Allow(key), "Should be allowed after window expiry")
	assert.True(t, limiter.Allow(key))
	assert.False(t, limiter.Allow(key))
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	clock := newFakeClock()
	limiter := newMemoryLimiter(Config{Enabled: true, Requests: 100, Window: time.Minute}, clock.Now)

	var wg sync.WaitGroup
	allowed := make(chan bool, 200)

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- limiter.Allow("concurrent-key")
		}()
	}

	wg.Wait()
	close(allowed)

	count := 0
	for a := range allowed {
		if a {
			count++
		}
	}
	assert.Equal(t, 100, count, "Exactly 100 requests should be allowed")
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.Enabled)
	assert.Equal(t, 100, cfg.Requests)
	assert.Equal(t, time.Minute, cfg.Window)
	assert.False(t, cfg.TrustProxy)
}

func TestMemoryLimiter_GradualRefill(t *testing.T) {
	clock := newFakeClock()
	limiter := newMemoryLimiter(Config{Enabled: true, Requests: 10, Window: 100 * time.Millisecond}, clock.Now)

	key := "gradual-refill-key"
	for i := 0; i < 10; i++ {
		assert.True(t, limiter.Allow(key), "Request %d should be allowed", i+1)
	}
	assert.False(t, limiter.Allow(key), "Request 11 should be denied")

	// Half a window refills half the bucket.
	clock.Advance(50 * time.Millisecond)

	allowedCount := 0
	for i := 0; i < 10; i++ {
		if limiter.Allow(key) {
			allowedCount++
		}
	}
	assert.Equal(t, 5, allowedCount)
}

func TestMemoryLimiter_BurstHandling(t *testing.T) {
	clock := newFakeClock()
	limiter := newMemoryLimiter(Config{Enabled: true, Requests: 5, Window: time.Second}, clock.Now)

	key := "burst-key"
	for i := 0; i < 5; i++ {
		assert.True(t, limiter.Allow(key), "Burst request %d should be allowed", i+1)
	}
	assert.False(t, limiter.Allow(key), "Request after burst should be denied")

	clock.Advance(200 * time.Millisecond)
	assert.True(t, limiter.Allow(key), "Should allow 1 request after partial refill")
	assert.False(t, limiter.Allow(key), "Should deny subsequent request")
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trustProxy bool
		expected   string
	}{
		{
			name:       "RemoteAddr only",
			remoteAddr: "192.168.1.1:12345",
			expected:   "192.168.1.1",
		},
		{
			name:       "RemoteAddr without port",
			remoteAddr: "192.168.1.1",
			expected:   "192.168.1.1",
		},
		{
			name:       "forwarding headers ignored by default",
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.195", "X-Real-IP": "70.41.3.18"},
			expected:   "10.0.0.1",
		},
		{
			name:       "X-Forwarded-For first hop",
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.195, 70.41.3.18, 150.172.238.178"},
			trustProxy: true,
			expected:   "203.0.113.195",
		},
		{
			name:       "X-Real-IP",
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Real-IP": " 203.0.113.7 "},
			trustProxy: true,
			expected:   "203.0.113.7",
		},
		{
			name:       "X-Forwarded-For takes precedence over X-Real-IP",
			remoteAddr: "10.0.0.1:12345",
			headers: map[string]string{
				"X-Forwarded-For": "203.0.113.195",
				"X-Real-IP":       "70.41.3.18",
			},
			trustProxy: true,
			expected:   "203.0.113.195",
		},
		{
			name:       "empty first hop falls through",
			remoteAddr: "10.0.0.1:12345",
			headers:    map[string]string{"X-Forwarded-For": " , 70.41.3.18"},
			trustProxy: true,
			expected:   "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, ClientKey(req, tt.trustProxy))
		})
	}
}

func TestMemoryLimiter_CleanupStale(t *testing.T) {
	clock := newFakeClock()
	ml := newMemoryLimiter(Config{Enabled: true, Requests: 5, Window: 100 * time.Millisecond}, clock.Now)

	assert.True(t, ml.Allow("active-key"))
	assert.True(t, ml.Allow("stale-key"))

	clock.Advance(150 * time.Millisecond)
	assert.True(t, ml.Allow("active-key"))
	clock.Advance(100 * time.Millisecond)

	ml.cleanupStale(200 * time.Millisecond)

	ml.mu.Lock()
	_, activeExists := ml.limiters["active-key"]
	_, staleExists := ml.limiters["stale-key"]
	ml.mu.Unlock()

	assert.True(t, activeExists, "Active key should still exist")
	assert.False(t, staleExists, "Stale key should be removed")
}

func TestMemoryLimiter_StopIdempotent(t *testing.T) {
	l := NewMemoryLimiter(Config{Enabled: true, Requests: 1, Window: time.Minute})
	stopLimiter(t, l)
	l.(Stoppable).Stop()
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, Config{}.Validate())
	assert.Error(t, Config{Enabled: true, Window: time.Second}.Validate())
	assert.Error(t, Config{Enabled: true, Requests: 1}.Validate())
}
