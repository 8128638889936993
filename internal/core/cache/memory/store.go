// Package memory is an in-process cache.Store for single-node deployments
// and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/syntrixbase/livequery/internal/core/cache"
)

var _ cache.Store = (*Store)(nil)

type entry struct {
	value    []byte
	expireAt time.Time // zero means never
}

// Store keeps entries in a map. Expired entries are invisible to MGet and
// evicted by a background janitor.
type Store struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
	closed  bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// Option configures the Store.
type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a store whose entries live for ttl (0 = forever). When
// janitor is positive, expired entries are evicted at that interval.
func New(ttl, janitor time.Duration, opts ...Option) *Store {
	s := &Store{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if janitor > 0 && ttl > 0 {
		s.wg.Add(1)
		go s.runJanitor(janitor)
	}
	return s
}

func (s *Store) runJanitor(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *Store) evictExpired() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

func (e entry) expired(now time.Time) bool {
	return !e.expireAt.IsZero() && !now.Before(e.expireAt)
}

// MGet implements cache.Store.
func (s *Store) MGet(_ context.Context, keys []string) ([][]byte, error) {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, cache.ErrClosed
	}
	out := make([][]byte, len(keys))
	for i, k := range keys {
		e, ok := s.entries[k]
		if !ok || e.expired(now) {
			continue
		}
		out[i] = append([]byte(nil), e.value...)
	}
	return out, nil
}

// MSet implements cache.Store.
func (s *Store) MSet(_ context.Context, entries map[string][]byte) error {
	var expireAt time.Time
	if s.ttl > 0 {
		expireAt = s.now().Add(s.ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cache.ErrClosed
	}
	for k, v := range entries {
		s.entries[k] = entry{value: append([]byte(nil), v...), expireAt: expireAt}
	}
	return nil
}

// MDel implements cache.Store.
func (s *Store) MDel(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return cache.ErrClosed
	}
	for _, k := range keys {
		delete(s.entries, k)
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the janitor and drops all entries.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.entries = nil
	s.mu.Unlock()

	close(s.stop)
	s.wg.Wait()
	return nil
}
