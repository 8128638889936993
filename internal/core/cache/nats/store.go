// Package nats stores the notification cache in a JetStream key-value
// bucket, so that every node of a cluster shares it.
package nats

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/livequery/internal/core/cache"
	"golang.org/x/sync/errgroup"
)

var _ cache.Store = (*Store)(nil)

// concurrency bounds the in-flight KV requests of one batch call.
const concurrency = 16

// BucketConfig returns the bucket configuration for cfg. Bucket TTL is the
// entry TTL; JetStream expires entries on its own.
func BucketConfig(cfg cache.NATSConfig, ttl time.Duration) jetstream.KeyValueConfig {
	storage := jetstream.MemoryStorage
	if cfg.Storage == "file" {
		storage = jetstream.FileStorage
	}
	return jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "livequery notification cache",
		History:     1,
		TTL:         ttl,
		Storage:     storage,
		Replicas:    cfg.Replicas,
	}
}

// Store implements cache.Store on a jetstream.KeyValue bucket.
type Store struct {
	kv     jetstream.KeyValue
	closed atomic.Bool
}

// New wraps kv.
func New(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

// encodeKey maps an arbitrary key onto the KV key alphabet.
func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func isMissing(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted)
}

// MGet implements cache.Store.
func (s *Store) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	if s.closed.Load() {
		return nil, cache.ErrClosed
	}
	out := make([][]byte, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, key := range keys {
		g.Go(func() error {
			e, err := s.kv.Get(gctx, encodeKey(key))
			if err != nil {
				if isMissing(err) {
					return nil
				}
				return fmt.Errorf("failed to get %s: %w", key, err)
			}
			out[i] = e.Value()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// MSet implements cache.Store.
func (s *Store) MSet(ctx context.Context, entries map[string][]byte) error {
	if s.closed.Load() {
		return cache.ErrClosed
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for key, value := range entries {
		g.Go(func() error {
			if _, err := s.kv.Put(gctx, encodeKey(key), value); err != nil {
				return fmt.Errorf("failed to put %s: %w", key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// MDel implements cache.Store.
func (s *Store) MDel(ctx context.Context, keys []string) error {
	if s.closed.Load() {
		return cache.ErrClosed
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, key := range keys {
		g.Go(func() error {
			if err := s.kv.Delete(gctx, encodeKey(key)); err != nil && !isMissing(err) {
				return fmt.Errorf("failed to delete %s: %w", key, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Close marks the store closed. The connection belongs to the provider.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}
