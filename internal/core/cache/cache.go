// Package cache defines the key-value store that remembers, per document,
// which subscriptions it matched last time.
package cache

import (
	"context"
	"errors"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("cache store closed")

// Store is a batched key-value store. Entries expire after the TTL the
// store was configured with; a TTL of 0 keeps them forever.
type Store interface {
	// MGet returns one value per key, in order. Missing keys yield nil.
	MGet(ctx context.Context, keys []string) ([][]byte, error)

	// MSet writes all entries.
	MSet(ctx context.Context, entries map[string][]byte) error

	// MDel removes keys. Removing a missing key is not an error.
	MDel(ctx context.Context, keys []string) error

	// Close releases resources.
	Close() error
}
