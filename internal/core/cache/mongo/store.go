// Package mongo stores the notification cache in a MongoDB collection with
// a TTL index.
package mongo

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/syntrixbase/livequery/internal/core/cache"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var _ cache.Store = (*Store)(nil)

type record struct {
	Key      string     `bson:"_id"`
	Value    []byte     `bson:"value"`
	ExpireAt *time.Time `bson:"expire_at,omitempty"`
}

// Store implements cache.Store on a MongoDB collection. MongoDB's TTL
// monitor only runs once a minute, so reads also skip expired records.
type Store struct {
	coll   *mongo.Collection
	client *mongo.Client // set when the store owns the connection
	ttl    time.Duration
	now    func() time.Time
	closed atomic.Bool
}

// NewStore uses collection of db. The caller owns the client.
func NewStore(db *mongo.Database, collection string, ttl time.Duration) *Store {
	if collection == "" {
		collection = "notifications"
	}
	return &Store{
		coll: db.Collection(collection),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Open connects to cfg.URI and returns a store owning the connection.
func Open(ctx context.Context, cfg cache.MongoConfig, ttl time.Duration) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	s := NewStore(client.Database(cfg.Database), cfg.Collection, ttl)
	s.client = client
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// EnsureIndexes creates the TTL index on expire_at.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expire_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("failed to create ttl index: %w", err)
	}
	return nil
}

// MGet implements cache.Store.
func (s *Store) MGet(ctx context.Context, keys []string) ([][]byte, error) {
	if s.closed.Load() {
		return nil, cache.ErrClosed
	}
	out := make([][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	cursor, err := s.coll.Find(ctx, bson.M{"_id": bson.M{"$in": keys}})
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}
	var records []record
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode cache: %w", err)
	}

	now := s.now()
	byKey := make(map[string][]byte, len(records))
	for _, r := range records {
		if r.ExpireAt != nil && !now.Before(*r.ExpireAt) {
			continue
		}
		byKey[r.Key] = r.Value
	}
	for i, k := range keys {
		out[i] = byKey[k]
	}
	return out, nil
}

// MSet implements cache.Store.
func (s *Store) MSet(ctx context.Context, entries map[string][]byte) error {
	if s.closed.Load() {
		return cache.ErrClosed
	}
	if len(entries) == 0 {
		return nil
	}

	var expireAt *time.Time
	if s.ttl > 0 {
		t := s.now().Add(s.ttl)
		expireAt = &t
	}
	models := make([]mongo.WriteModel, 0, len(entries))
	for k, v := range entries {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": k}).
			SetReplacement(record{Key: k, Value: v, ExpireAt: expireAt}).
			SetUpsert(true))
	}
	if _, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

// MDel implements cache.Store.
func (s *Store) MDel(ctx context.Context, keys []string) error {
	if s.closed.Load() {
		return cache.ErrClosed
	}
	if len(keys) == 0 {
		return nil
	}
	if _, err := s.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": keys}}); err != nil {
		return fmt.Errorf("failed to delete cache: %w", err)
	}
	return nil
}

// Close disconnects the client if the store opened it.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.client != nil {
		return s.client.Disconnect(context.Background())
	}
	return nil
}
