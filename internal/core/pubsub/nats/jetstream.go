// Package nats provides a pubsub.Provider backed by NATS JetStream.
package nats

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/livequery/internal/core/pubsub"
)

// JetStream is the subset of jetstream.JetStream used by this package.
type JetStream interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
	Stream(ctx context.Context, name string) (jetstream.Stream, error)
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	CreateOrUpdateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error)
	CreateOrUpdateKeyValue(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error)
}

var _ JetStream = (jetstream.JetStream)(nil)

// connectFunc dials NATS. Replaced in tests.
type connectFunc func(url string, opts ...nats.Option) (*nats.Conn, error)

// jetStreamFunc creates a JetStream context on a connection.
type jetStreamFunc func(nc *nats.Conn) (JetStream, error)

func newJetStream(nc *nats.Conn) (JetStream, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}
	return js, nil
}

func storageType(s pubsub.StorageType) jetstream.StorageType {
	if s == pubsub.FileStorage {
		return jetstream.FileStorage
	}
	return jetstream.MemoryStorage
}
