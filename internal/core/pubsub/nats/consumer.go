package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/livequery/internal/core/pubsub"
)

// jetStreamConsumer implements pubsub.Consumer using a durable JetStream
// consumer.
type jetStreamConsumer struct {
	js     JetStream
	opts   pubsub.ConsumerOptions
	logger *slog.Logger
}

// NewConsumer creates a Consumer. opts.StreamName is required.
func NewConsumer(js JetStream, opts pubsub.ConsumerOptions, logger *slog.Logger) (pubsub.Consumer, error) {
	if js == nil {
		return nil, errors.New("jetstream cannot be nil")
	}
	if opts.StreamName == "" {
		return nil, errors.New("stream name is required")
	}
	if opts.ConsumerName == "" {
		opts.ConsumerName = "consumer"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &jetStreamConsumer{js: js, opts: opts, logger: logger}, nil
}

// Subscribe creates the stream if it is missing, then the durable consumer,
// and starts delivering messages.
func (c *jetStreamConsumer) Subscribe(ctx context.Context) (<-chan pubsub.Message, error) {
	pattern := c.opts.Pattern()

	if _, err := c.js.Stream(ctx, c.opts.StreamName); err != nil {
		if !errors.Is(err, jetstream.ErrStreamNotFound) {
			return nil, fmt.Errorf("failed to look up stream %s: %w", c.opts.StreamName, err)
		}
		_, err = c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:     c.opts.StreamName,
			Subjects: []string{pattern},
			Storage:  storageType(c.opts.Storage),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stream %s: %w", c.opts.StreamName, err)
		}
	}

	cfg := jetstream.ConsumerConfig{
		Durable:           c.opts.ConsumerName,
		AckPolicy:         jetstream.AckExplicitPolicy,
		FilterSubject:     pattern,
		InactiveThreshold: c.opts.InactiveThreshold,
	}
	if c.opts.DeliverNew {
		cfg.DeliverPolicy = jetstream.DeliverNewPolicy
	}
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.opts.StreamName, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer %s: %w", c.opts.ConsumerName, err)
	}

	msgCh := make(chan pubsub.Message, c.opts.BufSize())
	var closing atomic.Bool

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		if closing.Load() {
			_ = msg.Nak()
			return
		}
		select {
		case msgCh <- message{msg}:
		case <-ctx.Done():
			_ = msg.Nak()
		}
	})
	if err != nil {
		close(msgCh)
		return nil, fmt.Errorf("failed to start consumer %s: %w", c.opts.ConsumerName, err)
	}

	c.logger.Info("Consumer subscribed", "stream", c.opts.StreamName, "consumer", c.opts.ConsumerName, "subject", pattern)

	go func() {
		<-ctx.Done()
		closing.Store(true)
		cc.Stop()
		close(msgCh)
		c.logger.Info("Consumer stopped", "stream", c.opts.StreamName, "consumer", c.opts.ConsumerName)
	}()

	return msgCh, nil
}
