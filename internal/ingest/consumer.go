// Package ingest feeds document change events from the message bus to the
// notifier.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/syntrixbase/livequery/internal/core/pubsub"
	"github.com/syntrixbase/livequery/internal/metrics"
	"github.com/syntrixbase/livequery/internal/notify"
)

// Notifier processes a batch of document events.
type Notifier interface {
	NotifyDocuments(ctx context.Context, action notify.Action, events []notify.DocumentEvent) ([]string, error)
}

// Consumer reads change events and hands them to the notifier. Events are
// partitioned by collection over a fixed set of workers so that the events
// of one collection are processed in publication order.
type Consumer struct {
	consumer      pubsub.Consumer
	notifier      Notifier
	workers       int
	maxDeliveries uint64
	logger        *slog.Logger
}

// NewConsumer creates a consumer on provider.
func NewConsumer(provider pubsub.Provider, notifier Notifier, cfg Config, logger *slog.Logger) (*Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = DefaultConfig().MaxDeliveries
	}

	opts := pubsub.DefaultConsumerOptions()
	opts.StreamName = cfg.Stream
	opts.ConsumerName = cfg.ConsumerName
	opts.FilterSubject = cfg.Subject + ".>"
	opts.Storage = pubsub.FileStorage
	cons, err := provider.NewConsumer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create change event consumer: %w", err)
	}

	return &Consumer{
		consumer:      cons,
		notifier:      notifier,
		workers:       cfg.Workers,
		maxDeliveries: uint64(cfg.MaxDeliveries),
		logger:        logger.With("component", "ingest"),
	}, nil
}

// Start subscribes and processes events in the background. The returned
// channel is closed once ctx is cancelled and the workers have drained.
func (c *Consumer) Start(ctx context.Context) (<-chan struct{}, error) {
	msgs, err := c.consumer.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to change events: %w", err)
	}

	var wg sync.WaitGroup
	chans := make([]chan pubsub.Message, c.workers)
	for i := range chans {
		chans[i] = make(chan pubsub.Message, 100)
		wg.Add(1)
		go func(in <-chan pubsub.Message) {
			defer wg.Done()
			for msg := range in {
				c.process(ctx, msg)
			}
		}(chans[i])
	}
	c.logger.Info("Change event consumer started", "workers", c.workers)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range msgs {
			c.route(msg, chans)
		}
		for _, ch := range chans {
			close(ch)
		}
		wg.Wait()
		c.logger.Info("Change event consumer stopped")
	}()
	return done, nil
}

// Run processes events until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	done, err := c.Start(ctx)
	if err != nil {
		return err
	}
	<-done
	return nil
}

// route decodes msg just enough to pick its worker.
func (c *Consumer) route(msg pubsub.Message, chans []chan pubsub.Message) {
	var ev ChangeEvent
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		metrics.ChangeEventErrors.Inc()
		c.logger.Error("Dropping malformed change event", "subject", msg.Subject(), "error", err)
		_ = msg.Term()
		return
	}
	idx := xxhash.Sum64String(ev.partitionKey()) % uint64(len(chans))
	chans[idx] <- msg
}

func (c *Consumer) process(ctx context.Context, msg pubsub.Message) {
	if md, err := msg.Metadata(); err == nil && md.NumDelivered > c.maxDeliveries {
		metrics.ChangeEventErrors.Inc()
		c.logger.Error("Dropping change event after repeated deliveries",
			"subject", msg.Subject(), "deliveries", md.NumDelivered)
		_ = msg.Term()
		return
	}

	var ev ChangeEvent
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		metrics.ChangeEventErrors.Inc()
		_ = msg.Term()
		return
	}
	action, err := ev.Validate()
	if err != nil {
		metrics.ChangeEventErrors.Inc()
		c.logger.Error("Dropping invalid change event", "subject", msg.Subject(), "error", err)
		_ = msg.Term()
		return
	}
	metrics.ChangeEvents.WithLabelValues(string(action)).Inc()

	// Notifications are sent even when the cache fails, so redelivery would
	// duplicate them. The gap is logged instead.
	if _, err := c.notifier.NotifyDocuments(ctx, action, ev.DocumentEvents()); err != nil {
		metrics.ChangeEventErrors.Inc()
		c.logger.Error("Change event processed with errors",
			"action", action, "index", ev.Index, "collection", ev.Collection,
			"documents", len(ev.Documents), "error", err)
	}
	_ = msg.Ack()
}
