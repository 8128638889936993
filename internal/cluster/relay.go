// Package cluster replicates notifications between livequery nodes so that
// clients of every node see mutations applied on any of them.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/syntrixbase/livequery/internal/core/pubsub"
	"github.com/syntrixbase/livequery/internal/metrics"
	"github.com/syntrixbase/livequery/internal/notify"
)

const envelopeSubject = "notifications"

// Envelope is the replicated form of a notification.
type Envelope struct {
	Node         string              `json:"node"`
	Rooms        []string            `json:"rooms"`
	Notification notify.Notification `json:"notification"`
}

// Dispatcher re-dispatches replicated notifications locally.
type Dispatcher interface {
	NotifyDocument(ctx context.Context, rooms []string, n notify.Notification, origin notify.Origin)
	NotifyUser(ctx context.Context, room string, n notify.Notification, origin notify.Origin)
}

// Relay publishes local notifications to peers and dispatches theirs.
type Relay struct {
	node       string
	publisher  pubsub.Publisher
	consumer   pubsub.Consumer
	dispatcher Dispatcher
	logger     *slog.Logger
}

var _ notify.Replicator = (*Relay)(nil)

// NewRelay creates a relay on provider. Each node consumes under its own
// consumer name so every node receives every envelope.
func NewRelay(provider pubsub.Provider, dispatcher Dispatcher, cfg Config, logger *slog.Logger) (*Relay, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pub, err := provider.NewPublisher(pubsub.PublisherOptions{
		StreamName:    cfg.Stream,
		SubjectPrefix: cfg.Subject,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cluster publisher: %w", err)
	}

	opts := pubsub.DefaultConsumerOptions()
	opts.StreamName = cfg.Stream
	opts.ConsumerName = "relay-" + cfg.NodeID
	opts.FilterSubject = cfg.Subject + ".>"
	opts.DeliverNew = true
	opts.InactiveThreshold = cfg.InactiveThreshold
	cons, err := provider.NewConsumer(opts)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("failed to create cluster consumer: %w", err)
	}

	return &Relay{
		node:       cfg.NodeID,
		publisher:  pub,
		consumer:   cons,
		dispatcher: dispatcher,
		logger:     logger.With("component", "cluster", "node", cfg.NodeID),
	}, nil
}

// Replicate implements notify.Replicator.
func (r *Relay) Replicate(ctx context.Context, rooms []string, n *notify.Notification) error {
	data, err := json.Marshal(Envelope{Node: r.node, Rooms: rooms, Notification: *n})
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	if err := r.publisher.Publish(ctx, envelopeSubject, data); err != nil {
		return err
	}
	metrics.ClusterEnvelopes.WithLabelValues("out").Inc()
	return nil
}

// Start subscribes and dispatches envelopes from other nodes in the
// background. The returned channel is closed once ctx is cancelled and the
// backlog is drained.
func (r *Relay) Start(ctx context.Context) (<-chan struct{}, error) {
	msgs, err := r.consumer.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to cluster envelopes: %w", err)
	}
	r.logger.Info("Cluster relay started")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range msgs {
			r.handle(ctx, msg)
		}
		r.logger.Info("Cluster relay stopped")
	}()
	return done, nil
}

// Run dispatches envelopes from other nodes until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	done, err := r.Start(ctx)
	if err != nil {
		return err
	}
	<-done
	return nil
}

func (r *Relay) handle(ctx context.Context, msg pubsub.Message) {
	var env Envelope
	if err := json.Unmarshal(msg.Data(), &env); err != nil {
		r.logger.Error("Dropping malformed envelope", "subject", msg.Subject(), "error", err)
		_ = msg.Term()
		return
	}
	if env.Node == r.node {
		_ = msg.Ack()
		return
	}
	metrics.ClusterEnvelopes.WithLabelValues("in").Inc()

	switch env.Notification.Type {
	case notify.TypeDocument:
		r.dispatcher.NotifyDocument(ctx, env.Rooms, env.Notification, notify.OriginCluster)
	case notify.TypeUser:
		for _, room := range env.Rooms {
			r.dispatcher.NotifyUser(ctx, room, env.Notification, notify.OriginCluster)
		}
	default:
		r.logger.Warn("Dropping envelope of unexpected type", "type", env.Notification.Type, "from", env.Node)
		_ = msg.Term()
		return
	}
	_ = msg.Ack()
}

// Close releases the publisher.
func (r *Relay) Close() error {
	return r.publisher.Close()
}
