package nats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/livequery/internal/core/pubsub"
)

type publisher struct {
	js   JetStream
	opts pubsub.PublisherOptions
	pub  []jetstream.PublishOpt
}

// NewPublisher returns a JetStream publisher. When opts names a stream it is
// created, or updated to capture the publisher's subjects, before returning.
func NewPublisher(js JetStream, opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	if js == nil {
		return nil, errors.New("jetstream cannot be nil")
	}
	if opts.StreamName != "" {
		cfg := jetstream.StreamConfig{
			Name:     opts.StreamName,
			Subjects: []string{opts.StreamSubject()},
			Storage:  storageType(opts.Storage),
		}
		if _, err := js.CreateOrUpdateStream(context.Background(), cfg); err != nil {
			return nil, fmt.Errorf("failed to ensure stream %s: %w", opts.StreamName, err)
		}
	}

	p := &publisher{js: js, opts: opts}
	if opts.RetryAttempts > 0 {
		p.pub = []jetstream.PublishOpt{jetstream.WithRetryAttempts(opts.RetryAttempts)}
	}
	return p, nil
}

func (p *publisher) Publish(ctx context.Context, subject string, data []byte) error {
	full, start := p.opts.Subject(subject), time.Now()
	_, err := p.js.Publish(ctx, full, data, p.pub...)
	p.opts.Observe(full, err, start)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", full, err)
	}
	return nil
}

// Close is a no-op; the connection belongs to the provider.
func (p *publisher) Close() error { return nil }
