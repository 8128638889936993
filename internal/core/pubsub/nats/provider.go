package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/livequery/internal/core/pubsub"
)

// ErrNotConnected is returned when the provider is used before Connect.
var ErrNotConnected = errors.New("NATS not connected, call Connect first")

// Provider implements pubsub.Provider using NATS JetStream. It also hands
// out key-value buckets on the same connection.
type Provider struct {
	url    string
	name   string
	logger *slog.Logger

	mu sync.Mutex
	nc *nats.Conn
	js JetStream

	connect      connectFunc
	newJetStream jetStreamFunc
}

var (
	_ pubsub.Provider    = (*Provider)(nil)
	_ pubsub.Connectable = (*Provider)(nil)
)

// Option configures the Provider.
type Option func(*Provider)

// WithName sets the connection name reported to the server.
func WithName(name string) Option {
	return func(p *Provider) {
		p.name = name
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithJetStream uses js instead of dialing the server.
func WithJetStream(js JetStream) Option {
	return func(p *Provider) {
		p.js = js
	}
}

// NewProvider creates a provider for the server at url. Connect must be
// called before use.
func NewProvider(url string, opts ...Option) *Provider {
	p := &Provider{
		url:          url,
		name:         "livequery",
		connect:      nats.Connect,
		newJetStream: newJetStream,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "nats")
	return p
}

// Connect establishes the NATS connection and initializes JetStream.
func (p *Provider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.js != nil {
		return nil
	}

	nc, err := p.connect(p.url, nats.Name(p.name), nats.MaxReconnects(-1))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", p.url, err)
	}

	js, err := p.newJetStream(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream: %w", err)
	}
	p.nc = nc
	p.js = js

	p.logger.Info("Connected to NATS", "url", p.url)
	return nil
}

func (p *Provider) jetStream() (JetStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.js == nil {
		return nil, ErrNotConnected
	}
	return p.js, nil
}

// NewPublisher creates a new Publisher backed by NATS JetStream.
func (p *Provider) NewPublisher(opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	js, err := p.jetStream()
	if err != nil {
		return nil, err
	}
	return NewPublisher(js, opts)
}

// NewConsumer creates a new Consumer backed by NATS JetStream.
func (p *Provider) NewConsumer(opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	js, err := p.jetStream()
	if err != nil {
		return nil, err
	}
	return NewConsumer(js, opts, p.logger)
}

// KeyValue creates or updates the key-value bucket described by cfg.
func (p *Provider) KeyValue(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	js, err := p.jetStream()
	if err != nil {
		return nil, err
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %s: %w", cfg.Bucket, err)
	}
	return kv, nil
}

// Close closes the NATS connection.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nc != nil {
		p.logger.Info("Closing NATS connection")
		p.nc.Close()
		p.nc = nil
	}
	p.js = nil
	return nil
}
