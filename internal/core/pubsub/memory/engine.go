package memory

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/syntrixbase/livequery/internal/core/pubsub"
)

var _ pubsub.Provider = (*Engine)(nil)

// Engine is an in-process pubsub.Provider. Durable consumer names split the
// traffic between their members the way JetStream consumers do, which lets
// single-node deployments and tests run without a NATS server.
type Engine struct {
	b *broker
}

// New returns an open engine.
func New() *Engine {
	return &Engine{b: newBroker()}
}

func (e *Engine) NewPublisher(opts pubsub.PublisherOptions) (pubsub.Publisher, error) {
	if e.IsClosed() {
		return nil, ErrEngineClosed
	}
	return &publisher{b: e.b, opts: opts}, nil
}

func (e *Engine) NewConsumer(opts pubsub.ConsumerOptions) (pubsub.Consumer, error) {
	if e.IsClosed() {
		return nil, ErrEngineClosed
	}
	return consumer{b: e.b, opts: opts}, nil
}

// Close ends every subscription. Closing twice is a no-op.
func (e *Engine) Close() error {
	return e.b.close()
}

func (e *Engine) IsClosed() bool {
	return e.b.closed.Load()
}

type publisher struct {
	b    *broker
	opts pubsub.PublisherOptions
	done atomic.Bool
}

func (p *publisher) Publish(ctx context.Context, subject string, data []byte) error {
	if p.done.Load() {
		return ErrEngineClosed
	}
	full, start := p.opts.Subject(subject), time.Now()
	err := p.b.publish(ctx, full, data)
	p.opts.Observe(full, err, start)
	return err
}

// Close stops this publisher only; the engine stays usable.
func (p *publisher) Close() error {
	p.done.Store(true)
	return nil
}

type consumer struct {
	b    *broker
	opts pubsub.ConsumerOptions
}

func (c consumer) Subscribe(ctx context.Context) (<-chan pubsub.Message, error) {
	return c.b.subscribe(ctx, c.opts.ConsumerName, c.opts.Pattern(), c.opts.BufSize())
}
