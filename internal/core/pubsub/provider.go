package pubsub

import (
	"context"
	"io"
)

// Provider hands out publishers and consumers sharing one broker
// connection.
type Provider interface {
	io.Closer

	NewPublisher(opts PublisherOptions) (Publisher, error)
	NewConsumer(opts ConsumerOptions) (Consumer, error)
}

// Connectable is implemented by providers that dial a server before use.
type Connectable interface {
	Connect(ctx context.Context) error
}

// Connect connects p if it is Connectable. In-process providers are ready
// as soon as they are created.
func Connect(ctx context.Context, p Provider) error {
	if c, ok := p.(Connectable); ok {
		return c.Connect(ctx)
	}
	return nil
}
