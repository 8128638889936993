// Package pubsub is the message transport between livequery nodes and the
// systems that feed them document changes.
package pubsub

import (
	"context"
	"time"
)

// Message is one delivery. Exactly one of Ack, Nak or Term should be called
// for it; Nak asks for redelivery, Term gives up on the message.
type Message interface {
	Data() []byte
	Subject() string
	Ack() error
	Nak() error
	Term() error
	Metadata() (MessageMetadata, error)
}

// MessageMetadata describes a delivery. NumDelivered starts at 1 and grows
// with every redelivery; ingest uses it to stop poison events.
type MessageMetadata struct {
	NumDelivered uint64
	Timestamp    time.Time
	Subject      string
	Stream       string
	Consumer     string
}

// Publisher sends payloads on subjects qualified by its SubjectPrefix.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close() error
}

// Consumer receives the messages matching its options.
type Consumer interface {
	// Subscribe starts delivery. The channel closes once ctx is cancelled.
	Subscribe(ctx context.Context) (<-chan Message, error)
}
