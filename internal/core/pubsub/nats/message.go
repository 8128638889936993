package nats

import (
	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/livequery/internal/core/pubsub"
)

// message adapts a JetStream message. Data, Subject, Ack, Nak and Term are
// the embedded message's own.
type message struct {
	jetstream.Msg
}

var _ pubsub.Message = message{}

// Metadata reports delivery metadata in broker-neutral form.
func (m message) Metadata() (pubsub.MessageMetadata, error) {
	md, err := m.Msg.Metadata()
	if err != nil {
		return pubsub.MessageMetadata{}, err
	}
	return pubsub.MessageMetadata{
		NumDelivered: md.NumDelivered,
		Timestamp:    md.Timestamp,
		Subject:      m.Subject(),
		Stream:       md.Stream,
		Consumer:     md.Consumer,
	}, nil
}
