package memory

import (
	"sync"
	"time"

	"github.com/syntrixbase/livequery/internal/core/pubsub"
)

// delivery is a message handed to one subscription. A Nak puts it back on
// that subscription's queue; Ack and Term settle it for good.
type delivery struct {
	sub     *subscription
	subject string
	data    []byte
	at      time.Time

	mu       sync.Mutex
	attempts uint64
	done     bool
}

func newDelivery(sub *subscription, subject string, data []byte) *delivery {
	return &delivery{sub: sub, subject: subject, data: data, at: time.Now(), attempts: 1}
}

func (d *delivery) Data() []byte    { return d.data }
func (d *delivery) Subject() string { return d.subject }

func (d *delivery) Ack() error {
	d.finish()
	return nil
}

func (d *delivery) Term() error {
	d.finish()
	return nil
}

// Nak redelivers unless already settled. When the queue is full or the
// subscription is gone the message is lost.
func (d *delivery) Nak() error {
	d.mu.Lock()
	if d.done {
		d.mu.Unlock()
		return nil
	}
	d.attempts++
	d.mu.Unlock()

	d.sub.offer(d)
	return nil
}

func (d *delivery) Metadata() (pubsub.MessageMetadata, error) {
	d.mu.Lock()
	n := d.attempts
	d.mu.Unlock()
	return pubsub.MessageMetadata{NumDelivered: n, Timestamp: d.at, Subject: d.subject}, nil
}

func (d *delivery) finish() {
	d.mu.Lock()
	d.done = true
	d.mu.Unlock()
}
