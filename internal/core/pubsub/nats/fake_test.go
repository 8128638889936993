package nats

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// fakeJetStream records calls and delivers published messages to the
// consumers created on it.
type fakeJetStream struct {
	mu        sync.Mutex
	streams   map[string]jetstream.StreamConfig
	consumers map[string]jetstream.ConsumerConfig
	buckets   map[string]jetstream.KeyValueConfig
	published []string
	handlers  []jetstream.MessageHandler

	publishErr  error
	streamErr   error
	consumerErr error
}

func newFakeJetStream() *fakeJetStream {
	return &fakeJetStream{
		streams:   make(map[string]jetstream.StreamConfig),
		consumers: make(map[string]jetstream.ConsumerConfig),
		buckets:   make(map[string]jetstream.KeyValueConfig),
	}
}

func (f *fakeJetStream) Publish(_ context.Context, subject string, payload []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.mu.Lock()
	if f.publishErr != nil {
		f.mu.Unlock()
		return nil, f.publishErr
	}
	f.published = append(f.published, subject)
	handlers := append([]jetstream.MessageHandler(nil), f.handlers...)
	f.mu.Unlock()

	for _, h := range handlers {
		h(&fakeMsg{subject: subject, data: payload})
	}
	return &jetstream.PubAck{Stream: "s"}, nil
}

func (f *fakeJetStream) Stream(_ context.Context, name string) (jetstream.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.streams[name]; !ok {
		return nil, jetstream.ErrStreamNotFound
	}
	return nil, nil
}

func (f *fakeJetStream) CreateOrUpdateStream(_ context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	f.streams[cfg.Name] = cfg
	return nil, nil
}

func (f *fakeJetStream) CreateOrUpdateConsumer(_ context.Context, _ string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumerErr != nil {
		return nil, f.consumerErr
	}
	f.consumers[cfg.Durable] = cfg
	return &fakeConsumer{js: f}, nil
}

func (f *fakeJetStream) CreateOrUpdateKeyValue(_ context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets[cfg.Bucket] = cfg
	return nil, nil
}

type fakeConsumer struct {
	jetstream.Consumer
	js *fakeJetStream
}

func (c *fakeConsumer) Consume(handler jetstream.MessageHandler, _ ...jetstream.PullConsumeOpt) (jetstream.ConsumeContext, error) {
	c.js.mu.Lock()
	c.js.handlers = append(c.js.handlers, handler)
	c.js.mu.Unlock()
	return &fakeConsumeContext{}, nil
}

type fakeConsumeContext struct {
	jetstream.ConsumeContext
	mu      sync.Mutex
	stopped bool
}

func (c *fakeConsumeContext) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
}

type fakeMsg struct {
	jetstream.Msg
	subject string
	data    []byte

	mu    sync.Mutex
	acked bool
	naked bool
}

func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Subject() string { return m.subject }
func (m *fakeMsg) Ack() error {
	m.mu.Lock()
	m.acked = true
	m.mu.Unlock()
	return nil
}
func (m *fakeMsg) Nak() error {
	m.mu.Lock()
	m.naked = true
	m.mu.Unlock()
	return nil
}
func (m *fakeMsg) Term() error { return nil }
func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return &jetstream.MsgMetadata{NumDelivered: 1, Timestamp: time.Unix(10, 0), Stream: "s", Consumer: "c"}, nil
}
