package pubsub

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubProvider struct{}

func (stubProvider) Close() error { return nil }

func (stubProvider) NewPublisher(PublisherOptions) (Publisher, error) { return nil, nil }

func (stubProvider) NewConsumer(ConsumerOptions) (Consumer, error) { return nil, nil }

type dialingProvider struct {
	stubProvider
	err    error
	called bool
}

func (p *dialingProvider) Connect(context.Context) error {
	p.called = true
	return p.err
}

func TestConnect(t *testing.T) {
	assert.NoError(t, Connect(context.Background(), stubProvider{}))

	p := &dialingProvider{}
	assert.NoError(t, Connect(context.Background(), p))
	assert.True(t, p.called)

	failing := &dialingProvider{err: errors.New("no servers available")}
	assert.EqualError(t, Connect(context.Background(), failing), "no servers available")
}
