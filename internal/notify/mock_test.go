package notify

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

type mockRegistry struct {
	mock.Mock
}

func (m *mockRegistry) Channels(ctx context.Context, room string) (map[string]Channel, error) {
	args := m.Called(ctx, room)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]Channel), args.Error(1)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Broadcast(ctx context.Context, channels []string, n *Notification) error {
	args := m.Called(ctx, channels, n)
	return args.Error(0)
}

func (m *mockSender) Send(ctx context.Context, connectionID string, channels []string, n *Notification) error {
	args := m.Called(ctx, connectionID, channels, n)
	return args.Error(0)
}

type mockReplicator struct {
	mock.Mock
}

func (m *mockReplicator) Replicate(ctx context.Context, rooms []string, n *Notification) error {
	args := m.Called(ctx, rooms, n)
	return args.Error(0)
}

// roomChannels gives every room one channel named after it accepting
// every scope and user event.
type roomChannels struct{}

func (roomChannels) Channels(_ context.Context, room string) (map[string]Channel, error) {
	return map[string]Channel{"ch-" + room: {Scope: PolicyAll, Users: PolicyAll}}, nil
}

// recorder is a Sender keeping every broadcast notification.
type recorder struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *recorder) Broadcast(_ context.Context, _ []string, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, *n)
	return nil
}

func (r *recorder) Send(_ context.Context, _ string, _ []string, n *Notification) error {
	return r.Broadcast(context.Background(), nil, n)
}

func (r *recorder) take() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sent
	r.sent = nil
	return out
}

// byScope returns the rooms notified with scope s.
func byScope(sent []Notification, s Scope) []string {
	var rooms []string
	for _, n := range sent {
		if n.Scope == s {
			rooms = append(rooms, n.Room)
		}
	}
	return rooms
}
