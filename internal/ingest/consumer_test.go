package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/livequery/internal/core/pubsub"
	"github.com/syntrixbase/livequery/internal/core/pubsub/memory"
	"github.com/syntrixbase/livequery/internal/notify"
	"github.com/syntrixbase/livequery/pkg/model"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyDocuments(ctx context.Context, action notify.Action, events []notify.DocumentEvent) ([]string, error) {
	args := m.Called(ctx, action, events)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type call struct {
	action notify.Action
	events []notify.DocumentEvent
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []call
}

func (r *recordingNotifier) NotifyDocuments(_ context.Context, action notify.Action, events []notify.DocumentEvent) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{action: action, events: events})
	return nil, nil
}

func (r *recordingNotifier) snapshot() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func setup(t *testing.T, notifier Notifier) (context.Context, pubsub.Publisher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	broker := memory.New()
	t.Cleanup(func() { _ = broker.Close() })

	cfg := DefaultConfig()
	cfg.Workers = 4
	c, err := NewConsumer(broker, notifier, cfg, nil)
	require.NoError(t, err)
	_, err = c.Start(ctx)
	require.NoError(t, err)

	pub, err := broker.NewPublisher(pubsub.PublisherOptions{SubjectPrefix: cfg.Subject})
	require.NoError(t, err)
	return ctx, pub
}

func publish(t *testing.T, ctx context.Context, pub pubsub.Publisher, ev ChangeEvent) {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, ev.Index+"."+ev.Collection, data))
}

func TestConsumer_DeliversEvents(t *testing.T) {
	n := new(mockNotifier)
	done := make(chan struct{})
	n.On("NotifyDocuments", mock.Anything, notify.ActionUpdate, mock.MatchedBy(func(evs []notify.DocumentEvent) bool {
		return len(evs) == 2 &&
			evs[0].ID == "d1" && evs[0].Index == "i" && evs[0].Collection == "c" &&
			evs[0].Content["age"] == float64(19) && evs[0].RequestID == "req-1" &&
			evs[1].ID == "d2"
	})).Return([]string{"room"}, nil).Once().Run(func(mock.Arguments) { close(done) })

	ctx, pub := setup(t, n)
	publish(t, ctx, pub, ChangeEvent{
		Action: "update", Index: "i", Collection: "c", RequestID: "req-1",
		Documents: []Document{
			{ID: "d1", Source: model.Document{"age": 19}},
			{ID: "d2", Source: model.Document{"age": 3}},
		},
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event not processed")
	}
	n.AssertExpectations(t)
}

func TestConsumer_DropsBadEvents(t *testing.T) {
	n := &recordingNotifier{}
	ctx, pub := setup(t, n)

	require.NoError(t, pub.Publish(ctx, "i.c", []byte("{nope")))
	publish(t, ctx, pub, ChangeEvent{Action: "explode", Index: "i", Collection: "c"})
	publish(t, ctx, pub, ChangeEvent{Action: "create", Index: "i", Collection: "c", Documents: []Document{{}}})
	publish(t, ctx, pub, ChangeEvent{Action: "create", Index: "i", Collection: "c", Documents: []Document{{ID: "ok"}}})

	assert.Eventually(t, func() bool { return len(n.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	calls := n.snapshot()
	assert.Equal(t, notify.ActionCreate, calls[0].action)
	assert.Equal(t, "ok", calls[0].events[0].ID)
}

func TestConsumer_PreservesCollectionOrder(t *testing.T) {
	n := &recordingNotifier{}
	ctx, pub := setup(t, n)

	const total = 50
	for i := 0; i < total; i++ {
		publish(t, ctx, pub, ChangeEvent{
			Action: "update", Index: "i", Collection: "c",
			Documents: []Document{{ID: "d", Source: model.Document{"seq": i}}},
		})
	}

	assert.Eventually(t, func() bool { return len(n.snapshot()) == total }, 2*time.Second, 10*time.Millisecond)
	for i, c := range n.snapshot() {
		assert.Equal(t, float64(i), c.events[0].Content["seq"])
	}
}

func TestConsumer_NotifierErrorsAreAcked(t *testing.T) {
	n := new(mockNotifier)
	done := make(chan struct{})
	n.On("NotifyDocuments", mock.Anything, notify.ActionDelete, mock.Anything).
		Return(nil, errors.New("cache down")).Once().Run(func(mock.Arguments) { close(done) })

	ctx, pub := setup(t, n)
	publish(t, ctx, pub, ChangeEvent{Action: "delete", Index: "i", Collection: "c", Documents: []Document{{ID: "d"}}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event not processed")
	}
	// Acked, so no redelivery.
	time.Sleep(50 * time.Millisecond)
	n.AssertNumberOfCalls(t, "NotifyDocuments", 1)
}

func TestConsumer_RunStopsOnCancel(t *testing.T) {
	broker := memory.New()
	defer broker.Close()
	c, err := NewConsumer(broker, &recordingNotifier{}, DefaultConfig(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestChangeEvent_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ev      ChangeEvent
		want    notify.Action
		wantErr bool
	}{
		{"create", ChangeEvent{Action: "create", Index: "i", Collection: "c", Documents: []Document{{ID: "a"}}}, notify.ActionCreate, false},
		{"publish without id", ChangeEvent{Action: "publish", Index: "i", Collection: "c", Documents: []Document{{}}}, notify.ActionPublish, false},
		{"unknown action", ChangeEvent{Action: "subscribe", Index: "i", Collection: "c"}, "", true},
		{"missing collection", ChangeEvent{Action: "create", Index: "i"}, "", true},
		{"missing id", ChangeEvent{Action: "delete", Index: "i", Collection: "c", Documents: []Document{{}}}, "", true},
		{"id with slash", ChangeEvent{Action: "update", Index: "i", Collection: "c", Documents: []Document{{ID: "a/b"}}}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.ev.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEvent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, "livequery.changes", cfg.Subject)
	assert.Equal(t, 5, cfg.MaxDeliveries)
	assert.NoError(t, cfg.Validate())

	t.Setenv("LIVEQUERY_INGEST_ENABLED", "1")
	t.Setenv("LIVEQUERY_INGEST_WORKERS", "0")
	cfg.ApplyEnvOverrides()
	assert.True(t, cfg.Enabled)
	assert.ErrorContains(t, cfg.Validate(), "ingest.workers")
}

type stubMessage struct {
	data      []byte
	delivered uint64
	acked     bool
	termed    bool
}

func (m *stubMessage) Data() []byte    { return m.data }
func (m *stubMessage) Subject() string { return "livequery.changes.idx.col" }
func (m *stubMessage) Nak() error      { return nil }

func (m *stubMessage) Ack() error {
	m.acked = true
	return nil
}

func (m *stubMessage) Term() error {
	m.termed = true
	return nil
}

func (m *stubMessage) Metadata() (pubsub.MessageMetadata, error) {
	return pubsub.MessageMetadata{NumDelivered: m.delivered}, nil
}

func TestConsumer_TerminatesOverdeliveredEvents(t *testing.T) {
	notifier := &recordingNotifier{}
	c := &Consumer{notifier: notifier, workers: 1, maxDeliveries: 3, logger: slog.Default()}

	data, err := json.Marshal(ChangeEvent{
		Action: "create", Index: "idx", Collection: "col",
		Documents: []Document{{ID: "a", Source: model.Document{"n": 1}}},
	})
	require.NoError(t, err)

	fresh := &stubMessage{data: data, delivered: 3}
	c.process(context.Background(), fresh)
	assert.True(t, fresh.acked)
	assert.Len(t, notifier.snapshot(), 1)

	poison := &stubMessage{data: data, delivered: 4}
	c.process(context.Background(), poison)
	assert.True(t, poison.termed)
	assert.False(t, poison.acked)
	assert.Len(t, notifier.snapshot(), 1)
}
