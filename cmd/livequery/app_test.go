package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syntrixbase/livequery/internal/config"
	"github.com/syntrixbase/livequery/internal/core/cache"
	"github.com/syntrixbase/livequery/internal/core/pubsub"
	"github.com/syntrixbase/livequery/internal/ingest"
	"github.com/syntrixbase/livequery/internal/notify"
	"github.com/syntrixbase/livequery/internal/realtime"
	"github.com/syntrixbase/livequery/pkg/model"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.HTTPPort = 0
	cfg.Server.ShutdownTimeout = 2 * time.Second
	return cfg
}

func TestBuild_MemoryBackends(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()
	cfg.Cluster.Enabled = true
	cfg.Ingest.Enabled = true

	a, err := build(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer a.close()

	assert.NotNil(t, a.relay)
	assert.NotNil(t, a.consumer)
	assert.NotNil(t, a.server.HTTPMux())
}

func TestBuild_NATSCacheNeedsNATSPubSub(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()
	cfg.Cache.Backend = cache.BackendNATS

	_, err := build(context.Background(), cfg, logger)
	assert.ErrorContains(t, err, "nats pubsub backend")
}

func TestServe_StopsOnCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()
	cfg.Cluster.Enabled = true
	cfg.Ingest.Enabled = true

	a, err := build(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer a.close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestBuild_NotifierReachesEngine(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := build(context.Background(), testConfig(), logger)
	require.NoError(t, err)
	defer a.close()

	rooms, err := a.notifier.NotifyDocuments(context.Background(), notify.ActionCreate, []notify.DocumentEvent{{
		Index: "idx", Collection: "col", ID: "doc-1", Content: map[string]interface{}{"age": 30},
	}})
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestApp_ChangeEventReachesSubscriber(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()
	cfg.Ingest.Enabled = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := build(ctx, cfg, logger)
	require.NoError(t, err)
	defer a.close()

	_, err = a.consumer.Start(ctx)
	require.NoError(t, err)
	go a.hub.Run(ctx)

	srv := httptest.NewServer(a.server.HTTPMux())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+cfg.Realtime.Path, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() realtime.BaseMessage {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg realtime.BaseMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	filter := map[string]interface{}{"range": map[string]interface{}{"age": map[string]interface{}{"gte": 18}}}
	payload, err := json.Marshal(realtime.SubscribePayload{Index: "shop", Collection: "users", Filter: filter})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(realtime.BaseMessage{ID: "s1", Type: realtime.TypeSubscribe, Payload: payload}))
	ack := read()
	require.Equal(t, realtime.TypeSubscribeAck, ack.Type)

	pub, err := a.provider.NewPublisher(pubsub.PublisherOptions{SubjectPrefix: cfg.Ingest.Subject})
	require.NoError(t, err)
	event, err := json.Marshal(ingest.ChangeEvent{
		Action:     "create",
		Index:      "shop",
		Collection: "users",
		Documents: []ingest.Document{
			{ID: "minor", Source: model.Document{"age": 12}},
			{ID: "adult", Source: model.Document{"age": 40}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, "shop.users", event))

	msg := read()
	require.Equal(t, realtime.TypeNotification, msg.Type)
	var n notify.Notification
	require.NoError(t, json.Unmarshal(msg.Payload, &n))
	assert.Equal(t, "adult", n.ResourceID)
	assert.Equal(t, notify.ScopeIn, n.Scope)
	assert.Equal(t, notify.ActionCreate, n.Action)
	assert.Equal(t, float64(40), n.Content["age"])
}
