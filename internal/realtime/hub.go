package realtime

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	"github.com/syntrixbase/livequery/internal/metrics"
	"github.com/syntrixbase/livequery/internal/notify"
)

var (
	// ErrNotSubscribed is returned when a connection leaves a room it never joined.
	ErrNotSubscribed = errors.New("not subscribed to room")
	// ErrUnknownConnection is returned by Send for connections not registered on the hub.
	ErrUnknownConnection = errors.New("unknown connection")
)

// Engine registers filters and returns the room they are evaluated under.
type Engine interface {
	Register(index, collection string, filter map[string]interface{}) (string, error)
	Unregister(id string) bool
}

// UserNotifier announces joins and leaves to a room.
type UserNotifier interface {
	NotifyUser(ctx context.Context, room string, n notify.Notification, origin notify.Origin)
}

// Subscription is a join request, already defaulted.
type Subscription struct {
	Index      string
	Collection string
	Filter     map[string]interface{}
	Channel    notify.Channel
	Volatile   map[string]interface{}
}

type channel struct {
	id     string
	room   string
	policy notify.Channel
	conns  map[string]*Client
}

type room struct {
	id         string
	index      string
	collection string
	channels   map[string]*channel
}

func (r *room) connections() int {
	seen := make(map[string]struct{})
	for _, ch := range r.channels {
		for id := range ch.conns {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}

// Hub tracks connections and the rooms and channels they listen on. It is
// the channel registry and sender of the notification dispatcher.
type Hub struct {
	engine      Engine
	logger      *slog.Logger
	sendTimeout time.Duration

	mu       sync.RWMutex
	clients  map[string]*Client
	rooms    map[string]*room
	channels map[string]*channel
	users    UserNotifier
}

// NewHub creates a hub registering filters on engine.
func NewHub(engine Engine, sendTimeout time.Duration, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		engine:      engine,
		logger:      logger.With("component", "realtime-hub"),
		sendTimeout: sendTimeout,
		clients:     make(map[string]*Client),
		rooms:       make(map[string]*room),
		channels:    make(map[string]*channel),
	}
}

// SetUserNotifier sets where join and leave notifications go.
func (h *Hub) SetUserNotifier(n UserNotifier) {
	h.mu.Lock()
	h.users = n
	h.mu.Unlock()
}

// Register adds a connection.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	metrics.ConnectionsActive.Inc()
}

// Unregister removes a connection, leaves every room it joined and closes
// its send queue.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.id)
	left := make([]string, 0, len(c.rooms))
	for roomID := range c.rooms {
		left = append(left, roomID)
	}
	sort.Strings(left)
	type departure struct {
		room  *room
		count int
	}
	departures := make([]departure, 0, len(left))
	for _, roomID := range left {
		if r, count := h.leaveLocked(c, roomID); r != nil {
			departures = append(departures, departure{room: r, count: count})
		}
	}
	users := h.users
	h.mu.Unlock()

	metrics.ConnectionsActive.Dec()
	c.close()

	for _, d := range departures {
		announce(context.Background(), users, d.room, notify.ScopeOut, notify.ActionLeave, d.count, nil)
	}
}

// Join subscribes c to the room of sub's filter, on the channel matching
// its delivery policy.
func (h *Hub) Join(ctx context.Context, c *Client, sub Subscription) (roomID, channelID string, err error) {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; !ok {
		h.mu.Unlock()
		return "", "", ErrUnknownConnection
	}

	// The engine call stays under the hub lock so a concurrent last leave
	// cannot unregister the room between registration and insertion.
	roomID, err = h.engine.Register(sub.Index, sub.Collection, sub.Filter)
	if err != nil {
		h.mu.Unlock()
		return "", "", err
	}

	r, ok := h.rooms[roomID]
	if !ok {
		r = &room{id: roomID, index: sub.Index, collection: sub.Collection, channels: make(map[string]*channel)}
		h.rooms[roomID] = r
	}
	channelID = ChannelID(roomID, sub.Channel)
	ch, ok := r.channels[channelID]
	if !ok {
		ch = &channel{id: channelID, room: roomID, policy: sub.Channel, conns: make(map[string]*Client)}
		r.channels[channelID] = ch
		h.channels[channelID] = ch
	}
	ch.conns[c.id] = c
	if c.rooms[roomID] == nil {
		c.rooms[roomID] = make(map[string]struct{})
	}
	c.rooms[roomID][channelID] = struct{}{}
	count := r.connections()
	users := h.users
	h.mu.Unlock()

	h.logger.Debug("Connection joined room", "connection", c.id, "room", roomID, "channel", channelID)
	announce(ctx, users, r, notify.ScopeIn, notify.ActionJoin, count, sub.Volatile)
	return roomID, channelID, nil
}

// Leave unsubscribes c from every channel of roomID.
func (h *Hub) Leave(ctx context.Context, c *Client, roomID string, volatile map[string]interface{}) error {
	h.mu.Lock()
	if _, ok := c.rooms[roomID]; !ok {
		h.mu.Unlock()
		return ErrNotSubscribed
	}
	r, count := h.leaveLocked(c, roomID)
	users := h.users
	h.mu.Unlock()

	h.logger.Debug("Connection left room", "connection", c.id, "room", roomID)
	if r != nil {
		announce(ctx, users, r, notify.ScopeOut, notify.ActionLeave, count, volatile)
	}
	return nil
}

// leaveLocked removes c from roomID and returns the room with its
// remaining connection count. The room is unregistered from the engine when
// it empties. Callers hold h.mu.
func (h *Hub) leaveLocked(c *Client, roomID string) (*room, int) {
	channels := c.rooms[roomID]
	delete(c.rooms, roomID)
	r, ok := h.rooms[roomID]
	if !ok {
		return nil, 0
	}
	for channelID := range channels {
		ch, ok := r.channels[channelID]
		if !ok {
			continue
		}
		delete(ch.conns, c.id)
		if len(ch.conns) == 0 {
			delete(r.channels, channelID)
			delete(h.channels, channelID)
		}
	}
	if len(r.channels) == 0 {
		delete(h.rooms, roomID)
		h.engine.Unregister(roomID)
		return r, 0
	}
	return r, r.connections()
}

// announce sends a user notification for r. Leaves are announced even
// when r emptied locally.
func announce(ctx context.Context, users UserNotifier, r *room, scope notify.Scope, action notify.Action, count int, volatile map[string]interface{}) {
	if users == nil {
		return
	}
	users.NotifyUser(ctx, r.id, notify.Notification{
		Type:       notify.TypeUser,
		User:       scope,
		Action:     action,
		Index:      r.index,
		Collection: r.collection,
		Volatile:   volatile,
		Count:      count,
		Timestamp:  time.Now().UnixMilli(),
	}, notify.OriginLocal)
}

// Count returns the number of connections in roomID.
func (h *Hub) Count(roomID string) (int, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return 0, false
	}
	return r.connections(), true
}

// Channels implements notify.ChannelRegistry.
func (h *Hub) Channels(_ context.Context, roomID string) (map[string]notify.Channel, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return nil, nil
	}
	out := make(map[string]notify.Channel, len(r.channels))
	for id, ch := range r.channels {
		out[id] = ch.policy
	}
	return out, nil
}

type delivery struct {
	client  *Client
	channel string
	msg     []byte
}

// Broadcast implements notify.Sender. Every connection on each channel
// receives one message per channel. Connections with room in their queue
// are served first; full queues then share a single send timeout, so a
// stalled socket cannot hold up the others.
func (h *Hub) Broadcast(ctx context.Context, channels []string, n *notify.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	h.mu.RLock()
	targets := make([]delivery, 0, len(channels))
	for _, id := range channels {
		ch, ok := h.channels[id]
		if !ok {
			continue
		}
		for _, c := range ch.conns {
			targets = append(targets, delivery{client: c, channel: id})
		}
	}
	h.mu.RUnlock()

	var full []delivery
	for _, t := range targets {
		msg, ok := h.frame(t.client, t.channel, payload)
		if !ok {
			continue
		}
		if !t.client.enqueue(ctx, msg, 0) {
			t.msg = msg
			full = append(full, t)
		}
	}
	h.retryFull(ctx, full)
	return nil
}

func (h *Hub) retryFull(ctx context.Context, full []delivery) {
	if len(full) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, h.sendTimeout)
	defer cancel()

	var g errgroup.Group
	for _, d := range full {
		g.Go(func() error {
			if !d.client.enqueue(ctx, d.msg, h.sendTimeout) {
				h.logger.Warn("Dropped notification for slow connection", "connection", d.client.id, "channel", d.channel)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Send implements notify.Sender. With no channels the message is addressed
// to the connection itself.
func (h *Hub) Send(ctx context.Context, connectionID string, channels []string, n *notify.Notification) error {
	h.mu.RLock()
	c, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connectionID)
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if len(channels) == 0 {
		h.deliver(ctx, c, connectionID, payload)
		return nil
	}
	for _, id := range channels {
		h.deliver(ctx, c, id, payload)
	}
	return nil
}

// frame wraps payload in the notification envelope for channel id.
func (h *Hub) frame(c *Client, id string, payload json.RawMessage) ([]byte, bool) {
	msg, err := json.Marshal(BaseMessage{ID: id, Type: TypeNotification, Payload: payload})
	if err != nil {
		h.logger.Error("Failed to encode message", "connection", c.id, "error", err)
		return nil, false
	}
	return msg, true
}

func (h *Hub) deliver(ctx context.Context, c *Client, id string, payload json.RawMessage) {
	msg, ok := h.frame(c, id, payload)
	if !ok {
		return
	}
	if !c.enqueue(ctx, msg, h.sendTimeout) {
		h.logger.Warn("Dropped notification for slow connection", "connection", c.id, "channel", id)
	}
}

// Run blocks until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.shutdownClients()
}

func (h *Hub) shutdownClients() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.Unregister(c)
	}
}

// ChannelID derives the id of the channel of roomID with the given policy.
func ChannelID(roomID string, policy notify.Channel) string {
	sum := blake3.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%s\x00%t", roomID, policy.Scope, policy.Users, policy.Cluster)))
	return roomID + "-" + hex.EncodeToString(sum[:8])
}
