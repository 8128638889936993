package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/syntrixbase/livequery/internal/notify"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
)

// Send pings to peer with this period. Must be less than pongWait.
var pingPeriod = (pongWait * 9) / 10

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	cfg    Config
	logger *slog.Logger

	// Buffered channel of outbound messages.
	send chan []byte

	limiter *rate.Limiter

	mu     sync.RWMutex
	closed bool

	// rooms maps joined rooms to their channel ids. Guarded by hub.mu.
	rooms map[string]map[string]struct{}
}

func newClient(hub *Hub, conn *websocket.Conn, cfg Config, logger *slog.Logger) *Client {
	id := uuid.NewString()
	c := &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		cfg:    cfg,
		logger: logger.With("connection", id),
		send:   make(chan []byte, cfg.SendBufferSize),
		rooms:  make(map[string]map[string]struct{}),
	}
	if cfg.MessageRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.MessageRate), cfg.MessageBurst)
	}
	return c
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// enqueue queues msg for writing. A full queue is retried until timeout
// elapses; the message is dropped after that.
func (c *Client) enqueue(ctx context.Context, msg []byte, timeout time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
	}
	if timeout <= 0 {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case c.send <- msg:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) reply(ctx context.Context, msg BaseMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to encode reply", "type", msg.Type, "error", err)
		return
	}
	if !c.enqueue(ctx, b, c.cfg.SendTimeout) {
		c.logger.Warn("Dropped reply", "type", msg.Type, "id", msg.ID)
	}
}

func (c *Client) replyError(ctx context.Context, id, code, message string) {
	c.reply(ctx, errorMessage(id, code, message))
}

// readPump pumps messages from the websocket connection to the hub.
//
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	c.logger.Info("WebSocket connection established")

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket connection closed", "error", err)
			} else {
				c.logger.Info("WebSocket connection closed")
			}
			return
		}

		var msg BaseMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.replyError(ctx, "", CodeBadRequest, "malformed message")
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.replyError(ctx, msg.ID, CodeRateLimited, "too many requests")
			continue
		}
		c.handleMessage(ctx, msg)
	}
}

// writePump pumps messages from the hub to the websocket connection.
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(ctx context.Context, msg BaseMessage) {
	switch msg.Type {
	case TypeSubscribe:
		c.handleSubscribe(ctx, msg)
	case TypeUnsubscribe:
		c.handleUnsubscribe(ctx, msg)
	case TypeCount:
		c.handleCount(ctx, msg)
	default:
		c.replyError(ctx, msg.ID, CodeUnknownMessage, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (c *Client) handleSubscribe(ctx context.Context, msg BaseMessage) {
	var payload SubscribePayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.replyError(ctx, msg.ID, CodeBadRequest, "malformed subscribe payload")
		return
	}
	sub, err := payload.subscription()
	if err != nil {
		c.replyError(ctx, msg.ID, CodeBadRequest, err.Error())
		return
	}

	roomID, channelID, err := c.hub.Join(ctx, c, sub)
	if err != nil {
		c.logger.Debug("Subscription rejected", "index", sub.Index, "collection", sub.Collection, "error", err)
		c.replyError(ctx, msg.ID, CodeInvalidFilter, err.Error())
		return
	}
	c.reply(ctx, BaseMessage{
		ID:      msg.ID,
		Type:    TypeSubscribeAck,
		Payload: mustMarshal(SubscribeAckPayload{Room: roomID, Channel: channelID}),
	})
}

func (c *Client) handleUnsubscribe(ctx context.Context, msg BaseMessage) {
	var payload RoomPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Room == "" {
		c.replyError(ctx, msg.ID, CodeBadRequest, "unsubscribe requires a room")
		return
	}
	if err := c.hub.Leave(ctx, c, payload.Room, payload.Volatile); err != nil {
		code := CodeBadRequest
		if errors.Is(err, ErrNotSubscribed) {
			code = CodeNotSubscribed
		}
		c.replyError(ctx, msg.ID, code, err.Error())
		return
	}
	c.reply(ctx, BaseMessage{ID: msg.ID, Type: TypeUnsubscribeAck, Payload: mustMarshal(RoomPayload{Room: payload.Room})})
}

func (c *Client) handleCount(ctx context.Context, msg BaseMessage) {
	var payload RoomPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Room == "" {
		c.replyError(ctx, msg.ID, CodeBadRequest, "count requires a room")
		return
	}
	count, ok := c.hub.Count(payload.Room)
	if !ok {
		c.replyError(ctx, msg.ID, CodeNotSubscribed, "unknown room")
		return
	}
	c.reply(ctx, BaseMessage{ID: msg.ID, Type: TypeCountAck, Payload: mustMarshal(CountAckPayload{Room: payload.Room, Count: count})})
}

// subscription validates p and applies the channel defaults.
func (p SubscribePayload) subscription() (Subscription, error) {
	if p.Index == "" || p.Collection == "" {
		return Subscription{}, errors.New("subscribe requires index and collection")
	}
	policy := notify.Channel{Scope: notify.PolicyAll, Users: notify.PolicyNone, Cluster: true}
	if p.Scope != "" {
		policy.Scope = p.Scope
	}
	if p.Users != "" {
		policy.Users = p.Users
	}
	if p.Cluster != nil {
		policy.Cluster = *p.Cluster
	}

	switch policy.Scope {
	case notify.PolicyAll, string(notify.ScopeIn), string(notify.ScopeOut):
	default:
		return Subscription{}, fmt.Errorf("invalid scope %q", policy.Scope)
	}
	switch policy.Users {
	case notify.PolicyAll, notify.PolicyNone, string(notify.ScopeIn), string(notify.ScopeOut):
	default:
		return Subscription{}, fmt.Errorf("invalid users policy %q", policy.Users)
	}

	return Subscription{
		Index:      p.Index,
		Collection: p.Collection,
		Filter:     p.Filter,
		Channel:    policy,
		Volatile:   p.Volatile,
	}, nil
}
