package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/syntrixbase/livequery/internal/metrics"
)

// Dispatcher selects the channels of a room that want a notification and
// hands it to the Sender.
type Dispatcher struct {
	registry ChannelRegistry
	sender   Sender
	pipes    []Pipe
	logger   *slog.Logger

	mu         sync.RWMutex
	replicator Replicator
}

// DispatcherOption configures the Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPipes appends pipes, run in order before every send.
func WithPipes(pipes ...Pipe) DispatcherOption {
	return func(d *Dispatcher) {
		d.pipes = append(d.pipes, pipes...)
	}
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(registry ChannelRegistry, sender Sender, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		sender:   sender,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("component", "notify-dispatcher")
	return d
}

// SetReplicator sets the replicator receiving locally originated
// notifications. nil disables replication.
func (d *Dispatcher) SetReplicator(r Replicator) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replicator = r
}

func (d *Dispatcher) replicate(ctx context.Context, rooms []string, n *Notification) {
	d.mu.RLock()
	r := d.replicator
	d.mu.RUnlock()
	if r == nil {
		return
	}
	if err := r.Replicate(ctx, rooms, n); err != nil {
		d.logger.Error("Failed to replicate notification", "type", n.Type, "rooms", len(rooms), "error", err)
	}
}

// NotifyDocument sends n to the channels of each room whose scope accepts
// it. Failures are logged per room and do not stop the fan-out.
func (d *Dispatcher) NotifyDocument(ctx context.Context, rooms []string, n Notification, origin Origin) {
	n.Type = TypeDocument
	for _, room := range rooms {
		d.notifyRoom(ctx, room, n, origin, func(c Channel) bool { return c.acceptsScope(n.Scope) })
	}
	if origin == OriginLocal && len(rooms) > 0 {
		d.replicate(ctx, rooms, &n)
	}
}

// NotifyUser sends a join or leave notification to the channels of room
// whose users policy accepts it.
func (d *Dispatcher) NotifyUser(ctx context.Context, room string, n Notification, origin Origin) {
	n.Type = TypeUser
	d.notifyRoom(ctx, room, n, origin, func(c Channel) bool { return c.acceptsUser(n.User) })
	if origin == OriginLocal {
		d.replicate(ctx, []string{room}, &n)
	}
}

// NotifyServer sends a server notification to one connection.
func (d *Dispatcher) NotifyServer(ctx context.Context, connectionID string, n Notification) error {
	n.Type = TypeServer
	return d.Dispatch(ctx, nil, &n, connectionID)
}

func (d *Dispatcher) notifyRoom(ctx context.Context, room string, n Notification, origin Origin, accept func(Channel) bool) {
	channels, err := d.registry.Channels(ctx, room)
	if err != nil {
		metrics.DispatchErrors.WithLabelValues(string(n.Type)).Inc()
		d.logger.Error("Failed to look up room channels", "room", room, "error", err)
		return
	}

	selected := make([]string, 0, len(channels))
	for id, c := range channels {
		if origin == OriginCluster && !c.Cluster {
			continue
		}
		if accept(c) {
			selected = append(selected, id)
		}
	}
	if len(selected) == 0 {
		return
	}
	sort.Strings(selected)

	n.Room = room
	if err := d.Dispatch(ctx, selected, &n, ""); err != nil && !errors.Is(err, ErrVetoed) {
		d.logger.Error("Failed to dispatch notification",
			"type", n.Type, "room", room, "origin", origin.String(), "error", err)
	}
}

// Dispatch runs n through the pipes and sends it to channels, either to
// the single connection connectionID or, when empty, to every listener.
func (d *Dispatcher) Dispatch(ctx context.Context, channels []string, n *Notification, connectionID string) error {
	for _, pipe := range d.pipes {
		out, err := pipe(ctx, n)
		if err != nil {
			if errors.Is(err, ErrVetoed) {
				metrics.NotificationsVetoed.WithLabelValues(string(n.Type)).Inc()
				return err
			}
			metrics.DispatchErrors.WithLabelValues(string(n.Type)).Inc()
			return fmt.Errorf("pipe failed: %w", err)
		}
		if out != nil {
			n = out
		}
	}

	var err error
	if connectionID != "" {
		err = d.sender.Send(ctx, connectionID, channels, n)
	} else {
		err = d.sender.Broadcast(ctx, channels, n)
	}
	if err != nil {
		metrics.DispatchErrors.WithLabelValues(string(n.Type)).Inc()
		return err
	}
	metrics.NotificationsSent.WithLabelValues(string(n.Type), n.scopeLabel()).Inc()
	return nil
}
