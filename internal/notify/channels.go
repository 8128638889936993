package notify

import (
	"context"
	"errors"
)

// ErrVetoed is returned by a Pipe to drop a notification.
var ErrVetoed = errors.New("notification vetoed")

// Channel policies.
const (
	// PolicyAll accepts every scope, or every user event.
	PolicyAll = "all"
	// PolicyNone rejects every user event.
	PolicyNone = "none"
)

// Channel is the delivery policy of one channel of a room.
type Channel struct {
	// Scope is "all", "in" or "out".
	Scope string `json:"scope"`
	// Users is "all", "in", "out" or "none".
	Users string `json:"users"`
	// Cluster channels also receive notifications replicated from peers.
	Cluster bool `json:"cluster"`
}

// acceptsScope reports whether the channel wants document notifications of
// scope s.
func (c Channel) acceptsScope(s Scope) bool {
	return c.Scope == PolicyAll || c.Scope == string(s)
}

// acceptsUser reports whether the channel wants user notifications of kind s.
func (c Channel) acceptsUser(s Scope) bool {
	return c.Users == PolicyAll || c.Users == string(s)
}

// ChannelRegistry returns the channels of a room, keyed by channel id.
type ChannelRegistry interface {
	Channels(ctx context.Context, room string) (map[string]Channel, error)
}

// Sender hands notifications to the connection layer.
type Sender interface {
	// Broadcast delivers n to every connection listening on channels.
	Broadcast(ctx context.Context, channels []string, n *Notification) error

	// Send delivers n to one connection. With no channels the notification
	// is addressed to the connection itself.
	Send(ctx context.Context, connectionID string, channels []string, n *Notification) error
}

// Pipe transforms a notification before it is sent. Returning ErrVetoed
// drops it; any other error aborts that dispatch.
type Pipe func(ctx context.Context, n *Notification) (*Notification, error)

// Origin tells where a dispatch request comes from.
type Origin int

const (
	// OriginLocal notifications come from mutations applied on this node.
	OriginLocal Origin = iota
	// OriginCluster notifications were replicated from a peer and only go
	// to cluster channels.
	OriginCluster
)

func (o Origin) String() string {
	if o == OriginCluster {
		return "cluster"
	}
	return "local"
}

// Replicator forwards locally originated notifications to peers.
type Replicator interface {
	Replicate(ctx context.Context, rooms []string, n *Notification) error
}
