// Package notify turns document mutations into room notifications and fans
// them out to the channels listening on each room.
package notify

import (
	"github.com/syntrixbase/livequery/pkg/model"
)

// Type is the kind of notification.
type Type string

const (
	TypeDocument Type = "document"
	TypeUser     Type = "user"
	TypeServer   Type = "server"
)

// Scope tells whether a document entered or left a room. User
// notifications reuse it for joins (in) and leaves (out).
type Scope string

const (
	ScopeIn  Scope = "in"
	ScopeOut Scope = "out"
)

// Action is the mutation that produced a notification.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionReplace Action = "replace"
	ActionUpsert  Action = "upsert"
	ActionDelete  Action = "delete"
	ActionPublish Action = "publish"
	ActionJoin    Action = "subscribe"
	ActionLeave   Action = "unsubscribe"
)

// ParseAction returns the document action named s.
func ParseAction(s string) (Action, bool) {
	switch a := Action(s); a {
	case ActionCreate, ActionUpdate, ActionReplace, ActionUpsert, ActionDelete, ActionPublish:
		return a, true
	}
	return "", false
}

// Notification is the payload delivered to channels. The dispatcher copies
// it per room; a Notification is never modified once handed out.
type Notification struct {
	Type       Type                   `json:"type"`
	Room       string                 `json:"room,omitempty"`
	Scope      Scope                  `json:"scope,omitempty"`
	User       Scope                  `json:"user,omitempty"`
	Action     Action                 `json:"action,omitempty"`
	Index      string                 `json:"index,omitempty"`
	Collection string                 `json:"collection,omitempty"`
	ResourceID string                 `json:"_id,omitempty"`
	Content    model.Document         `json:"content,omitempty"`
	Volatile   map[string]interface{} `json:"volatile,omitempty"`
	Count      int                    `json:"count,omitempty"`
	Timestamp  int64                  `json:"timestamp"`
	RequestID  string                 `json:"requestId,omitempty"`
	Protocol   string                 `json:"protocol,omitempty"`
	Message    string                 `json:"message,omitempty"`
}

func (n *Notification) scopeLabel() string {
	switch n.Type {
	case TypeDocument:
		return string(n.Scope)
	case TypeUser:
		return string(n.User)
	}
	return ""
}
