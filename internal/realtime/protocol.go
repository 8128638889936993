package realtime

import (
	"encoding/json"
)

// Message types
const (
	TypeSubscribe      = "subscribe"
	TypeSubscribeAck   = "subscribe_ack"
	TypeUnsubscribe    = "unsubscribe"
	TypeUnsubscribeAck = "unsubscribe_ack"
	TypeCount          = "count"
	TypeCountAck       = "count_ack"
	TypeNotification   = "notification"
	TypeError          = "error"
)

// Error codes
const (
	CodeBadRequest     = "bad_request"
	CodeInvalidFilter  = "invalid_filter"
	CodeNotSubscribed  = "not_subscribed"
	CodeRateLimited    = "rate_limited"
	CodeUnknownMessage = "unknown_message"
)

// BaseMessage is the envelope for all messages. Notifications carry the
// channel id in ID.
type BaseMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload (Client -> Server)
type SubscribePayload struct {
	Index      string                 `json:"index"`
	Collection string                 `json:"collection"`
	Filter     map[string]interface{} `json:"filter,omitempty"`
	// Scope is "all" (default), "in" or "out".
	Scope string `json:"scope,omitempty"`
	// Users is "none" (default), "all", "in" or "out".
	Users string `json:"users,omitempty"`
	// Cluster defaults to true.
	Cluster  *bool                  `json:"cluster,omitempty"`
	Volatile map[string]interface{} `json:"volatile,omitempty"`
}

// SubscribeAckPayload (Server -> Client)
type SubscribeAckPayload struct {
	Room    string `json:"room"`
	Channel string `json:"channel"`
}

// RoomPayload names a room, for unsubscribe and count.
type RoomPayload struct {
	Room     string                 `json:"room"`
	Volatile map[string]interface{} `json:"volatile,omitempty"`
}

// CountAckPayload (Server -> Client)
type CountAckPayload struct {
	Room  string `json:"room"`
	Count int    `json:"count"`
}

// ErrorPayload
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func mustMarshal(v interface{}) []byte {
	b, _ := json.Marshal(v) // Should not fail for internal types
	return b
}

func errorMessage(id, code, message string) BaseMessage {
	return BaseMessage{ID: id, Type: TypeError, Payload: mustMarshal(ErrorPayload{Code: code, Message: message})}
}
