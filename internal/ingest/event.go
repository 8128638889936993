package ingest

import (
	"errors"
	"fmt"

	"github.com/syntrixbase/livequery/internal/notify"
	"github.com/syntrixbase/livequery/pkg/model"
)

var (
	// ErrInvalidEvent is returned for change events missing required fields.
	ErrInvalidEvent = errors.New("invalid change event")
)

// ChangeEvent is a batch of mutations of one action on one collection, as
// published by the storage layer.
type ChangeEvent struct {
	Action     string                 `json:"action"`
	Index      string                 `json:"index"`
	Collection string                 `json:"collection"`
	Documents  []Document             `json:"documents"`
	Volatile   map[string]interface{} `json:"volatile,omitempty"`
	RequestID  string                 `json:"requestId,omitempty"`
	Protocol   string                 `json:"protocol,omitempty"`
}

// Document is one mutated document. Source is the document after the
// mutation, or before it for deletions.
type Document struct {
	ID     string         `json:"_id"`
	Source model.Document `json:"_source"`
}

// Validate checks the event and returns its action.
func (e *ChangeEvent) Validate() (notify.Action, error) {
	action, ok := notify.ParseAction(e.Action)
	if !ok {
		return "", fmt.Errorf("%w: unknown action %q", ErrInvalidEvent, e.Action)
	}
	if e.Index == "" || e.Collection == "" {
		return "", fmt.Errorf("%w: index and collection are required", ErrInvalidEvent)
	}
	for i, d := range e.Documents {
		if d.ID == "" && action != notify.ActionPublish {
			return "", fmt.Errorf("%w: documents[%d] has no _id", ErrInvalidEvent, i)
		}
		if d.ID != "" && !model.CheckDocumentID(d.ID) {
			return "", fmt.Errorf("%w: documents[%d] has an invalid _id %q", ErrInvalidEvent, i, d.ID)
		}
	}
	return action, nil
}

// DocumentEvents converts the event for the notifier.
func (e *ChangeEvent) DocumentEvents() []notify.DocumentEvent {
	out := make([]notify.DocumentEvent, len(e.Documents))
	for i, d := range e.Documents {
		out[i] = notify.DocumentEvent{
			Index:      e.Index,
			Collection: e.Collection,
			ID:         d.ID,
			Content:    d.Source,
			Volatile:   e.Volatile,
			RequestID:  e.RequestID,
			Protocol:   e.Protocol,
		}
	}
	return out
}

// partitionKey keeps the events of one collection on one worker, in order.
func (e *ChangeEvent) partitionKey() string {
	return e.Index + "/" + e.Collection
}
