package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/syntrixbase/livequery/internal/core/cache"
	"github.com/syntrixbase/livequery/internal/metrics"
	"github.com/syntrixbase/livequery/pkg/model"
	"golang.org/x/sync/errgroup"
)

// Matcher returns the sorted rooms a document belongs to.
type Matcher interface {
	Match(index, collection string, doc model.Document, docID string) []string
}

// DocumentEvent is one mutated document. Content is the document after
// the mutation, or before it for deletions.
type DocumentEvent struct {
	Index      string                 `json:"index"`
	Collection string                 `json:"collection"`
	ID         string                 `json:"_id"`
	Content    model.Document         `json:"content"`
	Volatile   map[string]interface{} `json:"volatile,omitempty"`
	RequestID  string                 `json:"requestId,omitempty"`
	Protocol   string                 `json:"protocol,omitempty"`
}

// CacheKey is the cache key remembering the rooms of a document. The
// braces keep one collection's keys on one shard of a clustered store.
func CacheKey(index, collection, id string) string {
	return fmt.Sprintf("{notif/%s/%s}/%s", index, collection, id)
}

// Notifier drives the in/out state machine of documents: it matches each
// mutated document, compares the result with the rooms cached for it and
// dispatches the difference.
type Notifier struct {
	matcher     Matcher
	dispatcher  *Dispatcher
	store       cache.Store
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// NotifierOption configures the Notifier.
type NotifierOption func(*Notifier)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) NotifierOption {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// WithConcurrency bounds the documents of a batch processed at once.
func WithConcurrency(limit int) NotifierOption {
	return func(n *Notifier) {
		n.concurrency = limit
	}
}

// WithClock replaces time.Now for notification timestamps.
func WithClock(now func() time.Time) NotifierOption {
	return func(n *Notifier) {
		n.now = now
	}
}

// NewNotifier creates a notifier.
func NewNotifier(matcher Matcher, dispatcher *Dispatcher, store cache.Store, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		matcher:     matcher,
		dispatcher:  dispatcher,
		store:       store,
		concurrency: DefaultConfig().Concurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.concurrency <= 0 {
		n.concurrency = DefaultConfig().Concurrency
	}
	if n.logger == nil {
		n.logger = slog.Default()
	}
	n.logger = n.logger.With("component", "notifier")
	return n
}

// NotifyDocumentCreate notifies the rooms a new document entered.
func (n *Notifier) NotifyDocumentCreate(ctx context.Context, ev DocumentEvent) ([]string, error) {
	return n.NotifyDocuments(ctx, ActionCreate, []DocumentEvent{ev})
}

// NotifyDocumentUpdate notifies the rooms a partially updated document is
// in, and the rooms it left.
func (n *Notifier) NotifyDocumentUpdate(ctx context.Context, ev DocumentEvent) ([]string, error) {
	return n.NotifyDocuments(ctx, ActionUpdate, []DocumentEvent{ev})
}

// NotifyDocumentReplace is NotifyDocumentUpdate for full replacements.
func (n *Notifier) NotifyDocumentReplace(ctx context.Context, ev DocumentEvent) ([]string, error) {
	return n.NotifyDocuments(ctx, ActionReplace, []DocumentEvent{ev})
}

// NotifyDocumentUpsert is NotifyDocumentUpdate for upserts.
func (n *Notifier) NotifyDocumentUpsert(ctx context.Context, ev DocumentEvent) ([]string, error) {
	return n.NotifyDocuments(ctx, ActionUpsert, []DocumentEvent{ev})
}

// NotifyDocumentDelete notifies the rooms a deleted document leaves.
func (n *Notifier) NotifyDocumentDelete(ctx context.Context, ev DocumentEvent) ([]string, error) {
	return n.NotifyDocuments(ctx, ActionDelete, []DocumentEvent{ev})
}

// NotifyDocumentPublish notifies the rooms a volatile message matches. No
// state is kept.
func (n *Notifier) NotifyDocumentPublish(ctx context.Context, ev DocumentEvent) ([]string, error) {
	return n.NotifyDocuments(ctx, ActionPublish, []DocumentEvent{ev})
}

// docState is the per-document work of a batch.
type docState struct {
	ev      DocumentEvent
	key     string
	matched []string
	left    []string
}

// NotifyDocuments applies action to every event and returns the sorted
// union of matched rooms. Cache I/O is batched across events. Cache
// failures are logged and returned but notifications are still sent, with
// the previous rooms of unreadable entries treated as empty. Cancelling ctx
// does not interrupt the work.
func (n *Notifier) NotifyDocuments(ctx context.Context, action Action, events []DocumentEvent) ([]string, error) {
	if _, ok := ParseAction(string(action)); !ok {
		return nil, fmt.Errorf("unknown action %q", action)
	}
	if len(events) == 0 {
		return nil, nil
	}
	ctx = context.WithoutCancel(ctx)

	states := make([]*docState, len(events))
	for i, ev := range events {
		states[i] = &docState{ev: ev, key: CacheKey(ev.Index, ev.Collection, ev.ID)}
	}

	n.forEach(states, func(s *docState) {
		s.matched = n.matcher.Match(s.ev.Index, s.ev.Collection, s.ev.Content, s.ev.ID)
	})

	var errs []error
	switch action {
	case ActionCreate:
		errs = append(errs, n.writeCache(ctx, states, false)...)
	case ActionUpdate, ActionReplace, ActionUpsert:
		prev, err := n.readCache(ctx, states)
		if err != nil {
			errs = append(errs, err)
		}
		for i, s := range states {
			s.left = difference(prev[i], s.matched)
		}
		errs = append(errs, n.writeCache(ctx, states, true)...)
	case ActionDelete:
		errs = append(errs, n.deleteCache(ctx, states))
	}

	ts := n.now().UnixMilli()
	n.forEach(states, func(s *docState) {
		n.dispatch(ctx, action, s, ts)
	})

	return union(states), errors.Join(errs...)
}

func (n *Notifier) dispatch(ctx context.Context, action Action, s *docState, ts int64) {
	base := Notification{
		Action:     action,
		Index:      s.ev.Index,
		Collection: s.ev.Collection,
		ResourceID: s.ev.ID,
		Volatile:   s.ev.Volatile,
		Timestamp:  ts,
		RequestID:  s.ev.RequestID,
		Protocol:   s.ev.Protocol,
	}

	if len(s.matched) > 0 {
		in := base
		in.Scope = ScopeIn
		in.Content = s.ev.Content
		if action == ActionDelete {
			in.Scope = ScopeOut
		}
		n.dispatcher.NotifyDocument(ctx, s.matched, in, OriginLocal)
	}
	if len(s.left) > 0 {
		out := base
		out.Scope = ScopeOut
		n.dispatcher.NotifyDocument(ctx, s.left, out, OriginLocal)
	}
}

func (n *Notifier) forEach(states []*docState, fn func(*docState)) {
	if len(states) == 1 {
		fn(states[0])
		return
	}
	var g errgroup.Group
	g.SetLimit(n.concurrency)
	for _, s := range states {
		g.Go(func() error {
			fn(s)
			return nil
		})
	}
	_ = g.Wait()
}

func (n *Notifier) readCache(ctx context.Context, states []*docState) ([][]string, error) {
	prev := make([][]string, len(states))
	keys := make([]string, len(states))
	for i, s := range states {
		keys[i] = s.key
	}

	metrics.CacheOperations.WithLabelValues("mget").Inc()
	values, err := n.store.MGet(ctx, keys)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("mget").Inc()
		n.logger.Error("Failed to read notification cache", "keys", len(keys), "error", err)
		return prev, fmt.Errorf("failed to read notification cache: %w", err)
	}

	for i, v := range values {
		if v == nil {
			continue
		}
		var rooms []string
		if err := json.Unmarshal(v, &rooms); err != nil {
			n.logger.Error("Discarding corrupt notification cache entry", "key", keys[i], "error", err)
			continue
		}
		prev[i] = rooms
	}
	return prev, nil
}

// writeCache stores the matched rooms of every document. When purge is set,
// documents that match nothing have their entry removed.
func (n *Notifier) writeCache(ctx context.Context, states []*docState, purge bool) []error {
	entries := make(map[string][]byte)
	var stale []string
	for _, s := range states {
		if len(s.matched) == 0 {
			if purge {
				stale = append(stale, s.key)
			}
			continue
		}
		data, err := json.Marshal(s.matched)
		if err != nil {
			return []error{fmt.Errorf("failed to encode rooms of %s: %w", s.ev.ID, err)}
		}
		entries[s.key] = data
	}

	var errs []error
	if len(entries) > 0 {
		metrics.CacheOperations.WithLabelValues("mset").Inc()
		if err := n.store.MSet(ctx, entries); err != nil {
			metrics.CacheErrors.WithLabelValues("mset").Inc()
			n.logger.Error("Failed to write notification cache", "keys", len(entries), "error", err)
			errs = append(errs, fmt.Errorf("failed to write notification cache: %w", err))
		}
	}
	if len(stale) > 0 {
		metrics.CacheOperations.WithLabelValues("mdel").Inc()
		if err := n.store.MDel(ctx, stale); err != nil {
			metrics.CacheErrors.WithLabelValues("mdel").Inc()
			n.logger.Error("Failed to clear notification cache", "keys", len(stale), "error", err)
			errs = append(errs, fmt.Errorf("failed to clear notification cache: %w", err))
		}
	}
	return errs
}

func (n *Notifier) deleteCache(ctx context.Context, states []*docState) error {
	keys := make([]string, len(states))
	for i, s := range states {
		keys[i] = s.key
	}
	metrics.CacheOperations.WithLabelValues("mdel").Inc()
	if err := n.store.MDel(ctx, keys); err != nil {
		metrics.CacheErrors.WithLabelValues("mdel").Inc()
		n.logger.Error("Failed to clear notification cache", "keys", len(keys), "error", err)
		return fmt.Errorf("failed to clear notification cache: %w", err)
	}
	return nil
}

// difference returns the elements of prev missing from matched, which is
// sorted.
func difference(prev, matched []string) []string {
	var out []string
	for _, room := range prev {
		i := sort.SearchStrings(matched, room)
		if i < len(matched) && matched[i] == room {
			continue
		}
		out = append(out, room)
	}
	return out
}

func union(states []*docState) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, s := range states {
		for _, room := range s.matched {
			if _, ok := seen[room]; ok {
				continue
			}
			seen[room] = struct{}{}
			out = append(out, room)
		}
	}
	sort.Strings(out)
	return out
}
