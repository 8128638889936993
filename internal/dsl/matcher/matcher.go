// Package matcher finds the subscriptions a document satisfies.
package matcher

import (
	"log/slog"
	"sort"

	"github.com/syntrixbase/livequery/internal/dsl/compiler"
	"github.com/syntrixbase/livequery/internal/dsl/registry"
	"github.com/syntrixbase/livequery/pkg/model"
)

// Evaluator tests a single predicate against a document.
type Evaluator func(p *compiler.Predicate, doc map[string]interface{}) bool

// Matcher evaluates documents against a registry.
type Matcher struct {
	registry *registry.Registry
	evaluate Evaluator
	logger   *slog.Logger
}

// Option configures the Matcher.
type Option func(*Matcher)

// WithEvaluator replaces the leaf evaluator.
func WithEvaluator(e Evaluator) Option {
	return func(m *Matcher) {
		m.evaluate = e
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Matcher) {
		m.logger = logger
	}
}

// New creates a matcher over r.
func New(r *registry.Registry, opts ...Option) *Matcher {
	m := &Matcher{
		registry: r,
		evaluate: func(p *compiler.Predicate, doc map[string]interface{}) bool {
			return p.Test(doc)
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "matcher")
	return m
}

// Match returns the sorted ids of the subscriptions of index and collection
// that doc satisfies. docID is exposed to filters as the `_id` field.
func (m *Matcher) Match(index, collection string, doc model.Document, docID string) []string {
	target := doc.WithID(docID)
	matched := make(map[string]struct{})

	m.registry.Read(index, collection, func(v registry.View) {
		// Results are memoised per signature for the duration of the call.
		memo := make(map[string]bool)
		test := func(p *compiler.Predicate) bool {
			if result, ok := memo[p.Signature]; ok {
				return result
			}
			result := m.evaluate(p, target)
			memo[p.Signature] = result
			return result
		}

		// A tree without NOT nodes can only hold when one of its leaves
		// holds, so only true leaves contribute candidates.
		candidates := make(map[string]struct{})
		if v.HasFields() {
			for _, key := range target.Paths() {
				for _, entry := range v.Entries(key) {
					if !test(entry.Predicate) {
						continue
					}
					for _, id := range entry.IDs {
						candidates[id] = struct{}{}
					}
				}
			}
		}
		for _, id := range v.GlobalIDs() {
			candidates[id] = struct{}{}
		}

		for id := range candidates {
			sub, ok := v.Subscription(id)
			if !ok {
				m.logger.Error("Registered id has no subscription",
					"index", index, "collection", collection, "subscription", id)
				continue
			}
			if sub.IsWholeCollection() || fold(sub.Root, test) {
				matched[id] = struct{}{}
			}
		}
	})

	out := make([]string, 0, len(matched))
	for id := range matched {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// fold evaluates n, stopping an and at the first false child and an or at
// the first true child.
func fold(n *compiler.Node, test func(*compiler.Predicate) bool) bool {
	switch n.Kind {
	case compiler.KindLeaf:
		return test(n.Predicate)
	case compiler.KindAnd:
		for _, c := range n.Children {
			if !fold(c, test) {
				return false
			}
		}
		return true
	case compiler.KindOr:
		for _, c := range n.Children {
			if fold(c, test) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
