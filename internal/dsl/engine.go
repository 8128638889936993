// Package dsl is the continuous-query engine: it compiles filters, keeps
// them in a field-indexed registry and matches documents against them.
package dsl

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/syntrixbase/livequery/internal/dsl/compiler"
	"github.com/syntrixbase/livequery/internal/dsl/matcher"
	"github.com/syntrixbase/livequery/internal/dsl/registry"
	"github.com/syntrixbase/livequery/internal/metrics"
	"github.com/syntrixbase/livequery/pkg/model"
)

// Engine compiles, registers and matches subscriptions. It is safe for
// concurrent use.
type Engine struct {
	compiler *compiler.Compiler
	registry *registry.Registry
	matcher  *matcher.Matcher
	logger   *slog.Logger
}

// Option configures the Engine.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	evaluator matcher.Evaluator
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEvaluator replaces the matcher's leaf evaluator.
func WithEvaluator(e matcher.Evaluator) Option {
	return func(o *options) {
		o.evaluator = e
	}
}

// New creates an engine.
func New(opts ...Option) (*Engine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	c, err := compiler.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create filter compiler: %w", err)
	}

	r := registry.New()
	matcherOpts := []matcher.Option{matcher.WithLogger(o.logger)}
	if o.evaluator != nil {
		matcherOpts = append(matcherOpts, matcher.WithEvaluator(o.evaluator))
	}

	return &Engine{
		compiler: c,
		registry: r,
		matcher:  matcher.New(r, matcherOpts...),
		logger:   o.logger.With("component", "dsl"),
	}, nil
}

// Validate compiles filter without registering it.
func (e *Engine) Validate(index, collection string, filter map[string]interface{}) error {
	_, err := e.compiler.Compile(index, collection, filter)
	return err
}

// Register compiles and registers filter. The returned id is derived from the
// normalised filter, so equivalent filters share one subscription.
func (e *Engine) Register(index, collection string, filter map[string]interface{}) (string, error) {
	return e.CompileAndRegister("", index, collection, filter)
}

// CompileAndRegister compiles filter and registers it under id. An empty id
// uses the filter hash. When an equivalent filter is already registered on
// the collection its id is returned instead. Nothing is registered on error.
func (e *Engine) CompileAndRegister(id, index, collection string, filter map[string]interface{}) (string, error) {
	sub, err := e.compiler.Compile(index, collection, filter)
	if err != nil {
		metrics.FiltersCompiled.WithLabelValues("error").Inc()
		return "", err
	}
	metrics.FiltersCompiled.WithLabelValues("ok").Inc()
	sub.ID = id

	registered, created, err := e.registry.Add(sub)
	if err != nil {
		return "", err
	}
	if created {
		metrics.SubscriptionsActive.Inc()
		e.logger.Debug("Subscription registered",
			"subscription", registered, "index", index, "collection", collection, "global", sub.Global)
	}
	return registered, nil
}

// Unregister removes the subscription. It reports whether it was registered.
func (e *Engine) Unregister(id string) bool {
	if !e.registry.Remove(id) {
		return false
	}
	metrics.SubscriptionsActive.Dec()
	e.logger.Debug("Subscription unregistered", "subscription", id)
	return true
}

// Match returns the sorted ids of the subscriptions doc satisfies.
func (e *Engine) Match(index, collection string, doc model.Document, docID string) []string {
	start := time.Now()
	ids := e.matcher.Match(index, collection, doc, docID)
	metrics.DocumentsMatched.WithLabelValues(index).Inc()
	metrics.MatchLatency.WithLabelValues(index).Observe(time.Since(start).Seconds())
	return ids
}

// Exists reports whether the collection has any subscription.
func (e *Engine) Exists(index, collection string) bool {
	return e.registry.Exists(index, collection)
}

// Fields returns the fields the collection's subscriptions filter on.
func (e *Engine) Fields(index, collection string) map[string]struct{} {
	return e.registry.Fields(index, collection)
}

// Subscription returns the registered subscription for id.
func (e *Engine) Subscription(id string) (*compiler.Subscription, bool) {
	return e.registry.Subscription(id)
}

// Stats returns registry statistics.
func (e *Engine) Stats() registry.Stats {
	return e.registry.Stats()
}
