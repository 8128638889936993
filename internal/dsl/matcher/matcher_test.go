package matcher

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/syntrixbase/livequery/internal/dsl/compiler"
	"github.com/syntrixbase/livequery/internal/dsl/registry"
	"github.com/syntrixbase/livequery/pkg/model"
)

type fixture struct {
	t        *testing.T
	compiler *compiler.Compiler
	registry *registry.Registry
}

func newFixture(t *testing.T) *fixture {
	c, err := compiler.New()
	require.NoError(t, err)
	return &fixture{t: t, compiler: c, registry: registry.New()}
}

func (f *fixture) add(filter string) string {
	f.t.Helper()
	var raw map[string]interface{}
	if filter != "" {
		require.NoError(f.t, json.Unmarshal([]byte(filter), &raw))
	}
	sub, err := f.compiler.Compile("i", "c", raw)
	require.NoError(f.t, err)
	id, _, err := f.registry.Add(sub)
	require.NoError(f.t, err)
	return id
}

func doc(t *testing.T, s string) model.Document {
	t.Helper()
	var d model.Document
	require.NoError(t, json.Unmarshal([]byte(s), &d))
	return d
}

// counter counts evaluations per signature.
type counter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *counter) evaluate(p *compiler.Predicate, d map[string]interface{}) bool {
	c.mu.Lock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[p.Signature]++
	c.mu.Unlock()
	return p.Test(d)
}

func TestMatch_Basic(t *testing.T) {
	f := newFixture(t)
	adult := f.add(`{"range": {"age": {"gte": 18}}}`)
	open := f.add(`{"term": {"status": "open"}}`)
	both := f.add(`{"and": [{"range": {"age": {"gte": 18}}}, {"term": {"status": "open"}}]}`)
	nested := f.add(`{"term": {"address.city": "Paris"}}`)
	byID := f.add(`{"ids": {"values": ["doc-1"]}}`)
	m := New(f.registry)

	assert.Equal(t, sorted(adult, open, both), m.Match("i", "c", doc(t, `{"age": 20, "status": "open"}`), "doc-2"))
	assert.Equal(t, []string{adult}, m.Match("i", "c", doc(t, `{"age": 20, "status": "closed"}`), "doc-2"))
	assert.Equal(t, []string{nested}, m.Match("i", "c", doc(t, `{"address": {"city": "Paris"}}`), "doc-2"))
	assert.Equal(t, []string{byID}, m.Match("i", "c", doc(t, `{"age": 3}`), "doc-1"))
	assert.Empty(t, m.Match("i", "c", doc(t, `{"other": 1}`), "doc-2"))
	assert.Empty(t, m.Match("i", "unknown", doc(t, `{"age": 20}`), "doc-2"))
}

func TestMatch_Globals(t *testing.T) {
	f := newFixture(t)
	whole := f.add(``)
	notExists := f.add(`{"not": {"exists": {"field": "deletedAt"}}}`)
	m := New(f.registry)

	// The document never mentions deletedAt, so only the global path finds it.
	assert.Equal(t, sorted(whole, notExists), m.Match("i", "c", doc(t, `{"title": "x"}`), "d"))
	assert.Equal(t, []string{whole}, m.Match("i", "c", doc(t, `{"deletedAt": 12}`), "d"))
}

func TestMatch_CEL(t *testing.T) {
	f := newFixture(t)
	script := f.add(`{"cel": "doc.age >= 18.0"}`)
	m := New(f.registry)

	assert.Equal(t, []string{script}, m.Match("i", "c", doc(t, `{"age": 30}`), "d"))
	assert.Empty(t, m.Match("i", "c", doc(t, `{"age": 3}`), "d"))
}

func TestMatch_NegatedLeaf(t *testing.T) {
	f := newFixture(t)
	notOpen := f.add(`{"not": {"term": {"status": "open"}}}`)
	m := New(f.registry)

	assert.Equal(t, []string{notOpen}, m.Match("i", "c", doc(t, `{"status": "closed"}`), "d"))
	assert.Empty(t, m.Match("i", "c", doc(t, `{"status": "open"}`), "d"))
	// Negated leaves other than exists are discovered through their field.
	assert.Empty(t, m.Match("i", "c", doc(t, `{"other": 1}`), "d"))
}

func TestMatch_ShortCircuit(t *testing.T) {
	f := newFixture(t)
	f.add(`{"and": [{"not": {"exists": "x"}}, {"term": {"b": 2}}]}`)
	f.add(`{"or": [{"missing": "y"}, {"term": {"c": 3}}]}`)

	var calls counter
	m := New(f.registry, WithEvaluator(calls.evaluate))
	m.Match("i", "c", doc(t, `{"x": 1}`), "d")

	bSig := signature(t, f, `{"term": {"b": 2}}`)
	cSig := signature(t, f, `{"term": {"c": 3}}`)
	xSig := signature(t, f, `{"not": {"exists": "x"}}`)
	ySig := signature(t, f, `{"missing": "y"}`)

	assert.Equal(t, 1, calls.calls[xSig])
	assert.Equal(t, 1, calls.calls[ySig])
	assert.Zero(t, calls.calls[bSig], "and stops at the first false child")
	assert.Zero(t, calls.calls[cSig], "or stops at the first true child")
}

func TestMatch_AndSkipsLaterTerms(t *testing.T) {
	f := newFixture(t)
	id := f.add(`{"and": [{"term": {"a": 1}}, {"term": {"b": 2}}]}`)
	aSig := signature(t, f, `{"term": {"a": 1}}`)
	bSig := signature(t, f, `{"term": {"b": 2}}`)

	var calls counter
	m := New(f.registry, WithEvaluator(calls.evaluate))
	assert.Empty(t, m.Match("i", "c", doc(t, `{"a": 0}`), "d"))
	assert.Equal(t, 1, calls.calls[aSig])
	assert.Zero(t, calls.calls[bSig])

	// b is tested once to find candidates, the and still fails on a.
	var withB counter
	m = New(f.registry, WithEvaluator(withB.evaluate))
	assert.Empty(t, m.Match("i", "c", doc(t, `{"a": 0, "b": 2}`), "d"))
	assert.Equal(t, 1, withB.calls[bSig])

	assert.Equal(t, []string{id}, m.Match("i", "c", doc(t, `{"a": 1, "b": 2}`), "d"))
}

func TestMatch_EvaluatesSignatureOnce(t *testing.T) {
	f := newFixture(t)
	a := f.add(`{"term": {"a": 1}}`)
	b := f.add(`{"and": [{"term": {"a": 1}}, {"exists": "z"}]}`)
	c := f.add(`{"or": [{"term": {"q": 1}}, {"term": {"a": 1}}]}`)

	var calls counter
	m := New(f.registry, WithEvaluator(calls.evaluate))
	got := m.Match("i", "c", doc(t, `{"a": 1, "z": {"a": 1}}`), "d")

	assert.Equal(t, sorted(a, b, c), got)
	for sig, n := range calls.calls {
		assert.Equal(t, 1, n, "signature %s evaluated %d times", sig, n)
	}
}

func TestMatch_AfterUnregister(t *testing.T) {
	f := newFixture(t)
	id := f.add(`{"term": {"a": 1}}`)
	m := New(f.registry)

	d := doc(t, `{"a": 1}`)
	require.Equal(t, []string{id}, m.Match("i", "c", d, "d"))
	require.True(t, f.registry.Remove(id))
	assert.Empty(t, m.Match("i", "c", d, "d"))
}

func signature(t *testing.T, f *fixture, filter string) string {
	t.Helper()
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(filter), &raw))
	sub, err := f.compiler.Compile("i", "c", raw)
	require.NoError(t, err)
	require.Equal(t, compiler.KindLeaf, sub.Root.Kind)
	return sub.Root.Predicate.Signature
}

func sorted(ids ...string) []string {
	out := append([]string(nil), ids...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
