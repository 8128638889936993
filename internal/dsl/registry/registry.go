// Package registry indexes compiled subscriptions by index, collection,
// field and predicate signature.
//
// Each (index, collection) pair is a shard with its own lock. Subscribe and
// unsubscribe on different collections never contend; the registry-level
// lock only guards the shard tree itself.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/syntrixbase/livequery/internal/dsl/compiler"
)

// ErrConflict is returned when an id is already registered for another filter.
var ErrConflict = errors.New("subscription id already registered with a different filter")

// Path locates one registration of a subscription. A global path points at
// the collection's global ids and carries no field or signature.
type Path struct {
	Index      string
	Collection string
	Field      string
	Signature  string
	Global     bool
}

// IsGlobal reports whether the path points at the collection's global ids.
func (p Path) IsGlobal() bool {
	return p.Global
}

// Entry is a shared predicate and the subscriptions using it.
type Entry struct {
	Predicate *compiler.Predicate
	IDs       []string
}

type record struct {
	sub   *compiler.Subscription
	paths []Path
}

type shard struct {
	index      string
	collection string

	mu sync.RWMutex
	// field -> signature -> entry
	fields    map[string]map[string]*Entry
	globalIDs []string
	subs      map[string]*record
	byHash    map[string]string

	// dropped is set once the shard has been pruned; writers that raced
	// with the prune retry on a fresh shard.
	dropped atomic.Bool
}

func newShard(index, collection string) *shard {
	return &shard{
		index:      index,
		collection: collection,
		fields:     make(map[string]map[string]*Entry),
		subs:       make(map[string]*record),
		byHash:     make(map[string]string),
	}
}

// Registry holds every registered subscription.
type Registry struct {
	mu sync.RWMutex
	// index -> collection -> shard
	indexes map[string]map[string]*shard

	ownersMu sync.Mutex
	// subscription id -> shard, for O(1) removal
	owners map[string]*shard
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		indexes: make(map[string]map[string]*shard),
		owners:  make(map[string]*shard),
	}
}

// Add publishes a compiled subscription. When sub.ID is empty the hash is used
// as id. A subscription whose filter is already registered in the same
// collection is not added again: the existing id is returned with created
// set to false.
func (r *Registry) Add(sub *compiler.Subscription) (id string, created bool, err error) {
	if sub == nil {
		return "", false, fmt.Errorf("%w: nil subscription", compiler.ErrInvalidFilter)
	}
	id = sub.ID
	if id == "" {
		id = sub.Hash
	}

	for {
		s := r.acquire(sub.Index, sub.Collection)
		got, ok, retry, err := r.addToShard(s, sub, id)
		if retry {
			continue
		}
		if err != nil {
			r.pruneIfEmpty(s)
		}
		return got, ok, err
	}
}

// pruneIfEmpty drops a shard left empty by a failed Add.
func (r *Registry) pruneIfEmpty(s *shard) {
	s.mu.Lock()
	drop := s.empty() && !s.dropped.Load()
	if drop {
		s.dropped.Store(true)
	}
	s.mu.Unlock()
	if drop {
		r.prune(s)
	}
}

func (r *Registry) addToShard(s *shard, sub *compiler.Subscription, id string) (string, bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dropped.Load() {
		return "", false, true, nil
	}
	if rec, ok := s.subs[id]; ok {
		if rec.sub.Hash == sub.Hash {
			return id, false, false, nil
		}
		return "", false, false, fmt.Errorf("%w: %s", ErrConflict, id)
	}
	if existing, ok := s.byHash[sub.Hash]; ok {
		return existing, false, false, nil
	}

	r.ownersMu.Lock()
	if _, taken := r.owners[id]; taken {
		r.ownersMu.Unlock()
		return "", false, false, fmt.Errorf("%w: %s", ErrConflict, id)
	}
	r.owners[id] = s
	r.ownersMu.Unlock()

	// Swap leaves for the shard's shared predicates before anything becomes
	// visible to readers.
	published := &compiler.Subscription{
		ID:         id,
		Index:      sub.Index,
		Collection: sub.Collection,
		Global:     sub.Global,
		Hash:       sub.Hash,
		Root: sub.Root.Rebind(func(p *compiler.Predicate) *compiler.Predicate {
			if e, ok := s.fields[p.Field][p.Signature]; ok {
				return e.Predicate
			}
			return p
		}),
	}

	rec := &record{sub: published}
	for _, p := range published.Predicates() {
		// Field-less leaves (cel) are never looked up by document path. Their
		// subscriptions are global and reach them through the fold.
		if p.Field == "" {
			continue
		}
		rec.paths = append(rec.paths, s.register(p, id))
	}
	if published.Global {
		rec.paths = append(rec.paths, s.registerGlobal(id))
	}
	s.subs[id] = rec
	s.byHash[sub.Hash] = id
	return id, true, false, nil
}

// acquire returns the live shard for index and collection, creating it (or
// replacing a dropped one) as needed.
func (r *Registry) acquire(index, collection string) *shard {
	r.mu.RLock()
	s := r.indexes[index][collection]
	r.mu.RUnlock()
	if s != nil && !s.dropped.Load() {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	collections, ok := r.indexes[index]
	if !ok {
		collections = make(map[string]*shard)
		r.indexes[index] = collections
	}
	s = collections[collection]
	if s == nil || s.dropped.Load() {
		s = newShard(index, collection)
		collections[collection] = s
	}
	return s
}

// register adds id to the entry for p, creating the entry if needed.
// Callers hold s.mu.
func (s *shard) register(p *compiler.Predicate, id string) Path {
	signatures, ok := s.fields[p.Field]
	if !ok {
		signatures = make(map[string]*Entry)
		s.fields[p.Field] = signatures
	}
	e, ok := signatures[p.Signature]
	if !ok {
		e = &Entry{Predicate: p}
		signatures[p.Signature] = e
	}
	e.IDs = appendUnique(e.IDs, id)
	return Path{Index: s.index, Collection: s.collection, Field: p.Field, Signature: p.Signature}
}

// registerGlobal adds id to the global ids. Callers hold s.mu.
func (s *shard) registerGlobal(id string) Path {
	s.globalIDs = appendUnique(s.globalIDs, id)
	return Path{Index: s.index, Collection: s.collection, Global: true}
}

func (s *shard) unregister(path Path, id string) {
	if path.IsGlobal() {
		s.globalIDs = removeID(s.globalIDs, id)
		return
	}
	signatures := s.fields[path.Field]
	e, ok := signatures[path.Signature]
	if !ok {
		return
	}
	e.IDs = removeID(e.IDs, id)
	if len(e.IDs) == 0 {
		delete(signatures, path.Signature)
	}
	if len(signatures) == 0 {
		delete(s.fields, path.Field)
	}
}

func (s *shard) empty() bool {
	return len(s.subs) == 0 && len(s.fields) == 0 && len(s.globalIDs) == 0
}

// Remove unregisters the subscription id and prunes empty nodes. It reports
// whether the id was registered.
func (r *Registry) Remove(id string) bool {
	for {
		s := r.owner(id)
		if s == nil {
			return false
		}
		if removed, retry := r.removeFromShard(s, id); !retry {
			return removed
		}
	}
}

func (r *Registry) owner(id string) *shard {
	r.ownersMu.Lock()
	defer r.ownersMu.Unlock()
	return r.owners[id]
}

func (r *Registry) removeFromShard(s *shard, id string) (removed, retry bool) {
	s.mu.Lock()
	rec, ok := s.subs[id]
	if !ok {
		s.mu.Unlock()
		// The id moved to another shard since owner() was read.
		current := r.owner(id)
		return false, current != nil && current != s
	}
	for _, path := range rec.paths {
		s.unregister(path, id)
	}
	delete(s.subs, id)
	if s.byHash[rec.sub.Hash] == id {
		delete(s.byHash, rec.sub.Hash)
	}

	r.ownersMu.Lock()
	delete(r.owners, id)
	r.ownersMu.Unlock()

	drop := s.empty()
	if drop {
		s.dropped.Store(true)
	}
	s.mu.Unlock()

	if drop {
		r.prune(s)
	}
	return true, false
}

func (r *Registry) prune(s *shard) {
	r.mu.Lock()
	defer r.mu.Unlock()

	collections := r.indexes[s.index]
	if collections[s.collection] != s {
		return
	}
	delete(collections, s.collection)
	if len(collections) == 0 {
		delete(r.indexes, s.index)
	}
}

func (r *Registry) lookup(index, collection string) *shard {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.indexes[index][collection]
}

// Exists reports whether any subscription is registered on the collection.
func (r *Registry) Exists(index, collection string) bool {
	s := r.lookup(index, collection)
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs) > 0
}

// Fields returns the fields with at least one registered predicate.
func (r *Registry) Fields(index, collection string) map[string]struct{} {
	out := make(map[string]struct{})
	s := r.lookup(index, collection)
	if s == nil {
		return out
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for field := range s.fields {
		out[field] = struct{}{}
	}
	return out
}

// Subscription returns the published subscription for id.
func (r *Registry) Subscription(id string) (*compiler.Subscription, bool) {
	s := r.owner(id)
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.subs[id]
	if !ok {
		return nil, false
	}
	return rec.sub, true
}

// Paths returns the registrations recorded for id.
func (r *Registry) Paths(id string) []Path {
	s := r.owner(id)
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.subs[id]
	if !ok {
		return nil
	}
	out := make([]Path, len(rec.paths))
	copy(out, rec.paths)
	return out
}

// View is a read-locked view of one collection. It must not be retained
// after the callback passed to Read returns.
type View struct {
	s *shard
}

// Entries returns the signature -> entry map of field. Read only.
func (v View) Entries(field string) map[string]*Entry {
	if v.s == nil {
		return nil
	}
	return v.s.fields[field]
}

// HasFields reports whether any field predicate is registered.
func (v View) HasFields() bool {
	return v.s != nil && len(v.s.fields) > 0
}

// GlobalIDs returns the ids registered as global. Read only.
func (v View) GlobalIDs() []string {
	if v.s == nil {
		return nil
	}
	return v.s.globalIDs
}

// Subscription returns the subscription registered under id in this
// collection.
func (v View) Subscription(id string) (*compiler.Subscription, bool) {
	if v.s == nil {
		return nil, false
	}
	rec, ok := v.s.subs[id]
	if !ok {
		return nil, false
	}
	return rec.sub, true
}

// Read calls fn with a consistent view of the collection. fn is called with
// an empty view when nothing is registered.
func (r *Registry) Read(index, collection string, fn func(View)) {
	s := r.lookup(index, collection)
	if s == nil {
		fn(View{})
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(View{s: s})
}

// Stats summarises the registry content.
type Stats struct {
	Indexes       int
	Collections   int
	Fields        int
	Predicates    int
	Subscriptions int
	GlobalIDs     int
}

// Stats counts registered nodes.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	var st Stats
	st.Indexes = len(r.indexes)
	shards := make([]*shard, 0)
	for _, collections := range r.indexes {
		for _, s := range collections {
			shards = append(shards, s)
		}
	}
	r.mu.RUnlock()

	st.Collections = len(shards)
	for _, s := range shards {
		s.mu.RLock()
		st.Fields += len(s.fields)
		for _, signatures := range s.fields {
			st.Predicates += len(signatures)
		}
		st.Subscriptions += len(s.subs)
		st.GlobalIDs += len(s.globalIDs)
		s.mu.RUnlock()
	}
	return st
}

// IDs returns every registered subscription id, sorted.
func (r *Registry) IDs() []string {
	r.ownersMu.Lock()
	out := make([]string, 0, len(r.owners))
	for id := range r.owners {
		out = append(out, id)
	}
	r.ownersMu.Unlock()
	sort.Strings(out)
	return out
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// removeID returns ids without id. The backing array is never shared with
// the input so that slices handed out under a read lock stay valid.
func removeID(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
