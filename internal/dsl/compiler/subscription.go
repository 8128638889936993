package compiler

// Subscription is a compiled filter bound to an index and collection.
type Subscription struct {
	// ID identifies the subscription (room). Defaults to Hash.
	ID string

	Index      string
	Collection string

	// Root is the compiled tree; nil for a whole-collection subscription.
	Root *Node

	// Global subscriptions are evaluated for every document of the
	// collection, not only for documents carrying one of their fields.
	Global bool

	// Hash identifies the normalised filter within index and collection.
	Hash string
}

// Predicates returns the distinct predicates of the tree in evaluation order.
func (s *Subscription) Predicates() []*Predicate {
	seen := make(map[string]struct{})
	var out []*Predicate
	s.Root.Walk(func(p *Predicate) {
		if _, ok := seen[p.Signature]; ok {
			return
		}
		seen[p.Signature] = struct{}{}
		out = append(out, p)
	})
	return out
}

// IsWholeCollection reports whether the subscription matches every document.
func (s *Subscription) IsWholeCollection() bool {
	return s.Root == nil
}
