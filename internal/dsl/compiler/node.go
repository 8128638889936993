package compiler

import "strings"

// Kind is the node type of a compiled filter tree.
type Kind int

const (
	// KindLeaf holds a single predicate.
	KindLeaf Kind = iota
	// KindAnd is true when every child is true.
	KindAnd
	// KindOr is true when any child is true.
	KindOr
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindAnd:
		return "and"
	case KindOr:
		return "or"
	default:
		return "leaf"
	}
}

// Node is a compiled filter tree. Trees are immutable once registered.
type Node struct {
	Kind      Kind
	Predicate *Predicate
	Children  []*Node
}

func leafNode(p *Predicate) *Node {
	return &Node{Kind: KindLeaf, Predicate: p}
}

// combine builds an and/or node, inlining children of the same kind and
// collapsing single-child combinators.
func combine(kind Kind, children []*Node) *Node {
	if len(children) == 1 {
		return children[0]
	}
	flat := make([]*Node, 0, len(children))
	for _, c := range children {
		if c.Kind == kind {
			flat = append(flat, c.Children...)
			continue
		}
		flat = append(flat, c)
	}
	return &Node{Kind: kind, Children: flat}
}

// Walk calls fn for every leaf in evaluation order.
func (n *Node) Walk(fn func(p *Predicate)) {
	if n == nil {
		return
	}
	if n.Kind == KindLeaf {
		fn(n.Predicate)
		return
	}
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Canonical renders the tree structure over leaf signatures.
func (n *Node) Canonical() string {
	var sb strings.Builder
	n.canonical(&sb)
	return sb.String()
}

func (n *Node) canonical(sb *strings.Builder) {
	if n == nil {
		sb.WriteString("*")
		return
	}
	if n.Kind == KindLeaf {
		sb.WriteString(n.Predicate.Signature)
		return
	}
	sb.WriteString(n.Kind.String())
	sb.WriteByte('(')
	for i, c := range n.Children {
		if i > 0 {
			sb.WriteByte(',')
		}
		c.canonical(sb)
	}
	sb.WriteByte(')')
}

// Rebind returns a copy of the tree whose leaves use the predicate returned by
// fn for their signature. Used to share predicates between subscriptions.
func (n *Node) Rebind(fn func(p *Predicate) *Predicate) *Node {
	if n == nil {
		return nil
	}
	if n.Kind == KindLeaf {
		return leafNode(fn(n.Predicate))
	}
	children := make([]*Node, len(n.Children))
	for i, c := range n.Children {
		children[i] = c.Rebind(fn)
	}
	return &Node{Kind: n.Kind, Children: children}
}
