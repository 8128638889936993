package compiler

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/syntrixbase/livequery/internal/dsl/operator"
	"github.com/zeebo/blake3"
)

// Predicate is a compiled leaf condition. Predicates with equal signatures are
// interchangeable and are evaluated once per document.
type Predicate struct {
	Operator  operator.Operator
	Field     string
	Value     interface{}
	Negate    bool
	Signature string
}

type canonicalPredicate struct {
	Operator operator.Operator `json:"op"`
	Field    string            `json:"field"`
	Value    interface{}       `json:"value"`
	Negate   bool              `json:"not"`
}

// NewPredicate builds a predicate and derives its signature from the
// canonical JSON form of (operator, field, value, negate). value must already
// be normalised (see operator.Normalize) for equal values to share a signature.
func NewPredicate(op operator.Operator, field string, value interface{}, negate bool) (*Predicate, error) {
	data, err := json.Marshal(canonicalPredicate{Operator: op, Field: field, Value: value, Negate: negate})
	if err != nil {
		return nil, fmt.Errorf("%w: value of %s on %q cannot be serialized: %v", ErrInvalidFilter, op, field, err)
	}
	return &Predicate{
		Operator:  op,
		Field:     field,
		Value:     value,
		Negate:    negate,
		Signature: digest(data),
	}, nil
}

// Test evaluates the predicate against doc.
func (p *Predicate) Test(doc map[string]interface{}) bool {
	return operator.Evaluate(p.Operator, p.Field, p.Value, doc) != p.Negate
}

// MatchesAbsent reports whether the predicate can hold for a document that
// lacks its field.
func (p *Predicate) MatchesAbsent() bool {
	return p.Operator.MatchesAbsent(p.Negate)
}

func digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:16])
}
