// Package operator implements the leaf predicates of the filter DSL.
//
// Every operator is pure and total: it never panics and never returns an
// error at match time. Payloads are validated and normalised by the compiler
// (see the Parse* functions), so Evaluate only ever sees well-formed values.
package operator

import (
	"github.com/syntrixbase/livequery/pkg/model"
)

// Operator names a leaf predicate.
type Operator string

const (
	Equals           Operator = "equals"
	In               Operator = "in"
	Gt               Operator = "gt"
	Gte              Operator = "gte"
	Lt               Operator = "lt"
	Lte              Operator = "lte"
	Exists           Operator = "exists"
	Missing          Operator = "missing"
	Regexp           Operator = "regexp"
	GeoBoundingBox   Operator = "geoBoundingBox"
	GeoDistance      Operator = "geoDistance"
	GeoDistanceRange Operator = "geoDistanceRange"
	GeoPolygon       Operator = "geoPolygon"
	CEL              Operator = "cel"
)

// IsValid checks if the operator is known.
func (op Operator) IsValid() bool {
	switch op {
	case Equals, In, Gt, Gte, Lt, Lte, Exists, Missing, Regexp,
		GeoBoundingBox, GeoDistance, GeoDistanceRange, GeoPolygon, CEL:
		return true
	}
	return false
}

// MatchesAbsent reports whether the operator, with the given negation, can be
// true for a document that does not contain the field at all. Such leaves
// cannot be discovered through field indexing.
func (op Operator) MatchesAbsent(negate bool) bool {
	switch op {
	case Exists:
		return negate
	case Missing:
		return !negate
	case CEL:
		return true
	}
	return false
}

// Evaluate tests doc against the operator. value must have the shape produced
// by the compiler for op; any other shape yields false.
func Evaluate(op Operator, field string, value interface{}, doc map[string]interface{}) bool {
	switch op {
	case Equals:
		v, ok := model.Lookup(doc, field)
		return ok && equals(v, value)
	case In:
		return in(field, value, doc)
	case Gt, Gte, Lt, Lte:
		return compareField(op, field, value, doc)
	case Exists:
		v, ok := model.Lookup(doc, field)
		return ok && hasContent(v)
	case Missing:
		v, ok := model.Lookup(doc, field)
		return !ok || !hasContent(v)
	case Regexp:
		p, ok := value.(*Pattern)
		return ok && p.matchField(field, doc)
	case GeoBoundingBox:
		box, ok := value.(BoundingBox)
		return ok && geoBoundingBox(field, box, doc)
	case GeoDistance:
		d, ok := value.(Distance)
		return ok && geoDistance(field, d, doc)
	case GeoDistanceRange:
		r, ok := value.(DistanceRange)
		return ok && geoDistanceRange(field, r, doc)
	case GeoPolygon:
		p, ok := value.(Polygon)
		return ok && geoPolygon(field, p, doc)
	case CEL:
		s, ok := value.(*Script)
		return ok && s.Eval(doc)
	}
	return false
}

func in(field string, value interface{}, doc map[string]interface{}) bool {
	values, ok := value.([]interface{})
	if !ok {
		return false
	}
	v, ok := model.Lookup(doc, field)
	if !ok {
		return false
	}
	for _, candidate := range values {
		if equals(v, candidate) {
			return true
		}
	}
	return false
}

// hasContent is the "exists" check: non-null, non-empty containers, and at
// least one non-null array element.
func hasContent(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case []interface{}:
		for _, e := range t {
			if e != nil {
				return true
			}
		}
		return false
	case map[string]interface{}:
		return len(t) > 0
	case model.Document:
		return len(t) > 0
	}
	return true
}
