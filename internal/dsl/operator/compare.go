package operator

import (
	"encoding/json"

	"github.com/syntrixbase/livequery/pkg/model"
)

// Normalize converts every numeric kind to float64 so that values compare and
// serialise identically regardless of how they were decoded. Arrays and
// objects are normalised recursively; other values are returned unchanged.
func Normalize(v interface{}) interface{} {
	if f, ok := toFloat(v); ok {
		return f
	}
	switch t := v.(type) {
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = Normalize(e)
		}
		return out
	case model.Document:
		return Normalize(map[string]interface{}(t))
	}
	return v
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// IsScalar reports whether v is a value term/terms can compare: null, bool,
// string or number.
func IsScalar(v interface{}) bool {
	switch v.(type) {
	case nil, bool, string:
		return true
	}
	_, ok := toFloat(v)
	return ok
}

// equals is strict equality over scalars; numbers compare by value.
func equals(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

func compareField(op Operator, field string, value interface{}, doc map[string]interface{}) bool {
	v, ok := model.Lookup(doc, field)
	if !ok {
		return false
	}
	c, ok := compare(v, value)
	if !ok {
		return false
	}
	switch op {
	case Gt:
		return c > 0
	case Gte:
		return c >= 0
	case Lt:
		return c < 0
	case Lte:
		return c <= 0
	}
	return false
}

// compare orders numbers numerically and strings lexicographically.
// Mixed or non-comparable kinds are reported as not comparable.
func compare(a, b interface{}) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	sa, ok := a.(string)
	if !ok {
		return 0, false
	}
	sb, ok := b.(string)
	if !ok {
		return 0, false
	}
	switch {
	case sa < sb:
		return -1, true
	case sa > sb:
		return 1, true
	}
	return 0, true
}

// IsComparable reports whether v can be used as a range bound.
func IsComparable(v interface{}) bool {
	if _, ok := v.(string); ok {
		return true
	}
	_, ok := toFloat(v)
	return ok
}
