package operator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/syntrixbase/livequery/pkg/model"
)

func TestEvaluate_Comparisons(t *testing.T) {
	doc := map[string]interface{}{
		"age":  17,
		"name": "bob",
		"nested": map[string]interface{}{
			"score": 4.5,
		},
		"falsy": 0,
	}

	tests := []struct {
		name     string
		op       Operator
		field    string
		value    interface{}
		expected bool
	}{
		{"gte equal", Gte, "age", 17.0, true},
		{"gte below", Gte, "age", 18.0, false},
		{"gt", Gt, "age", 16.0, true},
		{"gt equal", Gt, "age", 17.0, false},
		{"lte", Lte, "age", 17.0, true},
		{"lt", Lt, "age", 17.0, false},
		{"nested", Gt, "nested.score", 4.0, true},
		{"strings", Lt, "name", "carol", true},
		{"strings reversed", Gt, "name", "carol", false},
		{"mixed kinds", Gt, "name", 1.0, false},
		{"absent field", Lt, "missing", 100.0, false},
		{"falsy but present", Gte, "falsy", 0.0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Evaluate(tt.op, tt.field, tt.value, doc))
		})
	}
}

func TestEvaluate_EqualsAndIn(t *testing.T) {
	doc := map[string]interface{}{
		"status": "open",
		"count":  int64(3),
		"flag":   false,
		"none":   nil,
		"tags":   []interface{}{"a"},
	}

	assert.True(t, Evaluate(Equals, "status", "open", doc))
	assert.False(t, Evaluate(Equals, "status", "closed", doc))
	assert.True(t, Evaluate(Equals, "count", 3.0, doc), "numbers compare by value across kinds")
	assert.False(t, Evaluate(Equals, "count", "3", doc), "equality is strict")
	assert.True(t, Evaluate(Equals, "flag", false, doc))
	assert.True(t, Evaluate(Equals, "none", nil, doc))
	assert.False(t, Evaluate(Equals, "absent", nil, doc), "absent is not null")
	assert.False(t, Evaluate(Equals, "tags", []interface{}{"a"}, doc), "containers never compare equal")

	assert.True(t, Evaluate(In, "status", []interface{}{"closed", "open"}, doc))
	assert.False(t, Evaluate(In, "status", []interface{}{"closed"}, doc))
	assert.False(t, Evaluate(In, "status", "open", doc), "non-array payload")
	assert.False(t, Evaluate(In, "absent", []interface{}{nil}, doc))
}

func TestEvaluate_ExistsMissing(t *testing.T) {
	doc := map[string]interface{}{
		"str":        "",
		"zero":       0,
		"null":       nil,
		"emptyObj":   map[string]interface{}{},
		"obj":        map[string]interface{}{"a": 1},
		"emptyArr":   []interface{}{},
		"nullArr":    []interface{}{nil, nil},
		"partialArr": []interface{}{nil, 1},
		"doc":        model.Document{},
	}

	tests := []struct {
		field  string
		exists bool
	}{
		{"str", true},
		{"zero", true},
		{"null", false},
		{"emptyObj", false},
		{"obj", true},
		{"obj.a", true},
		{"emptyArr", false},
		{"nullArr", false},
		{"partialArr", true},
		{"doc", false},
		{"absent", false},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, tt.exists, Evaluate(Exists, tt.field, nil, doc))
			assert.Equal(t, !tt.exists, Evaluate(Missing, tt.field, nil, doc))
		})
	}
}

func TestEvaluate_UnknownOperatorOrPayload(t *testing.T) {
	doc := map[string]interface{}{"a": "x"}
	assert.False(t, Evaluate(Operator("nope"), "a", "x", doc))
	assert.False(t, Evaluate(Regexp, "a", "/x/", doc), "regexp needs a compiled pattern")
	assert.False(t, Evaluate(GeoBoundingBox, "a", map[string]interface{}{}, doc))
	assert.False(t, Evaluate(CEL, "", "true", doc))
}

func TestOperator_MatchesAbsent(t *testing.T) {
	assert.True(t, Exists.MatchesAbsent(true))
	assert.False(t, Exists.MatchesAbsent(false))
	assert.True(t, Missing.MatchesAbsent(false))
	assert.False(t, Missing.MatchesAbsent(true))
	assert.True(t, CEL.MatchesAbsent(false))
	assert.False(t, Equals.MatchesAbsent(true))
	assert.True(t, GeoPolygon.IsValid())
	assert.False(t, Operator("from").IsValid())
}

func TestNormalize(t *testing.T) {
	in := map[string]interface{}{
		"a": 1,
		"b": []interface{}{int32(2), "x"},
		"c": model.Document{"d": uint8(4)},
	}
	out := Normalize(in)
	assert.Equal(t, map[string]interface{}{
		"a": 1.0,
		"b": []interface{}{2.0, "x"},
		"c": map[string]interface{}{"d": 4.0},
	}, out)
	assert.True(t, IsScalar(nil))
	assert.True(t, IsScalar(int16(1)))
	assert.False(t, IsScalar([]interface{}{}))
	assert.True(t, IsComparable("a"))
	assert.False(t, IsComparable(true))
}
