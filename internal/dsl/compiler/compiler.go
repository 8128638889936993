// Package compiler turns filter DSL objects into predicate trees.
//
// Negation is resolved while compiling: `not` and `mustNot` flip a flag that
// is threaded down to the leaves, and combinators flip between and/or under
// negation. Compiled trees therefore contain no NOT nodes.
package compiler

import (
	"fmt"
	"sort"

	"github.com/syntrixbase/livequery/internal/dsl/operator"
	"github.com/syntrixbase/livequery/pkg/model"
)

// Compiler compiles filters into subscriptions.
type Compiler struct {
	scripts *operator.ScriptEnv
}

// New creates a compiler with a CEL environment for `cel` filters.
func New() (*Compiler, error) {
	scripts, err := operator.NewScriptEnv()
	if err != nil {
		return nil, err
	}
	return &Compiler{scripts: scripts}, nil
}

type keywordFunc func(c *Compiler, body interface{}, negate bool) (*Node, error)

var keywords map[string]keywordFunc

func init() {
	keywords = map[string]keywordFunc{
		"term":             (*Compiler).term,
		"terms":            (*Compiler).terms,
		"range":            (*Compiler).rangeFilter,
		"exists":           (*Compiler).exists,
		"missing":          (*Compiler).missing,
		"ids":              (*Compiler).ids,
		"regexp":           (*Compiler).regexp,
		"bool":             (*Compiler).boolFilter,
		"and":              (*Compiler).and,
		"must":             (*Compiler).and,
		"or":               (*Compiler).or,
		"should":           (*Compiler).or,
		"not":              (*Compiler).not,
		"mustNot":          (*Compiler).mustNot,
		"must_not":         (*Compiler).mustNot,
		"geoBoundingBox":   (*Compiler).geoBoundingBox,
		"geoDistance":      (*Compiler).geoDistance,
		"geoDistanceRange": (*Compiler).geoDistanceRange,
		"geoPolygon":       (*Compiler).geoPolygon,
		"cel":              (*Compiler).cel,
	}
}

// Compile compiles filter for index and collection. A nil filter yields a
// whole-collection subscription. The returned subscription's ID is its Hash.
func (c *Compiler) Compile(index, collection string, filter map[string]interface{}) (*Subscription, error) {
	if index == "" || collection == "" {
		return nil, fmt.Errorf("%w: index and collection are required", ErrInvalidFilter)
	}

	sub := &Subscription{Index: index, Collection: collection}
	if filter != nil {
		root, err := c.compile(filter, false)
		if err != nil {
			return nil, err
		}
		sub.Root = root
	}

	sub.Global = sub.Root == nil
	sub.Root.Walk(func(p *Predicate) {
		if p.MatchesAbsent() {
			sub.Global = true
		}
	})
	sub.Hash = digest([]byte(index + "\x00" + collection + "\x00" + sub.Root.Canonical()))
	sub.ID = sub.Hash
	return sub, nil
}

func (c *Compiler) compile(filter map[string]interface{}, negate bool) (*Node, error) {
	if len(filter) == 0 {
		return nil, ErrEmptyFilter
	}
	if len(filter) > 1 {
		return nil, fmt.Errorf("%w: a filter takes exactly one keyword, got %d", ErrInvalidFilter, len(filter))
	}

	for keyword, body := range filter {
		fn, ok := keywords[keyword]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKeyword, keyword)
		}
		return fn(c, body, negate)
	}
	return nil, ErrEmptyFilter
}

// --- leaves ---

func (c *Compiler) leaf(op operator.Operator, field string, value interface{}, negate bool) (*Node, error) {
	p, err := NewPredicate(op, field, value, negate)
	if err != nil {
		return nil, err
	}
	return leafNode(p), nil
}

// singleField unpacks {field: value} bodies.
func singleField(keyword string, body interface{}) (string, interface{}, error) {
	obj, ok := asObject(body)
	if !ok {
		return "", nil, fmt.Errorf("%w: %s expects an object, got %T", ErrInvalidFilter, keyword, body)
	}
	if len(obj) == 0 {
		return "", nil, fmt.Errorf("%w: %s", ErrEmptyFilter, keyword)
	}
	if len(obj) > 1 {
		return "", nil, fmt.Errorf("%w: %s takes exactly one field, got %d", ErrInvalidFilter, keyword, len(obj))
	}
	for field, value := range obj {
		if field == "" {
			return "", nil, fmt.Errorf("%w: %s on an empty field name", ErrInvalidFilter, keyword)
		}
		return field, value, nil
	}
	return "", nil, ErrEmptyFilter
}

func (c *Compiler) term(body interface{}, negate bool) (*Node, error) {
	field, value, err := singleField("term", body)
	if err != nil {
		return nil, err
	}
	if !operator.IsScalar(value) {
		return nil, fmt.Errorf("%w: term on %q expects a scalar value, got %T", ErrInvalidFilter, field, value)
	}
	return c.leaf(operator.Equals, field, operator.Normalize(value), negate)
}

func (c *Compiler) terms(body interface{}, negate bool) (*Node, error) {
	field, value, err := singleField("terms", body)
	if err != nil {
		return nil, err
	}
	values, err := scalarArray("terms", field, value)
	if err != nil {
		return nil, err
	}
	return c.leaf(operator.In, field, values, negate)
}

func scalarArray(keyword, field string, value interface{}) ([]interface{}, error) {
	values, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %s on %q expects an array, got %T", ErrInvalidFilter, keyword, field, value)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %s on %q expects a non-empty array", ErrInvalidFilter, keyword, field)
	}
	for _, v := range values {
		if !operator.IsScalar(v) {
			return nil, fmt.Errorf("%w: %s on %q expects scalar values, got %T", ErrInvalidFilter, keyword, field, v)
		}
	}
	return operator.Normalize(values).([]interface{}), nil
}

var rangeOperators = map[string]operator.Operator{
	"gt":   operator.Gt,
	"gte":  operator.Gte,
	"lt":   operator.Lt,
	"lte":  operator.Lte,
	"from": operator.Gte,
	"to":   operator.Lte,
}

func (c *Compiler) rangeFilter(body interface{}, negate bool) (*Node, error) {
	field, value, err := singleField("range", body)
	if err != nil {
		return nil, err
	}
	bounds, ok := asObject(value)
	if !ok {
		return nil, fmt.Errorf("%w: range on %q expects an object of bounds", ErrInvalidFilter, field)
	}
	if len(bounds) == 0 {
		return nil, fmt.Errorf("%w: range on %q", ErrEmptyFilter, field)
	}

	names := make([]string, 0, len(bounds))
	for name := range bounds {
		names = append(names, name)
	}
	sort.Strings(names)

	children := make([]*Node, 0, len(names))
	for _, name := range names {
		op, ok := rangeOperators[name]
		if !ok {
			return nil, fmt.Errorf("%w: range operator %q on %q", ErrUnknownOperator, name, field)
		}
		bound := bounds[name]
		if !operator.IsComparable(bound) {
			return nil, fmt.Errorf("%w: range bound %s on %q must be a number or a string", ErrInvalidFilter, name, field)
		}
		n, err := c.leaf(op, field, operator.Normalize(bound), negate)
		if err != nil {
			return nil, err
		}
		children = append(children, n)
	}
	return combine(flip(KindAnd, negate), children), nil
}

// fieldName accepts {field: "name"} or a bare "name".
func fieldName(keyword string, body interface{}) (string, error) {
	if s, ok := body.(string); ok && s != "" {
		return s, nil
	}
	obj, ok := asObject(body)
	if !ok {
		return "", fmt.Errorf("%w: %s expects {field: <name>}", ErrInvalidFilter, keyword)
	}
	if len(obj) == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmptyFilter, keyword)
	}
	name, ok := obj["field"].(string)
	if !ok || name == "" || len(obj) != 1 {
		return "", fmt.Errorf("%w: %s expects {field: <name>}", ErrInvalidFilter, keyword)
	}
	return name, nil
}

func (c *Compiler) exists(body interface{}, negate bool) (*Node, error) {
	field, err := fieldName("exists", body)
	if err != nil {
		return nil, err
	}
	return c.leaf(operator.Exists, field, nil, negate)
}

func (c *Compiler) missing(body interface{}, negate bool) (*Node, error) {
	field, err := fieldName("missing", body)
	if err != nil {
		return nil, err
	}
	return c.leaf(operator.Missing, field, nil, negate)
}

func (c *Compiler) ids(body interface{}, negate bool) (*Node, error) {
	obj, ok := asObject(body)
	if !ok || len(obj) != 1 {
		return nil, fmt.Errorf("%w: ids expects {values: [...]}", ErrInvalidFilter)
	}
	raw, ok := obj["values"].([]interface{})
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("%w: ids expects a non-empty array of strings", ErrInvalidFilter)
	}
	for _, v := range raw {
		if _, ok := v.(string); !ok {
			return nil, fmt.Errorf("%w: ids expects strings, got %T", ErrInvalidFilter, v)
		}
	}
	values := make([]interface{}, len(raw))
	copy(values, raw)
	return c.leaf(operator.In, model.IDField, values, negate)
}

func (c *Compiler) regexp(body interface{}, negate bool) (*Node, error) {
	field, value, err := singleField("regexp", body)
	if err != nil {
		return nil, err
	}
	pattern, err := operator.ParsePattern(value)
	if err != nil {
		return nil, fmt.Errorf("%w: regexp on %q: %v", ErrInvalidFilter, field, err)
	}
	return c.leaf(operator.Regexp, field, pattern, negate)
}

func (c *Compiler) cel(body interface{}, negate bool) (*Node, error) {
	src, ok := body.(string)
	if !ok || src == "" {
		return nil, fmt.Errorf("%w: cel expects an expression string", ErrInvalidFilter)
	}
	script, err := c.scripts.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return c.leaf(operator.CEL, "", script, negate)
}

// --- combinators ---

func flip(kind Kind, negate bool) Kind {
	if !negate {
		return kind
	}
	if kind == KindAnd {
		return KindOr
	}
	return KindAnd
}

// group compiles an array (or a single object) of filters under kind.
func (c *Compiler) group(keyword string, kind Kind, body interface{}, negate bool) (*Node, error) {
	var items []interface{}
	switch t := body.(type) {
	case []interface{}:
		items = t
	default:
		if _, ok := asObject(body); !ok {
			return nil, fmt.Errorf("%w: %s expects an array of filters or a filter, got %T", ErrInvalidFilter, keyword, body)
		}
		items = []interface{}{body}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyFilter, keyword)
	}

	children := make([]*Node, 0, len(items))
	for _, item := range items {
		obj, ok := asObject(item)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects filters, got %T", ErrInvalidFilter, keyword, item)
		}
		n, err := c.compile(obj, negate)
		if err != nil {
			return nil, err
		}
		children = append(children, n)
	}
	return combine(flip(kind, negate), children), nil
}

func (c *Compiler) and(body interface{}, negate bool) (*Node, error) {
	return c.group("and", KindAnd, body, negate)
}

func (c *Compiler) or(body interface{}, negate bool) (*Node, error) {
	return c.group("or", KindOr, body, negate)
}

// not negates the conjunction of its filters.
func (c *Compiler) not(body interface{}, negate bool) (*Node, error) {
	return c.group("not", KindAnd, body, !negate)
}

// mustNot requires none of its filters to match.
func (c *Compiler) mustNot(body interface{}, negate bool) (*Node, error) {
	return c.group("mustNot", KindOr, body, !negate)
}

var boolClauses = []struct {
	name string
	fn   func(c *Compiler, body interface{}, negate bool) (*Node, error)
}{
	{"must", (*Compiler).and},
	{"mustNot", (*Compiler).mustNot},
	{"must_not", (*Compiler).mustNot},
	{"should", (*Compiler).or},
}

func (c *Compiler) boolFilter(body interface{}, negate bool) (*Node, error) {
	obj, ok := asObject(body)
	if !ok {
		return nil, fmt.Errorf("%w: bool expects an object", ErrInvalidFilter)
	}
	if len(obj) == 0 {
		return nil, fmt.Errorf("%w: bool", ErrEmptyFilter)
	}

	known := 0
	parts := make([]*Node, 0, len(obj))
	for _, clause := range boolClauses {
		clauseBody, ok := obj[clause.name]
		if !ok {
			continue
		}
		known++
		n, err := clause.fn(c, clauseBody, negate)
		if err != nil {
			return nil, err
		}
		parts = append(parts, n)
	}
	if known != len(obj) {
		for k := range obj {
			if !isBoolClause(k) {
				return nil, fmt.Errorf("%w: bool accepts must, mustNot and should, got %q", ErrInvalidFilter, k)
			}
		}
	}
	return combine(flip(KindAnd, negate), parts), nil
}

func isBoolClause(name string) bool {
	for _, clause := range boolClauses {
		if clause.name == name {
			return true
		}
	}
	return false
}

// --- geo ---

func (c *Compiler) geoBoundingBox(body interface{}, negate bool) (*Node, error) {
	field, value, err := singleField("geoBoundingBox", body)
	if err != nil {
		return nil, err
	}
	box, err := operator.ParseBoundingBox(value)
	if err != nil {
		return nil, fmt.Errorf("geoBoundingBox on %q: %w", field, err)
	}
	return c.leaf(operator.GeoBoundingBox, field, box, negate)
}

// splitGeo separates the point field of a geo filter from its named options.
func splitGeo(keyword string, body interface{}, options ...string) (string, interface{}, map[string]interface{}, error) {
	obj, ok := asObject(body)
	if !ok {
		return "", nil, nil, fmt.Errorf("%w: %s expects an object", ErrInvalidFilter, keyword)
	}
	if len(obj) == 0 {
		return "", nil, nil, fmt.Errorf("%w: %s", ErrEmptyFilter, keyword)
	}

	opts := make(map[string]interface{}, len(options))
	var field string
	var point interface{}
	for k, v := range obj {
		if contains(options, k) {
			opts[k] = v
			continue
		}
		if field != "" {
			return "", nil, nil, fmt.Errorf("%w: %s takes exactly one field, got %q and %q", ErrInvalidFilter, keyword, field, k)
		}
		field, point = k, v
	}
	if field == "" {
		return "", nil, nil, fmt.Errorf("%w: %s needs a field", ErrInvalidFilter, keyword)
	}
	for _, o := range options {
		if _, ok := opts[o]; !ok {
			return "", nil, nil, fmt.Errorf("%w: %s requires %q", ErrInvalidFilter, keyword, o)
		}
	}
	return field, point, opts, nil
}

func (c *Compiler) geoDistance(body interface{}, negate bool) (*Node, error) {
	field, rawPoint, opts, err := splitGeo("geoDistance", body, "distance")
	if err != nil {
		return nil, err
	}
	center, err := operator.ParsePoint(rawPoint)
	if err != nil {
		return nil, fmt.Errorf("geoDistance on %q: %w", field, err)
	}
	meters, err := operator.ParseDistance(opts["distance"])
	if err != nil {
		return nil, fmt.Errorf("%w: geoDistance on %q: %v", ErrInvalidFilter, field, err)
	}
	return c.leaf(operator.GeoDistance, field, operator.Distance{Lat: center.Lat, Lon: center.Lon, Meters: meters}, negate)
}

func (c *Compiler) geoDistanceRange(body interface{}, negate bool) (*Node, error) {
	field, rawPoint, opts, err := splitGeo("geoDistanceRange", body, "from", "to")
	if err != nil {
		return nil, err
	}
	center, err := operator.ParsePoint(rawPoint)
	if err != nil {
		return nil, fmt.Errorf("geoDistanceRange on %q: %w", field, err)
	}
	from, err := operator.ParseDistance(opts["from"])
	if err != nil {
		return nil, fmt.Errorf("%w: geoDistanceRange on %q: %v", ErrInvalidFilter, field, err)
	}
	to, err := operator.ParseDistance(opts["to"])
	if err != nil {
		return nil, fmt.Errorf("%w: geoDistanceRange on %q: %v", ErrInvalidFilter, field, err)
	}
	return c.leaf(operator.GeoDistanceRange, field, operator.NewDistanceRange(center, from, to), negate)
}

func (c *Compiler) geoPolygon(body interface{}, negate bool) (*Node, error) {
	field, value, err := singleField("geoPolygon", body)
	if err != nil {
		return nil, err
	}
	obj, ok := asObject(value)
	if !ok || len(obj) != 1 {
		return nil, fmt.Errorf("%w: geoPolygon on %q expects {points: [...]}", ErrInvalidFilter, field)
	}
	poly, err := operator.ParsePolygon(obj["points"])
	if err != nil {
		return nil, fmt.Errorf("geoPolygon on %q: %w", field, err)
	}
	return c.leaf(operator.GeoPolygon, field, poly, negate)
}

// --- helpers ---

func asObject(v interface{}) (map[string]interface{}, bool) {
	return model.AsObject(v)
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}
