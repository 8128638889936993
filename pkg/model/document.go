package model

import (
	"regexp"
	"strings"
)

var (
	idRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-\.]{1,64}$`)
)

// IDField is the pseudo-field carrying the document identifier during matching.
const IDField = "_id"

// CheckDocumentID reports whether id is usable as a document identifier:
// 1 to 64 letters, digits, '_', '-' or '.'.
func CheckDocumentID(id string) bool {
	return idRegex.MatchString(id)
}

// Document is a JSON object as supplied by the storage layer.
// Nested objects are map[string]interface{} (or Document), arrays are []interface{}.
type Document map[string]interface{}

// Get resolves a dot-separated path through nested objects.
// The second return value is false when any segment is absent.
func (doc Document) Get(path string) (interface{}, bool) {
	return Lookup(doc, path)
}

// WithID returns a shallow copy of doc carrying id under IDField.
// The copy is returned unchanged when id is empty.
func (doc Document) WithID(id string) Document {
	out := make(Document, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	if id != "" {
		out[IDField] = id
	}
	return out
}

// Paths returns every dot path of doc, including each intermediate prefix:
// {"a": {"b": {"c": 1}}} yields "a", "a.b" and "a.b.c". Arrays are leaves.
func (doc Document) Paths() []string {
	paths := make([]string, 0, len(doc))
	return appendPaths(paths, "", doc)
}

func appendPaths(paths []string, prefix string, obj map[string]interface{}) []string {
	for k, v := range obj {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		paths = append(paths, key)
		if child, ok := AsObject(v); ok {
			paths = appendPaths(paths, key, child)
		}
	}
	return paths
}

// Lookup resolves a dot-separated path through nested objects of obj.
func Lookup(obj map[string]interface{}, path string) (interface{}, bool) {
	if obj == nil || path == "" {
		return nil, false
	}
	if v, ok := obj[path]; ok {
		return v, true
	}

	current := obj
	rest := path
	for {
		head, tail, more := strings.Cut(rest, ".")
		v, ok := current[head]
		if !ok {
			return nil, false
		}
		if !more {
			return v, true
		}
		next, ok := AsObject(v)
		if !ok {
			return nil, false
		}
		current = next
		rest = tail
	}
}

// AsObject unwraps the two map shapes a decoded document may contain.
func AsObject(v interface{}) (map[string]interface{}, bool) {
	switch o := v.(type) {
	case map[string]interface{}:
		return o, true
	case Document:
		return o, true
	}
	return nil, false
}
