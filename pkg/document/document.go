// Package document defines the generic keyed document that every backend
// stores, along with dotted-path field resolution and value comparison
// shared by the query evaluator and the change-notification engine.
package document

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDField is the reserved key holding a document's unique identifier.
const IDField = "_id"

// Document is a keyed, nested, self-describing record. Values are strings,
// integers, floats, booleans, nil, embedded documents, or lists of values.
type Document map[string]any

// NewID generates a new unique identifier in string form.
func NewID() string {
	return primitive.NewObjectID().Hex()
}

// ID returns the document's identifier in string form, or "" if unset.
func (d Document) ID() string {
	v, ok := d[IDField]
	if !ok {
		return ""
	}
	switch id := v.(type) {
	case string:
		return id
	case primitive.ObjectID:
		return id.Hex()
	default:
		return ""
	}
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			out[k] = cloneValue(sub)
		}
		return out
	case Document:
		return map[string]any(val.Clone())
	case []any:
		out := make([]any, len(val))
		for i, sub := range val {
			out[i] = cloneValue(sub)
		}
		return out
	default:
		return v
	}
}

// ApplySet overwrites top-level fields of the document with the given set
// fields, the only update shape supported by the store.
func (d Document) ApplySet(set map[string]any) {
	for k, v := range set {
		d[k] = v
	}
}

// Resolve walks a dotted field path through nested documents. The second
// return value reports whether the path resolved at all; a missing or
// non-document intermediate segment yields (nil, false).
func Resolve(d Document, path string) (any, bool) {
	var cur any = map[string]any(d)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	default:
		return nil, false
	}
}
