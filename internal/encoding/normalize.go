package encoding

import "go.mongodb.org/mongo-driver/bson/primitive"

// Normalize rewrites BSON driver container types (primitive.D, primitive.M,
// primitive.A) into plain maps and slices so that documents look the same
// regardless of which backend produced them.
func Normalize(v any) any {
	switch val := v.(type) {
	case primitive.D:
		m := make(map[string]any, len(val))
		for _, e := range val {
			m[e.Key] = Normalize(e.Value)
		}
		return m
	case primitive.M:
		return NormalizeMap(val)
	case map[string]any:
		return NormalizeMap(val)
	case primitive.A:
		return normalizeSlice(val)
	case []any:
		return normalizeSlice(val)
	case primitive.ObjectID:
		return val.Hex()
	default:
		return v
	}
}

// NormalizeMap normalizes every value of a document in place.
func NormalizeMap(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = Normalize(v)
	}
	return m
}

func normalizeSlice(s []any) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = Normalize(v)
	}
	return out
}
