package document

import (
	"reflect"
	"strconv"
)

// Equal reports structural equality of two values with numeric coercion:
// an integer and a float holding the same quantity compare equal, matching
// backends that round-trip documents through JSON. Maps and lists compare
// element-wise.
func Equal(a, b any) bool {
	if fa, aok := AsFloat(a); aok {
		if fb, bok := AsFloat(b); bok {
			return fa == fb
		}
		return false
	}

	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bs, ok := b.(string)
		return ok && av == bs
	}

	if al, ok := asList(a); ok {
		bl, bok := asList(b)
		if !bok || len(al) != len(bl) {
			return false
		}
		for i := range al {
			if !Equal(al[i], bl[i]) {
				return false
			}
		}
		return true
	}

	if am, ok := asMap(a); ok {
		bm, bok := asMap(b)
		if !bok || len(am) != len(bm) {
			return false
		}
		for k, v := range am {
			bv, present := bm[k]
			if !present || !Equal(v, bv) {
				return false
			}
		}
		return true
	}

	// Interface comparison panics on identical uncomparable dynamic
	// types; such input resolves to false rather than failing the match.
	if t := reflect.TypeOf(a); !t.Comparable() {
		return false
	}
	return a == b
}

// AsFloat coerces a numeric value to float64. Booleans coerce to 0 and 1;
// strings do not parse here, that is ParseNumeric's job.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
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
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// AsInt reports whether a value is integer-typed, for integer-vs-integer
// comparisons that must not go through floating point.
func AsInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

// ParseNumeric coerces like AsFloat but additionally parses numeric
// strings, which ordered comparisons accept as operands.
func ParseNumeric(v any) (float64, bool) {
	if f, ok := AsFloat(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(s, 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}

// asList accepts []any directly and flattens other slice types through
// reflection, so typed lists like []string compare element-wise.
func asList(v any) ([]any, bool) {
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
