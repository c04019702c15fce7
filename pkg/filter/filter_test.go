package filter

import (
	"errors"
	"testing"

	"github.com/bobuk/uodm/pkg/document"
)

func mustParse(t *testing.T, raw map[string]any) *Filter {
	t.Helper()
	f, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse(%v): %v", raw, err)
	}
	return f
}

func TestLiteralEquality(t *testing.T) {
	doc := document.Document{
		"name": "bob",
		"age":  42,
		"address": map[string]any{
			"city": "portland",
		},
		"note": nil,
	}

	tests := []struct {
		name   string
		filter map[string]any
		want   bool
	}{
		{name: "empty filter matches everything", filter: map[string]any{}, want: true},
		{name: "string equality", filter: map[string]any{"name": "bob"}, want: true},
		{name: "string mismatch", filter: map[string]any{"name": "alice"}, want: false},
		{name: "numeric coercion", filter: map[string]any{"age": 42.0}, want: true},
		{name: "dotted path", filter: map[string]any{"address.city": "portland"}, want: true},
		{name: "dotted path mismatch", filter: map[string]any{"address.city": "salem"}, want: false},
		{name: "absent field never equals", filter: map[string]any{"missing": "x"}, want: false},
		{name: "absent field does not equal nil", filter: map[string]any{"missing": nil}, want: false},
		{name: "explicit null equals nil", filter: map[string]any{"note": nil}, want: true},
		{name: "two fields both must match", filter: map[string]any{"name": "bob", "age": 42}, want: true},
		{name: "two fields one mismatch", filter: map[string]any{"name": "bob", "age": 1}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mustParse(t, tt.filter).Matches(doc); got != tt.want {
				t.Errorf("Matches(%v) = %v, want %v", tt.filter, got, tt.want)
			}
		})
	}
}

func TestComparisonOperators(t *testing.T) {
	doc := document.Document{
		"count":  10,
		"ratio":  0.5,
		"label":  "widget-7",
		"digits": "15",
	}

	tests := []struct {
		name   string
		filter map[string]any
		want   bool
	}{
		{name: "gt true", filter: map[string]any{"count": map[string]any{"$gt": 5}}, want: true},
		{name: "gt false", filter: map[string]any{"count": map[string]any{"$gt": 10}}, want: false},
		{name: "gte boundary", filter: map[string]any{"count": map[string]any{"$gte": 10}}, want: true},
		{name: "lt with float operand", filter: map[string]any{"count": map[string]any{"$lt": 10.5}}, want: true},
		{name: "lte false", filter: map[string]any{"count": map[string]any{"$lte": 9}}, want: false},
		{name: "float field gt", filter: map[string]any{"ratio": map[string]any{"$gt": 0.25}}, want: true},
		{name: "numeric string coerces", filter: map[string]any{"digits": map[string]any{"$gt": 10}}, want: true},
		{name: "non-numeric value false", filter: map[string]any{"label": map[string]any{"$gt": 5}}, want: false},
		{name: "non-numeric operand false", filter: map[string]any{"count": map[string]any{"$gt": "abc"}}, want: false},
		{name: "multiple ops all must pass", filter: map[string]any{"count": map[string]any{"$gt": 5, "$lt": 20}}, want: true},
		{name: "multiple ops one fails", filter: map[string]any{"count": map[string]any{"$gt": 5, "$lt": 7}}, want: false},
		{name: "ne true", filter: map[string]any{"count": map[string]any{"$ne": 11}}, want: true},
		{name: "ne numeric coercion", filter: map[string]any{"count": map[string]any{"$ne": 10.0}}, want: false},
		{name: "eq operator", filter: map[string]any{"count": map[string]any{"$eq": 10}}, want: true},
		{name: "unknown operator is false", filter: map[string]any{"count": map[string]any{"$near": 10}}, want: false},
		{name: "non-operator key in map is false", filter: map[string]any{"count": map[string]any{"value": 10}}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mustParse(t, tt.filter).Matches(doc); got != tt.want {
				t.Errorf("Matches(%v) = %v, want %v", tt.filter, got, tt.want)
			}
		})
	}
}

func TestExistsAndAbsentFields(t *testing.T) {
	doc := document.Document{"present": 1, "null": nil}

	tests := []struct {
		name   string
		filter map[string]any
		want   bool
	}{
		{name: "exists true on present", filter: map[string]any{"present": map[string]any{"$exists": true}}, want: true},
		{name: "exists false on present", filter: map[string]any{"present": map[string]any{"$exists": false}}, want: false},
		{name: "exists false on absent", filter: map[string]any{"missing": map[string]any{"$exists": false}}, want: true},
		{name: "exists true on absent", filter: map[string]any{"missing": map[string]any{"$exists": true}}, want: false},
		{name: "explicit null counts as absent", filter: map[string]any{"null": map[string]any{"$exists": false}}, want: true},
		// Every operator other than $exists is false on an absent field.
		{name: "gt on absent", filter: map[string]any{"missing": map[string]any{"$gt": 0}}, want: false},
		{name: "ne on absent", filter: map[string]any{"missing": map[string]any{"$ne": 5}}, want: false},
		{name: "in on absent", filter: map[string]any{"missing": map[string]any{"$in": []any{1}}}, want: false},
		{name: "regex on absent", filter: map[string]any{"missing": map[string]any{"$regex": "x"}}, want: false},
		{name: "exists mixed with other ops on absent", filter: map[string]any{"missing": map[string]any{"$exists": false, "$ne": 1}}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mustParse(t, tt.filter).Matches(doc); got != tt.want {
				t.Errorf("Matches(%v) = %v, want %v", tt.filter, got, tt.want)
			}
		})
	}
}

func TestInAndNinAsymmetry(t *testing.T) {
	// $in unwraps list-valued fields, $nin does not. With a list-valued
	// field the two are not negations of each other.
	doc := document.Document{"tags": []any{"red", "blue"}, "color": "red"}

	inMatch := mustParse(t, map[string]any{"tags": map[string]any{"$in": []any{"red"}}})
	if !inMatch.Matches(doc) {
		t.Error("$in should unwrap list field and match an element")
	}

	ninMatch := mustParse(t, map[string]any{"tags": map[string]any{"$nin": []any{"red"}}})
	if !ninMatch.Matches(doc) {
		t.Error(`$nin compares the whole list against operands: ["red","blue"] is not in ["red"], so $nin matches`)
	}

	// Both match: proof they are not negations for list-valued fields.
	if inMatch.Matches(doc) != ninMatch.Matches(doc) {
		t.Error("expected $in and $nin to both match this document")
	}

	// Scalar fields behave as plain membership and its negation.
	scalarIn := mustParse(t, map[string]any{"color": map[string]any{"$in": []any{"red", "green"}}})
	scalarNin := mustParse(t, map[string]any{"color": map[string]any{"$nin": []any{"red", "green"}}})
	if !scalarIn.Matches(doc) || scalarNin.Matches(doc) {
		t.Error("scalar $in/$nin should be negations of each other")
	}
}

func TestRegex(t *testing.T) {
	doc := document.Document{"name": "hello world", "num": 12345}

	tests := []struct {
		name    string
		pattern string
		field   string
		want    bool
	}{
		{name: "substring anywhere", pattern: "lo wo", field: "name", want: true},
		{name: "anchored", pattern: "^hello", field: "name", want: true},
		{name: "no match", pattern: "^world", field: "name", want: false},
		{name: "non-string coerced to string form", pattern: "234", field: "num", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mustParse(t, map[string]any{tt.field: map[string]any{"$regex": tt.pattern}})
			if got := f.Matches(doc); got != tt.want {
				t.Errorf("$regex %q on %q = %v, want %v", tt.pattern, tt.field, got, tt.want)
			}
		})
	}

	if _, err := Parse(map[string]any{"name": map[string]any{"$regex": "("}}); !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("invalid pattern should fail at parse time, got %v", err)
	}
}

func TestLogicalCombinators(t *testing.T) {
	doc := document.Document{"a": 1, "b": 2}

	tests := []struct {
		name   string
		filter map[string]any
		want   bool
	}{
		{name: "empty and is true", filter: map[string]any{"$and": []any{}}, want: true},
		{name: "empty or is false", filter: map[string]any{"$or": []any{}}, want: false},
		{name: "empty nor is false", filter: map[string]any{"$nor": []any{}}, want: false},
		{name: "and all match", filter: map[string]any{"$and": []any{map[string]any{"a": 1}, map[string]any{"b": 2}}}, want: true},
		{name: "and one fails", filter: map[string]any{"$and": []any{map[string]any{"a": 1}, map[string]any{"b": 3}}}, want: false},
		{name: "or one matches", filter: map[string]any{"$or": []any{map[string]any{"a": 9}, map[string]any{"b": 2}}}, want: true},
		{name: "or none match", filter: map[string]any{"$or": []any{map[string]any{"a": 9}, map[string]any{"b": 9}}}, want: false},
		{name: "nor none match", filter: map[string]any{"$nor": []any{map[string]any{"a": 9}}}, want: true},
		{name: "nor one matches", filter: map[string]any{"$nor": []any{map[string]any{"a": 1}}}, want: false},
		{name: "not with map argument", filter: map[string]any{"$not": map[string]any{"a": 9}}, want: true},
		{name: "not with single-element list", filter: map[string]any{"$not": []any{map[string]any{"a": 1}}}, want: false},
		{name: "nested combinators", filter: map[string]any{"$or": []any{
			map[string]any{"$and": []any{map[string]any{"a": 1}, map[string]any{"b": 2}}},
			map[string]any{"a": 100},
		}}, want: true},
		{name: "combinator mixed with field", filter: map[string]any{"a": 1, "$or": []any{map[string]any{"b": 2}}}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mustParse(t, tt.filter).Matches(doc); got != tt.want {
				t.Errorf("Matches(%v) = %v, want %v", tt.filter, got, tt.want)
			}
		})
	}
}

func TestMalformedFilters(t *testing.T) {
	tests := []struct {
		name   string
		filter map[string]any
	}{
		{name: "not with empty list", filter: map[string]any{"$not": []any{}}},
		{name: "not with two sub-expressions", filter: map[string]any{"$not": []any{map[string]any{"a": 1}, map[string]any{"b": 2}}}},
		{name: "and with non-list", filter: map[string]any{"$and": map[string]any{"a": 1}}},
		{name: "or with scalar element", filter: map[string]any{"$or": []any{42}}},
		{name: "unknown logical operator", filter: map[string]any{"$xor": []any{}}},
		{name: "regex with non-string operand", filter: map[string]any{"a": map[string]any{"$regex": 5}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.filter); !errors.Is(err, ErrInvalidFilter) {
				t.Errorf("Parse(%v) error = %v, want ErrInvalidFilter", tt.filter, err)
			}
		})
	}
}

func TestOperatorsOnListMembership(t *testing.T) {
	doc := document.Document{"n": 3}

	f := mustParse(t, map[string]any{"n": map[string]any{"$in": []any{1, 2, 3}}})
	if !f.Matches(doc) {
		t.Error("$in should match scalar membership")
	}

	f = mustParse(t, map[string]any{"n": map[string]any{"$in": []any{1.0, 2.0, 3.0}}})
	if !f.Matches(doc) {
		t.Error("$in membership should use numeric coercion")
	}

	f = mustParse(t, map[string]any{"n": map[string]any{"$in": "not-a-list"}})
	if f.Matches(doc) {
		t.Error("$in with a non-list operand never matches")
	}
}

func TestMatchesTypedSliceValues(t *testing.T) {
	// Callers may store typed slices directly in a document; matching
	// must stay total over them.
	doc := document.Document{"tags": []string{"a", "b"}}

	f := mustParse(t, map[string]any{"tags": []any{"a", "b"}})
	if !f.Matches(doc) {
		t.Error("generic list literal should equal a typed slice field")
	}

	f = mustParse(t, map[string]any{"tags": []any{"a"}})
	if f.Matches(doc) {
		t.Error("shorter list should not match")
	}
}
