package filter

import (
	"fmt"

	"github.com/bobuk/uodm/pkg/document"
)

// Matches reports whether a document satisfies the expression. It is pure
// and total: unknown operators and type-mismatched comparisons evaluate to
// false, never to an error.
func (f *Filter) Matches(doc document.Document) bool {
	for i := range f.Nodes {
		if !f.Nodes[i].matches(doc) {
			return false
		}
	}
	return true
}

func (n *Node) matches(doc document.Document) bool {
	switch n.Kind {
	case NodeEquals:
		v, ok := document.Resolve(doc, n.Path)
		return ok && document.Equal(v, n.Value)
	case NodeOperators:
		return n.matchOperators(doc)
	case NodeLogical:
		return n.matchLogical(doc)
	default:
		return false
	}
}

func (n *Node) matchOperators(doc document.Document) bool {
	v, resolved := document.Resolve(doc, n.Path)
	present := resolved && v != nil

	if !present {
		// $exists is the only operator evaluated on an absent field, and
		// only when it stands alone.
		if len(n.Ops) == 1 && n.Ops[0].Name == "$exists" {
			want, ok := n.Ops[0].Operand.(bool)
			return ok && !want
		}
		return false
	}

	for i := range n.Ops {
		if !evalOp(v, &n.Ops[i]) {
			return false
		}
	}
	return true
}

func evalOp(v any, op *Op) bool {
	switch op.Name {
	case "$exists":
		want, ok := op.Operand.(bool)
		return ok && want
	case "$eq":
		return document.Equal(v, op.Operand)
	case "$ne":
		return !document.Equal(v, op.Operand)
	case "$gt", "$gte", "$lt", "$lte":
		return evalOrdered(v, op.Name, op.Operand)
	case "$in":
		operands, ok := op.Operand.([]any)
		if !ok {
			return false
		}
		// A list-valued field matches if any operand element appears in it.
		if list, isList := v.([]any); isList {
			for _, t := range operands {
				for _, e := range list {
					if document.Equal(e, t) {
						return true
					}
				}
			}
			return false
		}
		return containsValue(operands, v)
	case "$nin":
		// Unlike $in, list-valued fields are not unwrapped: the field
		// value is compared against operand elements as a whole.
		operands, ok := op.Operand.([]any)
		if !ok {
			return false
		}
		return !containsValue(operands, v)
	case "$regex":
		return op.re != nil && op.re.MatchString(stringify(v))
	default:
		return false
	}
}

// evalOrdered compares numerically: integer pairs compare as integers,
// anything else coerces to floating point. Numeric strings coerce too;
// operands that cannot be coerced make the comparison false.
func evalOrdered(v any, name string, operand any) bool {
	if iv, ok := document.AsInt(v); ok {
		if it, ok := document.AsInt(operand); ok {
			switch name {
			case "$gt":
				return iv > it
			case "$gte":
				return iv >= it
			case "$lt":
				return iv < it
			case "$lte":
				return iv <= it
			}
			return false
		}
	}

	fv, ok := document.ParseNumeric(v)
	if !ok {
		return false
	}
	ft, ok := document.ParseNumeric(operand)
	if !ok {
		return false
	}
	switch name {
	case "$gt":
		return fv > ft
	case "$gte":
		return fv >= ft
	case "$lt":
		return fv < ft
	case "$lte":
		return fv <= ft
	}
	return false
}

func (n *Node) matchLogical(doc document.Document) bool {
	switch n.Logic {
	case LogicAnd:
		for _, sub := range n.Subs {
			if !sub.Matches(doc) {
				return false
			}
		}
		return true
	case LogicOr:
		for _, sub := range n.Subs {
			if sub.Matches(doc) {
				return true
			}
		}
		return false
	case LogicNor:
		if len(n.Subs) == 0 {
			return false
		}
		for _, sub := range n.Subs {
			if sub.Matches(doc) {
				return false
			}
		}
		return true
	case LogicNot:
		return len(n.Subs) == 1 && !n.Subs[0].Matches(doc)
	default:
		return false
	}
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if document.Equal(v, item) {
			return true
		}
	}
	return false
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
