// Package filter implements the MongoDB-style filter expression language
// shared by every storage backend: a typed expression tree parsed from
// dict-shaped filters, and a pure, total matcher over documents.
package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/bobuk/uodm/pkg/document"
)

// ErrInvalidFilter is returned when a filter has a malformed shape, such as
// $not with other than one sub-expression or a logical operator whose
// argument is not a list.
var ErrInvalidFilter = errors.New("invalid filter expression")

// NodeKind discriminates the three expression node kinds.
type NodeKind int

const (
	// NodeEquals is literal equality on a dotted field path.
	NodeEquals NodeKind = iota
	// NodeOperators is a set of operator conditions on one field,
	// implicitly ANDed.
	NodeOperators
	// NodeLogical combines sub-expressions with $and/$or/$nor/$not.
	NodeLogical
)

// LogicKind identifies a logical combinator.
type LogicKind int

const (
	LogicAnd LogicKind = iota
	LogicOr
	LogicNor
	LogicNot
)

// Op is a single operator condition, e.g. {"$gt": 5}. Unknown operator
// names are kept verbatim and always evaluate to false.
type Op struct {
	Name    string
	Operand any

	re *regexp.Regexp // compiled pattern for $regex
}

// Node is one branch of the expression tree.
type Node struct {
	Kind  NodeKind
	Path  string // NodeEquals, NodeOperators
	Value any    // NodeEquals
	Ops   []Op   // NodeOperators
	Logic LogicKind
	Subs  []*Filter // NodeLogical
}

// Filter is a parsed expression: a conjunction of nodes. An empty filter
// matches every document.
type Filter struct {
	Nodes []Node
}

// Parse validates and converts a dict-shaped filter into an expression
// tree. A nil or empty map yields a match-everything filter. Malformed
// logical shapes are rejected here rather than surfacing at match time.
func Parse(raw map[string]any) (*Filter, error) {
	f := &Filter{}
	for key, value := range raw {
		if strings.HasPrefix(key, "$") {
			node, err := parseLogical(key, value)
			if err != nil {
				return nil, err
			}
			f.Nodes = append(f.Nodes, node)
			continue
		}
		node, err := parseField(key, value)
		if err != nil {
			return nil, err
		}
		f.Nodes = append(f.Nodes, node)
	}
	return f, nil
}

func parseLogical(key string, value any) (Node, error) {
	var logic LogicKind
	switch key {
	case "$and":
		logic = LogicAnd
	case "$or":
		logic = LogicOr
	case "$nor":
		logic = LogicNor
	case "$not":
		return parseNot(value)
	default:
		return Node{}, fmt.Errorf("%w: unknown logical operator %q", ErrInvalidFilter, key)
	}

	items, ok := value.([]any)
	if !ok {
		return Node{}, fmt.Errorf("%w: %s requires a list of sub-expressions", ErrInvalidFilter, key)
	}
	subs := make([]*Filter, 0, len(items))
	for _, item := range items {
		sub, err := parseSub(key, item)
		if err != nil {
			return Node{}, err
		}
		subs = append(subs, sub)
	}
	return Node{Kind: NodeLogical, Logic: logic, Subs: subs}, nil
}

// parseNot accepts either a single sub-expression map or a one-element
// list; any other list length is an error.
func parseNot(value any) (Node, error) {
	switch v := value.(type) {
	case []any:
		if len(v) != 1 {
			return Node{}, fmt.Errorf("%w: $not requires exactly one sub-expression, got %d", ErrInvalidFilter, len(v))
		}
		sub, err := parseSub("$not", v[0])
		if err != nil {
			return Node{}, err
		}
		return Node{Kind: NodeLogical, Logic: LogicNot, Subs: []*Filter{sub}}, nil
	default:
		sub, err := parseSub("$not", value)
		if err != nil {
			return Node{}, err
		}
		return Node{Kind: NodeLogical, Logic: LogicNot, Subs: []*Filter{sub}}, nil
	}
}

func parseSub(op string, item any) (*Filter, error) {
	m, ok := toMap(item)
	if !ok {
		return nil, fmt.Errorf("%w: %s sub-expression must be a document, got %T", ErrInvalidFilter, op, item)
	}
	return Parse(m)
}

func parseField(path string, value any) (Node, error) {
	m, ok := toMap(value)
	if !ok {
		return Node{Kind: NodeEquals, Path: path, Value: value}, nil
	}

	// A mapping value is always an operator condition; non-operator keys
	// inside it are unknown operators and never match.
	ops := make([]Op, 0, len(m))
	for name, operand := range m {
		op := Op{Name: name, Operand: operand}
		if name == "$regex" {
			pattern, ok := operand.(string)
			if !ok {
				return Node{}, fmt.Errorf("%w: $regex operand must be a string, got %T", ErrInvalidFilter, operand)
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return Node{}, fmt.Errorf("%w: $regex pattern %q: %v", ErrInvalidFilter, pattern, err)
			}
			op.re = re
		}
		ops = append(ops, op)
	}
	return Node{Kind: NodeOperators, Path: path, Ops: ops}, nil
}

func toMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case document.Document:
		return m, true
	default:
		return nil, false
	}
}
