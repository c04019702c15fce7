package sqlstore

import (
	"fmt"
	"strings"

	"github.com/bobuk/uodm/pkg/document"
	"github.com/bobuk/uodm/pkg/filter"
)

// prefilter builds a WHERE fragment that over-approximates the filter:
// it may admit rows the condition evaluator rejects but never excludes a
// row the evaluator would match. Every fetched row is re-checked by the
// evaluator, which keeps matching semantics identical across backends.
//
// Top-level field conditions translate to json_extract clauses joined by
// AND. Logical combinators and set operators contribute no constraint;
// the evaluator alone decides those.
func prefilter(f *filter.Filter) (string, []any) {
	var clauses []string
	var args []any
	for _, n := range f.Nodes {
		clause, clauseArgs := nodeClause(n)
		if clause == "" {
			continue
		}
		clauses = append(clauses, clause)
		args = append(args, clauseArgs...)
	}
	return strings.Join(clauses, " AND "), args
}

func nodeClause(n filter.Node) (string, []any) {
	switch n.Kind {
	case filter.NodeEquals:
		return equalsClause(jsonField(n.Path), n.Value)
	case filter.NodeOperators:
		return opsClause(jsonField(n.Path), n.Ops)
	default:
		return "", nil
	}
}

func equalsClause(field string, value any) (string, []any) {
	switch v := value.(type) {
	case nil:
		// Explicit null and absent both extract as NULL; the evaluator
		// separates them.
		return field + " IS NULL", nil
	case string:
		return field + " = ?", []any{v}
	default:
		if f, ok := document.AsFloat(value); ok {
			// CAST admits numeric strings too; the evaluator rejects
			// them for literal equality.
			return "CAST(" + field + " AS REAL) = ?", []any{f}
		}
		return "", nil
	}
}

func opsClause(field string, ops []filter.Op) (string, []any) {
	var clauses []string
	var args []any
	for _, op := range ops {
		switch op.Name {
		case "$eq":
			clause, clauseArgs := equalsClause(field, op.Operand)
			if clause != "" {
				clauses = append(clauses, clause)
				args = append(args, clauseArgs...)
			}
		case "$gt", "$gte", "$lt", "$lte":
			f, ok := document.ParseNumeric(op.Operand)
			if !ok {
				continue
			}
			clauses = append(clauses, "CAST("+field+" AS REAL) "+sqlCmp(op.Name)+" ?")
			args = append(args, f)
		case "$exists":
			want, ok := op.Operand.(bool)
			if !ok {
				continue
			}
			if want {
				clauses = append(clauses, field+" IS NOT NULL")
			} else if len(ops) == 1 {
				// Only a lone $exists:false can match an absent field,
				// so only then is the NULL constraint sound.
				clauses = append(clauses, field+" IS NULL")
			}
		}
		// $ne, $in, $nin, $regex and unknown operators contribute no
		// prefilter; the evaluator decides them.
	}
	return strings.Join(clauses, " AND "), args
}

func sqlCmp(op string) string {
	switch op {
	case "$gt":
		return ">"
	case "$gte":
		return ">="
	case "$lt":
		return "<"
	default:
		return "<="
	}
}

// jsonField renders a json_extract expression for a dotted field path.
func jsonField(path string) string {
	return fmt.Sprintf("json_extract(doc, '%s')",
		"$."+strings.ReplaceAll(path, "'", "''"))
}
