package backend

import (
	"context"
	"sort"
	"strings"

	"github.com/bobuk/uodm/pkg/document"
)

// SliceCursor implements Cursor over a deferred in-process fetch. Backends
// without a native query pipeline (the file backend, and fallback paths
// elsewhere) use it to get the fixed filter-sort-skip-limit ordering.
type SliceCursor struct {
	fetch func(ctx context.Context) ([]document.Document, error)

	sortKey string
	sortDir int
	skip    int
	limit   int

	started bool
	docs    []document.Document
	pos     int
	current document.Document
	err     error
}

// NewSliceCursor builds a cursor that obtains its candidate documents,
// already filtered and in backend scan order, from fetch on first use.
func NewSliceCursor(fetch func(ctx context.Context) ([]document.Document, error)) *SliceCursor {
	return &SliceCursor{fetch: fetch, sortDir: SortAscending, limit: -1}
}

// Sort orders iteration by a dotted field path. Ties keep the backend's
// scan order.
func (c *SliceCursor) Sort(field string, direction int) Cursor {
	if !c.started {
		c.sortKey = field
		c.sortDir = direction
	}
	return c
}

// Skip drops the first n matching documents.
func (c *SliceCursor) Skip(n int) Cursor {
	if !c.started {
		c.skip = n
	}
	return c
}

// Limit caps the number of documents produced.
func (c *SliceCursor) Limit(n int) Cursor {
	if !c.started {
		c.limit = n
	}
	return c
}

func (c *SliceCursor) run(ctx context.Context) {
	c.started = true
	docs, err := c.fetch(ctx)
	if err != nil {
		c.err = err
		return
	}

	if c.sortKey != "" {
		dir := c.sortDir
		key := c.sortKey
		sort.SliceStable(docs, func(i, j int) bool {
			vi, _ := document.Resolve(docs[i], key)
			vj, _ := document.Resolve(docs[j], key)
			if dir == SortDescending {
				return compareValues(vj, vi) < 0
			}
			return compareValues(vi, vj) < 0
		})
	}

	if c.skip > 0 {
		if c.skip >= len(docs) {
			docs = nil
		} else {
			docs = docs[c.skip:]
		}
	}
	if c.limit >= 0 && c.limit < len(docs) {
		docs = docs[:c.limit]
	}
	c.docs = docs
}

// Next advances the cursor. It returns false when the sequence is
// exhausted, the context is done, or an error occurred; check Err.
func (c *SliceCursor) Next(ctx context.Context) bool {
	if !c.started {
		c.run(ctx)
	}
	if c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if c.pos >= len(c.docs) {
		return false
	}
	c.current = c.docs[c.pos]
	c.pos++
	return true
}

// Current returns the document buffered by the last successful Next.
func (c *SliceCursor) Current() document.Document {
	return c.current
}

// Err returns the error that stopped iteration, if any.
func (c *SliceCursor) Err() error {
	return c.err
}

// Close releases the cursor's buffer. The cursor is single-pass and
// cannot be restarted.
func (c *SliceCursor) Close() error {
	c.docs = nil
	c.pos = 0
	c.current = nil
	c.started = true
	return nil
}

// All drains the cursor into a slice and closes it.
func (c *SliceCursor) All(ctx context.Context) ([]document.Document, error) {
	defer func() { _ = c.Close() }()
	var out []document.Document
	for c.Next(ctx) {
		out = append(out, c.current)
	}
	if c.err != nil {
		return nil, c.err
	}
	return out, nil
}

// compareValues orders sort-key values: numbers numerically, strings
// lexically, with numbers ranking before strings and absent values first.
func compareValues(a, b any) int {
	fa, aok := document.AsFloat(a)
	fb, bok := document.AsFloat(b)
	switch {
	case aok && bok:
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	case aok:
		return -1
	case bok:
		return 1
	}

	sa, aok := a.(string)
	sb, bok := b.(string)
	switch {
	case aok && bok:
		return strings.Compare(sa, sb)
	case aok:
		return -1
	case bok:
		return 1
	default:
		return 0
	}
}
