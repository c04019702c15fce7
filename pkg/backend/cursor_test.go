package backend

import (
	"context"
	"testing"

	"github.com/bobuk/uodm/pkg/document"
)

func fixedFetch(docs ...document.Document) func(ctx context.Context) ([]document.Document, error) {
	return func(ctx context.Context) ([]document.Document, error) {
		return docs, nil
	}
}

func TestSliceCursorZeroLimit(t *testing.T) {
	cur := NewSliceCursor(fixedFetch(
		document.Document{"_id": "a"},
		document.Document{"_id": "b"},
	))
	docs, err := cur.Limit(0).All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("Limit(0) yielded %d documents", len(docs))
	}
}

func TestSliceCursorUnlimitedByDefault(t *testing.T) {
	cur := NewSliceCursor(fixedFetch(
		document.Document{"_id": "a"},
		document.Document{"_id": "b"},
	))
	docs, err := cur.All(context.Background())
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
}
