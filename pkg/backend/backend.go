// Package backend defines the storage contract every backend implements:
// collection operations, cursor semantics, index descriptors, and the
// shared error taxonomy.
package backend

import (
	"context"
	"strings"

	"github.com/bobuk/uodm/pkg/document"
)

// Sort directions for cursor ordering.
const (
	SortAscending  = 1
	SortDescending = -1
)

// Index is a declarative index descriptor. Each backend interprets it
// according to its capability: the relational backend creates functional
// secondary indexes, the file backend persists the descriptor as advisory
// metadata only.
type Index struct {
	Keys       []string `json:"keys"`
	Name       string   `json:"name,omitempty"`
	Unique     bool     `json:"unique,omitempty"`
	Sparse     bool     `json:"sparse,omitempty"`
	Background bool     `json:"background,omitempty"`
}

// ResolvedName returns the explicit index name, or the conventional
// "<keys>_idx" default.
func (i Index) ResolvedName() string {
	if i.Name != "" {
		return i.Name
	}
	return strings.Join(i.Keys, "_") + "_idx"
}

// InsertOneResult reports the identifier assigned by an insert.
type InsertOneResult struct {
	InsertedID string
}

// UpdateResult reports how many documents an update matched and modified.
// UpsertedID is set when an upsert inserted a new document.
type UpdateResult struct {
	MatchedCount  int64
	ModifiedCount int64
	UpsertedID    string
}

// DeleteResult reports how many documents a delete removed.
type DeleteResult struct {
	DeletedCount int64
}

// Cursor is a lazy, finite, single-pass sequence of documents. Sort, Skip
// and Limit are builder methods composable in any order before iteration
// starts; they apply in the fixed pipeline filter, sort, skip, limit.
// Limit(0) means zero documents, not unlimited, on every backend.
// Iteration follows the database/sql convention: Next advances, Current
// returns the buffered document, Err reports what stopped iteration.
type Cursor interface {
	Sort(field string, direction int) Cursor
	Skip(n int) Cursor
	Limit(n int) Cursor

	Next(ctx context.Context) bool
	Current() document.Document
	Err() error
	Close() error

	// All drains the cursor into a slice and closes it.
	All(ctx context.Context) ([]document.Document, error)
}

// Collection is the operation surface of one named document container.
// Absence is a normal result: FindOne returns (nil, nil) when nothing
// matches, never an error.
type Collection interface {
	Name() string
	Database() string

	InsertOne(ctx context.Context, doc document.Document) (InsertOneResult, error)
	FindOne(ctx context.Context, filter map[string]any) (document.Document, error)
	Find(filter map[string]any) Cursor
	Count(ctx context.Context, filter map[string]any) (int64, error)
	UpdateOne(ctx context.Context, filter, set map[string]any, upsert bool) (UpdateResult, error)
	UpdateMany(ctx context.Context, filter, set map[string]any) (UpdateResult, error)
	DeleteOne(ctx context.Context, filter map[string]any) (DeleteResult, error)
	CreateIndex(ctx context.Context, idx Index) error
}

// Database is a named namespace of collections within one backend.
type Database interface {
	Name() string
	Collection(name string) Collection
}

// Backend is a connected store instance.
type Backend interface {
	Database(name string) Database
	DefaultDatabase() Database
	ListDatabases(ctx context.Context) ([]string, error)
	Close(ctx context.Context) error
}
