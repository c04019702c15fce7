// Package changestream implements change notification over storage
// backends: a native-feed adapter for backends with push feeds and a
// polling-diff adapter for everything else, behind one Stream contract.
package changestream

import (
	"context"
	"time"

	"github.com/bobuk/uodm/pkg/document"
)

// Operation labels what happened to a document.
type Operation string

const (
	OperationInsert     Operation = "insert"
	OperationUpdate     Operation = "update"
	OperationDelete     Operation = "delete"
	OperationReplace    Operation = "replace"
	OperationInvalidate Operation = "invalidate"
)

// Namespace identifies the database and collection an event belongs to.
type Namespace struct {
	Database   string `json:"db"`
	Collection string `json:"coll"`
}

// Event describes one detected change. FullDocument is populated for
// inserts and updates only; deletes carry just the document key. Events
// are consumed exactly once per registered handler and are not persisted.
type Event struct {
	Operation    Operation         `json:"operationType"`
	DocumentKey  string            `json:"documentKey"`
	FullDocument document.Document `json:"fullDocument,omitempty"`
	Namespace    Namespace         `json:"ns"`
	WallTime     time.Time         `json:"wallTime"`
	ResumeToken  string            `json:"resumeToken,omitempty"`
}

// Handler processes one event. A failing handler is logged and skipped;
// it never terminates the stream.
type Handler func(ctx context.Context, ev *Event) error

// Stream delivers change events. Handlers registered with Watch receive
// every event in registration order from a background task; Next offers
// pull-style consumption with a bounded wait. Close cancels the
// background work and waits for it to finish, guaranteeing no deliveries
// after it returns.
type Stream interface {
	Watch(h Handler)
	Next(ctx context.Context) (*Event, error)
	Close(ctx context.Context) error
}

// Feed is a backend-provided push source of change events, drained by the
// native adapter.
type Feed interface {
	// Next blocks until an event arrives, the context is done, or the
	// feed fails.
	Next(ctx context.Context) (*Event, error)
	Close(ctx context.Context) error
}
