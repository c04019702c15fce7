package mongostore

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bobuk/uodm/internal/encoding"
	"github.com/bobuk/uodm/pkg/backend"
	"github.com/bobuk/uodm/pkg/changestream"
)

// NativeFeed opens a server change stream on this collection. It needs a
// replica set; standalone servers reject it, and callers fall back to
// polling.
func (c *Collection) NativeFeed(ctx context.Context) (changestream.Feed, error) {
	cs, err := c.coll.Watch(ctx, mongo.Pipeline{},
		options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, backend.Wrap("watch", err)
	}
	return &mongoFeed{coll: c, cs: cs}, nil
}

type mongoFeed struct {
	coll *Collection
	cs   *mongo.ChangeStream
}

// rawEvent is the wire shape of a change stream document.
type rawEvent struct {
	OperationType string    `bson:"operationType"`
	DocumentKey   bson.M    `bson:"documentKey"`
	FullDocument  bson.M    `bson:"fullDocument"`
	WallTime      time.Time `bson:"wallClockTime"`
}

func (f *mongoFeed) Next(ctx context.Context) (*changestream.Event, error) {
	if !f.cs.Next(ctx) {
		if err := f.cs.Err(); err != nil {
			return nil, backend.Wrap("watch", err)
		}
		return nil, backend.Wrap("watch", backend.ErrBackendUnavailable)
	}

	var raw rawEvent
	if err := f.cs.Decode(&raw); err != nil {
		return nil, backend.Wrap("watch", err)
	}

	ev := &changestream.Event{
		Operation: changestream.Operation(raw.OperationType),
		Namespace: changestream.Namespace{
			Database:   f.coll.db,
			Collection: f.coll.name,
		},
		WallTime: raw.WallTime,
	}
	if ev.WallTime.IsZero() {
		ev.WallTime = time.Now()
	}
	if id, ok := raw.DocumentKey["_id"]; ok {
		ev.DocumentKey = idString(encoding.Normalize(id))
	}
	if raw.FullDocument != nil {
		ev.FullDocument = encoding.NormalizeMap(raw.FullDocument)
	}
	if token := f.cs.ResumeToken(); token != nil {
		ev.ResumeToken = token.String()
	}
	return ev, nil
}

func (f *mongoFeed) Close(ctx context.Context) error {
	return f.cs.Close(ctx)
}
