package mongostore

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bobuk/uodm/internal/encoding"
	"github.com/bobuk/uodm/pkg/backend"
	"github.com/bobuk/uodm/pkg/document"
	"github.com/bobuk/uodm/pkg/filter"
)

// mongoCursor pushes sort, skip and limit down to the server. The query
// runs on the first Next call; builder calls after that are ignored.
type mongoCursor struct {
	coll   *mongo.Collection
	filter map[string]any
	opts   *options.FindOptions

	started bool
	empty   bool
	cur     *mongo.Cursor
	current document.Document
	err     error
}

func (c *mongoCursor) findOpts() *options.FindOptions {
	if c.opts == nil {
		c.opts = options.Find()
	}
	return c.opts
}

func (c *mongoCursor) Sort(field string, direction int) backend.Cursor {
	if !c.started {
		c.findOpts().SetSort(bson.D{{Key: field, Value: direction}})
	}
	return c
}

func (c *mongoCursor) Skip(n int) backend.Cursor {
	if !c.started && n > 0 {
		c.findOpts().SetSkip(int64(n))
	}
	return c
}

func (c *mongoCursor) Limit(n int) backend.Cursor {
	if c.started {
		return c
	}
	// The server treats limit 0 as unlimited; the cursor contract reads
	// it as "no documents", so short-circuit instead of pushing it down.
	c.empty = n == 0
	if n > 0 {
		c.findOpts().SetLimit(int64(n))
	}
	return c
}

func (c *mongoCursor) start(ctx context.Context) {
	c.started = true
	if _, err := filter.Parse(c.filter); err != nil {
		c.err = backend.Wrap("find", err)
		return
	}
	cur, err := c.coll.Find(ctx, bsonFilter(c.filter), c.opts)
	if err != nil {
		c.err = backend.Wrap("find", err)
		return
	}
	c.cur = cur
}

func (c *mongoCursor) Next(ctx context.Context) bool {
	if c.empty {
		return false
	}
	if !c.started {
		c.start(ctx)
	}
	if c.err != nil || c.cur == nil {
		return false
	}
	if !c.cur.Next(ctx) {
		if err := c.cur.Err(); err != nil {
			c.err = backend.Wrap("find", err)
		}
		return false
	}
	var raw bson.M
	if err := c.cur.Decode(&raw); err != nil {
		c.err = backend.Wrap("find", err)
		return false
	}
	c.current = document.Document(encoding.NormalizeMap(raw))
	return true
}

func (c *mongoCursor) Current() document.Document { return c.current }

func (c *mongoCursor) Err() error { return c.err }

func (c *mongoCursor) Close() error {
	if c.cur == nil {
		return nil
	}
	return c.cur.Close(context.Background())
}

func (c *mongoCursor) All(ctx context.Context) ([]document.Document, error) {
	defer c.Close()
	var docs []document.Document
	for c.Next(ctx) {
		docs = append(docs, c.current)
	}
	return docs, c.err
}
