package uodm

import (
	"context"
	"errors"

	"github.com/bobuk/uodm/pkg/backend"
	"github.com/bobuk/uodm/pkg/changestream"
	"github.com/bobuk/uodm/pkg/document"
	"github.com/bobuk/uodm/pkg/filter"
)

// Collection wraps a backend collection with the store's lifecycle and
// change stream policy.
type Collection struct {
	store *Store
	coll  backend.Collection
}

func (c *Collection) Name() string     { return c.coll.Name() }
func (c *Collection) Database() string { return c.coll.Database() }

func (c *Collection) InsertOne(ctx context.Context, doc document.Document) (backend.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, doc)
}

func (c *Collection) FindOne(ctx context.Context, filter map[string]any) (document.Document, error) {
	return c.coll.FindOne(ctx, filter)
}

func (c *Collection) Find(filter map[string]any) backend.Cursor {
	return c.coll.Find(filter)
}

func (c *Collection) Count(ctx context.Context, filter map[string]any) (int64, error) {
	return c.coll.Count(ctx, filter)
}

func (c *Collection) UpdateOne(ctx context.Context, filter, set map[string]any, upsert bool) (backend.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, set, upsert)
}

func (c *Collection) UpdateMany(ctx context.Context, filter, set map[string]any) (backend.UpdateResult, error) {
	return c.coll.UpdateMany(ctx, filter, set)
}

func (c *Collection) DeleteOne(ctx context.Context, filter map[string]any) (backend.DeleteResult, error) {
	return c.coll.DeleteOne(ctx, filter)
}

func (c *Collection) CreateIndex(ctx context.Context, idx backend.Index) error {
	return c.coll.CreateIndex(ctx, idx)
}

// EnsureIndexes creates the given indexes, logging and skipping the ones
// the backend cannot support instead of failing the caller.
func (c *Collection) EnsureIndexes(ctx context.Context, indexes []backend.Index) error {
	for _, idx := range indexes {
		err := c.coll.CreateIndex(ctx, idx)
		if err == nil {
			continue
		}
		if errors.Is(err, backend.ErrUnsupported) {
			c.store.logger.Warnw("skipping unsupported index",
				"collection", c.coll.Name(), "index", idx.ResolvedName(), "error", err)
			continue
		}
		return err
	}
	return nil
}

// nativeFeeder is implemented by collections whose backend can push
// change events itself.
type nativeFeeder interface {
	NativeFeed(ctx context.Context) (changestream.Feed, error)
}

// Watch opens a change stream on this collection. Backends with a native
// feed get the push adapter; everything else, including backends whose
// feed fails to open, falls back to the polling adapter. The filter
// restricts which documents the polling adapter observes; native feeds
// deliver all of the collection's changes.
func (c *Collection) Watch(ctx context.Context, rawFilter map[string]any) (changestream.Stream, error) {
	if err := c.store.checkOpen(); err != nil {
		return nil, backend.Wrap("watch", err)
	}
	if _, err := filter.Parse(rawFilter); err != nil {
		return nil, backend.Wrap("watch", err)
	}

	opts := c.store.stream
	if opts.Logger == nil {
		opts.Logger = c.store.logger
	}

	if nf, ok := c.coll.(nativeFeeder); ok {
		feed, err := nf.NativeFeed(ctx)
		if err == nil {
			st := changestream.NewNative(feed, opts)
			c.store.track(st)
			return st, nil
		}
		c.store.logger.Debugw("native change feed unavailable, polling instead",
			"collection", c.coll.Name(), "error", err)
	}

	st := changestream.NewPolling(c.coll, rawFilter, opts)
	c.store.track(st)
	return st, nil
}
