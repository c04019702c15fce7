package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bobuk/uodm/internal/encoding"
	"github.com/bobuk/uodm/pkg/backend"
	"github.com/bobuk/uodm/pkg/document"
	"github.com/bobuk/uodm/pkg/filter"
)

// Collection delegates operations to one MongoDB collection.
type Collection struct {
	store *Store
	coll  *mongo.Collection
	db    string
	name  string
}

func (c *Collection) Name() string     { return c.name }
func (c *Collection) Database() string { return c.db }

// validate checks filter structure locally so malformed filters fail with
// ErrInvalidFilter on every backend, not with a server error here.
func validate(rawFilter map[string]any) error {
	_, err := filter.Parse(rawFilter)
	return err
}

// bsonFilter converts a raw filter for the driver; a nil map must encode
// as the empty document, not null.
func bsonFilter(rawFilter map[string]any) bson.M {
	if rawFilter == nil {
		return bson.M{}
	}
	return bson.M(rawFilter)
}

// InsertOne writes the document, assigning a string identifier when
// absent so identifiers stay uniform across backends.
func (c *Collection) InsertOne(ctx context.Context, doc document.Document) (backend.InsertOneResult, error) {
	doc = doc.Clone()
	id := doc.ID()
	if id == "" {
		id = document.NewID()
		doc[document.IDField] = id
	}

	if _, err := c.coll.InsertOne(ctx, bson.M(doc)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return backend.InsertOneResult{}, backend.Wrap("insert_one",
				fmt.Errorf("%w: _id %q", backend.ErrDuplicateKey, id))
		}
		return backend.InsertOneResult{}, backend.Wrap("insert_one", err)
	}
	return backend.InsertOneResult{InsertedID: id}, nil
}

// FindOne returns one matching document, or (nil, nil) when nothing
// matches.
func (c *Collection) FindOne(ctx context.Context, rawFilter map[string]any) (document.Document, error) {
	if err := validate(rawFilter); err != nil {
		return nil, backend.Wrap("find_one", err)
	}

	var raw bson.M
	err := c.coll.FindOne(ctx, bsonFilter(rawFilter)).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, backend.Wrap("find_one", err)
	}
	return document.Document(encoding.NormalizeMap(raw)), nil
}

// Find builds a lazy cursor; the server query runs when iteration starts.
func (c *Collection) Find(rawFilter map[string]any) backend.Cursor {
	return &mongoCursor{coll: c.coll, filter: rawFilter}
}

// Count reports how many documents match the filter.
func (c *Collection) Count(ctx context.Context, rawFilter map[string]any) (int64, error) {
	if err := validate(rawFilter); err != nil {
		return 0, backend.Wrap("count", err)
	}
	n, err := c.coll.CountDocuments(ctx, bsonFilter(rawFilter))
	if err != nil {
		return 0, backend.Wrap("count", err)
	}
	return n, nil
}

// UpdateOne applies a $set update to one matching document, optionally
// upserting.
func (c *Collection) UpdateOne(ctx context.Context, rawFilter, set map[string]any, upsert bool) (backend.UpdateResult, error) {
	if err := validate(rawFilter); err != nil {
		return backend.UpdateResult{}, backend.Wrap("update_one", err)
	}

	res, err := c.coll.UpdateOne(ctx, bsonFilter(rawFilter),
		bson.M{"$set": bson.M(set)}, options.Update().SetUpsert(upsert))
	if err != nil {
		return backend.UpdateResult{}, backend.Wrap("update_one", err)
	}
	out := backend.UpdateResult{
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
	}
	if res.UpsertedID != nil {
		out.ModifiedCount = 1
		out.UpsertedID = idString(res.UpsertedID)
	}
	return out, nil
}

// UpdateMany applies a $set update to every matching document.
func (c *Collection) UpdateMany(ctx context.Context, rawFilter, set map[string]any) (backend.UpdateResult, error) {
	if err := validate(rawFilter); err != nil {
		return backend.UpdateResult{}, backend.Wrap("update_many", err)
	}
	res, err := c.coll.UpdateMany(ctx, bsonFilter(rawFilter), bson.M{"$set": bson.M(set)})
	if err != nil {
		return backend.UpdateResult{}, backend.Wrap("update_many", err)
	}
	return backend.UpdateResult{
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
	}, nil
}

// DeleteOne removes one matching document.
func (c *Collection) DeleteOne(ctx context.Context, rawFilter map[string]any) (backend.DeleteResult, error) {
	if err := validate(rawFilter); err != nil {
		return backend.DeleteResult{}, backend.Wrap("delete_one", err)
	}
	res, err := c.coll.DeleteOne(ctx, bsonFilter(rawFilter))
	if err != nil {
		return backend.DeleteResult{}, backend.Wrap("delete_one", err)
	}
	return backend.DeleteResult{DeletedCount: res.DeletedCount}, nil
}

// CreateIndex creates a server-side index from the descriptor.
func (c *Collection) CreateIndex(ctx context.Context, idx backend.Index) error {
	keys := bson.D{}
	for _, key := range idx.Keys {
		keys = append(keys, bson.E{Key: key, Value: 1})
	}
	opts := options.Index().SetName(idx.ResolvedName())
	if idx.Unique {
		opts.SetUnique(true)
	}
	if idx.Sparse {
		opts.SetSparse(true)
	}
	// Background builds are the server default since 4.2; the flag is
	// accepted and ignored.

	_, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys, Options: opts})
	if err != nil {
		return backend.Wrap("create_index", err)
	}
	return nil
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case primitive.ObjectID:
		return id.Hex()
	default:
		return fmt.Sprint(id)
	}
}
