package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bobuk/uodm/pkg/backend"
	"github.com/bobuk/uodm/pkg/document"
	"github.com/bobuk/uodm/pkg/filter"
)

const indexSidecar = "_indexes"

// Collection stores one file per document under <base>/<db>/<collection>/.
type Collection struct {
	store *Store
	db    string
	name  string
	path  string
}

func (c *Collection) Name() string     { return c.name }
func (c *Collection) Database() string { return c.db }

func (c *Collection) ext() string { return c.store.format.Ext() }

func (c *Collection) docPath(id string) string {
	return filepath.Join(c.path, id+"."+c.ext())
}

func (c *Collection) ensureDir() error {
	return os.MkdirAll(c.path, 0o755)
}

// InsertOne writes the document to its own file, assigning an identifier
// when absent. Inserting an existing identifier fails with ErrDuplicateKey.
func (c *Collection) InsertOne(ctx context.Context, doc document.Document) (backend.InsertOneResult, error) {
	if err := c.store.checkOpen(); err != nil {
		return backend.InsertOneResult{}, backend.Wrap("insert_one", err)
	}
	if err := c.ensureDir(); err != nil {
		return backend.InsertOneResult{}, backend.Wrap("insert_one", err)
	}

	doc = doc.Clone()
	id := doc.ID()
	if id == "" {
		id = document.NewID()
		doc[document.IDField] = id
	}

	unlock := c.store.lockFor(c.db, c.name, id)
	defer unlock()

	path := c.docPath(id)
	if _, err := os.Stat(path); err == nil {
		return backend.InsertOneResult{}, backend.Wrap("insert_one", fmt.Errorf("%w: _id %q", backend.ErrDuplicateKey, id))
	}
	if err := c.writeDoc(path, doc); err != nil {
		return backend.InsertOneResult{}, backend.Wrap("insert_one", err)
	}
	return backend.InsertOneResult{InsertedID: id}, nil
}

// FindOne returns the first matching document in directory scan order, or
// (nil, nil) when nothing matches. A filter of exactly {_id: <string>}
// reads the document file directly.
func (c *Collection) FindOne(ctx context.Context, rawFilter map[string]any) (document.Document, error) {
	if err := c.store.checkOpen(); err != nil {
		return nil, backend.Wrap("find_one", err)
	}

	if id, ok := idOnlyFilter(rawFilter); ok {
		doc, err := c.readDoc(c.docPath(id))
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, backend.Wrap("find_one", err)
		}
		return doc, nil
	}

	f, err := filter.Parse(rawFilter)
	if err != nil {
		return nil, backend.Wrap("find_one", err)
	}
	var found document.Document
	err = c.scanDocs(ctx, func(doc document.Document) bool {
		if f.Matches(doc) {
			found = doc
			return false
		}
		return true
	})
	if err != nil {
		return nil, backend.Wrap("find_one", err)
	}
	return found, nil
}

// Find builds a lazy cursor over the matching documents. The directory is
// scanned when iteration starts.
func (c *Collection) Find(rawFilter map[string]any) backend.Cursor {
	return backend.NewSliceCursor(func(ctx context.Context) ([]document.Document, error) {
		if err := c.store.checkOpen(); err != nil {
			return nil, backend.Wrap("find", err)
		}
		f, err := filter.Parse(rawFilter)
		if err != nil {
			return nil, backend.Wrap("find", err)
		}
		var docs []document.Document
		err = c.scanDocs(ctx, func(doc document.Document) bool {
			if f.Matches(doc) {
				docs = append(docs, doc)
			}
			return true
		})
		if err != nil {
			return nil, backend.Wrap("find", err)
		}
		return docs, nil
	})
}

// Count reports how many documents match the filter.
func (c *Collection) Count(ctx context.Context, rawFilter map[string]any) (int64, error) {
	if err := c.store.checkOpen(); err != nil {
		return 0, backend.Wrap("count", err)
	}
	f, err := filter.Parse(rawFilter)
	if err != nil {
		return 0, backend.Wrap("count", err)
	}
	var n int64
	err = c.scanDocs(ctx, func(doc document.Document) bool {
		if f.Matches(doc) {
			n++
		}
		return true
	})
	if err != nil {
		return 0, backend.Wrap("count", err)
	}
	return n, nil
}

// UpdateOne applies a $set-style field replacement to the first matching
// document. With upsert, a miss inserts a document merging the filter's
// literal-equality fields with the set fields.
func (c *Collection) UpdateOne(ctx context.Context, rawFilter, set map[string]any, upsert bool) (backend.UpdateResult, error) {
	if err := c.store.checkOpen(); err != nil {
		return backend.UpdateResult{}, backend.Wrap("update_one", err)
	}

	target, err := c.FindOne(ctx, rawFilter)
	if err != nil {
		return backend.UpdateResult{}, err
	}
	if target == nil {
		if !upsert {
			return backend.UpdateResult{}, nil
		}
		f, err := filter.Parse(rawFilter)
		if err != nil {
			return backend.UpdateResult{}, backend.Wrap("update_one", err)
		}
		doc := upsertSeed(f, set)
		res, err := c.InsertOne(ctx, doc)
		if err != nil {
			return backend.UpdateResult{}, err
		}
		return backend.UpdateResult{ModifiedCount: 1, UpsertedID: res.InsertedID}, nil
	}

	id := target.ID()
	if err := c.applySet(id, set); err != nil {
		return backend.UpdateResult{}, backend.Wrap("update_one", err)
	}
	return backend.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

// UpdateMany applies the set fields to every matching document. Filters of
// the shape {_id: {$in: [...]}} take a fast path straight to the document
// files.
func (c *Collection) UpdateMany(ctx context.Context, rawFilter, set map[string]any) (backend.UpdateResult, error) {
	if err := c.store.checkOpen(); err != nil {
		return backend.UpdateResult{}, backend.Wrap("update_many", err)
	}

	if ids, ok := idInFilter(rawFilter); ok {
		var res backend.UpdateResult
		for _, id := range ids {
			if _, err := os.Stat(c.docPath(id)); err != nil {
				continue
			}
			res.MatchedCount++
			if err := c.applySet(id, set); err != nil {
				return res, backend.Wrap("update_many", err)
			}
			res.ModifiedCount++
		}
		return res, nil
	}

	f, err := filter.Parse(rawFilter)
	if err != nil {
		return backend.UpdateResult{}, backend.Wrap("update_many", err)
	}
	var ids []string
	err = c.scanDocs(ctx, func(doc document.Document) bool {
		if f.Matches(doc) {
			ids = append(ids, doc.ID())
		}
		return true
	})
	if err != nil {
		return backend.UpdateResult{}, backend.Wrap("update_many", err)
	}

	var res backend.UpdateResult
	for _, id := range ids {
		res.MatchedCount++
		if err := c.applySet(id, set); err != nil {
			return res, backend.Wrap("update_many", err)
		}
		res.ModifiedCount++
	}
	return res, nil
}

// DeleteOne removes the first matching document's file.
func (c *Collection) DeleteOne(ctx context.Context, rawFilter map[string]any) (backend.DeleteResult, error) {
	if err := c.store.checkOpen(); err != nil {
		return backend.DeleteResult{}, backend.Wrap("delete_one", err)
	}

	target, err := c.FindOne(ctx, rawFilter)
	if err != nil {
		return backend.DeleteResult{}, err
	}
	if target == nil {
		return backend.DeleteResult{}, nil
	}

	id := target.ID()
	unlock := c.store.lockFor(c.db, c.name, id)
	defer unlock()

	if err := os.Remove(c.docPath(id)); err != nil {
		if os.IsNotExist(err) {
			return backend.DeleteResult{}, nil
		}
		return backend.DeleteResult{}, backend.Wrap("delete_one", err)
	}
	return backend.DeleteResult{DeletedCount: 1}, nil
}

// CreateIndex records the descriptor in the collection's sidecar metadata
// file. The file backend does not enforce indexes; descriptors are
// advisory.
func (c *Collection) CreateIndex(ctx context.Context, idx backend.Index) error {
	if err := c.store.checkOpen(); err != nil {
		return backend.Wrap("create_index", err)
	}
	if err := c.ensureDir(); err != nil {
		return backend.Wrap("create_index", err)
	}

	unlock := c.store.lockFor(c.db, c.name, indexSidecar)
	defer unlock()

	path := filepath.Join(c.path, indexSidecar+"."+c.ext())
	indexes := map[string]any{}
	if data, err := os.ReadFile(path); err == nil {
		indexes, err = c.store.format.Unmarshal(data)
		if err != nil {
			return backend.Wrap("create_index", err)
		}
	}

	keys := make([]any, len(idx.Keys))
	for i, k := range idx.Keys {
		keys[i] = k
	}
	indexes[idx.ResolvedName()] = map[string]any{
		"keys": keys,
		"options": map[string]any{
			"name":       idx.ResolvedName(),
			"unique":     idx.Unique,
			"sparse":     idx.Sparse,
			"background": idx.Background,
		},
	}

	data, err := c.store.format.Marshal(indexes)
	if err != nil {
		return backend.Wrap("create_index", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return backend.Wrap("create_index", err)
	}
	return nil
}

// applySet re-reads, merges and rewrites one document under its id lock.
func (c *Collection) applySet(id string, set map[string]any) error {
	unlock := c.store.lockFor(c.db, c.name, id)
	defer unlock()

	path := c.docPath(id)
	doc, err := c.readDoc(path)
	if err != nil {
		return err
	}
	doc.ApplySet(set)
	return c.writeDoc(path, doc)
}

// scanDocs enumerates document files in name order and feeds decoded
// documents to fn until fn returns false.
func (c *Collection) scanDocs(ctx context.Context, fn func(document.Document) bool) error {
	entries, err := os.ReadDir(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	suffix := "." + c.ext()
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		if strings.HasPrefix(name, indexSidecar+".") || strings.HasPrefix(name, ".") {
			continue
		}
		doc, err := c.readDoc(filepath.Join(c.path, name))
		if err != nil {
			// A file removed mid-scan is not an error.
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if !fn(doc) {
			return nil
		}
	}
	return nil
}

func (c *Collection) readDoc(path string) (document.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := c.store.format.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return document.Document(m), nil
}

// writeDoc writes atomically via a dot-prefixed temp file and rename, so
// a concurrent reader never observes a partial document.
func (c *Collection) writeDoc(path string, doc document.Document) error {
	data, err := c.store.format.Marshal(doc)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.path, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// idOnlyFilter recognizes {_id: "<string>"} filters.
func idOnlyFilter(rawFilter map[string]any) (string, bool) {
	if len(rawFilter) != 1 {
		return "", false
	}
	id, ok := rawFilter[document.IDField].(string)
	return id, ok
}

// idInFilter recognizes {_id: {$in: [...]}} filters and extracts the ids.
func idInFilter(rawFilter map[string]any) ([]string, bool) {
	if len(rawFilter) != 1 {
		return nil, false
	}
	cond, ok := rawFilter[document.IDField].(map[string]any)
	if !ok || len(cond) != 1 {
		return nil, false
	}
	list, ok := cond["$in"].([]any)
	if !ok {
		return nil, false
	}
	ids := make([]string, 0, len(list))
	for _, v := range list {
		id, ok := v.(string)
		if !ok {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

// upsertSeed merges the filter's literal-equality fields with the set
// fields into a new document.
func upsertSeed(f *filter.Filter, set map[string]any) document.Document {
	doc := document.Document{}
	for _, node := range f.Nodes {
		if node.Kind == filter.NodeEquals {
			doc[node.Path] = node.Value
		}
	}
	doc.ApplySet(set)
	return doc
}
