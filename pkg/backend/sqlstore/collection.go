package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bobuk/uodm/pkg/backend"
	"github.com/bobuk/uodm/pkg/document"
	"github.com/bobuk/uodm/pkg/filter"
)

// Collection stores documents as JSON rows in one SQLite table.
type Collection struct {
	store *Store
	db    string
	name  string
}

func (c *Collection) Name() string     { return c.name }
func (c *Collection) Database() string { return c.db }

func (c *Collection) table(ctx context.Context, op string) (string, error) {
	if err := c.store.checkOpen(); err != nil {
		return "", backend.Wrap(op, err)
	}
	tbl, err := c.store.ensureTable(ctx, c.db, c.name)
	if err != nil {
		return "", backend.Wrap(op, err)
	}
	return tbl, nil
}

// InsertOne writes the document as a new row, assigning an identifier
// when absent. A primary key collision maps to ErrDuplicateKey.
func (c *Collection) InsertOne(ctx context.Context, doc document.Document) (backend.InsertOneResult, error) {
	tbl, err := c.table(ctx, "insert_one")
	if err != nil {
		return backend.InsertOneResult{}, err
	}

	doc = doc.Clone()
	id := doc.ID()
	if id == "" {
		id = document.NewID()
		doc[document.IDField] = id
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return backend.InsertOneResult{}, backend.Wrap("insert_one", err)
	}

	c.store.writeMu.Lock()
	defer c.store.writeMu.Unlock()

	_, err = c.store.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (_id, doc) VALUES (?, ?)", quoteIdent(tbl)), id, string(data))
	if err != nil {
		if isUniqueViolation(err) {
			return backend.InsertOneResult{}, backend.Wrap("insert_one",
				fmt.Errorf("%w: _id %q", backend.ErrDuplicateKey, id))
		}
		return backend.InsertOneResult{}, backend.Wrap("insert_one", err)
	}
	return backend.InsertOneResult{InsertedID: id}, nil
}

// FindOne returns the first matching document in primary key order, or
// (nil, nil) when nothing matches.
func (c *Collection) FindOne(ctx context.Context, rawFilter map[string]any) (document.Document, error) {
	docs, err := c.fetch(ctx, "find_one", rawFilter, 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// Find builds a lazy cursor over the matching documents. The query runs
// when iteration starts; sort, skip and limit apply to the fetched set.
func (c *Collection) Find(rawFilter map[string]any) backend.Cursor {
	return backend.NewSliceCursor(func(ctx context.Context) ([]document.Document, error) {
		return c.fetch(ctx, "find", rawFilter, 0)
	})
}

// Count reports how many documents match the filter.
func (c *Collection) Count(ctx context.Context, rawFilter map[string]any) (int64, error) {
	docs, err := c.fetch(ctx, "count", rawFilter, 0)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

// fetch runs the json_extract prefilter and confirms every candidate row
// with the condition evaluator. limit 0 means unbounded; a positive limit
// stops after that many confirmed matches.
func (c *Collection) fetch(ctx context.Context, op string, rawFilter map[string]any, limit int) ([]document.Document, error) {
	tbl, err := c.table(ctx, op)
	if err != nil {
		return nil, err
	}
	f, err := filter.Parse(rawFilter)
	if err != nil {
		return nil, backend.Wrap(op, err)
	}

	query := fmt.Sprintf("SELECT doc FROM %s", quoteIdent(tbl))
	var args []any
	if id, ok := idOnlyFilter(rawFilter); ok {
		query += " WHERE _id = ?"
		args = append(args, id)
	} else if ids, ok := idInFilter(rawFilter); ok {
		query += " WHERE _id IN (?" + strings.Repeat(", ?", len(ids)-1) + ")"
		args = append(args, ids...)
	} else if where, whereArgs := prefilter(f); where != "" {
		query += " WHERE " + where
		args = whereArgs
	}
	query += " ORDER BY _id"

	rows, err := c.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, backend.Wrap(op, err)
	}
	defer rows.Close()

	var docs []document.Document
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, backend.Wrap(op, err)
		}
		var doc document.Document
		if err := json.Unmarshal([]byte(data), &doc); err != nil {
			return nil, backend.Wrap(op, err)
		}
		if !f.Matches(doc) {
			continue
		}
		docs = append(docs, doc)
		if limit > 0 && len(docs) == limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, backend.Wrap(op, err)
	}
	return docs, nil
}

// UpdateOne applies a $set-style field replacement to the first matching
// document. With upsert, a miss inserts a document merging the filter's
// literal-equality fields with the set fields.
func (c *Collection) UpdateOne(ctx context.Context, rawFilter, set map[string]any, upsert bool) (backend.UpdateResult, error) {
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
		res, err := c.InsertOne(ctx, upsertSeed(f, set))
		if err != nil {
			return backend.UpdateResult{}, err
		}
		return backend.UpdateResult{ModifiedCount: 1, UpsertedID: res.InsertedID}, nil
	}

	if err := c.writeBack(ctx, "update_one", target, set); err != nil {
		return backend.UpdateResult{}, err
	}
	return backend.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

// UpdateMany applies the set fields to every matching document inside one
// transaction.
func (c *Collection) UpdateMany(ctx context.Context, rawFilter, set map[string]any) (backend.UpdateResult, error) {
	targets, err := c.fetch(ctx, "update_many", rawFilter, 0)
	if err != nil {
		return backend.UpdateResult{}, err
	}
	if len(targets) == 0 {
		return backend.UpdateResult{}, nil
	}

	tbl, err := c.table(ctx, "update_many")
	if err != nil {
		return backend.UpdateResult{}, err
	}

	c.store.writeMu.Lock()
	defer c.store.writeMu.Unlock()

	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return backend.UpdateResult{}, backend.Wrap("update_many", err)
	}
	defer tx.Rollback()

	stmt := fmt.Sprintf("UPDATE %s SET doc = ? WHERE _id = ?", quoteIdent(tbl))
	var res backend.UpdateResult
	for _, target := range targets {
		doc := target.Clone()
		doc.ApplySet(set)
		data, err := json.Marshal(doc)
		if err != nil {
			return backend.UpdateResult{}, backend.Wrap("update_many", err)
		}
		if _, err := tx.ExecContext(ctx, stmt, string(data), doc.ID()); err != nil {
			return backend.UpdateResult{}, backend.Wrap("update_many", err)
		}
		res.MatchedCount++
		res.ModifiedCount++
	}
	if err := tx.Commit(); err != nil {
		return backend.UpdateResult{}, backend.Wrap("update_many", err)
	}
	return res, nil
}

// DeleteOne removes the first matching document's row.
func (c *Collection) DeleteOne(ctx context.Context, rawFilter map[string]any) (backend.DeleteResult, error) {
	target, err := c.FindOne(ctx, rawFilter)
	if err != nil {
		return backend.DeleteResult{}, err
	}
	if target == nil {
		return backend.DeleteResult{}, nil
	}

	tbl, err := c.table(ctx, "delete_one")
	if err != nil {
		return backend.DeleteResult{}, err
	}

	c.store.writeMu.Lock()
	defer c.store.writeMu.Unlock()

	result, err := c.store.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE _id = ?", quoteIdent(tbl)), target.ID())
	if err != nil {
		return backend.DeleteResult{}, backend.Wrap("delete_one", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return backend.DeleteResult{}, backend.Wrap("delete_one", err)
	}
	return backend.DeleteResult{DeletedCount: n}, nil
}

// CreateIndex creates a functional index over json_extract expressions.
// SQLite cannot express sparse indexes; those degrade to plain indexes
// with a logged warning, matching the contract that unsupported index
// features are reported, not fatal.
func (c *Collection) CreateIndex(ctx context.Context, idx backend.Index) error {
	tbl, err := c.table(ctx, "create_index")
	if err != nil {
		return err
	}

	if idx.Sparse {
		c.store.logger.Warnw("sparse indexes are not supported, creating a plain index",
			"collection", c.name, "index", idx.ResolvedName(),
			"error", backend.ErrUnsupported)
	}

	exprs := make([]string, len(idx.Keys))
	for i, key := range idx.Keys {
		exprs[i] = jsonField(key)
	}
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	stmt := fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		unique,
		quoteIdent(tbl+"."+idx.ResolvedName()),
		quoteIdent(tbl),
		strings.Join(exprs, ", "))

	c.store.writeMu.Lock()
	defer c.store.writeMu.Unlock()

	// The functional index is best-effort; the descriptor metadata below
	// is the durable record either way.
	if _, err := c.store.db.ExecContext(ctx, stmt); err != nil {
		c.store.logger.Warnw("functional index creation failed, keeping descriptor only",
			"collection", c.name, "index", idx.ResolvedName(),
			"error", fmt.Errorf("%w: %v", backend.ErrUnsupported, err))
	}

	desc, err := json.Marshal(idx)
	if err != nil {
		return backend.Wrap("create_index", err)
	}
	meta := fmt.Sprintf("INSERT OR REPLACE INTO %s (key, value) VALUES (?, ?)",
		quoteIdent(tbl+"_metadata"))
	if _, err := c.store.db.ExecContext(ctx, meta, "index:"+idx.ResolvedName(), desc); err != nil {
		return backend.Wrap("create_index", err)
	}
	return nil
}

// writeBack rewrites one document row with the set fields applied.
func (c *Collection) writeBack(ctx context.Context, op string, target document.Document, set map[string]any) error {
	tbl, err := c.table(ctx, op)
	if err != nil {
		return err
	}

	doc := target.Clone()
	doc.ApplySet(set)
	data, err := json.Marshal(doc)
	if err != nil {
		return backend.Wrap(op, err)
	}

	c.store.writeMu.Lock()
	defer c.store.writeMu.Unlock()

	_, err = c.store.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET doc = ? WHERE _id = ?", quoteIdent(tbl)),
		string(data), doc.ID())
	if err != nil {
		return backend.Wrap(op, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// idOnlyFilter recognizes {_id: "<string>"} filters for the primary key
// fast path.
func idOnlyFilter(rawFilter map[string]any) (string, bool) {
	if len(rawFilter) != 1 {
		return "", false
	}
	id, ok := rawFilter[document.IDField].(string)
	return id, ok
}

// idInFilter recognizes {_id: {$in: [ids...]}} filters so membership can
// run against the primary key instead of a table scan. Identifier columns
// never hold lists, so the pushdown selects exactly the candidate rows.
func idInFilter(rawFilter map[string]any) ([]any, bool) {
	if len(rawFilter) != 1 {
		return nil, false
	}
	ops, ok := rawFilter[document.IDField].(map[string]any)
	if !ok || len(ops) != 1 {
		return nil, false
	}
	list, ok := ops["$in"].([]any)
	if !ok || len(list) == 0 {
		return nil, false
	}
	for _, v := range list {
		if _, ok := v.(string); !ok {
			return nil, false
		}
	}
	return list, true
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
