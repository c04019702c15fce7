package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/bobuk/uodm/pkg/backend"
	"github.com/bobuk/uodm/pkg/document"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		DefaultDatabase: "testdb",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func testColl(t *testing.T) backend.Collection {
	return newTestStore(t).DefaultDatabase().Collection("items")
}

func TestInMemoryStore(t *testing.T) {
	s, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close(context.Background())

	coll := s.DefaultDatabase().Collection("items")
	ctx := context.Background()

	res, err := coll.InsertOne(ctx, document.Document{"k": "v"})
	if err != nil {
		t.Fatalf("InsertOne: %v", err)
	}
	got, err := coll.FindOne(ctx, map[string]any{"_id": res.InsertedID})
	if err != nil || got == nil {
		t.Fatalf("FindOne: %v, %v", got, err)
	}
}

func TestInsertAndFindRoundTrip(t *testing.T) {
	coll := testColl(t)
	ctx := context.Background()

	res, err := coll.InsertOne(ctx, document.Document{
		"name": "widget",
		"qty":  7,
		"spec": map[string]any{"color": "red"},
	})
	if err != nil {
		t.Fatalf("InsertOne: %v", err)
	}
	if res.InsertedID == "" {
		t.Fatal("no id assigned")
	}

	got, err := coll.FindOne(ctx, map[string]any{"_id": res.InsertedID})
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if got == nil {
		t.Fatal("document not found by id")
	}
	if got["name"] != "widget" || !document.Equal(got["qty"], 7) {
		t.Fatalf("doc = %v", got)
	}
	v, ok := document.Resolve(got, "spec.color")
	if !ok || v != "red" {
		t.Fatalf("spec.color = %v, %v", v, ok)
	}
}

func TestInsertDuplicateKey(t *testing.T) {
	coll := testColl(t)
	ctx := context.Background()

	if _, err := coll.InsertOne(ctx, document.Document{"_id": "dup"}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	_, err := coll.InsertOne(ctx, document.Document{"_id": "dup"})
	if !errors.Is(err, backend.ErrDuplicateKey) {
		t.Fatalf("err = %v, want ErrDuplicateKey", err)
	}
}

func TestFindWithOperators(t *testing.T) {
	coll := testColl(t)
	ctx := context.Background()

	seed := []document.Document{
		{"_id": "1", "name": "alice", "age": 31, "tags": []any{"a", "b"}},
		{"_id": "2", "name": "bob", "age": 25},
		{"_id": "3", "name": "carol", "age": 40, "tags": []any{"b"}},
		{"_id": "4", "name": "dave"},
	}
	for _, doc := range seed {
		if _, err := coll.InsertOne(ctx, doc); err != nil {
			t.Fatalf("insert %v: %v", doc["_id"], err)
		}
	}

	tests := []struct {
		name   string
		filter map[string]any
		want   []string
	}{
		{"literal", map[string]any{"name": "bob"}, []string{"2"}},
		{"gt", map[string]any{"age": map[string]any{"$gt": 30}}, []string{"1", "3"}},
		{"gte lte range", map[string]any{"age": map[string]any{"$gte": 25, "$lte": 31}}, []string{"1", "2"}},
		{"exists false", map[string]any{"age": map[string]any{"$exists": false}}, []string{"4"}},
		{"exists true", map[string]any{"tags": map[string]any{"$exists": true}}, []string{"1", "3"}},
		{"in unwraps lists", map[string]any{"tags": map[string]any{"$in": []any{"a"}}}, []string{"1"}},
		{"ne", map[string]any{"name": map[string]any{"$ne": "bob"}}, []string{"1", "3", "4"}},
		{"regex", map[string]any{"name": map[string]any{"$regex": "^.a"}}, []string{"3", "4"}},
		{"or", map[string]any{"$or": []any{
			map[string]any{"name": "bob"},
			map[string]any{"age": map[string]any{"$gt": 35}},
		}}, []string{"2", "3"}},
		{"empty filter", map[string]any{}, []string{"1", "2", "3", "4"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := coll.Find(tt.filter).All(ctx)
			if err != nil {
				t.Fatalf("Find: %v", err)
			}
			var ids []string
			for _, doc := range docs {
				ids = append(ids, doc.ID())
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", ids, tt.want)
			}
			for i := range tt.want {
				if ids[i] != tt.want[i] {
					t.Fatalf("ids = %v, want %v", ids, tt.want)
				}
			}
		})
	}
}

func TestCursorPipeline(t *testing.T) {
	coll := testColl(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		if _, err := coll.InsertOne(ctx, document.Document{"rank": i}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	docs, err := coll.Find(map[string]any{}).
		Sort("rank", backend.SortDescending).
		Skip(1).
		Limit(2).
		All(ctx)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	if !document.Equal(docs[0]["rank"], 4) || !document.Equal(docs[1]["rank"], 3) {
		t.Fatalf("ranks = %v, %v", docs[0]["rank"], docs[1]["rank"])
	}
}

func TestUpdateOneAndUpsert(t *testing.T) {
	coll := testColl(t)
	ctx := context.Background()

	if _, err := coll.InsertOne(ctx, document.Document{"_id": "u1", "state": "new"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	res, err := coll.UpdateOne(ctx, map[string]any{"_id": "u1"}, map[string]any{"state": "done"}, false)
	if err != nil {
		t.Fatalf("UpdateOne: %v", err)
	}
	if res.MatchedCount != 1 || res.ModifiedCount != 1 {
		t.Fatalf("result = %+v", res)
	}
	got, _ := coll.FindOne(ctx, map[string]any{"_id": "u1"})
	if got["state"] != "done" {
		t.Fatalf("state = %v", got["state"])
	}

	res, err = coll.UpdateOne(ctx, map[string]any{"name": "eve"}, map[string]any{"active": true}, true)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if res.UpsertedID == "" || res.ModifiedCount != 1 {
		t.Fatalf("upsert result = %+v", res)
	}
	got, _ = coll.FindOne(ctx, map[string]any{"_id": res.UpsertedID})
	if got == nil || got["name"] != "eve" || got["active"] != true {
		t.Fatalf("upserted doc = %v", got)
	}
}

func TestUpdateMany(t *testing.T) {
	coll := testColl(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := coll.InsertOne(ctx, document.Document{"n": i}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	res, err := coll.UpdateMany(ctx,
		map[string]any{"n": map[string]any{"$gte": 2}},
		map[string]any{"big": true})
	if err != nil {
		t.Fatalf("UpdateMany: %v", err)
	}
	if res.MatchedCount != 2 || res.ModifiedCount != 2 {
		t.Fatalf("result = %+v", res)
	}

	n, err := coll.Count(ctx, map[string]any{"big": true})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}

func TestUpdateManyByIDList(t *testing.T) {
	coll := testColl(t)
	ctx := context.Background()

	ids := make([]any, 0, 3)
	for i := 0; i < 3; i++ {
		res, err := coll.InsertOne(ctx, document.Document{"n": i})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		if i < 2 {
			ids = append(ids, res.InsertedID)
		}
	}
	ids = append(ids, "missing")

	res, err := coll.UpdateMany(ctx,
		map[string]any{"_id": map[string]any{"$in": ids}},
		map[string]any{"tagged": true})
	if err != nil {
		t.Fatalf("UpdateMany: %v", err)
	}
	if res.MatchedCount != 2 || res.ModifiedCount != 2 {
		t.Fatalf("result = %+v", res)
	}

	n, err := coll.Count(ctx, map[string]any{"tagged": true})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}
}

func TestDeleteOne(t *testing.T) {
	coll := testColl(t)
	ctx := context.Background()

	if _, err := coll.InsertOne(ctx, document.Document{"_id": "d1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	res, err := coll.DeleteOne(ctx, map[string]any{"_id": "d1"})
	if err != nil || res.DeletedCount != 1 {
		t.Fatalf("DeleteOne = %+v, %v", res, err)
	}
	res, err = coll.DeleteOne(ctx, map[string]any{"_id": "d1"})
	if err != nil || res.DeletedCount != 0 {
		t.Fatalf("DeleteOne miss = %+v, %v", res, err)
	}
}

func TestCreateIndex(t *testing.T) {
	store := newTestStore(t)
	coll := store.DefaultDatabase().Collection("items")
	ctx := context.Background()

	if err := coll.CreateIndex(ctx, backend.Index{Keys: []string{"name"}, Unique: true}); err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
	// Repeated creation is a no-op.
	if err := coll.CreateIndex(ctx, backend.Index{Keys: []string{"name"}, Unique: true}); err != nil {
		t.Fatalf("repeat CreateIndex: %v", err)
	}

	if _, err := coll.InsertOne(ctx, document.Document{"name": "same"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err := coll.InsertOne(ctx, document.Document{"name": "same"})
	if !errors.Is(err, backend.ErrDuplicateKey) {
		t.Fatalf("err = %v, want ErrDuplicateKey from unique index", err)
	}

	// The descriptor lands in the collection's metadata table.
	var value []byte
	row := store.db.QueryRow(
		`SELECT value FROM "testdb_items_metadata" WHERE key = ?`, "index:name_idx")
	if err := row.Scan(&value); err != nil {
		t.Fatalf("metadata row: %v", err)
	}
	var stored backend.Index
	if err := json.Unmarshal(value, &stored); err != nil {
		t.Fatalf("decode descriptor: %v", err)
	}
	if len(stored.Keys) != 1 || stored.Keys[0] != "name" || !stored.Unique {
		t.Fatalf("stored descriptor = %+v", stored)
	}
}

func TestListDatabases(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Database("alpha").Collection("c").InsertOne(ctx, document.Document{"x": 1}); err != nil {
		t.Fatalf("insert alpha: %v", err)
	}
	if _, err := store.Database("beta").Collection("c").InsertOne(ctx, document.Document{"x": 2}); err != nil {
		t.Fatalf("insert beta: %v", err)
	}

	names, err := store.ListDatabases(ctx)
	if err != nil {
		t.Fatalf("ListDatabases: %v", err)
	}
	found := map[string]bool{}
	for _, n := range names {
		found[n] = true
	}
	if !found["alpha"] || !found["beta"] {
		t.Fatalf("databases = %v", names)
	}
}

func TestClosedStoreRefusesOperations(t *testing.T) {
	s, err := New(Config{Path: filepath.Join(t.TempDir(), "closed.db")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	coll := s.DefaultDatabase().Collection("items")
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err = coll.InsertOne(context.Background(), document.Document{"x": 1})
	if !errors.Is(err, backend.ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestInvalidFilterRejected(t *testing.T) {
	coll := testColl(t)
	_, err := coll.FindOne(context.Background(),
		map[string]any{"$bogus": []any{}})
	if !errors.Is(err, backend.ErrInvalidFilter) {
		t.Fatalf("err = %v, want ErrInvalidFilter", err)
	}
}
