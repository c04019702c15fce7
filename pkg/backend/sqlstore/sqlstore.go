// Package sqlstore implements the relational storage backend on SQLite.
// Each collection gets a table named <database>_<collection> holding
// (_id, doc) rows plus a sidecar metadata table; filters become
// json_extract prefilters with the shared condition evaluator as the
// final authority, so all backends agree on matching semantics.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/bobuk/uodm/pkg/backend"
)

const catalogTable = "_uodm_collections"

// Config configures a SQLite store instance.
type Config struct {
	// Path is the database file. Empty selects an in-memory database.
	Path string
	// DefaultDatabase names the database used when none is selected.
	DefaultDatabase string
	// Logger receives structured diagnostics. Defaults to a no-op.
	Logger *zap.SugaredLogger
}

// Store is a connected SQLite backend. One SQLite file holds every
// logical database; a catalog table maps (database, collection) pairs to
// their backing tables.
type Store struct {
	db        *sql.DB
	defaultDB string
	logger    *zap.SugaredLogger

	// writeMu serializes writers; readers go through SQLite's own
	// locking.
	writeMu sync.Mutex

	mu     sync.Mutex
	tables map[string]bool
	closed bool
}

// New opens the database file and prepares the catalog.
func New(cfg Config) (*Store, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	defaultDB := cfg.DefaultDatabase
	if defaultDB == "" {
		defaultDB = "default"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	// _journal_mode=WAL: better concurrency
	// _busy_timeout=5000: wait up to 5s for a lock instead of failing
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, backend.Wrap("open", fmt.Errorf("%w: %v", backend.ErrBackendUnavailable, err))
	}
	// A single connection keeps an in-memory database coherent; a second
	// connection would see its own empty copy.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:        db,
		defaultDB: defaultDB,
		logger:    logger,
		tables:    make(map[string]bool),
	}
	if err := s.createCatalog(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createCatalog() error {
	_, err := s.db.Exec(fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		db   TEXT NOT NULL,
		name TEXT NOT NULL,
		tbl  TEXT NOT NULL,
		PRIMARY KEY (db, name)
	);`, catalogTable))
	if err != nil {
		return backend.Wrap("open", fmt.Errorf("failed to create catalog: %w", err))
	}
	return nil
}

// Database returns a handle on a named logical database.
func (s *Store) Database(name string) backend.Database {
	return &db{store: s, name: name}
}

// DefaultDatabase returns the configured default database.
func (s *Store) DefaultDatabase() backend.Database {
	return s.Database(s.defaultDB)
}

// ListDatabases returns every logical database recorded in the catalog.
func (s *Store) ListDatabases(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, backend.Wrap("list_databases", err)
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT DISTINCT db FROM %s ORDER BY db", catalogTable))
	if err != nil {
		return nil, backend.Wrap("list_databases", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, backend.Wrap("list_databases", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, backend.Wrap("list_databases", err)
	}
	return names, nil
}

// Close releases the connection. Further operations fail with
// ErrNotConnected.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.ErrNotConnected
	}
	return nil
}

// tableFor derives the backing table name for a collection. The name is
// always used through quoteIdent, so any database or collection name is
// legal; the catalog resolves prefix ambiguity.
func tableFor(dbName, collName string) string {
	return dbName + "_" + collName
}

// quoteIdent quotes a SQL identifier, escaping embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ensureTable lazily creates the backing table and catalog row for one
// collection.
func (s *Store) ensureTable(ctx context.Context, dbName, collName string) (string, error) {
	tbl := tableFor(dbName, collName)

	s.mu.Lock()
	ready := s.tables[tbl]
	s.mu.Unlock()
	if ready {
		return tbl, nil
	}

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		_id TEXT PRIMARY KEY,
		doc BLOB NOT NULL
	);`, quoteIdent(tbl)))
	if err != nil {
		return "", fmt.Errorf("failed to create table: %w", err)
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	);`, quoteIdent(tbl+"_metadata")))
	if err != nil {
		return "", fmt.Errorf("failed to create metadata table: %w", err)
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(
		"INSERT OR IGNORE INTO %s (db, name, tbl) VALUES (?, ?, ?)", catalogTable),
		dbName, collName, tbl)
	if err != nil {
		return "", fmt.Errorf("failed to register collection: %w", err)
	}

	s.mu.Lock()
	s.tables[tbl] = true
	s.mu.Unlock()
	return tbl, nil
}

type db struct {
	store *Store
	name  string
}

func (d *db) Name() string { return d.name }

func (d *db) Collection(name string) backend.Collection {
	return &Collection{store: d.store, db: d.name, name: name}
}
