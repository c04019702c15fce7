// Package filestore implements the file-per-document storage backend.
// Every document lives in its own file under <base>/<database>/<collection>/,
// queries are full directory scans matched by the shared condition
// evaluator, and index descriptors persist to an advisory sidecar file.
package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/bobuk/uodm/internal/encoding"
	"github.com/bobuk/uodm/pkg/backend"
)

// Config configures a file store instance. The serialization format is
// chosen once per store and applies to documents and index sidecars alike.
type Config struct {
	// BasePath is the root directory; databases are subdirectories of it.
	// Empty defaults to a "uodm_filedb" directory under the OS temp dir.
	BasePath string
	// Format selects the document serialization (json, bson, gob).
	Format encoding.Format
	// DefaultDatabase names the database used when none is selected.
	DefaultDatabase string
	// NativeEvents enables the filesystem-notification change feed for
	// collections of this store. When off, change streams fall back to
	// polling.
	NativeEvents bool
	// Logger receives structured diagnostics. Defaults to a no-op.
	Logger *zap.SugaredLogger
}

// Store is a connected file backend.
type Store struct {
	base         string
	format       encoding.Format
	defaultDB    string
	nativeEvents bool
	logger       *zap.SugaredLogger

	mu     sync.Mutex
	locks  map[string]*idLock
	closed bool
}

// New opens a file store rooted at the configured base path, creating it
// if needed.
func New(cfg Config) (*Store, error) {
	base := cfg.BasePath
	if base == "" {
		base = filepath.Join(os.TempDir(), "uodm_filedb")
	}
	format := cfg.Format
	if format == "" {
		format = encoding.FormatJSON
	}
	defaultDB := cfg.DefaultDatabase
	if defaultDB == "" {
		defaultDB = "default"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, backend.Wrap("open", fmt.Errorf("%w: %v", backend.ErrBackendUnavailable, err))
	}

	return &Store{
		base:         base,
		format:       format,
		defaultDB:    defaultDB,
		nativeEvents: cfg.NativeEvents,
		logger:       logger,
		locks:        make(map[string]*idLock),
	}, nil
}

// Database returns a handle on a named database. The handle is cheap and
// carries no server state.
func (s *Store) Database(name string) backend.Database {
	return &db{store: s, name: name}
}

// DefaultDatabase returns the configured default database.
func (s *Store) DefaultDatabase() backend.Database {
	return s.Database(s.defaultDB)
}

// ListDatabases enumerates database directories under the base path.
func (s *Store) ListDatabases(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, backend.Wrap("list_databases", err)
	}
	entries, err := os.ReadDir(s.base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, backend.Wrap("list_databases", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Close marks the store closed. The file backend holds no long-lived
// handles, so this only fences further operations.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.ErrNotConnected
	}
	return nil
}

// idLock is a per-identifier mutex with a holder count, so the lock table
// can drop entries once the last holder releases.
type idLock struct {
	sync.Mutex
	refs int
}

// lockFor acquires the mutex guarding one document identifier and returns
// its release function. The lock is held across the whole read-modify-write
// of that id, so same-id writers serialize while writers to distinct ids
// never contend. The lock table only keeps entries with live holders.
func (s *Store) lockFor(db, coll, id string) func() {
	key := db + "/" + coll + "/" + id
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &idLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

type db struct {
	store *Store
	name  string
}

func (d *db) Name() string { return d.name }

func (d *db) Collection(name string) backend.Collection {
	return &Collection{
		store: d.store,
		db:    d.name,
		name:  name,
		path:  filepath.Join(d.store.base, d.name, name),
	}
}
