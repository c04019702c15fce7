// Package uodm is the user-facing entry point: connect to a store by
// URL, pick a database, and work with collections of schemaless
// documents through one API regardless of the backend behind it.
package uodm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/bobuk/uodm/internal/encoding"
	"github.com/bobuk/uodm/pkg/backend"
	"github.com/bobuk/uodm/pkg/backend/filestore"
	"github.com/bobuk/uodm/pkg/backend/mongostore"
	"github.com/bobuk/uodm/pkg/backend/sqlstore"
	"github.com/bobuk/uodm/pkg/changestream"
)

var (
	// ErrUnknownScheme is returned for connection URLs no backend claims.
	ErrUnknownScheme = errors.New("unknown connection scheme")

	// ErrDatabaseNotFound is returned by SetDatabase for databases the
	// backend does not know yet.
	ErrDatabaseNotFound = errors.New("database not found")
)

// Config tunes a connection beyond what the URL expresses.
type Config struct {
	// Database overrides the database selected by the URL.
	Database string
	// NativeEvents enables filesystem change feeds on file:// stores.
	NativeEvents bool
	// Stream tunes change streams opened through Watch.
	Stream changestream.Options
	// Logger receives structured diagnostics. Defaults to a no-op.
	Logger *zap.SugaredLogger
}

// Store is a connected handle. It tracks every change stream opened
// through it and shuts them down on Close.
type Store struct {
	backend backend.Backend
	logger  *zap.SugaredLogger
	stream  changestream.Options

	mu      sync.Mutex
	dbName  string
	colls   map[string]*Collection
	streams []changestream.Stream
	closed  bool
}

// Connect opens a store from a connection URL:
//
//	mongodb://host:port/dbname      MongoDB server
//	file:///var/data/mydb#bson      file-per-document store
//	sqlite:///var/data/my.db        SQLite store
//	sqlite://                       in-memory SQLite store
//
// The #json, #bson or #gob fragment selects the file store's
// serialization format; json is the default.
func Connect(ctx context.Context, rawURL string, cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	base, format, err := encoding.SplitFragment(rawURL)
	if err != nil {
		return nil, backend.Wrap("connect", err)
	}
	scheme, rest, ok := strings.Cut(base, "://")
	if !ok {
		return nil, backend.Wrap("connect", fmt.Errorf("%w: %q", ErrUnknownScheme, rawURL))
	}

	var be backend.Backend
	switch scheme {
	case "mongodb", "mongodb+srv":
		dbName := cfg.Database
		if dbName == "" {
			dbName = pathDatabase(base)
		}
		be, err = mongostore.New(ctx, mongostore.Config{
			URI:             base,
			DefaultDatabase: dbName,
			Logger:          logger,
		})
	case "file":
		be, err = filestore.New(filestore.Config{
			BasePath:        rest,
			Format:          format,
			DefaultDatabase: cfg.Database,
			NativeEvents:    cfg.NativeEvents,
			Logger:          logger,
		})
	case "sqlite":
		be, err = sqlstore.New(sqlstore.Config{
			Path:            rest,
			DefaultDatabase: cfg.Database,
			Logger:          logger,
		})
	default:
		return nil, backend.Wrap("connect", fmt.Errorf("%w: %q", ErrUnknownScheme, scheme))
	}
	if err != nil {
		return nil, err
	}

	return &Store{
		backend: be,
		logger:  logger,
		stream:  cfg.Stream,
		dbName:  be.DefaultDatabase().Name(),
	}, nil
}

// pathDatabase extracts the database component of a mongodb URL.
func pathDatabase(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}

// CurrentDatabase reports the database collections are resolved against.
func (s *Store) CurrentDatabase() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dbName
}

// SetDatabase switches to an existing database, failing with
// ErrDatabaseNotFound for unknown names. UseDatabase switches without the
// check.
func (s *Store) SetDatabase(ctx context.Context, name string) error {
	if err := s.checkOpen(); err != nil {
		return backend.Wrap("set_database", err)
	}
	names, err := s.backend.ListDatabases(ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		if n == name {
			s.UseDatabase(name)
			return nil
		}
	}
	return backend.Wrap("set_database", fmt.Errorf("%w: %q", ErrDatabaseNotFound, name))
}

// UseDatabase switches to a database that may not exist yet; embedded
// backends create it on first write.
func (s *Store) UseDatabase(name string) {
	s.mu.Lock()
	s.dbName = name
	s.mu.Unlock()
}

// Collection returns a handle on a named collection in the current
// database. Handles are cached per (database, collection) pair, so
// repeated lookups return the same handle.
func (s *Store) Collection(name string) *Collection {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.dbName + "/" + name
	if c, ok := s.colls[key]; ok {
		return c
	}
	c := &Collection{store: s, coll: s.backend.Database(s.dbName).Collection(name)}
	if s.colls == nil {
		s.colls = make(map[string]*Collection)
	}
	s.colls[key] = c
	return c
}

// ListDatabases returns the backend's database names.
func (s *Store) ListDatabases(ctx context.Context) ([]string, error) {
	if err := s.checkOpen(); err != nil {
		return nil, backend.Wrap("list_databases", err)
	}
	return s.backend.ListDatabases(ctx)
}

// Close shuts down every stream opened through this store, then the
// backend itself. All failures are collected and reported together.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	streams := s.streams
	s.streams = nil
	s.mu.Unlock()

	var errs error
	for _, st := range streams {
		errs = multierr.Append(errs, st.Close(ctx))
	}
	errs = multierr.Append(errs, s.backend.Close(ctx))
	return errs
}

func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return backend.ErrNotConnected
	}
	return nil
}

func (s *Store) track(st changestream.Stream) {
	s.mu.Lock()
	s.streams = append(s.streams, st)
	s.mu.Unlock()
}
