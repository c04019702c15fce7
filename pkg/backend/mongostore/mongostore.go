// Package mongostore implements the storage contract on a MongoDB
// server. Filters pass through to the server after structural
// validation; MongoDB's own matching, indexing and change streams do the
// work the embedded backends emulate.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/bobuk/uodm/pkg/backend"
)

// Config configures a MongoDB store instance.
type Config struct {
	// URI is the mongodb:// connection string.
	URI string
	// DefaultDatabase names the database used when none is selected.
	// Empty falls back to the URI's database component, then "default".
	DefaultDatabase string
	// ConnectTimeout bounds the initial connect and ping. Default 10s.
	ConnectTimeout time.Duration
	// Logger receives structured diagnostics. Defaults to a no-op.
	Logger *zap.SugaredLogger
}

// Store is a connected MongoDB backend.
type Store struct {
	client    *mongo.Client
	defaultDB string
	logger    *zap.SugaredLogger
}

// New connects to the server and verifies it with a ping. An unreachable
// server fails with ErrBackendUnavailable.
func New(ctx context.Context, cfg Config) (*Store, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, backend.Wrap("open", fmt.Errorf("%w: %v", backend.ErrBackendUnavailable, err))
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, backend.Wrap("open", fmt.Errorf("%w: %v", backend.ErrBackendUnavailable, err))
	}

	defaultDB := cfg.DefaultDatabase
	if defaultDB == "" {
		defaultDB = "default"
	}
	return &Store{client: client, defaultDB: defaultDB, logger: logger}, nil
}

// Database returns a handle on a named database.
func (s *Store) Database(name string) backend.Database {
	return &db{store: s, name: name}
}

// DefaultDatabase returns the configured default database.
func (s *Store) DefaultDatabase() backend.Database {
	return s.Database(s.defaultDB)
}

// ListDatabases returns the server's database names.
func (s *Store) ListDatabases(ctx context.Context) ([]string, error) {
	names, err := s.client.ListDatabaseNames(ctx, map[string]any{})
	if err != nil {
		return nil, backend.Wrap("list_databases", err)
	}
	return names, nil
}

// Close disconnects from the server.
func (s *Store) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return backend.Wrap("close", err)
	}
	return nil
}

type db struct {
	store *Store
	name  string
}

func (d *db) Name() string { return d.name }

func (d *db) Collection(name string) backend.Collection {
	return &Collection{
		store: d.store,
		coll:  d.store.client.Database(d.name).Collection(name),
		db:    d.name,
		name:  name,
	}
}
