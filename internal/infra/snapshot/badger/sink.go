// Package badger stores the snapshot blob under one key of an embedded
// BadgerDB instance.
package badger

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"pocketdb/internal/snapshot"
)

// DefaultPath is the database directory used when none is configured.
const DefaultPath = "pocketdb.badger"

var snapshotKey = []byte("pocketdb/snapshot")

// Config holds configuration for the badger sink.
type Config struct {
	// Path is the database directory; ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	// Logger receives badger's internal log lines; nil silences them.
	Logger *zap.Logger
}

// DefaultConfig returns a durable on-disk configuration rooted at path.
func DefaultConfig(path string) Config {
	if path == "" {
		path = DefaultPath
	}
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration without disk persistence, for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type zapAdapter struct{ log *zap.SugaredLogger }

func (l zapAdapter) Errorf(format string, args ...any)   { l.log.Errorf(format, args...) }
func (l zapAdapter) Warningf(format string, args ...any) { l.log.Warnf(format, args...) }
func (l zapAdapter) Infof(format string, args ...any)    { l.log.Infof(format, args...) }
func (l zapAdapter) Debugf(format string, args ...any)   { l.log.Debugf(format, args...) }

// Sink implements snapshot.Sink on BadgerDB.
type Sink struct {
	db *badger.DB
}

var _ snapshot.Sink = (*Sink)(nil)

// New opens the database described by cfg.
func New(cfg Config) (*Sink, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger sink: path is required for persistent database")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("badger sink: create %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(zapAdapter{log: cfg.Logger.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger sink: open: %w", err)
	}
	return &Sink{db: db}, nil
}

func (s *Sink) Driver() snapshot.Driver { return snapshot.DriverBadger }

func (s *Sink) Load(_ context.Context) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, snapshot.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger sink: read: %w", err)
	}
	return out, nil
}

func (s *Sink) Save(_ context.Context, blob []byte) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey, append([]byte(nil), blob...))
	}); err != nil {
		return fmt.Errorf("badger sink: write: %w", err)
	}
	return nil
}

func (s *Sink) Remove(_ context.Context) error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(snapshotKey)
	}); err != nil {
		return fmt.Errorf("badger sink: delete: %w", err)
	}
	return nil
}

// CollectGarbage runs one value-log GC cycle; "nothing to rewrite" is not an error.
func (s *Sink) CollectGarbage(ratio float64) error {
	if err := s.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return err
	}
	return nil
}

// Close flushes and closes the database.
func (s *Sink) Close() error { return s.db.Close() }
