// Package sqlite stores the snapshot blob as one row of a SQLite state table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"pocketdb/internal/snapshot"
)

const (
	// DefaultPath is used when no database path is configured.
	DefaultPath = "pocketdb.db"
	// DefaultBucket is the state row holding the snapshot.
	DefaultBucket = "snapshot"
)

// Sink implements snapshot.Sink on an embedded SQLite database.
type Sink struct {
	db     *sql.DB
	path   string
	bucket string
}

var _ snapshot.Sink = (*Sink)(nil)

// New opens (creating when needed) the database at path and ensures the
// state table exists.
func New(ctx context.Context, path string) (*Sink, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("sqlite sink: create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite sink: open: %w", err)
	}
	// single writer; avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite sink: create state table: %w", err)
	}
	return &Sink{db: db, path: path, bucket: DefaultBucket}, nil
}

// DB exposes the underlying handle for integration hooks.
func (s *Sink) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Sink) Path() string { return s.path }

func (s *Sink) Driver() snapshot.Driver { return snapshot.DriverSQLite }

func (s *Sink) Load(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM state WHERE bucket = ?`, s.bucket).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, snapshot.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite sink: select: %w", err)
	}
	return payload, nil
}

func (s *Sink) Save(ctx context.Context, blob []byte) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`,
		s.bucket, blob); err != nil {
		return fmt.Errorf("sqlite sink: upsert: %w", err)
	}
	return nil
}

func (s *Sink) Remove(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM state WHERE bucket = ?`, s.bucket); err != nil {
		return fmt.Errorf("sqlite sink: delete: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Sink) Close() error { return s.db.Close() }
