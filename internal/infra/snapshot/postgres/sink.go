// Package postgres stores the snapshot blob as one row of a PostgreSQL table.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"pocketdb/internal/snapshot"
)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when no DSN is configured.
	DefaultDSN    = "postgres://localhost/pocketdb?sslmode=disable"
	defaultBucket = "snapshot"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Sink implements snapshot.Sink on PostgreSQL.
type Sink struct {
	db     *sql.DB
	bucket string
}

var _ snapshot.Sink = (*Sink)(nil)

// New connects to dsn and ensures the state table exists.
func New(ctx context.Context, dsn string) (*Sink, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("postgres sink: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres sink: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS pocketdb_state (
		bucket TEXT PRIMARY KEY,
		payload BYTEA NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres sink: ensure state table: %w", err)
	}
	return &Sink{db: db, bucket: defaultBucket}, nil
}

// DB exposes the underlying handle for integration hooks.
func (s *Sink) DB() *sql.DB { return s.db }

func (s *Sink) Driver() snapshot.Driver { return snapshot.DriverPostgres }

func (s *Sink) Load(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM pocketdb_state WHERE bucket = $1`, s.bucket).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, snapshot.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres sink: select: %w", err)
	}
	return payload, nil
}

func (s *Sink) Save(ctx context.Context, blob []byte) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO pocketdb_state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`,
		s.bucket, blob); err != nil {
		return fmt.Errorf("postgres sink: upsert: %w", err)
	}
	return nil
}

func (s *Sink) Remove(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pocketdb_state WHERE bucket = $1`, s.bucket); err != nil {
		return fmt.Errorf("postgres sink: delete: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Sink) Close() error { return s.db.Close() }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
