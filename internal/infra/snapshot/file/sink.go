// Package file stores the snapshot blob in a single local file. Writes go to
// a temporary sibling that is synced and renamed over the target, so a crash
// never leaves a half-written snapshot behind.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"pocketdb/internal/snapshot"
)

// DefaultPath is used when no path is configured.
const DefaultPath = "pocketdb.snapshot"

// Sink implements snapshot.Sink on the local filesystem.
type Sink struct {
	path string
}

var _ snapshot.Sink = (*Sink)(nil)

// New returns a sink writing to path, creating parent directories.
func New(path string) (*Sink, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, fs.ErrExist) {
		return nil, fmt.Errorf("file sink: create dirs: %w", err)
	}
	return &Sink{path: path}, nil
}

// Path returns the backing file path.
func (s *Sink) Path() string { return s.path }

func (s *Sink) Driver() snapshot.Driver { return snapshot.DriverFile }

func (s *Sink) Load(_ context.Context) ([]byte, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, snapshot.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("file sink: read %s: %w", s.path, err)
	}
	return b, nil
}

func (s *Sink) Save(_ context.Context, blob []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("file sink: temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file sink: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file sink: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file sink: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("file sink: rename: %w", err)
	}
	return nil
}

func (s *Sink) Remove(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file sink: remove: %w", err)
	}
	return nil
}
