// Package snapshot defines the durable representation of a whole store and
// the sink abstraction snapshots are written to.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/snappy"
)

// Driver identifies a concrete sink implementation.
type Driver string

const (
	DriverFile     Driver = "file"     // single local file (default)
	DriverMemory   Driver = "memory"   // process memory (tests)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite database
	DriverPostgres Driver = "postgres" // PostgreSQL server
	DriverS3       Driver = "s3"       // S3 / MinIO compatible object
	DriverBadger   Driver = "badger"   // embedded BadgerDB
)

var (
	// ErrNotFound is returned by Sink.Load when no snapshot has been saved.
	ErrNotFound = errors.New("snapshot: not found")
	// ErrCorrupt is returned when a blob cannot be decoded.
	ErrCorrupt = errors.New("snapshot: corrupt blob")
)

// Sink stores exactly one snapshot blob.
type Sink interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, blob []byte) error
	Remove(ctx context.Context) error
	Driver() Driver
}

// FormatVersion is the current encoding version.
const FormatVersion = 1

var magic = []byte("PKDB")

// Snapshot is the full store content: every collection keyed by type name
// then identity, plus the identity counters.
type Snapshot struct {
	Version  int                                `json:"version"`
	Counters map[string]int                     `json:"counters"`
	Tables   map[string]map[int]json.RawMessage `json:"tables"`
}

// New returns an empty snapshot at the current format version.
func New() Snapshot {
	return Snapshot{
		Version:  FormatVersion,
		Counters: map[string]int{},
		Tables:   map[string]map[int]json.RawMessage{},
	}
}

// Rows returns the number of stored records across all tables.
func (s Snapshot) Rows() int {
	n := 0
	for _, t := range s.Tables {
		n += len(t)
	}
	return n
}

// Encode serializes s into the opaque blob format: magic, one version byte,
// then snappy-compressed JSON.
func Encode(s Snapshot) ([]byte, error) {
	if s.Version == 0 {
		s.Version = FormatVersion
	}
	doc, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	compressed := snappy.Encode(nil, doc)
	out := make([]byte, 0, len(magic)+1+len(compressed))
	out = append(out, magic...)
	out = append(out, byte(s.Version))
	return append(out, compressed...), nil
}

// Decode parses a blob produced by Encode. Nil maps are normalized to empty
// maps and counters are raised to the highest stored identity.
func Decode(blob []byte) (Snapshot, error) {
	if len(blob) < len(magic)+1 || !bytes.Equal(blob[:len(magic)], magic) {
		return Snapshot{}, fmt.Errorf("%w: bad header", ErrCorrupt)
	}
	version := int(blob[len(magic)])
	if version < 1 || version > FormatVersion {
		return Snapshot{}, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, version)
	}
	doc, err := snappy.Decode(nil, blob[len(magic)+1:])
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	var s Snapshot
	if err := json.Unmarshal(doc, &s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return normalize(s), nil
}

func normalize(s Snapshot) Snapshot {
	if s.Version == 0 {
		s.Version = FormatVersion
	}
	if s.Counters == nil {
		s.Counters = map[string]int{}
	}
	if s.Tables == nil {
		s.Tables = map[string]map[int]json.RawMessage{}
	}
	for name, rows := range s.Tables {
		if rows == nil {
			s.Tables[name] = map[int]json.RawMessage{}
			continue
		}
		for id := range rows {
			if id > s.Counters[name] {
				s.Counters[name] = id
			}
		}
	}
	return s
}
