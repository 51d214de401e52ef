// Package memory keeps the snapshot blob in process memory. Intended for tests.
package memory

import (
	"context"
	"sync"

	"pocketdb/internal/snapshot"
)

// Sink implements snapshot.Sink backed by a byte slice.
type Sink struct {
	mu    sync.RWMutex
	blob  []byte
	saved bool
	saves int
}

var _ snapshot.Sink = (*Sink)(nil)

// New returns an empty in-memory sink.
func New() *Sink { return &Sink{} }

func (s *Sink) Driver() snapshot.Driver { return snapshot.DriverMemory }

func (s *Sink) Load(_ context.Context) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.saved {
		return nil, snapshot.ErrNotFound
	}
	return append([]byte(nil), s.blob...), nil
}

func (s *Sink) Save(_ context.Context, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob = append([]byte(nil), blob...)
	s.saved = true
	s.saves++
	return nil
}

func (s *Sink) Remove(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob = nil
	s.saved = false
	return nil
}

// Saves returns how many times Save has been called.
func (s *Sink) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
