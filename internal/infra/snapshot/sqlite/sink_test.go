package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"pocketdb/internal/snapshot"
)

func TestSinkPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	sink, err := New(ctx, path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if sink.Driver() != snapshot.DriverSQLite || sink.Path() != path || sink.DB() == nil {
		t.Fatalf("unexpected sink accessors")
	}
	if _, err := sink.Load(ctx); !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := sink.Save(ctx, []byte{1, 2, 3}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := sink.Save(ctx, []byte{4, 5}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := New(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reopened.Close() })
	got, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0] != 4 || got[1] != 5 {
		t.Fatalf("unexpected payload %v", got)
	}
	if err := reopened.Remove(ctx); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := reopened.Load(ctx); !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestSinkOperationsFailAfterClose(t *testing.T) {
	ctx := context.Background()
	sink, err := New(ctx, filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_ = sink.Close()
	if err := sink.Save(ctx, []byte("x")); err == nil {
		t.Fatalf("expected save error on closed db")
	}
	if _, err := sink.Load(ctx); err == nil || errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("expected load error on closed db, got %v", err)
	}
	if err := sink.Remove(ctx); err == nil {
		t.Fatalf("expected remove error on closed db")
	}
}
