package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"pocketdb/internal/snapshot"
)

func openStub(t *testing.T, conn func(*stubConn)) (*Sink, *stubConn, error) {
	t.Helper()
	db, stub := newStubDB()
	if conn != nil {
		conn(stub)
	}
	var gotDriver, gotDSN string
	restore := OverrideSQLOpen(func(driverName, dsn string) (*sql.DB, error) {
		gotDriver, gotDSN = driverName, dsn
		return db, nil
	})
	t.Cleanup(restore)
	sink, err := New(context.Background(), "")
	if err == nil && (gotDriver != "pgx" || gotDSN != DefaultDSN) {
		t.Fatalf("unexpected open args %s %s", gotDriver, gotDSN)
	}
	return sink, stub, err
}

func TestSinkRoundTrip(t *testing.T) {
	ctx := context.Background()
	sink, stub, err := openStub(t, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if sink.Driver() != snapshot.DriverPostgres || sink.DB() == nil {
		t.Fatalf("unexpected accessors")
	}
	if len(stub.execs) != 1 || !strings.Contains(stub.execs[0], "CREATE TABLE IF NOT EXISTS pocketdb_state") {
		t.Fatalf("expected state table ddl, got %v", stub.execs)
	}
	if _, err := sink.Load(ctx); !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := sink.Save(ctx, []byte("blob")); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := sink.Load(ctx)
	if err != nil || string(got) != "blob" {
		t.Fatalf("load: %q %v", got, err)
	}
	if err := sink.Remove(ctx); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := sink.Load(ctx); !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestSinkSurfacesFailures(t *testing.T) {
	if _, _, err := openStub(t, func(c *stubConn) { c.failPing = true }); err == nil {
		t.Fatalf("expected ping failure")
	}
	if _, _, err := openStub(t, func(c *stubConn) { c.failExec = true }); err == nil {
		t.Fatalf("expected ddl failure")
	}
	sink, stub, err := openStub(t, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	stub.failExec = true
	if err := sink.Save(context.Background(), []byte("x")); err == nil {
		t.Fatalf("expected save failure")
	}
	if err := sink.Remove(context.Background()); err == nil {
		t.Fatalf("expected remove failure")
	}
}

func TestNewOpenError(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("boom") })
	defer restore()
	if _, err := New(context.Background(), "postgres://x"); err == nil {
		t.Fatalf("expected open error")
	}
}
