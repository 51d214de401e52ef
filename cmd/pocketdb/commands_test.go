package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pocketdb/internal/config"
	"pocketdb/internal/infra/snapshot/file"
	"pocketdb/internal/snapshot"
	"pocketdb/pkg/entity"
	"pocketdb/pkg/workspace"
)

type Invoice struct {
	entity.Model
	Number string `json:"number"`
}

func seed(t *testing.T) string {
	t.Helper()
	t.Setenv(config.EnvDriver, "")
	t.Setenv(config.EnvPath, "")
	path := filepath.Join(t.TempDir(), "cli.snapshot")
	sink, err := file.New(path)
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	ctx := context.Background()
	w, err := workspace.Open(ctx, sink)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := workspace.AddAll(w, []*Invoice{{Number: "A-1"}, {Number: "A-2"}}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := w.CommitChanges(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTypesCommand(t *testing.T) {
	path := seed(t)
	out, err := run(t, "types", "--path", path)
	if err != nil {
		t.Fatalf("types: %v", err)
	}
	if !strings.Contains(out, "Invoice") || !strings.Contains(out, "2") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	out, err = run(t, "types", "--path", path, "--format", "json")
	if err != nil {
		t.Fatalf("types json: %v", err)
	}
	var got []typeSummary
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(got) != 1 || got[0] != (typeSummary{Name: "Invoice", Rows: 2, Counter: 2}) {
		t.Fatalf("unexpected summary %+v", got)
	}
}

func TestDumpCommand(t *testing.T) {
	path := seed(t)
	out, err := run(t, "dump", "Invoice", "--path", path)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "1\t") || !strings.Contains(lines[1], `"A-2"`) {
		t.Fatalf("unexpected dump:\n%s", out)
	}
	if _, err := run(t, "dump", "Missing", "--path", path); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestResetCommand(t *testing.T) {
	path := seed(t)
	if _, err := run(t, "reset", "--path", path); err == nil {
		t.Fatalf("reset without --force must refuse")
	}
	out, err := run(t, "reset", "--force", "--path", path)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !strings.Contains(out, "snapshot removed") {
		t.Fatalf("unexpected output %q", out)
	}
	sink, _ := file.New(path)
	if _, err := sink.Load(context.Background()); !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("expected snapshot removed, got %v", err)
	}
}

func TestRejectsBadFlags(t *testing.T) {
	if _, err := run(t, "types", "--format", "xml"); err == nil {
		t.Fatalf("expected format error")
	}
	if _, err := run(t, "types", "--driver", "tape"); err == nil {
		t.Fatalf("expected driver validation error")
	}
}

func TestMainExitsOnError(t *testing.T) {
	prevArgs, prevExit := os.Args, exitFunc
	t.Cleanup(func() { os.Args, exitFunc = prevArgs, prevExit })
	code := 0
	exitFunc = func(c int) { code = c }
	os.Args = []string{"pocketdb", "types", "--format", "xml"}
	main()
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
}
