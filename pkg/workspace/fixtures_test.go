package workspace

import (
	"context"
	"testing"

	"pocketdb/internal/infra/snapshot/memory"
	"pocketdb/pkg/entity"
)

type Department struct {
	entity.Model
	Name   string   `json:"name"`
	Tables []*Table `json:"tables"`
}

type Table struct {
	entity.Model
	Name         string `json:"name"`
	DepartmentID int    `json:"departmentId"`
}

type Expense struct {
	entity.Model
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
}

type Settings struct {
	Currency string `json:"currency"`
}

func (*Settings) SingletonEntity() {}

type Note struct {
	Text string
}

func openMemory(t *testing.T, opts ...Option) (*Workspace, *memory.Sink) {
	t.Helper()
	sink := memory.New()
	w, err := Open(context.Background(), sink, opts...)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w, sink
}
