package cascade

import (
	"testing"

	"pocketdb/internal/schema"
	"pocketdb/pkg/entity"
)

type Department struct {
	entity.Model
	Name   string
	Tables []*Table
}

type Table struct {
	entity.Model
	Name         string
	DepartmentID int
	Seats        []*Seat
}

type Seat struct {
	entity.Model
	TableID int
}

type Note struct {
	entity.Model
	Text string
}

type Ticket struct {
	entity.Model
	Notes []*Note
}

type counter map[string]int

func (c counter) NextIdentity(name string) int {
	c[name]++
	return c[name]
}

func TestAssignWiresNestedGraph(t *testing.T) {
	reg := schema.NewRegistry()
	ids := counter{}
	a := New(reg, ids)
	dep := &Department{Model: entity.Model{ID: 5}, Tables: []*Table{
		{Name: "T1", Seats: []*Seat{{}, {}}},
		{Name: "T2"},
		nil,
	}}
	a.Assign(dep)
	t1, t2 := dep.Tables[0], dep.Tables[1]
	if t1.ID == 0 || t2.ID == 0 || t1.ID == t2.ID {
		t.Fatalf("expected distinct identities, got %d %d", t1.ID, t2.ID)
	}
	if t1.DepartmentID != 5 || t2.DepartmentID != 5 {
		t.Fatalf("expected department fk 5, got %d %d", t1.DepartmentID, t2.DepartmentID)
	}
	for _, seat := range t1.Seats {
		if seat.ID == 0 || seat.TableID != t1.ID {
			t.Fatalf("seat not wired: %+v (table %d)", seat, t1.ID)
		}
	}
	if dep.ID != 5 {
		t.Fatalf("root identity must not change")
	}
}

func TestAssignIsIdempotent(t *testing.T) {
	reg := schema.NewRegistry()
	ids := counter{}
	a := New(reg, ids)
	dep := &Department{Model: entity.Model{ID: 1}, Tables: []*Table{{}, {}}}
	a.Assign(dep)
	first := []int{dep.Tables[0].ID, dep.Tables[1].ID}
	a.Assign(dep)
	if dep.Tables[0].ID != first[0] || dep.Tables[1].ID != first[1] {
		t.Fatalf("second pass changed identities: %v -> %d %d", first, dep.Tables[0].ID, dep.Tables[1].ID)
	}
	if ids["Table"] != 2 {
		t.Fatalf("second pass must not draw identities, counter=%d", ids["Table"])
	}
}

func TestAssignToleratesMissingForeignKey(t *testing.T) {
	reg := schema.NewRegistry()
	a := New(reg, counter{})
	ticket := &Ticket{Model: entity.Model{ID: 3}, Notes: []*Note{{Text: "a"}}}
	a.Assign(ticket)
	if ticket.Notes[0].ID == 0 {
		t.Fatalf("note should receive identity")
	}
}

func TestAssignSharedChildWiredOnce(t *testing.T) {
	reg := schema.NewRegistry()
	a := New(reg, counter{})
	shared := &Seat{}
	tbl := &Table{Model: entity.Model{ID: 9}, Seats: []*Seat{shared, shared}}
	a.Assign(tbl)
	if shared.ID != 1 || shared.TableID != 9 {
		t.Fatalf("shared seat wired unexpectedly: %+v", shared)
	}
}

func TestChildrenPreOrder(t *testing.T) {
	reg := schema.NewRegistry()
	seat := &Seat{}
	t1 := &Table{Seats: []*Seat{seat}}
	t2 := &Table{}
	dep := &Department{Tables: []*Table{t1, t2, t1}}
	got := Children(reg, dep)
	if len(got) != 3 || got[0] != t1 || got[1] != seat || got[2] != t2 {
		t.Fatalf("unexpected children %v", got)
	}
	if Children(reg, nil) != nil {
		t.Fatalf("nil root yields no children")
	}
	var typed *Department
	if Children(reg, typed) != nil {
		t.Fatalf("typed nil root yields no children")
	}
}

func TestAssignIgnoresInvalidRoots(t *testing.T) {
	a := New(schema.NewRegistry(), counter{})
	a.Assign(nil)
	a.Assign(42)
	var dep *Department
	a.Assign(dep)
}
