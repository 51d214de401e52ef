// Package merge reconciles a detached, edited copy of an aggregate into the
// stored instance while keeping the stored sub-objects that survive the edit.
package merge

import (
	"errors"
	"fmt"
	"reflect"

	"pocketdb/internal/schema"
)

// ErrTypeMismatch is returned when target and source are not non-nil
// pointers to the same struct type.
var ErrTypeMismatch = errors.New("merge: target and source must be pointers to the same type")

// Result lists the children detached from and attached to the target graph.
type Result struct {
	Removed  []any
	Appended []any
}

// Merger applies graph merges using the relationship tables in a registry.
type Merger struct {
	registry *schema.Registry
}

// New returns a Merger resolving types through registry.
func New(registry *schema.Registry) *Merger {
	return &Merger{registry: registry}
}

type pair struct{ target, source uintptr }

// Merge copies source into target:
//   - nil source values leave the target untouched;
//   - scalar fields overwrite;
//   - nested references are allocated on the target when absent, then merged;
//   - nested collections drop target items whose identity vanished from the
//     source, drop identity-less target items without an equal source item,
//     merge items matched by identity and append the remaining source items.
//
// The target's identity is never overwritten once assigned.
func (m *Merger) Merge(target, source any) (Result, error) {
	tv, sv := reflect.ValueOf(target), reflect.ValueOf(source)
	if tv.Kind() != reflect.Pointer || sv.Kind() != reflect.Pointer || tv.IsNil() || sv.IsNil() {
		return Result{}, fmt.Errorf("%w: got %T and %T", ErrTypeMismatch, target, source)
	}
	if tv.Type() != sv.Type() {
		return Result{}, fmt.Errorf("%w: got %T and %T", ErrTypeMismatch, target, source)
	}
	ti, err := m.registry.OfType(tv.Type())
	if err != nil {
		return Result{}, err
	}
	var res Result
	if tv.Pointer() == sv.Pointer() {
		return res, nil
	}
	m.mergeStruct(ti, tv, sv, &res, map[pair]bool{})
	return res, nil
}

func (m *Merger) mergeStruct(ti *schema.TypeInfo, target, source reflect.Value, res *Result, seen map[pair]bool) {
	key := pair{target.Pointer(), source.Pointer()}
	if seen[key] {
		return
	}
	seen[key] = true

	id := ti.ID(target.Interface())
	t, s := target.Elem(), source.Elem()
	for _, sc := range ti.Scalars {
		sf, ok := schema.Field(s, sc.Index)
		if !ok || (sc.Nullable && sf.IsNil()) {
			continue
		}
		if tf, ok := schema.Field(t, sc.Index); ok && tf.CanSet() {
			tf.Set(sf)
		}
	}
	if id != 0 {
		ti.SetID(target.Interface(), id)
	}

	for _, ref := range ti.References {
		sf, ok := schema.Field(s, ref.Index)
		if !ok || sf.IsNil() {
			continue
		}
		tf, ok := schema.Field(t, ref.Index)
		if !ok {
			continue
		}
		if tf.IsNil() {
			tf.Set(reflect.New(ref.Child.Type))
		}
		if tf.Pointer() != sf.Pointer() {
			m.mergeStruct(ref.Child, tf, sf, res, seen)
		}
	}

	for _, rel := range ti.Collections {
		sf, ok := schema.Field(s, rel.Index)
		if !ok || sf.IsNil() {
			continue
		}
		tf, ok := schema.Field(t, rel.Index)
		if !ok {
			continue
		}
		m.mergeCollection(rel.Child, tf, sf, res, seen)
	}
}

func (m *Merger) mergeCollection(child *schema.TypeInfo, tf, sf reflect.Value, res *Result, seen map[pair]bool) {
	sources := nonNil(sf)
	targets := nonNil(tf)

	sourceIDs := make(map[int]bool, len(sources))
	for _, s := range sources {
		if id := child.ID(s.Interface()); id != 0 {
			sourceIDs[id] = true
		}
	}

	// removal pass, then orphan pass; both run before any append
	kept := make([]reflect.Value, 0, len(targets))
	for _, t := range targets {
		id := child.ID(t.Interface())
		if id != 0 && !sourceIDs[id] {
			res.Removed = append(res.Removed, t.Interface())
			continue
		}
		if id == 0 && !containsValue(sources, t) {
			res.Removed = append(res.Removed, t.Interface())
			continue
		}
		kept = append(kept, t)
	}
	survivors := kept[:len(kept):len(kept)]
	absorbed := make([]bool, len(survivors))

	for _, s := range sources {
		if id := child.ID(s.Interface()); id != 0 {
			if t, ok := findByID(child, kept, id); ok {
				if t.Pointer() != s.Pointer() {
					m.mergeStruct(child, t, s, res, seen)
				}
				continue
			}
		}
		if i := indexOfPointer(survivors, s); i >= 0 {
			absorbed[i] = true
			continue
		}
		if indexOfPointer(kept, s) >= 0 {
			continue
		}
		// each surviving target item absorbs at most one equal source item
		if i := indexOfEqual(survivors, absorbed, s); i >= 0 {
			absorbed[i] = true
			continue
		}
		kept = append(kept, s)
		res.Appended = append(res.Appended, s.Interface())
	}

	out := reflect.MakeSlice(tf.Type(), 0, len(kept))
	for _, v := range kept {
		out = reflect.Append(out, v)
	}
	tf.Set(out)
}

func nonNil(slice reflect.Value) []reflect.Value {
	if slice.IsNil() {
		return nil
	}
	out := make([]reflect.Value, 0, slice.Len())
	for i := 0; i < slice.Len(); i++ {
		if e := slice.Index(i); !e.IsNil() {
			out = append(out, e)
		}
	}
	return out
}

func findByID(ti *schema.TypeInfo, items []reflect.Value, id int) (reflect.Value, bool) {
	for _, it := range items {
		if ti.ID(it.Interface()) == id {
			return it, true
		}
	}
	return reflect.Value{}, false
}

func indexOfPointer(items []reflect.Value, v reflect.Value) int {
	for i, it := range items {
		if it.Pointer() == v.Pointer() {
			return i
		}
	}
	return -1
}

// indexOfEqual returns the first unabsorbed item deeply equal to v, or -1.
func indexOfEqual(items []reflect.Value, absorbed []bool, v reflect.Value) int {
	for i, it := range items {
		if !absorbed[i] && reflect.DeepEqual(it.Elem().Interface(), v.Elem().Interface()) {
			return i
		}
	}
	return -1
}

// containsValue matches by reference first, then by deep value equality.
func containsValue(items []reflect.Value, v reflect.Value) bool {
	for _, it := range items {
		if it.Pointer() == v.Pointer() {
			return true
		}
	}
	for _, it := range items {
		if reflect.DeepEqual(it.Elem().Interface(), v.Elem().Interface()) {
			return true
		}
	}
	return false
}
