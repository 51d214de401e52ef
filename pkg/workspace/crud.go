package workspace

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"pocketdb/internal/cascade"
	"pocketdb/internal/schema"
)

// Add stores item, assigning its identity when transient, then wires and
// stores every entity reachable through its nested collections.
func Add[T any](w *Workspace, item T) error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addLocked(item)
}

// AddAll adds items in order and stops at the first failure.
func AddAll[T any](w *Workspace, items []T) error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, item := range items {
		if err := w.addLocked(item); err != nil {
			return fmt.Errorf("workspace: add item %d: %w", i, err)
		}
	}
	return nil
}

// Update writes item back. A transient item is added. The stored instance
// itself is re-wired in place. Any other instance with a stored identity is
// treated as a detached copy and merged into the stored instance, which keeps
// its object identity; children the merge dropped are deleted from their own
// tables and children it appended are wired and stored.
func Update[T any](w *Workspace, item T) error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.updateLocked(item)
}

// Delete removes item from its table. Children are left in place.
func Delete[T any](w *Workspace, item T) error {
	if w.closed.Load() {
		return ErrClosed
	}
	if !isLive(item) {
		return fmt.Errorf("%w: got %T", schema.ErrNotStruct, item)
	}
	ti, err := w.registry.Of(item)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.store.Delete(ti.Name, ti.ID(item))
	return nil
}

// DeleteWhere removes every T matching pred and reports how many went away.
func DeleteWhere[T any](w *Workspace, pred func(T) bool) (int, error) {
	if w.closed.Load() {
		return 0, ErrClosed
	}
	ti, ok := resolve[T](w)
	if !ok {
		return 0, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.store.Peek(ti.Name)
	if !ok {
		return 0, nil
	}
	var ids []int
	for v := range c.Items() {
		if t, ok := v.(T); ok && (pred == nil || pred(t)) {
			ids = append(ids, ti.ID(v))
		}
	}
	for _, id := range ids {
		w.store.Delete(ti.Name, id)
	}
	return len(ids), nil
}

func (w *Workspace) addLocked(item any) error {
	if err := w.store.Add(item); err != nil {
		return err
	}
	w.store.Assigner().Assign(item)
	return w.indexChildrenLocked(item)
}

func (w *Workspace) updateLocked(item any) error {
	if !isLive(item) {
		return fmt.Errorf("%w: got %T", schema.ErrNotStruct, item)
	}
	ti, err := w.registry.Of(item)
	if err != nil {
		return err
	}
	if err := ti.Storable(); err != nil {
		return err
	}
	id := ti.ID(item)
	if ti.Singleton || id == 0 {
		return w.addLocked(item)
	}
	stored, ok := w.store.Get(ti.Name, id)
	if !ok || stored == item {
		if err := w.store.Update(item); err != nil {
			return err
		}
		w.store.Assigner().Assign(item)
		return w.indexChildrenLocked(item)
	}

	res, err := w.merger.Merge(stored, item)
	if err != nil {
		return err
	}
	for _, gone := range res.Removed {
		w.dropLocked(gone)
	}
	w.store.Assigner().Assign(stored)
	if err := w.indexChildrenLocked(stored); err != nil {
		return err
	}
	w.log.Debug("merged detached copy",
		zap.String("type", ti.Name), zap.Int("id", id),
		zap.Int("removed", len(res.Removed)), zap.Int("appended", len(res.Appended)))
	return nil
}

// dropLocked deletes a child the merge detached, unless its table already
// holds a different instance under the same identity.
func (w *Workspace) dropLocked(child any) {
	ti, err := w.registry.Of(child)
	if err != nil {
		return
	}
	id := ti.ID(child)
	if id == 0 {
		return
	}
	if stored, ok := w.store.Get(ti.Name, id); ok && stored == child {
		w.store.Delete(ti.Name, id)
	}
}

func (w *Workspace) indexChildrenLocked(root any) error {
	for _, child := range cascade.Children(w.registry, root) {
		if err := w.store.Add(child); err != nil {
			return err
		}
	}
	return nil
}

func isLive(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && !rv.IsNil()
}
