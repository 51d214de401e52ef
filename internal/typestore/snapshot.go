package typestore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"

	"go.uber.org/zap"

	"pocketdb/internal/schema"
	"pocketdb/internal/snapshot"
)

// Export encodes every stored entity into a snapshot. Raw tables of types
// never registered in this process are carried over unchanged.
func (s *Store) Export() (snapshot.Snapshot, error) {
	out := snapshot.New()
	s.counterMu.Lock()
	for name, n := range s.counters {
		out.Counters[name] = n
	}
	s.counterMu.Unlock()
	for name, rows := range s.raw {
		cp := make(map[int]json.RawMessage, len(rows))
		for id, row := range rows {
			cp[id] = append(json.RawMessage(nil), row...)
		}
		out.Tables[name] = cp
	}
	for name, c := range s.tables {
		if c.Len() == 0 {
			continue
		}
		rows := make(map[int]json.RawMessage, c.Len())
		for id, v := range c.items {
			b, err := json.Marshal(v)
			if err != nil {
				return snapshot.Snapshot{}, fmt.Errorf("typestore: encode %s/%d: %w", name, id, err)
			}
			rows[id] = b
		}
		out.Tables[name] = rows
	}
	return out, nil
}

// Import replaces the store content with snap. Tables of registered types
// are decoded eagerly; the rest stay raw until their type is first used.
func (s *Store) Import(snap snapshot.Snapshot) error {
	s.Reset()
	s.counterMu.Lock()
	for name, n := range snap.Counters {
		s.counters[name] = n
	}
	s.counterMu.Unlock()
	names := make([]string, 0, len(snap.Tables))
	for name := range snap.Tables {
		names = append(names, name)
	}
	slices.Sort(names)
	var decoded []*Collection
	for _, name := range names {
		ti, ok := s.registry.Lookup(name)
		if !ok {
			s.raw[name] = snap.Tables[name]
			continue
		}
		c := &Collection{Info: ti, items: make(map[int]any, len(snap.Tables[name]))}
		s.tables[name] = c
		decoded = append(decoded, c)
	}
	for _, c := range decoded {
		if err := s.decodeRows(c, snap.Tables[c.Info.Name]); err != nil {
			s.Reset()
			return err
		}
	}
	s.relink(decoded...)
	return nil
}

// decodeRows fills c from rows. Every row is attempted; the first failure is
// returned.
func (s *Store) decodeRows(c *Collection, rows map[int]json.RawMessage) error {
	var firstErr error
	for id, row := range rows {
		v := c.Info.New()
		if err := json.Unmarshal(row, v); err != nil {
			s.log.Warn("typestore: dropping undecodable row",
				zap.String("type", c.Info.Name), zap.Int("id", id), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("typestore: decode %s/%d: %w", c.Info.Name, id, err)
			}
			continue
		}
		if c.Info.Identity {
			if c.Info.ID(v) != id {
				c.Info.SetID(v, id)
			}
			s.observeIdentity(c.Info.Name, id)
		}
		c.items[id] = v
	}
	return firstErr
}

// relink replaces nested children of the given collections' entities with the
// canonical instance stored under the child's (type, identity) key, admitting
// children that are missing from their own collection. After a snapshot
// round trip a child is therefore shared by its parent and its table again.
func (s *Store) relink(collections ...*Collection) {
	var queue []reflect.Value
	for _, c := range collections {
		for _, id := range c.ids() {
			queue = append(queue, reflect.ValueOf(c.items[id]))
		}
	}
	seen := make(map[uintptr]bool, len(queue))
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		if v.Kind() != reflect.Pointer || v.IsNil() || seen[v.Pointer()] {
			continue
		}
		seen[v.Pointer()] = true
		ti, err := s.registry.OfType(v.Type())
		if err != nil {
			continue
		}
		elem := v.Elem()
		for _, rel := range ti.Collections {
			f, ok := schema.Field(elem, rel.Index)
			if !ok || f.IsNil() {
				continue
			}
			for i := 0; i < f.Len(); i++ {
				child := f.Index(i)
				if child.IsNil() {
					continue
				}
				canon := s.canonical(rel.Child, child)
				f.Index(i).Set(canon)
				queue = append(queue, canon)
			}
		}
		for _, ref := range ti.References {
			f, ok := schema.Field(elem, ref.Index)
			if !ok || f.IsNil() {
				continue
			}
			canon := s.canonical(ref.Child, f)
			f.Set(canon)
			queue = append(queue, canon)
		}
	}
}

func (s *Store) canonical(ti *schema.TypeInfo, child reflect.Value) reflect.Value {
	id := ti.ID(child.Interface())
	if id == 0 || !ti.Identity {
		return child
	}
	c, ok := s.tables[ti.Name]
	if !ok {
		c = s.Collection(ti)
	}
	if existing, ok := c.items[id]; ok {
		return reflect.ValueOf(existing)
	}
	c.items[id] = child.Interface()
	s.observeIdentity(ti.Name, id)
	return child
}
