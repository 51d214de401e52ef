// Package typestore implements the table-of-tables: one identity-keyed
// collection per entity type plus a monotonic identity counter per type.
//
// A Store is not safe for concurrent mutation; callers serialize access (the
// workspace holds its own lock). NextIdentity is the exception and may be
// called from any goroutine.
package typestore

import (
	"encoding/json"
	"fmt"
	"iter"
	"reflect"
	"slices"
	"sync"

	"go.uber.org/zap"

	"pocketdb/internal/cascade"
	"pocketdb/internal/schema"
)

// singletonSlot is the reserved key of the single instance of a singleton type.
const singletonSlot = 0

// Collection holds every stored instance of one type.
type Collection struct {
	Info  *schema.TypeInfo
	items map[int]any
}

// Len returns the number of stored instances.
func (c *Collection) Len() int { return len(c.items) }

// Get returns the instance stored under id.
func (c *Collection) Get(id int) (any, bool) {
	v, ok := c.items[id]
	return v, ok
}

// Items yields the stored instances in ascending identity order.
func (c *Collection) Items() iter.Seq[any] {
	return func(yield func(any) bool) {
		for _, id := range c.ids() {
			v, ok := c.items[id]
			if !ok {
				continue
			}
			if !yield(v) {
				return
			}
		}
	}
}

func (c *Collection) ids() []int {
	ids := make([]int, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Store is the in-memory table of tables.
type Store struct {
	registry *schema.Registry
	assigner *cascade.Assigner
	log      *zap.Logger

	tables map[string]*Collection
	// raw keeps tables loaded from a snapshot whose Go type is not registered
	// yet; they are decoded on first registration and re-exported untouched.
	raw map[string]map[int]json.RawMessage

	counterMu sync.Mutex
	counters  map[string]int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for decode and wiring diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// New returns an empty store resolving types through registry.
func New(registry *schema.Registry, opts ...Option) *Store {
	if registry == nil {
		registry = schema.NewRegistry()
	}
	s := &Store{
		registry: registry,
		log:      zap.NewNop(),
		tables:   make(map[string]*Collection),
		raw:      make(map[string]map[int]json.RawMessage),
		counters: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.assigner = cascade.New(registry, s, cascade.WithLogger(s.log))
	return s
}

// Registry exposes the schema registry backing the store.
func (s *Store) Registry() *schema.Registry { return s.registry }

// Assigner exposes the cascade assigner bound to this store's counters.
func (s *Store) Assigner() *cascade.Assigner { return s.assigner }

// NextIdentity issues the next identity for typeName, starting at 1.
func (s *Store) NextIdentity(typeName string) int {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()
	s.counters[typeName]++
	return s.counters[typeName]
}

// observeIdentity raises the counter so explicitly supplied identities are
// never issued again.
func (s *Store) observeIdentity(typeName string, id int) {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()
	if id > s.counters[typeName] {
		s.counters[typeName] = id
	}
}

// Counter returns the last identity issued for typeName.
func (s *Store) Counter(typeName string) int {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()
	return s.counters[typeName]
}

// Collection returns the collection of ti, creating it on first use.
func (s *Store) Collection(ti *schema.TypeInfo) *Collection {
	if c, ok := s.tables[ti.Name]; ok {
		return c
	}
	c := &Collection{Info: ti, items: make(map[int]any)}
	s.tables[ti.Name] = c
	if rows, ok := s.raw[ti.Name]; ok {
		delete(s.raw, ti.Name)
		// row failures are logged by decodeRows; the remaining rows stay usable
		_ = s.decodeRows(c, rows)
		s.relink(c)
	}
	return c
}

// Peek returns the collection of typeName only when it is already
// materialized. Unlike Lookup it never creates or decodes a collection, so it
// is safe under a shared read lock.
func (s *Store) Peek(typeName string) (*Collection, bool) {
	c, ok := s.tables[typeName]
	return c, ok
}

// Pending reports whether rows of typeName are still held undecoded.
func (s *Store) Pending(typeName string) bool {
	_, ok := s.raw[typeName]
	return ok
}

// Lookup returns the collection stored under typeName, materializing it when
// the type is registered.
func (s *Store) Lookup(typeName string) (*Collection, bool) {
	if c, ok := s.tables[typeName]; ok {
		return c, true
	}
	if ti, ok := s.registry.Lookup(typeName); ok {
		return s.Collection(ti), true
	}
	return nil, false
}

// Add admits obj. Transient entities receive the next identity; an identity
// already present converges on Update; singletons take the reserved slot.
func (s *Store) Add(obj any) error {
	ti, err := s.admit(obj)
	if err != nil {
		return err
	}
	c := s.Collection(ti)
	if ti.Singleton {
		c.items[singletonSlot] = obj
		return nil
	}
	id := ti.ID(obj)
	if id == 0 {
		id = s.NextIdentity(ti.Name)
		ti.SetID(obj, id)
	} else {
		s.observeIdentity(ti.Name, id)
	}
	if _, exists := c.items[id]; exists {
		return s.Update(obj)
	}
	c.items[id] = obj
	return nil
}

// Update overwrites the slot of obj, inserting when absent. A transient obj
// is added instead.
func (s *Store) Update(obj any) error {
	ti, err := s.admit(obj)
	if err != nil {
		return err
	}
	c := s.Collection(ti)
	if ti.Singleton {
		c.items[singletonSlot] = obj
		return nil
	}
	id := ti.ID(obj)
	if id == 0 {
		return s.Add(obj)
	}
	s.observeIdentity(ti.Name, id)
	c.items[id] = obj
	return nil
}

func (s *Store) admit(obj any) (*schema.TypeInfo, error) {
	if v := reflect.ValueOf(obj); v.Kind() != reflect.Pointer || v.IsNil() {
		return nil, fmt.Errorf("%w: got %T", schema.ErrNotStruct, obj)
	}
	ti, err := s.registry.Of(obj)
	if err != nil {
		return nil, err
	}
	if err := ti.Storable(); err != nil {
		return nil, err
	}
	return ti, nil
}

// Get returns the instance of typeName stored under id.
func (s *Store) Get(typeName string, id int) (any, bool) {
	c, ok := s.Lookup(typeName)
	if !ok {
		return nil, false
	}
	return c.Get(id)
}

// Delete removes the slot; absent slots are ignored.
func (s *Store) Delete(typeName string, id int) {
	if c, ok := s.Lookup(typeName); ok {
		delete(c.items, id)
	}
	if rows, ok := s.raw[typeName]; ok {
		delete(rows, id)
	}
}

// Items yields every instance of typeName in ascending identity order. The
// sequence is restartable; each pass reflects the collection at that time.
func (s *Store) Items(typeName string) iter.Seq[any] {
	return func(yield func(any) bool) {
		c, ok := s.Lookup(typeName)
		if !ok {
			return
		}
		c.Items()(yield)
	}
}

// TypeNames lists the names of all non-empty collections, including raw
// tables that have not been decoded yet.
func (s *Store) TypeNames() []string {
	names := make([]string, 0, len(s.tables)+len(s.raw))
	for name, c := range s.tables {
		if c.Len() > 0 {
			names = append(names, name)
		}
	}
	for name, rows := range s.raw {
		if len(rows) > 0 {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// FixIdentities runs the cascade assigner over every stored root, singletons
// included, repairing children attached to already persisted parents without
// going through Add.
func (s *Store) FixIdentities() {
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		c := s.tables[name]
		if !c.Info.Identity && !c.Info.Singleton {
			continue
		}
		for _, id := range c.ids() {
			s.assigner.Assign(c.items[id])
		}
	}
}

// Reset drops every collection and counter.
func (s *Store) Reset() {
	s.tables = make(map[string]*Collection)
	s.raw = make(map[string]map[int]json.RawMessage)
	s.counterMu.Lock()
	s.counters = make(map[string]int)
	s.counterMu.Unlock()
}
