// Package schema derives the relationship table of every stored type: its
// nested collections, nested references, scalar fields and foreign-key
// fields. Reflection runs once per type; the resulting TypeInfo is cached and
// reused by the store, the cascade assigner and the graph merger.
package schema

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"pocketdb/pkg/entity"
)

var (
	// ErrNotStruct is returned for values that are not pointers to structs.
	ErrNotStruct = errors.New("schema: value must be a pointer to a struct")
	// ErrNoIdentity is returned for types that neither carry an identity nor are marked singleton.
	ErrNoIdentity = errors.New("schema: type has no identity and is not a singleton")
	// ErrNameConflict is returned when two distinct Go types claim the same type name.
	ErrNameConflict = errors.New("schema: type name already registered")
)

var (
	entityType    = reflect.TypeFor[entity.Entity]()
	singletonType = reflect.TypeFor[entity.Singleton]()
)

// Scalar is a field merged by value.
type Scalar struct {
	Field    string
	Index    []int
	Nullable bool
}

// Collection is a nested []*Child field.
type Collection struct {
	Field string
	Index []int
	Child *TypeInfo
	// ForeignKey is the index path of the {Parent}ID field on Child, nil when
	// the child carries no such field.
	ForeignKey []int
}

// Reference is a nested *Child field.
type Reference struct {
	Field string
	Index []int
	Child *TypeInfo
}

// TypeInfo is the cached relationship table of one struct type.
type TypeInfo struct {
	Name        string
	Type        reflect.Type
	Identity    bool
	Singleton   bool
	Scalars     []Scalar
	Collections []Collection
	References  []Reference
}

// Storable reports whether instances can be admitted into a collection.
func (ti *TypeInfo) Storable() error {
	if ti.Identity || ti.Singleton {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNoIdentity, ti.Name)
}

// New allocates a zero instance and returns a pointer to it.
func (ti *TypeInfo) New() any {
	return reflect.New(ti.Type).Interface()
}

// ID returns the identity of v, 0 for singletons and transients.
func (ti *TypeInfo) ID(v any) int {
	if e, ok := v.(entity.Entity); ok && ti.Identity {
		return e.EntityID()
	}
	return 0
}

// SetID assigns the identity of v when the type carries one.
func (ti *TypeInfo) SetID(v any, id int) {
	if e, ok := v.(entity.Entity); ok && ti.Identity {
		e.SetEntityID(id)
	}
}

// Option customizes registration.
type Option func(*registerOptions)

type registerOptions struct {
	name string
}

// WithName overrides the type name, which otherwise is the Go struct name.
// The name drives collection keys and the {Parent}ID foreign-key convention.
func WithName(name string) Option {
	return func(o *registerOptions) { o.name = name }
}

// Registry caches TypeInfo by Go type and by type name. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]*TypeInfo
	byName map[string]*TypeInfo
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[reflect.Type]*TypeInfo),
		byName: make(map[string]*TypeInfo),
	}
}

// Register derives and caches the relationship table for v, which must be a
// pointer to a struct (or the struct itself). Registering the same type
// twice returns the cached entry.
func (r *Registry) Register(v any, opts ...Option) (*TypeInfo, error) {
	t, err := structType(reflect.TypeOf(v))
	if err != nil {
		return nil, err
	}
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buildLocked(t, o.name)
}

// Of returns the TypeInfo for v, registering its type on first use.
func (r *Registry) Of(v any) (*TypeInfo, error) {
	t, err := structType(reflect.TypeOf(v))
	if err != nil {
		return nil, err
	}
	return r.OfType(t)
}

// OfType returns the TypeInfo for the struct type t, registering it on first use.
func (r *Registry) OfType(t reflect.Type) (*TypeInfo, error) {
	t, err := structType(t)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	ti, ok := r.byType[t]
	r.mu.RUnlock()
	if ok {
		return ti, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buildLocked(t, "")
}

// Lookup returns the TypeInfo registered under name.
func (r *Registry) Lookup(name string) (*TypeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ti, ok := r.byName[name]
	return ti, ok
}

// Names lists registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func structType(t reflect.Type) (reflect.Type, error) {
	if t == nil {
		return nil, ErrNotStruct
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: got %s", ErrNotStruct, t)
	}
	return t, nil
}

// buildLocked must be called with r.mu held for writing. The entry is
// published before its fields are derived so self-referencing and mutually
// referencing types terminate.
func (r *Registry) buildLocked(t reflect.Type, name string) (*TypeInfo, error) {
	if ti, ok := r.byType[t]; ok {
		if name != "" && name != ti.Name {
			return nil, fmt.Errorf("%w: %s already registered as %s", ErrNameConflict, t, ti.Name)
		}
		return ti, nil
	}
	if name == "" {
		name = t.Name()
	}
	if name == "" {
		return nil, fmt.Errorf("%w: anonymous struct types need WithName", ErrNotStruct)
	}
	if other, ok := r.byName[name]; ok && other.Type != t {
		return nil, fmt.Errorf("%w: %q used by %s and %s", ErrNameConflict, name, other.Type, t)
	}
	ptr := reflect.PointerTo(t)
	ti := &TypeInfo{
		Name:      name,
		Type:      t,
		Identity:  ptr.Implements(entityType),
		Singleton: ptr.Implements(singletonType),
	}
	if ti.Identity {
		ti.Singleton = false
	}
	r.byType[t] = ti
	r.byName[name] = ti
	if err := r.deriveFieldsLocked(ti); err != nil {
		delete(r.byType, t)
		delete(r.byName, name)
		return nil, err
	}
	return ti, nil
}

func (r *Registry) deriveFieldsLocked(ti *TypeInfo) error {
	for _, f := range reflect.VisibleFields(ti.Type) {
		if !f.IsExported() {
			continue
		}
		if f.Anonymous && promotesFields(f.Type) {
			continue
		}
		switch {
		case isEntityCollection(f.Type):
			child, err := r.buildLocked(f.Type.Elem().Elem(), "")
			if err != nil {
				return fmt.Errorf("schema: %s.%s: %w", ti.Name, f.Name, err)
			}
			ti.Collections = append(ti.Collections, Collection{
				Field:      f.Name,
				Index:      f.Index,
				Child:      child,
				ForeignKey: foreignKey(child.Type, ti.Name),
			})
		case isEntityPointer(f.Type):
			child, err := r.buildLocked(f.Type.Elem(), "")
			if err != nil {
				return fmt.Errorf("schema: %s.%s: %w", ti.Name, f.Name, err)
			}
			ti.References = append(ti.References, Reference{Field: f.Name, Index: f.Index, Child: child})
		default:
			ti.Scalars = append(ti.Scalars, Scalar{Field: f.Name, Index: f.Index, Nullable: nullable(f.Type.Kind())})
		}
	}
	return nil
}

func promotesFields(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return false
	}
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).IsExported() {
			return true
		}
	}
	return false
}

func isEntityPointer(t reflect.Type) bool {
	return t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct && t.Implements(entityType)
}

func isEntityCollection(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && isEntityPointer(t.Elem())
}

func nullable(k reflect.Kind) bool {
	switch k {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return true
	default:
		return false
	}
}

// foreignKey resolves the {Parent}ID (or {Parent}Id) integer field on child.
func foreignKey(child reflect.Type, parent string) []int {
	for _, name := range []string{parent + "ID", parent + "Id"} {
		f, ok := child.FieldByName(name)
		if !ok || !f.IsExported() {
			continue
		}
		switch f.Type.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return f.Index
		}
	}
	return nil
}
