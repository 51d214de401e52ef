// Package cascade wires nested entities reachable from a root: it assigns
// identities to transient children and stamps their {Parent}ID foreign keys.
package cascade

import (
	"reflect"

	"go.uber.org/zap"

	"pocketdb/internal/schema"
)

// IdentitySource issues identities per type name.
type IdentitySource interface {
	NextIdentity(typeName string) int
}

// Assigner performs cascade identity assignment.
type Assigner struct {
	registry *schema.Registry
	ids      IdentitySource
	log      *zap.Logger
}

// Option configures an Assigner.
type Option func(*Assigner)

// WithLogger sets the logger used to report aliased children.
func WithLogger(l *zap.Logger) Option {
	return func(a *Assigner) {
		if l != nil {
			a.log = l
		}
	}
}

// New returns an Assigner drawing identities from ids.
func New(registry *schema.Registry, ids IdentitySource, opts ...Option) *Assigner {
	a := &Assigner{registry: registry, ids: ids, log: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assign walks root depth-first. For every child of every nested collection
// it stamps the foreign key with the parent identity, assigns an identity
// when the child is transient, then descends into the child. Each child is
// wired once per pass: when the same instance is reachable from two parents
// the first one in traversal order owns it. Assign never fails; values it
// cannot interpret are skipped.
func (a *Assigner) Assign(root any) {
	v := reflect.ValueOf(root)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return
	}
	ti, err := a.registry.OfType(v.Type())
	if err != nil {
		return
	}
	seen := map[uintptr]bool{v.Pointer(): true}
	a.walk(ti, v, ti.ID(root), seen)
}

func (a *Assigner) walk(ti *schema.TypeInfo, parent reflect.Value, parentID int, seen map[uintptr]bool) {
	elem := parent.Elem()
	for _, rel := range ti.Collections {
		for _, child := range rel.Elems(elem) {
			if seen[child.Pointer()] {
				a.log.Debug("cascade: child reachable from several parents",
					zap.String("parent", ti.Name), zap.Int("parent_id", parentID),
					zap.String("child", rel.Child.Name), zap.Int("child_id", rel.Child.ID(child.Interface())))
				continue
			}
			seen[child.Pointer()] = true
			rel.SetForeignKey(child.Elem(), parentID)
			obj := child.Interface()
			id := rel.Child.ID(obj)
			if id == 0 && rel.Child.Identity {
				id = a.ids.NextIdentity(rel.Child.Name)
				rel.Child.SetID(obj, id)
			}
			a.walk(rel.Child, child, id, seen)
		}
	}
}

// Children returns every nested entity reachable from root through nested
// collections, in pre-order, each instance once.
func Children(registry *schema.Registry, root any) []any {
	v := reflect.ValueOf(root)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return nil
	}
	ti, err := registry.OfType(v.Type())
	if err != nil {
		return nil
	}
	var out []any
	seen := map[uintptr]bool{v.Pointer(): true}
	var visit func(ti *schema.TypeInfo, parent reflect.Value)
	visit = func(ti *schema.TypeInfo, parent reflect.Value) {
		for _, rel := range ti.Collections {
			for _, child := range rel.Elems(parent.Elem()) {
				if seen[child.Pointer()] {
					continue
				}
				seen[child.Pointer()] = true
				out = append(out, child.Interface())
				visit(rel.Child, child)
			}
		}
	}
	visit(ti, v)
	return out
}
