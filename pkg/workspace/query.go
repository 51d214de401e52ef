package workspace

import (
	"iter"
	"reflect"
	"slices"

	"pocketdb/internal/schema"
)

// Number is the set of types Sum can total.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// resolve returns the type info of T, decoding rows of T still held raw from
// the last reload. T must be a pointer to a struct.
func resolve[T any](w *Workspace) (*schema.TypeInfo, bool) {
	ti, err := w.registry.OfType(reflect.TypeFor[T]())
	if err != nil {
		return nil, false
	}
	w.mu.RLock()
	pending := w.store.Pending(ti.Name)
	w.mu.RUnlock()
	if pending {
		w.mu.Lock()
		w.store.Collection(ti)
		w.mu.Unlock()
	}
	return ti, true
}

// scan calls fn for every stored T in ascending identity order until fn
// returns false. The read lock is held throughout.
func scan[T any](w *Workspace, fn func(T) bool) {
	ti, ok := resolve[T](w)
	if !ok {
		return
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, ok := w.store.Peek(ti.Name)
	if !ok {
		return
	}
	for v := range c.Items() {
		t, ok := v.(T)
		if !ok {
			continue
		}
		if !fn(t) {
			return
		}
	}
}

func matches[T any](pred func(T) bool, t T) bool {
	return pred == nil || pred(t)
}

// All returns every stored T matching pred; a nil pred matches everything.
func All[T any](w *Workspace, pred func(T) bool) []T {
	return Query(w, pred, 0)
}

// Query returns at most limit T matching pred; limit <= 0 means no limit.
func Query[T any](w *Workspace, pred func(T) bool, limit int) []T {
	var out []T
	scan(w, func(t T) bool {
		if matches(pred, t) {
			out = append(out, t)
		}
		return limit <= 0 || len(out) < limit
	})
	return out
}

// Queryable returns a sequence over the T stored at call time, for callers
// composing their own pipelines. Later mutations do not affect it.
func Queryable[T any](w *Workspace) iter.Seq[T] {
	return slices.Values(All[T](w, nil))
}

// Single returns the only T matching pred, the zero T when none does, and
// ErrNotUnique when several do.
func Single[T any](w *Workspace, pred func(T) bool) (T, error) {
	var (
		found T
		n     int
	)
	scan(w, func(t T) bool {
		if matches(pred, t) {
			found = t
			n++
		}
		return n < 2
	})
	if n > 1 {
		var zero T
		return zero, ErrNotUnique
	}
	return found, nil
}

// First returns the T with the lowest identity matching pred.
func First[T any](w *Workspace, pred func(T) bool) (T, bool) {
	var (
		found T
		ok    bool
	)
	scan(w, func(t T) bool {
		if matches(pred, t) {
			found, ok = t, true
			return false
		}
		return true
	})
	return found, ok
}

// Last returns the T with the highest identity.
func Last[T any](w *Workspace) (T, bool) {
	items := LastN[T](w, 1)
	if len(items) == 0 {
		var zero T
		return zero, false
	}
	return items[0], true
}

// LastN returns the n T with the highest identities, in ascending order.
func LastN[T any](w *Workspace, n int) []T {
	if n <= 0 {
		return nil
	}
	all := All[T](w, nil)
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// Count returns how many T match pred.
func Count[T any](w *Workspace, pred func(T) bool) int {
	n := 0
	scan(w, func(t T) bool {
		if matches(pred, t) {
			n++
		}
		return true
	})
	return n
}

// Sum totals selector over the T matching pred; an empty table sums to 0.
func Sum[T any, N Number](w *Workspace, selector func(T) N, pred func(T) bool) N {
	var total N
	scan(w, func(t T) bool {
		if matches(pred, t) {
			total += selector(t)
		}
		return true
	})
	return total
}

// Distinct returns the distinct projections of the T matching pred, in
// first-seen order.
func Distinct[T any, K comparable](w *Workspace, selector func(T) K, pred func(T) bool) []K {
	seen := make(map[K]struct{})
	var out []K
	scan(w, func(t T) bool {
		if !matches(pred, t) {
			return true
		}
		k := selector(t)
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
		return true
	})
	return out
}

// Any reports whether at least one T matches pred.
func Any[T any](w *Workspace, pred func(T) bool) bool {
	_, ok := First(w, pred)
	return ok
}
