package schema

import "reflect"

// Field resolves index on the struct value v. It reports false when the path
// crosses a nil embedded pointer.
func Field(v reflect.Value, index []int) (reflect.Value, bool) {
	f, err := v.FieldByIndexErr(index)
	if err != nil {
		return reflect.Value{}, false
	}
	return f, true
}

// SetForeignKey stamps id into the foreign-key field of the child struct
// value. Missing fields are tolerated.
func (c Collection) SetForeignKey(child reflect.Value, id int) {
	if c.ForeignKey == nil {
		return
	}
	if f, ok := Field(child, c.ForeignKey); ok && f.CanSet() {
		f.SetInt(int64(id))
	}
}

// ForeignKeyValue returns the child's current foreign-key value.
func (c Collection) ForeignKeyValue(child reflect.Value) (int, bool) {
	if c.ForeignKey == nil {
		return 0, false
	}
	f, ok := Field(child, c.ForeignKey)
	if !ok {
		return 0, false
	}
	return int(f.Int()), true
}

// Elems returns the non-nil element pointers of the collection held by the
// parent struct value.
func (c Collection) Elems(parent reflect.Value) []reflect.Value {
	f, ok := Field(parent, c.Index)
	if !ok || f.IsNil() {
		return nil
	}
	out := make([]reflect.Value, 0, f.Len())
	for i := 0; i < f.Len(); i++ {
		if e := f.Index(i); !e.IsNil() {
			out = append(out, e)
		}
	}
	return out
}
