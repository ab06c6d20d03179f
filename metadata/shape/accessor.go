package shape

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/syssam/orbit"
)

// Indirect returns the struct value an entity instance points to.
// The instance must be a non-nil pointer to a struct.
func Indirect(entity any) (reflect.Value, error) {
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%w: %T", orbit.ErrInvalidEntity, entity)
	}
	return v.Elem(), nil
}

// Get reads the field at index. Nil pointers read as nil, other pointers
// are dereferenced, so a *int field and an int field holding 1 both
// read as 1.
func Get(v reflect.Value, index []int) any {
	return Normalize(v.FieldByIndex(index).Interface())
}

// Set writes value into the field at index, wrapping or unwrapping one
// level of pointer and converting between convertible types as needed.
// A nil value stores the zero value of the field.
func Set(v reflect.Value, index []int, value any) error {
	f := v.FieldByIndex(index)
	if value == nil {
		f.SetZero()
		return nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Pointer && f.Kind() != reflect.Pointer {
		if rv.IsNil() {
			f.SetZero()
			return nil
		}
		rv = rv.Elem()
	}
	if f.Kind() == reflect.Pointer && rv.Type() != f.Type() {
		if rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				f.SetZero()
				return nil
			}
			rv = rv.Elem()
		}
		elem, err := convert(rv, f.Type().Elem())
		if err != nil {
			return err
		}
		p := reflect.New(f.Type().Elem())
		p.Elem().Set(elem)
		f.Set(p)
		return nil
	}
	rv, err := convert(rv, f.Type())
	if err != nil {
		return err
	}
	f.Set(rv)
	return nil
}

func convert(v reflect.Value, to reflect.Type) (reflect.Value, error) {
	switch {
	case v.Type() == to:
		return v, nil
	case v.Type().ConvertibleTo(to) && v.Kind() != reflect.String && to.Kind() != reflect.String:
		return v.Convert(to), nil
	case v.Type().ConvertibleTo(to) && v.Kind() == to.Kind():
		return v.Convert(to), nil
	default:
		return reflect.Value{}, fmt.Errorf("orbit/shape: cannot assign %s to %s", v.Type(), to)
	}
}

// Normalize strips one level of pointer from a value read from an entity
// or from shadow storage. A nil pointer normalizes to nil.
func Normalize(value any) any {
	if value == nil {
		return nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Pointer {
		return value
	}
	if rv.IsNil() {
		return nil
	}
	if rv.Elem().Kind() == reflect.Struct && !IsScalar(rv.Type()) {
		return value
	}
	return rv.Elem().Interface()
}

// ReferenceOf reads a reference member. It returns nil for a nil pointer.
func ReferenceOf(v reflect.Value, index []int) any {
	f := v.FieldByIndex(index)
	if f.IsNil() {
		return nil
	}
	return f.Interface()
}

// SetReference writes a reference member. A nil entity clears it.
func SetReference(v reflect.Value, index []int, entity any) {
	f := v.FieldByIndex(index)
	if entity == nil {
		f.SetZero()
		return
	}
	f.Set(reflect.ValueOf(entity))
}

// Elements returns the members of a collection as a slice of struct
// pointers. Nil elements are skipped.
func Elements(v reflect.Value, index []int) []any {
	f := v.FieldByIndex(index)
	out := make([]any, 0, f.Len())
	for i := range f.Len() {
		if e := f.Index(i); !e.IsNil() {
			out = append(out, e.Interface())
		}
	}
	return out
}

// Contains reports whether the collection holds entity, by pointer identity.
func Contains(v reflect.Value, index []int, entity any) bool {
	f := v.FieldByIndex(index)
	for i := range f.Len() {
		if e := f.Index(i); !e.IsNil() && e.Interface() == entity {
			return true
		}
	}
	return false
}

// Append adds entity to the collection unless it already holds it.
// It reports whether the collection changed.
func Append(v reflect.Value, index []int, entity any) bool {
	if Contains(v, index, entity) {
		return false
	}
	f := v.FieldByIndex(index)
	f.Set(reflect.Append(f, reflect.ValueOf(entity)))
	return true
}

// Remove deletes every occurrence of entity from the collection.
// It reports whether the collection changed.
func Remove(v reflect.Value, index []int, entity any) bool {
	f := v.FieldByIndex(index)
	kept := reflect.MakeSlice(f.Type(), 0, f.Len())
	removed := false
	for i := range f.Len() {
		e := f.Index(i)
		if !e.IsNil() && e.Interface() == entity {
			removed = true
			continue
		}
		kept = reflect.Append(kept, e)
	}
	if removed {
		f.Set(kept)
	}
	return removed
}

// Equal compares two normalized property values. Byte slices compare by
// content, other uncomparable values by deep equality.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ab, ok := a.([]byte); ok {
		bb, ok := b.([]byte)
		return ok && bytes.Equal(ab, bb)
	}
	ta := reflect.TypeOf(a)
	if ta.Comparable() && ta == reflect.TypeOf(b) {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
