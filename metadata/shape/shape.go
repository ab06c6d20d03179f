// Package shape describes the class shapes the model builder works from:
// opaque handles naming an entity type, and the members of the Go struct
// behind it (scalars, references and collections).
//
// A struct field is skipped when tagged `orbit:"-"`. Embedded structs are
// flattened.
package shape

import (
	"fmt"
	"reflect"
	"sync"
	"time"
)

// Type is an opaque handle naming an entity shape. It is either backed by
// a Go struct type, or declared by name only (no struct, all properties
// are shadow properties).
type Type struct {
	name string
	rt   reflect.Type
}

// Of returns the handle for the struct type T.
func Of[T any]() Type {
	return FromReflect(reflect.TypeFor[T]())
}

// FromReflect returns the handle for a struct type, or a pointer to one.
// It panics if rt is not a struct.
func FromReflect(rt reflect.Type) Type {
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if rt.Kind() != reflect.Struct {
		panic(fmt.Sprintf("orbit/shape: %s is not a struct type", rt))
	}
	return Type{name: rt.Name(), rt: rt}
}

// Named returns the handle of a declared shape with no Go struct.
func Named(name string) Type {
	return Type{name: name}
}

// Name returns the entity type name of the shape.
func (t Type) Name() string { return t.name }

// Reflect returns the struct type behind the shape, or nil.
func (t Type) Reflect() reflect.Type { return t.rt }

// HasStruct reports whether the shape is backed by a Go struct.
func (t Type) HasStruct() bool { return t.rt != nil }

// IsZero reports whether t is the zero handle.
func (t Type) IsZero() bool { return t.name == "" && t.rt == nil }

// String implements fmt.Stringer.
func (t Type) String() string { return t.name }

// Members returns the members of the shape in declaration order.
// Declared shapes have none.
func (t Type) Members() []Member {
	if t.rt == nil {
		return nil
	}
	return membersOf(t.rt)
}

// Member returns the member with the given name.
func (t Type) Member(name string) (Member, bool) {
	for _, m := range t.Members() {
		if m.Name == name {
			return m, true
		}
	}
	return Member{}, false
}

// MemberKind classifies a struct member.
type MemberKind uint8

// Member kinds.
const (
	// Scalar members map to properties.
	Scalar MemberKind = iota + 1
	// Reference members are pointers to another struct.
	Reference
	// Collection members are slices of pointers to another struct.
	Collection
)

// String implements fmt.Stringer.
func (k MemberKind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case Reference:
		return "reference"
	case Collection:
		return "collection"
	default:
		return "invalid"
	}
}

// Member is an exported struct field usable as a property or navigation.
type Member struct {
	// Name of the struct field.
	Name string
	// Kind of the member.
	Kind MemberKind
	// Type is the Go type of the field.
	Type reflect.Type
	// Target is the related struct type of reference and collection members.
	Target reflect.Type
	// Index is the field index sequence for reflect.Value.FieldByIndex.
	Index []int
}

// Nullable reports whether the member can hold nil.
func (m Member) Nullable() bool { return Nullable(m.Type) }

var members sync.Map // reflect.Type -> []Member

func membersOf(rt reflect.Type) []Member {
	if v, ok := members.Load(rt); ok {
		return v.([]Member)
	}
	ms := collect(rt, nil)
	v, _ := members.LoadOrStore(rt, ms)
	return v.([]Member)
}

func collect(rt reflect.Type, prefix []int) []Member {
	var ms []Member
	for i := range rt.NumField() {
		f := rt.Field(i)
		if f.Tag.Get("orbit") == "-" {
			continue
		}
		index := append(append([]int(nil), prefix...), i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct && !IsScalar(f.Type) {
			ms = append(ms, collect(f.Type, index)...)
			continue
		}
		if !f.IsExported() {
			continue
		}
		m := Member{Name: f.Name, Type: f.Type, Index: index}
		switch {
		case IsScalar(f.Type):
			m.Kind = Scalar
		case f.Type.Kind() == reflect.Pointer && f.Type.Elem().Kind() == reflect.Struct:
			m.Kind, m.Target = Reference, f.Type.Elem()
		case f.Type.Kind() == reflect.Slice && f.Type.Elem().Kind() == reflect.Pointer &&
			f.Type.Elem().Elem().Kind() == reflect.Struct:
			m.Kind, m.Target = Collection, f.Type.Elem().Elem()
		default:
			continue
		}
		ms = append(ms, m)
	}
	return ms
}

var (
	timeType  = reflect.TypeFor[time.Time]()
	bytesType = reflect.TypeFor[[]byte]()
)

// IsScalar reports whether values of rt are stored as a single property
// value: booleans, numbers, strings, time.Time, byte slices, fixed-size
// byte arrays (such as uuid.UUID), and pointers to any of those.
func IsScalar(rt reflect.Type) bool {
	if rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	switch rt.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	case reflect.Array:
		return rt.Elem().Kind() == reflect.Uint8
	case reflect.Slice:
		return rt == bytesType || rt.Elem().Kind() == reflect.Uint8
	case reflect.Struct:
		return rt == timeType
	}
	return false
}

// Nullable reports whether a value of type rt can be nil.
func Nullable(rt reflect.Type) bool {
	switch rt.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map:
		return true
	}
	return false
}

// Underlying strips one level of pointer from rt.
func Underlying(rt reflect.Type) reflect.Type {
	if rt.Kind() == reflect.Pointer {
		return rt.Elem()
	}
	return rt
}

// MakeNullable returns a nullable type holding values of rt: rt itself
// if it is already nullable, a pointer to it otherwise.
func MakeNullable(rt reflect.Type) reflect.Type {
	if Nullable(rt) {
		return rt
	}
	return reflect.PointerTo(rt)
}
