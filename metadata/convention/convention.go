// Package convention holds the passes that infer model configuration the
// caller left out: properties and keys from struct shapes, relationships
// from navigation fields, foreign key indexes, required flags and value
// generation.
//
// Passes run in a fixed order per event. A Set maps every event to its
// ordered passes and Dispatch runs them one after the other; a pass that
// mutates the model through the Host may trigger nested dispatches.
package convention

import (
	"fmt"
	"slices"

	"github.com/syssam/orbit/metadata"
	"github.com/syssam/orbit/metadata/shape"
)

// Event identifies the model mutation a pass reacts to.
type Event uint8

// Model events.
const (
	EntityTypeAdded Event = iota
	PropertyAdded
	KeyChanged
	ForeignKeyAdded
	NavigationAdded
	NavigationRemoved
	ModelFinalizing
)

var eventNames = [...]string{
	EntityTypeAdded:   "EntityTypeAdded",
	PropertyAdded:     "PropertyAdded",
	KeyChanged:        "KeyChanged",
	ForeignKeyAdded:   "ForeignKeyAdded",
	NavigationAdded:   "NavigationAdded",
	NavigationRemoved: "NavigationRemoved",
	ModelFinalizing:   "ModelFinalizing",
}

// String implements fmt.Stringer.
func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("Event(%d)", e)
}

// Mutation describes one model change. Only the fields relevant to the
// event are set.
type Mutation struct {
	Event      Event
	EntityType *metadata.EntityType
	Property   *metadata.Property
	Key        *metadata.Key
	ForeignKey *metadata.ForeignKey
	Navigation *metadata.Navigation
	// NavigationName is set for NavigationRemoved, the node being gone.
	NavigationName string
}

// Relationship is a relationship inferred by a pass.
type Relationship struct {
	Principal   *metadata.EntityType
	Dependent   *metadata.EntityType
	ToPrincipal string
	ToDependent string
	Unique      bool
}

// Host is the part of the model builder the passes mutate through. Host
// methods record configuration as convention-sourced and dispatch the
// events their mutations cause.
type Host interface {
	// Model returns the model being built.
	Model() *metadata.Model
	// IsIgnored reports whether member was ignored on et.
	IsIgnored(et *metadata.EntityType, member string) bool
	// DiscoverEntityType returns the entity type for st, adding it when
	// missing. It returns nil when the type was ignored.
	DiscoverEntityType(st shape.Type) (*metadata.EntityType, error)
	// AddProperty adds a property backed by the struct field name.
	AddProperty(et *metadata.EntityType, name string) (*metadata.Property, error)
	// SetPrimaryKey sets the primary key unless it was set explicitly.
	SetPrimaryKey(et *metadata.EntityType, props []*metadata.Property) error
	// PrimaryKeySource returns who configured the primary key of et.
	PrimaryKeySource(et *metadata.EntityType) metadata.ConfigurationSource
	// Relate configures a relationship with the full relationship rules.
	Relate(r Relationship) error
	// RemoveUnreachable removes convention-added entity types no explicit
	// entity type reaches through navigations.
	RemoveUnreachable() error
}

// Convention is a named pass.
type Convention interface {
	Name() string
	Apply(h Host, m Mutation) error
}

// Func adapts a function to the Convention interface.
type Func struct {
	name string
	fn   func(Host, Mutation) error
}

// NewFunc returns a named pass running fn.
func NewFunc(name string, fn func(Host, Mutation) error) Func {
	return Func{name: name, fn: fn}
}

// Name implements Convention.
func (f Func) Name() string { return f.name }

// Apply implements Convention.
func (f Func) Apply(h Host, m Mutation) error { return f.fn(h, m) }

// Set maps events to ordered passes.
type Set struct {
	passes map[Event][]Convention
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{passes: make(map[Event][]Convention)}
}

// DefaultSet returns the passes every model builder starts with.
func DefaultSet() *Set {
	return NewSet().
		Add(EntityTypeAdded, PropertyDiscovery{}, KeyDiscovery{}, RelationshipDiscovery{}).
		Add(PropertyAdded, KeyDiscovery{}).
		Add(KeyChanged, ValueGeneration{}).
		Add(ForeignKeyAdded, ForeignKeyIndex{}, Required{}, ValueGeneration{}).
		Add(NavigationRemoved, IgnoreCascade{}).
		Add(ModelFinalizing, ValueGeneration{}, Validation{})
}

// Add appends passes to the event. It returns s for chaining.
func (s *Set) Add(e Event, cs ...Convention) *Set {
	s.passes[e] = append(s.passes[e], cs...)
	return s
}

// Remove drops every pass with the given name, from all events.
func (s *Set) Remove(name string) *Set {
	for e, cs := range s.passes {
		s.passes[e] = slices.DeleteFunc(slices.Clone(cs), func(c Convention) bool {
			return c.Name() == name
		})
	}
	return s
}

// Conventions returns the passes of an event in order.
func (s *Set) Conventions(e Event) []Convention {
	return slices.Clone(s.passes[e])
}

// Dispatch runs the passes of m.Event in order and stops at the first
// failing one.
func (s *Set) Dispatch(h Host, m Mutation) error {
	for _, c := range s.passes[m.Event] {
		if err := c.Apply(h, m); err != nil {
			return fmt.Errorf("convention %s on %s: %w", c.Name(), m.Event, err)
		}
	}
	return nil
}
