package convention

import (
	"reflect"

	"github.com/google/uuid"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/metadata"
	"github.com/syssam/orbit/metadata/shape"
)

// ForeignKeyIndex indexes the properties of a new foreign key unless a key
// or index already starts with them.
type ForeignKeyIndex struct{}

// Name implements Convention.
func (ForeignKeyIndex) Name() string { return "ForeignKeyIndex" }

// Apply implements Convention.
func (ForeignKeyIndex) Apply(_ Host, m Mutation) error {
	fk := m.ForeignKey
	if fk == nil {
		return nil
	}
	dep, props := fk.DeclaringEntityType(), fk.Properties()
	for _, k := range dep.Keys() {
		if startsWith(k.Properties(), props) {
			return nil
		}
	}
	for _, ix := range dep.Indexes() {
		if startsWith(ix.Properties(), props) {
			return nil
		}
	}
	_, err := dep.AddIndex(props)
	return err
}

func startsWith(props, prefix []*metadata.Property) bool {
	if len(prefix) > len(props) {
		return false
	}
	for i, p := range prefix {
		if props[i] != p {
			return false
		}
	}
	return true
}

// Required derives the required flag of a new foreign key from the
// nullability of its properties, unless it was set explicitly.
type Required struct{}

// Name implements Convention.
func (Required) Name() string { return "Required" }

// Apply implements Convention.
func (Required) Apply(_ Host, m Mutation) error {
	fk := m.ForeignKey
	if fk == nil || fk.RequiredSource == metadata.Explicit {
		return nil
	}
	required := true
	for _, p := range fk.Properties() {
		if p.IsNullable() {
			required = false
		}
	}
	if required == fk.IsRequired() {
		return nil
	}
	if err := fk.SetRequired(required); err != nil && !orbit.IsNullability(err) {
		return err
	}
	return nil
}

// ValueGeneration marks single-property primary keys of integer or UUID
// type as generated on add, unless the property is part of a foreign key.
// Properties that no longer qualify lose the flag. Store-computed
// properties are left alone.
type ValueGeneration struct{}

// Name implements Convention.
func (ValueGeneration) Name() string { return "ValueGeneration" }

// Apply implements Convention.
func (ValueGeneration) Apply(h Host, m Mutation) error {
	switch {
	case m.ForeignKey != nil:
		return generateValues(m.ForeignKey.DeclaringEntityType())
	case m.Key != nil:
		return generateValues(m.Key.DeclaringEntityType())
	case m.EntityType != nil:
		return generateValues(m.EntityType)
	}
	for _, et := range h.Model().EntityTypes() {
		if err := generateValues(et); err != nil {
			return err
		}
	}
	return nil
}

func generateValues(et *metadata.EntityType) error {
	var pk []*metadata.Property
	if k := et.PrimaryKey(); k != nil {
		pk = k.Properties()
	}
	for _, p := range et.Properties() {
		if p.ValueGenerated() == metadata.OnAddOrUpdate {
			continue
		}
		want := metadata.Never
		if len(pk) == 1 && pk[0] == p && !p.IsForeignKey() && Generatable(p.ClrType()) {
			want = metadata.OnAdd
		}
		if p.ValueGenerated() != want {
			if err := p.SetValueGenerated(want); err != nil {
				return err
			}
		}
	}
	return nil
}

// Generatable reports whether key values of type rt are generated by
// default.
func Generatable(rt reflect.Type) bool {
	rt = shape.Underlying(rt)
	if rt == reflect.TypeFor[uuid.UUID]() {
		return true
	}
	switch rt.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

// IgnoreCascade removes the entity types a removed navigation was the
// only path to.
type IgnoreCascade struct{}

// Name implements Convention.
func (IgnoreCascade) Name() string { return "IgnoreCascade" }

// Apply implements Convention.
func (IgnoreCascade) Apply(h Host, _ Mutation) error {
	return h.RemoveUnreachable()
}

// Validation checks the model before it is finalized: every entity type
// needs a primary key.
type Validation struct{}

// Name implements Convention.
func (Validation) Name() string { return "Validation" }

// Apply implements Convention.
func (Validation) Apply(h Host, _ Mutation) error {
	var errs []error
	for _, et := range h.Model().EntityTypes() {
		if et.PrimaryKey() == nil {
			errs = append(errs, orbit.NewConfigurationConflictError(et.Name(), "", "entity type has no primary key"))
		}
	}
	return orbit.NewAggregateError(errs...)
}
