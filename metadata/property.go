package metadata

import (
	"reflect"
	"slices"
	"strings"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/metadata/shape"
)

// Property is a scalar value of an entity type.
type Property struct {
	annotatable
	id        PropertyID
	declaring EntityTypeID
	name      string
	clrType   reflect.Type
	nullable  bool
	shadow    bool
	// fieldIndex of the struct field; nil for shadow properties.
	fieldIndex       []int
	valueGenerated   ValueGenerated
	concurrencyToken bool
}

// ID returns the arena id of the property.
func (p *Property) ID() PropertyID { return p.id }

// Name returns the property name.
func (p *Property) Name() string { return p.name }

// ClrType returns the Go type of the property values.
func (p *Property) ClrType() reflect.Type { return p.clrType }

// IsNullable reports whether the property accepts nil.
func (p *Property) IsNullable() bool { return p.nullable }

// IsShadow reports whether the property has no struct field.
func (p *Property) IsShadow() bool { return p.shadow }

// FieldIndex returns the struct field index of non-shadow properties.
func (p *Property) FieldIndex() []int { return p.fieldIndex }

// ValueGenerated returns the value generation strategy.
func (p *Property) ValueGenerated() ValueGenerated { return p.valueGenerated }

// IsConcurrencyToken reports whether the property takes part in
// optimistic concurrency checks.
func (p *Property) IsConcurrencyToken() bool { return p.concurrencyToken }

// IsStoreComputed reports whether the store computes the value on every write.
func (p *Property) IsStoreComputed() bool { return p.valueGenerated == OnAddOrUpdate }

// DeclaringEntityType returns the owning entity type.
func (p *Property) DeclaringEntityType() *EntityType {
	return p.model.EntityTypeByID(p.declaring)
}

// Ordinal returns the position of the property in its entity type.
func (p *Property) Ordinal() int {
	return slices.Index(p.DeclaringEntityType().properties, p.id)
}

// ShadowIndex returns the slot of a shadow property in shadow storage,
// or -1 for properties backed by a struct field.
func (p *Property) ShadowIndex() int {
	if !p.shadow {
		return -1
	}
	i := 0
	for _, o := range p.DeclaringEntityType().Properties() {
		if o.id == p.id {
			return i
		}
		if o.shadow {
			i++
		}
	}
	return -1
}

// IsKey reports whether the property is part of a key.
func (p *Property) IsKey() bool {
	return len(p.Keys()) > 0
}

// IsPrimaryKey reports whether the property is part of the primary key.
func (p *Property) IsPrimaryKey() bool {
	pk := p.DeclaringEntityType().PrimaryKey()
	return pk != nil && slices.Contains(pk.properties, p.id)
}

// Keys returns the keys containing the property.
func (p *Property) Keys() []*Key {
	var out []*Key
	for _, k := range p.DeclaringEntityType().Keys() {
		if slices.Contains(k.properties, p.id) {
			out = append(out, k)
		}
	}
	return out
}

// IsForeignKey reports whether the property is part of a foreign key.
func (p *Property) IsForeignKey() bool {
	return len(p.ForeignKeys()) > 0
}

// ForeignKeys returns the foreign keys containing the property.
func (p *Property) ForeignKeys() []*ForeignKey {
	var out []*ForeignKey
	for _, fk := range p.DeclaringEntityType().ForeignKeys() {
		if slices.Contains(fk.properties, p.id) {
			out = append(out, fk)
		}
	}
	return out
}

// IsIndexed reports whether the property is part of an index.
func (p *Property) IsIndexed() bool {
	for _, ix := range p.DeclaringEntityType().Indexes() {
		if slices.Contains(ix.properties, p.id) {
			return true
		}
	}
	return false
}

// SetNullable changes the nullability of the property. Struct-backed
// properties take their nullability from the field type; shadow properties
// switch between the value type and a pointer to it.
func (p *Property) SetNullable(nullable bool) error {
	if err := p.model.checkMutable(); err != nil {
		return err
	}
	if p.nullable == nullable {
		return nil
	}
	et := p.DeclaringEntityType()
	if nullable && p.IsKey() {
		return orbit.NewConfigurationConflictError(et.name, p.name, "key properties cannot be nullable")
	}
	if !p.shadow {
		if nullable != shape.Nullable(p.clrType) {
			return orbit.NewConfigurationConflictError(et.name, p.name,
				"nullability of a struct field is fixed by its type "+p.clrType.String())
		}
		p.nullable = nullable
		return nil
	}
	if nullable {
		p.clrType = shape.MakeNullable(p.clrType)
	} else if p.clrType.Kind() == reflect.Pointer {
		p.clrType = p.clrType.Elem()
	}
	p.nullable = nullable
	return nil
}

// SetValueGenerated sets the value generation strategy.
func (p *Property) SetValueGenerated(v ValueGenerated) error {
	if err := p.model.checkMutable(); err != nil {
		return err
	}
	p.valueGenerated = v
	return nil
}

// SetConcurrencyToken marks the property as a concurrency token.
func (p *Property) SetConcurrencyToken(on bool) error {
	if err := p.model.checkMutable(); err != nil {
		return err
	}
	p.concurrencyToken = on
	return nil
}

// String implements fmt.Stringer.
func (p *Property) String() string {
	return p.DeclaringEntityType().name + "." + p.name
}

func propertyIDs(props []*Property) []PropertyID {
	ids := make([]PropertyID, len(props))
	for i, p := range props {
		ids[i] = p.id
	}
	return ids
}

func sameProperties(ids []PropertyID, props []*Property) bool {
	if len(ids) != len(props) {
		return false
	}
	for i, p := range props {
		if p == nil || ids[i] != p.id {
			return false
		}
	}
	return true
}

func anyNullable(props []*Property) bool {
	for _, p := range props {
		if p.nullable {
			return true
		}
	}
	return false
}

func propertyNames(props []*Property) string {
	return "{" + strings.Join(Names(props), ", ") + "}"
}

// Names returns the names of props, in order.
func Names(props []*Property) []string {
	names := make([]string, len(props))
	for i, p := range props {
		names[i] = p.name
	}
	return names
}
