package metadata

import (
	"fmt"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/metadata/shape"
)

// ForeignKey relates a dependent entity type to a key of a principal
// entity type. It backs zero, one or two navigations.
type ForeignKey struct {
	annotatable
	id           ForeignKeyID
	dependent    EntityTypeID
	principal    EntityTypeID
	properties   []PropertyID
	principalKey KeyID
	unique       bool
	required     bool
	toPrincipal  NavigationID
	toDependent  NavigationID

	// Configuration sources of the relationship facets. The builder
	// consults them to decide what conventions may still change.
	Source             ConfigurationSource
	PropertiesSource   ConfigurationSource
	PrincipalKeySource ConfigurationSource
	PrincipalEndSource ConfigurationSource
	UniqueSource       ConfigurationSource
	RequiredSource     ConfigurationSource
}

// ID returns the arena id of the foreign key.
func (fk *ForeignKey) ID() ForeignKeyID { return fk.id }

// Properties returns the dependent properties, aligned with the
// properties of the principal key.
func (fk *ForeignKey) Properties() []*Property {
	return resolve(&fk.model.properties, fk.properties)
}

// PrincipalKey returns the referenced key.
func (fk *ForeignKey) PrincipalKey() *Key {
	return fk.model.keys.get(int32(fk.principalKey))
}

// DeclaringEntityType returns the dependent entity type.
func (fk *ForeignKey) DeclaringEntityType() *EntityType {
	return fk.model.EntityTypeByID(fk.dependent)
}

// PrincipalEntityType returns the principal entity type.
func (fk *ForeignKey) PrincipalEntityType() *EntityType {
	return fk.model.EntityTypeByID(fk.principal)
}

// IsUnique reports whether the relationship is one-to-one.
func (fk *ForeignKey) IsUnique() bool { return fk.unique }

// IsRequired reports whether every dependent must have a principal.
func (fk *ForeignKey) IsRequired() bool { return fk.required }

// IsSelfReferencing reports whether principal and dependent are the same type.
func (fk *ForeignKey) IsSelfReferencing() bool { return fk.principal == fk.dependent }

// DependentToPrincipal returns the navigation on the dependent, or nil.
func (fk *ForeignKey) DependentToPrincipal() *Navigation {
	return fk.model.navigations.get(int32(fk.toPrincipal))
}

// PrincipalToDependent returns the navigation on the principal, or nil.
func (fk *ForeignKey) PrincipalToDependent() *Navigation {
	return fk.model.navigations.get(int32(fk.toDependent))
}

// Navigations returns the navigations backed by the foreign key.
func (fk *ForeignKey) Navigations() []*Navigation {
	var out []*Navigation
	if n := fk.DependentToPrincipal(); n != nil {
		out = append(out, n)
	}
	if n := fk.PrincipalToDependent(); n != nil {
		out = append(out, n)
	}
	return out
}

// SetUnique changes the multiplicity of the relationship. It fails when
// the principal navigation is a struct field of the wrong kind.
func (fk *ForeignKey) SetUnique(unique bool) error {
	if err := fk.model.checkMutable(); err != nil {
		return err
	}
	if fk.unique == unique {
		return nil
	}
	if nav := fk.PrincipalToDependent(); nav != nil && nav.fieldIndex != nil {
		m, _ := nav.DeclaringEntityType().shape.Member(nav.name)
		if (m.Kind == shape.Collection) == unique {
			return orbit.NewConfigurationConflictError(nav.DeclaringEntityType().name, nav.name,
				fmt.Sprintf("%s field cannot back a %s navigation", m.Kind, navKind(!unique)))
		}
	}
	fk.unique = unique
	return nil
}

// SetRequired changes whether the relationship is required. Making a
// relationship optional fails when a dependent property cannot be null.
func (fk *ForeignKey) SetRequired(required bool) error {
	if err := fk.model.checkMutable(); err != nil {
		return err
	}
	if !required {
		var names []string
		for _, p := range fk.Properties() {
			if !p.nullable && !p.shadow {
				names = append(names, p.name)
			}
		}
		if len(names) > 0 {
			return orbit.NewNullabilityError(fk.DeclaringEntityType().name, names...)
		}
		for _, p := range fk.Properties() {
			if !p.nullable && p.IsKey() {
				return orbit.NewNullabilityError(fk.DeclaringEntityType().name, p.name)
			}
		}
		for _, p := range fk.Properties() {
			if err := p.SetNullable(true); err != nil {
				return err
			}
		}
	} else {
		for _, p := range fk.Properties() {
			if p.shadow && p.nullable {
				if err := p.SetNullable(false); err != nil {
					return err
				}
			}
		}
	}
	fk.required = required
	return nil
}

// SetPrincipalKey re-points the foreign key to another key of the same
// principal entity type.
func (fk *ForeignKey) SetPrincipalKey(k *Key) error {
	if err := fk.model.checkMutable(); err != nil {
		return err
	}
	if k.declaring != fk.principal {
		return orbit.NewConfigurationConflictError(fk.DeclaringEntityType().name, propertyNames(fk.Properties()),
			"principal key must be declared on "+fk.PrincipalEntityType().name)
	}
	if err := CheckCompatible(fk.Properties(), k.Properties(), fk.DeclaringEntityType(), k.DeclaringEntityType()); err != nil {
		return err
	}
	fk.principalKey = k.id
	return nil
}

// String implements fmt.Stringer.
func (fk *ForeignKey) String() string {
	return fmt.Sprintf("%s %s -> %s", fk.DeclaringEntityType().name,
		propertyNames(fk.Properties()), fk.PrincipalKey())
}

// CheckCompatible reports whether dependent properties can reference the
// given principal key properties: same count, and propertywise the same
// type once one level of pointer is stripped.
func CheckCompatible(props, keyProps []*Property, dependent, principal *EntityType) error {
	if len(props) != len(keyProps) {
		return orbit.NewTypeMismatchError(dependent.name, Names(props), principal.name, Names(keyProps),
			fmt.Sprintf("%d properties cannot reference a key of %d properties", len(props), len(keyProps)))
	}
	for i, p := range props {
		want := shape.Underlying(keyProps[i].clrType)
		if got := shape.Underlying(p.clrType); got != want {
			return orbit.NewTypeMismatchError(dependent.name, Names(props), principal.name, Names(keyProps),
				fmt.Sprintf("%s is %s, %s is %s", p.name, got, keyProps[i].name, want))
		}
	}
	return nil
}
