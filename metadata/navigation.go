package metadata

// Navigation is a named member of an entity type that points to the
// related entity (or entities) of a foreign key.
type Navigation struct {
	annotatable
	id          NavigationID
	name        string
	declaring   EntityTypeID
	foreignKey  ForeignKeyID
	toPrincipal bool
	fieldIndex  []int
}

// ID returns the arena id of the navigation.
func (n *Navigation) ID() NavigationID { return n.id }

// Name returns the navigation name.
func (n *Navigation) Name() string { return n.name }

// FieldIndex returns the struct field index, or nil for declared shapes.
func (n *Navigation) FieldIndex() []int { return n.fieldIndex }

// DeclaringEntityType returns the entity type owning the navigation.
func (n *Navigation) DeclaringEntityType() *EntityType {
	return n.model.EntityTypeByID(n.declaring)
}

// ForeignKey returns the foreign key backing the navigation.
func (n *Navigation) ForeignKey() *ForeignKey {
	return n.model.foreignKeys.get(int32(n.foreignKey))
}

// PointsToPrincipal reports whether the navigation is declared on the
// dependent and points to the principal.
func (n *Navigation) PointsToPrincipal() bool { return n.toPrincipal }

// IsCollection reports whether the navigation holds many entities.
func (n *Navigation) IsCollection() bool {
	return !n.toPrincipal && !n.ForeignKey().unique
}

// TargetEntityType returns the entity type the navigation points to.
func (n *Navigation) TargetEntityType() *EntityType {
	fk := n.ForeignKey()
	if n.toPrincipal {
		return fk.PrincipalEntityType()
	}
	return fk.DeclaringEntityType()
}

// Inverse returns the navigation on the other end of the foreign key, or nil.
func (n *Navigation) Inverse() *Navigation {
	fk := n.ForeignKey()
	if n.toPrincipal {
		return fk.PrincipalToDependent()
	}
	return fk.DependentToPrincipal()
}

// String implements fmt.Stringer.
func (n *Navigation) String() string {
	return n.DeclaringEntityType().name + "." + n.name
}
