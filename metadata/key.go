package metadata

// Key is an ordered set of properties that uniquely identifies an entity.
type Key struct {
	annotatable
	id         KeyID
	declaring  EntityTypeID
	properties []PropertyID
}

// ID returns the arena id of the key.
func (k *Key) ID() KeyID { return k.id }

// Properties returns the key properties in declaration order.
func (k *Key) Properties() []*Property {
	return resolve(&k.model.properties, k.properties)
}

// DeclaringEntityType returns the entity type owning the key.
func (k *Key) DeclaringEntityType() *EntityType {
	return k.model.EntityTypeByID(k.declaring)
}

// IsPrimaryKey reports whether k is the primary key of its entity type.
func (k *Key) IsPrimaryKey() bool {
	return k.DeclaringEntityType().primaryKey == k.id
}

// ReferencingForeignKeys returns the foreign keys using k as principal key.
func (k *Key) ReferencingForeignKeys() []*ForeignKey {
	var out []*ForeignKey
	for _, fk := range k.DeclaringEntityType().ReferencingForeignKeys() {
		if fk.principalKey == k.id {
			out = append(out, fk)
		}
	}
	return out
}

// String implements fmt.Stringer.
func (k *Key) String() string {
	return k.DeclaringEntityType().name + " " + propertyNames(k.Properties())
}

// Index is an ordered set of properties an entity type is looked up by.
type Index struct {
	annotatable
	id         IndexID
	declaring  EntityTypeID
	properties []PropertyID
	unique     bool
}

// ID returns the arena id of the index.
func (ix *Index) ID() IndexID { return ix.id }

// Properties returns the indexed properties in order.
func (ix *Index) Properties() []*Property {
	return resolve(&ix.model.properties, ix.properties)
}

// DeclaringEntityType returns the entity type owning the index.
func (ix *Index) DeclaringEntityType() *EntityType {
	return ix.model.EntityTypeByID(ix.declaring)
}

// IsUnique reports whether the index is unique.
func (ix *Index) IsUnique() bool { return ix.unique }

// SetUnique sets the uniqueness of the index.
func (ix *Index) SetUnique(unique bool) error {
	if err := ix.model.checkMutable(); err != nil {
		return err
	}
	ix.unique = unique
	return nil
}
