package builder

import "github.com/syssam/orbit/metadata/shape"

// Entity returns the builder of the entity type for struct T.
func Entity[T any](mb *ModelBuilder) *EntityTypeBuilder {
	return mb.Entity(shape.Of[T]())
}

// Ignore keeps struct T out of the model.
func Ignore[T any](mb *ModelBuilder) *ModelBuilder {
	return mb.Ignore(shape.Of[T]())
}

// Reference starts a relationship from b to one T.
func Reference[T any](b *EntityTypeBuilder, nav ...string) *ReferenceBuilder {
	return b.Reference(shape.Of[T](), nav...)
}

// Collection starts a relationship from b to many T.
func Collection[T any](b *EntityTypeBuilder, nav ...string) *CollectionBuilder {
	return b.Collection(shape.Of[T](), nav...)
}

// ForeignKey pins T as the dependent side of a one-to-one relationship.
func ForeignKey[T any](b *OneToOneBuilder, names ...string) *OneToOneBuilder {
	return b.ForeignKey(shape.Of[T](), names...)
}

// PrincipalKey pins T as the principal side of a one-to-one relationship.
func PrincipalKey[T any](b *OneToOneBuilder, names ...string) *OneToOneBuilder {
	return b.PrincipalKey(shape.Of[T](), names...)
}
