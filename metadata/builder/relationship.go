package builder

import (
	"github.com/syssam/orbit"
	"github.com/syssam/orbit/metadata"
	"github.com/syssam/orbit/metadata/convention"
	"github.com/syssam/orbit/metadata/shape"
)

// ReferenceBuilder is the first half of a relationship declared from the
// side holding a single reference.
type ReferenceBuilder struct {
	mb        *ModelBuilder
	declaring *metadata.EntityType
	related   *metadata.EntityType
	nav       string
	err       error
}

// Err returns the error recorded on the builder.
func (b *ReferenceBuilder) Err() error { return b.err }

// InverseCollection completes a many-to-one relationship: the declaring
// type is the dependent and related holds a collection of it.
func (b *ReferenceBuilder) InverseCollection(nav ...string) *ManyToOneBuilder {
	r := &ManyToOneBuilder{relationshipBuilder{mb: b.mb, err: b.err}}
	if r.err != nil {
		return r
	}
	inv, err := navigationName(b.related, nav)
	if err != nil {
		r.err = b.mb.record(err)
		return r
	}
	r.init(relRequest{
		principal:   b.related,
		dependent:   b.declaring,
		toPrincipal: b.nav,
		toDependent: inv,
		endSource:   metadata.Explicit,
	})
	return r
}

// InverseReference completes a one-to-one relationship. Until one side is
// picked with ForeignKey or PrincipalKey, the side holding a foreign key
// named after the other is the dependent, or else the declaring type.
func (b *ReferenceBuilder) InverseReference(nav ...string) *OneToOneBuilder {
	r := &OneToOneBuilder{relationshipBuilder{mb: b.mb, err: b.err}}
	if r.err != nil {
		return r
	}
	inv, err := navigationName(b.related, nav)
	if err != nil {
		r.err = b.mb.record(err)
		return r
	}
	req := relRequest{
		principal:   b.related,
		dependent:   b.declaring,
		toPrincipal: b.nav,
		toDependent: inv,
		unique:      true,
		endSource:   metadata.Convention,
	}
	if fk := b.mb.findByNavigation(req); fk != nil && fk.DeclaringEntityType() == b.related && fk.DeclaringEntityType() != b.declaring {
		req = req.flipped()
	} else if fk == nil && convention.HasForeignKeyFor(b.related, inv, b.declaring) && !convention.HasForeignKeyFor(b.declaring, b.nav, b.related) {
		req = req.flipped()
	}
	r.init(req)
	return r
}

// CollectionBuilder is the first half of a relationship declared from the
// side holding a collection.
type CollectionBuilder struct {
	mb        *ModelBuilder
	declaring *metadata.EntityType
	related   *metadata.EntityType
	nav       string
	err       error
}

// Err returns the error recorded on the builder.
func (b *CollectionBuilder) Err() error { return b.err }

// InverseReference completes a one-to-many relationship: the declaring
// type is the principal and related the dependent.
func (b *CollectionBuilder) InverseReference(nav ...string) *OneToManyBuilder {
	r := &OneToManyBuilder{relationshipBuilder{mb: b.mb, err: b.err}}
	if r.err != nil {
		return r
	}
	inv, err := navigationName(b.related, nav)
	if err != nil {
		r.err = b.mb.record(err)
		return r
	}
	r.init(relRequest{
		principal:   b.declaring,
		dependent:   b.related,
		toPrincipal: inv,
		toDependent: b.nav,
		endSource:   metadata.Explicit,
	})
	return r
}

// relationshipBuilder holds the request a relationship was configured
// with, so every call re-applies it with one more facet set.
type relationshipBuilder struct {
	mb  *ModelBuilder
	req relRequest
	fk  *metadata.ForeignKey
	err error
}

func (r *relationshipBuilder) init(req relRequest) {
	req.source = metadata.Explicit
	req.uniqueSource = metadata.Explicit
	r.req = req
	r.apply(req)
}

func (r *relationshipBuilder) apply(req relRequest) {
	if r.err != nil {
		return
	}
	if err := r.mb.checkBuilding(); err != nil {
		r.err = r.mb.record(err)
		return
	}
	req.existing = r.fk
	fk, err := r.mb.relate(req)
	if err != nil {
		r.err = r.mb.record(err)
		return
	}
	r.req, r.fk = req, fk
}

func (r *relationshipBuilder) foreignKey(names []string) {
	if r.err != nil {
		return
	}
	like := r.principalKeyLike()
	props, err := r.mb.properties(r.req.dependent, names, like)
	if err != nil {
		r.err = r.mb.record(err)
		return
	}
	req := r.req
	req.props = props
	r.apply(req)
}

// principalKeyLike returns the properties new shadow foreign key
// properties are typed after.
func (r *relationshipBuilder) principalKeyLike() []*metadata.Property {
	if r.req.principalKey != nil {
		return r.req.principalKey
	}
	if r.fk != nil {
		return r.fk.PrincipalKey().Properties()
	}
	if pk := r.req.principal.PrimaryKey(); pk != nil {
		return pk.Properties()
	}
	return nil
}

func (r *relationshipBuilder) principalKey(names []string) {
	if r.err != nil {
		return
	}
	props, err := r.mb.properties(r.req.principal, names, nil)
	if err != nil {
		r.err = r.mb.record(err)
		return
	}
	req := r.req
	req.principalKey = props
	r.apply(req)
}

func (r *relationshipBuilder) required(required bool) {
	if r.err != nil {
		return
	}
	req := r.req
	req.required = &required
	r.apply(req)
}

func (r *relationshipBuilder) annotation(key string, value any) {
	if r.err != nil {
		return
	}
	if err := r.fk.SetAnnotation(key, value); err != nil {
		r.err = r.mb.record(err)
	}
}

// Metadata returns the configured foreign key.
func (r *relationshipBuilder) Metadata() *metadata.ForeignKey { return r.fk }

// Err returns the first error recorded on the builder.
func (r *relationshipBuilder) Err() error { return r.err }

// OneToManyBuilder configures a relationship declared from its principal.
type OneToManyBuilder struct{ relationshipBuilder }

// ForeignKey uses the named dependent properties as the foreign key.
func (b *OneToManyBuilder) ForeignKey(names ...string) *OneToManyBuilder {
	b.foreignKey(names)
	return b
}

// PrincipalKey makes the foreign key reference the named principal
// properties instead of the primary key.
func (b *OneToManyBuilder) PrincipalKey(names ...string) *OneToManyBuilder {
	b.principalKey(names)
	return b
}

// Required sets whether every dependent must have a principal.
func (b *OneToManyBuilder) Required(required bool) *OneToManyBuilder {
	b.required(required)
	return b
}

// Annotation stores an annotation on the foreign key.
func (b *OneToManyBuilder) Annotation(key string, value any) *OneToManyBuilder {
	b.annotation(key, value)
	return b
}

// ManyToOneBuilder configures a relationship declared from its dependent.
type ManyToOneBuilder struct{ relationshipBuilder }

// ForeignKey uses the named dependent properties as the foreign key.
func (b *ManyToOneBuilder) ForeignKey(names ...string) *ManyToOneBuilder {
	b.foreignKey(names)
	return b
}

// PrincipalKey makes the foreign key reference the named principal
// properties instead of the primary key.
func (b *ManyToOneBuilder) PrincipalKey(names ...string) *ManyToOneBuilder {
	b.principalKey(names)
	return b
}

// Required sets whether every dependent must have a principal.
func (b *ManyToOneBuilder) Required(required bool) *ManyToOneBuilder {
	b.required(required)
	return b
}

// Annotation stores an annotation on the foreign key.
func (b *ManyToOneBuilder) Annotation(key string, value any) *ManyToOneBuilder {
	b.annotation(key, value)
	return b
}

// OneToOneBuilder configures a one-to-one relationship. ForeignKey and
// PrincipalKey name the side they apply to, which pins the direction.
type OneToOneBuilder struct{ relationshipBuilder }

// ForeignKey makes dependent the dependent side and uses the named
// properties as the foreign key.
func (b *OneToOneBuilder) ForeignKey(dependent shape.Type, names ...string) *OneToOneBuilder {
	if !b.pin(dependent, true) {
		return b
	}
	b.foreignKey(names)
	return b
}

// PrincipalKey makes principal the principal side and makes the foreign
// key reference the named properties.
func (b *OneToOneBuilder) PrincipalKey(principal shape.Type, names ...string) *OneToOneBuilder {
	if !b.pin(principal, false) {
		return b
	}
	b.principalKey(names)
	return b
}

// Required sets whether every dependent must have a principal.
func (b *OneToOneBuilder) Required(required bool) *OneToOneBuilder {
	b.required(required)
	return b
}

// Annotation stores an annotation on the foreign key.
func (b *OneToOneBuilder) Annotation(key string, value any) *OneToOneBuilder {
	b.annotation(key, value)
	return b
}

// pin makes st the dependent (or the principal) side. Pinning the other
// direction after an explicit pin is a conflict.
func (b *OneToOneBuilder) pin(st shape.Type, dependent bool) bool {
	if b.err != nil {
		return false
	}
	req := b.req
	side := req.principal
	if dependent {
		side = req.dependent
	}
	other := req.principal
	if side == req.principal {
		other = req.dependent
	}
	switch st.Name() {
	case side.Name():
	case other.Name():
		req = req.flipped()
	default:
		b.err = b.mb.record(orbit.NewConfigurationConflictError(st.Name(), "",
			"type is not an end of the relationship between "+req.principal.Name()+" and "+req.dependent.Name()))
		return false
	}
	req.endSource = metadata.Explicit
	b.apply(req)
	return b.err == nil
}
