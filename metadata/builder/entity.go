package builder

import (
	"reflect"
	"slices"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/metadata"
	"github.com/syssam/orbit/metadata/convention"
	"github.com/syssam/orbit/metadata/shape"
)

// EntityTypeBuilder configures one entity type.
type EntityTypeBuilder struct {
	mb  *ModelBuilder
	et  *metadata.EntityType
	err error
}

// Metadata returns the configured entity type, or nil when the builder
// failed before the type existed.
func (b *EntityTypeBuilder) Metadata() *metadata.EntityType { return b.et }

// Err returns the first error recorded on the builder.
func (b *EntityTypeBuilder) Err() error { return b.err }

func (b *EntityTypeBuilder) fail(err error) *EntityTypeBuilder {
	if b.err == nil {
		b.err = b.mb.record(err)
	}
	return b
}

func (b *EntityTypeBuilder) ok() bool {
	if b.err != nil {
		return false
	}
	if err := b.mb.checkBuilding(); err != nil {
		b.fail(err)
		return false
	}
	if b.mb.model.EntityTypeByID(b.et.ID()) != b.et {
		b.fail(orbit.NewNotFoundError("entity type", b.et.Name()))
		return false
	}
	return true
}

// Key sets the primary key to the named properties, in order. Missing
// struct-backed properties are added.
func (b *EntityTypeBuilder) Key(names ...string) *EntityTypeBuilder {
	if !b.ok() {
		return b
	}
	props, err := b.mb.properties(b.et, names, nil)
	if err != nil {
		return b.fail(err)
	}
	if _, err := b.mb.setPrimaryKey(b.et, props, metadata.Explicit); err != nil {
		return b.fail(err)
	}
	return b
}

// Property configures the named property. A nil type takes the type of
// the struct field; names with no struct field become shadow properties
// and need a type.
func (b *EntityTypeBuilder) Property(name string, typ reflect.Type) *EntityTypeBuilder {
	if !b.ok() {
		return b
	}
	b.mb.setIgnored(b.et, name, false)
	if p := b.et.FindProperty(name); p != nil {
		if typ != nil && typ != p.ClrType() && !(p.IsShadow() && shape.MakeNullable(typ) == p.ClrType()) {
			return b.fail(orbit.NewConfigurationConflictError(b.et.Name(), name,
				"property is already configured with type "+p.ClrType().String()))
		}
		b.mb.propSources[p.ID()] = metadata.Explicit
		return b
	}
	if _, err := b.mb.addProperty(b.et, name, typ, metadata.Explicit); err != nil {
		return b.fail(err)
	}
	return b
}

// ConcurrencyToken marks the named properties as concurrency tokens.
func (b *EntityTypeBuilder) ConcurrencyToken(names ...string) *EntityTypeBuilder {
	if !b.ok() {
		return b
	}
	props, err := b.mb.properties(b.et, names, nil)
	if err != nil {
		return b.fail(err)
	}
	for _, p := range props {
		if err := p.SetConcurrencyToken(true); err != nil {
			return b.fail(err)
		}
	}
	return b
}

// Ignore removes the named property or navigation and keeps conventions
// from adding it back. Ignoring a member that was configured explicitly
// is a conflict.
func (b *EntityTypeBuilder) Ignore(name string) *EntityTypeBuilder {
	if !b.ok() {
		return b
	}
	mb, et := b.mb, b.et
	if p := et.FindProperty(name); p != nil {
		if mb.propSources[p.ID()] == metadata.Explicit {
			return b.fail(orbit.NewConfigurationConflictError(et.Name(), name, "property is configured explicitly and cannot be ignored"))
		}
		if p.IsKey() || p.IsForeignKey() {
			return b.fail(orbit.NewConfigurationConflictError(et.Name(), name, "property is part of a key or foreign key and cannot be ignored"))
		}
		for _, ix := range et.Indexes() {
			if !slices.Contains(ix.Properties(), p) {
				continue
			}
			if mb.indexSources[ix.ID()] == metadata.Explicit {
				return b.fail(orbit.NewConfigurationConflictError(et.Name(), name, "property is part of an explicit index and cannot be ignored"))
			}
			if err := et.RemoveIndex(ix); err != nil {
				return b.fail(err)
			}
		}
		if err := et.RemoveProperty(p); err != nil {
			return b.fail(err)
		}
		delete(mb.propSources, p.ID())
	}
	mb.setIgnored(et, name, true)
	if nav := et.FindNavigation(name); nav != nil {
		fk := nav.ForeignKey()
		if fk.Source == metadata.Explicit {
			mb.setIgnored(et, name, false)
			return b.fail(orbit.NewConfigurationConflictError(et.Name(), name, "navigation is configured explicitly and cannot be ignored"))
		}
		if err := et.RemoveNavigation(nav); err != nil {
			return b.fail(err)
		}
		if len(fk.Navigations()) == 0 && fk.Source != metadata.Explicit {
			if err := mb.removeForeignKey(fk); err != nil {
				return b.fail(err)
			}
		}
		if err := mb.dispatch(convention.Mutation{Event: convention.NavigationRemoved, EntityType: et, NavigationName: name}); err != nil {
			return b.fail(err)
		}
	}
	return b
}

// Index adds an index over the named properties, in order.
func (b *EntityTypeBuilder) Index(names ...string) *EntityTypeBuilder {
	if !b.ok() {
		return b
	}
	props, err := b.mb.properties(b.et, names, nil)
	if err != nil {
		return b.fail(err)
	}
	ix := b.et.FindIndex(props)
	if ix == nil {
		if ix, err = b.et.AddIndex(props); err != nil {
			return b.fail(err)
		}
	}
	b.mb.indexSources[ix.ID()] = metadata.Explicit
	return b
}

// Annotation stores an annotation on the entity type.
func (b *EntityTypeBuilder) Annotation(key string, value any) *EntityTypeBuilder {
	if !b.ok() {
		return b
	}
	if err := b.et.SetAnnotation(key, value); err != nil {
		return b.fail(err)
	}
	return b
}

// Reference starts configuring a relationship where this entity type
// points to one instance of related, through the optional navigation nav.
func (b *EntityTypeBuilder) Reference(related shape.Type, nav ...string) *ReferenceBuilder {
	rb := &ReferenceBuilder{mb: b.mb, declaring: b.et}
	rb.related, rb.nav, rb.err = b.related(related, nav)
	return rb
}

// Collection starts configuring a relationship where this entity type
// holds many instances of related, through the optional navigation nav.
func (b *EntityTypeBuilder) Collection(related shape.Type, nav ...string) *CollectionBuilder {
	cb := &CollectionBuilder{mb: b.mb, declaring: b.et}
	cb.related, cb.nav, cb.err = b.related(related, nav)
	return cb
}

func (b *EntityTypeBuilder) related(st shape.Type, nav []string) (*metadata.EntityType, string, error) {
	if !b.ok() {
		return nil, "", b.err
	}
	name, err := navigationName(b.et, nav)
	if err != nil {
		return nil, "", b.mb.record(err)
	}
	et, err := b.mb.entity(st, metadata.Explicit)
	if err != nil {
		return nil, "", b.mb.record(err)
	}
	return et, name, nil
}

func navigationName(et *metadata.EntityType, nav []string) (string, error) {
	switch len(nav) {
	case 0:
		return "", nil
	case 1:
		return nav[0], nil
	}
	return "", orbit.NewConfigurationConflictError(et.Name(), nav[1], "at most one navigation name can be given")
}

// properties resolves names to properties of et. Missing struct fields
// are added as explicit properties. Missing names on shapes without such
// a field become shadow properties of the matching type in like, when
// given; otherwise they are not found.
func (mb *ModelBuilder) properties(et *metadata.EntityType, names []string, like []*metadata.Property) ([]*metadata.Property, error) {
	if len(names) == 0 {
		return nil, orbit.NewConfigurationConflictError(et.Name(), "", "at least one property name is required")
	}
	props := make([]*metadata.Property, len(names))
	for i, name := range names {
		if p := et.FindProperty(name); p != nil {
			props[i] = p
			continue
		}
		var typ reflect.Type
		if m, ok := et.Shape().Member(name); !ok || m.Kind != shape.Scalar {
			if len(like) != len(names) {
				return nil, orbit.NewNotFoundError("property", et.Name()+"."+name)
			}
			typ = shape.MakeNullable(shape.Underlying(like[i].ClrType()))
		}
		mb.setIgnored(et, name, false)
		p, err := mb.addProperty(et, name, typ, metadata.Explicit)
		if err != nil {
			return nil, err
		}
		props[i] = p
	}
	return props, nil
}
