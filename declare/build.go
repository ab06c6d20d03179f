package declare

import (
	"fmt"
	"reflect"
	"time"

	"github.com/go-openapi/inflect"
	"github.com/google/uuid"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/metadata"
	"github.com/syssam/orbit/metadata/builder"
	"github.com/syssam/orbit/metadata/shape"
)

// propertyTypes maps declared property types to Go types.
var propertyTypes = map[string]reflect.Type{
	"int":     reflect.TypeFor[int](),
	"int32":   reflect.TypeFor[int32](),
	"int64":   reflect.TypeFor[int64](),
	"string":  reflect.TypeFor[string](),
	"bool":    reflect.TypeFor[bool](),
	"float64": reflect.TypeFor[float64](),
	"uuid":    reflect.TypeFor[uuid.UUID](),
	"time":    reflect.TypeFor[time.Time](),
	"bytes":   reflect.TypeFor[[]byte](),
}

// PropertyType returns the Go type of a declared property type.
func PropertyType(name string, nullable bool) (reflect.Type, error) {
	rt, ok := propertyTypes[name]
	if !ok {
		return nil, orbit.NewNotFoundError("property type", name)
	}
	if nullable {
		rt = shape.MakeNullable(rt)
	}
	return rt, nil
}

// Build declares every entity of doc on a new model builder and returns
// the finalized model, or every error found.
func Build(doc *Document, opts ...builder.Option) (*metadata.Model, error) {
	mb := builder.New(opts...)
	if err := Declare(mb, doc); err != nil {
		return nil, err
	}
	return mb.Build()
}

// Declare declares the entities of doc on mb. Entities and their
// properties come first so relationships can refer to any of them.
func Declare(mb *builder.ModelBuilder, doc *Document) error {
	var errs []error
	seen := make(map[string]bool, len(doc.Entities))
	for _, e := range doc.Entities {
		if e.Name == "" {
			errs = append(errs, orbit.NewConfigurationConflictError(doc.Name, "", "entity without a name"))
			continue
		}
		if seen[e.Name] {
			errs = append(errs, orbit.NewConfigurationConflictError(e.Name, "", "entity declared twice"))
			continue
		}
		seen[e.Name] = true
		errs = append(errs, declareEntity(mb, e)...)
	}
	for _, e := range doc.Entities {
		for _, r := range e.References {
			if err := declareReference(mb, e.Name, r, seen); err != nil {
				errs = append(errs, err)
			}
		}
		for _, r := range e.Collections {
			if err := declareCollection(mb, e.Name, r, seen); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for k, v := range doc.Annotations {
		if err := mb.Model().SetAnnotation(k, v); err != nil {
			errs = append(errs, err)
		}
	}
	return orbit.NewAggregateError(errs...)
}

func declareEntity(mb *builder.ModelBuilder, e Entity) []error {
	var errs []error
	eb := mb.Entity(shape.Named(e.Name))
	for _, p := range e.Properties {
		rt, err := PropertyType(p.Type, p.Nullable)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s.%s: %w", e.Name, p.Name, err))
			continue
		}
		eb.Property(p.Name, rt)
		if p.ConcurrencyToken {
			eb.ConcurrencyToken(p.Name)
		}
	}
	if len(e.Key) > 0 {
		eb.Key(e.Key...)
	}
	for _, ix := range e.Indexes {
		eb.Index(ix...)
	}
	for k, v := range e.Annotations {
		eb.Annotation(k, v)
	}
	if err := eb.Err(); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func declareReference(mb *builder.ModelBuilder, declaring string, r Relationship, known map[string]bool) error {
	target := r.Target
	if target == "" {
		target = inflect.Camelize(r.Navigation)
	}
	if !known[target] {
		return orbit.NewNotFoundError("entity type", target)
	}
	rb := mb.Entity(shape.Named(declaring)).Reference(shape.Named(target), optional(r.Navigation)...)
	if !r.OneToOne {
		b := rb.InverseCollection(optional(r.Inverse)...)
		if len(r.ForeignKey) > 0 {
			b.ForeignKey(r.ForeignKey...)
		}
		if len(r.PrincipalKey) > 0 {
			b.PrincipalKey(r.PrincipalKey...)
		}
		if r.Required != nil {
			b.Required(*r.Required)
		}
		return b.Err()
	}
	if r.Dependent != "" && len(r.ForeignKey) == 0 && len(r.PrincipalKey) == 0 {
		return orbit.NewConfigurationConflictError(declaring, r.Navigation, "dependent needs a foreign_key or principal_key")
	}
	b := rb.InverseReference(optional(r.Inverse)...)
	dependent, principal := declaring, target
	if r.Dependent == target {
		dependent, principal = target, declaring
	}
	if len(r.ForeignKey) > 0 {
		b.ForeignKey(shape.Named(dependent), r.ForeignKey...)
	}
	if len(r.PrincipalKey) > 0 {
		b.PrincipalKey(shape.Named(principal), r.PrincipalKey...)
	}
	if r.Required != nil {
		b.Required(*r.Required)
	}
	return b.Err()
}

func declareCollection(mb *builder.ModelBuilder, declaring string, r Relationship, known map[string]bool) error {
	target := r.Target
	if target == "" {
		target = inflect.Camelize(inflect.Singularize(r.Navigation))
	}
	if !known[target] {
		return orbit.NewNotFoundError("entity type", target)
	}
	b := mb.Entity(shape.Named(declaring)).
		Collection(shape.Named(target), optional(r.Navigation)...).
		InverseReference(optional(r.Inverse)...)
	if len(r.ForeignKey) > 0 {
		b.ForeignKey(r.ForeignKey...)
	}
	if len(r.PrincipalKey) > 0 {
		b.PrincipalKey(r.PrincipalKey...)
	}
	if r.Required != nil {
		b.Required(*r.Required)
	}
	return b.Err()
}

func optional(name string) []string {
	if name == "" {
		return nil
	}
	return []string{name}
}
