package convention

import (
	"github.com/go-openapi/inflect"
	"golang.org/x/text/cases"

	"github.com/syssam/orbit/metadata"
	"github.com/syssam/orbit/metadata/shape"
)

// NameEqual compares member names the way conventions do: case-folded.
func NameEqual(a, b string) bool {
	fold := cases.Fold()
	return fold.String(a) == fold.String(b)
}

// namesType reports whether a navigation name refers to the entity type
// name, in singular or plural form.
func namesType(nav, typeName string) bool {
	return NameEqual(nav, typeName) ||
		NameEqual(inflect.Singularize(nav), typeName) ||
		NameEqual(nav, inflect.Pluralize(typeName))
}

// PropertyDiscovery adds a property for every scalar field of a new
// struct-backed entity type.
type PropertyDiscovery struct{}

// Name implements Convention.
func (PropertyDiscovery) Name() string { return "PropertyDiscovery" }

// Apply implements Convention.
func (PropertyDiscovery) Apply(h Host, m Mutation) error {
	et := m.EntityType
	if et == nil || !et.Shape().HasStruct() {
		return nil
	}
	for _, mem := range et.Shape().Members() {
		if mem.Kind != shape.Scalar || h.IsIgnored(et, mem.Name) {
			continue
		}
		if et.FindProperty(mem.Name) != nil || et.FindNavigation(mem.Name) != nil {
			continue
		}
		if _, err := h.AddProperty(et, mem.Name); err != nil {
			return err
		}
	}
	return nil
}

// KeyDiscovery makes a property named Id, or <Type>Id, the primary key of
// an entity type that has none. "Id" wins over "<Type>Id".
type KeyDiscovery struct{}

// Name implements Convention.
func (KeyDiscovery) Name() string { return "KeyDiscovery" }

// Apply implements Convention.
func (KeyDiscovery) Apply(h Host, m Mutation) error {
	et := m.EntityType
	if et == nil && m.Property != nil {
		et = m.Property.DeclaringEntityType()
	}
	if et == nil || et.PrimaryKey() != nil || h.PrimaryKeySource(et) == metadata.Explicit {
		return nil
	}
	var typed *metadata.Property
	for _, p := range et.Properties() {
		if p.IsNullable() {
			continue
		}
		if NameEqual(p.Name(), "Id") {
			return h.SetPrimaryKey(et, []*metadata.Property{p})
		}
		if typed == nil && NameEqual(p.Name(), et.Name()+"Id") {
			typed = p
		}
	}
	if typed != nil {
		return h.SetPrimaryKey(et, []*metadata.Property{typed})
	}
	return nil
}
