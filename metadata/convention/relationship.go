package convention

import (
	"reflect"

	"github.com/syssam/orbit/metadata"
	"github.com/syssam/orbit/metadata/shape"
)

// RelationshipDiscovery turns the navigation fields of a new struct-backed
// entity type into relationships:
//
//   - a reference with a collection inverse, or with no inverse, is the
//     dependent end of a one-to-many;
//   - a collection with a reference inverse, or with no inverse, is the
//     principal end of a one-to-many;
//   - a reference with a reference inverse is a one-to-one whose dependent
//     is the side holding a foreign key named after the other side, or else
//     the type whose name sorts last;
//   - two collections are skipped.
//
// Inverse candidates are the unconfigured navigation fields of the target
// pointing back at the type. When several exist, the one named after the
// type is taken; otherwise the relationship gets no inverse.
type RelationshipDiscovery struct{}

// Name implements Convention.
func (RelationshipDiscovery) Name() string { return "RelationshipDiscovery" }

// Apply implements Convention.
func (RelationshipDiscovery) Apply(h Host, m Mutation) error {
	et := m.EntityType
	if et == nil || !et.Shape().HasStruct() {
		return nil
	}
	for _, mem := range et.Shape().Members() {
		if mem.Kind == shape.Scalar || h.IsIgnored(et, mem.Name) {
			continue
		}
		// Discovering the target may already configure this member from
		// the other end.
		if et.FindNavigation(mem.Name) != nil || h.Model().EntityTypeByID(et.ID()) != et {
			continue
		}
		target, err := h.DiscoverEntityType(shape.FromReflect(mem.Target))
		if err != nil {
			return err
		}
		if target == nil || et.FindNavigation(mem.Name) != nil || h.Model().EntityTypeByID(et.ID()) != et {
			continue
		}
		inverse, ok := findInverse(h, et, mem, target)
		r, ok := relationshipFor(et, mem, target, inverse, ok)
		if !ok {
			continue
		}
		if err := h.Relate(r); err != nil {
			return err
		}
	}
	return nil
}

// findInverse picks the navigation field of target pointing back at et.
func findInverse(h Host, et *metadata.EntityType, mem shape.Member, target *metadata.EntityType) (shape.Member, bool) {
	if !target.Shape().HasStruct() {
		return shape.Member{}, false
	}
	var candidates []shape.Member
	for _, c := range target.Shape().Members() {
		if c.Kind == shape.Scalar || c.Target != et.ClrType() || h.IsIgnored(target, c.Name) {
			continue
		}
		if target == et && c.Name == mem.Name {
			continue
		}
		if target.FindNavigation(c.Name) != nil {
			continue
		}
		candidates = append(candidates, c)
	}
	switch len(candidates) {
	case 0:
		return shape.Member{}, false
	case 1:
		return candidates[0], true
	}
	for _, c := range candidates {
		if namesType(c.Name, et.Name()) {
			return c, true
		}
	}
	return shape.Member{}, false
}

func relationshipFor(et *metadata.EntityType, mem shape.Member, target *metadata.EntityType, inv shape.Member, hasInverse bool) (Relationship, bool) {
	switch {
	case mem.Kind == shape.Collection && hasInverse && inv.Kind == shape.Collection:
		return Relationship{}, false
	case mem.Kind == shape.Reference && (!hasInverse || inv.Kind == shape.Collection):
		r := Relationship{Principal: target, Dependent: et, ToPrincipal: mem.Name}
		if hasInverse {
			r.ToDependent = inv.Name
		}
		return r, true
	case mem.Kind == shape.Collection:
		r := Relationship{Principal: et, Dependent: target, ToDependent: mem.Name}
		if hasInverse {
			r.ToPrincipal = inv.Name
		}
		return r, true
	}
	// One-to-one.
	if HasForeignKeyFor(target, inv.Name, et) && !HasForeignKeyFor(et, mem.Name, target) {
		return Relationship{Principal: et, Dependent: target, ToPrincipal: inv.Name, ToDependent: mem.Name, Unique: true}, true
	}
	if HasForeignKeyFor(et, mem.Name, target) || et.Name() > target.Name() {
		return Relationship{Principal: target, Dependent: et, ToPrincipal: mem.Name, ToDependent: inv.Name, Unique: true}, true
	}
	return Relationship{Principal: et, Dependent: target, ToPrincipal: inv.Name, ToDependent: mem.Name, Unique: true}, true
}

// HasForeignKeyFor reports whether et has a property named <nav><Key> or
// <Principal><Key> for every primary key property of principal.
func HasForeignKeyFor(et *metadata.EntityType, nav string, principal *metadata.EntityType) bool {
	keyNames := []string{"Id"}
	var keyTypes []reflect.Type
	if pk := principal.PrimaryKey(); pk != nil {
		keyNames = metadata.Names(pk.Properties())
		for _, p := range pk.Properties() {
			keyTypes = append(keyTypes, shape.Underlying(p.ClrType()))
		}
	}
	for i, k := range keyNames {
		found := false
		for _, p := range et.Properties() {
			if !NameEqual(p.Name(), nav+k) && !NameEqual(p.Name(), principal.Name()+k) {
				continue
			}
			if keyTypes == nil || shape.Underlying(p.ClrType()) == keyTypes[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
