package metadata

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/metadata/shape"
)

// EntityType is one node-type of the model: a Go struct, or a declared
// shape, together with its properties, keys and relationships.
type EntityType struct {
	annotatable
	id    EntityTypeID
	name  string
	shape shape.Type
	// properties in ordinal order.
	properties []PropertyID
	keys       []KeyID
	primaryKey KeyID
	// foreign keys declared on this type, i.e. where it is the dependent.
	foreignKeys []ForeignKeyID
	// foreign keys whose principal key is declared on this type.
	referencing []ForeignKeyID
	navigations []NavigationID
	indexes     []IndexID
}

// =============================================================================
// Accessors
// =============================================================================

// ID returns the arena id of the entity type.
func (et *EntityType) ID() EntityTypeID { return et.id }

// Name returns the entity type name.
func (et *EntityType) Name() string { return et.name }

// Shape returns the shape handle the entity type was created from.
func (et *EntityType) Shape() shape.Type { return et.shape }

// ClrType returns the struct type behind the entity type, or nil for
// declared shapes.
func (et *EntityType) ClrType() reflect.Type { return et.shape.Reflect() }

// Model returns the owning model.
func (et *EntityType) Model() *Model { return et.model }

// String implements fmt.Stringer.
func (et *EntityType) String() string { return et.name }

// Properties returns the properties in ordinal order.
func (et *EntityType) Properties() []*Property {
	return resolve(&et.model.properties, et.properties)
}

// FindProperty returns the property with the given name, or nil.
func (et *EntityType) FindProperty(name string) *Property {
	for _, p := range et.Properties() {
		if p.name == name {
			return p
		}
	}
	return nil
}

// Property returns the property with the given name, or a not-found error.
func (et *EntityType) Property(name string) (*Property, error) {
	if p := et.FindProperty(name); p != nil {
		return p, nil
	}
	return nil, orbit.NewNotFoundError("property", et.name+"."+name)
}

// ShadowProperties returns the shadow properties in shadow-index order.
func (et *EntityType) ShadowProperties() []*Property {
	var out []*Property
	for _, p := range et.Properties() {
		if p.shadow {
			out = append(out, p)
		}
	}
	return out
}

// Keys returns the keys in declaration order.
func (et *EntityType) Keys() []*Key {
	return resolve(&et.model.keys, et.keys)
}

// PrimaryKey returns the primary key, or nil.
func (et *EntityType) PrimaryKey() *Key {
	return et.model.keys.get(int32(et.primaryKey))
}

// FindKey returns the key over exactly the given properties, in order.
func (et *EntityType) FindKey(props []*Property) *Key {
	for _, k := range et.Keys() {
		if sameProperties(k.properties, props) {
			return k
		}
	}
	return nil
}

// ForeignKeys returns the foreign keys declared on this type.
func (et *EntityType) ForeignKeys() []*ForeignKey {
	return resolve(&et.model.foreignKeys, et.foreignKeys)
}

// FindForeignKeys returns the foreign keys over exactly the given
// dependent properties, in order.
func (et *EntityType) FindForeignKeys(props []*Property) []*ForeignKey {
	var out []*ForeignKey
	for _, fk := range et.ForeignKeys() {
		if sameProperties(fk.properties, props) {
			out = append(out, fk)
		}
	}
	return out
}

// ReferencingForeignKeys returns the foreign keys whose principal key is
// declared on this type.
func (et *EntityType) ReferencingForeignKeys() []*ForeignKey {
	return resolve(&et.model.foreignKeys, et.referencing)
}

// Navigations returns the navigations declared on this type.
func (et *EntityType) Navigations() []*Navigation {
	return resolve(&et.model.navigations, et.navigations)
}

// FindNavigation returns the navigation with the given name, or nil.
func (et *EntityType) FindNavigation(name string) *Navigation {
	for _, n := range et.Navigations() {
		if n.name == name {
			return n
		}
	}
	return nil
}

// Indexes returns the indexes declared on this type.
func (et *EntityType) Indexes() []*Index {
	return resolve(&et.model.indexes, et.indexes)
}

// FindIndex returns the index over exactly the given properties.
func (et *EntityType) FindIndex(props []*Property) *Index {
	for _, ix := range et.Indexes() {
		if sameProperties(ix.properties, props) {
			return ix
		}
	}
	return nil
}

// =============================================================================
// Mutators
// =============================================================================

// AddProperty adds a property. Non-shadow properties must name a scalar
// member of the struct; typ may be nil to take the member type. Shadow
// properties need an explicit type.
func (et *EntityType) AddProperty(name string, typ reflect.Type, shadow bool) (*Property, error) {
	if err := et.model.checkMutable(); err != nil {
		return nil, err
	}
	if err := et.checkMemberName(name); err != nil {
		return nil, err
	}
	p := &Property{name: name, declaring: et.id, clrType: typ, shadow: shadow}
	p.model = et.model
	if shadow {
		if typ == nil {
			return nil, orbit.NewConfigurationConflictError(et.name, name, "shadow property needs a type")
		}
	} else {
		m, ok := et.shape.Member(name)
		if !ok || m.Kind != shape.Scalar {
			return nil, orbit.NewConfigurationConflictError(et.name, name, "no scalar struct field with this name")
		}
		if typ != nil && typ != m.Type {
			return nil, orbit.NewConfigurationConflictError(et.name, name,
				fmt.Sprintf("property type %s does not match field type %s", typ, m.Type))
		}
		p.clrType = m.Type
		p.fieldIndex = m.Index
	}
	p.nullable = shape.Nullable(p.clrType)
	p.id = PropertyID(et.model.properties.add(p))
	et.properties = append(et.properties, p.id)
	return p, nil
}

// RemoveProperty removes a property that no key, foreign key or index uses.
func (et *EntityType) RemoveProperty(p *Property) error {
	if err := et.model.checkMutable(); err != nil {
		return err
	}
	if p.declaring != et.id {
		return orbit.NewNotFoundError("property", et.name+"."+p.name)
	}
	if p.IsKey() || p.IsForeignKey() || p.IsIndexed() {
		return orbit.NewConfigurationConflictError(et.name, p.name, "property is in use by a key, foreign key or index")
	}
	et.properties = removeID(et.properties, p.id)
	et.model.properties.remove(int32(p.id))
	return nil
}

// AddKey adds an alternate key over props, in order.
func (et *EntityType) AddKey(props []*Property) (*Key, error) {
	if err := et.model.checkMutable(); err != nil {
		return nil, err
	}
	if err := et.checkOwnProperties(props); err != nil {
		return nil, err
	}
	if et.FindKey(props) != nil {
		return nil, orbit.NewConfigurationConflictError(et.name, propertyNames(props), "key already exists")
	}
	for _, p := range props {
		if !p.shadow && shape.Nullable(p.clrType) {
			return nil, orbit.NewConfigurationConflictError(et.name, p.name, "key properties cannot be nullable")
		}
	}
	for _, p := range props {
		if p.nullable {
			p.nullable = false
			p.clrType = shape.Underlying(p.clrType)
		}
	}
	k := &Key{declaring: et.id, properties: propertyIDs(props)}
	k.model = et.model
	k.id = KeyID(et.model.keys.add(k))
	et.keys = append(et.keys, k.id)
	return k, nil
}

// SetPrimaryKey makes the key over props the primary key, adding the key
// if it does not exist. The previous primary key stays as an alternate key
// and foreign keys referencing it keep doing so. It fails when one of the
// properties belongs to a foreign key on this type that references the
// primary key being replaced.
func (et *EntityType) SetPrimaryKey(props []*Property) (*Key, error) {
	if err := et.model.checkMutable(); err != nil {
		return nil, err
	}
	if err := et.checkOwnProperties(props); err != nil {
		return nil, err
	}
	if old := et.PrimaryKey(); old != nil && !sameProperties(old.properties, props) {
		for _, fk := range et.ForeignKeys() {
			if fk.principalKey != old.id {
				continue
			}
			for _, p := range props {
				if slices.Contains(fk.properties, p.id) {
					return nil, orbit.NewConfigurationConflictError(et.name, p.name,
						"property belongs to a foreign key referencing the primary key being replaced")
				}
			}
		}
	}
	k := et.FindKey(props)
	if k == nil {
		var err error
		if k, err = et.AddKey(props); err != nil {
			return nil, err
		}
	}
	et.primaryKey = k.id
	return k, nil
}

// RemoveKey removes a key no foreign key references.
func (et *EntityType) RemoveKey(k *Key) error {
	if err := et.model.checkMutable(); err != nil {
		return err
	}
	if k.declaring != et.id {
		return orbit.NewNotFoundError("key", et.name+" "+propertyNames(k.Properties()))
	}
	if refs := k.ReferencingForeignKeys(); len(refs) > 0 {
		return orbit.NewConfigurationConflictError(et.name, propertyNames(k.Properties()),
			"key is referenced by a foreign key on "+refs[0].DeclaringEntityType().Name())
	}
	if et.primaryKey == k.id {
		et.primaryKey = 0
	}
	et.keys = removeID(et.keys, k.id)
	et.model.keys.remove(int32(k.id))
	return nil
}

// AddForeignKey adds a foreign key over props referencing principalKey.
// The principal entity type is the type declaring principalKey.
func (et *EntityType) AddForeignKey(props []*Property, principalKey *Key) (*ForeignKey, error) {
	if err := et.model.checkMutable(); err != nil {
		return nil, err
	}
	if err := et.checkOwnProperties(props); err != nil {
		return nil, err
	}
	if principalKey == nil || et.model.keys.get(int32(principalKey.id)) != principalKey {
		return nil, orbit.NewNotFoundError("principal key", et.name+" "+propertyNames(props))
	}
	if err := CheckCompatible(props, principalKey.Properties(), et, principalKey.DeclaringEntityType()); err != nil {
		return nil, err
	}
	for _, fk := range et.FindForeignKeys(props) {
		if fk.principalKey == principalKey.id {
			return nil, orbit.NewConfigurationConflictError(et.name, propertyNames(props), "foreign key already exists")
		}
	}
	principal := principalKey.DeclaringEntityType()
	fk := &ForeignKey{
		dependent:    et.id,
		principal:    principal.id,
		properties:   propertyIDs(props),
		principalKey: principalKey.id,
		required:     !anyNullable(props),
	}
	fk.model = et.model
	fk.id = ForeignKeyID(et.model.foreignKeys.add(fk))
	et.foreignKeys = append(et.foreignKeys, fk.id)
	principal.referencing = append(principal.referencing, fk.id)
	return fk, nil
}

// RemoveForeignKey removes a foreign key and its navigations.
func (et *EntityType) RemoveForeignKey(fk *ForeignKey) error {
	if err := et.model.checkMutable(); err != nil {
		return err
	}
	if fk.dependent != et.id || et.model.foreignKeys.get(int32(fk.id)) != fk {
		return orbit.NewNotFoundError("foreign key", et.name+" "+propertyNames(fk.Properties()))
	}
	et.model.dropForeignKey(fk)
	return nil
}

// AddNavigation adds a navigation backed by fk. A navigation to the
// principal is declared on the dependent type and the other way round.
// For struct-backed types the navigation must name a member of the right
// kind pointing at the related struct.
func (et *EntityType) AddNavigation(name string, fk *ForeignKey, pointsToPrincipal bool) (*Navigation, error) {
	if err := et.model.checkMutable(); err != nil {
		return nil, err
	}
	if err := et.checkMemberName(name); err != nil {
		return nil, err
	}
	owner, target, slot := fk.dependent, fk.principal, &fk.toPrincipal
	if !pointsToPrincipal {
		owner, target, slot = fk.principal, fk.dependent, &fk.toDependent
	}
	if owner != et.id {
		return nil, orbit.NewConfigurationConflictError(et.name, name, "navigation must be declared on the "+endName(pointsToPrincipal)+" type")
	}
	if *slot != 0 {
		return nil, orbit.NewConfigurationConflictError(et.name, name,
			"foreign key already has navigation "+et.model.navigations.get(int32(*slot)).name)
	}
	nav := &Navigation{name: name, declaring: et.id, foreignKey: fk.id, toPrincipal: pointsToPrincipal}
	nav.model = et.model
	if et.shape.HasStruct() {
		m, ok := et.shape.Member(name)
		if !ok || m.Kind == shape.Scalar {
			return nil, orbit.NewConfigurationConflictError(et.name, name, "no navigation struct field with this name")
		}
		targetType := et.model.EntityTypeByID(target)
		if targetType.shape.HasStruct() && m.Target != targetType.ClrType() {
			return nil, orbit.NewConfigurationConflictError(et.name, name,
				fmt.Sprintf("field points to %s, not %s", m.Target.Name(), targetType.name))
		}
		collection := !pointsToPrincipal && !fk.unique
		if (m.Kind == shape.Collection) != collection {
			return nil, orbit.NewConfigurationConflictError(et.name, name,
				fmt.Sprintf("%s field cannot back a %s navigation", m.Kind, navKind(collection)))
		}
		nav.fieldIndex = m.Index
	}
	nav.id = NavigationID(et.model.navigations.add(nav))
	*slot = nav.id
	et.navigations = append(et.navigations, nav.id)
	return nav, nil
}

// RemoveNavigation removes a navigation. Its foreign key stays, and the
// inverse navigation no longer pairs with it.
func (et *EntityType) RemoveNavigation(nav *Navigation) error {
	if err := et.model.checkMutable(); err != nil {
		return err
	}
	if nav.declaring != et.id || et.model.navigations.get(int32(nav.id)) != nav {
		return orbit.NewNotFoundError("navigation", et.name+"."+nav.name)
	}
	if fk := nav.ForeignKey(); fk != nil {
		if fk.toPrincipal == nav.id {
			fk.toPrincipal = 0
		}
		if fk.toDependent == nav.id {
			fk.toDependent = 0
		}
	}
	et.navigations = removeID(et.navigations, nav.id)
	et.model.navigations.remove(int32(nav.id))
	return nil
}

// AddIndex adds a non-unique index over props.
func (et *EntityType) AddIndex(props []*Property) (*Index, error) {
	if err := et.model.checkMutable(); err != nil {
		return nil, err
	}
	if err := et.checkOwnProperties(props); err != nil {
		return nil, err
	}
	if et.FindIndex(props) != nil {
		return nil, orbit.NewConfigurationConflictError(et.name, propertyNames(props), "index already exists")
	}
	ix := &Index{declaring: et.id, properties: propertyIDs(props)}
	ix.model = et.model
	ix.id = IndexID(et.model.indexes.add(ix))
	et.indexes = append(et.indexes, ix.id)
	return ix, nil
}

// RemoveIndex removes an index.
func (et *EntityType) RemoveIndex(ix *Index) error {
	if err := et.model.checkMutable(); err != nil {
		return err
	}
	if ix.declaring != et.id {
		return orbit.NewNotFoundError("index", et.name+" "+propertyNames(ix.Properties()))
	}
	et.indexes = removeID(et.indexes, ix.id)
	et.model.indexes.remove(int32(ix.id))
	return nil
}

func (et *EntityType) checkMemberName(name string) error {
	if name == "" {
		return orbit.NewConfigurationConflictError(et.name, "", "member name cannot be empty")
	}
	if et.FindProperty(name) != nil {
		return orbit.NewConfigurationConflictError(et.name, name, "a property with this name already exists")
	}
	if et.FindNavigation(name) != nil {
		return orbit.NewConfigurationConflictError(et.name, name, "a navigation with this name already exists")
	}
	return nil
}

func (et *EntityType) checkOwnProperties(props []*Property) error {
	if len(props) == 0 {
		return orbit.NewConfigurationConflictError(et.name, "", "at least one property is required")
	}
	seen := make(map[PropertyID]bool, len(props))
	for _, p := range props {
		if p == nil || p.declaring != et.id || et.model.properties.get(int32(p.id)) != p {
			return orbit.NewConfigurationConflictError(et.name, "", "property does not belong to the entity type")
		}
		if seen[p.id] {
			return orbit.NewConfigurationConflictError(et.name, p.name, "property listed twice")
		}
		seen[p.id] = true
	}
	return nil
}

func endName(principal bool) string {
	if principal {
		return "dependent"
	}
	return "principal"
}

func navKind(collection bool) string {
	if collection {
		return "collection"
	}
	return "reference"
}
