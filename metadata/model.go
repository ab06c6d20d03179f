// Package metadata holds the model graph: entity types with their
// properties, keys, foreign keys, navigations and indexes.
//
// The graph is an arena. Every node is addressed by a typed id and all
// cross-references between nodes are ids resolved through the owning
// Model. Removing a node clears its slot; ids are never reused, so a
// stale id resolves to nil instead of to an unrelated node.
//
// Every mutator validates before it changes anything: it either leaves the
// graph consistent or returns an error with no observable change. Once
// Finalize has been called the model is read-only and can be shared by any
// number of goroutines.
package metadata

import (
	"reflect"
	"sort"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/metadata/shape"
)

// Ids of the model nodes. The zero id never resolves.
type (
	EntityTypeID int32
	PropertyID   int32
	KeyID        int32
	ForeignKeyID int32
	NavigationID int32
	IndexID      int32
)

// arena stores nodes by id. Slot 0 is reserved.
type arena[T any] struct {
	slots []*T
}

func (a *arena[T]) add(n *T) int32 {
	if len(a.slots) == 0 {
		a.slots = append(a.slots, nil)
	}
	a.slots = append(a.slots, n)
	return int32(len(a.slots) - 1)
}

func (a *arena[T]) get(id int32) *T {
	if id <= 0 || int(id) >= len(a.slots) {
		return nil
	}
	return a.slots[id]
}

func (a *arena[T]) remove(id int32) {
	if id > 0 && int(id) < len(a.slots) {
		a.slots[id] = nil
	}
}

func (a *arena[T]) live() int {
	n := 0
	for _, s := range a.slots {
		if s != nil {
			n++
		}
	}
	return n
}

// Model is the root of the metadata graph.
type Model struct {
	annotatable
	entityTypes arena[EntityType]
	properties  arena[Property]
	keys        arena[Key]
	foreignKeys arena[ForeignKey]
	navigations arena[Navigation]
	indexes     arena[Index]
	byName      map[string]EntityTypeID
	byType      map[reflect.Type]EntityTypeID
	readOnly    bool
}

// NewModel returns an empty, mutable model.
func NewModel() *Model {
	m := &Model{
		byName: make(map[string]EntityTypeID),
		byType: make(map[reflect.Type]EntityTypeID),
	}
	m.model = m
	return m
}

// IsReadOnly reports whether Finalize was called.
func (m *Model) IsReadOnly() bool { return m.readOnly }

// Finalize makes the model read-only. It is idempotent.
func (m *Model) Finalize() { m.readOnly = true }

func (m *Model) checkMutable() error {
	if m.readOnly {
		return orbit.ErrReadOnlyModel
	}
	return nil
}

// AddEntityType adds an entity type for the given shape.
func (m *Model) AddEntityType(st shape.Type) (*EntityType, error) {
	if err := m.checkMutable(); err != nil {
		return nil, err
	}
	if st.Name() == "" {
		return nil, orbit.NewConfigurationConflictError("", "", "entity type name cannot be empty")
	}
	if _, ok := m.byName[st.Name()]; ok {
		return nil, orbit.NewConfigurationConflictError(st.Name(), "", "entity type already exists")
	}
	et := &EntityType{name: st.Name(), shape: st}
	et.model = m
	et.id = EntityTypeID(m.entityTypes.add(et))
	m.byName[et.name] = et.id
	if st.HasStruct() {
		m.byType[st.Reflect()] = et.id
	}
	return et, nil
}

// RemoveEntityType removes an entity type together with its own foreign
// keys, navigations, keys, indexes and properties. It fails while a foreign
// key of another entity type references one of its keys.
func (m *Model) RemoveEntityType(et *EntityType) error {
	if err := m.checkMutable(); err != nil {
		return err
	}
	if m.EntityTypeByID(et.id) != et {
		return orbit.NewNotFoundError("entity type", et.name)
	}
	for _, fk := range et.ReferencingForeignKeys() {
		if fk.dependent != et.id {
			return orbit.NewConfigurationConflictError(et.name, "",
				"entity type is referenced by a foreign key on "+fk.DeclaringEntityType().Name())
		}
	}
	for _, fk := range et.ForeignKeys() {
		m.dropForeignKey(fk)
	}
	for _, id := range et.navigations {
		m.navigations.remove(int32(id))
	}
	for _, id := range et.indexes {
		m.indexes.remove(int32(id))
	}
	for _, id := range et.keys {
		m.keys.remove(int32(id))
	}
	for _, id := range et.properties {
		m.properties.remove(int32(id))
	}
	m.entityTypes.remove(int32(et.id))
	delete(m.byName, et.name)
	if et.shape.HasStruct() {
		delete(m.byType, et.shape.Reflect())
	}
	return nil
}

// EntityTypeByID resolves an entity type id.
func (m *Model) EntityTypeByID(id EntityTypeID) *EntityType {
	return m.entityTypes.get(int32(id))
}

// FindEntityType returns the entity type with the given name, or nil.
func (m *Model) FindEntityType(name string) *EntityType {
	return m.EntityTypeByID(m.byName[name])
}

// FindEntityTypeFor returns the entity type mapped to the struct type rt
// (or a pointer to it), or nil.
func (m *Model) FindEntityTypeFor(rt reflect.Type) *EntityType {
	for rt != nil && rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	return m.EntityTypeByID(m.byType[rt])
}

// EntityType returns the entity type with the given name, or a not-found
// error.
func (m *Model) EntityType(name string) (*EntityType, error) {
	if et := m.FindEntityType(name); et != nil {
		return et, nil
	}
	return nil, orbit.NewNotFoundError("entity type", name)
}

// EntityTypes returns the entity types sorted by name.
func (m *Model) EntityTypes() []*EntityType {
	ets := make([]*EntityType, 0, len(m.byName))
	for _, et := range m.entityTypes.slots {
		if et != nil {
			ets = append(ets, et)
		}
	}
	sort.Slice(ets, func(i, j int) bool { return ets[i].name < ets[j].name })
	return ets
}

// ForeignKeys returns every foreign key of the model, ordered by dependent
// entity type name and then by declaration.
func (m *Model) ForeignKeys() []*ForeignKey {
	var fks []*ForeignKey
	for _, et := range m.EntityTypes() {
		fks = append(fks, et.ForeignKeys()...)
	}
	return fks
}

// Stats returns the number of live nodes per kind, for diagnostics.
func (m *Model) Stats() map[string]int {
	return map[string]int{
		"entity_types": m.entityTypes.live(),
		"properties":   m.properties.live(),
		"keys":         m.keys.live(),
		"foreign_keys": m.foreignKeys.live(),
		"navigations":  m.navigations.live(),
		"indexes":      m.indexes.live(),
	}
}

// dropForeignKey unlinks a foreign key and both of its navigations.
// Callers have validated the removal.
func (m *Model) dropForeignKey(fk *ForeignKey) {
	for _, nid := range []NavigationID{fk.toPrincipal, fk.toDependent} {
		if nav := m.navigations.get(int32(nid)); nav != nil {
			owner := m.EntityTypeByID(nav.declaring)
			owner.navigations = removeID(owner.navigations, nid)
			m.navigations.remove(int32(nid))
		}
	}
	dep := m.EntityTypeByID(fk.dependent)
	dep.foreignKeys = removeID(dep.foreignKeys, fk.id)
	if p := m.EntityTypeByID(fk.principal); p != nil {
		p.referencing = removeID(p.referencing, fk.id)
	}
	m.foreignKeys.remove(int32(fk.id))
}

func removeID[T comparable](ids []T, id T) []T {
	out := ids[:0:0]
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

func resolve[ID ~int32, T any](a *arena[T], ids []ID) []*T {
	out := make([]*T, 0, len(ids))
	for _, id := range ids {
		if n := a.get(int32(id)); n != nil {
			out = append(out, n)
		}
	}
	return out
}
