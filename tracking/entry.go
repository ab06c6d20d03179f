package tracking

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/metadata"
	"github.com/syssam/orbit/metadata/shape"
)

// Entry is the state entry of one entity instance: the instance, its
// entity type, its state, the original values of its properties and the
// values of its shadow properties.
type Entry struct {
	sm     *StateManager
	entity any
	rv     reflect.Value
	et     *metadata.EntityType
	state  orbit.EntityState

	shadow    []any
	original  []any
	modified  []bool
	temporary []bool

	// Relationship snapshot compared by DetectChanges: foreign key values,
	// principal key values per referencing foreign key, navigations.
	keys  map[metadata.ForeignKeyID]string
	pkeys map[metadata.ForeignKeyID]string
	refs  map[metadata.NavigationID]any
	colls map[metadata.NavigationID][]any
}

func newEntry(sm *StateManager, entity any, rv reflect.Value, et *metadata.EntityType) *Entry {
	n := len(et.Properties())
	return &Entry{
		sm:        sm,
		entity:    entity,
		rv:        rv,
		et:        et,
		shadow:    make([]any, len(et.ShadowProperties())),
		original:  make([]any, n),
		modified:  make([]bool, n),
		temporary: make([]bool, n),
	}
}

// Entity returns the tracked instance.
func (e *Entry) Entity() any { return e.entity }

// EntityType returns the entity type of the instance.
func (e *Entry) EntityType() *metadata.EntityType { return e.et }

// State returns the state of the entry.
func (e *Entry) State() orbit.EntityState { return e.state }

// SetState changes the state of the entry. See StateManager.SetState.
func (e *Entry) SetState(state orbit.EntityState) error {
	return e.sm.SetState(e, state)
}

// String implements fmt.Stringer.
func (e *Entry) String() string {
	keys := "?"
	if pk := e.et.PrimaryKey(); pk != nil {
		keys = fmt.Sprint(e.values(pk.Properties()))
	}
	return fmt.Sprintf("%s%s %s", e.et.Name(), keys, e.state)
}

// Property returns the accessor of the named property.
func (e *Entry) Property(name string) (*PropertyEntry, error) {
	p := e.et.FindProperty(name)
	if p == nil {
		return nil, orbit.NewNotFoundError("property", e.et.Name()+"."+name)
	}
	return &PropertyEntry{entry: e, prop: p}, nil
}

// Properties returns the accessors of every property, in order.
func (e *Entry) Properties() []*PropertyEntry {
	props := e.et.Properties()
	out := make([]*PropertyEntry, len(props))
	for i, p := range props {
		out[i] = &PropertyEntry{entry: e, prop: p}
	}
	return out
}

// KeyValues returns the primary key values of the instance.
func (e *Entry) KeyValues() []any {
	pk := e.et.PrimaryKey()
	if pk == nil {
		return nil
	}
	return e.values(pk.Properties())
}

// Reference returns the instance the named reference navigation points
// to, or nil.
func (e *Entry) Reference(name string) (any, error) {
	nav, err := e.navigation(name, false)
	if err != nil {
		return nil, err
	}
	return reference(e.entity, nav), nil
}

// SetReference points the named reference navigation at target, fixing
// up foreign key values and inverse navigations.
func (e *Entry) SetReference(name string, target any) error {
	nav, err := e.navigation(name, false)
	if err != nil {
		return err
	}
	if target != nil {
		if _, err := shape.Indirect(target); err != nil {
			return err
		}
		if e.sm.model.FindEntityTypeFor(reflect.TypeOf(target)) != nav.TargetEntityType() {
			return fmt.Errorf("%w: %T is not a %s", orbit.ErrInvalidEntity, target, nav.TargetEntityType())
		}
	}
	old := reference(e.entity, nav)
	setReference(e.entity, nav, target)
	if e.state.IsTracked() && old != target {
		f := e.sm.fixer
		f.touch(e)
		f.referenceChanged(e, nav, old, target)
		f.flush()
	}
	return nil
}

// Collection returns the members of the named collection navigation.
func (e *Entry) Collection(name string) ([]any, error) {
	nav, err := e.navigation(name, true)
	if err != nil {
		return nil, err
	}
	return elements(e.entity, nav), nil
}

func (e *Entry) navigation(name string, collection bool) (*metadata.Navigation, error) {
	nav := e.et.FindNavigation(name)
	if nav == nil || nav.FieldIndex() == nil {
		return nil, orbit.NewNotFoundError("navigation", e.et.Name()+"."+name)
	}
	if nav.IsCollection() != collection {
		kind := "reference"
		if nav.IsCollection() {
			kind = "collection"
		}
		return nil, orbit.NewConfigurationConflictError(e.et.Name(), name, "navigation is a "+kind)
	}
	return nav, nil
}

// value reads the current value of p, normalized.
func (e *Entry) value(p *metadata.Property) any {
	if p.IsShadow() {
		return e.shadow[p.ShadowIndex()]
	}
	return shape.Get(e.rv, p.FieldIndex())
}

func (e *Entry) values(props []*metadata.Property) []any {
	out := make([]any, len(props))
	for i, p := range props {
		out[i] = e.value(p)
	}
	return out
}

// store writes p without change tracking.
func (e *Entry) store(p *metadata.Property, v any) error {
	if p.IsShadow() {
		v = shape.Normalize(v)
		if v != nil && reflect.TypeOf(v) != shape.Underlying(p.ClrType()) {
			rv := reflect.ValueOf(v)
			if !rv.CanConvert(shape.Underlying(p.ClrType())) {
				return fmt.Errorf("orbit: cannot assign %T to %s", v, p)
			}
			v = rv.Convert(shape.Underlying(p.ClrType())).Interface()
		}
		e.shadow[p.ShadowIndex()] = v
		return nil
	}
	return shape.Set(e.rv, p.FieldIndex(), v)
}

// write stores v and marks p modified when it differs from the original
// value of an unchanged or modified entry.
func (e *Entry) write(p *metadata.Property, v any) error {
	if err := e.store(p, v); err != nil {
		return err
	}
	e.temporary[p.Ordinal()] = false
	if e.state == orbit.Unchanged || e.state == orbit.Modified {
		if !shape.Equal(e.value(p), e.original[p.Ordinal()]) {
			e.setModified(p, true)
		}
	}
	return nil
}

func (e *Entry) setModified(p *metadata.Property, on bool) {
	i := p.Ordinal()
	e.modified[i] = on
	switch {
	case on && e.state == orbit.Unchanged:
		e.state = orbit.Modified
	case !on && e.state == orbit.Modified && !e.anyModified():
		e.state = orbit.Unchanged
	}
}

func (e *Entry) anyModified() bool {
	for _, m := range e.modified {
		if m {
			return true
		}
	}
	return false
}

// acceptValues makes the current values the original values.
func (e *Entry) acceptValues() {
	for i, p := range e.et.Properties() {
		e.original[i] = e.value(p)
		e.modified[i] = false
	}
}

// markAllModified marks every property outside the primary key modified.
func (e *Entry) markAllModified() {
	for i, p := range e.et.Properties() {
		e.modified[i] = !p.IsPrimaryKey()
	}
}

// snapshotRelationships records foreign key values and navigation targets
// for the next DetectChanges.
func (e *Entry) snapshotRelationships() {
	e.keys = make(map[metadata.ForeignKeyID]string)
	e.pkeys = make(map[metadata.ForeignKeyID]string)
	e.refs = make(map[metadata.NavigationID]any)
	e.colls = make(map[metadata.NavigationID][]any)
	for _, fk := range e.et.ForeignKeys() {
		k, _ := keyOf(e.values(fk.Properties()))
		e.keys[fk.ID()] = k
	}
	for _, fk := range e.et.ReferencingForeignKeys() {
		k, _ := keyOf(e.values(fk.PrincipalKey().Properties()))
		e.pkeys[fk.ID()] = k
	}
	for _, nav := range e.et.Navigations() {
		if nav.FieldIndex() == nil {
			continue
		}
		if nav.IsCollection() {
			e.colls[nav.ID()] = elements(e.entity, nav)
		} else {
			e.refs[nav.ID()] = reference(e.entity, nav)
		}
	}
}

// PropertyEntry reads and writes one property of an entry.
type PropertyEntry struct {
	entry *Entry
	prop  *metadata.Property
}

// Metadata returns the property.
func (pe *PropertyEntry) Metadata() *metadata.Property { return pe.prop }

// CurrentValue returns the current value, with one level of pointer
// stripped.
func (pe *PropertyEntry) CurrentValue() any { return pe.entry.value(pe.prop) }

// OriginalValue returns the value the property had when the entry was
// last attached or accepted.
func (pe *PropertyEntry) OriginalValue() any { return pe.entry.original[pe.prop.Ordinal()] }

// IsModified reports whether the property is marked modified.
func (pe *PropertyEntry) IsModified() bool { return pe.entry.modified[pe.prop.Ordinal()] }

// IsTemporary reports whether the current value is a temporary generated
// value.
func (pe *PropertyEntry) IsTemporary() bool { return pe.entry.temporary[pe.prop.Ordinal()] }

// SetModified marks the property modified or not. Clearing the last
// modified property of a modified entry makes it unchanged.
func (pe *PropertyEntry) SetModified(on bool) {
	e := pe.entry
	if e.state != orbit.Unchanged && e.state != orbit.Modified {
		return
	}
	e.setModified(pe.prop, on)
}

// SetValue writes the property. Writing a foreign key property of a
// tracked entry fixes up the navigations of the relationship; writing a
// principal key property copies the new key into the dependents.
func (pe *PropertyEntry) SetValue(v any) error {
	e := pe.entry
	before := e.value(pe.prop)
	if err := e.write(pe.prop, v); err != nil {
		return err
	}
	if !e.state.IsTracked() || shape.Equal(before, e.value(pe.prop)) {
		return nil
	}
	f := e.sm.fixer
	f.touch(e)
	for _, fk := range pe.prop.ForeignKeys() {
		f.foreignKeyChanged(e, fk)
	}
	for _, fk := range e.et.ReferencingForeignKeys() {
		if slices.Contains(fk.PrincipalKey().Properties(), pe.prop) {
			f.principalKeyChanged(e, fk, e.pkeys[fk.ID()])
		}
	}
	f.flush()
	return nil
}

// keyOf renders key values as a comparable string. It fails when one of
// the values is null.
func keyOf(values []any) (string, bool) {
	var b strings.Builder
	for i, v := range values {
		if v == nil {
			return "", false
		}
		if i > 0 {
			b.WriteByte('|')
		}
		fmt.Fprintf(&b, "%T:%v", v, v)
	}
	return b.String(), len(values) > 0
}

func sameKey(a, b []any) bool {
	ka, ok := keyOf(a)
	if !ok {
		return false
	}
	kb, ok := keyOf(b)
	return ok && ka == kb
}

func reference(entity any, nav *metadata.Navigation) any {
	if nav == nil || nav.FieldIndex() == nil {
		return nil
	}
	return shape.ReferenceOf(reflect.ValueOf(entity).Elem(), nav.FieldIndex())
}

func setReference(entity any, nav *metadata.Navigation, target any) {
	if nav == nil || nav.FieldIndex() == nil {
		return
	}
	shape.SetReference(reflect.ValueOf(entity).Elem(), nav.FieldIndex(), target)
}

func elements(entity any, nav *metadata.Navigation) []any {
	if nav == nil || nav.FieldIndex() == nil {
		return nil
	}
	return shape.Elements(reflect.ValueOf(entity).Elem(), nav.FieldIndex())
}
