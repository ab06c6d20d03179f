package tracking

import (
	"reflect"
	"slices"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/metadata"
	"github.com/syssam/orbit/metadata/shape"
)

// fixer keeps foreign key values and navigations of tracked entries
// consistent. Writes it makes to tracked entries mark properties
// modified but do not trigger further fixup; touched entries get a fresh
// relationship snapshot when the operation ends.
type fixer struct {
	sm      *StateManager
	touched []*Entry
}

func (f *fixer) touch(e *Entry) {
	if e != nil && !slices.Contains(f.touched, e) {
		f.touched = append(f.touched, e)
	}
}

func (f *fixer) touchEntity(entity any) {
	f.touch(f.sm.tracked(entity))
}

func (f *fixer) flush() {
	for _, e := range f.touched {
		if e.state.IsTracked() {
			e.snapshotRelationships()
		}
	}
	f.touched = f.touched[:0]
}

// tracked fixes up the relationships of a newly tracked entry, on both
// its dependent and its principal side.
func (f *fixer) tracked(e *Entry) {
	f.touch(e)
	for _, fk := range e.et.ForeignKeys() {
		f.dependentTracked(e, fk)
	}
	for _, fk := range e.et.ReferencingForeignKeys() {
		f.principalTracked(e, fk)
	}
	f.flush()
}

// dependentTracked resolves the principal of d for fk. A tracked
// principal the navigation points to wins over one found by foreign key
// value, which in turn wins over an untracked navigation target.
func (f *fixer) dependentTracked(d *Entry, fk *metadata.ForeignKey) {
	toP, toD := fk.DependentToPrincipal(), fk.PrincipalToDependent()
	values := d.values(fk.Properties())
	t := f.findPrincipal(fk, values)
	n := reference(d.entity, toP)
	switch ne := f.sm.tracked(n); {
	case n == nil:
		if t == nil {
			return
		}
		f.setReference(d.entity, toP, t.entity)
		f.addToInverse(t.entity, toD, d.entity)
	case ne != nil:
		f.writeKey(d.entity, fk, ne.values(fk.PrincipalKey().Properties()))
		f.addToInverse(n, toD, d.entity)
		if t != nil && t != ne {
			f.removeFromInverse(t.entity, toD, d.entity)
			f.sm.logger.Warn("navigation and foreign key disagree",
				"entity_type", d.et.Name(),
				"foreign_key", fk.String(),
				"principal", ne.String(),
			)
		}
	case t != nil:
		f.setReference(d.entity, toP, t.entity)
		f.addToInverse(t.entity, toD, d.entity)
		f.removeFromInverse(n, toD, d.entity)
	default:
		// The navigation points at an untracked principal: keep the
		// foreign key until the principal is tracked.
		if !sameKey(f.values(n, fk.PrincipalKey().Properties()), values) {
			f.markPending(d)
			f.sm.logger.Debug("fixup deferred",
				"entity_type", d.et.Name(),
				"foreign_key", fk.String(),
			)
		}
		f.addToInverse(n, toD, d.entity)
	}
}

// principalTracked connects p with its dependents for fk: those reachable
// from its navigation and tracked ones whose foreign key matches its key.
func (f *fixer) principalTracked(p *Entry, fk *metadata.ForeignKey) {
	toP, toD := fk.DependentToPrincipal(), fk.PrincipalToDependent()
	key := p.values(fk.PrincipalKey().Properties())
	for _, d := range f.dependents(p.entity, toD) {
		if de := f.sm.tracked(d); de != nil {
			t := f.findPrincipal(fk, de.values(fk.Properties()))
			if t != nil && t != p {
				f.removeFromInverse(p.entity, toD, d)
				continue
			}
		}
		f.writeKey(d, fk, key)
		f.setReference(d, toP, p.entity)
	}
	want, ok := keyOf(key)
	if !ok {
		return
	}
	for _, de := range slices.Clone(f.sm.order) {
		if de.et != fk.DeclaringEntityType() || !de.state.IsTracked() {
			continue
		}
		if k, ok := keyOf(de.values(fk.Properties())); !ok || k != want {
			continue
		}
		if n := reference(de.entity, toP); n != nil && n != p.entity {
			continue
		}
		f.setReference(de.entity, toP, p.entity)
		f.addToInverse(p.entity, toD, de.entity)
	}
}

// detect compares e with its relationship snapshot and fixes up what the
// application changed. It reports whether anything changed.
func (f *fixer) detect(e *Entry) bool {
	if e.keys == nil {
		e.snapshotRelationships()
		return false
	}
	changed := false
	f.touch(e)
	for _, fk := range e.et.ForeignKeys() {
		k, _ := keyOf(e.values(fk.Properties()))
		if k != e.keys[fk.ID()] {
			f.foreignKeyChanged(e, fk)
			changed = true
		}
	}
	for _, fk := range e.et.ReferencingForeignKeys() {
		k, _ := keyOf(e.values(fk.PrincipalKey().Properties()))
		if old := e.pkeys[fk.ID()]; k != old {
			f.principalKeyChanged(e, fk, old)
			changed = true
		}
	}
	for _, nav := range e.et.Navigations() {
		if nav.FieldIndex() == nil {
			continue
		}
		if nav.IsCollection() {
			cur, old := elements(e.entity, nav), e.colls[nav.ID()]
			added := difference(cur, old)
			removed := difference(old, cur)
			if len(added) > 0 || len(removed) > 0 {
				f.collectionChanged(e, nav, added, removed)
				changed = true
			}
			continue
		}
		cur, old := reference(e.entity, nav), e.refs[nav.ID()]
		if cur != old {
			f.referenceChanged(e, nav, old, cur)
			changed = true
		}
	}
	f.flush()
	return changed
}

// foreignKeyChanged points the navigations of d at the principal its new
// foreign key value identifies.
func (f *fixer) foreignKeyChanged(d *Entry, fk *metadata.ForeignKey) {
	toP, toD := fk.DependentToPrincipal(), fk.PrincipalToDependent()
	values := d.values(fk.Properties())
	t := f.findPrincipal(fk, values)
	if old := reference(d.entity, toP); old != nil && (t == nil || old != t.entity) {
		if f.sm.tracked(old) != nil || !sameKey(f.values(old, fk.PrincipalKey().Properties()), values) {
			f.removeFromInverse(old, toD, d.entity)
			f.setReference(d.entity, toP, nil)
		}
	}
	if t == nil {
		return
	}
	f.setReference(d.entity, toP, t.entity)
	f.addToInverse(t.entity, toD, d.entity)
}

// principalKeyChanged copies the key of p for fk into its dependents:
// those its navigation reaches, tracked ones pointing at it, and tracked
// ones without a navigation target still holding the old key.
func (f *fixer) principalKeyChanged(p *Entry, fk *metadata.ForeignKey, old string) {
	toP, toD := fk.DependentToPrincipal(), fk.PrincipalToDependent()
	var deps []any
	for _, d := range f.dependents(p.entity, toD) {
		if n := reference(d, toP); n == nil || n == p.entity {
			deps = append(deps, d)
		}
	}
	for _, de := range f.sm.order {
		if de.et != fk.DeclaringEntityType() || !de.state.IsTracked() || slices.Contains(deps, de.entity) {
			continue
		}
		switch n := reference(de.entity, toP); {
		case n == p.entity:
		case n != nil || old == "":
			continue
		default:
			if k, ok := keyOf(de.values(fk.Properties())); !ok || k != old {
				continue
			}
		}
		deps = append(deps, de.entity)
	}
	key := p.values(fk.PrincipalKey().Properties())
	_, ok := keyOf(key)
	for _, d := range deps {
		if ok {
			f.writeKey(d, fk, key)
		} else {
			f.nullKey(d, fk)
		}
		f.setReference(d, toP, p.entity)
		f.addToInverse(p.entity, toD, d)
	}
	if len(deps) > 0 {
		f.sm.logger.Debug("principal key changed",
			"entity_type", p.et.Name(),
			"foreign_key", fk.String(),
			"dependents", len(deps),
		)
	}
}

// referenceChanged handles a reference navigation of e moving from old
// to cur.
func (f *fixer) referenceChanged(e *Entry, nav *metadata.Navigation, old, cur any) {
	fk := nav.ForeignKey()
	toP, toD := fk.DependentToPrincipal(), fk.PrincipalToDependent()
	if nav.PointsToPrincipal() {
		if old != nil {
			f.removeFromInverse(old, toD, e.entity)
		}
		if cur == nil {
			f.nullKey(e.entity, fk)
			return
		}
		f.writeKey(e.entity, fk, f.values(cur, fk.PrincipalKey().Properties()))
		f.addToInverse(cur, toD, e.entity)
		return
	}
	key := e.values(fk.PrincipalKey().Properties())
	if old != nil && reference(old, toP) == e.entity {
		f.setReference(old, toP, nil)
		f.nullKey(old, fk)
	}
	if cur != nil {
		if prev := reference(cur, toP); prev != nil && prev != e.entity {
			f.removeFromInverse(prev, toD, cur)
		}
		f.writeKey(cur, fk, key)
		f.setReference(cur, toP, e.entity)
	}
}

// collectionChanged handles dependents added to or removed from a
// collection navigation of p.
func (f *fixer) collectionChanged(p *Entry, nav *metadata.Navigation, added, removed []any) {
	fk := nav.ForeignKey()
	toP := fk.DependentToPrincipal()
	key := p.values(fk.PrincipalKey().Properties())
	for _, d := range added {
		if prev := reference(d, toP); prev != nil && prev != p.entity {
			f.removeFromInverse(prev, nav, d)
		}
		f.setReference(d, toP, p.entity)
		f.writeKey(d, fk, key)
	}
	for _, d := range removed {
		if slices.Contains(added, d) {
			continue
		}
		if reference(d, toP) == p.entity {
			f.setReference(d, toP, nil)
		}
		if sameKey(f.values(d, fk.Properties()), key) {
			f.nullKey(d, fk)
		}
	}
}

// findPrincipal returns the tracked principal of fk whose key equals
// values.
func (f *fixer) findPrincipal(fk *metadata.ForeignKey, values []any) *Entry {
	want, ok := keyOf(values)
	if !ok {
		return nil
	}
	for _, e := range f.sm.order {
		if e.et != fk.PrincipalEntityType() || !e.state.IsTracked() {
			continue
		}
		if k, ok := keyOf(e.values(fk.PrincipalKey().Properties())); ok && k == want {
			return e
		}
	}
	return nil
}

// values reads props from any instance, tracked or not. Shadow values of
// an instance without an entry read as nil.
func (f *fixer) values(entity any, props []*metadata.Property) []any {
	if e, ok := f.sm.entries[entity]; ok {
		return e.values(props)
	}
	rv := reflect.ValueOf(entity).Elem()
	out := make([]any, len(props))
	for i, p := range props {
		if !p.IsShadow() {
			out[i] = shape.Get(rv, p.FieldIndex())
		}
	}
	return out
}

// writeKey copies key into the foreign key properties of dependent.
func (f *fixer) writeKey(dependent any, fk *metadata.ForeignKey, key []any) {
	for i, p := range fk.Properties() {
		f.write(dependent, p, key[i])
	}
}

// nullKey clears an optional foreign key of dependent.
func (f *fixer) nullKey(dependent any, fk *metadata.ForeignKey) {
	props := fk.Properties()
	if slices.ContainsFunc(props, func(p *metadata.Property) bool { return !p.IsNullable() }) {
		return
	}
	for _, p := range props {
		f.write(dependent, p, nil)
	}
}

func (f *fixer) write(entity any, p *metadata.Property, v any) {
	e, ok := f.sm.entries[entity]
	switch {
	case ok && shape.Equal(e.value(p), shape.Normalize(v)):
	case ok && e.state.IsTracked():
		if err := e.write(p, v); err != nil {
			f.sm.logger.Warn("fixup write failed", "property", p.String(), "error", err)
		}
		f.touch(e)
	case ok:
		if err := e.store(p, v); err != nil {
			f.sm.logger.Warn("fixup write failed", "property", p.String(), "error", err)
		}
	case !p.IsShadow():
		if err := shape.Set(reflect.ValueOf(entity).Elem(), p.FieldIndex(), v); err != nil {
			f.sm.logger.Warn("fixup write failed", "property", p.String(), "error", err)
		}
	}
}

// markPending marks d modified while its foreign key disagrees with an
// untracked navigation target.
func (f *fixer) markPending(d *Entry) {
	if d.state == orbit.Unchanged {
		d.state = orbit.Modified
	}
}

func (f *fixer) dependents(principal any, toD *metadata.Navigation) []any {
	if toD == nil || toD.FieldIndex() == nil {
		return nil
	}
	if toD.IsCollection() {
		return elements(principal, toD)
	}
	if d := reference(principal, toD); d != nil {
		return []any{d}
	}
	return nil
}

func (f *fixer) setReference(entity any, nav *metadata.Navigation, target any) {
	if nav == nil || nav.FieldIndex() == nil || reference(entity, nav) == target {
		return
	}
	setReference(entity, nav, target)
	f.touchEntity(entity)
}

// addToInverse adds dependent to the navigation of principal pointing at
// it, without duplicates.
func (f *fixer) addToInverse(principal any, toD *metadata.Navigation, dependent any) {
	if toD == nil || toD.FieldIndex() == nil {
		return
	}
	if !toD.IsCollection() {
		f.setReference(principal, toD, dependent)
		return
	}
	if shape.Append(reflect.ValueOf(principal).Elem(), toD.FieldIndex(), dependent) {
		f.touchEntity(principal)
	}
}

func (f *fixer) removeFromInverse(principal any, toD *metadata.Navigation, dependent any) {
	if toD == nil || toD.FieldIndex() == nil {
		return
	}
	if !toD.IsCollection() {
		if reference(principal, toD) == dependent {
			f.setReference(principal, toD, nil)
		}
		return
	}
	if shape.Remove(reflect.ValueOf(principal).Elem(), toD.FieldIndex(), dependent) {
		f.touchEntity(principal)
	}
}

// difference returns the members of a missing from b.
func difference(a, b []any) []any {
	var out []any
	for _, x := range a {
		if !slices.Contains(b, x) {
			out = append(out, x)
		}
	}
	return out
}
