// Package tracking tracks entity instances against a finalized model:
// their states, original values, shadow values and the consistency of
// foreign keys with navigations.
package tracking

import (
	"context"
	"log/slog"
	"reflect"
	"slices"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/metadata"
	"github.com/syssam/orbit/metadata/shape"
)

// StateManager owns the entries of one unit of work. It is not safe for
// concurrent use.
type StateManager struct {
	model     *metadata.Model
	entries   map[any]*Entry
	order     []*Entry
	generator ValueGenerator
	logger    *slog.Logger
	fixer     *fixer
}

// Option configures a StateManager.
type Option func(*StateManager)

// WithLogger sets the logger. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(sm *StateManager) {
		if l != nil {
			sm.logger = l
		}
	}
}

// WithValueGenerator replaces the default value generator.
func WithValueGenerator(g ValueGenerator) Option {
	return func(sm *StateManager) {
		if g != nil {
			sm.generator = g
		}
	}
}

// NewStateManager returns a state manager for model.
func NewStateManager(model *metadata.Model, opts ...Option) *StateManager {
	sm := &StateManager{
		model:     model,
		entries:   make(map[any]*Entry),
		generator: NewDefaultGenerator(),
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(sm)
	}
	sm.fixer = &fixer{sm: sm}
	return sm
}

// Model returns the model the manager tracks against.
func (sm *StateManager) Model() *metadata.Model { return sm.model }

// GetOrCreateEntry returns the entry of instance, creating an entry in
// the Unknown state if the instance is not known yet. The same instance
// always yields the same entry until it is detached.
func (sm *StateManager) GetOrCreateEntry(instance any) (*Entry, error) {
	rv, err := shape.Indirect(instance)
	if err != nil {
		return nil, err
	}
	if e, ok := sm.entries[instance]; ok {
		return e, nil
	}
	et := sm.model.FindEntityTypeFor(reflect.TypeOf(instance))
	if et == nil {
		return nil, orbit.NewNotFoundError("entity type", rv.Type().String())
	}
	e := newEntry(sm, instance, rv, et)
	sm.entries[instance] = e
	return e, nil
}

// TryGetEntry returns the entry of instance, if there is one.
func (sm *StateManager) TryGetEntry(instance any) (*Entry, bool) {
	e, ok := sm.entries[instance]
	return e, ok
}

// tracked returns the entry of instance if it is tracked.
func (sm *StateManager) tracked(instance any) *Entry {
	if instance == nil {
		return nil
	}
	if e, ok := sm.entries[instance]; ok && e.state.IsTracked() {
		return e
	}
	return nil
}

// Entries returns the tracked entries in the order they were tracked,
// optionally restricted to the given states.
func (sm *StateManager) Entries(states ...orbit.EntityState) []*Entry {
	out := make([]*Entry, 0, len(sm.order))
	for _, e := range sm.order {
		if len(states) == 0 || slices.Contains(states, e.state) {
			out = append(out, e)
		}
	}
	return out
}

// HasChanges reports whether an entry is added, modified or deleted.
func (sm *StateManager) HasChanges() bool {
	return slices.ContainsFunc(sm.order, func(e *Entry) bool { return e.state.IsDirty() })
}

// SetState is SetStateContext with a background context.
func (sm *StateManager) SetState(e *Entry, state orbit.EntityState) error {
	return sm.SetStateContext(context.Background(), e, state)
}

// SetStateContext moves e to state.
//
// Tracking an entry snapshots its original values, generates values for
// unset generated properties when the entry is added, and fixes up its
// relationships with the other tracked entries. Deleting an added entry
// detaches it. Moving a tracked entry to Unchanged accepts its current
// values and reconciles its relationships again. Modified marks every
// property outside the primary key modified.
func (sm *StateManager) SetStateContext(ctx context.Context, e *Entry, state orbit.EntityState) error {
	if e.sm != sm {
		return orbit.NewNotFoundError("entry", e.et.Name())
	}
	old := e.state
	if state == old {
		return nil
	}
	if state == orbit.Deleted && old == orbit.Added {
		state = orbit.Unknown
	}
	switch {
	case state == orbit.Unknown:
		sm.detach(e)
	case !old.IsTracked():
		if state == orbit.Added {
			if err := sm.generate(ctx, e); err != nil {
				return err
			}
		}
		e.state = state
		e.acceptValues()
		if state == orbit.Modified {
			e.markAllModified()
		}
		sm.order = append(sm.order, e)
		sm.entries[e.entity] = e
		sm.logger.Debug("entity tracked", "entity_type", e.et.Name(), "state", state.String())
		sm.fixer.tracked(e)
	case state == orbit.Unchanged:
		e.state = state
		e.acceptValues()
		sm.fixer.tracked(e)
	case state == orbit.Modified:
		e.state = state
		e.markAllModified()
	default:
		e.state = state
	}
	return nil
}

func (sm *StateManager) detach(e *Entry) {
	e.state = orbit.Unknown
	delete(sm.entries, e.entity)
	sm.order = slices.DeleteFunc(sm.order, func(o *Entry) bool { return o == e })
	e.keys, e.pkeys, e.refs, e.colls = nil, nil, nil, nil
	sm.logger.Debug("entity detached", "entity_type", e.et.Name())
}

// generate fills properties generated on add that still hold their zero
// value.
func (sm *StateManager) generate(ctx context.Context, e *Entry) error {
	for _, p := range e.et.Properties() {
		if p.ValueGenerated() != metadata.OnAdd || !isZero(e.value(p)) {
			continue
		}
		v, temporary, err := sm.generator.Next(ctx, p)
		if err != nil {
			return err
		}
		if err := e.store(p, v); err != nil {
			return err
		}
		e.temporary[p.Ordinal()] = temporary
	}
	return nil
}

func isZero(v any) bool {
	return v == nil || reflect.ValueOf(v).IsZero()
}

// DetectChanges compares every unchanged or modified entry with its
// original values, and every tracked entry with its relationship
// snapshot, fixing up foreign keys and inverse navigations the
// application changed directly. It reports whether it found a change.
func (sm *StateManager) DetectChanges() bool {
	changed := false
	for _, e := range slices.Clone(sm.order) {
		if e.state == orbit.Unchanged || e.state == orbit.Modified {
			for i, p := range e.et.Properties() {
				if !e.modified[i] && !shape.Equal(e.value(p), e.original[i]) {
					e.setModified(p, true)
					changed = true
				}
			}
		}
	}
	for _, e := range slices.Clone(sm.order) {
		if e.state.IsTracked() && sm.fixer.detect(e) {
			changed = true
		}
	}
	return changed
}

// AcceptAllChanges makes added and modified entries unchanged with their
// current values as original values, and detaches deleted entries.
func (sm *StateManager) AcceptAllChanges() {
	for _, e := range slices.Clone(sm.order) {
		switch e.state {
		case orbit.Deleted:
			sm.detach(e)
		case orbit.Added, orbit.Modified:
			e.state = orbit.Unchanged
			e.acceptValues()
			clear(e.temporary)
		}
	}
}

// Clear detaches every entry.
func (sm *StateManager) Clear() {
	for _, e := range sm.order {
		e.state = orbit.Unknown
	}
	sm.order = nil
	clear(sm.entries)
}
