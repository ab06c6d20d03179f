// Package session provides the unit of work applications use to track
// entities against a model and save their changes through a Persister.
package session

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/metadata"
	"github.com/syssam/orbit/metadata/builder"
	"github.com/syssam/orbit/privacy"
	"github.com/syssam/orbit/tracking"
)

// ErrNoPersister is returned by SaveChanges when there are changes to
// save and no persister is configured.
var ErrNoPersister = errors.New("orbit/session: no persister configured")

// Session tracks entity instances of one unit of work. A session is not
// safe for concurrent use.
type Session struct {
	opts      Options
	persister Persister
	model     *metadata.Model
	sm        *tracking.StateManager
	building  bool
}

// New returns a session. It needs a finalized model (WithModel) or a way
// to build one (WithModelBuilder).
func New(opts ...Option) (*Session, error) {
	o := defaultOptions()
	if err := o.Apply(opts...); err != nil {
		return nil, err
	}
	if o.Model == nil && o.Configure == nil {
		return nil, orbit.NewConfigurationConflictError("Options", "Model", "a model or a model builder is required")
	}
	p, err := o.persister()
	if err != nil {
		return nil, err
	}
	return &Session{opts: o, persister: p, model: o.Model}, nil
}

// Model returns the model of the session, building it on first use.
func (s *Session) Model() (*metadata.Model, error) {
	return s.ModelContext(s.opts.Context)
}

// ModelContext is Model with a context passed to the model source. Builds
// the session context marks as in progress stay marked.
func (s *Session) ModelContext(ctx context.Context) (*metadata.Model, error) {
	if s.model != nil {
		return s.model, nil
	}
	if s.building {
		return nil, orbit.NewReentrancyError("Session.Model")
	}
	ctx = withBuilding(ctx, building(s.opts.Context)...)
	s.building = true
	defer func() { s.building = false }()
	m, err := s.opts.Source.Model(ctx, s.opts.CacheKey, s.opts.Configure, builder.WithLogger(s.opts.Logger))
	if err != nil {
		return nil, err
	}
	s.model = m
	return m, nil
}

// ChangeTracker returns the state manager of the session.
func (s *Session) ChangeTracker() (*tracking.StateManager, error) {
	return s.tracker(s.opts.Context)
}

func (s *Session) tracker(ctx context.Context) (*tracking.StateManager, error) {
	if s.sm != nil {
		return s.sm, nil
	}
	m, err := s.ModelContext(ctx)
	if err != nil {
		return nil, err
	}
	opts := []tracking.Option{tracking.WithLogger(s.opts.Logger)}
	if s.opts.Generator != nil {
		opts = append(opts, tracking.WithValueGenerator(s.opts.Generator))
	}
	s.sm = tracking.NewStateManager(m, opts...)
	return s.sm, nil
}

// detect returns the state manager after running automatic change
// detection.
func (s *Session) detect(ctx context.Context) (*tracking.StateManager, error) {
	sm, err := s.tracker(ctx)
	if err != nil {
		return nil, err
	}
	if s.opts.AutoDetectChanges {
		sm.DetectChanges()
	}
	return sm, nil
}

// Add tracks entities as Added, generating values for unset generated
// properties.
func (s *Session) Add(entities ...any) ([]*tracking.Entry, error) {
	return s.AddAsync(s.opts.Context, entities...)
}

// AddAsync is Add with a context for value generation.
func (s *Session) AddAsync(ctx context.Context, entities ...any) ([]*tracking.Entry, error) {
	return s.track(ctx, entities, func(*tracking.Entry) orbit.EntityState { return orbit.Added })
}

// Attach tracks entities as Unchanged.
func (s *Session) Attach(entities ...any) ([]*tracking.Entry, error) {
	return s.track(s.opts.Context, entities, func(*tracking.Entry) orbit.EntityState { return orbit.Unchanged })
}

// Update tracks entities as Modified with every property outside the
// primary key marked modified. Entities whose generated key is unset are
// tracked as Added instead.
func (s *Session) Update(entities ...any) ([]*tracking.Entry, error) {
	return s.track(s.opts.Context, entities, func(e *tracking.Entry) orbit.EntityState {
		if e.State() == orbit.Added || (e.State() == orbit.Unknown && keyUnset(e)) {
			return orbit.Added
		}
		return orbit.Modified
	})
}

// Remove marks entities Deleted. Added entities are detached; untracked
// ones are attached as Deleted.
func (s *Session) Remove(entities ...any) ([]*tracking.Entry, error) {
	return s.track(s.opts.Context, entities, func(*tracking.Entry) orbit.EntityState { return orbit.Deleted })
}

func (s *Session) track(ctx context.Context, entities []any, state func(*tracking.Entry) orbit.EntityState) ([]*tracking.Entry, error) {
	sm, err := s.detect(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]*tracking.Entry, 0, len(entities))
	for _, entity := range entities {
		e, err := sm.GetOrCreateEntry(entity)
		if err != nil {
			return entries, err
		}
		if err := sm.SetStateContext(ctx, e, state(e)); err != nil {
			return entries, fmt.Errorf("orbit/session: track %s: %w", e.EntityType().Name(), err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// keyUnset reports whether a generated primary key of e holds its zero
// value.
func keyUnset(e *tracking.Entry) bool {
	pk := e.EntityType().PrimaryKey()
	if pk == nil {
		return false
	}
	values := e.KeyValues()
	for i, p := range pk.Properties() {
		if p.ValueGenerated() == metadata.OnAdd && (values[i] == nil || reflect.ValueOf(values[i]).IsZero()) {
			return true
		}
	}
	return false
}

// Entry returns the entry of instance, in the Unknown state if it is not
// tracked.
func (s *Session) Entry(instance any) (*tracking.Entry, error) {
	sm, err := s.detect(s.opts.Context)
	if err != nil {
		return nil, err
	}
	return sm.GetOrCreateEntry(instance)
}

// Entries returns the tracked entries, optionally restricted to states.
func (s *Session) Entries(states ...orbit.EntityState) ([]*tracking.Entry, error) {
	sm, err := s.detect(s.opts.Context)
	if err != nil {
		return nil, err
	}
	return sm.Entries(states...), nil
}

// SaveChanges passes the added, modified and deleted entries to the
// persister and accepts their changes when it succeeds. Without dirty
// entries the persister is not called.
func (s *Session) SaveChanges(ctx context.Context) (int, error) {
	sm, err := s.detect(ctx)
	if err != nil {
		return 0, err
	}
	dirty := sm.Entries(orbit.Added, orbit.Modified, orbit.Deleted)
	if len(dirty) == 0 {
		return 0, nil
	}
	if s.persister == nil {
		return 0, ErrNoPersister
	}
	if s.opts.Policy != nil {
		if err := privacy.Eval(ctx, s.opts.Policy, dirty); err != nil {
			return 0, fmt.Errorf("orbit/session: save changes: %w", err)
		}
	}
	s.opts.Logger.Debug("saving changes", "entries", len(dirty))
	n, err := s.persister.Save(ctx, dirty)
	if err != nil {
		return n, fmt.Errorf("orbit/session: save changes: %w", err)
	}
	sm.AcceptAllChanges()
	return n, nil
}
