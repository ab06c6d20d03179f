// Package builder is the fluent configuration surface of the model.
//
// A ModelBuilder owns a mutable metadata.Model and a convention set. Entity
// types are configured through EntityTypeBuilder, relationships through
// the Reference and Collection builders. Every call either applies its
// configuration or records an error on the builder it was called on; later
// calls on a failed builder do nothing, and Build reports every recorded
// error.
//
// Configuration carries a source. Explicit calls win over conventions, and
// conventions never undo explicit configuration.
package builder

import (
	"log/slog"
	"reflect"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/metadata"
	"github.com/syssam/orbit/metadata/convention"
	"github.com/syssam/orbit/metadata/shape"
)

// ModelBuilder builds one model.
type ModelBuilder struct {
	model       *metadata.Model
	conventions *convention.Set
	logger      *slog.Logger

	entitySources map[metadata.EntityTypeID]metadata.ConfigurationSource
	pkSources     map[metadata.EntityTypeID]metadata.ConfigurationSource
	propSources   map[metadata.PropertyID]metadata.ConfigurationSource
	keySources    map[metadata.KeyID]metadata.ConfigurationSource
	indexSources  map[metadata.IndexID]metadata.ConfigurationSource

	ignoredTypes   map[string]bool
	ignoredMembers map[string]map[string]bool

	errs  []error
	built bool
}

// Option configures a ModelBuilder.
type Option func(*ModelBuilder)

// WithConventions replaces the default convention set.
func WithConventions(s *convention.Set) Option {
	return func(mb *ModelBuilder) {
		if s != nil {
			mb.conventions = s
		}
	}
}

// WithLogger sets the logger relationship decisions are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(mb *ModelBuilder) {
		if l != nil {
			mb.logger = l
		}
	}
}

// New returns a builder for an empty model.
func New(opts ...Option) *ModelBuilder {
	mb := &ModelBuilder{
		model:          metadata.NewModel(),
		conventions:    convention.DefaultSet(),
		logger:         slog.New(slog.DiscardHandler),
		entitySources:  make(map[metadata.EntityTypeID]metadata.ConfigurationSource),
		pkSources:      make(map[metadata.EntityTypeID]metadata.ConfigurationSource),
		propSources:    make(map[metadata.PropertyID]metadata.ConfigurationSource),
		keySources:     make(map[metadata.KeyID]metadata.ConfigurationSource),
		indexSources:   make(map[metadata.IndexID]metadata.ConfigurationSource),
		ignoredTypes:   make(map[string]bool),
		ignoredMembers: make(map[string]map[string]bool),
	}
	for _, opt := range opts {
		opt(mb)
	}
	return mb
}

// Model returns the model being built. It stays mutable until Build.
func (mb *ModelBuilder) Model() *metadata.Model { return mb.model }

// Err returns every error recorded so far, joined, or nil.
func (mb *ModelBuilder) Err() error {
	return orbit.NewAggregateError(mb.errs...)
}

// Entity returns the builder of the entity type for st, adding the entity
// type when missing. An ignored type is brought back.
func (mb *ModelBuilder) Entity(st shape.Type) *EntityTypeBuilder {
	et, err := mb.entity(st, metadata.Explicit)
	if err != nil {
		return &EntityTypeBuilder{mb: mb, err: mb.record(err)}
	}
	return &EntityTypeBuilder{mb: mb, et: et}
}

// Ignore removes the entity type for st and keeps conventions from adding
// it back. Entity types only reachable through it go with it.
func (mb *ModelBuilder) Ignore(st shape.Type) *ModelBuilder {
	if err := mb.checkBuilding(); err != nil {
		mb.record(err)
		return mb
	}
	mb.ignoredTypes[st.Name()] = true
	et := mb.model.FindEntityType(st.Name())
	if et == nil {
		return mb
	}
	if err := mb.removeEntityType(et); err != nil {
		mb.record(err)
		return mb
	}
	if err := mb.dispatch(convention.Mutation{Event: convention.NavigationRemoved}); err != nil {
		mb.record(err)
	}
	return mb
}

// Build runs the finalizing conventions and returns the read-only model,
// or every error recorded during configuration.
func (mb *ModelBuilder) Build() (*metadata.Model, error) {
	if mb.built {
		return mb.model, nil
	}
	if err := mb.Err(); err != nil {
		return nil, err
	}
	if err := mb.dispatch(convention.Mutation{Event: convention.ModelFinalizing}); err != nil {
		mb.record(err)
		return nil, err
	}
	mb.model.Finalize()
	mb.built = true
	mb.logger.Debug("model built", "entity_types", len(mb.model.EntityTypes()))
	return mb.model, nil
}

func (mb *ModelBuilder) record(err error) error {
	mb.errs = append(mb.errs, err)
	return err
}

func (mb *ModelBuilder) checkBuilding() error {
	if mb.built {
		return orbit.ErrReadOnlyModel
	}
	return nil
}

func (mb *ModelBuilder) dispatch(m convention.Mutation) error {
	return mb.conventions.Dispatch((*host)(mb), m)
}

// entity finds or adds the entity type for st. An explicit source brings
// an ignored type back.
func (mb *ModelBuilder) entity(st shape.Type, source metadata.ConfigurationSource) (*metadata.EntityType, error) {
	if err := mb.checkBuilding(); err != nil {
		return nil, err
	}
	if st.IsZero() {
		return nil, orbit.NewConfigurationConflictError("", "", "entity shape is empty")
	}
	if mb.ignoredTypes[st.Name()] {
		if source != metadata.Explicit {
			return nil, nil
		}
		delete(mb.ignoredTypes, st.Name())
	}
	if et := mb.model.FindEntityType(st.Name()); et != nil {
		if et.Shape() != st {
			return nil, orbit.NewConfigurationConflictError(st.Name(), "", "another shape is already mapped under this name")
		}
		mb.entitySources[et.ID()] = mb.entitySources[et.ID()].Max(source)
		return et, nil
	}
	et, err := mb.model.AddEntityType(st)
	if err != nil {
		return nil, err
	}
	mb.entitySources[et.ID()] = source
	return et, mb.dispatch(convention.Mutation{Event: convention.EntityTypeAdded, EntityType: et})
}

func (mb *ModelBuilder) isIgnored(et *metadata.EntityType, member string) bool {
	return mb.ignoredMembers[et.Name()][member]
}

func (mb *ModelBuilder) setIgnored(et *metadata.EntityType, member string, ignored bool) {
	if !ignored {
		delete(mb.ignoredMembers[et.Name()], member)
		return
	}
	if mb.ignoredMembers[et.Name()] == nil {
		mb.ignoredMembers[et.Name()] = make(map[string]bool)
	}
	mb.ignoredMembers[et.Name()][member] = true
}

// addProperty adds a property, struct-backed when the shape has a field
// with that name, and dispatches PropertyAdded.
func (mb *ModelBuilder) addProperty(et *metadata.EntityType, name string, typ reflect.Type, source metadata.ConfigurationSource) (*metadata.Property, error) {
	_, field := et.Shape().Member(name)
	p, err := et.AddProperty(name, typ, !field)
	if err != nil {
		return nil, err
	}
	mb.propSources[p.ID()] = source
	return p, mb.dispatch(convention.Mutation{Event: convention.PropertyAdded, Property: p})
}

// host exposes the builder to conventions.
type host ModelBuilder

var _ convention.Host = (*host)(nil)

func (h *host) mb() *ModelBuilder { return (*ModelBuilder)(h) }

func (h *host) Model() *metadata.Model { return h.model }

func (h *host) IsIgnored(et *metadata.EntityType, member string) bool {
	return h.mb().isIgnored(et, member)
}

func (h *host) DiscoverEntityType(st shape.Type) (*metadata.EntityType, error) {
	return h.mb().entity(st, metadata.Convention)
}

func (h *host) AddProperty(et *metadata.EntityType, name string) (*metadata.Property, error) {
	return h.mb().addProperty(et, name, nil, metadata.Convention)
}

func (h *host) SetPrimaryKey(et *metadata.EntityType, props []*metadata.Property) error {
	_, err := h.mb().setPrimaryKey(et, props, metadata.Convention)
	return err
}

func (h *host) PrimaryKeySource(et *metadata.EntityType) metadata.ConfigurationSource {
	return h.pkSources[et.ID()]
}

func (h *host) Relate(r convention.Relationship) error {
	_, err := h.mb().relate(relRequest{
		principal:    r.Principal,
		dependent:    r.Dependent,
		toPrincipal:  r.ToPrincipal,
		toDependent:  r.ToDependent,
		unique:       r.Unique,
		source:       metadata.Convention,
		uniqueSource: metadata.Convention,
		endSource:    metadata.Convention,
	})
	return err
}

func (h *host) RemoveUnreachable() error {
	return h.mb().removeUnreachable()
}
