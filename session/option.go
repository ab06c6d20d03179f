package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/config"
	"github.com/syssam/orbit/metadata"
	"github.com/syssam/orbit/metadata/builder"
	"github.com/syssam/orbit/privacy"
	"github.com/syssam/orbit/tracking"
)

// ConfigureFunc declares a model on a fresh builder. The context carries
// the model source's build marker; pass it on to nested model lookups.
type ConfigureFunc func(ctx context.Context, mb *builder.ModelBuilder) error

// Options holds the settings of a session.
type Options struct {
	// AutoDetectChanges runs DetectChanges before Add, Attach, Update,
	// Remove, Entry, Entries and SaveChanges. Default true.
	AutoDetectChanges bool
	// Logger receives session, tracking and model build events.
	Logger *slog.Logger
	// Persister writes dirty entries in SaveChanges.
	Persister Persister
	// Generator produces values for properties generated on add.
	Generator tracking.ValueGenerator
	// Policy decides whether each dirty entry may be saved.
	Policy privacy.Rule
	// Context is used by the methods that take no context. Default
	// context.Background().
	Context context.Context

	// Model is a finalized model. When nil, the model is built through
	// Source under CacheKey with Configure.
	Model     *metadata.Model
	Source    *ModelSource
	CacheKey  string
	Configure ConfigureFunc

	target   *config.Target
	slowSave time.Duration
}

// Option configures a session.
type Option func(*Options) error

// WithAutoDetectChanges turns automatic change detection on or off.
func WithAutoDetectChanges(on bool) Option {
	return func(o *Options) error {
		o.AutoDetectChanges = on
		return nil
	}
}

// WithLogger sets the logger of the session and its state manager.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) error {
		if l == nil {
			return orbit.NewConfigurationConflictError("Options", "Logger", "logger cannot be nil")
		}
		o.Logger = l
		return nil
	}
}

// WithContext sets the context of the methods that take none. Sessions
// created inside a ConfigureFunc pass its context so that looking up the
// model being built fails instead of waiting for it.
func WithContext(ctx context.Context) Option {
	return func(o *Options) error {
		if ctx == nil {
			return orbit.NewConfigurationConflictError("Options", "Context", "context cannot be nil")
		}
		o.Context = ctx
		return nil
	}
}

// WithPersister sets the persister used by SaveChanges.
func WithPersister(p Persister) Option {
	return func(o *Options) error {
		if p == nil {
			return orbit.NewConfigurationConflictError("Options", "Persister", "persister cannot be nil")
		}
		o.Persister = p
		return nil
	}
}

// WithPolicy sets the rule SaveChanges checks every dirty entry against.
// A denied entry fails the save before the persister is called.
func WithPolicy(rule privacy.Rule) Option {
	return func(o *Options) error {
		if rule == nil {
			return orbit.NewConfigurationConflictError("Options", "Policy", "policy cannot be nil")
		}
		o.Policy = rule
		return nil
	}
}

// WithValueGenerator replaces the default value generator.
func WithValueGenerator(g tracking.ValueGenerator) Option {
	return func(o *Options) error {
		if g == nil {
			return orbit.NewConfigurationConflictError("Options", "Generator", "value generator cannot be nil")
		}
		o.Generator = g
		return nil
	}
}

// WithModel uses a finalized model.
func WithModel(m *metadata.Model) Option {
	return func(o *Options) error {
		switch {
		case m == nil:
			return orbit.NewConfigurationConflictError("Options", "Model", "model cannot be nil")
		case !m.IsReadOnly():
			return orbit.NewConfigurationConflictError("Options", "Model", "model is not finalized; call Build first")
		}
		o.Model = m
		return nil
	}
}

// WithModelBuilder builds the model on first use with configure, once per
// cache key of the model source.
func WithModelBuilder(key string, configure ConfigureFunc) Option {
	return func(o *Options) error {
		switch {
		case key == "":
			return orbit.NewConfigurationConflictError("Options", "CacheKey", "cache key cannot be empty")
		case configure == nil:
			return orbit.NewConfigurationConflictError("Options", "Configure", "configure function cannot be nil")
		}
		o.CacheKey, o.Configure = key, configure
		return nil
	}
}

// WithModelSource sets the model cache. The default is shared by every
// session of the process.
func WithModelSource(src *ModelSource) Option {
	return func(o *Options) error {
		if src == nil {
			return orbit.NewConfigurationConflictError("Options", "Source", "model source cannot be nil")
		}
		o.Source = src
		return nil
	}
}

// WithProfile applies the named profile of cfg: change detection, and
// the persistence target unless a persister is set explicitly.
func WithProfile(cfg *config.Config, name string) Option {
	return func(o *Options) error {
		if cfg == nil {
			return orbit.NewConfigurationConflictError("Options", "Profile", "config cannot be nil")
		}
		p, err := cfg.Profile(name)
		if err != nil {
			return err
		}
		if p.AutoDetectChanges != nil {
			o.AutoDetectChanges = *p.AutoDetectChanges
		}
		if p.Target != "" {
			t, err := cfg.Target(p.Target)
			if err != nil {
				return err
			}
			o.target = &t
		}
		o.slowSave = p.SlowSave
		return nil
	}
}

// Apply applies options.
// It returns the first error encountered.
func (o *Options) Apply(opts ...Option) error {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return err
		}
	}
	return nil
}

// ApplyAll applies options and collects all errors.
// Returns a joined error if any options failed.
func (o *Options) ApplyAll(opts ...Option) error {
	var errs []error
	for _, opt := range opts {
		if err := opt(o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func defaultOptions() Options {
	return Options{
		AutoDetectChanges: true,
		Context:           context.Background(),
		Logger:            slog.New(slog.DiscardHandler),
		Source:            DefaultModelSource(),
	}
}

// persister returns the configured persister, or one built from the
// profile's target.
func (o *Options) persister() (Persister, error) {
	p := o.Persister
	if p == nil && o.target != nil {
		switch o.target.Kind {
		case config.KindDiscard:
			p = Discard
		case config.KindLog:
			logger := o.Logger.With("target", o.target.Name)
			p = NewDebugPersister(Discard, DebugWithLog(func(ctx context.Context, v ...any) {
				logger.InfoContext(ctx, "save", "entry", fmt.Sprint(v...))
			}))
		default:
			return nil, orbit.NewConfigurationConflictError("Target", o.target.Name, "unsupported kind "+o.target.Kind)
		}
	}
	if p != nil && o.slowSave > 0 {
		p = NewStatsPersister(p, WithSlowThreshold(o.slowSave), WithSlowSaveLog())
	}
	return p, nil
}
