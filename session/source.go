package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/metadata"
	"github.com/syssam/orbit/metadata/builder"
)

// ModelSource caches finalized models by key. Concurrent lookups of a key
// that is not built yet share one build.
type ModelSource struct {
	group  singleflight.Group
	mu     sync.RWMutex
	models map[string]*metadata.Model
	logger *slog.Logger
}

// NewModelSource returns an empty model cache. A nil logger discards.
func NewModelSource(logger *slog.Logger) *ModelSource {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ModelSource{
		models: make(map[string]*metadata.Model),
		logger: logger,
	}
}

var defaultSource = NewModelSource(nil)

// DefaultModelSource returns the process-wide model cache.
func DefaultModelSource() *ModelSource { return defaultSource }

type buildingKey struct{}

// building returns the keys being built by the callers of ctx.
func building(ctx context.Context) []string {
	keys, _ := ctx.Value(buildingKey{}).([]string)
	return keys
}

// withBuilding returns a copy of ctx marking keys as being built.
func withBuilding(ctx context.Context, keys ...string) context.Context {
	if len(keys) == 0 {
		return ctx
	}
	return context.WithValue(ctx, buildingKey{}, append(slices.Clone(building(ctx)), keys...))
}

// Model returns the model cached under key, building it with configure
// when missing. Looking up a key from within its own configure function
// fails with a ReentrancyError; nested lookups must pass on the context
// configure receives. Waiting for a build shared with another caller ends
// when ctx is done.
func (s *ModelSource) Model(ctx context.Context, key string, configure ConfigureFunc, opts ...builder.Option) (*metadata.Model, error) {
	if m := s.cached(key); m != nil {
		return m, nil
	}
	if slices.Contains(building(ctx), key) {
		return nil, orbit.NewReentrancyError("model build of " + key)
	}
	ch := s.group.DoChan(key, func() (any, error) {
		if m := s.cached(key); m != nil {
			return m, nil
		}
		start := time.Now()
		mb := builder.New(append([]builder.Option{builder.WithLogger(s.logger)}, opts...)...)
		if err := configure(withBuilding(ctx, key), mb); err != nil {
			return nil, err
		}
		m, err := mb.Build()
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.models[key] = m
		s.mu.Unlock()
		s.logger.Debug("model cached",
			"key", key,
			"entity_types", len(m.EntityTypes()),
			"duration", time.Since(start),
		)
		return m, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*metadata.Model), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("orbit/session: waiting for model %s: %w", key, ctx.Err())
	}
}

func (s *ModelSource) cached(key string) *metadata.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.models[key]
}

// Forget drops the model cached under key.
func (s *ModelSource) Forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.models, key)
}
