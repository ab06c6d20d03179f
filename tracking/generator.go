package tracking

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/syssam/orbit/metadata"
	"github.com/syssam/orbit/metadata/shape"
)

// ValueGenerator produces values for properties generated on add.
// Temporary values stand in for store-generated ones until a save.
type ValueGenerator interface {
	Next(ctx context.Context, p *metadata.Property) (value any, temporary bool, err error)
}

// GeneratorFunc adapts a function to ValueGenerator.
type GeneratorFunc func(ctx context.Context, p *metadata.Property) (any, bool, error)

// Next implements ValueGenerator.
func (f GeneratorFunc) Next(ctx context.Context, p *metadata.Property) (any, bool, error) {
	return f(ctx, p)
}

// DefaultGenerator generates random UUIDs for uuid.UUID and string
// properties, and temporary values for integer properties: -1, -2, ...
// for signed types and max, max-1, ... for unsigned ones, one sequence
// per property.
type DefaultGenerator struct {
	mu   sync.Mutex
	next map[metadata.PropertyID]int64
}

// NewDefaultGenerator returns a DefaultGenerator.
func NewDefaultGenerator() *DefaultGenerator {
	return &DefaultGenerator{next: make(map[metadata.PropertyID]int64)}
}

// Next implements ValueGenerator.
func (g *DefaultGenerator) Next(ctx context.Context, p *metadata.Property) (any, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	rt := shape.Underlying(p.ClrType())
	if rt == reflect.TypeFor[uuid.UUID]() {
		return uuid.New(), false, nil
	}
	switch rt.Kind() {
	case reflect.String:
		return reflect.ValueOf(uuid.NewString()).Convert(rt).Interface(), false, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := g.step(p)
		v := reflect.New(rt).Elem()
		if v.OverflowInt(n) {
			return nil, false, fmt.Errorf("orbit: temporary values of %s exhausted", p)
		}
		v.SetInt(n)
		return v.Interface(), true, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		// Count down from the largest value of the type, stopping before
		// zero.
		offset, top := uint64(-g.step(p)-1), ^uint64(0)>>(64-rt.Bits())
		if offset >= top {
			return nil, false, fmt.Errorf("orbit: temporary values of %s exhausted", p)
		}
		v := reflect.New(rt).Elem()
		v.SetUint(top - offset)
		return v.Interface(), true, nil
	}
	return nil, false, fmt.Errorf("orbit: no value generator for %s of type %s", p, p.ClrType())
}

func (g *DefaultGenerator) step(p *metadata.Property) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next[p.ID()]--
	return g.next[p.ID()]
}
