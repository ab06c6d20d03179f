package tracking_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/metadata"
	"github.com/syssam/orbit/metadata/builder"
	"github.com/syssam/orbit/tracking"
)

type (
	Category struct {
		Id       int
		Name     string
		Products []*Product
	}
	Product struct {
		Id         int
		Name       string
		CategoryId int
		Category   *Category
	}

	Tag struct {
		Id    uuid.UUID
		Label string
	}

	BigMak struct {
		Id      int
		Pickles []*Pickle
	}
	Pickle struct {
		Id     int
		BigMak *BigMak
	}

	Untracked struct {
		Id int
	}

	Small struct {
		Id int8
	}
	Tiny struct {
		Id uint8
	}
)

func newModel(t *testing.T) *metadata.Model {
	t.Helper()
	mb := builder.New()
	builder.Entity[Product](mb)
	builder.Entity[Tag](mb)
	builder.Entity[Pickle](mb)
	m, err := mb.Build()
	require.NoError(t, err)
	return m
}

func setState(t *testing.T, sm *tracking.StateManager, state orbit.EntityState, entities ...any) []*tracking.Entry {
	t.Helper()
	entries := make([]*tracking.Entry, len(entities))
	for i, entity := range entities {
		e, err := sm.GetOrCreateEntry(entity)
		require.NoError(t, err)
		require.NoError(t, sm.SetState(e, state))
		entries[i] = e
	}
	return entries
}

func entryOf(t *testing.T, sm *tracking.StateManager, entity any) *tracking.Entry {
	t.Helper()
	e, err := sm.GetOrCreateEntry(entity)
	require.NoError(t, err)
	return e
}

func modified(t *testing.T, e *tracking.Entry, name string) bool {
	t.Helper()
	p, err := e.Property(name)
	require.NoError(t, err)
	return p.IsModified()
}

// inconsistent returns a category and product whose navigations agree but
// whose foreign key does not.
func inconsistent() (*Category, *Product) {
	category := &Category{Id: 1}
	product := &Product{Id: 1, CategoryId: 7, Category: category}
	category.Products = []*Product{product}
	return category, product
}

func TestStateManager_GetOrCreateEntry(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	sm := tracking.NewStateManager(newModel(t))

	product := &Product{Id: 1}
	e1, err := sm.GetOrCreateEntry(product)
	req.NoError(err)
	e2, err := sm.GetOrCreateEntry(product)
	req.NoError(err)
	req.Same(e1, e2)
	req.Equal(orbit.Unknown, e1.State())
	req.Equal("Product", e1.EntityType().Name())
	req.Empty(sm.Entries())

	_, err = sm.GetOrCreateEntry(Product{})
	req.ErrorIs(err, orbit.ErrInvalidEntity)
	_, err = sm.GetOrCreateEntry((*Product)(nil))
	req.ErrorIs(err, orbit.ErrInvalidEntity)
	_, err = sm.GetOrCreateEntry(&Untracked{})
	req.True(orbit.IsNotFound(err))

	_, ok := sm.TryGetEntry(&Product{})
	req.False(ok)
}

func TestStateManager_AttachPrincipalFirst(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	sm := tracking.NewStateManager(newModel(t))
	category, product := inconsistent()

	setState(t, sm, orbit.Unchanged, category)
	req.Equal(1, product.CategoryId)
	req.Equal(orbit.Unknown, entryOf(t, sm, product).State())

	pe := setState(t, sm, orbit.Unchanged, product)[0]
	req.Equal(1, product.CategoryId)
	req.Equal(orbit.Unchanged, pe.State())
	req.Same(category, product.Category)
	req.Equal([]*Product{product}, category.Products)
}

func TestStateManager_AttachDependentFirst(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	sm := tracking.NewStateManager(newModel(t))
	category, product := inconsistent()

	pe := setState(t, sm, orbit.Unchanged, product)[0]
	req.Equal(7, product.CategoryId)
	req.Equal(orbit.Modified, pe.State())
	req.False(modified(t, pe, "CategoryId"))

	ce := setState(t, sm, orbit.Unchanged, category)[0]
	req.Equal(1, product.CategoryId)
	req.Equal(orbit.Modified, pe.State())
	req.True(modified(t, pe, "CategoryId"))
	req.Equal(orbit.Unchanged, ce.State())
	req.Equal([]*Product{product}, category.Products)

	p, err := pe.Property("CategoryId")
	req.NoError(err)
	req.Equal(7, p.OriginalValue())
	req.Equal(1, p.CurrentValue())
}

func TestStateManager_AttachOrderConverges(t *testing.T) {
	t.Parallel()
	graph := func() (*Category, *Product) {
		category := &Category{Id: 1}
		product := &Product{Id: 1, CategoryId: 1, Category: category}
		category.Products = []*Product{product}
		return category, product
	}
	tests := []struct {
		name           string
		principalFirst bool
	}{
		{name: "principal first", principalFirst: true},
		{name: "dependent first"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := require.New(t)
			sm := tracking.NewStateManager(newModel(t))
			category, product := graph()
			if tt.principalFirst {
				setState(t, sm, orbit.Unchanged, category, product)
			} else {
				setState(t, sm, orbit.Unchanged, product, category)
			}
			req.Equal(1, product.CategoryId)
			req.Equal([]*Product{product}, category.Products)
			for _, e := range sm.Entries() {
				req.Equal(orbit.Unchanged, e.State(), e.String())
			}
		})
	}
}

func TestStateManager_FixupByForeignKey(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	sm := tracking.NewStateManager(newModel(t))

	category := &Category{Id: 3}
	first := &Product{Id: 1, CategoryId: 3}
	second := &Product{Id: 2, CategoryId: 3}
	setState(t, sm, orbit.Unchanged, first, category, second)

	req.Same(category, first.Category)
	req.Same(category, second.Category)
	req.Equal([]*Product{first, second}, category.Products)
	for _, e := range sm.Entries() {
		req.Equal(orbit.Unchanged, e.State())
	}
}

func TestStateManager_AddGeneratesValues(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	sm := tracking.NewStateManager(newModel(t))

	c1, c2, kept := &Category{}, &Category{}, &Category{Id: 5}
	product := &Product{Category: c1}
	tag := &Tag{}
	entries := setState(t, sm, orbit.Added, c1, c2, kept, product, tag)

	req.Equal(-1, c1.Id)
	req.Equal(-2, c2.Id)
	req.Equal(5, kept.Id)
	req.Equal(-1, product.Id)
	req.Equal(-1, product.CategoryId)
	req.Equal([]*Product{product}, c1.Products)
	req.NotEqual(uuid.Nil, tag.Id)

	id, err := entries[0].Property("Id")
	req.NoError(err)
	req.True(id.IsTemporary())
	id, err = entries[2].Property("Id")
	req.NoError(err)
	req.False(id.IsTemporary())
	id, err = entries[4].Property("Id")
	req.NoError(err)
	req.False(id.IsTemporary())

	sm.AcceptAllChanges()
	id, err = entries[0].Property("Id")
	req.NoError(err)
	req.False(id.IsTemporary())
	req.Equal(orbit.Unchanged, entries[0].State())
}

func TestStateManager_CustomGenerator(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	calls := 0
	gen := tracking.GeneratorFunc(func(_ context.Context, p *metadata.Property) (any, bool, error) {
		calls++
		return 100 + calls, false, nil
	})
	sm := tracking.NewStateManager(newModel(t), tracking.WithValueGenerator(gen))

	category := &Category{}
	setState(t, sm, orbit.Added, category)
	req.Equal(101, category.Id)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	def := tracking.NewStateManager(newModel(t))
	err := def.SetStateContext(ctx, entryOf(t, def, &Category{}), orbit.Added)
	req.ErrorIs(err, context.Canceled)
	req.Empty(def.Entries())
}

func TestDefaultGenerator_Exhausted(t *testing.T) {
	t.Parallel()
	mb := builder.New()
	builder.Entity[Small](mb)
	builder.Entity[Tiny](mb)
	m, err := mb.Build()
	require.NoError(t, err)

	tests := []struct {
		name  string
		first any
		last  any
		count int
	}{
		{name: "Small", first: int8(-1), last: int8(-128), count: 128},
		{name: "Tiny", first: uint8(255), last: uint8(1), count: 255},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := require.New(t)
			p := m.FindEntityType(tt.name).FindProperty("Id")
			gen := tracking.NewDefaultGenerator()
			var last any
			for i := range tt.count {
				v, temporary, err := gen.Next(context.Background(), p)
				req.NoError(err)
				req.True(temporary)
				if i == 0 {
					req.Equal(tt.first, v)
				}
				last = v
			}
			req.Equal(tt.last, last)
			_, _, err := gen.Next(context.Background(), p)
			req.ErrorContains(err, "exhausted")
		})
	}
}

func TestStateManager_ShadowForeignKey(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	sm := tracking.NewStateManager(newModel(t))

	bigMak := &BigMak{}
	pickle := &Pickle{BigMak: bigMak}
	entries := setState(t, sm, orbit.Added, bigMak, pickle)

	fk, err := entries[1].Property("BigMakId")
	req.NoError(err)
	req.True(fk.Metadata().IsShadow())
	req.Equal(bigMak.Id, fk.CurrentValue())
	req.Equal([]*Pickle{pickle}, bigMak.Pickles)

	req.NoError(fk.SetValue(nil))
	req.Nil(pickle.BigMak)
	req.Empty(bigMak.Pickles)
}

func TestStateManager_ShadowValueOfUntrackedEntry(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sm := tracking.NewStateManager(newModel(t), tracking.WithLogger(logger))

	pickle := &Pickle{Id: 1}
	bigMak := &BigMak{Id: 3, Pickles: []*Pickle{pickle}}
	pe := entryOf(t, sm, pickle)
	setState(t, sm, orbit.Unchanged, bigMak)

	req.Equal(orbit.Unknown, pe.State())
	req.Same(bigMak, pickle.BigMak)
	fk, err := pe.Property("BigMakId")
	req.NoError(err)
	req.Equal(3, fk.CurrentValue())
	req.NotContains(buf.String(), "fixup write failed")
}

func TestStateManager_Transitions(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	sm := tracking.NewStateManager(newModel(t))

	added := &Category{Name: "new"}
	ae := setState(t, sm, orbit.Added, added)[0]
	req.NoError(ae.SetState(orbit.Deleted))
	req.Equal(orbit.Unknown, ae.State())
	_, ok := sm.TryGetEntry(added)
	req.False(ok)

	category := &Category{Id: 1, Name: "tools"}
	ce := setState(t, sm, orbit.Modified, category)[0]
	req.True(modified(t, ce, "Name"))
	req.False(modified(t, ce, "Id"))
	req.True(sm.HasChanges())

	req.NoError(ce.SetState(orbit.Unchanged))
	req.False(modified(t, ce, "Name"))
	req.False(sm.HasChanges())

	name, err := ce.Property("Name")
	req.NoError(err)
	req.NoError(name.SetValue("garden"))
	req.Equal(orbit.Modified, ce.State())
	name.SetModified(false)
	req.Equal(orbit.Unchanged, ce.State())

	_, err = ce.Property("Missing")
	req.True(orbit.IsNotFound(err))

	req.NoError(ce.SetState(orbit.Deleted))
	req.Len(sm.Entries(orbit.Deleted), 1)
	sm.AcceptAllChanges()
	req.Empty(sm.Entries())
}

func TestStateManager_Entries(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	sm := tracking.NewStateManager(newModel(t))

	a, b, c := &Category{Id: 1}, &Category{Id: 2}, &Category{Id: 3}
	setState(t, sm, orbit.Unchanged, a)
	setState(t, sm, orbit.Modified, b)
	setState(t, sm, orbit.Unchanged, c)

	var got []any
	for _, e := range sm.Entries() {
		got = append(got, e.Entity())
	}
	req.Equal([]any{a, b, c}, got)
	req.Len(sm.Entries(orbit.Unchanged), 2)
	req.Len(sm.Entries(orbit.Modified, orbit.Added), 1)

	sm.Clear()
	req.Empty(sm.Entries())
	req.Equal(orbit.Unknown, entryOf(t, sm, a).State())
}

func TestStateManager_DetectChanges(t *testing.T) {
	t.Parallel()
	tracked := func(t *testing.T) (*tracking.StateManager, *Category, *Category, *Product) {
		sm := tracking.NewStateManager(newModel(t))
		c1, c2 := &Category{Id: 1}, &Category{Id: 2}
		p := &Product{Id: 1, CategoryId: 1}
		setState(t, sm, orbit.Unchanged, c1, c2, p)
		require.Same(t, c1, p.Category)
		return sm, c1, c2, p
	}

	t.Run("scalar", func(t *testing.T) {
		t.Parallel()
		req := require.New(t)
		sm, _, _, p := tracked(t)
		req.False(sm.DetectChanges())
		p.Name = "hammer"
		req.True(sm.DetectChanges())
		pe := entryOf(t, sm, p)
		req.Equal(orbit.Modified, pe.State())
		req.True(modified(t, pe, "Name"))
		req.False(modified(t, pe, "CategoryId"))
	})
	t.Run("foreign key", func(t *testing.T) {
		t.Parallel()
		req := require.New(t)
		sm, c1, c2, p := tracked(t)
		p.CategoryId = 2
		req.True(sm.DetectChanges())
		req.Same(c2, p.Category)
		req.Empty(c1.Products)
		req.Equal([]*Product{p}, c2.Products)
		req.True(modified(t, entryOf(t, sm, p), "CategoryId"))
	})
	t.Run("reference", func(t *testing.T) {
		t.Parallel()
		req := require.New(t)
		sm, c1, c2, p := tracked(t)
		p.Category = c2
		req.True(sm.DetectChanges())
		req.Equal(2, p.CategoryId)
		req.Empty(c1.Products)
		req.Equal([]*Product{p}, c2.Products)
	})
	t.Run("collection", func(t *testing.T) {
		t.Parallel()
		req := require.New(t)
		sm, c1, c2, p := tracked(t)
		c1.Products = nil
		c2.Products = append(c2.Products, p)
		req.True(sm.DetectChanges())
		req.Equal(2, p.CategoryId)
		req.Same(c2, p.Category)
		pe := entryOf(t, sm, p)
		req.Equal(orbit.Modified, pe.State())
		req.True(modified(t, pe, "CategoryId"))
		req.False(sm.DetectChanges())
	})
}

func TestStateManager_PrincipalKeyChanged(t *testing.T) {
	t.Parallel()
	tracked := func(t *testing.T) (*tracking.StateManager, *Category, *Product, *Product) {
		sm := tracking.NewStateManager(newModel(t))
		category := &Category{Id: 1}
		linked, loose := &Product{Id: 1, CategoryId: 1}, &Product{Id: 2, CategoryId: 1}
		setState(t, sm, orbit.Unchanged, linked, category)
		require.Same(t, category, linked.Category)
		return sm, category, linked, loose
	}

	t.Run("detect", func(t *testing.T) {
		t.Parallel()
		req := require.New(t)
		sm, category, linked, _ := tracked(t)
		category.Id = 5
		req.True(sm.DetectChanges())
		req.Equal(5, linked.CategoryId)
		req.Same(category, linked.Category)
		req.Equal([]*Product{linked}, category.Products)
		pe := entryOf(t, sm, linked)
		req.Equal(orbit.Modified, pe.State())
		req.True(modified(t, pe, "CategoryId"))
		req.False(sm.DetectChanges())
	})
	t.Run("set value", func(t *testing.T) {
		t.Parallel()
		req := require.New(t)
		sm, category, linked, loose := tracked(t)
		ce := entryOf(t, sm, category)
		id, err := ce.Property("Id")
		req.NoError(err)
		req.NoError(id.SetValue(9))
		req.Equal(9, category.Id)
		req.Equal(9, linked.CategoryId)
		req.Equal(1, loose.CategoryId)
		req.Same(category, linked.Category)
		req.Nil(loose.Category)
	})
}

func TestEntry_Navigations(t *testing.T) {
	t.Parallel()
	req := require.New(t)
	sm := tracking.NewStateManager(newModel(t))
	c1, c2 := &Category{Id: 1}, &Category{Id: 2}
	p := &Product{Id: 1, CategoryId: 1}
	entries := setState(t, sm, orbit.Unchanged, c1, c2, p)
	pe := entries[2]

	ref, err := pe.Reference("Category")
	req.NoError(err)
	req.Same(c1, ref)
	members, err := entries[0].Collection("Products")
	req.NoError(err)
	req.Equal([]any{p}, members)

	req.NoError(pe.SetReference("Category", c2))
	req.Equal(2, p.CategoryId)
	req.Empty(c1.Products)
	req.Equal([]*Product{p}, c2.Products)

	fk, err := pe.Property("CategoryId")
	req.NoError(err)
	req.NoError(fk.SetValue(1))
	req.Same(c1, p.Category)
	req.Empty(c2.Products)

	_, err = pe.Collection("Category")
	req.True(orbit.IsConfigurationConflict(err))
	_, err = pe.Reference("Missing")
	req.True(orbit.IsNotFound(err))
	req.ErrorIs(pe.SetReference("Category", &Product{}), orbit.ErrInvalidEntity)
}

func TestStateManager_Logger(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	sm := tracking.NewStateManager(newModel(t), tracking.WithLogger(logger))

	_, product := inconsistent()
	setState(t, sm, orbit.Unchanged, product)
	assert.Contains(t, buf.String(), "entity tracked")
	assert.Contains(t, buf.String(), "fixup deferred")
}
