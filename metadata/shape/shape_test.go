package shape_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/orbit"
	"github.com/syssam/orbit/metadata/shape"
)

type audit struct {
	CreatedAt time.Time
	UpdatedAt *time.Time
}

type Category struct {
	Id       int
	Name     string
	Products []*Product
}

type Product struct {
	audit
	Id         int
	Token      uuid.UUID
	Name       string
	Price      *float64
	CategoryId int
	Category   *Category
	Tags       map[string]string
	note       string //nolint:unused
	Cached     string `orbit:"-"`
}

func TestOf(t *testing.T) {
	t.Parallel()

	st := shape.Of[Product]()
	assert.Equal(t, "Product", st.Name())
	assert.True(t, st.HasStruct())
	assert.Equal(t, reflect.TypeFor[Product](), st.Reflect())
	assert.Equal(t, st, shape.FromReflect(reflect.TypeFor[*Product]()))

	named := shape.Named("Invoice")
	assert.Equal(t, "Invoice", named.Name())
	assert.False(t, named.HasStruct())
	assert.Empty(t, named.Members())
	assert.True(t, shape.Type{}.IsZero())
	assert.Panics(t, func() { shape.FromReflect(reflect.TypeFor[int]()) })
}

func TestMembers(t *testing.T) {
	t.Parallel()

	ms := shape.Of[Product]().Members()
	var names []string
	kinds := make(map[string]shape.MemberKind)
	for _, m := range ms {
		names = append(names, m.Name)
		kinds[m.Name] = m.Kind
	}
	assert.Equal(t, []string{"CreatedAt", "UpdatedAt", "Id", "Token", "Name", "Price", "CategoryId", "Category"}, names)
	assert.Equal(t, shape.Scalar, kinds["CreatedAt"])
	assert.Equal(t, shape.Scalar, kinds["Token"])
	assert.Equal(t, shape.Reference, kinds["Category"])

	m, ok := shape.Of[Category]().Member("Products")
	require.True(t, ok)
	assert.Equal(t, shape.Collection, m.Kind)
	assert.Equal(t, reflect.TypeFor[Product](), m.Target)
	assert.True(t, m.Nullable())

	m, ok = shape.Of[Product]().Member("UpdatedAt")
	require.True(t, ok)
	assert.Equal(t, []int{0, 1}, m.Index)
	assert.True(t, m.Nullable())

	_, ok = shape.Of[Product]().Member("Cached")
	assert.False(t, ok)
}

func TestTypeHelpers(t *testing.T) {
	t.Parallel()

	intType := reflect.TypeFor[int]()
	assert.False(t, shape.Nullable(intType))
	assert.Equal(t, reflect.TypeFor[*int](), shape.MakeNullable(intType))
	assert.Equal(t, reflect.TypeFor[*int](), shape.MakeNullable(reflect.TypeFor[*int]()))
	assert.Equal(t, intType, shape.Underlying(reflect.TypeFor[*int]()))
	assert.True(t, shape.IsScalar(reflect.TypeFor[[]byte]()))
	assert.True(t, shape.IsScalar(reflect.TypeFor[uuid.UUID]()))
	assert.False(t, shape.IsScalar(reflect.TypeFor[Category]()))
	assert.Equal(t, "collection", shape.Collection.String())
}

func TestAccessors(t *testing.T) {
	t.Parallel()

	t.Run("Indirect", func(t *testing.T) {
		_, err := shape.Indirect(Product{})
		require.ErrorIs(t, err, orbit.ErrInvalidEntity)
		_, err = shape.Indirect((*Product)(nil))
		require.ErrorIs(t, err, orbit.ErrInvalidEntity)
	})

	t.Run("GetSet", func(t *testing.T) {
		p := &Product{CategoryId: 7}
		v, err := shape.Indirect(p)
		require.NoError(t, err)

		idx := []int{5}
		assert.Equal(t, 7, shape.Get(v, idx))
		require.NoError(t, shape.Set(v, idx, 1))
		assert.Equal(t, 1, p.CategoryId)

		price := []int{4}
		assert.Nil(t, shape.Get(v, price))
		require.NoError(t, shape.Set(v, price, 9.5))
		require.NotNil(t, p.Price)
		assert.Equal(t, 9.5, *p.Price)
		assert.Equal(t, 9.5, shape.Get(v, price))
		require.NoError(t, shape.Set(v, price, nil))
		assert.Nil(t, p.Price)

		require.Error(t, shape.Set(v, idx, "seven"))
	})

	t.Run("Collections", func(t *testing.T) {
		c := &Category{}
		p := &Product{}
		v, err := shape.Indirect(c)
		require.NoError(t, err)

		idx := []int{2}
		assert.True(t, shape.Append(v, idx, p))
		assert.False(t, shape.Append(v, idx, p))
		assert.Len(t, c.Products, 1)
		assert.True(t, shape.Contains(v, idx, p))
		assert.Equal(t, []any{p}, shape.Elements(v, idx))
		assert.True(t, shape.Remove(v, idx, p))
		assert.False(t, shape.Remove(v, idx, p))
		assert.Empty(t, c.Products)
	})

	t.Run("References", func(t *testing.T) {
		c := &Category{}
		p := &Product{}
		v, err := shape.Indirect(p)
		require.NoError(t, err)

		idx := []int{6}
		assert.Nil(t, shape.ReferenceOf(v, idx))
		shape.SetReference(v, idx, c)
		assert.Same(t, c, p.Category)
		assert.Equal(t, any(c), shape.ReferenceOf(v, idx))
		shape.SetReference(v, idx, nil)
		assert.Nil(t, p.Category)
	})
}

func TestEqual(t *testing.T) {
	t.Parallel()

	assert.True(t, shape.Equal(nil, nil))
	assert.False(t, shape.Equal(nil, 1))
	assert.True(t, shape.Equal(1, 1))
	assert.False(t, shape.Equal(1, int64(1)))
	assert.True(t, shape.Equal([]byte("a"), []byte("a")))
	assert.False(t, shape.Equal([]byte("a"), "a"))
}
