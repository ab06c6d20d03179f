package orbit_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/orbit"
)

func TestConfigurationConflictError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := orbit.NewConfigurationConflictError("Customer", "Name", "property is ignored")
		assert.Equal(t, "orbit: configuration conflict on type Customer member Name: property is ignored", err.Error())
	})

	t.Run("ErrorWithCause", func(t *testing.T) {
		err := orbit.WrapConfigurationConflictError(orbit.ErrReadOnlyModel, "Order", "", "bad key")
		assert.Equal(t, "orbit: configuration conflict on type Order: bad key: orbit: model is read-only", err.Error())
		assert.Contains(t, err.Error(), "model is read-only")
		assert.True(t, errors.Is(err, orbit.ErrReadOnlyModel))
	})

	t.Run("IsConfigurationConflict", func(t *testing.T) {
		err := orbit.NewConfigurationConflictError("Order", "Customer", "duplicate navigation")
		assert.True(t, orbit.IsConfigurationConflict(err))
		assert.True(t, orbit.IsConfigurationConflict(fmt.Errorf("wrapper: %w", err)))
		assert.True(t, orbit.IsConfigurationConflict(orbit.ErrConfigurationConflict))
		assert.False(t, orbit.IsConfigurationConflict(errors.New("other error")))
		assert.False(t, orbit.IsConfigurationConflict(nil))
	})
}

func TestTypeMismatchError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := orbit.NewTypeMismatchError("Order", []string{"CustomerId"}, "Customer", []string{"Id"}, "string != int")
		assert.Equal(t, "orbit: foreign key {CustomerId} on Order does not match key {Id} on Customer: string != int", err.Error())
	})

	t.Run("Is", func(t *testing.T) {
		err := orbit.NewTypeMismatchError("Order", nil, "Customer", nil, "count")
		assert.True(t, errors.Is(err, orbit.ErrTypeMismatch))
		assert.True(t, orbit.IsTypeMismatch(fmt.Errorf("wrapper: %w", err)))
		assert.False(t, orbit.IsTypeMismatch(orbit.ErrNotFound))
	})
}

func TestNullabilityError(t *testing.T) {
	err := orbit.NewNullabilityError("Product", "CategoryId")
	assert.Equal(t, "orbit: relationship on Product cannot be optional: foreign key properties {CategoryId} are not nullable", err.Error())
	assert.True(t, errors.Is(err, orbit.ErrNullability))
	assert.True(t, orbit.IsNullability(err))
	assert.False(t, orbit.IsNullability(nil))
}

func TestNotFoundError(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		err := orbit.NewNotFoundError("named configuration", "Reporting")
		assert.Equal(t, `orbit: named configuration "Reporting" not found`, err.Error())
		assert.Equal(t, "named configuration", err.Kind())
		assert.Equal(t, "Reporting", err.Name())
	})

	t.Run("IsNotFound", func(t *testing.T) {
		err := orbit.NewNotFoundError("entity type", "Customer")
		assert.True(t, orbit.IsNotFound(err))

		// Wrapped error
		wrapped := fmt.Errorf("wrapper: %w", err)
		assert.True(t, orbit.IsNotFound(wrapped))

		// Sentinel error
		assert.True(t, orbit.IsNotFound(orbit.ErrNotFound))

		// Non-matching error
		assert.False(t, orbit.IsNotFound(errors.New("other error")))
		assert.False(t, orbit.IsNotFound(nil))
	})
}

func TestReentrancyError(t *testing.T) {
	err := orbit.NewReentrancyError("Session.Model")
	assert.Equal(t, "orbit: Session.Model called while the model is being built", err.Error())
	assert.True(t, errors.Is(err, orbit.ErrReentrancy))
	assert.True(t, orbit.IsReentrancy(fmt.Errorf("wrapper: %w", err)))
	assert.False(t, orbit.IsReentrancy(errors.New("other error")))
}

func TestAggregateError(t *testing.T) {
	t.Run("NoErrors", func(t *testing.T) {
		assert.NoError(t, orbit.NewAggregateError())
		assert.NoError(t, orbit.NewAggregateError(nil, nil))
	})

	t.Run("SingleError", func(t *testing.T) {
		err := errors.New("only")
		assert.Equal(t, err, orbit.NewAggregateError(nil, err))
	})

	t.Run("MultipleErrors", func(t *testing.T) {
		conflict := orbit.NewConfigurationConflictError("A", "", "first")
		mismatch := orbit.NewTypeMismatchError("B", nil, "C", nil, "second")
		err := orbit.NewAggregateError(conflict, mismatch)
		require.Error(t, err)

		var agg *orbit.AggregateError
		require.True(t, errors.As(err, &agg))
		assert.Len(t, agg.Errors, 2)
		assert.Contains(t, err.Error(), "multiple errors")
		assert.Contains(t, err.Error(), "[1]")
		assert.Contains(t, err.Error(), "[2]")
		assert.True(t, orbit.IsConfigurationConflict(err))
		assert.True(t, orbit.IsTypeMismatch(err))
	})

	t.Run("EmptyAggregate", func(t *testing.T) {
		agg := &orbit.AggregateError{}
		assert.Equal(t, "orbit: no errors", agg.Error())
	})
}
