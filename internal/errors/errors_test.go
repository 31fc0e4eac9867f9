package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderDefaults(t *testing.T) {
	t.Parallel()

	err := Newf("something broke").Build()
	assert.Equal(t, "something broke", err.Error())
	assert.Equal(t, ComponentUnknown, err.Component)
	assert.Equal(t, CategoryGeneric, err.Category)
}

func TestBuilderFields(t *testing.T) {
	t.Parallel()

	err := Newf("lookup failed for %s", "Corvus corax").
		Category(CategoryNetwork).
		Component("gbif").
		Context("name", "Corvus corax").
		Build()

	assert.Equal(t, "lookup failed for Corvus corax", err.Error())
	assert.Equal(t, "gbif", err.Component)
	assert.Equal(t, CategoryNetwork, err.Category)

	ctx := err.GetContext()
	require.NotNil(t, ctx)
	assert.Equal(t, "Corvus corax", ctx["name"])

	// Mutating the copy must not leak back into the error.
	ctx["name"] = "mutated"
	assert.Equal(t, "Corvus corax", err.GetContext()["name"])
}

func TestUnwrapPreservesCause(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("connection refused")
	err := New(cause).Category(CategoryNetwork).Build()
	assert.Equal(t, cause, Unwrap(err))
	assert.True(t, Is(err, cause))
}

func TestIsCategory(t *testing.T) {
	t.Parallel()

	err := Newf("no match").Category(CategoryNotFound).Build()
	wrapped := fmt.Errorf("outer: %w", err)

	assert.True(t, IsCategory(wrapped, CategoryNotFound))
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsCategory(wrapped, CategoryDatabase))
	assert.False(t, IsNotFound(fmt.Errorf("plain")))
}

func TestRetryableByCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		category  ErrorCategory
		retryable bool
	}{
		{"network is transient", CategoryNetwork, true},
		{"timeout is transient", CategoryTimeout, true},
		{"rate limit is transient", CategoryLimit, true},
		{"not found is terminal", CategoryNotFound, false},
		{"validation is terminal", CategoryValidation, false},
		{"database is terminal", CategoryDatabase, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Newf("boom").Category(tt.category).Build()
			assert.Equal(t, tt.retryable, IsRetryable(err))
		})
	}
}

func TestRetryableOverride(t *testing.T) {
	t.Parallel()

	// Explicit flag beats the category default in both directions.
	err := Newf("boom").Category(CategoryNetwork).Retryable(false).Build()
	assert.False(t, IsRetryable(err))

	err = Newf("boom").Category(CategoryValidation).Retryable(true).Build()
	assert.True(t, IsRetryable(err))
}

func TestRetryablePlainErrors(t *testing.T) {
	t.Parallel()

	assert.True(t, IsRetryable(fmt.Errorf("plain transport error")))
	assert.False(t, IsRetryable(nil))
}
