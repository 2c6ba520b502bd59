package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsErrorType(t *testing.T) {
	notFound := NewNotFoundError(ErrCodeSuggestionNotFound, "Suggestion not found")

	t.Run("direct", func(t *testing.T) {
		assert.True(t, IsErrorType(notFound, ErrorTypeNotFound))
		assert.False(t, IsErrorType(notFound, ErrorTypeValidation))
	})

	t.Run("wrapped with %w", func(t *testing.T) {
		wrapped := fmt.Errorf("loading suggestion: %w", notFound)
		assert.True(t, IsErrorType(wrapped, ErrorTypeNotFound))
		assert.False(t, IsErrorType(wrapped, ErrorTypeInvalidState))
	})

	t.Run("wrapped twice", func(t *testing.T) {
		wrapped := fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", notFound))
		assert.True(t, IsErrorType(wrapped, ErrorTypeNotFound))
	})

	t.Run("plain error", func(t *testing.T) {
		assert.False(t, IsErrorType(errors.New("boom"), ErrorTypeNotFound))
		assert.False(t, IsErrorType(nil, ErrorTypeNotFound))
	})
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp refused")
	external := NewExternalError(ErrCodeRecommenderError, "Recommender unavailable", cause)

	assert.True(t, errors.Is(external, cause))
	assert.Contains(t, external.Error(), "dial tcp refused")
}
