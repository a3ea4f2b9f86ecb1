package apierrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsAPIError(t *testing.T) {
	assert.Same(t, ErrUsernameTaken, AsAPIError(ErrUsernameTaken))
	assert.Same(t, ErrIdentityMismatch, AsAPIError(fmt.Errorf("wrapped: %w", ErrIdentityMismatch)))
	assert.Same(t, ErrInternal, AsAPIError(errors.New("boom")))
}

func TestWithMessageCopies(t *testing.T) {
	custom := ErrValidation.WithMessage("username is required")
	assert.Equal(t, "username is required", custom.Message)
	assert.Equal(t, "Invalid request", ErrValidation.Message, "shared sentinel must not change")
	assert.Equal(t, http.StatusBadRequest, custom.StatusCode)
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("password", "password must be at least 6 characters")
	assert.Equal(t, "VALIDATION_ERROR", err.Code)
	assert.Equal(t, map[string]string{"field": "password"}, err.Details)
}
