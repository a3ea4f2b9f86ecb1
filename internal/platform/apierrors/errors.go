// Package apierrors defines the error codes returned by the HTTP API.
package apierrors

import (
	"errors"
	"net/http"
)

// APIError is the machine-readable error rendered under "error" in every failed response.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Details    any    `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// WithMessage returns a copy of the error with a custom message.
func (e *APIError) WithMessage(message string) *APIError {
	cp := *e
	cp.Message = message
	return &cp
}

// WithDetails returns a copy of the error with additional details.
func (e *APIError) WithDetails(details any) *APIError {
	cp := *e
	cp.Details = details
	return &cp
}

func newErr(code string, status int, message string) *APIError {
	return &APIError{Code: code, Message: message, StatusCode: status}
}

var (
	ErrValidation            = newErr("VALIDATION_ERROR", http.StatusBadRequest, "Invalid request")
	ErrUsernameTaken         = newErr("USERNAME_TAKEN", http.StatusConflict, "Username is already taken")
	ErrUsernameConflict      = newErr("USERNAME_CONFLICT", http.StatusConflict, "Username is linked to a different account")
	ErrInvalidCredentials    = newErr("INVALID_CREDENTIALS", http.StatusUnauthorized, "Invalid username or password")
	ErrNotVerified           = newErr("NOT_VERIFIED", http.StatusForbidden, "Account is not verified")
	ErrInvalidOrExpiredToken = newErr("INVALID_OR_EXPIRED_TOKEN", http.StatusBadRequest, "Reset link is invalid or has expired")
	ErrAccountNotVerified    = newErr("ACCOUNT_NOT_VERIFIED", http.StatusForbidden, "Account is not verified; password reset is unavailable")
	ErrNoEmailOnFile         = newErr("NO_EMAIL_ON_FILE", http.StatusBadRequest, "No email address on file for this account")
	ErrPendingSignupNotFound = newErr("PENDING_SIGNUP_NOT_FOUND", http.StatusNotFound, "No pending signup found for this username")
	ErrCredentialsNotFound   = newErr("CREDENTIALS_NOT_FOUND", http.StatusNotFound, "No account found for this email or username")
	ErrIdentityMismatch      = newErr("IDENTITY_MISMATCH", http.StatusForbidden, "Signed-in identity does not match this account")
	ErrUsernameNotFound      = newErr("USERNAME_NOT_FOUND", http.StatusNotFound, "Username not found")
	ErrProfileNotFound       = newErr("PROFILE_NOT_FOUND", http.StatusNotFound, "Profile not found")
	ErrUnauthorized          = newErr("UNAUTHORIZED", http.StatusUnauthorized, "Authentication required")
	ErrUpstreamUnavailable   = newErr("UPSTREAM_UNAVAILABLE", http.StatusServiceUnavailable, "Service temporarily unavailable")
	ErrRateLimited           = newErr("RATE_LIMITED", http.StatusTooManyRequests, "Too many requests. Please try again later.")
	ErrNotFound              = newErr("NOT_FOUND", http.StatusNotFound, "Resource not found")
	ErrMethodNotAllowed      = newErr("METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed, "Method not allowed")
	ErrInternal              = newErr("INTERNAL_ERROR", http.StatusInternalServerError, "An internal error occurred")
)

// NewValidationError creates a validation error for a specific field.
func NewValidationError(field, message string) *APIError {
	return ErrValidation.WithMessage(message).WithDetails(map[string]string{"field": field})
}

// NewValidationErrors creates a validation error with one message per field.
func NewValidationErrors(fields map[string]string) *APIError {
	return ErrValidation.WithMessage("One or more fields failed validation").WithDetails(fields)
}

// AsAPIError returns err as an APIError, or ErrInternal when it is not one.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return ErrInternal
}
