package service

import (
	"errors"

	"pses-auth/internal/identity/repository"
)

// Sentinel errors for the auth service; the HTTP handler maps them to API error codes.
var (
	ErrValidation            = errors.New("validation failed")
	ErrUsernameTaken         = errors.New("username already taken")
	ErrUsernameConflict      = errors.New("username is linked to a different identity")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrNotVerified           = errors.New("account not verified")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	ErrAccountNotVerified    = errors.New("account not verified; cannot reset password")
	ErrNoEmailOnFile         = errors.New("no email on file for this account")
	ErrPendingSignupNotFound = errors.New("no pending signup for this username")
	ErrCredentialsNotFound   = errors.New("no account found for this email or username")
	ErrIdentityMismatch      = errors.New("identity does not match the account")
	ErrUsernameNotFound      = errors.New("username not found")
	ErrProfileNotFound       = errors.New("profile not found")
	ErrUpstreamUnavailable   = errors.New("account store unavailable")
)

// ValidationError carries the message shown to the caller. It matches ErrValidation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Message: err.Error()}
}

func invalidf(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// storeErr translates repository failures. Unreachable stores become ErrUpstreamUnavailable;
// other errors are returned unchanged.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrUnavailable) {
		return errors.Join(ErrUpstreamUnavailable, err)
	}
	return err
}

// bindErr is storeErr for writes where a uniqueness violation means the username belongs to someone else.
func bindErr(err error) error {
	if errors.Is(err, repository.ErrDuplicate) {
		return ErrUsernameConflict
	}
	return storeErr(err)
}
