package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"pses-auth/internal/telemetry"
	telemetrydomain "pses-auth/internal/telemetry/domain"
)

const (
	eventSignup           = telemetrydomain.EventSignup
	eventFinalize         = telemetrydomain.EventFinalize
	eventLogin            = telemetrydomain.EventLogin
	eventResetRequested   = telemetrydomain.EventPasswordResetIssue
	eventReset            = telemetrydomain.EventPasswordReset
	eventResetByHint      = telemetrydomain.EventPasswordResetByHint
	eventPasswordChange   = telemetrydomain.EventPasswordChange
	eventUsernameRegister = telemetrydomain.EventUsernameRegister
	eventProfileBackfill  = telemetrydomain.EventProfileBackfill
)

// emit publishes the outcome of one operation asynchronously. err == nil is a success.
func (s *AuthService) emit(ctx context.Context, eventType, username, externalID string, err error) {
	if s.events == nil {
		return
	}
	ev := &telemetrydomain.AuthEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Username:   username,
		ExternalID: externalID,
		Success:    err == nil,
		Reason:     Reason(err),
		OccurredAt: s.now(),
	}
	if s.clientIP != nil {
		ev.IP = s.clientIP(ctx)
	}
	telemetry.EmitAsync(s.events, ctx, ev)
}

// Reason returns a short, stable label for err suitable for events and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrUsernameTaken):
		return "username_taken"
	case errors.Is(err, ErrUsernameConflict):
		return "username_conflict"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrNotVerified):
		return "not_verified"
	case errors.Is(err, ErrInvalidOrExpiredToken):
		return "invalid_or_expired_token"
	case errors.Is(err, ErrAccountNotVerified):
		return "account_not_verified"
	case errors.Is(err, ErrNoEmailOnFile):
		return "no_email_on_file"
	case errors.Is(err, ErrPendingSignupNotFound):
		return "pending_signup_not_found"
	case errors.Is(err, ErrCredentialsNotFound):
		return "credentials_not_found"
	case errors.Is(err, ErrIdentityMismatch):
		return "identity_mismatch"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable"
	default:
		return "internal_error"
	}
}
