package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"pses-auth/internal/externalid"
	"pses-auth/internal/identity/service"
	"pses-auth/internal/platform/apierrors"
	"pses-auth/internal/platform/response"
)

// Upstream unavailability is checked first: a store failure is joined with the underlying error.
var sentinels = []struct {
	err error
	api *apierrors.APIError
}{
	{service.ErrUpstreamUnavailable, apierrors.ErrUpstreamUnavailable},
	{externalid.ErrProviderUnavailable, apierrors.ErrUpstreamUnavailable},
	{service.ErrUsernameTaken, apierrors.ErrUsernameTaken},
	{service.ErrUsernameConflict, apierrors.ErrUsernameConflict},
	{service.ErrInvalidCredentials, apierrors.ErrInvalidCredentials},
	{service.ErrNotVerified, apierrors.ErrNotVerified},
	{service.ErrInvalidOrExpiredToken, apierrors.ErrInvalidOrExpiredToken},
	{service.ErrAccountNotVerified, apierrors.ErrAccountNotVerified},
	{service.ErrNoEmailOnFile, apierrors.ErrNoEmailOnFile},
	{service.ErrPendingSignupNotFound, apierrors.ErrPendingSignupNotFound},
	{service.ErrCredentialsNotFound, apierrors.ErrCredentialsNotFound},
	{service.ErrIdentityMismatch, apierrors.ErrIdentityMismatch},
	{service.ErrUsernameNotFound, apierrors.ErrUsernameNotFound},
	{service.ErrProfileNotFound, apierrors.ErrProfileNotFound},
	{externalid.ErrInvalidIdentityToken, apierrors.ErrUnauthorized},
}

// toAPIError maps a service error onto its wire code. Unknown errors become INTERNAL_ERROR.
func toAPIError(err error) *apierrors.APIError {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		return apierrors.NewValidationError(verr.Field, verr.Message)
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.api
		}
	}
	if errors.Is(err, service.ErrValidation) {
		return apierrors.ErrValidation
	}
	return apierrors.ErrInternal
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := toAPIError(err)
	switch {
	case apiErr == apierrors.ErrInternal:
		slog.Error("request failed", "path", r.URL.Path, "request_id", chimiddleware.GetReqID(r.Context()), "error", err)
	case apiErr.StatusCode >= http.StatusInternalServerError:
		slog.Warn("request failed upstream", "path", r.URL.Path, "request_id", chimiddleware.GetReqID(r.Context()), "error", err)
	}
	response.Error(w, apiErr)
}

// jsonName lower-cases the first letter of a Go field name, which matches the camelCase json tags.
func jsonName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

func validationMessage(fe validator.FieldError) string {
	name := jsonName(fe.Field())
	switch fe.Tag() {
	case "required":
		return name + " is required"
	case "required_without":
		return name + " is required when " + jsonName(fe.Param()) + " is empty"
	case "email":
		return name + " must be a valid email address"
	}
	return name + " is invalid"
}
