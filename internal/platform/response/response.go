// Package response provides JSON response helpers for API handlers.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"pses-auth/internal/platform/apierrors"
)

// ErrorBody is the body of every failed response.
type ErrorBody struct {
	OK    bool                 `json:"ok"`
	Error *apierrors.APIError `json:"error"`
}

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response: encode failed", "error", err)
	}
}

// OK writes a 200 response. Bodies are flat objects carrying "ok": true.
func OK(w http.ResponseWriter, v any) {
	JSON(w, http.StatusOK, v)
}

// Error writes err as {"ok":false,"error":{code,message}}. Errors that are not APIErrors become INTERNAL_ERROR.
func Error(w http.ResponseWriter, err error) {
	apiErr := apierrors.AsAPIError(err)
	JSON(w, apiErr.StatusCode, ErrorBody{Error: apiErr})
}

// Unauthorized writes a 401 error response.
func Unauthorized(w http.ResponseWriter) {
	Error(w, apierrors.ErrUnauthorized)
}

// BadRequest writes a 400 validation error with message.
func BadRequest(w http.ResponseWriter, message string) {
	Error(w, apierrors.ErrValidation.WithMessage(message))
}

// ValidationError writes a 400 validation error for one field.
func ValidationError(w http.ResponseWriter, field, message string) {
	Error(w, apierrors.NewValidationError(field, message))
}

// ValidationErrors writes a 400 validation error with one message per field.
func ValidationErrors(w http.ResponseWriter, fields map[string]string) {
	Error(w, apierrors.NewValidationErrors(fields))
}
