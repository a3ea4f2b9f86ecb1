package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pses-auth/internal/platform/apierrors"
)

func TestOK(t *testing.T) {
	rec := httptest.NewRecorder()
	OK(rec, map[string]any{"ok": true, "username": "alice"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"ok":true,"username":"alice"}`, rec.Body.String())
}

func TestError_APIError(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, apierrors.ErrUsernameTaken)

	assert.Equal(t, http.StatusConflict, rec.Code)
	var body struct {
		OK    bool `json:"ok"`
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.OK)
	assert.Equal(t, "USERNAME_TAKEN", body.Error.Code)
	assert.NotEmpty(t, body.Error.Message)
}

func TestError_UnknownIsInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, errors.New("db exploded"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"INTERNAL_ERROR"`)
	assert.NotContains(t, rec.Body.String(), "db exploded")
}

func TestValidationError(t *testing.T) {
	rec := httptest.NewRecorder()
	ValidationError(rec, "username", "username is required")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t,
		`{"ok":false,"error":{"code":"VALIDATION_ERROR","message":"username is required","details":{"field":"username"}}}`,
		rec.Body.String())
}
