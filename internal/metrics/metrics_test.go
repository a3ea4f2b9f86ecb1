package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pses-auth/internal/telemetry/domain"
)

func TestMiddlewareCountsByRoute(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Post("/login", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusUnauthorized) })

	for i := 0; i < 2; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/login", nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope/123", nil))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("POST", "/login", "401")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

func TestEmitCountsAuthEvents(t *testing.T) {
	m := New()
	ctx := context.Background()
	require.NoError(t, m.Emit(ctx, &domain.AuthEvent{Type: domain.EventLogin, Success: true}))
	require.NoError(t, m.Emit(ctx, &domain.AuthEvent{Type: domain.EventLogin, Reason: "invalid_credentials"}))
	require.NoError(t, m.Emit(ctx, nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.authEventsTotal.WithLabelValues("login", "true", "none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authEventsTotal.WithLabelValues("login", "false", "invalid_credentials")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	require.NoError(t, m.Emit(context.Background(), &domain.AuthEvent{Type: domain.EventSignup, Success: true}))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "pses_auth_events_total"), body)
	assert.Contains(t, body, "go_goroutines")
}
