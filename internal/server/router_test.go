package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pses-auth/internal/health"
	"pses-auth/internal/identity/handler"
	"pses-auth/internal/identity/repository"
	"pses-auth/internal/identity/service"
	"pses-auth/internal/metrics"
	policyengine "pses-auth/internal/policy/engine"
	"pses-auth/internal/ratelimit"
	"pses-auth/internal/security"
)

func newRouter(t *testing.T, limiter *ratelimit.Limiter) (http.Handler, *repository.MemoryRepository) {
	t.Helper()
	tokens, err := security.NewTokenIssuer([]byte("router-test-secret"), "pses-auth", time.Hour, 30*time.Minute)
	require.NoError(t, err)
	policy, err := policyengine.NewOPAEvaluator(context.Background(), "")
	require.NoError(t, err)
	repo := repository.NewMemoryRepository()
	svc, err := service.NewAuthService(service.Deps{Repo: repo, Hasher: security.NewHasher(4), Tokens: tokens, Policy: policy})
	require.NoError(t, err)

	auth := handler.NewAuthHandler(svc, handler.Options{Tokens: tokens, RateLimit: RateLimit(limiter)})
	return NewRouter(Deps{
		Auth:        auth,
		Health:      health.NewHandler(repo, policy),
		Metrics:     metrics.New(),
		CORSOrigins: []string{"http://localhost:5173"},
	}), repo
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	router, repo := newRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"SERVING"`)

	repo.PingErr = repository.ErrUnavailable
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pses_auth_http_requests_total")
}

func TestRouter_NotFoundAndRequestID(t *testing.T) {
	router, _ := newRouter(t, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"NOT_FOUND"`)
}

func TestRouter_CORSPreflight(t *testing.T) {
	router, _ := newRouter(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/login", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_LoginRateLimited(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	router, _ := newRouter(t, ratelimit.NewLimiter(client, 2, time.Minute))
	var codes []int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = "198.51.100.4:1234"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusBadRequest, http.StatusBadRequest, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodPost, "/signup", nil)
	req.RemoteAddr = "198.51.100.4:1234"
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "signup is not limited")
}
