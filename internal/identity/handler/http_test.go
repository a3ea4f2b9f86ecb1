package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pses-auth/internal/externalid"
	"pses-auth/internal/identity/domain"
	"pses-auth/internal/identity/repository"
	"pses-auth/internal/identity/service"
	policyengine "pses-auth/internal/policy/engine"
	"pses-auth/internal/security"
)

type stubVerifier map[string]*domain.ExternalIdentity

func (s stubVerifier) Verify(_ context.Context, raw string) (*domain.ExternalIdentity, error) {
	if id, ok := s[raw]; ok {
		return id, nil
	}
	return nil, externalid.ErrInvalidIdentityToken
}

type apiHarness struct {
	router http.Handler
	repo   *repository.MemoryRepository
	tokens *security.TokenIssuer
}

func newAPIHarness(t *testing.T, verifier stubVerifier) *apiHarness {
	t.Helper()
	tokens, err := security.NewTokenIssuer([]byte("handler-test-secret"), "pses-auth", time.Hour, 30*time.Minute)
	require.NoError(t, err)
	policy, err := policyengine.NewOPAEvaluator(context.Background(), "")
	require.NoError(t, err)
	repo := repository.NewMemoryRepository()
	svc, err := service.NewAuthService(service.Deps{
		Repo:       repo,
		Hasher:     security.NewHasher(4),
		Tokens:     tokens,
		Policy:     policy,
		AppBaseURL: "http://localhost:5173/reset-password",
	})
	require.NoError(t, err)

	h := NewAuthHandler(svc, Options{Verifier: verifier, Tokens: tokens})
	return &apiHarness{router: h.Routes(), repo: repo, tokens: tokens}
}

func do(t *testing.T, h http.Handler, method, path, bearer string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func errorCode(t *testing.T, body map[string]any) string {
	t.Helper()
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "no error object in %v", body)
	code, _ := e["code"].(string)
	return code
}

func TestSignupFinalizeLoginMe(t *testing.T) {
	h := newAPIHarness(t, stubVerifier{
		"id-token": {ExternalID: "ext-1", Email: "alice@example.com", EmailVerified: true, SignInProvider: "password"},
	})

	rec, body := do(t, h.router, http.MethodPost, "/signup", "", map[string]any{
		"username": "Alice", "password": "secret1", "preferredLanguage": "en",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, true, body["pending"])

	rec, body = do(t, h.router, http.MethodPost, "/login", "", map[string]any{"username": "alice", "password": "secret1"})
	assert.Contains(t, []int{http.StatusUnauthorized, http.StatusForbidden}, rec.Code)

	rec, body = do(t, h.router, http.MethodPost, "/finalize", "id-token", map[string]any{
		"username": "alice", "preferences": map[string]any{"spokenLanguage": "hi"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["verified"])
	assert.Equal(t, "alice", body["username"])

	rec, body = do(t, h.router, http.MethodPost, "/login", "", map[string]any{"username": "ALICE", "password": "secret1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	claims, err := h.tokens.VerifySession(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)

	rec, body = do(t, h.router, http.MethodGet, "/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	user := body["user"].(map[string]any)
	assert.Equal(t, "alice", user["username"])
	assert.Equal(t, "alice@example.com", user["email"])

	rec, body = do(t, h.router, http.MethodGet, "/profile", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	profile := body["profile"].(map[string]any)
	assert.Equal(t, true, profile["verified"])
	assert.Equal(t, "hi", profile["preferences"].(map[string]any)["spokenLanguage"])
	assert.Equal(t, "en", profile["preferences"].(map[string]any)["preferredLanguage"])
}

func TestResetRequestConfirmDevLink(t *testing.T) {
	h := newAPIHarness(t, stubVerifier{
		"id-token": {ExternalID: "ext-1", Email: "bob@example.com", EmailVerified: true},
	})
	do(t, h.router, http.MethodPost, "/signup", "", map[string]any{"username": "bob", "password": "oldpass"})
	rec, _ := do(t, h.router, http.MethodPost, "/finalize", "id-token", map[string]any{"username": "bob"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := do(t, h.router, http.MethodPost, "/password-reset/request", "", map[string]any{"username": "bob"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	link, _ := body["devLink"].(string)
	require.NotEmpty(t, link)
	u, err := url.Parse(link)
	require.NoError(t, err)
	token := u.Query().Get("resetToken")
	require.NotEmpty(t, token)

	rec, _ = do(t, h.router, http.MethodPost, "/password-reset/confirm", "", map[string]any{"token": token, "newPassword": "newpass"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, body = do(t, h.router, http.MethodPost, "/password-reset/confirm", "", map[string]any{"token": token, "newPassword": "again1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_OR_EXPIRED_TOKEN", errorCode(t, body))

	rec, _ = do(t, h.router, http.MethodPost, "/login", "", map[string]any{"username": "bob", "password": "oldpass"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = do(t, h.router, http.MethodPost, "/login", "", map[string]any{"username": "bob", "password": "newpass"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestErrorsOnTheWire(t *testing.T) {
	h := newAPIHarness(t, stubVerifier{
		"ext-a": {ExternalID: "A", Email: "a@example.com", EmailVerified: true},
		"ext-b": {ExternalID: "B", Email: "b@example.com", EmailVerified: true},
	})
	do(t, h.router, http.MethodPost, "/signup", "", map[string]any{"username": "alice", "password": "secret1"})
	rec, _ := do(t, h.router, http.MethodPost, "/finalize", "ext-a", map[string]any{"username": "alice"})
	require.Equal(t, http.StatusOK, rec.Code)

	tests := []struct {
		name   string
		method string
		path   string
		bearer string
		body   any
		status int
		code   string
	}{
		{"signup taken", http.MethodPost, "/signup", "", map[string]any{"username": "alice", "password": "secret1"}, http.StatusConflict, "USERNAME_TAKEN"},
		{"signup missing password", http.MethodPost, "/signup", "", map[string]any{"username": "carol"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"signup short password", http.MethodPost, "/signup", "", map[string]any{"username": "carol", "password": "123"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"finalize conflict", http.MethodPost, "/finalize", "ext-b", map[string]any{"username": "alice"}, http.StatusConflict, "USERNAME_CONFLICT"},
		{"finalize no pending", http.MethodPost, "/finalize", "ext-b", map[string]any{"username": "nobody"}, http.StatusNotFound, "PENDING_SIGNUP_NOT_FOUND"},
		{"finalize without identity", http.MethodPost, "/finalize", "", map[string]any{"username": "alice"}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"finalize bad identity", http.MethodPost, "/finalize", "forged", map[string]any{"username": "alice"}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"login wrong password", http.MethodPost, "/login", "", map[string]any{"username": "alice", "password": "nope12"}, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"me without session", http.MethodGet, "/me", "", nil, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"confirm bad token", http.MethodPost, "/password-reset/confirm", "", map[string]any{"token": "x.y.z", "newPassword": "secret2"}, http.StatusBadRequest, "INVALID_OR_EXPIRED_TOKEN"},
		{"resolve unknown", http.MethodPost, "/usernames/resolve", "", map[string]any{"username": "ghost"}, http.StatusNotFound, "USERNAME_NOT_FOUND"},
		{"hint mismatch", http.MethodPost, "/password-reset/confirm-by-hint", "ext-b", map[string]any{"username": "alice", "newPassword": "secret9"}, http.StatusForbidden, "IDENTITY_MISMATCH"},
		{"hint missing target", http.MethodPost, "/password-reset/confirm-by-hint", "ext-a", map[string]any{"newPassword": "secret9"}, http.StatusBadRequest, "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, h.router, tt.method, tt.path, tt.bearer, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, errorCode(t, body))
		})
	}

	t.Run("mapping untouched after conflict", func(t *testing.T) {
		rec, body := do(t, h.router, http.MethodPost, "/usernames/resolve", "", map[string]any{"username": "alice"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "A", body["externalId"])
	})
}

func TestInvalidJSON(t *testing.T) {
	h := newAPIHarness(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"VALIDATION_ERROR"`)
}

func TestRegisterUsernameAndProfileBackfill(t *testing.T) {
	h := newAPIHarness(t, stubVerifier{
		"google": {ExternalID: "g-1", Email: "dev@example.com", EmailVerified: true, SignInProvider: "google.com"},
	})

	rec, body := do(t, h.router, http.MethodPost, "/usernames/register", "google", map[string]any{"username": "devi"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "g-1", body["externalId"])
	assert.Equal(t, "google", body["provider"])

	rec, body = do(t, h.router, http.MethodGet, "/profile", "google", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, body["profile"].(map[string]any)["verified"])

	p, err := h.repo.GetProfileByExternalID(context.Background(), "g-1")
	require.NoError(t, err)
	assert.True(t, p.Verified, "backfill is persisted")
}

func TestRegisterUsername_UnverifiedIdentityForbidden(t *testing.T) {
	h := newAPIHarness(t, stubVerifier{
		"unverified": {ExternalID: "m-1", Email: "mallory@example.com", SignInProvider: "password"},
	})

	rec, body := do(t, h.router, http.MethodPost, "/usernames/register", "unverified",
		map[string]any{"username": "mallory", "email": "attacker@evil.test"})
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	assert.Equal(t, "NOT_VERIFIED", errorCode(t, body))

	rec, _ = do(t, h.router, http.MethodPost, "/password-reset/request", "", map[string]any{"username": "mallory"})
	assert.NotEqual(t, http.StatusOK, rec.Code, rec.Body.String())
	m, err := h.repo.GetMappingByUsername(context.Background(), "mallory")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestStoreUnavailableIs503(t *testing.T) {
	h := newAPIHarness(t, nil)
	failing := &failingRepo{MemoryRepository: h.repo}
	svc, err := service.NewAuthService(service.Deps{
		Repo:   failing,
		Hasher: security.NewHasher(4),
		Tokens: h.tokens,
		Policy: mustPolicy(t),
	})
	require.NoError(t, err)
	router := NewAuthHandler(svc, Options{Tokens: h.tokens}).Routes()

	rec, body := do(t, router, http.MethodPost, "/login", "", map[string]any{"username": "alice", "password": "secret1"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "UPSTREAM_UNAVAILABLE", errorCode(t, body))
}

type failingRepo struct {
	*repository.MemoryRepository
}

func (f *failingRepo) GetCredential(ctx context.Context, username string) (*domain.Credential, error) {
	return nil, repository.ErrUnavailable
}

func mustPolicy(t *testing.T) policyengine.Evaluator {
	t.Helper()
	p, err := policyengine.NewOPAEvaluator(context.Background(), "")
	require.NoError(t, err)
	return p
}

func TestToAPIError(t *testing.T) {
	assert.Equal(t, "INTERNAL_ERROR", toAPIError(errors.New("boom")).Code)
	assert.Equal(t, "UNAUTHORIZED", toAPIError(externalid.ErrInvalidIdentityToken).Code)
	assert.Equal(t, "UPSTREAM_UNAVAILABLE", toAPIError(externalid.ErrProviderUnavailable).Code)
	joined := errors.Join(service.ErrUpstreamUnavailable, repository.ErrUnavailable)
	assert.Equal(t, http.StatusServiceUnavailable, toAPIError(joined).StatusCode)

	verr := &service.ValidationError{Field: "username", Message: "username is required"}
	apiErr := toAPIError(verr)
	assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)
	assert.Equal(t, "username is required", apiErr.Message)
}

func TestRateLimitOptionWrapsLimitedRoutes(t *testing.T) {
	var hits []string
	limit := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits = append(hits, chi.RouteContext(r.Context()).RoutePattern())
			next.ServeHTTP(w, r)
		})
	}
	tokens, err := security.NewTokenIssuer([]byte("s"), "pses-auth", time.Hour, 30*time.Minute)
	require.NoError(t, err)
	router := NewAuthHandler(nil, Options{Tokens: tokens, RateLimit: limit}).Routes()

	do(t, router, http.MethodPost, "/login", "", map[string]any{})
	do(t, router, http.MethodPost, "/signup", "", map[string]any{})
	assert.Equal(t, []string{"/login"}, hits)
}
