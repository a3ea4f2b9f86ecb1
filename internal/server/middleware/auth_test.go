package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pses-auth/internal/externalid"
	"pses-auth/internal/identity/domain"
	"pses-auth/internal/security"
)

type stubVerifier map[string]*domain.ExternalIdentity

func (s stubVerifier) Verify(_ context.Context, raw string) (*domain.ExternalIdentity, error) {
	if id, ok := s[raw]; ok {
		return id, nil
	}
	return nil, externalid.ErrInvalidIdentityToken
}

func newIssuer(t *testing.T) *security.TokenIssuer {
	t.Helper()
	tokens, err := security.NewTokenIssuer([]byte("test-secret"), "pses-auth", time.Hour, 30*time.Minute)
	require.NoError(t, err)
	return tokens
}

func serve(h http.Handler, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRequireSession(t *testing.T) {
	tokens := newIssuer(t)
	token, _, err := tokens.MintSession(security.SessionClaims{Username: "alice"})
	require.NoError(t, err)

	var got string
	h := RequireSession(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := Session(r.Context())
		require.True(t, ok)
		got = claims.Username
	}))

	assert.Equal(t, http.StatusOK, serve(h, token).Code)
	assert.Equal(t, "alice", got)

	rec := serve(h, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), `"UNAUTHORIZED"`)
	assert.Equal(t, http.StatusUnauthorized, serve(h, "garbage").Code)
}

func TestRequireExternalIdentity(t *testing.T) {
	v := stubVerifier{"good": {ExternalID: "ext-1", EmailVerified: true}}
	var got string
	h := RequireExternalIdentity(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, ok := ExternalIdentity(r.Context())
		require.True(t, ok)
		got = ident.ExternalID
	}))

	assert.Equal(t, http.StatusOK, serve(h, "good").Code)
	assert.Equal(t, "ext-1", got)
	assert.Equal(t, http.StatusUnauthorized, serve(h, "bad").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(RequireExternalIdentity(nil)(h), "good").Code)
}

func TestRequireIdentityOrSession(t *testing.T) {
	tokens := newIssuer(t)
	session, _, err := tokens.MintSession(security.SessionClaims{Username: "bob"})
	require.NoError(t, err)
	v := stubVerifier{"ext": {ExternalID: "ext-2"}}

	var kind string
	h := RequireIdentityOrSession(v, tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := Session(r.Context()); ok {
			kind = "session"
		}
		if _, ok := ExternalIdentity(r.Context()); ok {
			kind = "identity"
		}
	}))

	assert.Equal(t, http.StatusOK, serve(h, session).Code)
	assert.Equal(t, "session", kind)
	assert.Equal(t, http.StatusOK, serve(h, "ext").Code)
	assert.Equal(t, "identity", kind)
	assert.Equal(t, http.StatusUnauthorized, serve(h, "neither").Code)
}

type downVerifier struct{}

func (downVerifier) Verify(context.Context, string) (*domain.ExternalIdentity, error) {
	return nil, fmt.Errorf("%w: dial tcp: connection refused", externalid.ErrProviderUnavailable)
}

func TestIdentityProviderOutageIs503(t *testing.T) {
	tokens := newIssuer(t)
	session, _, err := tokens.MintSession(security.SessionClaims{Username: "bob"})
	require.NoError(t, err)
	reached := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { reached = true })

	for name, h := range map[string]http.Handler{
		"identity only":       RequireExternalIdentity(downVerifier{})(next),
		"identity or session": RequireIdentityOrSession(downVerifier{}, tokens)(next),
	} {
		t.Run(name, func(t *testing.T) {
			rec := serve(h, "some-token")
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			assert.Contains(t, rec.Body.String(), `"UPSTREAM_UNAVAILABLE"`)
		})
	}
	assert.False(t, reached)

	rec := serve(RequireIdentityOrSession(downVerifier{}, tokens)(next), session)
	assert.Equal(t, http.StatusOK, rec.Code, "session tokens never reach the provider")
	assert.True(t, reached)
}

func TestClientIPContext(t *testing.T) {
	var got string
	h := ClientIPContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIP(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:54321"
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "203.0.113.9", got)
	assert.Equal(t, "::1", HostOnly("[::1]:80"))
	assert.Equal(t, "10.0.0.1", HostOnly("10.0.0.1"))
}
