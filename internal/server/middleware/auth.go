package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"pses-auth/internal/externalid"
	"pses-auth/internal/platform/apierrors"
	"pses-auth/internal/platform/response"
	"pses-auth/internal/security"
)

// RequireSession rejects requests without a valid session bearer token and stores the
// claims in the request context.
func RequireSession(tokens *security.TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := sessionFrom(tokens, r)
			if !ok {
				response.Unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), claims)))
		})
	}
}

// RequireExternalIdentity rejects requests without a bearer token the identity provider
// vouches for and stores the resulting identity in the request context.
func RequireExternalIdentity(v externalid.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := externalid.BearerToken(r.Header.Get("Authorization"))
			if raw == "" || v == nil {
				response.Unauthorized(w)
				return
			}
			ident, err := v.Verify(r.Context(), raw)
			if err != nil {
				rejectIdentity(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithExternalIdentity(r.Context(), ident)))
		})
	}
}

// RequireIdentityOrSession accepts either bearer kind. A valid session token is tried first
// since it is checked locally; otherwise the token goes to the identity provider.
func RequireIdentityOrSession(v externalid.Verifier, tokens *security.TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, ok := sessionFrom(tokens, r); ok {
				next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), claims)))
				return
			}
			raw := externalid.BearerToken(r.Header.Get("Authorization"))
			if raw == "" || v == nil {
				response.Unauthorized(w)
				return
			}
			ident, err := v.Verify(r.Context(), raw)
			if err != nil {
				rejectIdentity(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithExternalIdentity(r.Context(), ident)))
		})
	}
}

func sessionFrom(tokens *security.TokenIssuer, r *http.Request) (*security.SessionClaims, bool) {
	raw := externalid.BearerToken(r.Header.Get("Authorization"))
	if raw == "" || tokens == nil {
		return nil, false
	}
	claims, err := tokens.VerifySession(raw)
	if err != nil {
		return nil, false
	}
	return claims, true
}

// rejectIdentity answers 401 for a bad token and 503 when the provider could not be consulted.
func rejectIdentity(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, externalid.ErrInvalidIdentityToken) {
		slog.Debug("identity token rejected", "path", r.URL.Path, "error", err)
		response.Unauthorized(w)
		return
	}
	slog.Warn("identity token verification failed", "path", r.URL.Path, "error", err)
	response.Error(w, apierrors.ErrUpstreamUnavailable)
}
