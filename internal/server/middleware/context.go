// Package middleware holds the HTTP middleware shared by the auth API routes.
package middleware

import (
	"context"

	"pses-auth/internal/identity/domain"
	"pses-auth/internal/security"
)

type contextKey struct{ name string }

var (
	clientIPKey = contextKey{"client_ip"}
	sessionKey  = contextKey{"session"}
	identityKey = contextKey{"external_identity"}
)

// WithClientIP returns a context carrying the caller's IP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the caller's IP from ctx, or "" if not set.
func ClientIP(ctx context.Context) string {
	v, _ := ctx.Value(clientIPKey).(string)
	return v
}

// WithSession returns a context carrying verified session claims.
func WithSession(ctx context.Context, claims *security.SessionClaims) context.Context {
	return context.WithValue(ctx, sessionKey, claims)
}

// Session returns the verified session claims from ctx and true if set.
func Session(ctx context.Context) (*security.SessionClaims, bool) {
	v, ok := ctx.Value(sessionKey).(*security.SessionClaims)
	return v, ok && v != nil
}

// WithExternalIdentity returns a context carrying a verified external identity.
func WithExternalIdentity(ctx context.Context, ident *domain.ExternalIdentity) context.Context {
	return context.WithValue(ctx, identityKey, ident)
}

// ExternalIdentity returns the verified external identity from ctx and true if set.
func ExternalIdentity(ctx context.Context) (*domain.ExternalIdentity, bool) {
	v, ok := ctx.Value(identityKey).(*domain.ExternalIdentity)
	return v, ok && v != nil
}
