package externalid

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coreos/go-oidc/v3/oidc"

	"pses-auth/internal/identity/domain"
)

// OIDCVerifier verifies provider ID tokens against the issuer's published keys.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
	clientID string
}

// NewOIDCVerifier performs OIDC discovery against issuerURL. Tokens must list clientID in their audience.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %s: %w", issuerURL, err)
	}
	// Audience is checked by hand so that both string and array "aud" forms are accepted.
	verifier := provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
	return &OIDCVerifier{verifier: verifier, clientID: clientID}, nil
}

// Verify checks signature, issuer, expiry and audience, then maps claims to an ExternalIdentity.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*domain.ExternalIdentity, error) {
	if rawToken == "" {
		return nil, ErrInvalidIdentityToken
	}
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		slog.Warn("identity token verification failed", "error", err)
		return nil, classifyVerifyError(err)
	}
	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, ErrInvalidIdentityToken
	}
	if !v.audienceValid(idToken.Audience) {
		slog.Warn("identity token audience mismatch", "audience", idToken.Audience, "client_id", v.clientID)
		return nil, ErrInvalidIdentityToken
	}
	return identityFromClaims(claims)
}

func (v *OIDCVerifier) audienceValid(aud []string) bool {
	if v.clientID == "" {
		return true
	}
	for _, a := range aud {
		if a == v.clientID {
			return true
		}
	}
	return false
}
