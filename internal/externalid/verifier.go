// Package externalid verifies identity tokens issued by the external identity provider
// and reduces them to the few fields the reconciliation engine reads.
package externalid

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"pses-auth/internal/identity/domain"
)

// ErrInvalidIdentityToken is returned when an identity token is missing, malformed, or fails verification.
var ErrInvalidIdentityToken = errors.New("externalid: invalid identity token")

// ErrProviderUnavailable is returned when a token could not be checked because the provider's
// signing keys were unreachable. The token itself may be fine.
var ErrProviderUnavailable = errors.New("externalid: identity provider unavailable")

// Verifier turns a raw bearer token from the identity provider into an ExternalIdentity.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*domain.ExternalIdentity, error)
}

// identityFromClaims maps provider claims onto an ExternalIdentity. Subject comes from
// "user_id" when present, else "sub". The sign-in provider is read from the nested
// "firebase.sign_in_provider" claim, falling back to a top-level "sign_in_provider".
func identityFromClaims(claims map[string]interface{}) (*domain.ExternalIdentity, error) {
	id := &domain.ExternalIdentity{
		ExternalID:    stringClaim(claims, "user_id"),
		Email:         strings.TrimSpace(stringClaim(claims, "email")),
		EmailVerified: boolClaim(claims, "email_verified"),
		PhoneNumber:   stringClaim(claims, "phone_number"),
	}
	if id.ExternalID == "" {
		id.ExternalID = stringClaim(claims, "sub")
	}
	if fb, ok := claims["firebase"].(map[string]interface{}); ok {
		id.SignInProvider = stringClaim(fb, "sign_in_provider")
	}
	if id.SignInProvider == "" {
		id.SignInProvider = stringClaim(claims, "sign_in_provider")
	}
	if id.ExternalID == "" {
		return nil, ErrInvalidIdentityToken
	}
	return id, nil
}

// classifyVerifyError separates key-fetch and transport failures from tokens that are bad.
func classifyVerifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "fetching keys") || strings.Contains(msg, "get keys failed") {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return ErrInvalidIdentityToken
}

func stringClaim(claims map[string]interface{}, key string) string {
	s, _ := claims[key].(string)
	return s
}

func boolClaim(claims map[string]interface{}, key string) bool {
	switch v := claims[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header value.
// The scheme match is case-insensitive. Returns "" when absent.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
