package externalid

import (
	"context"

	"github.com/golang-jwt/jwt/v5"

	"pses-auth/internal/identity/domain"
)

// InsecureDecoder reads identity claims without checking the signature. It exists for local
// development against a provider emulator; config refuses it when APP_ENV=production.
type InsecureDecoder struct{}

// Verify decodes rawToken's payload. Only structure and a subject are checked.
func (InsecureDecoder) Verify(ctx context.Context, rawToken string) (*domain.ExternalIdentity, error) {
	if rawToken == "" {
		return nil, ErrInvalidIdentityToken
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawToken, claims); err != nil {
		return nil, ErrInvalidIdentityToken
	}
	return identityFromClaims(claims)
}
