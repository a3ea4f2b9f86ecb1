package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// DefaultTokenDelays is the wait before each identity token attempt.
var DefaultTokenDelays = []time.Duration{0, 400 * time.Millisecond, 1200 * time.Millisecond}

// IdentitySource returns a fresh identity token from the external identity provider.
type IdentitySource interface {
	IDToken(ctx context.Context) (string, error)
}

// IdentitySourceFunc adapts a function to IdentitySource.
type IdentitySourceFunc func(ctx context.Context) (string, error)

// IDToken calls f.
func (f IdentitySourceFunc) IDToken(ctx context.Context) (string, error) { return f(ctx) }

// TokenUnavailableError is returned once every identity token attempt has failed.
type TokenUnavailableError struct {
	Attempts int
	Err      error
}

func (e *TokenUnavailableError) Error() string {
	return fmt.Sprintf("identity token unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TokenUnavailableError) Unwrap() error { return e.Err }

type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// Transient marks err as worth retrying.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err}
}

// IsTransient reports whether err is a network failure, a provider 5xx or 429, or was marked Transient.
func IsTransient(err error) bool {
	if errors.As(err, new(transientError)) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.Response != nil {
		code := rErr.Response.StatusCode
		return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
	}
	return false
}

// FetchIDToken asks src for a token, waiting delays[i] before attempt i. Only transient failures
// are retried; a permanent failure is returned as is.
func FetchIDToken(ctx context.Context, src IdentitySource, delays []time.Duration) (string, error) {
	if len(delays) == 0 {
		delays = DefaultTokenDelays
	}
	var lastErr error
	for i, d := range delays {
		if d > 0 {
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return "", ctx.Err()
			case <-t.C:
			}
		}
		token, err := src.IDToken(ctx)
		if err == nil && token != "" {
			return token, nil
		}
		if err == nil {
			err = Transient(errors.New("empty identity token"))
		}
		if !IsTransient(err) {
			return "", err
		}
		lastErr = err
		if i == len(delays)-1 {
			break
		}
	}
	return "", &TokenUnavailableError{Attempts: len(delays), Err: lastErr}
}

// RefreshTokenSource mints identity tokens from an OAuth2 refresh token. The provider must return
// the identity token as the "id_token" field of the token response.
type RefreshTokenSource struct {
	ts oauth2.TokenSource
}

// NewRefreshTokenSource returns a source refreshing through cfg's token endpoint. Tokens are cached
// until they expire.
func NewRefreshTokenSource(ctx context.Context, cfg *oauth2.Config, refreshToken string) *RefreshTokenSource {
	return &RefreshTokenSource{ts: cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})}
}

// IDToken returns the current identity token, refreshing when needed.
func (s *RefreshTokenSource) IDToken(ctx context.Context) (string, error) {
	tok, err := s.ts.Token()
	if err != nil {
		return "", err
	}
	id, _ := tok.Extra("id_token").(string)
	if id == "" {
		return "", Transient(errors.New("token response has no id_token"))
	}
	return id, nil
}

// StaticIdentity returns the same token every time, for callers that already hold one.
func StaticIdentity(token string) IdentitySource {
	return IdentitySourceFunc(func(context.Context) (string, error) {
		if token == "" {
			return "", errors.New("no identity token")
		}
		return token, nil
	})
}

// EmailVerified reads the email_verified claim from an identity token without checking its
// signature. It only decides whether polling can stop; the server verifies the token on finalize.
func EmailVerified(idToken string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return false
	}
	switch v := claims["email_verified"].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	if p, _ := claims["phone_number"].(string); p != "" {
		return true
	}
	return false
}
