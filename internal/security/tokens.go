package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// TokenTypeSession marks session tokens minted at login.
	TokenTypeSession = "session"
	// TokenTypePasswordReset marks single-use password reset tokens.
	TokenTypePasswordReset = "pwreset"

	// DefaultResetTTL is how long a reset link stays valid.
	DefaultResetTTL = 30 * time.Minute
)

var (
	// ErrInvalidToken is returned when a token is malformed, expired, or of the wrong type.
	ErrInvalidToken = errors.New("invalid token")
	// ErrEmptySecret is returned by NewTokenIssuer when no signing secret is configured.
	ErrEmptySecret = errors.New("security: token signing secret is empty")
)

// SessionClaims holds JWT claims for a session token.
// Subject is the external identity id, or the credential id when none is linked.
type SessionClaims struct {
	jwt.RegisteredClaims
	Type          string   `json:"typ"`
	Username      string   `json:"username"`
	Email         string   `json:"email,omitempty"`
	EmailVerified bool     `json:"email_verified"`
	Providers     []string `json:"providers"`
}

// ResetClaims holds JWT claims for a password reset token. ID carries the random nonce (jti).
type ResetClaims struct {
	jwt.RegisteredClaims
	Type     string `json:"typ"`
	Username string `json:"username"`
}

// TokenIssuer mints and verifies HS256 session and reset tokens. There is no
// server-side session record: validity is signature plus expiry.
type TokenIssuer struct {
	secret     []byte
	issuer     string
	sessionTTL time.Duration
	resetTTL   time.Duration
	now        func() time.Time
}

// NewTokenIssuer returns a TokenIssuer signing with secret. Non-positive TTLs
// fall back to 7 days for sessions and DefaultResetTTL for reset tokens.
func NewTokenIssuer(secret []byte, issuer string, sessionTTL, resetTTL time.Duration) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if sessionTTL <= 0 {
		sessionTTL = 7 * 24 * time.Hour
	}
	if resetTTL <= 0 {
		resetTTL = DefaultResetTTL
	}
	return &TokenIssuer{
		secret:     secret,
		issuer:     issuer,
		sessionTTL: sessionTTL,
		resetTTL:   resetTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetClock overrides the issuer's clock. For tests.
func (p *TokenIssuer) SetClock(now func() time.Time) {
	p.now = now
}

// ResetTTL returns the reset token lifetime.
func (p *TokenIssuer) ResetTTL() time.Duration { return p.resetTTL }

// Mint signs claims as a session token valid for ttl. Type, issuer, iat and exp are set here.
func (p *TokenIssuer) Mint(claims SessionClaims, ttl time.Duration) (string, time.Time, error) {
	now := p.now()
	expiresAt := now.Add(ttl)
	claims.Type = TokenTypeSession
	claims.Issuer = p.issuer
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	token, err := p.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// MintSession signs claims with the configured session lifetime.
func (p *TokenIssuer) MintSession(claims SessionClaims) (string, time.Time, error) {
	return p.Mint(claims, p.sessionTTL)
}

// VerifySession parses and validates a session token (signature, alg, exp, iss, typ).
func (p *TokenIssuer) VerifySession(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	if err := p.parse(tokenString, claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Type != TokenTypeSession || claims.Username == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// MintReset issues a reset token for username. Returns the token and its expiry.
func (p *TokenIssuer) MintReset(username string) (string, time.Time, error) {
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := p.now()
	expiresAt := now.Add(p.resetTTL)
	claims := ResetClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Type:     TokenTypePasswordReset,
		Username: username,
	}
	token, err := p.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// VerifyReset parses and validates a reset token (signature, alg, exp, iss, typ).
// It does not check the stored hash; callers compare against the credential.
func (p *TokenIssuer) VerifyReset(tokenString string) (*ResetClaims, error) {
	claims := &ResetClaims{}
	if err := p.parse(tokenString, claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Type != TokenTypePasswordReset || claims.Username == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (p *TokenIssuer) sign(claims jwt.Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(p.secret)
}

func (p *TokenIssuer) parse(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return err
	}
	if !token.Valid {
		return ErrInvalidToken
	}
	return nil
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
