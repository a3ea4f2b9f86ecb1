package domain

import (
	"slices"
	"time"
)

// Provider names recorded on credentials and mappings.
const (
	ProviderPassword = "password"
	ProviderGoogle   = "google"
	ProviderPhone    = "phone"
)

// Credential is the password-login record for a username.
// ResetTokenHash and ResetTokenExpiresAt are set together and cleared together.
type Credential struct {
	ID                  string
	Username            string
	PasswordHash        string // empty until a password-based path is finalized
	Providers           []string
	Email               string
	PhoneNumber         string
	Verified            bool
	ResetTokenHash      string
	ResetTokenExpiresAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasProvider reports whether p is among the credential's providers.
func (c *Credential) HasProvider(p string) bool {
	return slices.Contains(c.Providers, p)
}

// AddProvider appends p if not already present.
func (c *Credential) AddProvider(p string) {
	if !c.HasProvider(p) {
		c.Providers = append(c.Providers, p)
	}
}

// ClearReset drops any outstanding reset token.
func (c *Credential) ClearReset() {
	c.ResetTokenHash = ""
	c.ResetTokenExpiresAt = nil
}

// ResetActive reports whether a reset token is stored and has not expired at now.
func (c *Credential) ResetActive(now time.Time) bool {
	if c.ResetTokenHash == "" || c.ResetTokenExpiresAt == nil {
		return false
	}
	return !c.ResetTokenExpiresAt.Before(now)
}
