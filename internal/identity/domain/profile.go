package domain

import "time"

// Profile is the per-external-identity account record. It must agree with the
// IdentityMapping on Username; Verified gates password login.
type Profile struct {
	ExternalID  string
	Email       string
	Username    string
	Preferences Preferences
	Verified    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
