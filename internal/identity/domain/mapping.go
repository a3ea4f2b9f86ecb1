package domain

import "time"

// IdentityMapping binds a username to exactly one external identity.
// Once asserted, rebinding the username to another ExternalID is a conflict.
type IdentityMapping struct {
	Username   string
	ExternalID string
	Email      string
	Provider   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
