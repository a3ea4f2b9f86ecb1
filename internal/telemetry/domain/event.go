package domain

import "time"

// Auth event types, one per reconciliation outcome.
const (
	EventSignup              = "signup"
	EventFinalize            = "finalize"
	EventLogin               = "login"
	EventPasswordResetIssue  = "password_reset_requested"
	EventPasswordReset       = "password_reset"
	EventPasswordResetByHint = "password_reset_by_hint"
	EventPasswordChange      = "password_change"
	EventUsernameRegister    = "username_register"
	EventProfileBackfill     = "profile_verified_backfill"
)

// AuthEvent records the outcome of one auth operation. Reason is the error code on failure.
type AuthEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Username   string    `json:"username,omitempty"`
	ExternalID string    `json:"external_id,omitempty"`
	IP         string    `json:"ip,omitempty"`
	Success    bool      `json:"success"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
