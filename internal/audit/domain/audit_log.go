package domain

import "time"

// AuditLog is one persisted auth event.
type AuditLog struct {
	ID         string
	EventType  string
	Username   string
	ExternalID string
	IP         string
	Success    bool
	Reason     string
	OccurredAt time.Time
	CreatedAt  time.Time
}
