package repository

import (
	"context"

	"pses-auth/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	// Create inserts a; an existing row with the same ID is left unchanged so redelivered events are harmless.
	Create(ctx context.Context, a *domain.AuditLog) error
	// ListByUsername returns the newest entries for username first.
	ListByUsername(ctx context.Context, username string, limit int) ([]*domain.AuditLog, error)
}
