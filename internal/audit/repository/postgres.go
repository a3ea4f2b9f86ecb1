package repository

import (
	"context"
	"database/sql"

	"pses-auth/internal/audit/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository backed by the audit_logs table.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const insertAuditLog = `
INSERT INTO audit_logs (id, event_type, username, external_id, ip, success, reason, occurred_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING`

// Create persists a. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	_, err := r.db.ExecContext(ctx, insertAuditLog,
		a.ID, a.EventType, nullString(a.Username), nullString(a.ExternalID), a.IP,
		a.Success, nullString(a.Reason), a.OccurredAt, a.CreatedAt)
	return err
}

const listAuditLogsByUsername = `
SELECT id, event_type, username, external_id, ip, success, reason, occurred_at, created_at
FROM audit_logs
WHERE username = $1
ORDER BY occurred_at DESC
LIMIT $2`

// ListByUsername returns up to limit entries for username, newest first.
func (r *PostgresRepository) ListByUsername(ctx context.Context, username string, limit int) ([]*domain.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, listAuditLogsByUsername, username, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		var a domain.AuditLog
		var user, externalID, reason sql.NullString
		if err := rows.Scan(&a.ID, &a.EventType, &user, &externalID, &a.IP, &a.Success, &reason, &a.OccurredAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Username, a.ExternalID, a.Reason = user.String, externalID.String, reason.String
		out = append(out, &a)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
