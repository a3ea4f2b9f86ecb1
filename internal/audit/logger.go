package audit

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"pses-auth/internal/audit/domain"
	auditrepo "pses-auth/internal/audit/repository"
	telemetrydomain "pses-auth/internal/telemetry/domain"
)

// UnknownIP is recorded when an event carries no client address.
const UnknownIP = "unknown"

// Logger writes auth events to the audit log. It implements telemetry.EventEmitter so the server
// can persist events directly, and its Emit is the sink of the Kafka audit worker.
type Logger struct {
	repo auditrepo.Repository
	now  func() time.Time
}

// NewLogger returns a Logger that persists to repo.
func NewLogger(repo auditrepo.Repository) *Logger {
	return &Logger{repo: repo, now: time.Now}
}

// Emit converts ev to an audit row and stores it. Events without an ID get one.
func (l *Logger) Emit(ctx context.Context, ev *telemetrydomain.AuthEvent) error {
	if ev == nil {
		return nil
	}
	if l.repo == nil {
		return errors.New("audit: no repository configured")
	}
	return l.repo.Create(ctx, FromEvent(ev, l.now().UTC()))
}

// LogEvent is the best-effort form of Emit: failures are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, ev *telemetrydomain.AuthEvent) {
	if l == nil || l.repo == nil || ev == nil {
		return
	}
	if err := l.Emit(ctx, ev); err != nil {
		log.Printf("audit: failed to log event %s for %q: %v", ev.Type, ev.Username, err)
	}
}

// FromEvent maps an auth event onto an audit row created at createdAt.
func FromEvent(ev *telemetrydomain.AuthEvent, createdAt time.Time) *domain.AuditLog {
	id := ev.ID
	if id == "" {
		id = uuid.New().String()
	}
	ip := ev.IP
	if ip == "" {
		ip = UnknownIP
	}
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = createdAt
	}
	return &domain.AuditLog{
		ID:         id,
		EventType:  ev.Type,
		Username:   ev.Username,
		ExternalID: ev.ExternalID,
		IP:         ip,
		Success:    ev.Success,
		Reason:     ev.Reason,
		OccurredAt: occurred.UTC(),
		CreatedAt:  createdAt,
	}
}
