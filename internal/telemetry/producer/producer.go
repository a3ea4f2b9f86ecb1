// Package producer publishes auth events to a message broker and reads them back for the audit worker.
package producer

import (
	"context"

	"pses-auth/internal/telemetry/domain"
)

// Producer emits auth events. Callers use it best-effort: log and ignore errors.
type Producer interface {
	// Emit sends a single event. Implementations may block briefly; call from a goroutine if needed.
	Emit(ctx context.Context, event *domain.AuthEvent) error
	// Close releases resources (e.g. Kafka writer). Safe to call if already closed.
	Close() error
}
