package telemetry

import (
	"context"
	"errors"
	"log"

	"pses-auth/internal/telemetry/domain"
)

// EventEmitter emits auth events (Kafka, OTel logs, audit table). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.AuthEvent) error
}

// Fanout emits every event to each non-nil emitter and joins their errors.
type Fanout []EventEmitter

// Emit implements EventEmitter.
func (f Fanout) Emit(ctx context.Context, event *domain.AuthEvent) error {
	var errs []error
	for _, e := range f {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogEmitter writes each event to the standard logger. It backs deployments with neither Kafka
// nor an audit table.
type LogEmitter struct{}

// Emit implements EventEmitter.
func (LogEmitter) Emit(_ context.Context, event *domain.AuthEvent) error {
	if event == nil {
		return nil
	}
	log.Printf("auth event: type=%s success=%t username=%q external_id=%q ip=%s reason=%s",
		event.Type, event.Success, event.Username, event.ExternalID, event.IP, event.Reason)
	return nil
}
