package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"pses-auth/internal/telemetry"
	"pses-auth/internal/telemetry/domain"
)

const loggerName = "pses-auth.events"

// recordEmitter is the subset of otellog.Logger used by the adapter.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends auth events as OTel log records.
// A nil provider yields a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger(loggerName)}
}

// NewEventEmitterWithLogger wraps an existing logger. Used by tests.
func NewEventEmitterWithLogger(logger recordEmitter) telemetry.EventEmitter {
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.AuthEvent) error { return nil }

type otelEmitter struct {
	logger recordEmitter
}

// Emit converts the event to a log record. Failed outcomes are WARN, the rest INFO.
func (e *otelEmitter) Emit(ctx context.Context, event *domain.AuthEvent) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	ts := event.OccurredAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetBody(otellog.StringValue("auth." + event.Type))
	if event.Success {
		rec.SetSeverity(otellog.SeverityInfo)
		rec.SetSeverityText("INFO")
	} else {
		rec.SetSeverity(otellog.SeverityWarn)
		rec.SetSeverityText("WARN")
	}
	rec.AddAttributes(
		otellog.String("event_id", event.ID),
		otellog.String("event_type", event.Type),
		otellog.Bool("success", event.Success),
	)
	if event.Username != "" {
		rec.AddAttributes(otellog.String("username", event.Username))
	}
	if event.ExternalID != "" {
		rec.AddAttributes(otellog.String("external_id", event.ExternalID))
	}
	if event.IP != "" {
		rec.AddAttributes(otellog.String("client_ip", event.IP))
	}
	if event.Reason != "" {
		rec.AddAttributes(otellog.String("reason", event.Reason))
	}
	e.logger.Emit(ctx, rec)
	return nil
}
