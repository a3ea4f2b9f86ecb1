package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"pses-auth/internal/telemetry/domain"
)

type recordCapture struct {
	recs []otellog.Record
}

func (r *recordCapture) Emit(ctx context.Context, rec otellog.Record) {
	r.recs = append(r.recs, rec)
}

func attrs(rec otellog.Record) map[string]otellog.Value {
	out := map[string]otellog.Value{}
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		out[kv.Key] = kv.Value
		return true
	})
	return out
}

func TestNewEventEmitter_NilProvider_ReturnsNoop(t *testing.T) {
	em := NewEventEmitter(nil)
	if err := em.Emit(context.Background(), &domain.AuthEvent{Type: domain.EventLogin}); err != nil {
		t.Errorf("noop Emit: %v", err)
	}
}

func TestNewEventEmitter_RealProvider(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	em := NewEventEmitter(provider)
	if err := em.Emit(context.Background(), nil); err != nil {
		t.Errorf("Emit(nil): %v", err)
	}
	if err := em.Emit(context.Background(), &domain.AuthEvent{ID: "1", Type: domain.EventSignup, Success: true}); err != nil {
		t.Errorf("Emit: %v", err)
	}
}

func TestEmit_AttributeMapping(t *testing.T) {
	cap := &recordCapture{}
	em := NewEventEmitterWithLogger(cap)
	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	err := em.Emit(context.Background(), &domain.AuthEvent{
		ID: "ev-1", Type: domain.EventLogin, Username: "alice", ExternalID: "ext-1",
		IP: "10.0.0.1", Success: false, Reason: "INVALID_CREDENTIALS", OccurredAt: at,
	})
	if err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(cap.recs) != 1 {
		t.Fatalf("records = %d, want 1", len(cap.recs))
	}
	rec := cap.recs[0]
	if !rec.Timestamp().Equal(at) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp(), at)
	}
	if rec.Severity() != otellog.SeverityWarn {
		t.Errorf("severity = %v, want WARN for failed outcome", rec.Severity())
	}
	if rec.Body().AsString() != "auth.login" {
		t.Errorf("body = %q", rec.Body().AsString())
	}
	a := attrs(rec)
	for key, want := range map[string]string{
		"event_id": "ev-1", "event_type": "login", "username": "alice",
		"external_id": "ext-1", "client_ip": "10.0.0.1", "reason": "INVALID_CREDENTIALS",
	} {
		if got := a[key].AsString(); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
	if a["success"].AsBool() {
		t.Error("success should be false")
	}
}

func TestEmit_ZeroTimestampAndOptionalFields(t *testing.T) {
	cap := &recordCapture{}
	em := NewEventEmitterWithLogger(cap)
	before := time.Now().UTC()
	if err := em.Emit(context.Background(), &domain.AuthEvent{ID: "ev-2", Type: domain.EventSignup, Success: true}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	rec := cap.recs[0]
	if rec.Timestamp().Before(before) {
		t.Error("zero OccurredAt should be replaced with now")
	}
	if rec.Severity() != otellog.SeverityInfo {
		t.Errorf("severity = %v, want INFO", rec.Severity())
	}
	a := attrs(rec)
	for _, key := range []string{"username", "external_id", "client_ip", "reason"} {
		if _, ok := a[key]; ok {
			t.Errorf("%s should be omitted when empty", key)
		}
	}
}
