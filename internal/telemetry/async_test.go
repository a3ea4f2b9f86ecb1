package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"pses-auth/internal/telemetry/domain"
)

type mockEventEmitter struct {
	mu      sync.Mutex
	events  []*domain.AuthEvent
	emitErr error
	delay   time.Duration
}

func (m *mockEventEmitter) Emit(ctx context.Context, event *domain.AuthEvent) error {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.emitErr
}

func (m *mockEventEmitter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func waitForEvents(t *testing.T, m *mockEventEmitter, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if m.count() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d events, got %d", want, m.count())
}

func TestEmitAsync_NilEmitterAndEvent(t *testing.T) {
	EmitAsync(nil, context.Background(), &domain.AuthEvent{Type: domain.EventLogin})

	emitter := &mockEventEmitter{}
	EmitAsync(emitter, context.Background(), nil)
	time.Sleep(10 * time.Millisecond)
	if n := emitter.count(); n != 0 {
		t.Errorf("expected 0 events, got %d", n)
	}
}

func TestEmitAsync_SuccessfulEmit(t *testing.T) {
	emitter := &mockEventEmitter{}
	EmitAsync(emitter, context.Background(), &domain.AuthEvent{Type: domain.EventLogin, Username: "alice", Success: true})
	waitForEvents(t, emitter, 1)

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	if got := emitter.events[0]; got.Username != "alice" || got.Type != domain.EventLogin {
		t.Errorf("event = %+v", got)
	}
}

func TestEmitAsync_UsesBackgroundContext(t *testing.T) {
	emitter := &mockEventEmitter{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	EmitAsync(emitter, ctx, &domain.AuthEvent{Type: domain.EventSignup})
	waitForEvents(t, emitter, 1)
}

func TestEmitAsync_ErrorIsSwallowed(t *testing.T) {
	emitter := &mockEventEmitter{emitErr: errors.New("broker down")}
	EmitAsync(emitter, context.Background(), &domain.AuthEvent{Type: domain.EventSignup})
	waitForEvents(t, emitter, 1)
}

func TestEmitAsync_ConcurrentAccess(t *testing.T) {
	emitter := &mockEventEmitter{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			EmitAsync(emitter, context.Background(), &domain.AuthEvent{Type: domain.EventLogin})
		}()
	}
	wg.Wait()
	waitForEvents(t, emitter, 10)
}

func TestFanout_JoinsErrors(t *testing.T) {
	ok := &mockEventEmitter{}
	failing := &mockEventEmitter{emitErr: errors.New("write failed")}
	f := Fanout{ok, nil, failing}

	err := f.Emit(context.Background(), &domain.AuthEvent{Type: domain.EventFinalize})
	if err == nil {
		t.Fatal("expected joined error from failing emitter")
	}
	if ok.count() != 1 || failing.count() != 1 {
		t.Errorf("each emitter should see the event once: ok=%d failing=%d", ok.count(), failing.count())
	}
}

func TestLogEmitter(t *testing.T) {
	var buf bytes.Buffer
	prev, flags := log.Writer(), log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(prev)
		log.SetFlags(flags)
	}()

	ev := &domain.AuthEvent{Type: domain.EventLogin, Username: "alice", Reason: "invalid_credentials"}
	if err := (LogEmitter{}).Emit(context.Background(), ev); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := (LogEmitter{}).Emit(context.Background(), nil); err != nil {
		t.Fatalf("Emit(nil): %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "type=login") || !strings.Contains(out, `username="alice"`) {
		t.Errorf("log line = %q", out)
	}
	if strings.Count(out, "auth event") != 1 {
		t.Errorf("want one line, got %q", out)
	}
}
