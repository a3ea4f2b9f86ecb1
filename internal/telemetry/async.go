package telemetry

import (
	"context"
	"log"
	"time"

	"pses-auth/internal/telemetry/domain"
)

// emitTimeout bounds a single async emit. Used by EmitAsync and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the HTTP server stops before closing producers
// and OTel providers, so in-flight async emits can finish. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine with a short timeout so the request is not blocked.
// emitter and event may be nil; then it returns without starting a goroutine.
// The goroutine uses context.Background() so request cancellation does not abort the emit.
func EmitAsync(emitter EventEmitter, ctx context.Context, event *domain.AuthEvent) {
	if emitter == nil || event == nil {
		return
	}
	go func() {
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			log.Printf("telemetry: async emit of %s failed: %v", event.Type, err)
		}
	}()
}
