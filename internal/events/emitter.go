// Package events publishes session lifecycle events to Kafka.
package events

import (
	"context"
	"log"
	"time"

	"remote-job-supervisor/internal/events/domain"
)

// emitTimeout is the max time allowed for a single async emit.
const emitTimeout = 5 * time.Second

// Emitter publishes lifecycle events. Implementations must tolerate nil events.
type Emitter interface {
	Emit(ctx context.Context, event *domain.Event) error
}

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is not
// blocked. Use for fire-and-forget, best-effort events; errors are logged.
//
// emitter and event may be nil; EmitAsync returns immediately without starting a
// goroutine. The goroutine uses context.Background() with emitTimeout so request
// cancellation does not abort an in-flight emit.
func EmitAsync(emitter Emitter, event *domain.Event) {
	if emitter == nil || event == nil {
		return
	}
	go func() {
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			log.Printf("events: async emit failed: %v", err)
		}
	}()
}
