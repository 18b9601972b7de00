// Package events provides the in-process event bus: typed publish/subscribe
// with prefix topic filtering, bounded per-subscriber queues, and
// drop-oldest backpressure.
//
// ════════════════════════════════════════════════════════════════
// Delivery model
// ════════════════════════════════════════════════════════════════
//
// Publishers are caller goroutines; delivery happens on a dedicated
// goroutine per subscription, so handlers must not assume execution on
// the publishing goroutine. Guarantees:
//
//   - Per-topic FIFO for a single subscriber.
//   - No cross-topic or cross-subscriber ordering.
//   - Publish never blocks beyond the configured enqueue cap; when a
//     subscriber queue is full the oldest queued event is dropped and
//     the subscription's Dropped counter incremented.
//   - Handler panics are caught and logged as bus.handler.failed; they
//     never propagate to the publisher.
//
// ════════════════════════════════════════════════════════════════
package events

import (
	"time"

	"github.com/google/uuid"
)

// SpecVersion identifies the event envelope format.
const SpecVersion = "1.0"

// Canonical event types. Dotted names; subscribers may match a full type or
// a prefix pattern such as "provider.*".
const (
	EventTypeAgentStarted   = "agent.started"
	EventTypeAgentCompleted = "agent.completed"
	EventTypeAgentFailed    = "agent.failed"

	EventTypeProviderFallback = "provider.fallback"
	EventTypeProviderSuccess  = "provider.success"

	EventTypeToolMappingStarted   = "tool.mapping.started"
	EventTypeToolMappingCompleted = "tool.mapping.completed"
	EventTypeToolMappingError     = "tool.mapping.error"

	EventTypeToolCallStarted   = "tool.call.started"
	EventTypeToolCallCompleted = "tool.call.completed"

	EventTypeCircuitStateChanged = "circuit.state.changed"
	EventTypeCircuitTimeout      = "circuit.timeout"

	EventTypeTaskAssigned    = "task.assigned"
	EventTypeSessionCreated  = "session.created"
	EventTypeAgentRegistered = "session.agent.registered"

	// Internal bus health signal emitted when a handler panics.
	EventTypeHandlerFailed = "bus.handler.failed"
)

// Event is the self-describing envelope published on the bus. Data is
// treated as immutable after publish; subscribers must not mutate it.
type Event struct {
	SpecVersion   string    `json:"specversion"`
	Type          string    `json:"type"`
	Source        string    `json:"source"`
	ID            string    `json:"id"`
	Time          time.Time `json:"time"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Data          any       `json:"data,omitempty"`
}

// New builds an event envelope with a fresh identity.
func New(eventType, source, correlationID string, data any) Event {
	return Event{
		SpecVersion:   SpecVersion,
		Type:          eventType,
		Source:        source,
		ID:            uuid.New().String(),
		Time:          time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          data,
	}
}
