package inventory

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// DOMAIN EVENTS
// =============================================================================

type EventType string

const (
	// EventStockChanged is published once per written movement.
	EventStockChanged EventType = "stock.changed"

	// EventOrderTransitioned is published once per order state change.
	EventOrderTransitioned EventType = "order.transitioned"

	// EventLowStock is published when available stock falls to or below the
	// key's threshold from above it.
	EventLowStock EventType = "stock.low"
)

// Event is the payload handed to the Emitter. Exactly one of Movement and
// Transition is set for the first two types; Level is set for stock events.
type Event struct {
	ID         uuid.UUID
	Type       EventType
	OccurredAt time.Time
	ActorID    ActorID
	OrderID    OrderID

	Movement   *Movement
	Transition *OrderTransition
	OrderKind  OrderKind
	Level      *StockLevel
	Threshold  int64
}

// Emitter receives events after the originating transaction committed.
// Publish must not block and must not fail the caller.
type Emitter interface {
	Publish(e Event)
}

type EmitterFunc func(Event)

func (f EmitterFunc) Publish(e Event) { f(e) }

// NopEmitter drops every event.
type NopEmitter struct{}

func (NopEmitter) Publish(Event) {}
