/*
order.go - Order model and lifecycle state machine

STATE MACHINES:
  CUSTOMER / INTERNAL:
    DRAFT ─confirm─▶ CONFIRMED ─reserveStock─▶ RESERVED ─fulfill─▶ FULFILLED ─close─▶ CLOSED
      └──────────────────┴─────────────────────────┴──cancel──▶ CANCELLED

  PURCHASE (no reservation against external supply):
    DRAFT ─confirm─▶ CONFIRMED ─fulfill─▶ FULFILLED ─close─▶ CLOSED
      └──────────────────┴──cancel──▶ CANCELLED

  RETURN:
    DRAFT ─confirm─▶ CONFIRMED ─receive─▶ RECEIVED ─close─▶ CLOSED
      └──────────────────┴──cancel──▶ CANCELLED

LINE SEMANTICS:
  CUSTOMER  WarehouseID is the source.
  INTERNAL  WarehouseID is the source, DestinationWarehouseID the target.
  PURCHASE  WarehouseID is the receiving warehouse.
  RETURN    WarehouseID is the receiving warehouse.

SEE ALSO:
  - orders.go: OrderService executes transitions and their side effects
*/
package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderKind string

const (
	OrderCustomer OrderKind = "CUSTOMER"
	OrderInternal OrderKind = "INTERNAL"
	OrderPurchase OrderKind = "PURCHASE"
	OrderReturn   OrderKind = "RETURN"
)

func (k OrderKind) Valid() bool {
	_, ok := transitions[k]
	return ok
}

type OrderState string

const (
	StateDraft     OrderState = "DRAFT"
	StateConfirmed OrderState = "CONFIRMED"
	StateReserved  OrderState = "RESERVED"
	StateFulfilled OrderState = "FULFILLED"
	StateReceived  OrderState = "RECEIVED"
	StateClosed    OrderState = "CLOSED"
	StateCancelled OrderState = "CANCELLED"
)

// Terminal states accept no further events.
func (s OrderState) Terminal() bool {
	return s == StateClosed || s == StateCancelled
}

type OrderEvent string

const (
	EventConfirm      OrderEvent = "confirm"
	EventReserveStock OrderEvent = "reserveStock"
	EventFulfill      OrderEvent = "fulfill"
	EventReceive      OrderEvent = "receive"
	EventClose        OrderEvent = "close"
	EventCancel       OrderEvent = "cancel"
)

// =============================================================================
// TRANSITION TABLE
// =============================================================================

type edges map[OrderState]map[OrderEvent]OrderState

var transitions = map[OrderKind]edges{
	OrderCustomer: reservingMachine(),
	OrderInternal: reservingMachine(),
	OrderPurchase: {
		StateDraft:     {EventConfirm: StateConfirmed, EventCancel: StateCancelled},
		StateConfirmed: {EventFulfill: StateFulfilled, EventCancel: StateCancelled},
		StateFulfilled: {EventClose: StateClosed},
	},
	OrderReturn: {
		StateDraft:     {EventConfirm: StateConfirmed, EventCancel: StateCancelled},
		StateConfirmed: {EventReceive: StateReceived, EventCancel: StateCancelled},
		StateReceived:  {EventClose: StateClosed},
	},
}

func reservingMachine() edges {
	return edges{
		StateDraft:     {EventConfirm: StateConfirmed, EventCancel: StateCancelled},
		StateConfirmed: {EventReserveStock: StateReserved, EventCancel: StateCancelled},
		StateReserved:  {EventFulfill: StateFulfilled, EventCancel: StateCancelled},
		StateFulfilled: {EventClose: StateClosed},
	}
}

// NextState returns the state an order of the given kind moves to on event,
// or an InvalidTransitionError.
func NextState(o *Order, event OrderEvent) (OrderState, error) {
	if next, ok := transitions[o.Kind][o.State][event]; ok {
		return next, nil
	}
	return "", &InvalidTransitionError{OrderID: o.ID, Kind: o.Kind, From: o.State, Event: event}
}

// =============================================================================
// ORDER
// =============================================================================

type OrderLine struct {
	ProductID              ProductID
	WarehouseID            WarehouseID
	DestinationWarehouseID WarehouseID     // INTERNAL only
	Quantity               int64
	UnitCost               decimal.Decimal // PURCHASE receipts
}

func (l OrderLine) Key() StockKey {
	return StockKey{ProductID: l.ProductID, WarehouseID: l.WarehouseID}
}

// Order owns its lines and reservations. Movements it caused are looked up by
// OrderID and never owned.
type Order struct {
	ID        OrderID
	Kind      OrderKind
	State     OrderState
	Lines     []OrderLine
	Reference string
	Notes     string
	CreatedBy ActorID
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StockKeys returns the sorted, de-duplicated keys the order's lines touch,
// destinations included.
func (o *Order) StockKeys() []StockKey {
	var keys []StockKey
	for _, l := range o.Lines {
		keys = append(keys, l.Key())
		if l.DestinationWarehouseID != "" {
			keys = append(keys, StockKey{ProductID: l.ProductID, WarehouseID: l.DestinationWarehouseID})
		}
	}
	return SortKeys(keys)
}

// Warehouses returns every warehouse the order touches.
func (o *Order) Warehouses() []WarehouseID {
	seen := make(map[WarehouseID]bool)
	var out []WarehouseID
	add := func(w WarehouseID) {
		if w != "" && !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	for _, l := range o.Lines {
		add(l.WarehouseID)
		add(l.DestinationWarehouseID)
	}
	return out
}

// Clone returns a copy that shares no slices with o.
func (o *Order) Clone() Order {
	c := *o
	c.Lines = append([]OrderLine(nil), o.Lines...)
	return c
}

// OrderTransition is one entry of an order's status history.
type OrderTransition struct {
	OrderID OrderID
	From    OrderState
	To      OrderState
	Event   OrderEvent
	ActorID ActorID
	Reason  string
	At      time.Time
}

// OrderFilter selects orders for listing. Zero fields match everything.
type OrderFilter struct {
	Kind          OrderKind
	State         OrderState
	UpdatedBefore time.Time
	Limit         int
}

func (f OrderFilter) Match(o *Order) bool {
	if f.Kind != "" && o.Kind != f.Kind {
		return false
	}
	if f.State != "" && o.State != f.State {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !o.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}
