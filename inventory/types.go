/*
Package inventory provides the inventory ledger and order-fulfillment engine.

PURPOSE:
  Tracks per-warehouse stock for every product, records each change as an
  immutable movement, and drives order lifecycles (customer, internal
  transfer, purchase, return) so that stock levels, reservations and order
  states never diverge under concurrent access.

KEY CONCEPTS IN THIS FILE (types.go):
  - StockKey:    (product, warehouse) pair, the unit of mutual exclusion
  - Movement:    immutable ledger entry with a signed quantity delta
  - StockLevel:  derived on-hand / reserved view of a key
  - Reservation: a hold on stock owned by an order

DESIGN PRINCIPLES:
  1. The movement log is the only durable truth. Levels are projections.
  2. Ownership is explicit: orders own lines and reservations, and only
     reference movements by ID.
  3. Every mutation runs inside the coordinator's section for the keys it
     touches and inside a single store transaction.

SEE ALSO:
  - ledger.go:       append / level / history
  - reservation.go:  reserve / release / commit
  - orders.go:       order state machine service
  - coordinator.go:  per-key critical sections
*/
package inventory

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProductID string
type WarehouseID string
type OrderID string
type MovementID string
type ReservationID string
type ActorID string

// StockKey identifies the stock of one product in one warehouse.
type StockKey struct {
	ProductID   ProductID
	WarehouseID WarehouseID
}

func Key(p ProductID, w WarehouseID) StockKey {
	return StockKey{ProductID: p, WarehouseID: w}
}

func (k StockKey) String() string {
	return fmt.Sprintf("%s@%s", k.ProductID, k.WarehouseID)
}

// Less orders keys by warehouse, then product. Sections are always acquired
// in this order.
func (k StockKey) Less(o StockKey) bool {
	if k.WarehouseID != o.WarehouseID {
		return k.WarehouseID < o.WarehouseID
	}
	return k.ProductID < o.ProductID
}

// =============================================================================
// MOVEMENT - Immutable ledger entry
// =============================================================================

type MovementKind string

const (
	MovementReceipt     MovementKind = "RECEIPT"      // Goods received from a supplier
	MovementShipment    MovementKind = "SHIPMENT"     // Goods shipped to a customer
	MovementAdjustment  MovementKind = "ADJUSTMENT"   // Manual count correction
	MovementTransferIn  MovementKind = "TRANSFER_IN"  // Destination side of a transfer
	MovementTransferOut MovementKind = "TRANSFER_OUT" // Source side of a transfer
	MovementReturnIn    MovementKind = "RETURN_IN"    // Goods returned by a customer
)

func (k MovementKind) Valid() bool {
	switch k {
	case MovementReceipt, MovementShipment, MovementAdjustment,
		MovementTransferIn, MovementTransferOut, MovementReturnIn:
		return true
	}
	return false
}

// Movement is a single signed quantity change for a key.
// Once written it is never updated or deleted.
type Movement struct {
	ID            MovementID
	Seq           int64 // assigned by the store, monotonically increasing
	ProductID     ProductID
	WarehouseID   WarehouseID
	QuantityDelta int64
	Kind          MovementKind

	// Back-references, never ownership edges.
	OrderID       OrderID
	ReservationID ReservationID

	Timestamp      time.Time
	ActorID        ActorID
	Reason         string
	UnitCost       decimal.Decimal // zero when unknown
	IdempotencyKey string
}

func (m Movement) Key() StockKey {
	return StockKey{ProductID: m.ProductID, WarehouseID: m.WarehouseID}
}

// =============================================================================
// STOCK LEVEL - Derived view
// =============================================================================

type StockLevel struct {
	Key      StockKey
	OnHand   int64
	Reserved int64
}

// Available is what can still be reserved.
func (l StockLevel) Available() int64 { return l.OnHand - l.Reserved }

// Consistent reports whether the level satisfies 0 <= reserved <= onHand.
func (l StockLevel) Consistent() bool {
	return l.OnHand >= 0 && l.Reserved >= 0 && l.Reserved <= l.OnHand
}

// HistoryRange bounds a history query. Zero values are open ends.
type HistoryRange struct {
	From time.Time
	To   time.Time
}

func (r HistoryRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// =============================================================================
// RESERVATION - Hold on stock owned by an order
// =============================================================================

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationCommitted ReservationStatus = "COMMITTED"
)

type Reservation struct {
	ID          ReservationID
	OrderID     OrderID
	ProductID   ProductID
	WarehouseID WarehouseID

	// Set for internal transfers; commit then writes a TRANSFER_OUT/TRANSFER_IN
	// pair instead of a SHIPMENT.
	DestinationWarehouseID WarehouseID

	Quantity   int64
	Status     ReservationStatus
	MovementID MovementID // outbound movement written on commit
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

func (r Reservation) Key() StockKey {
	return StockKey{ProductID: r.ProductID, WarehouseID: r.WarehouseID}
}

// Keys returns every key the reservation's commit touches.
func (r Reservation) Keys() []StockKey {
	keys := []StockKey{r.Key()}
	if r.DestinationWarehouseID != "" {
		keys = append(keys, StockKey{ProductID: r.ProductID, WarehouseID: r.DestinationWarehouseID})
	}
	return keys
}

func (r Reservation) IsActive() bool { return r.Status == ReservationActive }

// =============================================================================
// VALUATION
// =============================================================================

// Valuation is the moving weighted-average value of a key's on-hand stock.
type Valuation struct {
	Key        StockKey
	OnHand     int64
	UnitCost   decimal.Decimal
	TotalValue decimal.Decimal
}
