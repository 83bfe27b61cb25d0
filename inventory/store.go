/*
store.go - Persistence interfaces for movements, reservations and orders

PURPOSE:
  Defines the boundary between the engine and durable storage. The engine
  never holds mutable stock counters; it asks the store for movement sums and
  active reservation sums and derives levels from them.

APPEND-ONLY CONTRACT:
  MovementStore has no Update or Delete. Corrections are new offsetting
  movements. Reservations and orders are mutable, but only through the
  ReservationManager and OrderService.

ATOMICITY:
  Every engine mutation runs inside TxStore.WithTx. If fn returns an error
  (or panics) nothing fn wrote is visible afterwards.

IMPLEMENTATIONS:
  - inventory/store/memory.go: in-memory, snapshot/restore transactions
  - store/sqlite/sqlite.go:    SQLite with database/sql transactions

SEE ALSO:
  - ledger.go: derives StockLevel from these queries
*/
package inventory

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Interfaces for durable state
// =============================================================================

type MovementStore interface {
	// AppendMovements persists movements in order and assigns Seq.
	// Returns ErrDuplicateIdempotencyKey if any non-empty key already exists.
	AppendMovements(ctx context.Context, movements []Movement) ([]Movement, error)

	// MovementsPage returns up to limit movements for key with Seq > afterSeq,
	// ordered by Seq, restricted to rng.
	MovementsPage(ctx context.Context, key StockKey, rng HistoryRange, afterSeq int64, limit int) ([]Movement, error)

	// SumMovements returns Σ QuantityDelta for key.
	SumMovements(ctx context.Context, key StockKey) (int64, error)

	MovementsByOrder(ctx context.Context, orderID OrderID) ([]Movement, error)

	MovementExists(ctx context.Context, idempotencyKey string) (bool, error)
}

type ReservationStore interface {
	InsertReservations(ctx context.Context, reservations []Reservation) error

	// UpdateReservation overwrites status, movement and resolution time.
	UpdateReservation(ctx context.Context, r Reservation) error

	// GetReservation returns ErrReservationNotFound when missing.
	GetReservation(ctx context.Context, id ReservationID) (Reservation, error)

	ReservationsByOrder(ctx context.Context, orderID OrderID) ([]Reservation, error)

	// SumActiveReservations returns Σ Quantity of ACTIVE reservations for key.
	SumActiveReservations(ctx context.Context, key StockKey) (int64, error)
}

type OrderStore interface {
	// InsertOrder returns ErrDuplicateOrder if the ID exists.
	InsertOrder(ctx context.Context, o Order) error

	// UpdateOrder writes o if the stored version equals expectedVersion,
	// otherwise returns ErrConcurrentModification.
	UpdateOrder(ctx context.Context, o Order, expectedVersion int) error

	// GetOrder returns ErrOrderNotFound when missing.
	GetOrder(ctx context.Context, id OrderID) (Order, error)

	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)

	AppendTransition(ctx context.Context, t OrderTransition) error
	Transitions(ctx context.Context, orderID OrderID) ([]OrderTransition, error)
}

// Store is the full persistence surface the engine needs.
type Store interface {
	MovementStore
	ReservationStore
	OrderStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// CATALOG - Product and warehouse reference data
// =============================================================================

// Catalog answers existence and threshold questions. It is reference data
// owned outside the core.
type Catalog interface {
	// ProductExists reports whether the product exists and is active.
	ProductExists(ctx context.Context, id ProductID) (bool, error)

	// WarehouseExists reports whether the warehouse exists and is active.
	WarehouseExists(ctx context.Context, id WarehouseID) (bool, error)

	// LowStockThreshold returns the threshold for key, if one is configured.
	LowStockThreshold(ctx context.Context, key StockKey) (int64, bool, error)
}

type Product struct {
	ID     ProductID
	SKU    string
	Name   string
	Active bool
}

type Warehouse struct {
	ID     WarehouseID
	Name   string
	Active bool
}

// CatalogAdmin maintains the catalog. Both stores implement it; the engine
// itself only reads through Catalog.
type CatalogAdmin interface {
	Catalog
	SaveProduct(ctx context.Context, p Product) error
	SaveWarehouse(ctx context.Context, w Warehouse) error
	SetThreshold(ctx context.Context, key StockKey, threshold int64) error
	ListProducts(ctx context.Context) ([]Product, error)
	ListWarehouses(ctx context.Context) ([]Warehouse, error)
}

// =============================================================================
// LEVEL CACHE
// =============================================================================

// LevelCache is an optimization, never a source of truth. Entries for a key
// are invalidated synchronously after every successful write to that key.
type LevelCache interface {
	Get(ctx context.Context, key StockKey) (StockLevel, bool, error)
	Set(ctx context.Context, level StockLevel) error
	Invalidate(ctx context.Context, keys ...StockKey) error
}

// NopCache never hits.
type NopCache struct{}

func (NopCache) Get(context.Context, StockKey) (StockLevel, bool, error) {
	return StockLevel{}, false, nil
}
func (NopCache) Set(context.Context, StockLevel) error         { return nil }
func (NopCache) Invalidate(context.Context, ...StockKey) error { return nil }

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time
