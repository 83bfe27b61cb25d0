/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers.
  Quantities are whole units; costs travel as decimal strings.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/inventory-engine/inventory"
)

// =============================================================================
// STOCK
// =============================================================================

// StockLevelDTO is the derived level of one (product, warehouse) key.
type StockLevelDTO struct {
	ProductID   string `json:"product_id"`
	WarehouseID string `json:"warehouse_id"`
	OnHand      int64  `json:"on_hand"`
	Reserved    int64  `json:"reserved"`
	Available   int64  `json:"available"`
}

func toStockLevelDTO(l inventory.StockLevel) StockLevelDTO {
	return StockLevelDTO{
		ProductID:   string(l.Key.ProductID),
		WarehouseID: string(l.Key.WarehouseID),
		OnHand:      l.OnHand,
		Reserved:    l.Reserved,
		Available:   l.Available(),
	}
}

// MovementDTO represents a ledger entry in API responses.
type MovementDTO struct {
	ID            string           `json:"id"`
	Seq           int64            `json:"seq"`
	ProductID     string           `json:"product_id"`
	WarehouseID   string           `json:"warehouse_id"`
	QuantityDelta int64            `json:"quantity_delta"`
	Kind          string           `json:"kind"`
	OrderID       string           `json:"order_id,omitempty"`
	ReservationID string           `json:"reservation_id,omitempty"`
	Timestamp     string           `json:"timestamp"`
	ActorID       string           `json:"actor_id"`
	Reason        string           `json:"reason,omitempty"`
	UnitCost      *decimal.Decimal `json:"unit_cost,omitempty"`
}

func toMovementDTO(m inventory.Movement) MovementDTO {
	dto := MovementDTO{
		ID:            string(m.ID),
		Seq:           m.Seq,
		ProductID:     string(m.ProductID),
		WarehouseID:   string(m.WarehouseID),
		QuantityDelta: m.QuantityDelta,
		Kind:          string(m.Kind),
		OrderID:       string(m.OrderID),
		ReservationID: string(m.ReservationID),
		Timestamp:     m.Timestamp.Format(time.RFC3339Nano),
		ActorID:       string(m.ActorID),
		Reason:        m.Reason,
	}
	if !m.UnitCost.IsZero() {
		cost := m.UnitCost
		dto.UnitCost = &cost
	}
	return dto
}

// MovementRequest is the body for manual adjustments and receipts.
type MovementRequest struct {
	ProductID      string          `json:"product_id"`
	WarehouseID    string          `json:"warehouse_id"`
	QuantityDelta  int64           `json:"quantity_delta"`
	Reason         string          `json:"reason"`
	UnitCost       decimal.Decimal `json:"unit_cost"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// MovementCreatedDTO is returned after a movement is appended.
type MovementCreatedDTO struct {
	MovementID string        `json:"movement_id"`
	Level      StockLevelDTO `json:"level"`
}

// ValuationDTO is the moving-average valuation of a key.
type ValuationDTO struct {
	ProductID   string          `json:"product_id"`
	WarehouseID string          `json:"warehouse_id"`
	OnHand      int64           `json:"on_hand"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	TotalValue  decimal.Decimal `json:"total_value"`
}

// VerificationDTO reports a replay of a key against stored and cached levels.
type VerificationDTO struct {
	ProductID   string         `json:"product_id"`
	WarehouseID string         `json:"warehouse_id"`
	Replayed    int64          `json:"replayed_on_hand"`
	Stored      StockLevelDTO  `json:"stored"`
	Cached      *StockLevelDTO `json:"cached,omitempty"`
	Drift       bool           `json:"drift"`
}

// =============================================================================
// ORDERS
// =============================================================================

// OrderLineDTO is one line of an order, in requests and responses.
type OrderLineDTO struct {
	ProductID              string          `json:"product_id"`
	WarehouseID            string          `json:"warehouse_id"`
	DestinationWarehouseID string          `json:"destination_warehouse_id,omitempty"`
	Quantity               int64           `json:"quantity"`
	UnitCost               decimal.Decimal `json:"unit_cost"`
}

// OrderDTO represents an order in API responses.
type OrderDTO struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	State     string         `json:"state"`
	Lines     []OrderLineDTO `json:"lines"`
	Reference string         `json:"reference,omitempty"`
	Notes     string         `json:"notes,omitempty"`
	CreatedBy string         `json:"created_by"`
	Version   int            `json:"version"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

func toOrderDTO(o inventory.Order) OrderDTO {
	lines := make([]OrderLineDTO, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = OrderLineDTO{
			ProductID:              string(l.ProductID),
			WarehouseID:            string(l.WarehouseID),
			DestinationWarehouseID: string(l.DestinationWarehouseID),
			Quantity:               l.Quantity,
			UnitCost:               l.UnitCost,
		}
	}
	return OrderDTO{
		ID:        string(o.ID),
		Kind:      string(o.Kind),
		State:     string(o.State),
		Lines:     lines,
		Reference: o.Reference,
		Notes:     o.Notes,
		CreatedBy: string(o.CreatedBy),
		Version:   o.Version,
		CreatedAt: o.CreatedAt.Format(time.RFC3339),
		UpdatedAt: o.UpdatedAt.Format(time.RFC3339),
	}
}

// CreateOrderRequest is the request to create a DRAFT order.
type CreateOrderRequest struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Lines     []OrderLineDTO `json:"lines"`
	Reference string         `json:"reference"`
	Notes     string         `json:"notes"`
}

func (r CreateOrderRequest) toNewOrder() inventory.NewOrder {
	lines := make([]inventory.OrderLine, len(r.Lines))
	for i, l := range r.Lines {
		lines[i] = inventory.OrderLine{
			ProductID:              inventory.ProductID(l.ProductID),
			WarehouseID:            inventory.WarehouseID(l.WarehouseID),
			DestinationWarehouseID: inventory.WarehouseID(l.DestinationWarehouseID),
			Quantity:               l.Quantity,
			UnitCost:               l.UnitCost,
		}
	}
	return inventory.NewOrder{
		ID:        inventory.OrderID(r.ID),
		Kind:      inventory.OrderKind(r.Kind),
		Lines:     lines,
		Reference: r.Reference,
		Notes:     r.Notes,
	}
}

// TransitionRequest drives an order event. Reason is used by cancel.
type TransitionRequest struct {
	Event  string `json:"event"`
	Reason string `json:"reason"`
}

// TransitionDTO is one entry of an order's status history.
type TransitionDTO struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Event   string `json:"event"`
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason,omitempty"`
	At      string `json:"at"`
}

// ReservationDTO represents a reservation held by an order.
type ReservationDTO struct {
	ID                     string  `json:"id"`
	ProductID              string  `json:"product_id"`
	WarehouseID            string  `json:"warehouse_id"`
	DestinationWarehouseID string  `json:"destination_warehouse_id,omitempty"`
	Quantity               int64   `json:"quantity"`
	Status                 string  `json:"status"`
	MovementID             string  `json:"movement_id,omitempty"`
	CreatedAt              string  `json:"created_at"`
	ResolvedAt             *string `json:"resolved_at,omitempty"`
}

func toReservationDTO(r inventory.Reservation) ReservationDTO {
	dto := ReservationDTO{
		ID:                     string(r.ID),
		ProductID:              string(r.ProductID),
		WarehouseID:            string(r.WarehouseID),
		DestinationWarehouseID: string(r.DestinationWarehouseID),
		Quantity:               r.Quantity,
		Status:                 string(r.Status),
		MovementID:             string(r.MovementID),
		CreatedAt:              r.CreatedAt.Format(time.RFC3339),
	}
	if r.ResolvedAt != nil {
		s := r.ResolvedAt.Format(time.RFC3339)
		dto.ResolvedAt = &s
	}
	return dto
}

// =============================================================================
// CATALOG
// =============================================================================

// ProductDTO represents a catalog product.
type ProductDTO struct {
	ID     string `json:"id"`
	SKU    string `json:"sku"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// WarehouseDTO represents a catalog warehouse.
type WarehouseDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// ThresholdRequest sets the low-stock threshold of a key.
type ThresholdRequest struct {
	Threshold int64 `json:"threshold"`
}

// =============================================================================
// SCENARIOS / ERRORS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
