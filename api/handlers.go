/*
handlers.go - HTTP API handlers for the inventory engine

PURPOSE:
  Exposes the inventory engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine. No business rule lives
  here; every check happens inside the engine.

ENDPOINTS:
  Stock:
    GET    /api/stock/{warehouse}/{product}            Current level
    GET    /api/stock/{warehouse}/{product}/history    Movement history
    GET    /api/stock/{warehouse}/{product}/valuation  Moving-average value
    POST   /api/stock/{warehouse}/{product}/verify     Replay vs stored/cached
    PUT    /api/stock/{warehouse}/{product}/threshold  Low-stock threshold

  Movements:
    POST   /api/movements/adjustments   Manual count correction
    POST   /api/movements/receipts      Unplanned receipt

  Orders:
    GET    /api/orders                       List (kind, state, limit)
    POST   /api/orders                       Create DRAFT order
    GET    /api/orders/{id}                  Get order
    GET    /api/orders/{id}/transitions      Status history
    POST   /api/orders/{id}/transitions      Apply event
    GET    /api/orders/{id}/reservations     Reservations held
    GET    /api/orders/{id}/movements        Movements written

  Reservations:
    POST   /api/reservations/{id}/release
    POST   /api/reservations/{id}/commit

  Catalog:
    GET/POST /api/products, GET/POST /api/warehouses

ERROR HANDLING:
  Engine errors are mapped to HTTP status:
  - 400: Validation errors
  - 403: Permission denied
  - 404: Order or reservation not found
  - 409: Invalid transition, insufficient/negative stock, duplicates,
         concurrent modification, resolved reservation
  - 503: Lock timeout (retryable, Retry-After set)
  - 500: Everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/inventory-engine/inventory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *inventory.Engine
	Catalog inventory.CatalogAdmin
	Logger  *zap.Logger

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler over an engine and its catalog.
func NewHandler(engine *inventory.Engine, catalog inventory.CatalogAdmin, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Engine: engine, Catalog: catalog, Logger: logger}
}

// =============================================================================
// STOCK HANDLERS
// =============================================================================

func stockKey(r *http.Request) (inventory.ProductID, inventory.WarehouseID) {
	return inventory.ProductID(chi.URLParam(r, "product")), inventory.WarehouseID(chi.URLParam(r, "warehouse"))
}

// GetLevel returns the current level of a key.
func (h *Handler) GetLevel(w http.ResponseWriter, r *http.Request) {
	p, wh := stockKey(r)
	lvl, err := h.Engine.Ledger.CurrentLevel(r.Context(), p, wh)
	if err != nil {
		h.writeEngineError(w, "Failed to read stock level", err)
		return
	}
	writeJSON(w, http.StatusOK, toStockLevelDTO(lvl))
}

// GetHistory returns movements of a key, oldest first.
// Query: from, to (RFC3339), limit (default 100, max 1000).
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	p, wh := stockKey(r)

	var rng inventory.HistoryRange
	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if rng.From, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from (use RFC3339)", err)
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if rng.To, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to (use RFC3339)", err)
			return
		}
	}
	limit, err := queryLimit(r, 100, 1000)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	dtos := []MovementDTO{}
	for m, err := range h.Engine.Ledger.History(r.Context(), p, wh, rng) {
		if err != nil {
			h.writeEngineError(w, "Failed to read history", err)
			return
		}
		dtos = append(dtos, toMovementDTO(m))
		if len(dtos) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetValuation returns the moving-average valuation of a key.
func (h *Handler) GetValuation(w http.ResponseWriter, r *http.Request) {
	p, wh := stockKey(r)
	v, err := h.Engine.Ledger.Valuation(r.Context(), p, wh)
	if err != nil {
		h.writeEngineError(w, "Failed to compute valuation", err)
		return
	}
	writeJSON(w, http.StatusOK, ValuationDTO{
		ProductID:   string(v.Key.ProductID),
		WarehouseID: string(v.Key.WarehouseID),
		OnHand:      v.OnHand,
		UnitCost:    v.UnitCost,
		TotalValue:  v.TotalValue,
	})
}

// VerifyLevel replays a key and reports drift against stored and cached levels.
func (h *Handler) VerifyLevel(w http.ResponseWriter, r *http.Request) {
	p, wh := stockKey(r)
	v, err := h.Engine.Ledger.Verify(r.Context(), p, wh)
	if err != nil {
		h.writeEngineError(w, "Failed to verify level", err)
		return
	}
	dto := VerificationDTO{
		ProductID:   string(v.Key.ProductID),
		WarehouseID: string(v.Key.WarehouseID),
		Replayed:    v.Replayed,
		Stored:      toStockLevelDTO(v.Stored),
		Drift:       v.Drift(),
	}
	if v.Cached != nil {
		cached := toStockLevelDTO(*v.Cached)
		dto.Cached = &cached
	}
	writeJSON(w, http.StatusOK, dto)
}

// SetThreshold sets the low-stock threshold of a key.
func (h *Handler) SetThreshold(w http.ResponseWriter, r *http.Request) {
	p, wh := stockKey(r)
	var req ThresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Threshold < 0 {
		writeError(w, http.StatusBadRequest, "Threshold must not be negative", nil)
		return
	}
	if err := h.Catalog.SetThreshold(r.Context(), inventory.Key(p, wh), req.Threshold); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to set threshold", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// =============================================================================
// MOVEMENT HANDLERS
// =============================================================================

// CreateAdjustment appends an ADJUSTMENT movement.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	h.appendMovement(w, r, inventory.MovementAdjustment)
}

// CreateReceipt appends a RECEIPT movement outside of any purchase order.
func (h *Handler) CreateReceipt(w http.ResponseWriter, r *http.Request) {
	h.appendMovement(w, r, inventory.MovementReceipt)
}

func (h *Handler) appendMovement(w http.ResponseWriter, r *http.Request, kind inventory.MovementKind) {
	var req MovementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	m := inventory.Movement{
		ProductID:      inventory.ProductID(req.ProductID),
		WarehouseID:    inventory.WarehouseID(req.WarehouseID),
		QuantityDelta:  req.QuantityDelta,
		Kind:           kind,
		Reason:         req.Reason,
		UnitCost:       req.UnitCost,
		IdempotencyKey: req.IdempotencyKey,
	}
	id, err := h.Engine.Ledger.Append(r.Context(), m)
	if err != nil {
		h.writeEngineError(w, "Failed to append movement", err)
		return
	}

	lvl, err := h.Engine.Ledger.CurrentLevel(r.Context(), m.ProductID, m.WarehouseID)
	if err != nil {
		h.writeEngineError(w, "Movement appended but level read failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, MovementCreatedDTO{
		MovementID: string(id),
		Level:      toStockLevelDTO(lvl),
	})
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

// ListOrders returns orders matching kind/state filters.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 100, 1000)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	filter := inventory.OrderFilter{
		Kind:  inventory.OrderKind(r.URL.Query().Get("kind")),
		State: inventory.OrderState(r.URL.Query().Get("state")),
		Limit: limit,
	}
	orders, err := h.Engine.Orders.List(r.Context(), filter)
	if err != nil {
		h.writeEngineError(w, "Failed to list orders", err)
		return
	}
	dtos := make([]OrderDTO, len(orders))
	for i, o := range orders {
		dtos[i] = toOrderDTO(o)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateOrder creates a DRAFT order.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	o, err := h.Engine.Orders.Create(r.Context(), req.toNewOrder())
	if err != nil {
		h.writeEngineError(w, "Failed to create order", err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderDTO(o))
}

// GetOrder returns a single order.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.Engine.Orders.Get(r.Context(), orderID(r))
	if err != nil {
		h.writeEngineError(w, "Failed to get order", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(o))
}

// GetTransitions returns an order's status history.
func (h *Handler) GetTransitions(w http.ResponseWriter, r *http.Request) {
	ts, err := h.Engine.Orders.Transitions(r.Context(), orderID(r))
	if err != nil {
		h.writeEngineError(w, "Failed to get transitions", err)
		return
	}
	dtos := make([]TransitionDTO, len(ts))
	for i, t := range ts {
		dtos[i] = TransitionDTO{
			From:    string(t.From),
			To:      string(t.To),
			Event:   string(t.Event),
			ActorID: string(t.ActorID),
			Reason:  t.Reason,
			At:      t.At.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApplyTransition drives an order through one event.
func (h *Handler) ApplyTransition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	id := orderID(r)
	orders := h.Engine.Orders

	var o inventory.Order
	var err error
	switch inventory.OrderEvent(req.Event) {
	case inventory.EventConfirm:
		o, err = orders.Confirm(ctx, id)
	case inventory.EventReserveStock:
		o, err = orders.ReserveStock(ctx, id)
	case inventory.EventFulfill:
		o, err = orders.Fulfill(ctx, id)
	case inventory.EventReceive:
		o, err = orders.Receive(ctx, id)
	case inventory.EventClose:
		o, err = orders.Close(ctx, id)
	case inventory.EventCancel:
		o, err = orders.Cancel(ctx, id, req.Reason)
	default:
		writeError(w, http.StatusBadRequest, "Unknown event: "+req.Event, nil)
		return
	}
	if err != nil {
		h.writeEngineError(w, "Transition failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(o))
}

// GetOrderReservations lists reservations held by an order.
func (h *Handler) GetOrderReservations(w http.ResponseWriter, r *http.Request) {
	rs, err := h.Engine.Reservations.Reservations(r.Context(), orderID(r))
	if err != nil {
		h.writeEngineError(w, "Failed to list reservations", err)
		return
	}
	dtos := make([]ReservationDTO, len(rs))
	for i, res := range rs {
		dtos[i] = toReservationDTO(res)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetOrderMovements lists movements written on behalf of an order.
func (h *Handler) GetOrderMovements(w http.ResponseWriter, r *http.Request) {
	ms, err := h.Engine.Ledger.Movements(r.Context(), orderID(r))
	if err != nil {
		h.writeEngineError(w, "Failed to list movements", err)
		return
	}
	dtos := make([]MovementDTO, len(ms))
	for i, m := range ms {
		dtos[i] = toMovementDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func orderID(r *http.Request) inventory.OrderID {
	return inventory.OrderID(chi.URLParam(r, "id"))
}

// =============================================================================
// RESERVATION HANDLERS
// =============================================================================

// ReleaseReservation frees an ACTIVE reservation.
func (h *Handler) ReleaseReservation(w http.ResponseWriter, r *http.Request) {
	id := inventory.ReservationID(chi.URLParam(r, "id"))
	if err := h.Engine.Reservations.Release(r.Context(), id); err != nil {
		h.writeEngineError(w, "Failed to release reservation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CommitReservation turns an ACTIVE reservation into outbound stock.
func (h *Handler) CommitReservation(w http.ResponseWriter, r *http.Request) {
	id := inventory.ReservationID(chi.URLParam(r, "id"))
	mid, err := h.Engine.Reservations.Commit(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, "Failed to commit reservation", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"movement_id": string(mid)})
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListProducts returns all catalog products.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := h.Catalog.ListProducts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list products", err)
		return
	}
	dtos := make([]ProductDTO, len(ps))
	for i, p := range ps {
		dtos[i] = ProductDTO{ID: string(p.ID), SKU: p.SKU, Name: p.Name, Active: p.Active}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveProduct creates or updates a product.
func (h *Handler) SaveProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}
	p := inventory.Product{ID: inventory.ProductID(req.ID), SKU: req.SKU, Name: req.Name, Active: req.Active}
	if err := h.Catalog.SaveProduct(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save product", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// ListWarehouses returns all catalog warehouses.
func (h *Handler) ListWarehouses(w http.ResponseWriter, r *http.Request) {
	ws, err := h.Catalog.ListWarehouses(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list warehouses", err)
		return
	}
	dtos := make([]WarehouseDTO, len(ws))
	for i, wh := range ws {
		dtos[i] = WarehouseDTO{ID: string(wh.ID), Name: wh.Name, Active: wh.Active}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveWarehouse creates or updates a warehouse.
func (h *Handler) SaveWarehouse(w http.ResponseWriter, r *http.Request) {
	var req WarehouseDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}
	wh := inventory.Warehouse{ID: inventory.WarehouseID(req.ID), Name: req.Name, Active: req.Active}
	if err := h.Catalog.SaveWarehouse(r.Context(), wh); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save warehouse", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// Health reports liveness. Stores that can be pinged are checked too.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Catalog.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unreachable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func queryLimit(r *http.Request, def, max int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, errors.New("limit must be positive")
	}
	if n > max {
		n = max
	}
	return n, nil
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, inventory.ErrPermissionDenied):
		return http.StatusForbidden
	case inventory.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, inventory.ErrLockTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, inventory.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, inventory.ErrInvalidTransition),
		errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, inventory.ErrNegativeStock),
		errors.Is(err, inventory.ErrReservationResolved),
		errors.Is(err, inventory.ErrConcurrentModification),
		errors.Is(err, inventory.ErrDuplicateIdempotencyKey),
		errors.Is(err, inventory.ErrDuplicateOrder):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeEngineError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if status == http.StatusInternalServerError {
		h.Logger.Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
