/*
scenarios.go - Demo seed data for manual testing

PURPOSE:
  Provides small pre-built catalogs with opening stock so the API can be
  exercised without hand-writing setup calls.

AVAILABLE SCENARIOS:
  single-warehouse:  One warehouse, three products, opening receipts
  multi-warehouse:   Two warehouses sharing products, for transfers
  low-stock:         Thresholds set just under opening stock

HOW SCENARIOS WORK:
 1. Upsert warehouses and products into the catalog
 2. Set low-stock thresholds
 3. Append opening RECEIPT movements through the ledger

  Opening receipts carry an idempotency key per scenario and key, so loading
  a scenario twice does not double the stock. Nothing is reset: the ledger
  is append-only.

USAGE VIA API:
	POST /api/scenarios/load
	{"scenario_id": "multi-warehouse"}
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/inventory-engine/inventory"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "single-warehouse",
		Name:        "Single Warehouse",
		Description: "One warehouse with three products and opening stock",
	},
	{
		ID:          "multi-warehouse",
		Name:        "Multi Warehouse",
		Description: "Two warehouses sharing products, ready for internal transfers",
	},
	{
		ID:          "low-stock",
		Name:        "Low Stock",
		Description: "Thresholds just under opening stock so the first shipment raises stock.low",
	},
}

type openingStock struct {
	product   inventory.ProductID
	warehouse inventory.WarehouseID
	quantity  int64
	unitCost  string
	threshold int64
}

type seed struct {
	warehouses []inventory.Warehouse
	products   []inventory.Product
	stock      []openingStock
}

var demoProducts = []inventory.Product{
	{ID: "widget", SKU: "WID-001", Name: "Widget", Active: true},
	{ID: "gadget", SKU: "GAD-001", Name: "Gadget", Active: true},
	{ID: "gizmo", SKU: "GIZ-001", Name: "Gizmo", Active: true},
}

var seeds = map[string]seed{
	"single-warehouse": {
		warehouses: []inventory.Warehouse{{ID: "wh-main", Name: "Main Warehouse", Active: true}},
		products:   demoProducts,
		stock: []openingStock{
			{"widget", "wh-main", 100, "2.50", 0},
			{"gadget", "wh-main", 40, "12.00", 0},
			{"gizmo", "wh-main", 10, "99.90", 0},
		},
	},
	"multi-warehouse": {
		warehouses: []inventory.Warehouse{
			{ID: "wh-east", Name: "East Warehouse", Active: true},
			{ID: "wh-west", Name: "West Warehouse", Active: true},
		},
		products: demoProducts,
		stock: []openingStock{
			{"widget", "wh-east", 60, "2.50", 0},
			{"widget", "wh-west", 5, "2.60", 0},
			{"gadget", "wh-east", 20, "12.00", 0},
		},
	},
	"low-stock": {
		warehouses: []inventory.Warehouse{{ID: "wh-main", Name: "Main Warehouse", Active: true}},
		products:   demoProducts[:1],
		stock: []openingStock{
			{"widget", "wh-main", 12, "2.50", 10},
		},
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the most recently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario seeds the catalog and opening stock of a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sd, ok := seeds[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario: "+req.ScenarioID, nil)
		return
	}

	if err := h.loadSeed(r.Context(), req.ScenarioID, sd); err != nil {
		h.writeEngineError(w, "Failed to load scenario", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	h.Logger.Info("scenario loaded", zap.String("scenario", req.ScenarioID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario_id": req.ScenarioID})
}

func (h *Handler) loadSeed(ctx context.Context, id string, sd seed) error {
	for _, wh := range sd.warehouses {
		if err := h.Catalog.SaveWarehouse(ctx, wh); err != nil {
			return fmt.Errorf("save warehouse %s: %w", wh.ID, err)
		}
	}
	for _, p := range sd.products {
		if err := h.Catalog.SaveProduct(ctx, p); err != nil {
			return fmt.Errorf("save product %s: %w", p.ID, err)
		}
	}

	for _, st := range sd.stock {
		key := inventory.Key(st.product, st.warehouse)
		if st.threshold > 0 {
			if err := h.Catalog.SetThreshold(ctx, key, st.threshold); err != nil {
				return fmt.Errorf("set threshold %s: %w", key, err)
			}
		}
		_, err := h.Engine.Ledger.Append(ctx, inventory.Movement{
			ProductID:      st.product,
			WarehouseID:    st.warehouse,
			QuantityDelta:  st.quantity,
			Kind:           inventory.MovementReceipt,
			Reason:         "opening stock (" + id + ")",
			UnitCost:       decimal.RequireFromString(st.unitCost),
			IdempotencyKey: fmt.Sprintf("scenario:%s:%s", id, key),
		})
		if err != nil && !errors.Is(err, inventory.ErrDuplicateIdempotencyKey) {
			return err
		}
	}
	return nil
}
