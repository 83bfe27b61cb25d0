package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/inventory-engine/inventory"
)

func TestScenarios_ListAndLoad(t *testing.T) {
	a := newTestAPI(t, nil)

	// GIVEN: nothing loaded yet
	rec := a.do(t, http.MethodGet, "/api/scenarios/current", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "null", rec.Body.String())

	listed := decode[[]ScenarioDTO](t, a.do(t, http.MethodGet, "/api/scenarios", "", nil))
	assert.Len(t, listed, len(seeds))

	// WHEN: multi-warehouse is loaded
	rec = a.do(t, http.MethodPost, "/api/scenarios/load", "admin", LoadScenarioRequest{ScenarioID: "multi-warehouse"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: opening stock and the current scenario are visible
	lvl := decode[StockLevelDTO](t, a.do(t, http.MethodGet, "/api/stock/wh-east/widget", "", nil))
	assert.Equal(t, int64(60), lvl.OnHand)

	current := decode[ScenarioDTO](t, a.do(t, http.MethodGet, "/api/scenarios/current", "", nil))
	assert.Equal(t, "multi-warehouse", current.ID)
}

func TestScenarios_ReloadDoesNotDoubleStock(t *testing.T) {
	a := newTestAPI(t, nil)

	for i := 0; i < 2; i++ {
		rec := a.do(t, http.MethodPost, "/api/scenarios/load", "admin", LoadScenarioRequest{ScenarioID: "single-warehouse"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	lvl := decode[StockLevelDTO](t, a.do(t, http.MethodGet, "/api/stock/wh-main/gizmo", "", nil))
	assert.Equal(t, int64(10), lvl.OnHand)

	history := decode[[]MovementDTO](t, a.do(t, http.MethodGet, "/api/stock/wh-main/gizmo/history", "", nil))
	assert.Len(t, history, 1)
}

func TestScenarios_LowStockSetsThreshold(t *testing.T) {
	a := newTestAPI(t, nil)
	rec := a.do(t, http.MethodPost, "/api/scenarios/load", "admin", LoadScenarioRequest{ScenarioID: "low-stock"})
	require.Equal(t, http.StatusOK, rec.Code)

	n, ok, err := a.store.LowStockThreshold(context.Background(), inventory.Key("widget", "wh-main"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(10), n)
}

func TestScenarios_Unknown(t *testing.T) {
	a := newTestAPI(t, nil)
	rec := a.do(t, http.MethodPost, "/api/scenarios/load", "admin", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
