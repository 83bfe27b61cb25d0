package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/store/sqlite"
)

func TestJanitor_CancelsStaleReservedOrders(t *testing.T) {
	// GIVEN: an engine whose clock we control
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx := inventory.WithActor(context.Background(), "sales")
	require.NoError(t, store.SaveProduct(ctx, inventory.Product{ID: "widget", Active: true}))
	require.NoError(t, store.SaveWarehouse(ctx, inventory.Warehouse{ID: "wh-a", Active: true}))

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	engine := inventory.NewEngine(inventory.Deps{
		Store:   store,
		Catalog: store,
		Logger:  zaptest.NewLogger(t),
		Clock:   func() time.Time { return now },
	})
	_, err = engine.Ledger.Append(ctx, inventory.Movement{
		ProductID: "widget", WarehouseID: "wh-a", QuantityDelta: 10, Kind: inventory.MovementReceipt,
	})
	require.NoError(t, err)

	reserve := func(id inventory.OrderID) {
		_, err := engine.Orders.Create(ctx, inventory.NewOrder{
			ID:    id,
			Kind:  inventory.OrderCustomer,
			Lines: []inventory.OrderLine{{ProductID: "widget", WarehouseID: "wh-a", Quantity: 3}},
		})
		require.NoError(t, err)
		_, err = engine.Orders.Confirm(ctx, id)
		require.NoError(t, err)
		_, err = engine.Orders.ReserveStock(ctx, id)
		require.NoError(t, err)
	}
	reserve("so-stale")
	now = now.Add(2 * time.Hour)
	reserve("so-fresh")

	j := NewReservationJanitor(engine, zaptest.NewLogger(t))
	j.TTL = time.Hour
	j.Now = func() time.Time { return now.Add(30 * time.Minute) }

	// WHEN: one sweep runs
	run := j.RunNow(context.Background())

	// THEN: only the stale order is cancelled and its stock is free again
	assert.Equal(t, JanitorRun{Scanned: 1, Cancelled: 1}, run)

	stale, err := engine.Orders.Get(ctx, "so-stale")
	require.NoError(t, err)
	assert.Equal(t, inventory.StateCancelled, stale.State)

	fresh, err := engine.Orders.Get(ctx, "so-fresh")
	require.NoError(t, err)
	assert.Equal(t, inventory.StateReserved, fresh.State)

	ts, err := engine.Orders.Transitions(ctx, "so-stale")
	require.NoError(t, err)
	last := ts[len(ts)-1]
	assert.Equal(t, ExpiredReason, last.Reason)
	assert.Equal(t, inventory.ActorID("system:janitor"), last.ActorID)

	lvl, err := engine.Ledger.CurrentLevel(ctx, "widget", "wh-a")
	require.NoError(t, err)
	assert.Equal(t, int64(3), lvl.Reserved)

	// AND: a second sweep finds nothing
	assert.Equal(t, JanitorRun{}, j.RunNow(context.Background()))
}

func TestJanitor_StartStopIdempotent(t *testing.T) {
	j := NewReservationJanitor(nil, zaptest.NewLogger(t))
	j.CheckInterval = time.Hour

	j.Start()
	j.Start()
	j.Stop()
	j.Stop()
}
