package inventory_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/inventory-engine/inventory"
)

// =============================================================================
// END-TO-END SCENARIOS
// =============================================================================

func TestScenario_PurchaseThenCustomerThenShortfall(t *testing.T) {
	// GIVEN: A purchase order for 10 widgets at wh-a is fulfilled
	// WHEN: A customer order for 8 is reserved and fulfilled
	// AND: A second customer order for 5 tries to reserve
	// THEN: Stock is 2 on hand and the second order fails with insufficient stock

	f := newFixture(t)
	orders := f.engine.Orders

	po := f.confirmedOrder(t, inventory.OrderPurchase, costLine("widget", "wh-a", 10, "3.00"))
	po, err := orders.Fulfill(f.ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.StateFulfilled, po.State)
	assert.Equal(t, inventory.StockLevel{Key: inventory.Key("widget", "wh-a"), OnHand: 10}, f.level(t, "widget", "wh-a"))

	c1 := f.confirmedOrder(t, inventory.OrderCustomer, line("widget", "wh-a", 8))
	c1, err = orders.ReserveStock(f.ctx, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.StateReserved, c1.State)
	assert.Equal(t, int64(8), f.level(t, "widget", "wh-a").Reserved)

	c1, err = orders.Fulfill(f.ctx, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.StateFulfilled, c1.State)

	lvl := f.level(t, "widget", "wh-a")
	assert.Equal(t, int64(2), lvl.OnHand)
	assert.Equal(t, int64(0), lvl.Reserved)

	c2 := f.confirmedOrder(t, inventory.OrderCustomer, line("widget", "wh-a", 5))
	_, err = orders.ReserveStock(f.ctx, c2.ID)

	var ise *inventory.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, int64(2), ise.Available)
	assert.Equal(t, int64(5), ise.Requested)

	c2, err = orders.Get(f.ctx, c2.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.StateConfirmed, c2.State, "failed reservation must not move the order")

	rs, err := f.engine.Reservations.Reservations(f.ctx, c2.ID)
	require.NoError(t, err)
	assert.Empty(t, rs)

	c1, err = orders.Close(f.ctx, c1.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.StateClosed, c1.State)
}

func TestScenario_ConcurrentReservationsOnlyOneWins(t *testing.T) {
	// GIVEN: 10 widgets on hand and two confirmed orders for 6 each
	// WHEN: Both reserve at the same time
	// THEN: Exactly one succeeds, the other sees insufficient stock

	f := newFixture(t)
	f.stock(t, "widget", "wh-a", 10)

	a := f.confirmedOrder(t, inventory.OrderCustomer, line("widget", "wh-a", 6))
	b := f.confirmedOrder(t, inventory.OrderCustomer, line("widget", "wh-a", 6))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []inventory.OrderID{a.ID, b.ID} {
		wg.Add(1)
		go func(i int, id inventory.OrderID) {
			defer wg.Done()
			_, errs[i] = f.engine.Orders.ReserveStock(f.ctx, id)
		}(i, id)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
	}
	assert.Equal(t, 1, succeeded)

	lvl := f.level(t, "widget", "wh-a")
	assert.Equal(t, int64(10), lvl.OnHand)
	assert.Equal(t, int64(6), lvl.Reserved)
}

func TestScenario_NoOversellUnderContention(t *testing.T) {
	// GIVEN: 25 units and 40 concurrent reservations of 1-3 units each
	// THEN: Successful reservations never exceed stock and match the level

	f := newFixture(t)
	f.stock(t, "widget", "wh-a", 25)

	ids := make([]inventory.OrderID, 40)
	qty := make([]int64, 40)
	for i := range ids {
		qty[i] = int64(i%3 + 1)
		ids[i] = f.confirmedOrder(t, inventory.OrderCustomer, line("widget", "wh-a", qty[i])).ID
	}

	var reserved atomic.Int64
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.Reservations.Reserve(f.ctx, ids[i], "widget", "wh-a", qty[i])
			if err == nil {
				reserved.Add(qty[i])
				return
			}
			assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
		}(i)
	}
	wg.Wait()

	lvl := f.level(t, "widget", "wh-a")
	assert.LessOrEqual(t, reserved.Load(), int64(25))
	assert.Equal(t, reserved.Load(), lvl.Reserved)
	assert.GreaterOrEqual(t, lvl.Available(), int64(0))
}

func TestScenario_CancelRestoresAvailability(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "widget", "wh-a", 10)
	before := f.level(t, "widget", "wh-a")

	o := f.confirmedOrder(t, inventory.OrderCustomer, line("widget", "wh-a", 7))
	_, err := f.engine.Orders.ReserveStock(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), f.level(t, "widget", "wh-a").Available())

	o, err = f.engine.Orders.Cancel(f.ctx, o.ID, "customer changed mind")
	require.NoError(t, err)
	assert.Equal(t, inventory.StateCancelled, o.State)

	assert.Equal(t, before, f.level(t, "widget", "wh-a"))

	rs, err := f.engine.Reservations.Reservations(f.ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, inventory.ReservationReleased, rs[0].Status)
	assert.NotNil(t, rs[0].ResolvedAt)

	ms, err := f.engine.Ledger.Movements(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, ms, "cancel writes no movements")

	ts, err := f.engine.Orders.Transitions(f.ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, ts, 3)
	assert.Equal(t, inventory.EventCancel, ts[2].Event)
	assert.Equal(t, "customer changed mind", ts[2].Reason)
	assert.Equal(t, inventory.ActorID("tester"), ts[2].ActorID)
}

func TestScenario_InternalTransferWritesPairedMovements(t *testing.T) {
	// GIVEN: 10 widgets at wh-a
	// WHEN: An INTERNAL order moves 5 to wh-b
	// THEN: TRANSFER_OUT -5 at wh-a and TRANSFER_IN +5 at wh-b share the
	//       order reference and timestamp

	f := newFixture(t)
	f.stock(t, "widget", "wh-a", 10)

	o := f.confirmedOrder(t, inventory.OrderInternal, inventory.OrderLine{
		ProductID: "widget", WarehouseID: "wh-a", DestinationWarehouseID: "wh-b", Quantity: 5,
	})
	_, err := f.engine.Orders.ReserveStock(f.ctx, o.ID)
	require.NoError(t, err)
	o, err = f.engine.Orders.Fulfill(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.StateFulfilled, o.State)

	ms, err := f.engine.Ledger.Movements(f.ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, ms, 2)

	out, in := ms[0], ms[1]
	if out.Kind != inventory.MovementTransferOut {
		out, in = in, out
	}
	assert.Equal(t, inventory.MovementTransferOut, out.Kind)
	assert.Equal(t, inventory.MovementTransferIn, in.Kind)
	assert.Equal(t, int64(-5), out.QuantityDelta)
	assert.Equal(t, int64(5), in.QuantityDelta)
	assert.Equal(t, inventory.WarehouseID("wh-a"), out.WarehouseID)
	assert.Equal(t, inventory.WarehouseID("wh-b"), in.WarehouseID)
	assert.Equal(t, o.ID, out.OrderID)
	assert.Equal(t, o.ID, in.OrderID)
	assert.True(t, out.Timestamp.Equal(in.Timestamp))

	assert.Equal(t, inventory.StockLevel{Key: inventory.Key("widget", "wh-a"), OnHand: 5}, f.level(t, "widget", "wh-a"))
	assert.Equal(t, inventory.StockLevel{Key: inventory.Key("widget", "wh-b"), OnHand: 5}, f.level(t, "widget", "wh-b"))
}

func TestScenario_ReturnOrderRestocks(t *testing.T) {
	f := newFixture(t)

	o := f.confirmedOrder(t, inventory.OrderReturn, line("gadget", "wh-b", 3))
	o, err := f.engine.Orders.Receive(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.StateReceived, o.State)

	ms, err := f.engine.Ledger.Movements(f.ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, inventory.MovementReturnIn, ms[0].Kind)
	assert.Equal(t, int64(3), f.level(t, "gadget", "wh-b").OnHand)

	_, err = f.engine.Orders.Close(f.ctx, o.ID)
	require.NoError(t, err)
}

// =============================================================================
// ORDER SERVICE RULES
// =============================================================================

func TestOrders_CreateValidatesLines(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		in   inventory.NewOrder
	}{
		{"unknown kind", inventory.NewOrder{Kind: "GIFT", Lines: []inventory.OrderLine{line("widget", "wh-a", 1)}}},
		{"no lines", inventory.NewOrder{Kind: inventory.OrderCustomer}},
		{"zero quantity", inventory.NewOrder{Kind: inventory.OrderCustomer, Lines: []inventory.OrderLine{line("widget", "wh-a", 0)}}},
		{"internal without destination", inventory.NewOrder{Kind: inventory.OrderInternal, Lines: []inventory.OrderLine{line("widget", "wh-a", 1)}}},
		{"internal to itself", inventory.NewOrder{Kind: inventory.OrderInternal, Lines: []inventory.OrderLine{
			{ProductID: "widget", WarehouseID: "wh-a", DestinationWarehouseID: "wh-a", Quantity: 1},
		}}},
		{"customer with destination", inventory.NewOrder{Kind: inventory.OrderCustomer, Lines: []inventory.OrderLine{
			{ProductID: "widget", WarehouseID: "wh-a", DestinationWarehouseID: "wh-b", Quantity: 1},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Orders.Create(f.ctx, tt.in)
			assert.ErrorIs(t, err, inventory.ErrValidation)
		})
	}
}

func TestOrders_ConfirmRejectsUnknownCatalogEntries(t *testing.T) {
	f := newFixture(t)

	o, err := f.engine.Orders.Create(f.ctx, inventory.NewOrder{
		Kind:  inventory.OrderCustomer,
		Lines: []inventory.OrderLine{line("doohickey", "wh-a", 1)},
	})
	require.NoError(t, err)

	_, err = f.engine.Orders.Confirm(f.ctx, o.ID)
	var ve *inventory.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "product_id", ve.Field)

	o, err = f.engine.Orders.Get(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.StateDraft, o.State)
}

func TestOrders_InvalidTransitionLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	o := f.confirmedOrder(t, inventory.OrderCustomer, line("widget", "wh-a", 1))

	_, err := f.engine.Orders.Fulfill(f.ctx, o.ID)
	assert.ErrorIs(t, err, inventory.ErrInvalidTransition)

	got, err := f.engine.Orders.Get(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.StateConfirmed, got.State)
	assert.Equal(t, o.Version, got.Version)
}

func TestOrders_ReserveStockOnlyReservesShortfall(t *testing.T) {
	// GIVEN: A confirmed order for 5 with 2 already reserved directly
	// WHEN: reserveStock runs
	// THEN: Only 3 more are reserved

	f := newFixture(t)
	f.stock(t, "widget", "wh-a", 10)
	o := f.confirmedOrder(t, inventory.OrderCustomer, line("widget", "wh-a", 5))

	_, err := f.engine.Reservations.Reserve(f.ctx, o.ID, "widget", "wh-a", 2)
	require.NoError(t, err)

	_, err = f.engine.Orders.ReserveStock(f.ctx, o.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(5), f.level(t, "widget", "wh-a").Reserved)
	rs, err := f.engine.Reservations.Reservations(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, rs, 2)
}

func TestOrders_FulfillAfterReleaseAndReserveAgain(t *testing.T) {
	// GIVEN: A confirmed order whose direct reservation was released
	// WHEN: reserveStock covers the line again and the order is fulfilled
	// THEN: Only the line quantity ships

	f := newFixture(t)
	f.stock(t, "widget", "wh-a", 10)
	o := f.confirmedOrder(t, inventory.OrderCustomer, line("widget", "wh-a", 4))

	id, err := f.engine.Reservations.Reserve(f.ctx, o.ID, "widget", "wh-a", 4)
	require.NoError(t, err)
	require.NoError(t, f.engine.Reservations.Release(f.ctx, id))

	_, err = f.engine.Orders.ReserveStock(f.ctx, o.ID)
	require.NoError(t, err)
	o, err = f.engine.Orders.Fulfill(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.StateFulfilled, o.State)

	lvl := f.level(t, "widget", "wh-a")
	assert.Equal(t, int64(6), lvl.OnHand)
	assert.Equal(t, int64(0), lvl.Reserved)
}

func TestOrders_CancelRefusedOnceStockShipped(t *testing.T) {
	// GIVEN: A reserved order for 5 held by two reservations
	// WHEN: One reservation is committed and the order is cancelled
	// THEN: Cancel is refused and fulfill ships the rest

	f := newFixture(t)
	f.stock(t, "widget", "wh-a", 10)
	o := f.confirmedOrder(t, inventory.OrderCustomer, line("widget", "wh-a", 5))

	first, err := f.engine.Reservations.Reserve(f.ctx, o.ID, "widget", "wh-a", 2)
	require.NoError(t, err)
	_, err = f.engine.Orders.ReserveStock(f.ctx, o.ID)
	require.NoError(t, err)
	_, err = f.engine.Reservations.Commit(f.ctx, first)
	require.NoError(t, err)

	_, err = f.engine.Orders.Cancel(f.ctx, o.ID, "changed mind")
	assert.ErrorIs(t, err, inventory.ErrInvalidTransition)

	got, err := f.engine.Orders.Get(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.StateReserved, got.State)
	assert.Equal(t, int64(3), f.level(t, "widget", "wh-a").Reserved)

	got, err = f.engine.Orders.Fulfill(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, inventory.StateFulfilled, got.State)

	lvl := f.level(t, "widget", "wh-a")
	assert.Equal(t, int64(5), lvl.OnHand)
	assert.Equal(t, int64(0), lvl.Reserved)
}

func TestOrders_ListFiltersByState(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "widget", "wh-a", 10)

	draft, err := f.engine.Orders.Create(f.ctx, inventory.NewOrder{Kind: inventory.OrderCustomer, Lines: []inventory.OrderLine{line("widget", "wh-a", 1)}})
	require.NoError(t, err)
	confirmed := f.confirmedOrder(t, inventory.OrderCustomer, line("widget", "wh-a", 1))

	got, err := f.engine.Orders.List(f.ctx, inventory.OrderFilter{State: inventory.StateDraft})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, draft.ID, got[0].ID)

	got, err = f.engine.Orders.List(f.ctx, inventory.OrderFilter{State: inventory.StateConfirmed})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, confirmed.ID, got[0].ID)
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func TestReservations_RequireReservableOrder(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "widget", "wh-a", 10)

	po := f.confirmedOrder(t, inventory.OrderPurchase, line("widget", "wh-a", 1))
	_, err := f.engine.Reservations.Reserve(f.ctx, po.ID, "widget", "wh-a", 1)
	assert.ErrorIs(t, err, inventory.ErrValidation, "purchase orders do not reserve")

	draft, err := f.engine.Orders.Create(f.ctx, inventory.NewOrder{Kind: inventory.OrderCustomer, Lines: []inventory.OrderLine{line("widget", "wh-a", 1)}})
	require.NoError(t, err)
	_, err = f.engine.Reservations.Reserve(f.ctx, draft.ID, "widget", "wh-a", 1)
	assert.ErrorIs(t, err, inventory.ErrValidation, "draft orders do not reserve")

	c := f.confirmedOrder(t, inventory.OrderCustomer, line("widget", "wh-a", 1))
	_, err = f.engine.Reservations.Reserve(f.ctx, c.ID, "gadget", "wh-a", 1)
	assert.ErrorIs(t, err, inventory.ErrValidation, "no line for gadget")

	_, err = f.engine.Reservations.Reserve(f.ctx, "missing", "widget", "wh-a", 1)
	assert.ErrorIs(t, err, inventory.ErrOrderNotFound)
}

func TestReservations_ResolvedCannotBeReused(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "widget", "wh-a", 10)
	o := f.confirmedOrder(t, inventory.OrderCustomer, line("widget", "wh-a", 4))
	_, err := f.engine.Orders.ReserveStock(f.ctx, o.ID)
	require.NoError(t, err)

	rs, err := f.engine.Reservations.Reservations(f.ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	id := rs[0].ID

	mid, err := f.engine.Reservations.Commit(f.ctx, id)
	require.NoError(t, err)
	assert.NotEmpty(t, mid)

	_, err = f.engine.Reservations.Commit(f.ctx, id)
	assert.ErrorIs(t, err, inventory.ErrReservationResolved)
	assert.ErrorIs(t, f.engine.Reservations.Release(f.ctx, id), inventory.ErrReservationResolved)

	lvl := f.level(t, "widget", "wh-a")
	assert.Equal(t, int64(6), lvl.OnHand)
	assert.Equal(t, int64(0), lvl.Reserved)

	assert.ErrorIs(t, f.engine.Reservations.Release(f.ctx, "nope"), inventory.ErrReservationNotFound)
}

func TestReservations_CommitRequiresReservedOrder(t *testing.T) {
	// GIVEN: A confirmed order for 4 with a direct reservation of 4
	// WHEN: The reservation is committed before reserveStock
	// THEN: Nothing ships and the order can still be cancelled cleanly

	f := newFixture(t)
	f.stock(t, "widget", "wh-a", 10)
	o := f.confirmedOrder(t, inventory.OrderCustomer, line("widget", "wh-a", 4))

	id, err := f.engine.Reservations.Reserve(f.ctx, o.ID, "widget", "wh-a", 4)
	require.NoError(t, err)

	_, err = f.engine.Reservations.Commit(f.ctx, id)
	assert.ErrorIs(t, err, inventory.ErrInvalidTransition)
	assert.Equal(t, int64(10), f.level(t, "widget", "wh-a").OnHand)

	ms, err := f.engine.Ledger.Movements(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, ms)

	o, err = f.engine.Orders.Cancel(f.ctx, o.ID, "")
	require.NoError(t, err)
	assert.Equal(t, inventory.StateCancelled, o.State)

	lvl := f.level(t, "widget", "wh-a")
	assert.Equal(t, int64(10), lvl.OnHand)
	assert.Equal(t, int64(0), lvl.Reserved)
}

func TestReservations_ReleaseRequiresConfirmedOrder(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "widget", "wh-a", 10)
	o := f.confirmedOrder(t, inventory.OrderCustomer, line("widget", "wh-a", 3))
	_, err := f.engine.Orders.ReserveStock(f.ctx, o.ID)
	require.NoError(t, err)

	rs, err := f.engine.Reservations.Reservations(f.ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, rs, 1)

	err = f.engine.Reservations.Release(f.ctx, rs[0].ID)
	assert.ErrorIs(t, err, inventory.ErrInvalidTransition)
	assert.Equal(t, int64(3), f.level(t, "widget", "wh-a").Reserved)
}

func TestReservations_CappedAtLineQuantity(t *testing.T) {
	// GIVEN: 10 widgets and an order line for 2
	// WHEN: Extra units are reserved before and after reserveStock
	// THEN: Both are rejected and fulfill ships exactly 2

	f := newFixture(t)
	f.stock(t, "widget", "wh-a", 10)
	o := f.confirmedOrder(t, inventory.OrderCustomer, line("widget", "wh-a", 2))

	_, err := f.engine.Reservations.Reserve(f.ctx, o.ID, "widget", "wh-a", 1)
	require.NoError(t, err)
	_, err = f.engine.Reservations.Reserve(f.ctx, o.ID, "widget", "wh-a", 2)
	assert.ErrorIs(t, err, inventory.ErrValidation, "1 held + 2 exceeds the line")

	_, err = f.engine.Orders.ReserveStock(f.ctx, o.ID)
	require.NoError(t, err)

	_, err = f.engine.Reservations.Reserve(f.ctx, o.ID, "widget", "wh-a", 7)
	assert.ErrorIs(t, err, inventory.ErrValidation, "reserved orders take no more reservations")
	assert.Equal(t, int64(2), f.level(t, "widget", "wh-a").Reserved)

	_, err = f.engine.Orders.Fulfill(f.ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), f.level(t, "widget", "wh-a").OnHand)
}
