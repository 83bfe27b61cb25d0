package inventory_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/inventory/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// recorder is a synchronous Emitter that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []inventory.Event
}

func (r *recorder) Publish(e inventory.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(t inventory.EventType) []inventory.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []inventory.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type fixture struct {
	engine *inventory.Engine
	store  *store.Memory
	events *recorder
	ctx    context.Context
}

type option func(*inventory.Deps)

func withAuthorizer(a inventory.Authorizer) option {
	return func(d *inventory.Deps) { d.Authorizer = a }
}

func withLockTimeout(d time.Duration) option {
	return func(deps *inventory.Deps) { deps.LockTimeout = d }
}

func withPageSize(n int) option {
	return func(d *inventory.Deps) { d.PageSize = n }
}

func withStore(s inventory.TxStore) option {
	return func(d *inventory.Deps) { d.Store = s }
}

func withCache(c inventory.LevelCache) option {
	return func(d *inventory.Deps) { d.Cache = c }
}

// tickingClock advances one millisecond per call so timestamps are ordered.
func tickingClock() inventory.Clock {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var n atomic.Int64
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Millisecond)
	}
}

// newFixture builds an engine over the in-memory store with a catalog
// holding products widget/gadget and warehouses wh-a/wh-b.
func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	mem := store.NewMemory()
	ctx := inventory.WithActor(context.Background(), "tester")

	for _, p := range []inventory.ProductID{"widget", "gadget"} {
		require.NoError(t, mem.SaveProduct(ctx, inventory.Product{ID: p, SKU: string(p), Name: string(p), Active: true}))
	}
	for _, w := range []inventory.WarehouseID{"wh-a", "wh-b"} {
		require.NoError(t, mem.SaveWarehouse(ctx, inventory.Warehouse{ID: w, Name: string(w), Active: true}))
	}

	rec := &recorder{}
	deps := inventory.Deps{
		Store:   mem,
		Catalog: mem,
		Emitter: rec,
		Logger:  zaptest.NewLogger(t),
		Clock:   tickingClock(),
	}
	for _, o := range opts {
		o(&deps)
	}
	return &fixture{engine: inventory.NewEngine(deps), store: mem, events: rec, ctx: ctx}
}

// stock receives qty units of p at w.
func (f *fixture) stock(t *testing.T, p inventory.ProductID, w inventory.WarehouseID, qty int64) {
	t.Helper()
	_, err := f.engine.Ledger.Append(f.ctx, inventory.Movement{
		ProductID:     p,
		WarehouseID:   w,
		QuantityDelta: qty,
		Kind:          inventory.MovementReceipt,
	})
	require.NoError(t, err)
}

func (f *fixture) level(t *testing.T, p inventory.ProductID, w inventory.WarehouseID) inventory.StockLevel {
	t.Helper()
	lvl, err := f.engine.Ledger.CurrentLevel(f.ctx, p, w)
	require.NoError(t, err)
	return lvl
}

var orderSeq atomic.Int64

func nextOrderID(kind inventory.OrderKind) inventory.OrderID {
	return inventory.OrderID(fmt.Sprintf("%s-%d", kind, orderSeq.Add(1)))
}

// confirmedOrder creates and confirms an order with one line.
func (f *fixture) confirmedOrder(t *testing.T, kind inventory.OrderKind, line inventory.OrderLine) inventory.Order {
	t.Helper()
	o, err := f.engine.Orders.Create(f.ctx, inventory.NewOrder{
		ID:    nextOrderID(kind),
		Kind:  kind,
		Lines: []inventory.OrderLine{line},
	})
	require.NoError(t, err)
	o, err = f.engine.Orders.Confirm(f.ctx, o.ID)
	require.NoError(t, err)
	return o
}

func line(p inventory.ProductID, w inventory.WarehouseID, qty int64) inventory.OrderLine {
	return inventory.OrderLine{ProductID: p, WarehouseID: w, Quantity: qty}
}

func costLine(p inventory.ProductID, w inventory.WarehouseID, qty int64, cost string) inventory.OrderLine {
	l := line(p, w, qty)
	l.UnitCost = decimal.RequireFromString(cost)
	return l
}

// catchViolation runs fn and returns the InvariantViolation it panicked with.
func catchViolation(fn func()) (v *inventory.InvariantViolation) {
	defer func() {
		if r := recover(); r != nil {
			v, _ = r.(*inventory.InvariantViolation)
		}
	}()
	fn()
	return nil
}
