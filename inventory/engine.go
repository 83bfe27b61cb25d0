/*
engine.go - Wiring and the shared unit of work

PURPOSE:
  Engine bundles the three public services (Ledger, ReservationManager,
  OrderService) around one coordinator, one store and one emitter. All
  mutations funnel through core.run, which gives every operation the same
  shape:

    1. Acquire the coordinator section for every key touched (sorted).
    2. Open a store transaction and snapshot the levels of those keys.
    3. Apply the operation's writes through the unit.
    4. Re-derive levels and check 0 <= reserved <= onHand for every key.
    5. Commit, invalidate cached levels, publish events.
    6. Release the section.

  A returned error at step 3 rolls the transaction back, so durable state is
  unchanged. A failed check at step 4 is an InvariantViolation and panics;
  the store rolls back during unwinding and the section is released.

EVENTS:
  Events are collected during the unit and published only after commit,
  one per movement and one per order transition, plus low-stock crossings.
*/
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// ENGINE
// =============================================================================

// Deps configures NewEngine. Store is required; everything else has a
// usable default.
type Deps struct {
	Store      TxStore
	Catalog    Catalog
	Cache      LevelCache
	Authorizer Authorizer
	Emitter    Emitter
	Logger     *zap.Logger

	LockTimeout time.Duration
	PageSize    int
	Clock       Clock
	NewID       func() string
}

type Engine struct {
	Ledger       *Ledger
	Reservations *ReservationManager
	Orders       *OrderService

	core *core
}

const DefaultPageSize = 256

func NewEngine(d Deps) *Engine {
	if d.Store == nil {
		panic("inventory: NewEngine requires a Store")
	}
	c := &core{
		store:    d.Store,
		catalog:  d.Catalog,
		cache:    d.Cache,
		auth:     d.Authorizer,
		emit:     d.Emitter,
		log:      d.Logger,
		coord:    NewCoordinator(d.LockTimeout),
		pageSize: d.PageSize,
		now:      d.Clock,
		newID:    d.NewID,
	}
	if c.catalog == nil {
		c.catalog = openCatalog{}
	}
	if c.cache == nil {
		c.cache = NopCache{}
	}
	if c.auth == nil {
		c.auth = AllowAll
	}
	if c.emit == nil {
		c.emit = NopEmitter{}
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.pageSize <= 0 {
		c.pageSize = DefaultPageSize
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}

	return &Engine{
		Ledger:       &Ledger{c: c},
		Reservations: &ReservationManager{c: c},
		Orders:       &OrderService{c: c},
		core:         c,
	}
}

// Coordinator exposes the engine's coordinator, mainly for tests that need
// to hold a section from outside.
func (e *Engine) Coordinator() *Coordinator { return e.core.coord }

// openCatalog accepts every product and warehouse and has no thresholds.
type openCatalog struct{}

func (openCatalog) ProductExists(context.Context, ProductID) (bool, error)     { return true, nil }
func (openCatalog) WarehouseExists(context.Context, WarehouseID) (bool, error) { return true, nil }
func (openCatalog) LowStockThreshold(context.Context, StockKey) (int64, bool, error) {
	return 0, false, nil
}

// =============================================================================
// CORE - Shared by all services
// =============================================================================

type core struct {
	store    TxStore
	catalog  Catalog
	cache    LevelCache
	auth     Authorizer
	emit     Emitter
	log      *zap.Logger
	coord    *Coordinator
	pageSize int
	now      Clock
	newID    func() string
}

func (c *core) authorize(ctx context.Context, capability Capability, scope Scope) error {
	return c.auth.Authorize(ctx, ActorFrom(ctx), capability, scope)
}

// levelIn derives the level of key from s. It never consults the cache.
func levelIn(ctx context.Context, s Store, key StockKey) (StockLevel, error) {
	onHand, err := s.SumMovements(ctx, key)
	if err != nil {
		return StockLevel{}, err
	}
	reserved, err := s.SumActiveReservations(ctx, key)
	if err != nil {
		return StockLevel{}, err
	}
	return StockLevel{Key: key, OnHand: onHand, Reserved: reserved}, nil
}

// violation logs and panics. It never returns.
func (c *core) violation(key StockKey, format string, args ...any) {
	v := &InvariantViolation{Key: key, Detail: fmt.Sprintf(format, args...)}
	c.log.Error("invariant violation",
		zap.String("key", key.String()),
		zap.String("detail", v.Detail),
		zap.Stack("stack"),
	)
	panic(v)
}

// run executes fn as one serialized, atomic unit over keys.
func (c *core) run(ctx context.Context, keys []StockKey, fn func(u *unit) error) error {
	sec, err := c.coord.Acquire(ctx, keys...)
	if err != nil {
		c.log.Warn("lock timeout", zap.Error(err))
		return err
	}
	defer sec.Release()

	u := &unit{
		c:      c,
		sec:    sec,
		actor:  ActorFrom(ctx),
		at:     c.now(),
		before: make(map[StockKey]StockLevel),
		after:  make(map[StockKey]StockLevel),
	}

	err = c.store.WithTx(ctx, func(tx Store) error {
		u.tx = tx
		for _, k := range sec.Keys() {
			lvl, err := levelIn(ctx, tx, k)
			if err != nil {
				return err
			}
			if !lvl.Consistent() {
				c.violation(k, "stored level inconsistent before write: onHand=%d reserved=%d", lvl.OnHand, lvl.Reserved)
			}
			u.before[k] = lvl
		}

		if err := fn(u); err != nil {
			return err
		}

		for _, k := range sec.Keys() {
			lvl, err := levelIn(ctx, tx, k)
			if err != nil {
				return err
			}
			if !lvl.Consistent() {
				c.violation(k, "write left level inconsistent: onHand=%d reserved=%d", lvl.OnHand, lvl.Reserved)
			}
			u.after[k] = lvl
		}
		return nil
	})
	if err != nil {
		return err
	}

	u.finish(ctx)
	return nil
}

// =============================================================================
// UNIT - One serialized transaction
// =============================================================================

type unit struct {
	c     *core
	sec   *Section
	tx    Store
	actor ActorID
	at    time.Time

	before map[StockKey]StockLevel
	after  map[StockKey]StockLevel

	movements   []Movement
	transitions []transitionRecord
}

type transitionRecord struct {
	t    OrderTransition
	kind OrderKind
}

func (u *unit) requireHeld(key StockKey, op string) {
	if !u.sec.Holds(key) {
		u.c.violation(key, "%s outside its critical section", op)
	}
}

// finish runs after commit while the section is still held.
func (u *unit) finish(ctx context.Context) {
	keys := u.sec.Keys()
	if len(keys) > 0 {
		if err := u.c.cache.Invalidate(ctx, keys...); err != nil {
			u.c.log.Error("level cache invalidation failed", zap.Error(err), zap.Int("keys", len(keys)))
		}
	}

	for i := range u.movements {
		m := u.movements[i]
		lvl := u.after[m.Key()]
		u.c.emit.Publish(Event{
			ID:         uuid.New(),
			Type:       EventStockChanged,
			OccurredAt: m.Timestamp,
			ActorID:    m.ActorID,
			OrderID:    m.OrderID,
			Movement:   &m,
			Level:      &lvl,
		})
	}

	for i := range u.transitions {
		tr := u.transitions[i]
		u.c.emit.Publish(Event{
			ID:         uuid.New(),
			Type:       EventOrderTransitioned,
			OccurredAt: tr.t.At,
			ActorID:    tr.t.ActorID,
			OrderID:    tr.t.OrderID,
			Transition: &tr.t,
			OrderKind:  tr.kind,
		})
	}

	for _, k := range keys {
		before, after := u.before[k], u.after[k]
		if after.Available() >= before.Available() {
			continue
		}
		threshold, ok, err := u.c.catalog.LowStockThreshold(ctx, k)
		if err != nil {
			u.c.log.Warn("low stock threshold lookup failed", zap.String("key", k.String()), zap.Error(err))
			continue
		}
		if !ok || before.Available() <= threshold || after.Available() > threshold {
			continue
		}
		lvl := after
		u.c.emit.Publish(Event{
			ID:         uuid.New(),
			Type:       EventLowStock,
			OccurredAt: u.at,
			ActorID:    u.actor,
			Level:      &lvl,
			Threshold:  threshold,
		})
	}
}
