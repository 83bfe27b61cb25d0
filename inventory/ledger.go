/*
ledger.go - Append-only stock ledger

PURPOSE:
  Records every stock change as an immutable Movement and derives StockLevel
  from the movement log plus the ACTIVE reservations.

WRITE RULES (checked inside the key's critical section):
  - onHand after the write must be >= 0           (NegativeStockError)
  - onHand after the write must be >= reserved    (InsufficientStockError)
  - SHIPMENT and TRANSFER_OUT need a COMMITTED reservation of at least the
    shipped quantity; they are only written by ReservationManager.Commit.
  - TRANSFER_OUT and TRANSFER_IN are written together in one batch, with the
    same order and timestamp.

PUBLIC APPEND:
  Append accepts RECEIPT, ADJUSTMENT and RETURN_IN. The outbound kinds come
  from reservation commits, never from callers.

READS:
  CurrentLevel serves from the LevelCache when possible. On a miss it
  computes the level while holding the key's section and fills the cache,
  so a writer's invalidation can never be overwritten by a stale fill.
  History is a lazy, restartable, paged sequence.

SEE ALSO:
  - reservation.go: commit path that writes SHIPMENT / TRANSFER pairs
  - engine.go:      unit of work, invariant checks, events
*/
package inventory

import (
	"context"
	"iter"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Ledger struct {
	c *core
}

// =============================================================================
// APPEND
// =============================================================================

// Append records a standalone movement and returns its ID.
func (l *Ledger) Append(ctx context.Context, m Movement) (MovementID, error) {
	if err := l.validate(ctx, m); err != nil {
		return "", err
	}

	capability := CapAdjustInventory
	if m.Kind == MovementReceipt || m.Kind == MovementReturnIn {
		capability = CapReceiveStock
	}
	if err := l.c.authorize(ctx, capability, Scope{WarehouseID: m.WarehouseID}); err != nil {
		return "", err
	}

	if m.IdempotencyKey != "" {
		exists, err := l.c.store.MovementExists(ctx, m.IdempotencyKey)
		if err != nil {
			return "", err
		}
		if exists {
			return "", ErrDuplicateIdempotencyKey
		}
	}

	var id MovementID
	err := l.c.run(ctx, []StockKey{m.Key()}, func(u *unit) error {
		m.ReservationID = ""
		written, err := u.appendMovements(ctx, []Movement{m})
		if err != nil {
			return err
		}
		id = written[0].ID
		return nil
	})
	if err != nil {
		return "", err
	}

	l.c.log.Info("movement appended",
		zap.String("movement_id", string(id)),
		zap.String("key", m.Key().String()),
		zap.String("kind", string(m.Kind)),
		zap.Int64("delta", m.QuantityDelta),
	)
	return id, nil
}

func (l *Ledger) validate(ctx context.Context, m Movement) error {
	if m.ProductID == "" {
		return invalid("product_id", "required")
	}
	if m.WarehouseID == "" {
		return invalid("warehouse_id", "required")
	}
	if !m.Kind.Valid() {
		return invalid("kind", "unknown movement kind %q", m.Kind)
	}
	switch m.Kind {
	case MovementReceipt, MovementReturnIn:
		if m.QuantityDelta <= 0 {
			return invalid("quantity_delta", "%s must be positive", m.Kind)
		}
	case MovementAdjustment:
		if m.QuantityDelta == 0 {
			return invalid("quantity_delta", "adjustment must be non-zero")
		}
	default:
		return invalid("kind", "%s movements are written by reservation commits only", m.Kind)
	}
	if m.UnitCost.IsNegative() {
		return invalid("unit_cost", "must not be negative")
	}
	return checkCatalog(ctx, l.c.catalog, m.ProductID, m.WarehouseID)
}

func checkCatalog(ctx context.Context, cat Catalog, p ProductID, w WarehouseID) error {
	ok, err := cat.ProductExists(ctx, p)
	if err != nil {
		return err
	}
	if !ok {
		return invalid("product_id", "product %s does not exist or is inactive", p)
	}
	ok, err = cat.WarehouseExists(ctx, w)
	if err != nil {
		return err
	}
	if !ok {
		return invalid("warehouse_id", "warehouse %s does not exist or is inactive", w)
	}
	return nil
}

// appendMovements is the only path that writes movements. All keys must be
// held by the unit's section.
func (u *unit) appendMovements(ctx context.Context, ms []Movement) ([]Movement, error) {
	for i := range ms {
		m := &ms[i]
		u.requireHeld(m.Key(), "movement append")
		if m.ID == "" {
			m.ID = MovementID(u.c.newID())
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = u.at
		}
		if m.ActorID == "" {
			m.ActorID = u.actor
		}
	}

	if err := u.checkOutbound(ctx, ms); err != nil {
		return nil, err
	}

	// Every prefix of the batch must keep on-hand non-negative, so replaying
	// the log never passes through a negative value.
	base := make(map[StockKey]StockLevel)
	levels := make(map[StockKey]StockLevel)
	for _, m := range ms {
		k := m.Key()
		lvl, seen := levels[k]
		if !seen {
			var err error
			if lvl, err = levelIn(ctx, u.tx, k); err != nil {
				return nil, err
			}
			base[k] = lvl
		}
		if lvl.OnHand+m.QuantityDelta < 0 {
			return nil, &NegativeStockError{Key: k, OnHand: lvl.OnHand, Delta: m.QuantityDelta}
		}
		lvl.OnHand += m.QuantityDelta
		levels[k] = lvl
	}
	for k, lvl := range levels {
		if lvl.OnHand < lvl.Reserved {
			b := base[k]
			return nil, &InsufficientStockError{Key: k, Available: b.Available(), Requested: b.OnHand - lvl.OnHand}
		}
	}

	written, err := u.tx.AppendMovements(ctx, ms)
	if err != nil {
		return nil, err
	}
	u.movements = append(u.movements, written...)
	return written, nil
}

// checkOutbound enforces the authorization and pairing rules for SHIPMENT
// and TRANSFER movements. Breaking them is a programming defect.
func (u *unit) checkOutbound(ctx context.Context, ms []Movement) error {
	for i, m := range ms {
		switch m.Kind {
		case MovementShipment, MovementTransferOut:
			if m.QuantityDelta >= 0 {
				u.c.violation(m.Key(), "%s with non-negative delta %d", m.Kind, m.QuantityDelta)
			}
			if m.ReservationID == "" {
				u.c.violation(m.Key(), "%s without reservation", m.Kind)
			}
			r, err := u.tx.GetReservation(ctx, m.ReservationID)
			if err != nil {
				return err
			}
			if r.Status != ReservationCommitted || r.Quantity < -m.QuantityDelta || r.Key() != m.Key() {
				u.c.violation(m.Key(), "%s of %d not covered by reservation %s (%s, qty %d)",
					m.Kind, -m.QuantityDelta, r.ID, r.Status, r.Quantity)
			}
		}

		if m.Kind == MovementTransferOut {
			if !hasTransferIn(ms, i) {
				u.c.violation(m.Key(), "TRANSFER_OUT %s has no matching TRANSFER_IN", m.ID)
			}
		}
		if m.Kind == MovementTransferIn {
			if !hasTransferOut(ms, i) {
				u.c.violation(m.Key(), "TRANSFER_IN %s has no matching TRANSFER_OUT", m.ID)
			}
		}
	}
	return nil
}

func pairs(out, in Movement) bool {
	return out.Kind == MovementTransferOut && in.Kind == MovementTransferIn &&
		out.ProductID == in.ProductID &&
		out.WarehouseID != in.WarehouseID &&
		out.OrderID != "" && out.OrderID == in.OrderID &&
		out.Timestamp.Equal(in.Timestamp) &&
		out.QuantityDelta == -in.QuantityDelta
}

func hasTransferIn(ms []Movement, i int) bool {
	for j := range ms {
		if j != i && pairs(ms[i], ms[j]) {
			return true
		}
	}
	return false
}

func hasTransferOut(ms []Movement, i int) bool {
	for j := range ms {
		if j != i && pairs(ms[j], ms[i]) {
			return true
		}
	}
	return false
}

// =============================================================================
// READS
// =============================================================================

// CurrentLevel returns the on-hand and reserved quantities for a key.
func (l *Ledger) CurrentLevel(ctx context.Context, p ProductID, w WarehouseID) (StockLevel, error) {
	key := Key(p, w)
	if lvl, ok, err := l.c.cache.Get(ctx, key); err != nil {
		l.c.log.Warn("level cache read failed", zap.String("key", key.String()), zap.Error(err))
	} else if ok {
		return lvl, nil
	}

	sec, err := l.c.coord.Acquire(ctx, key)
	if err != nil {
		return StockLevel{}, err
	}
	defer sec.Release()

	lvl, err := levelIn(ctx, l.c.store, key)
	if err != nil {
		return StockLevel{}, err
	}
	if !lvl.Consistent() {
		l.c.violation(key, "stored level inconsistent: onHand=%d reserved=%d", lvl.OnHand, lvl.Reserved)
	}
	if err := l.c.cache.Set(ctx, lvl); err != nil {
		l.c.log.Warn("level cache fill failed", zap.String("key", key.String()), zap.Error(err))
	}
	return lvl, nil
}

// History returns the movements for a key within rng, oldest first. The
// sequence pages through the store lazily and can be ranged over again.
func (l *Ledger) History(ctx context.Context, p ProductID, w WarehouseID, rng HistoryRange) iter.Seq2[Movement, error] {
	key := Key(p, w)
	return func(yield func(Movement, error) bool) {
		var after int64
		for {
			page, err := l.c.store.MovementsPage(ctx, key, rng, after, l.c.pageSize)
			if err != nil {
				yield(Movement{}, err)
				return
			}
			for _, m := range page {
				if !yield(m, nil) {
					return
				}
				after = m.Seq
			}
			if len(page) < l.c.pageSize {
				return
			}
		}
	}
}

// Movements returns every movement written on behalf of an order.
func (l *Ledger) Movements(ctx context.Context, orderID OrderID) ([]Movement, error) {
	return l.c.store.MovementsByOrder(ctx, orderID)
}

// Replay recomputes on-hand for a key from the full movement log.
func (l *Ledger) Replay(ctx context.Context, p ProductID, w WarehouseID) (int64, error) {
	var onHand int64
	for m, err := range l.History(ctx, p, w, HistoryRange{}) {
		if err != nil {
			return 0, err
		}
		onHand += m.QuantityDelta
		if onHand < 0 {
			l.c.violation(Key(p, w), "replay went negative at movement %s (seq %d)", m.ID, m.Seq)
		}
	}
	return onHand, nil
}

// Verification compares the replayed log with the stored and cached views.
type Verification struct {
	Key      StockKey
	Replayed int64
	Stored   StockLevel
	Cached   *StockLevel
}

// Drift reports whether any view disagrees with the replay.
func (v Verification) Drift() bool {
	if v.Replayed != v.Stored.OnHand {
		return true
	}
	return v.Cached != nil && *v.Cached != v.Stored
}

// Verify replays a key under its section and drops a drifted cache entry.
func (l *Ledger) Verify(ctx context.Context, p ProductID, w WarehouseID) (Verification, error) {
	key := Key(p, w)
	sec, err := l.c.coord.Acquire(ctx, key)
	if err != nil {
		return Verification{}, err
	}
	defer sec.Release()

	v := Verification{Key: key}
	if v.Replayed, err = l.Replay(ctx, p, w); err != nil {
		return v, err
	}
	if v.Stored, err = levelIn(ctx, l.c.store, key); err != nil {
		return v, err
	}
	if cached, ok, err := l.c.cache.Get(ctx, key); err == nil && ok {
		v.Cached = &cached
	}

	if v.Drift() {
		l.c.log.Warn("ledger drift detected",
			zap.String("key", key.String()),
			zap.Int64("replayed", v.Replayed),
			zap.Int64("stored", v.Stored.OnHand),
		)
		if err := l.c.cache.Invalidate(ctx, key); err != nil {
			return v, err
		}
	}
	return v, nil
}

// =============================================================================
// VALUATION
// =============================================================================

// Valuation computes the moving weighted-average cost of a key's stock.
// Inbound movements with a unit cost re-weight the average; everything else
// moves quantity at the current average.
func (l *Ledger) Valuation(ctx context.Context, p ProductID, w WarehouseID) (Valuation, error) {
	var (
		onHand int64
		avg    = decimal.Zero
	)
	for m, err := range l.History(ctx, p, w, HistoryRange{}) {
		if err != nil {
			return Valuation{}, err
		}
		next := onHand + m.QuantityDelta
		if m.QuantityDelta > 0 && !m.UnitCost.IsZero() && next > 0 {
			held := avg.Mul(decimal.NewFromInt(onHand))
			incoming := m.UnitCost.Mul(decimal.NewFromInt(m.QuantityDelta))
			avg = held.Add(incoming).DivRound(decimal.NewFromInt(next), 4)
		}
		onHand = next
	}
	return Valuation{
		Key:        Key(p, w),
		OnHand:     onHand,
		UnitCost:   avg,
		TotalValue: avg.Mul(decimal.NewFromInt(onHand)).Round(2),
	}, nil
}
