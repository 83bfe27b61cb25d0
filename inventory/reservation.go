/*
reservation.go - Holds on stock for in-flight orders

LIFECYCLE:
  ACTIVE ──release──▶ RELEASED   (no movement; reserved quantity freed)
     └────commit────▶ COMMITTED  (SHIPMENT, or TRANSFER_OUT + TRANSFER_IN)

RULES:
  - reserve fails with InsufficientStockError when onHand - reserved < qty,
    evaluated inside the key's section.
  - reserve needs a CONFIRMED order and never covers more than the
    order's line quantity for the key, counting ACTIVE and COMMITTED
    reservations already taken.
  - release and commit only act on ACTIVE reservations. release needs a
    CONFIRMED order; commit needs a RESERVED one, so stock only leaves
    for orders the state machine has reserved.
  - commit flips the status and writes the movements in the same
    transaction; the reservation stops counting as reserved at the moment
    the stock leaves on-hand.
  - Internal transfers lock the destination key too, so the TRANSFER_IN is
    checked under its own section.

OWNERSHIP:
  Reservations belong to their order. They are created for orders of kind
  CUSTOMER or INTERNAL in state CONFIRMED only. Once the order is RESERVED
  its reservations resolve through commit, fulfill or cancel.
*/
package inventory

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

type ReservationManager struct {
	c *core
}

// =============================================================================
// RESERVE
// =============================================================================

// Reserve holds qty units of p at w for an order.
func (rm *ReservationManager) Reserve(ctx context.Context, orderID OrderID, p ProductID, w WarehouseID, qty int64) (ReservationID, error) {
	if qty <= 0 {
		return "", invalid("quantity", "must be positive")
	}
	o, err := rm.c.store.GetOrder(ctx, orderID)
	if err != nil {
		return "", err
	}
	if err := rm.c.authorize(ctx, CapManageOrders, Scope{OrderKind: o.Kind, WarehouseID: w}); err != nil {
		return "", err
	}
	line, err := reservableLine(&o, p, w)
	if err != nil {
		return "", err
	}

	var id ReservationID
	err = rm.c.run(ctx, []StockKey{Key(p, w)}, func(u *unit) error {
		cur, err := u.tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if cur.State != StateConfirmed {
			return invalid("order", "order %s is %s; reservations need CONFIRMED", cur.ID, cur.State)
		}
		if err := u.checkUncovered(ctx, &cur, Key(p, w), qty); err != nil {
			return err
		}
		r, err := u.reserve(ctx, &cur, line.ProductID, line.WarehouseID, line.DestinationWarehouseID, qty)
		if err != nil {
			return err
		}
		id = r.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	rm.c.log.Info("stock reserved",
		zap.String("reservation_id", string(id)),
		zap.String("order_id", string(orderID)),
		zap.String("key", Key(p, w).String()),
		zap.Int64("quantity", qty),
	)
	return id, nil
}

// reservableLine finds the order line a reservation at (p, w) serves.
func reservableLine(o *Order, p ProductID, w WarehouseID) (OrderLine, error) {
	if o.Kind != OrderCustomer && o.Kind != OrderInternal {
		return OrderLine{}, invalid("order", "%s orders do not take reservations", o.Kind)
	}
	for _, l := range o.Lines {
		if l.ProductID == p && l.WarehouseID == w {
			return l, nil
		}
	}
	return OrderLine{}, invalid("product_id", "order %s has no line for %s", o.ID, Key(p, w))
}

// checkUncovered rejects a reservation that would hold more of key than the
// order's lines ask for.
func (u *unit) checkUncovered(ctx context.Context, o *Order, key StockKey, qty int64) error {
	var want int64
	for _, l := range o.Lines {
		if l.Key() == key {
			want += l.Quantity
		}
	}
	rs, err := u.tx.ReservationsByOrder(ctx, o.ID)
	if err != nil {
		return err
	}
	var held int64
	for _, r := range rs {
		if r.Key() == key && r.Status != ReservationReleased {
			held += r.Quantity
		}
	}
	if held+qty > want {
		return invalid("quantity", "order %s needs %d of %s, %d already reserved, requested %d",
			o.ID, want, key, held, qty)
	}
	return nil
}

func (u *unit) reserve(ctx context.Context, o *Order, p ProductID, w, dest WarehouseID, qty int64) (Reservation, error) {
	key := Key(p, w)
	u.requireHeld(key, "reserve")

	lvl, err := levelIn(ctx, u.tx, key)
	if err != nil {
		return Reservation{}, err
	}
	if lvl.Available() < qty {
		return Reservation{}, &InsufficientStockError{Key: key, Available: lvl.Available(), Requested: qty}
	}

	r := Reservation{
		ID:                     ReservationID(u.c.newID()),
		OrderID:                o.ID,
		ProductID:              p,
		WarehouseID:            w,
		DestinationWarehouseID: dest,
		Quantity:               qty,
		Status:                 ReservationActive,
		CreatedAt:              u.at,
	}
	if err := u.tx.InsertReservations(ctx, []Reservation{r}); err != nil {
		return Reservation{}, err
	}
	return r, nil
}

// =============================================================================
// RELEASE / COMMIT
// =============================================================================

// Release frees an ACTIVE reservation without writing a movement.
func (rm *ReservationManager) Release(ctx context.Context, id ReservationID) error {
	r, o, err := rm.load(ctx, id)
	if err != nil {
		return err
	}
	if err := rm.c.authorize(ctx, CapManageOrders, Scope{OrderKind: o.Kind, WarehouseID: r.WarehouseID}); err != nil {
		return err
	}
	err = rm.c.run(ctx, []StockKey{r.Key()}, func(u *unit) error {
		cur, err := u.tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if !cur.IsActive() {
			return resolved(cur)
		}
		if err := u.requireOrderState(ctx, cur, StateConfirmed, "release"); err != nil {
			return err
		}
		return u.release(ctx, cur)
	})
	if err != nil {
		return err
	}
	rm.c.log.Info("reservation released", zap.String("reservation_id", string(id)))
	return nil
}

// Commit turns an ACTIVE reservation into stock leaving the warehouse and
// returns the outbound movement's ID.
func (rm *ReservationManager) Commit(ctx context.Context, id ReservationID) (MovementID, error) {
	r, o, err := rm.load(ctx, id)
	if err != nil {
		return "", err
	}
	capability := CapShipStock
	if r.DestinationWarehouseID != "" {
		capability = CapManageTransfers
	}
	if err := rm.c.authorize(ctx, capability, Scope{OrderKind: o.Kind, WarehouseID: r.WarehouseID}); err != nil {
		return "", err
	}

	var mid MovementID
	err = rm.c.run(ctx, r.Keys(), func(u *unit) error {
		cur, err := u.tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if !cur.IsActive() {
			return resolved(cur)
		}
		if err := u.requireOrderState(ctx, cur, StateReserved, "commit"); err != nil {
			return err
		}
		mid, err = u.commit(ctx, cur)
		return err
	})
	if err != nil {
		return "", err
	}
	rm.c.log.Info("reservation committed",
		zap.String("reservation_id", string(id)),
		zap.String("movement_id", string(mid)),
	)
	return mid, nil
}

// Reservations lists an order's reservations.
func (rm *ReservationManager) Reservations(ctx context.Context, orderID OrderID) ([]Reservation, error) {
	return rm.c.store.ReservationsByOrder(ctx, orderID)
}

func (rm *ReservationManager) load(ctx context.Context, id ReservationID) (Reservation, Order, error) {
	r, err := rm.c.store.GetReservation(ctx, id)
	if err != nil {
		return Reservation{}, Order{}, err
	}
	o, err := rm.c.store.GetOrder(ctx, r.OrderID)
	if err != nil {
		return Reservation{}, Order{}, err
	}
	return r, o, nil
}

// requireOrderState checks the owning order inside the unit.
func (u *unit) requireOrderState(ctx context.Context, r Reservation, want OrderState, action string) error {
	o, err := u.tx.GetOrder(ctx, r.OrderID)
	if err != nil {
		return err
	}
	if o.State != want {
		return fmt.Errorf("cannot %s reservation %s: order %s is %s, needs %s: %w",
			action, r.ID, o.ID, o.State, want, ErrInvalidTransition)
	}
	return nil
}

func resolved(r Reservation) error {
	return fmt.Errorf("reservation %s is %s: %w", r.ID, r.Status, ErrReservationResolved)
}

func (u *unit) release(ctx context.Context, r Reservation) error {
	u.requireHeld(r.Key(), "release")
	if !r.IsActive() {
		return resolved(r)
	}
	at := u.at
	r.Status = ReservationReleased
	r.ResolvedAt = &at
	return u.tx.UpdateReservation(ctx, r)
}

func (u *unit) commit(ctx context.Context, r Reservation) (MovementID, error) {
	for _, k := range r.Keys() {
		u.requireHeld(k, "commit")
	}
	if !r.IsActive() {
		return "", resolved(r)
	}

	out := Movement{
		ID:            MovementID(u.c.newID()),
		ProductID:     r.ProductID,
		WarehouseID:   r.WarehouseID,
		QuantityDelta: -r.Quantity,
		Kind:          MovementShipment,
		OrderID:       r.OrderID,
		ReservationID: r.ID,
		Timestamp:     u.at,
		ActorID:       u.actor,
	}
	batch := []Movement{out}
	if r.DestinationWarehouseID != "" {
		batch[0].Kind = MovementTransferOut
		batch = append(batch, Movement{
			ID:            MovementID(u.c.newID()),
			ProductID:     r.ProductID,
			WarehouseID:   r.DestinationWarehouseID,
			QuantityDelta: r.Quantity,
			Kind:          MovementTransferIn,
			OrderID:       r.OrderID,
			ReservationID: r.ID,
			Timestamp:     u.at,
			ActorID:       u.actor,
		})
	}

	at := u.at
	r.Status = ReservationCommitted
	r.MovementID = out.ID
	r.ResolvedAt = &at
	if err := u.tx.UpdateReservation(ctx, r); err != nil {
		return "", err
	}
	if _, err := u.appendMovements(ctx, batch); err != nil {
		return "", err
	}
	return out.ID, nil
}
