/*
orders.go - Order lifecycle service

PURPOSE:
  Executes order events. Each event is one atomic unit: the order's stock
  keys are locked in sorted order, the order is reloaded inside the store
  transaction, side effects run, the state advances and a transition record
  is written. Any failure rolls all of it back and the order keeps its prior
  state.

SIDE EFFECTS:
  confirm       validate lines against the catalog
  reserveStock  reserve every line (CUSTOMER / INTERNAL)
  fulfill       commit every reservation (CUSTOMER / INTERNAL),
                or write RECEIPT movements (PURCHASE)
  receive       write RETURN_IN movements (RETURN)
  close         none
  cancel        release ACTIVE reservations; refused once any reservation
                is COMMITTED

TERMINAL STATES:
  On entering CLOSED or CANCELLED the order must have no ACTIVE
  reservation. Finding one is an InvariantViolation.

CAPABILITIES (checked per warehouse the order touches):
  confirm, reserveStock, close, cancel  manage_orders
  fulfill CUSTOMER                      ship_stock
  fulfill INTERNAL                      manage_transfers
  fulfill PURCHASE, receive RETURN      receive_stock
*/
package inventory

import (
	"context"
	"strconv"

	"go.uber.org/zap"
)

type OrderService struct {
	c *core
}

// NewOrder is the input to Create.
type NewOrder struct {
	ID        OrderID // optional; generated when empty
	Kind      OrderKind
	Lines     []OrderLine
	Reference string
	Notes     string
}

// =============================================================================
// CREATE / READ
// =============================================================================

// Create stores a DRAFT order.
func (s *OrderService) Create(ctx context.Context, in NewOrder) (Order, error) {
	if !in.Kind.Valid() {
		return Order{}, invalid("kind", "unknown order kind %q", in.Kind)
	}
	o := Order{
		ID:        in.ID,
		Kind:      in.Kind,
		State:     StateDraft,
		Lines:     append([]OrderLine(nil), in.Lines...),
		Reference: in.Reference,
		Notes:     in.Notes,
		CreatedBy: ActorFrom(ctx),
		Version:   1,
	}
	if err := validateLines(&o); err != nil {
		return Order{}, err
	}
	for _, w := range o.Warehouses() {
		if err := s.c.authorize(ctx, CapManageOrders, Scope{OrderKind: o.Kind, WarehouseID: w}); err != nil {
			return Order{}, err
		}
	}

	if o.ID == "" {
		o.ID = OrderID(s.c.newID())
	}
	o.CreatedAt = s.c.now()
	o.UpdatedAt = o.CreatedAt
	if err := s.c.store.InsertOrder(ctx, o); err != nil {
		return Order{}, err
	}
	s.c.log.Info("order created",
		zap.String("order_id", string(o.ID)),
		zap.String("kind", string(o.Kind)),
		zap.Int("lines", len(o.Lines)),
	)
	return o, nil
}

func (s *OrderService) Get(ctx context.Context, id OrderID) (Order, error) {
	return s.c.store.GetOrder(ctx, id)
}

func (s *OrderService) List(ctx context.Context, filter OrderFilter) ([]Order, error) {
	return s.c.store.ListOrders(ctx, filter)
}

// Transitions returns the order's status history, oldest first.
func (s *OrderService) Transitions(ctx context.Context, id OrderID) ([]OrderTransition, error) {
	if _, err := s.c.store.GetOrder(ctx, id); err != nil {
		return nil, err
	}
	return s.c.store.Transitions(ctx, id)
}

// validateLines checks line shape for the order's kind.
func validateLines(o *Order) error {
	if len(o.Lines) == 0 {
		return invalid("lines", "order needs at least one line")
	}
	for i, l := range o.Lines {
		field := func(name string) string { return "lines[" + strconv.Itoa(i) + "]." + name }
		if l.ProductID == "" {
			return invalid(field("product_id"), "required")
		}
		if l.WarehouseID == "" {
			return invalid(field("warehouse_id"), "required")
		}
		if l.Quantity <= 0 {
			return invalid(field("quantity"), "must be positive, got %d", l.Quantity)
		}
		if l.UnitCost.IsNegative() {
			return invalid(field("unit_cost"), "must not be negative")
		}
		switch o.Kind {
		case OrderInternal:
			if l.DestinationWarehouseID == "" {
				return invalid(field("destination_warehouse_id"), "required for INTERNAL orders")
			}
			if l.DestinationWarehouseID == l.WarehouseID {
				return invalid(field("destination_warehouse_id"), "must differ from source")
			}
		default:
			if l.DestinationWarehouseID != "" {
				return invalid(field("destination_warehouse_id"), "only INTERNAL orders have a destination")
			}
		}
	}
	return nil
}

func (s *OrderService) validateCatalog(ctx context.Context, o *Order) error {
	for _, l := range o.Lines {
		if err := checkCatalog(ctx, s.c.catalog, l.ProductID, l.WarehouseID); err != nil {
			return err
		}
		if l.DestinationWarehouseID != "" {
			if err := checkCatalog(ctx, s.c.catalog, l.ProductID, l.DestinationWarehouseID); err != nil {
				return err
			}
		}
	}
	return nil
}

// =============================================================================
// EVENTS
// =============================================================================

func (s *OrderService) Confirm(ctx context.Context, id OrderID) (Order, error) {
	// Catalog lookups run before the unit: a store may serve them from the
	// same connection the transaction holds.
	return s.transitionChecked(ctx, id, EventConfirm, "", func(o *Order) error {
		if err := validateLines(o); err != nil {
			return err
		}
		return s.validateCatalog(ctx, o)
	}, nil)
}

// ReserveStock reserves every line. Lines already covered by ACTIVE
// reservations of this order only reserve the shortfall.
func (s *OrderService) ReserveStock(ctx context.Context, id OrderID) (Order, error) {
	return s.transition(ctx, id, EventReserveStock, "", func(u *unit, o *Order) error {
		existing, err := u.tx.ReservationsByOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		covered := make(map[StockKey]int64)
		for _, r := range existing {
			if r.IsActive() {
				covered[r.Key()] += r.Quantity
			}
		}
		for _, l := range o.Lines {
			need := l.Quantity
			if c := covered[l.Key()]; c > 0 {
				used := min(c, need)
				covered[l.Key()] -= used
				need -= used
			}
			if need == 0 {
				continue
			}
			if _, err := u.reserve(ctx, o, l.ProductID, l.WarehouseID, l.DestinationWarehouseID, need); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *OrderService) Fulfill(ctx context.Context, id OrderID) (Order, error) {
	return s.transition(ctx, id, EventFulfill, "", func(u *unit, o *Order) error {
		if o.Kind == OrderPurchase {
			return s.writeInbound(ctx, u, o, MovementReceipt)
		}
		rs, err := u.tx.ReservationsByOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		covered := make(map[StockKey]int64)
		for _, r := range rs {
			if r.Status != ReservationReleased {
				covered[r.Key()] += r.Quantity
			}
		}
		for _, l := range o.Lines {
			if covered[l.Key()] < l.Quantity {
				return invalid("reservations", "order %s has %d of %d reserved for %s", o.ID, covered[l.Key()], l.Quantity, l.Key())
			}
			covered[l.Key()] -= l.Quantity
		}
		for _, r := range rs {
			if !r.IsActive() {
				continue
			}
			if _, err := u.commit(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *OrderService) Receive(ctx context.Context, id OrderID) (Order, error) {
	return s.transition(ctx, id, EventReceive, "", func(u *unit, o *Order) error {
		return s.writeInbound(ctx, u, o, MovementReturnIn)
	})
}

func (s *OrderService) Close(ctx context.Context, id OrderID) (Order, error) {
	return s.transition(ctx, id, EventClose, "", nil)
}

// Cancel releases any ACTIVE reservations and moves the order to CANCELLED.
// An order with a COMMITTED reservation has shipped stock and can only be
// fulfilled.
func (s *OrderService) Cancel(ctx context.Context, id OrderID, reason string) (Order, error) {
	return s.transition(ctx, id, EventCancel, reason, func(u *unit, o *Order) error {
		rs, err := u.tx.ReservationsByOrder(ctx, o.ID)
		if err != nil {
			return err
		}
		for _, r := range rs {
			if r.Status == ReservationCommitted {
				return &InvalidTransitionError{OrderID: o.ID, Kind: o.Kind, From: o.State, Event: EventCancel}
			}
		}
		for _, r := range rs {
			if !r.IsActive() {
				continue
			}
			if err := u.release(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *OrderService) writeInbound(ctx context.Context, u *unit, o *Order, kind MovementKind) error {
	ms := make([]Movement, 0, len(o.Lines))
	for _, l := range o.Lines {
		ms = append(ms, Movement{
			ProductID:     l.ProductID,
			WarehouseID:   l.WarehouseID,
			QuantityDelta: l.Quantity,
			Kind:          kind,
			OrderID:       o.ID,
			UnitCost:      l.UnitCost,
			Reason:        o.Reference,
		})
	}
	_, err := u.appendMovements(ctx, ms)
	return err
}

// =============================================================================
// TRANSITION - Shared skeleton
// =============================================================================

func requiredCapability(kind OrderKind, event OrderEvent) Capability {
	switch event {
	case EventFulfill:
		switch kind {
		case OrderPurchase:
			return CapReceiveStock
		case OrderInternal:
			return CapManageTransfers
		}
		return CapShipStock
	case EventReceive:
		return CapReceiveStock
	}
	return CapManageOrders
}

// stockKeys returns the keys an event's side effects touch.
func stockKeys(o *Order, event OrderEvent) []StockKey {
	switch event {
	case EventReserveStock, EventFulfill, EventReceive, EventCancel:
		return o.StockKeys()
	}
	return nil
}

func (s *OrderService) transition(ctx context.Context, id OrderID, event OrderEvent, reason string, effect func(u *unit, o *Order) error) (Order, error) {
	return s.transitionChecked(ctx, id, event, reason, nil, effect)
}

// transitionChecked runs precheck after authorization and before the unit.
func (s *OrderService) transitionChecked(ctx context.Context, id OrderID, event OrderEvent, reason string, precheck func(o *Order) error, effect func(u *unit, o *Order) error) (Order, error) {
	o, err := s.c.store.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	capability := requiredCapability(o.Kind, event)
	for _, w := range o.Warehouses() {
		if err := s.c.authorize(ctx, capability, Scope{OrderKind: o.Kind, WarehouseID: w}); err != nil {
			return Order{}, err
		}
	}
	if _, err := NextState(&o, event); err != nil {
		return Order{}, err
	}
	if precheck != nil {
		if err := precheck(&o); err != nil {
			return Order{}, err
		}
	}

	var result Order
	err = s.c.run(ctx, stockKeys(&o, event), func(u *unit) error {
		cur, err := u.tx.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		next, err := NextState(&cur, event)
		if err != nil {
			return err
		}
		if effect != nil {
			if err := effect(u, &cur); err != nil {
				return err
			}
		}
		if next.Terminal() {
			if err := u.assertResolved(ctx, &cur); err != nil {
				return err
			}
		}

		t := OrderTransition{
			OrderID: cur.ID,
			From:    cur.State,
			To:      next,
			Event:   event,
			ActorID: u.actor,
			Reason:  reason,
			At:      u.at,
		}
		prev := cur.Version
		cur.State = next
		cur.Version++
		cur.UpdatedAt = u.at
		if err := u.tx.UpdateOrder(ctx, cur, prev); err != nil {
			return err
		}
		if err := u.tx.AppendTransition(ctx, t); err != nil {
			return err
		}
		u.transitions = append(u.transitions, transitionRecord{t: t, kind: cur.Kind})
		result = cur
		return nil
	})
	if err != nil {
		s.c.log.Info("order transition rejected",
			zap.String("order_id", string(id)),
			zap.String("event", string(event)),
			zap.Error(err),
		)
		return Order{}, err
	}

	s.c.log.Info("order transitioned",
		zap.String("order_id", string(id)),
		zap.String("event", string(event)),
		zap.String("state", string(result.State)),
	)
	return result, nil
}

// assertResolved panics if an order about to become terminal still holds
// an ACTIVE reservation.
func (u *unit) assertResolved(ctx context.Context, o *Order) error {
	rs, err := u.tx.ReservationsByOrder(ctx, o.ID)
	if err != nil {
		return err
	}
	for _, r := range rs {
		if r.IsActive() {
			u.c.violation(r.Key(), "order %s entering terminal state with ACTIVE reservation %s", o.ID, r.ID)
		}
	}
	return nil
}
