package inventory

import (
	"context"
	"fmt"
)

// =============================================================================
// CAPABILITIES - What an actor may do, checked before every mutation
// =============================================================================

type Capability string

const (
	CapReceiveStock    Capability = "receive_stock"
	CapShipStock       Capability = "ship_stock"
	CapAdjustInventory Capability = "adjust_inventory"
	CapManageTransfers Capability = "manage_transfers"
	CapManageOrders    Capability = "manage_orders"
)

// Scope narrows a capability check to an order kind and/or a warehouse.
type Scope struct {
	OrderKind   OrderKind
	WarehouseID WarehouseID
}

func (s Scope) String() string {
	switch {
	case s.OrderKind != "" && s.WarehouseID != "":
		return fmt.Sprintf("%s order at %s", s.OrderKind, s.WarehouseID)
	case s.OrderKind != "":
		return fmt.Sprintf("%s order", s.OrderKind)
	case s.WarehouseID != "":
		return "warehouse " + string(s.WarehouseID)
	}
	return "any scope"
}

// Authorizer is the security collaborator. It returns nil or an error
// wrapping ErrPermissionDenied.
type Authorizer interface {
	Authorize(ctx context.Context, actor ActorID, capability Capability, scope Scope) error
}

type AuthorizerFunc func(ctx context.Context, actor ActorID, capability Capability, scope Scope) error

func (f AuthorizerFunc) Authorize(ctx context.Context, actor ActorID, capability Capability, scope Scope) error {
	return f(ctx, actor, capability, scope)
}

// AllowAll grants everything. Intended for tests and local development.
var AllowAll Authorizer = AuthorizerFunc(func(context.Context, ActorID, Capability, Scope) error { return nil })

// Grant gives an actor a capability, optionally restricted to warehouses.
type Grant struct {
	Actor        ActorID
	Capabilities []Capability
	Warehouses   []WarehouseID // empty means every warehouse
}

// StaticAuthorizer checks actors against a fixed grant table.
type StaticAuthorizer struct {
	grants map[ActorID]map[Capability]map[WarehouseID]bool
}

func NewStaticAuthorizer(grants ...Grant) *StaticAuthorizer {
	a := &StaticAuthorizer{grants: make(map[ActorID]map[Capability]map[WarehouseID]bool)}
	for _, g := range grants {
		caps, ok := a.grants[g.Actor]
		if !ok {
			caps = make(map[Capability]map[WarehouseID]bool)
			a.grants[g.Actor] = caps
		}
		for _, c := range g.Capabilities {
			ws, ok := caps[c]
			if !ok {
				ws = make(map[WarehouseID]bool)
				caps[c] = ws
			}
			if len(g.Warehouses) == 0 {
				ws[""] = true
			}
			for _, w := range g.Warehouses {
				ws[w] = true
			}
		}
	}
	return a
}

func (a *StaticAuthorizer) Authorize(_ context.Context, actor ActorID, capability Capability, scope Scope) error {
	ws := a.grants[actor][capability]
	if ws[""] || (scope.WarehouseID != "" && ws[scope.WarehouseID]) {
		return nil
	}
	return &PermissionDeniedError{Actor: actor, Capability: capability, Scope: scope}
}

// =============================================================================
// ACTOR CONTEXT
// =============================================================================

type actorKey struct{}

// WithActor attaches the authenticated actor to ctx.
func WithActor(ctx context.Context, actor ActorID) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor attached by WithActor, or "".
func ActorFrom(ctx context.Context) ActorID {
	a, _ := ctx.Value(actorKey{}).(ActorID)
	return a
}
