/*
errors.go - Centralized error types for the inventory engine

ERROR CATEGORIES:
  1. Validation     - malformed input, no state change
  2. Business rules - insufficient / negative stock, no partial mutation
  3. Concurrency    - lock timeouts and version conflicts, safe to retry
  4. Security       - permission denied by the security collaborator
  5. Invariants     - programming defects; raised with panic, never returned

GUARANTEE:
  Every returned error leaves durable state unchanged. Callers may retry any
  failed operation without risk of double application.

USAGE:
  if errors.Is(err, inventory.ErrInsufficientStock) { ... }

  var ise *inventory.InsufficientStockError
  if errors.As(err, &ise) { log(ise.Available) }
*/
package inventory

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed requests and order lines.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientStock is returned when available stock cannot cover a
	// reservation or a stock-reducing movement.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrNegativeStock is returned when a movement would take on-hand below zero.
	ErrNegativeStock = errors.New("negative stock")

	// ErrLockTimeout is returned when critical sections could not be acquired
	// within the bounded wait.
	ErrLockTimeout = errors.New("lock timeout")

	// ErrPermissionDenied is propagated from the security collaborator.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidTransition is returned when an order event is not allowed in
	// the order's current state.
	ErrInvalidTransition = errors.New("invalid order transition")

	ErrOrderNotFound       = errors.New("order not found")
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrReservationResolved is returned when releasing or committing a
	// reservation that is no longer ACTIVE.
	ErrReservationResolved = errors.New("reservation already resolved")

	// ErrConcurrentModification is returned when an order version check fails.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned when a movement with the same
	// idempotency key already exists. Expected on client retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	ErrDuplicateOrder = errors.New("order already exists")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes one rejected field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InsufficientStockError reports a shortfall against available stock.
type InsufficientStockError struct {
	Key       StockKey
	Available int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d",
		e.Key, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// NegativeStockError reports a movement that would drive on-hand below zero.
type NegativeStockError struct {
	Key    StockKey
	OnHand int64
	Delta  int64
}

func (e *NegativeStockError) Error() string {
	return fmt.Sprintf("negative stock for %s: on hand %d, delta %d",
		e.Key, e.OnHand, e.Delta)
}

func (e *NegativeStockError) Unwrap() error { return ErrNegativeStock }

// LockTimeoutError reports which sections could not be acquired.
type LockTimeoutError struct {
	Keys   []StockKey
	Waited time.Duration
}

func (e *LockTimeoutError) Error() string {
	names := make([]string, len(e.Keys))
	for i, k := range e.Keys {
		names[i] = k.String()
	}
	return fmt.Sprintf("lock timeout after %s on [%s]", e.Waited, strings.Join(names, ", "))
}

func (e *LockTimeoutError) Unwrap() error { return ErrLockTimeout }

// PermissionDeniedError is returned when the actor lacks a capability.
type PermissionDeniedError struct {
	Actor      ActorID
	Capability Capability
	Scope      Scope
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: actor %q lacks %s on %s", e.Actor, e.Capability, e.Scope)
}

func (e *PermissionDeniedError) Unwrap() error { return ErrPermissionDenied }

// InvalidTransitionError reports an event that the order's state machine
// does not accept.
type InvalidTransitionError struct {
	OrderID OrderID
	Kind    OrderKind
	From    OrderState
	Event   OrderEvent
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s (%s): cannot %s from %s", e.OrderID, e.Kind, e.Event, e.From)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// =============================================================================
// INVARIANT VIOLATION - Never returned, always panicked
// =============================================================================

// InvariantViolation signals that the coordinator's exclusion guarantee was
// bypassed or that stored state is inconsistent. It is raised with panic so
// the enclosing request aborts instead of continuing on corrupt state.
type InvariantViolation struct {
	Key    StockKey
	Detail string
}

func (v *InvariantViolation) Error() string {
	if v.Key == (StockKey{}) {
		return "invariant violation: " + v.Detail
	}
	return fmt.Sprintf("invariant violation on %s: %s", v.Key, v.Detail)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error is transient contention.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrNegativeStock) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrReservationResolved) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrDuplicateOrder)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrReservationNotFound)
}
