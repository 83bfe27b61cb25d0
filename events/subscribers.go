package events

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/warp/inventory-engine/inventory"
)

// =============================================================================
// LOG SUBSCRIBER - Audit trail as structured log lines
// =============================================================================

// LogSubscriber writes one Info line per event.
func LogSubscriber(logger *zap.Logger) Handler {
	return HandlerFunc(func(_ context.Context, e inventory.Event) error {
		fields := []zap.Field{
			zap.String("event_id", e.ID.String()),
			zap.String("event_type", string(e.Type)),
			zap.String("actor_id", string(e.ActorID)),
			zap.Time("occurred_at", e.OccurredAt),
		}
		if e.OrderID != "" {
			fields = append(fields, zap.String("order_id", string(e.OrderID)))
		}
		if m := e.Movement; m != nil {
			fields = append(fields,
				zap.String("movement_id", string(m.ID)),
				zap.String("kind", string(m.Kind)),
				zap.String("key", m.Key().String()),
				zap.Int64("delta", m.QuantityDelta),
			)
		}
		if t := e.Transition; t != nil {
			fields = append(fields,
				zap.String("from", string(t.From)),
				zap.String("to", string(t.To)),
				zap.String("event", string(t.Event)),
			)
		}
		if l := e.Level; l != nil {
			fields = append(fields,
				zap.Int64("on_hand", l.OnHand),
				zap.Int64("reserved", l.Reserved),
			)
		}
		if e.Type == inventory.EventLowStock {
			fields = append(fields, zap.Int64("threshold", e.Threshold))
		}
		logger.Info("audit", fields...)
		return nil
	})
}

// =============================================================================
// FILTERS
// =============================================================================

// OrderFulfilled reports whether e is an order entering FULFILLED.
func OrderFulfilled(e inventory.Event) bool {
	return e.Type == inventory.EventOrderTransitioned &&
		e.Transition != nil && e.Transition.To == inventory.StateFulfilled
}

// Filter passes only events matching pred to h.
func Filter(pred func(inventory.Event) bool, h Handler) Handler {
	return HandlerFunc(func(ctx context.Context, e inventory.Event) error {
		if !pred(e) {
			return nil
		}
		return h.Handle(ctx, e)
	})
}

// =============================================================================
// RETRY - Subscriber-owned delivery policy
// =============================================================================

// RetryPolicy configures Retrying.
type RetryPolicy struct {
	Attempts   int           // total tries, >= 1
	Backoff    time.Duration // wait before the second try
	MaxBackoff time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 5, Backoff: 100 * time.Millisecond, MaxBackoff: 5 * time.Second}
}

// Retrying retries h with exponential backoff until it succeeds, attempts
// run out or ctx is cancelled. The last error is returned.
func Retrying(h Handler, p RetryPolicy, logger *zap.Logger) Handler {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return HandlerFunc(func(ctx context.Context, e inventory.Event) error {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = p.Backoff
		exp.MaxInterval = p.MaxBackoff
		if exp.MaxInterval <= 0 {
			exp.MaxInterval = backoff.DefaultMaxInterval
		}
		exp.MaxElapsedTime = 0
		b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.Attempts-1)), ctx)

		attempt := 0
		return backoff.RetryNotify(func() error {
			attempt++
			return h.Handle(ctx, e)
		}, b, func(err error, wait time.Duration) {
			logger.Warn("event delivery failed, retrying",
				zap.String("event_id", e.ID.String()),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
		})
	})
}
