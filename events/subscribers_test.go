package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/inventory-engine/inventory"
)

// =============================================================================
// RETRY
// =============================================================================

func TestRetrying_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	h := Retrying(HandlerFunc(func(context.Context, inventory.Event) error {
		calls++
		if calls < 3 {
			return errors.New("broker not ready")
		}
		return nil
	}), RetryPolicy{Attempts: 5, Backoff: time.Millisecond}, zaptest.NewLogger(t))

	require.NoError(t, h.Handle(context.Background(), stockEvent(1)))
	assert.Equal(t, 3, calls)
}

func TestRetrying_ReturnsLastErrorWhenAttemptsRunOut(t *testing.T) {
	calls := 0
	last := errors.New("still down")
	h := Retrying(HandlerFunc(func(context.Context, inventory.Event) error {
		calls++
		return last
	}), RetryPolicy{Attempts: 3, Backoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}, nil)

	err := h.Handle(context.Background(), stockEvent(1))
	assert.ErrorIs(t, err, last)
	assert.Equal(t, 3, calls)
}

func TestRetrying_StopsOnCancelledContext(t *testing.T) {
	calls := 0
	h := Retrying(HandlerFunc(func(context.Context, inventory.Event) error {
		calls++
		return errors.New("down")
	}), RetryPolicy{Attempts: 10, Backoff: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, h.Handle(ctx, stockEvent(1)))
	assert.Equal(t, 1, calls)
}

func TestRetrying_ZeroAttemptsMeansOneTry(t *testing.T) {
	calls := 0
	h := Retrying(HandlerFunc(func(context.Context, inventory.Event) error {
		calls++
		return errors.New("down")
	}), RetryPolicy{}, nil)

	assert.Error(t, h.Handle(context.Background(), stockEvent(1)))
	assert.Equal(t, 1, calls)
}

func TestRetrying_LogsEachRetry(t *testing.T) {
	// GIVEN: a handler that always fails and a policy of 4 attempts
	core, logs := observer.New(zapcore.WarnLevel)
	h := Retrying(HandlerFunc(func(context.Context, inventory.Event) error {
		return errors.New("down")
	}), RetryPolicy{Attempts: 4, Backoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}, zap.New(core))

	// WHEN
	require.Error(t, h.Handle(context.Background(), stockEvent(1)))

	// THEN: one warning per retry, numbered by the failed attempt
	entries := logs.FilterMessage("event delivery failed, retrying").All()
	require.Len(t, entries, 3)
	for i, entry := range entries {
		assert.Equal(t, int64(i+1), entry.ContextMap()["attempt"])
	}
}

// =============================================================================
// FILTERS / AUDIT LOG
// =============================================================================

func TestFilter_OrderFulfilled(t *testing.T) {
	var seen []inventory.OrderID
	h := Filter(OrderFulfilled, HandlerFunc(func(_ context.Context, e inventory.Event) error {
		seen = append(seen, e.OrderID)
		return nil
	}))

	ctx := context.Background()
	require.NoError(t, h.Handle(ctx, stockEvent(1)))
	require.NoError(t, h.Handle(ctx, inventory.Event{
		Type: inventory.EventOrderTransitioned, OrderID: "o-1",
		Transition: &inventory.OrderTransition{From: inventory.StateConfirmed, To: inventory.StateReserved},
	}))
	require.NoError(t, h.Handle(ctx, inventory.Event{
		Type: inventory.EventOrderTransitioned, OrderID: "o-2",
		Transition: &inventory.OrderTransition{From: inventory.StateReserved, To: inventory.StateFulfilled},
	}))

	assert.Equal(t, []inventory.OrderID{"o-2"}, seen)
}

func TestLogSubscriber_WritesAuditFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := LogSubscriber(zap.New(core))

	require.NoError(t, h.Handle(context.Background(), stockEvent(-4)))

	entries := logs.FilterMessage("audit").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "stock.changed", fields["event_type"])
	assert.Equal(t, "widget@wh-a", fields["key"])
	assert.Equal(t, int64(-4), fields["delta"])
	assert.Equal(t, "tester", fields["actor_id"])
}

// =============================================================================
// KAFKA SINK
// =============================================================================

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaSink_KeysMessagesByStockKey(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink(w, zaptest.NewLogger(t))
	e := stockEvent(5)
	e.Movement.UnitCost = decimal.RequireFromString("2.50")

	require.NoError(t, sink.Handle(context.Background(), e))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "widget@wh-a", string(msg.Key))
	assert.Equal(t, e.OccurredAt, msg.Time)
	assert.Contains(t, msg.Headers, kafka.Header{Key: "event_type", Value: []byte("stock.changed")})

	var env Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, e.ID.String(), env.ID)
	require.NotNil(t, env.Movement)
	assert.Equal(t, int64(5), env.Movement.QuantityDelta)
	assert.Equal(t, "2.5", env.Movement.UnitCost)

	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestKafkaSink_OrderEventsKeyedByOrder(t *testing.T) {
	w := &fakeWriter{}
	sink := NewKafkaSink(w, nil)

	require.NoError(t, sink.Handle(context.Background(), inventory.Event{
		ID: uuid.New(), Type: inventory.EventOrderTransitioned, OrderID: "o-7",
		Transition: &inventory.OrderTransition{From: inventory.StateDraft, To: inventory.StateConfirmed, Event: inventory.EventConfirm},
	}))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "o-7", string(w.msgs[0].Key))
}

func TestKafkaSink_WrapsWriteErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	sink := NewKafkaSink(w, nil)

	err := sink.Handle(context.Background(), stockEvent(1))
	assert.ErrorContains(t, err, "kafka write")
}

func TestEncode_LowStockCarriesThresholdAndAvailable(t *testing.T) {
	raw, err := Encode(inventory.Event{
		ID:        uuid.New(),
		Type:      inventory.EventLowStock,
		Level:     &inventory.StockLevel{Key: inventory.Key("widget", "wh-a"), OnHand: 5, Reserved: 3},
		Threshold: 2,
	})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	require.NotNil(t, env.Threshold)
	assert.Equal(t, int64(2), *env.Threshold)
	require.NotNil(t, env.Level)
	assert.Equal(t, int64(2), env.Level.Available)
	assert.Nil(t, env.Movement)
}

func TestEncode_StockChangedOmitsThreshold(t *testing.T) {
	raw, err := Encode(stockEvent(1))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "threshold")
	assert.NotContains(t, string(raw), "unit_cost")
}
