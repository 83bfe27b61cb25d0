package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/warp/inventory-engine/inventory"
)

func stockEvent(delta int64) inventory.Event {
	return inventory.Event{
		ID:         uuid.New(),
		Type:       inventory.EventStockChanged,
		OccurredAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		ActorID:    "tester",
		Movement: &inventory.Movement{
			ID: "m-1", ProductID: "widget", WarehouseID: "wh-a",
			QuantityDelta: delta, Kind: inventory.MovementReceipt,
		},
	}
}

// collector records what it receives.
type collector struct {
	mu  sync.Mutex
	got []inventory.Event
}

func (c *collector) Handle(_ context.Context, e inventory.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, e)
	return nil
}

func (c *collector) events() []inventory.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]inventory.Event(nil), c.got...)
}

func TestBus_DeliversInPublicationOrder(t *testing.T) {
	// GIVEN: a bus with one subscriber
	bus := NewBus(zaptest.NewLogger(t))
	c := &collector{}
	bus.Subscribe("collector", c)

	// WHEN: events are published and the bus is drained
	for i := int64(1); i <= 20; i++ {
		bus.Publish(stockEvent(i))
	}
	require.NoError(t, bus.Close(context.Background()))

	// THEN: all arrive in order
	got := c.events()
	require.Len(t, got, 20)
	for i, e := range got {
		assert.Equal(t, int64(i+1), e.Movement.QuantityDelta)
	}
	stats := bus.Stats()
	assert.Equal(t, int64(20), stats.Published)
	assert.Equal(t, int64(20), stats.Delivered)
}

func TestBus_SubscriptionTypesFilter(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	lows := &collector{}
	all := &collector{}
	bus.Subscribe("lows", lows, inventory.EventLowStock)
	bus.Subscribe("all", all)

	bus.Publish(stockEvent(1))
	bus.Publish(inventory.Event{ID: uuid.New(), Type: inventory.EventLowStock, Threshold: 3})
	require.NoError(t, bus.Close(context.Background()))

	assert.Len(t, lows.events(), 1)
	assert.Len(t, all.events(), 2)
}

func TestBus_FailingHandlersAreIsolated(t *testing.T) {
	// GIVEN: one handler that errors, one that panics, one that works
	bus := NewBus(zaptest.NewLogger(t))
	good := &collector{}
	bus.Subscribe("erroring", HandlerFunc(func(context.Context, inventory.Event) error {
		return errors.New("downstream unavailable")
	}))
	bus.Subscribe("panicking", HandlerFunc(func(context.Context, inventory.Event) error {
		panic("nil map")
	}))
	bus.Subscribe("good", good)

	// WHEN
	bus.Publish(stockEvent(1))
	bus.Publish(stockEvent(2))
	require.NoError(t, bus.Close(context.Background()))

	// THEN: the good handler still sees everything
	assert.Len(t, good.events(), 2)
	stats := bus.Stats()
	assert.Equal(t, int64(4), stats.Failed)
	assert.Equal(t, int64(2), stats.Delivered)
}

func TestBus_PublishAfterCloseIsDropped(t *testing.T) {
	bus := NewBus(zaptest.NewLogger(t))
	require.NoError(t, bus.Close(context.Background()))

	bus.Publish(stockEvent(1))

	stats := bus.Stats()
	assert.Equal(t, int64(0), stats.Published)
	assert.Equal(t, int64(1), stats.Dropped)
}

func TestBus_CloseGivesUpWhenContextExpires(t *testing.T) {
	// GIVEN: a handler stuck until its context is cancelled, and a backlog
	bus := NewBus(zaptest.NewLogger(t))
	started := make(chan struct{})
	var once sync.Once
	bus.Subscribe("stuck", HandlerFunc(func(ctx context.Context, _ inventory.Event) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}))
	bus.Publish(stockEvent(1))
	<-started
	bus.Publish(stockEvent(2))
	bus.Publish(stockEvent(3))

	// WHEN: Close gets an already-expired context
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := bus.Close(ctx)

	// THEN: it reports the expiry and the backlog is dropped
	assert.ErrorIs(t, err, context.Canceled)
	stats := bus.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(2), stats.Dropped)
}

func TestBus_SlowSubscriberDoesNotDelayOthers(t *testing.T) {
	// GIVEN: one handler blocked on its first event and one collector
	bus := NewBus(zaptest.NewLogger(t))
	unblock := make(chan struct{})
	slow := &collector{}
	bus.Subscribe("blocked", HandlerFunc(func(ctx context.Context, e inventory.Event) error {
		<-unblock
		return slow.Handle(ctx, e)
	}))
	fast := &collector{}
	bus.Subscribe("fast", fast)

	// WHEN: events are published while the first handler is stuck
	for i := int64(1); i <= 3; i++ {
		bus.Publish(stockEvent(i))
	}

	// THEN: the collector receives all of them without waiting
	require.Eventually(t, func() bool { return len(fast.events()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, slow.events())

	close(unblock)
	require.NoError(t, bus.Close(context.Background()))
	got := slow.events()
	require.Len(t, got, 3)
	for i, e := range got {
		assert.Equal(t, int64(i+1), e.Movement.QuantityDelta)
	}
	assert.Equal(t, int64(6), bus.Stats().Delivered)
}
