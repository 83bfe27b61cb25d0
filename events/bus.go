/*
Package events delivers inventory domain events to subscribers.

PURPOSE:
  Bus implements inventory.Emitter. Publish only appends the event to the
  queue of every interested subscription and returns. Each subscription
  has its own dispatcher goroutine, so events reach a handler in
  publication order and a slow or retrying handler only delays itself. A
  failing or panicking handler is logged and skipped, it never reaches the
  engine.

DELIVERY:
  At-least-once is the subscriber's responsibility: wrap a handler in
  Retrying to give it a retry policy. Events still queued when Close's
  context expires are dropped and counted once per subscription.

SUBSCRIBERS IN THIS PACKAGE:
  - LogSubscriber: structured audit line per event
  - KafkaSink:     ships events to a Kafka topic
  - Retrying:      retry decorator with exponential backoff
*/
package events

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/warp/inventory-engine/inventory"
)

// Handler processes one event.
type Handler interface {
	Handle(ctx context.Context, e inventory.Event) error
}

type HandlerFunc func(ctx context.Context, e inventory.Event) error

func (f HandlerFunc) Handle(ctx context.Context, e inventory.Event) error { return f(ctx, e) }

// subscription is one handler with its own unbounded queue.
type subscription struct {
	name    string
	handler Handler
	types   map[inventory.EventType]bool // empty means every type

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []inventory.Event
	closed bool
}

func (s *subscription) wants(t inventory.EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

func (s *subscription) enqueue(e inventory.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// next blocks until an event is queued. It reports false once the
// subscription is closed and drained.
func (s *subscription) next() (inventory.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.queue) == 0 {
		return inventory.Event{}, false
	}
	e := s.queue[0]
	s.queue[0] = inventory.Event{}
	s.queue = s.queue[1:]
	return e, true
}

// Stats counts bus activity since creation.
type Stats struct {
	Published int64
	Delivered int64
	Failed    int64
	Dropped   int64
}

// Bus is an asynchronous event fan-out with one unbounded queue and one
// dispatcher per subscription.
type Bus struct {
	mu     sync.Mutex
	subs   []*subscription
	closed bool
	wg     sync.WaitGroup

	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	published atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subscribe registers h for the given types, or for every type when none
// are given, and starts its dispatcher. The name appears in logs. A
// subscription only sees events published after it was registered.
func (b *Bus) Subscribe(name string, h Handler, types ...inventory.EventType) {
	s := &subscription{name: name, handler: h, types: make(map[inventory.EventType]bool)}
	for _, t := range types {
		s.types[t] = true
	}
	s.cond = sync.NewCond(&s.mu)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Warn("subscribe after close ignored", zap.String("subscriber", name))
		return
	}
	b.subs = append(b.subs, s)
	b.wg.Add(1)
	b.mu.Unlock()

	go b.run(s)
	b.logger.Debug("handler subscribed", zap.String("subscriber", name), zap.Int("types", len(types)))
}

// Publish enqueues e for every interested subscription and returns
// immediately.
func (b *Bus) Publish(e inventory.Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.dropped.Add(1)
		b.logger.Warn("event published after close", zap.String("event_type", string(e.Type)))
		return
	}
	for _, s := range b.subs {
		if s.wants(e.Type) {
			s.enqueue(e)
		}
	}
	b.mu.Unlock()
	b.published.Add(1)
}

// Close stops accepting events and waits for every queue to drain or ctx
// to expire. Handlers in flight see a cancelled context after expiry.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	subs := b.subs
	b.mu.Unlock()
	for _, s := range subs {
		s.close()
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.cancel()
		return nil
	case <-ctx.Done():
		b.cancel()
		<-done
		return ctx.Err()
	}
}

func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Failed:    b.failed.Load(),
		Dropped:   b.dropped.Load(),
	}
}

func (b *Bus) run(s *subscription) {
	defer b.wg.Done()
	for {
		e, ok := s.next()
		if !ok {
			return
		}
		if b.ctx.Err() != nil {
			b.dropped.Add(1)
			continue
		}
		b.dispatch(s, e)
	}
}

// dispatch safely hands an event to one handler.
func (b *Bus) dispatch(s *subscription, e inventory.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.failed.Add(1)
			b.logger.Error("handler panicked",
				zap.String("subscriber", s.name),
				zap.String("event_type", string(e.Type)),
				zap.Any("panic", r),
			)
		}
	}()

	if err := s.handler.Handle(b.ctx, e); err != nil {
		b.failed.Add(1)
		b.logger.Error("handler failed to process event",
			zap.String("subscriber", s.name),
			zap.String("event_type", string(e.Type)),
			zap.String("event_id", e.ID.String()),
			zap.Error(err),
		)
		return
	}
	b.delivered.Add(1)
}

var _ inventory.Emitter = (*Bus)(nil)
