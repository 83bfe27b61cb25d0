/*
coordinator.go - Per-key critical sections

PURPOSE:
  Serializes every read-then-write on a (product, warehouse) key. Operations
  on disjoint keys never contend.

DEADLOCK FREEDOM:
  Acquire sorts and de-duplicates keys before taking them, so two callers
  that need overlapping key sets always take them in the same order.

BOUNDED WAIT:
  Acquire gives up after the configured timeout (or on context
  cancellation), releases whatever it already holds and returns a
  LockTimeoutError. No section is ever left held on failure.

SCOPE:
  The coordinator guards a single process. Multi-process deployments rely
  on the store's own row-level locking in addition.
*/
package inventory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// SortKeys returns keys sorted by StockKey.Less with duplicates removed.
func SortKeys(keys []StockKey) []StockKey {
	out := append([]StockKey(nil), keys...)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}

type keyLock struct {
	ch   chan struct{} // capacity 1; a token in the channel means held
	refs int
}

// Coordinator hands out per-key critical sections.
type Coordinator struct {
	mu      sync.Mutex
	locks   map[StockKey]*keyLock
	timeout time.Duration
}

const DefaultLockTimeout = 2 * time.Second

func NewCoordinator(timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &Coordinator{locks: make(map[StockKey]*keyLock), timeout: timeout}
}

// Section is a set of held keys. Release must be called exactly once.
type Section struct {
	c        *Coordinator
	keys     []StockKey
	held     map[StockKey]bool
	released bool
}

// Acquire takes the sections for keys in sorted order.
func (c *Coordinator) Acquire(ctx context.Context, keys ...StockKey) (*Section, error) {
	sorted := SortKeys(keys)
	s := &Section{c: c, held: make(map[StockKey]bool, len(sorted))}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	start := time.Now()

	for _, k := range sorted {
		l := c.ref(k)
		select {
		case l.ch <- struct{}{}:
			s.keys = append(s.keys, k)
			s.held[k] = true
		case <-timer.C:
			c.unref(k)
			s.Release()
			return nil, &LockTimeoutError{Keys: sorted, Waited: time.Since(start)}
		case <-ctx.Done():
			c.unref(k)
			s.Release()
			return nil, &LockTimeoutError{Keys: sorted, Waited: time.Since(start)}
		}
	}
	return s, nil
}

func (c *Coordinator) ref(k StockKey) *keyLock {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[k]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		c.locks[k] = l
	}
	l.refs++
	return l
}

func (c *Coordinator) unref(k StockKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l := c.locks[k]
	l.refs--
	if l.refs == 0 {
		delete(c.locks, k)
	}
}

// Release frees every held key in reverse order. Safe to call twice.
func (s *Section) Release() {
	if s == nil || s.released {
		return
	}
	s.released = true
	for i := len(s.keys) - 1; i >= 0; i-- {
		k := s.keys[i]
		s.c.mu.Lock()
		l := s.c.locks[k]
		s.c.mu.Unlock()
		<-l.ch
		s.c.unref(k)
	}
	s.held = nil
}

// Holds reports whether the section covers key.
func (s *Section) Holds(key StockKey) bool {
	return s != nil && !s.released && s.held[key]
}

func (s *Section) Keys() []StockKey {
	return append([]StockKey(nil), s.keys...)
}
