// Package cache provides inventory.LevelCache implementations.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/warp/inventory-engine/inventory"
)

// =============================================================================
// MEMORY CACHE - Process-local, optional TTL
// =============================================================================

type memoryEntry struct {
	level   inventory.StockLevel
	expires time.Time // zero means no expiry
}

// Memory is a process-local level cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[inventory.StockKey]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		entries: make(map[inventory.StockKey]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key inventory.StockKey) (inventory.StockLevel, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || (!e.expires.IsZero() && m.now().After(e.expires)) {
		return inventory.StockLevel{}, false, nil
	}
	return e.level, true, nil
}

func (m *Memory) Set(_ context.Context, level inventory.StockLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{level: level}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.entries[level.Key] = e
	return nil
}

func (m *Memory) Invalidate(_ context.Context, keys ...inventory.StockKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

// Len returns the number of entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

var _ inventory.LevelCache = (*Memory)(nil)
