// Package store provides in-memory implementations of the inventory stores.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/inventory-engine/inventory"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	state memoryState

	products   map[inventory.ProductID]inventory.Product
	warehouses map[inventory.WarehouseID]inventory.Warehouse
	thresholds map[inventory.StockKey]int64
}

type memoryState struct {
	seq          int64
	movements    map[inventory.StockKey][]inventory.Movement
	idempotency  map[string]bool
	reservations map[inventory.ReservationID]inventory.Reservation
	byOrder      map[inventory.OrderID][]inventory.ReservationID
	orders       map[inventory.OrderID]inventory.Order
	transitions  map[inventory.OrderID][]inventory.OrderTransition
}

func newMemoryState() memoryState {
	return memoryState{
		movements:    make(map[inventory.StockKey][]inventory.Movement),
		idempotency:  make(map[string]bool),
		reservations: make(map[inventory.ReservationID]inventory.Reservation),
		byOrder:      make(map[inventory.OrderID][]inventory.ReservationID),
		orders:       make(map[inventory.OrderID]inventory.Order),
		transitions:  make(map[inventory.OrderID][]inventory.OrderTransition),
	}
}

func NewMemory() *Memory {
	return &Memory{
		state:      newMemoryState(),
		products:   make(map[inventory.ProductID]inventory.Product),
		warehouses: make(map[inventory.WarehouseID]inventory.Warehouse),
		thresholds: make(map[inventory.StockKey]int64),
	}
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) SaveProduct(_ context.Context, p inventory.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
	return nil
}

func (m *Memory) SaveWarehouse(_ context.Context, w inventory.Warehouse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warehouses[w.ID] = w
	return nil
}

func (m *Memory) SetThreshold(_ context.Context, key inventory.StockKey, threshold int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thresholds[key] = threshold
	return nil
}

func (m *Memory) ListProducts(_ context.Context) ([]inventory.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]inventory.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListWarehouses(_ context.Context) ([]inventory.Warehouse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]inventory.Warehouse, 0, len(m.warehouses))
	for _, w := range m.warehouses {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ProductExists(_ context.Context, id inventory.ProductID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.products[id].Active, nil
}

func (m *Memory) WarehouseExists(_ context.Context, id inventory.WarehouseID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.warehouses[id].Active, nil
}

func (m *Memory) LowStockThreshold(_ context.Context, key inventory.StockKey) (int64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.thresholds[key]
	return t, ok, nil
}

// =============================================================================
// STORE - Locked entry points delegate to the unlocked state methods
// =============================================================================

func (m *Memory) AppendMovements(_ context.Context, ms []inventory.Movement) ([]inventory.Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.appendMovements(ms)
}

func (m *Memory) MovementsPage(_ context.Context, key inventory.StockKey, rng inventory.HistoryRange, afterSeq int64, limit int) ([]inventory.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.movementsPage(key, rng, afterSeq, limit), nil
}

func (m *Memory) SumMovements(_ context.Context, key inventory.StockKey) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.sumMovements(key), nil
}

func (m *Memory) MovementsByOrder(_ context.Context, id inventory.OrderID) ([]inventory.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.movementsByOrder(id), nil
}

func (m *Memory) MovementExists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.idempotency[key], nil
}

func (m *Memory) InsertReservations(_ context.Context, rs []inventory.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.insertReservations(rs)
	return nil
}

func (m *Memory) UpdateReservation(_ context.Context, r inventory.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.updateReservation(r)
}

func (m *Memory) GetReservation(_ context.Context, id inventory.ReservationID) (inventory.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getReservation(id)
}

func (m *Memory) ReservationsByOrder(_ context.Context, id inventory.OrderID) ([]inventory.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.reservationsByOrder(id), nil
}

func (m *Memory) SumActiveReservations(_ context.Context, key inventory.StockKey) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.sumActive(key), nil
}

func (m *Memory) InsertOrder(_ context.Context, o inventory.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.insertOrder(o)
}

func (m *Memory) UpdateOrder(_ context.Context, o inventory.Order, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.updateOrder(o, expectedVersion)
}

func (m *Memory) GetOrder(_ context.Context, id inventory.OrderID) (inventory.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.getOrder(id)
}

func (m *Memory) ListOrders(_ context.Context, f inventory.OrderFilter) ([]inventory.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listOrders(f), nil
}

func (m *Memory) AppendTransition(_ context.Context, t inventory.OrderTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.transitions[t.OrderID] = append(m.state.transitions[t.OrderID], t)
	return nil
}

func (m *Memory) Transitions(_ context.Context, id inventory.OrderID) ([]inventory.OrderTransition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]inventory.OrderTransition(nil), m.state.transitions[id]...), nil
}

// =============================================================================
// STATE - Unlocked operations shared by Memory and the transactional view
// =============================================================================

func (s *memoryState) appendMovements(ms []inventory.Movement) ([]inventory.Movement, error) {
	// Check all idempotency keys first (atomic check)
	seen := make(map[string]bool)
	for _, mv := range ms {
		if mv.IdempotencyKey == "" {
			continue
		}
		if s.idempotency[mv.IdempotencyKey] || seen[mv.IdempotencyKey] {
			return nil, inventory.ErrDuplicateIdempotencyKey
		}
		seen[mv.IdempotencyKey] = true
	}

	out := make([]inventory.Movement, len(ms))
	for i, mv := range ms {
		s.seq++
		mv.Seq = s.seq
		s.movements[mv.Key()] = append(s.movements[mv.Key()], mv)
		if mv.IdempotencyKey != "" {
			s.idempotency[mv.IdempotencyKey] = true
		}
		out[i] = mv
	}
	return out, nil
}

func (s *memoryState) movementsPage(key inventory.StockKey, rng inventory.HistoryRange, afterSeq int64, limit int) []inventory.Movement {
	all := s.movements[key]
	// Seq is increasing per key, so binary search for the first unseen entry.
	i := sort.Search(len(all), func(i int) bool { return all[i].Seq > afterSeq })
	var out []inventory.Movement
	for ; i < len(all) && (limit <= 0 || len(out) < limit); i++ {
		if rng.Contains(all[i].Timestamp) {
			out = append(out, all[i])
		}
	}
	return out
}

func (s *memoryState) sumMovements(key inventory.StockKey) int64 {
	var sum int64
	for _, mv := range s.movements[key] {
		sum += mv.QuantityDelta
	}
	return sum
}

func (s *memoryState) movementsByOrder(id inventory.OrderID) []inventory.Movement {
	var out []inventory.Movement
	for _, ms := range s.movements {
		for _, mv := range ms {
			if mv.OrderID == id {
				out = append(out, mv)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (s *memoryState) insertReservations(rs []inventory.Reservation) {
	for _, r := range rs {
		if _, ok := s.reservations[r.ID]; !ok {
			s.byOrder[r.OrderID] = append(s.byOrder[r.OrderID], r.ID)
		}
		s.reservations[r.ID] = r
	}
}

func (s *memoryState) updateReservation(r inventory.Reservation) error {
	cur, ok := s.reservations[r.ID]
	if !ok {
		return inventory.ErrReservationNotFound
	}
	cur.Status = r.Status
	cur.MovementID = r.MovementID
	cur.ResolvedAt = r.ResolvedAt
	s.reservations[r.ID] = cur
	return nil
}

func (s *memoryState) getReservation(id inventory.ReservationID) (inventory.Reservation, error) {
	r, ok := s.reservations[id]
	if !ok {
		return inventory.Reservation{}, inventory.ErrReservationNotFound
	}
	return r, nil
}

func (s *memoryState) reservationsByOrder(id inventory.OrderID) []inventory.Reservation {
	ids := s.byOrder[id]
	out := make([]inventory.Reservation, 0, len(ids))
	for _, rid := range ids {
		out = append(out, s.reservations[rid])
	}
	return out
}

func (s *memoryState) sumActive(key inventory.StockKey) int64 {
	var sum int64
	for _, r := range s.reservations {
		if r.IsActive() && r.Key() == key {
			sum += r.Quantity
		}
	}
	return sum
}

func (s *memoryState) insertOrder(o inventory.Order) error {
	if _, ok := s.orders[o.ID]; ok {
		return inventory.ErrDuplicateOrder
	}
	s.orders[o.ID] = o.Clone()
	return nil
}

func (s *memoryState) updateOrder(o inventory.Order, expectedVersion int) error {
	cur, ok := s.orders[o.ID]
	if !ok {
		return inventory.ErrOrderNotFound
	}
	if cur.Version != expectedVersion {
		return inventory.ErrConcurrentModification
	}
	s.orders[o.ID] = o.Clone()
	return nil
}

func (s *memoryState) getOrder(id inventory.OrderID) (inventory.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return inventory.Order{}, inventory.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (s *memoryState) listOrders(f inventory.OrderFilter) []inventory.Order {
	var out []inventory.Order
	for _, o := range s.orders {
		if f.Match(&o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// clone deep-copies the state for rollback.
func (s *memoryState) clone() memoryState {
	c := newMemoryState()
	c.seq = s.seq
	for k, v := range s.movements {
		c.movements[k] = append([]inventory.Movement(nil), v...)
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	for k, v := range s.byOrder {
		c.byOrder[k] = append([]inventory.ReservationID(nil), v...)
	}
	for k, v := range s.orders {
		c.orders[k] = v.Clone()
	}
	for k, v := range s.transitions {
		c.transitions[k] = append([]inventory.OrderTransition(nil), v...)
	}
	return c
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn within a transaction.
// For the memory store this is simulated with a snapshot, restored when fn
// returns an error or panics.
func (m *Memory) WithTx(_ context.Context, fn func(inventory.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	defer func() {
		if r := recover(); r != nil {
			m.state = snapshot
			panic(r)
		}
	}()

	if err := fn(&txView{s: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// txView is the Store handed to WithTx callbacks. The parent lock is
// already held.
type txView struct {
	s *memoryState
}

func (v *txView) AppendMovements(_ context.Context, ms []inventory.Movement) ([]inventory.Movement, error) {
	return v.s.appendMovements(ms)
}

func (v *txView) MovementsPage(_ context.Context, key inventory.StockKey, rng inventory.HistoryRange, afterSeq int64, limit int) ([]inventory.Movement, error) {
	return v.s.movementsPage(key, rng, afterSeq, limit), nil
}

func (v *txView) SumMovements(_ context.Context, key inventory.StockKey) (int64, error) {
	return v.s.sumMovements(key), nil
}

func (v *txView) MovementsByOrder(_ context.Context, id inventory.OrderID) ([]inventory.Movement, error) {
	return v.s.movementsByOrder(id), nil
}

func (v *txView) MovementExists(_ context.Context, key string) (bool, error) {
	return v.s.idempotency[key], nil
}

func (v *txView) InsertReservations(_ context.Context, rs []inventory.Reservation) error {
	v.s.insertReservations(rs)
	return nil
}

func (v *txView) UpdateReservation(_ context.Context, r inventory.Reservation) error {
	return v.s.updateReservation(r)
}

func (v *txView) GetReservation(_ context.Context, id inventory.ReservationID) (inventory.Reservation, error) {
	return v.s.getReservation(id)
}

func (v *txView) ReservationsByOrder(_ context.Context, id inventory.OrderID) ([]inventory.Reservation, error) {
	return v.s.reservationsByOrder(id), nil
}

func (v *txView) SumActiveReservations(_ context.Context, key inventory.StockKey) (int64, error) {
	return v.s.sumActive(key), nil
}

func (v *txView) InsertOrder(_ context.Context, o inventory.Order) error {
	return v.s.insertOrder(o)
}

func (v *txView) UpdateOrder(_ context.Context, o inventory.Order, expectedVersion int) error {
	return v.s.updateOrder(o, expectedVersion)
}

func (v *txView) GetOrder(_ context.Context, id inventory.OrderID) (inventory.Order, error) {
	return v.s.getOrder(id)
}

func (v *txView) ListOrders(_ context.Context, f inventory.OrderFilter) ([]inventory.Order, error) {
	return v.s.listOrders(f), nil
}

func (v *txView) AppendTransition(_ context.Context, t inventory.OrderTransition) error {
	v.s.transitions[t.OrderID] = append(v.s.transitions[t.OrderID], t)
	return nil
}

func (v *txView) Transitions(_ context.Context, id inventory.OrderID) ([]inventory.OrderTransition, error) {
	return append([]inventory.OrderTransition(nil), v.s.transitions[id]...), nil
}

var (
	_ inventory.TxStore      = (*Memory)(nil)
	_ inventory.CatalogAdmin = (*Memory)(nil)
)
