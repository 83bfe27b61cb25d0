/*
Package sqlite provides a SQLite-backed implementation of the inventory stores.

PURPOSE:
  Implements inventory.TxStore and inventory.CatalogAdmin using SQLite. The
  same schema and queries port to PostgreSQL with minor dialect changes.

APPEND-ONLY ENFORCEMENT:
  The movements table is guarded twice:
  - the Go code never issues UPDATE or DELETE against it
  - BEFORE UPDATE / BEFORE DELETE triggers abort any statement that tries

KEY TABLES:
  movements:          Immutable ledger; seq is the global append order
  reservations:       Holds on stock, status ACTIVE / RELEASED / COMMITTED
  orders, order_lines: Order header (versioned) and its immutable lines
  order_transitions:  Status history
  products, warehouses, stock_thresholds: Catalog

INDEXES:
  - idx_movements_key_seq:        level sums and history paging (hot path)
  - idx_reservations_key_status:  active reservation sums (hot path)
  - idx_movements_order:          movements by order back-reference

CONCURRENCY:
  The pool is limited to one connection, so every transaction is
  serialized at the database. Per-key exclusion is the coordinator's job;
  this store only has to be atomic. Code running inside WithTx must use the
  Store it is handed, never the parent, or it waits on its own connection.

TIME FORMAT:
  Timestamps are stored as fixed-width UTC text so string comparison in SQL
  matches time order.

USAGE:
  store, err := sqlite.New("./data/inventory.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - inventory/store.go:        interface definitions
  - inventory/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/inventory-engine/inventory"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements inventory.TxStore and inventory.CatalogAdmin.
type Store struct {
	ops
	db *sql.DB
}

// New opens (and migrates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := Open(db)
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Open wraps an existing handle without migrating it.
func Open(db *sql.DB) *Store {
	return &Store{ops: ops{q: db}, db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	schema := `
	-- Movements (append-only ledger)
	CREATE TABLE IF NOT EXISTS movements (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		product_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		quantity_delta INTEGER NOT NULL CHECK (quantity_delta <> 0),
		kind TEXT NOT NULL CHECK (kind IN
			('RECEIPT','SHIPMENT','ADJUSTMENT','TRANSFER_IN','TRANSFER_OUT','RETURN_IN')),
		order_id TEXT,
		reservation_id TEXT,
		occurred_at TEXT NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		unit_cost TEXT NOT NULL DEFAULT '0',
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_movements_key_seq
		ON movements(product_id, warehouse_id, seq);
	CREATE INDEX IF NOT EXISTS idx_movements_order
		ON movements(order_id) WHERE order_id IS NOT NULL;

	CREATE TRIGGER IF NOT EXISTS movements_no_update
		BEFORE UPDATE ON movements
		BEGIN SELECT RAISE(ABORT, 'movements are append-only'); END;
	CREATE TRIGGER IF NOT EXISTS movements_no_delete
		BEFORE DELETE ON movements
		BEGIN SELECT RAISE(ABORT, 'movements are append-only'); END;

	-- Reservations
	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		destination_warehouse_id TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		status TEXT NOT NULL CHECK (status IN ('ACTIVE','RELEASED','COMMITTED')),
		movement_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		resolved_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reservations_key_status
		ON reservations(product_id, warehouse_id, status);
	CREATE INDEX IF NOT EXISTS idx_reservations_order
		ON reservations(order_id);

	-- Orders
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		state TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_state
		ON orders(state, updated_at);

	CREATE TABLE IF NOT EXISTS order_lines (
		order_id TEXT NOT NULL REFERENCES orders(id),
		line_no INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		destination_warehouse_id TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL,
		unit_cost TEXT NOT NULL DEFAULT '0',
		PRIMARY KEY (order_id, line_no)
	);

	CREATE TABLE IF NOT EXISTS order_transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT NOT NULL REFERENCES orders(id),
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		event TEXT NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_order_transitions_order
		ON order_transitions(order_id, id);

	-- Catalog
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		sku TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS warehouses (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS stock_thresholds (
		product_id TEXT NOT NULL,
		warehouse_id TEXT NOT NULL,
		threshold INTEGER NOT NULL,
		PRIMARY KEY (product_id, warehouse_id)
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (inventory.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. The transaction is
// rolled back when fn returns an error or panics.
func (s *Store) WithTx(ctx context.Context, fn func(inventory.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{ops: ops{q: sqlTx}}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type txStore struct {
	ops
}

// =============================================================================
// OPS - Queries shared by *sql.DB and *sql.Tx
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type ops struct {
	q querier
}

// -----------------------------------------------------------------------------
// Movements
// -----------------------------------------------------------------------------

func (o ops) AppendMovements(ctx context.Context, ms []inventory.Movement) ([]inventory.Movement, error) {
	query := `
		INSERT INTO movements
		(id, product_id, warehouse_id, quantity_delta, kind, order_id, reservation_id,
		 occurred_at, actor_id, reason, unit_cost, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := formatTime(time.Now())
	out := make([]inventory.Movement, len(ms))
	for i, m := range ms {
		res, err := o.q.ExecContext(ctx, query,
			m.ID,
			m.ProductID,
			m.WarehouseID,
			m.QuantityDelta,
			m.Kind,
			nullString(string(m.OrderID)),
			nullString(string(m.ReservationID)),
			formatTime(m.Timestamp),
			m.ActorID,
			m.Reason,
			m.UnitCost.String(),
			nullString(m.IdempotencyKey),
			now,
		)
		if err != nil {
			if isUniqueConstraintError(err) && strings.Contains(err.Error(), "idempotency_key") {
				return nil, inventory.ErrDuplicateIdempotencyKey
			}
			return nil, fmt.Errorf("failed to append movement: %w", err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to read movement seq: %w", err)
		}
		m.Seq = seq
		out[i] = m
	}
	return out, nil
}

const movementColumns = `seq, id, product_id, warehouse_id, quantity_delta, kind, order_id,
	reservation_id, occurred_at, actor_id, reason, unit_cost, idempotency_key`

func (o ops) MovementsPage(ctx context.Context, key inventory.StockKey, rng inventory.HistoryRange, afterSeq int64, limit int) ([]inventory.Movement, error) {
	query := `SELECT ` + movementColumns + ` FROM movements
		WHERE product_id = ? AND warehouse_id = ? AND seq > ?`
	args := []any{key.ProductID, key.WarehouseID, afterSeq}
	if !rng.From.IsZero() {
		query += ` AND occurred_at >= ?`
		args = append(args, formatTime(rng.From))
	}
	if !rng.To.IsZero() {
		query += ` AND occurred_at <= ?`
		args = append(args, formatTime(rng.To))
	}
	query += ` ORDER BY seq ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return o.queryMovements(ctx, query, args...)
}

func (o ops) SumMovements(ctx context.Context, key inventory.StockKey) (int64, error) {
	var sum int64
	err := o.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity_delta), 0) FROM movements WHERE product_id = ? AND warehouse_id = ?`,
		key.ProductID, key.WarehouseID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum movements: %w", err)
	}
	return sum, nil
}

func (o ops) MovementsByOrder(ctx context.Context, id inventory.OrderID) ([]inventory.Movement, error) {
	return o.queryMovements(ctx,
		`SELECT `+movementColumns+` FROM movements WHERE order_id = ? ORDER BY seq ASC`, id)
}

func (o ops) MovementExists(ctx context.Context, idempotencyKey string) (bool, error) {
	var count int
	err := o.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM movements WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}

func (o ops) queryMovements(ctx context.Context, query string, args ...any) ([]inventory.Movement, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var movements []inventory.Movement
	for rows.Next() {
		var (
			m              inventory.Movement
			orderID        sql.NullString
			reservationID  sql.NullString
			occurredAt     string
			unitCost       string
			idempotencyKey sql.NullString
		)
		err := rows.Scan(
			&m.Seq, &m.ID, &m.ProductID, &m.WarehouseID, &m.QuantityDelta, &m.Kind,
			&orderID, &reservationID, &occurredAt, &m.ActorID, &m.Reason, &unitCost, &idempotencyKey,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		m.OrderID = inventory.OrderID(orderID.String)
		m.ReservationID = inventory.ReservationID(reservationID.String)
		m.Timestamp = parseTime(occurredAt)
		m.UnitCost = parseDecimal(unitCost)
		m.IdempotencyKey = idempotencyKey.String
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// -----------------------------------------------------------------------------
// Reservations
// -----------------------------------------------------------------------------

func (o ops) InsertReservations(ctx context.Context, rs []inventory.Reservation) error {
	query := `
		INSERT INTO reservations
		(id, order_id, product_id, warehouse_id, destination_warehouse_id,
		 quantity, status, movement_id, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, r := range rs {
		_, err := o.q.ExecContext(ctx, query,
			r.ID, r.OrderID, r.ProductID, r.WarehouseID, r.DestinationWarehouseID,
			r.Quantity, r.Status, r.MovementID, formatTime(r.CreatedAt), nullTime(r.ResolvedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert reservation: %w", err)
		}
	}
	return nil
}

func (o ops) UpdateReservation(ctx context.Context, r inventory.Reservation) error {
	res, err := o.q.ExecContext(ctx,
		`UPDATE reservations SET status = ?, movement_id = ?, resolved_at = ? WHERE id = ?`,
		r.Status, r.MovementID, nullTime(r.ResolvedAt), r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return inventory.ErrReservationNotFound
	}
	return nil
}

const reservationColumns = `id, order_id, product_id, warehouse_id, destination_warehouse_id,
	quantity, status, movement_id, created_at, resolved_at`

func (o ops) GetReservation(ctx context.Context, id inventory.ReservationID) (inventory.Reservation, error) {
	rs, err := o.queryReservations(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	if err != nil {
		return inventory.Reservation{}, err
	}
	if len(rs) == 0 {
		return inventory.Reservation{}, inventory.ErrReservationNotFound
	}
	return rs[0], nil
}

func (o ops) ReservationsByOrder(ctx context.Context, id inventory.OrderID) ([]inventory.Reservation, error) {
	return o.queryReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE order_id = ? ORDER BY created_at, id`, id)
}

func (o ops) SumActiveReservations(ctx context.Context, key inventory.StockKey) (int64, error) {
	var sum int64
	err := o.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(quantity), 0) FROM reservations
		 WHERE product_id = ? AND warehouse_id = ? AND status = 'ACTIVE'`,
		key.ProductID, key.WarehouseID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum reservations: %w", err)
	}
	return sum, nil
}

func (o ops) queryReservations(ctx context.Context, query string, args ...any) ([]inventory.Reservation, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var out []inventory.Reservation
	for rows.Next() {
		var (
			r          inventory.Reservation
			createdAt  string
			resolvedAt sql.NullString
		)
		err := rows.Scan(&r.ID, &r.OrderID, &r.ProductID, &r.WarehouseID, &r.DestinationWarehouseID,
			&r.Quantity, &r.Status, &r.MovementID, &createdAt, &resolvedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		r.CreatedAt = parseTime(createdAt)
		if resolvedAt.Valid {
			t := parseTime(resolvedAt.String)
			r.ResolvedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Orders
// -----------------------------------------------------------------------------

func (o ops) InsertOrder(ctx context.Context, ord inventory.Order) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO orders (id, kind, state, reference, notes, created_by, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ord.ID, ord.Kind, ord.State, ord.Reference, ord.Notes, ord.CreatedBy, ord.Version,
		formatTime(ord.CreatedAt), formatTime(ord.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return inventory.ErrDuplicateOrder
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i, l := range ord.Lines {
		_, err := o.q.ExecContext(ctx, `
			INSERT INTO order_lines
			(order_id, line_no, product_id, warehouse_id, destination_warehouse_id, quantity, unit_cost)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ord.ID, i, l.ProductID, l.WarehouseID, l.DestinationWarehouseID, l.Quantity, l.UnitCost.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert order line: %w", err)
		}
	}
	return nil
}

func (o ops) UpdateOrder(ctx context.Context, ord inventory.Order, expectedVersion int) error {
	res, err := o.q.ExecContext(ctx, `
		UPDATE orders SET state = ?, reference = ?, notes = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		ord.State, ord.Reference, ord.Notes, ord.Version, formatTime(ord.UpdatedAt),
		ord.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var count int
	if err := o.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE id = ?`, ord.ID).Scan(&count); err != nil {
		return fmt.Errorf("failed to check order: %w", err)
	}
	if count == 0 {
		return inventory.ErrOrderNotFound
	}
	return inventory.ErrConcurrentModification
}

const orderColumns = `id, kind, state, reference, notes, created_by, version, created_at, updated_at`

func (o ops) GetOrder(ctx context.Context, id inventory.OrderID) (inventory.Order, error) {
	orders, err := o.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	if err != nil {
		return inventory.Order{}, err
	}
	if len(orders) == 0 {
		return inventory.Order{}, inventory.ErrOrderNotFound
	}
	return orders[0], nil
}

func (o ops) ListOrders(ctx context.Context, f inventory.OrderFilter) ([]inventory.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1 = 1`
	var args []any
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, f.Kind)
	}
	if f.State != "" {
		query += ` AND state = ?`
		args = append(args, f.State)
	}
	if !f.UpdatedBefore.IsZero() {
		query += ` AND updated_at < ?`
		args = append(args, formatTime(f.UpdatedBefore))
	}
	query += ` ORDER BY created_at, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return o.queryOrders(ctx, query, args...)
}

// queryOrders reads headers first and lines second. The header rows are
// closed before the line queries run, since the pool has one connection.
func (o ops) queryOrders(ctx context.Context, query string, args ...any) ([]inventory.Order, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}

	var orders []inventory.Order
	for rows.Next() {
		var (
			ord                  inventory.Order
			createdAt, updatedAt string
		)
		err := rows.Scan(&ord.ID, &ord.Kind, &ord.State, &ord.Reference, &ord.Notes,
			&ord.CreatedBy, &ord.Version, &createdAt, &updatedAt)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		ord.CreatedAt = parseTime(createdAt)
		ord.UpdatedAt = parseTime(updatedAt)
		orders = append(orders, ord)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range orders {
		lines, err := o.orderLines(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Lines = lines
	}
	return orders, nil
}

func (o ops) orderLines(ctx context.Context, id inventory.OrderID) ([]inventory.OrderLine, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT product_id, warehouse_id, destination_warehouse_id, quantity, unit_cost
		FROM order_lines WHERE order_id = ? ORDER BY line_no`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query order lines: %w", err)
	}
	defer rows.Close()

	var lines []inventory.OrderLine
	for rows.Next() {
		var (
			l        inventory.OrderLine
			unitCost string
		)
		if err := rows.Scan(&l.ProductID, &l.WarehouseID, &l.DestinationWarehouseID, &l.Quantity, &unitCost); err != nil {
			return nil, fmt.Errorf("failed to scan order line: %w", err)
		}
		l.UnitCost = parseDecimal(unitCost)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (o ops) AppendTransition(ctx context.Context, t inventory.OrderTransition) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO order_transitions (order_id, from_state, to_state, event, actor_id, reason, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.OrderID, t.From, t.To, t.Event, t.ActorID, t.Reason, formatTime(t.At),
	)
	if err != nil {
		return fmt.Errorf("failed to append order transition: %w", err)
	}
	return nil
}

func (o ops) Transitions(ctx context.Context, id inventory.OrderID) ([]inventory.OrderTransition, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT order_id, from_state, to_state, event, actor_id, reason, at
		FROM order_transitions WHERE order_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query order transitions: %w", err)
	}
	defer rows.Close()

	var out []inventory.OrderTransition
	for rows.Next() {
		var (
			t  inventory.OrderTransition
			at string
		)
		if err := rows.Scan(&t.OrderID, &t.From, &t.To, &t.Event, &t.ActorID, &t.Reason, &at); err != nil {
			return nil, fmt.Errorf("failed to scan order transition: %w", err)
		}
		t.At = parseTime(at)
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// CATALOG (inventory.CatalogAdmin interface)
// =============================================================================

func (s *Store) SaveProduct(ctx context.Context, p inventory.Product) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, sku, name, active) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET sku = excluded.sku, name = excluded.name, active = excluded.active`,
		p.ID, p.SKU, p.Name, p.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

func (s *Store) SaveWarehouse(ctx context.Context, w inventory.Warehouse) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO warehouses (id, name, active) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, active = excluded.active`,
		w.ID, w.Name, w.Active,
	)
	if err != nil {
		return fmt.Errorf("failed to save warehouse: %w", err)
	}
	return nil
}

func (s *Store) SetThreshold(ctx context.Context, key inventory.StockKey, threshold int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_thresholds (product_id, warehouse_id, threshold) VALUES (?, ?, ?)
		ON CONFLICT(product_id, warehouse_id) DO UPDATE SET threshold = excluded.threshold`,
		key.ProductID, key.WarehouseID, threshold,
	)
	if err != nil {
		return fmt.Errorf("failed to set threshold: %w", err)
	}
	return nil
}

func (s *Store) ProductExists(ctx context.Context, id inventory.ProductID) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM products WHERE id = ? AND active`, id).Scan(&count)
	return count > 0, err
}

func (s *Store) WarehouseExists(ctx context.Context, id inventory.WarehouseID) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM warehouses WHERE id = ? AND active`, id).Scan(&count)
	return count > 0, err
}

func (s *Store) LowStockThreshold(ctx context.Context, key inventory.StockKey) (int64, bool, error) {
	var threshold int64
	err := s.db.QueryRowContext(ctx,
		`SELECT threshold FROM stock_thresholds WHERE product_id = ? AND warehouse_id = ?`,
		key.ProductID, key.WarehouseID,
	).Scan(&threshold)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read threshold: %w", err)
	}
	return threshold, true, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]inventory.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, sku, name, active FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var out []inventory.Product
	for rows.Next() {
		var p inventory.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Active); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListWarehouses(ctx context.Context) ([]inventory.Warehouse, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, active FROM warehouses ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query warehouses: %w", err)
	}
	defer rows.Close()

	var out []inventory.Warehouse
	for rows.Next() {
		var w inventory.Warehouse
		if err := rows.Scan(&w.ID, &w.Name, &w.Active); err != nil {
			return nil, fmt.Errorf("failed to scan warehouse: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var (
	_ inventory.TxStore      = (*Store)(nil)
	_ inventory.CatalogAdmin = (*Store)(nil)
)
