/*
Package sqlite provides a SQLite-backed implementation of permits.Store.

PURPOSE:
  Persists products, permits, orders with their items, and refunds. The
  same store serves the pricing engine as its ProductCatalog and
  OrderItemSource, so previews and workflows price from the same rows.

KEY TABLES:
  products:    Zone price timelines, one row per product
  permits:     Permit snapshots, latest state only
  orders:      Orders with their status and billed permits
  order_items: Invoiced items, immutable once written
  refunds:     At most one per order (UNIQUE order_id)

STORAGE FORMATS:
  - Money and rates are decimal strings, never REAL
  - Civil dates are YYYY-MM-DD
  - Instants are RFC3339 with nanoseconds in UTC, returned in the store's
    location so month arithmetic happens in local time

INDEXES:
  - idx_products_zone_dates: ProductsForDateRange (hot path for pricing)
  - idx_permits_customer:    PermitsByCustomer
  - idx_order_items_permit:  OrderItemsForPermit

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole transaction and hands out a view that does not lock again.

USAGE:
  store, err := sqlite.New("./data/permits.db", sqlite.WithLocation(helsinki))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := pricing.NewEngine(store, helsinki)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - permits/store.go: Interface definition
  - pricing/store/memory.go: In-memory catalog for tests and previews
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/warp/permit-engine/calendar"
	"github.com/warp/permit-engine/permits"
	"github.com/warp/permit-engine/pricing"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements permits.Store using SQLite.
type Store struct {
	db   *sql.DB
	q    queryer
	mu   *sync.RWMutex
	loc  *time.Location
	inTx bool
}

var _ permits.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLocation sets the location instants are returned in. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) { s.loc = loc }
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if dbPath == ":memory:" {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, q: db, mu: &sync.RWMutex{}, loc: time.UTC}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate database")
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		zone TEXT NOT NULL,
		product_type TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		vat TEXT NOT NULL,
		low_emission_discount TEXT NOT NULL,
		secondary_vehicle_increase_rate TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_products_zone_dates
		ON products(zone, start_date, end_date);

	CREATE TABLE IF NOT EXISTS permits (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		vehicle_id TEXT NOT NULL,
		zone TEXT NOT NULL,
		contract_type TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT,
		month_count INTEGER NOT NULL,
		primary_vehicle BOOLEAN NOT NULL,
		low_emission BOOLEAN NOT NULL,
		status TEXT NOT NULL,
		order_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_permits_customer
		ON permits(customer_id, status);

	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		order_type TEXT NOT NULL,
		status TEXT NOT NULL,
		permit_ids_json TEXT NOT NULL,
		previous_order_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_customer
		ON orders(customer_id);

	CREATE TABLE IF NOT EXISTS order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		permit_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		payment_unit_price TEXT NOT NULL,
		vat TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		position INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_order_items_permit
		ON order_items(permit_id, order_id, start_date);
	CREATE INDEX IF NOT EXISTS idx_order_items_order
		ON order_items(order_id, position);

	CREATE TABLE IF NOT EXISTS refunds (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL UNIQUE REFERENCES orders(id),
		amount TEXT NOT NULL,
		iban TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Databases created before renewals recorded their basis order.
	if err := s.addColumn("orders", "previous_order_id", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	_, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_orders_previous ON orders(previous_order_id, status)`)
	return err
}

func (s *Store) addColumn(table, column, definition string) error {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	if err != nil || n > 0 {
		return err
	}
	_, err = s.db.Exec("ALTER TABLE " + table + " ADD COLUMN " + column + " " + definition)
	return errors.Wrapf(err, "add column %s.%s", table, column)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store permits.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer sqlTx.Rollback()

	txStore := &Store{db: s.db, q: sqlTx, mu: s.mu, loc: s.loc, inTx: true}
	if err := fn(txStore); err != nil {
		return err
	}

	return sqlTx.Commit()
}

func (s *Store) rlock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// =============================================================================
// PRODUCT STORE (pricing.ProductCatalog)
// =============================================================================

const productColumns = `id, name, zone, product_type, start_date, end_date,
	unit_price, vat, low_emission_discount, secondary_vehicle_increase_rate`

// SaveProducts inserts or replaces products.
func (s *Store) SaveProducts(ctx context.Context, products []pricing.Product) error {
	if !s.inTx {
		return s.WithTx(ctx, func(tx permits.Store) error {
			return tx.SaveProducts(ctx, products)
		})
	}

	query := `
		INSERT INTO products (` + productColumns + `, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			zone = excluded.zone,
			product_type = excluded.product_type,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			unit_price = excluded.unit_price,
			vat = excluded.vat,
			low_emission_discount = excluded.low_emission_discount,
			secondary_vehicle_increase_rate = excluded.secondary_vehicle_increase_rate,
			updated_at = excluded.updated_at
	`

	now := formatTime(time.Now())
	for _, p := range products {
		_, err := s.q.ExecContext(ctx, query,
			p.ID, p.Name, p.Zone, p.Type, p.StartDate.String(), p.EndDate.String(),
			p.UnitPrice.String(), p.VAT.String(), p.LowEmissionDiscount.String(),
			p.SecondaryVehicleIncreaseRate.String(), now, now,
		)
		if err != nil {
			return errors.Wrapf(err, "save product %s", p.ID)
		}
	}
	return nil
}

// ProductsByZone returns all products of a zone ordered by start date.
func (s *Store) ProductsByZone(ctx context.Context, zone pricing.Zone) ([]pricing.Product, error) {
	defer s.rlock()()

	return s.queryProducts(ctx,
		`SELECT `+productColumns+` FROM products WHERE zone = ? ORDER BY start_date, id`, zone)
}

// ProductsForDateRange returns products of zone intersecting [start, end].
func (s *Store) ProductsForDateRange(ctx context.Context, zone pricing.Zone, start, end calendar.Date) ([]pricing.Product, error) {
	defer s.rlock()()

	return s.queryProducts(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE zone = ? AND start_date <= ? AND end_date >= ?
		ORDER BY start_date, id
	`, zone, end.String(), start.String())
}

func (s *Store) queryProducts(ctx context.Context, query string, args ...any) ([]pricing.Product, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query products")
	}
	defer rows.Close()

	var products []pricing.Product
	for rows.Next() {
		var p pricing.Product
		var start, end, unitPrice, vat, discount, increase string
		if err := rows.Scan(&p.ID, &p.Name, &p.Zone, &p.Type, &start, &end,
			&unitPrice, &vat, &discount, &increase); err != nil {
			return nil, err
		}

		var parseErr error
		p.StartDate = parseDate(start, &parseErr)
		p.EndDate = parseDate(end, &parseErr)
		p.UnitPrice = parseDecimal(unitPrice, &parseErr)
		p.VAT = parseDecimal(vat, &parseErr)
		p.LowEmissionDiscount = parseDecimal(discount, &parseErr)
		p.SecondaryVehicleIncreaseRate = parseDecimal(increase, &parseErr)
		if parseErr != nil {
			return nil, errors.Wrapf(parseErr, "product %s", p.ID)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// =============================================================================
// PERMIT STORE
// =============================================================================

const permitColumns = `id, customer_id, vehicle_id, zone, contract_type, start_time, end_time,
	month_count, primary_vehicle, low_emission, status, order_id`

// SavePermit inserts or replaces a permit.
func (s *Store) SavePermit(ctx context.Context, p *pricing.Permit) error {
	defer s.lock()()

	query := `
		INSERT INTO permits (` + permitColumns + `, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			customer_id = excluded.customer_id,
			vehicle_id = excluded.vehicle_id,
			zone = excluded.zone,
			contract_type = excluded.contract_type,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			month_count = excluded.month_count,
			primary_vehicle = excluded.primary_vehicle,
			low_emission = excluded.low_emission,
			status = excluded.status,
			order_id = excluded.order_id,
			updated_at = excluded.updated_at
	`

	var endTime sql.NullString
	if p.EndTime != nil {
		endTime = nullString(formatTime(*p.EndTime))
	}

	now := formatTime(time.Now())
	_, err := s.q.ExecContext(ctx, query,
		p.ID, p.CustomerID, p.VehicleID, p.Zone, p.ContractType,
		formatTime(p.StartTime), endTime, p.MonthCount, p.PrimaryVehicle, p.LowEmission,
		p.Status, nullString(string(p.OrderID)), now, now,
	)
	if err != nil {
		return errors.Wrapf(err, "save permit %s", p.ID)
	}
	return nil
}

// GetPermit retrieves a permit by ID.
func (s *Store) GetPermit(ctx context.Context, id pricing.PermitID) (*pricing.Permit, error) {
	defer s.rlock()()

	found, err := s.queryPermits(ctx, `SELECT `+permitColumns+` FROM permits WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, errors.Wrapf(permits.ErrNotFound, "permit %s", id)
	}
	return found[0], nil
}

// PermitsByCustomer returns the customer's permits in the given statuses,
// primary permit first.
func (s *Store) PermitsByCustomer(ctx context.Context, customerID pricing.CustomerID, statuses ...pricing.Status) ([]*pricing.Permit, error) {
	defer s.rlock()()

	query := `SELECT ` + permitColumns + ` FROM permits WHERE customer_id = ?`
	args := []any{customerID}
	if len(statuses) > 0 {
		query += ` AND status IN (` + placeholders(len(statuses)) + `)`
		args = append(args, lo.ToAnySlice(statuses)...)
	}
	query += ` ORDER BY primary_vehicle DESC, start_time, id`

	return s.queryPermits(ctx, query, args...)
}

// PermitsEndedBy returns VALID permits whose end time has passed at asOf.
// Times are stored as text, so the comparison happens after parsing.
func (s *Store) PermitsEndedBy(ctx context.Context, asOf time.Time) ([]*pricing.Permit, error) {
	defer s.rlock()()

	found, err := s.queryPermits(ctx, `SELECT `+permitColumns+` FROM permits
		WHERE status = ? AND end_time IS NOT NULL ORDER BY end_time, id`, pricing.StatusValid)
	if err != nil {
		return nil, err
	}
	return lo.Filter(found, func(p *pricing.Permit, _ int) bool { return !p.EndTime.After(asOf) }), nil
}

func (s *Store) queryPermits(ctx context.Context, query string, args ...any) ([]*pricing.Permit, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query permits")
	}
	defer rows.Close()

	var result []*pricing.Permit
	for rows.Next() {
		var p pricing.Permit
		var startTime string
		var endTime, orderID sql.NullString
		if err := rows.Scan(&p.ID, &p.CustomerID, &p.VehicleID, &p.Zone, &p.ContractType,
			&startTime, &endTime, &p.MonthCount, &p.PrimaryVehicle, &p.LowEmission,
			&p.Status, &orderID); err != nil {
			return nil, err
		}

		var parseErr error
		p.StartTime = s.parseTime(startTime, &parseErr)
		if endTime.Valid {
			end := s.parseTime(endTime.String, &parseErr)
			p.EndTime = &end
		}
		if parseErr != nil {
			return nil, errors.Wrapf(parseErr, "permit %s", p.ID)
		}
		p.OrderID = pricing.OrderID(orderID.String)
		result = append(result, &p)
	}
	return result, rows.Err()
}

// =============================================================================
// ORDER STORE
// =============================================================================

// SaveOrder inserts an order and its items atomically.
func (s *Store) SaveOrder(ctx context.Context, order *pricing.Order) error {
	if !s.inTx {
		return s.WithTx(ctx, func(tx permits.Store) error {
			return tx.SaveOrder(ctx, order)
		})
	}

	permitIDs, err := json.Marshal(order.PermitIDs)
	if err != nil {
		return errors.Wrap(err, "marshal permit ids")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, order_type, status, permit_ids_json, previous_order_id,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, order.ID, order.CustomerID, order.Type, order.Status, string(permitIDs), order.PreviousOrderID,
		formatTime(order.CreatedAt), formatTime(time.Now()))
	if err != nil {
		return errors.Wrapf(err, "save order %s", order.ID)
	}

	itemQuery := `
		INSERT INTO order_items (id, order_id, permit_id, product_id, unit_price, payment_unit_price,
			vat, quantity, start_date, end_date, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, item := range order.Items {
		_, err := s.q.ExecContext(ctx, itemQuery,
			item.ID, order.ID, item.PermitID, item.ProductID, item.UnitPrice.String(),
			item.PaymentUnitPrice.String(), item.VAT.String(), item.Quantity,
			item.StartDate.String(), item.EndDate.String(), i,
		)
		if err != nil {
			return errors.Wrapf(err, "save order item %s", item.ID)
		}
	}
	return nil
}

// GetOrder retrieves an order with its items.
func (s *Store) GetOrder(ctx context.Context, id pricing.OrderID) (*pricing.Order, error) {
	defer s.rlock()()

	var o pricing.Order
	var permitIDs, createdAt string
	err := s.q.QueryRowContext(ctx, `
		SELECT id, customer_id, order_type, status, permit_ids_json, previous_order_id, created_at
		FROM orders WHERE id = ?
	`, id).Scan(&o.ID, &o.CustomerID, &o.Type, &o.Status, &permitIDs, &o.PreviousOrderID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(permits.ErrNotFound, "order %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get order %s", id)
	}

	if err := json.Unmarshal([]byte(permitIDs), &o.PermitIDs); err != nil {
		return nil, errors.Wrapf(err, "order %s permit ids", id)
	}
	var parseErr error
	o.CreatedAt = s.parseTime(createdAt, &parseErr)
	if parseErr != nil {
		return nil, errors.Wrapf(parseErr, "order %s", id)
	}

	o.Items, err = s.queryItems(ctx, `
		SELECT `+itemColumns+` FROM order_items WHERE order_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// UpdateOrderStatus sets the status of an existing order.
func (s *Store) UpdateOrderStatus(ctx context.Context, id pricing.OrderID, status pricing.OrderStatus) error {
	defer s.lock()()

	res, err := s.q.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
		status, formatTime(time.Now()), id)
	if err != nil {
		return errors.Wrapf(err, "update order %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(permits.ErrNotFound, "order %s", id)
	}
	return nil
}

// DraftRenewals returns the unpaid renewal orders that cover the permit.
func (s *Store) DraftRenewals(ctx context.Context, permitID pricing.PermitID) ([]pricing.OrderID, error) {
	defer s.rlock()()

	rows, err := s.q.QueryContext(ctx, `
		SELECT o.id
		FROM orders o, json_each(o.permit_ids_json) p
		WHERE p.value = ? AND o.status = ? AND o.previous_order_id != ''
		ORDER BY o.created_at, o.id
	`, permitID, pricing.OrderDraft)
	if err != nil {
		return nil, errors.Wrapf(err, "draft renewals of permit %s", permitID)
	}
	defer rows.Close()

	var ids []pricing.OrderID
	for rows.Next() {
		var id pricing.OrderID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =============================================================================
// ORDER ITEMS (pricing.OrderItemSource)
// =============================================================================

const itemColumns = `id, order_id, permit_id, product_id, unit_price, payment_unit_price,
	vat, quantity, start_date, end_date`

// OrderItemsForPermit returns the items of the permit's current order when
// that order is confirmed, ordered by start date.
func (s *Store) OrderItemsForPermit(ctx context.Context, permitID pricing.PermitID) ([]pricing.OrderItem, error) {
	defer s.rlock()()

	return s.queryItems(ctx, `
		SELECT oi.id, oi.order_id, oi.permit_id, oi.product_id, oi.unit_price, oi.payment_unit_price,
		       oi.vat, oi.quantity, oi.start_date, oi.end_date
		FROM order_items oi
		JOIN permits p ON p.id = oi.permit_id AND p.order_id = oi.order_id
		JOIN orders o ON o.id = oi.order_id
		WHERE oi.permit_id = ? AND o.status = ?
		ORDER BY oi.start_date, oi.position
	`, permitID, pricing.OrderConfirmed)
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]pricing.OrderItem, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query order items")
	}
	defer rows.Close()

	items := []pricing.OrderItem{}
	for rows.Next() {
		var item pricing.OrderItem
		var unitPrice, paymentUnitPrice, vat, start, end string
		if err := rows.Scan(&item.ID, &item.OrderID, &item.PermitID, &item.ProductID,
			&unitPrice, &paymentUnitPrice, &vat, &item.Quantity, &start, &end); err != nil {
			return nil, err
		}

		var parseErr error
		item.UnitPrice = parseDecimal(unitPrice, &parseErr)
		item.PaymentUnitPrice = parseDecimal(paymentUnitPrice, &parseErr)
		item.VAT = parseDecimal(vat, &parseErr)
		item.StartDate = parseDate(start, &parseErr)
		item.EndDate = parseDate(end, &parseErr)
		if parseErr != nil {
			return nil, errors.Wrapf(parseErr, "order item %s", item.ID)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// =============================================================================
// REFUND STORE
// =============================================================================

// SaveRefund inserts a refund. Fails with permits.ErrRefundExists when the
// order already has one.
func (s *Store) SaveRefund(ctx context.Context, r pricing.Refund) error {
	defer s.lock()()

	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO refunds (id, order_id, amount, iban, status, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.OrderID, r.Amount.String(), r.IBAN, r.Status, r.Description, formatTime(r.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.Wrapf(permits.ErrRefundExists, "order %s", r.OrderID)
		}
		return errors.Wrapf(err, "save refund %s", r.ID)
	}
	return nil
}

// RefundExists reports whether the order has a refund.
func (s *Store) RefundExists(ctx context.Context, orderID pricing.OrderID) (bool, error) {
	defer s.rlock()()

	var count int
	err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM refunds WHERE order_id = ?", orderID,
	).Scan(&count)
	return count > 0, err
}

// RefundsByOrder returns the refunds of an order.
func (s *Store) RefundsByOrder(ctx context.Context, orderID pricing.OrderID) ([]pricing.Refund, error) {
	defer s.rlock()()

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, order_id, amount, iban, status, description, created_at
		FROM refunds WHERE order_id = ? ORDER BY created_at
	`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "query refunds")
	}
	defer rows.Close()

	var refunds []pricing.Refund
	for rows.Next() {
		var r pricing.Refund
		var amount, createdAt string
		if err := rows.Scan(&r.ID, &r.OrderID, &amount, &r.IBAN, &r.Status, &r.Description, &createdAt); err != nil {
			return nil, err
		}
		var parseErr error
		r.Amount = parseDecimal(amount, &parseErr)
		r.CreatedAt = s.parseTime(createdAt, &parseErr)
		if parseErr != nil {
			return nil, errors.Wrapf(parseErr, "refund %s", r.ID)
		}
		refunds = append(refunds, r)
	}
	return refunds, rows.Err()
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears all data. Useful for tests and demos.
func (s *Store) Reset(ctx context.Context) error {
	defer s.lock()()

	for _, table := range []string{"refunds", "order_items", "orders", "permits", "products"} {
		if _, err := s.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return errors.Wrapf(err, "clear %s", table)
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *Store) parseTime(value string, errp *error) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil && *errp == nil {
		*errp = err
	}
	return t.In(s.loc)
}

func parseDate(value string, errp *error) calendar.Date {
	d, err := calendar.ParseDate(value)
	if err != nil && *errp == nil {
		*errp = err
	}
	return d
}

func parseDecimal(value string, errp *error) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil && *errp == nil {
		*errp = errors.Wrapf(err, "parse decimal %q", value)
	}
	return d
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
