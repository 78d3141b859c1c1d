package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

// MySQL server error numbers that mean "retry the transaction".
const (
	errDuplicateEntry   = 1062
	errLockWaitTimeout  = 1205
	errDeadlockDetected = 1213
)

const openCustomerIndex = "uniq_orders_open_customer"

const (
	productColumns  = `id, name, price, promo_price, on_promotion, stock, min_stock, version, updated_at`
	orderColumns    = `id, sequence_number, source, customer_id, customer_name, customer_email, customer_phone, address_id, subtotal, tax, shipping, total, fulfillment_status, payment_status, payment_reference, created_at, updated_at`
	lineColumns     = `id, order_id, product_id, product_name, quantity, unit_price, subtotal, on_promotion, regular_price, promo_price, discount_percent`
	addressColumns  = `id, customer_id, recipient, line1, line2, city, state, postal_code, country, phone, manual, created_at`
	movementColumns = `id, product_id, direction, quantity, reason, actor_id, order_id, created_at`
)

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (m *MySQLAdapter) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx port.Transaction) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", mapMySQLError(err))
	}
	defer tx.Rollback()

	if err := fn(ctx, &mysqlTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", mapMySQLError(err))
	}
	return nil
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, orderID string) (*domain.OrderView, error) {
	order, err := getOrder(ctx, m.db, orderID, false)
	if err != nil {
		return nil, err
	}

	view := &domain.OrderView{Order: *order}
	addr, err := getAddress(ctx, m.db, order.AddressID)
	switch {
	case errors.Is(err, port.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		view.Address = addr
	}
	return view, nil
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return getProduct(ctx, m.db, productID, false)
}

func (m *MySQLAdapter) ListLowStock(ctx context.Context) ([]domain.Product, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products WHERE stock <= min_stock
		ORDER BY stock, id`)
	if err != nil {
		return nil, fmt.Errorf("query low stock: %w", err)
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (m *MySQLAdapter) ListMovements(ctx context.Context, productID string, limit int) ([]domain.InventoryMovement, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+movementColumns+`
		FROM inventory_movements WHERE product_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("query movements: %w", err)
	}
	defer rows.Close()

	var out []domain.InventoryMovement
	for rows.Next() {
		var (
			mv      domain.InventoryMovement
			dir     string
			orderID sql.NullString
		)
		if err := rows.Scan(&mv.ID, &mv.ProductID, &dir, &mv.Quantity, &mv.Reason, &mv.ActorID, &orderID, &mv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		mv.Direction = domain.MovementDirection(dir)
		mv.OrderID = orderID.String
		out = append(out, mv)
	}
	return out, rows.Err()
}

type mysqlTx struct {
	q queryer
}

func (t *mysqlTx) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return getProduct(ctx, t.q, productID, true)
}

func (t *mysqlTx) DecrementStock(ctx context.Context, productID string, quantity int) (bool, error) {
	result, err := t.q.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - ?, version = version + 1, updated_at = ?
		WHERE id = ? AND stock >= ?`,
		quantity, time.Now().UTC(), productID, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", mapMySQLError(err))
	}

	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (t *mysqlTx) IncrementStock(ctx context.Context, productID string, quantity int) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + ?, version = version + 1, updated_at = ?
		WHERE id = ?`,
		quantity, time.Now().UTC(), productID,
	)
	if err != nil {
		return fmt.Errorf("increment stock: %w", mapMySQLError(err))
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrNotFound
	}
	return nil
}

func (t *mysqlTx) SetStock(ctx context.Context, productID string, quantity, expectedVersion int) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE products
		SET stock = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		quantity, time.Now().UTC(), productID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("set stock: %w", mapMySQLError(err))
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("%w: product %s version changed", port.ErrConflict, productID)
	}
	return nil
}

func (t *mysqlTx) AppendMovement(ctx context.Context, mv domain.InventoryMovement) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO inventory_movements (`+movementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		mv.ID, mv.ProductID, string(mv.Direction), mv.Quantity, mv.Reason, mv.ActorID, nullString(mv.OrderID), mv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert movement: %w", mapMySQLError(err))
	}
	return nil
}

func (t *mysqlTx) GetAddress(ctx context.Context, addressID string) (*domain.Address, error) {
	return getAddress(ctx, t.q, addressID)
}

func (t *mysqlTx) InsertAddress(ctx context.Context, a domain.Address) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO addresses (`+addressColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, nullString(a.CustomerID), a.Recipient, a.Line1, a.Line2, a.City, a.State,
		a.PostalCode, a.Country, a.Phone, a.Manual, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert address: %w", mapMySQLError(err))
	}
	return nil
}

func (t *mysqlTx) FindOpenOrder(ctx context.Context, customerID string, since time.Time) (*domain.Order, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE customer_id = ? AND fulfillment_status = ? AND payment_status = ? AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE`,
		customerID, string(domain.FulfillmentPending), string(domain.PaymentPending), since,
	)
	order, err := scanOrder(row)
	if errors.Is(err, port.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, mapMySQLError(err)
	}
	return order, nil
}

// ExpireOpenOrders only touches online orders; staff-entered sales are
// outside the pending window.
func (t *mysqlTx) ExpireOpenOrders(ctx context.Context, customerID string, cutoff, now time.Time) ([]string, error) {
	query := `SELECT id FROM orders WHERE source = ? AND fulfillment_status = ? AND payment_status = ? AND created_at < ?`
	args := []any{string(domain.OrderSourceOnline), string(domain.FulfillmentPending), string(domain.PaymentPending), cutoff}
	if customerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, customerID)
	}

	rows, err := t.q.QueryContext(ctx, query+` ORDER BY id FOR UPDATE`, args...)
	if err != nil {
		return nil, fmt.Errorf("select stale orders: %w", mapMySQLError(err))
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stale order: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	update := []any{string(domain.FulfillmentCancelled), string(domain.PaymentFailed), now}
	for _, id := range ids {
		update = append(update, id)
	}
	_, err = t.q.ExecContext(ctx, `
		UPDATE orders
		SET fulfillment_status = ?, payment_status = ?, open_customer_key = NULL, updated_at = ?
		WHERE id IN (`+placeholders(len(ids))+`)`,
		update...,
	)
	if err != nil {
		return nil, fmt.Errorf("expire orders: %w", mapMySQLError(err))
	}
	return ids, nil
}

// NextSequence reads the highest numeric suffix. Two transactions can read
// the same value; the unique index on sequence_number turns the loser into
// a conflict that the caller retries.
func (t *mysqlTx) NextSequence(ctx context.Context) (int64, error) {
	var next int64
	err := t.q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(CAST(SUBSTRING(sequence_number, ?) AS UNSIGNED)), 0) + 1
		FROM orders`,
		len("ORD-")+1,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", mapMySQLError(err))
	}
	return next, nil
}

func (t *mysqlTx) InsertOrder(ctx context.Context, o domain.Order) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`, open_customer_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.SequenceNumber, string(o.Source), nullString(o.CustomerID), o.CustomerName, o.CustomerEmail,
		o.CustomerPhone, o.AddressID, o.Subtotal, o.Tax, o.Shipping, o.Total,
		string(o.FulfillmentStatus), string(o.PaymentStatus), o.PaymentReference, o.CreatedAt, o.UpdatedAt,
		nullString(openCustomerKey(o)),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", mapMySQLError(err))
	}

	for _, l := range o.Lines {
		promo := l.Promotion
		var promoPrice any
		if promo.OnPromotion {
			promoPrice = promo.PromoPrice
		}
		_, err := t.q.ExecContext(ctx, `
			INSERT INTO order_lines (`+lineColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, o.ID, l.ProductID, l.ProductName, l.Quantity, l.UnitPrice, l.Subtotal,
			promo.OnPromotion, promo.RegularPrice, promoPrice, promo.DiscountPercent,
		)
		if err != nil {
			return fmt.Errorf("insert order line: %w", mapMySQLError(err))
		}
	}
	return nil
}

func (t *mysqlTx) UpdateOrderTotals(ctx context.Context, o domain.Order) error {
	_, err := t.q.ExecContext(ctx, `
		UPDATE orders
		SET subtotal = ?, tax = ?, shipping = ?, total = ?, updated_at = ?
		WHERE id = ?`,
		o.Subtotal, o.Tax, o.Shipping, o.Total, o.UpdatedAt, o.ID,
	)
	if err != nil {
		return fmt.Errorf("update totals: %w", mapMySQLError(err))
	}
	return nil
}

func (t *mysqlTx) GetOrderForUpdate(ctx context.Context, orderID string) (*domain.Order, error) {
	return getOrder(ctx, t.q, orderID, true)
}

func (t *mysqlTx) UpdateOrderStatus(ctx context.Context, o domain.Order) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE orders
		SET fulfillment_status = ?, payment_status = ?, payment_reference = ?, open_customer_key = ?, updated_at = ?
		WHERE id = ?`,
		string(o.FulfillmentStatus), string(o.PaymentStatus), o.PaymentReference,
		nullString(openCustomerKey(o)), o.UpdatedAt, o.ID,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", mapMySQLError(err))
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return port.ErrNotFound
	}
	return nil
}

func getProduct(ctx context.Context, q queryer, productID string, forUpdate bool) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanProduct(q.QueryRowContext(ctx, query, productID))
	if err != nil {
		return nil, mapMySQLError(err)
	}
	return p, nil
}

func getAddress(ctx context.Context, q queryer, addressID string) (*domain.Address, error) {
	var (
		a          domain.Address
		customerID sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT `+addressColumns+` FROM addresses WHERE id = ?`, addressID,
	).Scan(&a.ID, &customerID, &a.Recipient, &a.Line1, &a.Line2, &a.City, &a.State,
		&a.PostalCode, &a.Country, &a.Phone, &a.Manual, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query address: %w", mapMySQLError(err))
	}
	a.CustomerID = customerID.String
	return &a, nil
}

func getOrder(ctx context.Context, q queryer, orderID string, forUpdate bool) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	order, err := scanOrder(q.QueryRowContext(ctx, query, orderID))
	if err != nil {
		return nil, mapMySQLError(err)
	}

	rows, err := q.QueryContext(ctx, `
		SELECT `+lineColumns+` FROM order_lines WHERE order_id = ? ORDER BY product_name, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", mapMySQLError(err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			l          domain.OrderLine
			promoPrice decimal.NullDecimal
		)
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.ProductName, &l.Quantity, &l.UnitPrice,
			&l.Subtotal, &l.Promotion.OnPromotion, &l.Promotion.RegularPrice, &promoPrice,
			&l.Promotion.DiscountPercent); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		l.Promotion.PromoPrice = promoPrice.Decimal
		order.Lines = append(order.Lines, l)
	}
	return order, rows.Err()
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.PromoPrice, &p.OnPromotion, &p.Stock, &p.MinStock, &p.Version, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan product: %w", err)
	}
	return &p, nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                            domain.Order
		source, fulfillment, payment string
		customerID                   sql.NullString
	)
	err := row.Scan(&o.ID, &o.SequenceNumber, &source, &customerID, &o.CustomerName, &o.CustomerEmail,
		&o.CustomerPhone, &o.AddressID, &o.Subtotal, &o.Tax, &o.Shipping, &o.Total,
		&fulfillment, &payment, &o.PaymentReference, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.Source = domain.OrderSource(source)
	o.CustomerID = customerID.String
	o.FulfillmentStatus = domain.FulfillmentStatus(fulfillment)
	o.PaymentStatus = domain.PaymentStatus(payment)
	return &o, nil
}

// mapMySQLError translates server errors the service layer retries on into
// port sentinels. Anything else passes through unchanged.
func mapMySQLError(err error) error {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return err
	}
	switch myErr.Number {
	case errDuplicateEntry:
		if strings.Contains(myErr.Message, openCustomerIndex) {
			return port.ErrOpenOrderExists
		}
		return fmt.Errorf("%w: %s", port.ErrConflict, myErr.Message)
	case errDeadlockDetected, errLockWaitTimeout:
		return fmt.Errorf("%w: %s", port.ErrConflict, myErr.Message)
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
