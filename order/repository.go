package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"craftmart/db"
)

var (
	ErrNotFound        = errors.New("order: not found")
	ErrPaymentNotFound = errors.New("order: payment not found")
	// ErrDuplicateReference is returned when a concurrent delivery inserted the same reference first.
	ErrDuplicateReference = errors.New("order: duplicate payment reference")
	ErrInvalidTransition  = errors.New("order: invalid status transition")
)

// Repository is the persistence boundary of the order ledger. Every write
// runs on the caller's transaction.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, o Order) (Order, error)
	Get(ctx context.Context, id string) (Order, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Order, error)
	TransitionStatus(ctx context.Context, tx pgx.Tx, id string, from []Status, to Status) (Order, error)
	PaymentByReference(ctx context.Context, tx pgx.Tx, reference string) (Payment, error)
	InsertPayment(ctx context.Context, tx pgx.Tx, p Payment) (Payment, error)
	UpdatePaymentStatus(ctx context.Context, tx pgx.Tx, id string, status PaymentStatus, gatewayResponse json.RawMessage) (Payment, error)
	SuccessfulPayment(ctx context.Context, tx pgx.Tx, orderID string) (Payment, error)
	SettledPayment(ctx context.Context, orderID string) (Payment, error)
	RefundPayment(ctx context.Context, tx pgx.Tx, paymentID string, amount decimal.Decimal, reason string) (Payment, error)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const orderColumns = `id, customer_id, vendor_id, item_count, subtotal, discount_percentage,
	discount_type, discount_reason, discount_amount, shipping_fee, total, status, paid_at,
	created_at, updated_at`

const paymentColumns = `id, order_id, reference, amount, status, gateway_response,
	refunded_amount, refunded_at, refund_reason, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.CustomerID, &o.VendorID, &o.ItemCount, &o.Subtotal,
		&o.Discount.Percentage, &o.Discount.Type, &o.Discount.Reason, &o.Discount.DiscountAmount,
		&o.ShippingFee, &o.Total, &o.Status, &o.PaidAt, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func scanPayment(row pgx.Row) (Payment, error) {
	var (
		p        Payment
		gateway  []byte
		refunded decimal.NullDecimal
	)
	err := row.Scan(&p.ID, &p.OrderID, &p.Reference, &p.Amount, &p.Status, &gateway,
		&refunded, &p.RefundedAt, &p.RefundReason, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Payment{}, err
	}
	if len(gateway) > 0 {
		p.GatewayResponse = json.RawMessage(gateway)
	}
	if refunded.Valid {
		amount := refunded.Decimal
		p.RefundedAmount = &amount
	}
	return p, nil
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, o Order) (Order, error) {
	const insertOrder = `
INSERT INTO orders (customer_id, vendor_id, item_count, subtotal, discount_percentage,
	discount_type, discount_reason, discount_amount, shipping_fee, total, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending')
RETURNING ` + orderColumns

	created, err := scanOrder(tx.QueryRow(ctx, insertOrder,
		o.CustomerID, o.VendorID, o.ItemCount, o.Subtotal, o.Discount.Percentage,
		o.Discount.Type, o.Discount.Reason, o.Discount.DiscountAmount, o.ShippingFee, o.Total))
	if err != nil {
		return Order{}, fmt.Errorf("order: insert: %w", err)
	}

	const insertItem = `
INSERT INTO order_items (order_id, position, product_id, quantity, unit_price, line_total)
VALUES ($1, $2, $3, $4, $5, $6)`
	for i, item := range o.Items {
		if _, err := tx.Exec(ctx, insertItem, created.ID, i, item.ProductID, item.Quantity, item.UnitPrice, item.LineTotal); err != nil {
			return Order{}, fmt.Errorf("order: insert item: %w", err)
		}
	}
	created.Items = o.Items
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Order, error) {
	return r.load(ctx, r.pool, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Order, error) {
	return r.load(ctx, tx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *PGRepository) load(ctx context.Context, q querier, query, id string) (Order, error) {
	o, err := scanOrder(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("order: get: %w", err)
	}
	if o.Items, err = r.items(ctx, q, o.ID); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (r *PGRepository) items(ctx context.Context, q querier, orderID string) ([]LineItem, error) {
	rows, err := q.Query(ctx, `
SELECT product_id, quantity, unit_price, line_total
FROM order_items
WHERE order_id = $1
ORDER BY position`, orderID)
	if err != nil {
		return nil, fmt.Errorf("order: items: %w", err)
	}
	defer rows.Close()

	items := make([]LineItem, 0, 4)
	for rows.Next() {
		var item LineItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return nil, fmt.Errorf("order: scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: iterate items: %w", err)
	}
	return items, nil
}

// TransitionStatus moves the order to `to` only when its current status is
// one of `from`. paid_at is stamped on the transition into paid.
func (r *PGRepository) TransitionStatus(ctx context.Context, tx pgx.Tx, id string, from []Status, to Status) (Order, error) {
	const query = `
UPDATE orders
SET status = $2,
    paid_at = CASE WHEN $2 = 'paid' AND paid_at IS NULL THEN now() ELSE paid_at END,
    updated_at = now()
WHERE id = $1 AND status = ANY($3)
RETURNING ` + orderColumns

	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	o, err := scanOrder(tx.QueryRow(ctx, query, id, string(to), allowed))
	if err == nil {
		if o.Items, err = r.items(ctx, tx, o.ID); err != nil {
			return Order{}, err
		}
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("order: transition: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return Order{}, fmt.Errorf("order: transition check: %w", err)
	}
	if !exists {
		return Order{}, ErrNotFound
	}
	return Order{}, ErrInvalidTransition
}

func (r *PGRepository) PaymentByReference(ctx context.Context, tx pgx.Tx, reference string) (Payment, error) {
	p, err := scanPayment(tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE reference = $1 FOR UPDATE`, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, fmt.Errorf("order: payment by reference: %w", err)
	}
	return p, nil
}

func (r *PGRepository) InsertPayment(ctx context.Context, tx pgx.Tx, p Payment) (Payment, error) {
	const query = `
INSERT INTO payments (order_id, reference, amount, status, gateway_response)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + paymentColumns

	var gateway any
	if len(p.GatewayResponse) > 0 {
		gateway = []byte(p.GatewayResponse)
	}
	created, err := scanPayment(tx.QueryRow(ctx, query, p.OrderID, p.Reference, p.Amount, string(p.Status), gateway))
	if err != nil {
		if db.IsUniqueViolation(err, "payments_reference_key") {
			return Payment{}, ErrDuplicateReference
		}
		return Payment{}, fmt.Errorf("order: insert payment: %w", err)
	}
	return created, nil
}

func (r *PGRepository) UpdatePaymentStatus(ctx context.Context, tx pgx.Tx, id string, status PaymentStatus, gatewayResponse json.RawMessage) (Payment, error) {
	const query = `
UPDATE payments
SET status = $2,
    gateway_response = COALESCE($3, gateway_response),
    updated_at = now()
WHERE id = $1
RETURNING ` + paymentColumns

	var gateway any
	if len(gatewayResponse) > 0 {
		gateway = []byte(gatewayResponse)
	}
	p, err := scanPayment(tx.QueryRow(ctx, query, id, string(status), gateway))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, fmt.Errorf("order: update payment: %w", err)
	}
	return p, nil
}

// SuccessfulPayment locks the payment that settled the order.
func (r *PGRepository) SuccessfulPayment(ctx context.Context, tx pgx.Tx, orderID string) (Payment, error) {
	return r.settledPayment(ctx, tx, orderID, " FOR UPDATE")
}

// SettledPayment reads the payment that settled the order without locking.
func (r *PGRepository) SettledPayment(ctx context.Context, orderID string) (Payment, error) {
	return r.settledPayment(ctx, r.pool, orderID, "")
}

func (r *PGRepository) settledPayment(ctx context.Context, q querier, orderID, suffix string) (Payment, error) {
	query := `
SELECT ` + paymentColumns + `
FROM payments
WHERE order_id = $1 AND status IN ('successful', 'refunded')
ORDER BY created_at
LIMIT 1` + suffix

	p, err := scanPayment(q.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, fmt.Errorf("order: settled payment: %w", err)
	}
	return p, nil
}

func (r *PGRepository) RefundPayment(ctx context.Context, tx pgx.Tx, paymentID string, amount decimal.Decimal, reason string) (Payment, error) {
	const query = `
UPDATE payments
SET status = 'refunded',
    refunded_amount = $2,
    refunded_at = now(),
    refund_reason = $3,
    updated_at = now()
WHERE id = $1 AND status = 'successful'
RETURNING ` + paymentColumns

	p, err := scanPayment(tx.QueryRow(ctx, query, paymentID, amount, reason))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, ErrPaymentNotFound
		}
		return Payment{}, fmt.Errorf("order: refund payment: %w", err)
	}
	return p, nil
}
