// Package ordertest provides an in-memory order.Repository whose writes are
// undone when a fakes.Tx rolls back.
package ordertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"craftmart/order"
	"craftmart/test/fakes"
)

type MemRepository struct {
	mu       sync.Mutex
	orders   map[string]order.Order
	payments map[string]order.Payment
	byRef    map[string]string

	// SimulateReferenceRace makes the next InsertPayment behave as if a
	// concurrent delivery committed the same payment first.
	SimulateReferenceRace bool
	// RefundErr is returned by RefundPayment when set.
	RefundErr error
}

func NewMemRepository() *MemRepository {
	return &MemRepository{
		orders:   make(map[string]order.Order),
		payments: make(map[string]order.Payment),
		byRef:    make(map[string]string),
	}
}

// Seed stores o as committed state, assigning an id when empty.
func (m *MemRepository) Seed(o order.Order) order.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
		o.UpdatedAt = o.CreatedAt
	}
	m.orders[o.ID] = o
	return o
}

// SeedPayment stores p as committed state.
func (m *MemRepository) SeedPayment(p order.Payment) order.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	m.payments[p.ID] = p
	m.byRef[p.Reference] = p.ID
	return p
}

// Order returns the current state of an order.
func (m *MemRepository) Order(id string) (order.Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	return o, ok
}

// PaymentByRef returns the current state of a payment.
func (m *MemRepository) PaymentByRef(reference string) (order.Payment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byRef[reference]
	if !ok {
		return order.Payment{}, false
	}
	return m.payments[id], true
}

// PaymentCount returns the number of stored payments.
func (m *MemRepository) PaymentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments)
}

func (m *MemRepository) putOrder(tx pgx.Tx, o order.Order) {
	prev, existed := m.orders[o.ID]
	m.orders[o.ID] = o
	fakes.Undo(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existed {
			m.orders[o.ID] = prev
		} else {
			delete(m.orders, o.ID)
		}
	})
}

func (m *MemRepository) putPayment(tx pgx.Tx, p order.Payment) {
	prev, existed := m.payments[p.ID]
	m.payments[p.ID] = p
	m.byRef[p.Reference] = p.ID
	fakes.Undo(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existed {
			m.payments[p.ID] = prev
		} else {
			delete(m.payments, p.ID)
			delete(m.byRef, p.Reference)
		}
	})
}

func (m *MemRepository) Insert(_ context.Context, tx pgx.Tx, o order.Order) (order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = uuid.NewString()
	o.Status = order.StatusPending
	o.CreatedAt = time.Now().UTC()
	o.UpdatedAt = o.CreatedAt
	m.putOrder(tx, o)
	return o, nil
}

func (m *MemRepository) Get(_ context.Context, id string) (order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	return o, nil
}

func (m *MemRepository) GetForUpdate(ctx context.Context, _ pgx.Tx, id string) (order.Order, error) {
	return m.Get(ctx, id)
}

func (m *MemRepository) TransitionStatus(_ context.Context, tx pgx.Tx, id string, from []order.Status, to order.Status) (order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return order.Order{}, order.ErrNotFound
	}
	allowed := false
	for _, s := range from {
		if o.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return order.Order{}, order.ErrInvalidTransition
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	if to == order.StatusPaid && o.PaidAt == nil {
		paidAt := o.UpdatedAt
		o.PaidAt = &paidAt
	}
	m.putOrder(tx, o)
	return o, nil
}

func (m *MemRepository) PaymentByReference(_ context.Context, _ pgx.Tx, reference string) (order.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byRef[reference]
	if !ok {
		return order.Payment{}, order.ErrPaymentNotFound
	}
	return m.payments[id], nil
}

func (m *MemRepository) InsertPayment(_ context.Context, tx pgx.Tx, p order.Payment) (order.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.byRef[p.Reference]; dup {
		return order.Payment{}, order.ErrDuplicateReference
	}
	p.ID = uuid.NewString()
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	if m.SimulateReferenceRace {
		m.SimulateReferenceRace = false
		// The competing delivery commits outside tx.
		m.payments[p.ID] = p
		m.byRef[p.Reference] = p.ID
		return order.Payment{}, order.ErrDuplicateReference
	}
	m.putPayment(tx, p)
	return p, nil
}

func (m *MemRepository) UpdatePaymentStatus(_ context.Context, tx pgx.Tx, id string, status order.PaymentStatus, gatewayResponse json.RawMessage) (order.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return order.Payment{}, order.ErrPaymentNotFound
	}
	p.Status = status
	if len(gatewayResponse) > 0 {
		p.GatewayResponse = gatewayResponse
	}
	p.UpdatedAt = time.Now().UTC()
	m.putPayment(tx, p)
	return p, nil
}

func (m *MemRepository) SuccessfulPayment(_ context.Context, _ pgx.Tx, orderID string) (order.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.OrderID == orderID && (p.Status == order.PaymentSuccessful || p.Status == order.PaymentRefunded) {
			return p, nil
		}
	}
	return order.Payment{}, order.ErrPaymentNotFound
}

func (m *MemRepository) SettledPayment(ctx context.Context, orderID string) (order.Payment, error) {
	return m.SuccessfulPayment(ctx, nil, orderID)
}

func (m *MemRepository) RefundPayment(_ context.Context, tx pgx.Tx, paymentID string, amount decimal.Decimal, reason string) (order.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RefundErr != nil {
		return order.Payment{}, fmt.Errorf("ordertest: refund: %w", m.RefundErr)
	}
	p, ok := m.payments[paymentID]
	if !ok || p.Status != order.PaymentSuccessful {
		return order.Payment{}, order.ErrPaymentNotFound
	}
	now := time.Now().UTC()
	p.Status = order.PaymentRefunded
	p.RefundedAmount = &amount
	p.RefundedAt = &now
	p.RefundReason = &reason
	p.UpdatedAt = now
	m.putPayment(tx, p)
	return p, nil
}

// PaidOrder seeds a paid order with a successful payment of its total.
func (m *MemRepository) PaidOrder(customerID, vendorID string, total decimal.Decimal, status order.Status) (order.Order, order.Payment) {
	paidAt := time.Now().UTC()
	o := m.Seed(order.Order{
		CustomerID: customerID,
		VendorID:   vendorID,
		ItemCount:  1,
		Subtotal:   total,
		Discount:   order.Discount{Type: "none", DiscountAmount: decimal.Zero},
		Total:      total,
		Status:     status,
		PaidAt:     &paidAt,
	})
	p := m.SeedPayment(order.Payment{
		OrderID:   o.ID,
		Reference: "pay-" + o.ID,
		Amount:    total,
		Status:    order.PaymentSuccessful,
	})
	return o, p
}
