package order

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Ledger exposes order mutations reserved for the dispute lifecycle. Every
// call runs on the caller's transaction so a failure rolls back together
// with the dispute change that triggered it.
type Ledger struct {
	repo Repository
}

func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo}
}

// GetForUpdate locks and returns the order.
func (l *Ledger) GetForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (Order, error) {
	return l.repo.GetForUpdate(ctx, tx, orderID)
}

// PaymentForOrder returns the payment that settled the order, including one
// already refunded.
func (l *Ledger) PaymentForOrder(ctx context.Context, tx pgx.Tx, orderID string) (Payment, error) {
	return l.repo.SuccessfulPayment(ctx, tx, orderID)
}

// MarkDisputed freezes a paid or fulfilled order while a dispute is open.
func (l *Ledger) MarkDisputed(ctx context.Context, tx pgx.Tx, orderID string) (Order, error) {
	return l.repo.TransitionStatus(ctx, tx, orderID, []Status{StatusPaid, StatusFulfilled}, StatusDisputed)
}

// RestoreStatus returns a disputed order to the status it had before the dispute.
func (l *Ledger) RestoreStatus(ctx context.Context, tx pgx.Tx, orderID string, status Status) (Order, error) {
	if status != StatusPaid && status != StatusFulfilled {
		return Order{}, fmt.Errorf("%w: cannot restore to %s", ErrInvalidTransition, status)
	}
	return l.repo.TransitionStatus(ctx, tx, orderID, []Status{StatusDisputed}, status)
}

// MarkRefunded records a refund of amount against the order's successful
// payment and moves the order to refunded. amount must lie in (0, total].
func (l *Ledger) MarkRefunded(ctx context.Context, tx pgx.Tx, orderID string, amount decimal.Decimal, reason string) (Order, error) {
	o, err := l.repo.GetForUpdate(ctx, tx, orderID)
	if err != nil {
		return Order{}, err
	}
	if o.Status != StatusDisputed {
		return Order{}, fmt.Errorf("%w: refund requires a disputed order, got %s", ErrInvalidTransition, o.Status)
	}
	if !amount.IsPositive() {
		return Order{}, fmt.Errorf("%w: refund amount must be positive", ErrInvalidInput)
	}
	if amount.GreaterThan(o.Total) {
		return Order{}, fmt.Errorf("%w: %s > %s", ErrRefundExceedsTotal, amount.StringFixed(2), o.Total.StringFixed(2))
	}

	payment, err := l.repo.SuccessfulPayment(ctx, tx, orderID)
	if err != nil {
		return Order{}, err
	}
	if payment.Status != PaymentSuccessful {
		return Order{}, fmt.Errorf("%w: payment %s is %s", ErrInvalidTransition, payment.Reference, payment.Status)
	}
	if _, err := l.repo.RefundPayment(ctx, tx, payment.ID, amount, reason); err != nil {
		return Order{}, err
	}
	return l.repo.TransitionStatus(ctx, tx, orderID, []Status{StatusDisputed}, StatusRefunded)
}
