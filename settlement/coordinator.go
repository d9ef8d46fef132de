// Package settlement turns a dispute decision into ledger changes and a
// refund instruction, inside the transaction that resolves the dispute.
package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"craftmart/order"
	"craftmart/outbox"
)

var ErrInvalidDecision = errors.New("settlement: invalid decision")

// Ledger is the subset of order.Ledger used to settle.
type Ledger interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, orderID string) (order.Order, error)
	PaymentForOrder(ctx context.Context, tx pgx.Tx, orderID string) (order.Payment, error)
	MarkRefunded(ctx context.Context, tx pgx.Tx, orderID string, amount decimal.Decimal, reason string) (order.Order, error)
	RestoreStatus(ctx context.Context, tx pgx.Tx, orderID string, status order.Status) (order.Order, error)
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type Coordinator struct {
	ledger Ledger
	store  Store
	outbox OutboxWriter
}

func NewCoordinator(ledger Ledger, store Store, ob OutboxWriter) *Coordinator {
	return &Coordinator{ledger: ledger, store: store, outbox: ob}
}

// Finalize applies d to the disputed order on tx. Refunds move the order to
// refunded; a denial restores the status the order had before the dispute.
// Every write shares tx, so any error leaves nothing behind once the caller
// rolls back.
func (c *Coordinator) Finalize(ctx context.Context, tx pgx.Tx, cs Case, d Decision) (RefundInstruction, error) {
	o, err := c.ledger.GetForUpdate(ctx, tx, cs.OrderID)
	if err != nil {
		return RefundInstruction{}, fmt.Errorf("settlement: finalize: %w", err)
	}

	amount, err := refundAmount(o, d)
	if err != nil {
		return RefundInstruction{}, err
	}

	instr := RefundInstruction{
		DisputeID: cs.DisputeID,
		OrderID:   cs.OrderID,
		Action:    d.Action,
		Amount:    amount,
	}

	payment, err := c.ledger.PaymentForOrder(ctx, tx, cs.OrderID)
	switch {
	case err == nil:
		instr.PaymentReference = payment.Reference
	case errors.Is(err, order.ErrPaymentNotFound) && !d.Action.Refunds():
	default:
		return RefundInstruction{}, fmt.Errorf("settlement: finalize: %w", err)
	}

	if d.Action.Refunds() {
		if _, err := c.ledger.MarkRefunded(ctx, tx, cs.OrderID, amount, d.Note); err != nil {
			return RefundInstruction{}, fmt.Errorf("settlement: finalize: %w", err)
		}
	} else if _, err := c.ledger.RestoreStatus(ctx, tx, cs.OrderID, cs.OrderStatusBefore); err != nil {
		return RefundInstruction{}, fmt.Errorf("settlement: finalize: %w", err)
	}

	if err := c.store.Insert(ctx, tx, Record{
		DisputeID:    cs.DisputeID,
		OrderID:      cs.OrderID,
		Action:       d.Action,
		RefundAmount: amount,
		Note:         d.Note,
		DecidedBy:    d.DecidedBy,
		DecidedAt:    d.DecidedAt,
	}); err != nil {
		return RefundInstruction{}, err
	}

	if err := c.outbox.Enqueue(ctx, tx, outbox.TopicDisputeResolved, map[string]any{
		"disputeId":        instr.DisputeID,
		"orderId":          instr.OrderID,
		"paymentReference": instr.PaymentReference,
		"action":           string(instr.Action),
		"amount":           instr.Amount.StringFixed(2),
	}); err != nil {
		return RefundInstruction{}, fmt.Errorf("settlement: finalize: %w", err)
	}
	return instr, nil
}

func refundAmount(o order.Order, d Decision) (decimal.Decimal, error) {
	switch d.Action {
	case ActionFullRefund:
		return o.Total, nil
	case ActionPartialRefund:
		if d.RefundAmount == nil {
			return decimal.Zero, fmt.Errorf("%w: partial refund without amount", ErrInvalidDecision)
		}
		return *d.RefundAmount, nil
	case ActionDenyClaim:
		return decimal.Zero, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown action %q", ErrInvalidDecision, d.Action)
	}
}
