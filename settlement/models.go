package settlement

import (
	"time"

	"github.com/shopspring/decimal"

	"craftmart/order"
)

// Action is the admin's resolution of a dispute.
type Action string

const (
	ActionFullRefund    Action = "full_refund"
	ActionPartialRefund Action = "partial_refund"
	ActionDenyClaim     Action = "deny_claim"
)

func (a Action) Valid() bool {
	switch a {
	case ActionFullRefund, ActionPartialRefund, ActionDenyClaim:
		return true
	}
	return false
}

// Refunds reports whether the action moves money back to the customer.
func (a Action) Refunds() bool {
	return a == ActionFullRefund || a == ActionPartialRefund
}

// Decision is the validated admin decision. RefundAmount is set for both
// refund actions and nil for deny_claim.
type Decision struct {
	Action       Action           `json:"action"`
	Note         string           `json:"note"`
	RefundAmount *decimal.Decimal `json:"refundAmount,omitempty"`
	DecidedBy    string           `json:"decidedBy"`
	DecidedAt    time.Time        `json:"decidedAt"`
}

// Case identifies the dispute being settled.
type Case struct {
	DisputeID         string
	OrderID           string
	OrderStatusBefore order.Status
}

// RefundInstruction tells the payment gateway what to do. It is returned to
// callers and published, never executed here.
type RefundInstruction struct {
	DisputeID        string
	OrderID          string
	PaymentReference string
	Action           Action
	Amount           decimal.Decimal
}

// Record is the write-once settlement row of a dispute.
type Record struct {
	DisputeID    string
	OrderID      string
	Action       Action
	RefundAmount decimal.Decimal
	Note         string
	DecidedBy    string
	DecidedAt    time.Time
}
