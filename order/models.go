package order

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"craftmart/pricing"
)

// Status models the lifecycle of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFulfilled Status = "fulfilled"
	StatusDisputed  Status = "disputed"
	StatusRefunded  Status = "refunded"
	StatusCancelled Status = "cancelled"
)

// PaymentStatus models a gateway payment outcome.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentSuccessful PaymentStatus = "successful"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
)

// Terminal reports whether the gateway will send no further outcome for the payment.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentSuccessful || s == PaymentFailed
}

// LineItem is one product line frozen at checkout prices.
type LineItem struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// Discount is the JSON shape of pricing.DiscountResult.
type Discount struct {
	Percentage     int
	Type           string
	Reason         string
	DiscountAmount decimal.Decimal
}

func discountFrom(d pricing.DiscountResult) Discount {
	return Discount{
		Percentage:     d.Percentage,
		Type:           string(d.Type),
		Reason:         d.Reason,
		DiscountAmount: d.DiscountAmount,
	}
}

// Order is a customer purchase from a single vendor.
type Order struct {
	ID          string
	CustomerID  string
	VendorID    string
	Items       []LineItem
	ItemCount   int
	Subtotal    decimal.Decimal
	Discount    Discount
	ShippingFee decimal.Decimal
	Total       decimal.Decimal
	Status      Status
	PaidAt      *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Payment is a gateway payment attempt keyed by its unique reference.
type Payment struct {
	ID              string
	OrderID         string
	Reference       string
	Amount          decimal.Decimal
	Status          PaymentStatus
	GatewayResponse json.RawMessage
	RefundedAmount  *decimal.Decimal
	RefundedAt      *time.Time
	RefundReason    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ItemRequest is one requested product line.
type ItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// CreateRequest is the checkout payload.
type CreateRequest struct {
	VendorID string        `json:"vendorId"`
	Items    []ItemRequest `json:"items"`
}

// PaymentEvent is one gateway webhook delivery.
type PaymentEvent struct {
	OrderID         string          `json:"orderId"`
	Reference       string          `json:"reference"`
	Amount          decimal.Decimal `json:"amount"`
	Status          PaymentStatus   `json:"status"`
	GatewayResponse json.RawMessage `json:"gatewayResponse,omitempty"`
}

// PaymentResult reports the stored payment and whether the delivery was a replay.
type PaymentResult struct {
	Payment  Payment
	Replayed bool
}
