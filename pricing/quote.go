package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Line is one priced line item fed into Quote.
type Line struct {
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

// QuotedLine carries the rounded line total alongside the input line.
type QuotedLine struct {
	Line
	LineTotal decimal.Decimal
}

// Quote is the full checkout computation for an order.
type Quote struct {
	Lines       []QuotedLine
	ItemCount   int
	Subtotal    decimal.Decimal
	Discount    DiscountResult
	ShippingFee decimal.Decimal
	Total       decimal.Decimal
}

// PriceOrder computes subtotal, bulk discount and total for the given lines.
// total = subtotal - discount + shipping.
func PriceOrder(lines []Line, shippingFee decimal.Decimal) (Quote, error) {
	if len(lines) == 0 {
		return Quote{}, fmt.Errorf("%w: at least one line item required", ErrInvalidInput)
	}
	if shippingFee.IsNegative() {
		return Quote{}, fmt.Errorf("%w: shipping fee %s is negative", ErrInvalidInput, shippingFee)
	}

	q := Quote{
		Lines:       make([]QuotedLine, 0, len(lines)),
		Subtotal:    decimal.Zero,
		ShippingFee: RoundCents(shippingFee),
	}
	for _, l := range lines {
		if l.Quantity < 1 {
			return Quote{}, fmt.Errorf("%w: quantity for %s must be at least 1", ErrInvalidInput, l.ProductID)
		}
		if l.UnitPrice.IsNegative() {
			return Quote{}, fmt.Errorf("%w: unit price for %s is negative", ErrInvalidInput, l.ProductID)
		}
		lineTotal := RoundCents(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
		q.Lines = append(q.Lines, QuotedLine{Line: l, LineTotal: lineTotal})
		q.Subtotal = q.Subtotal.Add(lineTotal)
		q.ItemCount += l.Quantity
	}

	discount, err := ComputeDiscount(q.Subtotal, q.ItemCount)
	if err != nil {
		return Quote{}, err
	}
	q.Discount = discount
	q.Total = q.Subtotal.Sub(discount.DiscountAmount).Add(q.ShippingFee)
	return q, nil
}
