package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput signals a negative subtotal, count, price or fee.
var ErrInvalidInput = errors.New("pricing: invalid input")

// DiscountType classifies the discount applied to an order.
type DiscountType string

const (
	DiscountTypeNone DiscountType = "none"
	DiscountTypeBulk DiscountType = "bulk"
)

// DiscountResult is embedded in every order and never persisted on its own.
type DiscountResult struct {
	Percentage     int
	Type           DiscountType
	Reason         string
	DiscountAmount decimal.Decimal
}

type tier struct {
	minItems   int
	percentage int
	reason     string
}

// tiers is ordered highest threshold first; the first match wins.
var tiers = []tier{
	{minItems: 10, percentage: 15, reason: "Bulk Buy Bonus (10+ Items)"},
	{minItems: 6, percentage: 10, reason: "Bulk Buy Bonus (6–9 Items)"},
	{minItems: 3, percentage: 5, reason: "Bulk Buy Bonus (3–5 Items)"},
}

var hundred = decimal.NewFromInt(100)

// ComputeDiscount returns the bulk discount for an order with the given
// subtotal and total item count. The amount is subtotal*percentage/100
// rounded to cents half away from zero, so it can pass subtotal*0.15 by up to
// half a cent on tiny subtotals; it never passes that ceiling rounded to cents.
func ComputeDiscount(subtotal decimal.Decimal, itemCount int) (DiscountResult, error) {
	if subtotal.IsNegative() {
		return DiscountResult{}, fmt.Errorf("%w: subtotal %s is negative", ErrInvalidInput, subtotal)
	}
	if itemCount < 0 {
		return DiscountResult{}, fmt.Errorf("%w: item count %d is negative", ErrInvalidInput, itemCount)
	}

	for _, t := range tiers {
		if itemCount < t.minItems {
			continue
		}
		pct := decimal.NewFromInt(int64(t.percentage))
		return DiscountResult{
			Percentage:     t.percentage,
			Type:           DiscountTypeBulk,
			Reason:         t.reason,
			DiscountAmount: RoundCents(subtotal.Mul(pct).Div(hundred)),
		}, nil
	}

	return DiscountResult{
		Type:           DiscountTypeNone,
		DiscountAmount: decimal.Zero,
	}, nil
}

// RoundCents rounds to two decimal places, half away from zero.
func RoundCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
