// Package pricing turns a subtotal, a discount and a payment split into the
// amounts printed on a sale.
package pricing

import (
	"fmt"
	"math"

	"tiendapos/backend/internal/domain"
)

const DefaultCardCommissionRate = 0.04

// ApplyDiscount returns the subtotal after discount. Values are not clamped:
// a percentage above 100 or an amount above the subtotal yields a negative
// result.
func ApplyDiscount(subtotalCents int64, discount domain.Discount) int64 {
	switch discount.Type {
	case domain.DiscountPercentage:
		return roundCents(float64(subtotalCents) * (1 - discount.Value/100))
	case domain.DiscountAmount:
		return subtotalCents - roundCents(discount.Value)
	default:
		return subtotalCents
	}
}

// CardCommission is the handling fee charged on the card part of a payment.
func CardCommission(cardCents int64, rate float64) int64 {
	if cardCents <= 0 || rate <= 0 {
		return 0
	}
	return roundCents(float64(cardCents) * rate)
}

// Compute builds the totals of a sale. The commission is always reported;
// it is added to the total only when it is not settled in cash.
func Compute(subtotalCents int64, discount domain.Discount, payment domain.Payment, commissionRate float64) domain.Totals {
	discounted := ApplyDiscount(subtotalCents, discount)
	commission := CardCommission(payment.CardCents, commissionRate)

	total := discounted
	if !payment.CommissionInCash {
		total += commission
	}

	return domain.Totals{
		SubtotalCents:   subtotalCents,
		DiscountCents:   subtotalCents - discounted,
		CommissionCents: commission,
		TotalCents:      total,
		ChangeCents:     payment.CashCents + payment.CardCents - total,
	}
}

// Format renders cents as a decimal amount, e.g. -1205 as "-12.05".
func Format(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

func roundCents(v float64) int64 {
	return int64(math.Round(v))
}
