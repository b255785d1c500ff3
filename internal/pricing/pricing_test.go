package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tiendapos/backend/internal/domain"
)

func TestPercentageDiscountWithExactCash(t *testing.T) {
	totals := Compute(2500, domain.Discount{Type: domain.DiscountPercentage, Value: 10}, domain.Payment{CashCents: 2250}, DefaultCardCommissionRate)

	assert.Equal(t, int64(2250), totals.TotalCents)
	assert.Equal(t, int64(250), totals.DiscountCents)
	assert.Equal(t, int64(0), totals.ChangeCents)
	assert.Equal(t, int64(0), totals.CommissionCents)
}

func TestApplyDiscount(t *testing.T) {
	cases := []struct {
		name     string
		discount domain.Discount
		want     int64
	}{
		{"none", domain.NoDiscount(), 1000},
		{"zero value", domain.Discount{}, 1000},
		{"percentage", domain.Discount{Type: domain.DiscountPercentage, Value: 25}, 750},
		{"amount", domain.Discount{Type: domain.DiscountAmount, Value: 300}, 700},
		{"percentage over 100 is not clamped", domain.Discount{Type: domain.DiscountPercentage, Value: 150}, -500},
		{"amount over subtotal is not clamped", domain.Discount{Type: domain.DiscountAmount, Value: 1500}, -500},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ApplyDiscount(1000, tc.discount))
		})
	}
}

func TestCardCommissionAddedUnlessPaidInCash(t *testing.T) {
	payment := domain.Payment{CardCents: 10000}

	totals := Compute(10000, domain.NoDiscount(), payment, DefaultCardCommissionRate)
	assert.Equal(t, int64(400), totals.CommissionCents)
	assert.Equal(t, int64(10400), totals.TotalCents)
	assert.Equal(t, int64(-400), totals.ChangeCents)

	payment.CommissionInCash = true
	totals = Compute(10000, domain.NoDiscount(), payment, DefaultCardCommissionRate)
	assert.Equal(t, int64(400), totals.CommissionCents)
	assert.Equal(t, int64(10000), totals.TotalCents)
	assert.Equal(t, int64(0), totals.ChangeCents)
}

func TestMixedPaymentChange(t *testing.T) {
	totals := Compute(5000, domain.NoDiscount(), domain.Payment{CashCents: 3000, CardCents: 2500}, DefaultCardCommissionRate)

	assert.Equal(t, int64(100), totals.CommissionCents)
	assert.Equal(t, int64(5100), totals.TotalCents)
	assert.Equal(t, int64(400), totals.ChangeCents)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "12.90", Format(1290))
	assert.Equal(t, "0.05", Format(5))
	assert.Equal(t, "-12.05", Format(-1205))
}
