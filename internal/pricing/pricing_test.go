package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"florapos/internal/domain"
)

func exampleOrder() domain.OrderState {
	return domain.OrderState{
		Items: []domain.CartItem{
			{CartID: "l1", Code: "A1", ListPriceCents: 1000, Quantity: 3},
			{CartID: "l2", Code: "A2", ListPriceCents: 500, Quantity: 2, DiscountType: domain.DiscountPercent, DiscountValue: decimal.NewFromInt(20)},
		},
		SysPercent: decimal.NewFromInt(10),
	}
}

func int64Ptr(v int64) *int64 { return &v }

func TestComputeExampleScenario(t *testing.T) {
	totals := Compute(exampleOrder())

	assert.Equal(t, int64(4000), totals.OriginalCents)
	assert.Equal(t, int64(3000), totals.StandardCents)
	assert.Equal(t, int64(800), totals.SpecificCents)
	assert.Equal(t, int64(3500), totals.GrandCents)
	assert.Equal(t, int64(500), totals.DiscountCents)
	require.Len(t, totals.Lines, 2)
	assert.Equal(t, int64(200), totals.Lines[1].DiscountCents)
}

func TestComputeFinalPriceOverrideWins(t *testing.T) {
	order := exampleOrder()
	order.FinalPriceOverrideCents = int64Ptr(2000)

	first := Compute(order)
	assert.Equal(t, int64(2000), first.GrandCents)
	assert.Equal(t, int64(2000), first.DiscountCents)

	order.SysPercent = decimal.NewFromInt(50)
	order.SysAmountCents = 700
	second := Compute(order)
	assert.Equal(t, first.GrandCents, second.GrandCents)

	// line discounts still show on the receipt lines
	assert.Equal(t, int64(800), second.Lines[1].FinalCents)
}

func TestComputeIsDeterministic(t *testing.T) {
	order := exampleOrder()
	order.SysAmountCents = 150
	a := Compute(order)
	b := Compute(order)
	assert.Equal(t, a, b)
	assert.Equal(t, a.OriginalCents-a.GrandCents, a.DiscountCents)
	assert.GreaterOrEqual(t, a.DiscountCents, int64(0))
}

func TestLineDiscountIsClampedAtZero(t *testing.T) {
	line := Line(domain.CartItem{
		ListPriceCents: 500,
		Quantity:       1,
		DiscountType:   domain.DiscountAmount,
		DiscountValue:  decimal.NewFromInt(900),
	})
	assert.Equal(t, int64(0), line.FinalCents)
	assert.Equal(t, int64(500), line.DiscountCents)

	line = Line(domain.CartItem{
		ListPriceCents: 500,
		Quantity:       2,
		DiscountType:   domain.DiscountPercent,
		DiscountValue:  decimal.NewFromInt(150),
	})
	assert.Equal(t, int64(0), line.FinalCents)
}

func TestSysAmountClampsStandardTotal(t *testing.T) {
	order := exampleOrder()
	order.SysPercent = decimal.Zero
	order.SysAmountCents = 5000

	totals := Compute(order)
	// standard lines go to zero, the specifically discounted line is untouched
	assert.Equal(t, int64(800), totals.GrandCents)
	assert.Equal(t, int64(3200), totals.DiscountCents)
}

func TestSysPercentThenAmount(t *testing.T) {
	order := exampleOrder()
	order.SysAmountCents = 200

	totals := Compute(order)
	// 3000 * 0.9 = 2700, minus 200 = 2500, plus 800
	assert.Equal(t, int64(3300), totals.GrandCents)
}

func TestZeroValueDiscountIsIgnored(t *testing.T) {
	order := domain.OrderState{Items: []domain.CartItem{
		{ListPriceCents: 1000, Quantity: 1, DiscountType: domain.DiscountPercent, DiscountValue: decimal.Zero},
	}, SysPercent: decimal.NewFromInt(10)}

	totals := Compute(order)
	assert.Equal(t, int64(1000), totals.StandardCents)
	assert.Equal(t, int64(900), totals.GrandCents)
}

func TestComputeEmptyOrder(t *testing.T) {
	totals := Compute(domain.OrderState{})
	assert.Zero(t, totals.GrandCents)
	assert.Zero(t, totals.DiscountCents)
	assert.Empty(t, totals.Lines)
}

func TestChange(t *testing.T) {
	change, err := Change(3500, 4000)
	require.NoError(t, err)
	assert.Equal(t, int64(500), change)

	_, err = Change(3500, 3000)
	assert.ErrorIs(t, err, ErrInsufficientCash)

	change, err = Change(3500, 3500)
	require.NoError(t, err)
	assert.Zero(t, change)
}
