// Package pricing computes order totals from an OrderState. Everything here
// is pure and works in integer cents.
package pricing

import (
	"errors"

	"florapos/internal/domain"
	"florapos/internal/money"
)

var ErrInsufficientCash = errors.New("cash received is less than amount due")

// Line resolves the totals of a single cart line. The line total is never
// negative, whatever discount is attached.
func Line(item domain.CartItem) domain.LineTotal {
	base := item.ListPriceCents * int64(item.Quantity)
	final := base

	discounted := item.HasDiscount()
	if discounted {
		switch item.DiscountType {
		case domain.DiscountPercent:
			final = base - money.Percent(base, item.DiscountValue)
		case domain.DiscountAmount:
			final = base - item.DiscountValue.Round(0).IntPart()
		default:
			discounted = false
		}
	}
	final = money.ClampZero(final)

	return domain.LineTotal{
		CartID:        item.CartID,
		BaseCents:     base,
		DiscountCents: base - final,
		FinalCents:    final,
		Discounted:    discounted,
	}
}

// Compute returns the totals for order.
//
// Lines that carry their own discount are summed into SpecificCents and are
// never touched by the order-level controls. A fixed final price wins over
// everything else; otherwise the order percent and then the order amount are
// taken off the standard lines only.
func Compute(order domain.OrderState) domain.Totals {
	totals := domain.Totals{Lines: make([]domain.LineTotal, 0, len(order.Items))}

	for _, item := range order.Items {
		line := Line(item)
		totals.Lines = append(totals.Lines, line)
		totals.OriginalCents += line.BaseCents
		if line.Discounted {
			totals.SpecificCents += line.FinalCents
		} else {
			totals.StandardCents += line.FinalCents
		}
	}

	if order.FinalPriceOverrideCents != nil {
		totals.GrandCents = *order.FinalPriceOverrideCents
	} else {
		standard := totals.StandardCents
		if order.SysPercent.IsPositive() {
			standard = money.PercentOff(standard, order.SysPercent)
		}
		if order.SysAmountCents > 0 {
			standard = money.ClampZero(standard - order.SysAmountCents)
		}
		totals.GrandCents = standard + totals.SpecificCents
	}

	totals.DiscountCents = money.ClampZero(totals.OriginalCents - totals.GrandCents)
	return totals
}

// Change returns the change owed for a cash payment, or ErrInsufficientCash
// when received does not cover due.
func Change(dueCents, receivedCents int64) (int64, error) {
	if receivedCents < dueCents {
		return 0, ErrInsufficientCash
	}
	return money.ClampZero(receivedCents - dueCents), nil
}
