// Package money keeps every monetary amount as int64 cents and uses decimal
// arithmetic for the few places where a percentage has to be applied.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Format renders cents with two fraction digits, e.g. 3500 -> "35.00".
func Format(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// Parse reads a decimal amount ("35", "35.5", "35.00") into cents, rounding
// half away from zero past the second fraction digit.
func Parse(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	return d.Mul(hundred).Round(0).IntPart(), nil
}

// FromDecimal converts a decimal currency amount into cents.
func FromDecimal(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

// Percent returns base*pct/100 rounded to the cent.
func Percent(base int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(base).Mul(pct).Div(hundred).Round(0).IntPart()
}

// PercentOff returns base reduced by pct percent, rounded to the cent.
func PercentOff(base int64, pct decimal.Decimal) int64 {
	factor := hundred.Sub(pct).Div(hundred)
	return decimal.NewFromInt(base).Mul(factor).Round(0).IntPart()
}

func ClampZero(cents int64) int64 {
	if cents < 0 {
		return 0
	}
	return cents
}
