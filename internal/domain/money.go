package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ParseAmount converts a peso amount such as "3000.50" into cents.
func ParseAmount(raw string) (int64, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, Invalid("amount", "is not a decimal number")
	}
	if value.IsNegative() {
		return 0, Invalid("amount", "must not be negative")
	}
	return value.Mul(hundred).Round(0).IntPart(), nil
}

// FormatAmount renders cents as a two-place peso string.
func FormatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// Percent returns part/whole*100 rounded to two places, or zero when whole is zero.
func Percent(part int64, whole int64) decimal.Decimal {
	if whole == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(part).Mul(hundred).Div(decimal.NewFromInt(whole)).Round(2)
}
