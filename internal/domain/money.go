package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(1 << 53)
)

// CentsFromDecimal converts a dollar amount to int64 cents. It rejects
// values with more than 2 decimal places instead of rounding them.
func CentsFromDecimal(d decimal.Decimal) (int64, error) {
	scaled := d.Mul(hundred)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("monetary values must have at most 2 decimal places")
	}
	if scaled.Abs().GreaterThan(maxCents) {
		return 0, fmt.Errorf("monetary value %s out of range", d.String())
	}
	return scaled.IntPart(), nil
}

// ParseCents parses a decimal string such as "148.50" into cents.
func ParseCents(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid monetary value %q: %w", s, err)
	}
	return CentsFromDecimal(d)
}

// DecimalFromCents converts cents back to a dollar amount.
func DecimalFromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}
