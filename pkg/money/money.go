// Package money holds the currency helpers shared by billing and reporting.
// Amounts are decimal values kept at two places (the minor currency unit).
package money

import "github.com/shopspring/decimal"

// Places is the currency precision.
const Places int32 = 2

var hundred = decimal.NewFromInt(100)

// Round rounds d half away from zero to the currency precision.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Percent returns round(base * pct / 100).
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return Round(base.Mul(pct).Div(hundred))
}

// Sum adds amounts without intermediate rounding.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// HasMinorPrecision reports whether d carries no more than two decimal places.
func HasMinorPrecision(d decimal.Decimal) bool {
	return d.Equal(Round(d))
}

// Parse parses a decimal string. Empty input yields zero.
func Parse(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
