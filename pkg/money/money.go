// Package money represents prices as integer minor units (cents).
package money

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Cents is an amount in minor currency units.
type Cents int64

var hundred = decimal.NewFromInt(100)

// Parse converts a decimal string such as "12.50" to cents. Values with more
// than two fractional digits or below zero are rejected.
func Parse(value string) (Cents, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return FromDecimal(d)
}

func FromDecimal(d decimal.Decimal) (Cents, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %s must not be negative", d.String())
	}
	scaled := d.Mul(hundred)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than two decimal places", d.String())
	}
	if scaled.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("amount %s is too large", d.String())
	}
	return Cents(scaled.IntPart()), nil
}

// Decimal returns the amount in major units.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// String formats the amount with exactly two decimals, e.g. "12.50".
func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

// Times multiplies a unit price by a quantity, failing on overflow.
func (c Cents) Times(qty int) (Cents, error) {
	if qty < 0 {
		return 0, fmt.Errorf("quantity %d must not be negative", qty)
	}
	if qty != 0 && int64(c) > math.MaxInt64/int64(qty) {
		return 0, fmt.Errorf("amount overflow: %d x %d", c, qty)
	}
	return c * Cents(qty), nil
}

// Add sums amounts, failing on overflow.
func Add(amounts ...Cents) (Cents, error) {
	var total Cents
	for _, a := range amounts {
		if a > 0 && total > Cents(math.MaxInt64)-a {
			return 0, fmt.Errorf("amount overflow adding %d", a)
		}
		total += a
	}
	return total, nil
}
