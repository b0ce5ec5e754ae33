// Package money does all price arithmetic in integer minor units.
//
// Floating point amounts are converted to cents once, at the input boundary, and
// converted back only for display. Multiplying floats such as 19.99*0.16 yields
// binary fractions that drift across subtotals; integer cents do not.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is an amount in minor currency units.
type Cents int64

// FromFloat converts a decimal currency amount to cents, rounding half away from zero.
func FromFloat(amount float64) Cents {
	return Cents(decimal.NewFromFloat(amount).Shift(2).Round(0).IntPart())
}

// Parse reads a decimal string such as "1000.00" into cents.
func Parse(s string) (Cents, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Cents(d.Shift(2).Round(0).IntPart()), nil
}

// Float64 converts back to a decimal amount. Use only at output boundaries.
func (c Cents) Float64() float64 {
	f, _ := decimal.New(int64(c), -2).Float64()
	return f
}

// String formats the amount with two decimals.
func (c Cents) String() string {
	return decimal.New(int64(c), -2).StringFixed(2)
}

// LineItem is a priced quantity.
type LineItem struct {
	UnitPrice Cents
	Quantity  int
}

// Subtotal sums price times quantity over items.
func Subtotal(items []LineItem) Cents {
	var total Cents
	for _, item := range items {
		total += item.UnitPrice * Cents(item.Quantity)
	}
	return total
}

// Tax applies a fixed rate (0.16 for 16%) to a subtotal.
func Tax(subtotal Cents, rate float64) Cents {
	return Cents(decimal.NewFromInt(int64(subtotal)).Mul(decimal.NewFromFloat(rate)).Round(0).IntPart())
}

// ShippingFee is free at or above threshold, flatFee otherwise. A zero threshold
// disables free shipping.
func ShippingFee(subtotal, threshold, flatFee Cents) Cents {
	if threshold > 0 && subtotal >= threshold {
		return 0
	}
	return flatFee
}

// Total adds subtotal, tax and shipping.
func Total(subtotal, tax, shipping Cents) Cents {
	return subtotal + tax + shipping
}
