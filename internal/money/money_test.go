package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFloat(t *testing.T) {
	tests := []struct {
		in   float64
		want Cents
	}{
		{0, 0},
		{19.99, 1999},
		{1000, 100000},
		{0.1 + 0.2, 30},
		{19.995, 2000},
		{33.333, 3333},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FromFloat(tt.in), "FromFloat(%v)", tt.in)
	}
}

func TestParse(t *testing.T) {
	c, err := Parse("1000.00")
	require.NoError(t, err)
	assert.Equal(t, Cents(100000), c)

	c, err = Parse("33.34")
	require.NoError(t, err)
	assert.Equal(t, Cents(3334), c)

	_, err = Parse("ten dollars")
	assert.Error(t, err)
}

func TestString(t *testing.T) {
	assert.Equal(t, "1000.00", Cents(100000).String())
	assert.Equal(t, "33.34", Cents(3334).String())
	assert.Equal(t, "0.05", Cents(5).String())
	assert.InDelta(t, 750.0, Cents(75000).Float64(), 1e-9)
}

func TestTotals(t *testing.T) {
	items := []LineItem{
		{UnitPrice: FromFloat(19.99), Quantity: 3},
		{UnitPrice: FromFloat(5.01), Quantity: 1},
	}
	subtotal := Subtotal(items)
	assert.Equal(t, Cents(6498), subtotal)

	// 64.98 * 0.16 = 10.3968
	tax := Tax(subtotal, 0.16)
	assert.Equal(t, Cents(1040), tax)

	assert.Equal(t, Cents(999), ShippingFee(subtotal, 10000, 999))
	assert.Equal(t, Cents(0), ShippingFee(10000, 10000, 999))
	assert.Equal(t, Cents(999), ShippingFee(10000, 0, 999))

	assert.Equal(t, Cents(6498+1040+999), Total(subtotal, tax, 999))
}

func TestTaxHasNoFloatDrift(t *testing.T) {
	// 19.99 * 0.16 = 3.1984 exactly; float math gives 3.1983999999999995.
	assert.Equal(t, Cents(320), Tax(1999, 0.16))
}
