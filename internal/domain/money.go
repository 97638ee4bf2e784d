package domain

import (
	"fmt"
	"math"
	"strconv"
)

// Cents is a monetary amount in minor units (1/100 of the currency unit).
// All ledger arithmetic is performed on Cents; decimal values appear only at
// the JSON boundary, where Cents marshals as a 2-decimal number.
type Cents int64

// CentsFromDecimal converts a decimal currency amount into Cents, rounding
// half-up at 2 decimals (0.005 rounds to 0.01, never banker's rounding).
func CentsFromDecimal(v float64) Cents {
	return Cents(math.Floor(v*100 + 0.5))
}

// RoundHalfUpCents rounds a fractional minor-unit amount to whole cents,
// half-up.
func RoundHalfUpCents(v float64) Cents {
	return Cents(math.Floor(v + 0.5))
}

// Decimal returns the amount in major currency units.
func (c Cents) Decimal() float64 {
	return float64(c) / 100
}

func (c Cents) String() string {
	return strconv.FormatFloat(c.Decimal(), 'f', 2, 64)
}

// MarshalJSON emits the amount as a 2-decimal number, matching the wire shape
// consumers of the ledger expect.
func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalJSON accepts a decimal number and converts it to minor units with
// half-up rounding.
func (c *Cents) UnmarshalJSON(data []byte) error {
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("cents: parse %q: %w", string(data), err)
	}
	*c = CentsFromDecimal(v)
	return nil
}

// Totals is the monetary summary of a sale. Invariant after rounding:
// Total == Subtotal - Discount + Tax, Discount <= Subtotal, every field
// non-negative.
type Totals struct {
	Subtotal Cents `json:"subtotal"`
	Discount Cents `json:"discount"`
	Tax      Cents `json:"tax"`
	Total    Cents `json:"total"`
}
