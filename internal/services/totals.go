package services

import (
	"errors"
	"fmt"

	"github.com/Montivagant/rmsv3-sub002/internal/domain"
)

// ErrTotalsInvalidInput signals malformed cart lines or a negative discount.
var ErrTotalsInvalidInput = errors.New("totals: invalid input")

// CartLine is one immutable input line for totals computation.
type CartLine struct {
	Price   domain.Cents
	Qty     float64
	TaxRate float64
}

// ComputeTotals turns cart lines and a requested discount into the sale's
// monetary summary. All arithmetic is integer cents with half-up rounding at
// each fold step, which reproduces exact cent-level behaviour under
// compounding rounding:
//
//  1. each line subtotal is price*qty rounded half-up to whole cents
//  2. the discount is capped at the subtotal (an oversized discount yields
//     total zero, never negative)
//  3. every line receives a discount share proportional to its rounded
//     subtotal, itself rounded half-up
//  4. the taxable base per line is clamped at zero
//  5. per-line tax is taxable*rate rounded half-up
//
// The reported discount is the accumulated per-line proration, so
// Total == Subtotal - Discount + Tax holds exactly.
func ComputeTotals(lines []CartLine, discount domain.Cents) (domain.Totals, error) {
	if discount < 0 {
		return domain.Totals{}, fmt.Errorf("%w: discount cannot be negative", ErrTotalsInvalidInput)
	}
	for i, line := range lines {
		if line.Price < 0 {
			return domain.Totals{}, fmt.Errorf("%w: line %d price cannot be negative", ErrTotalsInvalidInput, i)
		}
		if line.Qty < 0 {
			return domain.Totals{}, fmt.Errorf("%w: line %d quantity cannot be negative", ErrTotalsInvalidInput, i)
		}
		if line.TaxRate < 0 || line.TaxRate > 1 {
			return domain.Totals{}, fmt.Errorf("%w: line %d tax rate must be within [0,1]", ErrTotalsInvalidInput, i)
		}
	}

	lineSubs := make([]domain.Cents, len(lines))
	var subtotal domain.Cents
	for i, line := range lines {
		lineSubs[i] = domain.RoundHalfUpCents(float64(line.Price) * line.Qty)
		subtotal += lineSubs[i]
	}

	capped := discount
	if capped > subtotal {
		capped = subtotal
	}

	var discountTotal, taxTotal domain.Cents
	for i, line := range lines {
		var lineDiscount domain.Cents
		if subtotal > 0 {
			share := float64(lineSubs[i]) / float64(subtotal)
			lineDiscount = domain.RoundHalfUpCents(float64(capped) * share)
		}

		taxable := lineSubs[i] - lineDiscount
		if taxable < 0 {
			taxable = 0
		}

		discountTotal += lineDiscount
		taxTotal += domain.RoundHalfUpCents(float64(taxable) * line.TaxRate)
	}

	total := subtotal - discountTotal + taxTotal
	if total < 0 {
		total = 0
	}

	return domain.Totals{
		Subtotal: subtotal,
		Discount: discountTotal,
		Tax:      taxTotal,
		Total:    total,
	}, nil
}
