// Package units converts raw spirits volumes into proof gallons, the unit every
// monthly report is denominated in.
package units

import "github.com/shopspring/decimal"

// QuantityPlaces is the number of decimal places reported quantities carry.
const QuantityPlaces int32 = 1

var (
	// GallonsPerLiter is the US gallon equivalent of one liter.
	GallonsPerLiter = decimal.RequireFromString("0.264172")

	// ProofGallonDivisor normalises proof to a 100-proof gallon.
	ProofGallonDivisor = decimal.NewFromInt(100)
)

// ToGallons converts liters to US gallons without rounding.
func ToGallons(liters decimal.Decimal) decimal.Decimal {
	return liters.Mul(GallonsPerLiter)
}

// ToProofGallons returns round(liters * 0.264172 * proof / 100, 1).
//
// The product is computed exactly and rounded half-up to one decimal place.
// Inputs are non-negative, so decimal.Round's half-away-from-zero is half-up here.
// A zero proof yields zero.
func ToProofGallons(liters, proof decimal.Decimal) decimal.Decimal {
	if proof.IsZero() || liters.IsZero() {
		return decimal.Zero
	}
	return ToGallons(liters).Mul(proof).Div(ProofGallonDivisor).Round(QuantityPlaces)
}

// RoundQuantity rounds an already-derived quantity to reporting precision.
func RoundQuantity(q decimal.Decimal) decimal.Decimal {
	return q.Round(QuantityPlaces)
}
