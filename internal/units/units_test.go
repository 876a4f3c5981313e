package units

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestToProofGallons(t *testing.T) {
	tests := []struct {
		name   string
		liters string
		proof  string
		want   string
	}{
		{name: "production sample", liters: "400", proof: "90", want: "95.1"},
		{name: "loss sample", liters: "50", proof: "80", want: "10.6"},
		{name: "zero proof", liters: "500", proof: "0", want: "0"},
		{name: "zero volume", liters: "0", proof: "120", want: "0"},
		{name: "full strength", liters: "100", proof: "200", want: "52.8"},
		// 0.264172 * 25 * 100 / 100 = 6.6043 rounds down.
		{name: "rounds down below half", liters: "25", proof: "100", want: "6.6"},
		// 0.264172 * 125 * 100 / 100 = 33.0215 rounds down.
		{name: "near integer", liters: "125", proof: "100", want: "33"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToProofGallons(dec(tt.liters), dec(tt.proof))
			assert.True(t, got.Equal(dec(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestToProofGallonsRoundsHalfUp(t *testing.T) {
	// Exact x.x5 ties are not reachable from whole-liter inputs, so the tie rule is pinned here.
	assert.Equal(t, "0.3", RoundQuantity(dec("0.25")).String())
	assert.Equal(t, "0.2", RoundQuantity(dec("0.249999")).String())
	assert.Equal(t, "2.6", RoundQuantity(dec("2.55")).String())
	assert.Equal(t, "10.1", RoundQuantity(dec("10.05")).String())
}

func TestToProofGallonsFractionalInputs(t *testing.T) {
	// 0.264172 * 1000 * 0.5 / 100 = 1.32086 -> 1.3
	assert.Equal(t, "1.3", ToProofGallons(dec("1000"), dec("0.5")).String())
	// 0.264172 * 625 * 50 / 100 = 82.55375 -> 82.6
	assert.Equal(t, "82.6", ToProofGallons(dec("625"), dec("50")).String())
}

func TestToProofGallonsDeterministic(t *testing.T) {
	liters, proof := dec("378.54"), dec("86.4")
	first := ToProofGallons(liters, proof)
	second := ToProofGallons(liters, proof)
	assert.True(t, first.Equal(second))
	assert.Equal(t, first.String(), second.String())
}
