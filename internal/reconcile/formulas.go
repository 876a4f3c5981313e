package reconcile

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/proofledger/internal/units"
	"github.com/angelmondragon/proofledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/proofledger/pkg/errors"
)

// Quantity is one aggregated column a report schema may track.
type Quantity string

const (
	QuantityProduced     Quantity = "produced"
	QuantityReceived     Quantity = "received"
	QuantityBottled      Quantity = "bottled"
	QuantitySent         Quantity = "sent"
	QuantityLost         Quantity = "lost"
	QuantityTaxWithdrawn Quantity = "tax_withdrawn"
)

var quantityKinds = map[Quantity]enums.EventKind{
	QuantityProduced:     enums.EventKindProduction,
	QuantityReceived:     enums.EventKindTransferIn,
	QuantityBottled:      enums.EventKindBottling,
	QuantitySent:         enums.EventKindTransferOut,
	QuantityLost:         enums.EventKindLoss,
	QuantityTaxWithdrawn: enums.EventKindTaxWithdrawal,
}

// EventKind is the ledger event kind summed into q.
func (q Quantity) EventKind() enums.EventKind {
	return quantityKinds[q]
}

// Totals maps each tracked quantity to its month sum. Untracked quantities are absent.
type Totals map[Quantity]decimal.Decimal

// Get returns the total for q, zero when absent.
func (t Totals) Get(q Quantity) decimal.Decimal {
	if v, ok := t[q]; ok {
		return v
	}
	return decimal.Zero
}

// formula is one schema's closing-balance equation and the quantities it reads.
type formula struct {
	tracked []Quantity
	ending  func(beginning decimal.Decimal, t Totals) decimal.Decimal
}

var formulas = map[enums.ReportSchema]formula{
	enums.ReportSchemaA: {
		tracked: []Quantity{QuantityProduced, QuantityReceived, QuantityBottled, QuantitySent, QuantityLost},
		ending:  operationsEnding,
	},
	enums.ReportSchemaB: {
		tracked: []Quantity{QuantityBottled, QuantityTaxWithdrawn},
		ending:  processingEnding,
	},
	enums.ReportSchemaC: {
		tracked: []Quantity{QuantityProduced, QuantityReceived, QuantityBottled, QuantityLost},
		ending:  storageEnding,
	},
}

// operationsEnding: beginning + produced + received - bottled - sent - lost.
func operationsEnding(beginning decimal.Decimal, t Totals) decimal.Decimal {
	return beginning.
		Add(t.Get(QuantityProduced)).
		Add(t.Get(QuantityReceived)).
		Sub(t.Get(QuantityBottled)).
		Sub(t.Get(QuantitySent)).
		Sub(t.Get(QuantityLost))
}

// processingEnding: beginning + bottled - tax_withdrawn.
func processingEnding(beginning decimal.Decimal, t Totals) decimal.Decimal {
	return beginning.
		Add(t.Get(QuantityBottled)).
		Sub(t.Get(QuantityTaxWithdrawn))
}

// storageEnding: beginning + produced + received - bottled - lost.
func storageEnding(beginning decimal.Decimal, t Totals) decimal.Decimal {
	return beginning.
		Add(t.Get(QuantityProduced)).
		Add(t.Get(QuantityReceived)).
		Sub(t.Get(QuantityBottled)).
		Sub(t.Get(QuantityLost))
}

func formulaFor(schema enums.ReportSchema) (formula, error) {
	f, ok := formulas[schema]
	if !ok {
		return formula{}, pkgerrors.InvalidArgument("unknown report schema %q", schema)
	}
	return f, nil
}

// TrackedQuantities lists the quantities schema reports, in form order.
func TrackedQuantities(schema enums.ReportSchema) ([]Quantity, error) {
	f, err := formulaFor(schema)
	if err != nil {
		return nil, err
	}
	out := make([]Quantity, len(f.tracked))
	copy(out, f.tracked)
	return out, nil
}

// Tracks reports whether schema carries quantity q.
func Tracks(schema enums.ReportSchema, q Quantity) bool {
	f, ok := formulas[schema]
	if !ok {
		return false
	}
	for _, candidate := range f.tracked {
		if candidate == q {
			return true
		}
	}
	return false
}

// EndingBalance applies schema's equation. Totals for quantities the schema does not
// track are ignored. A negative result is returned as-is.
func EndingBalance(schema enums.ReportSchema, beginning decimal.Decimal, totals Totals) (decimal.Decimal, error) {
	f, err := formulaFor(schema)
	if err != nil {
		return decimal.Zero, err
	}
	scoped := make(Totals, len(f.tracked))
	for _, q := range f.tracked {
		scoped[q] = totals.Get(q)
	}
	return units.RoundQuantity(f.ending(beginning, scoped)), nil
}
