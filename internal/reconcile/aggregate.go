package reconcile

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/proofledger/internal/units"
	"github.com/angelmondragon/proofledger/pkg/db/models"
	"github.com/angelmondragon/proofledger/pkg/enums"
)

// SumByKind totals the proof gallons of every event of kind dated within
// [start, end], both bounds inclusive. Each event's quantity is recomputed from its
// volume and proof. An empty selection sums to zero.
func SumByKind(events []models.LedgerEvent, kind enums.EventKind, start, end time.Time) decimal.Decimal {
	start, end = DateOf(start), DateOf(end)
	total := decimal.Zero
	for _, event := range events {
		if event.Kind != kind {
			continue
		}
		day := DateOf(event.OccurredOn)
		if day.Before(start) || day.After(end) {
			continue
		}
		total = total.Add(units.ToProofGallons(event.VolumeLiters, event.StrengthProof))
	}
	return total
}

// aggregate sums every quantity the schema tracks over the month window.
func aggregate(events []models.LedgerEvent, schema enums.ReportSchema, month time.Time) (Totals, error) {
	tracked, err := TrackedQuantities(schema)
	if err != nil {
		return nil, err
	}
	start, end := Window(month)
	totals := make(Totals, len(tracked))
	for _, q := range tracked {
		totals[q] = SumByKind(events, q.EventKind(), start, end)
	}
	return totals, nil
}
