package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/proofledger/pkg/config"
	"github.com/angelmondragon/proofledger/pkg/db/models"
	"github.com/angelmondragon/proofledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/proofledger/pkg/errors"
)

// Seeds holds the beginning balance used for a schema's first computed month.
type Seeds map[enums.ReportSchema]decimal.Decimal

// SeedsFromConfig reads the calibration constants for every schema.
func SeedsFromConfig(cfg config.ReconcileConfig) (Seeds, error) {
	raw, err := cfg.Seeds()
	if err != nil {
		return nil, err
	}
	seeds := make(Seeds, len(raw))
	for letter, value := range raw {
		schema, err := enums.ParseReportSchema(letter)
		if err != nil {
			return nil, err
		}
		seeds[schema] = value
	}
	for _, schema := range enums.ReportSchemas() {
		if _, ok := seeds[schema]; !ok {
			return nil, pkgerrors.InvalidArgument("no seed balance configured for schema %s", schema)
		}
	}
	return seeds, nil
}

func (s Seeds) For(schema enums.ReportSchema) (decimal.Decimal, error) {
	seed, ok := s[schema]
	if !ok {
		return decimal.Zero, pkgerrors.InvalidArgument("unknown report schema %q", schema)
	}
	return seed, nil
}

type reportGetter interface {
	Get(ctx context.Context, organizationID uuid.UUID, schema enums.ReportSchema, month time.Time) (*models.InventoryReport, error)
}

// ResolveBeginningBalance returns the persisted ending balance of the month before
// month, or the schema's seed when that month was never computed. It only reads;
// it never computes the previous month.
func ResolveBeginningBalance(ctx context.Context, store reportGetter, seeds Seeds, organizationID uuid.UUID, schema enums.ReportSchema, month time.Time) (decimal.Decimal, error) {
	seed, err := seeds.For(schema)
	if err != nil {
		return decimal.Zero, err
	}
	prev, err := store.Get(ctx, organizationID, schema, PreviousMonth(month))
	if err != nil {
		return decimal.Zero, pkgerrors.Unavailable(err, "load previous month report")
	}
	if prev == nil {
		return seed, nil
	}
	return prev.EndingBalance, nil
}
