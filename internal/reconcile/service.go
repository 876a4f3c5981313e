package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/proofledger/internal/ledger"
	"github.com/angelmondragon/proofledger/internal/reports"
	"github.com/angelmondragon/proofledger/pkg/db/models"
	"github.com/angelmondragon/proofledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/proofledger/pkg/errors"
	"github.com/angelmondragon/proofledger/pkg/logger"
	"github.com/angelmondragon/proofledger/pkg/metrics"
)

// WarningNegativeEnding flags a report whose closing balance went below zero.
const WarningNegativeEnding = "negative_ending_balance"

const defaultMaxRebuildMonths = 120

// LedgerReader is the ledger query surface the engine consumes.
type LedgerReader interface {
	ListEvents(ctx context.Context, q ledger.Query) ([]models.LedgerEvent, error)
}

// ReportStore is the keyed report store the engine reads and writes.
type ReportStore interface {
	Get(ctx context.Context, organizationID uuid.UUID, schema enums.ReportSchema, month time.Time) (*models.InventoryReport, error)
	Upsert(ctx context.Context, report *models.InventoryReport) (*models.InventoryReport, error)
	UpdateMetadata(ctx context.Context, organizationID uuid.UUID, schema enums.ReportSchema, month time.Time, patch reports.MetadataPatch) (*models.InventoryReport, error)
	ListMonths(ctx context.Context, organizationID uuid.UUID, schema enums.ReportSchema) ([]time.Time, error)
}

// Report is a freshly recomputed record plus the data-quality signals derived from it.
type Report struct {
	Record         *models.InventoryReport
	Tracked        []Quantity
	NegativeEnding bool
}

// Warnings lists the data-quality warnings callers may surface to a user.
func (r *Report) Warnings() []string {
	if r == nil || !r.NegativeEnding {
		return []string{}
	}
	return []string{WarningNegativeEnding}
}

// Quantity returns the stored total for q and whether the schema tracks it.
func (r *Report) Quantity(q Quantity) (decimal.Decimal, bool) {
	if r == nil || r.Record == nil {
		return decimal.Zero, false
	}
	var v decimal.NullDecimal
	switch q {
	case QuantityProduced:
		v = r.Record.Produced
	case QuantityReceived:
		v = r.Record.Received
	case QuantityBottled:
		v = r.Record.Bottled
	case QuantitySent:
		v = r.Record.Sent
	case QuantityLost:
		v = r.Record.Lost
	case QuantityTaxWithdrawn:
		v = r.Record.TaxWithdrawn
	}
	return v.Decimal, v.Valid
}

type Service interface {
	GetOrRefreshReport(ctx context.Context, organizationID uuid.UUID, schema enums.ReportSchema, month time.Time) (*Report, error)
	RefreshCascade(ctx context.Context, organizationID uuid.UUID, schema enums.ReportSchema, fromMonth time.Time) ([]*Report, error)
	Rebuild(ctx context.Context, organizationID uuid.UUID, schema enums.ReportSchema, fromMonth, toMonth time.Time) ([]*Report, error)
	NotifyLedgerChanged(ctx context.Context, organizationID uuid.UUID, affectedMonth time.Time) error
	UpdateMetadata(ctx context.Context, organizationID uuid.UUID, schema enums.ReportSchema, month time.Time, patch reports.MetadataPatch) (*Report, error)
	ListReports(ctx context.Context, organizationID uuid.UUID, schema enums.ReportSchema) ([]*Report, error)
	CloseMonth(ctx context.Context, organizationID uuid.UUID, month time.Time) error
}

type ServiceParams struct {
	Ledger           LedgerReader
	Store            ReportStore
	Seeds            Seeds
	Locker           Locker
	Registrant       reports.Metadata
	MaxRebuildMonths int
	Metrics          *metrics.ReconcileMetrics
	Logger           *logger.Logger
	Now              func() time.Time
}

type service struct {
	ledger     LedgerReader
	store      ReportStore
	seeds      Seeds
	locker     Locker
	registrant reports.Metadata
	maxMonths  int
	metrics    *metrics.ReconcileMetrics
	logg       *logger.Logger
	now        func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger reader required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("report store required")
	}
	for _, schema := range enums.ReportSchemas() {
		if _, ok := params.Seeds[schema]; !ok {
			return nil, fmt.Errorf("seed balance for schema %s required", schema)
		}
	}
	locker := params.Locker
	if locker == nil {
		locker = NewLocalLocker()
	}
	maxMonths := params.MaxRebuildMonths
	if maxMonths <= 0 {
		maxMonths = defaultMaxRebuildMonths
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	registrant := params.Registrant
	if registrant.Variant == "" {
		registrant.Variant = enums.ReportVariantOriginal
	}
	return &service{
		ledger:     params.Ledger,
		store:      params.Store,
		seeds:      params.Seeds,
		locker:     locker,
		registrant: registrant,
		maxMonths:  maxMonths,
		metrics:    params.Metrics,
		logg:       logg,
		now:        now,
	}, nil
}

func (s *service) GetOrRefreshReport(ctx context.Context, organizationID uuid.UUID, schema enums.ReportSchema, month time.Time) (*Report, error) {
	if err := validateKey(organizationID, schema, month); err != nil {
		return nil, err
	}
	return s.refreshLocked(ctx, organizationID, schema, month)
}

// RefreshCascade recomputes, in ascending order, every month from fromMonth through
// the latest month ever computed for the schema. Months in that span that were never
// computed are created so the carry-forward chain has no holes. When nothing at or
// after fromMonth was ever computed there is nothing stale and the call is a no-op.
func (s *service) RefreshCascade(ctx context.Context, organizationID uuid.UUID, schema enums.ReportSchema, fromMonth time.Time) ([]*Report, error) {
	if err := validateKey(organizationID, schema, fromMonth); err != nil {
		return nil, err
	}
	months, err := s.store.ListMonths(ctx, organizationID, schema)
	if err != nil {
		return nil, pkgerrors.Unavailable(err, "list computed months")
	}
	if len(months) == 0 {
		return nil, nil
	}
	latest, earliest := MonthOf(months[0]), MonthOf(months[len(months)-1])
	if latest.Before(fromMonth) {
		return nil, nil
	}
	start := fromMonth
	if earliest.After(start) {
		start = earliest
	}
	return s.walk(ctx, organizationID, schema, start, latest)
}

// Rebuild computes every month in [fromMonth, toMonth] in order regardless of what
// was persisted before, giving a full-history carry-forward from fromMonth's seed or
// stored predecessor.
func (s *service) Rebuild(ctx context.Context, organizationID uuid.UUID, schema enums.ReportSchema, fromMonth, toMonth time.Time) ([]*Report, error) {
	if err := validateKey(organizationID, schema, fromMonth); err != nil {
		return nil, err
	}
	if err := ValidateMonth(toMonth); err != nil {
		return nil, err
	}
	if toMonth.Before(fromMonth) {
		return nil, pkgerrors.InvalidArgument("rebuild range %s..%s is inverted", FormatMonth(fromMonth), FormatMonth(toMonth))
	}
	if span := monthSpan(fromMonth, toMonth); span > s.maxMonths {
		return nil, pkgerrors.InvalidArgument("rebuild of %d months from %s exceeds the limit of %d", span, FormatMonth(fromMonth), s.maxMonths)
	}
	return s.walk(ctx, organizationID, schema, fromMonth, toMonth)
}

// NotifyLedgerChanged cascades every schema from the affected month. Schemas are
// independent keys, so they run concurrently; one schema failing does not stop the
// others and all failures are returned together.
func (s *service) NotifyLedgerChanged(ctx context.Context, organizationID uuid.UUID, affectedMonth time.Time) error {
	if organizationID == uuid.Nil {
		return pkgerrors.InvalidArgument("organization id is required")
	}
	if affectedMonth.IsZero() {
		return pkgerrors.InvalidArgument("affected month is required")
	}
	month := MonthOf(affectedMonth)

	return s.eachSchema(func(schema enums.ReportSchema) error {
		_, err := s.RefreshCascade(ctx, organizationID, schema, month)
		return err
	})
}

// CloseMonth makes sure every schema has a record for month, creating missing ones,
// and then cascades into any later months that were already computed.
func (s *service) CloseMonth(ctx context.Context, organizationID uuid.UUID, month time.Time) error {
	if organizationID == uuid.Nil {
		return pkgerrors.InvalidArgument("organization id is required")
	}
	if err := ValidateMonth(month); err != nil {
		return err
	}
	return s.eachSchema(func(schema enums.ReportSchema) error {
		if _, err := s.refreshLocked(ctx, organizationID, schema, month); err != nil {
			return err
		}
		_, err := s.RefreshCascade(ctx, organizationID, schema, NextMonth(month))
		return err
	})
}

// eachSchema runs fn for every schema concurrently and combines every failure.
func (s *service) eachSchema(fn func(schema enums.ReportSchema) error) error {
	schemas := enums.ReportSchemas()
	errs := make([]error, len(schemas))
	var g errgroup.Group
	for i, schema := range schemas {
		g.Go(func() error {
			errs[i] = fn(schema)
			return errs[i]
		})
	}
	if err := g.Wait(); err == nil {
		return nil
	}
	return multierr.Combine(errs...)
}

// UpdateMetadata refreshes the record (creating it when needed) and then writes only
// the bookkeeping fields in patch.
func (s *service) UpdateMetadata(ctx context.Context, organizationID uuid.UUID, schema enums.ReportSchema, month time.Time, patch reports.MetadataPatch) (*Report, error) {
	if err := validateKey(organizationID, schema, month); err != nil {
		return nil, err
	}
	if patch.Variant != nil && !patch.Variant.IsValid() {
		return nil, pkgerrors.InvalidArgument("unknown report variant %q", *patch.Variant)
	}

	unlock, err := s.locker.Lock(ctx, LockKey(organizationID, schema.String(), month))
	if err != nil {
		return nil, err
	}
	defer unlock()

	report, err := s.refresh(ctx, organizationID, schema, month)
	if err != nil {
		return nil, err
	}
	if patch.Empty() {
		return report, nil
	}
	record, err := s.store.UpdateMetadata(ctx, organizationID, schema, month, patch)
	if err != nil {
		return nil, pkgerrors.Unavailable(err, "update report metadata")
	}
	if record == nil {
		return nil, pkgerrors.Unavailable(fmt.Errorf("report %s/%s vanished during update", schema, FormatMonth(month)), "update report metadata")
	}
	report.Record = record
	return report, nil
}

// ListReports refreshes every computed month of the schema and returns them most
// recent first.
func (s *service) ListReports(ctx context.Context, organizationID uuid.UUID, schema enums.ReportSchema) ([]*Report, error) {
	if organizationID == uuid.Nil {
		return nil, pkgerrors.InvalidArgument("organization id is required")
	}
	if !schema.IsValid() {
		return nil, pkgerrors.InvalidArgument("unknown report schema %q", schema)
	}
	months, err := s.store.ListMonths(ctx, organizationID, schema)
	if err != nil {
		return nil, pkgerrors.Unavailable(err, "list computed months")
	}
	if len(months) == 0 {
		return []*Report{}, nil
	}
	refreshed, err := s.walk(ctx, organizationID, schema, MonthOf(months[len(months)-1]), MonthOf(months[0]))
	if err != nil {
		return nil, err
	}
	out := make([]*Report, 0, len(refreshed))
	for i := len(refreshed) - 1; i >= 0; i-- {
		out = append(out, refreshed[i])
	}
	return out, nil
}

func (s *service) walk(ctx context.Context, organizationID uuid.UUID, schema enums.ReportSchema, from, to time.Time) ([]*Report, error) {
	out := make([]*Report, 0, monthSpan(from, to))
	for _, month := range MonthsBetween(from, to) {
		report, err := s.refreshLocked(ctx, organizationID, schema, month)
		if err != nil {
			return nil, err
		}
		out = append(out, report)
	}
	s.metrics.ObserveCascade(schema.String(), len(out))
	return out, nil
}

func (s *service) refreshLocked(ctx context.Context, organizationID uuid.UUID, schema enums.ReportSchema, month time.Time) (*Report, error) {
	unlock, err := s.locker.Lock(ctx, LockKey(organizationID, schema.String(), month))
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.refresh(ctx, organizationID, schema, month)
}

// refresh recomputes one month and writes it with a single upsert. Any failure
// before the upsert leaves the stored record untouched. Callers hold the key's lock.
func (s *service) refresh(ctx context.Context, organizationID uuid.UUID, schema enums.ReportSchema, month time.Time) (*Report, error) {
	started := time.Now()
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"organization_id": organizationID.String(),
		"schema":          schema.String(),
		"month":           FormatMonth(month),
	})

	report, err := s.compute(ctx, organizationID, schema, month)
	if err != nil {
		outcome := metrics.OutcomeError
		if pkgerrors.IsUnavailable(err) {
			outcome = metrics.OutcomeUnavailable
		}
		s.metrics.ObserveRefresh(schema.String(), outcome, time.Since(started))
		s.logg.Error(logCtx, "reconcile.refresh_failed", err)
		return nil, err
	}

	s.metrics.ObserveRefresh(schema.String(), metrics.OutcomeSuccess, time.Since(started))
	if report.NegativeEnding {
		s.metrics.IncNegativeEnding(schema.String())
		s.logg.Warn(s.logg.WithField(logCtx, "ending_balance", report.Record.EndingBalance.String()), "reconcile.negative_ending_balance")
	} else {
		s.logg.Debug(logCtx, "reconcile.refreshed")
	}
	return report, nil
}

func (s *service) compute(ctx context.Context, organizationID uuid.UUID, schema enums.ReportSchema, month time.Time) (*Report, error) {
	tracked, err := TrackedQuantities(schema)
	if err != nil {
		return nil, err
	}
	beginning, err := ResolveBeginningBalance(ctx, s.store, s.seeds, organizationID, schema, month)
	if err != nil {
		return nil, err
	}

	start, end := Window(month)
	events, err := s.ledger.ListEvents(ctx, ledger.Query{
		OrganizationID: organizationID,
		From:           &start,
		To:             &end,
	})
	if err != nil {
		return nil, pkgerrors.Unavailable(err, "query ledger")
	}

	totals, err := aggregate(events, schema, month)
	if err != nil {
		return nil, err
	}
	ending, err := EndingBalance(schema, beginning, totals)
	if err != nil {
		return nil, err
	}

	record := &models.InventoryReport{
		OrganizationID:     organizationID,
		Schema:             schema,
		Month:              month,
		BeginningBalance:   beginning,
		EndingBalance:      ending,
		RegistrationNumber: s.registrant.RegistrationNumber,
		ProprietorName:     s.registrant.ProprietorName,
		ProprietorAddress:  s.registrant.ProprietorAddress,
		EIN:                s.registrant.EIN,
		Variant:            s.registrant.Variant,
		ComputedAt:         s.now().UTC(),
	}
	for _, q := range tracked {
		setQuantity(record, q, totals.Get(q))
	}

	stored, err := s.store.Upsert(ctx, record)
	if err != nil {
		return nil, pkgerrors.Unavailable(err, "store report")
	}
	if stored == nil {
		stored = record
	}
	return &Report{
		Record:         stored,
		Tracked:        tracked,
		NegativeEnding: stored.EndingBalance.IsNegative(),
	}, nil
}

func setQuantity(record *models.InventoryReport, q Quantity, v decimal.Decimal) {
	nd := decimal.NewNullDecimal(v)
	switch q {
	case QuantityProduced:
		record.Produced = nd
	case QuantityReceived:
		record.Received = nd
	case QuantityBottled:
		record.Bottled = nd
	case QuantitySent:
		record.Sent = nd
	case QuantityLost:
		record.Lost = nd
	case QuantityTaxWithdrawn:
		record.TaxWithdrawn = nd
	}
}

func validateKey(organizationID uuid.UUID, schema enums.ReportSchema, month time.Time) error {
	if organizationID == uuid.Nil {
		return pkgerrors.InvalidArgument("organization id is required")
	}
	if !schema.IsValid() {
		return pkgerrors.InvalidArgument("unknown report schema %q", schema)
	}
	return ValidateMonth(month)
}

// monthSpan counts the months in [from, to] without materializing them.
func monthSpan(from, to time.Time) int {
	n := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month()) + 1
	if n < 0 {
		return 0
	}
	return n
}
