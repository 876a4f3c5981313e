package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/angelmondragon/proofledger/internal/ledger"
	"github.com/angelmondragon/proofledger/internal/reports"
	"github.com/angelmondragon/proofledger/pkg/db/dbtest"
	"github.com/angelmondragon/proofledger/pkg/db/models"
	"github.com/angelmondragon/proofledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/proofledger/pkg/errors"
	"github.com/angelmondragon/proofledger/pkg/metrics"
)

type harness struct {
	svc     Service
	ledger  ledger.Repository
	reports reports.Repository
	org     uuid.UUID
	reg     *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := dbtest.NewClient(t)
	h := &harness{
		ledger:  ledger.NewRepository(client.DB()),
		reports: reports.NewRepository(client.DB()),
		org:     uuid.New(),
		reg:     prometheus.NewRegistry(),
	}
	svc, err := NewService(ServiceParams{
		Ledger:     h.ledger,
		Store:      h.reports,
		Seeds:      testSeeds(),
		Registrant: reports.Metadata{ProprietorName: "Copper Fox Spirits", RegistrationNumber: "DSP-KY-15012"},
		Metrics:    metrics.NewReconcileMetrics(h.reg),
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) record(t *testing.T, kind enums.EventKind, on time.Time, liters, proof string) *models.LedgerEvent {
	t.Helper()
	e := event(kind, on, liters, proof)
	e.OrganizationID = h.org
	require.NoError(t, h.ledger.Create(context.Background(), &e))
	return &e
}

func TestGetOrRefreshReportConcreteScenario(t *testing.T) {
	h := newHarness(t)
	h.record(t, enums.EventKindProduction, date(2024, time.April, 5), "400", "90")
	h.record(t, enums.EventKindLoss, date(2024, time.April, 30), "50", "80")

	report, err := h.svc.GetOrRefreshReport(context.Background(), h.org, enums.ReportSchemaA, month(2024, time.April))
	require.NoError(t, err)

	rec := report.Record
	assertDecimal(t, "245.6", rec.BeginningBalance)
	assertDecimal(t, "95.1", rec.Produced.Decimal)
	assertDecimal(t, "10.6", rec.Lost.Decimal)
	assertDecimal(t, "0", rec.Received.Decimal)
	assertDecimal(t, "0", rec.Sent.Decimal)
	assertDecimal(t, "0", rec.Bottled.Decimal)
	assertDecimal(t, "330.1", rec.EndingBalance)
	assert.False(t, rec.TaxWithdrawn.Valid)
	assert.False(t, report.NegativeEnding)
	assert.Empty(t, report.Warnings())
	assert.Equal(t, "Copper Fox Spirits", rec.ProprietorName)
	assert.Equal(t, enums.ReportVariantOriginal, rec.Variant)

	lost, tracked := report.Quantity(QuantityLost)
	assert.True(t, tracked)
	assertDecimal(t, "10.6", lost)
	_, tracked = report.Quantity(QuantityTaxWithdrawn)
	assert.False(t, tracked)
}

func TestWindowEndIncludedAndExcludedFromNextMonth(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.record(t, enums.EventKindProduction, date(2024, time.April, 30), "100", "100")

	april, err := h.svc.GetOrRefreshReport(ctx, h.org, enums.ReportSchemaC, month(2024, time.April))
	require.NoError(t, err)
	assertDecimal(t, "26.4", april.Record.Produced.Decimal)

	may, err := h.svc.GetOrRefreshReport(ctx, h.org, enums.ReportSchemaC, month(2024, time.May))
	require.NoError(t, err)
	assertDecimal(t, "0", may.Record.Produced.Decimal)
	assertDecimal(t, april.Record.EndingBalance.String(), may.Record.BeginningBalance)
}

func TestGetOrRefreshReportIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.record(t, enums.EventKindBottling, date(2024, time.June, 3), "120.5", "86")
	h.record(t, enums.EventKindTaxWithdrawal, date(2024, time.June, 20), "40", "86")

	first, err := h.svc.GetOrRefreshReport(ctx, h.org, enums.ReportSchemaB, month(2024, time.June))
	require.NoError(t, err)
	second, err := h.svc.GetOrRefreshReport(ctx, h.org, enums.ReportSchemaB, month(2024, time.June))
	require.NoError(t, err)

	assert.Equal(t, first.Record.ID, second.Record.ID)
	assert.Equal(t, first.Record.BeginningBalance.String(), second.Record.BeginningBalance.String())
	assert.Equal(t, first.Record.Bottled.Decimal.String(), second.Record.Bottled.Decimal.String())
	assert.Equal(t, first.Record.TaxWithdrawn.Decimal.String(), second.Record.TaxWithdrawn.Decimal.String())
	assert.Equal(t, first.Record.EndingBalance.String(), second.Record.EndingBalance.String())

	months, err := h.reports.ListMonths(ctx, h.org, enums.ReportSchemaB)
	require.NoError(t, err)
	assert.Len(t, months, 1)
}

func TestSchemaIsolation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.record(t, enums.EventKindTaxWithdrawal, date(2024, time.April, 9), "100", "100")

	a, err := h.svc.GetOrRefreshReport(ctx, h.org, enums.ReportSchemaA, month(2024, time.April))
	require.NoError(t, err)
	assertDecimal(t, "245.6", a.Record.EndingBalance)

	c, err := h.svc.GetOrRefreshReport(ctx, h.org, enums.ReportSchemaC, month(2024, time.April))
	require.NoError(t, err)
	assertDecimal(t, "310.2", c.Record.EndingBalance)

	b, err := h.svc.GetOrRefreshReport(ctx, h.org, enums.ReportSchemaB, month(2024, time.April))
	require.NoError(t, err)
	assertDecimal(t, "26.4", b.Record.TaxWithdrawn.Decimal)
	assertDecimal(t, "174.1", b.Record.EndingBalance)
}

func TestCascadeRecomputesLaterMonthsInOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.record(t, enums.EventKindProduction, date(2024, time.January, 10), "100", "100")
	h.record(t, enums.EventKindProduction, date(2024, time.February, 10), "100", "100")

	for _, m := range []time.Month{time.January, time.February, time.March} {
		_, err := h.svc.GetOrRefreshReport(ctx, h.org, enums.ReportSchemaA, month(2024, m))
		require.NoError(t, err)
	}
	march, err := h.reports.Get(ctx, h.org, enums.ReportSchemaA, month(2024, time.March))
	require.NoError(t, err)
	assertDecimal(t, "298.4", march.EndingBalance)

	// a late entry into January must shift every later month
	h.record(t, enums.EventKindLoss, date(2024, time.January, 31), "100", "100")
	refreshed, err := h.svc.RefreshCascade(ctx, h.org, enums.ReportSchemaA, month(2024, time.January))
	require.NoError(t, err)
	require.Len(t, refreshed, 3)

	prev := refreshed[0]
	assertDecimal(t, "245.6", prev.Record.EndingBalance)
	for _, r := range refreshed[1:] {
		assert.True(t, r.Record.BeginningBalance.Equal(prev.Record.EndingBalance),
			"%s begins at %s but previous ended at %s", FormatMonth(r.Record.Month), r.Record.BeginningBalance, prev.Record.EndingBalance)
		prev = r
	}
	assertDecimal(t, "272", prev.Record.EndingBalance)
}

func TestCascadeFillsGapsAndNoopsWhenNothingLater(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.GetOrRefreshReport(ctx, h.org, enums.ReportSchemaC, month(2024, time.January))
	require.NoError(t, err)
	_, err = h.svc.GetOrRefreshReport(ctx, h.org, enums.ReportSchemaC, month(2024, time.April))
	require.NoError(t, err)

	none, err := h.svc.RefreshCascade(ctx, h.org, enums.ReportSchemaC, month(2024, time.May))
	require.NoError(t, err)
	assert.Empty(t, none)

	walked, err := h.svc.RefreshCascade(ctx, h.org, enums.ReportSchemaC, month(2023, time.June))
	require.NoError(t, err)
	require.Len(t, walked, 4)
	assert.Equal(t, month(2024, time.January), walked[0].Record.Month.UTC())

	months, err := h.reports.ListMonths(ctx, h.org, enums.ReportSchemaC)
	require.NoError(t, err)
	assert.Len(t, months, 4)

	empty, err := h.svc.RefreshCascade(ctx, h.org, enums.ReportSchemaB, month(2024, time.January))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCascadeWalksDecadesOfHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, m := range []time.Time{month(2014, time.January), month(2025, time.January)} {
		_, err := h.svc.GetOrRefreshReport(ctx, h.org, enums.ReportSchemaA, m)
		require.NoError(t, err)
	}
	h.record(t, enums.EventKindProduction, date(2014, time.January, 20), "100", "100")

	require.NoError(t, h.svc.NotifyLedgerChanged(ctx, h.org, month(2014, time.January)))
	latest, err := h.reports.Get(ctx, h.org, enums.ReportSchemaA, month(2025, time.January))
	require.NoError(t, err)
	assertDecimal(t, "272", latest.BeginningBalance)

	list, err := h.svc.ListReports(ctx, h.org, enums.ReportSchemaA)
	require.NoError(t, err)
	require.Len(t, list, 133)
	assert.Equal(t, month(2025, time.January), list[0].Record.Month.UTC())
	assert.Equal(t, month(2014, time.January), list[132].Record.Month.UTC())
}

func TestCloseMonthCreatesMissingRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.record(t, enums.EventKindProduction, date(2024, time.February, 3), "100", "100")
	_, err := h.svc.GetOrRefreshReport(ctx, h.org, enums.ReportSchemaA, month(2024, time.May))
	require.NoError(t, err)

	require.NoError(t, h.svc.CloseMonth(ctx, h.org, month(2024, time.February)))

	for _, schema := range enums.ReportSchemas() {
		got, err := h.reports.Get(ctx, h.org, schema, month(2024, time.February))
		require.NoError(t, err)
		require.NotNil(t, got, "schema %s", schema)
	}
	months, err := h.reports.ListMonths(ctx, h.org, enums.ReportSchemaA)
	require.NoError(t, err)
	assert.Len(t, months, 4)
	may, err := h.reports.Get(ctx, h.org, enums.ReportSchemaA, month(2024, time.May))
	require.NoError(t, err)
	assertDecimal(t, "272", may.BeginningBalance)

	assert.True(t, pkgerrors.IsInvalidArgument(h.svc.CloseMonth(ctx, uuid.Nil, month(2024, time.February))))
	assert.True(t, pkgerrors.IsInvalidArgument(h.svc.CloseMonth(ctx, h.org, date(2024, time.February, 2))))
}

func TestNotifyLedgerChangedRefreshesAllSchemas(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, schema := range enums.ReportSchemas() {
		_, err := h.svc.GetOrRefreshReport(ctx, h.org, schema, month(2024, time.March))
		require.NoError(t, err)
	}

	h.record(t, enums.EventKindBottling, date(2024, time.March, 15), "100", "100")
	require.NoError(t, h.svc.NotifyLedgerChanged(ctx, h.org, date(2024, time.March, 15)))

	a, err := h.reports.Get(ctx, h.org, enums.ReportSchemaA, month(2024, time.March))
	require.NoError(t, err)
	assertDecimal(t, "219.2", a.EndingBalance)

	b, err := h.reports.Get(ctx, h.org, enums.ReportSchemaB, month(2024, time.March))
	require.NoError(t, err)
	assertDecimal(t, "226.9", b.EndingBalance)

	c, err := h.reports.Get(ctx, h.org, enums.ReportSchemaC, month(2024, time.March))
	require.NoError(t, err)
	assertDecimal(t, "283.8", c.EndingBalance)
}

func TestNegativeEndingSurfacesAsWarning(t *testing.T) {
	h := newHarness(t)
	h.record(t, enums.EventKindTaxWithdrawal, date(2024, time.April, 2), "1000", "100")

	report, err := h.svc.GetOrRefreshReport(context.Background(), h.org, enums.ReportSchemaB, month(2024, time.April))
	require.NoError(t, err)
	assert.True(t, report.Record.EndingBalance.IsNegative())
	assert.True(t, report.NegativeEnding)
	assert.Equal(t, []string{WarningNegativeEnding}, report.Warnings())

	count := testutil.ToFloat64(h.metricNegative("B"))
	assert.Equal(t, float64(1), count)
}

func (h *harness) metricNegative(schema string) prometheus.Collector {
	// re-registering an identical collector returns the existing one
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proofledger_reconcile_negative_ending_total",
		Help: "Recomputed reports whose ending balance is negative.",
	}, []string{"schema"})
	if err := h.reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector.(*prometheus.CounterVec).WithLabelValues(schema)
		}
	}
	return c.WithLabelValues(schema)
}

func TestInvalidArguments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.GetOrRefreshReport(ctx, h.org, enums.ReportSchema("D"), month(2024, time.April))
	assert.True(t, pkgerrors.IsInvalidArgument(err))

	_, err = h.svc.GetOrRefreshReport(ctx, h.org, enums.ReportSchemaA, date(2024, time.April, 2))
	assert.True(t, pkgerrors.IsInvalidArgument(err))

	_, err = h.svc.GetOrRefreshReport(ctx, uuid.Nil, enums.ReportSchemaA, month(2024, time.April))
	assert.True(t, pkgerrors.IsInvalidArgument(err))

	_, err = h.svc.Rebuild(ctx, h.org, enums.ReportSchemaA, month(2024, time.April), month(2024, time.March))
	assert.True(t, pkgerrors.IsInvalidArgument(err))

	_, err = h.svc.Rebuild(ctx, h.org, enums.ReportSchemaA, month(2000, time.January), month(2024, time.March))
	assert.True(t, pkgerrors.IsInvalidArgument(err))

	months, err := h.reports.ListMonths(ctx, h.org, enums.ReportSchemaA)
	require.NoError(t, err)
	assert.Empty(t, months)
}

func TestRebuildWalksFullRange(t *testing.T) {
	h := newHarness(t)
	h.record(t, enums.EventKindProduction, date(2023, time.November, 1), "100", "100")

	out, err := h.svc.Rebuild(context.Background(), h.org, enums.ReportSchemaA, month(2023, time.October), month(2024, time.January))
	require.NoError(t, err)
	require.Len(t, out, 4)
	assertDecimal(t, "245.6", out[0].Record.EndingBalance)
	for _, r := range out[1:] {
		assertDecimal(t, "272", r.Record.EndingBalance)
	}
}

func TestUpdateMetadataPreservedAcrossRefresh(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ein := "98-7654321"
	final := enums.ReportVariantFinal
	report, err := h.svc.UpdateMetadata(ctx, h.org, enums.ReportSchemaA, month(2024, time.April), reports.MetadataPatch{EIN: &ein, Variant: &final})
	require.NoError(t, err)
	assert.Equal(t, ein, report.Record.EIN)
	assert.Equal(t, enums.ReportVariantFinal, report.Record.Variant)

	h.record(t, enums.EventKindProduction, date(2024, time.April, 2), "100", "100")
	refreshed, err := h.svc.GetOrRefreshReport(ctx, h.org, enums.ReportSchemaA, month(2024, time.April))
	require.NoError(t, err)
	assert.Equal(t, ein, refreshed.Record.EIN)
	assert.Equal(t, enums.ReportVariantFinal, refreshed.Record.Variant)
	assertDecimal(t, "272", refreshed.Record.EndingBalance)

	bogus := enums.ReportVariant("draft")
	_, err = h.svc.UpdateMetadata(ctx, h.org, enums.ReportSchemaA, month(2024, time.April), reports.MetadataPatch{Variant: &bogus})
	assert.True(t, pkgerrors.IsInvalidArgument(err))
}

func TestListReportsMostRecentFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	empty, err := h.svc.ListReports(ctx, h.org, enums.ReportSchemaB)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = h.svc.GetOrRefreshReport(ctx, h.org, enums.ReportSchemaB, month(2024, time.February))
	require.NoError(t, err)
	_, err = h.svc.GetOrRefreshReport(ctx, h.org, enums.ReportSchemaB, month(2024, time.April))
	require.NoError(t, err)

	list, err := h.svc.ListReports(ctx, h.org, enums.ReportSchemaB)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, month(2024, time.April), list[0].Record.Month.UTC())
	assert.Equal(t, month(2024, time.February), list[2].Record.Month.UTC())
}

// failingStore wraps a real store and fails chosen operations.
type failingStore struct {
	ReportStore
	mu         sync.Mutex
	failUpsert bool
	upserts    int
}

func (f *failingStore) Upsert(ctx context.Context, report *models.InventoryReport) (*models.InventoryReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpsert {
		return nil, errors.New("write timeout")
	}
	f.upserts++
	return f.ReportStore.Upsert(ctx, report)
}

type failingLedger struct{}

func (failingLedger) ListEvents(context.Context, ledger.Query) ([]models.LedgerEvent, error) {
	return nil, errors.New("ledger offline")
}

func TestIOFailuresAreUnavailableWithoutPartialWrites(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	store := &failingStore{ReportStore: h.reports}
	svc, err := NewService(ServiceParams{Ledger: failingLedger{}, Store: store, Seeds: testSeeds()})
	require.NoError(t, err)

	_, err = svc.GetOrRefreshReport(ctx, h.org, enums.ReportSchemaA, month(2024, time.April))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsUnavailable(err))
	assert.Zero(t, store.upserts)

	store.failUpsert = true
	svc, err = NewService(ServiceParams{Ledger: h.ledger, Store: store, Seeds: testSeeds()})
	require.NoError(t, err)
	_, err = svc.GetOrRefreshReport(ctx, h.org, enums.ReportSchemaA, month(2024, time.April))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsUnavailable(err))

	got, err := h.reports.Get(ctx, h.org, enums.ReportSchemaA, month(2024, time.April))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNotifyLedgerChangedCombinesFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, schema := range enums.ReportSchemas() {
		_, err := h.svc.GetOrRefreshReport(ctx, h.org, schema, month(2024, time.March))
		require.NoError(t, err)
	}

	svc, err := NewService(ServiceParams{Ledger: failingLedger{}, Store: h.reports, Seeds: testSeeds()})
	require.NoError(t, err)
	err = svc.NotifyLedgerChanged(ctx, h.org, month(2024, time.March))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsUnavailable(err))
	assert.Len(t, multierr.Errors(err), len(enums.ReportSchemas()))

	assert.True(t, pkgerrors.IsInvalidArgument(svc.NotifyLedgerChanged(ctx, uuid.Nil, month(2024, time.March))))
}

func TestNewServiceRequiresSeeds(t *testing.T) {
	_, err := NewService(ServiceParams{Ledger: failingLedger{}, Store: &failingStore{}, Seeds: Seeds{enums.ReportSchemaA: dec("1")}})
	require.Error(t, err)
}
