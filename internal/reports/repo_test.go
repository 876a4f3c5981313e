package reports

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/proofledger/pkg/db/dbtest"
	"github.com/angelmondragon/proofledger/pkg/db/models"
	"github.com/angelmondragon/proofledger/pkg/enums"
)

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newReport(org uuid.UUID, schema enums.ReportSchema, m time.Time, beginning, ending string) *models.InventoryReport {
	return &models.InventoryReport{
		OrganizationID:   org,
		Schema:           schema,
		Month:            m,
		BeginningBalance: dec(beginning),
		Produced:         decimal.NewNullDecimal(dec("10")),
		EndingBalance:    dec(ending),
		Variant:          enums.ReportVariantOriginal,
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	repo := NewRepository(dbtest.NewClient(t).DB())
	got, err := repo.Get(context.Background(), uuid.New(), enums.ReportSchemaA, month(2024, time.April))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpsertReplacesComputedFieldsAndKeepsMetadata(t *testing.T) {
	repo := NewRepository(dbtest.NewClient(t).DB())
	ctx := context.Background()
	org := uuid.New()
	april := month(2024, time.April)

	first := newReport(org, enums.ReportSchemaA, april, "245.6", "330.1")
	first.ProprietorName = "Old Mill Distillery"
	stored, err := repo.Upsert(ctx, first)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.EndingBalance.Equal(dec("330.1")))
	assert.Equal(t, "Old Mill Distillery", stored.ProprietorName)
	assert.False(t, stored.Sent.Valid)

	second := newReport(org, enums.ReportSchemaA, april, "245.6", "300.0")
	second.ProprietorName = "ignored on conflict"
	updated, err := repo.Upsert(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, stored.ID, updated.ID)
	assert.True(t, updated.EndingBalance.Equal(dec("300")))
	assert.Equal(t, "Old Mill Distillery", updated.ProprietorName)

	months, err := repo.ListMonths(ctx, org, enums.ReportSchemaA)
	require.NoError(t, err)
	assert.Len(t, months, 1)
}

func TestUpdateMetadata(t *testing.T) {
	repo := NewRepository(dbtest.NewClient(t).DB())
	ctx := context.Background()
	org := uuid.New()
	april := month(2024, time.April)

	_, err := repo.Upsert(ctx, newReport(org, enums.ReportSchemaB, april, "200.5", "200.5"))
	require.NoError(t, err)

	ein := "12-3456789"
	amended := enums.ReportVariantAmended
	got, err := repo.UpdateMetadata(ctx, org, enums.ReportSchemaB, april, MetadataPatch{EIN: &ein, Variant: &amended})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ein, got.EIN)
	assert.Equal(t, enums.ReportVariantAmended, got.Variant)
	assert.True(t, got.EndingBalance.Equal(dec("200.5")))

	missing, err := repo.UpdateMetadata(ctx, org, enums.ReportSchemaB, month(2024, time.May), MetadataPatch{EIN: &ein})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListMonthsMostRecentFirstPerSchema(t *testing.T) {
	repo := NewRepository(dbtest.NewClient(t).DB())
	ctx := context.Background()
	org := uuid.New()
	other := uuid.New()

	for _, m := range []time.Time{month(2024, time.February), month(2024, time.April), month(2023, time.December)} {
		_, err := repo.Upsert(ctx, newReport(org, enums.ReportSchemaC, m, "1", "1"))
		require.NoError(t, err)
	}
	_, err := repo.Upsert(ctx, newReport(org, enums.ReportSchemaA, month(2025, time.January), "1", "1"))
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, newReport(other, enums.ReportSchemaC, month(2025, time.January), "1", "1"))
	require.NoError(t, err)

	months, err := repo.ListMonths(ctx, org, enums.ReportSchemaC)
	require.NoError(t, err)
	require.Len(t, months, 3)
	assert.True(t, months[0].Equal(month(2024, time.April)))
	assert.True(t, months[1].Equal(month(2024, time.February)))
	assert.True(t, months[2].Equal(month(2023, time.December)))

	orgs, err := repo.ListOrganizationIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{org, other}, orgs)
}

func TestMetadataPatchEmpty(t *testing.T) {
	assert.True(t, MetadataPatch{}.Empty())
	name := "x"
	assert.False(t, MetadataPatch{ProprietorName: &name}.Empty())
}
