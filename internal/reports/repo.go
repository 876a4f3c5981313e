package reports

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/proofledger/internal/repo"
	"github.com/angelmondragon/proofledger/pkg/db/models"
	"github.com/angelmondragon/proofledger/pkg/enums"
)

// computedColumns are overwritten on every refresh; everything else survives it.
var computedColumns = []string{
	"beginning_balance",
	"produced",
	"received",
	"bottled",
	"sent",
	"lost",
	"tax_withdrawn",
	"ending_balance",
	"computed_at",
	"updated_at",
}

// Metadata is the bookkeeping block a user may edit directly. It is never derived
// from the ledger.
type Metadata struct {
	RegistrationNumber string
	ProprietorName     string
	ProprietorAddress  string
	EIN                string
	Variant            enums.ReportVariant
}

// MetadataPatch carries the metadata fields to change; nil leaves a field alone.
type MetadataPatch struct {
	RegistrationNumber *string
	ProprietorName     *string
	ProprietorAddress  *string
	EIN                *string
	Variant            *enums.ReportVariant
}

// Empty reports whether the patch changes nothing.
func (p MetadataPatch) Empty() bool {
	return p.RegistrationNumber == nil &&
		p.ProprietorName == nil &&
		p.ProprietorAddress == nil &&
		p.EIN == nil &&
		p.Variant == nil
}

func (p MetadataPatch) columns() map[string]any {
	cols := map[string]any{}
	if p.RegistrationNumber != nil {
		cols["registration_number"] = *p.RegistrationNumber
	}
	if p.ProprietorName != nil {
		cols["proprietor_name"] = *p.ProprietorName
	}
	if p.ProprietorAddress != nil {
		cols["proprietor_address"] = *p.ProprietorAddress
	}
	if p.EIN != nil {
		cols["ein"] = *p.EIN
	}
	if p.Variant != nil {
		cols["variant"] = *p.Variant
	}
	return cols
}

// MetadataOf extracts the bookkeeping block from a stored report.
func MetadataOf(r *models.InventoryReport) Metadata {
	return Metadata{
		RegistrationNumber: r.RegistrationNumber,
		ProprietorName:     r.ProprietorName,
		ProprietorAddress:  r.ProprietorAddress,
		EIN:                r.EIN,
		Variant:            r.Variant,
	}
}

// Repository is the keyed report store. Records are addressed by
// (organization, schema, month) where month is the first of the month in UTC.
type Repository interface {
	Get(ctx context.Context, organizationID uuid.UUID, schema enums.ReportSchema, month time.Time) (*models.InventoryReport, error)
	Upsert(ctx context.Context, report *models.InventoryReport) (*models.InventoryReport, error)
	UpdateMetadata(ctx context.Context, organizationID uuid.UUID, schema enums.ReportSchema, month time.Time, patch MetadataPatch) (*models.InventoryReport, error)
	ListMonths(ctx context.Context, organizationID uuid.UUID, schema enums.ReportSchema) ([]time.Time, error)
	ListOrganizationIDs(ctx context.Context) ([]uuid.UUID, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func keyConditions(organizationID uuid.UUID, schema enums.ReportSchema, month time.Time) map[string]any {
	return map[string]any{
		"organization_id": organizationID,
		"schema":          schema,
		"month":           month,
	}
}

// Get returns nil, nil when no report exists for the key.
func (r *repository) Get(ctx context.Context, organizationID uuid.UUID, schema enums.ReportSchema, month time.Time) (*models.InventoryReport, error) {
	var report models.InventoryReport
	err := r.DB(ctx).
		Where(keyConditions(organizationID, schema, month)).
		Take(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// Upsert writes the computed columns of report in one statement. On first insert the
// metadata on report is stored as given; on conflict the stored metadata is kept.
func (r *repository) Upsert(ctx context.Context, report *models.InventoryReport) (*models.InventoryReport, error) {
	if report.ComputedAt.IsZero() {
		report.ComputedAt = time.Now().UTC()
	}
	err := r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "organization_id"},
				{Name: "schema"},
				{Name: "month"},
			},
			DoUpdates: clause.AssignmentColumns(computedColumns),
		}).
		Create(report).Error
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, report.OrganizationID, report.Schema, report.Month)
}

// UpdateMetadata patches the bookkeeping block and returns the stored record, or
// nil, nil when the record does not exist.
func (r *repository) UpdateMetadata(ctx context.Context, organizationID uuid.UUID, schema enums.ReportSchema, month time.Time, patch MetadataPatch) (*models.InventoryReport, error) {
	if !patch.Empty() {
		cols := patch.columns()
		cols["updated_at"] = time.Now().UTC()
		err := r.DB(ctx).
			Model(&models.InventoryReport{}).
			Where(keyConditions(organizationID, schema, month)).
			Updates(cols).Error
		if err != nil {
			return nil, err
		}
	}
	return r.Get(ctx, organizationID, schema, month)
}

// ListMonths returns every computed month for the schema, most recent first.
func (r *repository) ListMonths(ctx context.Context, organizationID uuid.UUID, schema enums.ReportSchema) ([]time.Time, error) {
	var months []time.Time
	err := r.DB(ctx).
		Model(&models.InventoryReport{}).
		Where(map[string]any{"organization_id": organizationID, "schema": schema}).
		Order("month DESC").
		Pluck("month", &months).Error
	if err != nil {
		return nil, err
	}
	for i := range months {
		months[i] = months[i].UTC()
	}
	return months, nil
}

// ListOrganizationIDs returns every organization holding at least one report.
func (r *repository) ListOrganizationIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.DB(ctx).
		Model(&models.InventoryReport{}).
		Distinct("organization_id").
		Pluck("organization_id", &ids).Error
	return ids, err
}
