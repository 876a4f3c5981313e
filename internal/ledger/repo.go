package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/proofledger/internal/repo"
	"github.com/angelmondragon/proofledger/pkg/db/models"
	"github.com/angelmondragon/proofledger/pkg/enums"
)

// Query selects ledger events for one organization. Nil filters are open-ended;
// From and To are inclusive calendar dates.
type Query struct {
	OrganizationID uuid.UUID
	Kind           *enums.EventKind
	From           *time.Time
	To             *time.Time
}

// Repository manages persistence for ledger events.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.LedgerEvent) error
	Save(ctx context.Context, event *models.LedgerEvent) error
	Delete(ctx context.Context, organizationID, id uuid.UUID) error
	FindByID(ctx context.Context, organizationID, id uuid.UUID) (*models.LedgerEvent, error)
	ListEvents(ctx context.Context, q Query) ([]models.LedgerEvent, error)
	ListOrganizationIDs(ctx context.Context) ([]uuid.UUID, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{Base: r.Base.WithTx(tx)}
}

func (r *repository) Create(ctx context.Context, event *models.LedgerEvent) error {
	return r.DB(ctx).Create(event).Error
}

func (r *repository) Save(ctx context.Context, event *models.LedgerEvent) error {
	return r.DB(ctx).Save(event).Error
}

func (r *repository) Delete(ctx context.Context, organizationID, id uuid.UUID) error {
	return r.DB(ctx).
		Where("organization_id = ? AND id = ?", organizationID, id).
		Delete(&models.LedgerEvent{}).Error
}

// FindByID returns nil, nil when the event does not exist for the organization.
func (r *repository) FindByID(ctx context.Context, organizationID, id uuid.UUID) (*models.LedgerEvent, error) {
	var event models.LedgerEvent
	err := r.DB(ctx).
		Where("organization_id = ? AND id = ?", organizationID, id).
		Take(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// ListEvents returns every matching event ordered by date then insertion.
func (r *repository) ListEvents(ctx context.Context, q Query) ([]models.LedgerEvent, error) {
	query := r.DB(ctx).Where("organization_id = ?", q.OrganizationID)
	if q.Kind != nil {
		query = query.Where("kind = ?", *q.Kind)
	}
	if q.From != nil {
		query = query.Where("occurred_on >= ?", dateOnly(*q.From))
	}
	if q.To != nil {
		query = query.Where("occurred_on <= ?", dateOnly(*q.To))
	}

	var events []models.LedgerEvent
	if err := query.
		Order("occurred_on ASC").
		Order("created_at ASC").
		Order("id ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) ListOrganizationIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.DB(ctx).
		Model(&models.LedgerEvent{}).
		Distinct("organization_id").
		Order("organization_id ASC").
		Pluck("organization_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
