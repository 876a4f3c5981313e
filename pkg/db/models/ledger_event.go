package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/proofledger/pkg/enums"
)

// Column scales of the stored quantities. Inputs with more fractional digits would be
// rounded by postgres.
const (
	VolumeLitersScale  = 3
	StrengthProofScale = 2
)

// LedgerEvent is one recorded spirits operation. Proof gallons are never stored;
// readers derive them from VolumeLiters and StrengthProof.
type LedgerEvent struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID uuid.UUID       `gorm:"column:organization_id;type:uuid;not null;index:idx_ledger_events_org_date,priority:1"`
	Kind           enums.EventKind `gorm:"column:kind;type:text;not null"`
	OccurredOn     time.Time       `gorm:"column:occurred_on;type:date;not null;index:idx_ledger_events_org_date,priority:2"`
	VolumeLiters   decimal.Decimal `gorm:"column:volume_liters;type:numeric(14,3);not null"`
	StrengthProof  decimal.Decimal `gorm:"column:strength_proof;type:numeric(5,2);not null"`
	BatchID        *string         `gorm:"column:batch_id"`
	ProductID      *string         `gorm:"column:product_id"`
	Bottles        *int            `gorm:"column:bottles"`
	BottleSizeML   *int            `gorm:"column:bottle_size_ml"`
	Counterparty   *string         `gorm:"column:counterparty"`
	Notes          *string         `gorm:"column:notes"`
	OperatorID     *string         `gorm:"column:operator_id"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (LedgerEvent) TableName() string { return "ledger_events" }

func (e *LedgerEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
