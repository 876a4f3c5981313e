package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/proofledger/pkg/enums"
)

// InventoryReport is the persisted monthly reconciliation for one schema.
// Quantity columns a schema does not track stay NULL.
type InventoryReport struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID   uuid.UUID           `gorm:"column:organization_id;type:uuid;not null;uniqueIndex:ux_inventory_reports_key,priority:1"`
	Schema           enums.ReportSchema  `gorm:"column:schema;type:text;not null;uniqueIndex:ux_inventory_reports_key,priority:2"`
	Month            time.Time           `gorm:"column:month;type:date;not null;uniqueIndex:ux_inventory_reports_key,priority:3"`
	BeginningBalance decimal.Decimal     `gorm:"column:beginning_balance;type:numeric(14,1);not null"`
	Produced         decimal.NullDecimal `gorm:"column:produced;type:numeric(14,1)"`
	Received         decimal.NullDecimal `gorm:"column:received;type:numeric(14,1)"`
	Bottled          decimal.NullDecimal `gorm:"column:bottled;type:numeric(14,1)"`
	Sent             decimal.NullDecimal `gorm:"column:sent;type:numeric(14,1)"`
	Lost             decimal.NullDecimal `gorm:"column:lost;type:numeric(14,1)"`
	TaxWithdrawn     decimal.NullDecimal `gorm:"column:tax_withdrawn;type:numeric(14,1)"`
	EndingBalance    decimal.Decimal     `gorm:"column:ending_balance;type:numeric(14,1);not null"`

	RegistrationNumber string              `gorm:"column:registration_number;not null;default:''"`
	ProprietorName     string              `gorm:"column:proprietor_name;not null;default:''"`
	ProprietorAddress  string              `gorm:"column:proprietor_address;not null;default:''"`
	EIN                string              `gorm:"column:ein;not null;default:''"`
	Variant            enums.ReportVariant `gorm:"column:variant;type:text;not null;default:'original'"`

	ComputedAt time.Time `gorm:"column:computed_at;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (InventoryReport) TableName() string { return "inventory_reports" }

func (r *InventoryReport) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
