package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Assignment places one part-request on one production run. A part has at
// most one assignment; reallocation deletes it and creates a new one.
type Assignment struct {
	ID            uint `gorm:"primaryKey"`
	RunID         uint `gorm:"not null;index;uniqueIndex:uq_run_part"`
	PartRequestID uint `gorm:"not null;uniqueIndex;uniqueIndex:uq_run_part"`

	// AreaCM2 is the area reserved on the run at assignment time.
	AreaCM2 decimal.Decimal `gorm:"type:numeric(12,4);not null"`

	CombinedPriceEUR      decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	CombinedBuildTimeH    decimal.Decimal `gorm:"type:numeric(8,2);not null"`
	PriceReductionEUR     decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	PriceReductionPercent decimal.Decimal `gorm:"type:numeric(5,2);not null"`

	AssignedAt time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`

	// Associations
	Run         ProductionRun `gorm:"constraint:OnDelete:CASCADE"`
	PartRequest PartRequest   `gorm:"constraint:OnDelete:CASCADE"`
}
