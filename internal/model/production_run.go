package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RunStatus is the lifecycle state of a production run.
type RunStatus string

const (
	RunOpen         RunStatus = "open"
	RunPlanned      RunStatus = "planned"
	RunInProduction RunStatus = "in_production"
	RunCompleted    RunStatus = "completed"
)

// ProductionRun is one build job on a single platform. Its area counters are
// owned exclusively by the run and guarded by Version.
type ProductionRun struct {
	ID            uint   `gorm:"primaryKey"`
	RunNumber     string `gorm:"size:64;uniqueIndex;not null"`
	Name          string `gorm:"size:255;not null"`
	Machine       string `gorm:"size:64;not null;index:idx_run_designation"`
	MaterialGroup string `gorm:"size:64;not null;index:idx_run_designation"`

	UsableAreaCM2    decimal.Decimal `gorm:"type:numeric(12,4);not null"`
	ConsumedAreaCM2  decimal.Decimal `gorm:"type:numeric(12,4);not null"`
	AvailableAreaCM2 decimal.Decimal `gorm:"type:numeric(12,4);not null"`

	PlannedStartDate *time.Time `gorm:"type:date"`
	PlannedEndDate   *time.Time `gorm:"type:date"`

	TotalPriceEUR   decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	TotalBuildTimeH decimal.Decimal `gorm:"type:numeric(8,2);not null"`

	Status    RunStatus `gorm:"size:32;not null;index"`
	Version   int64     `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`

	// Associations
	Assignments []Assignment `gorm:"foreignKey:RunID"`
}

// AcceptsAllocation reports whether parts may be added to or removed from the run.
func (r *ProductionRun) AcceptsAllocation() bool {
	return r.Status == RunOpen || r.Status == RunPlanned
}

// Reserve consumes area from the platform budget.
func (r *ProductionRun) Reserve(area decimal.Decimal) error {
	if area.IsNegative() {
		return fmt.Errorf("run %d: negative area %s", r.ID, area)
	}
	consumed := r.ConsumedAreaCM2.Add(area)
	if consumed.GreaterThan(r.UsableAreaCM2) {
		return fmt.Errorf("run %d: %s cm2 exceeds available %s cm2", r.ID, area, r.AvailableAreaCM2)
	}
	r.ConsumedAreaCM2 = consumed
	r.AvailableAreaCM2 = r.UsableAreaCM2.Sub(consumed)
	return nil
}

// Release returns area to the platform budget.
func (r *ProductionRun) Release(area decimal.Decimal) error {
	if area.IsNegative() {
		return fmt.Errorf("run %d: negative area %s", r.ID, area)
	}
	consumed := r.ConsumedAreaCM2.Sub(area)
	if consumed.IsNegative() {
		return fmt.Errorf("run %d: releasing %s cm2 but only %s cm2 consumed", r.ID, area, r.ConsumedAreaCM2)
	}
	r.ConsumedAreaCM2 = consumed
	r.AvailableAreaCM2 = r.UsableAreaCM2.Sub(consumed)
	return nil
}

// FillPercent is the consumed share of the usable area, rounded to one decimal.
func (r *ProductionRun) FillPercent() decimal.Decimal {
	if r.UsableAreaCM2.IsZero() {
		return decimal.Zero
	}
	return r.ConsumedAreaCM2.Div(r.UsableAreaCM2).Mul(decimal.NewFromInt(100)).Round(1)
}
