package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Decision is the outcome recorded for one allocation attempt.
type Decision string

const (
	DecisionNested           Decision = "nested"
	DecisionRejectedNoSpace  Decision = "rejected_no_space"
	DecisionRejectedDeadline Decision = "rejected_deadline"
	DecisionRemoved          Decision = "removed"
)

// ErrImmutableLogEntry is returned when something tries to change a written entry.
var ErrImmutableLogEntry = errors.New("decision log entries are append-only")

// DecisionLogEntry records why an allocation attempt succeeded or failed.
type DecisionLogEntry struct {
	ID            uint     `gorm:"primaryKey"`
	AttemptID     string   `gorm:"size:36;not null;uniqueIndex"`
	RunID         *uint    `gorm:"index"`
	PartRequestID uint     `gorm:"not null;index"`
	Decision      Decision `gorm:"size:32;not null"`

	AreaBeforeCM2   decimal.Decimal `gorm:"type:numeric(12,4);not null"`
	AreaRequiredCM2 decimal.Decimal `gorm:"type:numeric(12,4);not null"`
	AreaAfterCM2    decimal.Decimal `gorm:"type:numeric(12,4);not null"`

	LeadTimeImpactDays int    `gorm:"not null;default:0"`
	ReasoningSummary   string `gorm:"type:text"`

	DecidedAt time.Time `gorm:"not null;index"`

	// Associations
	Run         *ProductionRun `gorm:"constraint:OnDelete:RESTRICT"`
	PartRequest PartRequest    `gorm:"constraint:OnDelete:RESTRICT"`
}

// BeforeUpdate keeps the log append-only.
func (e *DecisionLogEntry) BeforeUpdate(*gorm.DB) error {
	return ErrImmutableLogEntry
}

// BeforeDelete keeps the log append-only.
func (e *DecisionLogEntry) BeforeDelete(*gorm.DB) error {
	return ErrImmutableLogEntry
}
