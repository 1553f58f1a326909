package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// NotificationType distinguishes first-time from returning customers.
type NotificationType string

const (
	NotificationCurrent   NotificationType = "price_reduction_current"
	NotificationReturning NotificationType = "price_reduction_returning"
)

// DraftStatus is the manual review state of a notification draft.
type DraftStatus string

const (
	DraftDraft    DraftStatus = "draft"
	DraftReviewed DraftStatus = "reviewed"
	DraftSent     DraftStatus = "sent"
)

// RequestState tracks a queued drafting request.
type RequestState string

const (
	RequestPending RequestState = "pending"
	RequestDrafted RequestState = "drafted"
	RequestFailed  RequestState = "failed"
)

// NotificationContext is the snapshot handed to the drafting service. It is
// stored as JSON on both the outbox row and the resulting draft.
type NotificationContext struct {
	CustomerNumber     string          `json:"customer_number"`
	InquiryNumber      string          `json:"inquiry_number"`
	OrderNumber        *string         `json:"order_number,omitempty"`
	InquiryName        string          `json:"inquiry_name,omitempty"`
	PartName           string          `json:"part_name"`
	Quantity           int             `json:"quantity"`
	RunNumber          string          `json:"run_number"`
	RunName            string          `json:"run_name"`
	PlannedEndDate     *time.Time      `json:"planned_end_date,omitempty"`
	StandalonePriceEUR decimal.Decimal `json:"standalone_price_eur"`
	PreviousPriceEUR   decimal.Decimal `json:"previous_price_eur"`
	NewPriceEUR        decimal.Decimal `json:"new_price_eur"`
	ReductionEUR       decimal.Decimal `json:"reduction_eur"`
	ReductionPercent   decimal.Decimal `json:"reduction_percent"`
	RunMembers         int             `json:"run_members"`
}

// NotificationRequest is an outbox row written in the same transaction as the
// price change that caused it. Workers turn it into a NotificationDraft.
type NotificationRequest struct {
	ID               uint             `gorm:"primaryKey"`
	RequestID        string           `gorm:"size:36;not null;uniqueIndex"`
	CustomerNumber   string           `gorm:"size:100;not null"`
	PartRequestID    uint             `gorm:"not null;index"`
	RunID            uint             `gorm:"not null;index"`
	NotificationType NotificationType `gorm:"size:50;not null"`
	Context          datatypes.JSON   `gorm:"not null"`
	State            RequestState     `gorm:"size:16;not null;index"`
	Attempts         int              `gorm:"not null;default:0"`
	LastError        string           `gorm:"type:text"`
	DraftID          *uint
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

// NotificationDraft is a customer communication awaiting manual review.
type NotificationDraft struct {
	ID               uint             `gorm:"primaryKey"`
	CustomerNumber   string           `gorm:"size:100;not null;index"`
	PartRequestID    uint             `gorm:"not null;index"`
	InquiryNumber    string           `gorm:"size:100;not null"`
	OrderNumber      *string          `gorm:"size:100"`
	RunID            uint             `gorm:"not null;index"`
	NotificationType NotificationType `gorm:"size:50;not null"`
	Subject          string           `gorm:"type:text;not null"`
	Body             string           `gorm:"type:text;not null"`
	Context          datatypes.JSON
	Status           DraftStatus `gorm:"size:16;not null;index"`
	GeneratedAt      time.Time   `gorm:"not null"`
	UpdatedAt        time.Time   `gorm:"not null"`

	// Associations
	Customer Customer      `gorm:"foreignKey:CustomerNumber;references:CustomerNumber;constraint:OnDelete:RESTRICT"`
	Run      ProductionRun `gorm:"constraint:OnDelete:CASCADE"`
}
