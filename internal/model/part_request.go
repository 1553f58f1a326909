package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PartStatus is the lifecycle state of a part-request.
type PartStatus string

const (
	PartPending  PartStatus = "pending"
	PartQuoted   PartStatus = "quoted"
	PartAccepted PartStatus = "accepted"
	PartCombined PartStatus = "combined"
	PartDeclined PartStatus = "declined"
)

// PartRequest is one part of a customer inquiry, with the geometry, process
// times and delivery constraints the planner needs.
type PartRequest struct {
	ID             uint    `gorm:"primaryKey"`
	CustomerNumber string  `gorm:"size:100;not null;index"`
	InquiryNumber  string  `gorm:"size:100;not null;uniqueIndex:uq_inquiry_part"`
	OrderNumber    *string `gorm:"size:100"`
	InquiryName    string  `gorm:"size:255"`
	PartName       string  `gorm:"size:255;not null;uniqueIndex:uq_inquiry_part"`
	Quantity       int     `gorm:"not null"`

	PartVolumeCM3    decimal.Decimal `gorm:"type:numeric(12,4);not null"`
	SupportVolumeCM3 decimal.Decimal `gorm:"type:numeric(12,4);not null"`
	PartHeightMM     decimal.Decimal `gorm:"type:numeric(8,2);not null"`
	ProjectedAreaCM2 decimal.Decimal `gorm:"type:numeric(12,4);not null"`

	PrepTimeH         decimal.NullDecimal `gorm:"type:numeric(8,2)"`
	PostHandlingTimeH decimal.NullDecimal `gorm:"type:numeric(8,2)"`
	BlastingTimeH     decimal.NullDecimal `gorm:"type:numeric(8,2)"`
	LeakTestingTimeH  decimal.NullDecimal `gorm:"type:numeric(8,2)"`
	QCTimeH           decimal.NullDecimal `gorm:"type:numeric(8,2)"`

	Machine       string `gorm:"size:64;not null"`
	Material      string `gorm:"size:64;not null"`
	MaterialGroup string `gorm:"size:64;not null;index"`

	RequestedDeliveryDate *time.Time `gorm:"type:date"`
	LeadTimeFlexible      bool       `gorm:"not null;default:false"`

	EstimatedPriceEUR   decimal.NullDecimal `gorm:"type:numeric(10,2)"`
	EstimatedBuildTimeH decimal.NullDecimal `gorm:"type:numeric(8,2)"`

	Status    PartStatus `gorm:"size:32;not null;index"`
	CreatedAt time.Time  `gorm:"not null"`
	UpdatedAt time.Time  `gorm:"not null"`

	// Associations
	Customer   Customer    `gorm:"foreignKey:CustomerNumber;references:CustomerNumber;constraint:OnDelete:RESTRICT"`
	Assignment *Assignment `gorm:"foreignKey:PartRequestID"`
}

// RequiredAreaCM2 is the platform area the part consumes: the projected area
// of one piece times the quantity.
func (p *PartRequest) RequiredAreaCM2() decimal.Decimal {
	return p.ProjectedAreaCM2.Mul(decimal.NewFromInt(int64(p.Quantity)))
}

// IntrinsicTimeH sums the process-time components that belong to this part
// alone and are never shared with other members of a run.
func (p *PartRequest) IntrinsicTimeH() decimal.Decimal {
	total := decimal.Zero
	for _, t := range []decimal.NullDecimal{p.PrepTimeH, p.PostHandlingTimeH, p.BlastingTimeH, p.LeakTestingTimeH, p.QCTimeH} {
		if t.Valid {
			total = total.Add(t.Decimal)
		}
	}
	return total
}

// HasEstimate reports whether standalone price and build time are known.
func (p *PartRequest) HasEstimate() bool {
	return p.EstimatedPriceEUR.Valid && p.EstimatedBuildTimeH.Valid
}
