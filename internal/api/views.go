package api

import (
	"time"

	"github.com/shopspring/decimal"

	"lpbf-planner/internal/model"
)

// Response shapes. Entities are flattened here so the gorm models carry no
// JSON concerns.

type assignmentView struct {
	RunID                 uint            `json:"run_id"`
	PartRequestID         uint            `json:"part_request_id"`
	AreaCM2               decimal.Decimal `json:"area_cm2"`
	CombinedPriceEUR      decimal.Decimal `json:"combined_price_eur"`
	CombinedBuildTimeH    decimal.Decimal `json:"combined_build_time_h"`
	PriceReductionEUR     decimal.Decimal `json:"price_reduction_eur"`
	PriceReductionPercent decimal.Decimal `json:"price_reduction_percent"`
	AssignedAt            time.Time       `json:"assigned_at"`
}

type partView struct {
	ID                    uint                `json:"id"`
	CustomerNumber        string              `json:"customer_number"`
	InquiryNumber         string              `json:"inquiry_number"`
	OrderNumber           *string             `json:"order_number"`
	InquiryName           string              `json:"inquiry_name"`
	PartName              string              `json:"part_name"`
	Quantity              int                 `json:"quantity"`
	PartVolumeCM3         decimal.Decimal     `json:"part_volume_cm3"`
	SupportVolumeCM3      decimal.Decimal     `json:"support_volume_cm3"`
	PartHeightMM          decimal.Decimal     `json:"part_height_mm"`
	ProjectedAreaCM2      decimal.Decimal     `json:"projected_area_cm2"`
	RequiredAreaCM2       decimal.Decimal     `json:"required_area_cm2"`
	PrepTimeH             decimal.NullDecimal `json:"prep_time_h"`
	PostHandlingTimeH     decimal.NullDecimal `json:"post_handling_time_h"`
	BlastingTimeH         decimal.NullDecimal `json:"blasting_time_h"`
	LeakTestingTimeH      decimal.NullDecimal `json:"leak_testing_time_h"`
	QCTimeH               decimal.NullDecimal `json:"qc_time_h"`
	Machine               string              `json:"machine"`
	Material              string              `json:"material"`
	MaterialGroup         string              `json:"material_group"`
	RequestedDeliveryDate *time.Time          `json:"requested_delivery_date"`
	LeadTimeFlexible      bool                `json:"lead_time_flexible"`
	EstimatedPriceEUR     decimal.NullDecimal `json:"estimated_price_eur"`
	EstimatedBuildTimeH   decimal.NullDecimal `json:"estimated_build_time_h"`
	Status                model.PartStatus    `json:"status"`
	Assignment            *assignmentView     `json:"assignment"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
}

func newAssignmentView(a *model.Assignment) *assignmentView {
	if a == nil {
		return nil
	}
	return &assignmentView{
		RunID:                 a.RunID,
		PartRequestID:         a.PartRequestID,
		AreaCM2:               a.AreaCM2,
		CombinedPriceEUR:      a.CombinedPriceEUR,
		CombinedBuildTimeH:    a.CombinedBuildTimeH,
		PriceReductionEUR:     a.PriceReductionEUR,
		PriceReductionPercent: a.PriceReductionPercent,
		AssignedAt:            a.AssignedAt,
	}
}

func newPartView(p *model.PartRequest) partView {
	return partView{
		ID:                    p.ID,
		CustomerNumber:        p.CustomerNumber,
		InquiryNumber:         p.InquiryNumber,
		OrderNumber:           p.OrderNumber,
		InquiryName:           p.InquiryName,
		PartName:              p.PartName,
		Quantity:              p.Quantity,
		PartVolumeCM3:         p.PartVolumeCM3,
		SupportVolumeCM3:      p.SupportVolumeCM3,
		PartHeightMM:          p.PartHeightMM,
		ProjectedAreaCM2:      p.ProjectedAreaCM2,
		RequiredAreaCM2:       p.RequiredAreaCM2(),
		PrepTimeH:             p.PrepTimeH,
		PostHandlingTimeH:     p.PostHandlingTimeH,
		BlastingTimeH:         p.BlastingTimeH,
		LeakTestingTimeH:      p.LeakTestingTimeH,
		QCTimeH:               p.QCTimeH,
		Machine:               p.Machine,
		Material:              p.Material,
		MaterialGroup:         p.MaterialGroup,
		RequestedDeliveryDate: p.RequestedDeliveryDate,
		LeadTimeFlexible:      p.LeadTimeFlexible,
		EstimatedPriceEUR:     p.EstimatedPriceEUR,
		EstimatedBuildTimeH:   p.EstimatedBuildTimeH,
		Status:                p.Status,
		Assignment:            newAssignmentView(p.Assignment),
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
}

type memberView struct {
	assignmentView

	InquiryNumber      string          `json:"inquiry_number"`
	PartName           string          `json:"part_name"`
	Quantity           int             `json:"quantity"`
	StandalonePriceEUR decimal.Decimal `json:"standalone_price_eur"`
}

type runView struct {
	ID               uint            `json:"id"`
	RunNumber        string          `json:"run_number"`
	Name             string          `json:"name"`
	Machine          string          `json:"machine"`
	MaterialGroup    string          `json:"material_group"`
	UsableAreaCM2    decimal.Decimal `json:"usable_area_cm2"`
	ConsumedAreaCM2  decimal.Decimal `json:"consumed_area_cm2"`
	AvailableAreaCM2 decimal.Decimal `json:"available_area_cm2"`
	FillPercent      decimal.Decimal `json:"fill_percent"`
	PlannedStartDate *time.Time      `json:"planned_start_date"`
	PlannedEndDate   *time.Time      `json:"planned_end_date"`
	TotalPriceEUR    decimal.Decimal `json:"total_price_eur"`
	TotalBuildTimeH  decimal.Decimal `json:"total_build_time_h"`
	Status           model.RunStatus `json:"status"`
	Version          int64           `json:"version"`
	Members          []memberView    `json:"members,omitempty"`
}

func newRunView(r *model.ProductionRun) runView {
	v := runView{
		ID:               r.ID,
		RunNumber:        r.RunNumber,
		Name:             r.Name,
		Machine:          r.Machine,
		MaterialGroup:    r.MaterialGroup,
		UsableAreaCM2:    r.UsableAreaCM2,
		ConsumedAreaCM2:  r.ConsumedAreaCM2,
		AvailableAreaCM2: r.AvailableAreaCM2,
		FillPercent:      r.FillPercent(),
		PlannedStartDate: r.PlannedStartDate,
		PlannedEndDate:   r.PlannedEndDate,
		TotalPriceEUR:    r.TotalPriceEUR,
		TotalBuildTimeH:  r.TotalBuildTimeH,
		Status:           r.Status,
		Version:          r.Version,
	}
	for i := range r.Assignments {
		a := &r.Assignments[i]
		v.Members = append(v.Members, memberView{
			assignmentView:     *newAssignmentView(a),
			InquiryNumber:      a.PartRequest.InquiryNumber,
			PartName:           a.PartRequest.PartName,
			Quantity:           a.PartRequest.Quantity,
			StandalonePriceEUR: a.PartRequest.EstimatedPriceEUR.Decimal,
		})
	}
	return v
}

type decisionView struct {
	ID                 uint            `json:"id"`
	AttemptID          string          `json:"attempt_id"`
	RunID              *uint           `json:"run_id"`
	PartRequestID      uint            `json:"part_request_id"`
	Decision           model.Decision  `json:"decision"`
	AreaBeforeCM2      decimal.Decimal `json:"area_before_cm2"`
	AreaRequiredCM2    decimal.Decimal `json:"area_required_cm2"`
	AreaAfterCM2       decimal.Decimal `json:"area_after_cm2"`
	LeadTimeImpactDays int             `json:"lead_time_impact_days"`
	ReasoningSummary   string          `json:"reasoning_summary"`
	DecidedAt          time.Time       `json:"decided_at"`
}

func newDecisionView(e *model.DecisionLogEntry) decisionView {
	return decisionView{
		ID:                 e.ID,
		AttemptID:          e.AttemptID,
		RunID:              e.RunID,
		PartRequestID:      e.PartRequestID,
		Decision:           e.Decision,
		AreaBeforeCM2:      e.AreaBeforeCM2,
		AreaRequiredCM2:    e.AreaRequiredCM2,
		AreaAfterCM2:       e.AreaAfterCM2,
		LeadTimeImpactDays: e.LeadTimeImpactDays,
		ReasoningSummary:   e.ReasoningSummary,
		DecidedAt:          e.DecidedAt,
	}
}

type draftView struct {
	ID               uint                   `json:"id"`
	CustomerNumber   string                 `json:"customer_number"`
	PartRequestID    uint                   `json:"part_request_id"`
	InquiryNumber    string                 `json:"inquiry_number"`
	OrderNumber      *string                `json:"order_number"`
	RunID            uint                   `json:"run_id"`
	NotificationType model.NotificationType `json:"notification_type"`
	Subject          string                 `json:"subject"`
	Body             string                 `json:"body"`
	Status           model.DraftStatus      `json:"status"`
	GeneratedAt      time.Time              `json:"generated_at"`
}

func newDraftView(d *model.NotificationDraft) draftView {
	return draftView{
		ID:               d.ID,
		CustomerNumber:   d.CustomerNumber,
		PartRequestID:    d.PartRequestID,
		InquiryNumber:    d.InquiryNumber,
		OrderNumber:      d.OrderNumber,
		RunID:            d.RunID,
		NotificationType: d.NotificationType,
		Subject:          d.Subject,
		Body:             d.Body,
		Status:           d.Status,
		GeneratedAt:      d.GeneratedAt,
	}
}
