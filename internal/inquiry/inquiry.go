// Package inquiry handles part-request intake and production run creation:
// validation, designation normalisation, estimation and operator status edits.
package inquiry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"lpbf-planner/config"
	"lpbf-planner/internal/errs"
	"lpbf-planner/internal/estimation"
	"lpbf-planner/internal/lifecycle"
	"lpbf-planner/internal/model"
	"lpbf-planner/internal/parse"
	"lpbf-planner/internal/store"
)

// PartInput is the submitted form of a part-request. Optional process times
// are nil when unknown.
type PartInput struct {
	CustomerNumber        string           `json:"customer_number"`
	InquiryNumber         string           `json:"inquiry_number"`
	OrderNumber           *string          `json:"order_number"`
	InquiryName           string           `json:"inquiry_name"`
	PartName              string           `json:"part_name"`
	Quantity              int              `json:"quantity"`
	PartVolumeCM3         decimal.Decimal  `json:"part_volume_cm3"`
	SupportVolumeCM3      decimal.Decimal  `json:"support_volume_cm3"`
	PartHeightMM          decimal.Decimal  `json:"part_height_mm"`
	ProjectedAreaCM2      decimal.Decimal  `json:"projected_area_cm2"`
	PrepTimeH             *decimal.Decimal `json:"prep_time_h"`
	PostHandlingTimeH     *decimal.Decimal `json:"post_handling_time_h"`
	BlastingTimeH         *decimal.Decimal `json:"blasting_time_h"`
	LeakTestingTimeH      *decimal.Decimal `json:"leak_testing_time_h"`
	QCTimeH               *decimal.Decimal `json:"qc_time_h"`
	Machine               string           `json:"machine"`
	Material              string           `json:"material"`
	RequestedDeliveryDate *time.Time       `json:"requested_delivery_date"`
	LeadTimeFlexible      bool             `json:"lead_time_flexible"`
}

// Service is the intake service.
type Service struct {
	store     store.Store
	estimator estimation.Service
	machines  []config.MachineConfig
	now       func() time.Time
}

// NewService creates the intake service. machines is the configured catalogue
// used to default run areas and validate designations; an empty catalogue
// accepts any machine.
func NewService(s store.Store, e estimation.Service, machines []config.MachineConfig) *Service {
	return &Service{store: s, estimator: e, machines: machines, now: time.Now}
}

func nullable(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, errs.ErrValidation)...)
}

// precise rejects values with more decimal places than the column stores,
// so the reserved area is exactly the submitted one.
func precise(name string, v decimal.Decimal, places int32) error {
	if !v.Equal(v.Round(places)) {
		return invalid("%s allows at most %d decimal places, got %s", name, places, v)
	}
	return nil
}

// validate checks the input and returns its normalised designation.
func (s *Service) validate(in PartInput) (parse.Designation, error) {
	if strings.TrimSpace(in.CustomerNumber) == "" {
		return parse.Designation{}, invalid("customer_number is required")
	}
	if strings.TrimSpace(in.InquiryNumber) == "" {
		return parse.Designation{}, invalid("inquiry_number is required")
	}
	if strings.TrimSpace(in.PartName) == "" {
		return parse.Designation{}, invalid("part_name is required")
	}
	if in.Quantity < 1 {
		return parse.Designation{}, invalid("quantity must be at least 1, got %d", in.Quantity)
	}
	if !in.ProjectedAreaCM2.IsPositive() {
		return parse.Designation{}, invalid("projected_area_cm2 must be positive")
	}
	if err := precise("projected_area_cm2", in.ProjectedAreaCM2, 4); err != nil {
		return parse.Designation{}, err
	}
	for name, v := range map[string]decimal.Decimal{
		"part_volume_cm3":    in.PartVolumeCM3,
		"support_volume_cm3": in.SupportVolumeCM3,
		"part_height_mm":     in.PartHeightMM,
	} {
		if v.IsNegative() {
			return parse.Designation{}, invalid("%s must not be negative", name)
		}
	}
	if err := precise("part_volume_cm3", in.PartVolumeCM3, 4); err != nil {
		return parse.Designation{}, err
	}
	if err := precise("support_volume_cm3", in.SupportVolumeCM3, 4); err != nil {
		return parse.Designation{}, err
	}
	if err := precise("part_height_mm", in.PartHeightMM, 2); err != nil {
		return parse.Designation{}, err
	}
	for name, v := range map[string]*decimal.Decimal{
		"prep_time_h":          in.PrepTimeH,
		"post_handling_time_h": in.PostHandlingTimeH,
		"blasting_time_h":      in.BlastingTimeH,
		"leak_testing_time_h":  in.LeakTestingTimeH,
		"qc_time_h":            in.QCTimeH,
	} {
		if v == nil {
			continue
		}
		if v.IsNegative() {
			return parse.Designation{}, invalid("%s must not be negative", name)
		}
		if err := precise(name, *v, 2); err != nil {
			return parse.Designation{}, err
		}
	}

	d, err := parse.ParseDesignation(in.Machine, in.Material)
	if err != nil {
		return parse.Designation{}, invalid("%v", err)
	}
	if _, err := s.machine(d.Machine); err != nil {
		return parse.Designation{}, err
	}
	return d, nil
}

func (s *Service) machine(name string) (config.MachineConfig, error) {
	if len(s.machines) == 0 {
		return config.MachineConfig{Name: name}, nil
	}
	for _, m := range s.machines {
		if m.Name == name {
			return m, nil
		}
	}
	return config.MachineConfig{}, invalid("unknown machine %q", name)
}

// apply copies the material fields of in onto p.
func apply(p *model.PartRequest, in PartInput, d parse.Designation) {
	p.CustomerNumber = strings.TrimSpace(in.CustomerNumber)
	p.InquiryNumber = strings.TrimSpace(in.InquiryNumber)
	p.OrderNumber = in.OrderNumber
	p.InquiryName = in.InquiryName
	p.PartName = strings.TrimSpace(in.PartName)
	p.Quantity = in.Quantity
	p.PartVolumeCM3 = in.PartVolumeCM3
	p.SupportVolumeCM3 = in.SupportVolumeCM3
	p.PartHeightMM = in.PartHeightMM
	p.ProjectedAreaCM2 = in.ProjectedAreaCM2
	p.PrepTimeH = nullable(in.PrepTimeH)
	p.PostHandlingTimeH = nullable(in.PostHandlingTimeH)
	p.BlastingTimeH = nullable(in.BlastingTimeH)
	p.LeakTestingTimeH = nullable(in.LeakTestingTimeH)
	p.QCTimeH = nullable(in.QCTimeH)
	p.Machine = d.Machine
	p.Material = d.Material
	p.MaterialGroup = d.MaterialGroup
	p.RequestedDeliveryDate = in.RequestedDeliveryDate
	p.LeadTimeFlexible = in.LeadTimeFlexible
}

// Create stores a new part-request as pending and estimates it. An
// estimation failure is returned wrapped in ErrExternalService together with
// the stored part, which stays pending.
func (s *Service) Create(ctx context.Context, in PartInput) (*model.PartRequest, error) {
	d, err := s.validate(in)
	if err != nil {
		return nil, err
	}
	part := &model.PartRequest{Status: model.PartPending}
	apply(part, in, d)
	if err := s.store.CreatePart(ctx, part); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"part_request_id": part.ID, "inquiry": part.InquiryNumber}).Info("part-request created")

	return s.estimate(ctx, part)
}

// Update edits a part-request. Material edits are refused while the part is
// combined into a run; otherwise they invalidate the estimate and re-run
// estimation.
func (s *Service) Update(ctx context.Context, id uint, in PartInput) (*model.PartRequest, error) {
	d, err := s.validate(in)
	if err != nil {
		return nil, err
	}
	part, err := s.store.UpdatePart(ctx, id, func(p *model.PartRequest) error {
		switch p.Status {
		case model.PartCombined:
			return fmt.Errorf("part %d is combined into a run: %w", id, errs.ErrInvalidState)
		case model.PartDeclined:
			return fmt.Errorf("part %d is declined: %w", id, errs.ErrInvalidState)
		}
		if p.Status != model.PartPending {
			if err := lifecycle.PartTransition(p.Status, model.PartPending, lifecycle.ByOperator); err != nil {
				return err
			}
		}
		apply(p, in, d)
		p.EstimatedPriceEUR = decimal.NullDecimal{}
		p.EstimatedBuildTimeH = decimal.NullDecimal{}
		p.Status = model.PartPending
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.estimate(ctx, part)
}

// Transition applies an operator status change.
func (s *Service) Transition(ctx context.Context, id uint, to model.PartStatus) (*model.PartRequest, error) {
	return s.store.TransitionPart(ctx, id, to)
}

// Reestimate retries estimation for a pending part.
func (s *Service) Reestimate(ctx context.Context, id uint) (*model.PartRequest, error) {
	part, err := s.store.GetPart(ctx, id)
	if err != nil {
		return nil, err
	}
	if part.Status != model.PartPending {
		return nil, fmt.Errorf("part %d is %s, only pending parts are estimated: %w", id, part.Status, errs.ErrInvalidState)
	}
	return s.estimate(ctx, part)
}

// estimate calls the estimation service outside any transaction and stores
// the result, moving the part to quoted.
func (s *Service) estimate(ctx context.Context, part *model.PartRequest) (*model.PartRequest, error) {
	logger := log.WithField("part_request_id", part.ID)
	est, err := s.estimator.Estimate(ctx, estimation.FeaturesOf(part))
	if err != nil {
		logger.WithError(err).Warn("estimation failed, part stays pending")
		if !errors.Is(err, errs.ErrExternalService) {
			err = fmt.Errorf("%v: %w", err, errs.ErrExternalService)
		}
		return part, err
	}

	updated, err := s.store.UpdatePart(ctx, part.ID, func(p *model.PartRequest) error {
		if p.Status != model.PartPending {
			return fmt.Errorf("part %d changed to %s during estimation: %w", p.ID, p.Status, errs.ErrConflict)
		}
		p.EstimatedPriceEUR = decimal.NewNullDecimal(est.PriceEUR)
		p.EstimatedBuildTimeH = decimal.NewNullDecimal(est.BuildTimeH)
		p.Status = model.PartQuoted
		return nil
	})
	if err != nil {
		return part, err
	}
	logger.WithFields(log.Fields{"price_eur": est.PriceEUR, "build_time_h": est.BuildTimeH}).Info("part-request quoted")
	return updated, nil
}
