package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"lpbf-planner/internal/errs"
	"lpbf-planner/internal/lifecycle"
	"lpbf-planner/internal/model"
	"lpbf-planner/internal/parse"
	"lpbf-planner/internal/pricing"
)

// ApplyAllocation places a part on a run. Reservation, assignment, repricing
// of every member, the decision entry and the outbox rows commit together.
// ErrStale means the run moved on since RunVersion was read.
func (s *gormStore) ApplyAllocation(ctx context.Context, a Allocation) (*Commit, error) {
	var commit Commit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		run, err := lockRun(tx, a.RunID, a.RunVersion)
		if err != nil {
			return err
		}

		var part model.PartRequest
		if err := tx.Preload("Assignment").First(&part, a.PartRequestID).Error; err != nil {
			return lookupErr("part", a.PartRequestID, err)
		}
		if part.Assignment != nil {
			return fmt.Errorf("part %d is already on run %d: %w", part.ID, part.Assignment.RunID, errs.ErrInvalidState)
		}
		if err := lifecycle.PartTransition(part.Status, model.PartCombined, lifecycle.ByEngine); err != nil {
			return fmt.Errorf("part %d is %s: %w", part.ID, part.Status, errs.ErrInvalidState)
		}
		if part.MaterialGroup != run.MaterialGroup {
			return fmt.Errorf("part %d (%s) does not match run %d (%s): %w",
				part.ID, part.MaterialGroup, run.ID, run.MaterialGroup, errs.ErrInvalidState)
		}

		before := run.AvailableAreaCM2
		if err := run.Reserve(a.AreaCM2); err != nil {
			return fmt.Errorf("%v: %w", err, ErrStale)
		}

		assignment := model.Assignment{
			RunID:                 run.ID,
			PartRequestID:         part.ID,
			AreaCM2:               a.AreaCM2,
			CombinedPriceEUR:      part.EstimatedPriceEUR.Decimal,
			CombinedBuildTimeH:    part.EstimatedBuildTimeH.Decimal,
			PriceReductionEUR:     decimal.Zero,
			PriceReductionPercent: decimal.Zero,
			AssignedAt:            a.Now,
			UpdatedAt:             a.Now,
		}
		if err := tx.Omit(clause.Associations).Create(&assignment).Error; err != nil {
			return writeErr(fmt.Sprintf("assignment of part %d", part.ID), err)
		}
		if err := setPartStatus(tx, part.ID, part.Status, model.PartCombined, a.Now); err != nil {
			return err
		}

		rec, notes, err := reprice(tx, run, a.Repricing, a.Now)
		if err != nil {
			return err
		}
		if err := saveRun(tx, run, a.RunVersion, a.Now); err != nil {
			return err
		}

		entry := a.Entry
		entry.RunID = &run.ID
		entry.PartRequestID = part.ID
		entry.Decision = model.DecisionNested
		entry.AreaBeforeCM2 = before
		entry.AreaRequiredCM2 = a.AreaCM2
		entry.AreaAfterCM2 = run.AvailableAreaCM2
		if err := tx.Omit(clause.Associations).Create(&entry).Error; err != nil {
			return writeErr("decision "+entry.AttemptID, err)
		}

		if r, ok := rec.ByPart()[part.ID]; ok {
			assignment.CombinedPriceEUR = r.CombinedPriceEUR
			assignment.CombinedBuildTimeH = r.CombinedBuildTimeH
			assignment.PriceReductionEUR = r.PriceReductionEUR
			assignment.PriceReductionPercent = r.PriceReductionPercent
		}
		commit = Commit{Run: *run, Assignment: &assignment, Entry: entry, Recalculation: rec, Notifications: notes}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &commit, nil
}

// ApplyUnassignment removes a part from its run, returning exactly the area
// that was reserved for it, and reprices the remaining members.
func (s *gormStore) ApplyUnassignment(ctx context.Context, u Unassignment) (*Commit, error) {
	var commit Commit
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		run, err := lockRun(tx, u.RunID, u.RunVersion)
		if err != nil {
			return err
		}
		if !run.AcceptsAllocation() {
			return fmt.Errorf("run %d is %s: %w", run.ID, run.Status, errs.ErrInvalidState)
		}

		var assignment model.Assignment
		if err := tx.Where("part_request_id = ? AND run_id = ?", u.PartRequestID, run.ID).First(&assignment).Error; err != nil {
			return lookupErr("assignment of part", u.PartRequestID, err)
		}
		var part model.PartRequest
		if err := tx.First(&part, u.PartRequestID).Error; err != nil {
			return lookupErr("part", u.PartRequestID, err)
		}

		before := run.AvailableAreaCM2
		if err := run.Release(assignment.AreaCM2); err != nil {
			return err
		}
		if err := tx.Delete(&assignment).Error; err != nil {
			return fmt.Errorf("failed to delete assignment %d: %w", assignment.ID, err)
		}
		if err := setPartStatus(tx, part.ID, part.Status, model.PartAccepted, u.Now); err != nil {
			return err
		}

		rec, notes, err := reprice(tx, run, u.Repricing, u.Now)
		if err != nil {
			return err
		}
		if err := saveRun(tx, run, u.RunVersion, u.Now); err != nil {
			return err
		}

		entry := u.Entry
		entry.RunID = &run.ID
		entry.PartRequestID = part.ID
		entry.Decision = model.DecisionRemoved
		entry.AreaBeforeCM2 = before
		entry.AreaRequiredCM2 = assignment.AreaCM2
		entry.AreaAfterCM2 = run.AvailableAreaCM2
		if err := tx.Omit(clause.Associations).Create(&entry).Error; err != nil {
			return writeErr("decision "+entry.AttemptID, err)
		}

		commit = Commit{Run: *run, Entry: entry, Recalculation: rec, Notifications: notes}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &commit, nil
}

func lockRun(tx *gorm.DB, id uint, version int64) (*model.ProductionRun, error) {
	var run model.ProductionRun
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&run, id).Error; err != nil {
		return nil, lookupErr("run", id, err)
	}
	if run.Version != version {
		return nil, fmt.Errorf("run %d at version %d, planned on %d: %w", id, run.Version, version, ErrStale)
	}
	return &run, nil
}

func setPartStatus(tx *gorm.DB, id uint, from, to model.PartStatus, now time.Time) error {
	if err := lifecycle.PartTransition(from, to, lifecycle.ByEngine); err != nil {
		return err
	}
	res := tx.Model(&model.PartRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": now})
	if res.Error != nil {
		return fmt.Errorf("failed to update part %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("part %d left status %s: %w", id, from, ErrStale)
	}
	return nil
}

// saveRun writes the area counters and aggregates and bumps the version.
func saveRun(tx *gorm.DB, run *model.ProductionRun, version int64, now time.Time) error {
	res := tx.Model(&model.ProductionRun{}).
		Where("id = ? AND version = ?", run.ID, version).
		Updates(map[string]any{
			"consumed_area_cm2":  run.ConsumedAreaCM2,
			"available_area_cm2": run.AvailableAreaCM2,
			"total_price_eur":    run.TotalPriceEUR,
			"total_build_time_h": run.TotalBuildTimeH,
			"version":            version + 1,
			"updated_at":         now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update run %d: %w", run.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("run %d: %w", run.ID, ErrStale)
	}
	run.Version = version + 1
	run.UpdatedAt = now
	return nil
}

// reprice recalculates every member of run, writes the new figures and
// returns an outbox row for each member whose price dropped noticeably.
func reprice(tx *gorm.DB, run *model.ProductionRun, rp Repricing, now time.Time) (pricing.Recalculation, []model.NotificationRequest, error) {
	var assignments []model.Assignment
	if err := tx.Preload("PartRequest").Where("run_id = ?", run.ID).Order("part_request_id").Find(&assignments).Error; err != nil {
		return pricing.Recalculation{}, nil, fmt.Errorf("failed to load members of run %d: %w", run.ID, err)
	}

	previous := make(map[uint]decimal.Decimal, len(assignments))
	members := make([]pricing.Member, 0, len(assignments))
	parts := make(map[uint]model.PartRequest, len(assignments))
	for _, as := range assignments {
		p := as.PartRequest
		previous[p.ID] = as.CombinedPriceEUR
		parts[p.ID] = p
		members = append(members, pricing.Member{
			PartRequestID:        p.ID,
			Quantity:             p.Quantity,
			AreaCM2:              as.AreaCM2,
			StandalonePriceEUR:   p.EstimatedPriceEUR.Decimal,
			StandaloneBuildTimeH: p.EstimatedBuildTimeH.Decimal,
			IntrinsicTimeH:       p.IntrinsicTimeH(),
		})
	}

	key := parse.Designation{Machine: run.Machine, MaterialGroup: run.MaterialGroup}.Key()
	rec, err := pricing.Recalculate(rp.Calculator, key, members)
	if err != nil {
		return pricing.Recalculation{}, nil, fmt.Errorf("run %d: %w", run.ID, err)
	}

	for _, r := range rec.Results {
		err := tx.Model(&model.Assignment{}).
			Where("run_id = ? AND part_request_id = ?", run.ID, r.PartRequestID).
			Updates(map[string]any{
				"combined_price_eur":      r.CombinedPriceEUR,
				"combined_build_time_h":   r.CombinedBuildTimeH,
				"price_reduction_eur":     r.PriceReductionEUR,
				"price_reduction_percent": r.PriceReductionPercent,
				"updated_at":              now,
			}).Error
		if err != nil {
			return pricing.Recalculation{}, nil, fmt.Errorf("failed to update price of part %d: %w", r.PartRequestID, err)
		}
	}
	run.TotalPriceEUR = rec.Totals.PriceEUR
	run.TotalBuildTimeH = rec.Totals.BuildTimeH

	var notes []model.NotificationRequest
	for _, d := range pricing.Drops(previous, rec, rp.Threshold) {
		req, err := newNotificationRequest(tx, parts[d.PartRequestID], run, d, len(members), now)
		if err != nil {
			return pricing.Recalculation{}, nil, err
		}
		if err := tx.Create(&req).Error; err != nil {
			return pricing.Recalculation{}, nil, writeErr("notification request", err)
		}
		notes = append(notes, req)
	}
	return rec, notes, nil
}

func newNotificationRequest(tx *gorm.DB, part model.PartRequest, run *model.ProductionRun, d pricing.Drop, members int, now time.Time) (model.NotificationRequest, error) {
	others, err := countOtherInquiries(tx, part.CustomerNumber, part.InquiryNumber)
	if err != nil {
		return model.NotificationRequest{}, fmt.Errorf("failed to classify customer %s: %w", part.CustomerNumber, err)
	}
	kind := model.NotificationCurrent
	if others > 0 {
		kind = model.NotificationReturning
	}

	payload, err := json.Marshal(model.NotificationContext{
		CustomerNumber:     part.CustomerNumber,
		InquiryNumber:      part.InquiryNumber,
		OrderNumber:        part.OrderNumber,
		InquiryName:        part.InquiryName,
		PartName:           part.PartName,
		Quantity:           part.Quantity,
		RunNumber:          run.RunNumber,
		RunName:            run.Name,
		PlannedEndDate:     run.PlannedEndDate,
		StandalonePriceEUR: part.EstimatedPriceEUR.Decimal,
		PreviousPriceEUR:   d.PreviousPriceEUR,
		NewPriceEUR:        d.NewPriceEUR,
		ReductionEUR:       d.DropEUR,
		ReductionPercent:   d.DropPercent,
		RunMembers:         members,
	})
	if err != nil {
		return model.NotificationRequest{}, fmt.Errorf("failed to encode notification context: %w", err)
	}

	return model.NotificationRequest{
		RequestID:        uuid.NewString(),
		CustomerNumber:   part.CustomerNumber,
		PartRequestID:    part.ID,
		RunID:            run.ID,
		NotificationType: kind,
		Context:          datatypes.JSON(payload),
		State:            model.RequestPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}
