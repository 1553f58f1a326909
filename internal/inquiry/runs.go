package inquiry

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"lpbf-planner/internal/model"
	"lpbf-planner/internal/parse"
)

// RunInput describes a production run to open. A zero UsableAreaCM2 takes the
// platform area of the configured machine.
type RunInput struct {
	Name             string          `json:"name"`
	Machine          string          `json:"machine"`
	MaterialGroup    string          `json:"material_group"`
	UsableAreaCM2    decimal.Decimal `json:"usable_area_cm2"`
	PlannedStartDate *time.Time      `json:"planned_start_date"`
	PlannedEndDate   *time.Time      `json:"planned_end_date"`
}

var runSeq atomic.Uint64

// runNumber formats RUN-YYYYMMDD-HHMMSS-<n>. The sequence keeps numbers
// generated within the same second unique.
func runNumber(now time.Time) string {
	return fmt.Sprintf("RUN-%s-%d", now.UTC().Format("20060102-150405"), runSeq.Add(1))
}

// OpenRun creates an empty production run in status open.
func (s *Service) OpenRun(ctx context.Context, in RunInput) (*model.ProductionRun, error) {
	machine := parse.NormalizeMachine(in.Machine)
	if machine == "" {
		return nil, invalid("machine is required")
	}
	group := parse.NormalizeGroup(in.MaterialGroup)
	if group == "" {
		return nil, invalid("material_group is required")
	}
	mc, err := s.machine(machine)
	if err != nil {
		return nil, err
	}
	if len(mc.MaterialGroups) > 0 && !contains(mc.MaterialGroups, group) {
		return nil, invalid("machine %s does not process %s", machine, group)
	}

	usable := in.UsableAreaCM2
	if usable.IsZero() {
		usable = mc.PlatformAreaCM2
	}
	if !usable.IsPositive() {
		return nil, invalid("usable_area_cm2 must be positive")
	}
	if mc.PlatformAreaCM2.IsPositive() && usable.GreaterThan(mc.PlatformAreaCM2) {
		return nil, invalid("usable area %s exceeds the %s cm2 platform of %s", usable, mc.PlatformAreaCM2, machine)
	}
	if in.PlannedStartDate != nil && in.PlannedEndDate != nil && in.PlannedEndDate.Before(*in.PlannedStartDate) {
		return nil, invalid("planned_end_date is before planned_start_date")
	}

	now := s.now()
	run := &model.ProductionRun{
		RunNumber:        runNumber(now),
		Name:             strings.TrimSpace(in.Name),
		Machine:          machine,
		MaterialGroup:    group,
		UsableAreaCM2:    usable,
		ConsumedAreaCM2:  decimal.Zero,
		AvailableAreaCM2: usable,
		PlannedStartDate: in.PlannedStartDate,
		PlannedEndDate:   in.PlannedEndDate,
		TotalPriceEUR:    decimal.Zero,
		TotalBuildTimeH:  decimal.Zero,
		Status:           model.RunOpen,
	}
	if run.Name == "" {
		run.Name = run.RunNumber
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"run_id": run.ID, "run_number": run.RunNumber, "usable_area_cm2": usable}).Info("production run opened")
	return run, nil
}

// TransitionRun moves a run forward through its lifecycle.
func (s *Service) TransitionRun(ctx context.Context, id uint, to model.RunStatus) (*model.ProductionRun, error) {
	run, err := s.store.TransitionRun(ctx, id, to)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"run_id": id, "status": to}).Info("run status changed")
	return run, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if parse.NormalizeGroup(s) == v {
			return true
		}
	}
	return false
}
