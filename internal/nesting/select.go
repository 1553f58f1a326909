package nesting

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"lpbf-planner/internal/errs"
	"lpbf-planner/internal/model"
)

// Selection is the result of evaluating one part against a candidate set.
// Run is the chosen run on success and the nearest miss on rejection; it is
// nil only when there were no candidates at all.
type Selection struct {
	Decision           model.Decision
	Run                *model.ProductionRun
	AreaBeforeCM2      decimal.Decimal
	AreaRequiredCM2    decimal.Decimal
	AreaAfterCM2       decimal.Decimal
	LeadTimeImpactDays int
}

// Err maps a rejection onto its error kind.
func (s Selection) Err() error {
	switch s.Decision {
	case model.DecisionRejectedNoSpace:
		return fmt.Errorf("%s cm2 required, %s cm2 available: %w", s.AreaRequiredCM2, s.AreaBeforeCM2, errs.ErrNoSpace)
	case model.DecisionRejectedDeadline:
		return fmt.Errorf("no run ends by the requested delivery date: %w", errs.ErrDeadlineExceeded)
	}
	return nil
}

// Compatible reports whether run can host parts of the given designation.
// With matchMachine false only the material group has to agree.
func Compatible(run *model.ProductionRun, machine, group string, matchMachine bool) bool {
	if run.MaterialGroup != group {
		return false
	}
	return !matchMachine || run.Machine == machine
}

// Eligible narrows runs to those compatible with the part and open for
// allocation.
func Eligible(part *model.PartRequest, runs []model.ProductionRun, matchMachine bool) []model.ProductionRun {
	out := make([]model.ProductionRun, 0, len(runs))
	for i := range runs {
		if runs[i].AcceptsAllocation() && Compatible(&runs[i], part.Machine, part.MaterialGroup, matchMachine) {
			out = append(out, runs[i])
		}
	}
	return out
}

// LeadTimeImpact returns how many days the run's planned end lies after the
// requested delivery date. Zero when either date is unset or the run ends in
// time.
func LeadTimeImpact(requested, plannedEnd *time.Time) int {
	if requested == nil || plannedEnd == nil {
		return 0
	}
	days := int(civilDate(*plannedEnd).Sub(civilDate(*requested)).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fit struct {
	run      *model.ProductionRun
	leftover decimal.Decimal
	impact   int
}

// tighter orders fits by leftover area, then planned end date with unset
// dates last, then run ID.
func tighter(a, b fit) bool {
	if c := a.leftover.Cmp(b.leftover); c != 0 {
		return c < 0
	}
	ae, be := a.run.PlannedEndDate, b.run.PlannedEndDate
	switch {
	case ae != nil && be == nil:
		return true
	case ae == nil && be != nil:
		return false
	case ae != nil && be != nil && !ae.Equal(*be):
		return ae.Before(*be)
	}
	return a.run.ID < b.run.ID
}

// Select picks the run for a part needing required cm2. candidates must
// already be eligible (see Eligible). Select never mutates its inputs.
func Select(part *model.PartRequest, required decimal.Decimal, candidates []model.ProductionRun) Selection {
	sel := Selection{AreaRequiredCM2: required}
	if len(candidates) == 0 {
		sel.Decision = model.DecisionRejectedNoSpace
		return sel
	}

	var roomy, inTime []fit
	for i := range candidates {
		run := &candidates[i]
		if run.AvailableAreaCM2.LessThan(required) {
			continue
		}
		f := fit{run: run, leftover: run.AvailableAreaCM2.Sub(required)}
		f.impact = LeadTimeImpact(part.RequestedDeliveryDate, run.PlannedEndDate)
		roomy = append(roomy, f)
		if f.impact == 0 || part.LeadTimeFlexible {
			inTime = append(inTime, f)
		}
	}

	if len(roomy) == 0 {
		nearest := &candidates[0]
		for i := range candidates[1:] {
			c := &candidates[i+1]
			if c.AvailableAreaCM2.GreaterThan(nearest.AvailableAreaCM2) ||
				(c.AvailableAreaCM2.Equal(nearest.AvailableAreaCM2) && c.ID < nearest.ID) {
				nearest = c
			}
		}
		sel.Decision = model.DecisionRejectedNoSpace
		sel.Run = nearest
		sel.AreaBeforeCM2 = nearest.AvailableAreaCM2
		sel.AreaAfterCM2 = nearest.AvailableAreaCM2
		return sel
	}

	if len(inTime) == 0 {
		sort.Slice(roomy, func(i, j int) bool { return tighter(roomy[i], roomy[j]) })
		sel.Decision = model.DecisionRejectedDeadline
		sel.Run = roomy[0].run
		sel.AreaBeforeCM2 = roomy[0].run.AvailableAreaCM2
		sel.AreaAfterCM2 = roomy[0].run.AvailableAreaCM2
		sel.LeadTimeImpactDays = roomy[0].impact
		return sel
	}

	sort.Slice(inTime, func(i, j int) bool { return tighter(inTime[i], inTime[j]) })
	best := inTime[0]
	sel.Decision = model.DecisionNested
	sel.Run = best.run
	sel.AreaBeforeCM2 = best.run.AvailableAreaCM2
	sel.AreaAfterCM2 = best.leftover
	sel.LeadTimeImpactDays = best.impact
	return sel
}
