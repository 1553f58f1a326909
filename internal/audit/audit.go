// Package audit builds the append-only decision log entries written for
// every allocation attempt.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"lpbf-planner/internal/model"
)

// Outcome is the engine's view of one attempt, before any reasoning text.
type Outcome struct {
	PartRequestID      uint
	InquiryNumber      string
	PartName           string
	RunID              *uint
	RunNumber          string
	Decision           model.Decision
	AreaBeforeCM2      decimal.Decimal
	AreaRequiredCM2    decimal.Decimal
	AreaAfterCM2       decimal.Decimal
	LeadTimeImpactDays int
	RequestedDelivery  *time.Time
	PlannedEnd         *time.Time
}

// Reasoner produces a short free-text rationale for an outcome. The text is
// stored as-is and never interpreted.
type Reasoner interface {
	Reason(ctx context.Context, o Outcome) (string, error)
}

// Summarize asks r for a rationale, bounded by timeout. Any failure falls back
// to Describe so the attempt is still logged.
func Summarize(ctx context.Context, r Reasoner, o Outcome, timeout time.Duration) string {
	if r == nil {
		return Describe(o)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	text, err := r.Reason(ctx, o)
	if err != nil || text == "" {
		if err != nil {
			log.WithError(err).WithField("part_request_id", o.PartRequestID).Warn("reasoning service failed, using generated summary")
		}
		return Describe(o)
	}
	return text
}

// Describe renders a deterministic summary of the outcome.
func Describe(o Outcome) string {
	area := func(d decimal.Decimal) string { return d.StringFixed(2) }
	run := o.RunNumber
	if run == "" && o.RunID != nil {
		run = fmt.Sprintf("run %d", *o.RunID)
	}

	switch o.Decision {
	case model.DecisionNested:
		s := fmt.Sprintf("Nested into %s: %s cm2 required, %s cm2 available, %s cm2 left.",
			run, area(o.AreaRequiredCM2), area(o.AreaBeforeCM2), area(o.AreaAfterCM2))
		if o.LeadTimeImpactDays > 0 {
			s += fmt.Sprintf(" Delivery slips by %d day(s); part is lead-time flexible.", o.LeadTimeImpactDays)
		}
		return s
	case model.DecisionRejectedNoSpace:
		if o.RunID == nil {
			return fmt.Sprintf("Rejected: no eligible run for %s cm2.", area(o.AreaRequiredCM2))
		}
		return fmt.Sprintf("Rejected: %s cm2 required, at most %s cm2 available (%s).",
			area(o.AreaRequiredCM2), area(o.AreaBeforeCM2), run)
	case model.DecisionRejectedDeadline:
		return fmt.Sprintf("Rejected: every run with %s cm2 free ends after the requested delivery date (closest: %s).",
			area(o.AreaRequiredCM2), run)
	case model.DecisionRemoved:
		return fmt.Sprintf("Removed from %s: %s cm2 released, %s cm2 now available.",
			run, area(o.AreaRequiredCM2), area(o.AreaAfterCM2))
	}
	return string(o.Decision)
}

// NewEntry builds the log entry for an outcome with a fresh attempt ID.
func NewEntry(o Outcome, reasoning string, now time.Time) model.DecisionLogEntry {
	return model.DecisionLogEntry{
		AttemptID:          uuid.NewString(),
		RunID:              o.RunID,
		PartRequestID:      o.PartRequestID,
		Decision:           o.Decision,
		AreaBeforeCM2:      o.AreaBeforeCM2,
		AreaRequiredCM2:    o.AreaRequiredCM2,
		AreaAfterCM2:       o.AreaAfterCM2,
		LeadTimeImpactDays: o.LeadTimeImpactDays,
		ReasoningSummary:   reasoning,
		DecidedAt:          now.UTC(),
	}
}
