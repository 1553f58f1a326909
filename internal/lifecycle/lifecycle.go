// Package lifecycle holds the permitted status transitions of part-requests,
// production runs and notification drafts. All status changes are validated
// here rather than at call sites.
package lifecycle

import (
	"fmt"

	"lpbf-planner/internal/errs"
	"lpbf-planner/internal/model"
)

// Origin identifies who requests a transition. Some edges are reserved for
// the allocation engine.
type Origin int

const (
	ByOperator Origin = iota
	ByEngine
)

type edge[S comparable] struct {
	from, to S
}

var partEdges = map[edge[model.PartStatus]]Origin{
	{model.PartPending, model.PartQuoted}:    ByOperator,
	{model.PartQuoted, model.PartPending}:    ByOperator, // estimate invalidated by an edit
	{model.PartQuoted, model.PartAccepted}:   ByOperator,
	{model.PartAccepted, model.PartPending}:  ByOperator, // estimate invalidated by an edit
	{model.PartPending, model.PartDeclined}:  ByOperator,
	{model.PartQuoted, model.PartDeclined}:   ByOperator,
	{model.PartAccepted, model.PartDeclined}: ByOperator,
	{model.PartAccepted, model.PartCombined}: ByEngine,
	{model.PartCombined, model.PartAccepted}: ByEngine,
}

var runEdges = map[edge[model.RunStatus]]struct{}{
	{model.RunOpen, model.RunPlanned}:           {},
	{model.RunPlanned, model.RunInProduction}:   {},
	{model.RunInProduction, model.RunCompleted}: {},
}

var draftEdges = map[edge[model.DraftStatus]]struct{}{
	{model.DraftDraft, model.DraftReviewed}: {},
	{model.DraftReviewed, model.DraftSent}:  {},
}

var (
	partStates  = toSet(model.PartPending, model.PartQuoted, model.PartAccepted, model.PartCombined, model.PartDeclined)
	runStates   = toSet(model.RunOpen, model.RunPlanned, model.RunInProduction, model.RunCompleted)
	draftStates = toSet(model.DraftDraft, model.DraftReviewed, model.DraftSent)
)

func toSet[S comparable](values ...S) map[S]struct{} {
	out := make(map[S]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

// ValidPartStatus reports whether s is a known part status.
func ValidPartStatus(s model.PartStatus) bool {
	_, ok := partStates[s]
	return ok
}

// ValidRunStatus reports whether s is a known run status.
func ValidRunStatus(s model.RunStatus) bool {
	_, ok := runStates[s]
	return ok
}

// ValidDraftStatus reports whether s is a known draft status.
func ValidDraftStatus(s model.DraftStatus) bool {
	_, ok := draftStates[s]
	return ok
}

// PartTransition checks a part-request status change.
func PartTransition(from, to model.PartStatus, origin Origin) error {
	if !ValidPartStatus(to) {
		return fmt.Errorf("unknown part status %q: %w", to, errs.ErrIllegalTransition)
	}
	required, ok := partEdges[edge[model.PartStatus]{from, to}]
	if !ok {
		return fmt.Errorf("part %s -> %s: %w", from, to, errs.ErrIllegalTransition)
	}
	if required == ByEngine && origin != ByEngine {
		return fmt.Errorf("part %s -> %s is reserved for allocation: %w", from, to, errs.ErrIllegalTransition)
	}
	return nil
}

// RunTransition checks a production run status change. Runs only move forward.
func RunTransition(from, to model.RunStatus) error {
	if !ValidRunStatus(to) {
		return fmt.Errorf("unknown run status %q: %w", to, errs.ErrIllegalTransition)
	}
	if _, ok := runEdges[edge[model.RunStatus]{from, to}]; !ok {
		return fmt.Errorf("run %s -> %s: %w", from, to, errs.ErrIllegalTransition)
	}
	return nil
}

// DraftTransition checks a notification draft review status change.
func DraftTransition(from, to model.DraftStatus) error {
	if !ValidDraftStatus(to) {
		return fmt.Errorf("unknown draft status %q: %w", to, errs.ErrIllegalTransition)
	}
	if _, ok := draftEdges[edge[model.DraftStatus]{from, to}]; !ok {
		return fmt.Errorf("draft %s -> %s: %w", from, to, errs.ErrIllegalTransition)
	}
	return nil
}
