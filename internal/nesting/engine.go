// Package nesting is the allocation engine. It places accepted part-requests
// on production runs by aggregate platform area and delivery date, and keeps
// pricing, the decision log and the notification outbox in step with every
// membership change.
package nesting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"lpbf-planner/internal/audit"
	"lpbf-planner/internal/errs"
	"lpbf-planner/internal/metrics"
	"lpbf-planner/internal/model"
	"lpbf-planner/internal/pricing"
	"lpbf-planner/internal/store"
)

// Notifier receives the outbox rows written by a committed change.
type Notifier interface {
	Dispatch(requestIDs ...uint)
}

// Config tunes the engine.
type Config struct {
	MaxAttempts      int
	MatchMachine     bool
	ReasoningTimeout time.Duration
	Threshold        pricing.Threshold
}

// Deps are the collaborators of the engine. Reasoner, Notifier and Metrics
// may be nil.
type Deps struct {
	Store      store.Store
	Calculator pricing.Calculator
	Reasoner   audit.Reasoner
	Notifier   Notifier
	Metrics    *metrics.Recorder
}

// Engine allocates and unassigns parts.
type Engine struct {
	store    store.Store
	calc     pricing.Calculator
	reasoner audit.Reasoner
	notifier Notifier
	metrics  *metrics.Recorder
	cfg      Config
	locks    *runLocks
	now      func() time.Time
}

// NewEngine creates an engine.
func NewEngine(d Deps, cfg Config) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Engine{
		store:    d.Store,
		calc:     d.Calculator,
		reasoner: d.Reasoner,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		cfg:      cfg,
		locks:    newRunLocks(),
		now:      time.Now,
	}
}

// Result is the outcome of one allocate or unassign call.
type Result struct {
	PartRequestID      uint            `json:"part_request_id"`
	Decision           model.Decision  `json:"decision"`
	RunID              *uint           `json:"run_id"`
	RunNumber          string          `json:"run_number,omitempty"`
	AreaBeforeCM2      decimal.Decimal `json:"area_before_cm2"`
	AreaRequiredCM2    decimal.Decimal `json:"area_required_cm2"`
	AreaAfterCM2       decimal.Decimal `json:"area_after_cm2"`
	LeadTimeImpactDays int             `json:"lead_time_impact_days"`

	CombinedPriceEUR      decimal.Decimal `json:"combined_price_eur"`
	CombinedBuildTimeH    decimal.Decimal `json:"combined_build_time_h"`
	PriceReductionEUR     decimal.Decimal `json:"price_reduction_eur"`
	PriceReductionPercent decimal.Decimal `json:"price_reduction_percent"`

	AttemptID     string `json:"attempt_id"`
	Reasoning     string `json:"reasoning"`
	Notifications int    `json:"notifications"`
}

// Assigned reports whether the part now sits on a run.
func (r *Result) Assigned() bool {
	return r.Decision == model.DecisionNested
}

// Err returns the rejection kind, or nil for nested and removed outcomes.
func (r *Result) Err() error {
	return Selection{Decision: r.Decision, AreaBeforeCM2: r.AreaBeforeCM2, AreaRequiredCM2: r.AreaRequiredCM2}.Err()
}

// Allocate places the part on one of runIDs, or on any run when runIDs is
// empty. Rejections are returned as a Result with a nil error; the error is
// reserved for calls that were not allocation attempts at all (unknown IDs,
// wrong part status, a named run that cannot take the part) and for storage
// failures.
func (e *Engine) Allocate(ctx context.Context, partID uint, runIDs []uint) (*Result, error) {
	start := e.now()
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		res, err := e.tryAllocate(ctx, partID, runIDs)
		if errors.Is(err, store.ErrStale) {
			e.metrics.ObserveConflict()
			log.WithFields(log.Fields{"part_request_id": partID, "attempt": attempt}).WithError(err).Debug("run changed during allocation, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		e.metrics.ObserveDecision(string(res.Decision), time.Since(start))
		return res, nil
	}
	return nil, fmt.Errorf("part %d: gave up after %d attempts: %w", partID, e.cfg.MaxAttempts, errs.ErrConflict)
}

func (e *Engine) tryAllocate(ctx context.Context, partID uint, runIDs []uint) (*Result, error) {
	part, err := e.store.GetPart(ctx, partID)
	if err != nil {
		return nil, err
	}
	if part.Status != model.PartAccepted || part.Assignment != nil {
		return nil, fmt.Errorf("part %d is %s: %w", part.ID, part.Status, errs.ErrInvalidState)
	}
	if !part.HasEstimate() {
		return nil, fmt.Errorf("part %d has no standalone estimate: %w", part.ID, errs.ErrInvalidState)
	}

	runs, err := e.candidates(ctx, part, runIDs)
	if err != nil {
		return nil, err
	}
	eligible := Eligible(part, runs, e.cfg.MatchMachine)
	if len(runIDs) > 0 && len(eligible) < len(runs) {
		return nil, e.ineligible(part, runs)
	}
	sel := Select(part, part.RequiredAreaCM2(), eligible)

	outcome := outcomeOf(part, sel)
	reasoning := audit.Summarize(ctx, e.reasoner, outcome, e.cfg.ReasoningTimeout)
	entry := audit.NewEntry(outcome, reasoning, e.now())

	fields := log.Fields{"part_request_id": part.ID, "decision": sel.Decision, "attempt_id": entry.AttemptID}
	if sel.Run != nil {
		fields["run_id"] = sel.Run.ID
	}

	if sel.Decision != model.DecisionNested {
		if err := e.store.AppendDecision(ctx, &entry); err != nil {
			return nil, err
		}
		log.WithFields(fields).Info("allocation rejected")
		return resultOf(part.ID, outcome, entry), nil
	}

	unlock := e.locks.Lock(sel.Run.ID)
	commit, err := e.store.ApplyAllocation(ctx, store.Allocation{
		PartRequestID: part.ID,
		RunID:         sel.Run.ID,
		RunVersion:    sel.Run.Version,
		AreaCM2:       sel.AreaRequiredCM2,
		Entry:         entry,
		Repricing:     e.repricing(),
		Now:           entry.DecidedAt,
	})
	unlock()
	if err != nil {
		return nil, err
	}

	res := resultOf(part.ID, outcome, commit.Entry)
	if mine, ok := commit.Recalculation.ByPart()[part.ID]; ok {
		res.CombinedPriceEUR = mine.CombinedPriceEUR
		res.CombinedBuildTimeH = mine.CombinedBuildTimeH
		res.PriceReductionEUR = mine.PriceReductionEUR
		res.PriceReductionPercent = mine.PriceReductionPercent
	}
	for _, r := range commit.Recalculation.Results {
		e.metrics.ObservePriceReduction(r.PriceReductionPercent.InexactFloat64())
	}
	res.Notifications = e.dispatch(commit)

	log.WithFields(fields).WithField("available_cm2", commit.Run.AvailableAreaCM2).Info("part nested")
	return res, nil
}

// Unassign removes the part from its run and reprices the remaining members.
func (e *Engine) Unassign(ctx context.Context, partID uint) (*Result, error) {
	start := e.now()
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		res, err := e.tryUnassign(ctx, partID)
		if errors.Is(err, store.ErrStale) {
			e.metrics.ObserveConflict()
			continue
		}
		if err != nil {
			return nil, err
		}
		e.metrics.ObserveDecision(string(res.Decision), time.Since(start))
		return res, nil
	}
	return nil, fmt.Errorf("part %d: gave up after %d attempts: %w", partID, e.cfg.MaxAttempts, errs.ErrConflict)
}

func (e *Engine) tryUnassign(ctx context.Context, partID uint) (*Result, error) {
	part, err := e.store.GetPart(ctx, partID)
	if err != nil {
		return nil, err
	}
	if part.Assignment == nil {
		return nil, fmt.Errorf("part %d has no assignment: %w", part.ID, errs.ErrNotFound)
	}
	run, err := e.store.GetRun(ctx, part.Assignment.RunID)
	if err != nil {
		return nil, err
	}
	if !run.AcceptsAllocation() {
		return nil, fmt.Errorf("run %d is %s: %w", run.ID, run.Status, errs.ErrInvalidState)
	}

	outcome := audit.Outcome{
		PartRequestID:   part.ID,
		InquiryNumber:   part.InquiryNumber,
		PartName:        part.PartName,
		RunID:           &run.ID,
		RunNumber:       run.RunNumber,
		Decision:        model.DecisionRemoved,
		AreaBeforeCM2:   run.AvailableAreaCM2,
		AreaRequiredCM2: part.Assignment.AreaCM2,
		AreaAfterCM2:    run.AvailableAreaCM2.Add(part.Assignment.AreaCM2),
	}
	entry := audit.NewEntry(outcome, audit.Describe(outcome), e.now())

	unlock := e.locks.Lock(run.ID)
	commit, err := e.store.ApplyUnassignment(ctx, store.Unassignment{
		PartRequestID: part.ID,
		RunID:         run.ID,
		RunVersion:    run.Version,
		Entry:         entry,
		Repricing:     e.repricing(),
		Now:           entry.DecidedAt,
	})
	unlock()
	if err != nil {
		return nil, err
	}

	res := resultOf(part.ID, outcome, commit.Entry)
	res.Notifications = e.dispatch(commit)
	log.WithFields(log.Fields{"part_request_id": part.ID, "run_id": run.ID, "attempt_id": entry.AttemptID}).Info("part removed from run")
	return res, nil
}

// BatchResult summarises a NestAll call.
type BatchResult struct {
	RunID    uint      `json:"run_id"`
	Nested   []*Result `json:"nested"`
	Rejected []*Result `json:"rejected"`
	Skipped  []uint    `json:"skipped"`
}

// NestAll offers every accepted, unassigned part compatible with the run to
// that run, largest footprint first. Each part is a separate allocation
// attempt with its own log entry.
func (e *Engine) NestAll(ctx context.Context, runID uint) (*BatchResult, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !run.AcceptsAllocation() {
		return nil, fmt.Errorf("run %d is %s: %w", run.ID, run.Status, errs.ErrInvalidState)
	}

	parts, err := e.store.ListParts(ctx, store.PartFilter{Status: model.PartAccepted, Unassigned: true})
	if err != nil {
		return nil, err
	}
	var queue []model.PartRequest
	for _, p := range parts {
		if Compatible(run, p.Machine, p.MaterialGroup, e.cfg.MatchMachine) && p.HasEstimate() {
			queue = append(queue, p)
		}
	}
	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].RequiredAreaCM2().GreaterThan(queue[j].RequiredAreaCM2())
	})

	out := &BatchResult{RunID: run.ID}
	for _, p := range queue {
		res, err := e.Allocate(ctx, p.ID, []uint{run.ID})
		switch {
		case errors.Is(err, errs.ErrInvalidState):
			out.Skipped = append(out.Skipped, p.ID)
		case err != nil:
			return out, err
		case res.Assigned():
			out.Nested = append(out.Nested, res)
		default:
			out.Rejected = append(out.Rejected, res)
		}
	}
	return out, nil
}

// candidates loads the runs named by ids, or all allocation-eligible runs of
// the part's material group.
func (e *Engine) candidates(ctx context.Context, part *model.PartRequest, ids []uint) ([]model.ProductionRun, error) {
	if len(ids) == 0 {
		f := store.RunFilter{
			Statuses:      []model.RunStatus{model.RunOpen, model.RunPlanned},
			MaterialGroup: part.MaterialGroup,
		}
		if e.cfg.MatchMachine {
			f.Machine = part.Machine
		}
		return e.store.ListRuns(ctx, f)
	}

	unique := make([]uint, 0, len(ids))
	seen := make(map[uint]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	runs, err := e.store.ListRuns(ctx, store.RunFilter{IDs: unique})
	if err != nil {
		return nil, err
	}
	if len(runs) != len(unique) {
		found := make(map[uint]bool, len(runs))
		for _, r := range runs {
			found[r.ID] = true
		}
		for _, id := range unique {
			if !found[id] {
				return nil, fmt.Errorf("run %d: %w", id, errs.ErrNotFound)
			}
		}
	}
	return runs, nil
}

// ineligible names the first explicitly requested run that cannot take the
// part. Such a call is refused rather than logged as a rejection.
func (e *Engine) ineligible(part *model.PartRequest, runs []model.ProductionRun) error {
	for i := range runs {
		run := &runs[i]
		if !run.AcceptsAllocation() {
			return fmt.Errorf("run %d is %s: %w", run.ID, run.Status, errs.ErrInvalidState)
		}
		if !Compatible(run, part.Machine, part.MaterialGroup, e.cfg.MatchMachine) {
			return fmt.Errorf("run %d (%s, %s) cannot host part %d (%s, %s): %w",
				run.ID, run.Machine, run.MaterialGroup, part.ID, part.Machine, part.MaterialGroup, errs.ErrInvalidState)
		}
	}
	return fmt.Errorf("part %d: requested runs are not eligible: %w", part.ID, errs.ErrInvalidState)
}

func (e *Engine) repricing() store.Repricing {
	return store.Repricing{Calculator: e.calc, Threshold: e.cfg.Threshold}
}

func (e *Engine) dispatch(commit *store.Commit) int {
	if len(commit.Notifications) == 0 {
		return 0
	}
	ids := make([]uint, len(commit.Notifications))
	for i, n := range commit.Notifications {
		ids[i] = n.ID
	}
	if e.notifier != nil {
		e.notifier.Dispatch(ids...)
	}
	return len(ids)
}

func outcomeOf(part *model.PartRequest, sel Selection) audit.Outcome {
	o := audit.Outcome{
		PartRequestID:      part.ID,
		InquiryNumber:      part.InquiryNumber,
		PartName:           part.PartName,
		Decision:           sel.Decision,
		AreaBeforeCM2:      sel.AreaBeforeCM2,
		AreaRequiredCM2:    sel.AreaRequiredCM2,
		AreaAfterCM2:       sel.AreaAfterCM2,
		LeadTimeImpactDays: sel.LeadTimeImpactDays,
		RequestedDelivery:  part.RequestedDeliveryDate,
	}
	if sel.Run != nil {
		id := sel.Run.ID
		o.RunID = &id
		o.RunNumber = sel.Run.RunNumber
		o.PlannedEnd = sel.Run.PlannedEndDate
	}
	return o
}

func resultOf(partID uint, o audit.Outcome, entry model.DecisionLogEntry) *Result {
	return &Result{
		PartRequestID:      partID,
		Decision:           entry.Decision,
		RunID:              entry.RunID,
		RunNumber:          o.RunNumber,
		AreaBeforeCM2:      entry.AreaBeforeCM2,
		AreaRequiredCM2:    entry.AreaRequiredCM2,
		AreaAfterCM2:       entry.AreaAfterCM2,
		LeadTimeImpactDays: entry.LeadTimeImpactDays,
		AttemptID:          entry.AttemptID,
		Reasoning:          entry.ReasoningSummary,
	}
}
