package store

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"lpbf-planner/internal/model"
	"lpbf-planner/internal/pricing"
)

// ErrStale is returned when a run no longer matches the snapshot an
// allocation was planned on. Callers re-read and try again.
var ErrStale = errors.New("run changed since it was read")

// PartFilter narrows part-request listings. Zero values match everything.
type PartFilter struct {
	Status         model.PartStatus
	CustomerNumber string
	InquiryNumber  string
	Unassigned     bool
}

// RunFilter narrows production-run listings.
type RunFilter struct {
	IDs           []uint
	Statuses      []model.RunStatus
	Machine       string
	MaterialGroup string
}

// DecisionFilter narrows decision-log listings.
type DecisionFilter struct {
	RunID         *uint
	PartRequestID *uint
	Decision      model.Decision
	Limit         int
}

// DraftFilter narrows notification-draft listings.
type DraftFilter struct {
	Status         model.DraftStatus
	CustomerNumber string
	RunID          *uint
}

// Repricing carries what the store needs to recalculate a run's membership
// inside the transaction that changes it.
type Repricing struct {
	Calculator pricing.Calculator
	Threshold  pricing.Threshold
}

// Allocation describes one planned placement. RunVersion is the version the
// selection was computed on.
type Allocation struct {
	PartRequestID uint
	RunID         uint
	RunVersion    int64
	AreaCM2       decimal.Decimal
	Entry         model.DecisionLogEntry
	Repricing     Repricing
	Now           time.Time
}

// Unassignment describes the removal of a part from its run.
type Unassignment struct {
	PartRequestID uint
	RunID         uint
	RunVersion    int64
	Entry         model.DecisionLogEntry
	Repricing     Repricing
	Now           time.Time
}

// Commit reports what a membership change wrote.
type Commit struct {
	Run           model.ProductionRun
	Assignment    *model.Assignment
	Entry         model.DecisionLogEntry
	Recalculation pricing.Recalculation
	Notifications []model.NotificationRequest
}
