package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"lpbf-planner/internal/errs"
	"lpbf-planner/internal/lifecycle"
	"lpbf-planner/internal/model"
)

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB
	Ping(ctx context.Context) error

	CreatePart(ctx context.Context, part *model.PartRequest) error
	GetPart(ctx context.Context, id uint) (*model.PartRequest, error)
	ListParts(ctx context.Context, f PartFilter) ([]model.PartRequest, error)
	UpdatePart(ctx context.Context, id uint, mutate func(*model.PartRequest) error) (*model.PartRequest, error)
	TransitionPart(ctx context.Context, id uint, to model.PartStatus) (*model.PartRequest, error)
	CountOtherInquiries(ctx context.Context, customerNumber, inquiryNumber string) (int64, error)

	CreateRun(ctx context.Context, run *model.ProductionRun) error
	GetRun(ctx context.Context, id uint) (*model.ProductionRun, error)
	ListRuns(ctx context.Context, f RunFilter) ([]model.ProductionRun, error)
	TransitionRun(ctx context.Context, id uint, to model.RunStatus) (*model.ProductionRun, error)

	ApplyAllocation(ctx context.Context, a Allocation) (*Commit, error)
	ApplyUnassignment(ctx context.Context, u Unassignment) (*Commit, error)
	AppendDecision(ctx context.Context, entry *model.DecisionLogEntry) error
	ListDecisions(ctx context.Context, f DecisionFilter) ([]model.DecisionLogEntry, error)

	GetNotificationRequest(ctx context.Context, id uint) (*model.NotificationRequest, error)
	RetryableNotificationRequests(ctx context.Context, maxAttempts, limit int) ([]model.NotificationRequest, error)
	SaveDraft(ctx context.Context, requestID uint, draft *model.NotificationDraft) error
	MarkRequestFailed(ctx context.Context, requestID uint, cause string) error
	ListDrafts(ctx context.Context, f DraftFilter) ([]model.NotificationDraft, error)
	TransitionDraft(ctx context.Context, id uint, to model.DraftStatus) (*model.NotificationDraft, error)

	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	ListSubscriptions(ctx context.Context) ([]model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// lookupErr maps a missing row onto errs.ErrNotFound.
func lookupErr(what string, key any, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %v: %w", what, key, errs.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %v: %w", what, key, err)
}

// writeErr maps constraint violations onto errs.ErrConflict.
func writeErr(what string, err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%s already exists: %w", what, errs.ErrConflict)
	}
	return fmt.Errorf("failed to write %s: %w", what, err)
}

// --- Part-requests ---

// CreatePart stores a new part-request and its customer if unknown.
func (s *gormStore) CreatePart(ctx context.Context, part *model.PartRequest) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		customer := model.Customer{CustomerNumber: part.CustomerNumber}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&customer).Error; err != nil {
			return writeErr("customer "+part.CustomerNumber, err)
		}
		if err := tx.Omit(clause.Associations).Create(part).Error; err != nil {
			return writeErr(fmt.Sprintf("part %q of inquiry %s", part.PartName, part.InquiryNumber), err)
		}
		return nil
	})
}

func (s *gormStore) GetPart(ctx context.Context, id uint) (*model.PartRequest, error) {
	var part model.PartRequest
	if err := s.db.WithContext(ctx).Preload("Assignment").First(&part, id).Error; err != nil {
		return nil, lookupErr("part", id, err)
	}
	return &part, nil
}

func (s *gormStore) ListParts(ctx context.Context, f PartFilter) ([]model.PartRequest, error) {
	q := s.db.WithContext(ctx).Model(&model.PartRequest{}).Preload("Assignment")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.CustomerNumber != "" {
		q = q.Where("customer_number = ?", f.CustomerNumber)
	}
	if f.InquiryNumber != "" {
		q = q.Where("inquiry_number = ?", f.InquiryNumber)
	}
	if f.Unassigned {
		q = q.Where("NOT EXISTS (SELECT 1 FROM assignments a WHERE a.part_request_id = part_requests.id)")
	}

	var parts []model.PartRequest
	if err := q.Order("id").Find(&parts).Error; err != nil {
		return nil, fmt.Errorf("failed to list parts: %w", err)
	}
	return parts, nil
}

// UpdatePart loads the part in a transaction, lets mutate change it and saves
// the result. Status changes made by mutate are validated as operator edges.
func (s *gormStore) UpdatePart(ctx context.Context, id uint, mutate func(*model.PartRequest) error) (*model.PartRequest, error) {
	var part model.PartRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&part, id).Error; err != nil {
			return lookupErr("part", id, err)
		}
		before := part.Status
		if err := mutate(&part); err != nil {
			return err
		}
		part.ID = id
		if part.Status != before {
			if err := lifecycle.PartTransition(before, part.Status, lifecycle.ByOperator); err != nil {
				return err
			}
		}
		if err := tx.Omit(clause.Associations).Save(&part).Error; err != nil {
			return writeErr(fmt.Sprintf("part %d", id), err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &part, nil
}

// TransitionPart applies an operator status change.
func (s *gormStore) TransitionPart(ctx context.Context, id uint, to model.PartStatus) (*model.PartRequest, error) {
	return s.UpdatePart(ctx, id, func(p *model.PartRequest) error {
		if to == model.PartQuoted && !p.HasEstimate() {
			return fmt.Errorf("part %d has no estimate: %w", id, errs.ErrInvalidState)
		}
		p.Status = to
		return nil
	})
}

// CountOtherInquiries counts the customer's part-requests that belong to a
// different inquiry.
func (s *gormStore) CountOtherInquiries(ctx context.Context, customerNumber, inquiryNumber string) (int64, error) {
	return countOtherInquiries(s.db.WithContext(ctx), customerNumber, inquiryNumber)
}

func countOtherInquiries(tx *gorm.DB, customerNumber, inquiryNumber string) (int64, error) {
	var n int64
	err := tx.Model(&model.PartRequest{}).
		Where("customer_number = ? AND inquiry_number <> ?", customerNumber, inquiryNumber).
		Count(&n).Error
	return n, err
}

// --- Production runs ---

func (s *gormStore) CreateRun(ctx context.Context, run *model.ProductionRun) error {
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(run).Error; err != nil {
		return writeErr("run "+run.RunNumber, err)
	}
	return nil
}

// GetRun loads a run with its members.
func (s *gormStore) GetRun(ctx context.Context, id uint) (*model.ProductionRun, error) {
	var run model.ProductionRun
	err := s.db.WithContext(ctx).
		Preload("Assignments", func(db *gorm.DB) *gorm.DB { return db.Order("part_request_id") }).
		Preload("Assignments.PartRequest").
		First(&run, id).Error
	if err != nil {
		return nil, lookupErr("run", id, err)
	}
	return &run, nil
}

func (s *gormStore) ListRuns(ctx context.Context, f RunFilter) ([]model.ProductionRun, error) {
	q := s.db.WithContext(ctx).Model(&model.ProductionRun{})
	if len(f.IDs) > 0 {
		q = q.Where("id IN ?", f.IDs)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.Machine != "" {
		q = q.Where("machine = ?", f.Machine)
	}
	if f.MaterialGroup != "" {
		q = q.Where("material_group = ?", f.MaterialGroup)
	}

	var runs []model.ProductionRun
	if err := q.Order("id").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// TransitionRun moves a run forward. The version is bumped so that
// allocations planned against the old status are retried.
func (s *gormStore) TransitionRun(ctx context.Context, id uint, to model.RunStatus) (*model.ProductionRun, error) {
	var run model.ProductionRun
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&run, id).Error; err != nil {
			return lookupErr("run", id, err)
		}
		if err := lifecycle.RunTransition(run.Status, to); err != nil {
			return err
		}
		res := tx.Model(&model.ProductionRun{}).
			Where("id = ? AND version = ?", run.ID, run.Version).
			Updates(map[string]any{"status": to, "version": run.Version + 1, "updated_at": time.Now()})
		if res.Error != nil {
			return fmt.Errorf("failed to update run %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("run %d: %w", id, errs.ErrConflict)
		}
		run.Status = to
		run.Version++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// --- Decision log ---

// AppendDecision writes a log entry outside any membership change, used for
// rejections.
func (s *gormStore) AppendDecision(ctx context.Context, entry *model.DecisionLogEntry) error {
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(entry).Error; err != nil {
		return writeErr("decision "+entry.AttemptID, err)
	}
	return nil
}

func (s *gormStore) ListDecisions(ctx context.Context, f DecisionFilter) ([]model.DecisionLogEntry, error) {
	q := s.db.WithContext(ctx).Model(&model.DecisionLogEntry{})
	if f.RunID != nil {
		q = q.Where("run_id = ?", *f.RunID)
	}
	if f.PartRequestID != nil {
		q = q.Where("part_request_id = ?", *f.PartRequestID)
	}
	if f.Decision != "" {
		q = q.Where("decision = ?", f.Decision)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var entries []model.DecisionLogEntry
	if err := q.Order("id").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	return entries, nil
}
