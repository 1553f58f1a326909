package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"lpbf-planner/internal/errs"
	"lpbf-planner/internal/lifecycle"
	"lpbf-planner/internal/model"
)

// --- Notification outbox ---

func (s *gormStore) GetNotificationRequest(ctx context.Context, id uint) (*model.NotificationRequest, error) {
	var req model.NotificationRequest
	if err := s.db.WithContext(ctx).First(&req, id).Error; err != nil {
		return nil, lookupErr("notification request", id, err)
	}
	return &req, nil
}

// RetryableNotificationRequests returns pending and failed rows that still
// have attempts left, oldest first.
func (s *gormStore) RetryableNotificationRequests(ctx context.Context, maxAttempts, limit int) ([]model.NotificationRequest, error) {
	q := s.db.WithContext(ctx).
		Where("state IN ?", []model.RequestState{model.RequestPending, model.RequestFailed}).
		Order("id")
	if maxAttempts > 0 {
		q = q.Where("attempts < ?", maxAttempts)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var reqs []model.NotificationRequest
	if err := q.Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("failed to list notification requests: %w", err)
	}
	return reqs, nil
}

// SaveDraft stores the draft and marks its request as drafted. A request that
// was drafted by another worker in the meantime is left alone.
func (s *gormStore) SaveDraft(ctx context.Context, requestID uint, draft *model.NotificationDraft) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var req model.NotificationRequest
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&req, requestID).Error; err != nil {
			return lookupErr("notification request", requestID, err)
		}
		if req.State == model.RequestDrafted {
			return fmt.Errorf("notification request %d already drafted: %w", requestID, errs.ErrConflict)
		}

		if err := tx.Omit(clause.Associations).Create(draft).Error; err != nil {
			return writeErr("notification draft", err)
		}
		return tx.Model(&model.NotificationRequest{}).
			Where("id = ?", requestID).
			Updates(map[string]any{
				"state":      model.RequestDrafted,
				"attempts":   req.Attempts + 1,
				"last_error": "",
				"draft_id":   draft.ID,
				"updated_at": time.Now(),
			}).Error
	})
}

func (s *gormStore) MarkRequestFailed(ctx context.Context, requestID uint, cause string) error {
	res := s.db.WithContext(ctx).Model(&model.NotificationRequest{}).
		Where("id = ? AND state <> ?", requestID, model.RequestDrafted).
		Updates(map[string]any{
			"state":      model.RequestFailed,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": cause,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark notification request %d: %w", requestID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("notification request %d: %w", requestID, errs.ErrNotFound)
	}
	return nil
}

// --- Notification drafts ---

func (s *gormStore) ListDrafts(ctx context.Context, f DraftFilter) ([]model.NotificationDraft, error) {
	q := s.db.WithContext(ctx).Model(&model.NotificationDraft{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.CustomerNumber != "" {
		q = q.Where("customer_number = ?", f.CustomerNumber)
	}
	if f.RunID != nil {
		q = q.Where("run_id = ?", *f.RunID)
	}

	var drafts []model.NotificationDraft
	if err := q.Order("id DESC").Find(&drafts).Error; err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	return drafts, nil
}

// TransitionDraft applies a manual review status change.
func (s *gormStore) TransitionDraft(ctx context.Context, id uint, to model.DraftStatus) (*model.NotificationDraft, error) {
	var draft model.NotificationDraft
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&draft, id).Error; err != nil {
			return lookupErr("draft", id, err)
		}
		if err := lifecycle.DraftTransition(draft.Status, to); err != nil {
			return err
		}
		res := tx.Model(&model.NotificationDraft{}).
			Where("id = ? AND status = ?", id, draft.Status).
			Updates(map[string]any{"status": to, "updated_at": time.Now()})
		if res.Error != nil {
			return fmt.Errorf("failed to update draft %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("draft %d: %w", id, errs.ErrConflict)
		}
		draft.Status = to
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &draft, nil
}

// --- Operator push subscriptions ---

func (s *gormStore) UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth", "operator"}),
	}).Create(sub).Error
	if err != nil {
		return writeErr("subscription", err)
	}
	return nil
}

func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).First(&sub, "endpoint = ?", endpoint).Error; err != nil {
		return nil, lookupErr("subscription", endpoint, err)
	}
	return &sub, nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error; err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

func (s *gormStore) ListSubscriptions(ctx context.Context) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Order("created_at").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}
