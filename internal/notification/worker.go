// Package notification turns queued price-reduction requests into drafts for
// manual review and alerts operators over web push when drafts are ready.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	log "github.com/sirupsen/logrus"

	"lpbf-planner/config"
	"lpbf-planner/internal/drafting"
	"lpbf-planner/internal/errs"
	"lpbf-planner/internal/metrics"
	"lpbf-planner/internal/model"
	"lpbf-planner/internal/store"
)

// NotificationSender defines the interface for sending a web push notification.
type NotificationSender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender is a real implementation of NotificationSender using the webpush library.
type WebPushSender struct{}

// Send sends a notification using the webpush library.
func (s *WebPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WorkerPool drafts notifications for outbox rows. Rows reach the workers
// either through Dispatch right after the allocation commits or through the
// periodic retry sweep, so a full queue or a restart never loses a row.
type WorkerPool struct {
	size          int
	jobs          chan uint
	store         store.Store
	drafter       drafting.Drafter
	webpush       *webpush.Options
	sender        NotificationSender
	metrics       *metrics.Recorder
	retryInterval time.Duration
	maxAttempts   int

	mu       sync.Mutex
	inFlight map[uint]struct{}
}

// NewWorkerPool creates a new worker pool. A nil webpushOptions disables
// operator alerts.
func NewWorkerPool(cfg config.WorkerPoolConfig, s store.Store, d drafting.Drafter, webpushOptions *webpush.Options, m *metrics.Recorder) *WorkerPool {
	return &WorkerPool{
		size:          cfg.Size,
		jobs:          make(chan uint, cfg.Size*16),
		store:         s,
		drafter:       d,
		webpush:       webpushOptions,
		sender:        &WebPushSender{},
		metrics:       m,
		retryInterval: cfg.RetryInterval,
		maxAttempts:   cfg.MaxAttempts,
		inFlight:      make(map[uint]struct{}),
	}
}

// Start launches the worker goroutines and the retry sweep.
func (wp *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < wp.size; i++ {
		go wp.worker(ctx, i)
	}
	if wp.retryInterval > 0 {
		go wp.retryLoop(ctx)
	}
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	log.WithField("worker", id).Debug("notification worker started")
	for {
		select {
		case requestID := <-wp.jobs:
			wp.process(ctx, requestID)
		case <-ctx.Done():
			log.WithField("worker", id).Debug("notification worker shutting down")
			return
		}
	}
}

// Dispatch queues outbox rows without blocking. Rows that do not fit are
// left to the retry sweep.
func (wp *WorkerPool) Dispatch(requestIDs ...uint) {
	for _, id := range requestIDs {
		select {
		case wp.jobs <- id:
		default:
			log.WithField("request_id", id).Warn("notification queue full, deferring to retry sweep")
		}
	}
}

// Jobs returns the jobs channel for testing.
func (wp *WorkerPool) Jobs() chan uint {
	return wp.jobs
}

func (wp *WorkerPool) retryLoop(ctx context.Context) {
	ticker := time.NewTicker(wp.retryInterval)
	defer ticker.Stop()

	wp.Sweep(ctx)
	for {
		select {
		case <-ticker.C:
			wp.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep queues pending and failed rows that still have attempts left.
func (wp *WorkerPool) Sweep(ctx context.Context) {
	reqs, err := wp.store.RetryableNotificationRequests(ctx, wp.maxAttempts, cap(wp.jobs))
	if err != nil {
		log.WithError(err).Error("failed to list retryable notification requests")
		return
	}
	ids := make([]uint, 0, len(reqs))
	for _, r := range reqs {
		ids = append(ids, r.ID)
	}
	if len(ids) > 0 {
		log.WithField("count", len(ids)).Info("retrying notification requests")
		wp.Dispatch(ids...)
	}
}

func (wp *WorkerPool) claim(id uint) bool {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if _, busy := wp.inFlight[id]; busy {
		return false
	}
	wp.inFlight[id] = struct{}{}
	return true
}

func (wp *WorkerPool) release(id uint) {
	wp.mu.Lock()
	delete(wp.inFlight, id)
	wp.mu.Unlock()
}

// process drafts one outbox row. Failures are recorded on the row and retried
// by the sweep until the attempt budget is spent.
func (wp *WorkerPool) process(ctx context.Context, requestID uint) {
	if !wp.claim(requestID) {
		return
	}
	defer wp.release(requestID)

	logger := log.WithField("request_id", requestID)
	req, err := wp.store.GetNotificationRequest(ctx, requestID)
	if err != nil {
		logger.WithError(err).Error("failed to load notification request")
		return
	}
	if req.State == model.RequestDrafted {
		return
	}

	draft, err := wp.draft(ctx, req)
	wp.metrics.ObserveDraft(err)
	if err != nil {
		logger.WithError(err).Warn("drafting failed")
		if markErr := wp.store.MarkRequestFailed(ctx, requestID, err.Error()); markErr != nil {
			logger.WithError(markErr).Error("failed to record drafting failure")
		}
		return
	}

	if err := wp.store.SaveDraft(ctx, requestID, draft); err != nil {
		if errors.Is(err, errs.ErrConflict) {
			logger.Debug("request drafted concurrently")
			return
		}
		logger.WithError(err).Error("failed to save draft")
		return
	}
	logger.WithField("draft_id", draft.ID).Info("notification draft ready for review")
	wp.alertOperators(ctx, draft)
}

func (wp *WorkerPool) draft(ctx context.Context, req *model.NotificationRequest) (*model.NotificationDraft, error) {
	var nctx model.NotificationContext
	if err := json.Unmarshal(req.Context, &nctx); err != nil {
		return nil, fmt.Errorf("corrupt notification context: %w", err)
	}

	d, err := wp.drafter.Draft(ctx, drafting.Request{Type: req.NotificationType, Context: nctx})
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &model.NotificationDraft{
		CustomerNumber:   req.CustomerNumber,
		PartRequestID:    req.PartRequestID,
		InquiryNumber:    nctx.InquiryNumber,
		OrderNumber:      nctx.OrderNumber,
		RunID:            req.RunID,
		NotificationType: req.NotificationType,
		Subject:          d.Subject,
		Body:             d.Body,
		Context:          req.Context,
		Status:           model.DraftDraft,
		GeneratedAt:      now,
		UpdatedAt:        now,
	}, nil
}

type alert struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	DraftID uint   `json:"draft_id"`
}

// alertOperators pushes a short notice to every operator subscription.
func (wp *WorkerPool) alertOperators(ctx context.Context, draft *model.NotificationDraft) {
	if wp.webpush == nil {
		return
	}
	subs, err := wp.store.ListSubscriptions(ctx)
	if err != nil {
		log.WithError(err).Error("failed to list operator subscriptions")
		return
	}
	if len(subs) == 0 {
		return
	}

	payload, err := json.Marshal(alert{
		Title:   "Notification draft ready",
		Body:    draft.Subject,
		DraftID: draft.ID,
	})
	if err != nil {
		log.WithError(err).Error("failed to marshal alert")
		return
	}
	for _, sub := range subs {
		wp.sendNotification(ctx, sub, payload)
	}
}

// sendNotification sends a single web push notification.
func (wp *WorkerPool) sendNotification(ctx context.Context, sub model.PushSubscription, payload []byte) {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := wp.sender.Send(payload, wpSub, wp.webpush)
	if err != nil {
		log.WithError(err).WithField("endpoint", sub.Endpoint).Warn("error sending push alert")
		return
	}
	defer resp.Body.Close()

	// Handle expired subscriptions
	if resp.StatusCode == http.StatusGone {
		log.WithField("endpoint", sub.Endpoint).Info("subscription expired, deleting")
		if err := wp.store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			log.WithError(err).WithField("endpoint", sub.Endpoint).Error("failed to delete expired subscription")
		}
	}
}
