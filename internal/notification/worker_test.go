package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lpbf-planner/config"
	"lpbf-planner/internal/db"
	"lpbf-planner/internal/drafting"
	"lpbf-planner/internal/errs"
	"lpbf-planner/internal/model"
	"lpbf-planner/internal/store"
)

// mockSender is a mock implementation of the NotificationSender interface.
type mockSender struct {
	mu       sync.Mutex
	status   int
	payloads []string
	sent     []string
}

func (m *mockSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, string(payload))
	m.sent = append(m.sent, sub.Endpoint)
	return &http.Response{
		StatusCode: m.status,
		Body:       io.NopCloser(bytes.NewBufferString("")),
	}, nil
}

type stubDrafter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (d *stubDrafter) Draft(_ context.Context, req drafting.Request) (drafting.Draft, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return drafting.Draft{}, d.err
	}
	return drafting.Draft{
		Subject: "Lower price for " + req.Context.PartName,
		Body:    "New price " + req.Context.NewPriceEUR.StringFixed(2),
	}, nil
}

func newTestStore(t *testing.T) (store.Store, *gorm.DB) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gormDB, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.Migrate(gormDB))
	return store.NewGormStore(gormDB), gormDB
}

// seedRequest writes a pending outbox row the way an allocation would.
func seedRequest(t *testing.T, s store.Store, gormDB *gorm.DB) *model.NotificationRequest {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, gormDB.Create(&model.Customer{CustomerNumber: "C-1", CreatedAt: time.Now()}).Error)

	run := &model.ProductionRun{
		RunNumber:        "RUN-1",
		Name:             "Job 1",
		Machine:          "M2",
		MaterialGroup:    "IN718_IN625",
		UsableAreaCM2:    decimal.NewFromInt(1000),
		AvailableAreaCM2: decimal.NewFromInt(1000),
		Status:           model.RunOpen,
	}
	require.NoError(t, s.CreateRun(ctx, run))

	nctx, err := json.Marshal(model.NotificationContext{
		CustomerNumber: "C-1",
		InquiryNumber:  "INQ-1",
		PartName:       "Bracket",
		Quantity:       1,
		RunNumber:      "RUN-1",
		NewPriceEUR:    decimal.NewFromInt(80),
	})
	require.NoError(t, err)

	req := &model.NotificationRequest{
		RequestID:        "req-1",
		CustomerNumber:   "C-1",
		PartRequestID:    7,
		RunID:            run.ID,
		NotificationType: model.NotificationCurrent,
		Context:          nctx,
		State:            model.RequestPending,
	}
	require.NoError(t, gormDB.Create(req).Error)
	return req
}

func newPool(s store.Store, d drafting.Drafter, push *webpush.Options) *WorkerPool {
	return NewWorkerPool(config.WorkerPoolConfig{Size: 1, MaxAttempts: 3}, s, d, push, nil)
}

func TestWorkerPool_Dispatch(t *testing.T) {
	wp := newPool(nil, &stubDrafter{}, nil)

	wp.Dispatch(123, 124)

	assert.Equal(t, uint(123), <-wp.Jobs())
	assert.Equal(t, uint(124), <-wp.Jobs())
}

func TestWorkerPool_DispatchNeverBlocks(t *testing.T) {
	wp := newPool(nil, &stubDrafter{}, nil)
	ids := make([]uint, cap(wp.jobs)+5)
	for i := range ids {
		ids[i] = uint(i + 1)
	}

	done := make(chan struct{})
	go func() {
		wp.Dispatch(ids...)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on a full queue")
	}
	assert.Len(t, wp.jobs, cap(wp.jobs))
}

func TestWorkerPool_DraftsAndAlerts(t *testing.T) {
	s, gormDB := newTestStore(t)
	req := seedRequest(t, s, gormDB)
	ctx := context.Background()
	require.NoError(t, s.UpsertSubscription(ctx, &model.PushSubscription{Endpoint: "https://push/op", P256DH: "k", Auth: "a", CreatedAt: time.Now()}))

	sender := &mockSender{status: http.StatusCreated}
	wp := newPool(s, &stubDrafter{}, &webpush.Options{})
	wp.sender = sender

	wp.process(ctx, req.ID)

	drafts, err := s.ListDrafts(ctx, store.DraftFilter{})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, "Lower price for Bracket", drafts[0].Subject)
	assert.Equal(t, "New price 80.00", drafts[0].Body)
	assert.Equal(t, "INQ-1", drafts[0].InquiryNumber)
	assert.Equal(t, model.DraftDraft, drafts[0].Status)

	stored, err := s.GetNotificationRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestDrafted, stored.State)
	assert.Equal(t, 1, stored.Attempts)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "https://push/op", sender.sent[0])
	assert.Contains(t, sender.payloads[0], "Lower price for Bracket")

	// A drafted row is not drafted twice.
	wp.process(ctx, req.ID)
	drafts, err = s.ListDrafts(ctx, store.DraftFilter{})
	require.NoError(t, err)
	assert.Len(t, drafts, 1)
}

func TestWorkerPool_FailureIsRetriable(t *testing.T) {
	s, gormDB := newTestStore(t)
	req := seedRequest(t, s, gormDB)
	ctx := context.Background()

	drafter := &stubDrafter{err: fmt.Errorf("upstream down: %w", errs.ErrExternalService)}
	wp := newPool(s, drafter, nil)

	wp.process(ctx, req.ID)

	stored, err := s.GetNotificationRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestFailed, stored.State)
	assert.Equal(t, 1, stored.Attempts)
	assert.Contains(t, stored.LastError, "upstream down")

	wp.Sweep(ctx)
	require.Len(t, wp.jobs, 1)
	assert.Equal(t, req.ID, <-wp.jobs)

	drafter.err = nil
	wp.process(ctx, req.ID)
	stored, err = s.GetNotificationRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestDrafted, stored.State)
	assert.Equal(t, 2, stored.Attempts)
	assert.Empty(t, stored.LastError)
}

func TestWorkerPool_SweepHonoursAttemptBudget(t *testing.T) {
	s, gormDB := newTestStore(t)
	req := seedRequest(t, s, gormDB)
	ctx := context.Background()

	wp := newPool(s, &stubDrafter{err: errs.ErrExternalService}, nil)
	for i := 0; i < 3; i++ {
		wp.process(ctx, req.ID)
	}

	wp.Sweep(ctx)
	assert.Empty(t, wp.jobs)
}

func TestWorkerPool_DeletesExpiredSubscription(t *testing.T) {
	s, gormDB := newTestStore(t)
	req := seedRequest(t, s, gormDB)
	ctx := context.Background()
	require.NoError(t, s.UpsertSubscription(ctx, &model.PushSubscription{Endpoint: "https://push/expired", P256DH: "k", Auth: "a", CreatedAt: time.Now()}))

	wp := newPool(s, &stubDrafter{}, &webpush.Options{})
	wp.sender = &mockSender{status: http.StatusGone}

	wp.process(ctx, req.ID)

	_, err := s.GetSubscription(ctx, "https://push/expired")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestWorkerPool_StartProcessesQueue(t *testing.T) {
	s, gormDB := newTestStore(t)
	req := seedRequest(t, s, gormDB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wp := newPool(s, &stubDrafter{}, nil)
	wp.Start(ctx)
	wp.Dispatch(req.ID)

	assert.Eventually(t, func() bool {
		stored, err := s.GetNotificationRequest(context.Background(), req.ID)
		return err == nil && stored.State == model.RequestDrafted
	}, 2*time.Second, 10*time.Millisecond)
}
