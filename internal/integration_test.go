package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"lpbf-planner/config"
	"lpbf-planner/internal/api"
	"lpbf-planner/internal/db"
	"lpbf-planner/internal/drafting"
	"lpbf-planner/internal/estimation"
	"lpbf-planner/internal/inquiry"
	"lpbf-planner/internal/metrics"
	"lpbf-planner/internal/model"
	"lpbf-planner/internal/nesting"
	"lpbf-planner/internal/notification"
	"lpbf-planner/internal/pricing"
	"lpbf-planner/internal/store"
)

// TestInquiryToDraft drives a part from submission through estimation,
// allocation and repricing to a reviewed customer notification draft, with
// both external collaborators served over HTTP.
func TestInquiryToDraft(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// --- Test Setup ---
	testDB, err := gorm.Open(sqlite.Open("file:inquiry_to_draft?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, _ := testDB.DB()
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()
	require.NoError(t, db.Migrate(testDB))

	var estimates, reasons, drafts int32
	estimator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&estimates, 1)
		w.Write([]byte(`{"calc_part_price_eur": 100, "calc_build_time_h": 10, "model_key": "M2_IN718_IN625"}`))
	}))
	defer estimator.Close()

	drafter := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/reason":
			atomic.AddInt32(&reasons, 1)
			w.Write([]byte(`{"text": "Run has room."}`))
		case "/draft":
			atomic.AddInt32(&drafts, 1)
			var req drafting.Request
			json.NewDecoder(r.Body).Decode(&req)
			fmt.Fprintf(w, `{"subject": "Price update %s", "body": "Now %s EUR"}`,
				req.Context.PartName, req.Context.NewPriceEUR.StringFixed(2))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer drafter.Close()

	cfg := &config.Config{
		Server:   config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000, CacheTTLSeconds: 60},
		Machines: []config.MachineConfig{{Name: "M2", PlatformAreaCM2: decimal.NewFromInt(1000)}},
		Estimation: config.ServiceConfig{
			BaseURL: estimator.URL,
			Timeout: time.Second,
		},
		Drafting: config.DraftingConfig{
			ServiceConfig:     config.ServiceConfig{BaseURL: drafter.URL, Timeout: time.Second},
			RequestsPerSecond: 100,
			Burst:             10,
		},
		WorkerPool: config.WorkerPoolConfig{Size: 2, MaxAttempts: 3},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(testDB)
	recorder := metrics.New()
	client := drafting.NewClient(cfg.Drafting)

	pool := notification.NewWorkerPool(cfg.WorkerPool, appStore, client, nil, recorder)
	pool.Start(ctx)

	engine := nesting.NewEngine(nesting.Deps{
		Store: appStore,
		Calculator: pricing.NewAmortizedCalculator(pricing.RateTable{
			Default: pricing.Rate{PlatformSetupEUR: decimal.NewFromInt(40), SharedTimeH: decimal.NewFromInt(2)},
		}),
		Reasoner: client,
		Notifier: pool,
		Metrics:  recorder,
	}, nesting.Config{MaxAttempts: 5, MatchMachine: true, ReasoningTimeout: time.Second,
		Threshold: pricing.Threshold{MinEUR: decimal.NewFromInt(1)}})

	handler := api.NewHandler(api.Deps{
		Store:      appStore,
		Intake:     inquiry.NewService(appStore, estimation.NewClient(cfg.Estimation, recorder), cfg.Machines),
		Engine:     engine,
		Dispatcher: pool,
		Machines:   cfg.Machines,
	})
	router := api.NewRouter(ctx, handler, cfg.Server, recorder)

	call := func(method, path string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		if body != nil {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	// --- Step 1: open a run and submit two parts of different customers ---
	w := call(http.MethodPost, "/api/runs", gin.H{"machine": "M2", "material_group": "IN718"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	partIDs := make([]uint, 0, 2)
	for i, customer := range []string{"C-1", "C-2"} {
		w = call(http.MethodPost, "/api/parts", gin.H{
			"customer_number":    customer,
			"inquiry_number":     fmt.Sprintf("INQ-%d", i),
			"part_name":          fmt.Sprintf("Part %d", i),
			"quantity":           2,
			"projected_area_cm2": "100",
			"machine":            "M2",
			"material":           "IN 718",
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var created struct {
			Part struct {
				ID     uint   `json:"id"`
				Status string `json:"status"`
			} `json:"part"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
		assert.Equal(t, "quoted", created.Part.Status)
		partIDs = append(partIDs, created.Part.ID)

		w = call(http.MethodPost, fmt.Sprintf("/api/parts/%d/status", created.Part.ID), gin.H{"status": "accepted"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&estimates))

	// --- Step 2: nest both parts ---
	for _, id := range partIDs {
		w = call(http.MethodPost, "/api/allocations", gin.H{"part_request_id": id})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&reasons))

	decisions, err := appStore.ListDecisions(ctx, store.DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, "Run has room.", decisions[1].ReasoningSummary)

	// --- Step 3: the worker pool drafts both price reductions ---
	require.Eventually(t, func() bool {
		drafted, err := appStore.ListDrafts(ctx, store.DraftFilter{Status: model.DraftDraft})
		return err == nil && len(drafted) == 2
	}, 3*time.Second, 20*time.Millisecond)

	drafted, err := appStore.ListDrafts(ctx, store.DraftFilter{CustomerNumber: "C-1"})
	require.NoError(t, err)
	require.Len(t, drafted, 1)
	assert.Equal(t, "Price update Part 0", drafted[0].Subject)
	assert.Equal(t, "Now 80.00 EUR", drafted[0].Body)
	assert.Equal(t, model.NotificationCurrent, drafted[0].NotificationType)

	// --- Step 4: review and send ---
	for _, status := range []string{"reviewed", "sent"} {
		w = call(http.MethodPut, fmt.Sprintf("/api/notifications/%d/status", drafted[0].ID), gin.H{"status": status})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	w = call(http.MethodPut, fmt.Sprintf("/api/notifications/%d/status", drafted[0].ID), gin.H{"status": "draft"})
	assert.Equal(t, http.StatusConflict, w.Code)
}
