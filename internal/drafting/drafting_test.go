package drafting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpbf-planner/config"
	"lpbf-planner/internal/audit"
	"lpbf-planner/internal/errs"
	"lpbf-planner/internal/model"
)

func testConfig(url string) config.DraftingConfig {
	return config.DraftingConfig{
		ServiceConfig:     config.ServiceConfig{BaseURL: url, Timeout: time.Second},
		RequestsPerSecond: 100,
		Burst:             10,
	}
}

func testRequest() Request {
	end := time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC)
	return Request{
		Type: model.NotificationCurrent,
		Context: model.NotificationContext{
			CustomerNumber:   "C-1",
			InquiryNumber:    "INQ-7",
			PartName:         "Bracket",
			Quantity:         4,
			RunNumber:        "RUN-12",
			PlannedEndDate:   &end,
			PreviousPriceEUR: decimal.NewFromInt(100),
			NewPriceEUR:      decimal.NewFromInt(80),
			ReductionEUR:     decimal.NewFromInt(20),
			ReductionPercent: decimal.NewFromInt(20),
		},
	}
}

func TestClient_Draft(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/draft", r.URL.Path)
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, model.NotificationCurrent, req.Type)
		assert.Equal(t, "RUN-12", req.Context.RunNumber)
		w.Write([]byte(`{"subject": "Good news", "body": "Your price dropped."}`))
	}))
	defer server.Close()

	d, err := NewClient(testConfig(server.URL)).Draft(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "Good news", d.Subject)
	assert.Equal(t, "Your price dropped.", d.Body)
}

func TestClient_DraftFailures(t *testing.T) {
	testCases := []struct {
		name string
		body string
		code int
	}{
		{"bad gateway", ``, http.StatusBadGateway},
		{"empty draft", `{"subject": "", "body": ""}`, http.StatusOK},
		{"not json", `oops`, http.StatusOK},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.code)
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			_, err := NewClient(testConfig(server.URL)).Draft(context.Background(), testRequest())
			assert.ErrorIs(t, err, errs.ErrExternalService)
		})
	}

	_, err := NewClient(testConfig("")).Draft(context.Background(), testRequest())
	assert.ErrorIs(t, err, errs.ErrExternalService)
}

func TestClient_Reason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/reason", r.URL.Path)
		var req reasonRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, model.DecisionNested, req.Decision)
		assert.Equal(t, "400", req.AreaRequiredCM2.String())
		w.Write([]byte(`{"text": "  Fits comfortably.  "}`))
	}))
	defer server.Close()

	var reasoner audit.Reasoner = NewClient(testConfig(server.URL))
	text, err := reasoner.Reason(context.Background(), audit.Outcome{
		PartRequestID:   1,
		Decision:        model.DecisionNested,
		AreaRequiredCM2: decimal.NewFromInt(400),
	})
	require.NoError(t, err)
	assert.Equal(t, "Fits comfortably.", text)
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.RequestsPerSecond = 0.001
	cfg.Burst = 1
	c := NewClient(cfg)
	c.limiter.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Draft(ctx, testRequest())
	assert.ErrorIs(t, err, errs.ErrExternalService)
}

func TestTemplateDrafter(t *testing.T) {
	req := testRequest()
	d, err := TemplateDrafter{Signature: "Build planning"}.Draft(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Lower price for Bracket (INQ-7)", d.Subject)
	assert.Contains(t, d.Body, "production run RUN-12, planned to finish on 2026-05-20")
	assert.Contains(t, d.Body, "from 100.00 EUR to 80.00 EUR")
	assert.Contains(t, d.Body, "(20.0%)")
	assert.Contains(t, d.Body, "Build planning")

	order := "PO-99"
	req.Type = model.NotificationReturning
	req.Context.OrderNumber = &order
	d, err = TemplateDrafter{}.Draft(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, d.Subject, "PO-99")
	assert.Contains(t, d.Body, "working with us again")
}
