// Package estimation is the client of the external price and build-time
// regression service.
package estimation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"lpbf-planner/config"
	"lpbf-planner/internal/errs"
	"lpbf-planner/internal/metrics"
	"lpbf-planner/internal/model"
	"lpbf-planner/internal/parse"
)

// Features are the regression inputs of one part.
type Features struct {
	ModelKey          string          `json:"model_key"`
	Machine           string          `json:"machine"`
	Material          string          `json:"material"`
	Quantity          int             `json:"quantity"`
	PartVolumeCM3     decimal.Decimal `json:"part_volume_cm3"`
	SupportVolumeCM3  decimal.Decimal `json:"support_volume_cm3"`
	PartHeightMM      decimal.Decimal `json:"part_height_mm"`
	ProjectedAreaCM2  decimal.Decimal `json:"projected_area_cm2"`
	PrepTimeH         decimal.Decimal `json:"prep_time_h"`
	PostHandlingTimeH decimal.Decimal `json:"post_handling_time_h"`
	BlastingTimeH     decimal.Decimal `json:"blasting_time_h"`
	LeakTestingTimeH  decimal.Decimal `json:"leak_testing_time_h"`
	QCTimeH           decimal.Decimal `json:"qc_time_h"`
}

// FeaturesOf extracts the regression inputs from a part-request.
func FeaturesOf(p *model.PartRequest) Features {
	return Features{
		ModelKey:          parse.Designation{Machine: p.Machine, MaterialGroup: p.MaterialGroup}.Key(),
		Machine:           p.Machine,
		Material:          p.Material,
		Quantity:          p.Quantity,
		PartVolumeCM3:     p.PartVolumeCM3,
		SupportVolumeCM3:  p.SupportVolumeCM3,
		PartHeightMM:      p.PartHeightMM,
		ProjectedAreaCM2:  p.ProjectedAreaCM2,
		PrepTimeH:         p.PrepTimeH.Decimal,
		PostHandlingTimeH: p.PostHandlingTimeH.Decimal,
		BlastingTimeH:     p.BlastingTimeH.Decimal,
		LeakTestingTimeH:  p.LeakTestingTimeH.Decimal,
		QCTimeH:           p.QCTimeH.Decimal,
	}
}

// Estimate is the standalone price and build time of a part.
type Estimate struct {
	PriceEUR   decimal.Decimal
	BuildTimeH decimal.Decimal
	ModelKey   string
}

// Service estimates standalone price and build time.
type Service interface {
	Estimate(ctx context.Context, f Features) (Estimate, error)
}

// apiResponse models the estimation service's reply. A model that is not
// trained yet answers with null figures and a message.
type apiResponse struct {
	PriceEUR   *decimal.Decimal `json:"calc_part_price_eur"`
	BuildTimeH *decimal.Decimal `json:"calc_build_time_h"`
	ModelKey   string           `json:"model_key"`
	Message    string           `json:"message"`
}

// Client calls the estimation service over HTTP. Identical feature sets are
// answered from a cache for CacheTTL.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	cache   *cache.Cache
	metrics *metrics.Recorder
}

// NewClient creates a client for the configured service.
func NewClient(cfg config.ServiceConfig, m *metrics.Recorder) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		metrics: m,
	}
	if cfg.CacheTTL > 0 {
		c.cache = cache.New(cfg.CacheTTL, 2*cfg.CacheTTL)
	}
	return c
}

// Estimate implements Service.
func (c *Client) Estimate(ctx context.Context, f Features) (Estimate, error) {
	est, err := c.estimate(ctx, f)
	c.metrics.ObserveEstimation(err)
	return est, err
}

func (c *Client) estimate(ctx context.Context, f Features) (Estimate, error) {
	if c.baseURL == "" {
		return Estimate{}, fmt.Errorf("estimation service is not configured: %w", errs.ErrExternalService)
	}

	body, err := json.Marshal(f)
	if err != nil {
		return Estimate{}, fmt.Errorf("failed to marshal features: %w", err)
	}
	key := string(body)
	if c.cache != nil {
		if cached, ok := c.cache.Get(key); ok {
			return cached.(Estimate), nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/estimate", bytes.NewReader(body))
	if err != nil {
		return Estimate{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return Estimate{}, fmt.Errorf("estimation request failed: %v: %w", err, errs.ErrExternalService)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Estimate{}, fmt.Errorf("estimation service returned status %d: %w", resp.StatusCode, errs.ErrExternalService)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Estimate{}, fmt.Errorf("failed to read estimation response: %v: %w", err, errs.ErrExternalService)
	}
	var apiResp apiResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return Estimate{}, fmt.Errorf("failed to unmarshal estimation response: %v: %w", err, errs.ErrExternalService)
	}
	if apiResp.PriceEUR == nil || apiResp.BuildTimeH == nil {
		return Estimate{}, fmt.Errorf("no estimate for %s (%s): %w", f.ModelKey, apiResp.Message, errs.ErrExternalService)
	}
	if apiResp.PriceEUR.IsNegative() || apiResp.BuildTimeH.IsNegative() {
		return Estimate{}, fmt.Errorf("negative estimate for %s: %w", f.ModelKey, errs.ErrExternalService)
	}

	est := Estimate{
		PriceEUR:   apiResp.PriceEUR.Round(2),
		BuildTimeH: apiResp.BuildTimeH.Round(2),
		ModelKey:   apiResp.ModelKey,
	}
	if c.cache != nil {
		c.cache.SetDefault(key, est)
	}
	log.WithFields(log.Fields{"model_key": f.ModelKey, "took": time.Since(start)}).Debug("estimate received")
	return est, nil
}
