// Package drafting talks to the text-generation service that writes customer
// notification drafts and decision log rationales.
package drafting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"lpbf-planner/config"
	"lpbf-planner/internal/audit"
	"lpbf-planner/internal/errs"
	"lpbf-planner/internal/model"
)

// Request is what a drafter needs to write one notification.
type Request struct {
	Type    model.NotificationType    `json:"notification_type"`
	Context model.NotificationContext `json:"context"`
}

// Draft is a generated notification awaiting review.
type Draft struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Drafter writes notification drafts.
type Drafter interface {
	Draft(ctx context.Context, req Request) (Draft, error)
}

// Client is the HTTP drafter. Calls are throttled by a token bucket shared by
// drafts and rationales.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client for the configured service.
func NewClient(cfg config.DraftingConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

// Draft implements Drafter.
func (c *Client) Draft(ctx context.Context, req Request) (Draft, error) {
	var d Draft
	if err := c.post(ctx, "/draft", req, &d); err != nil {
		return Draft{}, err
	}
	if strings.TrimSpace(d.Subject) == "" || strings.TrimSpace(d.Body) == "" {
		return Draft{}, fmt.Errorf("drafting service returned an empty draft: %w", errs.ErrExternalService)
	}
	return d, nil
}

type reasonRequest struct {
	PartRequestID      uint            `json:"part_request_id"`
	InquiryNumber      string          `json:"inquiry_number"`
	PartName           string          `json:"part_name"`
	RunNumber          string          `json:"run_number,omitempty"`
	Decision           model.Decision  `json:"decision"`
	AreaBeforeCM2      decimal.Decimal `json:"area_before_cm2"`
	AreaRequiredCM2    decimal.Decimal `json:"area_required_cm2"`
	AreaAfterCM2       decimal.Decimal `json:"area_after_cm2"`
	LeadTimeImpactDays int             `json:"lead_time_impact_days"`
}

// Reason implements audit.Reasoner.
func (c *Client) Reason(ctx context.Context, o audit.Outcome) (string, error) {
	var resp struct {
		Text string `json:"text"`
	}
	err := c.post(ctx, "/reason", reasonRequest{
		PartRequestID:      o.PartRequestID,
		InquiryNumber:      o.InquiryNumber,
		PartName:           o.PartName,
		RunNumber:          o.RunNumber,
		Decision:           o.Decision,
		AreaBeforeCM2:      o.AreaBeforeCM2,
		AreaRequiredCM2:    o.AreaRequiredCM2,
		AreaAfterCM2:       o.AreaAfterCM2,
		LeadTimeImpactDays: o.LeadTimeImpactDays,
	}, &resp)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("drafting service is not configured: %w", errs.ErrExternalService)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("drafting rate limit: %v: %w", err, errs.ErrExternalService)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("drafting request failed: %v: %w", err, errs.ErrExternalService)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("drafting service returned status %d: %w", resp.StatusCode, errs.ErrExternalService)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode drafting response: %v: %w", err, errs.ErrExternalService)
	}
	return nil
}
