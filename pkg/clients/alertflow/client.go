package alertflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"geominer/siren/pkg/api/alertflow"
	"geominer/siren/pkg/clients"
	"geominer/siren/pkg/logging"
	"geominer/siren/pkg/models"
)

// Client represents an AlertFlow REST API client
type Client struct {
	baseURL     string
	httpClient  *http.Client
	token       string
	logger      logging.Logger
	retryConfig clients.RetryConfig
}

// Config represents the configuration for the AlertFlow client
type Config struct {
	BaseURL              string
	Token                string
	Timeout              time.Duration
	Logger               logging.Logger
	RetryConfig          *clients.RetryConfig
	CircuitBreakerConfig *clients.CircuitBreakerConfig
}

// NewClient creates a new AlertFlow API client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	retryConfig := clients.DefaultRetryConfig()
	if config.RetryConfig != nil {
		retryConfig = *config.RetryConfig
	}

	// Add circuit breaker if configured
	if config.CircuitBreakerConfig != nil {
		retryConfig.CircuitBreaker = clients.NewCircuitBreaker(*config.CircuitBreakerConfig)
	}

	httpClient := &http.Client{
		Timeout:   config.Timeout,
		Transport: clients.DefaultTransport(),
	}

	return &Client{
		baseURL:     config.BaseURL,
		httpClient:  httpClient,
		token:       config.Token,
		logger:      config.Logger,
		retryConfig: retryConfig,
	}
}

// ListAlerts fetches a page of alerts with optional filters. Reads are
// idempotent and go through the retry path.
func (c *Client) ListAlerts(ctx context.Context, opts alertflow.ListAlertsOptions) (*alertflow.ListAlertsResponse, error) {
	query := url.Values{}
	if opts.Severity != "" {
		query.Set("severity", string(opts.Severity))
	}
	if opts.Type != "" {
		query.Set("type", opts.Type)
	}
	if opts.SiteID != "" {
		query.Set("site_id", opts.SiteID)
	}
	if opts.Acknowledged != nil {
		query.Set("acknowledged", strconv.FormatBool(*opts.Acknowledged))
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}

	u := c.baseURL + "/alerts"
	if encoded := query.Encode(); encoded != "" {
		u += "?" + encoded
	}

	httpReq, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := clients.DoWithRetry(ctx, c.httpClient, httpReq, c.retryConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to call AlertFlow: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}

	var page alertflow.ListAlertsResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &page, nil
}

// ListSites fetches a page of monitored sites with optional filters
func (c *Client) ListSites(ctx context.Context, opts alertflow.ListSitesOptions) (*alertflow.ListSitesResponse, error) {
	query := url.Values{}
	if opts.Status != "" {
		query.Set("status", string(opts.Status))
	}
	if opts.Region != "" {
		query.Set("region", opts.Region)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}

	u := c.baseURL + "/sites"
	if encoded := query.Encode(); encoded != "" {
		u += "?" + encoded
	}

	httpReq, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := clients.DoWithRetry(ctx, c.httpClient, httpReq, c.retryConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to call AlertFlow: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}

	var page alertflow.ListSitesResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &page, nil
}

// AcknowledgeAlert marks an alert as acknowledged. Sent exactly once: a
// timeout here leaves the outcome unknown and the caller decides what to do.
func (c *Client) AcknowledgeAlert(ctx context.Context, alertID string, req *alertflow.AcknowledgeRequest) (*models.Alert, error) {
	return c.patchAlert(ctx, alertID, "acknowledge", req)
}

// ResolveAlert marks an alert as resolved. Sent exactly once, same as
// AcknowledgeAlert.
func (c *Client) ResolveAlert(ctx context.Context, alertID string, req *alertflow.ResolveRequest) (*models.Alert, error) {
	return c.patchAlert(ctx, alertID, "resolve", req)
}

func (c *Client) patchAlert(ctx context.Context, alertID, action string, body interface{}) (*models.Alert, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	u := c.baseURL + "/alerts/" + url.PathEscape(alertID) + "/" + action
	httpReq, err := http.NewRequestWithContext(ctx, "PATCH", u, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	// Mutations bypass the retry path so one call means at most one
	// server-side state change.
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to call AlertFlow: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp)
	}

	var alert models.Alert
	if err := json.NewDecoder(resp.Body).Decode(&alert); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &alert, nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var apiErr alertflow.APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Detail != "" {
		if c.logger != nil {
			c.logger.WithFields(logging.Fields{
				"status_code": resp.StatusCode,
				"detail":      apiErr.Detail,
			}).Error("AlertFlow request failed")
		}
		return fmt.Errorf("alertflow: %s (status %d)", apiErr.Detail, resp.StatusCode)
	}

	return fmt.Errorf("alertflow: request failed with status %d", resp.StatusCode)
}
