// Package batchclient provides a client for interacting with the batcher API.
package batchclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/speedrun-hq/speedrun-batcher/pkg/logger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
)

// pageSize is used by FetchPendingIntents
const pageSize = 500

// APIError is a non-2xx response from the API
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("batcher API error (status %d, %s): %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the API
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsConflict reports whether err is a 409 from the API
func IsConflict(err error) bool {
	return hasStatus(err, http.StatusConflict)
}

// IsRateLimited reports whether err is a 429 from the API
func IsRateLimited(err error) bool {
	return hasStatus(err, http.StatusTooManyRequests)
}

func hasStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// Client represents a batcher API client
type Client struct {
	endpoint   string
	adminKey   string
	httpClient *http.Client
	logger     logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithAdminKey sets the bearer key sent to admin routes
func WithAdminKey(key string) Option {
	return func(c *Client) { c.adminKey = key }
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a new batcher API client
func New(endpoint string, logger logger.Logger, opts ...Option) *Client {
	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: createHTTPClient(),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitIntent submits an intent and returns its id
func (c *Client) SubmitIntent(ctx context.Context, req models.SubmitIntentRequest) (uint64, error) {
	var resp models.SubmitIntentResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/intents", req, &resp, false); err != nil {
		return 0, err
	}
	return resp.IntentID, nil
}

// GetIntent gets an intent by id
func (c *Client) GetIntent(ctx context.Context, id uint64) (*models.IntentResponse, error) {
	var resp models.IntentResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/intents/%d", id), nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListOptions filters ListIntents
type ListOptions struct {
	Status  models.IntentStatus
	AfterID uint64
	Limit   int
}

// ListIntents gets one page of intents in ascending id order
func (c *Client) ListIntents(ctx context.Context, opts ListOptions) (*models.IntentListResponse, error) {
	query := url.Values{}
	if opts.Status != "" {
		query.Set("status", string(opts.Status))
	}
	if opts.AfterID > 0 {
		query.Set("after", strconv.FormatUint(opts.AfterID, 10))
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}

	path := "/api/v1/intents"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp models.IntentListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchPendingIntents gets every pending intent, following pages
func (c *Client) FetchPendingIntents(ctx context.Context) ([]models.IntentResponse, error) {
	var (
		intents []models.IntentResponse
		after   uint64
	)
	for {
		page, err := c.ListIntents(ctx, ListOptions{Status: models.IntentPending, AfterID: after, Limit: pageSize})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch pending intents: %w", err)
		}
		intents = append(intents, page.Intents...)
		if page.NextAfterID == 0 {
			break
		}
		after = page.NextAfterID
	}

	if len(intents) == 0 {
		c.logger.Debug("No pending intents found")
	}
	return intents, nil
}

// CreateBatch groups pending intents into a batch bound to route
func (c *Client) CreateBatch(ctx context.Context, intentIDs []uint64, route string) (uint64, error) {
	var resp models.CreateBatchResponse
	req := models.CreateBatchRequest{IntentIDs: intentIDs, Route: route}
	if err := c.do(ctx, http.MethodPost, "/api/v1/batches", req, &resp, false); err != nil {
		return 0, err
	}
	return resp.BatchID, nil
}

// GetBatch gets a batch by id
func (c *Client) GetBatch(ctx context.Context, id uint64) (*models.BatchResponse, error) {
	var resp models.BatchResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/batches/%d", id), nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExecuteBatch reports a venue outcome for a formed batch. An aborted batch is returned without error.
func (c *Client) ExecuteBatch(ctx context.Context, id uint64, req models.ExecuteBatchRequest) (*models.BatchResultResponse, error) {
	var resp models.BatchResultResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/batches/%d/execute", id), req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetBatchResult gets the recorded result of an executed batch
func (c *Client) GetBatchResult(ctx context.Context, id uint64) (*models.BatchResultResponse, error) {
	var resp models.BatchResultResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/batches/%d/result", id), nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetBatchStats gets the summary of a batch
func (c *Client) GetBatchStats(ctx context.Context, id uint64) (*models.BatchStatsResponse, error) {
	var resp models.BatchStatsResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/batches/%d/stats", id), nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetStats gets the ledger totals
func (c *Client) GetStats(ctx context.Context) (*models.StatsResponse, error) {
	var resp models.StatsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetBatchConfig gets the batch size bounds. Requires the admin key.
func (c *Client) GetBatchConfig(ctx context.Context) (*models.BatchConfigBody, error) {
	var resp models.BatchConfigBody
	if err := c.do(ctx, http.MethodGet, "/api/v1/admin/batch-config", nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetBatchConfig replaces the batch size bounds. Requires the admin key.
func (c *Client) SetBatchConfig(ctx context.Context, cfg models.BatchConfigBody) error {
	return c.do(ctx, http.MethodPut, "/api/v1/admin/batch-config", cfg, nil, true)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, admin bool) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin && c.adminKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.adminKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			c.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	// Read the response body regardless of status code
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(bodyBytes))}
		var errResp models.ErrorResponse
		if json.Unmarshal(bodyBytes, &errResp) == nil && errResp.Error != "" {
			apiErr.Code = errResp.Code
			apiErr.Message = errResp.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(bodyBytes))
	}
	return nil
}

// Helper function to create an HTTP client with timeouts
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
