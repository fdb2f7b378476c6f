package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/speedrun-hq/speedrun-batcher/pkg/logger"
)

type executeRequest struct {
	BatchID        uint64 `json:"batch_id"`
	Route          string `json:"route"`
	TokenIn        string `json:"token_in"`
	TokenOut       string `json:"token_out"`
	TotalMinOutput string `json:"total_min_output"`
	IntentCount    int    `json:"intent_count"`
}

type executeResponse struct {
	ActualOutput   string `json:"actual_output"`
	ExecutionPrice string `json:"execution_price"`
	Error          string `json:"error,omitempty"`
}

// HTTPVenue posts orders to a venue's /execute endpoint
type HTTPVenue struct {
	endpoint   string
	httpClient *http.Client
	logger     logger.Logger
}

// NewHTTP creates a venue client for endpoint
func NewHTTP(endpoint string, logger logger.Logger) *HTTPVenue {
	return &HTTPVenue{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: createHTTPClient(),
		logger:     logger,
	}
}

// Execute submits the order and waits for the fill report
func (v *HTTPVenue) Execute(ctx context.Context, order Order) (*Report, error) {
	body, err := json.Marshal(executeRequest{
		BatchID:        order.BatchID,
		Route:          order.Route,
		TokenIn:        order.TokenIn,
		TokenOut:       order.TokenOut,
		TotalMinOutput: order.TotalMinOutput.String(),
		IntentCount:    order.IntentCount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute batch %d: %w", order.BatchID, err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			v.logger.Error("Failed to close response body: %v", err)
		}
	}(resp.Body)

	// Read the response body regardless of status code
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &RejectedError{StatusCode: resp.StatusCode, Reason: strings.TrimSpace(string(bodyBytes))}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var out executeResponse
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		return nil, fmt.Errorf("failed to decode venue report: %w, body: %s", err, string(bodyBytes))
	}
	if out.Error != "" {
		return nil, &RejectedError{Reason: out.Error}
	}

	actual, ok := new(big.Int).SetString(out.ActualOutput, 10)
	if !ok {
		return nil, fmt.Errorf("invalid actual_output in venue report: %q", out.ActualOutput)
	}
	price, err := decimal.NewFromString(out.ExecutionPrice)
	if err != nil {
		return nil, fmt.Errorf("invalid execution_price in venue report: %w", err)
	}

	report := &Report{ActualOutput: actual, ExecutionPrice: price}
	if err := report.Validate(); err != nil {
		return nil, err
	}

	v.logger.DebugWithBatch(order.BatchID, "Venue filled %s for floor %s at %s", actual, order.TotalMinOutput, price)
	return report, nil
}

// Helper function to create an HTTP client with timeouts
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
