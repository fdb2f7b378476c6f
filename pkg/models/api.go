package models

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// Wire types of the batcher HTTP API. Amounts travel as base-10 strings.

// SubmitIntentRequest is the body of POST /api/v1/intents
type SubmitIntentRequest struct {
	Owner     string        `json:"owner"`
	Payload   hexutil.Bytes `json:"payload"`
	TokenIn   string        `json:"token_in"`
	TokenOut  string        `json:"token_out"`
	MinOutput string        `json:"min_output"`
}

// SubmitIntentResponse is returned for an accepted intent
type SubmitIntentResponse struct {
	IntentID uint64 `json:"intent_id"`
}

// IntentResponse is the wire form of an Intent
type IntentResponse struct {
	ID          uint64        `json:"id"`
	Owner       string        `json:"owner"`
	Payload     hexutil.Bytes `json:"payload"`
	PayloadHash common.Hash   `json:"payload_hash"`
	TokenIn     string        `json:"token_in"`
	TokenOut    string        `json:"token_out"`
	MinOutput   string        `json:"min_output"`
	Status      IntentStatus  `json:"status"`
	BatchID     *uint64       `json:"batch_id,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// IntentListResponse is one page of intents. NextAfterID is set when more may follow.
type IntentListResponse struct {
	Intents     []IntentResponse `json:"intents"`
	NextAfterID uint64           `json:"next_after_id,omitempty"`
}

// CreateBatchRequest is the body of POST /api/v1/batches
type CreateBatchRequest struct {
	IntentIDs []uint64 `json:"intent_ids"`
	Route     string   `json:"route"`
}

// CreateBatchResponse is returned for a formed batch
type CreateBatchResponse struct {
	BatchID uint64 `json:"batch_id"`
}

// BatchResponse is the wire form of a Batch
type BatchResponse struct {
	ID           uint64      `json:"id"`
	IntentIDs    []uint64    `json:"intent_ids"`
	IntentCount  int         `json:"intent_count"`
	TotalVolume  string      `json:"total_volume"`
	Route        string      `json:"route"`
	OrderingRule string      `json:"ordering_rule"`
	Status       BatchStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	ExecutedAt   *time.Time  `json:"executed_at,omitempty"`
}

// ExecuteBatchRequest is the body of POST /api/v1/batches/{id}/execute
type ExecuteBatchRequest struct {
	ActualOutput   string `json:"actual_output"`
	ExecutionPrice string `json:"execution_price"`
}

// BatchResultResponse is the wire form of a BatchResult
type BatchResultResponse struct {
	BatchID           uint64    `json:"batch_id"`
	Success           bool      `json:"success"`
	TotalInputAmount  string    `json:"total_input_amount"`
	TotalOutputAmount string    `json:"total_output_amount"`
	ExecutionPrice    string    `json:"execution_price"`
	FailureReason     string    `json:"failure_reason,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// BatchStatsResponse is the wire form of BatchStats
type BatchStatsResponse struct {
	BatchID     uint64      `json:"batch_id"`
	IntentCount int         `json:"intent_count"`
	TotalVolume string      `json:"total_volume"`
	Status      BatchStatus `json:"status"`
	Settled     bool        `json:"settled"`
	Aborted     bool        `json:"aborted"`
	Success     *bool       `json:"success,omitempty"`
}

// StatsResponse reports ledger-wide totals
type StatsResponse struct {
	Counters
	OrderingRule string `json:"ordering_rule"`
}

// BatchConfigBody is the body of GET and PUT /api/v1/admin/batch-config
type BatchConfigBody struct {
	MinBatchSize int `json:"min_batch_size"`
	MaxBatchSize int `json:"max_batch_size"`
}

// ErrorResponse is returned with every non-2xx status
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func NewIntentResponse(i *Intent) IntentResponse {
	return IntentResponse{
		ID:          i.ID,
		Owner:       i.Owner,
		Payload:     i.Payload,
		PayloadHash: i.PayloadHash,
		TokenIn:     i.TokenIn,
		TokenOut:    i.TokenOut,
		MinOutput:   amountString(i.MinOutput),
		Status:      i.Status,
		BatchID:     i.BatchID,
		CreatedAt:   i.CreatedAt,
	}
}

func NewBatchResponse(b *Batch) BatchResponse {
	return BatchResponse{
		ID:           b.ID,
		IntentIDs:    b.IntentIDs,
		IntentCount:  b.IntentCount,
		TotalVolume:  amountString(b.TotalVolume),
		Route:        b.Route,
		OrderingRule: b.OrderingRule,
		Status:       b.Status,
		CreatedAt:    b.CreatedAt,
		ExecutedAt:   b.ExecutedAt,
	}
}

func NewBatchResultResponse(r *BatchResult) BatchResultResponse {
	return BatchResultResponse{
		BatchID:           r.BatchID,
		Success:           r.Success,
		TotalInputAmount:  amountString(r.TotalInputAmount),
		TotalOutputAmount: amountString(r.TotalOutputAmount),
		ExecutionPrice:    r.ExecutionPrice.String(),
		FailureReason:     r.FailureReason,
		Timestamp:         r.Timestamp,
	}
}

func NewBatchStatsResponse(s *BatchStats) BatchStatsResponse {
	return BatchStatsResponse{
		BatchID:     s.BatchID,
		IntentCount: s.IntentCount,
		TotalVolume: amountString(s.TotalVolume),
		Status:      s.Status,
		Settled:     s.Settled,
		Aborted:     s.Aborted,
		Success:     s.Success,
	}
}

// ParseAmount parses a non-negative base-10 integer amount
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("amount is required")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative: %s", s)
	}
	return v, nil
}

// ParsePrice parses a non-negative decimal price
func ParsePrice(s string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price: %q", s)
	}
	if price.IsNegative() {
		return decimal.Zero, fmt.Errorf("price must not be negative: %s", s)
	}
	return price, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
