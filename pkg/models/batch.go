package models

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Batch is an ordered, immutable group of intents settled together
type Batch struct {
	ID           uint64      `json:"id"`
	IntentIDs    []uint64    `json:"intent_ids"`
	IntentCount  int         `json:"intent_count"`
	TotalVolume  *big.Int    `json:"total_volume"`
	Route        string      `json:"route"`
	OrderingRule string      `json:"ordering_rule"`
	Status       BatchStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	ExecutedAt   *time.Time  `json:"executed_at,omitempty"`
}

// Clone returns a deep copy of the batch
func (b *Batch) Clone() *Batch {
	if b == nil {
		return nil
	}
	c := *b
	c.IntentIDs = append([]uint64(nil), b.IntentIDs...)
	if b.TotalVolume != nil {
		c.TotalVolume = new(big.Int).Set(b.TotalVolume)
	}
	if b.ExecutedAt != nil {
		t := *b.ExecutedAt
		c.ExecutedAt = &t
	}
	return &c
}

// BatchResult records the outcome of a batch execution. Written once, never mutated.
type BatchResult struct {
	BatchID           uint64          `json:"batch_id"`
	Success           bool            `json:"success"`
	TotalInputAmount  *big.Int        `json:"total_input_amount"`
	TotalOutputAmount *big.Int        `json:"total_output_amount"`
	ExecutionPrice    decimal.Decimal `json:"execution_price"`
	FailureReason     string          `json:"failure_reason,omitempty"`
	Timestamp         time.Time       `json:"timestamp"`
}

// Clone returns a deep copy of the result
func (r *BatchResult) Clone() *BatchResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.TotalInputAmount != nil {
		c.TotalInputAmount = new(big.Int).Set(r.TotalInputAmount)
	}
	if r.TotalOutputAmount != nil {
		c.TotalOutputAmount = new(big.Int).Set(r.TotalOutputAmount)
	}
	return &c
}

// BatchStats is a read-only projection of a batch and its result
type BatchStats struct {
	BatchID     uint64      `json:"batch_id"`
	IntentCount int         `json:"intent_count"`
	TotalVolume *big.Int    `json:"total_volume"`
	Status      BatchStatus `json:"status"`
	Settled     bool        `json:"settled"`
	Aborted     bool        `json:"aborted"`
	Success     *bool       `json:"success,omitempty"`
}

// Counters reports the ledger totals
type Counters struct {
	Intents uint64 `json:"intents"`
	Batches uint64 `json:"batches"`
	Pending uint64 `json:"pending"`
}
