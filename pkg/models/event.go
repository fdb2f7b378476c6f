package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a ledger event
type EventType string

const (
	EventIntentSubmitted EventType = "intent.submitted"
	EventBatchCreated    EventType = "batch.created"
	EventBatchExecuted   EventType = "batch.executed"
)

// Event is emitted after a state change has been committed
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	IntentID  uint64    `json:"intent_id,omitempty"`
	Owner     string    `json:"owner,omitempty"`
	BatchID   uint64    `json:"batch_id,omitempty"`
	IntentIDs []uint64  `json:"intent_ids,omitempty"`
	Success   *bool     `json:"success,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewIntentSubmitted builds the event for an accepted intent
func NewIntentSubmitted(intentID uint64, owner string, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      EventIntentSubmitted,
		IntentID:  intentID,
		Owner:     owner,
		Timestamp: at,
	}
}

// NewBatchCreated builds the event for a formed batch
func NewBatchCreated(batchID uint64, intentIDs []uint64, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      EventBatchCreated,
		BatchID:   batchID,
		IntentIDs: append([]uint64(nil), intentIDs...),
		Timestamp: at,
	}
}

// NewBatchExecuted builds the event for a batch that left the executing state
func NewBatchExecuted(batchID uint64, success bool, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      EventBatchExecuted,
		BatchID:   batchID,
		Success:   &success,
		Timestamp: at,
	}
}
