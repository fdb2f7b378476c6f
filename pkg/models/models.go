package models

// IntentStatus is the lifecycle state of an intent.
// Transitions only move forward: pending -> batched -> executed | failed.
type IntentStatus string

const (
	IntentPending  IntentStatus = "pending"
	IntentBatched  IntentStatus = "batched"
	IntentExecuted IntentStatus = "executed"
	IntentFailed   IntentStatus = "failed"
)

var intentTransitions = map[IntentStatus][]IntentStatus{
	IntentPending: {IntentBatched},
	IntentBatched: {IntentExecuted, IntentFailed},
}

// Valid reports whether s is a known intent status
func (s IntentStatus) Valid() bool {
	switch s {
	case IntentPending, IntentBatched, IntentExecuted, IntentFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s IntentStatus) IsTerminal() bool {
	return s == IntentExecuted || s == IntentFailed
}

// CanTransitionTo reports whether moving from s to next is allowed
func (s IntentStatus) CanTransitionTo(next IntentStatus) bool {
	for _, allowed := range intentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseIntentStatus converts a string into an IntentStatus
func ParseIntentStatus(s string) (IntentStatus, bool) {
	status := IntentStatus(s)
	return status, status.Valid()
}

// BatchStatus is the lifecycle state of a batch.
// Transitions only move forward: formed -> executing -> settled | aborted.
type BatchStatus string

const (
	BatchFormed    BatchStatus = "formed"
	BatchExecuting BatchStatus = "executing"
	BatchSettled   BatchStatus = "settled"
	BatchAborted   BatchStatus = "aborted"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchFormed:    {BatchExecuting},
	BatchExecuting: {BatchSettled, BatchAborted},
}

// Valid reports whether s is a known batch status
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchFormed, BatchExecuting, BatchSettled, BatchAborted:
		return true
	}
	return false
}

// IsTerminal reports whether the batch has left the executing state
func (s BatchStatus) IsTerminal() bool {
	return s == BatchSettled || s == BatchAborted
}

// CanTransitionTo reports whether moving from s to next is allowed
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	for _, allowed := range batchTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
