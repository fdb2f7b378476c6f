package ledger

import (
	"errors"
	"fmt"
)

// Errors returned by the engine. Compare with errors.Is.
var (
	ErrInvalidIntent      = errors.New("invalid intent")
	ErrNotFound           = errors.New("not found")
	ErrIntentNotFound     = fmt.Errorf("intent %w", ErrNotFound)
	ErrIntentNotPending   = errors.New("intent not pending")
	ErrDuplicateIntent    = errors.New("duplicate intent in batch")
	ErrEmptyBatch         = errors.New("empty batch")
	ErrInvalidBatchSize   = errors.New("invalid batch size")
	ErrInvalidRoute       = errors.New("invalid execution route")
	ErrAlreadyExecuted    = errors.New("batch already executed")
	ErrBatchNotFormed     = errors.New("batch not formed")
	ErrInvalidSettlement  = errors.New("invalid settlement")
	ErrInvalidBatchConfig = errors.New("invalid batch config")
)

// FailureSettlementFloor is recorded on an aborted batch whose venue output
// did not cover the members' aggregate minimum output.
const FailureSettlementFloor = "settlement floor violation"

// IsValidationError reports whether err rejects caller input without touching state
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidIntent) ||
		errors.Is(err, ErrEmptyBatch) ||
		errors.Is(err, ErrDuplicateIntent) ||
		errors.Is(err, ErrInvalidBatchSize) ||
		errors.Is(err, ErrInvalidRoute) ||
		errors.Is(err, ErrInvalidSettlement) ||
		errors.Is(err, ErrInvalidBatchConfig)
}

// IsConflictError reports whether err is caused by the current state of an intent or batch
func IsConflictError(err error) bool {
	return errors.Is(err, ErrIntentNotPending) ||
		errors.Is(err, ErrAlreadyExecuted) ||
		errors.Is(err, ErrBatchNotFormed)
}
