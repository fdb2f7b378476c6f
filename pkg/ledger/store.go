package ledger

import (
	"context"

	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
)

// IntentFilter selects intents for listing in ascending id order
type IntentFilter struct {
	// Status restricts the listing to one status; empty means any
	Status models.IntentStatus
	// AfterID skips intents with an id lower than or equal to it
	AfterID uint64
	// Limit caps the number of results; zero means no cap
	Limit int
}

// Store persists the ledger. Records are never deleted.
//
// Writes must be issued with the context passed to the WithTx callback; they become
// visible to readers together, when the callback returns nil. Reads issued with that
// context observe the transaction's own writes. Lookups of unknown ids return an
// error wrapping ErrNotFound.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	InsertIntent(ctx context.Context, intent *models.Intent) error
	UpdateIntent(ctx context.Context, intent *models.Intent) error
	GetIntent(ctx context.Context, id uint64) (*models.Intent, error)
	ListIntents(ctx context.Context, filter IntentFilter) ([]*models.Intent, error)
	CountIntents(ctx context.Context, status models.IntentStatus) (uint64, error)
	LastIntentID(ctx context.Context) (uint64, error)

	InsertBatch(ctx context.Context, batch *models.Batch) error
	UpdateBatch(ctx context.Context, batch *models.Batch) error
	GetBatch(ctx context.Context, id uint64) (*models.Batch, error)
	LastBatchID(ctx context.Context) (uint64, error)

	InsertBatchResult(ctx context.Context, result *models.BatchResult) error
	GetBatchResult(ctx context.Context, batchID uint64) (*models.BatchResult, error)
}
