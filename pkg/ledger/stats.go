package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
)

// IntentCounter returns the number of intents ever accepted
func (e *Engine) IntentCounter(_ context.Context) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.intentSeq.Last()
}

// BatchCounter returns the number of batches ever formed
func (e *Engine) BatchCounter(_ context.Context) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.batchSeq.Last()
}

// PendingIntentCount returns the number of intents waiting to be batched
func (e *Engine) PendingIntentCount(ctx context.Context) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n, err := e.store.CountIntents(ctx, models.IntentPending)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending intents: %w", err)
	}
	return n, nil
}

// Counters returns all ledger totals from one consistent view
func (e *Engine) Counters(ctx context.Context) (models.Counters, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pending, err := e.store.CountIntents(ctx, models.IntentPending)
	if err != nil {
		return models.Counters{}, fmt.Errorf("failed to count pending intents: %w", err)
	}
	return models.Counters{
		Intents: e.intentSeq.Last(),
		Batches: e.batchSeq.Last(),
		Pending: pending,
	}, nil
}

// BatchStats projects a batch and its result, if any, into summary figures
func (e *Engine) BatchStats(ctx context.Context, batchID uint64) (*models.BatchStats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	batch, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("batch %d: %w", batchID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load batch %d: %w", batchID, err)
	}

	stats := &models.BatchStats{
		BatchID:     batch.ID,
		IntentCount: batch.IntentCount,
		TotalVolume: new(big.Int).Set(batch.TotalVolume),
		Status:      batch.Status,
		Settled:     batch.Status == models.BatchSettled,
		Aborted:     batch.Status == models.BatchAborted,
	}

	result, err := e.store.GetBatchResult(ctx, batchID)
	switch {
	case err == nil:
		success := result.Success
		stats.Success = &success
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("failed to load result of batch %d: %w", batchID, err)
	}
	return stats, nil
}
