package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/speedrun-hq/speedrun-batcher/pkg/metrics"
	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
)

// CreateBatch groups pending intents into a new batch bound to an execution route.
// The members are ordered by the engine's ordering rule, not by the order of intentIDs.
// Either every intent becomes batched and the batch is recorded, or nothing changes.
func (e *Engine) CreateBatch(ctx context.Context, intentIDs []uint64, route string) (uint64, error) {
	ctx, span := e.tracer.Start(ctx, "ledger.CreateBatch", trace.WithAttributes(
		attribute.Int("batch.requested_size", len(intentIDs)),
		attribute.String("batch.route", route),
	))
	defer span.End()

	var out outbox
	defer e.publish(ctx, &out)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.validateBatchRequest(intentIDs, route); err != nil {
		metrics.BatchRejections.WithLabelValues(rejectionReason(err)).Inc()
		recordSpanError(span, err, "invalid batch request")
		return 0, err
	}

	batchID := e.batchSeq.Next()
	createdAt := e.now()
	var batch *models.Batch

	err := e.store.WithTx(context.WithoutCancel(ctx), func(txCtx context.Context) error {
		members := make([]*models.Intent, 0, len(intentIDs))
		for _, id := range intentIDs {
			intent, err := e.store.GetIntent(txCtx, id)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return fmt.Errorf("%w: %d", ErrIntentNotFound, id)
				}
				return fmt.Errorf("failed to load intent %d: %w", id, err)
			}
			if intent.Status != models.IntentPending || intent.BatchID != nil {
				return fmt.Errorf("%w: intent %d is %s", ErrIntentNotPending, id, intent.Status)
			}
			members = append(members, intent)
		}

		ordered := e.orderer.Order(members)
		ids := make([]uint64, len(ordered))
		total := new(big.Int)
		for i, intent := range ordered {
			ids[i] = intent.ID
			total.Add(total, intent.MinOutput)
		}

		batch = &models.Batch{
			ID:           batchID,
			IntentIDs:    ids,
			IntentCount:  len(ids),
			TotalVolume:  total,
			Route:        route,
			OrderingRule: e.orderer.Name(),
			Status:       models.BatchFormed,
			CreatedAt:    createdAt,
		}
		if err := e.store.InsertBatch(txCtx, batch); err != nil {
			return fmt.Errorf("failed to insert batch %d: %w", batchID, err)
		}

		for _, intent := range ordered {
			intent.Status = models.IntentBatched
			intent.BatchID = &batchID
			if err := e.store.UpdateIntent(txCtx, intent); err != nil {
				return fmt.Errorf("failed to assign intent %d to batch %d: %w", intent.ID, batchID, err)
			}
		}
		return nil
	})
	if err != nil {
		metrics.BatchRejections.WithLabelValues(rejectionReason(err)).Inc()
		recordSpanError(span, err, "failed to create batch")
		return 0, err
	}
	e.batchSeq.Commit(batchID)

	span.SetAttributes(attribute.Int64("batch.id", int64(batchID)))
	metrics.BatchesCreated.WithLabelValues(batch.OrderingRule).Inc()
	metrics.BatchSize.Observe(float64(batch.IntentCount))
	metrics.PendingIntents.Sub(float64(batch.IntentCount))
	e.logger.InfoWithBatch(batchID, "Batch formed with %d intents (route %s, volume %s, ordering %s)",
		batch.IntentCount, route, batch.TotalVolume, batch.OrderingRule)

	e.stage(&out, models.NewBatchCreated(batchID, batch.IntentIDs, createdAt))
	return batchID, nil
}

// validateBatchRequest checks the request shape before any store access
func (e *Engine) validateBatchRequest(intentIDs []uint64, route string) error {
	if len(intentIDs) == 0 {
		return ErrEmptyBatch
	}

	seen := make(map[uint64]struct{}, len(intentIDs))
	for _, id := range intentIDs {
		if _, ok := seen[id]; ok {
			return fmt.Errorf("%w: %d", ErrDuplicateIntent, id)
		}
		seen[id] = struct{}{}
	}

	cfg := e.batchConfig
	if len(intentIDs) < cfg.MinBatchSize || len(intentIDs) > cfg.MaxBatchSize {
		return fmt.Errorf("%w: %d intents, allowed %d to %d",
			ErrInvalidBatchSize, len(intentIDs), cfg.MinBatchSize, cfg.MaxBatchSize)
	}

	if strings.TrimSpace(route) == "" {
		return fmt.Errorf("%w: route is required", ErrInvalidRoute)
	}
	return nil
}

// GetBatch returns the batch with the given id
func (e *Engine) GetBatch(ctx context.Context, id uint64) (*models.Batch, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	batch, err := e.store.GetBatch(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("batch %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load batch %d: %w", id, err)
	}
	return batch, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyBatch):
		return "empty_batch"
	case errors.Is(err, ErrDuplicateIntent):
		return "duplicate_intent"
	case errors.Is(err, ErrInvalidBatchSize):
		return "invalid_size"
	case errors.Is(err, ErrInvalidRoute):
		return "invalid_route"
	case errors.Is(err, ErrIntentNotFound):
		return "intent_not_found"
	case errors.Is(err, ErrIntentNotPending):
		return "intent_not_pending"
	default:
		return "store_error"
	}
}
