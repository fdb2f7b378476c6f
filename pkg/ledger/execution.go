package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/speedrun-hq/speedrun-batcher/pkg/metrics"
	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
)

// Settlement is what the execution venue reported for a batch
type Settlement struct {
	ActualOutput   *big.Int
	ExecutionPrice decimal.Decimal
	// VenueError is set when the venue failed to execute the route; the batch is aborted
	VenueError string
}

func (s Settlement) validate() error {
	if s.ActualOutput == nil && s.VenueError == "" {
		return fmt.Errorf("%w: actual output is required", ErrInvalidSettlement)
	}
	if s.ActualOutput != nil && s.ActualOutput.Sign() < 0 {
		return fmt.Errorf("%w: actual output must not be negative", ErrInvalidSettlement)
	}
	if s.ExecutionPrice.IsNegative() {
		return fmt.Errorf("%w: execution price must not be negative", ErrInvalidSettlement)
	}
	return nil
}

// ExecuteBatch settles a formed batch with the venue's reported output and price
func (e *Engine) ExecuteBatch(ctx context.Context, batchID uint64, actualOutput *big.Int, executionPrice decimal.Decimal) (*models.BatchResult, error) {
	return e.SettleBatch(ctx, batchID, Settlement{
		ActualOutput:   actualOutput,
		ExecutionPrice: executionPrice,
	})
}

// SettleBatch moves a formed batch through executing to settled or aborted and
// records its single BatchResult. The batch settles only when the venue succeeded
// and its output covers the sum of every member's min_output; otherwise all
// members fail together. A floor violation is an aborted result, not an error.
func (e *Engine) SettleBatch(ctx context.Context, batchID uint64, s Settlement) (*models.BatchResult, error) {
	ctx, span := e.tracer.Start(ctx, "ledger.SettleBatch", trace.WithAttributes(
		attribute.Int64("batch.id", int64(batchID)),
	))
	defer span.End()

	if err := s.validate(); err != nil {
		recordSpanError(span, err, "invalid settlement")
		return nil, err
	}

	var out outbox
	defer e.publish(ctx, &out)

	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		batch  *models.Batch
		result *models.BatchResult
	)
	err := e.store.WithTx(context.WithoutCancel(ctx), func(txCtx context.Context) error {
		b, err := e.store.GetBatch(txCtx, batchID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("batch %d: %w", batchID, ErrNotFound)
			}
			return fmt.Errorf("failed to load batch %d: %w", batchID, err)
		}

		switch b.Status {
		case models.BatchSettled, models.BatchAborted:
			return fmt.Errorf("%w: batch %d is %s", ErrAlreadyExecuted, batchID, b.Status)
		case models.BatchExecuting:
			return fmt.Errorf("%w: batch %d is %s", ErrBatchNotFormed, batchID, b.Status)
		}
		if _, err := e.store.GetBatchResult(txCtx, batchID); err == nil {
			return fmt.Errorf("%w: batch %d already has a result", ErrAlreadyExecuted, batchID)
		} else if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to check result of batch %d: %w", batchID, err)
		}

		b.Status = models.BatchExecuting
		if err := e.store.UpdateBatch(txCtx, b); err != nil {
			return fmt.Errorf("failed to mark batch %d executing: %w", batchID, err)
		}

		members := make([]*models.Intent, 0, len(b.IntentIDs))
		floor := new(big.Int)
		for _, id := range b.IntentIDs {
			intent, err := e.store.GetIntent(txCtx, id)
			if err != nil {
				return fmt.Errorf("failed to load member intent %d of batch %d: %w", id, batchID, err)
			}
			floor.Add(floor, intent.MinOutput)
			members = append(members, intent)
		}

		output := new(big.Int)
		if s.ActualOutput != nil {
			output.Set(s.ActualOutput)
		}

		success, reason := true, ""
		switch {
		case s.VenueError != "":
			success, reason = false, s.VenueError
		case output.Cmp(floor) < 0:
			success, reason = false, FailureSettlementFloor
		}

		memberStatus, batchStatus := models.IntentExecuted, models.BatchSettled
		if !success {
			memberStatus, batchStatus = models.IntentFailed, models.BatchAborted
		}

		for _, intent := range members {
			intent.Status = memberStatus
			if err := e.store.UpdateIntent(txCtx, intent); err != nil {
				return fmt.Errorf("failed to update member intent %d of batch %d: %w", intent.ID, batchID, err)
			}
		}

		executedAt := e.now()
		b.Status = batchStatus
		b.ExecutedAt = &executedAt
		if err := e.store.UpdateBatch(txCtx, b); err != nil {
			return fmt.Errorf("failed to finalize batch %d: %w", batchID, err)
		}

		result = &models.BatchResult{
			BatchID:           batchID,
			Success:           success,
			TotalInputAmount:  new(big.Int).Set(b.TotalVolume),
			TotalOutputAmount: output,
			ExecutionPrice:    s.ExecutionPrice,
			FailureReason:     reason,
			Timestamp:         executedAt,
		}
		if err := e.store.InsertBatchResult(txCtx, result); err != nil {
			return fmt.Errorf("failed to record result of batch %d: %w", batchID, err)
		}

		batch = b
		return nil
	})
	if err != nil {
		recordSpanError(span, err, "failed to settle batch")
		return nil, err
	}

	span.SetAttributes(attribute.Bool("batch.success", result.Success))
	if result.Success {
		metrics.BatchesExecuted.WithLabelValues("settled").Inc()
		e.logger.InfoWithBatch(batchID, "Batch settled: output %s for floor %s at price %s",
			result.TotalOutputAmount, result.TotalInputAmount, result.ExecutionPrice)
	} else {
		metrics.BatchesExecuted.WithLabelValues("aborted").Inc()
		e.logger.NoticeWithBatch(batchID, "Batch aborted (%s): output %s for floor %s, %d intents failed",
			result.FailureReason, result.TotalOutputAmount, result.TotalInputAmount, batch.IntentCount)
	}

	e.stage(&out, models.NewBatchExecuted(batchID, result.Success, result.Timestamp))
	return result.Clone(), nil
}

// GetBatchResult returns the result recorded when the batch was executed
func (e *Engine) GetBatchResult(ctx context.Context, batchID uint64) (*models.BatchResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result, err := e.store.GetBatchResult(ctx, batchID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("result of batch %d: %w", batchID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load result of batch %d: %w", batchID, err)
	}
	return result, nil
}
