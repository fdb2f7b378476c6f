package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/speedrun-hq/speedrun-batcher/pkg/metrics"
	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
)

// SubmitIntentRequest carries a caller's order. Payload is stored opaque.
type SubmitIntentRequest struct {
	Owner     string
	Payload   []byte
	TokenIn   string
	TokenOut  string
	MinOutput *big.Int
}

// SubmitIntent validates and records a new pending intent and returns its id
func (e *Engine) SubmitIntent(ctx context.Context, req SubmitIntentRequest) (uint64, error) {
	ctx, span := e.tracer.Start(ctx, "ledger.SubmitIntent")
	defer span.End()

	intent, err := newIntent(req)
	if err != nil {
		metrics.IntentsRejected.WithLabelValues("invalid_intent").Inc()
		recordSpanError(span, err, "invalid intent")
		return 0, err
	}

	var out outbox
	defer e.publish(ctx, &out)

	e.mu.Lock()
	defer e.mu.Unlock()

	intent.ID = e.intentSeq.Next()
	intent.CreatedAt = e.now()

	err = e.store.WithTx(context.WithoutCancel(ctx), func(txCtx context.Context) error {
		return e.store.InsertIntent(txCtx, intent)
	})
	if err != nil {
		metrics.IntentsRejected.WithLabelValues("store_error").Inc()
		recordSpanError(span, err, "failed to store intent")
		return 0, fmt.Errorf("failed to store intent: %w", err)
	}
	e.intentSeq.Commit(intent.ID)

	span.SetAttributes(attribute.Int64("intent.id", int64(intent.ID)))
	metrics.IntentsSubmitted.Inc()
	metrics.PendingIntents.Inc()
	e.logger.Debug("Intent %d submitted by %s (%s, min output %s)",
		intent.ID, intent.Owner, intent.Pair(), intent.MinOutput)

	e.stage(&out, models.NewIntentSubmitted(intent.ID, intent.Owner, intent.CreatedAt))
	return intent.ID, nil
}

// newIntent validates a submission and builds the pending intent without an id
func newIntent(req SubmitIntentRequest) (*models.Intent, error) {
	owner := models.NormalizeAccount(req.Owner)
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidIntent)
	}
	if len(req.Payload) == 0 {
		return nil, fmt.Errorf("%w: payload is required", ErrInvalidIntent)
	}

	tokenIn := models.NormalizeAccount(req.TokenIn)
	tokenOut := models.NormalizeAccount(req.TokenOut)
	if tokenIn == "" || tokenOut == "" {
		return nil, fmt.Errorf("%w: token_in and token_out are required", ErrInvalidIntent)
	}
	if strings.EqualFold(tokenIn, tokenOut) {
		return nil, fmt.Errorf("%w: token_in and token_out must differ", ErrInvalidIntent)
	}

	if req.MinOutput == nil {
		return nil, fmt.Errorf("%w: min_output is required", ErrInvalidIntent)
	}
	if req.MinOutput.Sign() < 0 {
		return nil, fmt.Errorf("%w: min_output must not be negative", ErrInvalidIntent)
	}

	payload := append([]byte(nil), req.Payload...)
	return &models.Intent{
		Owner:       owner,
		Payload:     payload,
		PayloadHash: crypto.Keccak256Hash(payload),
		TokenIn:     tokenIn,
		TokenOut:    tokenOut,
		MinOutput:   new(big.Int).Set(req.MinOutput),
		Status:      models.IntentPending,
	}, nil
}

// GetIntent returns the intent with the given id
func (e *Engine) GetIntent(ctx context.Context, id uint64) (*models.Intent, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	intent, err := e.store.GetIntent(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("intent %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load intent %d: %w", id, err)
	}
	return intent, nil
}

// ListIntents returns intents matching filter in ascending id order
func (e *Engine) ListIntents(ctx context.Context, filter IntentFilter) ([]*models.Intent, error) {
	ctx, span := e.tracer.Start(ctx, "ledger.ListIntents", trace.WithAttributes(
		attribute.String("status", string(filter.Status)),
		attribute.Int("limit", filter.Limit),
	))
	defer span.End()

	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidIntent, filter.Status)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	intents, err := e.store.ListIntents(ctx, filter)
	if err != nil {
		recordSpanError(span, err, "failed to list intents")
		return nil, fmt.Errorf("failed to list intents: %w", err)
	}
	return intents, nil
}
