// Package ledger implements the intent batch settlement engine: intent intake,
// deterministic batch formation and atomic batch settlement.
//
// The engine is a single-writer state machine. SubmitIntent, CreateBatch,
// SettleBatch and SetBatchConfig are serialized behind one lock and each commits
// through a single store transaction. Reads see committed state only.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/speedrun-hq/speedrun-batcher/pkg/events"
	"github.com/speedrun-hq/speedrun-batcher/pkg/logger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/metrics"
	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
)

const tracerName = "github.com/speedrun-hq/speedrun-batcher/pkg/ledger"

const (
	// DefaultMinBatchSize allows single-intent batches
	DefaultMinBatchSize = 1
	// DefaultMaxBatchSize caps the number of intents settled together
	DefaultMaxBatchSize = 100
)

// BatchConfig bounds the number of intents in a batch
type BatchConfig struct {
	MinBatchSize int `json:"min_batch_size"`
	MaxBatchSize int `json:"max_batch_size"`
}

// DefaultBatchConfig returns the default batch size bounds
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MinBatchSize: DefaultMinBatchSize,
		MaxBatchSize: DefaultMaxBatchSize,
	}
}

// Validate checks 1 <= min <= max
func (c BatchConfig) Validate() error {
	if c.MinBatchSize < 1 {
		return fmt.Errorf("%w: min batch size must be at least 1, got %d", ErrInvalidBatchConfig, c.MinBatchSize)
	}
	if c.MinBatchSize > c.MaxBatchSize {
		return fmt.Errorf("%w: min batch size %d exceeds max batch size %d",
			ErrInvalidBatchConfig, c.MinBatchSize, c.MaxBatchSize)
	}
	return nil
}

// Engine is the settlement ledger
type Engine struct {
	store     Store
	sink      events.Sink
	publisher *publisher
	orderer   Orderer
	logger    logger.Logger
	tracer    trace.Tracer
	now       func() time.Time

	// mu serializes mutations; reads take it shared so they never observe
	// the sequences ahead of committed state
	mu          sync.RWMutex
	intentSeq   *Sequence
	batchSeq    *Sequence
	batchConfig BatchConfig
}

// Option configures an Engine
type Option func(*Engine)

// WithSink sets the destination of ledger events
func WithSink(sink events.Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithOrderer sets the canonical ordering rule for new batches
func WithOrderer(o Orderer) Option {
	return func(e *Engine) { e.orderer = o }
}

// WithLogger sets the engine logger
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithBatchConfig sets the initial batch size bounds
func WithBatchConfig(cfg BatchConfig) Option {
	return func(e *Engine) { e.batchConfig = cfg }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine over store, resuming both id sequences from the
// highest ids already persisted
func NewEngine(ctx context.Context, store Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:       store,
		sink:        events.Multi(nil),
		publisher:   newPublisher(),
		orderer:     ByIntentID{},
		logger:      &logger.EmptyLogger{},
		tracer:      otel.Tracer(tracerName),
		now:         func() time.Time { return time.Now().UTC() },
		batchConfig: DefaultBatchConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.batchConfig.Validate(); err != nil {
		return nil, err
	}

	lastIntent, err := store.LastIntentID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load intent sequence: %w", err)
	}
	lastBatch, err := store.LastBatchID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch sequence: %w", err)
	}
	e.intentSeq = NewSequence(lastIntent)
	e.batchSeq = NewSequence(lastBatch)

	pending, err := store.CountIntents(ctx, models.IntentPending)
	if err != nil {
		return nil, fmt.Errorf("failed to count pending intents: %w", err)
	}
	metrics.PendingIntents.Set(float64(pending))

	e.logger.Info("Ledger engine ready (intents: %d, batches: %d, pending: %d, ordering: %s)",
		lastIntent, lastBatch, pending, e.orderer.Name())

	return e, nil
}

// OrderingRule returns the name of the ordering rule applied to new batches
func (e *Engine) OrderingRule() string {
	return e.orderer.Name()
}

// BatchConfig returns the active batch size bounds
func (e *Engine) BatchConfig() BatchConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.batchConfig
}

// SetBatchConfig replaces the batch size bounds used by CreateBatch
func (e *Engine) SetBatchConfig(ctx context.Context, cfg BatchConfig) error {
	_, span := e.tracer.Start(ctx, "ledger.SetBatchConfig")
	defer span.End()

	if err := cfg.Validate(); err != nil {
		recordSpanError(span, err, "invalid batch config")
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.batchConfig = cfg
	e.logger.Notice("Batch config updated: min %d, max %d", cfg.MinBatchSize, cfg.MaxBatchSize)
	return nil
}

func recordSpanError(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}
