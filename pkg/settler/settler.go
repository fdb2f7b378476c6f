// Package settler drives the ledger: it batches pending intents per token pair
// and settles each batch through the execution venue.
package settler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/speedrun-hq/speedrun-batcher/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-batcher/pkg/ledger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/logger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/metrics"
	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
	"github.com/speedrun-hq/speedrun-batcher/pkg/venue"
)

const listPageSize = 500

// Ledger is the part of the engine the settler drives
type Ledger interface {
	ListIntents(ctx context.Context, filter ledger.IntentFilter) ([]*models.Intent, error)
	BatchConfig() ledger.BatchConfig
	CreateBatch(ctx context.Context, intentIDs []uint64, route string) (uint64, error)
	GetBatch(ctx context.Context, id uint64) (*models.Batch, error)
	SettleBatch(ctx context.Context, batchID uint64, s ledger.Settlement) (*models.BatchResult, error)
}

// Config controls the settlement loop
type Config struct {
	PollingInterval time.Duration
	Route           string
	Workers         int
	VenueTimeout    time.Duration
}

// Settler periodically forms and settles batches
type Settler struct {
	config   Config
	ledger   Ledger
	venue    venue.Venue
	breakers *circuitbreaker.Registry
	pool     pond.Pool
	logger   logger.Logger
}

// New creates a settler. Venue calls run on a pool of cfg.Workers goroutines.
func New(cfg Config, l Ledger, v venue.Venue, breakers *circuitbreaker.Registry, log logger.Logger) *Settler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Settler{
		config:   cfg,
		ledger:   l,
		venue:    v,
		breakers: breakers,
		pool:     pond.NewPool(cfg.Workers, pond.WithQueueSize(cfg.Workers*4)),
		logger:   log,
	}
}

// RouteFor returns the execution route of a token pair
func (s *Settler) RouteFor(pair models.TokenPair) string {
	return fmt.Sprintf("%s:%s:%s", s.config.Route, pair.TokenIn, pair.TokenOut)
}

// Start runs the settlement loop until ctx is cancelled, then waits for
// in-flight settlements
func (s *Settler) Start(ctx context.Context) {
	s.logger.Notice("Starting settler with %d workers and polling interval %v", s.config.Workers, s.config.PollingInterval)
	ticker := time.NewTicker(s.config.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Notice("Context cancelled, shutting down settler")
			s.pool.StopAndWait()
			return
		case <-ticker.C:
			if _, err := s.Tick(ctx); err != nil {
				s.logger.Error("Settlement tick failed: %v", err)
			}
		}
	}
}

// Tick forms batches from every pending intent and settles them. It returns
// the number of batches formed.
func (s *Settler) Tick(ctx context.Context) (int, error) {
	pending, err := s.pendingIntents(ctx)
	if err != nil {
		metrics.SettlerTicks.WithLabelValues("error").Inc()
		return 0, err
	}
	if len(pending) == 0 {
		metrics.SettlerTicks.WithLabelValues("idle").Inc()
		return 0, nil
	}
	s.logger.Debug("Found pending intents in %d markets", len(pending))

	cfg := s.ledger.BatchConfig()
	group := s.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	formed := 0

	for _, pair := range sortedPairs(pending) {
		route := s.RouteFor(pair)
		breaker := s.breakers.Get(route)
		if breaker.IsOpen() {
			s.logger.Info("Skipping %d intents: circuit breaker is open for route %s", len(pending[pair]), route)
			continue
		}

		for _, chunk := range chunkIntents(pending[pair], cfg) {
			batchID, err := s.ledger.CreateBatch(ctx, chunk, route)
			if err != nil {
				// intents may have been batched through the API since they were listed
				if errors.Is(err, ledger.ErrIntentNotPending) || errors.Is(err, ledger.ErrNotFound) {
					s.logger.Debug("Skipping chunk on route %s: %v", route, err)
					continue
				}
				metrics.SettlerTicks.WithLabelValues("error").Inc()
				if formed > 0 {
					_ = group.Wait()
				}
				return formed, fmt.Errorf("failed to create batch on route %s: %w", route, err)
			}
			formed++

			pairCopy := pair
			group.Submit(func() {
				s.settle(groupCtx, batchID, pairCopy, route, breaker)
			})
		}
	}

	if formed > 0 {
		if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
			s.logger.Error("Settlement group encountered error: %v", err)
		}
	}
	metrics.SettlerTicks.WithLabelValues("ok").Inc()
	return formed, nil
}

// settle executes one batch on the venue and records the outcome
func (s *Settler) settle(ctx context.Context, batchID uint64, pair models.TokenPair, route string, breaker *circuitbreaker.CircuitBreaker) {
	batch, err := s.ledger.GetBatch(ctx, batchID)
	if err != nil {
		s.logger.ErrorWithBatch(batchID, "Failed to load batch for settlement: %v", err)
		return
	}

	order := venue.Order{
		BatchID:        batch.ID,
		Route:          route,
		TokenIn:        pair.TokenIn,
		TokenOut:       pair.TokenOut,
		TotalMinOutput: batch.TotalVolume,
		IntentCount:    batch.IntentCount,
	}

	venueCtx := ctx
	if s.config.VenueTimeout > 0 {
		var cancel context.CancelFunc
		venueCtx, cancel = context.WithTimeout(ctx, s.config.VenueTimeout)
		defer cancel()
	}

	start := time.Now()
	report, err := s.venue.Execute(venueCtx, order)
	metrics.SettlementTime.WithLabelValues(route).Observe(time.Since(start).Seconds())
	if err == nil {
		// a report the ledger would refuse counts as a venue failure so the batch still aborts
		err = report.Validate()
	}

	var settlement ledger.Settlement
	if err != nil {
		if ctx.Err() != nil {
			// shutting down; the batch stays formed and can be executed later
			s.logger.NoticeWithBatch(batchID, "Settlement interrupted before the venue answered: %v", err)
			return
		}

		errorType := venue.ClassifyError(err)
		metrics.VenueErrors.WithLabelValues(route, errorType).Inc()
		s.logger.ErrorWithBatch(batchID, "Venue execution failed on route %s (%s): %v", route, errorType, err)
		if breaker.RecordFailure() {
			s.logger.ErrorWithBatch(batchID, "Circuit breaker open for route %s, pausing batches", route)
		}
		settlement = ledger.Settlement{VenueError: fmt.Sprintf("%s: %v", errorType, err)}
	} else {
		breaker.RecordSuccess()
		settlement = ledger.Settlement{
			ActualOutput:   report.ActualOutput,
			ExecutionPrice: report.ExecutionPrice,
		}
	}

	result, err := s.ledger.SettleBatch(ctx, batchID, settlement)
	if err != nil {
		s.logger.ErrorWithBatch(batchID, "Failed to record settlement: %v", err)
		return
	}
	if !result.Success {
		s.logger.NoticeWithBatch(batchID, "Batch aborted: %s", result.FailureReason)
	}
}

// pendingIntents pages through every pending intent and groups them by pair,
// each group in ascending id order
func (s *Settler) pendingIntents(ctx context.Context) (map[models.TokenPair][]uint64, error) {
	groups := make(map[models.TokenPair][]uint64)
	filter := ledger.IntentFilter{Status: models.IntentPending, Limit: listPageSize}
	total := 0

	for {
		page, err := s.ledger.ListIntents(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to list pending intents: %w", err)
		}
		for _, intent := range page {
			groups[intent.Pair()] = append(groups[intent.Pair()], intent.ID)
		}
		total += len(page)
		if len(page) < listPageSize {
			break
		}
		filter.AfterID = page[len(page)-1].ID
	}

	if total == 0 {
		return nil, nil
	}
	return groups, nil
}

func sortedPairs(groups map[models.TokenPair][]uint64) []models.TokenPair {
	pairs := make([]models.TokenPair, 0, len(groups))
	for pair := range groups {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].String() < pairs[j].String() })
	return pairs
}

// chunkIntents splits ids into batches of at most MaxBatchSize. A trailing
// chunk below MinBatchSize stays pending for a later tick.
func chunkIntents(ids []uint64, cfg ledger.BatchConfig) [][]uint64 {
	var chunks [][]uint64
	for start := 0; start < len(ids); start += cfg.MaxBatchSize {
		end := start + cfg.MaxBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		if end-start < cfg.MinBatchSize {
			break
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
