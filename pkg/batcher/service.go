// Package batcher assembles the settlement ledger, its settler loop and its HTTP surfaces into one service.
package batcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/speedrun-hq/speedrun-batcher/pkg/api"
	"github.com/speedrun-hq/speedrun-batcher/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-batcher/pkg/config"
	"github.com/speedrun-hq/speedrun-batcher/pkg/events"
	"github.com/speedrun-hq/speedrun-batcher/pkg/health"
	"github.com/speedrun-hq/speedrun-batcher/pkg/ledger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/logger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/retry"
	"github.com/speedrun-hq/speedrun-batcher/pkg/settler"
	"github.com/speedrun-hq/speedrun-batcher/pkg/store/memory"
	"github.com/speedrun-hq/speedrun-batcher/pkg/store/postgres"
	"github.com/speedrun-hq/speedrun-batcher/pkg/venue"
)

// Service runs the batcher
type Service struct {
	config   *config.Config
	engine   *ledger.Engine
	sinks    events.Multi
	breakers *circuitbreaker.Registry
	settler  *settler.Settler
	api      *api.Server
	health   *health.Server
	closers  []func()
	logger   logger.Logger
}

// NewService connects the configured store and event sinks and builds every component
func NewService(ctx context.Context, cfg *config.Config) (*Service, error) {
	log, err := logger.New(cfg.LoggerConfig.Format, cfg.LoggerConfig.Level, cfg.LoggerConfig.Coloring)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %v", err)
	}

	s := &Service{
		config: cfg,
		logger: log,
	}
	checks := make(map[string]health.Check)

	store, err := s.openStore(ctx, checks)
	if err != nil {
		s.close()
		return nil, err
	}

	hub := events.NewHub(events.DefaultSubscriberBuffer)
	s.sinks = events.Multi{hub, events.NewLog(log)}
	if cfg.Redis.Enabled {
		redisSink, err := events.NewRedis(ctx, events.RedisConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			Channel:      cfg.Redis.Channel,
			Stream:       cfg.Redis.Stream,
			StreamMaxLen: events.DefaultStreamMaxLen,
		}, log, retry.DefaultConfig())
		if err != nil {
			s.close()
			return nil, fmt.Errorf("failed to connect to redis: %v", err)
		}
		s.sinks = append(s.sinks, redisSink)
		checks["redis"] = redisSink.Health
	}

	orderer, err := ledger.OrdererByName(cfg.Batching.OrderingRule)
	if err != nil {
		s.close()
		return nil, err
	}

	s.engine, err = ledger.NewEngine(ctx, store,
		ledger.WithSink(s.sinks),
		ledger.WithOrderer(orderer),
		ledger.WithLogger(log),
		ledger.WithBatchConfig(ledger.BatchConfig{
			MinBatchSize: cfg.Batching.MinBatchSize,
			MaxBatchSize: cfg.Batching.MaxBatchSize,
		}),
	)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("failed to start ledger engine: %v", err)
	}

	s.breakers = circuitbreaker.NewRegistry(circuitbreaker.Config{
		Enabled:       cfg.CircuitBreaker.Enabled,
		Threshold:     cfg.CircuitBreaker.Threshold,
		FailureWindow: cfg.CircuitBreaker.WindowDuration,
		ResetTimeout:  cfg.CircuitBreaker.ResetTimeout,
	}, log)

	if cfg.Settler.Enabled {
		s.settler = settler.New(settler.Config{
			PollingInterval: cfg.Settler.PollingInterval,
			Route:           cfg.Venue.Route,
			Workers:         cfg.Settler.WorkerCount,
			VenueTimeout:    cfg.Venue.Timeout,
		}, s.engine, newVenue(cfg.Venue, log), s.breakers, log)
	}

	s.api = api.NewServer(api.Config{
		Port:            cfg.APIPort,
		AdminAPIKey:     cfg.AdminAPIKey,
		SubmitRateLimit: cfg.RateLimit.SubmitRate,
		SubmitBurst:     cfg.RateLimit.SubmitBurst,
	}, s.engine, hub, log)

	s.health = health.NewServer(cfg.MetricsPort, cfg.MetricsAPIKey, s.engine, s.breakers, log)
	for name, check := range checks {
		s.health.AddCheck(name, check)
	}

	return s, nil
}

// openStore opens the configured ledger backend and registers its readiness check
func (s *Service) openStore(ctx context.Context, checks map[string]health.Check) (ledger.Store, error) {
	if s.config.Store.Backend != config.StorePostgres {
		s.logger.Notice("Using in-memory ledger store; state is lost on restart")
		return memory.New(), nil
	}

	pool, err := postgres.Connect(ctx, s.config.Store.PostgresURL, postgres.DefaultPoolConfig(), s.logger, retry.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %v", err)
	}
	store := postgres.New(pool, s.logger)
	s.closers = append(s.closers, store.Close)

	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate postgres schema: %v", err)
	}
	checks["postgres"] = store.Ping
	return store, nil
}

func newVenue(cfg config.VenueConfig, log logger.Logger) venue.Venue {
	if cfg.Endpoint != "" {
		log.Notice("Executing batches on HTTP venue %s", cfg.Endpoint)
		return venue.NewHTTP(cfg.Endpoint, log)
	}
	log.Notice("Executing batches on simulated venue (price %s, surplus %d bps)", cfg.SimulatedPrice, cfg.SimulatedSurplusBps)
	return venue.NewSimulated(cfg.SimulatedPrice, cfg.SimulatedSurplusBps)
}

// Start runs every component until ctx is cancelled, then releases connections
func (s *Service) Start(ctx context.Context) {
	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}

	run(s.health.Start)
	run(s.api.Start)
	run(s.startMetricsUpdater)
	if s.settler != nil {
		run(s.settler.Start)
	} else {
		s.logger.Notice("Settler disabled; batches are formed and executed through the API only")
	}

	s.logger.Notice("Batcher service started (ordering %s, batch size %d-%d)",
		s.engine.OrderingRule(), s.config.Batching.MinBatchSize, s.config.Batching.MaxBatchSize)

	<-ctx.Done()
	s.logger.Notice("Context cancelled, shutting down service")
	wg.Wait()
	s.close()
	s.logger.Notice("Batcher service stopped")
}

func (s *Service) close() {
	if s.sinks != nil {
		if err := s.sinks.Close(); err != nil {
			s.logger.Error("Failed to close event sinks: %v", err)
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}
