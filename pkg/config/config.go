package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/speedrun-hq/speedrun-batcher/pkg/logger"
)

// Config holds the configuration for the batcher service
type Config struct {
	APIPort        string
	MetricsPort    string
	MetricsAPIKey  string
	AdminAPIKey    string
	Store          StoreConfig
	Redis          RedisConfig
	Batching       BatchingConfig
	Settler        SettlerConfig
	Venue          VenueConfig
	CircuitBreaker CircuitBreakerConfig
	RateLimit      RateLimitConfig
	LoggerConfig   LoggerConfig
}

// StoreConfig selects where the ledger is persisted
type StoreConfig struct {
	Backend     string
	PostgresURL string
}

// RedisConfig holds the redis event sink configuration
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Channel  string
	Stream   string
}

// BatchingConfig holds the batch formation rules
type BatchingConfig struct {
	OrderingRule string
	MinBatchSize int
	MaxBatchSize int
}

// SettlerConfig holds the settler loop configuration
type SettlerConfig struct {
	Enabled         bool
	PollingInterval time.Duration
	WorkerCount     int
}

// VenueConfig selects the execution venue. An empty Endpoint selects the simulated venue.
type VenueConfig struct {
	Endpoint            string
	Route               string
	Timeout             time.Duration
	SimulatedPrice      decimal.Decimal
	SimulatedSurplusBps int64
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// RateLimitConfig holds the per-owner submission limits
type RateLimitConfig struct {
	SubmitRate  float64
	SubmitBurst int
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
	Format   string
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}
	return loadFromEnv()
}

func loadFromEnv() (*Config, error) {
	apiPort, err := GetEnvAPIPort()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	storeBackend, err := GetEnvStoreBackend()
	if err != nil {
		return nil, err
	}

	postgresURL, err := GetEnvPostgresURL()
	if err != nil {
		return nil, err
	}

	redisEnabled, err := GetEnvRedisEnabled()
	if err != nil {
		return nil, err
	}

	redisDB, err := GetEnvRedisDB()
	if err != nil {
		return nil, err
	}

	orderingRule, err := GetEnvOrderingRule()
	if err != nil {
		return nil, err
	}

	minBatchSize, err := GetEnvMinBatchSize()
	if err != nil {
		return nil, err
	}

	maxBatchSize, err := GetEnvMaxBatchSize()
	if err != nil {
		return nil, err
	}

	settlerEnabled, err := GetEnvSettlerEnabled()
	if err != nil {
		return nil, err
	}

	pollingInterval, err := GetEnvPollingInterval()
	if err != nil {
		return nil, err
	}

	workerCount, err := GetEnvWorkerCount()
	if err != nil {
		return nil, err
	}

	venueEndpoint, err := GetEnvVenueEndpoint()
	if err != nil {
		return nil, err
	}

	venueTimeout, err := GetEnvVenueTimeout()
	if err != nil {
		return nil, err
	}

	simulatedPrice, err := GetEnvSimulatedPrice()
	if err != nil {
		return nil, err
	}

	simulatedSurplus, err := GetEnvSimulatedSurplusBps()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	submitRate, err := GetEnvSubmitRateLimit()
	if err != nil {
		return nil, err
	}

	submitBurst, err := GetEnvSubmitBurst()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	logFormat, err := GetEnvLogFormat()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		APIPort:       apiPort,
		MetricsPort:   metricsPort,
		MetricsAPIKey: os.Getenv("METRICS_API_KEY"),
		AdminAPIKey:   os.Getenv("ADMIN_API_KEY"),
		Store: StoreConfig{
			Backend:     storeBackend,
			PostgresURL: postgresURL,
		},
		Redis: RedisConfig{
			Enabled:  redisEnabled,
			Addr:     GetEnvRedisAddr(),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
			Channel:  GetEnvRedisChannel(),
			Stream:   GetEnvRedisStream(),
		},
		Batching: BatchingConfig{
			OrderingRule: orderingRule,
			MinBatchSize: minBatchSize,
			MaxBatchSize: maxBatchSize,
		},
		Settler: SettlerConfig{
			Enabled:         settlerEnabled,
			PollingInterval: pollingInterval,
			WorkerCount:     workerCount,
		},
		Venue: VenueConfig{
			Endpoint:            venueEndpoint,
			Route:               GetEnvVenueRoute(),
			Timeout:             venueTimeout,
			SimulatedPrice:      simulatedPrice,
			SimulatedSurplusBps: simulatedSurplus,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		RateLimit: RateLimitConfig{
			SubmitRate:  submitRate,
			SubmitBurst: submitBurst,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
			Format:   logFormat,
		},
	}

	// Validate cross-variable constraints
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.Store.Backend == StorePostgres && cfg.Store.PostgresURL == "" {
		return fmt.Errorf("POSTGRES_URL environment variable is required when STORE_BACKEND is postgres")
	}
	if cfg.Batching.MinBatchSize > cfg.Batching.MaxBatchSize {
		return fmt.Errorf("MIN_BATCH_SIZE (%d) must not exceed MAX_BATCH_SIZE (%d)",
			cfg.Batching.MinBatchSize, cfg.Batching.MaxBatchSize)
	}
	if cfg.APIPort == cfg.MetricsPort {
		return fmt.Errorf("API_PORT and METRICS_PORT must differ, both are %s", cfg.APIPort)
	}
	return nil
}
