package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/speedrun-hq/speedrun-batcher/pkg/ledger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/logger"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	LogFormatConsole = "console"
	LogFormatJSON    = "json"

	// DefaultAPIPort defines the default port for the batcher API
	DefaultAPIPort = "8081"

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultStoreBackend defines where the ledger is persisted
	DefaultStoreBackend = StoreMemory

	// DefaultRedisAddr defines the default redis address for the event sink
	DefaultRedisAddr = "localhost:6379"

	// DefaultRedisChannel defines the Pub/Sub channel events are published on
	DefaultRedisChannel = "batcher:events"

	// DefaultRedisStream defines the stream events are appended to
	DefaultRedisStream = "batcher:events:stream"

	// DefaultOrderingRule defines the canonical member ordering of new batches
	DefaultOrderingRule = ledger.OrderingByIntentID

	// DefaultPollingInterval defines the default settler polling interval in seconds
	DefaultPollingInterval = 5

	// DefaultWorkerCount defines the default number of concurrent venue executions
	DefaultWorkerCount = 5

	// DefaultVenueRoute defines the route new batches are bound to
	DefaultVenueRoute = "default"

	// DefaultVenueTimeout defines how long a venue execution may take
	DefaultVenueTimeout = 20 * time.Second

	// DefaultSimulatedPrice defines the price reported by the simulated venue
	DefaultSimulatedPrice = "1"

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 5 * time.Minute

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 15 * time.Minute

	// DefaultSubmitBurst defines how many submissions an owner may make at once
	DefaultSubmitBurst = 10
)

// GetEnvAPIPort returns the API server port from environment variables
func GetEnvAPIPort() (string, error) {
	return getEnvPort("API_PORT", DefaultAPIPort)
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	return getEnvPort("METRICS_PORT", DefaultMetricsPort)
}

func getEnvPort(name, fallback string) (string, error) {
	port := os.Getenv(name)
	if port == "" {
		return fallback, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid %s value: %s, must be a valid integer", name, port)
	}
	return port, nil
}

// GetEnvStoreBackend returns the ledger store backend from environment variables
func GetEnvStoreBackend() (string, error) {
	backend := os.Getenv("STORE_BACKEND")
	if backend == "" {
		return DefaultStoreBackend, nil
	}

	if backend != StoreMemory && backend != StorePostgres {
		return "", fmt.Errorf("invalid STORE_BACKEND value: %s, must be 'memory' or 'postgres'", backend)
	}
	return backend, nil
}

// GetEnvPostgresURL returns the postgres connection string from environment variables
func GetEnvPostgresURL() (string, error) {
	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		return "", nil
	}

	parsed, err := url.Parse(postgresURL)
	if err != nil || (parsed.Scheme != "postgres" && parsed.Scheme != "postgresql") {
		return "", fmt.Errorf("invalid POSTGRES_URL value, must be a postgres:// URL")
	}
	return postgresURL, nil
}

// GetEnvRedisEnabled returns whether events are published to redis
func GetEnvRedisEnabled() (bool, error) {
	return getEnvBool("REDIS_ENABLED", false)
}

// GetEnvRedisAddr returns the redis address from environment variables
func GetEnvRedisAddr() string {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return DefaultRedisAddr
	}
	return addr
}

// GetEnvRedisDB returns the redis database number from environment variables
func GetEnvRedisDB() (int, error) {
	db := os.Getenv("REDIS_DB")
	if db == "" {
		return 0, nil
	}

	dbInt, err := strconv.Atoi(db)
	if err != nil {
		return 0, fmt.Errorf("invalid REDIS_DB value: %s, must be an integer", db)
	}
	if dbInt < 0 {
		return 0, fmt.Errorf("REDIS_DB must be greater than or equal to 0")
	}
	return dbInt, nil
}

// GetEnvRedisChannel returns the Pub/Sub channel from environment variables
func GetEnvRedisChannel() string {
	channel := os.Getenv("REDIS_CHANNEL")
	if channel == "" {
		return DefaultRedisChannel
	}
	return channel
}

// GetEnvRedisStream returns the event stream key from environment variables
func GetEnvRedisStream() string {
	stream := os.Getenv("REDIS_STREAM")
	if stream == "" {
		return DefaultRedisStream
	}
	return stream
}

// GetEnvOrderingRule returns the batch ordering rule from environment variables
func GetEnvOrderingRule() (string, error) {
	rule := os.Getenv("ORDERING_RULE")
	if rule == "" {
		return DefaultOrderingRule, nil
	}

	if _, err := ledger.OrdererByName(rule); err != nil {
		return "", fmt.Errorf("invalid ORDERING_RULE value: %s, must be '%s' or '%s'",
			rule, ledger.OrderingByIntentID, ledger.OrderingByContentHash)
	}
	return rule, nil
}

// GetEnvMinBatchSize returns the minimum batch size from environment variables
func GetEnvMinBatchSize() (int, error) {
	return getEnvPositiveInt("MIN_BATCH_SIZE", ledger.DefaultMinBatchSize)
}

// GetEnvMaxBatchSize returns the maximum batch size from environment variables
func GetEnvMaxBatchSize() (int, error) {
	return getEnvPositiveInt("MAX_BATCH_SIZE", ledger.DefaultMaxBatchSize)
}

// GetEnvSettlerEnabled returns whether the settler loop runs
func GetEnvSettlerEnabled() (bool, error) {
	return getEnvBool("SETTLER_ENABLED", true)
}

// GetEnvPollingInterval returns the polling interval in seconds from environment variables
func GetEnvPollingInterval() (time.Duration, error) {
	pollingInterval := os.Getenv("POLLING_INTERVAL")
	if pollingInterval == "" {
		return time.Duration(DefaultPollingInterval) * time.Second, nil
	}

	// use atoi
	interval, err := strconv.Atoi(pollingInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid POLLING_INTERVAL value: %s, must be an integer", pollingInterval)
	}
	if interval <= 0 {
		return 0, fmt.Errorf("POLLING_INTERVAL must be greater than 0")
	}
	return time.Duration(interval) * time.Second, nil
}

// GetEnvWorkerCount returns the number of workers from environment variables
func GetEnvWorkerCount() (int, error) {
	return getEnvPositiveInt("WORKER_COUNT", DefaultWorkerCount)
}

// GetEnvVenueEndpoint returns the HTTP venue endpoint; empty selects the simulated venue
func GetEnvVenueEndpoint() (string, error) {
	endpoint := os.Getenv("VENUE_ENDPOINT")
	if endpoint == "" {
		return "", nil
	}

	// Validate URL format
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return "", fmt.Errorf("invalid VENUE_ENDPOINT value: %s, must be a valid URL", endpoint)
	}
	return endpoint, nil
}

// GetEnvVenueRoute returns the route new batches are bound to
func GetEnvVenueRoute() string {
	route := strings.TrimSpace(os.Getenv("VENUE_ROUTE"))
	if route == "" {
		return DefaultVenueRoute
	}
	return route
}

// GetEnvVenueTimeout returns the venue execution timeout from environment variables
func GetEnvVenueTimeout() (time.Duration, error) {
	return getEnvDuration("VENUE_TIMEOUT", DefaultVenueTimeout)
}

// GetEnvSimulatedPrice returns the price reported by the simulated venue
func GetEnvSimulatedPrice() (decimal.Decimal, error) {
	price := os.Getenv("SIMULATED_PRICE")
	if price == "" {
		price = DefaultSimulatedPrice
	}

	parsed, err := decimal.NewFromString(price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid SIMULATED_PRICE value: %s, must be a decimal number", price)
	}
	if parsed.IsNegative() {
		return decimal.Zero, fmt.Errorf("SIMULATED_PRICE must be greater than or equal to 0")
	}
	return parsed, nil
}

// GetEnvSimulatedSurplusBps returns the output surplus of the simulated venue in basis points
func GetEnvSimulatedSurplusBps() (int64, error) {
	bps := os.Getenv("SIMULATED_SURPLUS_BPS")
	if bps == "" {
		return 0, nil
	}

	parsed, err := strconv.ParseInt(bps, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid SIMULATED_SURPLUS_BPS value: %s, must be an integer", bps)
	}
	if parsed < -10000 {
		return 0, fmt.Errorf("SIMULATED_SURPLUS_BPS must be greater than or equal to -10000")
	}
	return parsed, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	return getEnvBool("CIRCUIT_BREAKER_ENABLED", DefaultCircuitBreakerEnabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	return getEnvPositiveInt("CIRCUIT_BREAKER_THRESHOLD", DefaultCircuitBreakerThreshold)
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	return getEnvDuration("CIRCUIT_BREAKER_WINDOW", DefaultCircuitBreakerWindow)
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	return getEnvDuration("CIRCUIT_BREAKER_RESET", DefaultCircuitBreakerReset)
}

// GetEnvSubmitRateLimit returns the per-owner submission rate in intents per second; 0 disables limiting
func GetEnvSubmitRateLimit() (float64, error) {
	limit := os.Getenv("SUBMIT_RATE_LIMIT")
	if limit == "" {
		return 0, nil
	}

	parsed, err := strconv.ParseFloat(limit, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid SUBMIT_RATE_LIMIT value: %s, must be a number", limit)
	}
	if parsed < 0 {
		return 0, fmt.Errorf("SUBMIT_RATE_LIMIT must be greater than or equal to 0")
	}
	return parsed, nil
}

// GetEnvSubmitBurst returns the per-owner submission burst from environment variables
func GetEnvSubmitBurst() (int, error) {
	return getEnvPositiveInt("SUBMIT_BURST", DefaultSubmitBurst)
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return logger.InfoLevel, nil
	}

	parsed, err := logger.ParseLevel(level)
	if err != nil {
		return logger.InfoLevel, fmt.Errorf("invalid LOG_LEVEL value: %s, must be 'debug', 'info', 'notice' or 'error'", level)
	}
	return parsed, nil
}

// GetEnvLogColoring returns whether console logs are colored
func GetEnvLogColoring() (bool, error) {
	return getEnvBool("LOG_COLORING", true)
}

// GetEnvLogFormat returns the log output format from environment variables
func GetEnvLogFormat() (string, error) {
	format := os.Getenv("LOG_FORMAT")
	if format == "" {
		return LogFormatConsole, nil
	}

	if format != LogFormatConsole && format != LogFormatJSON {
		return "", fmt.Errorf("invalid LOG_FORMAT value: %s, must be 'console' or 'json'", format)
	}
	return format, nil
}

func getEnvBool(name string, fallback bool) (bool, error) {
	value := os.Getenv(name)
	if value == "" {
		return fallback, nil
	}

	if value == "true" {
		return true, nil
	} else if value == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid %s value: %s, must be 'true' or 'false'", name, value)
}

func getEnvPositiveInt(name string, fallback int) (int, error) {
	value := os.Getenv(name)
	if value == "" {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", name, value)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", name)
	}
	return parsed, nil
}

func getEnvDuration(name string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(name)
	if value == "" {
		return fallback, nil
	}

	// Validate duration format
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be a valid duration string", name, value)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", name)
	}
	return parsed, nil
}
