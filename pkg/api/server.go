package api

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/speedrun-hq/speedrun-batcher/pkg/events"
	"github.com/speedrun-hq/speedrun-batcher/pkg/health"
	"github.com/speedrun-hq/speedrun-batcher/pkg/ledger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/logger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
)

const (
	// DefaultMaxBodyBytes caps request bodies
	DefaultMaxBodyBytes = 1 << 20
	// DefaultListLimit is used when GET /intents has no limit
	DefaultListLimit = 100
	// MaxListLimit caps the limit of GET /intents
	MaxListLimit = 1000
)

// Engine is the ledger surface served over HTTP
type Engine interface {
	SubmitIntent(ctx context.Context, req ledger.SubmitIntentRequest) (uint64, error)
	GetIntent(ctx context.Context, id uint64) (*models.Intent, error)
	ListIntents(ctx context.Context, filter ledger.IntentFilter) ([]*models.Intent, error)
	CreateBatch(ctx context.Context, intentIDs []uint64, route string) (uint64, error)
	GetBatch(ctx context.Context, id uint64) (*models.Batch, error)
	ExecuteBatch(ctx context.Context, batchID uint64, actualOutput *big.Int, executionPrice decimal.Decimal) (*models.BatchResult, error)
	GetBatchResult(ctx context.Context, batchID uint64) (*models.BatchResult, error)
	BatchStats(ctx context.Context, batchID uint64) (*models.BatchStats, error)
	Counters(ctx context.Context) (models.Counters, error)
	OrderingRule() string
	BatchConfig() ledger.BatchConfig
	SetBatchConfig(ctx context.Context, cfg ledger.BatchConfig) error
}

var _ Engine = (*ledger.Engine)(nil)

// Config holds the API server settings
type Config struct {
	Port        string
	AdminAPIKey string
	// SubmitRateLimit is the sustained intents per second allowed per owner; zero disables limiting
	SubmitRateLimit float64
	SubmitBurst     int
	MaxBodyBytes    int64
}

// Server serves the batcher API
type Server struct {
	cfg     Config
	engine  Engine
	hub     *events.Hub
	limiter *ownerLimiter
	logger  logger.Logger
	server  *http.Server
}

// NewServer creates the API server. hub may be nil, in which case /ws/events is not served.
func NewServer(cfg Config, engine Engine, hub *events.Hub, log logger.Logger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	s := &Server{
		cfg:     cfg,
		engine:  engine,
		hub:     hub,
		limiter: newOwnerLimiter(cfg.SubmitRateLimit, cfg.SubmitBurst),
		logger:  log,
	}
	if cfg.AdminAPIKey == "" {
		log.Notice("ADMIN_API_KEY not set; admin routes are disabled")
	}
	s.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the API routes
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/intents", s.handleSubmitIntent).Methods(http.MethodPost)
	v1.HandleFunc("/intents", s.handleListIntents).Methods(http.MethodGet)
	v1.HandleFunc("/intents/{id}", s.handleGetIntent).Methods(http.MethodGet)
	v1.HandleFunc("/batches", s.handleCreateBatch).Methods(http.MethodPost)
	v1.HandleFunc("/batches/{id}", s.handleGetBatch).Methods(http.MethodGet)
	v1.HandleFunc("/batches/{id}/execute", s.handleExecuteBatch).Methods(http.MethodPost)
	v1.HandleFunc("/batches/{id}/result", s.handleGetBatchResult).Methods(http.MethodGet)
	v1.HandleFunc("/batches/{id}/stats", s.handleBatchStats).Methods(http.MethodGet)
	v1.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	admin := v1.PathPrefix("/admin").Subrouter()
	admin.Use(s.adminAuth)
	admin.HandleFunc("/batch-config", s.handleGetBatchConfig).Methods(http.MethodGet)
	admin.HandleFunc("/batch-config", s.handleSetBatchConfig).Methods(http.MethodPut)

	if s.hub != nil {
		v1.HandleFunc("/ws/events", s.handleEvents).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

// adminAuth requires the admin bearer key. Without a configured key the admin
// routes refuse every caller.
func (s *Server) adminAuth(next http.Handler) http.Handler {
	if s.cfg.AdminAPIKey == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusForbidden, CodeForbidden, "admin API is disabled: ADMIN_API_KEY is not set")
		})
	}
	return health.BearerAuth(s.cfg.AdminAPIKey, next)
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("API server shutdown error: %v", err)
		}
	}()

	s.logger.Notice("Starting API server on port %s", s.cfg.Port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("API server error: %v", err)
	}
}
