package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/speedrun-hq/speedrun-batcher/pkg/circuitbreaker"
	"github.com/speedrun-hq/speedrun-batcher/pkg/ledger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/logger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
)

// Check reports whether a dependency is usable
type Check func(ctx context.Context) error

// Ledger is the engine state reported on /status
type Ledger interface {
	Counters(ctx context.Context) (models.Counters, error)
	OrderingRule() string
	BatchConfig() ledger.BatchConfig
}

// Server represents a health check HTTP server
type Server struct {
	port          string
	ledger        Ledger
	breakers      *circuitbreaker.Registry
	checks        map[string]Check
	metricsAPIKey string
	logger        logger.Logger
	server        *http.Server
}

// NewServer creates a new health check server
func NewServer(port, metricsAPIKey string, l Ledger, breakers *circuitbreaker.Registry, log logger.Logger) *Server {
	s := &Server{
		port:          port,
		ledger:        l,
		breakers:      breakers,
		checks:        make(map[string]Check),
		metricsAPIKey: metricsAPIKey,
		logger:        log,
	}
	s.server = &http.Server{
		Addr:              ":" + port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// AddCheck registers a readiness check under name
func (s *Server) AddCheck(name string, check Check) {
	s.checks[name] = check
}

// metricsAuthMiddleware is a middleware that checks for a valid API key
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return BearerAuth(s.metricsAPIKey, next)
}

// BearerAuth rejects requests without "Authorization: Bearer <key>". An empty key disables the check.
func BearerAuth(key string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if parts[1] != key {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Router builds the health, status and metrics routes
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/circuit/reset", s.metricsAuthMiddleware(http.HandlerFunc(s.handleCircuitReset))).Methods(http.MethodPost)
	r.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler()))
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf("%s not ready: %v", name, err)))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}

type statusResponse struct {
	Counters     models.Counters        `json:"counters"`
	OrderingRule string                 `json:"ordering_rule"`
	BatchConfig  ledger.BatchConfig     `json:"batch_config"`
	Circuits     []circuitbreaker.State `json:"circuits"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counters, err := s.ledger.Counters(r.Context())
	if err != nil {
		s.logger.Error("Failed to read ledger counters: %v", err)
		http.Error(w, "failed to read ledger counters", http.StatusInternalServerError)
		return
	}

	status := statusResponse{
		Counters:     counters,
		OrderingRule: s.ledger.OrderingRule(),
		BatchConfig:  s.ledger.BatchConfig(),
		Circuits:     s.breakers.States(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("Error encoding status JSON: %v", err)
	}
}

// handleCircuitReset closes the breaker of ?route=, or every breaker when route is "all"
func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request) {
	route := r.URL.Query().Get("route")
	if route == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("Missing route parameter"))
		return
	}

	if route == "all" {
		s.breakers.ResetAll()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("All circuit breakers reset"))
		return
	}

	if !s.breakers.Reset(route) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(fmt.Sprintf("No circuit breaker for route %s", route)))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(fmt.Sprintf("Circuit breaker for route %s reset", route)))
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Health server shutdown error: %v", err)
		}
	}()

	s.logger.Info("Starting health and metrics server on port %s", s.port)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Health server error: %v", err)
	}
}
