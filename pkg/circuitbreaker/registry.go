package circuitbreaker

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/speedrun-hq/speedrun-batcher/pkg/logger"
)

// Registry holds one breaker per execution route
type Registry struct {
	cfg      Config
	logger   logger.Logger
	breakers *xsync.Map[string, *CircuitBreaker]
}

// NewRegistry creates an empty registry whose breakers share cfg
func NewRegistry(cfg Config, log logger.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		logger:   log,
		breakers: xsync.NewMap[string, *CircuitBreaker](),
	}
}

// Get returns the breaker of route, creating it on first use
func (r *Registry) Get(route string) *CircuitBreaker {
	if cb, ok := r.breakers.Load(route); ok {
		return cb
	}
	cb, _ := r.breakers.LoadOrStore(route, NewCircuitBreaker(route, r.cfg, r.logger))
	return cb
}

// Reset closes the breaker of route. It returns false if the route has none.
func (r *Registry) Reset(route string) bool {
	cb, ok := r.breakers.Load(route)
	if !ok {
		return false
	}
	cb.Reset()
	r.logger.Info("Circuit breaker for route %s manually reset", route)
	return true
}

// ResetAll closes every breaker
func (r *Registry) ResetAll() {
	r.breakers.Range(func(_ string, cb *CircuitBreaker) bool {
		cb.Reset()
		return true
	})
}

// AnyOpen reports whether at least one route is tripped
func (r *Registry) AnyOpen() bool {
	open := false
	r.breakers.Range(func(_ string, cb *CircuitBreaker) bool {
		if cb.IsOpen() {
			open = true
			return false
		}
		return true
	})
	return open
}

// States returns a snapshot of every breaker sorted by route
func (r *Registry) States() []State {
	states := make([]State, 0, r.breakers.Size())
	r.breakers.Range(func(_ string, cb *CircuitBreaker) bool {
		states = append(states, cb.GetState())
		return true
	})
	sort.Slice(states, func(i, j int) bool { return states[i].Route < states[j].Route })
	return states
}

// Enabled reports whether breakers created by this registry trip at all
func (r *Registry) Enabled() bool {
	return r.cfg.Enabled
}
