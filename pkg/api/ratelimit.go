package api

import (
	"github.com/puzpuzpuz/xsync/v4"
	"golang.org/x/time/rate"
)

// ownerLimiter keeps one token bucket per intent owner
type ownerLimiter struct {
	limit    rate.Limit
	burst    int
	limiters *xsync.Map[string, *rate.Limiter]
}

func newOwnerLimiter(rps float64, burst int) *ownerLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ownerLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: xsync.NewMap[string, *rate.Limiter](),
	}
}

// Allow reports whether owner may submit another intent now
func (l *ownerLimiter) Allow(owner string) bool {
	if l.limit <= 0 {
		return true
	}
	limiter, ok := l.limiters.Load(owner)
	if !ok {
		limiter, _ = l.limiters.LoadOrStore(owner, rate.NewLimiter(l.limit, l.burst))
	}
	return limiter.Allow()
}
