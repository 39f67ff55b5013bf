package fetcher

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ThrottledRate is the per-host rate (requests per second) an unlimited
// client falls back to once the portal answers 429 or 503.
const ThrottledRate rate.Limit = 1

// hostLimiter paces requests to one host. It starts at the configured
// ceiling, halves its rate whenever the host throttles us (down to a quarter
// of the base rate) and climbs back by 20% per successful response.
type hostLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	ceiling rate.Limit
	floor   rate.Limit
	current rate.Limit
	host    string
}

func newHostLimiter(host string, ceiling rate.Limit) *hostLimiter {
	base := ceiling
	if base == rate.Inf {
		base = ThrottledRate
	}
	return &hostLimiter{
		limiter: rate.NewLimiter(ceiling, 1),
		ceiling: ceiling,
		floor:   base / 4,
		current: ceiling,
		host:    host,
	}
}

// Wait blocks until the limiter allows a request.
func (l *hostLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

func (l *hostLimiter) onSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == l.ceiling {
		return
	}
	next := l.current * 1.2
	switch {
	case l.ceiling == rate.Inf && next >= ThrottledRate*4:
		next = rate.Inf
	case next > l.ceiling:
		next = l.ceiling
	}
	l.set(next)
}

func (l *hostLimiter) onThrottle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.current / 2
	if l.current == rate.Inf {
		next = ThrottledRate
	}
	if next < l.floor {
		next = l.floor
	}
	l.set(next)
	zap.L().Warn("portal throttled, reducing request rate",
		zap.String("host", l.host),
		zap.Float64("new_rate", float64(next)),
	)
}

// set must be called with mu held.
func (l *hostLimiter) set(r rate.Limit) {
	l.current = r
	l.limiter.SetLimit(r)
}

// Limit returns the current rate.
func (l *hostLimiter) Limit() rate.Limit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}
