package fetcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// rateLimitFactor scales the rate after a 429.
	rateLimitFactor = 0.5
	// recoveryFactor scales the rate after a successful call.
	recoveryFactor = 1.2
	// floorFraction is the lowest share of the configured rate a limiter
	// backs off to.
	floorFraction = 0.25
)

// AdaptiveLimiter spaces upstream calls and slows down when the API pushes
// back. The pager and the enricher share one so that a 429 seen by either
// slows both.
type AdaptiveLimiter struct {
	lim *rate.Limiter

	mu      sync.Mutex
	ceiling rate.Limit
	floor   rate.Limit
	current rate.Limit
}

// NewAdaptiveLimiter creates a limiter running at r events per second.
func NewAdaptiveLimiter(r rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		lim:     rate.NewLimiter(r, burst),
		ceiling: r,
		floor:   r * floorFraction,
		current: r,
	}
}

// NewThrottle returns a limiter that spaces calls at least delay apart.
// A zero delay disables throttling.
func NewThrottle(delay time.Duration) *AdaptiveLimiter {
	if delay <= 0 {
		return NewAdaptiveLimiter(rate.Inf, 1)
	}
	return NewAdaptiveLimiter(rate.Every(delay), 1)
}

// Wait blocks until the next call may start or ctx is done.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.lim.Wait(ctx)
}

// OnSuccess speeds back up toward the configured rate.
func (a *AdaptiveLimiter) OnSuccess() {
	a.scale(recoveryFactor)
}

// OnRateLimit halves the rate, down to a quarter of the configured rate.
func (a *AdaptiveLimiter) OnRateLimit() {
	if next, changed := a.scale(rateLimitFactor); changed {
		zap.L().Warn("upstream rate limited, slowing down",
			zap.Float64("calls_per_sec", float64(next)),
		)
	}
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *AdaptiveLimiter) scale(factor float64) (rate.Limit, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := min(max(a.current*rate.Limit(factor), a.floor), a.ceiling)
	if next == a.current {
		return next, false
	}
	a.current = next
	a.lim.SetLimit(next)
	return next, true
}
