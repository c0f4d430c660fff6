// Package resilience provides the retry and failure-classification policy
// shared by every component that calls the upstream or downstream APIs.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls retry behavior with exponential backoff and jitter.
// Multiplier 1 with JitterFraction 0 gives a fixed cool-down.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (including the first try).
	// A value of 1 means no retries. Default: 3.
	MaxAttempts int

	// InitialBackoff is the base delay before the first retry. Default: 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration, including server-suggested
	// Retry-After values. Default: 30s.
	MaxBackoff time.Duration

	// Multiplier scales the backoff after each attempt. Default: 2.0.
	Multiplier float64

	// JitterFraction adds random jitter as a fraction of the computed delay
	// (0.0 = no jitter, 0.5 = ±50%). Negative disables jitter.
	JitterFraction float64

	// ShouldRetry optionally replaces Classify: true means transient.
	ShouldRetry func(err error) bool

	// OnRetry is called before each retry sleep with attempt number and error.
	OnRetry func(attempt int, err error)

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryConfig returns a sensible retry configuration for API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// CooldownConfig returns a policy that waits a fixed cool-down between
// attempts unless the server suggests its own.
func CooldownConfig(maxAttempts int, cooldown time.Duration) RetryConfig {
	return RetryConfig{
		MaxAttempts:    maxAttempts,
		InitialBackoff: cooldown,
		MaxBackoff:     max(cooldown*4, time.Minute),
		Multiplier:     1,
		JitterFraction: -1,
	}
}

// Do runs fn under cfg. See DoVal.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal runs fn until it succeeds, fails permanently, or runs out of
// attempts. Only TransientFailure outcomes are retried; the last error is
// returned unchanged so callers can classify it again. A cancelled context
// ends the loop without another attempt.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)

	var zero T
	for attempt := 1; ; attempt++ {
		val, err := fn(ctx)
		switch cfg.outcome(err) {
		case Success:
			return val, nil
		case PermanentFailure:
			return zero, err
		}
		if ctx.Err() != nil || attempt >= cfg.MaxAttempts {
			return zero, err
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if cfg.sleep(ctx, cfg.delay(attempt, err)) != nil {
			return zero, err
		}
	}
}

// outcome classifies one attempt, honoring a ShouldRetry override.
func (cfg RetryConfig) outcome(err error) Outcome {
	if err == nil {
		return Success
	}
	if cfg.ShouldRetry != nil {
		if cfg.ShouldRetry(err) {
			return TransientFailure
		}
		return PermanentFailure
	}
	return Classify(err)
}

// delay is the wait after the given failed attempt (1-based). A server
// Retry-After wins over the computed backoff but is still capped.
func (cfg RetryConfig) delay(attempt int, err error) time.Duration {
	if ra := RetryAfter(err); ra > 0 {
		return min(ra, cfg.MaxBackoff)
	}
	return computeBackoff(attempt-1, cfg)
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	cfg.JitterFraction = max(cfg.JitterFraction, 0)
	if cfg.sleep == nil {
		cfg.sleep = Sleep
	}
	return cfg
}

// computeBackoff returns InitialBackoff * Multiplier^n, capped at
// MaxBackoff, spread by ±JitterFraction.
func computeBackoff(n int, cfg RetryConfig) time.Duration {
	d := min(float64(cfg.InitialBackoff)*math.Pow(cfg.Multiplier, float64(n)), float64(cfg.MaxBackoff))
	if cfg.JitterFraction > 0 {
		d *= 1 + cfg.JitterFraction*(2*rand.Float64()-1)
	}
	return time.Duration(max(d, 0))
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("retry_after", RetryAfter(err)),
			zap.Error(err),
		)
	}
}
