// Package resilience provides the retry loop and circuit breaker used around
// calls to the procurement portal.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Verdict tags the outcome of a single attempt.
type Verdict int

const (
	// Done means the attempt succeeded and the loop stops.
	Done Verdict = iota
	// Retry means the attempt failed transiently and may be repeated.
	Retry
	// Abort means the attempt failed permanently; no further attempts.
	Abort
)

func (v Verdict) String() string {
	switch v {
	case Done:
		return "done"
	case Retry:
		return "retry"
	case Abort:
		return "abort"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of one attempt.
type Outcome[T any] struct {
	Verdict Verdict
	Value   T
	Err     error
}

// Succeed tags v as a successful attempt.
func Succeed[T any](v T) Outcome[T] {
	return Outcome[T]{Verdict: Done, Value: v}
}

// Transient tags err as a retryable failure.
func Transient[T any](err error) Outcome[T] {
	return Outcome[T]{Verdict: Retry, Err: err}
}

// Fatal tags err as a failure that must not be retried.
func Fatal[T any](err error) Outcome[T] {
	return Outcome[T]{Verdict: Abort, Err: err}
}

// Result is what Run returns: the last outcome plus the number of attempts.
// A Verdict of Retry on a Result means the loop gave up (attempts exhausted
// or context done) while the failure was still considered transient.
type Result[T any] struct {
	Outcome[T]
	Attempts int
}

// RetryConfig controls the delay schedule between attempts. The delay after
// failed attempt n (0-based) is InitialBackoff*Multiplier^n + n*Step, capped
// at MaxBackoff, with optional jitter.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (including the first try).
	MaxAttempts int

	InitialBackoff time.Duration
	Step           time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration

	// JitterFraction adds ±fraction of the computed delay. 0 disables jitter.
	JitterFraction float64

	// OnRetry is called before each retry sleep with attempt number and error.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the portal schedule: 3 attempts, waiting
// roughly 1.3s then 2.5s between them.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 1300 * time.Millisecond,
		Step:           1200 * time.Millisecond,
		Multiplier:     1,
		MaxBackoff:     30 * time.Second,
	}
}

// Run calls fn until it reports Done or Abort, attempts are exhausted, or ctx
// is done. The loop itself never inspects errors; it only follows verdicts.
func Run[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) Outcome[T]) Result[T] {
	cfg = applyDefaults(cfg)

	var res Result[T]
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		res.Outcome = fn(ctx)
		res.Attempts = attempt + 1

		if res.Verdict != Retry {
			return res
		}
		if ctx.Err() != nil {
			return res
		}
		// Don't sleep after the last attempt.
		if attempt >= cfg.MaxAttempts-1 {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, res.Err)
		}

		timer := time.NewTimer(computeBackoff(attempt, cfg))
		select {
		case <-ctx.Done():
			timer.Stop()
			return res
		case <-timer.C:
		}
	}
	return res
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff < 0 {
		cfg.InitialBackoff = 0
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 1
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

func computeBackoff(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.InitialBackoff)*math.Pow(cfg.Multiplier, float64(attempt)) +
		float64(attempt)*float64(cfg.Step)
	if delay > float64(cfg.MaxBackoff) {
		delay = float64(cfg.MaxBackoff)
	}

	if cfg.JitterFraction > 0 {
		jitterRange := delay * cfg.JitterFraction
		delay += (rand.Float64()*2 - 1) * jitterRange
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
