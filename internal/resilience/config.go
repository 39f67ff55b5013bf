package resilience

import (
	"time"
)

// FromRetryConfig converts config values to a RetryConfig on top of the
// portal defaults. Non-positive values keep the default.
func FromRetryConfig(maxAttempts, initialBackoffMs, stepMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if stepMs >= 0 {
		cfg.Step = time.Duration(stepMs) * time.Millisecond
	}
	return cfg
}

// FromCircuitConfig converts config values to a CircuitBreakerConfig.
// A zero threshold yields a disabled breaker.
func FromCircuitConfig(failureThreshold, cooldownSecs int) CircuitBreakerConfig {
	cfg := CircuitBreakerConfig{FailureThreshold: failureThreshold, Cooldown: 30 * time.Second}
	if cooldownSecs > 0 {
		cfg.Cooldown = time.Duration(cooldownSecs) * time.Second
	}
	return cfg
}
