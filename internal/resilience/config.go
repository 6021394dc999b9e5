package resilience

import (
	"time"
)

// FromRetrySettings builds the retry policy from import config values.
// maxRetries counts retries after the first attempt; negative means
// the default.
func FromRetrySettings(maxRetries int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxRetries >= 0 {
		cfg.MaxAttempts = maxRetries + 1
	}
	return cfg
}

// FromCircuitConfig builds breaker settings from config values, falling
// back to defaults for zero or negative inputs.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if failureThreshold > 0 {
		cfg.Trip = failureThreshold
	}
	if resetTimeoutSecs > 0 {
		cfg.Cooldown = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}
