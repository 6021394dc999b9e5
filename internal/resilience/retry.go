package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig shapes the backoff schedule for Do.
type RetryConfig struct {
	// MaxAttempts counts the first try plus retries; 1 disables retrying.
	MaxAttempts int

	// BaseDelay seeds the exponential schedule.
	BaseDelay time.Duration

	// MaxDelay caps a single sleep.
	MaxDelay time.Duration

	// Multiplier grows the delay between attempts.
	Multiplier float64

	// Jitter is the random fraction of the delay added on top, 0 to 1.
	Jitter float64

	// ShouldRetry decides whether an error deserves another attempt.
	// Nil means IsTransient.
	ShouldRetry func(err error) bool

	// OnRetry fires before each sleep with the attempt number and error.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig is tuned for feed downloads: three attempts backing
// off exponentially from half a second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2,
		Jitter:      0.25,
	}
}

// Do runs fn until it succeeds, exhausts cfg.MaxAttempts, hits an error
// ShouldRetry rejects, or the context ends. The last error is returned.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg.normalize()

	retryable := cfg.ShouldRetry
	if retryable == nil {
		retryable = IsTransient
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || ctx.Err() != nil || !retryable(err) || attempt >= cfg.MaxAttempts {
			return err
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if !sleep(ctx, cfg.delay(attempt)) {
			return err
		}
	}
}

func (cfg *RetryConfig) normalize() {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.Jitter < 0 || cfg.Jitter > 1 {
		cfg.Jitter = def.Jitter
	}
}

// delay computes the sleep after a failed attempt; attempt is 1-based.
func (cfg *RetryConfig) delay(attempt int) time.Duration {
	d := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	if cfg.Jitter > 0 {
		d += rand.Float64() * cfg.Jitter * d
	}
	return time.Duration(d)
}

// sleep waits for d and reports whether the wait completed before the
// context ended.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RetryLogger builds an OnRetry hook that logs every scheduled retry for
// the given connector and operation.
func RetryLogger(connector, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("resilience: retry scheduled",
			zap.String("connector", connector),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
