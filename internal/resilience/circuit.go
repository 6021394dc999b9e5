package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BreakerState is the tri-state of a circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerProbing
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen rejects calls while the breaker is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig tunes a CircuitBreaker.
type BreakerConfig struct {
	// Trip opens the breaker after this many consecutive failures.
	Trip int

	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration

	// ProbeQuota is how many probes must succeed before closing again.
	ProbeQuota int

	// OnChange observes state transitions.
	OnChange func(from, to BreakerState)
}

// DefaultBreakerConfig trips after five straight failures and probes
// again after thirty seconds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Trip: 5, Cooldown: 30 * time.Second, ProbeQuota: 1}
}

// CircuitBreaker stops calls to a host that keeps failing. Closed passes
// everything through, open rejects immediately, probing admits calls
// until a quota of successes closes the breaker again. Every error
// counts against the trip threshold; repeated permanent failures are as
// good a reason to leave a feed host alone as outages are.
type CircuitBreaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    BreakerState
	fails    int
	okProbes int
	openedAt time.Time
	clock    func() time.Time
}

// NewCircuitBreaker builds a breaker, filling zero config fields from
// DefaultBreakerConfig.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.Trip <= 0 {
		cfg.Trip = def.Trip
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.ProbeQuota <= 0 {
		cfg.ProbeQuota = def.ProbeQuota
	}
	return &CircuitBreaker{cfg: cfg, clock: time.Now}
}

// Execute runs fn unless the breaker is open, feeding the result back
// into the breaker. Returns ErrCircuitOpen without calling fn when the
// breaker rejects the call.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.observe(err)
	return err
}

// State reports the effective state, accounting for an elapsed cooldown.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == BreakerOpen && cb.cooledDown() {
		return BreakerProbing
	}
	return cb.state
}

// cooledDown reports whether the open period has elapsed. Callers hold mu.
func (cb *CircuitBreaker) cooledDown() bool {
	return cb.clock().Sub(cb.openedAt) >= cb.cfg.Cooldown
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != BreakerOpen {
		return nil
	}
	if cb.cooledDown() {
		cb.shift(BreakerProbing)
		return nil
	}
	return ErrCircuitOpen
}

func (cb *CircuitBreaker) observe(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		switch cb.state {
		case BreakerProbing:
			cb.okProbes++
			if cb.okProbes >= cb.cfg.ProbeQuota {
				cb.shift(BreakerClosed)
			}
		case BreakerClosed:
			cb.fails = 0
		}
		return
	}

	cb.fails++
	cb.openedAt = cb.clock()

	switch cb.state {
	case BreakerClosed:
		if cb.fails >= cb.cfg.Trip {
			cb.shift(BreakerOpen)
		}
	case BreakerProbing:
		cb.shift(BreakerOpen)
	}
}

// shift transitions state and resets the probe counter. Callers hold mu.
func (cb *CircuitBreaker) shift(to BreakerState) {
	from := cb.state
	cb.state = to
	if to == BreakerClosed {
		cb.fails = 0
	}
	cb.okProbes = 0
	if cb.cfg.OnChange != nil {
		cb.cfg.OnChange(from, to)
	}
}

// BreakerLogger builds an OnChange hook that logs transitions for a host.
func BreakerLogger(host string) func(from, to BreakerState) {
	return func(from, to BreakerState) {
		zap.L().Warn("resilience: circuit state changed",
			zap.String("host", host),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
}
