package utils

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned when the breaker is shedding calls.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerState is the state of a circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// BreakerConfig holds circuit breaker tuning.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold int
	// SuccessThreshold is the number of successes in half-open needed to
	// close again.
	SuccessThreshold int
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// IsFailure classifies errors; nil counts every non-nil error.
	IsFailure func(error) bool
}

// DefaultBreakerConfig returns the default tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

// Breaker is a circuit breaker: consecutive failures open it, and while open
// every call is rejected immediately instead of burning the retry budget
// against a down service. After OpenTimeout one probe is let through.
type Breaker struct {
	cfg BreakerConfig

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	lastFailure time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	return &Breaker{cfg: cfg, state: BreakerClosed}
}

// Allow reports whether a call may proceed, returning ErrBreakerOpen when
// the breaker is shedding.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if time.Since(b.lastFailure) < b.cfg.OpenTimeout {
			return ErrBreakerOpen
		}
		b.transition(BreakerHalfOpen)
	}
	return nil
}

// Record feeds a call outcome back into the breaker.
func (b *Breaker) Record(err error) {
	failed := err != nil
	if b.cfg.IsFailure != nil {
		failed = b.cfg.IsFailure(err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if failed {
		b.failures++
		b.lastFailure = time.Now()
		if b.state == BreakerHalfOpen || b.failures >= b.cfg.FailureThreshold {
			b.transition(BreakerOpen)
		}
		return
	}

	switch b.state {
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transition(BreakerClosed)
		}
	case BreakerClosed:
		b.failures = 0
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(state BreakerState) {
	b.state = state
	b.failures = 0
	b.successes = 0
}
