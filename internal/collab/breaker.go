package collab

import (
	"sync"
	"time"

	"github.com/lumenlab/scholar/internal/errs"
	"go.uber.org/zap"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// Breaker is a consecutive-failure circuit breaker. After threshold
// failures it opens and rejects calls without invoking them; once the
// cooldown elapses it admits exactly one trial call (half-open) and closes
// again on success.
type Breaker struct {
	mu          sync.Mutex
	state       breakerState
	failures    int
	lastFailure time.Time
	trialTaken  bool

	threshold int
	cooldown  time.Duration
	logger    *zap.Logger
}

// NewBreaker creates a closed breaker.
func NewBreaker(threshold int, cooldown time.Duration, logger *zap.Logger) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, logger: logger}
}

// Allow reports whether a call may proceed. While open it returns the
// fail-fast breaker error; after the cooldown it admits a single trial.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return nil
	case stateOpen:
		if time.Since(b.lastFailure) > b.cooldown {
			b.state = stateHalfOpen
			b.trialTaken = true
			b.logger.Info("circuit breaker half-open, admitting trial call")
			return nil
		}
		return errs.BreakerOpen("collaborator calls suspended")
	default: // half-open
		if b.trialTaken {
			return errs.BreakerOpen("trial call already in flight")
		}
		b.trialTaken = true
		return nil
	}
}

// Success records a successful call, closing the breaker.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateClosed {
		b.logger.Info("circuit breaker closed")
	}
	b.state = stateClosed
	b.failures = 0
	b.trialTaken = false
}

// Failure records a failed call. A half-open trial failure reopens
// immediately; in the closed state the breaker opens at the threshold.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()
	b.trialTaken = false

	if b.state == stateHalfOpen || b.failures >= b.threshold {
		if b.state != stateOpen {
			b.logger.Warn("circuit breaker opened", zap.Int("failures", b.failures))
		}
		b.state = stateOpen
	}
}
