package fetchers

import (
	"errors"
	"sync"
	"time"

	"github.com/masfro/masfro/pkg/clock"
)

// ErrBreakerOpen is returned when calls are being shed for a source.
var ErrBreakerOpen = errors.New("circuit breaker open")

// BreakerState is the current circuit state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// Breaker sheds calls to a failing source. After threshold consecutive
// failures the circuit opens for cooldown; the first call afterwards
// probes the source and either closes the circuit or re-opens it.
type Breaker struct {
	mu        sync.Mutex
	clk       clock.Clock
	threshold int
	cooldown  time.Duration

	state    BreakerState
	failures int
	openedAt time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(threshold int, cooldown time.Duration, clk clock.Clock) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Breaker{
		clk:       clk,
		threshold: threshold,
		cooldown:  cooldown,
		state:     BreakerClosed,
	}
}

// Allow reports whether a call may proceed. An open circuit past its
// cooldown transitions to half-open and admits one probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if b.clk.Now().Sub(b.openedAt) >= b.cooldown {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	}
	return true
}

// Success records a successful call and closes the circuit.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
}

// Failure records a failed call. A half-open probe failure re-opens
// immediately; closed circuits open once the threshold is reached.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.state = BreakerOpen
		b.openedAt = b.clk.Now()
	}
}

// State returns the current circuit state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
