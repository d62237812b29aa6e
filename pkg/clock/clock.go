package clock

import (
	"sync"
	"time"
)

// Clock abstracts time for the core so that temporal decay and mission
// timeouts can be driven by tests and by the simulation manager. All core
// components read time through a Clock; none call time.Now directly.
type Clock interface {
	Now() time.Time
}

// System is a Clock backed by the wall clock.
type System struct{}

// NewSystem creates a wall-clock Clock.
func NewSystem() *System {
	return &System{}
}

// Now returns the current wall-clock time.
func (s *System) Now() time.Time {
	return time.Now()
}

// Simulated is a Clock with an adjustable offset and speedup factor.
// Reads return base + offset + elapsed*speedup, so advancing the clock
// never makes it run backwards.
type Simulated struct {
	mu      sync.Mutex
	base    time.Time // wall time at last adjustment
	virtual time.Time // virtual time at last adjustment
	speedup float64
}

// NewSimulated creates a Simulated clock starting at the current wall time
// with a speedup factor of 1.
func NewSimulated() *Simulated {
	now := time.Now()
	return &Simulated{base: now, virtual: now, speedup: 1.0}
}

// Now returns the current virtual time.
func (c *Simulated) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := time.Since(c.base)
	return c.virtual.Add(time.Duration(float64(elapsed) * c.speedup))
}

// Advance moves the virtual clock forward by d.
func (c *Simulated) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebase()
	c.virtual = c.virtual.Add(d)
}

// AdvanceMinutes moves the virtual clock forward by n minutes.
func (c *Simulated) AdvanceMinutes(n float64) {
	c.Advance(time.Duration(n * float64(time.Minute)))
}

// SetSpeedup changes the rate at which virtual time passes relative to
// wall time. Factors <= 0 freeze the clock.
func (c *Simulated) SetSpeedup(factor float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebase()
	if factor < 0 {
		factor = 0
	}
	c.speedup = factor
}

// Reset snaps the virtual clock back to the current wall time at speedup 1.
func (c *Simulated) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.base = now
	c.virtual = now
	c.speedup = 1.0
}

// rebase folds elapsed wall time into the virtual anchor. Caller holds mu.
func (c *Simulated) rebase() {
	now := time.Now()
	elapsed := now.Sub(c.base)
	c.virtual = c.virtual.Add(time.Duration(float64(elapsed) * c.speedup))
	c.base = now
}
