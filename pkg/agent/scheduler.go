// Package agent defines the Tickable capability and the scheduler that
// drives registered agents at a fixed cadence.
package agent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/masfro/masfro/pkg/reporting"
)

// Tickable is the one capability every agent shares: one unit of work,
// invoked periodically. Implementations must tolerate being ticked from
// the scheduler and from the simulation manager, though never both at
// once for the same agent.
type Tickable interface {
	ID() string
	Tick(ctx context.Context) error
}

// HealthChecker lets an isolated agent signal recovery. Agents that don't
// implement it are re-admitted after one skipped cadence.
type HealthChecker interface {
	Healthy() bool
}

// Suspender reports whether an exclusive driver (the simulation manager)
// currently owns tick order. While it does, the scheduler skips cadences.
type Suspender interface {
	IsRunning() bool
}

// Status is the observable state of one registered agent.
type Status struct {
	ID             string        `json:"id"`
	Priority       int           `json:"priority"`
	TicksTotal     uint64        `json:"ticks_total"`
	TickErrors     uint64        `json:"tick_errors"`
	LastDuration   time.Duration `json:"last_tick_duration"`
	LastError      string        `json:"last_error,omitempty"`
	ConsecutiveErr int           `json:"consecutive_errors"`
	Isolated       bool          `json:"isolated"`
}

// registration is the scheduler's per-agent record.
type registration struct {
	agent    Tickable
	priority int

	mu     sync.Mutex // serializes this agent's ticks
	status Status
}

// Scheduler drives all registered agents at a configured cadence.
type Scheduler struct {
	mu        sync.RWMutex
	agents    []*registration
	interval  time.Duration
	isolateAt int
	suspender Suspender

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}

	log     *reporting.Logger
	metrics *reporting.Metrics
}

// Config configures the scheduler.
type Config struct {
	Interval     time.Duration
	IsolateAfter int
	Suspender    Suspender
	Logger       *reporting.Logger
	Metrics      *reporting.Metrics
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.IsolateAfter <= 0 {
		cfg.IsolateAfter = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = reporting.NewNopLogger()
	}
	return &Scheduler{
		interval:  cfg.Interval,
		isolateAt: cfg.IsolateAfter,
		suspender: cfg.Suspender,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		log:       cfg.Logger.Component("scheduler"),
		metrics:   cfg.Metrics,
	}
}

// Register adds an agent at the given priority. Lower priorities tick
// first within a cadence.
func (s *Scheduler) Register(a Tickable, priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = append(s.agents, &registration{
		agent:    a,
		priority: priority,
		status:   Status{ID: a.ID(), Priority: priority},
	})
	sort.SliceStable(s.agents, func(i, j int) bool {
		return s.agents[i].priority < s.agents[j].priority
	})
	s.log.Info("agent registered", "agent", a.ID(), "priority", priority)
}

// Start launches the cadence loop.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop halts the cadence loop and waits for the in-flight sweep.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.suspender != nil && s.suspender.IsRunning() {
				// Simulation owns tick order while it runs.
				continue
			}
			s.TickAll(ctx)
		}
	}
}

// TickAll performs one sweep: agents tick in ascending priority order,
// each serialized against itself, different agents in parallel.
func (s *Scheduler) TickAll(ctx context.Context) {
	s.mu.RLock()
	regs := make([]*registration, len(s.agents))
	copy(regs, s.agents)
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, reg := range regs {
		wg.Add(1)
		go func(r *registration) {
			defer wg.Done()
			s.tickOne(ctx, r)
		}(reg)
	}
	wg.Wait()
}

func (s *Scheduler) tickOne(ctx context.Context, r *registration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status.Isolated {
		if hc, ok := r.agent.(HealthChecker); ok && !hc.Healthy() {
			return
		}
		r.status.Isolated = false
		r.status.ConsecutiveErr = 0
		s.log.Info("agent re-admitted", "agent", r.status.ID)
	}

	start := time.Now()
	err := r.agent.Tick(ctx)
	r.status.LastDuration = time.Since(start)
	r.status.TicksTotal++

	if s.metrics != nil {
		s.metrics.SchedulerTicks.WithLabelValues(r.status.ID).Inc()
	}

	if err != nil {
		r.status.TickErrors++
		r.status.ConsecutiveErr++
		r.status.LastError = err.Error()
		if s.metrics != nil {
			s.metrics.SchedulerTickError.WithLabelValues(r.status.ID).Inc()
		}
		s.log.Warn("agent tick failed", "agent", r.status.ID, "error", err.Error())

		if r.status.ConsecutiveErr >= s.isolateAt {
			r.status.Isolated = true
			s.log.Error("agent isolated after repeated failures",
				"agent", r.status.ID, "consecutive", r.status.ConsecutiveErr)
		}
		return
	}

	r.status.ConsecutiveErr = 0
	r.status.LastError = ""
}

// StatusAll returns the per-agent counters.
func (s *Scheduler) StatusAll() []Status {
	s.mu.RLock()
	regs := make([]*registration, len(s.agents))
	copy(regs, s.agents)
	s.mu.RUnlock()

	out := make([]Status, 0, len(regs))
	for _, r := range regs {
		r.mu.Lock()
		out = append(out, r.status)
		r.mu.Unlock()
	}
	return out
}
