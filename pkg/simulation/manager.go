package simulation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/masfro/masfro/pkg/clock"
	"github.com/masfro/masfro/pkg/fetchers"
	"github.com/masfro/masfro/pkg/fusion"
	"github.com/masfro/masfro/pkg/geo"
	"github.com/masfro/masfro/pkg/reporting"
	"github.com/masfro/masfro/pkg/routing"
)

var (
	// ErrNotRunning is returned for tick or submit without a started run.
	ErrNotRunning = errors.New("simulation not running")
	// ErrAlreadyRunning rejects a second start.
	ErrAlreadyRunning = errors.New("simulation already running")
	// ErrTickInProgress rejects a reentrant run_tick.
	ErrTickInProgress = errors.New("simulation tick already in progress")
	// ErrBadTimeStep rejects a jump outside the scenario range.
	ErrBadTimeStep = errors.New("time step outside scenario range")
)

// RouteOutcome is the answer to one queued route request.
type RouteOutcome struct {
	Route *routing.Route
	Err   error
}

type queuedRoute struct {
	req routing.Request
	out chan RouteOutcome
}

// Stats accumulates over a run.
type Stats struct {
	TicksRun       int            `json:"ticks_run"`
	RoutesAnswered int            `json:"routes_answered"`
	RoutesFailed   int            `json:"routes_failed"`
	LastFusion     fusion.Summary `json:"last_fusion"`
}

// TickResult describes one completed tick.
type TickResult struct {
	TimeStep     int                     `json:"time_step"`
	Mode         Mode                    `json:"mode"`
	Collection   fetchers.CollectSummary `json:"collection"`
	Fusion       fusion.Summary          `json:"fusion"`
	RoutesServed int                     `json:"routes_served"`
	Finished     bool                    `json:"finished"`
	Duration     time.Duration           `json:"duration"`
}

// Status is a point-in-time view of the manager.
type Status struct {
	Running  bool   `json:"running"`
	Mode     Mode   `json:"mode"`
	Scenario string `json:"scenario,omitempty"`
	TimeStep int    `json:"time_step"`
	Stats    Stats  `json:"stats"`
}

// Config wires the manager.
type Config struct {
	Flood   *fetchers.Agent
	Hazard  *fusion.Agent
	Engine  *routing.Engine
	Clock   clock.Clock
	Logger  *reporting.Logger
	Metrics *reporting.Metrics

	// KeepStatsOnReset preserves accumulated statistics across Reset.
	KeepStatsOnReset bool
	// BreakerThreshold and BreakerCooldown apply to the synthetic
	// sources swapped in during a run.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Manager replays a scenario tick by tick. It implements
// agent.Suspender: while a run is active the scheduler skips its
// cadence and all progress happens through RunTick.
type Manager struct {
	cfg Config
	clk clock.Clock
	log *reporting.Logger

	raster *scenarioRaster

	tickMu sync.Mutex

	mu       sync.Mutex
	running  bool
	mode     Mode
	scenario *Scenario
	timeStep int
	queue    []queuedRoute
	stats    Stats

	// saved holds the live network sources while scripted ones are
	// swapped in for the run.
	saved   fetchers.SourceSet
	swapped bool
}

// NewManager creates a stopped manager and hands its raster provider to
// the fusion agent.
func NewManager(cfg Config) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystem()
	}
	if cfg.Logger == nil {
		cfg.Logger = reporting.NewNopLogger()
	}
	m := &Manager{
		cfg:    cfg,
		clk:    cfg.Clock,
		log:    cfg.Logger.Component("simulation"),
		raster: &scenarioRaster{},
	}
	return m
}

// Raster returns the provider the fusion agent should read depths from
// during simulation runs. Empty outside a run.
func (m *Manager) Raster() fusion.RasterProvider { return m.raster }

// IsRunning implements agent.Suspender.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Start begins a run at time step zero; the first RunTick executes step
// one. mode overrides the scenario's own when non-empty.
func (m *Manager) Start(s *Scenario, mode Mode) error {
	if s == nil {
		return fmt.Errorf("nil scenario")
	}
	if mode == "" {
		mode = s.Spec.Mode
	}
	if mode == "" {
		mode = ModeMedium
	}
	if !mode.Valid() {
		return fmt.Errorf("unsupported mode %q", mode)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrAlreadyRunning
	}
	m.running = true
	m.mode = mode
	m.scenario = s
	m.timeStep = 0
	m.log.Info("simulation started",
		"scenario", s.Metadata.Name, "mode", string(mode), "rr", mode.ReturnPeriod())
	return nil
}

// Stop ends the run. Idempotent; returns after any in-flight tick has
// finished. Queued route requests are answered with ErrNotRunning.
func (m *Manager) Stop() {
	m.mu.Lock()
	wasRunning := m.running
	m.running = false
	pending := m.queue
	m.queue = nil
	m.mu.Unlock()

	// Wait out a tick that was already executing.
	m.tickMu.Lock()
	m.tickMu.Unlock()

	for _, q := range pending {
		q.out <- RouteOutcome{Err: ErrNotRunning}
	}
	m.raster.set(nil)
	m.restoreLive()

	if wasRunning {
		m.log.Info("simulation stopped")
	}
}

// restoreLive puts the pre-run network sources back once a run ends.
func (m *Manager) restoreLive() {
	m.mu.Lock()
	saved := m.saved
	swapped := m.swapped
	m.saved = fetchers.SourceSet{}
	m.swapped = false
	m.mu.Unlock()

	if swapped && m.cfg.Flood != nil {
		m.cfg.Flood.RestoreSources(saved)
	}
}

// Reset restores time step zero and clears queued requests. Cached
// scenario observations are dropped so the fusion cadence cannot
// resurrect replayed risk. Statistics are cleared unless the manager
// keeps them by configuration.
func (m *Manager) Reset() {
	m.Stop()

	if m.cfg.Hazard != nil {
		m.cfg.Hazard.ClearCaches()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeStep = 0
	m.scenario = nil
	if !m.cfg.KeepStatsOnReset {
		m.stats = Stats{}
	}
}

// Jump moves the run to the given time step; the next RunTick executes
// it.
func (m *Manager) Jump(timeStep int) error {
	if timeStep < 1 || timeStep > MaxTimeStep {
		return ErrBadTimeStep
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return ErrNotRunning
	}
	m.timeStep = timeStep - 1
	return nil
}

// SubmitRoute queues a route request for the next tick's routing phase.
// The returned channel receives exactly one outcome.
func (m *Manager) SubmitRoute(req routing.Request) (<-chan RouteOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil, ErrNotRunning
	}
	out := make(chan RouteOutcome, 1)
	m.queue = append(m.queue, queuedRoute{req: req, out: out})
	return out, nil
}

// RunTick advances one time step and executes the three phases in
// order: collection, fusion, routing. Not reentrant.
func (m *Manager) RunTick(ctx context.Context) (TickResult, error) {
	if !m.tickMu.TryLock() {
		return TickResult{}, ErrTickInProgress
	}
	defer m.tickMu.Unlock()

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return TickResult{}, ErrNotRunning
	}
	m.timeStep++
	step := m.timeStep
	mode := m.mode
	scenario := m.scenario
	pending := m.queue
	m.queue = nil
	m.mu.Unlock()

	started := m.clk.Now()
	result := TickResult{TimeStep: step, Mode: mode}

	frame, ok := scenario.FrameAt(step)
	if ok {
		m.raster.set(frame.Raster)
	}

	// Phase 1: collection. The first frame swaps the live sources out
	// and saves them for restore when the run ends.
	if m.cfg.Flood != nil && ok {
		scripted := []fetchers.Fetcher{&fetchers.Synthetic{
			Source:   "simulation:" + mode.ReturnPeriod(),
			Stations: frame.Stations,
			Reports:  frame.Reports,
			Clock:    m.clk,
		}}
		m.mu.Lock()
		swapped := m.swapped
		m.mu.Unlock()
		if swapped {
			m.cfg.Flood.SetSources(scripted, m.cfg.BreakerThreshold, m.cfg.BreakerCooldown)
		} else {
			saved := m.cfg.Flood.SwapSources(scripted, m.cfg.BreakerThreshold, m.cfg.BreakerCooldown)
			m.mu.Lock()
			m.saved = saved
			m.swapped = true
			m.mu.Unlock()
		}
		result.Collection = m.cfg.Flood.Collect(ctx)
	}

	// Phase 2: fusion. One batch write to the graph.
	if m.cfg.Hazard != nil {
		if err := m.cfg.Hazard.Tick(ctx); err != nil {
			m.log.Warn("fusion phase failed", "time_step", step, "error", err.Error())
		}
		result.Fusion = m.cfg.Hazard.LastSummary()
	}

	// Phase 3: routing. Answer everything queued since the last tick.
	for _, q := range pending {
		route, err := m.cfg.Engine.ComputeRoute(ctx, q.req)
		q.out <- RouteOutcome{Route: route, Err: err}
		result.RoutesServed++

		m.mu.Lock()
		if err != nil {
			m.stats.RoutesFailed++
		} else {
			m.stats.RoutesAnswered++
		}
		m.mu.Unlock()
	}

	result.Duration = m.clk.Now().Sub(started)

	m.mu.Lock()
	m.stats.TicksRun++
	m.stats.LastFusion = result.Fusion
	finished := step >= MaxTimeStep
	if finished {
		m.running = false
		result.Finished = true
	}
	m.mu.Unlock()

	if finished {
		m.raster.set(nil)
		m.restoreLive()
	}

	m.log.Debug("simulation tick done",
		"time_step", step, "routes", result.RoutesServed, "finished", result.Finished)
	return result, nil
}

// Status reports the current run state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		Running:  m.running,
		Mode:     m.mode,
		TimeStep: m.timeStep,
		Stats:    m.stats,
	}
	if m.scenario != nil {
		st.Scenario = m.scenario.Metadata.Name
	}
	return st
}

// scenarioRaster serves the current frame's depth patches as a raster.
type scenarioRaster struct {
	mu      sync.RWMutex
	patches []RasterPatch
}

func (r *scenarioRaster) set(patches []RasterPatch) {
	r.mu.Lock()
	r.patches = patches
	r.mu.Unlock()
}

// DepthAt returns the deepest patch covering p.
func (r *scenarioRaster) DepthAt(p geo.Point) (float64, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	depth := 0.0
	covered := false
	for _, patch := range r.patches {
		if patch.Bounds.Contains(p) {
			covered = true
			if patch.DepthM > depth {
				depth = patch.DepthM
			}
		}
	}
	return depth, covered, nil
}

// Footprint is the union box of the current patches.
func (r *scenarioRaster) Footprint() (geo.BoundingBox, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.patches) == 0 {
		return geo.BoundingBox{}, false
	}

	box := r.patches[0].Bounds
	for _, patch := range r.patches[1:] {
		if patch.Bounds.MinLat < box.MinLat {
			box.MinLat = patch.Bounds.MinLat
		}
		if patch.Bounds.MaxLat > box.MaxLat {
			box.MaxLat = patch.Bounds.MaxLat
		}
		if patch.Bounds.MinLon < box.MinLon {
			box.MinLon = patch.Bounds.MinLon
		}
		if patch.Bounds.MaxLon > box.MaxLon {
			box.MaxLon = patch.Bounds.MaxLon
		}
	}
	return box, true
}
