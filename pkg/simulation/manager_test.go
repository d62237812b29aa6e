package simulation

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masfro/masfro/pkg/bus"
	"github.com/masfro/masfro/pkg/clock"
	"github.com/masfro/masfro/pkg/config"
	"github.com/masfro/masfro/pkg/fetchers"
	"github.com/masfro/masfro/pkg/fusion"
	"github.com/masfro/masfro/pkg/geo"
	"github.com/masfro/masfro/pkg/graph"
	"github.com/masfro/masfro/pkg/routing"
)

var (
	testBox  = geo.BoundingBox{MinLat: 14.55, MaxLat: 14.75, MinLon: 121.05, MaxLon: 121.15}
	nodeOne  = geo.Point{Lat: 14.650, Lon: 121.100}
	nodeTwo  = geo.Point{Lat: 14.651, Lon: 121.100}
	nearEdge = graph.EdgeKey{U: 1, V: 2, K: 0}
)

type simFixture struct {
	manager *Manager
	store   *graph.Store
	clk     *clock.Simulated
	flood   *fetchers.Agent
	hazard  *fusion.Agent
}

func newSimFixture(t *testing.T) *simFixture {
	t.Helper()

	store := graph.NewStore(2000, nil)
	require.NoError(t, store.LoadData(&graph.GraphFile{
		Nodes: []graph.NodeSpec{
			{ID: 1, Lat: nodeOne.Lat, Lon: nodeOne.Lon},
			{ID: 2, Lat: nodeTwo.Lat, Lon: nodeTwo.Lon},
		},
		Edges: []graph.EdgeSpec{
			{U: 1, V: 2, K: 0, LengthM: 111, Highway: "primary"},
		},
	}, testBox, time.Now()))

	clk := clock.NewSimulated()
	clk.SetSpeedup(0)
	b := bus.New(clk)
	idx := graph.BuildSpatialIndex(store, nil, 0)
	cfg := config.DefaultConfig()

	hazardAgent := fusion.New(fusion.Config{
		Bus:     b,
		Store:   store,
		Spatial: idx,
		Risk:    cfg.Risk,
		Clock:   clk,
	})
	floodAgent := fetchers.NewAgent(fetchers.AgentConfig{
		Bus:     b,
		Clock:   clk,
		Backoff: []time.Duration{},
	})
	engine := routing.NewEngine(store, idx, cfg.Routing, clk, nil, nil)

	m := NewManager(Config{
		Flood:  floodAgent,
		Hazard: hazardAgent,
		Engine: engine,
		Clock:  clk,
	})
	hazardAgent.SetRaster(m.Raster())

	return &simFixture{
		manager: m,
		store:   store,
		clk:     clk,
		flood:   floodAgent,
		hazard:  hazardAgent,
	}
}

// liveFeed stands in for a network fetcher outside the run.
type liveFeed struct {
	fetches atomic.Int32
}

func (f *liveFeed) Name() string { return "live" }

func (f *liveFeed) Fetch(context.Context) (fetchers.Batch, error) {
	f.fetches.Add(1)
	return fetchers.Batch{}, nil
}

func floodScenario() *Scenario {
	return &Scenario{
		Kind:     "FloodScenario",
		Metadata: Metadata{Name: "test-flood"},
		Spec: ScenarioSpec{
			Mode: ModeMedium,
			Frames: []Frame{
				{
					TimeStep: 1,
					Stations: []fetchers.SyntheticStation{
						{Station: "nangka", Location: nodeOne, WaterLevelM: 17.0, AlertLevelM: 16.0},
					},
				},
				{
					TimeStep: 3,
					Raster: []RasterPatch{
						{
							Bounds: geo.BoundingBox{MinLat: 14.649, MaxLat: 14.652, MinLon: 121.099, MaxLon: 121.101},
							DepthM: 0.8,
						},
					},
				},
			},
		},
	}
}

func TestStartAndTick(t *testing.T) {
	f := newSimFixture(t)

	require.NoError(t, f.manager.Start(floodScenario(), ""))
	assert.True(t, f.manager.IsRunning())
	assert.ErrorIs(t, f.manager.Start(floodScenario(), ""), ErrAlreadyRunning)

	result, err := f.manager.RunTick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.TimeStep)
	assert.Equal(t, ModeMedium, result.Mode)
	assert.Equal(t, 1, result.Collection.Observations)
	assert.Greater(t, result.Fusion.EdgesUpdated, 0)
	assert.False(t, result.Finished)

	// The scripted gauge is a metre over its alert line next to the edge.
	e, err := f.store.GetEdge(nearEdge)
	require.NoError(t, err)
	assert.Greater(t, e.RiskScore, 0.3)

	status := f.manager.Status()
	assert.Equal(t, "test-flood", status.Scenario)
	assert.Equal(t, 1, status.Stats.TicksRun)
}

func TestStartRejectsBadMode(t *testing.T) {
	f := newSimFixture(t)
	assert.Error(t, f.manager.Start(floodScenario(), Mode("biblical")))
	assert.Error(t, f.manager.Start(nil, ModeMedium))
}

func TestTickWithoutStart(t *testing.T) {
	f := newSimFixture(t)
	_, err := f.manager.RunTick(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestSubmitRouteAnsweredDuringTick(t *testing.T) {
	f := newSimFixture(t)
	require.NoError(t, f.manager.Start(floodScenario(), ""))

	out, err := f.manager.SubmitRoute(routing.Request{
		Start:       nodeOne,
		End:         nodeTwo,
		Preferences: routing.DefaultPreferences(),
	})
	require.NoError(t, err)

	result, err := f.manager.RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.RoutesServed)

	outcome := <-out
	require.NoError(t, outcome.Err)
	assert.Equal(t, []graph.NodeID{1, 2}, outcome.Route.Nodes)

	assert.Equal(t, 1, f.manager.Status().Stats.RoutesAnswered)
}

func TestJumpAndRasterFrame(t *testing.T) {
	f := newSimFixture(t)
	require.NoError(t, f.manager.Start(floodScenario(), ""))

	assert.ErrorIs(t, f.manager.Jump(0), ErrBadTimeStep)
	assert.ErrorIs(t, f.manager.Jump(19), ErrBadTimeStep)

	require.NoError(t, f.manager.Jump(3))
	result, err := f.manager.RunTick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.TimeStep)

	// The step-3 frame carries a raster patch over the edge.
	depth, covered, err := f.manager.Raster().DepthAt(nodeOne)
	require.NoError(t, err)
	assert.True(t, covered)
	assert.Equal(t, 0.8, depth)

	e, _ := f.store.GetEdge(nearEdge)
	assert.Greater(t, e.RiskScore, 0.3)
}

func TestRunFinishesAtLastStep(t *testing.T) {
	f := newSimFixture(t)
	live := &liveFeed{}
	f.flood.AddSource(live, 3, time.Minute)

	require.NoError(t, f.manager.Start(floodScenario(), ""))
	require.NoError(t, f.manager.Jump(MaxTimeStep))

	result, err := f.manager.RunTick(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Finished)
	assert.False(t, f.manager.IsRunning())

	_, err = f.manager.RunTick(context.Background())
	assert.ErrorIs(t, err, ErrNotRunning)

	// The finished run hands the live sources back.
	assert.Zero(t, live.fetches.Load())
	summary := f.flood.Collect(context.Background())
	assert.Equal(t, 1, summary.Sources)
	assert.Equal(t, int32(1), live.fetches.Load())
}

func TestResetRestoresLiveNetwork(t *testing.T) {
	f := newSimFixture(t)
	live := &liveFeed{}
	f.flood.AddSource(live, 3, time.Minute)

	require.NoError(t, f.manager.Start(floodScenario(), ""))
	_, err := f.manager.RunTick(context.Background())
	require.NoError(t, err)

	e, err := f.store.GetEdge(nearEdge)
	require.NoError(t, err)
	require.Greater(t, e.RiskScore, 0.3)
	assert.Zero(t, live.fetches.Load())

	f.manager.Reset()
	f.store.ResetRisks(f.clk.Now())

	// The resumed cadence must reach the live source, not the scripted
	// one, and must not resurrect replayed risk from the caches.
	summary := f.flood.Collect(context.Background())
	assert.Equal(t, 1, summary.Sources)
	assert.Equal(t, int32(1), live.fetches.Load())
	assert.Zero(t, summary.Observations)

	require.NoError(t, f.hazard.Tick(context.Background()))

	e, err = f.store.GetEdge(nearEdge)
	require.NoError(t, err)
	assert.Zero(t, e.RiskScore)
	assert.Zero(t, f.store.RiskyEdgeCount())
}

func TestStopAnswersQueuedRoutes(t *testing.T) {
	f := newSimFixture(t)
	require.NoError(t, f.manager.Start(floodScenario(), ""))

	out, err := f.manager.SubmitRoute(routing.Request{Start: nodeOne, End: nodeTwo})
	require.NoError(t, err)

	f.manager.Stop()
	f.manager.Stop() // idempotent

	outcome := <-out
	assert.ErrorIs(t, outcome.Err, ErrNotRunning)

	_, err = f.manager.SubmitRoute(routing.Request{Start: nodeOne, End: nodeTwo})
	assert.ErrorIs(t, err, ErrNotRunning)

	// The raster is cleared with the run.
	_, active := f.manager.Raster().Footprint()
	assert.False(t, active)
}

func TestResetClearsStats(t *testing.T) {
	f := newSimFixture(t)
	require.NoError(t, f.manager.Start(floodScenario(), ""))
	_, err := f.manager.RunTick(context.Background())
	require.NoError(t, err)

	f.manager.Reset()

	status := f.manager.Status()
	assert.False(t, status.Running)
	assert.Zero(t, status.TimeStep)
	assert.Zero(t, status.Stats.TicksRun)
	assert.Empty(t, status.Scenario)
}

func TestScenarioRaster(t *testing.T) {
	r := &scenarioRaster{}

	_, active := r.Footprint()
	assert.False(t, active)

	r.set([]RasterPatch{
		{Bounds: geo.BoundingBox{MinLat: 14.60, MaxLat: 14.65, MinLon: 121.08, MaxLon: 121.10}, DepthM: 0.3},
		{Bounds: geo.BoundingBox{MinLat: 14.64, MaxLat: 14.70, MinLon: 121.09, MaxLon: 121.12}, DepthM: 0.9},
	})

	// Overlap: the deepest covering patch wins.
	depth, covered, err := r.DepthAt(geo.Point{Lat: 14.645, Lon: 121.095})
	require.NoError(t, err)
	assert.True(t, covered)
	assert.Equal(t, 0.9, depth)

	depth, covered, err = r.DepthAt(geo.Point{Lat: 14.61, Lon: 121.09})
	require.NoError(t, err)
	assert.True(t, covered)
	assert.Equal(t, 0.3, depth)

	_, covered, err = r.DepthAt(geo.Point{Lat: 14.74, Lon: 121.14})
	require.NoError(t, err)
	assert.False(t, covered)

	box, active := r.Footprint()
	require.True(t, active)
	assert.Equal(t, 14.60, box.MinLat)
	assert.Equal(t, 14.70, box.MaxLat)
	assert.Equal(t, 121.08, box.MinLon)
	assert.Equal(t, 121.12, box.MaxLon)
}
