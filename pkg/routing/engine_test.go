package routing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masfro/masfro/pkg/config"
	"github.com/masfro/masfro/pkg/geo"
	"github.com/masfro/masfro/pkg/graph"
)

var (
	testBox = geo.BoundingBox{MinLat: 14.55, MaxLat: 14.75, MinLon: 121.05, MaxLon: 121.15}

	ptStart = geo.Point{Lat: 14.650, Lon: 121.100} // node 1
	ptEnd   = geo.Point{Lat: 14.650, Lon: 121.110} // node 3
)

// testEngine builds a fixture with a direct two-hop corridor 1-2-3 (600 m
// per hop, plus a 700 m parallel hop 1-2) and a northern detour 1-4-3
// (800 m per hop).
func testEngine(t *testing.T) (*Engine, *graph.Store) {
	t.Helper()

	store := graph.NewStore(2000, nil)
	require.NoError(t, store.LoadData(&graph.GraphFile{
		Nodes: []graph.NodeSpec{
			{ID: 1, Lat: 14.650, Lon: 121.100},
			{ID: 2, Lat: 14.650, Lon: 121.105},
			{ID: 3, Lat: 14.650, Lon: 121.110},
			{ID: 4, Lat: 14.655, Lon: 121.105},
		},
		Edges: []graph.EdgeSpec{
			{U: 1, V: 2, K: 0, LengthM: 600, Highway: "primary"},
			{U: 1, V: 2, K: 1, LengthM: 700, Highway: "primary"},
			{U: 2, V: 3, K: 0, LengthM: 600, Highway: "primary"},
			{U: 1, V: 4, K: 0, LengthM: 800, Highway: "primary"},
			{U: 4, V: 3, K: 0, LengthM: 800, Highway: "primary"},
		},
	}, testBox, time.Now()))

	cfg := config.DefaultConfig().Routing
	cfg.RequestDeadline = 0
	idx := graph.BuildSpatialIndex(store, nil, 0)
	return NewEngine(store, idx, cfg, nil, nil, nil), store
}

func setRisk(t *testing.T, store *graph.Store, risk float64, keys ...graph.EdgeKey) {
	t.Helper()
	updates := make(map[graph.EdgeKey]float64, len(keys))
	for _, k := range keys {
		updates[k] = risk
	}
	_, err := store.BatchUpdateRisks(updates, time.Now())
	require.NoError(t, err)
}

func TestComputeRouteShortestWhenClear(t *testing.T) {
	e, _ := testEngine(t)

	route, err := e.ComputeRoute(context.Background(), Request{
		Start:       ptStart,
		End:         ptEnd,
		Preferences: DefaultPreferences(),
	})
	require.NoError(t, err)

	assert.Equal(t, []graph.NodeID{1, 2, 3}, route.Nodes)
	assert.Equal(t, 1200.0, route.Metrics.TotalDistanceM)
	assert.Equal(t, 2, route.Metrics.NumSegments)
	assert.Zero(t, route.Metrics.AverageRisk)
	assert.InDelta(t, 1.44, route.Metrics.EstimatedTimeMin, 0.01)
	assert.Empty(t, route.Warnings)
	assert.NotEmpty(t, route.RouteID)
	assert.Len(t, route.Path, 3)
}

func TestComputeRouteDivertsAroundRisk(t *testing.T) {
	e, store := testEngine(t)
	setRisk(t, store, 0.8, graph.EdgeKey{U: 2, V: 3, K: 0})

	route, err := e.ComputeRoute(context.Background(), Request{
		Start:       ptStart,
		End:         ptEnd,
		Preferences: DefaultPreferences(),
	})
	require.NoError(t, err)

	// Balanced mode pays 1600 m on the detour over the penalized hop.
	assert.Equal(t, []graph.NodeID{1, 4, 3}, route.Nodes)
	assert.Equal(t, 1600.0, route.Metrics.TotalDistanceM)
	assert.Zero(t, route.Metrics.MaxRisk)
}

func TestComputeRouteFastestIgnoresRisk(t *testing.T) {
	e, store := testEngine(t)
	setRisk(t, store, 0.8, graph.EdgeKey{U: 2, V: 3, K: 0})

	prefs := DefaultPreferences()
	prefs.Mode = ModeFastest
	prefs.AvoidFloods = false

	route, err := e.ComputeRoute(context.Background(), Request{
		Start:       ptStart,
		End:         ptEnd,
		Preferences: prefs,
	})
	require.NoError(t, err)

	assert.Equal(t, []graph.NodeID{1, 2, 3}, route.Nodes)
	assert.Equal(t, 0.8, route.Metrics.MaxRisk)
	assert.InDelta(t, 0.4, route.Metrics.AverageRisk, 1e-9)

	var severities []string
	for _, w := range route.Warnings {
		severities = append(severities, w.Severity)
	}
	assert.Contains(t, severities, "high")
	assert.Contains(t, severities, "info")
}

func TestComputeRouteParallelEdgeCollapse(t *testing.T) {
	e, store := testEngine(t)
	// Key 0 of the 1-2 hop is past the threshold; key 1 stays clear.
	setRisk(t, store, 0.96, graph.EdgeKey{U: 1, V: 2, K: 0})

	route, err := e.ComputeRoute(context.Background(), Request{
		Start:       ptStart,
		End:         ptEnd,
		Preferences: DefaultPreferences(),
	})
	require.NoError(t, err)

	assert.Equal(t, []graph.NodeID{1, 2, 3}, route.Nodes)
	assert.Equal(t, 1300.0, route.Metrics.TotalDistanceM)
}

func TestComputeRouteThresholdRelaxation(t *testing.T) {
	e, store := testEngine(t)
	// Every hop out of the start is past the 0.95 threshold.
	setRisk(t, store, 0.96,
		graph.EdgeKey{U: 1, V: 2, K: 0},
		graph.EdgeKey{U: 1, V: 2, K: 1},
		graph.EdgeKey{U: 1, V: 4, K: 0})

	strict := DefaultPreferences()
	strict.AllowRelaxation = false
	_, err := e.ComputeRoute(context.Background(), Request{
		Start: ptStart, End: ptEnd, Preferences: strict,
	})
	assert.ErrorIs(t, err, ErrNoPath)

	route, err := e.ComputeRoute(context.Background(), Request{
		Start: ptStart, End: ptEnd, Preferences: DefaultPreferences(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, route.Warnings)

	found := false
	for _, w := range route.Warnings {
		if w.Severity == "warning" {
			assert.Contains(t, w.Message, "relaxed")
			found = true
		}
	}
	assert.True(t, found)
}

func TestComputeRouteFullyImpassable(t *testing.T) {
	e, store := testEngine(t)
	setRisk(t, store, 1.0,
		graph.EdgeKey{U: 1, V: 2, K: 0},
		graph.EdgeKey{U: 1, V: 2, K: 1},
		graph.EdgeKey{U: 1, V: 4, K: 0})

	// The last relaxation rung drops the threshold entirely.
	route, err := e.ComputeRoute(context.Background(), Request{
		Start: ptStart, End: ptEnd, Preferences: DefaultPreferences(),
	})
	require.NoError(t, err)

	found := false
	for _, w := range route.Warnings {
		if w.Severity == "warning" {
			assert.Contains(t, w.Message, "impassable")
			found = true
		}
	}
	assert.True(t, found)
}

func TestComputeRouteSamePoint(t *testing.T) {
	e, _ := testEngine(t)

	route, err := e.ComputeRoute(context.Background(), Request{
		Start: ptStart, End: ptStart, Preferences: DefaultPreferences(),
	})
	require.NoError(t, err)

	assert.Equal(t, []graph.NodeID{1}, route.Nodes)
	assert.Zero(t, route.Metrics.NumSegments)
	assert.Zero(t, route.Metrics.TotalDistanceM)
}

func TestComputeRouteSnapLimit(t *testing.T) {
	e, _ := testEngine(t)

	_, err := e.ComputeRoute(context.Background(), Request{
		Start:       geo.Point{Lat: 14.68, Lon: 121.10},
		End:         ptEnd,
		Preferences: DefaultPreferences(),
	})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.ComputeRoute(context.Background(), Request{
		Start:       geo.Point{Lat: 95, Lon: 0},
		End:         ptEnd,
		Preferences: DefaultPreferences(),
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

// stepClock advances a fixed amount on every read.
type stepClock struct {
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func TestComputeRouteDeadline(t *testing.T) {
	e, _ := testEngine(t)
	e.clk = &stepClock{now: time.Unix(0, 0), step: 10 * time.Millisecond}
	e.cfg.RequestDeadline = time.Millisecond

	// The injected clock overshoots the deadline on the first expansion.
	_, err := e.ComputeRoute(context.Background(), Request{
		Start: ptStart, End: ptEnd, Preferences: DefaultPreferences(),
	})
	assert.ErrorIs(t, err, ErrDeadline)

	// A generous deadline on the same clock still routes.
	e.cfg.RequestDeadline = time.Hour
	route, err := e.ComputeRoute(context.Background(), Request{
		Start: ptStart, End: ptEnd, Preferences: DefaultPreferences(),
	})
	require.NoError(t, err)
	assert.Equal(t, []graph.NodeID{1, 2, 3}, route.Nodes)
}

func TestComputeRouteUnloadedStore(t *testing.T) {
	store := graph.NewStore(2000, nil)
	idx := graph.BuildSpatialIndex(store, nil, 0)
	e := NewEngine(store, idx, config.DefaultConfig().Routing, nil, nil, nil)

	_, err := e.ComputeRoute(context.Background(), Request{
		Start: ptStart, End: ptEnd, Preferences: DefaultPreferences(),
	})
	assert.ErrorIs(t, err, graph.ErrUnavailable)
}

func TestComputeBaselineIgnoresRisk(t *testing.T) {
	e, store := testEngine(t)
	setRisk(t, store, 0.99, graph.EdgeKey{U: 2, V: 3, K: 0})

	route, err := e.ComputeBaseline(context.Background(), Request{
		Start: ptStart, End: ptEnd, Preferences: DefaultPreferences(),
	})
	require.NoError(t, err)

	assert.Equal(t, []graph.NodeID{1, 2, 3}, route.Nodes)
	assert.Equal(t, 1200.0, route.Metrics.TotalDistanceM)
}

func TestNormalizePrefs(t *testing.T) {
	p := normalizePrefs(Preferences{})
	assert.Equal(t, ModeBalanced, p.Mode)
	assert.Equal(t, 0.95, p.MaxRiskThreshold)

	p = normalizePrefs(Preferences{MaxRiskThreshold: 1.5})
	assert.Equal(t, 0.95, p.MaxRiskThreshold)
}
