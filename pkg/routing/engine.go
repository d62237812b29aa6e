// Package routing produces risk-aware routes over the road multigraph,
// with path metrics and evacuation-center selection.
package routing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/masfro/masfro/pkg/clock"
	"github.com/masfro/masfro/pkg/config"
	"github.com/masfro/masfro/pkg/geo"
	"github.com/masfro/masfro/pkg/graph"
	"github.com/masfro/masfro/pkg/reporting"
	"github.com/masfro/masfro/pkg/risk"
)

var (
	// ErrNotFound means an endpoint could not be snapped to the graph.
	ErrNotFound = errors.New("no graph node near location")
	// ErrNoPath means the endpoints are disconnected under the active
	// constraints.
	ErrNoPath = errors.New("no path between endpoints")
)

// Mode selects the distance/risk trade-off.
type Mode string

const (
	ModeSafest   Mode = "safest"
	ModeBalanced Mode = "balanced"
	ModeFastest  Mode = "fastest"
)

// Preferences shape one routing request.
type Preferences struct {
	Mode             Mode         `json:"mode"`
	AvoidFloods      bool         `json:"avoid_floods"`
	Vehicle          risk.Vehicle `json:"vehicle"`
	MaxRiskThreshold float64      `json:"max_risk_threshold"`
	// AllowRelaxation lets the engine retry with a relaxed threshold
	// (0.99, then none) when the requested one yields no path.
	AllowRelaxation bool `json:"allow_relaxation"`
}

// DefaultPreferences fills the documented defaults.
func DefaultPreferences() Preferences {
	return Preferences{
		Mode:             ModeBalanced,
		AvoidFloods:      true,
		Vehicle:          risk.VehicleCar,
		MaxRiskThreshold: 0.95,
		AllowRelaxation:  true,
	}
}

// Request is one route computation.
type Request struct {
	Start       geo.Point
	End         geo.Point
	Preferences Preferences
}

// Warning is a structured caveat attached to a route.
type Warning struct {
	Severity string     `json:"severity"`
	Message  string     `json:"message"`
	Location *geo.Point `json:"location,omitempty"`
}

// PathMetrics summarizes a computed path in one sweep.
type PathMetrics struct {
	TotalDistanceM   float64 `json:"distance_m"`
	NumSegments      int     `json:"num_segments"`
	AverageRisk      float64 `json:"average_risk"`
	MaxRisk          float64 `json:"max_risk"`
	EstimatedTimeMin float64 `json:"estimated_time_min"`
}

// Route is a computed route.
type Route struct {
	RouteID  string         `json:"route_id"`
	Nodes    []graph.NodeID `json:"nodes"`
	Path     []geo.Point    `json:"path"`
	Metrics  PathMetrics    `json:"metrics"`
	Warnings []Warning      `json:"warnings"`
}

// Engine answers routing queries against the graph store under a
// snapshot discipline: it only reads edge snapshots, never holds the
// store lock across the search.
type Engine struct {
	store   *graph.Store
	spatial *graph.SpatialIndex
	cfg     config.RoutingConfig
	clk     clock.Clock
	log     *reporting.Logger
	metrics *reporting.Metrics
}

// NewEngine creates a routing engine.
func NewEngine(store *graph.Store, spatial *graph.SpatialIndex, cfg config.RoutingConfig, clk clock.Clock, log *reporting.Logger, m *reporting.Metrics) *Engine {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if log == nil {
		log = reporting.NewNopLogger()
	}
	return &Engine{
		store:   store,
		spatial: spatial,
		cfg:     cfg,
		clk:     clk,
		log:     log.Component("routing"),
		metrics: m,
	}
}

// SetSpatial swaps the spatial index after a graph reload.
func (e *Engine) SetSpatial(idx *graph.SpatialIndex) {
	e.spatial = idx
}

// ComputeRoute snaps the endpoints, runs risk-aware A*, and relaxes the
// risk threshold stepwise when the first attempt finds no path.
func (e *Engine) ComputeRoute(ctx context.Context, req Request) (*Route, error) {
	started := time.Now()
	route, err := e.computeRoute(ctx, req)
	if e.metrics != nil {
		e.metrics.RoutingDuration.Observe(time.Since(started).Seconds())
		e.metrics.RoutingRequests.WithLabelValues(statusLabel(err)).Inc()
	}
	return route, err
}

func (e *Engine) computeRoute(ctx context.Context, req Request) (*Route, error) {
	if !e.store.Loaded() {
		return nil, graph.ErrUnavailable
	}

	prefs := normalizePrefs(req.Preferences)

	startID, startDist, err := e.snap(req.Start)
	if err != nil {
		return nil, err
	}
	endID, endDist, err := e.snap(req.End)
	if err != nil {
		return nil, err
	}
	if startDist > e.cfg.MaxSnapM || endDist > e.cfg.MaxSnapM {
		return nil, fmt.Errorf("%w: snap distance exceeds %.0f m", ErrNotFound, e.cfg.MaxSnapM)
	}

	penalty := e.cfg.ModePenalties[string(prefs.Mode)]
	deadline := time.Time{}
	if e.cfg.RequestDeadline > 0 {
		deadline = e.clk.Now().Add(e.cfg.RequestDeadline)
	}

	threshold := prefs.MaxRiskThreshold
	if !prefs.AvoidFloods {
		threshold = 1.0
	}

	// Threshold relaxation ladder: as requested, then 0.99, then none.
	ladder := []float64{threshold}
	if prefs.AllowRelaxation {
		if threshold < 0.99 {
			ladder = append(ladder, 0.99)
		}
		if threshold < 1.0 {
			ladder = append(ladder, 1.0)
		}
	}

	var nodes []graph.NodeID
	var edges []graph.Edge
	var usedThreshold float64
	for _, th := range ladder {
		nodes, edges, err = e.astar(ctx, startID, endID, searchParams{
			riskPenalty: penalty,
			maxRisk:     th,
			deadline:    deadline,
		})
		if err == nil {
			usedThreshold = th
			break
		}
		if !errors.Is(err, ErrNoPath) {
			return nil, err
		}
	}
	if err != nil {
		return nil, err
	}

	route := e.buildRoute(nodes, edges, prefs)
	if usedThreshold > threshold {
		msg := fmt.Sprintf("max-risk threshold relaxed to %.2f", usedThreshold)
		if usedThreshold >= 1.0 {
			msg = "max-risk threshold relaxed: impassable segments allowed"
		}
		route.Warnings = append(route.Warnings, Warning{Severity: "warning", Message: msg})
	}
	return route, nil
}

// ComputeBaseline runs plain shortest-path A* (penalty 0, no threshold).
// Used for validation and offline comparison; emits the same metrics so
// path-risk statistics remain comparable.
func (e *Engine) ComputeBaseline(ctx context.Context, req Request) (*Route, error) {
	if !e.store.Loaded() {
		return nil, graph.ErrUnavailable
	}

	startID, startDist, err := e.snap(req.Start)
	if err != nil {
		return nil, err
	}
	endID, endDist, err := e.snap(req.End)
	if err != nil {
		return nil, err
	}
	if startDist > e.cfg.MaxSnapM || endDist > e.cfg.MaxSnapM {
		return nil, fmt.Errorf("%w: snap distance exceeds %.0f m", ErrNotFound, e.cfg.MaxSnapM)
	}

	nodes, edges, err := e.astar(ctx, startID, endID, searchParams{riskPenalty: 0, maxRisk: 1.0})
	if err != nil {
		return nil, err
	}
	return e.buildRoute(nodes, edges, normalizePrefs(req.Preferences)), nil
}

// snap maps a coordinate to its nearest graph node.
func (e *Engine) snap(p geo.Point) (graph.NodeID, float64, error) {
	if !p.Valid() {
		return 0, 0, fmt.Errorf("%w: invalid coordinates %s", ErrNotFound, p)
	}
	id, dist, err := e.spatial.NearestNode(p)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return id, dist, nil
}

// buildRoute assembles coordinates, metrics and risk warnings from the
// search result in a single sweep over the edges.
func (e *Engine) buildRoute(nodes []graph.NodeID, edges []graph.Edge, prefs Preferences) *Route {
	route := &Route{
		RouteID: uuid.NewString(),
		Nodes:   nodes,
	}

	for _, id := range nodes {
		if n, err := e.store.GetNode(id); err == nil {
			route.Path = append(route.Path, n.Point)
		}
	}

	var distSum, riskWeighted, timeMin, maxRisk float64
	var maxRiskAt *geo.Point
	for i, edge := range edges {
		distSum += edge.LengthM
		riskWeighted += edge.RiskScore * edge.LengthM

		baseHours := edge.LengthM / 1000 / edge.BaseSpeedKmh
		timeMin += baseHours * 60 * risk.TravelTimeFactor(edge.RiskScore)

		if edge.RiskScore > maxRisk {
			maxRisk = edge.RiskScore
			if i+1 < len(route.Path) {
				mid := geo.Midpoint(route.Path[i], route.Path[i+1])
				maxRiskAt = &mid
			}
		}
	}

	route.Metrics = PathMetrics{
		TotalDistanceM:   distSum,
		NumSegments:      len(edges),
		MaxRisk:          maxRisk,
		EstimatedTimeMin: timeMin,
	}
	if distSum > 0 {
		route.Metrics.AverageRisk = riskWeighted / distSum
	}

	if maxRisk >= 0.7 {
		route.Warnings = append(route.Warnings, Warning{
			Severity: "high",
			Message:  "high flood risk on segment",
			Location: maxRiskAt,
		})
	} else if maxRisk >= 0.4 {
		route.Warnings = append(route.Warnings, Warning{
			Severity: "moderate",
			Message:  "moderate flood risk on route",
			Location: maxRiskAt,
		})
	}

	if prefs.Mode == ModeFastest && maxRisk > 0 {
		route.Warnings = append(route.Warnings, Warning{
			Severity: "info",
			Message:  "fastest mode ignores risk in weighting; flooded segments may be included",
		})
	}

	return route
}

func normalizePrefs(p Preferences) Preferences {
	if p.Mode == "" {
		p.Mode = ModeBalanced
	}
	if p.Vehicle == "" {
		p.Vehicle = risk.VehicleCar
	}
	if p.MaxRiskThreshold <= 0 || p.MaxRiskThreshold > 1 {
		p.MaxRiskThreshold = 0.95
	}
	return p
}

func statusLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoPath):
		return "no_path"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, graph.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrDeadline):
		return "deadline"
	default:
		return "error"
	}
}
