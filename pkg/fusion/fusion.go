// Package fusion implements the hazard fusion agent: the authoritative
// writer of edge risk scores. It drains observations from its bus inbox,
// fuses station, raster and crowdsourced signals, and commits the result
// as a single batch update per pass.
package fusion

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/masfro/masfro/pkg/bus"
	"github.com/masfro/masfro/pkg/clock"
	"github.com/masfro/masfro/pkg/config"
	"github.com/masfro/masfro/pkg/geo"
	"github.com/masfro/masfro/pkg/graph"
	"github.com/masfro/masfro/pkg/hazard"
	"github.com/masfro/masfro/pkg/reporting"
	"github.com/masfro/masfro/pkg/risk"
)

// AgentID is the fusion agent's bus address.
const AgentID = "hazard"

// RasterProvider serves flood depths from an already-georeferenced
// raster for whatever scenario is currently active.
type RasterProvider interface {
	// DepthAt returns the depth at p. ok is false outside the footprint
	// or when no scenario is active.
	DepthAt(p geo.Point) (depthM float64, ok bool, err error)
	// Footprint returns the raster's bounding box when active.
	Footprint() (geo.BoundingBox, bool)
}

// Summary reports one fusion pass.
type Summary struct {
	EdgesUpdated int           `json:"edges_updated"`
	StationsUsed int           `json:"stations_used"`
	ReportsUsed  int           `json:"reports_used"`
	Duration     time.Duration `json:"duration"`
	AverageRisk  float64       `json:"average_risk"`
}

// FuseRequest asks the fusion agent for an immediate pass over the bus.
type FuseRequest struct{}

// Agent is the hazard fusion agent.
type Agent struct {
	mu sync.Mutex

	b       *bus.Bus
	store   *graph.Store
	spatial *graph.SpatialIndex
	raster  RasterProvider

	stations *stationCache
	scouts   *scoutCache

	riskCfg config.RiskConfig
	clk     clock.Clock
	log     *reporting.Logger
	metrics *reporting.Metrics

	firstPass bool
	last      Summary
	// previous-generation risks, retained one cycle so routing started
	// before a batch lands still sees a coherent view
	prev map[graph.EdgeKey]float64
}

// Config wires the fusion agent.
type Config struct {
	Bus     *bus.Bus
	Store   *graph.Store
	Spatial *graph.SpatialIndex
	Raster  RasterProvider
	Risk    config.RiskConfig
	Caches  config.CachesConfig
	Clock   clock.Clock
	Logger  *reporting.Logger
	Metrics *reporting.Metrics
	// InboxCapacity bounds the agent's bus queue.
	InboxCapacity int
}

// New creates the fusion agent and registers its inbox on the bus.
func New(cfg Config) *Agent {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystem()
	}
	if cfg.Logger == nil {
		cfg.Logger = reporting.NewNopLogger()
	}
	if cfg.Bus != nil {
		cfg.Bus.Register(AgentID, cfg.InboxCapacity)
	}
	return &Agent{
		b:         cfg.Bus,
		store:     cfg.Store,
		spatial:   cfg.Spatial,
		raster:    cfg.Raster,
		stations:  newStationCache(cfg.Caches.StationMax),
		scouts:    newScoutCache(cfg.Caches.ScoutMax),
		riskCfg:   cfg.Risk,
		clk:       cfg.Clock,
		log:       cfg.Logger.Component("fusion"),
		metrics:   cfg.Metrics,
		firstPass: true,
		prev:      make(map[graph.EdgeKey]float64),
	}
}

// ID implements agent.Tickable.
func (a *Agent) ID() string { return AgentID }

// SetSpatial swaps the spatial index after a graph reload.
func (a *Agent) SetSpatial(idx *graph.SpatialIndex) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.spatial = idx
	a.firstPass = true
}

// SetRaster swaps the raster provider (the simulation manager installs
// its scenario raster here).
func (a *Agent) SetRaster(r RasterProvider) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.raster = r
}

// Ingest validates and caches one observation. Invalid observations are
// dropped with a warning counter; the caller gets the reason back.
func (a *Agent) Ingest(obs hazard.Observation) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ingestLocked(obs)
}

func (a *Agent) ingestLocked(obs hazard.Observation) error {
	now := a.clk.Now()
	if obs.Common().Expired(now) {
		a.drop("expired")
		return fmt.Errorf("observation expired")
	}

	switch o := obs.(type) {
	case hazard.StationReading:
		a.stations.put(o)
	case hazard.ScoutReport:
		a.scouts.put(o)
	case hazard.DamReading:
		// Dam releases feed the station path: treat the reading as a
		// synthetic station upstream of the channel it spills into.
		sr := hazard.StationReading{Meta: o.Meta, Station: "dam:" + o.Dam, WaterLevelM: o.LevelM}
		a.stations.put(sr)
	case hazard.ScrapeSnippet:
		// Scraped advisories carry no usable geometry beyond a point
		// mention; fold them in as low-confidence reports.
		rep := hazard.ScoutReport{
			Meta: o.Meta,
			Text: o.Snippet,
			Classification: hazard.Classification{
				IsFloodRelated: true,
				ReportType:     hazard.ReportFlooding,
				Severity:       0.5,
				Confidence:     o.Confidence,
			},
		}
		a.scouts.put(rep)
	case hazard.RasterSample:
		// Raster data is pulled through the provider, not pushed.
		a.drop("raster_pushed")
		return fmt.Errorf("raster samples are provider-pulled")
	default:
		a.drop("unknown_kind")
		return fmt.Errorf("unknown observation kind")
	}
	return nil
}

func (a *Agent) drop(reason string) {
	if a.metrics != nil {
		a.metrics.ObservationsDropped.WithLabelValues(reason).Inc()
	}
}

// Tick drains the inbox, then runs one fusion pass. Implements
// agent.Tickable; the scheduler guarantees ticks never overlap.
func (a *Agent) Tick(ctx context.Context) error {
	var fuseRequests []bus.Envelope

	if a.b != nil {
		envs, err := a.b.Drain(AgentID)
		if err != nil {
			return err
		}
		a.mu.Lock()
		for _, env := range envs {
			switch content := env.Content.(type) {
			case hazard.Observation:
				if err := a.ingestLocked(content); err != nil {
					a.log.Warn("observation dropped", "sender", env.Sender, "error", err.Error())
				}
			case FuseRequest:
				fuseRequests = append(fuseRequests, env)
			default:
				a.drop("bad_payload")
			}
		}
		a.mu.Unlock()
	}

	summary, err := a.RunPass(ctx)

	for _, req := range fuseRequests {
		reply := bus.Envelope{
			Performative:   bus.Reply,
			Sender:         AgentID,
			Receiver:       req.Sender,
			ConversationID: req.ConversationID,
			Content:        summary,
		}
		if err != nil {
			reply.Performative = bus.Failure
			reply.Content = err.Error()
		}
		if sendErr := a.b.Send(reply); sendErr != nil {
			a.log.Warn("fusion reply dropped", "receiver", req.Sender, "error", sendErr.Error())
		}
	}

	return err
}

// RunPass recomputes risk for every candidate edge and commits one batch
// update. If the raster provider errors the pass proceeds on station
// interpolation alone.
func (a *Agent) RunPass(ctx context.Context) (Summary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	now := a.clk.Now()

	stations := a.stations.fresh(now)
	reports := a.scouts.all(now)

	raster := a.raster
	rasterOK := raster != nil
	if rasterOK {
		if _, active := raster.Footprint(); !active {
			rasterOK = false
		}
	}

	candidates, err := a.candidateEdges(stations, reports, rasterOK)
	if err != nil {
		return Summary{}, err
	}

	updates := make(map[graph.EdgeKey]float64, len(candidates))
	var riskSum float64
	rasterFailed := false

	for _, key := range candidates {
		select {
		case <-ctx.Done():
			return Summary{}, ctx.Err()
		default:
		}

		mid, ok := a.spatial.Midpoint(key)
		if !ok {
			continue
		}

		depth, decay := 0.0, 1.0
		haveDepth := false

		if rasterOK && !rasterFailed {
			d, inside, rerr := raster.DepthAt(mid)
			if rerr != nil {
				// Fall back to station interpolation for the rest of
				// the pass; next tick retries the raster.
				rasterFailed = true
				if a.metrics != nil {
					a.metrics.RasterErrors.Inc()
				}
				a.log.Warn("raster read failed, falling back to stations", "error", rerr.Error())
			} else if inside {
				depth, decay, haveDepth = d, 1.0, true
			}
		}

		if !haveDepth {
			depth, decay, haveDepth = a.interpolateDepth(mid, stations, now)
		}

		crowd, k := a.crowdRisk(mid, now)

		if !haveDepth && k == 0 {
			// No signal reaches this edge; recomputing from nothing
			// yields zero rather than a standing structural prior.
			updates[key] = 0
			continue
		}

		hydro := risk.DepthToRisk(depth * decay)
		river := a.spatial.RiverRisk(closerEndpoint(key, mid, a.spatial))
		infra := risk.InfrastructureRisk(a.edgeHighway(key), depth)

		combined := geo.Clamp01(
			a.riskCfg.WeightDepth*math.Max(hydro, river*0.5) +
				a.riskCfg.WeightCrowd*crowd +
				a.riskCfg.WeightHistorical*infra)

		updates[key] = combined
		riskSum += combined
	}

	// Retain the outgoing generation for one cycle before committing.
	prev := make(map[graph.EdgeKey]float64, len(updates))
	for key := range updates {
		if e, gerr := a.store.GetEdge(key); gerr == nil {
			prev[key] = e.RiskScore
		}
	}

	applied, err := a.store.BatchUpdateRisks(updates, now)
	if err != nil && len(applied) == 0 {
		// Cache state is untouched; the next tick retries.
		return Summary{}, fmt.Errorf("batch risk update: %w", err)
	}
	a.prev = prev
	a.firstPass = false

	summary := Summary{
		EdgesUpdated: len(applied),
		StationsUsed: len(stations),
		ReportsUsed:  len(reports),
		Duration:     time.Since(start),
	}
	if len(updates) > 0 {
		summary.AverageRisk = riskSum / float64(len(updates))
	}

	if a.metrics != nil {
		a.metrics.FusionPasses.Inc()
		a.metrics.FusionBatchSize.Observe(float64(len(applied)))
		a.metrics.FusionDuration.Observe(summary.Duration.Seconds())
	}
	a.log.Debug("fusion pass complete",
		"edges", summary.EdgesUpdated,
		"stations", summary.StationsUsed,
		"reports", summary.ReportsUsed,
		"avg_risk", summary.AverageRisk)

	a.last = summary
	return summary, err
}

// LastSummary returns the most recent completed pass.
func (a *Agent) LastSummary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// candidateEdges determines which edges could have changed. The first
// pass covers everything; later passes take the union of edges near
// fresh stations, inside the raster footprint, and near fresh reports.
func (a *Agent) candidateEdges(stations []hazard.StationReading, reports []hazard.ScoutReport, rasterOK bool) ([]graph.EdgeKey, error) {
	if a.firstPass {
		edges, err := a.store.SnapshotEdges(nil)
		if err != nil {
			return nil, err
		}
		keys := make([]graph.EdgeKey, len(edges))
		for i, e := range edges {
			keys[i] = e.Key
		}
		return keys, nil
	}

	set := make(map[graph.EdgeKey]struct{})
	for _, s := range stations {
		for _, key := range a.spatial.EdgesNear(s.Location, a.riskCfg.RadiusM) {
			set[key] = struct{}{}
		}
	}
	for _, r := range reports {
		for _, key := range a.spatial.EdgesNear(r.Location, a.riskCfg.ReportRadiusM) {
			set[key] = struct{}{}
		}
	}
	if rasterOK {
		if box, active := a.raster.Footprint(); active {
			edges, err := a.store.SnapshotEdges(nil)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if mid, ok := a.spatial.Midpoint(e.Key); ok && box.Contains(mid) {
					set[e.Key] = struct{}{}
				}
			}
		}
	}

	// Previous generation stays in scope so stale risk decays to zero
	// once its observations expire.
	for key := range a.prev {
		if a.prev[key] > 0 {
			set[key] = struct{}{}
		}
	}

	keys := make([]graph.EdgeKey, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].U != keys[j].U {
			return keys[i].U < keys[j].U
		}
		if keys[i].V != keys[j].V {
			return keys[i].V < keys[j].V
		}
		return keys[i].K < keys[j].K
	})
	return keys, nil
}

// interpolateDepth estimates depth at p by inverse-distance weighting of
// the three nearest fresh stations within the risk radius. The returned
// decay blends each contributor's age against the station half-life.
func (a *Agent) interpolateDepth(p geo.Point, stations []hazard.StationReading, now time.Time) (depth, decay float64, ok bool) {
	type cand struct {
		dist  float64
		depth float64
		age   float64
	}

	var cands []cand
	for _, s := range stations {
		d := geo.Haversine(p, s.Location)
		if d > a.riskCfg.RadiusM {
			continue
		}
		sd := stationDepth(s)
		if sd <= 0 {
			continue
		}
		cands = append(cands, cand{dist: d, depth: sd, age: s.Age(now).Seconds()})
	}
	if len(cands) == 0 {
		return 0, 1, false
	}

	sort.Slice(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
	if len(cands) > 3 {
		cands = cands[:3]
	}

	half := a.riskCfg.DecayHalfLifeStation.Seconds()
	var wSum, dSum, decaySum float64
	for _, c := range cands {
		w := 1.0 / (c.dist + 1.0)
		wSum += w
		dSum += w * c.depth
		decaySum += w * math.Pow(2, -c.age/half)
	}
	return dSum / wSum, decaySum / wSum, true
}

// stationDepth extracts the usable flood depth from a reading: explicit
// depth when present, otherwise level above the alert line.
func stationDepth(s hazard.StationReading) float64 {
	if s.DepthM != nil {
		return *s.DepthM
	}
	if s.AlertLevelM > 0 && s.WaterLevelM > s.AlertLevelM {
		return s.WaterLevelM - s.AlertLevelM
	}
	return 0
}

// crowdRisk aggregates scout reports near p with a sigmoid over the mean
// decayed severity. Zero reports means zero crowd risk.
func (a *Agent) crowdRisk(p geo.Point, now time.Time) (float64, int) {
	reports := a.scouts.near(p, a.riskCfg.ReportRadiusM, now)
	if len(reports) == 0 {
		return 0, 0
	}

	half := a.riskCfg.DecayHalfLifeScout.Seconds()
	var sum float64
	for _, r := range reports {
		d := math.Pow(2, -r.Age(now).Seconds()/half)
		sum += r.EffectiveSeverity() * d
	}
	mean := sum / float64(len(reports))

	crowd := 1.0 / (1.0 + math.Exp(-a.riskCfg.SigmoidSteepness*(mean-a.riskCfg.SigmoidInflection)))
	return geo.Clamp01(crowd), len(reports)
}

// edgeHighway reads the highway class for one edge; empty on miss.
func (a *Agent) edgeHighway(key graph.EdgeKey) string {
	e, err := a.store.GetEdge(key)
	if err != nil {
		return ""
	}
	return e.Highway
}

// closerEndpoint picks the edge endpoint nearer the midpoint's waterway
// exposure. Ties fall to the lower node id.
func closerEndpoint(key graph.EdgeKey, mid geo.Point, idx *graph.SpatialIndex) graph.NodeID {
	ru := idx.RiverRisk(key.U)
	rv := idx.RiverRisk(key.V)
	if rv > ru {
		return key.V
	}
	if ru > rv {
		return key.U
	}
	if key.U < key.V {
		return key.U
	}
	return key.V
}

// CacheSizes reports the current cache occupancy.
func (a *Agent) CacheSizes() (stations, scouts int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stations.len(), a.scouts.len()
}

// ClearCaches drops every cached observation and the retained previous
// generation. Simulation reset calls this so replayed signals cannot
// outlive the run.
func (a *Agent) ClearCaches() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stations.clear()
	a.scouts.clear()
	a.prev = make(map[graph.EdgeKey]float64)
}
