package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/masfro/masfro/pkg/agent"
	"github.com/masfro/masfro/pkg/bus"
	"github.com/masfro/masfro/pkg/clock"
	"github.com/masfro/masfro/pkg/config"
	"github.com/masfro/masfro/pkg/core/orchestrator"
	"github.com/masfro/masfro/pkg/fetchers"
	"github.com/masfro/masfro/pkg/fusion"
	"github.com/masfro/masfro/pkg/geo"
	"github.com/masfro/masfro/pkg/graph"
	"github.com/masfro/masfro/pkg/llm"
	"github.com/masfro/masfro/pkg/reporting"
	"github.com/masfro/masfro/pkg/repository"
	"github.com/masfro/masfro/pkg/routing"
	"github.com/masfro/masfro/pkg/scout"
	"github.com/masfro/masfro/pkg/simulation"
)

// app is the fully wired process: every component constructed once and
// injected, no global lookups.
type app struct {
	cfg     *config.Config
	log     *reporting.Logger
	metrics *reporting.Metrics
	clk     clock.Clock

	bus     *bus.Bus
	store   *graph.Store
	spatial *graph.SpatialIndex
	engine  *routing.Engine

	evac    repository.Evacuation
	history repository.FloodData

	hazard *fusion.Agent
	flood  *fetchers.Agent
	scout  *scout.Agent
	router *routing.Agent
	orch   *orchestrator.Orchestrator
	sched  *agent.Scheduler
	sim    *simulation.Manager
}

// buildApp wires the process. requireGraph makes a failed graph load
// fatal; the serve path instead starts degraded and answers 503s until
// a graph is available.
func buildApp(requireGraph bool) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logLevel := reporting.LogLevel(cfg.Framework.LogLevel)
	if verbose {
		logLevel = reporting.LogLevelDebug
	}
	logger := reporting.NewLogger(reporting.LoggerConfig{
		Level:  logLevel,
		Format: reporting.LogFormat(cfg.Framework.LogFormat),
		Output: os.Stdout,
	})

	metrics := reporting.NewMetrics()
	clk := clock.NewSystem()
	b := bus.New(clk)

	store := graph.NewStore(cfg.Routing.ModePenalties[string(routing.ModeBalanced)], logger)
	if err := store.Load(cfg.Graph.Path, cfg.Graph.BBox, clk.Now()); err != nil {
		if requireGraph {
			return nil, fmt.Errorf("failed to load road graph: %w", err)
		}
		logger.Warn("road graph unavailable, starting degraded",
			"path", cfg.Graph.Path, "error", err.Error())
	}

	waterways, err := graph.LoadWaterways(cfg.Graph.Waterways)
	if err != nil {
		return nil, fmt.Errorf("failed to load waterways: %w", err)
	}
	spatial := graph.BuildSpatialIndex(store, waterways, cfg.Risk.WaterwayDecayM)

	engine := routing.NewEngine(store, spatial, cfg.Routing, clk, logger, metrics)

	centers, err := repository.LoadCenters(cfg.Graph.EvacCenters)
	if err != nil {
		return nil, fmt.Errorf("failed to load evacuation centers: %w", err)
	}
	evac := repository.NewMemoryEvacuation(centers, clk.Now)
	history := repository.NewMemoryFloodData(0)

	var gaz *scout.Gazetteer
	if cfg.Graph.Gazetteer != "" {
		gaz, err = scout.LoadGazetteer(cfg.Graph.Gazetteer)
		if err != nil {
			logger.Warn("gazetteer unavailable, place mentions will not resolve",
				"path", cfg.Graph.Gazetteer, "error", err.Error())
		}
	}

	var model llm.Client = llm.Disabled{}
	if cfg.LLM.Enabled {
		// The model adapter runs out of process; without one wired in,
		// classification stays on the keyword rules.
		logger.Warn("llm enabled in config but no adapter is linked, using rule-based classification")
	}

	queueCap := cfg.Scheduler.QueueCapacity
	scoutAgent := scout.New(b, gaz, model, logger, queueCap)

	hazardAgent := fusion.New(fusion.Config{
		Bus:           b,
		Store:         store,
		Spatial:       spatial,
		Risk:          cfg.Risk,
		Caches:        cfg.Caches,
		Clock:         clk,
		Logger:        logger,
		Metrics:       metrics,
		InboxCapacity: queueCap,
	})

	floodAgent := fetchers.NewAgent(fetchers.AgentConfig{
		Bus:           b,
		History:       history,
		Clock:         clk,
		Logger:        logger,
		Metrics:       metrics,
		InboxCapacity: queueCap,
	})
	addNetworkSources(floodAgent, cfg, clk)

	routerAgent := routing.NewAgent(engine, b, evac, queueCap)

	orch := orchestrator.New(orchestrator.Config{
		Bus:           b,
		Clock:         clk,
		Logger:        logger,
		Metrics:       metrics,
		InboxCapacity: queueCap,
		MaxConcurrent: cfg.Orchestrator.MaxConcurrentMissions,
		StepTimeout:   cfg.Orchestrator.StepTimeout,
		MissionTTL:    cfg.Orchestrator.MissionTTL,
	})

	sim := simulation.NewManager(simulation.Config{
		Flood:            floodAgent,
		Hazard:           hazardAgent,
		Engine:           engine,
		Clock:            clk,
		Logger:           logger,
		Metrics:          metrics,
		BreakerThreshold: cfg.Fetchers.BreakerThreshold,
		BreakerCooldown:  cfg.Fetchers.BreakerCooldown,
	})
	hazardAgent.SetRaster(sim.Raster())

	sched := agent.NewScheduler(agent.Config{
		Interval:     cfg.Scheduler.TickInterval,
		IsolateAfter: cfg.Scheduler.IsolateAfter,
		Suspender:    sim,
		Logger:       logger,
		Metrics:      metrics,
	})
	sched.Register(floodAgent, 10)
	sched.Register(hazardAgent, 20)
	sched.Register(scoutAgent, 30)
	sched.Register(routerAgent, 40)
	sched.Register(orch, 50)

	return &app{
		cfg:     cfg,
		log:     logger,
		metrics: metrics,
		clk:     clk,
		bus:     b,
		store:   store,
		spatial: spatial,
		engine:  engine,
		evac:    evac,
		history: history,
		hazard:  hazardAgent,
		flood:   floodAgent,
		scout:   scoutAgent,
		router:  routerAgent,
		orch:    orch,
		sched:   sched,
		sim:     sim,
	}, nil
}

// addNetworkSources registers every upstream with a configured URL.
func addNetworkSources(flood *fetchers.Agent, cfg *config.Config, clk clock.Clock) {
	threshold := cfg.Fetchers.BreakerThreshold
	cooldown := cfg.Fetchers.BreakerCooldown
	client := &http.Client{Timeout: 10 * time.Second}

	if cfg.Fetchers.StationURL != "" {
		flood.AddSource(&fetchers.StationLevels{
			URL:    cfg.Fetchers.StationURL,
			Client: client,
			Clock:  clk,
		}, threshold, cooldown)
	}
	if cfg.Fetchers.WeatherURL != "" && cfg.Fetchers.WeatherKey != "" {
		bbox := cfg.Graph.BBox
		flood.AddSource(&fetchers.Weather{
			BaseURL: cfg.Fetchers.WeatherURL,
			APIKey:  cfg.Fetchers.WeatherKey,
			Points: []geo.Point{
				{Lat: (bbox.MinLat + bbox.MaxLat) / 2, Lon: (bbox.MinLon + bbox.MaxLon) / 2},
				{Lat: bbox.MinLat, Lon: bbox.MinLon},
				{Lat: bbox.MaxLat, Lon: bbox.MaxLon},
			},
			Client: client,
			Clock:  clk,
		}, threshold, cooldown)
	}
	if cfg.Fetchers.DamURL != "" {
		flood.AddSource(&fetchers.DamLevels{
			URL:    cfg.Fetchers.DamURL,
			Client: client,
			Clock:  clk,
		}, threshold, cooldown)
	}
}
