// Package server is the HTTP surface over the engine: routing and
// evacuation queries, crowdsourced feedback intake, history, missions
// and the admin endpoints for the scheduler and simulation.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/masfro/masfro/pkg/agent"
	"github.com/masfro/masfro/pkg/bus"
	"github.com/masfro/masfro/pkg/clock"
	"github.com/masfro/masfro/pkg/config"
	"github.com/masfro/masfro/pkg/core/orchestrator"
	"github.com/masfro/masfro/pkg/graph"
	"github.com/masfro/masfro/pkg/reporting"
	"github.com/masfro/masfro/pkg/repository"
	"github.com/masfro/masfro/pkg/routing"
	"github.com/masfro/masfro/pkg/scout"
	"github.com/masfro/masfro/pkg/simulation"
)

// Deps carries everything the handlers reach into. All fields except
// Config, Logger and Store are optional; handlers answer 503 when their
// dependency is absent.
type Deps struct {
	Config  *config.Config
	Logger  *reporting.Logger
	Metrics *reporting.Metrics
	Clock   clock.Clock

	Bus          *bus.Bus
	Store        *graph.Store
	Engine       *routing.Engine
	EvacRepo     repository.Evacuation
	History      repository.FloodData
	Scout        *scout.Agent
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *agent.Scheduler
	Simulation   *simulation.Manager
}

// Server hosts the HTTP API.
type Server struct {
	deps     Deps
	log      *reporting.Logger
	router   *gin.Engine
	notifier *Notifier
	http     *http.Server
}

// New builds the router and websocket hub.
func New(deps Deps) *Server {
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	if deps.Logger == nil {
		deps.Logger = reporting.NewNopLogger()
	}

	s := &Server{
		deps: deps,
		log:  deps.Logger.Component("server"),
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(deps.Config.Server.AllowedOrigins))

	if deps.Store != nil {
		s.notifier = NewNotifier(deps.Store, deps.Clock, deps.Logger, s.checkWSOrigin)
		r.GET("/ws", func(c *gin.Context) {
			s.notifier.ServeWS(c.Writer, c.Request)
		})
	}

	api := r.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.POST("/route", s.handleRoute)
		api.POST("/evacuation-center", s.handleEvacuationCenter)
		api.POST("/feedback", s.handleFeedback)
		api.GET("/collections", s.handleCollections)
		api.GET("/evacuation-centers", s.handleListCenters)

		api.POST("/missions", s.handleStartMission)
		api.GET("/missions", s.handleListMissions)
		api.GET("/missions/:id", s.handleGetMission)
		api.DELETE("/missions/:id", s.handleCancelMission)

		admin := api.Group("", authMiddleware(deps.Config.Server.APIKey))
		{
			admin.POST("/scheduler/trigger", s.handleSchedulerTrigger)
			admin.GET("/scheduler/status", s.handleSchedulerStatus)
			admin.POST("/simulation/start", s.handleSimStart)
			admin.POST("/simulation/tick", s.handleSimTick)
			admin.POST("/simulation/stop", s.handleSimStop)
			admin.POST("/simulation/reset", s.handleSimReset)
			admin.GET("/simulation/status", s.handleSimStatus)
		}
	}

	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
			deps.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	s.router = r
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Notifier exposes the websocket hub.
func (s *Server) Notifier() *Notifier { return s.notifier }

// checkWSOrigin applies the CORS allow-list to websocket upgrades.
func (s *Server) checkWSOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.deps.Config.Server.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.deps.Config.Server.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
