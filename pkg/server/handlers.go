package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/masfro/masfro/pkg/bus"
	"github.com/masfro/masfro/pkg/core/orchestrator"
	"github.com/masfro/masfro/pkg/fusion"
	"github.com/masfro/masfro/pkg/geo"
	"github.com/masfro/masfro/pkg/graph"
	"github.com/masfro/masfro/pkg/hazard"
	"github.com/masfro/masfro/pkg/routing"
	"github.com/masfro/masfro/pkg/simulation"
)

// errorBody shapes every failure response.
func errorBody(code, msg string) gin.H {
	return gin.H{"error_code": code, "error": msg}
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status": "ok",
		"time":   s.deps.Clock.Now(),
	}
	if s.deps.Store != nil {
		body["graph"] = gin.H{
			"loaded":      s.deps.Store.Loaded(),
			"nodes":       s.deps.Store.NodeCount(),
			"edges":       s.deps.Store.EdgeCount(),
			"risky_edges": s.deps.Store.RiskyEdgeCount(),
		}
	}
	if s.deps.Scheduler != nil {
		body["agents"] = s.deps.Scheduler.StatusAll()
	}
	if s.deps.Simulation != nil {
		body["simulation"] = s.deps.Simulation.Status()
	}
	if s.notifier != nil {
		body["ws_clients"] = s.notifier.ClientCount()
	}
	c.JSON(http.StatusOK, body)
}

type routeBody struct {
	Start       geo.Point            `json:"start"`
	End         geo.Point            `json:"end"`
	Preferences *routing.Preferences `json:"preferences"`
	// IncludeBaseline adds the risk-blind shortest path for comparison.
	IncludeBaseline bool `json:"include_baseline"`
}

func (s *Server) handleRoute(c *gin.Context) {
	if s.deps.Engine == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("unavailable", "routing engine not ready"))
		return
	}

	var body routeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", err.Error()))
		return
	}
	if !body.Start.Valid() || !body.End.Valid() {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", "invalid coordinates"))
		return
	}

	prefs := routing.DefaultPreferences()
	if body.Preferences != nil {
		prefs = *body.Preferences
	}

	req := routing.Request{Start: body.Start, End: body.End, Preferences: prefs}
	route, err := s.deps.Engine.ComputeRoute(c.Request.Context(), req)
	if err != nil {
		s.routeError(c, err)
		return
	}

	resp := gin.H{"route": route}
	if body.IncludeBaseline {
		if baseline, berr := s.deps.Engine.ComputeBaseline(c.Request.Context(), req); berr == nil {
			resp["baseline"] = baseline
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) routeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, routing.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody("not_found", err.Error()))
	case errors.Is(err, routing.ErrNoPath), errors.Is(err, routing.ErrNoCenters):
		c.JSON(http.StatusNotFound, errorBody("no_path", err.Error()))
	case errors.Is(err, routing.ErrDeadline):
		c.JSON(http.StatusGatewayTimeout, errorBody("timeout", err.Error()))
	case errors.Is(err, graph.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, errorBody("unavailable", err.Error()))
	default:
		c.JSON(http.StatusBadRequest, errorBody("bad_request", err.Error()))
	}
}

type evacBody struct {
	Location   geo.Point            `json:"location"`
	Query      string               `json:"query"`
	MaxCenters int                  `json:"max_centers"`
	Prefs      *routing.Preferences `json:"preferences"`
}

func (s *Server) handleEvacuationCenter(c *gin.Context) {
	if s.deps.Engine == nil || s.deps.EvacRepo == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("unavailable", "evacuation routing not ready"))
		return
	}

	var body evacBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", err.Error()))
		return
	}
	if !body.Location.Valid() {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", "invalid coordinates"))
		return
	}

	prefs := routing.DefaultPreferences()
	if body.Prefs != nil {
		prefs = *body.Prefs
	}

	res, err := s.deps.Engine.FindEvacuationCenter(c.Request.Context(), s.deps.EvacRepo, routing.EvacRequest{
		Location:      body.Location,
		Query:         body.Query,
		MaxCandidates: body.MaxCenters,
		Preferences:   prefs,
	})
	if err != nil {
		s.routeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleListCenters(c *gin.Context) {
	if s.deps.EvacRepo == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("unavailable", "repository not ready"))
		return
	}
	centers, err := s.deps.EvacRepo.GetAll()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("unavailable", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"centers": centers})
}

type feedbackBody struct {
	Text     string     `json:"text"`
	Location *geo.Point `json:"location"`
	Place    string     `json:"place"`
	ImageRef string     `json:"image_ref"`
}

// handleFeedback classifies a crowdsourced report, resolves its
// location and forwards it to the fusion inbox.
func (s *Server) handleFeedback(c *gin.Context) {
	if s.deps.Scout == nil || s.deps.Bus == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("unavailable", "feedback intake not ready"))
		return
	}

	var body feedbackBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", err.Error()))
		return
	}
	if body.Text == "" && body.ImageRef == "" {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", "text or image_ref required"))
		return
	}

	var location geo.Point
	switch {
	case body.Location != nil && body.Location.Valid():
		location = *body.Location
	case body.Place != "":
		res, err := s.deps.Scout.Geocode(body.Place)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorBody("bad_request", "unknown place "+body.Place))
			return
		}
		location = res.Point
	default:
		c.JSON(http.StatusBadRequest, errorBody("bad_request", "location or place required"))
		return
	}

	cls := s.deps.Scout.Classify(c.Request.Context(), body.Text, body.ImageRef)
	report, err := hazard.NewScoutReport(body.Text, body.ImageRef, cls, hazard.Meta{
		Location:   location,
		Confidence: cls.Confidence,
	}, s.deps.Clock.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", err.Error()))
		return
	}

	env := bus.Envelope{
		Performative: bus.Inform,
		Sender:       "http",
		Receiver:     fusion.AgentID,
		Content:      report,
	}
	if err := s.deps.Bus.Send(env); err != nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("unavailable", err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"accepted":       true,
		"classification": cls,
		"location":       location,
	})
}

func (s *Server) handleCollections(c *gin.Context) {
	if s.deps.History == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("unavailable", "history not ready"))
		return
	}
	limit := 20
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	c.JSON(http.StatusOK, gin.H{"collections": s.deps.History.RecentCollections(limit)})
}

type missionBody struct {
	Type       string               `json:"type"`
	Location   string               `json:"location"`
	Message    string               `json:"message"`
	Start      *geo.Point           `json:"start"`
	End        *geo.Point           `json:"end"`
	Query      string               `json:"query"`
	MaxCenters int                  `json:"max_centers"`
	Prefs      *routing.Preferences `json:"preferences"`
}

func (s *Server) handleStartMission(c *gin.Context) {
	if s.deps.Orchestrator == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("unavailable", "orchestrator not ready"))
		return
	}

	var body missionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", err.Error()))
		return
	}

	prefs := routing.DefaultPreferences()
	if body.Prefs != nil {
		prefs = *body.Prefs
	}

	var params any
	switch body.Type {
	case orchestrator.MissionAssessRisk:
		params = orchestrator.AssessRiskParams{Location: body.Location}
	case orchestrator.MissionRouteCalculation:
		if body.Start == nil || body.End == nil {
			c.JSON(http.StatusBadRequest, errorBody("bad_request", "start and end required"))
			return
		}
		params = routing.Request{Start: *body.Start, End: *body.End, Preferences: prefs}
	case orchestrator.MissionFindEvacuationCenter:
		if body.Start == nil {
			c.JSON(http.StatusBadRequest, errorBody("bad_request", "start required"))
			return
		}
		params = routing.EvacRequest{
			Location:      *body.Start,
			Query:         body.Query,
			MaxCandidates: body.MaxCenters,
			Preferences:   prefs,
		}
	case orchestrator.MissionCoordinatedEvacuation:
		if body.Start == nil {
			c.JSON(http.StatusBadRequest, errorBody("bad_request", "start required"))
			return
		}
		params = orchestrator.CoordinatedEvacuationParams{
			Request: routing.EvacRequest{
				Location:    *body.Start,
				Preferences: prefs,
			},
			Message: body.Message,
		}
	default:
		c.JSON(http.StatusBadRequest, errorBody("bad_request", "unknown mission type "+body.Type))
		return
	}

	mission, err := s.deps.Orchestrator.Start(body.Type, params)
	if err != nil {
		if errors.Is(err, orchestrator.ErrTooManyMissions) {
			c.JSON(http.StatusTooManyRequests, errorBody("too_many_missions", err.Error()))
			return
		}
		c.JSON(http.StatusBadRequest, errorBody("bad_request", err.Error()))
		return
	}
	c.JSON(http.StatusAccepted, mission)
}

func (s *Server) handleListMissions(c *gin.Context) {
	if s.deps.Orchestrator == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("unavailable", "orchestrator not ready"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"missions": s.deps.Orchestrator.List()})
}

func (s *Server) handleGetMission(c *gin.Context) {
	if s.deps.Orchestrator == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("unavailable", "orchestrator not ready"))
		return
	}
	m, ok := s.deps.Orchestrator.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, errorBody("not_found", "mission not found"))
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) handleCancelMission(c *gin.Context) {
	if s.deps.Orchestrator == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("unavailable", "orchestrator not ready"))
		return
	}
	if err := s.deps.Orchestrator.Cancel(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, errorBody("not_found", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

func (s *Server) handleSchedulerTrigger(c *gin.Context) {
	if s.deps.Scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("unavailable", "scheduler not ready"))
		return
	}
	s.deps.Scheduler.TickAll(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"triggered": true, "agents": s.deps.Scheduler.StatusAll()})
}

func (s *Server) handleSchedulerStatus(c *gin.Context) {
	if s.deps.Scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("unavailable", "scheduler not ready"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": s.deps.Scheduler.StatusAll()})
}

type simStartBody struct {
	Scenario string          `json:"scenario"`
	Mode     simulation.Mode `json:"mode"`
}

func (s *Server) handleSimStart(c *gin.Context) {
	if s.deps.Simulation == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("unavailable", "simulation not ready"))
		return
	}

	var body simStartBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", err.Error()))
		return
	}
	if body.Scenario == "" {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", "scenario path required"))
		return
	}

	scenario, err := simulation.LoadScenario(body.Scenario)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", err.Error()))
		return
	}
	if err := s.deps.Simulation.Start(scenario, body.Mode); err != nil {
		if errors.Is(err, simulation.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, errorBody("already_running", err.Error()))
			return
		}
		c.JSON(http.StatusBadRequest, errorBody("bad_request", err.Error()))
		return
	}
	c.JSON(http.StatusOK, s.deps.Simulation.Status())
}

func (s *Server) handleSimTick(c *gin.Context) {
	if s.deps.Simulation == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("unavailable", "simulation not ready"))
		return
	}

	if v := c.Query("time_step"); v != "" {
		step, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorBody("bad_request", "time_step must be an integer"))
			return
		}
		if err := s.deps.Simulation.Jump(step); err != nil {
			c.JSON(http.StatusBadRequest, errorBody("bad_request", err.Error()))
			return
		}
	}

	result, err := s.deps.Simulation.RunTick(c.Request.Context())
	if err != nil {
		switch {
		case errors.Is(err, simulation.ErrNotRunning):
			c.JSON(http.StatusConflict, errorBody("not_running", err.Error()))
		case errors.Is(err, simulation.ErrTickInProgress):
			c.JSON(http.StatusConflict, errorBody("tick_in_progress", err.Error()))
		default:
			c.JSON(http.StatusInternalServerError, errorBody("internal", err.Error()))
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleSimStop(c *gin.Context) {
	if s.deps.Simulation == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("unavailable", "simulation not ready"))
		return
	}
	s.deps.Simulation.Stop()
	c.JSON(http.StatusOK, s.deps.Simulation.Status())
}

func (s *Server) handleSimReset(c *gin.Context) {
	if s.deps.Simulation == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("unavailable", "simulation not ready"))
		return
	}
	s.deps.Simulation.Reset()
	if s.deps.Store != nil {
		s.deps.Store.ResetRisks(s.deps.Clock.Now())
	}
	c.JSON(http.StatusOK, s.deps.Simulation.Status())
}

func (s *Server) handleSimStatus(c *gin.Context) {
	if s.deps.Simulation == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody("unavailable", "simulation not ready"))
		return
	}
	c.JSON(http.StatusOK, s.deps.Simulation.Status())
}
