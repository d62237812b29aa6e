// Package orchestrator executes multi-step missions over the bus. A
// mission is a small finite-state machine: each step posts one REQUEST
// to an agent and waits for the matching reply; the orchestrator itself
// never blocks, all waiting happens in its inbox.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/masfro/masfro/pkg/bus"
	"github.com/masfro/masfro/pkg/clock"
	"github.com/masfro/masfro/pkg/fetchers"
	"github.com/masfro/masfro/pkg/fusion"
	"github.com/masfro/masfro/pkg/reporting"
	"github.com/masfro/masfro/pkg/routing"
	"github.com/masfro/masfro/pkg/scout"
)

// AgentID is the orchestrator's bus address.
const AgentID = "orchestrator"

var (
	// ErrTooManyMissions rejects a start beyond the concurrency cap.
	ErrTooManyMissions = errors.New("too many concurrent missions")
	// ErrMissionNotFound is returned for unknown mission ids.
	ErrMissionNotFound = errors.New("mission not found")
	// ErrUnknownMissionType rejects an unsupported mission type.
	ErrUnknownMissionType = errors.New("unknown mission type")
)

// State is a mission's lifecycle state.
type State string

const (
	StatePending      State = "PENDING"
	StateWaitingReply State = "WAITING_REPLY"
	StateCompleted    State = "COMPLETED"
	StateFailed       State = "FAILED"
	StateCancelled    State = "CANCELLED"
)

// Terminal reports whether the state ends the mission.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Mission types.
const (
	MissionAssessRisk            = "assess_risk"
	MissionCoordinatedEvacuation = "coordinated_evacuation"
	MissionRouteCalculation      = "route_calculation"
	MissionFindEvacuationCenter  = "find_evacuation_center"
)

// StepResult is one accumulated reply.
type StepResult struct {
	Agent   string `json:"agent"`
	Content any    `json:"content"`
}

// Mission is the FSM record. Snapshots of it are returned to callers;
// the live record is owned by the orchestrator.
type Mission struct {
	ID               string       `json:"mission_id"`
	Type             string       `json:"type"`
	State            State        `json:"state"`
	Params           any          `json:"params,omitempty"`
	StepIndex        int          `json:"step_index"`
	PendingReplyFrom string       `json:"pending_reply_from,omitempty"`
	Results          []StepResult `json:"results"`
	Reason           string       `json:"reason,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`

	steps          []step
	conversationID string
	stepDeadline   time.Time
}

// step posts one REQUEST. build may consult earlier results.
type step struct {
	receiver string
	build    func(m *Mission) any
}

// CancelMission is the payload of a CANCEL envelope.
type CancelMission struct {
	MissionID string
}

// Config wires the orchestrator.
type Config struct {
	Bus           *bus.Bus
	Clock         clock.Clock
	Logger        *reporting.Logger
	Metrics       *reporting.Metrics
	InboxCapacity int

	MaxConcurrent int
	StepTimeout   time.Duration
	MissionTTL    time.Duration
}

// Orchestrator owns the mission table.
type Orchestrator struct {
	b       *bus.Bus
	clk     clock.Clock
	log     *reporting.Logger
	metrics *reporting.Metrics

	maxConcurrent int
	stepTimeout   time.Duration
	missionTTL    time.Duration

	mu       sync.Mutex
	missions map[string]*Mission
	byConv   map[string]*Mission
}

// New registers the orchestrator inbox and returns it.
func New(cfg Config) *Orchestrator {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystem()
	}
	if cfg.Logger == nil {
		cfg.Logger = reporting.NewNopLogger()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 30 * time.Second
	}
	if cfg.MissionTTL <= 0 {
		cfg.MissionTTL = 5 * time.Minute
	}
	if cfg.Bus != nil {
		cfg.Bus.Register(AgentID, cfg.InboxCapacity)
	}

	o := &Orchestrator{
		b:             cfg.Bus,
		clk:           cfg.Clock,
		log:           cfg.Logger.Component("orchestrator"),
		metrics:       cfg.Metrics,
		maxConcurrent: cfg.MaxConcurrent,
		stepTimeout:   cfg.StepTimeout,
		missionTTL:    cfg.MissionTTL,
		missions:      make(map[string]*Mission),
		byConv:        make(map[string]*Mission),
	}
	return o
}

// ID implements agent.Tickable.
func (o *Orchestrator) ID() string { return AgentID }

// Start creates a mission and posts its first step. Starts beyond the
// concurrency cap are rejected synchronously.
func (o *Orchestrator) Start(missionType string, params any) (Mission, error) {
	steps, err := plan(missionType, params)
	if err != nil {
		return Mission{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	open := 0
	for _, m := range o.missions {
		if !m.State.Terminal() {
			open++
		}
	}
	if open >= o.maxConcurrent {
		return Mission{}, ErrTooManyMissions
	}

	now := o.clk.Now()
	// Params rides along in the record so the audit trail keeps the
	// original request, message included.
	m := &Mission{
		ID:        uuid.NewString(),
		Type:      missionType,
		State:     StatePending,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
		steps:     steps,
	}
	o.missions[m.ID] = m
	if o.metrics != nil {
		o.metrics.MissionsOpen.Inc()
	}

	o.postStep(m)
	return *m, nil
}

// postStep sends the REQUEST for the current step. Caller holds the
// lock.
func (o *Orchestrator) postStep(m *Mission) {
	if m.StepIndex >= len(m.steps) {
		o.finish(m, StateCompleted, "")
		return
	}

	s := m.steps[m.StepIndex]
	m.conversationID = bus.NewConversationID()
	env := bus.Envelope{
		Performative:   bus.Request,
		Sender:         AgentID,
		Receiver:       s.receiver,
		ConversationID: m.conversationID,
		Content:        s.build(m),
	}

	if err := o.b.Send(env); err != nil {
		o.finish(m, StateFailed, fmt.Sprintf("send to %s: %v", s.receiver, err))
		return
	}

	m.State = StateWaitingReply
	m.PendingReplyFrom = s.receiver
	m.stepDeadline = o.clk.Now().Add(o.stepTimeout)
	m.UpdatedAt = o.clk.Now()
	o.byConv[m.conversationID] = m
}

// finish moves a mission to a terminal state. Caller holds the lock.
func (o *Orchestrator) finish(m *Mission, state State, reason string) {
	if m.State.Terminal() {
		return
	}
	delete(o.byConv, m.conversationID)
	m.State = state
	m.Reason = reason
	m.PendingReplyFrom = ""
	m.UpdatedAt = o.clk.Now()
	if o.metrics != nil {
		o.metrics.MissionsOpen.Dec()
	}
	o.log.Debug("mission finished", "mission", m.ID, "type", m.Type,
		"state", string(state), "reason", reason)
}

// Tick drains replies, advances matching missions, times out stale
// steps and reaps expired terminal missions.
func (o *Orchestrator) Tick(ctx context.Context) error {
	envs, err := o.b.Drain(AgentID)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	for _, env := range envs {
		if env.Performative == bus.Cancel {
			o.applyCancel(env)
			continue
		}
		if env.Performative != bus.Reply && env.Performative != bus.Failure {
			continue
		}

		m, ok := o.byConv[env.ConversationID]
		if !ok || m.State != StateWaitingReply {
			// Late or duplicate reply for a finished step.
			continue
		}
		delete(o.byConv, env.ConversationID)

		if env.Performative == bus.Failure {
			m.Results = append(m.Results, StepResult{Agent: env.Sender, Content: env.Content})
			o.finish(m, StateFailed, fmt.Sprintf("step %d failed at %s", m.StepIndex, env.Sender))
			continue
		}

		m.Results = append(m.Results, StepResult{Agent: env.Sender, Content: env.Content})
		m.StepIndex++
		m.UpdatedAt = o.clk.Now()
		o.postStep(m)
	}

	now := o.clk.Now()
	for _, m := range o.missions {
		if m.State == StateWaitingReply && now.After(m.stepDeadline) {
			o.finish(m, StateFailed,
				fmt.Sprintf("timeout waiting for %s at step %d", m.PendingReplyFrom, m.StepIndex))
		}
	}

	for id, m := range o.missions {
		if m.State.Terminal() && now.Sub(m.UpdatedAt) > o.missionTTL {
			delete(o.missions, id)
		}
	}
	return nil
}

// applyCancel handles a CANCEL envelope. Caller holds the lock.
func (o *Orchestrator) applyCancel(env bus.Envelope) {
	c, ok := env.Content.(CancelMission)
	if !ok {
		return
	}
	if m, found := o.missions[c.MissionID]; found {
		o.finish(m, StateCancelled, "cancelled by "+env.Sender)
	}
}

// Cancel cancels a mission directly.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.missions[id]
	if !ok {
		return ErrMissionNotFound
	}
	o.finish(m, StateCancelled, "cancelled")
	return nil
}

// Get returns a snapshot of a mission.
func (o *Orchestrator) Get(id string) (Mission, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.missions[id]
	if !ok {
		return Mission{}, false
	}
	return snapshot(m), true
}

// List returns snapshots of every retained mission.
func (o *Orchestrator) List() []Mission {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Mission, 0, len(o.missions))
	for _, m := range o.missions {
		out = append(out, snapshot(m))
	}
	return out
}

// OpenCount returns the number of non-terminal missions.
func (o *Orchestrator) OpenCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	open := 0
	for _, m := range o.missions {
		if !m.State.Terminal() {
			open++
		}
	}
	return open
}

func snapshot(m *Mission) Mission {
	cp := *m
	cp.steps = nil
	cp.Results = append([]StepResult(nil), m.Results...)
	return cp
}

// Mission parameter payloads.

// AssessRiskParams drives assess_risk. Location is optional; when set
// the mission geocodes it first.
type AssessRiskParams struct {
	Location string
}

// CoordinatedEvacuationParams drives coordinated_evacuation.
type CoordinatedEvacuationParams struct {
	Request routing.EvacRequest
	Message string
}

// plan builds the step list for a mission type.
func plan(missionType string, params any) ([]step, error) {
	switch missionType {
	case MissionAssessRisk:
		p, ok := params.(AssessRiskParams)
		if !ok {
			return nil, fmt.Errorf("%w: %s needs AssessRiskParams", ErrUnknownMissionType, missionType)
		}
		var steps []step
		if p.Location != "" {
			steps = append(steps, step{
				receiver: scout.AgentID,
				build: func(*Mission) any {
					return scout.GeocodeRequest{Location: p.Location}
				},
			})
		}
		steps = append(steps,
			step{
				receiver: fetchers.AgentID,
				build:    func(*Mission) any { return fetchers.CollectRequest{} },
			},
			step{
				receiver: fusion.AgentID,
				build:    func(*Mission) any { return fusion.FuseRequest{} },
			},
		)
		return steps, nil

	case MissionCoordinatedEvacuation:
		p, ok := params.(CoordinatedEvacuationParams)
		if !ok {
			return nil, fmt.Errorf("%w: %s needs CoordinatedEvacuationParams", ErrUnknownMissionType, missionType)
		}
		req := p.Request
		if req.Query == "" {
			req.Query = p.Message
		}
		return []step{{
			receiver: routing.RouterID,
			build:    func(*Mission) any { return req },
		}}, nil

	case MissionRouteCalculation:
		p, ok := params.(routing.Request)
		if !ok {
			return nil, fmt.Errorf("%w: %s needs routing.Request", ErrUnknownMissionType, missionType)
		}
		return []step{{
			receiver: routing.RouterID,
			build:    func(*Mission) any { return p },
		}}, nil

	case MissionFindEvacuationCenter:
		p, ok := params.(routing.EvacRequest)
		if !ok {
			return nil, fmt.Errorf("%w: %s needs routing.EvacRequest", ErrUnknownMissionType, missionType)
		}
		return []step{{
			receiver: routing.RouterID,
			build:    func(*Mission) any { return p },
		}}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownMissionType, missionType)
}
