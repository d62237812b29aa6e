package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masfro/masfro/pkg/bus"
	"github.com/masfro/masfro/pkg/clock"
	"github.com/masfro/masfro/pkg/geo"
	"github.com/masfro/masfro/pkg/routing"
)

type harness struct {
	o   *Orchestrator
	b   *bus.Bus
	clk *clock.Simulated
}

func newHarness(t *testing.T, maxConcurrent int) *harness {
	t.Helper()
	clk := clock.NewSimulated()
	clk.SetSpeedup(0)
	b := bus.New(clk)
	b.Register(routing.RouterID, 16)

	o := New(Config{
		Bus:           b,
		Clock:         clk,
		MaxConcurrent: maxConcurrent,
		StepTimeout:   30 * time.Second,
		MissionTTL:    5 * time.Minute,
	})
	return &harness{o: o, b: b, clk: clk}
}

// answerRouter replies to every pending router request in the given
// performative.
func (h *harness) answerRouter(t *testing.T, perf bus.Performative, content any) int {
	t.Helper()
	envs, err := h.b.Drain(routing.RouterID)
	require.NoError(t, err)
	for _, env := range envs {
		require.NoError(t, h.b.Send(bus.Envelope{
			Performative:   perf,
			Sender:         routing.RouterID,
			Receiver:       AgentID,
			ConversationID: env.ConversationID,
			Content:        content,
		}))
	}
	return len(envs)
}

func routeParams() routing.Request {
	return routing.Request{
		Start:       geo.Point{Lat: 14.650, Lon: 121.100},
		End:         geo.Point{Lat: 14.650, Lon: 121.110},
		Preferences: routing.DefaultPreferences(),
	}
}

func TestMissionCompletes(t *testing.T) {
	h := newHarness(t, 10)

	m, err := h.o.Start(MissionRouteCalculation, routeParams())
	require.NoError(t, err)
	assert.Equal(t, StateWaitingReply, m.State)
	assert.Equal(t, routing.RouterID, m.PendingReplyFrom)
	assert.Equal(t, 1, h.o.OpenCount())

	require.Equal(t, 1, h.answerRouter(t, bus.Reply, &routing.Route{RouteID: "r-1"}))
	require.NoError(t, h.o.Tick(context.Background()))

	got, ok := h.o.Get(m.ID)
	require.True(t, ok)
	assert.Equal(t, StateCompleted, got.State)
	require.Len(t, got.Results, 1)
	assert.Equal(t, routing.RouterID, got.Results[0].Agent)
	assert.Zero(t, h.o.OpenCount())
}

func TestCoordinatedEvacuationKeepsMessage(t *testing.T) {
	h := newHarness(t, 10)

	params := CoordinatedEvacuationParams{
		Request: routing.EvacRequest{
			Location:    geo.Point{Lat: 14.65, Lon: 121.10},
			Preferences: routing.DefaultPreferences(),
		},
		Message: "nasa bubong kami sa Tumana",
	}
	m, err := h.o.Start(MissionCoordinatedEvacuation, params)
	require.NoError(t, err)

	require.Equal(t, 1, h.answerRouter(t, bus.Reply, &routing.EvacResult{}))
	require.NoError(t, h.o.Tick(context.Background()))

	got, ok := h.o.Get(m.ID)
	require.True(t, ok)
	assert.Equal(t, StateCompleted, got.State)

	// The original request survives in the record, message included.
	kept, ok := got.Params.(CoordinatedEvacuationParams)
	require.True(t, ok)
	assert.Equal(t, "nasa bubong kami sa Tumana", kept.Message)

	// And it reaches the status payload the API serves.
	body, err := json.Marshal(got)
	require.NoError(t, err)
	assert.Contains(t, string(body), "nasa bubong kami sa Tumana")
}

func TestMissionStepFailure(t *testing.T) {
	h := newHarness(t, 10)

	m, err := h.o.Start(MissionFindEvacuationCenter, routing.EvacRequest{
		Location:    geo.Point{Lat: 14.65, Lon: 121.10},
		Preferences: routing.DefaultPreferences(),
	})
	require.NoError(t, err)

	require.Equal(t, 1, h.answerRouter(t, bus.Failure, "no reachable evacuation center"))
	require.NoError(t, h.o.Tick(context.Background()))

	got, _ := h.o.Get(m.ID)
	assert.Equal(t, StateFailed, got.State)
	assert.Contains(t, got.Reason, "failed at router")
	// The failure content is still recorded for the caller.
	require.Len(t, got.Results, 1)
}

func TestMissionStepTimeout(t *testing.T) {
	h := newHarness(t, 10)

	m, err := h.o.Start(MissionRouteCalculation, routeParams())
	require.NoError(t, err)

	h.clk.Advance(time.Minute)
	require.NoError(t, h.o.Tick(context.Background()))

	got, _ := h.o.Get(m.ID)
	assert.Equal(t, StateFailed, got.State)
	assert.Contains(t, got.Reason, "timeout waiting for router")
}

func TestLateReplyIgnored(t *testing.T) {
	h := newHarness(t, 10)

	m, err := h.o.Start(MissionRouteCalculation, routeParams())
	require.NoError(t, err)

	// Step times out, then the reply arrives anyway.
	h.clk.Advance(time.Minute)
	require.NoError(t, h.o.Tick(context.Background()))
	h.answerRouter(t, bus.Reply, &routing.Route{})
	require.NoError(t, h.o.Tick(context.Background()))

	got, _ := h.o.Get(m.ID)
	assert.Equal(t, StateFailed, got.State)
	assert.Empty(t, got.Results)
}

func TestConcurrencyCap(t *testing.T) {
	h := newHarness(t, 2)

	_, err := h.o.Start(MissionRouteCalculation, routeParams())
	require.NoError(t, err)
	_, err = h.o.Start(MissionRouteCalculation, routeParams())
	require.NoError(t, err)

	_, err = h.o.Start(MissionRouteCalculation, routeParams())
	assert.ErrorIs(t, err, ErrTooManyMissions)

	// Finishing one frees a slot.
	h.answerRouter(t, bus.Reply, &routing.Route{})
	require.NoError(t, h.o.Tick(context.Background()))

	_, err = h.o.Start(MissionRouteCalculation, routeParams())
	require.NoError(t, err)
}

func TestCancelMission(t *testing.T) {
	h := newHarness(t, 10)

	m, err := h.o.Start(MissionRouteCalculation, routeParams())
	require.NoError(t, err)

	require.NoError(t, h.o.Cancel(m.ID))
	got, _ := h.o.Get(m.ID)
	assert.Equal(t, StateCancelled, got.State)

	assert.ErrorIs(t, h.o.Cancel("missing"), ErrMissionNotFound)
}

func TestCancelOverBus(t *testing.T) {
	h := newHarness(t, 10)

	m, err := h.o.Start(MissionRouteCalculation, routeParams())
	require.NoError(t, err)

	require.NoError(t, h.b.Send(bus.Envelope{
		Performative: bus.Cancel,
		Sender:       "api",
		Receiver:     AgentID,
		Content:      CancelMission{MissionID: m.ID},
	}))
	require.NoError(t, h.o.Tick(context.Background()))

	got, _ := h.o.Get(m.ID)
	assert.Equal(t, StateCancelled, got.State)
	assert.Contains(t, got.Reason, "api")
}

func TestTerminalMissionsReaped(t *testing.T) {
	h := newHarness(t, 10)

	m, err := h.o.Start(MissionRouteCalculation, routeParams())
	require.NoError(t, err)
	require.NoError(t, h.o.Cancel(m.ID))

	h.clk.Advance(10 * time.Minute)
	require.NoError(t, h.o.Tick(context.Background()))

	_, ok := h.o.Get(m.ID)
	assert.False(t, ok)
	assert.Empty(t, h.o.List())
}

func TestUnknownMissionType(t *testing.T) {
	h := newHarness(t, 10)

	_, err := h.o.Start("take_over_the_world", nil)
	assert.ErrorIs(t, err, ErrUnknownMissionType)

	// Wrong params for a known type are rejected the same way.
	_, err = h.o.Start(MissionRouteCalculation, "not a request")
	assert.ErrorIs(t, err, ErrUnknownMissionType)
}

func TestUnregisteredReceiverFailsMission(t *testing.T) {
	h := newHarness(t, 10)

	m, err := h.o.Start(MissionAssessRisk, AssessRiskParams{})
	require.NoError(t, err)

	// No collection agent is registered on this bus; the first step's
	// send fails and the mission fails with it.
	got, _ := h.o.Get(m.ID)
	assert.Equal(t, StateFailed, got.State)
	assert.Contains(t, got.Reason, "send to flood")
}

func TestAssessRiskPlanSteps(t *testing.T) {
	steps, err := plan(MissionAssessRisk, AssessRiskParams{Location: "Tumana"})
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "scout", steps[0].receiver)
	assert.Equal(t, "flood", steps[1].receiver)
	assert.Equal(t, "hazard", steps[2].receiver)

	steps, err = plan(MissionAssessRisk, AssessRiskParams{})
	require.NoError(t, err)
	assert.Len(t, steps, 2)
}
