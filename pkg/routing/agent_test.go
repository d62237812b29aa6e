package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masfro/masfro/pkg/bus"
	"github.com/masfro/masfro/pkg/geo"
	"github.com/masfro/masfro/pkg/repository"
)

func TestAgentAnswersRouteRequests(t *testing.T) {
	e, _ := testEngine(t)
	b := bus.New(nil)
	b.Register("orchestrator", 8)

	agent := NewAgent(e, b, repository.NewMemoryEvacuation(testCenters(), nil), 8)

	require.NoError(t, b.Send(bus.Envelope{
		Performative:   bus.Request,
		Sender:         "orchestrator",
		Receiver:       RouterID,
		ConversationID: "conv-route",
		Content: Request{
			Start:       ptStart,
			End:         ptEnd,
			Preferences: DefaultPreferences(),
		},
	}))
	require.NoError(t, agent.Tick(context.Background()))

	env, err := b.Recv("orchestrator", false, 0)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, bus.Reply, env.Performative)
	assert.Equal(t, "conv-route", env.ConversationID)

	route, ok := env.Content.(*Route)
	require.True(t, ok)
	assert.Equal(t, 1200.0, route.Metrics.TotalDistanceM)
}

func TestAgentAnswersEvacRequests(t *testing.T) {
	e, _ := testEngine(t)
	b := bus.New(nil)
	b.Register("orchestrator", 8)

	agent := NewAgent(e, b, repository.NewMemoryEvacuation(testCenters(), nil), 8)

	require.NoError(t, b.Send(bus.Envelope{
		Performative:   bus.Request,
		Sender:         "orchestrator",
		Receiver:       RouterID,
		ConversationID: "conv-evac",
		Content: EvacRequest{
			Location:    ptStart,
			Preferences: DefaultPreferences(),
		},
	}))
	require.NoError(t, agent.Tick(context.Background()))

	env, err := b.Recv("orchestrator", false, 0)
	require.NoError(t, err)
	require.NotNil(t, env)

	res, ok := env.Content.(*EvacResult)
	require.True(t, ok)
	assert.Equal(t, "Malanday Covered Court", res.Chosen.Center.Name)
}

func TestAgentFailureReplies(t *testing.T) {
	e, _ := testEngine(t)
	b := bus.New(nil)
	b.Register("orchestrator", 8)

	agent := NewAgent(e, b, nil, 8)

	// Unroutable request and an unsupported payload both produce FAILURE
	// replies on their conversations.
	require.NoError(t, b.Send(bus.Envelope{
		Performative:   bus.Request,
		Sender:         "orchestrator",
		Receiver:       RouterID,
		ConversationID: "conv-bad",
		Content: Request{
			Start:       geo.Point{Lat: 14.68, Lon: 121.10},
			End:         ptEnd,
			Preferences: DefaultPreferences(),
		},
	}))
	require.NoError(t, b.Send(bus.Envelope{
		Performative:   bus.Request,
		Sender:         "orchestrator",
		Receiver:       RouterID,
		ConversationID: "conv-odd",
		Content:        42,
	}))
	require.NoError(t, agent.Tick(context.Background()))

	for i := 0; i < 2; i++ {
		env, err := b.Recv("orchestrator", false, 0)
		require.NoError(t, err)
		require.NotNil(t, env)
		assert.Equal(t, bus.Failure, env.Performative)
	}
}

func TestAgentIgnoresInforms(t *testing.T) {
	e, _ := testEngine(t)
	b := bus.New(nil)
	b.Register("orchestrator", 8)
	agent := NewAgent(e, b, nil, 8)

	require.NoError(t, b.Send(bus.Envelope{
		Performative: bus.Inform,
		Sender:       "orchestrator",
		Receiver:     RouterID,
		Content:      "noise",
	}))
	require.NoError(t, agent.Tick(context.Background()))

	env, err := b.Recv("orchestrator", false, 0)
	require.NoError(t, err)
	assert.Nil(t, env)
}
