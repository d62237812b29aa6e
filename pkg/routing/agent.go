package routing

import (
	"context"

	"github.com/masfro/masfro/pkg/bus"
	"github.com/masfro/masfro/pkg/repository"
)

// RouterID is the routing agent's bus address.
const RouterID = "router"

// Agent answers route and evacuation requests arriving over the bus.
type Agent struct {
	engine *Engine
	b      *bus.Bus
	repo   repository.Evacuation
}

// NewAgent wraps the engine as a bus-driven agent and registers its
// inbox.
func NewAgent(engine *Engine, b *bus.Bus, repo repository.Evacuation, inboxCapacity int) *Agent {
	if b != nil {
		b.Register(RouterID, inboxCapacity)
	}
	return &Agent{engine: engine, b: b, repo: repo}
}

// ID implements agent.Tickable.
func (a *Agent) ID() string { return RouterID }

// Tick drains the inbox and answers every request. A failed request
// produces a FAILURE reply on the same conversation; it never stops the
// sweep.
func (a *Agent) Tick(ctx context.Context) error {
	envs, err := a.b.Drain(RouterID)
	if err != nil {
		return err
	}

	for _, env := range envs {
		if env.Performative != bus.Request && env.Performative != bus.Query {
			continue
		}

		reply := bus.Envelope{
			Performative:   bus.Reply,
			Sender:         RouterID,
			Receiver:       env.Sender,
			ConversationID: env.ConversationID,
		}

		switch req := env.Content.(type) {
		case Request:
			route, rerr := a.engine.ComputeRoute(ctx, req)
			if rerr != nil {
				reply.Performative = bus.Failure
				reply.Content = rerr.Error()
			} else {
				reply.Content = route
			}
		case EvacRequest:
			res, rerr := a.engine.FindEvacuationCenter(ctx, a.repo, req)
			if rerr != nil {
				reply.Performative = bus.Failure
				reply.Content = rerr.Error()
			} else {
				reply.Content = res
			}
		default:
			reply.Performative = bus.Failure
			reply.Content = "unsupported request payload"
		}

		if serr := a.b.Send(reply); serr != nil {
			a.engine.log.Warn("routing reply dropped",
				"receiver", env.Sender, "error", serr.Error())
		}
	}
	return nil
}
