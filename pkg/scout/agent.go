package scout

import (
	"context"

	"github.com/masfro/masfro/pkg/bus"
	"github.com/masfro/masfro/pkg/geo"
	"github.com/masfro/masfro/pkg/hazard"
	"github.com/masfro/masfro/pkg/llm"
	"github.com/masfro/masfro/pkg/reporting"
)

// AgentID is the scout agent's bus address.
const AgentID = "scout"

// GeocodeRequest asks for coordinates of a place mention.
type GeocodeRequest struct {
	Location string
}

// GeocodeResult is a resolved place.
type GeocodeResult struct {
	Point   geo.Point
	Matched string
}

// ClassifyRequest asks for a verdict on report text, optionally with an
// image reference.
type ClassifyRequest struct {
	Text     string
	ImageRef string
}

// Agent classifies crowdsourced reports and geocodes place mentions on
// demand over the bus. The model client is consulted first when enabled;
// the keyword rules and gazetteer always back it up.
type Agent struct {
	b   *bus.Bus
	gaz *Gazetteer
	llm llm.Client
	log *reporting.Logger
}

// New registers the scout inbox and returns the agent. A nil model
// client behaves as disabled.
func New(b *bus.Bus, gaz *Gazetteer, model llm.Client, log *reporting.Logger, inboxCapacity int) *Agent {
	if model == nil {
		model = llm.Disabled{}
	}
	if b != nil {
		b.Register(AgentID, inboxCapacity)
	}
	return &Agent{b: b, gaz: gaz, llm: model, log: log.Component("scout")}
}

// ID implements agent.Tickable.
func (a *Agent) ID() string { return AgentID }

// Classify runs the model when enabled and falls back to keyword rules
// on any model error. Image classification, when it succeeds, overrides
// the text verdict if it is more severe.
func (a *Agent) Classify(ctx context.Context, text, imageRef string) hazard.Classification {
	cls := ClassifyText(text)

	if a.llm.Enabled() {
		if modelCls, err := a.llm.ClassifyText(ctx, text); err == nil {
			cls = modelCls
		} else {
			a.log.Debug("model text classification failed, using rules", "error", err.Error())
		}
		if imageRef != "" {
			if imgCls, err := a.llm.ClassifyImage(ctx, imageRef); err == nil {
				if imgCls.Severity*imgCls.Confidence > cls.Severity*cls.Confidence {
					cls = imgCls
				}
			} else {
				a.log.Debug("model image classification failed", "error", err.Error())
			}
		}
	}
	return cls
}

// Geocode resolves a place mention against the gazetteer.
func (a *Agent) Geocode(location string) (GeocodeResult, error) {
	if a.gaz == nil {
		return GeocodeResult{}, ErrUnknownPlace
	}
	p, matched, err := a.gaz.Resolve(location)
	if err != nil {
		return GeocodeResult{}, err
	}
	return GeocodeResult{Point: p, Matched: matched}, nil
}

// Tick drains the inbox and answers geocode and classify requests.
func (a *Agent) Tick(ctx context.Context) error {
	envs, err := a.b.Drain(AgentID)
	if err != nil {
		return err
	}

	for _, env := range envs {
		if env.Performative != bus.Request && env.Performative != bus.Query {
			continue
		}

		reply := bus.Envelope{
			Performative:   bus.Reply,
			Sender:         AgentID,
			Receiver:       env.Sender,
			ConversationID: env.ConversationID,
		}

		switch req := env.Content.(type) {
		case GeocodeRequest:
			res, gerr := a.Geocode(req.Location)
			if gerr != nil {
				reply.Performative = bus.Failure
				reply.Content = gerr.Error()
			} else {
				reply.Content = res
			}
		case ClassifyRequest:
			reply.Content = a.Classify(ctx, req.Text, req.ImageRef)
		default:
			reply.Performative = bus.Failure
			reply.Content = "unsupported request payload"
		}

		if serr := a.b.Send(reply); serr != nil {
			a.log.Warn("scout reply dropped", "receiver", env.Sender, "error", serr.Error())
		}
	}
	return nil
}
