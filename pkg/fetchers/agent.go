package fetchers

import (
	"context"
	"sync"
	"time"

	"github.com/masfro/masfro/pkg/bus"
	"github.com/masfro/masfro/pkg/clock"
	"github.com/masfro/masfro/pkg/fusion"
	"github.com/masfro/masfro/pkg/reporting"
	"github.com/masfro/masfro/pkg/repository"
)

// AgentID is the collection agent's bus address.
const AgentID = "flood"

// CollectRequest asks for an immediate collection pass.
type CollectRequest struct{}

// CollectSummary describes one collection pass.
type CollectSummary struct {
	CollectionID string        `json:"collection_id"`
	Sources      int           `json:"sources"`
	Failed       int           `json:"failed"`
	Observations int           `json:"observations"`
	Duration     time.Duration `json:"duration"`
}

// source pairs a fetcher with its circuit breaker.
type source struct {
	fetcher Fetcher
	breaker *Breaker
}

// SourceSet is an opaque snapshot of an agent's registered sources. The
// simulation manager holds one across a run so the live network fetchers
// survive the scripted swap.
type SourceSet struct {
	sources []source
}

// Agent runs the collection cycle: pull every registered source, forward
// observations to the fusion inbox and record the run in history.
type Agent struct {
	b       *bus.Bus
	history repository.FloodData
	clk     clock.Clock
	log     *reporting.Logger
	metrics *reporting.Metrics
	backoff []time.Duration

	// mu guards sources; a Collect already in flight keeps iterating its
	// own snapshot while the set is replaced.
	mu      sync.Mutex
	sources []source
}

// AgentConfig wires the collection agent.
type AgentConfig struct {
	Bus           *bus.Bus
	History       repository.FloodData
	Clock         clock.Clock
	Logger        *reporting.Logger
	Metrics       *reporting.Metrics
	InboxCapacity int

	// Backoff overrides the retry schedule. Tests shorten it.
	Backoff []time.Duration
	// BreakerThreshold and BreakerCooldown apply to every source.
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// NewAgent registers the collection inbox and returns the agent with no
// sources; add them with AddSource.
func NewAgent(cfg AgentConfig) *Agent {
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
		b:       cfg.Bus,
		history: cfg.History,
		clk:     cfg.Clock,
		log:     cfg.Logger.Component("fetchers"),
		metrics: cfg.Metrics,
		backoff: cfg.Backoff,
	}
}

// AddSource registers a fetcher behind a fresh breaker.
func (a *Agent) AddSource(f Fetcher, breakerThreshold int, breakerCooldown time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addLocked(f, breakerThreshold, breakerCooldown)
}

func (a *Agent) addLocked(f Fetcher, breakerThreshold int, breakerCooldown time.Duration) {
	a.sources = append(a.sources, source{
		fetcher: f,
		breaker: NewBreaker(breakerThreshold, breakerCooldown, a.clk),
	})
}

// SetSources replaces every registered source.
func (a *Agent) SetSources(fs []Fetcher, breakerThreshold int, breakerCooldown time.Duration) {
	a.SwapSources(fs, breakerThreshold, breakerCooldown)
}

// SwapSources installs fs behind fresh breakers and returns the previous
// set. Simulation uses this to swap the network fetchers for scripted
// ones and restore them with RestoreSources when the run ends.
func (a *Agent) SwapSources(fs []Fetcher, breakerThreshold int, breakerCooldown time.Duration) SourceSet {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.sources
	a.sources = nil
	for _, f := range fs {
		a.addLocked(f, breakerThreshold, breakerCooldown)
	}
	return SourceSet{sources: prev}
}

// RestoreSources reinstates a previously swapped set, breakers included.
func (a *Agent) RestoreSources(s SourceSet) {
	a.mu.Lock()
	a.sources = s.sources
	a.mu.Unlock()
}

// ID implements agent.Tickable.
func (a *Agent) ID() string { return AgentID }

// Tick answers pending collect requests, then runs the regular pass.
func (a *Agent) Tick(ctx context.Context) error {
	requested := false
	if a.b != nil {
		envs, err := a.b.Drain(AgentID)
		if err != nil {
			return err
		}
		for _, env := range envs {
			if env.Performative != bus.Request {
				continue
			}
			if _, ok := env.Content.(CollectRequest); !ok {
				continue
			}
			requested = true
			summary := a.Collect(ctx)
			reply := bus.Envelope{
				Performative:   bus.Reply,
				Sender:         AgentID,
				Receiver:       env.Sender,
				ConversationID: env.ConversationID,
				Content:        summary,
			}
			if serr := a.b.Send(reply); serr != nil {
				a.log.Warn("collect reply dropped", "receiver", env.Sender, "error", serr.Error())
			}
		}
	}

	if !requested {
		a.Collect(ctx)
	}
	return nil
}

// Collect pulls every source once. Failing sources are skipped; a pass
// with zero successful sources still records an empty collection so
// outages leave a trace in history.
func (a *Agent) Collect(ctx context.Context) CollectSummary {
	started := a.clk.Now()
	collection := repository.Collection{
		StartedAt: started,
		Source:    "scheduled",
	}

	a.mu.Lock()
	sources := a.sources
	a.mu.Unlock()

	summary := CollectSummary{Sources: len(sources)}
	for _, src := range sources {
		if !src.breaker.Allow() {
			summary.Failed++
			a.log.Debug("source skipped, breaker open", "source", src.fetcher.Name())
			continue
		}

		batch, err := withRetry(ctx, a.backoff, src.fetcher.Fetch)
		if err != nil {
			src.breaker.Failure()
			summary.Failed++
			a.log.Warn("source fetch failed", "source", src.fetcher.Name(), "error", err.Error())
			continue
		}
		src.breaker.Success()

		collection.RiverLevels = append(collection.RiverLevels, batch.RiverLevels...)
		collection.Weather = append(collection.Weather, batch.Weather...)

		for _, obs := range batch.Observations {
			env := bus.Envelope{
				Performative: bus.Inform,
				Sender:       AgentID,
				Receiver:     fusion.AgentID,
				Content:      obs,
			}
			if serr := a.b.Send(env); serr != nil {
				if a.metrics != nil {
					a.metrics.BusDropped.WithLabelValues(serr.Error()).Inc()
				}
				a.log.Warn("observation dropped", "source", src.fetcher.Name(), "error", serr.Error())
				continue
			}
			summary.Observations++
		}
	}

	collection.FinishedAt = a.clk.Now()
	summary.Duration = collection.FinishedAt.Sub(started)

	if a.history != nil {
		id, err := a.history.SaveCollection(collection)
		if err != nil {
			a.log.Error("collection save failed", "error", err.Error())
		} else {
			summary.CollectionID = id
		}
	}

	a.log.Debug("collection pass done",
		"sources", summary.Sources,
		"failed", summary.Failed,
		"observations", summary.Observations)
	return summary
}
