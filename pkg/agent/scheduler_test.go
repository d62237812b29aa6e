package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgent struct {
	id      string
	ticks   atomic.Int64
	fail    atomic.Bool
	healthy atomic.Bool
}

func (f *fakeAgent) ID() string { return f.id }

func (f *fakeAgent) Tick(ctx context.Context) error {
	f.ticks.Add(1)
	if f.fail.Load() {
		return errors.New("tick boom")
	}
	return nil
}

type checkedAgent struct {
	fakeAgent
}

func (c *checkedAgent) Healthy() bool { return c.healthy.Load() }

func TestTickAllRunsEveryAgent(t *testing.T) {
	s := NewScheduler(Config{})
	a := &fakeAgent{id: "flood"}
	b := &fakeAgent{id: "router"}
	s.Register(a, 10)
	s.Register(b, 40)

	s.TickAll(context.Background())
	s.TickAll(context.Background())

	assert.Equal(t, int64(2), a.ticks.Load())
	assert.Equal(t, int64(2), b.ticks.Load())

	statuses := s.StatusAll()
	require.Len(t, statuses, 2)
	assert.Equal(t, "flood", statuses[0].ID)
	assert.Equal(t, uint64(2), statuses[0].TicksTotal)
	assert.Zero(t, statuses[0].TickErrors)
}

func TestStatusOrderedByPriority(t *testing.T) {
	s := NewScheduler(Config{})
	s.Register(&fakeAgent{id: "orchestrator"}, 50)
	s.Register(&fakeAgent{id: "flood"}, 10)
	s.Register(&fakeAgent{id: "hazard"}, 20)

	ids := make([]string, 0, 3)
	for _, st := range s.StatusAll() {
		ids = append(ids, st.ID)
	}
	assert.Equal(t, []string{"flood", "hazard", "orchestrator"}, ids)
}

func TestIsolationAfterConsecutiveErrors(t *testing.T) {
	s := NewScheduler(Config{IsolateAfter: 3})
	a := &fakeAgent{id: "scout"}
	a.fail.Store(true)
	s.Register(a, 30)

	for i := 0; i < 3; i++ {
		s.TickAll(context.Background())
	}

	st := s.StatusAll()[0]
	assert.True(t, st.Isolated)
	assert.Equal(t, uint64(3), st.TickErrors)
	assert.Equal(t, "tick boom", st.LastError)

	// Isolated agents without a health check skip one cadence, then tick
	// again on the next.
	s.TickAll(context.Background())
	assert.Equal(t, int64(4), a.ticks.Load())

	st = s.StatusAll()[0]
	assert.False(t, st.Isolated)
}

func TestIsolationWaitsForHealthCheck(t *testing.T) {
	s := NewScheduler(Config{IsolateAfter: 2})
	a := &checkedAgent{fakeAgent: fakeAgent{id: "flood"}}
	a.fail.Store(true)
	s.Register(a, 10)

	s.TickAll(context.Background())
	s.TickAll(context.Background())
	require.True(t, s.StatusAll()[0].Isolated)

	// Still unhealthy: no ticks while isolated.
	s.TickAll(context.Background())
	s.TickAll(context.Background())
	assert.Equal(t, int64(2), a.ticks.Load())

	// Recovery re-admits on the next sweep.
	a.fail.Store(false)
	a.healthy.Store(true)
	s.TickAll(context.Background())
	assert.Equal(t, int64(3), a.ticks.Load())
	assert.False(t, s.StatusAll()[0].Isolated)
}

func TestErrorCounterResetsOnSuccess(t *testing.T) {
	s := NewScheduler(Config{IsolateAfter: 3})
	a := &fakeAgent{id: "router"}
	s.Register(a, 40)

	a.fail.Store(true)
	s.TickAll(context.Background())
	s.TickAll(context.Background())

	a.fail.Store(false)
	s.TickAll(context.Background())

	st := s.StatusAll()[0]
	assert.False(t, st.Isolated)
	assert.Zero(t, st.ConsecutiveErr)
	assert.Empty(t, st.LastError)
	assert.Equal(t, uint64(2), st.TickErrors)
}
