// Package bus provides the in-process message bus: named, bounded FIFO
// queues with typed envelopes. The bus is internal to the process; no
// durability and no redelivery.
package bus

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/masfro/masfro/pkg/clock"
)

var (
	// ErrQueueNotFound is returned when the receiver is not registered.
	ErrQueueNotFound = errors.New("queue not found")
	// ErrQueueFull is returned when the receiver's queue is at capacity.
	// Callers decide whether to drop, retry or escalate.
	ErrQueueFull = errors.New("queue full")
)

// Performative classifies an envelope's intent.
type Performative string

const (
	Request Performative = "REQUEST"
	Inform  Performative = "INFORM"
	Query   Performative = "QUERY"
	Reply   Performative = "REPLY"
	Failure Performative = "FAILURE"
	Cancel  Performative = "CANCEL"
)

// Broadcast is the reserved receiver id addressing every queue.
const BroadcastID = "broadcast"

// Envelope is one bus message. Replies must echo ConversationID.
type Envelope struct {
	Performative   Performative
	Sender         string
	Receiver       string
	ConversationID string
	Content        any
	Timestamp      time.Time
}

// NewConversationID mints a conversation id for a request chain.
func NewConversationID() string {
	return uuid.NewString()
}

// DefaultCapacity bounds a queue when Register is called without one.
const DefaultCapacity = 1024

// Bus routes envelopes between registered agents.
type Bus struct {
	mu     sync.RWMutex
	queues map[string]chan Envelope
	clock  clock.Clock
}

// New creates an empty bus.
func New(clk clock.Clock) *Bus {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Bus{
		queues: make(map[string]chan Envelope),
		clock:  clk,
	}
}

// Register creates the named queue. Re-registering an agent replaces its
// queue and discards anything pending.
func (b *Bus) Register(agentID string, capacity int) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[agentID] = make(chan Envelope, capacity)
}

// Send delivers the envelope to its receiver's queue. At-most-once: a
// full queue rejects the send with ErrQueueFull.
func (b *Bus) Send(env Envelope) error {
	if env.Timestamp.IsZero() {
		env.Timestamp = b.clock.Now()
	}

	b.mu.RLock()
	q, ok := b.queues[env.Receiver]
	b.mu.RUnlock()
	if !ok {
		return ErrQueueNotFound
	}

	select {
	case q <- env:
		return nil
	default:
		return ErrQueueFull
	}
}

// Recv takes the next envelope for agentID. Non-blocking by default;
// with blocking=true it waits up to timeout (forever when timeout <= 0).
// Returns nil when nothing arrived.
func (b *Bus) Recv(agentID string, blocking bool, timeout time.Duration) (*Envelope, error) {
	b.mu.RLock()
	q, ok := b.queues[agentID]
	b.mu.RUnlock()
	if !ok {
		return nil, ErrQueueNotFound
	}

	if !blocking {
		select {
		case env := <-q:
			return &env, nil
		default:
			return nil, nil
		}
	}

	if timeout <= 0 {
		env := <-q
		return &env, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case env := <-q:
		return &env, nil
	case <-timer.C:
		return nil, nil
	}
}

// Drain takes every currently queued envelope for agentID without
// blocking.
func (b *Bus) Drain(agentID string) ([]Envelope, error) {
	b.mu.RLock()
	q, ok := b.queues[agentID]
	b.mu.RUnlock()
	if !ok {
		return nil, ErrQueueNotFound
	}

	var out []Envelope
	for {
		select {
		case env := <-q:
			out = append(out, env)
		default:
			return out, nil
		}
	}
}

// Broadcast sends a copy of the envelope to every registered queue,
// optionally excluding the sender. Full queues are skipped; the count of
// successful deliveries is returned.
func (b *Bus) Broadcast(env Envelope, excludeSender bool) int {
	if env.Timestamp.IsZero() {
		env.Timestamp = b.clock.Now()
	}
	env.Receiver = BroadcastID

	b.mu.RLock()
	targets := make(map[string]chan Envelope, len(b.queues))
	for id, q := range b.queues {
		if excludeSender && id == env.Sender {
			continue
		}
		targets[id] = q
	}
	b.mu.RUnlock()

	delivered := 0
	for _, q := range targets {
		select {
		case q <- env:
			delivered++
		default:
		}
	}
	return delivered
}

// QueueSize returns the number of pending envelopes for agentID.
func (b *Bus) QueueSize(agentID string) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.queues[agentID]
	if !ok {
		return 0, ErrQueueNotFound
	}
	return len(q), nil
}

// Clear discards everything pending for agentID.
func (b *Bus) Clear(agentID string) error {
	_, err := b.Drain(agentID)
	return err
}
