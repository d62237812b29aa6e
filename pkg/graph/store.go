// Package graph holds the directed road multigraph and its spatial
// indexes. The Store is the single owner of all node and edge records:
// every other component holds keys and reads through snapshots.
package graph

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/masfro/masfro/pkg/geo"
	"github.com/masfro/masfro/pkg/reporting"
)

var (
	// ErrUnavailable is returned while no graph is loaded.
	ErrUnavailable = errors.New("road graph not loaded")
	// ErrUnknownNode is returned for node ids absent from the graph.
	ErrUnknownNode = errors.New("unknown node")
	// ErrUnknownEdge is returned for edge keys absent from the graph.
	ErrUnknownEdge = errors.New("unknown edge")
)

// NodeID is the opaque identity of a graph node.
type NodeID int64

// EdgeKey identifies one directed segment among parallel segments
// between the same endpoints.
type EdgeKey struct {
	U NodeID `json:"u"`
	V NodeID `json:"v"`
	K int    `json:"k"`
}

func (k EdgeKey) String() string {
	return fmt.Sprintf("%d->%d#%d", k.U, k.V, k.K)
}

// Node is an immutable road junction.
type Node struct {
	ID          NodeID    `json:"id"`
	Point       geo.Point `json:"point"`
	StreetCount int       `json:"street_count"`
}

// Edge is a snapshot of one directed segment. LengthM, Highway and
// BaseSpeedKmh are immutable after load; RiskScore, Weight and
// LastUpdated change together under the store's write lock, so a
// snapshot is always internally consistent.
type Edge struct {
	Key          EdgeKey   `json:"key"`
	LengthM      float64   `json:"length_m"`
	Highway      string    `json:"highway"`
	BaseSpeedKmh float64   `json:"base_speed_kmh"`
	RiskScore    float64   `json:"risk_score"`
	Weight       float64   `json:"weight"`
	LastUpdated  time.Time `json:"last_updated"`
}

// Midpoint returns the segment midpoint given its endpoints' positions.
func (s *Store) EdgeMidpoint(k EdgeKey) (geo.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ui, ok := s.index[k.U]
	if !ok {
		return geo.Point{}, fmt.Errorf("%w: %d", ErrUnknownNode, k.U)
	}
	vi, ok := s.index[k.V]
	if !ok {
		return geo.Point{}, fmt.Errorf("%w: %d", ErrUnknownNode, k.V)
	}
	return geo.Midpoint(s.nodes[ui].Point, s.nodes[vi].Point), nil
}

// OutEdge pairs a neighbor with the connecting edge snapshot.
type OutEdge struct {
	To   NodeID
	Key  int
	Edge Edge
}

// Listener receives the set of edge keys changed by one batch.
type Listener func(changed []EdgeKey)

// baseSpeedKmh imputes speed from highway class at load time.
var baseSpeedKmh = map[string]float64{
	"motorway":     80,
	"trunk":        70,
	"primary":      50,
	"secondary":    40,
	"tertiary":     30,
	"residential":  25,
	"unclassified": 20,
	"service":      15,
}

const fallbackSpeedKmh = 20

// Store is the in-memory directed multigraph. Mutation goes through
// UpdateEdgeRisk and BatchUpdateRisks only, serialized by the write lock;
// readers copy what they need under the read lock.
type Store struct {
	mu sync.RWMutex

	loaded  bool
	penalty float64 // factor folded into the derived Weight attribute

	// dense storage, node-id -> index map built at load
	index map[NodeID]int32
	nodes []Node
	edges []edgeRec
	// adjacency: out[i] lists edge indexes leaving nodes[i]
	out [][]int32
	// edge-key -> edge index for point updates
	byKey map[EdgeKey]int32

	listeners []Listener
	log       *reporting.Logger
}

// edgeRec is the mutable in-place edge record.
type edgeRec struct {
	key          EdgeKey
	toIdx        int32
	lengthM      float64
	highway      string
	baseSpeedKmh float64
	riskScore    float64
	weight       float64
	lastUpdated  time.Time
}

func (r *edgeRec) snapshot() Edge {
	return Edge{
		Key:          r.key,
		LengthM:      r.lengthM,
		Highway:      r.highway,
		BaseSpeedKmh: r.baseSpeedKmh,
		RiskScore:    r.riskScore,
		Weight:       r.weight,
		LastUpdated:  r.lastUpdated,
	}
}

// NewStore creates an empty store. penalty is the factor used for the
// derived weight attribute (weight = length * (1 + risk * penalty)).
func NewStore(penalty float64, log *reporting.Logger) *Store {
	if log == nil {
		log = reporting.NewNopLogger()
	}
	return &Store{
		penalty: penalty,
		index:   make(map[NodeID]int32),
		byKey:   make(map[EdgeKey]int32),
		log:     log.Component("graph"),
	}
}

// Loaded reports whether a graph is available for queries.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// NodeCount returns the number of nodes.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// EdgeCount returns the number of directed edges.
func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

// GetNode returns a node snapshot.
func (s *Store) GetNode(id NodeID) (Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return Node{}, ErrUnavailable
	}
	i, ok := s.index[id]
	if !ok {
		return Node{}, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	return s.nodes[i], nil
}

// GetEdge returns an edge snapshot.
func (s *Store) GetEdge(key EdgeKey) (Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return Edge{}, ErrUnavailable
	}
	i, ok := s.byKey[key]
	if !ok {
		return Edge{}, fmt.Errorf("%w: %s", ErrUnknownEdge, key)
	}
	return s.edges[i].snapshot(), nil
}

// NeighborsOut returns snapshots of all edges leaving u.
func (s *Store) NeighborsOut(u NodeID) ([]OutEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return nil, ErrUnavailable
	}
	ui, ok := s.index[u]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNode, u)
	}
	res := make([]OutEdge, 0, len(s.out[ui]))
	for _, ei := range s.out[ui] {
		rec := &s.edges[ei]
		res = append(res, OutEdge{To: rec.key.V, Key: rec.key.K, Edge: rec.snapshot()})
	}
	return res, nil
}

// UpdateEdgeRisk clamps risk, recomputes weight and stamps the edge in a
// single atomic write, then notifies listeners.
func (s *Store) UpdateEdgeRisk(key EdgeKey, risk float64, now time.Time) error {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return ErrUnavailable
	}
	i, ok := s.byKey[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownEdge, key)
	}
	s.applyRisk(i, risk, now)
	s.mu.Unlock()

	s.notify([]EdgeKey{key})
	return nil
}

// BatchUpdateRisks applies every update in one critical section and emits
// a single change notification afterwards. Unknown keys are skipped and
// reported; known keys are still applied, so a bad key never blocks the
// rest of a fusion batch.
func (s *Store) BatchUpdateRisks(updates map[EdgeKey]float64, now time.Time) (applied []EdgeKey, err error) {
	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return nil, ErrUnavailable
	}

	applied = make([]EdgeKey, 0, len(updates))
	unknown := 0
	for key, risk := range updates {
		i, ok := s.byKey[key]
		if !ok {
			unknown++
			continue
		}
		s.applyRisk(i, risk, now)
		applied = append(applied, key)
	}
	s.mu.Unlock()

	if len(applied) > 0 {
		s.notify(applied)
	}
	if unknown > 0 {
		return applied, fmt.Errorf("%w: %d of %d keys skipped", ErrUnknownEdge, unknown, len(updates))
	}
	return applied, nil
}

// applyRisk writes one edge. Caller holds the write lock.
func (s *Store) applyRisk(i int32, risk float64, now time.Time) {
	rec := &s.edges[i]
	rec.riskScore = geo.Clamp01(risk)
	rec.weight = rec.lengthM * (1 + rec.riskScore*s.penalty)
	rec.lastUpdated = now
}

// EdgeFilter selects edges for SnapshotEdges. A nil filter takes all.
type EdgeFilter func(Edge) bool

// SnapshotEdges returns an immutable copy of every edge passing the
// filter. Routing uses this to iterate without holding the lock.
func (s *Store) SnapshotEdges(filter EdgeFilter) ([]Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.loaded {
		return nil, ErrUnavailable
	}
	res := make([]Edge, 0, len(s.edges))
	for i := range s.edges {
		e := s.edges[i].snapshot()
		if filter == nil || filter(e) {
			res = append(res, e)
		}
	}
	return res, nil
}

// Nodes returns a copy of all nodes.
func (s *Store) Nodes() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]Node, len(s.nodes))
	copy(res, s.nodes)
	return res
}

// Subscribe registers a listener invoked after each batch with the set of
// changed keys. Listeners run outside the store lock.
func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Store) notify(changed []EdgeKey) {
	s.mu.RLock()
	ls := make([]Listener, len(s.listeners))
	copy(ls, s.listeners)
	s.mu.RUnlock()
	for _, l := range ls {
		l(changed)
	}
}

// ResetRisks zeroes every edge risk in one critical section. Used by the
// simulation manager's reset.
func (s *Store) ResetRisks(now time.Time) int {
	s.mu.Lock()
	changed := make([]EdgeKey, 0)
	for i := range s.edges {
		if s.edges[i].riskScore != 0 {
			s.applyRisk(int32(i), 0, now)
			changed = append(changed, s.edges[i].key)
		}
	}
	s.mu.Unlock()

	if len(changed) > 0 {
		s.notify(changed)
	}
	return len(changed)
}

// RiskyEdgeCount returns the number of edges with non-zero risk.
func (s *Store) RiskyEdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for i := range s.edges {
		if s.edges[i].riskScore > 0 {
			n++
		}
	}
	return n
}
