package routing

import (
	"container/heap"
	"context"
	"errors"
	"math"
	"time"

	"github.com/masfro/masfro/pkg/geo"
	"github.com/masfro/masfro/pkg/graph"
)

// ErrDeadline is returned when a search exceeds its request deadline.
var ErrDeadline = errors.New("routing deadline exceeded")

// searchParams fixes the weight function for one A* run.
type searchParams struct {
	riskPenalty float64
	// maxRisk marks edges at or above it impassable; >= 1 disables the
	// threshold entirely.
	maxRisk  float64
	deadline time.Time
}

// openItem is one entry in the A* open set.
type openItem struct {
	node  graph.NodeID
	g     float64
	f     float64
	index int
}

// openSet is a min-heap ordered by f, then g, then node id, which keeps
// path selection deterministic under ties.
type openSet []*openItem

func (h openSet) Len() int { return len(h) }

func (h openSet) Less(i, j int) bool {
	if h[i].f != h[j].f {
		return h[i].f < h[j].f
	}
	if h[i].g != h[j].g {
		return h[i].g < h[j].g
	}
	return h[i].node < h[j].node
}

func (h openSet) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *openSet) Push(x any) {
	item := x.(*openItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *openSet) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// cameFrom records how a node was reached.
type cameFrom struct {
	prev graph.NodeID
	edge graph.Edge
}

// astar runs the search and returns the node sequence plus the edges
// traversed, or graph.ErrUnknownNode / ErrNoPath / ErrDeadline.
//
// The heuristic is plain haversine metres to the goal. Every edge weight
// is >= its length for any riskPenalty >= 0, so the heuristic never
// overestimates and the search stays admissible at all penalty settings.
func (e *Engine) astar(ctx context.Context, start, end graph.NodeID, p searchParams) ([]graph.NodeID, []graph.Edge, error) {
	endNode, err := e.store.GetNode(end)
	if err != nil {
		return nil, nil, err
	}
	if _, err := e.store.GetNode(start); err != nil {
		return nil, nil, err
	}

	if start == end {
		return []graph.NodeID{start}, nil, nil
	}

	gScore := map[graph.NodeID]float64{start: 0}
	from := make(map[graph.NodeID]cameFrom)
	closed := make(map[graph.NodeID]struct{})

	open := &openSet{}
	heap.Init(open)
	startNode, _ := e.store.GetNode(start)
	heap.Push(open, &openItem{
		node: start,
		g:    0,
		f:    geo.Haversine(startNode.Point, endNode.Point),
	})

	for open.Len() > 0 {
		// Deadline and cancellation are checked on every pop; the
		// search is CPU-bound and must not run away under load.
		if !p.deadline.IsZero() && e.clk.Now().After(p.deadline) {
			return nil, nil, ErrDeadline
		}
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}

		current := heap.Pop(open).(*openItem)
		if current.node == end {
			return e.reconstruct(start, end, from)
		}
		if _, done := closed[current.node]; done {
			continue
		}
		closed[current.node] = struct{}{}

		neighbors, err := e.store.NeighborsOut(current.node)
		if err != nil {
			return nil, nil, err
		}

		// Parallel edges collapse to the cheapest passable key so a
		// risky duplicate never bypasses the threshold.
		best := make(map[graph.NodeID]graph.Edge)
		for _, out := range neighbors {
			w := edgeWeight(out.Edge, p)
			if math.IsInf(w, 1) {
				continue
			}
			if prev, ok := best[out.To]; !ok || w < edgeWeight(prev, p) {
				best[out.To] = out.Edge
			}
		}

		for to, edge := range best {
			if _, done := closed[to]; done {
				continue
			}
			tentative := current.g + edgeWeight(edge, p)
			if existing, ok := gScore[to]; ok && tentative >= existing {
				continue
			}
			gScore[to] = tentative
			from[to] = cameFrom{prev: current.node, edge: edge}

			toNode, err := e.store.GetNode(to)
			if err != nil {
				continue
			}
			heap.Push(open, &openItem{
				node: to,
				g:    tentative,
				f:    tentative + geo.Haversine(toNode.Point, endNode.Point),
			})
		}
	}

	return nil, nil, ErrNoPath
}

// edgeWeight is w = L + penalty * L * r, or +Inf past the risk threshold.
func edgeWeight(e graph.Edge, p searchParams) float64 {
	if p.maxRisk < 1 && e.RiskScore >= p.maxRisk {
		return math.Inf(1)
	}
	return e.LengthM + p.riskPenalty*e.LengthM*e.RiskScore
}

// reconstruct walks the came-from chain back to start.
func (e *Engine) reconstruct(start, end graph.NodeID, from map[graph.NodeID]cameFrom) ([]graph.NodeID, []graph.Edge, error) {
	var nodes []graph.NodeID
	var edges []graph.Edge

	cur := end
	for cur != start {
		step, ok := from[cur]
		if !ok {
			return nil, nil, ErrNoPath
		}
		nodes = append(nodes, cur)
		edges = append(edges, step.edge)
		cur = step.prev
	}
	nodes = append(nodes, start)

	// reverse in place
	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}
	for i, j := 0, len(edges)-1; i < j; i, j = i+1, j-1 {
		edges[i], edges[j] = edges[j], edges[i]
	}
	return nodes, edges, nil
}
