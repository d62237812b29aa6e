package graph

import (
	"errors"
	"math"

	"github.com/masfro/masfro/pkg/geo"
)

// ErrEmptyIndex is returned by queries against an index with no nodes.
var ErrEmptyIndex = errors.New("spatial index is empty")

// Waterway is one line geometry of a river, stream, canal or ditch.
type Waterway struct {
	Name   string      `json:"name"`
	Type   string      `json:"type"`
	Points []geo.Point `json:"points"`
}

// waterwayTypeWeight scales the proximity prior per waterway type.
var waterwayTypeWeight = map[string]float64{
	"river":         1.0,
	"tidal_channel": 1.0,
	"stream":        0.7,
	"canal":         0.4,
	"drain":         0.4,
	"ditch":         0.3,
}

// SpatialIndex answers nearest-node, edges-near-point and waterway
// proximity queries over a loaded graph. It is built once per load and
// read-only afterwards; if the node set changes it must be rebuilt.
type SpatialIndex struct {
	nodeCells map[geo.Cell][]NodeID
	edgeCells map[geo.Cell][]EdgeKey
	midpoints map[EdgeKey]geo.Point
	positions map[NodeID]geo.Point
	riverRisk map[NodeID]float64
	empty     bool
}

// BuildSpatialIndex indexes the store's current nodes and edges, and
// precomputes the per-node waterway proximity prior
// river_risk = type_weight * exp(-distance / decayM).
func BuildSpatialIndex(s *Store, waterways []Waterway, decayM float64) *SpatialIndex {
	if decayM <= 0 {
		decayM = 200
	}

	idx := &SpatialIndex{
		nodeCells: make(map[geo.Cell][]NodeID),
		edgeCells: make(map[geo.Cell][]EdgeKey),
		midpoints: make(map[EdgeKey]geo.Point),
		positions: make(map[NodeID]geo.Point),
		riverRisk: make(map[NodeID]float64),
	}

	nodes := s.Nodes()
	idx.empty = len(nodes) == 0
	for _, n := range nodes {
		cell := geo.CellOf(n.Point)
		idx.nodeCells[cell] = append(idx.nodeCells[cell], n.ID)
		idx.positions[n.ID] = n.Point
	}

	edges, err := s.SnapshotEdges(nil)
	if err == nil {
		for _, e := range edges {
			u, okU := idx.positions[e.Key.U]
			v, okV := idx.positions[e.Key.V]
			if !okU || !okV {
				continue
			}
			mid := geo.Midpoint(u, v)
			idx.midpoints[e.Key] = mid
			cell := geo.CellOf(mid)
			idx.edgeCells[cell] = append(idx.edgeCells[cell], e.Key)
		}
	}

	for _, n := range nodes {
		idx.riverRisk[n.ID] = waterwayPrior(n.Point, waterways, decayM)
	}

	return idx
}

// waterwayPrior computes the decayed proximity prior for one point.
func waterwayPrior(p geo.Point, waterways []Waterway, decayM float64) float64 {
	best := 0.0
	for _, w := range waterways {
		weight, ok := waterwayTypeWeight[w.Type]
		if !ok {
			weight = 0.3
		}
		for i := 0; i+1 < len(w.Points); i++ {
			d := geo.PointToSegmentM(p, w.Points[i], w.Points[i+1])
			r := weight * math.Exp(-d/decayM)
			if r > best {
				best = r
			}
		}
	}
	return geo.Clamp01(best)
}

// NearestNode returns the exact nearest node to p and its distance in
// metres. Ring expansion over the grid; once a candidate is found the
// scan continues far enough out that no closer node can be missed.
func (idx *SpatialIndex) NearestNode(p geo.Point) (NodeID, float64, error) {
	if idx.empty {
		return 0, 0, ErrEmptyIndex
	}

	center := geo.CellOf(p)
	var bestID NodeID
	bestDist := math.Inf(1)
	found := false

	// maxRing bounds the scan for points far outside the graph area.
	const maxRing = 512

	for ring := 0; ring <= maxRing; ring++ {
		// Once a candidate exists, stop after scanning every ring that
		// could still hold a closer node.
		if found {
			safeRings := geo.RadiusToCells(bestDist)
			if ring > safeRings {
				break
			}
		}

		for _, cell := range ringCells(center, ring) {
			for _, id := range idx.nodeCells[cell] {
				d := geo.Haversine(p, idx.positions[id])
				if d < bestDist || (d == bestDist && id < bestID) {
					bestDist = d
					bestID = id
					found = true
				}
			}
		}
	}

	if !found {
		return 0, 0, ErrEmptyIndex
	}
	return bestID, bestDist, nil
}

// EdgesNear returns the keys of all edges whose midpoint lies within
// radiusM of p.
func (idx *SpatialIndex) EdgesNear(p geo.Point, radiusM float64) []EdgeKey {
	center := geo.CellOf(p)
	reach := geo.RadiusToCells(radiusM)

	var res []EdgeKey
	for dr := -reach; dr <= reach; dr++ {
		for dc := -reach; dc <= reach; dc++ {
			cell := geo.Cell{Row: center.Row + dr, Col: center.Col + dc}
			for _, key := range idx.edgeCells[cell] {
				if geo.Haversine(p, idx.midpoints[key]) <= radiusM {
					res = append(res, key)
				}
			}
		}
	}
	return res
}

// Midpoint returns the cached midpoint of an edge.
func (idx *SpatialIndex) Midpoint(key EdgeKey) (geo.Point, bool) {
	p, ok := idx.midpoints[key]
	return p, ok
}

// RiverRisk returns the precomputed waterway proximity prior for a node.
func (idx *SpatialIndex) RiverRisk(id NodeID) float64 {
	return idx.riverRisk[id]
}

// ringCells enumerates the cells at Chebyshev distance ring from center.
func ringCells(center geo.Cell, ring int) []geo.Cell {
	if ring == 0 {
		return []geo.Cell{center}
	}
	cells := make([]geo.Cell, 0, 8*ring)
	for dc := -ring; dc <= ring; dc++ {
		cells = append(cells,
			geo.Cell{Row: center.Row - ring, Col: center.Col + dc},
			geo.Cell{Row: center.Row + ring, Col: center.Col + dc})
	}
	for dr := -ring + 1; dr <= ring-1; dr++ {
		cells = append(cells,
			geo.Cell{Row: center.Row + dr, Col: center.Col - ring},
			geo.Cell{Row: center.Row + dr, Col: center.Col + ring})
	}
	return cells
}
