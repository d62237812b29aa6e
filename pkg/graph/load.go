package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/masfro/masfro/pkg/geo"
)

// GraphFile is the pre-generated road graph interchange format. Produced
// offline from OSM extracts; the engine only consumes it.
type GraphFile struct {
	Nodes []NodeSpec `json:"nodes"`
	Edges []EdgeSpec `json:"edges"`
}

// NodeSpec is one node row in the graph file.
type NodeSpec struct {
	ID          int64   `json:"id"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	StreetCount int     `json:"street_count"`
}

// EdgeSpec is one edge row in the graph file.
type EdgeSpec struct {
	U       int64   `json:"u"`
	V       int64   `json:"v"`
	K       int     `json:"k"`
	LengthM float64 `json:"length"`
	Highway string  `json:"highway"`
}

// Load builds the graph from a pre-generated graph file. A failed load
// leaves the store empty; routing queries keep returning ErrUnavailable.
func (s *Store) Load(path string, bbox geo.BoundingBox, now time.Time) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read graph file: %w", err)
	}

	var gf GraphFile
	if err := json.Unmarshal(data, &gf); err != nil {
		return fmt.Errorf("parse graph file: %w", err)
	}

	return s.LoadData(&gf, bbox, now)
}

// LoadData builds the graph from parsed node and edge rows. It replaces
// any previously loaded graph atomically: readers see the old graph until
// the swap completes.
func (s *Store) LoadData(gf *GraphFile, bbox geo.BoundingBox, now time.Time) error {
	if len(gf.Nodes) == 0 {
		return fmt.Errorf("graph file has no nodes")
	}

	index := make(map[NodeID]int32, len(gf.Nodes))
	nodes := make([]Node, 0, len(gf.Nodes))
	outOfBox := 0

	for _, ns := range gf.Nodes {
		id := NodeID(ns.ID)
		if _, dup := index[id]; dup {
			return fmt.Errorf("duplicate node id %d", ns.ID)
		}
		p := geo.Point{Lat: ns.Lat, Lon: ns.Lon}
		if !p.Valid() {
			return fmt.Errorf("node %d has invalid coordinates %s", ns.ID, p)
		}
		if !bbox.Contains(p) {
			outOfBox++
		}
		index[id] = int32(len(nodes))
		nodes = append(nodes, Node{ID: id, Point: p, StreetCount: ns.StreetCount})
	}

	if outOfBox > 0 {
		s.log.Warn("nodes outside declared bounding box", "count", outOfBox)
	}

	edges := make([]edgeRec, 0, len(gf.Edges))
	byKey := make(map[EdgeKey]int32, len(gf.Edges))
	out := make([][]int32, len(nodes))

	for _, es := range gf.Edges {
		key := EdgeKey{U: NodeID(es.U), V: NodeID(es.V), K: es.K}
		ui, ok := index[key.U]
		if !ok {
			return fmt.Errorf("edge %s references unknown node %d", key, es.U)
		}
		vi, ok := index[key.V]
		if !ok {
			return fmt.Errorf("edge %s references unknown node %d", key, es.V)
		}
		if _, dup := byKey[key]; dup {
			return fmt.Errorf("duplicate edge key %s", key)
		}
		if es.LengthM <= 0 {
			return fmt.Errorf("edge %s has non-positive length %.2f", key, es.LengthM)
		}

		speed, ok := baseSpeedKmh[es.Highway]
		if !ok {
			speed = fallbackSpeedKmh
		}

		ei := int32(len(edges))
		edges = append(edges, edgeRec{
			key:          key,
			toIdx:        vi,
			lengthM:      es.LengthM,
			highway:      es.Highway,
			baseSpeedKmh: speed,
			weight:       es.LengthM, // risk 0 at load
			lastUpdated:  now,
		})
		byKey[key] = ei
		out[ui] = append(out[ui], ei)
	}

	// Stable neighbor order keeps route tie-breaking deterministic.
	for i := range out {
		sort.Slice(out[i], func(a, b int) bool {
			ka, kb := edges[out[i][a]].key, edges[out[i][b]].key
			if ka.V != kb.V {
				return ka.V < kb.V
			}
			return ka.K < kb.K
		})
	}

	s.mu.Lock()
	s.index = index
	s.nodes = nodes
	s.edges = edges
	s.byKey = byKey
	s.out = out
	s.loaded = true
	s.mu.Unlock()

	s.log.Info("road graph loaded", "nodes", len(nodes), "edges", len(edges))
	return nil
}

// LoadWaterways reads the waterway line geometries used for the
// proximity prior. A missing file yields an empty set, not an error;
// the engine degrades to zero structural prior.
func LoadWaterways(path string) ([]Waterway, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read waterways file: %w", err)
	}

	var ws []Waterway
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("parse waterways file: %w", err)
	}

	out := ws[:0]
	for _, w := range ws {
		if len(w.Points) >= 2 {
			out = append(out, w)
		}
	}
	return out, nil
}
