package scout

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/masfro/masfro/pkg/geo"
)

// ErrUnknownPlace is returned when no gazetteer entry matches.
var ErrUnknownPlace = errors.New("unknown place")

// GazetteerEntry is one named place with optional aliases.
type GazetteerEntry struct {
	Name    string   `yaml:"name"`
	Lat     float64  `yaml:"lat"`
	Lon     float64  `yaml:"lon"`
	Aliases []string `yaml:"aliases"`
}

// Gazetteer resolves place mentions to coordinates by exact then
// substring matching against a fixed entry set.
type Gazetteer struct {
	entries []GazetteerEntry
	byName  map[string]int
}

// NewGazetteer builds the lookup tables from entries. Later duplicates of
// a name or alias are ignored.
func NewGazetteer(entries []GazetteerEntry) *Gazetteer {
	g := &Gazetteer{
		entries: entries,
		byName:  make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		key := normalizePlace(e.Name)
		if _, ok := g.byName[key]; !ok && key != "" {
			g.byName[key] = i
		}
		for _, alias := range e.Aliases {
			key := normalizePlace(alias)
			if _, ok := g.byName[key]; !ok && key != "" {
				g.byName[key] = i
			}
		}
	}
	return g
}

// LoadGazetteer reads a YAML file of gazetteer entries.
func LoadGazetteer(path string) (*Gazetteer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gazetteer: %w", err)
	}

	var file struct {
		Places []GazetteerEntry `yaml:"places"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse gazetteer: %w", err)
	}
	if len(file.Places) == 0 {
		return nil, fmt.Errorf("gazetteer %s has no places", path)
	}
	return NewGazetteer(file.Places), nil
}

// Resolve geocodes a location string. An exact name or alias match wins;
// otherwise the longest entry whose name appears inside the text is used,
// which handles mentions like "flooding near marcos highway bridge".
func (g *Gazetteer) Resolve(location string) (geo.Point, string, error) {
	key := normalizePlace(location)
	if key == "" {
		return geo.Point{}, "", ErrUnknownPlace
	}

	if i, ok := g.byName[key]; ok {
		e := g.entries[i]
		return geo.Point{Lat: e.Lat, Lon: e.Lon}, e.Name, nil
	}

	best := -1
	bestLen := 0
	for name, i := range g.byName {
		if len(name) > bestLen && strings.Contains(key, name) {
			best = i
			bestLen = len(name)
		}
	}
	if best >= 0 {
		e := g.entries[best]
		return geo.Point{Lat: e.Lat, Lon: e.Lon}, e.Name, nil
	}
	return geo.Point{}, "", ErrUnknownPlace
}

// Len reports the number of entries.
func (g *Gazetteer) Len() int { return len(g.entries) }

func normalizePlace(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.Fields(s), " ")
}
