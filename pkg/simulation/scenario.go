// Package simulation replays scripted flood scenarios in deterministic
// fixed-phase ticks: collection, fusion, routing.
package simulation

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/masfro/masfro/pkg/fetchers"
	"github.com/masfro/masfro/pkg/geo"
)

// Mode selects the scenario intensity and its raster return period.
type Mode string

const (
	ModeLight  Mode = "light"
	ModeMedium Mode = "medium"
	ModeHeavy  Mode = "heavy"
)

// ReturnPeriod maps the mode to its raster return-period tag.
func (m Mode) ReturnPeriod() string {
	switch m {
	case ModeLight:
		return "rr01"
	case ModeMedium:
		return "rr02"
	case ModeHeavy:
		return "rr03"
	}
	return ""
}

// Valid reports whether the mode is recognized.
func (m Mode) Valid() bool {
	return m == ModeLight || m == ModeMedium || m == ModeHeavy
}

// MaxTimeStep bounds a scenario run.
const MaxTimeStep = 18

// Scenario is a scripted flood event loaded from YAML.
type Scenario struct {
	APIVersion string       `yaml:"apiVersion"`
	Kind       string       `yaml:"kind"`
	Metadata   Metadata     `yaml:"metadata"`
	Spec       ScenarioSpec `yaml:"spec"`
}

// Metadata names the scenario.
type Metadata struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
}

// ScenarioSpec holds the per-step frames.
type ScenarioSpec struct {
	Mode   Mode    `yaml:"mode"`
	Frames []Frame `yaml:"frames"`
}

// Frame scripts the hazard inputs for one time step. Steps without a
// frame reuse the closest earlier one.
type Frame struct {
	TimeStep int                         `yaml:"time_step"`
	Stations []fetchers.SyntheticStation `yaml:"stations,omitempty"`
	Reports  []fetchers.SyntheticReport  `yaml:"reports,omitempty"`
	Raster   []RasterPatch               `yaml:"raster,omitempty"`
}

// RasterPatch is one rectangle of scripted flood depth.
type RasterPatch struct {
	Bounds geo.BoundingBox `yaml:"bounds"`
	DepthM float64         `yaml:"depth_m"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(raw)
}

// ParseScenario parses YAML bytes and validates the result.
func ParseScenario(raw []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	sort.SliceStable(s.Spec.Frames, func(i, j int) bool {
		return s.Spec.Frames[i].TimeStep < s.Spec.Frames[j].TimeStep
	})
	return &s, nil
}

// Validate checks structural requirements.
func (s *Scenario) Validate() error {
	if s.Kind != "" && s.Kind != "FloodScenario" {
		return fmt.Errorf("unsupported scenario kind %q", s.Kind)
	}
	if s.Metadata.Name == "" {
		return fmt.Errorf("scenario needs metadata.name")
	}
	if s.Spec.Mode != "" && !s.Spec.Mode.Valid() {
		return fmt.Errorf("unsupported scenario mode %q", s.Spec.Mode)
	}
	if len(s.Spec.Frames) == 0 {
		return fmt.Errorf("scenario %s has no frames", s.Metadata.Name)
	}

	seen := make(map[int]bool)
	for _, f := range s.Spec.Frames {
		if f.TimeStep < 1 || f.TimeStep > MaxTimeStep {
			return fmt.Errorf("frame time_step %d outside [1, %d]", f.TimeStep, MaxTimeStep)
		}
		if seen[f.TimeStep] {
			return fmt.Errorf("duplicate frame for time_step %d", f.TimeStep)
		}
		seen[f.TimeStep] = true

		for _, st := range f.Stations {
			if st.Station == "" {
				return fmt.Errorf("frame %d: station without a name", f.TimeStep)
			}
			if !st.Location.Valid() {
				return fmt.Errorf("frame %d: station %s has invalid location", f.TimeStep, st.Station)
			}
		}
		for i, r := range f.Reports {
			if !r.Location.Valid() {
				return fmt.Errorf("frame %d: report %d has invalid location", f.TimeStep, i)
			}
			if r.Severity < 0 || r.Severity > 1 {
				return fmt.Errorf("frame %d: report %d severity outside [0, 1]", f.TimeStep, i)
			}
		}
		for i, p := range f.Raster {
			if p.DepthM < 0 {
				return fmt.Errorf("frame %d: raster patch %d has negative depth", f.TimeStep, i)
			}
			if p.Bounds.MinLat >= p.Bounds.MaxLat || p.Bounds.MinLon >= p.Bounds.MaxLon {
				return fmt.Errorf("frame %d: raster patch %d has degenerate bounds", f.TimeStep, i)
			}
		}
	}
	return nil
}

// FrameAt returns the frame in effect at timeStep: the frame with the
// largest time_step not exceeding it. ok is false before the first
// scripted frame.
func (s *Scenario) FrameAt(timeStep int) (Frame, bool) {
	var out Frame
	found := false
	for _, f := range s.Spec.Frames {
		if f.TimeStep > timeStep {
			break
		}
		out = f
		found = true
	}
	return out, found
}
