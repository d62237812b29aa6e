package fetchers

import (
	"context"

	"github.com/masfro/masfro/pkg/clock"
	"github.com/masfro/masfro/pkg/geo"
	"github.com/masfro/masfro/pkg/hazard"
	"github.com/masfro/masfro/pkg/repository"
)

// SyntheticStation is one scripted gauge for simulation runs.
type SyntheticStation struct {
	Station     string    `yaml:"station"`
	Location    geo.Point `yaml:"location"`
	WaterLevelM float64   `yaml:"water_level_m"`
	AlertLevelM float64   `yaml:"alert_level_m"`
}

// SyntheticReport is one scripted crowdsourced report for simulation
// runs.
type SyntheticReport struct {
	Location   geo.Point `yaml:"location"`
	Text       string    `yaml:"text"`
	Severity   float64   `yaml:"severity"`
	Confidence float64   `yaml:"confidence"`
}

// Synthetic replays scripted readings instead of calling upstreams.
// Simulation swaps it in for the network fetchers; the collection path
// downstream is identical.
type Synthetic struct {
	Source   string
	Stations []SyntheticStation
	Reports  []SyntheticReport
	Clock    clock.Clock
}

func (f *Synthetic) Name() string {
	if f.Source == "" {
		return "synthetic"
	}
	return f.Source
}

func (f *Synthetic) Fetch(ctx context.Context) (Batch, error) {
	clk := f.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}
	now := clk.Now()

	var batch Batch
	for _, s := range f.Stations {
		reading, err := hazard.NewStationReading(s.Station, s.WaterLevelM, hazard.Meta{
			Location:   s.Location,
			Confidence: 0.9,
			ObservedAt: now,
		}, now)
		if err != nil {
			continue
		}
		reading.AlertLevelM = s.AlertLevelM

		batch.Observations = append(batch.Observations, reading)
		batch.RiverLevels = append(batch.RiverLevels, repository.RiverLevel{
			Station:     s.Station,
			WaterLevelM: s.WaterLevelM,
			AlertLevelM: s.AlertLevelM,
			ObservedAt:  now,
		})
	}

	for _, r := range f.Reports {
		confidence := r.Confidence
		if confidence <= 0 {
			confidence = 0.8
		}
		report, err := hazard.NewScoutReport(r.Text, "", hazard.Classification{
			IsFloodRelated: r.Severity > 0,
			ReportType:     hazard.ReportFlooding,
			Severity:       r.Severity,
			Confidence:     confidence,
		}, hazard.Meta{
			Location:   r.Location,
			Confidence: confidence,
			ObservedAt: now,
		}, now)
		if err != nil {
			continue
		}
		batch.Observations = append(batch.Observations, report)
	}
	return batch, nil
}
