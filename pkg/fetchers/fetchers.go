package fetchers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/masfro/masfro/pkg/clock"
	"github.com/masfro/masfro/pkg/geo"
	"github.com/masfro/masfro/pkg/hazard"
	"github.com/masfro/masfro/pkg/repository"
)

// Batch is one fetcher's haul: observations for the fusion layer plus
// the history rows recorded alongside them.
type Batch struct {
	Observations []hazard.Observation
	RiverLevels  []repository.RiverLevel
	Weather      []repository.WeatherRow
}

// Fetcher pulls one external source. Implementations must be safe for
// repeated calls; retries and circuit breaking are applied outside.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) (Batch, error)
}

const httpTimeout = 10 * time.Second

// getJSON fetches url and decodes the body into out.
func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// StationLevels pulls river gauge readings from a JSON endpoint.
type StationLevels struct {
	URL    string
	Client *http.Client
	Clock  clock.Clock
}

type stationRow struct {
	Station     string  `json:"station"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	WaterLevelM float64 `json:"water_level_m"`
	AlertLevelM float64 `json:"alert_level_m"`
	ObservedAt  string  `json:"observed_at"`
}

func (f *StationLevels) Name() string { return "station_levels" }

func (f *StationLevels) Fetch(ctx context.Context) (Batch, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: httpTimeout}
	}
	clk := f.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}

	var rows []stationRow
	if err := getJSON(ctx, client, f.URL, &rows); err != nil {
		return Batch{}, fmt.Errorf("station levels: %w", err)
	}

	now := clk.Now()
	var batch Batch
	for _, row := range rows {
		observedAt := now
		if t, err := time.Parse(time.RFC3339, row.ObservedAt); err == nil {
			observedAt = t
		}

		reading, err := hazard.NewStationReading(row.Station, row.WaterLevelM, hazard.Meta{
			Location:   geo.Point{Lat: row.Lat, Lon: row.Lon},
			Confidence: 0.9,
			ObservedAt: observedAt,
		}, now)
		if err != nil {
			continue
		}
		reading.AlertLevelM = row.AlertLevelM

		batch.Observations = append(batch.Observations, reading)
		batch.RiverLevels = append(batch.RiverLevels, repository.RiverLevel{
			Station:     row.Station,
			WaterLevelM: row.WaterLevelM,
			AlertLevelM: row.AlertLevelM,
			ObservedAt:  observedAt,
		})
	}
	return batch, nil
}

// Weather pulls rainfall from an OpenWeatherMap-compatible endpoint for
// a fixed set of sample points.
type Weather struct {
	BaseURL string
	APIKey  string
	Points  []geo.Point
	Client  *http.Client
	Clock   clock.Clock
}

type weatherResponse struct {
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Rain struct {
		OneHour float64 `json:"1h"`
	} `json:"rain"`
}

func (f *Weather) Name() string { return "weather" }

func (f *Weather) Fetch(ctx context.Context) (Batch, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: httpTimeout}
	}
	clk := f.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}

	now := clk.Now()
	var batch Batch
	for _, p := range f.Points {
		url := fmt.Sprintf("%s?lat=%.5f&lon=%.5f&appid=%s&units=metric",
			f.BaseURL, p.Lat, p.Lon, f.APIKey)

		var resp weatherResponse
		if err := getJSON(ctx, client, url, &resp); err != nil {
			return Batch{}, fmt.Errorf("weather at %s: %w", p, err)
		}

		description := ""
		if len(resp.Weather) > 0 {
			description = resp.Weather[0].Description
		}
		batch.Weather = append(batch.Weather, repository.WeatherRow{
			Lat:          p.Lat,
			Lon:          p.Lon,
			RainfallMM1h: resp.Rain.OneHour,
			Description:  description,
			ObservedAt:   now,
		})
	}
	return batch, nil
}

// DamLevels pulls reservoir levels from a JSON endpoint.
type DamLevels struct {
	URL    string
	Client *http.Client
	Clock  clock.Clock
}

type damRow struct {
	Dam        string  `json:"dam"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	LevelM     float64 `json:"level_m"`
	SpillingM3 float64 `json:"spilling_m3_s"`
}

func (f *DamLevels) Name() string { return "dam_levels" }

func (f *DamLevels) Fetch(ctx context.Context) (Batch, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: httpTimeout}
	}
	clk := f.Clock
	if clk == nil {
		clk = clock.NewSystem()
	}

	var rows []damRow
	if err := getJSON(ctx, client, f.URL, &rows); err != nil {
		return Batch{}, fmt.Errorf("dam levels: %w", err)
	}

	now := clk.Now()
	var batch Batch
	for _, row := range rows {
		reading, err := hazard.NewDamReading(row.Dam, row.LevelM, hazard.Meta{
			Location:   geo.Point{Lat: row.Lat, Lon: row.Lon},
			Confidence: 0.9,
			ObservedAt: now,
		}, now)
		if err != nil {
			continue
		}
		reading.SpillingM3 = row.SpillingM3
		batch.Observations = append(batch.Observations, reading)
	}
	return batch, nil
}
