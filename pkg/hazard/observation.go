// Package hazard defines the inbound observation variants the fusion
// layer consumes. Observations are short-lived: validated at ingest,
// cached until their TTL elapses, then dropped.
package hazard

import (
	"errors"
	"fmt"
	"time"

	"github.com/masfro/masfro/pkg/geo"
)

// Source tags the origin of an observation.
type Source string

const (
	SourceStation Source = "station"
	SourceRaster  Source = "raster"
	SourceReport  Source = "report"
	SourceDam     Source = "dam"
	SourceScrape  Source = "scrape"
)

// DefaultTTL applies when an observation arrives without one.
const DefaultTTL = time.Hour

var (
	ErrBadLocation   = errors.New("observation location outside valid range")
	ErrBadSeverity   = errors.New("observation severity outside [0, 1]")
	ErrBadConfidence = errors.New("observation confidence outside [0, 1]")
	ErrBadDepth      = errors.New("observation depth is negative")
	ErrBadRainfall   = errors.New("observation rainfall is negative")
	ErrTextTooLong   = errors.New("report text exceeds 500 characters")
)

// Meta carries the fields common to every observation variant.
type Meta struct {
	Location   geo.Point     `json:"location"`
	DepthM     *float64      `json:"depth_m,omitempty"`
	RainfallMM *float64      `json:"rainfall_mm_1h,omitempty"`
	Severity   *float64      `json:"severity,omitempty"`
	Confidence float64       `json:"confidence"`
	ObservedAt time.Time     `json:"observed_at"`
	TTL        time.Duration `json:"ttl"`
}

// Observation is the sum type over hazard inputs. The concrete variants
// are StationReading, RasterSample, ScoutReport, DamReading and
// ScrapeSnippet; nothing else implements it.
type Observation interface {
	Kind() Source
	Common() Meta
}

// validate checks the shared envelope fields.
func (m Meta) validate() error {
	if !m.Location.Valid() {
		return fmt.Errorf("%w: %s", ErrBadLocation, m.Location)
	}
	if m.DepthM != nil && *m.DepthM < 0 {
		return ErrBadDepth
	}
	if m.RainfallMM != nil && *m.RainfallMM < 0 {
		return ErrBadRainfall
	}
	if m.Severity != nil && (*m.Severity < 0 || *m.Severity > 1) {
		return ErrBadSeverity
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return ErrBadConfidence
	}
	return nil
}

// normalize fills TTL and observation-time defaults. Caller supplies now
// so the package never reads the system clock.
func (m *Meta) normalize(now time.Time) {
	if m.TTL <= 0 {
		m.TTL = DefaultTTL
	}
	if m.ObservedAt.IsZero() {
		m.ObservedAt = now
	}
}

// Expired reports whether the observation's TTL has elapsed at now.
func (m Meta) Expired(now time.Time) bool {
	return now.Sub(m.ObservedAt) > m.TTL
}

// Age returns the observation age at now, floored at zero.
func (m Meta) Age(now time.Time) time.Duration {
	age := now.Sub(m.ObservedAt)
	if age < 0 {
		return 0
	}
	return age
}

// StationReading is a gauge-station water level.
type StationReading struct {
	Meta
	Station     string  `json:"station"`
	WaterLevelM float64 `json:"water_level_m"`
	AlertLevelM float64 `json:"alert_level_m,omitempty"`
}

func (s StationReading) Kind() Source { return SourceStation }
func (s StationReading) Common() Meta { return s.Meta }

// NewStationReading validates and normalizes a gauge reading.
func NewStationReading(station string, level float64, meta Meta, now time.Time) (StationReading, error) {
	if station == "" {
		return StationReading{}, errors.New("station name is required")
	}
	if level < 0 {
		return StationReading{}, ErrBadDepth
	}
	meta.normalize(now)
	if err := meta.validate(); err != nil {
		return StationReading{}, err
	}
	return StationReading{Meta: meta, Station: station, WaterLevelM: level}, nil
}

// RasterSample is one flood-depth sample taken from a georeferenced raster.
type RasterSample struct {
	Meta
	ReturnPeriod string `json:"return_period"`
	TimeStep     int    `json:"time_step"`
}

func (r RasterSample) Kind() Source { return SourceRaster }
func (r RasterSample) Common() Meta { return r.Meta }

// NewRasterSample validates and normalizes a raster sample.
func NewRasterSample(tag string, step int, meta Meta, now time.Time) (RasterSample, error) {
	meta.normalize(now)
	if err := meta.validate(); err != nil {
		return RasterSample{}, err
	}
	return RasterSample{Meta: meta, ReturnPeriod: tag, TimeStep: step}, nil
}

// ReportType classifies a crowdsourced report.
type ReportType string

const (
	ReportFlooding   ReportType = "flooding"
	ReportClear      ReportType = "clear"
	ReportBlocked    ReportType = "blocked"
	ReportTraffic    ReportType = "traffic"
	ReportHazard     ReportType = "hazard"
	ReportEvacuation ReportType = "evacuation"
)

// Classification is the classifier verdict attached to a scout report.
type Classification struct {
	IsFloodRelated bool       `json:"is_flood_related"`
	ReportType     ReportType `json:"report_type"`
	Severity       float64    `json:"severity"`
	Confidence     float64    `json:"confidence"`
}

// ScoutReport is a crowdsourced field report, optionally with free text
// and an image reference, plus the classifier output.
type ScoutReport struct {
	Meta
	Text           string         `json:"text,omitempty"`
	ImageRef       string         `json:"image_ref,omitempty"`
	Classification Classification `json:"classification"`
}

func (s ScoutReport) Kind() Source { return SourceReport }
func (s ScoutReport) Common() Meta { return s.Meta }

// NewScoutReport validates and normalizes a crowdsourced report.
func NewScoutReport(text, imageRef string, cls Classification, meta Meta, now time.Time) (ScoutReport, error) {
	if len(text) > 500 {
		return ScoutReport{}, ErrTextTooLong
	}
	if cls.Severity < 0 || cls.Severity > 1 {
		return ScoutReport{}, ErrBadSeverity
	}
	if cls.Confidence < 0 || cls.Confidence > 1 {
		return ScoutReport{}, ErrBadConfidence
	}
	meta.normalize(now)
	if err := meta.validate(); err != nil {
		return ScoutReport{}, err
	}
	return ScoutReport{Meta: meta, Text: text, ImageRef: imageRef, Classification: cls}, nil
}

// EffectiveSeverity is severity weighted by classifier confidence.
func (s ScoutReport) EffectiveSeverity() float64 {
	return geo.Clamp01(s.Classification.Severity * s.Classification.Confidence)
}

// DamReading is a reservoir level and discharge report.
type DamReading struct {
	Meta
	Dam        string  `json:"dam"`
	LevelM     float64 `json:"level_m"`
	SpillingM3 float64 `json:"spilling_m3_s,omitempty"`
}

func (d DamReading) Kind() Source { return SourceDam }
func (d DamReading) Common() Meta { return d.Meta }

// NewDamReading validates and normalizes a dam report.
func NewDamReading(dam string, level float64, meta Meta, now time.Time) (DamReading, error) {
	if dam == "" {
		return DamReading{}, errors.New("dam name is required")
	}
	meta.normalize(now)
	if err := meta.validate(); err != nil {
		return DamReading{}, err
	}
	return DamReading{Meta: meta, Dam: dam, LevelM: level}, nil
}

// ScrapeSnippet is an unstructured hazard mention pulled from a scraped
// advisory page. Downgraded confidence by construction.
type ScrapeSnippet struct {
	Meta
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func (s ScrapeSnippet) Kind() Source { return SourceScrape }
func (s ScrapeSnippet) Common() Meta { return s.Meta }

// NewScrapeSnippet validates and normalizes a scraped snippet.
func NewScrapeSnippet(url, snippet string, meta Meta, now time.Time) (ScrapeSnippet, error) {
	meta.normalize(now)
	if meta.Confidence > 0.5 {
		meta.Confidence = 0.5
	}
	if err := meta.validate(); err != nil {
		return ScrapeSnippet{}, err
	}
	return ScrapeSnippet{Meta: meta, URL: url, Snippet: snippet}, nil
}

// Float returns a pointer to v. Convenience for optional Meta fields.
func Float(v float64) *float64 {
	return &v
}
