package hazard

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masfro/masfro/pkg/geo"
)

var (
	testNow   = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	testPoint = geo.Point{Lat: 14.65, Lon: 121.10}
)

func TestNewStationReading(t *testing.T) {
	r, err := NewStationReading("Sto Nino", 14.2, Meta{
		Location:   testPoint,
		Confidence: 0.9,
	}, testNow)
	require.NoError(t, err)

	assert.Equal(t, SourceStation, r.Kind())
	assert.Equal(t, "Sto Nino", r.Station)
	assert.Equal(t, 14.2, r.WaterLevelM)
	assert.Equal(t, DefaultTTL, r.TTL)
	assert.Equal(t, testNow, r.ObservedAt)

	_, err = NewStationReading("", 14.2, Meta{Location: testPoint}, testNow)
	assert.Error(t, err)

	_, err = NewStationReading("Sto Nino", -1, Meta{Location: testPoint}, testNow)
	assert.ErrorIs(t, err, ErrBadDepth)
}

func TestMetaValidation(t *testing.T) {
	_, err := NewStationReading("x", 1, Meta{
		Location: geo.Point{Lat: 95, Lon: 0},
	}, testNow)
	assert.ErrorIs(t, err, ErrBadLocation)

	_, err = NewStationReading("x", 1, Meta{
		Location: testPoint,
		Severity: Float(1.5),
	}, testNow)
	assert.ErrorIs(t, err, ErrBadSeverity)

	_, err = NewStationReading("x", 1, Meta{
		Location:   testPoint,
		Confidence: -0.1,
	}, testNow)
	assert.ErrorIs(t, err, ErrBadConfidence)

	_, err = NewStationReading("x", 1, Meta{
		Location: testPoint,
		DepthM:   Float(-0.5),
	}, testNow)
	assert.ErrorIs(t, err, ErrBadDepth)

	_, err = NewStationReading("x", 1, Meta{
		Location:   testPoint,
		RainfallMM: Float(-1),
	}, testNow)
	assert.ErrorIs(t, err, ErrBadRainfall)
}

func TestMetaExpiry(t *testing.T) {
	m := Meta{Location: testPoint, ObservedAt: testNow, TTL: 30 * time.Minute}

	assert.False(t, m.Expired(testNow.Add(29*time.Minute)))
	assert.True(t, m.Expired(testNow.Add(31*time.Minute)))

	assert.Equal(t, 10*time.Minute, m.Age(testNow.Add(10*time.Minute)))
	assert.Zero(t, m.Age(testNow.Add(-time.Minute)))
}

func TestNewScoutReport(t *testing.T) {
	cls := Classification{
		IsFloodRelated: true,
		ReportType:     ReportFlooding,
		Severity:       0.8,
		Confidence:     0.6,
	}
	r, err := NewScoutReport("baha sa kanto", "", cls, Meta{
		Location:   testPoint,
		Confidence: 0.6,
	}, testNow)
	require.NoError(t, err)

	assert.Equal(t, SourceReport, r.Kind())
	assert.InDelta(t, 0.48, r.EffectiveSeverity(), 1e-9)

	_, err = NewScoutReport(strings.Repeat("a", 501), "", cls, Meta{
		Location: testPoint,
	}, testNow)
	assert.ErrorIs(t, err, ErrTextTooLong)

	bad := cls
	bad.Severity = 2
	_, err = NewScoutReport("x", "", bad, Meta{Location: testPoint}, testNow)
	assert.ErrorIs(t, err, ErrBadSeverity)
}

func TestNewDamReading(t *testing.T) {
	d, err := NewDamReading("La Mesa", 80.1, Meta{
		Location:   testPoint,
		Confidence: 0.95,
	}, testNow)
	require.NoError(t, err)
	assert.Equal(t, SourceDam, d.Kind())

	_, err = NewDamReading("", 80.1, Meta{Location: testPoint}, testNow)
	assert.Error(t, err)
}

func TestNewScrapeSnippetCapsConfidence(t *testing.T) {
	s, err := NewScrapeSnippet("https://example.com/advisory", "road closed", Meta{
		Location:   testPoint,
		Confidence: 0.9,
	}, testNow)
	require.NoError(t, err)

	assert.Equal(t, SourceScrape, s.Kind())
	assert.Equal(t, 0.5, s.Confidence)
}

func TestNewRasterSample(t *testing.T) {
	r, err := NewRasterSample("rr02", 7, Meta{
		Location:   testPoint,
		DepthM:     Float(0.4),
		Confidence: 1,
	}, testNow)
	require.NoError(t, err)

	assert.Equal(t, SourceRaster, r.Kind())
	assert.Equal(t, "rr02", r.ReturnPeriod)
	assert.Equal(t, 7, r.TimeStep)
}
