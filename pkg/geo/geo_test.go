package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversine(t *testing.T) {
	// Marikina city hall to Riverbanks, roughly 2.2 km.
	a := Point{Lat: 14.6331, Lon: 121.0961}
	b := Point{Lat: 14.6285, Lon: 121.0763}

	d := Haversine(a, b)
	assert.InDelta(t, 2190, d, 100)

	assert.Zero(t, Haversine(a, a))
	assert.InDelta(t, Haversine(a, b), Haversine(b, a), 1e-9)
}

func TestPointValid(t *testing.T) {
	assert.True(t, Point{Lat: 14.65, Lon: 121.1}.Valid())
	assert.False(t, Point{Lat: 91, Lon: 0}.Valid())
	assert.False(t, Point{Lat: 0, Lon: -181}.Valid())
}

func TestBoundingBoxContains(t *testing.T) {
	box := BoundingBox{MinLat: 14.55, MaxLat: 14.75, MinLon: 121.05, MaxLon: 121.15}

	assert.True(t, box.Contains(Point{Lat: 14.65, Lon: 121.10}))
	assert.True(t, box.Contains(Point{Lat: 14.55, Lon: 121.05}))
	assert.False(t, box.Contains(Point{Lat: 14.50, Lon: 121.10}))
}

func TestCellOf(t *testing.T) {
	a := CellOf(Point{Lat: 14.651, Lon: 121.101})
	b := CellOf(Point{Lat: 14.659, Lon: 121.109})
	c := CellOf(Point{Lat: 14.661, Lon: 121.101})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestRadiusToCells(t *testing.T) {
	assert.Equal(t, 2, RadiusToCells(800))
	assert.Equal(t, 2, RadiusToCells(1100))
	assert.Equal(t, 3, RadiusToCells(1200))
}

func TestPointToSegmentM(t *testing.T) {
	// Horizontal segment along a parallel, point 0.001 deg north of its
	// midpoint: roughly 111 m.
	a := Point{Lat: 14.65, Lon: 121.09}
	b := Point{Lat: 14.65, Lon: 121.11}
	p := Point{Lat: 14.651, Lon: 121.10}

	assert.InDelta(t, 111, PointToSegmentM(p, a, b), 2)

	// Beyond the segment end, distance is to the endpoint.
	q := Point{Lat: 14.65, Lon: 121.12}
	assert.InDelta(t, Haversine(q, b), PointToSegmentM(q, a, b), 5)
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-0.2))
	assert.Equal(t, 0.5, Clamp01(0.5))
	assert.Equal(t, 1.0, Clamp01(1.7))
}
