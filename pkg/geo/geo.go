package geo

import (
	"fmt"
	"math"
)

// EarthRadiusM is the mean Earth radius used for haversine distances.
const EarthRadiusM = 6371000.0

// CellSizeDeg is the uniform grid cell size shared by the spatial index
// and the scout-report cache. Roughly 1.1 km of latitude.
const CellSizeDeg = 0.01

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the point is a plausible WGS84 coordinate.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180 &&
		!math.IsNaN(p.Lat) && !math.IsNaN(p.Lon)
}

func (p Point) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Lat, p.Lon)
}

// BoundingBox is a latitude/longitude rectangle.
type BoundingBox struct {
	MinLat float64 `yaml:"min_lat" json:"min_lat"`
	MaxLat float64 `yaml:"max_lat" json:"max_lat"`
	MinLon float64 `yaml:"min_lon" json:"min_lon"`
	MaxLon float64 `yaml:"max_lon" json:"max_lon"`
}

// Contains reports whether p lies inside the box.
func (b BoundingBox) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// Cell identifies one square of the uniform grid.
type Cell struct {
	Row int
	Col int
}

// CellOf maps a point to its grid cell.
func CellOf(p Point) Cell {
	return Cell{
		Row: int(math.Floor(p.Lat / CellSizeDeg)),
		Col: int(math.Floor(p.Lon / CellSizeDeg)),
	}
}

// Haversine returns the great-circle distance in metres between a and b.
func Haversine(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusM * math.Asin(math.Sqrt(h))
}

// Midpoint returns the arithmetic midpoint of a and b. Adequate at city
// scale; not meridian-safe, which is fine inside one metro bounding box.
func Midpoint(a, b Point) Point {
	return Point{Lat: (a.Lat + b.Lat) / 2, Lon: (a.Lon + b.Lon) / 2}
}

// RadiusToCells converts a metre radius to a conservative cell count so
// grid scans never miss a candidate within the radius.
func RadiusToCells(radiusM float64) int {
	metersPerCell := CellSizeDeg * 111000.0
	return int(math.Ceil(radiusM/metersPerCell)) + 1
}

// PointToSegmentM returns the distance in metres from p to segment ab,
// using an equirectangular projection around p. Good to well under a
// percent at the distances the waterway index cares about.
func PointToSegmentM(p, a, b Point) float64 {
	cosLat := math.Cos(p.Lat * math.Pi / 180)
	ax := (a.Lon - p.Lon) * cosLat
	ay := a.Lat - p.Lat
	bx := (b.Lon - p.Lon) * cosLat
	by := b.Lat - p.Lat

	dx := bx - ax
	dy := by - ay
	lenSq := dx*dx + dy*dy
	t := 0.0
	if lenSq > 0 {
		t = -(ax*dx + ay*dy) / lenSq
		t = math.Max(0, math.Min(1, t))
	}
	cx := ax + t*dx
	cy := ay + t*dy
	degDist := math.Sqrt(cx*cx + cy*cy)
	return degDist * math.Pi / 180 * EarthRadiusM
}

// Clamp01 bounds v to [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
