package repository

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masfro/masfro/pkg/geo"
)

func seedCenters() []EvacuationCenter {
	return []EvacuationCenter{
		{
			ID:       "ec-1",
			Name:     "Barangka Elementary",
			Point:    geo.Point{Lat: 14.631, Lon: 121.086},
			Capacity: 200,
			IsActive: true,
		},
		{
			ID:               "ec-2",
			Name:             "Malanday Covered Court",
			Point:            geo.Point{Lat: 14.664, Lon: 121.099},
			Capacity:         100,
			CurrentOccupancy: 40,
			IsActive:         true,
		},
		{
			ID:       "ec-3",
			Name:     "Tumana Gym",
			Point:    geo.Point{Lat: 14.657, Lon: 121.095},
			Capacity: 150,
		},
	}
}

func TestGetAllSorted(t *testing.T) {
	repo := NewMemoryEvacuation(seedCenters(), nil)

	all, err := repo.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Barangka Elementary", all[0].Name)
	assert.Equal(t, "Malanday Covered Court", all[1].Name)
	assert.Equal(t, "Tumana Gym", all[2].Name)
}

func TestGetByName(t *testing.T) {
	repo := NewMemoryEvacuation(seedCenters(), nil)

	c, err := repo.GetByName("Tumana Gym")
	require.NoError(t, err)
	assert.Equal(t, 150, c.Capacity)
	assert.Equal(t, 150, c.AvailableSpace())

	_, err = repo.GetByName("Atlantis Dome")
	assert.ErrorIs(t, err, ErrCenterNotFound)
}

func TestUpdateOccupancy(t *testing.T) {
	now := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	repo := NewMemoryEvacuation(seedCenters(), func() time.Time { return now })

	require.NoError(t, repo.UpdateOccupancy("Barangka Elementary", 120, "intake"))
	c, _ := repo.GetByName("Barangka Elementary")
	assert.Equal(t, 120, c.CurrentOccupancy)
	assert.Equal(t, 80, c.AvailableSpace())
	assert.Equal(t, now, c.UpdatedAt)

	// Negative values clamp to zero instead of erroring.
	require.NoError(t, repo.UpdateOccupancy("Barangka Elementary", -5, "correction"))
	c, _ = repo.GetByName("Barangka Elementary")
	assert.Zero(t, c.CurrentOccupancy)

	err := repo.UpdateOccupancy("Barangka Elementary", 201, "intake")
	assert.ErrorIs(t, err, ErrOverCapacity)

	err = repo.UpdateOccupancy("Atlantis Dome", 10, "intake")
	assert.ErrorIs(t, err, ErrCenterNotFound)
}

func TestAddEvacuees(t *testing.T) {
	repo := NewMemoryEvacuation(seedCenters(), nil)

	require.NoError(t, repo.AddEvacuees("Malanday Covered Court", 30))
	c, _ := repo.GetByName("Malanday Covered Court")
	assert.Equal(t, 70, c.CurrentOccupancy)

	assert.ErrorIs(t, repo.AddEvacuees("Malanday Covered Court", 31), ErrOverCapacity)

	// Departures below zero clamp.
	require.NoError(t, repo.AddEvacuees("Malanday Covered Court", -200))
	c, _ = repo.GetByName("Malanday Covered Court")
	assert.Zero(t, c.CurrentOccupancy)
}

func TestResetAllAndStatistics(t *testing.T) {
	repo := NewMemoryEvacuation(seedCenters(), nil)
	require.NoError(t, repo.UpdateOccupancy("Barangka Elementary", 50, "intake"))

	stats, err := repo.Statistics()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Centers)
	assert.Equal(t, 2, stats.ActiveCenters)
	assert.Equal(t, 450, stats.TotalCapacity)
	assert.Equal(t, 90, stats.TotalOccupancy)
	assert.InDelta(t, 20.0, stats.UtilizationPct, 1e-9)

	require.NoError(t, repo.ResetAll())
	stats, _ = repo.Statistics()
	assert.Zero(t, stats.TotalOccupancy)
	assert.Zero(t, stats.UtilizationPct)
}

func TestLoadCenters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "centers.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
  {"id": "ec-1", "name": "Barangka Elementary", "point": {"lat": 14.631, "lon": 121.086}, "capacity": 200, "is_active": true},
  {"id": "ec-2", "name": "Tumana Gym", "point": {"lat": 14.657, "lon": 121.095}, "capacity": 150, "current_occupancy": 10}
]`), 0o644))

	centers, err := LoadCenters(path)
	require.NoError(t, err)
	require.Len(t, centers, 2)
	assert.Equal(t, "Barangka Elementary", centers[0].Name)
	assert.True(t, centers[0].IsActive)
	assert.Equal(t, 10, centers[1].CurrentOccupancy)
}

func TestLoadCentersMissingFile(t *testing.T) {
	centers, err := LoadCenters(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Nil(t, centers)

	centers, err = LoadCenters("")
	require.NoError(t, err)
	assert.Nil(t, centers)
}

func TestLoadCentersValidation(t *testing.T) {
	nameless := filepath.Join(t.TempDir(), "centers.json")
	require.NoError(t, os.WriteFile(nameless, []byte(`[{"capacity": 10}]`), 0o644))
	_, err := LoadCenters(nameless)
	assert.ErrorContains(t, err, "no name")

	overfull := filepath.Join(t.TempDir(), "centers.json")
	require.NoError(t, os.WriteFile(overfull, []byte(`[{"name": "x", "capacity": 10, "current_occupancy": 11}]`), 0o644))
	_, err = LoadCenters(overfull)
	assert.ErrorContains(t, err, "invalid capacity")
}
