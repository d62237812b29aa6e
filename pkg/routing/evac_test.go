package routing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/masfro/masfro/pkg/geo"
	"github.com/masfro/masfro/pkg/repository"
)

func testCenters() []repository.EvacuationCenter {
	return []repository.EvacuationCenter{
		{
			Name:     "Barangka Elementary",
			Barangay: "Barangka",
			Point:    geo.Point{Lat: 14.650, Lon: 121.110}, // node 3
			Capacity: 200,
			IsActive: true,
		},
		{
			Name:     "Malanday Covered Court",
			Barangay: "Malanday",
			Point:    geo.Point{Lat: 14.655, Lon: 121.105}, // node 4
			Capacity: 150,
			IsActive: true,
		},
		{
			Name:     "Tumana Gym",
			Barangay: "Tumana",
			Point:    geo.Point{Lat: 14.650, Lon: 121.105},
			Capacity: 100,
			IsActive: false,
		},
		{
			Name:             "Full House",
			Barangay:         "Concepcion",
			Point:            geo.Point{Lat: 14.650, Lon: 121.105},
			Capacity:         50,
			CurrentOccupancy: 50,
			IsActive:         true,
		},
	}
}

func TestFindEvacuationCenterPicksLowestScore(t *testing.T) {
	e, _ := testEngine(t)
	repo := repository.NewMemoryEvacuation(testCenters(), nil)

	res, err := e.FindEvacuationCenter(context.Background(), repo, EvacRequest{
		Location:    ptStart,
		Preferences: DefaultPreferences(),
	})
	require.NoError(t, err)

	// All clear: the 800 m center beats the 1200 m one on distance, and
	// inactive or full centers never appear.
	assert.Equal(t, "Malanday Covered Court", res.Chosen.Center.Name)
	require.Len(t, res.Alternatives, 1)
	assert.Equal(t, "Barangka Elementary", res.Alternatives[0].Center.Name)
	assert.Less(t, res.Chosen.Score, res.Alternatives[0].Score)
	assert.NotNil(t, res.Chosen.Route)
}

func TestFindEvacuationCenterQueryHint(t *testing.T) {
	e, _ := testEngine(t)
	repo := repository.NewMemoryEvacuation(testCenters(), nil)

	res, err := e.FindEvacuationCenter(context.Background(), repo, EvacRequest{
		Location:    ptStart,
		Query:       "barangka",
		Preferences: DefaultPreferences(),
	})
	require.NoError(t, err)
	assert.Equal(t, "Barangka Elementary", res.Chosen.Center.Name)
	assert.Empty(t, res.Alternatives)

	// An unmatched hint falls back to all centers instead of failing.
	res, err = e.FindEvacuationCenter(context.Background(), repo, EvacRequest{
		Location:    ptStart,
		Query:       "nowhere",
		Preferences: DefaultPreferences(),
	})
	require.NoError(t, err)
	assert.Equal(t, "Malanday Covered Court", res.Chosen.Center.Name)
}

func TestFindEvacuationCenterNoneAvailable(t *testing.T) {
	e, _ := testEngine(t)
	repo := repository.NewMemoryEvacuation([]repository.EvacuationCenter{
		{Name: "Closed", Point: ptEnd, Capacity: 100, IsActive: false},
	}, nil)

	_, err := e.FindEvacuationCenter(context.Background(), repo, EvacRequest{
		Location:    ptStart,
		Preferences: DefaultPreferences(),
	})
	assert.ErrorIs(t, err, ErrNoCenters)

	_, err = e.FindEvacuationCenter(context.Background(), nil, EvacRequest{Location: ptStart})
	assert.Error(t, err)
}
