package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveCollectionAssignsID(t *testing.T) {
	db := NewMemoryFloodData(10)

	id, err := db.SaveCollection(Collection{Source: "scheduled"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	got, ok := db.GetCollection(id)
	require.True(t, ok)
	assert.Equal(t, "scheduled", got.Source)

	_, ok = db.GetCollection("nope")
	assert.False(t, ok)
}

func TestSaveCollectionKeepsExplicitID(t *testing.T) {
	db := NewMemoryFloodData(10)

	id, err := db.SaveCollection(Collection{ID: "run-1", Source: "manual"})
	require.NoError(t, err)
	assert.Equal(t, "run-1", id)

	// Saving the same id again updates in place without duplicating.
	_, err = db.SaveCollection(Collection{
		ID:        "run-1",
		Source:    "manual",
		FusionRun: &FusionRunInfo{EdgesUpdated: 12, AverageRisk: 0.2},
	})
	require.NoError(t, err)

	recent := db.RecentCollections(0)
	require.Len(t, recent, 1)
	require.NotNil(t, recent[0].FusionRun)
	assert.Equal(t, 12, recent[0].FusionRun.EdgesUpdated)
}

func TestRecentCollectionsNewestFirst(t *testing.T) {
	db := NewMemoryFloodData(10)
	base := time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := db.SaveCollection(Collection{
			ID:        fmt.Sprintf("run-%d", i),
			StartedAt: base.Add(time.Duration(i) * time.Minute),
			RiverLevels: []RiverLevel{
				{Station: "nangka", WaterLevelM: 15 + float64(i)},
			},
		})
		require.NoError(t, err)
	}

	recent := db.RecentCollections(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "run-4", recent[0].ID)
	assert.Equal(t, "run-3", recent[1].ID)
	assert.Equal(t, "run-2", recent[2].ID)

	// Zero or oversized limits return everything.
	assert.Len(t, db.RecentCollections(0), 5)
	assert.Len(t, db.RecentCollections(100), 5)
}

func TestHistoryIsBounded(t *testing.T) {
	db := NewMemoryFloodData(3)
	for i := 0; i < 5; i++ {
		_, err := db.SaveCollection(Collection{ID: fmt.Sprintf("run-%d", i)})
		require.NoError(t, err)
	}

	recent := db.RecentCollections(0)
	require.Len(t, recent, 3)
	assert.Equal(t, "run-4", recent[0].ID)
	assert.Equal(t, "run-2", recent[2].ID)

	_, ok := db.GetCollection("run-0")
	assert.False(t, ok)
	_, ok = db.GetCollection("run-1")
	assert.False(t, ok)
}
