package repository

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Collection is one data-collection run header. Child rows hang off it.
type Collection struct {
	ID          string         `json:"id"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Source      string         `json:"source"`
	RiverLevels []RiverLevel   `json:"river_levels"`
	Weather     []WeatherRow   `json:"weather"`
	FusionRun   *FusionRunInfo `json:"fusion_run,omitempty"`
}

// RiverLevel is one gauge row within a collection.
type RiverLevel struct {
	Station     string    `json:"station"`
	WaterLevelM float64   `json:"water_level_m"`
	AlertLevelM float64   `json:"alert_level_m"`
	ObservedAt  time.Time `json:"observed_at"`
}

// WeatherRow is one weather snapshot within a collection.
type WeatherRow struct {
	Lat          float64   `json:"lat"`
	Lon          float64   `json:"lon"`
	RainfallMM1h float64   `json:"rainfall_mm_1h"`
	Description  string    `json:"description"`
	ObservedAt   time.Time `json:"observed_at"`
}

// FusionRunInfo records the fusion pass a collection fed into.
type FusionRunInfo struct {
	EdgesUpdated int           `json:"edges_updated"`
	AverageRisk  float64       `json:"average_risk"`
	Duration     time.Duration `json:"duration"`
}

// FloodData is the collection-history repository seam.
type FloodData interface {
	SaveCollection(c Collection) (string, error)
	GetCollection(id string) (Collection, bool)
	RecentCollections(limit int) []Collection
}

// MemoryFloodData keeps a bounded in-process collection history.
type MemoryFloodData struct {
	mu    sync.RWMutex
	max   int
	order []string
	byID  map[string]Collection
}

// NewMemoryFloodData creates a history bounded to max collections.
func NewMemoryFloodData(max int) *MemoryFloodData {
	if max <= 0 {
		max = 500
	}
	return &MemoryFloodData{
		max:  max,
		byID: make(map[string]Collection),
	}
}

// SaveCollection stores a run and returns its assigned id.
func (m *MemoryFloodData) SaveCollection(c Collection) (string, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byID[c.ID]; !exists {
		m.order = append(m.order, c.ID)
	}
	m.byID[c.ID] = c

	for len(m.order) > m.max {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.byID, oldest)
	}
	return c.ID, nil
}

// GetCollection fetches one run by id.
func (m *MemoryFloodData) GetCollection(id string) (Collection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[id]
	return c, ok
}

// RecentCollections returns up to limit runs, newest first.
func (m *MemoryFloodData) RecentCollections(limit int) []Collection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.order) {
		limit = len(m.order)
	}
	out := make([]Collection, 0, limit)
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.byID[m.order[i]])
	}
	return out
}
