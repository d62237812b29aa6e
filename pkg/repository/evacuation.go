// Package repository defines the persistence seams of the engine. The
// core reads snapshots through these interfaces; the backing store (SQL
// in production, memory here and in tests) owns all mutation rules.
package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/masfro/masfro/pkg/geo"
)

var (
	// ErrCenterNotFound is returned for unknown center names.
	ErrCenterNotFound = errors.New("evacuation center not found")
	// ErrOverCapacity rejects occupancy beyond a center's capacity.
	ErrOverCapacity = errors.New("occupancy exceeds capacity")
)

// EvacuationCenter is one shelter record. The core treats instances as
// immutable snapshots; occupancy changes go through the repository.
type EvacuationCenter struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Point            geo.Point `json:"point"`
	Capacity         int       `json:"capacity"`
	CurrentOccupancy int       `json:"current_occupancy"`
	Type             string    `json:"type"`
	Barangay         string    `json:"barangay"`
	Contact          string    `json:"contact"`
	Facilities       []string  `json:"facilities"`
	IsActive         bool      `json:"is_active"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// AvailableSpace returns the remaining capacity.
func (c EvacuationCenter) AvailableSpace() int {
	return c.Capacity - c.CurrentOccupancy
}

// OccupancyStats summarizes the shelter network.
type OccupancyStats struct {
	Centers        int     `json:"centers"`
	ActiveCenters  int     `json:"active_centers"`
	TotalCapacity  int     `json:"total_capacity"`
	TotalOccupancy int     `json:"total_occupancy"`
	UtilizationPct float64 `json:"utilization_pct"`
}

// Evacuation is the shelter repository seam.
type Evacuation interface {
	GetAll() ([]EvacuationCenter, error)
	GetByName(name string) (EvacuationCenter, error)
	UpdateOccupancy(name string, occupancy int, reason string) error
	AddEvacuees(name string, n int) error
	ResetAll() error
	Statistics() (OccupancyStats, error)
}

// MemoryEvacuation is the in-process Evacuation implementation.
type MemoryEvacuation struct {
	mu      sync.RWMutex
	centers map[string]EvacuationCenter
	now     func() time.Time
}

// NewMemoryEvacuation seeds an in-memory repository. now may be nil.
func NewMemoryEvacuation(centers []EvacuationCenter, now func() time.Time) *MemoryEvacuation {
	if now == nil {
		now = time.Now
	}
	m := &MemoryEvacuation{
		centers: make(map[string]EvacuationCenter, len(centers)),
		now:     now,
	}
	for _, c := range centers {
		m.centers[c.Name] = c
	}
	return m
}

// GetAll returns every center, sorted by name for stable iteration.
func (m *MemoryEvacuation) GetAll() ([]EvacuationCenter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]EvacuationCenter, 0, len(m.centers))
	for _, c := range m.centers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GetByName returns one center snapshot.
func (m *MemoryEvacuation) GetByName(name string) (EvacuationCenter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.centers[name]
	if !ok {
		return EvacuationCenter{}, fmt.Errorf("%w: %s", ErrCenterNotFound, name)
	}
	return c, nil
}

// UpdateOccupancy sets the absolute occupancy for a center.
func (m *MemoryEvacuation) UpdateOccupancy(name string, occupancy int, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.centers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCenterNotFound, name)
	}
	if occupancy < 0 {
		occupancy = 0
	}
	if occupancy > c.Capacity {
		return fmt.Errorf("%w: %d > %d at %s", ErrOverCapacity, occupancy, c.Capacity, name)
	}
	c.CurrentOccupancy = occupancy
	c.UpdatedAt = m.now()
	m.centers[name] = c
	return nil
}

// AddEvacuees increments occupancy by n.
func (m *MemoryEvacuation) AddEvacuees(name string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.centers[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCenterNotFound, name)
	}
	next := c.CurrentOccupancy + n
	if next < 0 {
		next = 0
	}
	if next > c.Capacity {
		return fmt.Errorf("%w: %d > %d at %s", ErrOverCapacity, next, c.Capacity, name)
	}
	c.CurrentOccupancy = next
	c.UpdatedAt = m.now()
	m.centers[name] = c
	return nil
}

// ResetAll zeroes occupancy across all centers.
func (m *MemoryEvacuation) ResetAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, c := range m.centers {
		c.CurrentOccupancy = 0
		c.UpdatedAt = m.now()
		m.centers[name] = c
	}
	return nil
}

// LoadCenters reads seed shelter records from a JSON file. A missing
// file yields an empty set so the service can start without shelters.
func LoadCenters(path string) ([]EvacuationCenter, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read centers file: %w", err)
	}

	var centers []EvacuationCenter
	if err := json.Unmarshal(data, &centers); err != nil {
		return nil, fmt.Errorf("parse centers file: %w", err)
	}
	for i, c := range centers {
		if c.Name == "" {
			return nil, fmt.Errorf("center %d has no name", i)
		}
		if c.Capacity < 0 || c.CurrentOccupancy < 0 || c.CurrentOccupancy > c.Capacity {
			return nil, fmt.Errorf("center %s has invalid capacity", c.Name)
		}
	}
	return centers, nil
}

// Statistics summarizes the network.
func (m *MemoryEvacuation) Statistics() (OccupancyStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var s OccupancyStats
	for _, c := range m.centers {
		s.Centers++
		if c.IsActive {
			s.ActiveCenters++
		}
		s.TotalCapacity += c.Capacity
		s.TotalOccupancy += c.CurrentOccupancy
	}
	if s.TotalCapacity > 0 {
		s.UtilizationPct = 100 * float64(s.TotalOccupancy) / float64(s.TotalCapacity)
	}
	return s, nil
}
