package fusion

import (
	"container/list"
	"time"

	"github.com/masfro/masfro/pkg/geo"
	"github.com/masfro/masfro/pkg/hazard"
)

// stationCache keeps the latest reading per station, bounded with LRU
// eviction on overflow. Owned exclusively by the fusion agent.
type stationCache struct {
	cap     int
	order   *list.List // front = most recently used
	entries map[string]*list.Element
}

type stationEntry struct {
	name    string
	reading hazard.StationReading
}

func newStationCache(capacity int) *stationCache {
	if capacity <= 0 {
		capacity = 100
	}
	return &stationCache{
		cap:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (c *stationCache) put(r hazard.StationReading) {
	if el, ok := c.entries[r.Station]; ok {
		el.Value.(*stationEntry).reading = r
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&stationEntry{name: r.Station, reading: r})
	c.entries[r.Station] = el
	if c.order.Len() > c.cap {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*stationEntry).name)
	}
}

// fresh returns all readings whose TTL has not elapsed, dropping the rest.
func (c *stationCache) fresh(now time.Time) []hazard.StationReading {
	out := make([]hazard.StationReading, 0, c.order.Len())
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		entry := el.Value.(*stationEntry)
		if entry.reading.Expired(now) {
			c.order.Remove(el)
			delete(c.entries, entry.name)
		} else {
			out = append(out, entry.reading)
		}
		el = next
	}
	return out
}

func (c *stationCache) len() int { return c.order.Len() }

func (c *stationCache) clear() {
	c.order.Init()
	c.entries = make(map[string]*list.Element)
}

// scoutCache buckets recent reports by 0.01 degree grid cell for quick
// spatial lookup, bounded by a total report cap with LRU eviction.
type scoutCache struct {
	cap   int
	order *list.List // all reports, front = newest
	cells map[geo.Cell][]*list.Element
}

type scoutEntry struct {
	cell   geo.Cell
	report hazard.ScoutReport
}

func newScoutCache(capacity int) *scoutCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &scoutCache{
		cap:   capacity,
		order: list.New(),
		cells: make(map[geo.Cell][]*list.Element),
	}
}

func (c *scoutCache) put(r hazard.ScoutReport) {
	cell := geo.CellOf(r.Location)
	el := c.order.PushFront(&scoutEntry{cell: cell, report: r})
	c.cells[cell] = append(c.cells[cell], el)

	for c.order.Len() > c.cap {
		c.evict(c.order.Back())
	}
}

func (c *scoutCache) evict(el *list.Element) {
	entry := el.Value.(*scoutEntry)
	c.order.Remove(el)
	els := c.cells[entry.cell]
	for i, e := range els {
		if e == el {
			c.cells[entry.cell] = append(els[:i], els[i+1:]...)
			break
		}
	}
	if len(c.cells[entry.cell]) == 0 {
		delete(c.cells, entry.cell)
	}
}

// near returns all unexpired reports within radiusM of p, pruning expired
// ones as it goes.
func (c *scoutCache) near(p geo.Point, radiusM float64, now time.Time) []hazard.ScoutReport {
	center := geo.CellOf(p)
	reach := geo.RadiusToCells(radiusM)

	var out []hazard.ScoutReport
	for dr := -reach; dr <= reach; dr++ {
		for dc := -reach; dc <= reach; dc++ {
			cell := geo.Cell{Row: center.Row + dr, Col: center.Col + dc}
			els := c.cells[cell]
			for i := 0; i < len(els); i++ {
				el := els[i]
				entry := el.Value.(*scoutEntry)
				if entry.report.Expired(now) {
					c.evict(el)
					els = c.cells[cell]
					i--
					continue
				}
				if geo.Haversine(p, entry.report.Location) <= radiusM {
					out = append(out, entry.report)
				}
			}
		}
	}
	return out
}

// all returns every unexpired report.
func (c *scoutCache) all(now time.Time) []hazard.ScoutReport {
	out := make([]hazard.ScoutReport, 0, c.order.Len())
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		entry := el.Value.(*scoutEntry)
		if entry.report.Expired(now) {
			c.evict(el)
		} else {
			out = append(out, entry.report)
		}
		el = next
	}
	return out
}

func (c *scoutCache) len() int { return c.order.Len() }

func (c *scoutCache) clear() {
	c.order.Init()
	c.cells = make(map[geo.Cell][]*list.Element)
}
