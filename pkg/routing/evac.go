package routing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/masfro/masfro/pkg/geo"
	"github.com/masfro/masfro/pkg/repository"
)

// ErrNoCenters means no active evacuation center is reachable.
var ErrNoCenters = errors.New("no reachable evacuation center")

// EvacRequest asks for the best shelter from a location.
type EvacRequest struct {
	Location      geo.Point
	Query         string
	MaxCandidates int
	Preferences   Preferences
}

// EvacCandidate pairs a center with its computed route and score.
type EvacCandidate struct {
	Center repository.EvacuationCenter `json:"center"`
	Route  *Route                      `json:"route"`
	Score  float64                     `json:"score"`
}

// EvacResult is the chosen center plus ranked alternatives.
type EvacResult struct {
	Chosen       EvacCandidate   `json:"chosen"`
	Alternatives []EvacCandidate `json:"alternatives"`
}

// FindEvacuationCenter fetches active centers, routes to the nearest few
// and picks the candidate minimizing the configured selection metric
// (risk weight * average risk + distance weight * normalized distance).
func (e *Engine) FindEvacuationCenter(ctx context.Context, repo repository.Evacuation, req EvacRequest) (*EvacResult, error) {
	if repo == nil {
		return nil, fmt.Errorf("evacuation repository unavailable")
	}

	centers, err := repo.GetAll()
	if err != nil {
		return nil, fmt.Errorf("fetch centers: %w", err)
	}

	maxCandidates := req.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = e.cfg.EvacSelection.MaxCandidates
	}
	if maxCandidates <= 0 {
		maxCandidates = 5
	}

	query := strings.ToLower(req.Query)
	filtered := centers[:0]
	for _, c := range centers {
		if !c.IsActive || c.AvailableSpace() <= 0 {
			continue
		}
		// Query hints narrow by barangay or facility when they match
		// anything; an unmatched hint falls back to all centers.
		filtered = append(filtered, c)
	}
	if query != "" {
		hinted := make([]repository.EvacuationCenter, 0, len(filtered))
		for _, c := range filtered {
			if strings.Contains(strings.ToLower(c.Barangay), query) ||
				strings.Contains(strings.ToLower(c.Name), query) {
				hinted = append(hinted, c)
			}
		}
		if len(hinted) > 0 {
			filtered = hinted
		}
	}
	if len(filtered) == 0 {
		return nil, ErrNoCenters
	}

	sort.Slice(filtered, func(i, j int) bool {
		return geo.Haversine(req.Location, filtered[i].Point) <
			geo.Haversine(req.Location, filtered[j].Point)
	})
	if len(filtered) > maxCandidates {
		filtered = filtered[:maxCandidates]
	}

	var candidates []EvacCandidate
	maxDist := 0.0
	for _, c := range filtered {
		route, rerr := e.ComputeRoute(ctx, Request{
			Start:       req.Location,
			End:         c.Point,
			Preferences: req.Preferences,
		})
		if rerr != nil {
			e.log.Debug("candidate center unreachable", "center", c.Name, "error", rerr.Error())
			continue
		}
		candidates = append(candidates, EvacCandidate{Center: c, Route: route})
		if route.Metrics.TotalDistanceM > maxDist {
			maxDist = route.Metrics.TotalDistanceM
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoCenters
	}

	rw := e.cfg.EvacSelection.RiskWeight
	dw := e.cfg.EvacSelection.DistanceWeight
	if rw <= 0 && dw <= 0 {
		rw, dw = 0.6, 0.4
	}
	for i := range candidates {
		norm := 0.0
		if maxDist > 0 {
			norm = candidates[i].Route.Metrics.TotalDistanceM / maxDist
		}
		candidates[i].Score = rw*candidates[i].Route.Metrics.AverageRisk + dw*norm
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score < candidates[j].Score
		}
		return candidates[i].Center.Name < candidates[j].Center.Name
	})

	return &EvacResult{
		Chosen:       candidates[0],
		Alternatives: candidates[1:],
	}, nil
}
