// Package risk holds the deterministic hazard-to-risk mappings. Every
// function here is pure: identical inputs yield identical outputs, so the
// fusion layer can recompute freely without ordering concerns.
package risk

import (
	"math"
)

const gravity = 9.81

// Vehicle classes recognized by the passability model.
type Vehicle string

const (
	VehicleCar   Vehicle = "car"
	VehicleSUV   Vehicle = "suv"
	VehicleTruck Vehicle = "truck"
)

// HydrologicalRisk maps water depth and flow velocity to a risk score via
// the energy head E = depth + v^2/(2g), piecewise-linear per band.
func HydrologicalRisk(depthM, velocityMS float64) float64 {
	if depthM < 0 {
		depthM = 0
	}
	e := depthM + velocityMS*velocityMS/(2*gravity)

	switch {
	case e < 0.3:
		return clamp01(e / 0.3 * 0.4)
	case e < 0.6:
		return clamp01(0.4 + (e-0.3)/0.3*0.3)
	case e < 1.0:
		return clamp01(0.7 + (e-0.6)/0.4*0.3)
	default:
		return 1.0
	}
}

// classVulnerability is the base infrastructure vulnerability per highway
// class. Higher classes are engineered with better drainage.
var classVulnerability = map[string]float64{
	"motorway":     0.1,
	"trunk":        0.1,
	"primary":      0.2,
	"secondary":    0.3,
	"tertiary":     0.4,
	"residential":  0.5,
	"unclassified": 0.6,
	"service":      0.6,
}

// InfrastructureRisk scales the class vulnerability by observed depth.
func InfrastructureRisk(highwayClass string, depthM float64) float64 {
	base, ok := classVulnerability[highwayClass]
	if !ok {
		base = 0.6
	}
	if depthM < 0 {
		depthM = 0
	}
	scale := 1 + math.Min(depthM*0.5, 1.0)
	return clamp01(base * scale)
}

// CompositeRisk blends the four risk components with fixed weights.
func CompositeRisk(hydro, infra, congestion, historical float64) float64 {
	return clamp01(0.50*hydro + 0.25*infra + 0.15*clamp01(congestion) + 0.10*clamp01(historical))
}

// DepthToRisk maps raw flood depth to risk. Monotonically non-decreasing;
// the slope flattens past 0.6 m because anything deeper is already near
// impassable for light vehicles.
func DepthToRisk(depthM float64) float64 {
	switch {
	case depthM <= 0:
		return 0
	case depthM <= 0.3:
		return depthM
	case depthM <= 0.6:
		return 0.3 + (depthM-0.3)*1.0
	case depthM <= 1.0:
		return 0.6 + (depthM-0.6)*0.5
	default:
		return math.Min(0.8+(depthM-1.0)*0.2, 1.0)
	}
}

// TemporalDecay reduces a risk score by its age with exponential half-life
// decay. A non-positive half-life means no decay.
func TemporalDecay(risk, ageSeconds, halfLifeSeconds float64) float64 {
	if halfLifeSeconds <= 0 || ageSeconds <= 0 {
		return clamp01(risk)
	}
	return clamp01(risk * math.Pow(2, -ageSeconds/halfLifeSeconds))
}

// passabilityThreshold holds the static and flowing depth limits per
// vehicle. Flowing water shifts the judgment to the flowing column once
// velocity reaches 0.5 m/s.
type passabilityThreshold struct {
	staticM  float64
	flowingM float64
}

var passabilityTable = map[Vehicle]passabilityThreshold{
	VehicleCar:   {staticM: 0.3, flowingM: 0.4},
	VehicleSUV:   {staticM: 0.5, flowingM: 0.6},
	VehicleTruck: {staticM: 0.6, flowingM: 0.7},
}

// Passability judges whether a vehicle can traverse water of the given
// depth and velocity. Confidence degrades near the threshold.
func Passability(depthM, velocityMS float64, vehicle Vehicle) (passable bool, confidence float64, reason string) {
	th, ok := passabilityTable[vehicle]
	if !ok {
		th = passabilityTable[VehicleCar]
	}

	if depthM <= 0 {
		return true, 1.0, "no standing water"
	}

	limit := th.staticM
	kind := "static"
	if velocityMS >= 0.5 {
		limit = th.flowingM
		kind = "flowing"
	}

	margin := math.Abs(depthM-limit) / limit
	confidence = clamp01(0.5 + margin/2)

	if depthM <= limit {
		return true, confidence, "depth within " + kind + " threshold"
	}
	return false, confidence, "depth exceeds " + kind + " threshold"
}

// TravelTimeFactor returns the multiplier applied to base travel time for
// a segment at the given risk.
func TravelTimeFactor(risk float64) float64 {
	risk = clamp01(risk)
	switch {
	case risk < 0.3:
		return 1 + risk*0.3
	case risk < 0.6:
		return 1.1 + (risk-0.3)*0.6
	default:
		return 1.3 + (risk-0.6)*0.5
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
