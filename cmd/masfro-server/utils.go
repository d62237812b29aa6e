package main

import (
	"github.com/masfro/masfro/pkg/risk"
)

// parseVehicle maps a flag value to a vehicle class, defaulting to car.
func parseVehicle(s string) risk.Vehicle {
	switch risk.Vehicle(s) {
	case risk.VehicleSUV:
		return risk.VehicleSUV
	case risk.VehicleTruck:
		return risk.VehicleTruck
	default:
		return risk.VehicleCar
	}
}
