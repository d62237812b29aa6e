package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/masfro/masfro/pkg/geo"
	"github.com/masfro/masfro/pkg/routing"
)

var routeCmd = &cobra.Command{
	Use:   "route",
	Args:  cobra.NoArgs,
	Short: "Compute one route from the command line",
	Long:  `Loads the graph, computes a single risk-aware route and prints it as JSON.`,
	RunE:  runRoute,
}

func init() {
	routeCmd.Flags().Float64("start-lat", 0, "start latitude")
	routeCmd.Flags().Float64("start-lon", 0, "start longitude")
	routeCmd.Flags().Float64("end-lat", 0, "end latitude")
	routeCmd.Flags().Float64("end-lon", 0, "end longitude")
	routeCmd.Flags().String("mode", "balanced", "routing mode (safest, balanced, fastest)")
	routeCmd.Flags().String("vehicle", "car", "vehicle class (car, suv, truck)")
	routeCmd.Flags().Bool("baseline", false, "also print the risk-blind shortest path")
}

func runRoute(cmd *cobra.Command, args []string) error {
	startLat, _ := cmd.Flags().GetFloat64("start-lat")
	startLon, _ := cmd.Flags().GetFloat64("start-lon")
	endLat, _ := cmd.Flags().GetFloat64("end-lat")
	endLon, _ := cmd.Flags().GetFloat64("end-lon")
	mode, _ := cmd.Flags().GetString("mode")
	vehicle, _ := cmd.Flags().GetString("vehicle")
	withBaseline, _ := cmd.Flags().GetBool("baseline")

	start := geo.Point{Lat: startLat, Lon: startLon}
	end := geo.Point{Lat: endLat, Lon: endLon}
	if !start.Valid() || !end.Valid() {
		return fmt.Errorf("invalid coordinates")
	}

	a, err := buildApp(true)
	if err != nil {
		return err
	}

	prefs := routing.DefaultPreferences()
	prefs.Mode = routing.Mode(mode)
	prefs.Vehicle = parseVehicle(vehicle)

	req := routing.Request{Start: start, End: end, Preferences: prefs}
	route, err := a.engine.ComputeRoute(context.Background(), req)
	if err != nil {
		return fmt.Errorf("route computation failed: %w", err)
	}

	out := map[string]any{"route": route}
	if withBaseline {
		if baseline, berr := a.engine.ComputeBaseline(context.Background(), req); berr == nil {
			out["baseline"] = baseline
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
