package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
	version = "dev" // Will be set by build flags
)

var rootCmd = &cobra.Command{
	Use:   "masfro-server",
	Short: "Flood-aware route optimization service",
	Long: `MAS-FRO continuously fuses gauge-station levels, rainfall, flood-depth
rasters and crowdsourced reports into per-edge risk on a road graph, and
answers routing and evacuation queries that trade distance against risk.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Add subcommands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(simulateCmd)
}

// Commands are defined in separate files:
// - serveCmd in serve.go
// - routeCmd in route.go
// - simulateCmd in simulate.go

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
