package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/masfro/masfro/pkg/simulation"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Args:  cobra.NoArgs,
	Short: "Replay a flood scenario",
	Long: `Loads a scenario YAML file and runs it tick by tick against the live
graph, printing the per-tick fusion and routing summaries.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().String("scenario", "", "path to scenario YAML file")
	simulateCmd.Flags().String("mode", "", "override scenario mode (light, medium, heavy)")
	simulateCmd.Flags().Int("ticks", 0, "number of ticks to run (0 = full scenario)")
	simulateCmd.Flags().Bool("dry-run", false, "validate scenario without executing")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	scenarioPath, _ := cmd.Flags().GetString("scenario")
	if scenarioPath == "" {
		return fmt.Errorf("--scenario flag is required")
	}
	modeFlag, _ := cmd.Flags().GetString("mode")
	ticks, _ := cmd.Flags().GetInt("ticks")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	scenario, err := simulation.LoadScenario(scenarioPath)
	if err != nil {
		return fmt.Errorf("failed to load scenario: %w", err)
	}

	if dryRun {
		fmt.Printf("scenario %s is valid (%d frames)\n",
			scenario.Metadata.Name, len(scenario.Spec.Frames))
		return nil
	}

	a, err := buildApp(true)
	if err != nil {
		return err
	}

	if err := a.sim.Start(scenario, simulation.Mode(modeFlag)); err != nil {
		return fmt.Errorf("failed to start simulation: %w", err)
	}
	defer a.sim.Stop()

	enc := json.NewEncoder(os.Stdout)
	ctx := context.Background()
	for i := 0; ticks <= 0 || i < ticks; i++ {
		result, err := a.sim.RunTick(ctx)
		if err != nil {
			return fmt.Errorf("tick failed: %w", err)
		}
		if encErr := enc.Encode(result); encErr != nil {
			return encErr
		}
		if result.Finished {
			break
		}
	}

	status := a.sim.Status()
	a.log.Info("simulation finished",
		"ticks", status.Stats.TicksRun,
		"routes_answered", status.Stats.RoutesAnswered,
		"risky_edges", a.store.RiskyEdgeCount())
	return nil
}
