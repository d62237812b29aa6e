package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/masfro/masfro/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Args:  cobra.NoArgs,
	Short: "Run the flood routing service",
	Long:  `Starts the agents, the scheduler and the HTTP API, and serves until interrupted.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp(false)
	if err != nil {
		return err
	}

	a.log.Info("masfro starting", "version", version,
		"nodes", a.store.NodeCount(), "edges", a.store.EdgeCount())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !a.cfg.Scheduler.Disabled {
		a.sched.Start(ctx)
		defer a.sched.Stop()
	} else {
		a.log.Warn("scheduler disabled, agents tick only on manual trigger")
	}

	srv := server.New(server.Deps{
		Config:       a.cfg,
		Logger:       a.log,
		Metrics:      a.metrics,
		Clock:        a.clk,
		Bus:          a.bus,
		Store:        a.store,
		Engine:       a.engine,
		EvacRepo:     a.evac,
		History:      a.history,
		Scout:        a.scout,
		Orchestrator: a.orch,
		Scheduler:    a.sched,
		Simulation:   a.sim,
	})

	return srv.Run(ctx)
}
