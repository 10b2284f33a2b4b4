package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/replypost-io/replypost/internal/runner"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler that triggers polling runs on a cron schedule",
	RunE:  runScheduler,
}

func runScheduler(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.store.Migrate(ctx); err != nil {
		return err
	}

	p, markers, err := a.buildPoller()
	if err != nil {
		return err
	}

	registry := runner.NewTaskRegistry()
	registry.Register(&runner.PollTask{
		Poller:   p,
		Cron:     cfg.Poll.Schedule,
		MaxRun:   cfg.Poll.MaxDuration,
		Markers:  markers,
		Restarts: cfg.Poll.AutoReconnect,
	})

	err = runner.NewRunner(registry, runner.WithRunnerLogger(a.logger)).Start(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
