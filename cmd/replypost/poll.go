package main

import (
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/replypost-io/replypost/internal/inbound/poller"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run one bounded mailbox polling run",
	RunE:  runPoll,
}

var stopPollFlag bool

func init() {
	pollCmd.Flags().BoolVar(&stopPollFlag, "stop", false, "ask a live polling run to stop instead of starting one")
}

func runPoll(cmd *cobra.Command, _ []string) error {
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

	if stopPollFlag {
		if err := poller.RequestStop(ctx, markers); err != nil {
			return err
		}
		a.logger.Println("stop requested; the running poller exits at its next cycle")
		return nil
	}

	err = p.Run(ctx)
	if errors.Is(err, poller.ErrAlreadyRunning) {
		a.logger.Println("another polling run is active, nothing to do")
		return nil
	}
	return err
}
