package runner

import (
	"context"
	"errors"
	"time"

	"github.com/replypost-io/replypost/internal/inbound/poller"
)

// PollTask triggers a mailbox polling run on a schedule. A run that loses
// the lock to a live run is not a failure; the schedule just fires again
// later.
type PollTask struct {
	Poller   *poller.Poller
	Cron     string
	MaxRun   time.Duration
	Markers  poller.MarkerStore
	Restarts bool // honor the reconnect marker left by expired runs
}

func (t *PollTask) Name() string     { return "mailbox_poll" }
func (t *PollTask) Schedule() string { return t.Cron }

func (t *PollTask) Timeout() time.Duration {
	if t.MaxRun > 0 {
		return t.MaxRun
	}
	return 15 * time.Minute
}

func (t *PollTask) Run(ctx context.Context) error {
	if t.Restarts && t.Markers != nil {
		// A reconnect marker means the previous run wants resuming; clear
		// it now that this firing takes over.
		if err := t.Markers.Clear(ctx, poller.MarkerReconnect); err != nil {
			return err
		}
	}
	err := t.Poller.Run(ctx)
	if errors.Is(err, poller.ErrAlreadyRunning) {
		return nil
	}
	return err
}
