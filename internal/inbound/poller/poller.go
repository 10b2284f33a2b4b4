package poller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyRunning is returned when another process holds the connected
// marker.
var ErrAlreadyRunning = errors.New("poller: another run holds the connected marker")

// Poller owns one bounded polling run: connect, drain, sleep, repeat until
// the duration expires or a stop marker appears.
type Poller struct {
	connector Connector
	mailbox   Mailbox
	deliver   DeliverFunc
	markers   MarkerStore

	maxDuration   time.Duration
	sleep         time.Duration
	maxReconnects int
	autoReconnect bool
	logger        *log.Logger
	now           func() time.Time
	pause         func(ctx context.Context, d time.Duration)
}

// PollerOption customizes a Poller.
type PollerOption func(*Poller)

// NewPoller builds a poller over the given connector and mailbox,
// delivering each message through deliver.
func NewPoller(connector Connector, box Mailbox, deliver DeliverFunc, markers MarkerStore, opts ...PollerOption) *Poller {
	p := &Poller{
		connector:     connector,
		mailbox:       box,
		deliver:       deliver,
		markers:       markers,
		maxDuration:   10 * time.Minute,
		sleep:         15 * time.Second,
		maxReconnects: 3,
		logger:        log.Default(),
		now:           time.Now,
		pause:         sleepCtx,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// WithMaxDuration bounds the total run length.
func WithMaxDuration(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.maxDuration = d
		}
	}
}

// WithSleep sets the pause between cycles.
func WithSleep(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d >= 0 {
			p.sleep = d
		}
	}
}

// WithMaxReconnects bounds consecutive connection failures before the run
// gives up.
func WithMaxReconnects(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.maxReconnects = n
		}
	}
}

// WithAutoReconnect leaves a reconnect marker behind on fatal exit so a
// supervisor restarts the run.
func WithAutoReconnect(enabled bool) PollerOption {
	return func(p *Poller) { p.autoReconnect = enabled }
}

// WithPollerLogger overrides the run logger.
func WithPollerLogger(logger *log.Logger) PollerOption {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the wall clock, primarily for tests.
func WithClock(now func() time.Time) PollerOption {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

func withPause(pause func(ctx context.Context, d time.Duration)) PollerOption {
	return func(p *Poller) {
		if pause != nil {
			p.pause = pause
		}
	}
}

// Run executes one bounded polling run. It refuses to start while another
// run holds the connected marker, checks the stop marker once per cycle,
// and exits cleanly when the duration expires. Consecutive connection
// failures beyond the bound are fatal: all markers are cleared, and when
// auto-reconnect is on a reconnect marker is left for the supervisor.
func (p *Poller) Run(ctx context.Context) error {
	won, err := p.markers.Set(ctx, MarkerConnected)
	if err != nil {
		return err
	}
	if !won {
		return ErrAlreadyRunning
	}
	runID := uuid.NewString()
	p.logf("poller: run %s started (%s %s@%s)", runID, p.connector.Name(), p.mailbox.Username, p.mailbox.Host)

	defer func() {
		cleanup := context.WithoutCancel(ctx)
		if err := p.markers.Clear(cleanup, MarkerConnected); err != nil {
			p.logf("poller: run %s: clear connected marker: %v", runID, err)
		}
	}()

	deadline := p.now().Add(p.maxDuration)
	failures := 0
	var session Session
	defer func() {
		if session != nil {
			_ = session.Close()
		}
	}()

	for {
		if stop, err := p.markers.Exists(ctx, MarkerStop); err != nil {
			return fmt.Errorf("poller: run %s: check stop marker: %w", runID, err)
		} else if stop {
			_ = p.markers.Clear(ctx, MarkerStop)
			p.logf("poller: run %s: stop requested, exiting", runID)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !p.now().Before(deadline) {
			p.logf("poller: run %s: duration expired", runID)
			if p.autoReconnect {
				if _, err := p.markers.Set(ctx, MarkerReconnect); err != nil {
					p.logf("poller: run %s: set reconnect marker: %v", runID, err)
				}
			}
			return nil
		}

		if session == nil {
			session, err = p.connector.Connect(ctx, p.mailbox)
			if err != nil {
				failures++
				p.logf("poller: run %s: connect attempt %d failed: %v", runID, failures, err)
				if failures >= p.maxReconnects {
					return p.fatal(ctx, runID, fmt.Errorf("poller: run %s: giving up after %d connection failures: %w", runID, failures, err))
				}
				p.pause(ctx, p.sleep)
				continue
			}
			failures = 0
		}

		n, err := session.FetchBatch(ctx, p.deliver)
		if err != nil {
			p.logf("poller: run %s: batch failed: %v", runID, err)
			_ = session.Close()
			session = nil
			failures++
			if failures >= p.maxReconnects {
				return p.fatal(ctx, runID, fmt.Errorf("poller: run %s: giving up after %d session failures: %w", runID, failures, err))
			}
			continue
		}
		if n > 0 {
			p.logf("poller: run %s: delivered %d messages", runID, n)
		}

		if err := session.Noop(ctx); err != nil {
			p.logf("poller: run %s: liveness check failed: %v", runID, err)
			_ = session.Close()
			session = nil
		}

		p.pause(ctx, p.sleep)
	}
}

// fatal clears every marker so a wedged state is never left behind, then
// leaves only the reconnect marker when a supervisor should retry.
func (p *Poller) fatal(ctx context.Context, runID string, cause error) error {
	cleanup := context.WithoutCancel(ctx)
	for _, name := range []string{MarkerReconnect, MarkerStop} {
		if err := p.markers.Clear(cleanup, name); err != nil {
			p.logf("poller: run %s: clear marker %s: %v", runID, name, err)
		}
	}
	if p.autoReconnect {
		if _, err := p.markers.Set(cleanup, MarkerReconnect); err != nil {
			p.logf("poller: run %s: set reconnect marker: %v", runID, err)
		}
	}
	return cause
}

// RequestStop asks a live run to exit at its next cycle boundary.
func RequestStop(ctx context.Context, markers MarkerStore) error {
	_, err := markers.Set(ctx, MarkerStop)
	return err
}

func (p *Poller) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
