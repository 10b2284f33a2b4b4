package runner

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTask struct {
	name     string
	schedule string
	runs     atomic.Int32
	err      error
}

func (t *countingTask) Name() string           { return t.name }
func (t *countingTask) Schedule() string       { return t.schedule }
func (t *countingTask) Timeout() time.Duration { return time.Second }

func (t *countingTask) Run(context.Context) error {
	t.runs.Add(1)
	return t.err
}

func TestTaskRegistry(t *testing.T) {
	reg := NewTaskRegistry()
	task := &countingTask{name: "mailbox_poll", schedule: "* * * * *"}
	reg.Register(task)

	got, ok := reg.Get("mailbox_poll")
	require.True(t, ok)
	assert.Equal(t, task, got)

	_, ok = reg.Get("missing")
	assert.False(t, ok)
	assert.Len(t, reg.All(), 1)
}

func TestRunnerRejectsBadSchedule(t *testing.T) {
	reg := NewTaskRegistry()
	reg.Register(&countingTask{name: "broken", schedule: "not a cron line"})
	r := NewRunner(reg, WithRunnerLogger(log.New(&strings.Builder{}, "", 0)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	err := r.Start(ctx)
	require.ErrorContains(t, err, "schedule broken")
}

func TestRunnerStopsOnContextCancel(t *testing.T) {
	reg := NewTaskRegistry()
	reg.Register(&countingTask{name: "noop", schedule: "* * * * *"})
	r := NewRunner(reg, WithRunnerLogger(log.New(&strings.Builder{}, "", 0)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

func TestRunnerExecuteLogsFailure(t *testing.T) {
	var buf strings.Builder
	r := NewRunner(NewTaskRegistry(), WithRunnerLogger(log.New(&buf, "", 0)))

	task := &countingTask{name: "failing", schedule: "* * * * *", err: errors.New("mailbox unreachable")}
	r.execute(context.Background(), task)

	assert.Equal(t, int32(1), task.runs.Load())
	assert.Contains(t, buf.String(), "task failing failed")
	assert.Contains(t, buf.String(), "mailbox unreachable")
}
