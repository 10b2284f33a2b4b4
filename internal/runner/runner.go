package runner

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner executes registered tasks on their cron schedules.
type Runner struct {
	cron     *cron.Cron
	registry *TaskRegistry
	logger   *log.Logger
	wg       sync.WaitGroup
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// NewRunner builds a runner over the registry.
func NewRunner(registry *TaskRegistry, opts ...RunnerOption) *Runner {
	r := &Runner{
		cron:     cron.New(),
		registry: registry,
		logger:   log.New(os.Stdout, "[RUNNER] ", log.LstdFlags),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// WithRunnerLogger overrides the runner logger.
func WithRunnerLogger(logger *log.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Start schedules every registered task and blocks until the context is
// cancelled, then drains running firings.
func (r *Runner) Start(ctx context.Context) error {
	for name, task := range r.registry.All() {
		task := task
		r.logger.Printf("scheduling %s (%s)", name, task.Schedule())
		if _, err := r.cron.AddFunc(task.Schedule(), func() {
			r.execute(ctx, task)
		}); err != nil {
			return fmt.Errorf("runner: schedule %s: %w", name, err)
		}
	}
	r.cron.Start()
	r.logger.Printf("runner started with %d tasks", len(r.registry.All()))

	<-ctx.Done()
	r.Stop()
	return ctx.Err()
}

// execute runs one firing with the task's timeout.
func (r *Runner) execute(ctx context.Context, task Task) {
	r.wg.Add(1)
	defer r.wg.Done()

	taskCtx := ctx
	if timeout := task.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	if err := task.Run(taskCtx); err != nil {
		r.logger.Printf("task %s failed after %v: %v", task.Name(), time.Since(start), err)
		return
	}
	r.logger.Printf("task %s finished in %v", task.Name(), time.Since(start))
}

// Stop stops scheduling new firings and waits for running ones.
func (r *Runner) Stop() {
	stopped := r.cron.Stop()
	r.wg.Wait()
	<-stopped.Done()
	r.logger.Println("runner stopped")
}
