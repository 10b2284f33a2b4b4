// Package runner schedules recurring background work, chiefly the mailbox
// polling runs, on cron expressions.
package runner

import (
	"context"
	"time"
)

// Task is a schedulable unit of background work.
type Task interface {
	// Name identifies the task in logs.
	Name() string

	// Schedule is the cron expression the task fires on.
	Schedule() string

	// Run executes one firing of the task.
	Run(ctx context.Context) error

	// Timeout bounds a single firing.
	Timeout() time.Duration
}

// TaskRegistry holds the registered tasks.
type TaskRegistry struct {
	tasks map[string]Task
}

// NewTaskRegistry returns an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]Task)}
}

// Register adds a task, replacing any previous task of the same name.
func (r *TaskRegistry) Register(task Task) {
	r.tasks[task.Name()] = task
}

// Get returns a task by name.
func (r *TaskRegistry) Get(name string) (Task, bool) {
	task, ok := r.tasks[name]
	return task, ok
}

// All returns the registered tasks.
func (r *TaskRegistry) All() map[string]Task {
	return r.tasks
}
