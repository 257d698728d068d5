// Package scheduler runs the long-lived background tasks of the gimbal
// (driver link writer and reader, web server) and joins them.
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/gimbal/internal/debug"
)

// Task is a long-lived unit of work. It must return when ctx is done.
type Task func(ctx context.Context) error

// Named pairs a task with a name used in logs.
type Named struct {
	Name string
	Task Task
}

// Run starts every task and waits for all of them to return. The first task
// that fails cancels the context shared by the others; Run then returns that
// error once everyone has stopped. A task returning context.Canceled is a
// normal shutdown, not a failure.
func Run(ctx context.Context, tasks ...Task) error {
	named := make([]Named, len(tasks))
	for i, t := range tasks {
		named[i] = Named{Task: t}
	}
	return RunNamed(ctx, named...)
}

// RunNamed is Run with task names in the logs.
func RunNamed(ctx context.Context, tasks ...Named) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, nt := range tasks {
		if nt.Task == nil {
			continue
		}
		g.Go(func() error {
			debug.Verbose("scheduler: task %q started", nt.Name)
			err := nt.Task(gctx)
			if err == nil || errors.Is(err, context.Canceled) {
				debug.Verbose("scheduler: task %q stopped", nt.Name)
				return nil
			}
			debug.Warn("scheduler: task %q failed: %v", nt.Name, err)
			if nt.Name != "" {
				return fmt.Errorf("%s: %w", nt.Name, err)
			}
			return err
		})
	}
	return g.Wait()
}
