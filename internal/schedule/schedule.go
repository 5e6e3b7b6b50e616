// Package schedule repeats a sweep on a cron schedule for long-running
// deployments that do not use the system cron.
package schedule

import (
	"context"
	"fmt"
	"log/slog"

	cronv3 "github.com/robfig/cron/v3"
)

// Job is one sweep invocation.
type Job func(ctx context.Context)

// Runner owns the cron scheduler. Overlapping runs are skipped so at most one
// sweep is active at a time.
type Runner struct {
	log  *slog.Logger
	cron *cronv3.Cron
}

func NewRunner(log *slog.Logger) *Runner {
	logger := cronLogger{log: log}
	c := cronv3.New(
		cronv3.WithSeconds(),
		cronv3.WithLogger(logger),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(logger),
			cronv3.Recover(logger),
		),
	)
	return &Runner{log: log, cron: c}
}

// Add registers job under spec, a cron expression with a seconds field.
func (r *Runner) Add(ctx context.Context, spec string, job Job) (cronv3.EntryID, error) {
	id, err := r.cron.AddFunc(spec, func() {
		if ctx.Err() != nil {
			return
		}
		job(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("add schedule %q: %w", spec, err)
	}
	r.log.Info("registered sweep", "schedule", spec)
	return id, nil
}

// Run starts the scheduler and blocks until ctx is done and any running job
// has finished.
func (r *Runner) Run(ctx context.Context) {
	r.cron.Start()
	<-ctx.Done()
	r.log.Info("stopping scheduler")
	<-r.cron.Stop().Done()
}

type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
