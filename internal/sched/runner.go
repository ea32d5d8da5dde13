// Package sched runs named background jobs on fixed intervals.
package sched

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one invocation of a scheduled task. Errors are logged, not fatal;
// the runner keeps ticking.
type Job func(ctx context.Context) error

// Runner invokes a job every interval until stopped.
type Runner struct {
	name     string
	interval time.Duration
	job      Job

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner for the named job.
func NewRunner(name string, interval time.Duration, job Job) *Runner {
	return &Runner{name: name, interval: interval, job: job}
}

// Start launches the loop. The first run happens after one full interval.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop(ctx)
	slog.Info("runner started", "job", r.name, "interval", r.interval)
}

// Stop cancels the loop and waits for an in-flight run to finish.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	slog.Info("runner stopped", "job", r.name)
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	start := time.Now()
	if err := r.job(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("scheduled job failed", "job", r.name, "err", err)
		return
	}
	slog.Debug("scheduled job complete", "job", r.name, "duration", time.Since(start))
}
