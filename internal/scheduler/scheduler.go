// README: Periodic job runner for the timeout sweep and mirror reconciliation.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dispatchd/internal/logger"
	"dispatchd/internal/metrics"
)

const (
	JobReassign  = "reassign"
	JobReconcile = "reconcile"
)

type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Locker grants at most one replica the right to run a job tick.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type Runner struct {
	jobs     []Job
	locker   Locker
	leaseTTL time.Duration
	metrics  *metrics.Metrics
	log      logger.Logger
}

type Option func(*Runner)

// WithLocker enables leasing; without it every replica runs every tick.
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(r *Runner) {
		r.locker = l
		r.leaseTTL = ttl
	}
}

func WithMetrics(m *metrics.Metrics) Option { return func(r *Runner) { r.metrics = m } }

func NewRunner(log logger.Logger, opts ...Option) *Runner {
	r := &Runner{log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runner) Add(j Job) {
	r.jobs = append(r.jobs, j)
}

func (r *Runner) Jobs() []Job {
	return append([]Job(nil), r.jobs...)
}

// Run ticks every job until ctx is cancelled. A job's ticks never overlap.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, j := range r.jobs {
		if j.Interval <= 0 {
			r.log.Warnf("job %s has no interval, not scheduled", j.Name)
			continue
		}
		wg.Add(1)
		go func(j Job) {
			defer wg.Done()
			r.loop(ctx, j)
		}(j)
	}
	wg.Wait()
}

func (r *Runner) loop(ctx context.Context, j Job) {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	r.log.Infof("job %s scheduled every %s", j.Name, j.Interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx, j)
		}
	}
}

func (r *Runner) tick(ctx context.Context, j Job) {
	if r.locker != nil {
		ok, err := r.locker.Acquire(ctx, j.Name, r.leaseTTL)
		if err != nil {
			r.log.Errorf("job %s lease: %v", j.Name, err)
			return
		}
		if !ok {
			r.log.Debugf("job %s leased by another replica", j.Name)
			return
		}
	}
	_ = r.RunOnce(ctx, j)
}

// RunNow runs the named job immediately, without taking a lease.
func (r *Runner) RunNow(ctx context.Context, name string) error {
	for _, j := range r.jobs {
		if j.Name == name {
			return r.RunOnce(ctx, j)
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

// RunOnce executes j, converting a panic into an error.
func (r *Runner) RunOnce(ctx context.Context, j Job) (err error) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job %s panicked: %v", j.Name, rec)
		}
		d := time.Since(start)
		r.metrics.JobRun(j.Name, d, err)
		if err != nil {
			r.log.Errorf("job %s failed after %s: %v", j.Name, d, err)
			return
		}
		r.log.Infof("job %s finished in %s", j.Name, d)
	}()
	return j.Run(ctx)
}
