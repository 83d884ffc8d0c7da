package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is one named recurring trigger. Next computes the following fire
// time from the current time, so daily and weekly jobs can express
// weekday rules a fixed period cannot.
type Job struct {
	Name     string
	NextFire time.Time
	Next     func(after time.Time) time.Time
	Handler  func(ctx context.Context)
}

// every returns a Next function for a fixed-period job
func every(period time.Duration) func(time.Time) time.Time {
	return func(after time.Time) time.Time {
		return after.Add(period)
	}
}

// Runner drives the job table from a single goroutine. Handlers run
// sequentially; a slow handler delays later fires rather than overlapping
// them, which is the cooperative model the in-flight flags assume.
type Runner struct {
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	jobs map[string]*Job
	wake chan struct{}
}

// NewRunner creates an empty job runner
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{
		logger: logger,
		now:    time.Now,
		jobs:   make(map[string]*Job),
		wake:   make(chan struct{}, 1),
	}
}

// Set installs or replaces a named job and wakes the loop
func (r *Runner) Set(job *Job) {
	r.mu.Lock()
	r.jobs[job.Name] = job
	r.mu.Unlock()
	r.notify()
}

// Remove deletes a named job; unknown names are ignored
func (r *Runner) Remove(name string) {
	r.mu.Lock()
	delete(r.jobs, name)
	r.mu.Unlock()
	r.notify()
}

// Has reports whether a named job is installed
func (r *Runner) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[name]
	return ok
}

func (r *Runner) notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run drives the job table until the context is cancelled
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("scheduler loop started")

	for {
		job, wait := r.nextDue()

		var timer <-chan time.Time
		if job != nil {
			t := time.NewTimer(wait)
			timer = t.C
			select {
			case <-ctx.Done():
				t.Stop()
				r.logger.Info("scheduler loop shutting down")
				return ctx.Err()
			case <-r.wake:
				t.Stop()
				continue
			case <-timer:
			}
		} else {
			select {
			case <-ctx.Done():
				r.logger.Info("scheduler loop shutting down")
				return ctx.Err()
			case <-r.wake:
				continue
			}
		}

		r.fire(ctx, job.Name)
	}
}

// nextDue returns the job with the earliest fire time and how long until it
func (r *Runner) nextDue() (*Job, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var next *Job
	for _, job := range r.jobs {
		if next == nil || job.NextFire.Before(next.NextFire) {
			next = job
		}
	}
	if next == nil {
		return nil, 0
	}

	wait := next.NextFire.Sub(r.now())
	if wait < 0 {
		wait = 0
	}
	return next, wait
}

// fire runs one job by name and reschedules it. The job is looked up again
// under the lock so a concurrent Remove wins over a pending fire.
func (r *Runner) fire(ctx context.Context, name string) {
	r.mu.Lock()
	job, ok := r.jobs[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	job.NextFire = job.Next(r.now())
	handler := job.Handler
	r.mu.Unlock()

	r.logger.Debug("firing scheduled job", "job", name)
	handler(ctx)
}
