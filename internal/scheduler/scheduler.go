package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked each time a job's trigger fires.
type TickFunc func(ctx context.Context, at time.Time) error

// Job is one independently timed unit of work.
type Job struct {
	Name       string
	Trigger    Trigger
	Run        TickFunc
	RunOnStart bool
	// Timeout bounds a single run; zero means no bound beyond ctx.
	Timeout time.Duration
}

// Options tune scheduler behaviour.
type Options struct {
	StartupDelay time.Duration
}

// Scheduler runs every job on its own timer. A job whose previous run is still
// in flight skips the new trigger instead of queueing it.
type Scheduler struct {
	opts    Options
	logger  zerolog.Logger
	runners []*runner
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Add registers a job. It must be called before Run.
func (s *Scheduler) Add(job Job) {
	if job.Trigger == nil || job.Run == nil {
		panic("scheduler job requires a trigger and a run func")
	}
	s.runners = append(s.runners, &runner{
		job:    job,
		logger: s.logger.With().Str("job", job.Name).Logger(),
	})
}

// Jobs lists registered job names.
func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.runners))
	for _, r := range s.runners {
		names = append(names, r.job.Name)
	}
	return names
}

// Run blocks until ctx is cancelled, driving each job from its own goroutine.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	var wg sync.WaitGroup
	for _, r := range s.runners {
		wg.Add(1)
		go func(r *runner) {
			defer wg.Done()
			s.loop(ctx, r)
		}(r)
	}
	wg.Wait()
	for _, r := range s.runners {
		r.wait()
	}
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, r *runner) {
	if r.job.RunOnStart {
		r.fire(ctx, time.Now().UTC())
	}

	next := r.job.Trigger.Next(time.Now())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = r.job.Trigger.Next(time.Now())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		r.logger.Debug().Time("next_run", next).Msg("waiting for next trigger")

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if ctx.Err() != nil {
			return
		}

		r.fire(ctx, next.UTC())
		next = r.job.Trigger.Next(next)
	}
}

// Stats reports per-job counters.
type Stats struct {
	Started int64
	Skipped int64
	Failed  int64
}

// Stats returns the counters for the named job.
func (s *Scheduler) Stats(name string) (Stats, bool) {
	for _, r := range s.runners {
		if r.job.Name == name {
			return r.stats(), true
		}
	}
	return Stats{}, false
}

type runner struct {
	job     Job
	logger  zerolog.Logger
	running atomic.Bool
	started atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
	wg      sync.WaitGroup
}

// fire moves the job Idle -> Running and executes it on its own goroutine.
// It returns false when the previous run is still in flight.
func (r *runner) fire(ctx context.Context, at time.Time) bool {
	if !r.running.CompareAndSwap(false, true) {
		r.skipped.Add(1)
		r.logger.Warn().Time("at", at).Msg("previous run still in progress, skipping trigger")
		return false
	}
	r.started.Add(1)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.running.Store(false)
		defer func() {
			if rec := recover(); rec != nil {
				r.failed.Add(1)
				r.logger.Error().Interface("panic", rec).Time("at", at).Msg("job panicked")
			}
		}()

		runCtx := ctx
		if r.job.Timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, r.job.Timeout)
			defer cancel()
		}

		started := time.Now()
		r.logger.Debug().Time("at", at).Msg("executing scheduled run")
		if err := r.job.Run(runCtx, at); err != nil {
			r.failed.Add(1)
			r.logger.Error().Err(err).Time("at", at).Msg("run failed")
			return
		}
		r.logger.Debug().Dur("took", time.Since(started)).Msg("run finished")
	}()
	return true
}

func (r *runner) wait() {
	r.wg.Wait()
}

func (r *runner) stats() Stats {
	return Stats{Started: r.started.Load(), Skipped: r.skipped.Load(), Failed: r.failed.Load()}
}
