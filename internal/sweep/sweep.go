// Package sweep runs the periodic circulation jobs: flagging overdue loans and sending
// overdue notices and due-date reminders.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/telemetry"
)

// Job is one periodic task. Run reports how many records it touched.
type Job struct {
	Name       string
	Interval   time.Duration
	RunOnStart bool
	Run        func(ctx context.Context, now time.Time) (int64, error)
}

// Scheduler runs each job on its own ticker. Runs of the same job never overlap.
type Scheduler struct {
	jobs       []Job
	runTimeout time.Duration
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	now        func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock replaces the wall clock passed to jobs.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithRunTimeout bounds a single job run. A run keeps going after shutdown starts until it
// finishes or this timeout elapses.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.runTimeout = d }
}

func New(jobs []Job, opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:       jobs,
		runTimeout: 5 * time.Minute,
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks until ctx is cancelled and every in-flight run has finished.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			return fmt.Errorf("job %q: interval must be positive", job.Name)
		}
	}

	s.logger.InfoContext(ctx, "sweep scheduler starting", "jobs", len(s.jobs))

	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.loop(ctx, job)
		}(job)
	}
	wg.Wait()

	s.logger.Info("sweep scheduler stopped")
	return nil
}

// RunOnce runs every job a single time, in order, and joins their errors.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs []error
	for _, job := range s.jobs {
		if err := s.execute(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", job.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	if job.RunOnStart {
		_ = s.execute(ctx, job)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.execute(ctx, job)
		}
	}
}

// execute runs job under a context that survives cancellation of ctx but not the run timeout.
func (s *Scheduler) execute(ctx context.Context, job Job) (err error) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.runTimeout)
	defer cancel()

	start := time.Now()
	var affected int64
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
		s.metrics.RecordSweep(runCtx, job.Name, affected, err)
		if err != nil {
			s.logger.ErrorContext(runCtx, "sweep job failed",
				"job", job.Name,
				"duration", time.Since(start),
				"error", err,
			)
			return
		}
		s.logger.InfoContext(runCtx, "sweep job finished",
			"job", job.Name,
			"affected", affected,
			"duration", time.Since(start),
		)
	}()

	affected, err = job.Run(runCtx, s.now())
	return err
}
