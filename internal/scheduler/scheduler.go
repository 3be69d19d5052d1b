package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// JobFunc is one unit of batch work. A returned error is logged; the next tick retries
type JobFunc func(ctx context.Context) error

// Trigger yields the delay until the next run, measured from now
type Trigger func(now time.Time) time.Duration

type job struct {
	name       string
	trigger    Trigger
	runOnStart bool
	run        JobFunc
}

// Scheduler fires batch jobs from timers. Each job runs to completion before its
// next run is scheduled, so a job never overlaps itself
type Scheduler struct {
	jobs   []job
	logger *slog.Logger
	now    func() time.Time
}

func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.With("component", "scheduler"),
		now:    time.Now,
	}
}

// Every runs fn at a fixed interval. With runOnStart the first run happens immediately
func (s *Scheduler) Every(name string, interval time.Duration, runOnStart bool, fn JobFunc) *Scheduler {
	s.jobs = append(s.jobs, job{
		name:       name,
		trigger:    func(time.Time) time.Duration { return interval },
		runOnStart: runOnStart,
		run:        fn,
	})
	return s
}

// Daily runs fn once a day at hour:00 in loc
func (s *Scheduler) Daily(name string, hour int, loc *time.Location, fn JobFunc) *Scheduler {
	s.jobs = append(s.jobs, job{
		name:    name,
		trigger: func(now time.Time) time.Duration { return NextDaily(now, hour, loc).Sub(now) },
		run:     fn,
	})
	return s
}

// Jobs lists the registered job names in registration order
func (s *Scheduler) Jobs() []string {
	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.name
	}
	return names
}

// Run blocks until ctx is canceled. It returns nil on a clean shutdown
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.jobs) == 0 {
		return errors.New("scheduler has no jobs")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, j := range s.jobs {
		g.Go(func() error {
			s.loop(gctx, j)
			return nil
		})
	}

	s.logger.Info("Scheduler started", "jobs", s.Jobs())
	err := g.Wait()
	s.logger.Info("Scheduler stopped")
	return err
}

func (s *Scheduler) loop(ctx context.Context, j job) {
	l := s.logger.With("job", j.name)

	if j.runOnStart {
		s.execute(ctx, j, l)
	}

	for {
		wait := j.trigger(s.now())
		if wait < 0 {
			wait = 0
		}
		l.Debug("Next run scheduled", "in", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.execute(ctx, j, l)
	}
}

func (s *Scheduler) execute(ctx context.Context, j job, l *slog.Logger) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	err := runSafely(ctx, j.run)
	if err != nil {
		if ctx.Err() != nil {
			l.Info("Job interrupted by shutdown", "error", err)
			return
		}
		l.Error("Job failed, next tick retries", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	l.Debug("Job finished", "duration_ms", time.Since(start).Milliseconds())
}

// runSafely keeps a panicking job from taking the process down with it
func runSafely(ctx context.Context, fn JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// NextDaily returns the first hour:00 in loc strictly after now
func NextDaily(now time.Time, hour int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, 0, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, 0, 0, 0, loc)
	}
	return next
}
