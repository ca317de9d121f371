// Package scheduler starts sequence runs from cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Maughan-Lab/fabrial-sub000/pkg/schema"
)

const defaultTick = 30 * time.Second

// Job runs a sequence file on a cron schedule.
type Job struct {
	Name         string `json:"name"`
	Cron         string `json:"cron"`
	SequenceFile string `json:"sequence_file"`
}

// Launcher runs one sequence file to completion. Implemented by the command
// layer, which owns instruments and sinks.
type Launcher interface {
	RunSequence(ctx context.Context, sequenceFile string) (schema.Status, error)
}

// JobStatus is a snapshot of one job for display.
type JobStatus struct {
	Job
	NextRun    time.Time     `json:"next_run"`
	LastRun    *time.Time    `json:"last_run,omitempty"`
	LastStatus schema.Status `json:"last_status,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
}

type entry struct {
	job      Job
	schedule cron.Schedule
	next     time.Time
	last     *time.Time
	status   schema.Status
	err      string
}

// Scheduler checks its jobs on a ticker and launches those that are due.
// At most one scheduled run is in flight; a job that comes due meanwhile
// is skipped until its next slot.
type Scheduler struct {
	launcher Launcher
	logger   *slog.Logger
	tick     time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries []*entry
	cancel  context.CancelFunc
	done    chan struct{}

	running atomic.Bool
	runs    sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTick sets how often due jobs are checked.
func WithTick(d time.Duration) Option { return func(s *Scheduler) { s.tick = d } }

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// NewScheduler validates every job's cron expression and computes first runs.
func NewScheduler(jobs []Job, launcher Launcher, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Scheduler{launcher: launcher, logger: logger, tick: defaultTick, now: time.Now}
	for _, o := range opts {
		o(s)
	}

	now := s.now().UTC()
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if j.Name == "" || j.SequenceFile == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "scheduled job needs a name and a sequence_file")
		}
		if seen[j.Name] {
			return nil, schema.NewErrorf(schema.ErrCodeConflict, "scheduled job %q defined twice", j.Name)
		}
		seen[j.Name] = true
		sched, err := parser.Parse(j.Cron)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "job %q: parse cron expression %q", j.Name, j.Cron).WithCause(err)
		}
		s.entries = append(s.entries, &entry{job: j, schedule: sched, next: sched.Next(now)})
	}
	return s, nil
}

// CalculateNextRun computes the next run time for a cron expression.
func CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return schema.NewError(schema.ErrCodeConflict, "scheduler already started")
	}
	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Int("jobs", len(s.entries)))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

// runDue launches the first due job if nothing is in flight and moves every
// due job to its next slot.
func (s *Scheduler) runDue(ctx context.Context) {
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.next.After(now) {
			continue
		}
		e.next = e.schedule.Next(now)
		if !s.running.CompareAndSwap(false, true) {
			s.logger.Warn("scheduled run skipped, another run is in flight",
				slog.String("job", e.job.Name),
				slog.Time("next_run", e.next),
			)
			continue
		}
		s.runs.Add(1)
		go s.launch(ctx, e, now)
	}
}

func (s *Scheduler) launch(ctx context.Context, e *entry, at time.Time) {
	defer s.runs.Done()
	defer s.running.Store(false)

	s.logger.Info("running scheduled job",
		slog.String("job", e.job.Name),
		slog.String("sequence_file", e.job.SequenceFile),
	)
	final, err := s.launcher.RunSequence(ctx, e.job.SequenceFile)

	s.mu.Lock()
	defer s.mu.Unlock()
	e.last = &at
	e.status = final
	e.err = ""
	if err != nil {
		e.err = err.Error()
		s.logger.Error("scheduled job failed",
			slog.String("job", e.job.Name),
			slog.String("error", err.Error()),
		)
	}
}

// Jobs returns the state of every job in definition order.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, JobStatus{Job: e.job, NextRun: e.next, LastRun: e.last, LastStatus: e.status, LastError: e.err})
	}
	return out
}

// Stop ends the loop and waits for an in-flight run to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	s.runs.Wait()

	s.logger.Info("scheduler stopped")
	return nil
}
