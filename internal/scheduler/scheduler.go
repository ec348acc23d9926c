// Package scheduler fires configured prompts on cron schedules, feeding
// them to a session exactly as if a user had typed them.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/coday/internal/config"
)

// parser accepts the 5-field subset: minute hour day month weekday.
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Submitter receives the fired prompt. *session.Session satisfies it.
type Submitter interface {
	Submit(text string) error
}

// Scheduler owns one cron runner over the project's scheduled runs.
// Schedules evaluate in UTC.
type Scheduler struct {
	target Submitter
	logger *slog.Logger

	mu      sync.Mutex
	cr      *cron.Cron
	entries map[string]cron.EntryID
	started bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a scheduler submitting to target.
func New(target Submitter, opts ...Option) *Scheduler {
	s := &Scheduler{
		target:  target,
		logger:  slog.Default(),
		cr:      newCron(),
		entries: make(map[string]cron.EntryID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newCron() *cron.Cron {
	return cron.New(
		cron.WithParser(parser),
		cron.WithLocation(time.UTC),
	)
}

// Configure replaces the scheduled job set. Existing jobs not present in
// runs are dropped; every accepted job's next run time is logged.
func (s *Scheduler) Configure(runs []config.ScheduledRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := newCron()
	entries := make(map[string]cron.EntryID, len(runs))
	for _, run := range runs {
		run := run
		id, err := fresh.AddFunc(run.Cron, func() { s.fire(run) })
		if err != nil {
			return fmt.Errorf("schedule %q (%s): %w", run.ID, run.Cron, err)
		}
		entries[run.ID] = id
	}

	old := s.cr
	wasStarted := s.started
	s.cr = fresh
	s.entries = entries
	if wasStarted {
		old.Stop()
		fresh.Start()
		for _, run := range runs {
			s.logger.Info("scheduled run armed",
				"id", run.ID, "cron", run.Cron, "next", s.nextLocked(run.ID))
		}
	}
	return nil
}

// Start arms the schedules.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cr.Start()
	for id := range s.entries {
		s.logger.Info("scheduled run armed", "id", id, "next", s.nextLocked(id))
	}
}

// Stop disarms the schedules. Jobs already firing run to completion in
// the session's queue.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	s.cr.Stop()
}

// NextRun returns the next fire time of a configured job.
func (s *Scheduler) NextRun(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.nextLocked(id)
	return next, !next.IsZero()
}

func (s *Scheduler) nextLocked(id string) time.Time {
	entryID, ok := s.entries[id]
	if !ok {
		return time.Time{}
	}
	return s.cr.Entry(entryID).Next
}

func (s *Scheduler) fire(run config.ScheduledRun) {
	prompt := run.Prompt
	if run.Agent != "" {
		// Address the configured agent the way a user would.
		prompt = run.Agent + ", " + prompt
	}
	s.logger.Info("scheduled run firing", "id", run.ID, "agent", run.Agent)
	if err := s.target.Submit(prompt); err != nil {
		s.logger.Error("scheduled run rejected", "id", run.ID, "error", err)
	}
}

// NextAfter computes the next UTC fire time of a cron expression strictly
// after from.
func NextAfter(spec string, from time.Time) (time.Time, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron %q: %w", spec, err)
	}
	return sched.Next(from.UTC()), nil
}
