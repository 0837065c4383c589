// Package schedule runs named jobs on cron specs.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fieldops-etl/internal/logging"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// cronLogger routes cron's own messages to the debug log.
type cronLogger struct{}

func (cronLogger) Printf(format string, v ...interface{}) {
	logging.WithFields(logging.Fields{"component": "cron"}).Logf(logging.Debug, format, v...)
}

// Scheduler wraps a cron runner with named jobs that can also be run on demand.
type Scheduler struct {
	cron    *cron.Cron
	timeout time.Duration

	mu   sync.Mutex
	jobs map[string]Job
}

// New returns a scheduler using standard five-field specs. Each run gets a
// context bounded by timeout; 0 means no bound.
func New(timeout time.Duration) *Scheduler {
	logger := cron.PrintfLogger(cronLogger{})
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		timeout: timeout,
		jobs:    make(map[string]Job),
	}
}

// Add registers fn under name on spec.
func (s *Scheduler) Add(spec, name string, fn Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job '%s' is already scheduled", name)
	}
	if _, err := s.cron.AddFunc(spec, func() { _ = s.run(name, fn) }); err != nil {
		return fmt.Errorf("invalid schedule '%s' for job '%s': %w", spec, name, err)
	}
	s.jobs[name] = fn
	logging.Logf(logging.Info, "Scheduled job '%s' on '%s'.", name, spec)
	return nil
}

func (s *Scheduler) run(name string, fn Job) error {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	entry := logging.WithFields(logging.Fields{"job": name})
	entry.Logf(logging.Info, "Scheduled job started.")
	start := time.Now()
	if err := fn(ctx); err != nil {
		entry.Logf(logging.Error, "Scheduled job failed after %s: %v", time.Since(start).Round(time.Millisecond), err)
		return err
	}
	entry.Logf(logging.Info, "Scheduled job finished in %s.", time.Since(start).Round(time.Millisecond))
	return nil
}

// RunNow runs the named job synchronously.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	fn, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no scheduled job named '%s'", name)
	}
	return s.run(name, fn)
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int { return len(s.cron.Entries()) }

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }
