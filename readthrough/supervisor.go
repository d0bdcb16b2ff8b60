package readthrough

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jonwraymond/marketcache/observe"
	"github.com/jonwraymond/marketcache/resilience"
)

// ErrTaskPanicked wraps a panic recovered from a background task.
var ErrTaskPanicked = errors.New("readthrough: background task panicked")

// maxRetainedErrors bounds the failures kept between calls to Wait.
const maxRetainedErrors = 32

// SupervisorStats counts background task outcomes.
type SupervisorStats struct {
	Started  int64
	Failed   int64
	Panicked int64
	Dropped  int64
}

// Supervisor runs detached background tasks.
//
// Contract:
// - Tasks run on a context that ignores the caller's cancellation.
// - At most MaxConcurrent tasks run at once; overflow is dropped, not queued.
// - A task error or panic is logged and retained for Wait; it never reaches
// the caller that scheduled the task.
// - Go and Wait may be called concurrently. After Close, Go drops every task.
type Supervisor struct {
	logger   observe.Logger
	bulkhead *resilience.Bulkhead

	mu     sync.Mutex
	idle   *sync.Cond
	active int
	closed bool
	errs   []error

	started  atomic.Int64
	failed   atomic.Int64
	panicked atomic.Int64
	dropped  atomic.Int64
}

// NewSupervisor creates a Supervisor running at most maxConcurrent tasks.
func NewSupervisor(logger observe.Logger, maxConcurrent int) *Supervisor {
	if logger == nil {
		logger = observe.NopLogger()
	}
	s := &Supervisor{
		logger:   logger.WithComponent("readthrough"),
		bulkhead: resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: maxConcurrent}),
	}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Go starts task in the background. It reports false when the task was
// dropped because every slot is busy or the supervisor is closed.
func (s *Supervisor) Go(ctx context.Context, name string, task func(ctx context.Context) error) bool {
	ctx = context.WithoutCancel(ctx)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.drop(ctx, name, "supervisor closed")
		return false
	}
	if err := s.bulkhead.Acquire(ctx); err != nil {
		s.mu.Unlock()
		s.drop(ctx, name, "no free slot")
		return false
	}
	s.active++
	s.mu.Unlock()

	s.started.Add(1)
	go func() {
		defer s.done()
		defer s.bulkhead.Release()

		if err := s.run(ctx, task); err != nil {
			s.record(ctx, name, err)
		}
	}()
	return true
}

// Wait blocks until every started task has finished and returns the
// failures recorded since the previous Wait.
func (s *Supervisor) Wait() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.active > 0 {
		s.idle.Wait()
	}
	errs := s.errs
	s.errs = nil
	return errors.Join(errs...)
}

// Close stops accepting tasks, then waits like Wait.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Wait()
}

func (s *Supervisor) done() {
	s.mu.Lock()
	s.active--
	if s.active == 0 {
		s.idle.Broadcast()
	}
	s.mu.Unlock()
}

func (s *Supervisor) drop(ctx context.Context, name, reason string) {
	s.dropped.Add(1)
	s.logger.Debug(ctx, "background task dropped",
		observe.Field{Key: "task", Value: name},
		observe.Field{Key: "reason", Value: reason},
	)
}

// Stats returns task counters.
func (s *Supervisor) Stats() SupervisorStats {
	return SupervisorStats{
		Started:  s.started.Load(),
		Failed:   s.failed.Load(),
		Panicked: s.panicked.Load(),
		Dropped:  s.dropped.Load(),
	}
}

func (s *Supervisor) run(ctx context.Context, task func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.panicked.Add(1)
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return task(ctx)
}

func (s *Supervisor) record(ctx context.Context, name string, err error) {
	s.failed.Add(1)
	s.logger.Warn(ctx, "background task failed",
		observe.Field{Key: "task", Value: name},
		observe.Err(err),
	)
	s.mu.Lock()
	if len(s.errs) < maxRetainedErrors {
		s.errs = append(s.errs, fmt.Errorf("%s: %w", name, err))
	}
	s.mu.Unlock()
}
