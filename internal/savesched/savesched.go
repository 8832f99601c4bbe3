// Package savesched coalesces bursts of save requests into single runs.
package savesched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/romshark/intlbuild/internal/metrics"
)

// DefaultDelay is the debounce window used when none is configured.
const DefaultDelay = 50 * time.Millisecond

var ErrClosed = errors.New("scheduler closed")

// Task is a save operation.
type Task[T any] func(ctx context.Context) (T, error)

// Result is the outcome of the run a request was served by.
type Result[T any] struct {
	Value T
	Err   error
}

type state uint8

const (
	stateIdle state = iota
	stateScheduled
	stateRunning
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateScheduled:
		return "scheduled"
	case stateRunning:
		return "running"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Scheduler runs at most one task at a time.
//
// Every request replaces the pending task and, unless a task is running,
// restarts the debounce timer. When the timer fires only the latest task
// runs and all requests registered before it started receive its result.
// Requests arriving during a run are served by a follow-up run
// scheduled when the current one finishes.
type Scheduler[T any] struct {
	delay   time.Duration
	log     zerolog.Logger
	metrics *metrics.Metrics

	lock    sync.Mutex
	state   state
	closed  bool
	gen     uint64 // invalidates timers that were stopped too late
	timer   *time.Timer
	task    Task[T]
	waiters []chan Result[T]
	runDone chan struct{} // closed when the current run finishes
}

func New[T any](delay time.Duration, log zerolog.Logger, m *metrics.Metrics) *Scheduler[T] {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Scheduler[T]{delay: delay, log: log, metrics: metrics.OrNew(m)}
}

// Submit requests task to run and returns a channel that receives
// the result of the run serving this request.
func (s *Scheduler[T]) Submit(task Task[T]) <-chan Result[T] {
	ch := make(chan Result[T], 1)

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		ch <- Result[T]{Err: ErrClosed}
		return ch
	}
	s.metrics.SaveRequests.Inc()
	s.task = task
	s.waiters = append(s.waiters, ch)

	switch s.state {
	case stateIdle, stateScheduled:
		s.state = stateScheduled
		s.armLocked()
	case stateRunning:
		// The running save schedules a follow-up when it finishes.
	}
	return ch
}

// Schedule submits task and waits for its result.
// Canceling ctx stops waiting but doesn't cancel the save.
func (s *Scheduler[T]) Schedule(ctx context.Context, task Task[T]) (T, error) {
	select {
	case r := <-s.Submit(task):
		return r.Value, r.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// armLocked (re)starts the debounce timer.
func (s *Scheduler[T]) armLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
	}
	gen := s.gen
	s.timer = time.AfterFunc(s.delay, func() { s.fire(gen) })
}

func (s *Scheduler[T]) fire(gen uint64) {
	s.lock.Lock()
	if gen != s.gen || s.state != stateScheduled {
		s.lock.Unlock()
		return
	}
	task, waiters := s.startLocked()
	s.lock.Unlock()
	s.execute(task, waiters)
}

// startLocked moves to running and takes the pending task and waiters.
func (s *Scheduler[T]) startLocked() (Task[T], []chan Result[T]) {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
	}
	s.state = stateRunning
	s.runDone = make(chan struct{})
	task, waiters := s.task, s.waiters
	s.task, s.waiters = nil, nil
	return task, waiters
}

func (s *Scheduler[T]) execute(task Task[T], waiters []chan Result[T]) {
	r := s.run(task)
	if r.Err != nil {
		s.metrics.Saves.WithLabelValues("error").Inc()
		s.log.Error().Err(r.Err).Int("requests", len(waiters)).Msg("save failed")
	} else {
		s.metrics.Saves.WithLabelValues("ok").Inc()
		s.log.Debug().Int("requests", len(waiters)).Msg("saved")
	}
	for _, ch := range waiters {
		ch <- r
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	close(s.runDone)
	if len(s.waiters) > 0 {
		s.state = stateScheduled
		s.armLocked()
		return
	}
	s.state = stateIdle
}

func (s *Scheduler[T]) run(task Task[T]) (r Result[T]) {
	defer func() {
		if p := recover(); p != nil {
			r = Result[T]{Err: fmt.Errorf("save panicked: %v", p)}
		}
	}()
	v, err := task(context.Background())
	return Result[T]{Value: v, Err: err}
}

// Flush runs pending work immediately and returns once the scheduler
// is idle.
func (s *Scheduler[T]) Flush(ctx context.Context) error {
	for {
		s.lock.Lock()
		switch s.state {
		case stateIdle:
			s.lock.Unlock()
			return nil
		case stateScheduled:
			task, waiters := s.startLocked()
			s.lock.Unlock()
			s.execute(task, waiters)
		case stateRunning:
			done := s.runDone
			s.lock.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Close flushes pending work. Later requests fail with ErrClosed.
func (s *Scheduler[T]) Close(ctx context.Context) error {
	s.lock.Lock()
	s.closed = true
	s.lock.Unlock()
	return s.Flush(ctx)
}
