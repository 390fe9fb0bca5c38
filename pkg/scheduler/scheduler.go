// Package scheduler runs background tasks on a bounded worker pool and
// delivers their completion callbacks on a Loop.
//
// Work is split in two priorities. High-priority tasks (the slice the user is
// looking at) are served first and may use every worker; normal-priority
// tasks (prefetch) are capped at normalLimit < concurrency workers, so there
// is always capacity left for high-priority work and it is never starved.
// A queued normal task can be promoted with Raise.
//
// Completion callbacks are posted to the Loop exactly once per accepted task,
// after Run returned, including for tasks that never got to run because the
// scheduler shut down (they are run with an already cancelled context).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/espina-project/slicecache/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	ErrClosed           = errors.New("scheduler closed")
	ErrAlreadySubmitted = errors.New("task already submitted")
	ErrUncomparable     = errors.New("task type is not comparable")
)

// Priority is a coarse scheduling hint.
type Priority int

const (
	Normal Priority = iota
	High
)

func (p Priority) String() string {
	switch p {
	case Normal:
		return "normal"
	case High:
		return "high"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// Task is a unit of background work. Run must return promptly once ctx is
// cancelled.
type Task interface {
	Run(ctx context.Context)
}

// Describer is implemented by tasks that can name themselves in logs.
type Describer interface {
	Description() string
}

type entry struct {
	task      Task
	prio      Priority
	done      func()
	submitted time.Time
	started   bool
}

// Stats is a point-in-time view of the scheduler queues.
type Stats struct {
	High    int
	Normal  int
	Running int
}

type Scheduler struct {
	log     *zap.SugaredLogger
	loop    *Loop
	metrics *metrics.Metrics

	// Limits total concurrent workers (both priorities).
	workerSem *semaphore.Weighted
	// Caps how many of the concurrent workers may run normal-priority tasks.
	normalSem *semaphore.Weighted

	// Wake-up signal to re-run dispatching; buffered (size 1) to coalesce signals.
	workReady chan struct{}

	mu      sync.Mutex
	high    []*entry
	normal  []*entry
	pending map[Task]*entry // queued or running
	running int
	closed  bool
	wg      sync.WaitGroup
}

// New creates a Scheduler and returns an error if arguments are invalid.
// Constraints: concurrency>0; 0<normalLimit<concurrency. m may be nil.
func New(
	log *zap.SugaredLogger,
	loop *Loop,
	concurrency, normalLimit int64,
	m *metrics.Metrics,
) (*Scheduler, error) {
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	if loop == nil {
		return nil, errors.New("invalid loop: must not be nil")
	}
	if concurrency <= 0 {
		return nil, errors.New("invalid concurrency: must be greater than 0")
	}
	if normalLimit <= 0 || normalLimit >= concurrency {
		return nil, errors.New(
			"invalid normal limit: must be greater than 0 and less than concurrency",
		)
	}

	return &Scheduler{
		log:       log,
		loop:      loop,
		metrics:   m,
		workerSem: semaphore.NewWeighted(concurrency),
		normalSem: semaphore.NewWeighted(normalLimit),
		workReady: make(chan struct{}, 1),
		pending:   make(map[Task]*entry),
	}, nil
}

// Submit queues task at priority p. done, if non-nil, is posted to the loop
// once Run has returned. Submitting a task that is still queued or running
// fails with ErrAlreadySubmitted; submitting after shutdown with ErrClosed.
// Tasks are tracked by identity, so their dynamic type must be comparable
// (typically a pointer); other tasks fail with ErrUncomparable.
func (s *Scheduler) Submit(task Task, p Priority, done func()) error {
	if task == nil {
		return errors.New("invalid task: must not be nil")
	}
	if !reflect.ValueOf(task).Comparable() {
		return fmt.Errorf("%w: %T", ErrUncomparable, task)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.pending[task]; ok {
		return ErrAlreadySubmitted
	}
	e := &entry{task: task, prio: p, done: done, submitted: time.Now()}
	s.pending[task] = e
	if p == High {
		s.high = append(s.high, e)
	} else {
		s.normal = append(s.normal, e)
	}
	s.updateMetrics()
	s.signalWorkReady()
	return nil
}

// Raise promotes a queued task to high priority. It returns true if the task
// is now waiting in the high-priority queue, false if it is unknown or
// already running.
func (s *Scheduler) Raise(task Task) bool {
	if task == nil || !reflect.ValueOf(task).Comparable() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.pending[task]
	if !ok || e.started {
		return false
	}
	if e.prio == High {
		return true
	}

	for i, n := range s.normal {
		if n == e {
			s.normal = append(s.normal[:i], s.normal[i+1:]...)
			break
		}
	}
	e.prio = High
	s.high = append(s.high, e)
	s.metrics.IncRaised()
	s.updateMetrics()
	s.signalWorkReady()
	return true
}

// Stats returns the current queue depths.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{High: len(s.high), Normal: len(s.normal), Running: s.running}
}

// Run executes the dispatch loop until ctx is done. On shutdown it stops
// accepting tasks, waits for running ones and then releases everything still
// queued by running it with a cancelled context.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		s.dispatch(ctx)

		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		case <-s.workReady:
			// A task was submitted or raised, or a worker finished
		}
	}
}

// dispatch starts as many queued tasks as capacity allows, high queue first.
func (s *Scheduler) dispatch(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.high) > 0 && s.workerSem.TryAcquire(1) {
		e := s.high[0]
		s.high = s.high[1:]
		s.start(ctx, e, false)
	}
	for len(s.normal) > 0 && s.tryAcquireNormal() {
		e := s.normal[0]
		s.normal = s.normal[1:]
		s.start(ctx, e, true)
	}
	s.updateMetrics()
}

// start must be called with s.mu held.
func (s *Scheduler) start(ctx context.Context, e *entry, isNormal bool) {
	e.started = true
	s.running++
	s.wg.Add(1)
	go s.process(ctx, e, isNormal)
}

func (s *Scheduler) process(ctx context.Context, e *entry, isNormal bool) {
	defer func() {
		if isNormal {
			s.normalSem.Release(1)
		}
		s.workerSem.Release(1)

		s.mu.Lock()
		s.running--
		delete(s.pending, e.task)
		s.updateMetrics()
		s.mu.Unlock()

		s.loop.Post(e.done)
		s.wg.Done()
		s.signalWorkReady()
	}()

	s.metrics.ObserveQueueDelay(time.Since(e.submitted).Seconds())
	s.execute(ctx, e)
}

// execute runs the task, containing panics so a broken task cannot take the
// worker pool down.
func (s *Scheduler) execute(ctx context.Context, e *entry) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("task panicked", "task", describe(e.task), "panic", r)
			s.metrics.IncError(metrics.ErrTypeTaskPanic)
		}
	}()
	e.task.Run(ctx)
}

func (s *Scheduler) shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	queued := append(s.high, s.normal...)
	s.high, s.normal = nil, nil
	s.mu.Unlock()

	if len(queued) > 0 {
		s.log.Debugw("releasing queued tasks on shutdown", "count", len(queued))
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for _, e := range queued {
		s.execute(cancelled, e)
		s.mu.Lock()
		delete(s.pending, e.task)
		s.mu.Unlock()
		s.loop.Post(e.done)
	}

	s.mu.Lock()
	s.updateMetrics()
	s.mu.Unlock()
}

// tryAcquireNormal tries to acquire a normal permit and a worker permit.
// It returns true if both permits are acquired, false otherwise.
func (s *Scheduler) tryAcquireNormal() bool {
	if !s.normalSem.TryAcquire(1) {
		return false
	}
	if !s.workerSem.TryAcquire(1) {
		s.normalSem.Release(1)
		return false
	}
	return true
}

// updateMetrics must be called with s.mu held.
func (s *Scheduler) updateMetrics() {
	s.metrics.UpdateSchedulerMetrics(len(s.high), len(s.normal), s.running)
}

// signalWorkReady wakes up the dispatch loop.
func (s *Scheduler) signalWorkReady() {
	select {
	case s.workReady <- struct{}{}:
	default:
	}
}

func describe(t Task) string {
	if d, ok := t.(Describer); ok {
		return d.Description()
	}
	return fmt.Sprintf("%T", t)
}
