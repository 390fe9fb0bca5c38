package slicewindow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/espina-project/slicecache/pkg/render"
	"github.com/espina-project/slicecache/pkg/scheduler"
	"github.com/espina-project/slicecache/pkg/slicewindow/worker"
	"github.com/espina-project/slicecache/pkg/volume"
)

var (
	ErrTaskAborted  = errors.New("slot task aborted")
	ErrTaskPanicked = errors.New("slot task panicked")
)

// TaskState is the lifecycle of a SlotTask. There is no retry: a task ends
// Completed or Aborted and a new task is created for the next attempt.
type TaskState int32

const (
	TaskCreated TaskState = iota
	TaskRunning
	TaskCompleted
	TaskAborted
)

func (s TaskState) String() string {
	switch s {
	case TaskCreated:
		return "created"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskAborted:
		return "aborted"
	default:
		return fmt.Sprintf("TaskState(%d)", int32(s))
	}
}

// SlotTask renders one slice position. Its result fields are written only by
// Run and may be read once Run has returned (after the completion callback
// fired, or Wait returned).
type SlotTask struct {
	worker worker.Worker
	req    worker.Request

	state   atomic.Int32
	aborted atomic.Bool

	mu     sync.Mutex // guards cancel
	cancel context.CancelFunc

	finished chan struct{}

	drawable render.Drawable
	stamp    uint64
	err      error
	elapsed  time.Duration
}

var _ scheduler.Task = (*SlotTask)(nil)

func NewSlotTask(w worker.Worker) *SlotTask {
	return &SlotTask{
		worker:   w,
		finished: make(chan struct{}),
	}
}

// SetInput must be called before the task is submitted.
func (t *SlotTask) SetInput(source volume.Source, position int, axis volume.Axis, params render.Params) {
	if t.State() != TaskCreated {
		panic("slicewindow: SetInput on a task that already ran")
	}
	t.req = worker.Request{Source: source, Position: position, Axis: axis, Params: params}
}

// Run renders the slice. Failures and panics in the worker end the task as
// Aborted with the error kept for Err.
func (t *SlotTask) Run(parent context.Context) {
	if !t.state.CompareAndSwap(int32(TaskCreated), int32(TaskRunning)) {
		panic(fmt.Sprintf("slicewindow: %s run twice", t.Description()))
	}
	defer close(t.finished)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	if t.aborted.Load() {
		t.finish(nil, 0, ErrTaskAborted)
		return
	}

	start := time.Now()
	stamp := t.req.Source.LastModifiedVersion()
	d, err := t.render(ctx)
	t.elapsed = time.Since(start)

	switch {
	case err != nil:
	case t.aborted.Load():
		err = ErrTaskAborted
	case ctx.Err() != nil:
		err = ctx.Err()
	case d == nil:
		err = errors.New("worker returned no drawable")
	}
	t.finish(d, stamp, err)
}

func (t *SlotTask) render(ctx context.Context) (d render.Drawable, err error) {
	defer func() {
		if r := recover(); r != nil {
			d, err = nil, fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return t.worker.Render(ctx, t.req)
}

func (t *SlotTask) finish(d render.Drawable, stamp uint64, err error) {
	if err != nil {
		t.err = err
		t.state.Store(int32(TaskAborted))
		return
	}
	t.drawable = d
	t.stamp = stamp
	t.state.Store(int32(TaskCompleted))
}

// Abort requests cancellation. It is idempotent and safe to call from any
// goroutine while the task runs.
func (t *SlotTask) Abort() {
	t.aborted.Store(true)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
	}
}

// Aborted reports whether Abort was called.
func (t *SlotTask) Aborted() bool { return t.aborted.Load() }

// Wait blocks until Run has returned or ctx is done.
func (t *SlotTask) Wait(ctx context.Context) error {
	select {
	case <-t.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *SlotTask) State() TaskState { return TaskState(t.state.Load()) }

func (t *SlotTask) Position() int { return t.req.Position }

// Drawable is the rendered slice, nil unless the task completed.
func (t *SlotTask) Drawable() render.Drawable { return t.drawable }

// Stamp is the source version observed when Run started.
func (t *SlotTask) Stamp() uint64 { return t.stamp }

func (t *SlotTask) Err() error { return t.err }

func (t *SlotTask) Elapsed() time.Duration { return t.elapsed }

// Description names the task in logs, e.g. "Cache Axial Pos 12".
func (t *SlotTask) Description() string {
	return fmt.Sprintf("Cache %s Pos %d", t.req.Axis, t.req.Position)
}
