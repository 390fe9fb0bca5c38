package slicewindow

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/espina-project/slicecache/pkg/render"
	"github.com/espina-project/slicecache/pkg/scheduler"
	"github.com/espina-project/slicecache/pkg/slicewindow/worker"
	"github.com/espina-project/slicecache/pkg/surface"
	"github.com/espina-project/slicecache/pkg/volume"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSubmitter queues submissions so tests decide when and in which order
// tasks run. Completion callbacks are invoked synchronously, the way the loop
// would deliver them.
type fakeSubmitter struct {
	pending []submission
	raised  []scheduler.Task
	err     error
}

type submission struct {
	task *SlotTask
	prio scheduler.Priority
	done func()
}

func (f *fakeSubmitter) Submit(task scheduler.Task, p scheduler.Priority, done func()) error {
	if f.err != nil {
		return f.err
	}
	f.pending = append(f.pending, submission{task: task.(*SlotTask), prio: p, done: done})
	return nil
}

func (f *fakeSubmitter) Raise(task scheduler.Task) bool {
	for i, s := range f.pending {
		if s.task == task {
			f.pending[i].prio = scheduler.High
			f.raised = append(f.raised, task)
			return true
		}
	}
	return false
}

// positions lists the positions of pending tasks in submission order.
func (f *fakeSubmitter) positions() []int {
	out := make([]int, 0, len(f.pending))
	for _, s := range f.pending {
		out = append(out, s.task.Position())
	}
	return out
}

// runAll runs and completes every pending task, including ones submitted by
// the completions themselves.
func (f *fakeSubmitter) runAll(ctx context.Context) int {
	var n int
	for len(f.pending) > 0 {
		s := f.pending[0]
		f.pending = f.pending[1:]
		s.task.Run(ctx)
		s.done()
		n++
	}
	return n
}

// run completes the pending task for position, if any.
func (f *fakeSubmitter) run(ctx context.Context, position int) bool {
	i := slices.IndexFunc(f.pending, func(s submission) bool { return s.task.Position() == position })
	if i < 0 {
		return false
	}
	s := f.pending[i]
	f.pending = slices.Delete(f.pending, i, i+1)
	s.task.Run(ctx)
	s.done()
	return true
}

// countingWorker wraps a worker and counts renders per position.
type countingWorker struct {
	inner worker.Worker

	mu     sync.Mutex
	calls  map[int]int
	failAt map[int]error
}

func newCountingWorker() *countingWorker {
	return &countingWorker{
		inner:  worker.NewChannelWorker(nil),
		calls:  make(map[int]int),
		failAt: make(map[int]error),
	}
}

func (w *countingWorker) Render(ctx context.Context, req worker.Request) (render.Drawable, error) {
	w.mu.Lock()
	w.calls[req.Position]++
	err := w.failAt[req.Position]
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return w.inner.Render(ctx, req)
}

func (w *countingWorker) fail(position int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err == nil {
		delete(w.failAt, position)
		return
	}
	w.failAt[position] = err
}

func (w *countingWorker) count(position int) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[position]
}

var errRender = errors.New("render failed")

type fixture struct {
	cache   *Cache
	vol     *volume.Volume
	sched   *fakeSubmitter
	surface *surface.Recorder
	worker  *countingWorker
}

// newFixture builds a cache over a 4x4xdepth phantom with growth disabled
// unless cfg says otherwise.
func newFixture(t *testing.T, depth int, cfg Config) *fixture {
	t.Helper()
	vol, err := volume.NewPhantom(4, 4, depth)
	require.NoError(t, err)

	f := &fixture{
		vol:     vol,
		sched:   &fakeSubmitter{},
		surface: surface.NewRecorder(true),
		worker:  newCountingWorker(),
	}
	f.cache, err = New(zap.NewNop().Sugar(), vol, f.worker, f.surface, f.sched, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.cache.Close(context.Background()) })
	return f
}

func testConfig(radius, maxRadius int) Config {
	cfg := DefaultConfig()
	cfg.Radius = radius
	cfg.MaxRadius = maxRadius
	cfg.MissIncrement = 0
	return cfg
}

// slotPositions lists slot positions left to right.
func slotPositions(c *Cache) []int {
	var out []int
	for _, s := range c.Slots() {
		out = append(out, s.Position)
	}
	return out
}

func requireInvariants(t *testing.T, c *Cache) {
	t.Helper()
	require.NoError(t, c.checkInvariants())
}

// shownPosition returns the position of the drawable on the surface and
// whether it is the symbolic one.
func shownPosition(t *testing.T, r *surface.Recorder) (int, bool) {
	t.Helper()
	visible := r.Visible()
	require.Len(t, visible, 1, "exactly one drawable must be shown")
	_, symbolic := visible[0].(*render.Symbolic)
	return visible[0].Position(), symbolic
}

func rangeInts(lo, hi int) []int {
	out := make([]int, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, i)
	}
	return out
}
