package slicewindow

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/espina-project/slicecache/pkg/metrics"
	"github.com/espina-project/slicecache/pkg/render"
	"github.com/espina-project/slicecache/pkg/scheduler"
	"github.com/espina-project/slicecache/pkg/slicewindow/worker"
	"github.com/espina-project/slicecache/pkg/surface"
	"github.com/espina-project/slicecache/pkg/volume"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// slice bytes for a 4x4 RGBA image
const sliceBytes = 4 * 4 * 4

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	vol, err := volume.NewPhantom(4, 4, 10)
	require.NoError(t, err)
	log := zap.NewNop().Sugar()
	w := worker.NewChannelWorker(nil)
	rec := surface.NewRecorder(false)
	sched := &fakeSubmitter{}

	badParams := DefaultConfig()
	badParams.Params.Opacity = 2

	tests := []struct {
		name    string
		build   func() (*Cache, error)
		wantErr string
	}{
		{"nil logger", func() (*Cache, error) { return New(nil, vol, w, rec, sched, DefaultConfig(), nil) }, "invalid logger"},
		{"nil source", func() (*Cache, error) { return New(log, nil, w, rec, sched, DefaultConfig(), nil) }, "invalid source"},
		{"nil worker", func() (*Cache, error) { return New(log, vol, nil, rec, sched, DefaultConfig(), nil) }, "invalid worker"},
		{"nil surface", func() (*Cache, error) { return New(log, vol, w, nil, sched, DefaultConfig(), nil) }, "invalid surface"},
		{"nil scheduler", func() (*Cache, error) { return New(log, vol, w, rec, nil, DefaultConfig(), nil) }, "invalid scheduler"},
		{"negative max radius", func() (*Cache, error) { return New(log, vol, w, rec, sched, testConfig(0, -1), nil) }, "invalid max radius"},
		{"radius above max", func() (*Cache, error) { return New(log, vol, w, rec, sched, testConfig(6, 5), nil) }, "invalid radius"},
		{"negative radius", func() (*Cache, error) { return New(log, vol, w, rec, sched, testConfig(-1, 5), nil) }, "invalid radius"},
		{"negative miss increment", func() (*Cache, error) {
			cfg := testConfig(1, 5)
			cfg.MissIncrement = -1
			return New(log, vol, w, rec, sched, cfg, nil)
		}, "invalid miss increment"},
		{"invalid params", func() (*Cache, error) { return New(log, vol, w, rec, sched, badParams, nil) }, "invalid params"},
		{"unknown axis", func() (*Cache, error) {
			cfg := testConfig(1, 5)
			cfg.Axis = volume.Axis(9)
			return New(log, vol, w, rec, sched, cfg, nil)
		}, "invalid axis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, err := tt.build()
			require.ErrorContains(t, err, tt.wantErr)
			assert.Nil(t, c)
		})
	}
}

func TestNew_EmptyWindow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 10, testConfig(1, 5))

	requireInvariants(t, f.cache)
	_, ok := f.cache.Position()
	assert.False(t, ok)
	assert.Equal(t, "| X | X | X |", f.cache.BufferInfo())
	assert.Equal(t, f.cache.BufferInfo(), f.cache.PublishedStatus())
	assert.Empty(t, f.sched.pending)

	pos, symbolic := shownPosition(t, f.surface)
	assert.True(t, symbolic)
	assert.Equal(t, 0, pos)
}

func TestSetPosition_FirstFill(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(2, 5))

	f.cache.SetPosition(10)
	requireInvariants(t, f.cache)

	assert.Equal(t, []int{8, 9, 10, 11, 12}, slotPositions(f.cache))
	require.Len(t, f.sched.pending, 5)
	assert.Equal(t, 10, f.sched.pending[0].task.Position())
	assert.Equal(t, scheduler.High, f.sched.pending[0].prio)
	for _, s := range f.sched.pending[1:] {
		assert.Equal(t, scheduler.Normal, s.prio, "neighbour %d", s.task.Position())
	}

	pos, symbolic := shownPosition(t, f.surface)
	assert.True(t, symbolic, "nothing rendered yet")
	assert.Equal(t, 10, pos)

	f.sched.runAll(t.Context())
	pos, symbolic = shownPosition(t, f.surface)
	assert.False(t, symbolic)
	assert.Equal(t, 10, pos)
	assert.Equal(t, "| 8 | 9 | 10 | 11 | 12 |", f.cache.BufferInfo())
	assert.Equal(t, 5*sliceBytes, f.cache.EstimatedMemoryUsed())
	assert.Equal(t, int64(5*sliceBytes), f.cache.PublishedMemory())
	assert.False(t, f.cache.NeedsUpdate())
}

func TestSetPosition_FullJump(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(5, 5))

	f.cache.SetPosition(10)
	f.sched.runAll(t.Context())
	f.surface.Reset()

	f.cache.SetPosition(50)
	requireInvariants(t, f.cache)

	assert.Equal(t, rangeInts(45, 55), slotPositions(f.cache))
	assert.Len(t, f.sched.pending, 11)
	assert.Equal(t, 50, f.sched.pending[0].task.Position())
	assert.Equal(t, scheduler.High, f.sched.pending[0].prio)
	assert.Equal(t, 0, f.cache.EstimatedMemoryUsed(), "every old drawable is gone")

	pos, symbolic := shownPosition(t, f.surface)
	assert.True(t, symbolic)
	assert.Equal(t, 50, pos)
	assert.Zero(t, f.surface.Counts().BadRemoves)

	f.sched.runAll(t.Context())
	pos, symbolic = shownPosition(t, f.surface)
	assert.False(t, symbolic)
	assert.Equal(t, 50, pos)
}

func TestSetPosition_ShiftRight(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(2, 5))

	f.cache.SetPosition(10)
	f.sched.runAll(t.Context())

	f.cache.SetPosition(11)
	requireInvariants(t, f.cache)

	assert.Equal(t, []int{9, 10, 11, 12, 13}, slotPositions(f.cache))
	assert.Equal(t, []int{13}, f.sched.positions(), "only the new edge is rendered")
	assert.Equal(t, scheduler.Normal, f.sched.pending[0].prio)
	for p := 9; p <= 12; p++ {
		assert.Equal(t, 1, f.worker.count(p), "position %d reused", p)
	}

	pos, symbolic := shownPosition(t, f.surface)
	assert.False(t, symbolic, "cache hit")
	assert.Equal(t, 11, pos)
	assert.Equal(t, "| 9 | 10 | 11 | 12 | 13 |", f.cache.BufferInfo())
}

func TestSetPosition_ShiftLeft(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(2, 5))

	f.cache.SetPosition(10)
	f.sched.runAll(t.Context())

	f.cache.SetPosition(8)
	requireInvariants(t, f.cache)

	assert.Equal(t, []int{6, 7, 8, 9, 10}, slotPositions(f.cache))
	assert.Equal(t, []int{7, 6}, f.sched.positions())

	pos, symbolic := shownPosition(t, f.surface)
	assert.False(t, symbolic)
	assert.Equal(t, 8, pos)
}

func TestSetPosition_SameIsNoop(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(2, 5))

	f.cache.SetPosition(10)
	f.sched.runAll(t.Context())
	f.surface.Reset()

	f.cache.SetPosition(10)
	assert.Equal(t, surface.Counts{}, f.surface.Counts())
	assert.Empty(t, f.sched.pending)
}

func TestSetPosition_ExactlyRadiusAwayShifts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(2, 5))

	f.cache.SetPosition(10)
	f.sched.runAll(t.Context())

	f.cache.SetPosition(12)
	assert.Equal(t, []int{10, 11, 12, 13, 14}, slotPositions(f.cache))
	assert.Equal(t, []int{13, 14}, f.sched.positions())

	f.cache.SetPosition(18)
	assert.Equal(t, []int{16, 17, 18, 19, 20}, slotPositions(f.cache))
	requireInvariants(t, f.cache)
}

func TestSetPosition_MissRaisesQueuedTask(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(2, 5))

	f.cache.SetPosition(10)
	f.cache.SetPosition(11)

	require.Len(t, f.sched.raised, 1)
	assert.Equal(t, 11, f.sched.raised[0].(*SlotTask).Position())
	pos, symbolic := shownPosition(t, f.surface)
	assert.True(t, symbolic)
	assert.Equal(t, 11, pos)

	require.True(t, f.sched.run(t.Context(), 11))
	pos, symbolic = shownPosition(t, f.surface)
	assert.False(t, symbolic, "completion of the current slot is shown")
	assert.Equal(t, 11, pos)
}

func TestSetPosition_CompletionOffCurrentIsNotShown(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(2, 5))

	f.cache.SetPosition(10)
	require.True(t, f.sched.run(t.Context(), 12))

	pos, symbolic := shownPosition(t, f.surface)
	assert.True(t, symbolic)
	assert.Equal(t, 10, pos)
	assert.Equal(t, sliceBytes, f.cache.EstimatedMemoryUsed())
}

func TestSetPosition_MissGrowsWindow(t *testing.T) {
	t.Parallel()
	cfg := testConfig(2, 6)
	cfg.MissIncrement = 2
	f := newFixture(t, 100, cfg)

	f.cache.SetPosition(50)
	assert.Equal(t, 2, f.cache.WindowWidth(), "a full jump is not a miss")

	f.cache.SetPosition(51)
	requireInvariants(t, f.cache)
	assert.Equal(t, 4, f.cache.WindowWidth())
	assert.Equal(t, rangeInts(47, 55), slotPositions(f.cache))

	f.cache.SetPosition(52)
	assert.Equal(t, 6, f.cache.WindowWidth())

	f.cache.SetPosition(53)
	assert.Equal(t, 6, f.cache.WindowWidth(), "growth stops at the maximum")
	assert.Equal(t, rangeInts(47, 59), slotPositions(f.cache))
	requireInvariants(t, f.cache)

	f.sched.runAll(t.Context())
	f.cache.SetPosition(54)
	assert.Equal(t, 6, f.cache.WindowWidth(), "hits never shrink the window")
}

func TestSetPosition_IgnoresUnaddressable(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(2, 5))

	f.cache.SetPosition(10)
	f.sched.runAll(t.Context())
	f.surface.Reset()

	for _, p := range []int{NoPosition, math.MaxInt, -MaxPosition, MaxPosition} {
		f.cache.SetPosition(p)
	}
	assert.Equal(t, []int{8, 9, 10, 11, 12}, slotPositions(f.cache))
	assert.Empty(t, f.sched.pending)
	assert.Equal(t, surface.Counts{}, f.surface.Counts())
	requireInvariants(t, f.cache)

	f.cache.SetPosition(MaxPosition - 1)
	assert.Equal(t, rangeInts(MaxPosition-3, MaxPosition+1), slotPositions(f.cache))
	requireInvariants(t, f.cache)
}

func TestSetPosition_OutOfRange(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 10, testConfig(5, 5))

	f.cache.SetPosition(2)
	requireInvariants(t, f.cache)

	assert.Equal(t, rangeInts(-3, 7), slotPositions(f.cache))
	assert.ElementsMatch(t, rangeInts(0, 7), f.sched.positions())

	want := []SlotInfo{
		{Position: -3}, {Position: -2}, {Position: -1},
		{Position: 0, InRange: true, HasTask: true},
		{Position: 1, InRange: true, HasTask: true},
		{Position: 2, InRange: true, HasTask: true, Current: true},
		{Position: 3, InRange: true, HasTask: true},
		{Position: 4, InRange: true, HasTask: true},
		{Position: 5, InRange: true, HasTask: true},
		{Position: 6, InRange: true, HasTask: true},
		{Position: 7, InRange: true, HasTask: true},
	}
	if diff := cmp.Diff(want, f.cache.Slots()); diff != "" {
		t.Errorf("Slots() mismatch (-want +got):\n%s", diff)
	}

	f.sched.runAll(t.Context())
	assert.Equal(t, "| X | X | X | 0 | 1 | 2 | 3 | 4 | 5 | 6 | 7 |", f.cache.BufferInfo())

	f.cache.SetPosition(6)
	assert.Equal(t, rangeInts(1, 11), slotPositions(f.cache))
	assert.ElementsMatch(t, []int{8, 9}, f.sched.positions())
	requireInvariants(t, f.cache)
}

func TestClear(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(2, 5))

	f.cache.SetPosition(10)
	tasks := f.sched.pending
	f.cache.Clear()
	requireInvariants(t, f.cache)

	for _, s := range tasks {
		assert.True(t, s.task.Aborted())
	}
	assert.Equal(t, "| X | X | X | X | X |", f.cache.BufferInfo())
	_, ok := f.cache.Position()
	assert.False(t, ok)
	_, symbolic := shownPosition(t, f.surface)
	assert.True(t, symbolic)

	f.surface.Reset()
	f.cache.Clear()
	assert.Equal(t, surface.Counts{}, f.surface.Counts(), "clearing an empty window changes nothing")

	f.sched.pending = nil
	f.cache.SetPosition(11)
	assert.Equal(t, []int{9, 10, 11, 12, 13}, slotPositions(f.cache))
	assert.Len(t, f.sched.pending, 5)
}

func TestClear_DropsLoadedDrawables(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(2, 5))

	f.cache.SetPosition(10)
	f.sched.runAll(t.Context())
	f.cache.Clear()

	assert.Zero(t, f.cache.EstimatedMemoryUsed())
	assert.Zero(t, f.cache.PublishedMemory())
	pos, symbolic := shownPosition(t, f.surface)
	assert.True(t, symbolic)
	assert.Equal(t, 10, pos)
	assert.Zero(t, f.surface.Counts().BadRemoves)
}

func TestStaleCompletionIsIgnored(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(1, 5))

	f.cache.SetPosition(10)
	f.cache.SetPosition(50)
	require.Len(t, f.sched.pending, 6)

	f.sched.runAll(t.Context())
	requireInvariants(t, f.cache)

	for _, p := range []int{9, 10, 11} {
		assert.Zero(t, f.worker.count(p), "aborted before running: %d", p)
	}
	assert.Equal(t, "| 49 | 50 | 51 |", f.cache.BufferInfo())
	pos, symbolic := shownPosition(t, f.surface)
	assert.False(t, symbolic)
	assert.Equal(t, 50, pos)
}

func TestStaleCompletionAfterRender(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(1, 5))

	f.cache.SetPosition(10)
	old := f.sched.pending[0]
	f.sched.pending = f.sched.pending[1:]
	// the render finishes before the slot is re-targeted
	old.task.Run(t.Context())
	require.Equal(t, TaskCompleted, old.task.State())

	f.cache.SetPosition(50)
	old.done()

	assert.Zero(t, f.cache.EstimatedMemoryUsed(), "the stale drawable is not installed")
	pos, symbolic := shownPosition(t, f.surface)
	assert.True(t, symbolic)
	assert.Equal(t, 50, pos)
}

func TestSetWindowWidth_Shrink(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(5, 5))

	f.cache.SetPosition(50)
	f.sched.runAll(t.Context())

	f.cache.SetWindowWidth(2)
	requireInvariants(t, f.cache)

	assert.Equal(t, 2, f.cache.WindowWidth())
	assert.Equal(t, rangeInts(48, 52), slotPositions(f.cache))
	assert.Empty(t, f.sched.pending)
	assert.Equal(t, 5*sliceBytes, f.cache.EstimatedMemoryUsed())
	for p := 48; p <= 52; p++ {
		assert.Equal(t, 1, f.worker.count(p))
	}
	pos, symbolic := shownPosition(t, f.surface)
	assert.False(t, symbolic)
	assert.Equal(t, 50, pos)
}

func TestSetWindowWidth_ShrinkAbortsOuterTasks(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(3, 5))

	f.cache.SetPosition(50)
	byPos := make(map[int]*SlotTask)
	for _, s := range f.sched.pending {
		byPos[s.task.Position()] = s.task
	}

	f.cache.SetWindowWidth(1)
	for p, task := range byPos {
		assert.Equal(t, p < 49 || p > 51, task.Aborted(), "position %d", p)
	}
}

func TestSetWindowWidth_Grow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(1, 5))

	f.cache.SetPosition(50)
	f.sched.runAll(t.Context())

	f.cache.SetWindowWidth(3)
	requireInvariants(t, f.cache)
	assert.Equal(t, rangeInts(47, 53), slotPositions(f.cache))
	assert.ElementsMatch(t, []int{47, 48, 52, 53}, f.sched.positions())

	f.cache.SetWindowWidth(99)
	assert.Equal(t, 5, f.cache.WindowWidth(), "clamped to the maximum")
	f.cache.SetWindowWidth(-4)
	assert.Equal(t, 0, f.cache.WindowWidth())
	assert.Equal(t, []int{50}, slotPositions(f.cache))
	requireInvariants(t, f.cache)
}

func TestSetWindowWidth_GrowEmpty(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(1, 5))

	f.cache.SetWindowWidth(2)
	requireInvariants(t, f.cache)
	assert.Equal(t, "| X | X | X | X | X |", f.cache.BufferInfo())
	assert.Empty(t, f.sched.pending)
}

func TestSetWindowMaximumWidth(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(4, 6))

	f.cache.SetPosition(50)
	f.cache.SetWindowMaximumWidth(2)
	assert.Equal(t, 2, f.cache.MaximumWindowWidth())
	assert.Equal(t, 2, f.cache.WindowWidth())
	requireInvariants(t, f.cache)

	f.cache.SetWindowMaximumWidth(8)
	assert.Equal(t, 2, f.cache.WindowWidth(), "raising the bound does not grow the window")
}

func TestSetColor_RerendersWindow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(2, 5))

	f.cache.SetPosition(10)
	f.sched.runAll(t.Context())

	red := colorful.Color{R: 1}
	f.cache.SetColor(red)
	requireInvariants(t, f.cache)

	assert.Equal(t, red, f.cache.Params().Color)
	assert.Len(t, f.sched.pending, 5)
	assert.Equal(t, 10, f.sched.pending[0].task.Position())
	assert.Equal(t, scheduler.High, f.sched.pending[0].prio)
	pos, symbolic := shownPosition(t, f.surface)
	assert.True(t, symbolic)
	assert.Equal(t, 10, pos)

	f.sched.runAll(t.Context())
	for p := 8; p <= 12; p++ {
		assert.Equal(t, 2, f.worker.count(p))
	}
	_, symbolic = shownPosition(t, f.surface)
	assert.False(t, symbolic)
}

func TestSetBrightnessAndContrast_Clamp(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(1, 5))

	f.cache.SetBrightness(3)
	f.cache.SetContrast(-1)
	assert.Equal(t, 1.0, f.cache.Params().Brightness)
	assert.Equal(t, 0.0, f.cache.Params().Contrast)
	assert.Empty(t, f.sched.pending, "an empty window has nothing to re-render")

	f.cache.SetPosition(5)
	f.sched.runAll(t.Context())
	f.cache.SetContrast(1.5)
	assert.Len(t, f.sched.pending, 3)
}

func TestSetOpacityAndVisible_InPlace(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(1, 5))

	f.cache.SetPosition(5)
	f.sched.runAll(t.Context())

	f.cache.SetOpacity(0.25)
	f.cache.SetVisible(false)
	assert.Empty(t, f.sched.pending)

	shown := f.surface.Visible()[0]
	assert.Equal(t, 0.25, shown.Opacity())
	assert.False(t, shown.Visible())

	f.cache.SetPosition(6)
	shown = f.surface.Visible()[0]
	assert.Equal(t, 6, shown.Position())
	assert.Equal(t, 0.25, shown.Opacity(), "cached drawables were updated too")
	assert.False(t, shown.Visible())
}

func TestSetParams(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(1, 5))

	f.cache.SetPosition(5)
	f.sched.runAll(t.Context())

	p := f.cache.Params()
	p.Opacity = 0.5
	require.NoError(t, f.cache.SetParams(p))
	assert.Empty(t, f.sched.pending)
	assert.Equal(t, 0.5, f.surface.Visible()[0].Opacity())

	p.Brightness = 0.2
	require.NoError(t, f.cache.SetParams(p))
	assert.Len(t, f.sched.pending, 3)
	assert.Equal(t, p, f.cache.Params())

	p.Contrast = 5
	require.Error(t, f.cache.SetParams(p))
	assert.Equal(t, 0.2, f.cache.Params().Brightness)
}

func TestNeedsUpdateAndReconcile(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(2, 5))

	assert.True(t, f.cache.NeedsUpdate(), "an empty window needs an update")
	assert.Zero(t, f.cache.Reconcile())

	f.cache.SetPosition(10)
	f.sched.runAll(t.Context())
	assert.False(t, f.cache.NeedsUpdate())
	assert.Zero(t, f.cache.Reconcile(), "nothing stale")

	version := f.vol.Modify(func(data []float64, _, _, _ int) { data[0] = 1 })
	assert.True(t, f.cache.NeedsUpdate())

	assert.Equal(t, 5, f.cache.Reconcile())
	requireInvariants(t, f.cache)
	assert.Equal(t, 10, f.sched.pending[0].task.Position())
	assert.Equal(t, scheduler.High, f.sched.pending[0].prio)
	_, symbolic := shownPosition(t, f.surface)
	assert.True(t, symbolic, "the stale drawable is taken down")

	f.sched.runAll(t.Context())
	assert.False(t, f.cache.NeedsUpdate())
	for _, info := range f.cache.Slots() {
		assert.Equal(t, version, info.Stamp)
	}
}

// unversionedSource never reports an edit, so its version stays at zero.
type unversionedSource struct {
	*volume.Volume
}

func (unversionedSource) LastModifiedVersion() uint64 { return 0 }

func TestNeedsUpdate_ZeroVersionSource(t *testing.T) {
	t.Parallel()
	vol, err := volume.NewPhantom(4, 4, 30)
	require.NoError(t, err)
	sched := &fakeSubmitter{}
	c, err := New(zap.NewNop().Sugar(), unversionedSource{vol}, newCountingWorker(),
		surface.NewRecorder(false), sched, testConfig(2, 5), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	assert.True(t, c.NeedsUpdate(), "nothing rendered yet")
	c.SetPosition(10)
	assert.True(t, c.NeedsUpdate(), "current slice still loading")

	sched.runAll(t.Context())
	assert.False(t, c.NeedsUpdate())
	assert.Zero(t, c.Reconcile())
}

func TestReconcile_RetriesFailedRender(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(2, 5))
	f.worker.fail(11, errRender)

	f.cache.SetPosition(10)
	f.sched.runAll(t.Context())
	assert.Equal(t, "| 8 | 9 | 10 | X | 12 |", f.cache.BufferInfo())

	f.worker.fail(11, nil)
	assert.Equal(t, 1, f.cache.Reconcile())
	assert.Equal(t, []int{11}, f.sched.positions())
	assert.Equal(t, scheduler.Normal, f.sched.pending[0].prio)

	f.sched.runAll(t.Context())
	assert.Equal(t, "| 8 | 9 | 10 | 11 | 12 |", f.cache.BufferInfo())
}

func TestMissOnFailedSlotResubmits(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(2, 5))
	f.worker.fail(11, errRender)

	f.cache.SetPosition(10)
	f.sched.runAll(t.Context())
	f.worker.fail(11, nil)

	f.cache.SetPosition(11)
	assert.ElementsMatch(t, []int{11, 13}, f.sched.positions())
	for _, s := range f.sched.pending {
		if s.task.Position() == 11 {
			assert.Equal(t, scheduler.High, s.prio)
		}
	}
	assert.Empty(t, f.sched.raised)
}

func TestSubmitErrorLeavesSlotEmpty(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(1, 5))
	f.sched.err = scheduler.ErrClosed

	f.cache.SetPosition(10)
	requireInvariants(t, f.cache)
	for _, info := range f.cache.Slots() {
		assert.False(t, info.HasTask)
	}
	assert.Equal(t, "| X | X | X |", f.cache.BufferInfo())

	f.sched.err = nil
	assert.Equal(t, 3, f.cache.Reconcile())
}

func TestClose(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(2, 5))

	f.cache.SetPosition(10)
	require.True(t, f.sched.run(t.Context(), 10))
	pending := f.sched.pending

	require.NoError(t, f.cache.Close(t.Context()))
	assert.Empty(t, f.surface.Visible())
	for _, s := range pending {
		assert.True(t, s.task.Aborted())
	}
	_, ok := f.cache.Position()
	assert.False(t, ok)
	assert.Nil(t, f.cache.Slots())
	assert.Zero(t, f.cache.PublishedMemory())

	// late completions and calls after close are ignored
	f.sched.runAll(t.Context())
	f.cache.SetPosition(20)
	f.cache.Clear()
	f.cache.SetColor(colorful.Color{G: 1})
	assert.Zero(t, f.cache.Reconcile())
	assert.Empty(t, f.surface.Visible())
	require.NoError(t, f.cache.Close(t.Context()))
}

// blockingWorker renders only after release is closed, or fails on cancel.
type blockingWorker struct {
	started chan struct{}
	release chan struct{}
}

func (w *blockingWorker) Render(ctx context.Context, req worker.Request) (render.Drawable, error) {
	close(w.started)
	select {
	case <-w.release:
		return render.NewSymbolic(1, 1, "done"), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestClose_WaitsForRunningTask(t *testing.T) {
	t.Parallel()
	vol, err := volume.NewPhantom(4, 4, 10)
	require.NoError(t, err)
	w := &blockingWorker{started: make(chan struct{}), release: make(chan struct{})}
	sched := &fakeSubmitter{}
	c, err := New(zap.NewNop().Sugar(), vol, w, surface.NewRecorder(false), sched, testConfig(0, 0), nil)
	require.NoError(t, err)

	c.SetPosition(3)
	require.Len(t, sched.pending, 1)
	task := sched.pending[0].task

	go task.Run(context.Background())
	<-w.started

	require.NoError(t, c.Close(t.Context()))
	assert.Equal(t, TaskAborted, task.State(), "abort cancelled the render")
	assert.ErrorIs(t, task.Err(), context.Canceled)
}

func TestClose_TimesOut(t *testing.T) {
	t.Parallel()
	vol, err := volume.NewPhantom(4, 4, 10)
	require.NoError(t, err)
	// ignores cancellation until released
	stubborn := &stubbornWorker{started: make(chan struct{}), release: make(chan struct{})}
	sched := &fakeSubmitter{}
	c, err := New(zap.NewNop().Sugar(), vol, stubborn, surface.NewRecorder(false), sched, testConfig(0, 0), nil)
	require.NoError(t, err)

	c.SetPosition(3)
	task := sched.pending[0].task
	go task.Run(context.Background())
	<-stubborn.started
	defer close(stubborn.release)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	err = c.Close(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "Cache Axial Pos 3")
}

type stubbornWorker struct {
	started chan struct{}
	release chan struct{}
}

func (w *stubbornWorker) Render(context.Context, worker.Request) (render.Drawable, error) {
	close(w.started)
	<-w.release
	return nil, errors.New("released")
}

func TestSlots_Snapshot(t *testing.T) {
	t.Parallel()
	f := newFixture(t, 100, testConfig(1, 5))

	f.cache.SetPosition(30)
	require.True(t, f.sched.run(t.Context(), 31))

	want := []SlotInfo{
		{Position: 29, InRange: true, HasTask: true},
		{Position: 30, InRange: true, HasTask: true, Current: true},
		{Position: 31, InRange: true, HasDrawable: true},
	}
	if diff := cmp.Diff(want, f.cache.Slots(), cmpopts.IgnoreFields(SlotInfo{}, "Stamp")); diff != "" {
		t.Errorf("Slots() mismatch (-want +got):\n%s", diff)
	}
}

func TestCacheMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	vol, err := volume.NewPhantom(4, 4, 100)
	require.NoError(t, err)
	sched := &fakeSubmitter{}
	c, err := New(zap.NewNop().Sugar(), vol, worker.NewChannelWorker(nil), surface.NewRecorder(false), sched, testConfig(2, 5), m)
	require.NoError(t, err)

	c.SetPosition(10)
	sched.runAll(t.Context())
	c.SetPosition(11)
	c.SetPosition(13)

	assert.Equal(t, 1.0, gatheredValue(t, reg, "slicecache_cache_full_jumps_total", ""))
	assert.Equal(t, 3.0, gatheredValue(t, reg, "slicecache_cache_shift_steps_total", ""))
	assert.Equal(t, 1.0, gatheredValue(t, reg, "slicecache_cache_lookups_total", "hit"))
	assert.Equal(t, 1.0, gatheredValue(t, reg, "slicecache_cache_lookups_total", "miss"))
	assert.Equal(t, 13.0, gatheredValue(t, reg, "slicecache_cache_position", ""))
	assert.Equal(t, 5.0, gatheredValue(t, reg, "slicecache_cache_window_slots", ""))
}

// gatheredValue returns the value of the series of name whose single label
// value is label, or of the unlabelled series when label is empty.
func gatheredValue(t *testing.T, reg *prometheus.Registry, name, label string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			if label != "" && (len(metric.GetLabel()) == 0 || metric.GetLabel()[0].GetValue() != label) {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s{%s} not found", name, label)
	return 0
}

// TestRandomWalk drives the cache with random moves, width changes and task
// completions and checks the ring shape after every step.
func TestRandomWalk(t *testing.T) {
	t.Parallel()
	cfg := testConfig(3, 8)
	cfg.MissIncrement = 1
	f := newFixture(t, 60, cfg)
	rng := rand.New(rand.NewPCG(1, 2))

	for step := 0; step < 2000; step++ {
		switch op := rng.IntN(10); {
		case op < 5:
			cur, ok := f.cache.Position()
			if !ok || rng.IntN(8) == 0 {
				cur = rng.IntN(70) - 5
			}
			f.cache.SetPosition(cur + rng.IntN(7) - 3)
		case op < 6:
			f.cache.SetWindowWidth(rng.IntN(10))
		case op < 8:
			if n := len(f.sched.pending); n > 0 {
				s := f.sched.pending[rng.IntN(n)]
				f.sched.run(t.Context(), s.task.Position())
			}
		case op < 9:
			f.cache.Reconcile()
		default:
			f.sched.runAll(t.Context())
		}

		require.NoError(t, f.cache.checkInvariants(), "step %d", step)
		require.Len(t, f.surface.Visible(), 1, "step %d", step)
		require.Zero(t, f.surface.Counts().BadRemoves, "step %d", step)

		slots := f.cache.Slots()
		for i := 1; i < len(slots); i++ {
			if slots[i-1].Position != NoPosition {
				require.Equal(t, slots[i-1].Position+1, slots[i].Position, "step %d: %v", step, slots)
			}
		}
	}
}
