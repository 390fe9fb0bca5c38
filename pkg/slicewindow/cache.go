package slicewindow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/espina-project/slicecache/pkg/metrics"
	"github.com/espina-project/slicecache/pkg/render"
	"github.com/espina-project/slicecache/pkg/scheduler"
	"github.com/espina-project/slicecache/pkg/slicewindow/worker"
	"github.com/espina-project/slicecache/pkg/volume"
	"github.com/lucasb-eyer/go-colorful"
	"go.uber.org/zap"
)

// Cache is the sliding window of rendered slices. It is not safe for
// concurrent use: every method must be called from the loop goroutine that
// the Submitter posts completions to. The Published* methods are the
// exception and may be called from anywhere.
type Cache struct {
	log     *zap.SugaredLogger
	source  volume.Source
	worker  worker.Worker
	surface Surface
	sched   Submitter
	metrics *metrics.Metrics

	axis          volume.Axis
	params        render.Params
	radius        int
	maxRadius     int
	missIncrement int

	ring    ring
	current int
	// edge is the right-most slot; ring.next(edge) is the left-most.
	edge int

	symbolic *render.Symbolic
	// shown is the one drawable the cache has on the surface: the current
	// slot's drawable or the symbolic one. Nil only after Close.
	shown render.Drawable

	taskTime  time.Duration
	taskCount int

	publishedMemory atomic.Int64
	publishedStatus atomic.Pointer[string]

	closed bool
}

// New creates a cache of 2*cfg.Radius+1 empty slots and puts the symbolic
// drawable on the surface. Nothing is rendered until the first SetPosition.
func New(
	log *zap.SugaredLogger,
	source volume.Source,
	w worker.Worker,
	surface Surface,
	sched Submitter,
	cfg Config,
	m *metrics.Metrics,
) (*Cache, error) {
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	if source == nil {
		return nil, errors.New("invalid source: must not be nil")
	}
	if w == nil {
		return nil, errors.New("invalid worker: must not be nil")
	}
	if surface == nil {
		return nil, errors.New("invalid surface: must not be nil")
	}
	if sched == nil {
		return nil, errors.New("invalid scheduler: must not be nil")
	}
	if cfg.MaxRadius < 0 {
		return nil, errors.New("invalid max radius: must not be negative")
	}
	if cfg.Radius < 0 || cfg.Radius > cfg.MaxRadius {
		return nil, errors.New("invalid radius: must be between 0 and max radius")
	}
	if cfg.MissIncrement < 0 {
		return nil, errors.New("invalid miss increment: must not be negative")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	lo, hi := source.Extent(cfg.Axis)
	if hi <= lo {
		return nil, fmt.Errorf("invalid axis: source has no slices along %s", cfg.Axis)
	}

	width, height := volume.SliceSize(source, cfg.Axis)
	c := &Cache{
		log:           log,
		source:        source,
		worker:        w,
		surface:       surface,
		sched:         sched,
		metrics:       m,
		axis:          cfg.Axis,
		params:        cfg.Params,
		radius:        cfg.Radius,
		maxRadius:     cfg.MaxRadius,
		missIncrement: cfg.MissIncrement,
		symbolic:      render.NewSymbolic(width, height, "loading "+cfg.Axis.String()),
	}

	c.current = c.ring.build(2*c.radius + 1)
	c.edge = c.current
	for i := 0; i < c.radius; i++ {
		c.edge = c.ring.next(c.edge)
	}

	c.showSymbolic(lo)
	c.surface.RequestRedraw()
	c.publish()
	return c, nil
}

// SetPosition makes position the current slice. Positions at or beyond
// MaxPosition in magnitude are ignored.
func (c *Cache) SetPosition(position int) {
	if c.closed {
		return
	}
	if position <= -MaxPosition || position >= MaxPosition {
		c.log.Warnw("ignoring unaddressable position", "position", position)
		return
	}
	cur := c.ring.at(c.current).pos()
	if cur == position {
		return
	}

	if cur == NoPosition || abs(position-cur) > c.radius {
		// A complete reposition does not count as a miss.
		c.metrics.IncFullJump()
		c.Clear()
		c.fill(position)
		c.showSymbolic(position)
		c.surface.RequestRedraw()
		c.publish()
		return
	}

	steps := 0
	if position < cur {
		for c.ring.at(c.current).pos() != position {
			c.shiftLeft()
			steps++
		}
	} else {
		for c.ring.at(c.current).pos() != position {
			c.shiftRight()
			steps++
		}
	}
	c.metrics.AddShiftSteps(steps)

	if _, d, _ := c.ring.at(c.current).current(); d != nil {
		c.metrics.RecordLookup(true)
		c.show(d)
	} else {
		c.metrics.RecordLookup(false)
		c.showSymbolic(position)
		c.ensureCurrentTask()
		c.growOnMiss()
	}
	c.surface.RequestRedraw()
	c.publish()
}

// shiftRight moves current one slot right and recycles the left-most slot as
// the new right edge.
func (c *Cache) shiftRight() {
	c.current = c.ring.next(c.current)
	c.edge = c.ring.next(c.edge)

	c.retireSlot(c.edge)
	position := c.ring.at(c.ring.prev(c.edge)).pos() + 1
	c.assign(c.edge, position, scheduler.Normal)
}

// shiftLeft moves current one slot left and recycles the right edge as the
// new left-most slot.
func (c *Cache) shiftLeft() {
	c.current = c.ring.prev(c.current)

	c.retireSlot(c.edge)
	position := c.ring.at(c.ring.next(c.edge)).pos() - 1
	c.assign(c.edge, position, scheduler.Normal)
	c.edge = c.ring.prev(c.edge)
}

// fill targets the cleared ring at consecutive positions around position.
func (c *Cache) fill(position int) {
	c.assign(c.current, position, scheduler.High)

	left := c.current
	c.edge = c.current
	for i := 0; i < c.radius; i++ {
		c.edge = c.ring.next(c.edge)
		c.assign(c.edge, c.ring.at(c.ring.prev(c.edge)).pos()+1, scheduler.Normal)

		left = c.ring.prev(left)
		c.assign(left, c.ring.at(c.ring.next(left)).pos()-1, scheduler.Normal)
	}

	if c.ring.next(c.edge) != left {
		panic("slicewindow: fill did not close the ring")
	}
}

// Clear aborts every task, drops every drawable and shows the symbolic
// drawable. Calling it on an empty ring changes nothing.
func (c *Cache) Clear() {
	if c.closed {
		return
	}
	c.ring.walk(c.current, func(i int, _ *slot) {
		c.retireSlot(i)
	})
	c.showSymbolic(c.symbolic.Position())
	c.publish()
}

// SetWindowWidth changes the radius, clamped to [0, max]. The current slot
// never moves.
func (c *Cache) SetWindowWidth(radius int) {
	if c.closed {
		return
	}
	radius = max(0, min(radius, c.maxRadius))
	if radius == c.radius {
		return
	}

	if radius < c.radius {
		for i := 0; i < c.radius-radius; i++ {
			right := c.edge
			left := c.ring.next(c.edge)
			c.retireSlot(right)
			c.retireSlot(left)
			c.edge = c.ring.prev(right)
			c.ring.remove(right)
			c.ring.remove(left)
		}
	} else {
		filled := c.ring.at(c.current).pos() != NoPosition
		left := c.ring.next(c.edge)
		for i := 0; i < radius-c.radius; i++ {
			edgePos := c.ring.at(c.edge).pos()
			leftPos := c.ring.at(left).pos()

			c.edge = c.ring.insertAfter(c.edge)
			left = c.ring.insertBefore(left)
			if filled {
				c.assign(c.edge, edgePos+1, scheduler.Normal)
				c.assign(left, leftPos-1, scheduler.Normal)
			}
		}
	}

	c.log.Debugw("window width changed", "from", c.radius, "to", radius)
	c.radius = radius
	c.publish()
}

// SetWindowMaximumWidth stores the bound and shrinks the window if needed.
func (c *Cache) SetWindowMaximumWidth(maxRadius int) {
	c.maxRadius = max(0, min(maxRadius, MaxPosition))
	if c.radius > c.maxRadius {
		c.SetWindowWidth(c.maxRadius)
	}
}

// SetColor, SetBrightness and SetContrast re-render the whole window, since
// every cached drawable was produced with the old parameters.
func (c *Cache) SetColor(color colorful.Color) {
	c.params.Color = color.Clamped()
	c.refresh()
}

// SetBrightness takes a value in [-1, 1].
func (c *Cache) SetBrightness(brightness float64) {
	c.params.Brightness = max(-1, min(brightness, 1))
	c.refresh()
}

// SetContrast takes a value in [0, 2].
func (c *Cache) SetContrast(contrast float64) {
	c.params.Contrast = max(0, min(contrast, 2))
	c.refresh()
}

// SetParams applies p. Opacity and visibility changes are applied in place;
// any other change re-renders the window.
func (c *Cache) SetParams(p render.Params) error {
	if err := p.Validate(); err != nil {
		return err
	}
	old := c.params
	if p.Opacity != old.Opacity {
		c.SetOpacity(p.Opacity)
	}
	if p.Visible != old.Visible {
		c.SetVisible(p.Visible)
	}
	if p.Color != old.Color || p.Brightness != old.Brightness || p.Contrast != old.Contrast {
		c.params = p
		c.refresh()
	}
	return nil
}

func (c *Cache) refresh() {
	if c.closed {
		return
	}
	position := c.ring.at(c.current).pos()
	c.Clear()
	if position != NoPosition {
		c.fill(position)
		c.showSymbolic(position)
	}
	c.surface.RequestRedraw()
	c.publish()
}

// SetOpacity updates every cached drawable and the symbolic one in place.
func (c *Cache) SetOpacity(opacity float64) {
	c.params.Opacity = max(0, min(opacity, 1))
	c.eachDrawable(func(d render.Drawable) { d.SetOpacity(c.params.Opacity) })
	c.surface.RequestRedraw()
}

// SetVisible shows or hides every cached drawable and the symbolic one.
func (c *Cache) SetVisible(visible bool) {
	c.params.Visible = visible
	c.eachDrawable(func(d render.Drawable) { d.SetVisible(visible) })
	c.surface.RequestRedraw()
}

func (c *Cache) eachDrawable(fn func(d render.Drawable)) {
	if c.closed {
		return
	}
	c.ring.walk(c.current, func(_ int, s *slot) {
		if _, d, _ := s.current(); d != nil {
			fn(d)
		}
	})
	fn(c.symbolic)
}

// NeedsUpdate reports whether the current slice is missing or was rendered
// from an older version of the source.
func (c *Cache) NeedsUpdate() bool {
	if c.closed {
		return false
	}
	_, d, stamp := c.ring.at(c.current).current()
	return d == nil || stamp != c.source.LastModifiedVersion()
}

// Reconcile gives a new task to every in-range slot that has none and whose
// drawable is missing (a failed render) or stale (the source changed). It
// returns the number of tasks submitted.
func (c *Cache) Reconcile() int {
	if c.closed || c.ring.at(c.current).pos() == NoPosition {
		return 0
	}
	version := c.source.LastModifiedVersion()

	var submitted int
	c.ring.walk(c.current, func(i int, s *slot) {
		t, d, stamp := s.current()
		position := s.pos()
		if t != nil || !c.inRange(position) {
			return
		}
		if d != nil && stamp == version {
			return
		}
		prio := scheduler.Normal
		if i == c.current {
			prio = scheduler.High
		}
		if c.assign(i, position, prio) {
			submitted++
		}
	})

	if c.shown == nil {
		c.showSymbolic(c.ring.at(c.current).pos())
	}
	if submitted > 0 {
		c.log.Debugw("reconciled window", "tasks", submitted, "version", version)
		c.surface.RequestRedraw()
	}
	c.publish()
	return submitted
}

// Close aborts all tasks, waits until running ones returned (bounded by ctx),
// takes the shown drawable off the surface and frees the ring. The cache is
// unusable afterwards.
func (c *Cache) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true

	var tasks []*SlotTask
	c.ring.walk(c.current, func(_ int, s *slot) {
		if t, _ := s.retire(); t != nil {
			tasks = append(tasks, t)
		}
	})
	if c.shown != nil {
		c.surface.RemoveDrawable(c.shown)
		c.shown = nil
	}
	c.surface.RequestRedraw()
	c.ring = ring{}
	c.publishedMemory.Store(0)

	for _, t := range tasks {
		// tasks that never started bail out on the abort flag without
		// touching shared state
		if t.State() == TaskCreated {
			continue
		}
		if err := t.Wait(ctx); err != nil {
			return fmt.Errorf("wait for %s: %w", t.Description(), err)
		}
	}
	return nil
}

// onTaskFinished runs on the loop for every task submitted by the cache.
func (c *Cache) onTaskFinished(s *slot, t *SlotTask) {
	if c.closed {
		return
	}
	d, ok := s.install(t)
	if !ok {
		c.metrics.RecordTaskCompleted(metrics.StatusStale, t.Elapsed().Seconds())
		return
	}
	if t.State() != TaskCompleted {
		status := metrics.StatusError
		if errors.Is(t.Err(), ErrTaskAborted) || errors.Is(t.Err(), context.Canceled) {
			status = metrics.StatusAborted
		}
		c.log.Debugw("slot task failed", "task", t.Description(), "error", t.Err())
		c.metrics.RecordTaskCompleted(status, t.Elapsed().Seconds())
		c.publish()
		return
	}

	c.taskTime += t.Elapsed()
	c.taskCount++
	c.metrics.RecordTaskCompleted(metrics.StatusSuccess, t.Elapsed().Seconds())

	if s == c.ring.at(c.current) {
		c.show(d)
		c.surface.RequestRedraw()
	} else {
		d.SetOpacity(c.params.Opacity)
		d.SetVisible(c.params.Visible)
	}
	c.publish()
}

// assign targets slot i at position and, when position is inside the source,
// submits a task for it. It returns whether a task was submitted.
func (c *Cache) assign(i, position int, prio scheduler.Priority) bool {
	s := c.ring.at(i)
	if !c.inRange(position) {
		c.drop(s.target(position))
		return false
	}

	t := NewSlotTask(c.worker)
	t.SetInput(c.source, position, c.axis, c.params)
	c.drop(s.assignTask(position, t))

	err := c.sched.Submit(t, prio, func() { c.onTaskFinished(s, t) })
	c.metrics.RecordTaskSubmitted(prio.String(), err)
	if err != nil {
		c.log.Warnw("failed to submit slot task", "task", t.Description(), "error", err)
		c.metrics.IncError(metrics.ErrTypeSubmit)
		s.releaseTask(t)
		return false
	}
	return true
}

// ensureCurrentTask makes sure the current slice is being rendered with high
// priority: a queued task is raised, a failed slot gets a new task.
func (c *Cache) ensureCurrentTask() {
	s := c.ring.at(c.current)
	t, d, _ := s.current()
	if d != nil {
		return
	}
	if t != nil {
		c.sched.Raise(t)
		return
	}
	c.assign(c.current, s.pos(), scheduler.High)
}

func (c *Cache) growOnMiss() {
	if c.missIncrement == 0 || c.radius >= c.maxRadius {
		return
	}
	c.metrics.IncWindowGrowth()
	c.SetWindowWidth(c.radius + c.missIncrement)
}

// retireSlot aborts the slot's task and takes its drawable off the surface.
func (c *Cache) retireSlot(i int) {
	_, d := c.ring.at(i).retire()
	c.drop(d)
}

// drop detaches a drawable released by a slot.
func (c *Cache) drop(d render.Drawable) {
	if d != nil && d == c.shown {
		c.surface.RemoveDrawable(d)
		c.shown = nil
	}
}

func (c *Cache) show(d render.Drawable) {
	d.SetOpacity(c.params.Opacity)
	d.SetVisible(c.params.Visible)
	if c.shown == d {
		return
	}
	if c.shown != nil {
		c.surface.RemoveDrawable(c.shown)
	}
	c.surface.AddDrawable(d)
	c.shown = d
}

func (c *Cache) showSymbolic(position int) {
	c.symbolic.SetPosition(position)
	c.show(c.symbolic)
}

func (c *Cache) inRange(position int) bool {
	if position == NoPosition {
		return false
	}
	lo, hi := c.source.Extent(c.axis)
	return position >= lo && position < hi
}

// publish refreshes the metrics and the values read by other goroutines.
func (c *Cache) publish() {
	position, _ := c.Position()
	c.metrics.UpdateWindowMetrics(position, c.radius, c.ring.size)
	memory := c.EstimatedMemoryUsed()
	c.metrics.SetEstimatedMemory(memory)
	c.publishedMemory.Store(int64(memory))
	status := c.BufferInfo()
	c.publishedStatus.Store(&status)
}

// Position returns the current slice position, false if the cache is empty.
func (c *Cache) Position() (int, bool) {
	if c.closed {
		return 0, false
	}
	p := c.ring.at(c.current).pos()
	return p, p != NoPosition
}

func (c *Cache) Axis() volume.Axis { return c.axis }

// WindowWidth returns the current radius.
func (c *Cache) WindowWidth() int { return c.radius }

// MaximumWindowWidth returns the radius bound.
func (c *Cache) MaximumWindowWidth() int { return c.maxRadius }

func (c *Cache) Params() render.Params { return c.params }

// Shown returns the drawable currently on the surface.
func (c *Cache) Shown() render.Drawable { return c.shown }

// EstimatedMemoryUsed sums the memory of all cached drawables.
func (c *Cache) EstimatedMemoryUsed() int {
	var total int
	if c.closed {
		return 0
	}
	c.ring.walk(c.current, func(_ int, s *slot) {
		if _, d, _ := s.current(); d != nil {
			total += d.MemorySize()
		}
	})
	return total
}

// AverageTaskTime is the mean render time of the tasks installed so far.
func (c *Cache) AverageTaskTime() time.Duration {
	if c.taskCount == 0 {
		return 0
	}
	return c.taskTime / time.Duration(c.taskCount)
}

// Slots returns a snapshot of the ring from the left-most slot to the right.
func (c *Cache) Slots() []SlotInfo {
	if c.closed {
		return nil
	}
	infos := make([]SlotInfo, 0, c.ring.size)
	c.ring.walk(c.ring.next(c.edge), func(i int, s *slot) {
		info := s.snapshot()
		info.InRange = c.inRange(info.Position)
		info.Current = i == c.current
		infos = append(infos, info)
	})
	return infos
}

// BufferInfo renders the ring as "| 8 | 9 | X |", left-most first, with X for
// slots that have neither a task nor a drawable.
func (c *Cache) BufferInfo() string {
	var b strings.Builder
	b.WriteString("|")
	for _, info := range c.Slots() {
		b.WriteString(" ")
		if !info.HasTask && !info.HasDrawable {
			b.WriteString("X")
		} else {
			b.WriteString(strconv.Itoa(info.Position))
		}
		b.WriteString(" |")
	}
	return b.String()
}

// PublishedMemory is the last EstimatedMemoryUsed value, safe to read from any
// goroutine.
func (c *Cache) PublishedMemory() int64 {
	return c.publishedMemory.Load()
}

// PublishedStatus is the last BufferInfo value, safe to read from any
// goroutine.
func (c *Cache) PublishedStatus() string {
	if s := c.publishedStatus.Load(); s != nil {
		return *s
	}
	return ""
}

// checkInvariants verifies the ring shape: 2*radius+1 linked slots, edge
// radius steps right of current and exactly one shown drawable.
func (c *Cache) checkInvariants() error {
	if err := c.ring.check(c.current); err != nil {
		return err
	}
	if c.ring.size != 2*c.radius+1 {
		return fmt.Errorf("ring has %d slots, want %d", c.ring.size, 2*c.radius+1)
	}
	i := c.current
	for k := 0; k < c.radius; k++ {
		i = c.ring.next(i)
	}
	if i != c.edge {
		return fmt.Errorf("edge is not %d slots right of current", c.radius)
	}
	if c.shown == nil {
		return errors.New("nothing shown")
	}
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
