package slicewindow

import (
	"fmt"
	"math"
	"sync"

	"github.com/espina-project/slicecache/pkg/render"
)

// NoPosition marks a slot that has been cleared and not re-targeted yet.
const NoPosition = math.MinInt

// MaxPosition bounds the positions a cache accepts, so window arithmetic
// around a position cannot overflow.
const MaxPosition = math.MaxInt32 / 2

// slot is one node of the window ring. Its methods own the lock; ring
// splicing code never locks slots directly.
type slot struct {
	mu       sync.Mutex
	position int
	task     *SlotTask
	drawable render.Drawable
	stamp    uint64

	// arena indices, see ring
	next, prev int
}

func newSlot() *slot {
	return &slot{position: NoPosition}
}

func (s *slot) pos() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// target moves the slot to position without giving it work, for positions
// outside the source extent.
func (s *slot) target(position int) render.Drawable {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.task != nil {
		panic(fmt.Sprintf("slicewindow: re-targeting slot %d with task %s in flight", s.position, s.task.Description()))
	}
	dropped := s.drawable
	s.position = position
	s.drawable = nil
	s.stamp = 0
	return dropped
}

// assignTask gives the slot a new task for position, invalidating its
// drawable, which is returned so the caller can take it off the surface.
// The slot must not own a task already.
func (s *slot) assignTask(position int, t *SlotTask) render.Drawable {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.task != nil {
		panic(fmt.Sprintf("slicewindow: slot %d already owns task %s", s.position, s.task.Description()))
	}
	dropped := s.drawable
	s.position = position
	s.task = t
	s.drawable = nil
	s.stamp = 0
	return dropped
}

// releaseTask drops t if the slot still owns it, used when submission fails.
func (s *slot) releaseTask(t *SlotTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.task == t {
		s.task = nil
	}
}

// install moves the result of a finished task into the slot. ok is false when
// the slot no longer owns t (it was retired or re-targeted meanwhile), in
// which case the result is discarded. A failed task leaves the slot empty.
func (s *slot) install(t *SlotTask) (d render.Drawable, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.task != t {
		return nil, false
	}
	s.task = nil
	if t.State() != TaskCompleted {
		return nil, true
	}
	s.drawable = t.Drawable()
	s.stamp = t.Stamp()
	return s.drawable, true
}

// retire aborts and releases the task, drops the drawable and forgets the
// position. It returns what was released so the caller can detach it.
func (s *slot) retire() (*SlotTask, render.Drawable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, d := s.task, s.drawable
	if t != nil {
		t.Abort()
	}
	s.task = nil
	s.drawable = nil
	s.position = NoPosition
	s.stamp = 0
	return t, d
}

// current returns the task and drawable under the lock.
func (s *slot) current() (*SlotTask, render.Drawable, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task, s.drawable, s.stamp
}

func (s *slot) snapshot() SlotInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SlotInfo{
		Position:    s.position,
		HasTask:     s.task != nil,
		HasDrawable: s.drawable != nil,
		Stamp:       s.stamp,
	}
}
