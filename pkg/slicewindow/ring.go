package slicewindow

import (
	"errors"
	"fmt"
)

// ring is a circular doubly-linked list of slots stored in an arena and
// linked by index. Removed slots go back to a free list.
type ring struct {
	slots []*slot
	free  []int
	size  int
}

func (r *ring) alloc() int {
	s := newSlot()
	if n := len(r.free); n > 0 {
		i := r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[i] = s
		r.size++
		return i
	}
	r.slots = append(r.slots, s)
	r.size++
	return len(r.slots) - 1
}

func (r *ring) at(i int) *slot {
	return r.slots[i]
}

func (r *ring) next(i int) int { return r.slots[i].next }

func (r *ring) prev(i int) int { return r.slots[i].prev }

// build resets the arena to a ring of n slots (n >= 1) and returns the index
// of the first one.
func (r *ring) build(n int) int {
	r.slots, r.free, r.size = nil, nil, 0
	first := r.alloc()
	r.slots[first].next, r.slots[first].prev = first, first
	last := first
	for i := 1; i < n; i++ {
		last = r.insertAfter(last)
	}
	return first
}

// insertAfter splices a new slot between at and its successor.
func (r *ring) insertAfter(at int) int {
	i := r.alloc()
	n := r.slots[at].next
	r.slots[i].prev, r.slots[i].next = at, n
	r.slots[at].next = i
	r.slots[n].prev = i
	return i
}

// insertBefore splices a new slot between at and its predecessor.
func (r *ring) insertBefore(at int) int {
	return r.insertAfter(r.slots[at].prev)
}

// remove unlinks i and releases its arena entry.
func (r *ring) remove(i int) {
	if r.size == 1 {
		panic("slicewindow: removing the last slot of the ring")
	}
	p, n := r.slots[i].prev, r.slots[i].next
	r.slots[p].next = n
	r.slots[n].prev = p
	r.slots[i] = nil
	r.free = append(r.free, i)
	r.size--
}

// walk calls fn for size slots starting at start, following next.
func (r *ring) walk(start int, fn func(i int, s *slot)) {
	i := start
	for k := 0; k < r.size; k++ {
		fn(i, r.slots[i])
		i = r.slots[i].next
	}
}

// check verifies the links from start: every next/prev pair agrees and the
// cycle has exactly size live slots.
func (r *ring) check(start int) error {
	if r.size == 0 {
		return errors.New("empty ring")
	}
	if start < 0 || start >= len(r.slots) || r.slots[start] == nil {
		return fmt.Errorf("start %d is not a live slot", start)
	}
	i := start
	for k := 0; k < r.size; k++ {
		s := r.slots[i]
		if s == nil {
			return fmt.Errorf("link to freed slot %d", i)
		}
		if r.slots[s.next] == nil || r.slots[s.next].prev != i {
			return fmt.Errorf("broken link %d -> %d", i, s.next)
		}
		i = s.next
	}
	if i != start {
		return fmt.Errorf("cycle from %d does not close after %d slots", start, r.size)
	}
	return nil
}
