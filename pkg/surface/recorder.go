// Package surface provides render surfaces for the slice cache: a headless
// Recorder for tests and benchmarks and a tcell based Terminal.
package surface

import (
	"slices"
	"sync"

	"github.com/espina-project/slicecache/pkg/render"
)

// Op is a surface call kind.
type Op string

const (
	OpAdd    Op = "add"
	OpRemove Op = "remove"
	OpRedraw Op = "redraw"
)

// Event is one recorded surface call. Position is -1 for redraws.
type Event struct {
	Op       Op
	Position int
	Symbolic bool
}

// Counts summarises the calls a Recorder received. BadRemoves counts removals
// of drawables that were not on the surface.
type Counts struct {
	Adds       int
	Removes    int
	Redraws    int
	BadRemoves int
}

// Recorder is a headless surface that keeps the drawables it was given and a
// log of every call. It is safe for concurrent use.
type Recorder struct {
	mu        sync.Mutex
	drawables []render.Drawable
	events    []Event
	counts    Counts
	keep      bool
}

// NewRecorder creates a recorder. With keepEvents false only counts and the
// visible set are tracked, for long benchmark runs.
func NewRecorder(keepEvents bool) *Recorder {
	return &Recorder{keep: keepEvents}
}

func (r *Recorder) AddDrawable(d render.Drawable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drawables = append(r.drawables, d)
	r.counts.Adds++
	r.record(OpAdd, d)
}

func (r *Recorder) RemoveDrawable(d render.Drawable) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.Index(r.drawables, d)
	if i < 0 {
		r.counts.BadRemoves++
		return
	}
	r.drawables = slices.Delete(r.drawables, i, i+1)
	r.counts.Removes++
	r.record(OpRemove, d)
}

func (r *Recorder) RequestRedraw() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts.Redraws++
	if r.keep {
		r.events = append(r.events, Event{Op: OpRedraw, Position: -1})
	}
}

func (r *Recorder) record(op Op, d render.Drawable) {
	if !r.keep {
		return
	}
	_, symbolic := d.(*render.Symbolic)
	r.events = append(r.events, Event{Op: op, Position: d.Position(), Symbolic: symbolic})
}

// Visible returns the drawables currently on the surface, oldest first.
func (r *Recorder) Visible() []render.Drawable {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.drawables)
}

func (r *Recorder) Counts() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Reset forgets events and counts but keeps the visible drawables.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.counts = Counts{}
}
