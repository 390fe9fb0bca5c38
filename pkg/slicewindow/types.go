package slicewindow

import (
	"github.com/espina-project/slicecache/pkg/render"
	"github.com/espina-project/slicecache/pkg/scheduler"
	"github.com/espina-project/slicecache/pkg/volume"
)

// Surface is the view the cache shows drawables on. Added drawables become
// visible, removed ones do not. Called only from the loop goroutine.
type Surface interface {
	AddDrawable(d render.Drawable)
	RemoveDrawable(d render.Drawable)
	RequestRedraw()
}

// Submitter runs slot tasks in the background. done must be delivered exactly
// once, on the loop goroutine, after the task's Run returned. A submission
// error means the task will never run and done will not be called.
type Submitter interface {
	Submit(task scheduler.Task, p scheduler.Priority, done func()) error
	// Raise promotes a queued task to high priority.
	Raise(task scheduler.Task) bool
}

var _ Submitter = (*scheduler.Scheduler)(nil)

// Config holds the host-supplied settings of a cache.
type Config struct {
	Axis volume.Axis
	// Radius is the initial number of slots on each side of the current one.
	Radius int
	// MaxRadius bounds Radius, including growth on cache misses.
	MaxRadius int
	// MissIncrement is how much a cache miss grows the radius. 0 disables growth.
	MissIncrement int
	Params        render.Params
}

// DefaultConfig returns a radius of 5,
// growing by 5 on each miss up to 15.
func DefaultConfig() Config {
	return Config{
		Axis:          volume.AxisZ,
		Radius:        5,
		MaxRadius:     15,
		MissIncrement: 5,
		Params:        render.DefaultParams(),
	}
}

// SlotInfo is a read-only view of one slot.
type SlotInfo struct {
	Position    int
	InRange     bool
	HasTask     bool
	HasDrawable bool
	Stamp       uint64
	Current     bool
}
