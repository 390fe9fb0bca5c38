// Package volume holds the volumetric source data the slice cache renders from:
// a versioned voxel grid that can be cut into 2D slices along any of its three
// axes. Extraction is read-only and safe to call concurrently from multiple
// workers; edits go through Modify, which bumps the version that cached slices
// are stamped with.
package volume

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	ErrOutOfRange     = errors.New("slice position out of range")
	ErrInvalidAxis    = errors.New("invalid axis")
	ErrInvalidExtents = errors.New("invalid volume extents")
)

// Axis is the normal of the slicing plane.
type Axis int

const (
	AxisX Axis = iota // sagittal, YZ plane
	AxisY             // coronal, XZ plane
	AxisZ             // axial, XY plane
)

// String returns the anatomical plane name for the axis.
func (a Axis) String() string {
	switch a {
	case AxisX:
		return "Sagittal"
	case AxisY:
		return "Coronal"
	case AxisZ:
		return "Axial"
	default:
		return fmt.Sprintf("Axis(%d)", int(a))
	}
}

// ParseAxis accepts x/y/z or the plane names, case-insensitive.
func ParseAxis(s string) (Axis, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x", "sagittal":
		return AxisX, nil
	case "y", "coronal":
		return AxisY, nil
	case "z", "axial":
		return AxisZ, nil
	default:
		return 0, fmt.Errorf("%w: %q (must be x, y or z)", ErrInvalidAxis, s)
	}
}

// Slice is a 2D cut of the volume. Data holds normalized intensities in [0,1]
// in row-major order.
type Slice struct {
	Width    int
	Height   int
	Position int
	Axis     Axis
	Data     []float64
}

// At returns the intensity at (x, y).
func (s *Slice) At(x, y int) float64 {
	return s.Data[y*s.Width+x]
}

// Source is the read-only view of volumetric data used by slice workers.
type Source interface {
	// LastModifiedVersion is a monotonic counter bumped on every edit.
	LastModifiedVersion() uint64
	// Extent returns the valid slice positions [lo, hi) along the axis.
	Extent(axis Axis) (lo, hi int)
	// ExtractSlice cuts the slice at position. It has no side effects.
	ExtractSlice(position int, axis Axis) (*Slice, error)
}

// Volume is an in-memory voxel grid stored as z*width*height + y*width + x.
type Volume struct {
	mu      sync.RWMutex
	data    []float64
	width   int
	height  int
	depth   int
	version atomic.Uint64
}

var _ Source = (*Volume)(nil)

// New creates a zeroed volume. Version starts at 1 so a zero freshness stamp
// always reads as stale.
func New(width, height, depth int) (*Volume, error) {
	if width <= 0 || height <= 0 || depth <= 0 {
		return nil, fmt.Errorf("%w: %dx%dx%d", ErrInvalidExtents, width, height, depth)
	}
	v := &Volume{
		data:   make([]float64, width*height*depth),
		width:  width,
		height: height,
		depth:  depth,
	}
	v.version.Store(1)
	return v, nil
}

// Dimensions returns width, height and depth in voxels.
func (v *Volume) Dimensions() (int, int, int) {
	return v.width, v.height, v.depth
}

// LastModifiedVersion implements Source.
func (v *Volume) LastModifiedVersion() uint64 {
	return v.version.Load()
}

// Extent implements Source.
func (v *Volume) Extent(axis Axis) (int, int) {
	switch axis {
	case AxisX:
		return 0, v.width
	case AxisY:
		return 0, v.height
	case AxisZ:
		return 0, v.depth
	default:
		return 0, 0
	}
}

// Modify runs fn with exclusive access to the voxel buffer and bumps the
// version afterwards. fn receives the buffer and the grid dimensions.
func (v *Volume) Modify(fn func(data []float64, width, height, depth int)) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn(v.data, v.width, v.height, v.depth)
	return v.version.Add(1)
}

// ExtractSlice implements Source. X slices are depth x height images, Y slices
// width x depth, Z slices width x height.
func (v *Volume) ExtractSlice(position int, axis Axis) (*Slice, error) {
	lo, hi := v.Extent(axis)
	if lo == hi {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAxis, int(axis))
	}
	if position < lo || position >= hi {
		return nil, fmt.Errorf("%w: %s position %d not in [%d,%d)", ErrOutOfRange, axis, position, lo, hi)
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	plane := v.width * v.height
	s := &Slice{Position: position, Axis: axis}
	switch axis {
	case AxisX:
		s.Width, s.Height = v.depth, v.height
		s.Data = make([]float64, s.Width*s.Height)
		for y := 0; y < v.height; y++ {
			for z := 0; z < v.depth; z++ {
				s.Data[y*s.Width+z] = v.data[z*plane+y*v.width+position]
			}
		}
	case AxisY:
		s.Width, s.Height = v.width, v.depth
		s.Data = make([]float64, s.Width*s.Height)
		for z := 0; z < v.depth; z++ {
			copy(s.Data[z*s.Width:(z+1)*s.Width], v.data[z*plane+position*v.width:z*plane+(position+1)*v.width])
		}
	case AxisZ:
		s.Width, s.Height = v.width, v.height
		s.Data = make([]float64, plane)
		copy(s.Data, v.data[position*plane:(position+1)*plane])
	}
	return s, nil
}

// SliceSize returns the width and height of slices cut from src along axis,
// matching the layout produced by Volume.ExtractSlice.
func SliceSize(src Source, axis Axis) (width, height int) {
	extent := func(a Axis) int {
		lo, hi := src.Extent(a)
		return hi - lo
	}
	switch axis {
	case AxisX:
		return extent(AxisZ), extent(AxisY)
	case AxisY:
		return extent(AxisX), extent(AxisZ)
	case AxisZ:
		return extent(AxisX), extent(AxisY)
	default:
		return 0, 0
	}
}
