// Package render contains the drawable objects produced by the slice cache and
// the pixel operations used to build them: intensity shift/scale, colour lookup
// tables and the symbolic placeholder shown while a slice is being computed.
//
// Drawables are created on worker goroutines and handed to the UI loop once
// finished; after that hand-off they are only touched from the UI loop.
package render

import (
	"fmt"

	"github.com/lucasb-eyer/go-colorful"
)

// Drawable is anything a render surface can show.
type Drawable interface {
	// Position is the slice index the drawable was built for.
	Position() int
	Opacity() float64
	SetOpacity(o float64)
	Visible() bool
	SetVisible(v bool)
	// MemorySize is an estimate of the bytes held by the drawable.
	MemorySize() int
}

// Params are the user-controlled rendering parameters of a channel.
type Params struct {
	Color      colorful.Color
	Brightness float64 // [-1, 1], added before scaling
	Contrast   float64 // [0, 2], multiplicative
	Opacity    float64 // [0, 1]
	Visible    bool
}

// DefaultParams renders plain gray at full opacity.
func DefaultParams() Params {
	return Params{
		Color:      colorful.Color{R: 1, G: 1, B: 1},
		Brightness: 0,
		Contrast:   1,
		Opacity:    1,
		Visible:    true,
	}
}

// Validate reports parameters out of their documented ranges.
func (p Params) Validate() error {
	if p.Brightness < -1 || p.Brightness > 1 {
		return fmt.Errorf("invalid brightness %v: must be in [-1, 1]", p.Brightness)
	}
	if p.Contrast < 0 || p.Contrast > 2 {
		return fmt.Errorf("invalid contrast %v: must be in [0, 2]", p.Contrast)
	}
	if p.Opacity < 0 || p.Opacity > 1 {
		return fmt.Errorf("invalid opacity %v: must be in [0, 1]", p.Opacity)
	}
	if !p.Color.IsValid() {
		return fmt.Errorf("invalid color %v", p.Color)
	}
	return nil
}

// appearance is the opacity/visibility pair shared by all drawables.
type appearance struct {
	opacity float64
	visible bool
}

func (a *appearance) Opacity() float64     { return a.opacity }
func (a *appearance) SetOpacity(o float64) { a.opacity = o }
func (a *appearance) Visible() bool        { return a.visible }
func (a *appearance) SetVisible(v bool)    { a.visible = v }
