package render

import (
	"image"
	"image/color"
)

// Image is a finished, coloured slice.
type Image struct {
	appearance
	position int
	pix      *image.RGBA
}

var _ Drawable = (*Image)(nil)

// NewImage wraps pix as the drawable for position.
func NewImage(position int, pix *image.RGBA) *Image {
	return &Image{
		appearance: appearance{opacity: 1, visible: true},
		position:   position,
		pix:        pix,
	}
}

func (i *Image) Position() int { return i.position }

// Bounds returns the pixel bounds of the image.
func (i *Image) Bounds() image.Rectangle { return i.pix.Bounds() }

// At returns the pixel at (x, y) with the drawable opacity applied to alpha.
func (i *Image) At(x, y int) color.RGBA {
	c := i.pix.RGBAAt(x, y)
	c.A = uint8(float64(c.A) * i.opacity)
	return c
}

// RGBA exposes the underlying pixels. Callers must not modify them.
func (i *Image) RGBA() *image.RGBA { return i.pix }

func (i *Image) MemorySize() int {
	return len(i.pix.Pix)
}

// Symbolic is the placeholder outline shown while the real slice is missing.
// Unlike Image it is repositioned in place as the user scrubs.
type Symbolic struct {
	appearance
	position int
	bounds   image.Rectangle
	caption  string
}

var _ Drawable = (*Symbolic)(nil)

// NewSymbolic creates a placeholder covering a width x height slice.
func NewSymbolic(width, height int, caption string) *Symbolic {
	return &Symbolic{
		appearance: appearance{opacity: 1, visible: true},
		bounds:     image.Rect(0, 0, width, height),
		caption:    caption,
	}
}

func (s *Symbolic) Position() int { return s.position }

// SetPosition moves the placeholder to the depth of position.
func (s *Symbolic) SetPosition(p int) { s.position = p }

func (s *Symbolic) Bounds() image.Rectangle { return s.bounds }

func (s *Symbolic) Caption() string { return s.caption }

func (s *Symbolic) MemorySize() int { return 0 }
