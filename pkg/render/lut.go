package render

import (
	"image/color"
	"math"
	"sync"

	"github.com/lucasb-eyer/go-colorful"
)

// LUT maps an 8-bit intensity to a colour.
type LUT [256]color.RGBA

// NewChannelLUT builds a ramp that keeps the hue of c, raises saturation from
// 0 to the saturation of c and value from 0 to 1. Gray inputs give a plain
// black to white ramp.
func NewChannelLUT(c colorful.Color) *LUT {
	h, s, _ := c.Hsv()
	var lut LUT
	for i := range lut {
		f := float64(i) / 255
		r, g, b := colorful.Hsv(h, s*f, f).Clamped().RGB255()
		lut[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return &lut
}

// NewMaskLUT maps 0 to transparent and every other value to c.
func NewMaskLUT(c colorful.Color, alpha float64) *LUT {
	r, g, b := c.Clamped().RGB255()
	a := uint8(math.Round(clamp(alpha, 0, 1) * 255))
	var lut LUT
	for i := 1; i < len(lut); i++ {
		lut[i] = color.RGBA{R: r, G: g, B: b, A: a}
	}
	return &lut
}

// LUTCache shares channel lookup tables between tasks rendering the same colour.
// The zero value is ready to use.
type LUTCache struct {
	mu     sync.Mutex
	tables map[string]*LUT
}

// Channel returns the cached table for c, building it on first use.
func (lc *LUTCache) Channel(c colorful.Color) *LUT {
	key := c.Clamped().Hex()

	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lut, ok := lc.tables[key]; ok {
		return lut
	}
	if lc.tables == nil {
		lc.tables = make(map[string]*LUT)
	}
	lut := NewChannelLUT(c)
	lc.tables[key] = lut
	return lut
}

// Len reports the number of cached tables.
func (lc *LUTCache) Len() int {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return len(lc.tables)
}
