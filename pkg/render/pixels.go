package render

import (
	"image"
	"math"
)

// ShiftScale converts normalized intensities to 8 bits as
// clamp((v*255 + shift) * scale, 0, 255).
func ShiftScale(data []float64, shift, scale float64) []uint8 {
	out := make([]uint8, len(data))
	for i, v := range data {
		out[i] = uint8(math.Round(clamp((v*255+shift)*scale, 0, 255)))
	}
	return out
}

// BrightnessShift converts a [-1, 1] brightness into the additive shift used
// by ShiftScale.
func BrightnessShift(brightness float64) float64 {
	return brightness * 255
}

// Threshold marks every intensity at or above level with 255.
func Threshold(data []float64, level float64) []uint8 {
	out := make([]uint8, len(data))
	for i, v := range data {
		if v >= level {
			out[i] = 255
		}
	}
	return out
}

// Colorize maps 8-bit values through lut into a width x height image.
func Colorize(values []uint8, width, height int, lut *LUT) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, v := range values {
		c := lut[v]
		o := i * 4
		img.Pix[o] = c.R
		img.Pix[o+1] = c.G
		img.Pix[o+2] = c.B
		img.Pix[o+3] = c.A
	}
	return img
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
