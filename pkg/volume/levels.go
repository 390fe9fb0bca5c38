package volume

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// AutoLevels suggests brightness in [-1,1] and contrast in [0,2] that map the
// slice's mean intensity to mid-gray and stretch two standard deviations to
// the full range. A flat slice yields the neutral (0, 1).
func AutoLevels(s *Slice) (brightness, contrast float64) {
	if s == nil || len(s.Data) == 0 {
		return 0, 1
	}
	mean, std := stat.MeanStdDev(s.Data, nil)
	if std == 0 || math.IsNaN(std) {
		return 0, 1
	}

	contrast = clamp(0.5/(2*std), 0, 2)
	// shift is applied before the scale: out = (in + shift) * scale
	brightness = clamp(0.5/contrast-mean, -1, 1)
	return brightness, contrast
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
