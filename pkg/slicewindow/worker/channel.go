package worker

import (
	"context"
	"fmt"

	"github.com/espina-project/slicecache/pkg/render"
)

// ChannelWorker renders intensity data: shift/scale by brightness and
// contrast, then colour through a hue-preserving lookup table.
type ChannelWorker struct {
	luts *render.LUTCache
}

var _ Worker = (*ChannelWorker)(nil)

// NewChannelWorker creates a worker sharing lookup tables through luts.
// A nil cache gets a private one.
func NewChannelWorker(luts *render.LUTCache) *ChannelWorker {
	if luts == nil {
		luts = &render.LUTCache{}
	}
	return &ChannelWorker{luts: luts}
}

func (w *ChannelWorker) Render(ctx context.Context, req Request) (render.Drawable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := req.Source.ExtractSlice(req.Position, req.Axis)
	if err != nil {
		return nil, fmt.Errorf("%w: %s position %d: %w", ErrExtractFailed, req.Axis, req.Position, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	values := render.ShiftScale(s.Data, render.BrightnessShift(req.Params.Brightness), req.Params.Contrast)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lut := w.luts.Channel(req.Params.Color)
	img := render.Colorize(values, s.Width, s.Height, lut)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return render.NewImage(req.Position, img), nil
}
