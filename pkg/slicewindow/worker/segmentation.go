package worker

import (
	"context"
	"fmt"

	"github.com/espina-project/slicecache/pkg/render"
)

// DefaultMaskLevel is the intensity at which a voxel belongs to the mask.
const DefaultMaskLevel = 0.5

// SegmentationWorker renders a binary mask coloured with the request colour.
// Brightness and contrast do not apply to masks.
type SegmentationWorker struct {
	level float64
}

var _ Worker = (*SegmentationWorker)(nil)

func NewSegmentationWorker(level float64) *SegmentationWorker {
	return &SegmentationWorker{level: level}
}

func (w *SegmentationWorker) Render(ctx context.Context, req Request) (render.Drawable, error) {
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
	mask := render.Threshold(s.Data, w.level)
	img := render.Colorize(mask, s.Width, s.Height, render.NewMaskLUT(req.Params.Color, 1))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return render.NewImage(req.Position, img), nil
}
