package worker

import (
	"context"
	"errors"

	"github.com/espina-project/slicecache/pkg/render"
	"github.com/espina-project/slicecache/pkg/volume"
)

var ErrExtractFailed = errors.New("extract slice failed")

// Request describes one slice to render.
type Request struct {
	Source   volume.Source
	Position int
	Axis     volume.Axis
	Params   render.Params
}

// Worker renders a single slice. Implementations must be safe for concurrent
// use and should return ctx.Err() promptly once ctx is cancelled.
type Worker interface {
	Render(ctx context.Context, req Request) (render.Drawable, error)
}
