package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/lucasb-eyer/go-colorful"
	"go.uber.org/zap"

	"github.com/espina-project/slicecache/pkg/checkpointer"
	"github.com/espina-project/slicecache/pkg/scheduler"
	"github.com/espina-project/slicecache/pkg/slicewindow"
	"github.com/espina-project/slicecache/pkg/surface"
	"github.com/espina-project/slicecache/pkg/volume"
)

const (
	pageStep   = 10
	levelStep  = 0.1
	paletteLen = 6
)

// palette is the channel colours cycled by the c key: white, then evenly
// spaced saturated hues.
func palette() []colorful.Color {
	colors := []colorful.Color{{R: 1, G: 1, B: 1}}
	for i := 0; i < paletteLen; i++ {
		colors = append(colors, colorful.Hsv(float64(i)*360/paletteLen, 1, 1))
	}
	return colors
}

// viewer owns the loop goroutine of the interactive command. Every method
// except Run and post is called on it.
type viewer struct {
	log      *zap.SugaredLogger
	loop     *scheduler.Loop
	cache    *slicewindow.Cache
	term     *surface.Terminal
	vol      *volume.Volume
	state    *checkpointer.State
	volumeID string

	colors   []colorful.Color
	colorIdx int

	quit          func()
	frameInterval time.Duration
	closeTimeout  time.Duration
}

// Run drives the loop until ctx is done, repainting every frame interval,
// then closes the cache.
func (v *viewer) Run(ctx context.Context) error {
	t := time.NewTicker(v.frameInterval)
	defer t.Stop()

	for {
		v.loop.RunPending()
		select {
		case <-ctx.Done():
			return v.shutdown(ctx)
		case <-v.loop.Ready():
		case <-t.C:
			v.frame()
		}
	}
}

func (v *viewer) shutdown(ctx context.Context) error {
	v.loop.RunPending()
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.closeTimeout)
	defer cancel()
	if err := v.cache.Close(closeCtx); err != nil {
		return fmt.Errorf("failed to close slice cache: %w", err)
	}
	// completions of the aborted tasks
	v.loop.RunPending()
	return ctx.Err()
}

// frame re-renders missing or edited slices and repaints.
func (v *viewer) frame() {
	if v.cache.NeedsUpdate() {
		if n := v.cache.Reconcile(); n > 0 {
			v.log.Debugw("re-rendering window", "submitted", n)
		}
	}
	v.term.SetStatus(v.status())
	v.term.Flush()
}

func (v *viewer) status() string {
	p, _ := v.cache.Position()
	_, hi := v.vol.Extent(v.cache.Axis())
	return fmt.Sprintf(" %s %d/%d  radius %d/%d  %.1f MiB  %s",
		v.cache.Axis(), p, hi-1,
		v.cache.WindowWidth(), v.cache.MaximumWindowWidth(),
		float64(v.cache.EstimatedMemoryUsed())/(1<<20),
		v.cache.BufferInfo(),
	)
}

// post forwards terminal events to the loop. It returns once the screen is
// finalized.
func (v *viewer) post(screen tcell.Screen) {
	for {
		ev := screen.PollEvent()
		if ev == nil {
			return
		}
		v.loop.Post(func() { v.handleEvent(ev) })
	}
}

func (v *viewer) handleEvent(ev tcell.Event) {
	switch ev := ev.(type) {
	case *tcell.EventResize:
		v.term.Invalidate()
	case *tcell.EventKey:
		v.handleKey(ev)
	}
}

func (v *viewer) handleKey(ev *tcell.EventKey) {
	p, _ := v.cache.Position()
	lo, hi := v.vol.Extent(v.cache.Axis())

	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		v.quit()
		return
	case tcell.KeyUp, tcell.KeyRight:
		v.setPosition(p + 1)
		return
	case tcell.KeyDown, tcell.KeyLeft:
		v.setPosition(p - 1)
		return
	case tcell.KeyPgUp:
		v.setPosition(p + pageStep)
		return
	case tcell.KeyPgDn:
		v.setPosition(p - pageStep)
		return
	case tcell.KeyHome:
		v.setPosition(lo)
		return
	case tcell.KeyEnd:
		v.setPosition(hi - 1)
		return
	case tcell.KeyRune:
	default:
		return
	}

	params := v.cache.Params()
	switch ev.Rune() {
	case 'q':
		v.quit()
	case 'k':
		v.setPosition(p + 1)
	case 'j':
		v.setPosition(p - 1)
	case '+':
		v.cache.SetWindowWidth(v.cache.WindowWidth() + 1)
		v.saveSession()
	case '-':
		v.cache.SetWindowWidth(v.cache.WindowWidth() - 1)
		v.saveSession()
	case 'c':
		v.colorIdx = (v.colorIdx + 1) % len(v.colors)
		v.cache.SetColor(v.colors[v.colorIdx])
	case 'b':
		v.cache.SetBrightness(params.Brightness + levelStep)
	case 'B':
		v.cache.SetBrightness(params.Brightness - levelStep)
	case 'x':
		v.cache.SetContrast(params.Contrast + levelStep)
	case 'X':
		v.cache.SetContrast(params.Contrast - levelStep)
	case 'o':
		v.cache.SetVisible(!params.Visible)
	case 'a':
		v.autoLevels()
	case 'i':
		v.invert()
	}
}

// setPosition clamps p to the volume and moves the cache there.
func (v *viewer) setPosition(p int) {
	lo, hi := v.vol.Extent(v.cache.Axis())
	p = max(lo, min(p, hi-1))
	v.cache.SetPosition(p)
	v.saveSession()
}

func (v *viewer) saveSession() {
	p, ok := v.cache.Position()
	if !ok {
		return
	}
	v.state.Set(checkpointer.Session{
		VolumeID:     v.volumeID,
		Axis:         v.cache.Axis(),
		Position:     p,
		WindowRadius: v.cache.WindowWidth(),
	})
}

// autoLevels derives brightness and contrast from the current slice.
func (v *viewer) autoLevels() {
	p, ok := v.cache.Position()
	if !ok {
		return
	}
	s, err := v.vol.ExtractSlice(p, v.cache.Axis())
	if err != nil {
		v.log.Warnw("failed to extract slice for auto levels", "position", p, "error", err)
		return
	}
	brightness, contrast := volume.AutoLevels(s)
	v.log.Debugw("auto levels", "position", p, "brightness", brightness, "contrast", contrast)
	params := v.cache.Params()
	params.Brightness, params.Contrast = brightness, contrast
	if err := v.cache.SetParams(params); err != nil {
		v.log.Warnw("failed to apply auto levels", "error", err)
	}
}

// invert edits the volume in place; the next frame re-renders the window.
func (v *viewer) invert() {
	version := v.vol.Modify(func(data []float64, _, _, _ int) {
		for i := range data {
			data[i] = 1 - data[i]
		}
	})
	v.log.Infow("volume inverted", "version", version)
}
