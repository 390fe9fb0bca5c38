package surface

import (
	"fmt"
	"image"
	"slices"
	"sync"

	"github.com/espina-project/slicecache/pkg/render"
	"github.com/gdamore/tcell/v2"
)

// upperHalf draws the top pixel in the foreground and the bottom one in the
// background, giving two image rows per terminal row.
const upperHalf = '▀'

// Terminal draws the most recently added drawable on a tcell screen, scaled
// to fit above a one-line status bar. Drawing only happens on Flush, so many
// surface changes between two flushes cost a single repaint.
type Terminal struct {
	screen tcell.Screen

	mu        sync.Mutex
	drawables []render.Drawable
	status    string
	dirty     bool
}

func NewTerminal(screen tcell.Screen) *Terminal {
	return &Terminal{screen: screen, dirty: true}
}

func (t *Terminal) AddDrawable(d render.Drawable) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.drawables = append(t.drawables, d)
	t.dirty = true
}

func (t *Terminal) RemoveDrawable(d render.Drawable) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i := slices.Index(t.drawables, d); i >= 0 {
		t.drawables = slices.Delete(t.drawables, i, i+1)
		t.dirty = true
	}
}

func (t *Terminal) RequestRedraw() {
	t.mu.Lock()
	t.dirty = true
	t.mu.Unlock()
}

// SetStatus replaces the bottom status line.
func (t *Terminal) SetStatus(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s != t.status {
		t.status = s
		t.dirty = true
	}
}

// Flush repaints the screen if anything changed since the last flush. It
// reports whether a repaint happened.
func (t *Terminal) Flush() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.dirty {
		return false
	}
	t.dirty = false
	t.draw()
	return true
}

// Invalidate forces the next Flush to repaint, e.g. after a resize.
func (t *Terminal) Invalidate() {
	t.RequestRedraw()
}

func (t *Terminal) draw() {
	t.screen.Clear()
	w, h := t.screen.Size()
	area := image.Rect(0, 0, w, max(0, h-1))

	if n := len(t.drawables); n > 0 {
		switch d := t.drawables[n-1].(type) {
		case *render.Image:
			if d.Visible() {
				drawImage(t.screen, area, d)
			}
		case *render.Symbolic:
			if d.Visible() {
				drawOutline(t.screen, area, d)
			}
		}
	}

	statusStyle := tcell.StyleDefault.Reverse(true)
	for x := 0; x < w; x++ {
		t.screen.SetContent(x, h-1, ' ', nil, statusStyle)
	}
	drawText(t.screen, 0, h-1, w, t.status, statusStyle)
	t.screen.Show()
}

// fit returns the cell rectangle, inside area and centred, that keeps the
// aspect ratio of a w x h image drawn with two pixels per cell vertically.
func fit(area image.Rectangle, w, h int) image.Rectangle {
	if w <= 0 || h <= 0 || area.Empty() {
		return image.Rectangle{}
	}
	cols, rows := area.Dx(), area.Dy()
	// pixel rows available are 2*rows
	scale := min(float64(cols)/float64(w), float64(2*rows)/float64(h))
	cw := max(1, int(float64(w)*scale))
	ch := max(1, int(float64(h)*scale)/2)
	x0 := area.Min.X + (cols-cw)/2
	y0 := area.Min.Y + (rows-ch)/2
	return image.Rect(x0, y0, x0+cw, y0+ch)
}

func drawImage(s tcell.Screen, area image.Rectangle, img *render.Image) {
	b := img.Bounds()
	r := fit(area, b.Dx(), b.Dy())
	if r.Empty() {
		return
	}
	sample := func(cx, py int) tcell.Color {
		x := b.Min.X + (cx-r.Min.X)*b.Dx()/r.Dx()
		y := b.Min.Y + py*b.Dy()/(2*r.Dy())
		c := img.At(x, y)
		// blend over black
		a := int32(c.A)
		return tcell.NewRGBColor(int32(c.R)*a/255, int32(c.G)*a/255, int32(c.B)*a/255)
	}
	for cy := r.Min.Y; cy < r.Max.Y; cy++ {
		py := 2 * (cy - r.Min.Y)
		for cx := r.Min.X; cx < r.Max.X; cx++ {
			style := tcell.StyleDefault.Foreground(sample(cx, py)).Background(sample(cx, py+1))
			s.SetContent(cx, cy, upperHalf, nil, style)
		}
	}
}

func drawOutline(s tcell.Screen, area image.Rectangle, sym *render.Symbolic) {
	b := sym.Bounds()
	r := fit(area, b.Dx(), b.Dy())
	if r.Dx() < 2 || r.Dy() < 2 {
		return
	}
	style := tcell.StyleDefault.Foreground(tcell.ColorGray)
	for x := r.Min.X; x < r.Max.X; x++ {
		s.SetContent(x, r.Min.Y, '─', nil, style)
		s.SetContent(x, r.Max.Y-1, '─', nil, style)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		s.SetContent(r.Min.X, y, '│', nil, style)
		s.SetContent(r.Max.X-1, y, '│', nil, style)
	}
	s.SetContent(r.Min.X, r.Min.Y, '┌', nil, style)
	s.SetContent(r.Max.X-1, r.Min.Y, '┐', nil, style)
	s.SetContent(r.Min.X, r.Max.Y-1, '└', nil, style)
	s.SetContent(r.Max.X-1, r.Max.Y-1, '┘', nil, style)

	caption := fmt.Sprintf("%s %d", sym.Caption(), sym.Position())
	x := r.Min.X + max(1, (r.Dx()-len(caption))/2)
	drawText(s, x, r.Min.Y+r.Dy()/2, r.Max.X-1, caption, style)
}

// drawText writes text from (x, y), clipped before column limit.
func drawText(s tcell.Screen, x, y, limit int, text string, style tcell.Style) {
	for _, r := range text {
		if x >= limit {
			return
		}
		s.SetContent(x, y, r, nil, style)
		x++
	}
}
