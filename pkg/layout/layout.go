// Package layout is the renderer's geometry: aspect-preserving window sizing,
// resize debouncing, letterboxing and menu button scaling. Nothing here
// touches SDL.
package layout

import (
	"math"
	"slices"
	"time"

	"discplay/pkg/nav"
)

// Inherit is the target width/height sentinel meaning "track the window".
const Inherit = -1

// Size is a width and height in pixels.
type Size struct {
	W, H int
}

// Area returns W*H.
func (s Size) Area() int { return s.W * s.H }

// Rect is a placed rectangle in window coordinates.
type Rect struct {
	X, Y, W, H int
}

// Contains reports whether the point lies inside r.
func (r Rect) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.W && y >= r.Y && y < r.Y+r.H
}

// Request is the user's target size; either axis may be Inherit.
type Request struct {
	Width, Height int
}

// Reaspect picks the render target for a window resized from prev to next.
// The result always keeps aspect (width/height). A window shrunk below minimum
// snaps back to original, the size the stream first asked for.
func Reaspect(prev, next Size, req Request, original, minimum Size, aspect float64) Size {
	if aspect <= 0 {
		return next
	}
	if next.W < minimum.W || next.H < minimum.H || next.W <= 0 || next.H <= 0 {
		return original
	}

	switch {
	case req.Width == Inherit && req.Height != Inherit:
		return fromWidth(next.W, aspect)
	case req.Height == Inherit && req.Width != Inherit:
		return fromHeight(next.H, aspect)
	}

	grew := next.Area() >= prev.Area()
	horizontal := float64(next.W)/float64(next.H) > aspect
	switch {
	case grew && horizontal, !grew && !horizontal:
		return fromWidth(next.W, aspect)
	default:
		return fromHeight(next.H, aspect)
	}
}

func fromWidth(w int, aspect float64) Size {
	return Size{W: w, H: int(math.Round(float64(w) / aspect))}
}

func fromHeight(h int, aspect float64) Size {
	return Size{W: int(math.Round(float64(h) * aspect)), H: h}
}

// Initial resolves a Request against the stream size before any resize.
func Initial(req Request, stream Size) Size {
	if stream.W <= 0 || stream.H <= 0 {
		return Size{W: max(req.Width, 0), H: max(req.Height, 0)}
	}
	aspect := float64(stream.W) / float64(stream.H)
	switch {
	case req.Width > 0 && req.Height > 0:
		return Size{W: req.Width, H: req.Height}
	case req.Width > 0:
		return fromWidth(req.Width, aspect)
	case req.Height > 0:
		return fromHeight(req.Height, aspect)
	default:
		return stream
	}
}

// Fit letterboxes src inside dst, centred.
func Fit(src, dst Size) Rect {
	if src.W <= 0 || src.H <= 0 || dst.W <= 0 || dst.H <= 0 {
		return Rect{W: dst.W, H: dst.H}
	}
	scale := math.Min(float64(dst.W)/float64(src.W), float64(dst.H)/float64(src.H))
	w := int(float64(src.W) * scale)
	h := int(float64(src.H) * scale)
	return Rect{X: (dst.W - w) / 2, Y: (dst.H - h) / 2, W: w, H: h}
}

// Debouncer coalesces a burst of resize events. A new size is released only
// once delay has passed since the last event; until then blits are held back.
type Debouncer struct {
	delay   time.Duration
	last    time.Time
	size    Size
	pending bool
}

// NewDebouncer returns a debouncer with the given quiet period.
func NewDebouncer(delay time.Duration) *Debouncer {
	return &Debouncer{delay: delay}
}

// Resize records a resize event.
func (d *Debouncer) Resize(size Size, at time.Time) {
	d.size = size
	d.last = at
	d.pending = true
}

// Resizing reports whether a resize is still settling.
func (d *Debouncer) Resizing() bool { return d.pending }

// Ready returns the settled size once, after the quiet period.
func (d *Debouncer) Ready(at time.Time) (Size, bool) {
	if !d.pending || at.Sub(d.last) < d.delay {
		return Size{}, false
	}
	d.pending = false
	return d.size, true
}

// ScaleButtons maps buttons from the stream's native coordinates onto view.
func ScaleButtons(buttons []nav.ButtonRect, native Size, view Rect) []Rect {
	if native.W <= 0 || native.H <= 0 {
		return nil
	}
	sx := float64(view.W) / float64(native.W)
	sy := float64(view.H) / float64(native.H)
	out := make([]Rect, len(buttons))
	for i, b := range buttons {
		out[i] = Rect{
			X: view.X + int(math.Round(float64(b.X)*sx)),
			Y: view.Y + int(math.Round(float64(b.Y)*sy)),
			W: int(math.Round(float64(b.W) * sx)),
			H: int(math.Round(float64(b.H) * sy)),
		}
	}
	return out
}

// ButtonMap keeps the scaled menu geometry for hit-testing, rescaling only
// when the buttons or the view change.
type ButtonMap struct {
	buttons []nav.ButtonRect
	native  Size
	view    Rect
	scaled  []Rect
}

// Update refreshes the map. It reports whether a rescale happened.
func (m *ButtonMap) Update(buttons []nav.ButtonRect, native Size, view Rect) bool {
	if native == m.native && view == m.view && slices.Equal(buttons, m.buttons) {
		return false
	}
	m.buttons = slices.Clone(buttons)
	m.native = native
	m.view = view
	m.scaled = ScaleButtons(buttons, native, view)
	return true
}

// Scaled returns the buttons in window coordinates.
func (m *ButtonMap) Scaled() []Rect { return m.scaled }

// Hit returns the 1-based button under the point, or 0.
func (m *ButtonMap) Hit(x, y int) int {
	for i, r := range m.scaled {
		if r.Contains(x, y) {
			return i + 1
		}
	}
	return 0
}
