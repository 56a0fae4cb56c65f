package render

import (
	"time"

	"discplay/pkg/layout"
)

// Sizer owns the window's target dimensions. Resize events are debounced and
// then re-aspected against the stream; blits are held back while a resize is
// settling.
type Sizer struct {
	req     layout.Request
	minimum layout.Size
	deb     *layout.Debouncer

	stream   layout.Size
	original layout.Size
	current  layout.Size
}

// NewSizer returns a sizer for a user request and minimum window size.
func NewSizer(req layout.Request, minimum layout.Size, delay time.Duration) *Sizer {
	return &Sizer{req: req, minimum: minimum, deb: layout.NewDebouncer(delay)}
}

// Stream records the decoded picture size. The first size, and any change
// after a codec reopen, resets the original target. It returns the window
// size to apply and whether it differs from the current one.
func (s *Sizer) Stream(size layout.Size) (layout.Size, bool) {
	if size == s.stream {
		return s.current, false
	}
	s.stream = size
	s.original = layout.Initial(s.req, size)
	if s.current.W > 0 && s.current.H > 0 {
		// Keep the user's window; fit the new aspect into it.
		next := layout.Reaspect(s.current, s.current, s.req, s.original, s.minimum, s.aspect())
		changed := next != s.current
		s.current = next
		return next, changed
	}
	s.current = s.original
	return s.current, true
}

// Place seeds the current size from a restored window.
func (s *Sizer) Place(size layout.Size) {
	s.current = size
}

// Resized records a window size reported by the toolkit. Reports of the size
// the sizer itself applied are ignored.
func (s *Sizer) Resized(size layout.Size, at time.Time) {
	if size == s.current && !s.deb.Resizing() {
		return
	}
	s.deb.Resize(size, at)
}

// Settle returns the re-aspected target once the debounce delay has passed
// since the last resize. apply is true when the window must be resized to
// the target.
func (s *Sizer) Settle(at time.Time) (target layout.Size, apply bool) {
	size, ok := s.deb.Ready(at)
	if !ok {
		return s.current, false
	}
	if s.stream.W <= 0 {
		s.current = size
		return size, false
	}
	target = layout.Reaspect(s.current, size, s.req, s.original, s.minimum, s.aspect())
	s.current = target
	return target, target != size
}

// Blocked reports whether a resize is still settling.
func (s *Sizer) Blocked() bool { return s.deb.Resizing() }

// Current is the window's target size.
func (s *Sizer) Current() layout.Size { return s.current }

// StreamSize is the decoded picture size.
func (s *Sizer) StreamSize() layout.Size { return s.stream }

// View is where the picture lands inside the window.
func (s *Sizer) View() layout.Rect { return layout.Fit(s.stream, s.current) }

func (s *Sizer) aspect() float64 {
	if s.stream.H <= 0 {
		return 0
	}
	return float64(s.stream.W) / float64(s.stream.H)
}
