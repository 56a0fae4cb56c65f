package layout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"discplay/pkg/nav"
)

func TestReaspectKeepsAspect(t *testing.T) {
	original := Size{W: 720, H: 480}
	minimum := Size{W: 160, H: 120}
	dontCare := Request{Width: Inherit, Height: Inherit}

	tests := []struct {
		name string
		prev Size
		next Size
		req  Request
		want Size
	}{
		{name: "grew, wider than aspect", prev: original, next: Size{W: 900, H: 400}, req: dontCare, want: Size{W: 900, H: 600}},
		{name: "grew, taller than aspect", prev: original, next: Size{W: 800, H: 700}, req: dontCare, want: Size{W: 1050, H: 700}},
		{name: "shrank, wider than aspect", prev: original, next: Size{W: 600, H: 300}, req: dontCare, want: Size{W: 450, H: 300}},
		{name: "shrank, taller than aspect", prev: original, next: Size{W: 480, H: 400}, req: dontCare, want: Size{W: 480, H: 320}},
		{name: "width tracks window", prev: original, next: Size{W: 900, H: 400}, req: Request{Width: Inherit, Height: 480}, want: Size{W: 900, H: 600}},
		{name: "height tracks window", prev: original, next: Size{W: 900, H: 400}, req: Request{Width: 720, Height: Inherit}, want: Size{W: 600, H: 400}},
		{name: "below minimum snaps back", prev: original, next: Size{W: 100, H: 400}, req: dontCare, want: original},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reaspect(tt.prev, tt.next, tt.req, original, minimum, 1.5)
			assert.Equal(t, tt.want, got)
			assert.InDelta(t, 1.5, float64(got.W)/float64(got.H), 0.01)
		})
	}
}

func TestInitial(t *testing.T) {
	stream := Size{W: 720, H: 576}
	assert.Equal(t, stream, Initial(Request{Width: Inherit, Height: Inherit}, stream))
	assert.Equal(t, Size{W: 360, H: 288}, Initial(Request{Width: 360, Height: Inherit}, stream))
	assert.Equal(t, Size{W: 1280, H: 720}, Initial(Request{Width: 1280, Height: 720}, stream))
}

func TestFitLetterboxes(t *testing.T) {
	assert.Equal(t, Rect{X: 0, Y: 60, W: 1280, H: 600}, Fit(Size{W: 640, H: 300}, Size{W: 1280, H: 720}))
	assert.Equal(t, Rect{X: 160, Y: 0, W: 960, H: 720}, Fit(Size{W: 720, H: 540}, Size{W: 1280, H: 720}))
}

func TestDebouncerWaitsForQuiet(t *testing.T) {
	d := NewDebouncer(100 * time.Millisecond)
	t0 := time.Unix(0, 0)

	d.Resize(Size{W: 800, H: 600}, t0)
	d.Resize(Size{W: 810, H: 610}, t0.Add(60*time.Millisecond))
	assert.True(t, d.Resizing())

	_, ok := d.Ready(t0.Add(120 * time.Millisecond))
	assert.False(t, ok, "quiet period restarts on every event")

	size, ok := d.Ready(t0.Add(160 * time.Millisecond))
	assert.True(t, ok)
	assert.Equal(t, Size{W: 810, H: 610}, size)
	assert.False(t, d.Resizing())

	_, ok = d.Ready(t0.Add(time.Second))
	assert.False(t, ok, "released once")
}

func TestButtonMapScalesAndHits(t *testing.T) {
	buttons := []nav.ButtonRect{{X: 100, Y: 100, W: 200, H: 50}, {X: 100, Y: 200, W: 200, H: 50}}
	native := Size{W: 720, H: 480}
	view := Rect{X: 0, Y: 60, W: 1440, H: 960}

	var m ButtonMap
	assert.True(t, m.Update(buttons, native, view))
	assert.False(t, m.Update(buttons, native, view), "unchanged input does not rescale")
	assert.Equal(t, Rect{X: 200, Y: 260, W: 400, H: 100}, m.Scaled()[0])

	assert.Equal(t, 1, m.Hit(250, 300))
	assert.Equal(t, 2, m.Hit(250, 500))
	assert.Equal(t, 0, m.Hit(10, 10))

	assert.True(t, m.Update(buttons, native, Rect{W: 720, H: 480}))
	assert.Equal(t, 1, m.Hit(150, 120))
}
