package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veandco/go-sdl2/sdl"

	"discplay/pkg/codec"
	"discplay/pkg/layout"
)

func TestFrameSlotKeepsNewest(t *testing.T) {
	var slot FrameSlot
	assert.False(t, slot.Take(func(codec.Frame) { t.Fatal("no frame yet") }))

	buf := []byte{1, 2, 3, 4}
	require.NoError(t, slot.PlayVideo(codec.Frame{Width: 1, Height: 1, Pixels: buf, Marker: 1}))
	buf[0] = 9 // the decoder reuses its buffer
	require.NoError(t, slot.PlayVideo(codec.Frame{Width: 1, Height: 1, Pixels: []byte{5, 6, 7, 8}, Marker: 2}))

	var got codec.Frame
	require.True(t, slot.Take(func(f codec.Frame) { got = f }))
	assert.Equal(t, uint64(2), got.Marker)
	assert.Equal(t, []byte{5, 6, 7, 8}, got.Pixels)
	assert.EqualValues(t, 1, slot.Dropped())
	assert.False(t, slot.Take(func(codec.Frame) {}))
}

func TestFrameSlotCopiesPixels(t *testing.T) {
	var slot FrameSlot
	buf := []byte{1, 2, 3, 4}
	require.NoError(t, slot.PlayVideo(codec.Frame{Width: 1, Height: 1, Pixels: buf}))
	buf[0] = 9
	slot.Take(func(f codec.Frame) { assert.Equal(t, byte(1), f.Pixels[0]) })
}

func TestFrameSlotDisabledDropsEverything(t *testing.T) {
	var slot FrameSlot
	require.NoError(t, slot.PlayVideo(codec.Frame{Width: 1, Height: 1, Pixels: make([]byte, 4)}))
	slot.Disable()
	assert.True(t, slot.Disabled())
	assert.False(t, slot.Take(func(codec.Frame) {}))
	require.NoError(t, slot.PlayVideo(codec.Frame{Width: 1, Height: 1, Pixels: make([]byte, 4)}))
	assert.False(t, slot.Take(func(codec.Frame) {}))
}

func TestSizerFirstStreamUsesRequest(t *testing.T) {
	s := NewSizer(layout.Request{Width: 960, Height: layout.Inherit}, layout.Size{W: 160, H: 120}, time.Second)
	size, changed := s.Stream(layout.Size{W: 720, H: 480})
	assert.True(t, changed)
	assert.Equal(t, layout.Size{W: 960, H: 640}, size)

	size, changed = s.Stream(layout.Size{W: 720, H: 480})
	assert.False(t, changed)
	assert.Equal(t, layout.Size{W: 960, H: 640}, size)
}

func TestSizerDebouncesAndReaspects(t *testing.T) {
	s := NewSizer(layout.Request{Width: layout.Inherit, Height: layout.Inherit}, layout.Size{W: 160, H: 120}, 100*time.Millisecond)
	s.Stream(layout.Size{W: 720, H: 480})
	require.Equal(t, layout.Size{W: 720, H: 480}, s.Current())

	t0 := time.Now()
	s.Resized(layout.Size{W: 800, H: 450}, t0)
	s.Resized(layout.Size{W: 900, H: 400}, t0.Add(50*time.Millisecond))
	assert.True(t, s.Blocked())

	_, apply := s.Settle(t0.Add(120 * time.Millisecond))
	assert.False(t, apply, "still inside the quiet period of the last event")

	target, apply := s.Settle(t0.Add(151 * time.Millisecond))
	assert.True(t, apply)
	assert.Equal(t, layout.Size{W: 900, H: 600}, target)
	assert.False(t, s.Blocked())

	// The toolkit echoes the size we applied; that is not a user resize.
	s.Resized(target, t0.Add(160*time.Millisecond))
	assert.False(t, s.Blocked())
	assert.Equal(t, layout.Rect{W: 900, H: 600}, s.View())
}

func TestSizerSnapsBackBelowMinimum(t *testing.T) {
	s := NewSizer(layout.Request{Width: layout.Inherit, Height: layout.Inherit}, layout.Size{W: 200, H: 150}, 0)
	s.Stream(layout.Size{W: 720, H: 480})
	t0 := time.Now()
	s.Resized(layout.Size{W: 100, H: 80}, t0)
	target, apply := s.Settle(t0)
	assert.True(t, apply)
	assert.Equal(t, layout.Size{W: 720, H: 480}, target)
}

func TestCopyRowsHonoursPitch(t *testing.T) {
	src := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	dst := make([]byte, 12)
	copyRows(dst, 6, src, 4, 2)
	assert.Equal(t, []byte{1, 2, 3, 4, 0, 0, 5, 6, 7, 8, 0, 0}, dst)

	same := make([]byte, 8)
	copyRows(same, 4, src, 4, 2)
	assert.Equal(t, src, same)
}

func TestRequestedPositionResolvesCentering(t *testing.T) {
	display := sdl.Rect{X: 1920, Y: 0, W: 1920, H: 1080}
	size := layout.Size{W: 720, H: 480}
	centered := int32(sdl.WINDOWPOS_CENTERED)

	x, y := requestedPosition(centered, centered, size, display)
	assert.Equal(t, 1920+600, x)
	assert.Equal(t, 300, y)

	x, y = requestedPosition(100, 50, size, display)
	assert.Equal(t, 100, x)
	assert.Equal(t, 50, y)
}
