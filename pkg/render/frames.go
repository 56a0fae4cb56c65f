package render

import (
	"sync"
	"sync/atomic"

	"discplay/pkg/codec"
)

// FrameSlot hands decoded pictures from the demux thread to the main thread.
// It holds only the newest picture; one the main thread never took is counted
// as dropped.
type FrameSlot struct {
	mu      sync.Mutex
	frame   codec.Frame
	fresh   bool
	dropped atomic.Int64

	disabled atomic.Bool
}

// PlayVideo implements codec.VideoSink. Pixels are copied; the decoder may
// reuse its buffer as soon as this returns.
func (s *FrameSlot) PlayVideo(f codec.Frame) error {
	if s.disabled.Load() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fresh {
		s.dropped.Add(1)
	}
	pixels := s.frame.Pixels
	if cap(pixels) < len(f.Pixels) {
		pixels = make([]byte, len(f.Pixels))
	}
	pixels = pixels[:len(f.Pixels)]
	copy(pixels, f.Pixels)
	s.frame = f
	s.frame.Pixels = pixels
	s.fresh = true
	return nil
}

// Take calls fn with the newest picture if one arrived since the last Take.
// The picture is only valid inside fn.
func (s *FrameSlot) Take(fn func(codec.Frame)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.fresh {
		return false
	}
	s.fresh = false
	fn(s.frame)
	return true
}

// Disable stops accepting pictures. Audio keeps playing.
func (s *FrameSlot) Disable() {
	s.disabled.Store(true)
	s.mu.Lock()
	s.fresh = false
	s.frame = codec.Frame{}
	s.mu.Unlock()
}

// Disabled reports whether Disable was called.
func (s *FrameSlot) Disabled() bool { return s.disabled.Load() }

// Dropped is how many pictures were replaced before the main thread took them.
func (s *FrameSlot) Dropped() int64 { return s.dropped.Load() }
