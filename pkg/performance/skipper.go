package performance

import (
	"log/slog"
	"sync"
	"time"
)

// SkipMode is the current blit-skipping strategy. Frames are always decoded;
// only the texture upload is skipped, so decoder state never drifts.
type SkipMode int

const (
	ModeNormal SkipMode = iota // upload every frame
	ModeSkip2                  // upload every 2nd frame
	ModeSkip3                  // upload every 3rd frame
)

func (m SkipMode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeSkip2:
		return "skip2"
	case ModeSkip3:
		return "skip3"
	default:
		return "unknown"
	}
}

// FrameSkipper decides per decoded frame whether the renderer should upload
// it, stepping between modes with hysteresis so it does not thrash.
type FrameSkipper struct {
	mu     sync.Mutex
	logger *slog.Logger

	mode            SkipMode
	frameCounter    uint64
	consecutiveSlow int
	consecutiveGood int

	slowThreshold time.Duration
	goodThreshold time.Duration

	enterSkip2After   int
	enterSkip3After   int
	exitToNormalAfter int
	exitToSkip2After  int
}

// NewFrameSkipper returns a skipper tuned for 30fps DVD video.
func NewFrameSkipper(logger *slog.Logger) *FrameSkipper {
	if logger == nil {
		logger = slog.Default()
	}
	return &FrameSkipper{
		logger:            logger,
		slowThreshold:     30 * time.Millisecond,
		goodThreshold:     20 * time.Millisecond,
		enterSkip2After:   3,
		enterSkip3After:   5,
		exitToNormalAfter: 60,
		exitToSkip2After:  30,
	}
}

// ShouldBlit consumes one frame tick and reports whether to upload it.
func (f *FrameSkipper) ShouldBlit(report Report) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.frameCounter++
	f.updateModeLocked(report)

	switch f.mode {
	case ModeSkip2:
		return f.frameCounter%2 == 0
	case ModeSkip3:
		return f.frameCounter%3 == 0
	default:
		return true
	}
}

// updateModeLocked must be called with f.mu held.
func (f *FrameSkipper) updateModeLocked(report Report) {
	cost := time.Duration((report.AvgVideoDecodeMs + report.AvgBlitMs) * float64(time.Millisecond))

	switch {
	case cost > f.slowThreshold:
		f.consecutiveSlow++
		f.consecutiveGood = 0
	case cost < f.goodThreshold:
		f.consecutiveGood++
		f.consecutiveSlow = 0
	default:
		f.consecutiveSlow = 0
		f.consecutiveGood = 0
	}

	prev := f.mode
	switch f.mode {
	case ModeNormal:
		if f.consecutiveSlow >= f.enterSkip2After {
			f.mode = ModeSkip2
			f.consecutiveSlow = 0
		}
	case ModeSkip2:
		if f.consecutiveSlow >= f.enterSkip3After {
			f.mode = ModeSkip3
			f.consecutiveSlow = 0
		} else if f.consecutiveGood >= f.exitToNormalAfter {
			f.mode = ModeNormal
			f.consecutiveGood = 0
		}
	case ModeSkip3:
		if f.consecutiveGood >= f.exitToSkip2After {
			f.mode = ModeSkip2
			f.consecutiveGood = 0
		}
	}
	if f.mode != prev {
		f.logger.Info("blit skip mode changed", "from", prev.String(), "to", f.mode.String(), "frame_cost", cost)
	}
}

// Reset returns to ModeNormal. Called when the stream set is reopened.
func (f *FrameSkipper) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mode = ModeNormal
	f.frameCounter = 0
	f.consecutiveSlow = 0
	f.consecutiveGood = 0
}

// Mode returns the current skip mode.
func (f *FrameSkipper) Mode() SkipMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}
