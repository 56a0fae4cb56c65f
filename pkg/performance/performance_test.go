package performance

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"discplay/pkg/media"
)

func TestRollingAverageWindow(t *testing.T) {
	r := NewRollingAverage(3)
	assert.Zero(t, r.Average())

	r.Add(10 * time.Millisecond)
	r.Add(20 * time.Millisecond)
	assert.Equal(t, 15*time.Millisecond, r.Average())

	r.Add(30 * time.Millisecond)
	r.Add(40 * time.Millisecond) // evicts 10ms
	assert.Equal(t, 3, r.Count())
	assert.Equal(t, 30*time.Millisecond, r.Average())

	r.Reset()
	assert.Zero(t, r.Count())
}

func TestMonitorReport(t *testing.T) {
	m := NewMonitor(10)
	m.RecordDecode(media.KindVideo, 10*time.Millisecond)
	m.RecordDecode(media.KindAudio, 2*time.Millisecond)
	m.RecordBlit(5 * time.Millisecond)
	m.RecordSkippedBlit()

	r := m.GetReport()
	assert.Equal(t, 1, r.VideoFrames)
	assert.Equal(t, 1, r.AudioChunks)
	assert.InDelta(t, 10.0, r.AvgVideoDecodeMs, 0.001)
	assert.InDelta(t, 50.0, r.SkipRate, 0.001)
	assert.False(t, r.Healthy)
	assert.True(t, m.Degrading())

	m.Reset()
	assert.Zero(t, m.GetReport().VideoFrames)
}

func TestFrameSkipperHysteresis(t *testing.T) {
	f := NewFrameSkipper(slog.New(slog.NewTextHandler(io.Discard, nil)))
	slow := Report{AvgVideoDecodeMs: 25, AvgBlitMs: 15}
	fast := Report{AvgVideoDecodeMs: 5, AvgBlitMs: 2}

	for i := 0; i < 2; i++ {
		assert.True(t, f.ShouldBlit(slow))
	}
	f.ShouldBlit(slow)
	assert.Equal(t, ModeSkip2, f.Mode())

	for i := 0; i < 5; i++ {
		f.ShouldBlit(slow)
	}
	assert.Equal(t, ModeSkip3, f.Mode())

	blits := 0
	for i := 0; i < 30; i++ {
		if f.ShouldBlit(fast) {
			blits++
		}
	}
	assert.Equal(t, ModeSkip2, f.Mode())
	assert.Less(t, blits, 30)

	f.Reset()
	assert.Equal(t, ModeNormal, f.Mode())
}

func TestQueueSizeShrinksUnderPressure(t *testing.T) {
	assert.Equal(t, MemoryPressureNone, PressureFor(4096))
	assert.Equal(t, MemoryPressureCritical, PressureFor(50))
	assert.Greater(t, QueueSizeFor(MemoryPressureNone), QueueSizeFor(MemoryPressureHigh))
	assert.Positive(t, QueueSizeFor(MemoryPressureCritical))
	assert.Positive(t, DefaultQueueSize())
}
