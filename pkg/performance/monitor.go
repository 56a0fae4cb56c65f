package performance

import (
	"log/slog"
	"sync"
	"time"

	"discplay/pkg/media"
)

// RollingAverage keeps the mean of the last N durations.
type RollingAverage struct {
	mu      sync.RWMutex
	samples []time.Duration
	sum     time.Duration
	next    int
	count   int
}

// NewRollingAverage creates a tracker over a window of the given size.
func NewRollingAverage(window int) *RollingAverage {
	if window < 1 {
		window = 1
	}
	return &RollingAverage{samples: make([]time.Duration, window)}
}

// Add records one sample, evicting the oldest once the window is full.
func (r *RollingAverage) Add(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == len(r.samples) {
		r.sum -= r.samples[r.next]
	} else {
		r.count++
	}
	r.samples[r.next] = d
	r.sum += d
	r.next = (r.next + 1) % len(r.samples)
}

// Average returns the mean of the samples in the window, or 0 when empty.
func (r *RollingAverage) Average() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 {
		return 0
	}
	return r.sum / time.Duration(r.count)
}

// Count returns how many samples the window holds.
func (r *RollingAverage) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Reset clears all samples.
func (r *RollingAverage) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.samples)
	r.sum, r.next, r.count = 0, 0, 0
}

// Monitor tracks decode and blit timings for one play session. The demux
// thread records decodes, the render loop records blits.
type Monitor struct {
	videoDecode *RollingAverage
	audioDecode *RollingAverage
	blit        *RollingAverage

	mu           sync.RWMutex
	videoFrames  int
	audioChunks  int
	blits        int
	skippedBlits int
	startTime    time.Time
}

// Report is a point-in-time summary of a Monitor.
type Report struct {
	AvgVideoDecodeMs float64
	AvgAudioDecodeMs float64
	AvgBlitMs        float64
	VideoFrames      int
	AudioChunks      int
	Blits            int
	SkippedBlits     int
	SkipRate         float64 // percent of decoded frames never uploaded
	Healthy          bool
	Uptime           time.Duration
}

// NewMonitor creates a monitor averaging over window samples (120 is about
// four seconds of NTSC video).
func NewMonitor(window int) *Monitor {
	return &Monitor{
		videoDecode: NewRollingAverage(window),
		audioDecode: NewRollingAverage(window),
		blit:        NewRollingAverage(window),
		startTime:   time.Now(),
	}
}

// RecordDecode records how long one packet took to decode.
func (m *Monitor) RecordDecode(kind media.Kind, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch kind {
	case media.KindVideo:
		m.videoDecode.Add(d)
		m.videoFrames++
	case media.KindAudio:
		m.audioDecode.Add(d)
		m.audioChunks++
	}
}

// RecordBlit records one texture upload and present.
func (m *Monitor) RecordBlit(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blit.Add(d)
	m.blits++
}

// RecordSkippedBlit counts a decoded frame that was not uploaded.
func (m *Monitor) RecordSkippedBlit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skippedBlits++
}

// GetReport summarises the current window.
func (m *Monitor) GetReport() Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	avgVideo := m.videoDecode.Average()
	avgBlit := m.blit.Average()

	skipRate := 0.0
	if total := m.blits + m.skippedBlits; total > 0 {
		skipRate = float64(m.skippedBlits) / float64(total) * 100.0
	}

	// One NTSC frame is ~33ms; decode plus upload has to fit in it.
	healthy := skipRate < 1.0 && (avgVideo+avgBlit) < 33*time.Millisecond

	return Report{
		AvgVideoDecodeMs: millis(avgVideo),
		AvgAudioDecodeMs: millis(m.audioDecode.Average()),
		AvgBlitMs:        millis(avgBlit),
		VideoFrames:      m.videoFrames,
		AudioChunks:      m.audioChunks,
		Blits:            m.blits,
		SkippedBlits:     m.skippedBlits,
		SkipRate:         skipRate,
		Healthy:          healthy,
		Uptime:           time.Since(m.startTime),
	}
}

// Degrading reports whether blits are falling well behind the frame rate.
func (m *Monitor) Degrading() bool {
	r := m.GetReport()
	return r.SkipRate > 5.0 || r.AvgVideoDecodeMs > 30.0 || r.AvgVideoDecodeMs+r.AvgBlitMs > 40.0
}

// Reset clears all metrics, used when a new stream set is opened.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.videoDecode.Reset()
	m.audioDecode.Reset()
	m.blit.Reset()
	m.videoFrames, m.audioChunks, m.blits, m.skippedBlits = 0, 0, 0, 0
	m.startTime = time.Now()
}

// LogValue lets a Report be logged as a single group attribute.
func (r Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Float64("video_decode_ms", r.AvgVideoDecodeMs),
		slog.Float64("audio_decode_ms", r.AvgAudioDecodeMs),
		slog.Float64("blit_ms", r.AvgBlitMs),
		slog.Int("video_frames", r.VideoFrames),
		slog.Int("audio_chunks", r.AudioChunks),
		slog.Int("skipped_blits", r.SkippedBlits),
		slog.Bool("healthy", r.Healthy),
	)
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
