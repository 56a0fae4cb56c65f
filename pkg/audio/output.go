// Package audio plays decoded PCM through an SDL2 audio queue. Queueing
// blocks while more than the configured lead is buffered, which paces the
// demux thread to real time.
package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/veandco/go-sdl2/sdl"

	"discplay/pkg/codec"
)

// ErrClosed is returned once the output was closed.
var ErrClosed = errors.New("audio: output closed")

// Options configures the output.
type Options struct {
	// Lead is how much audio may sit in the device queue before PlayAudio
	// blocks.
	Lead time.Duration
	// Volume in percent.
	Volume int
	// Stop aborts a blocked PlayAudio.
	Stop   func() bool
	Logger *slog.Logger
}

// Output is an SDL audio device fed by queueing.
type Output struct {
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	dev      sdl.AudioDeviceID
	rate     int
	channels int
	paused   bool
	closed   bool
	scratch  []byte
}

// New returns an output. The device opens on the first chunk, when the
// stream's format is known.
func New(opts Options) *Output {
	if opts.Lead <= 0 {
		opts.Lead = 250 * time.Millisecond
	}
	if opts.Volume <= 0 || opts.Volume > 100 {
		opts.Volume = 100
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Output{opts: opts, log: opts.Logger}
}

// PlayAudio implements codec.AudioSink. It is called on the demux thread.
func (o *Output) PlayAudio(chunk codec.AudioChunk) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.dev == 0 || chunk.SampleRate != o.rate || chunk.Channels != o.channels {
		if err := o.reopenLocked(chunk.SampleRate, chunk.Channels); err != nil {
			o.mu.Unlock()
			return err
		}
	}
	dev := o.dev
	limit := uint32(bytesFor(o.opts.Lead, o.rate, o.channels))
	o.scratch = append(o.scratch[:0], chunk.Samples...)
	scaleVolume(o.scratch, o.opts.Volume)
	err := sdl.QueueAudio(dev, o.scratch)
	o.mu.Unlock()
	if err != nil {
		return fmt.Errorf("audio: queue: %w", err)
	}

	for sdl.GetQueuedAudioSize(dev) > limit {
		if o.opts.Stop != nil && o.opts.Stop() {
			return nil
		}
		o.mu.Lock()
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return ErrClosed
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

func (o *Output) reopenLocked(rate, channels int) error {
	if o.dev != 0 {
		sdl.CloseAudioDevice(o.dev)
		o.dev = 0
	}
	want := sdl.AudioSpec{
		Freq:     int32(rate),
		Format:   sdl.AUDIO_S16LSB,
		Channels: uint8(channels),
		Samples:  2048,
	}
	var got sdl.AudioSpec
	dev, err := sdl.OpenAudioDevice("", false, &want, &got, 0)
	if err != nil {
		return fmt.Errorf("audio: open device %d Hz %d ch: %w", rate, channels, err)
	}
	o.dev = dev
	o.rate = rate
	o.channels = channels
	sdl.PauseAudioDevice(dev, o.paused)
	o.log.Info("audio device opened", "rate", rate, "channels", channels)
	return nil
}

// TogglePause pauses or resumes the device and reports the new state.
func (o *Output) TogglePause() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = !o.paused
	if o.dev != 0 {
		sdl.PauseAudioDevice(o.dev, o.paused)
	}
	return o.paused
}

// Clear drops queued audio, used after a seek.
func (o *Output) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dev != 0 {
		sdl.ClearQueuedAudio(o.dev)
	}
}

// Close releases the device. Blocked PlayAudio calls return ErrClosed.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	if o.dev != 0 {
		sdl.CloseAudioDevice(o.dev)
		o.dev = 0
	}
	return nil
}
