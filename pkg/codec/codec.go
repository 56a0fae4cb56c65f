// Package codec defines the decode side of the pipeline: a Unit wraps one
// elementary stream and the decoder opened for it, and a Registry maps codec
// ids to the openers able to build those decoders.
package codec

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"discplay/pkg/media"
	"discplay/pkg/mpegps"
	"discplay/pkg/performance"
)

// ErrUnsupported is returned when no opener is registered for a codec.
var ErrUnsupported = errors.New("codec: unsupported codec")

// Frame is one decoded picture in RGBA.
type Frame struct {
	Width  int
	Height int
	Pixels []byte
	PTS    int64
	Marker uint64
}

// AudioChunk is decoded interleaved signed 16-bit little-endian PCM.
type AudioChunk struct {
	SampleRate int
	Channels   int
	Samples    []byte
	PTS        int64
	Marker     uint64
}

// VideoSink receives decoded pictures. Implementations must not retain
// Pixels past the call.
type VideoSink interface {
	PlayVideo(Frame) error
}

// AudioSink receives decoded PCM.
type AudioSink interface {
	PlayAudio(AudioChunk) error
}

// Sink is where decoded output goes.
type Sink interface {
	VideoSink
	AudioSink
}

// Decoder turns packets of one stream into frames or PCM pushed to a sink.
type Decoder interface {
	Decode(pkt *media.Packet) error
	// Flush drains frames the decoder is still holding, as an empty packet
	// would in libavcodec.
	Flush() error
	Close() error
}

// Opener builds a Decoder for a stream.
type Opener func(stream mpegps.Stream, sink Sink) (Decoder, error)

// Registry maps codec ids to openers. The first opener registered for a
// codec is tried first.
type Registry struct {
	mu      sync.RWMutex
	openers map[media.Codec][]Opener
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{openers: make(map[media.Codec][]Opener)}
}

// Register appends an opener for c.
func (r *Registry) Register(c media.Codec, open Opener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openers[c] = append(r.openers[c], open)
}

// Supports reports whether any opener is registered for c.
func (r *Registry) Supports(c media.Codec) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.openers[c]) > 0
}

// Open tries each opener for the stream's codec in order and wraps the first
// decoder that opens in a Unit.
func (r *Registry) Open(stream mpegps.Stream, sink Sink, monitor *performance.Monitor) (*Unit, error) {
	r.mu.RLock()
	openers := append([]Opener(nil), r.openers[stream.Codec]...)
	r.mu.RUnlock()

	if len(openers) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, stream.Codec)
	}
	var errs []error
	for _, open := range openers {
		dec, err := open(stream, sink)
		if err == nil {
			return &Unit{Stream: stream, dec: dec, monitor: monitor}, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("codec: open %s: %w", stream, errors.Join(errs...))
}

// Unit is the decode unit for one elementary stream. It is owned by the demux
// thread and lives for one codec cycle.
type Unit struct {
	Stream mpegps.Stream

	dec     Decoder
	monitor *performance.Monitor
	packets int
	errors  int
	closed  bool
}

// NewUnit wraps an already opened decoder.
func NewUnit(stream mpegps.Stream, dec Decoder, monitor *performance.Monitor) *Unit {
	return &Unit{Stream: stream, dec: dec, monitor: monitor}
}

// Decode feeds one packet to the decoder and releases it, whatever the
// outcome.
func (u *Unit) Decode(pkt *media.Packet) error {
	defer pkt.Release()
	if u.closed {
		return nil
	}
	start := time.Now()
	err := u.dec.Decode(pkt)
	if u.monitor != nil {
		u.monitor.RecordDecode(u.Stream.Kind, time.Since(start))
	}
	u.packets++
	if err != nil {
		u.errors++
		return fmt.Errorf("decode %s: %w", u.Stream, err)
	}
	return nil
}

// Flush drains buffered output at end of stream.
func (u *Unit) Flush() error {
	if u.closed {
		return nil
	}
	return u.dec.Flush()
}

// Close releases the decoder. It is safe to call more than once and on a nil
// Unit.
func (u *Unit) Close() error {
	if u == nil || u.closed {
		return nil
	}
	u.closed = true
	return u.dec.Close()
}

// Packets returns how many packets were decoded.
func (u *Unit) Packets() int { return u.packets }

// Errors returns how many packets failed to decode.
func (u *Unit) Errors() int { return u.errors }
