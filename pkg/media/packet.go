// Package media defines the coded units that flow from the program-stream
// demuxer through the packet queues into the decode units.
package media

import "sync/atomic"

// NoPTS marks a packet whose PES header carried no presentation timestamp.
const NoPTS int64 = -1

// Kind classifies an elementary stream.
type Kind int

const (
	KindUnknown Kind = iota
	KindVideo
	KindAudio
	KindSubpicture
	KindNav
)

// String returns a short label for logs.
func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindSubpicture:
		return "subpicture"
	case KindNav:
		return "nav"
	default:
		return "unknown"
	}
}

// Codec identifies the coding of an elementary stream as far as the
// program-stream headers reveal it.
type Codec int

const (
	CodecUnknown Codec = iota
	CodecMPEG1Video
	CodecMPEG2Video
	CodecMPEGAudio
	CodecAC3
	CodecDTS
	CodecLPCM
	CodecSubpicture
)

// IsVideo reports whether c is a video coding.
func (c Codec) IsVideo() bool {
	return c == CodecMPEG1Video || c == CodecMPEG2Video
}

// String returns the codec name used in logs and decoder lookups.
func (c Codec) String() string {
	switch c {
	case CodecMPEG1Video:
		return "mpeg1video"
	case CodecMPEG2Video:
		return "mpeg2video"
	case CodecMPEGAudio:
		return "mp2"
	case CodecAC3:
		return "ac3"
	case CodecDTS:
		return "dts"
	case CodecLPCM:
		return "pcm_dvd"
	case CodecSubpicture:
		return "dvdsub"
	default:
		return "unknown"
	}
}

// Packet is one coded unit read from the multiplexed stream. A packet is owned
// by exactly one holder at a time (the demuxer, then a queue slot, then the
// decoder) and must be released exactly once.
type Packet struct {
	StreamIndex int
	Kind        Kind
	PTS         int64
	Data        []byte

	// Marker is an opaque tag carried through the pipeline; the demuxer sets it
	// to the seek epoch the packet was read in.
	Marker uint64

	released  atomic.Bool
	onRelease func()
}

// NewPacket builds a packet. onRelease may be nil; when set it runs once,
// on the first call to Release.
func NewPacket(streamIndex int, kind Kind, pts int64, data []byte, onRelease func()) *Packet {
	return &Packet{
		StreamIndex: streamIndex,
		Kind:        kind,
		PTS:         pts,
		Data:        data,
		onRelease:   onRelease,
	}
}

// Size returns the payload length in bytes.
func (p *Packet) Size() int {
	if p == nil {
		return 0
	}
	return len(p.Data)
}

// Release drops the payload. Calls after the first are no-ops so a packet can
// never be double-freed.
func (p *Packet) Release() {
	if p == nil || !p.released.CompareAndSwap(false, true) {
		return
	}
	p.Data = nil
	if p.onRelease != nil {
		p.onRelease()
	}
}

// Released reports whether Release has run.
func (p *Packet) Released() bool {
	return p != nil && p.released.Load()
}
