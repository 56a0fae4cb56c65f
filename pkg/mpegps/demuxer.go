// Package mpegps demultiplexes the DVD flavour of an MPEG program stream: pack
// headers, PES packets, and the private-stream-1 substreams DVDs use for AC-3,
// DTS, LPCM and subpictures.
//
// The demuxer reads from any io.Reader and never seeks, so it can sit directly
// on a FIFO. Errors from the reader (including a transport stop) are returned
// unchanged.
package mpegps

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"discplay/pkg/media"
)

// Stream ids and start codes used on DVDs.
const (
	codePackHeader   = 0xBA
	codeSystemHeader = 0xBB
	codeProgramEnd   = 0xB9
	idPrivate1       = 0xBD
	idPadding        = 0xBE
	idPrivate2       = 0xBF
)

// DefaultProbeBytes is how much of the stream Probe may consume looking for
// the audio and video streams.
const DefaultProbeBytes = 512 * 1024

// ErrNoStreams is returned by Probe when the budget ran out without finding
// any elementary stream.
var ErrNoStreams = errors.New("mpegps: no elementary streams found")

// AudioFormat is the PCM layout of an LPCM substream, taken from its header.
type AudioFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// Stream describes one elementary stream discovered in the multiplex.
type Stream struct {
	Index int
	ID    byte
	SubID byte
	Kind  media.Kind
	Codec media.Codec
	LPCM  AudioFormat
}

// String returns a compact description for logs.
func (s Stream) String() string {
	if s.SubID != 0 {
		return fmt.Sprintf("#%d %s 0x%02x/0x%02x %s", s.Index, s.Kind, s.ID, s.SubID, s.Codec)
	}
	return fmt.Sprintf("#%d %s 0x%02x %s", s.Index, s.Kind, s.ID, s.Codec)
}

// Demuxer splits a program stream into packets.
type Demuxer struct {
	src     io.Reader
	r       *bufio.Reader
	streams []Stream
	index   map[uint16]int
	pending []*media.Packet
	read    int64
	mpeg2   bool
}

// NewDemuxer wraps r.
func NewDemuxer(r io.Reader) *Demuxer {
	return &Demuxer{
		src:   r,
		r:     bufio.NewReaderSize(r, 64*1024),
		index: make(map[uint16]int),
	}
}

// Streams returns the streams seen so far, in discovery order.
func (d *Demuxer) Streams() []Stream {
	out := make([]Stream, len(d.streams))
	copy(out, d.streams)
	return out
}

// BytesRead reports how many bytes were consumed from the reader.
func (d *Demuxer) BytesRead() int64 { return d.read }

// Probe reads ahead until it has seen an audio stream and, when wantVideo is
// set, a video stream, or until budget bytes are consumed. Packets read while
// probing are replayed by ReadPacket.
func (d *Demuxer) Probe(budget int64, wantVideo bool) ([]Stream, error) {
	if budget <= 0 {
		budget = DefaultProbeBytes
	}
	start := d.read
	for d.read-start < budget {
		pkt, err := d.next()
		if err != nil {
			if len(d.streams) == 0 {
				if errors.Is(err, io.EOF) {
					return nil, ErrNoStreams
				}
				return nil, err
			}
			if errors.Is(err, io.EOF) {
				break
			}
			return d.Streams(), err
		}
		d.pending = append(d.pending, pkt)
		if d.has(media.KindAudio) && (!wantVideo || d.has(media.KindVideo)) {
			break
		}
	}
	if len(d.streams) == 0 {
		return nil, ErrNoStreams
	}
	return d.Streams(), nil
}

// ReadPacket returns the next audio, video or subpicture packet. It returns
// io.EOF at the end of the stream.
func (d *Demuxer) ReadPacket() (*media.Packet, error) {
	if len(d.pending) > 0 {
		pkt := d.pending[0]
		d.pending[0] = nil
		d.pending = d.pending[1:]
		return pkt, nil
	}
	return d.next()
}

// Discard releases packets buffered by Probe.
func (d *Demuxer) Discard() {
	for _, pkt := range d.pending {
		pkt.Release()
	}
	d.pending = nil
}

// Reset drops the probe packets and every buffered byte not yet parsed. The
// streams seen so far are kept; parsing resumes at the next start code.
func (d *Demuxer) Reset() {
	d.Discard()
	d.r.Reset(d.src)
}

func (d *Demuxer) has(kind media.Kind) bool {
	for _, s := range d.streams {
		if s.Kind == kind {
			return true
		}
	}
	return false
}

func (d *Demuxer) next() (*media.Packet, error) {
	for {
		code, err := d.nextStartCode()
		if err != nil {
			return nil, err
		}
		switch {
		case code == codePackHeader:
			if err := d.skipPackHeader(); err != nil {
				return nil, err
			}
		case code == codeProgramEnd:
		case code == idPrivate1, code >= 0xC0 && code <= 0xEF:
			pkt, err := d.readPES(code)
			if err != nil {
				return nil, err
			}
			if pkt != nil {
				return pkt, nil
			}
		case code >= codeSystemHeader:
			// System header, padding, private stream 2 (PCI/DSI) and the rest
			// carry a length and nothing the decoders need.
			if err := d.skipLengthPrefixed(); err != nil {
				return nil, err
			}
		}
	}
}

// nextStartCode scans for 0x000001xx and returns xx.
func (d *Demuxer) nextStartCode() (byte, error) {
	var window uint32 = 0xFFFFFFFF
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return 0, err
		}
		d.read++
		window = window<<8 | uint32(b)
		if window&0xFFFFFF00 == 0x00000100 {
			return b, nil
		}
	}
}

func (d *Demuxer) readFull(n int) ([]byte, error) {
	buf := make([]byte, n)
	m, err := io.ReadFull(d.r, buf)
	d.read += int64(m)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, io.EOF
	}
	return buf, err
}

func (d *Demuxer) discard(n int) error {
	m, err := d.r.Discard(n)
	d.read += int64(m)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}

func (d *Demuxer) skipPackHeader() error {
	b, err := d.r.Peek(1)
	if err != nil {
		return err
	}
	if b[0]&0xC0 == 0x40 {
		d.mpeg2 = true
		hdr, err := d.readFull(10)
		if err != nil {
			return err
		}
		return d.discard(int(hdr[9] & 0x07))
	}
	d.mpeg2 = false
	return d.discard(8)
}

func (d *Demuxer) skipLengthPrefixed() error {
	lb, err := d.readFull(2)
	if err != nil {
		return err
	}
	return d.discard(int(lb[0])<<8 | int(lb[1]))
}

func (d *Demuxer) readPES(id byte) (*media.Packet, error) {
	lb, err := d.readFull(2)
	if err != nil {
		return nil, err
	}
	length := int(lb[0])<<8 | int(lb[1])
	if length == 0 {
		return nil, nil
	}
	payload, err := d.readFull(length)
	if err != nil {
		return nil, err
	}

	pts, data, mpeg2, ok := parsePESHeader(payload)
	if !ok {
		return nil, nil
	}

	var sub byte
	var lpcm AudioFormat
	if id == idPrivate1 {
		if len(data) == 0 {
			return nil, nil
		}
		sub = data[0]
		skip, known := privateHeaderLen(sub)
		if !known || len(data) < skip {
			return nil, nil
		}
		if sub >= 0xA0 && sub <= 0xA7 && len(data) >= 7 {
			lpcm = parseLPCMHeader(data[5])
		}
		data = data[skip:]
	}

	idx := d.register(id, sub, mpeg2, lpcm)
	s := d.streams[idx]
	return media.NewPacket(s.Index, s.Kind, pts, data, nil), nil
}

func (d *Demuxer) register(id, sub byte, mpeg2 bool, lpcm AudioFormat) int {
	key := uint16(id)<<8 | uint16(sub)
	if idx, ok := d.index[key]; ok {
		return idx
	}
	kind, codec := classify(id, sub, mpeg2 || d.mpeg2)
	s := Stream{Index: len(d.streams), ID: id, SubID: sub, Kind: kind, Codec: codec, LPCM: lpcm}
	d.streams = append(d.streams, s)
	d.index[key] = s.Index
	return s.Index
}

// classify maps a stream id (and private-stream-1 substream id) to a kind and
// codec.
func classify(id, sub byte, mpeg2 bool) (media.Kind, media.Codec) {
	switch {
	case id >= 0xE0 && id <= 0xEF:
		if mpeg2 {
			return media.KindVideo, media.CodecMPEG2Video
		}
		return media.KindVideo, media.CodecMPEG1Video
	case id >= 0xC0 && id <= 0xDF:
		return media.KindAudio, media.CodecMPEGAudio
	case id == idPrivate1:
		switch {
		case sub >= 0x20 && sub <= 0x3F:
			return media.KindSubpicture, media.CodecSubpicture
		case sub >= 0x80 && sub <= 0x87:
			return media.KindAudio, media.CodecAC3
		case sub >= 0x88 && sub <= 0x8F:
			return media.KindAudio, media.CodecDTS
		case sub >= 0xA0 && sub <= 0xA7:
			return media.KindAudio, media.CodecLPCM
		}
	}
	return media.KindUnknown, media.CodecUnknown
}

// privateHeaderLen returns how many bytes precede the elementary data in a
// private-stream-1 payload.
func privateHeaderLen(sub byte) (int, bool) {
	switch {
	case sub >= 0x20 && sub <= 0x3F:
		return 1, true
	case sub >= 0x80 && sub <= 0x8F:
		// substream id, frame count, first access unit pointer
		return 4, true
	case sub >= 0xA0 && sub <= 0xA7:
		// plus emphasis/frame, format and dynamic range bytes
		return 7, true
	default:
		return 0, false
	}
}

func parseLPCMHeader(b byte) AudioFormat {
	bits := [...]int{16, 20, 24, 0}[b>>6]
	rate := [...]int{48000, 96000, 44100, 32000}[(b>>4)&0x03]
	return AudioFormat{SampleRate: rate, Channels: int(b&0x07) + 1, BitsPerSample: bits}
}

// parsePESHeader strips the PES header from payload (the bytes after the
// length field) and returns the PTS, if any.
func parsePESHeader(payload []byte) (int64, []byte, bool, bool) {
	if len(payload) >= 3 && payload[0]&0xC0 == 0x80 {
		flags := payload[1]
		hlen := int(payload[2])
		if 3+hlen > len(payload) {
			return 0, nil, true, false
		}
		pts := media.NoPTS
		if flags&0x80 != 0 && hlen >= 5 {
			pts = parseTimestamp(payload[3:8])
		}
		return pts, payload[3+hlen:], true, true
	}

	// MPEG-1 header: stuffing, optional STD buffer, then timestamps.
	i := 0
	for i < len(payload) && payload[i] == 0xFF {
		i++
	}
	if i < len(payload) && payload[i]&0xC0 == 0x40 {
		i += 2
	}
	if i >= len(payload) {
		return 0, nil, false, false
	}
	pts := media.NoPTS
	switch payload[i] & 0xF0 {
	case 0x20:
		if i+5 > len(payload) {
			return 0, nil, false, false
		}
		pts = parseTimestamp(payload[i : i+5])
		i += 5
	case 0x30:
		if i+10 > len(payload) {
			return 0, nil, false, false
		}
		pts = parseTimestamp(payload[i : i+5])
		i += 10
	default:
		i++
	}
	return pts, payload[i:], false, true
}

// parseTimestamp decodes a 33-bit PTS/DTS from five header bytes.
func parseTimestamp(b []byte) int64 {
	return int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1)
}
