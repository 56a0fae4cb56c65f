package codec

import (
	"fmt"

	"discplay/pkg/media"
	"discplay/pkg/mpegps"
)

// lpcmDecoder converts DVD LPCM (big-endian, 20/24-bit samples grouped in
// pairs) into signed 16-bit little-endian PCM. Bytes that do not complete a
// sample group are carried into the next packet.
type lpcmDecoder struct {
	format mpegps.AudioFormat
	sink   AudioSink
	carry  []byte
}

// OpenLPCM is the Opener for media.CodecLPCM.
func OpenLPCM(stream mpegps.Stream, sink Sink) (Decoder, error) {
	f := stream.LPCM
	switch f.BitsPerSample {
	case 16, 20, 24:
	default:
		return nil, fmt.Errorf("lpcm: unsupported sample size %d", f.BitsPerSample)
	}
	if f.Channels < 1 || f.Channels > 8 || f.SampleRate <= 0 {
		return nil, fmt.Errorf("lpcm: bad format %+v", f)
	}
	return &lpcmDecoder{format: f, sink: sink}, nil
}

// groupSize is the byte length of the smallest independently decodable unit.
func (d *lpcmDecoder) groupSize() int {
	ch := d.format.Channels
	switch d.format.BitsPerSample {
	case 20:
		return 5 * ch
	case 24:
		return 6 * ch
	default:
		return 2 * ch
	}
}

func (d *lpcmDecoder) Decode(pkt *media.Packet) error {
	data := pkt.Data
	if len(d.carry) > 0 {
		data = append(d.carry, data...)
		d.carry = nil
	}
	group := d.groupSize()
	whole := len(data) / group * group
	if rest := data[whole:]; len(rest) > 0 {
		d.carry = append([]byte(nil), rest...)
	}
	if whole == 0 {
		return nil
	}

	out := d.convert(data[:whole])
	return d.sink.PlayAudio(AudioChunk{
		SampleRate: d.format.SampleRate,
		Channels:   d.format.Channels,
		Samples:    out,
		PTS:        pkt.PTS,
		Marker:     pkt.Marker,
	})
}

func (d *lpcmDecoder) convert(in []byte) []byte {
	if d.format.BitsPerSample == 16 {
		out := make([]byte, len(in))
		for i := 0; i+1 < len(in); i += 2 {
			out[i], out[i+1] = in[i+1], in[i]
		}
		return out
	}

	// 20 and 24-bit groups hold two samples per channel: the high 16 bits of
	// all of them first, then the low bits. Only the high bits are kept.
	ch := d.format.Channels
	group := d.groupSize()
	out := make([]byte, 0, len(in)/group*4*ch)
	for g := 0; g+group <= len(in); g += group {
		hi := in[g : g+4*ch]
		for i := 0; i+1 < len(hi); i += 2 {
			out = append(out, hi[i+1], hi[i])
		}
	}
	return out
}

func (d *lpcmDecoder) Flush() error {
	d.carry = nil
	return nil
}

func (d *lpcmDecoder) Close() error {
	d.carry = nil
	return nil
}
