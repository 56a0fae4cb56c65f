package mpeg

import (
	"runtime"

	"discplay/pkg/media"
)

// Options tunes decoder selection.
type Options struct {
	// VideoDecoder forces a libavcodec decoder by name for video streams. It is
	// ignored when it does not match the stream's codec.
	VideoDecoder string
	// SoftwareOnly skips hardware decoders.
	SoftwareOnly bool
}

// priorityDecoders lists libavcodec decoder names to try for a codec, most
// preferred first. Hardware decoders come first on platforms that have them;
// the default software decoder is always the final fallback inside dp_open.
func priorityDecoders(c media.Codec, opts Options) []string {
	var names []string
	if c.IsVideo() && opts.VideoDecoder != "" {
		names = append(names, opts.VideoDecoder)
	}

	hw := !opts.SoftwareOnly
	switch c {
	case media.CodecMPEG2Video:
		if hw && runtime.GOOS == "linux" {
			names = append(names, "mpeg2_v4l2m2m", "mpeg2_cuvid", "mpeg2_qsv")
		}
		names = append(names, "mpeg2video")
	case media.CodecMPEG1Video:
		if hw && runtime.GOOS == "linux" {
			names = append(names, "mpeg1_v4l2m2m", "mpeg1_cuvid")
		}
		names = append(names, "mpeg1video")
	case media.CodecMPEGAudio:
		names = append(names, "mp2", "mp2float")
	case media.CodecAC3:
		names = append(names, "ac3", "ac3_fixed")
	case media.CodecDTS:
		names = append(names, "dca")
	}
	return names
}

// codecKind maps a media codec to the small integer the C side switches on.
func codecKind(c media.Codec) int {
	switch c {
	case media.CodecMPEG1Video:
		return 1
	case media.CodecMPEG2Video:
		return 2
	case media.CodecMPEGAudio:
		return 3
	case media.CodecAC3:
		return 4
	case media.CodecDTS:
		return 5
	default:
		return 0
	}
}

// Codecs are the codecs this package can decode.
var Codecs = []media.Codec{
	media.CodecMPEG2Video,
	media.CodecMPEG1Video,
	media.CodecAC3,
	media.CodecDTS,
	media.CodecMPEGAudio,
}
