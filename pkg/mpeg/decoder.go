// Package mpeg decodes DVD elementary streams with libavcodec: MPEG-1/2 video
// to RGBA through libswscale, and AC-3, DTS and MPEG audio to stereo S16
// through libswresample. Decoders are registered into a codec.Registry.
package mpeg

/*
#cgo pkg-config: libavcodec libavutil libswscale libswresample

#include <stdlib.h>
#include <string.h>
#include <libavcodec/avcodec.h>
#include <libavutil/channel_layout.h>
#include <libavutil/log.h>
#include <libswscale/swscale.h>
#include <libswresample/swresample.h>

static const int64_t dp_nopts = AV_NOPTS_VALUE;

typedef struct {
    AVCodecContext       *ctx;
    AVCodecParserContext *parser;
    AVPacket             *pkt;
    AVFrame              *frame;

    struct SwsContext *sws;
    int                sws_w, sws_h, sws_fmt;
    uint8_t           *rgba;

    SwrContext *swr;
    int         swr_rate, swr_fmt;
    uint8_t    *pcm;
    int         pcm_cap;
} dp_unit;

static enum AVCodecID dp_codec_id(int kind) {
    switch (kind) {
    case 1: return AV_CODEC_ID_MPEG1VIDEO;
    case 2: return AV_CODEC_ID_MPEG2VIDEO;
    case 3: return AV_CODEC_ID_MP2;
    case 4: return AV_CODEC_ID_AC3;
    case 5: return AV_CODEC_ID_DTS;
    }
    return AV_CODEC_ID_NONE;
}

static int dp_try_open(dp_unit *u, const AVCodec *c) {
    AVCodecContext *ctx = avcodec_alloc_context3(c);
    if (!ctx) {
        return -1;
    }
    ctx->thread_type = FF_THREAD_FRAME;
    ctx->thread_count = 0;
    if (avcodec_open2(ctx, c, NULL) < 0) {
        avcodec_free_context(&ctx);
        return -1;
    }
    u->ctx = ctx;
    return 0;
}

// Opens the first decoder in names that matches kind and initialises, falling
// back to libavcodec's default decoder for the codec.
static int dp_open(dp_unit *u, int kind, char **names, int count, const char **opened) {
    av_log_set_level(AV_LOG_ERROR);
    enum AVCodecID id = dp_codec_id(kind);
    if (id == AV_CODEC_ID_NONE) {
        return -1;
    }
    for (int i = 0; i < count && !u->ctx; i++) {
        const AVCodec *c = avcodec_find_decoder_by_name(names[i]);
        if (!c || c->id != id) {
            continue;
        }
        if (dp_try_open(u, c) == 0) {
            *opened = c->name;
        }
    }
    if (!u->ctx) {
        const AVCodec *c = avcodec_find_decoder(id);
        if (!c || dp_try_open(u, c) != 0) {
            return -2;
        }
        *opened = c->name;
    }
    u->parser = av_parser_init(id);
    u->pkt = av_packet_alloc();
    u->frame = av_frame_alloc();
    if (!u->parser || !u->pkt || !u->frame) {
        return -3;
    }
    return 0;
}

// Feeds bytes to the parser and returns how many it consumed. *ready is set
// when a complete packet is waiting to be sent.
static int dp_parse(dp_unit *u, const uint8_t *data, int size, int64_t pts, int *ready) {
    uint8_t *out = NULL;
    int out_size = 0;
    *ready = 0;
    int n = av_parser_parse2(u->parser, u->ctx, &out, &out_size, data, size, pts, AV_NOPTS_VALUE, 0);
    if (n < 0) {
        return n;
    }
    if (out_size > 0) {
        u->pkt->data = out;
        u->pkt->size = out_size;
        u->pkt->pts = u->parser->pts;
        *ready = 1;
    }
    return n;
}

static int dp_send(dp_unit *u, int drain) {
    return avcodec_send_packet(u->ctx, drain ? NULL : u->pkt);
}

// 1 when a frame is ready, 0 when the decoder wants input or is drained.
static int dp_receive(dp_unit *u) {
    int ret = avcodec_receive_frame(u->ctx, u->frame);
    if (ret == AVERROR(EAGAIN) || ret == AVERROR_EOF) {
        return 0;
    }
    return ret < 0 ? ret : 1;
}

static int64_t dp_frame_pts(dp_unit *u) {
    return u->frame->best_effort_timestamp;
}

static int dp_rgba(dp_unit *u, uint8_t **out, int *w, int *h) {
    AVFrame *f = u->frame;
    if (!u->sws || u->sws_w != f->width || u->sws_h != f->height || u->sws_fmt != f->format) {
        sws_freeContext(u->sws);
        av_freep(&u->rgba);
        u->sws = sws_getContext(f->width, f->height, f->format,
                                f->width, f->height, AV_PIX_FMT_RGBA,
                                SWS_BILINEAR, NULL, NULL, NULL);
        u->rgba = av_malloc((size_t)f->width * f->height * 4);
        if (!u->sws || !u->rgba) {
            return -1;
        }
        u->sws_w = f->width;
        u->sws_h = f->height;
        u->sws_fmt = f->format;
    }
    uint8_t *dst[4] = { u->rgba, NULL, NULL, NULL };
    int lines[4] = { f->width * 4, 0, 0, 0 };
    sws_scale(u->sws, (const uint8_t * const *)f->data, f->linesize, 0, f->height, dst, lines);
    *out = u->rgba;
    *w = f->width;
    *h = f->height;
    return 0;
}

// Converts the current audio frame to interleaved stereo S16 and returns the
// byte count.
static int dp_s16(dp_unit *u, uint8_t **out, int *rate) {
    AVFrame *f = u->frame;
    if (!u->swr || u->swr_rate != f->sample_rate || u->swr_fmt != f->format) {
        swr_free(&u->swr);
        AVChannelLayout stereo = AV_CHANNEL_LAYOUT_STEREO;
        if (swr_alloc_set_opts2(&u->swr, &stereo, AV_SAMPLE_FMT_S16, f->sample_rate,
                                &f->ch_layout, f->format, f->sample_rate, 0, NULL) < 0) {
            return -1;
        }
        if (swr_init(u->swr) < 0) {
            return -1;
        }
        u->swr_rate = f->sample_rate;
        u->swr_fmt = f->format;
    }
    int max = swr_get_out_samples(u->swr, f->nb_samples);
    if (max <= 0) {
        return 0;
    }
    if (max * 4 > u->pcm_cap) {
        av_freep(&u->pcm);
        u->pcm = av_malloc(max * 4);
        u->pcm_cap = u->pcm ? max * 4 : 0;
        if (!u->pcm) {
            return -1;
        }
    }
    uint8_t *dst[1] = { u->pcm };
    int n = swr_convert(u->swr, dst, max, (const uint8_t **)f->extended_data, f->nb_samples);
    if (n < 0) {
        return n;
    }
    *out = u->pcm;
    *rate = f->sample_rate;
    return n * 4;
}

static void dp_reset(dp_unit *u) {
    if (u->ctx) {
        avcodec_flush_buffers(u->ctx);
    }
}

static void dp_close(dp_unit *u) {
    if (u->parser) {
        av_parser_close(u->parser);
    }
    av_packet_free(&u->pkt);
    av_frame_free(&u->frame);
    avcodec_free_context(&u->ctx);
    sws_freeContext(u->sws);
    swr_free(&u->swr);
    av_freep(&u->rgba);
    av_freep(&u->pcm);
    memset(u, 0, sizeof(*u));
}

static void dp_error(int code, char *buf, int size) {
    av_strerror(code, buf, size);
}
*/
import "C"

import (
	"fmt"
	"log/slog"
	"unsafe"

	"discplay/pkg/codec"
	"discplay/pkg/media"
	"discplay/pkg/mpegps"
)

// Register adds libavcodec openers for every codec in Codecs.
func Register(reg *codec.Registry, opts Options, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, c := range Codecs {
		c := c
		reg.Register(c, func(stream mpegps.Stream, sink codec.Sink) (codec.Decoder, error) {
			return open(stream, sink, priorityDecoders(c, opts), logger)
		})
	}
}

type avDecoder struct {
	u      *C.dp_unit
	stream mpegps.Stream
	sink   codec.Sink
	name   string
	marker uint64
}

func open(stream mpegps.Stream, sink codec.Sink, names []string, logger *slog.Logger) (*avDecoder, error) {
	kind := codecKind(stream.Codec)
	if kind == 0 {
		return nil, fmt.Errorf("mpeg: %s is not decoded here", stream.Codec)
	}

	cnames := make([]*C.char, len(names))
	for i, n := range names {
		cnames[i] = C.CString(n)
	}
	defer func() {
		for _, p := range cnames {
			C.free(unsafe.Pointer(p))
		}
	}()
	carr := (**C.char)(C.calloc(C.size_t(len(names)+1), C.size_t(unsafe.Sizeof((*C.char)(nil)))))
	defer C.free(unsafe.Pointer(carr))
	copy(unsafe.Slice(carr, len(names)+1), cnames)

	u := (*C.dp_unit)(C.calloc(1, C.size_t(C.sizeof_dp_unit)))
	var opened *C.char
	if ret := C.dp_open(u, C.int(kind), carr, C.int(len(names)), &opened); ret != 0 {
		C.dp_close(u)
		C.free(unsafe.Pointer(u))
		return nil, fmt.Errorf("mpeg: open %s decoder (code=%d)", stream.Codec, int(ret))
	}

	d := &avDecoder{u: u, stream: stream, sink: sink, name: C.GoString(opened)}
	logger.Info("decoder opened", "stream", stream.String(), "decoder", d.name)
	return d, nil
}

func (d *avDecoder) Decode(pkt *media.Packet) error {
	if len(pkt.Data) == 0 {
		return nil
	}
	d.marker = pkt.Marker

	pts := C.dp_nopts
	if pkt.PTS != media.NoPTS {
		pts = C.int64_t(pkt.PTS)
	}

	// The parser may hold on to input between calls, so it gets C memory.
	buf := C.CBytes(pkt.Data)
	defer C.free(buf)
	return d.feed((*C.uint8_t)(buf), C.int(len(pkt.Data)), pts)
}

func (d *avDecoder) feed(data *C.uint8_t, size C.int, pts C.int64_t) error {
	for {
		var ready C.int
		n := C.dp_parse(d.u, data, size, pts, &ready)
		if n < 0 {
			return avError("parse", n)
		}
		if ready != 0 {
			if ret := C.dp_send(d.u, 0); ret < 0 {
				return avError("send", ret)
			}
			if err := d.receive(); err != nil {
				return err
			}
		}
		if size == 0 || (n == 0 && ready == 0) {
			return nil
		}
		data = (*C.uint8_t)(unsafe.Add(unsafe.Pointer(data), int(n)))
		size -= n
		pts = C.dp_nopts
		if size == 0 {
			return nil
		}
	}
}

func (d *avDecoder) receive() error {
	for {
		ret := C.dp_receive(d.u)
		switch {
		case ret == 0:
			return nil
		case ret < 0:
			return avError("receive", ret)
		}
		if err := d.emit(); err != nil {
			return err
		}
	}
}

func (d *avDecoder) emit() error {
	pts := int64(C.dp_frame_pts(d.u))
	if C.int64_t(pts) == C.dp_nopts {
		pts = media.NoPTS
	}

	if d.stream.Kind == media.KindVideo {
		var out *C.uint8_t
		var w, h C.int
		if C.dp_rgba(d.u, &out, &w, &h) != 0 {
			return fmt.Errorf("mpeg: colour conversion failed")
		}
		return d.sink.PlayVideo(codec.Frame{
			Width:  int(w),
			Height: int(h),
			Pixels: C.GoBytes(unsafe.Pointer(out), w*h*4),
			PTS:    pts,
			Marker: d.marker,
		})
	}

	var out *C.uint8_t
	var rate C.int
	n := C.dp_s16(d.u, &out, &rate)
	if n < 0 {
		return avError("resample", n)
	}
	if n == 0 {
		return nil
	}
	return d.sink.PlayAudio(codec.AudioChunk{
		SampleRate: int(rate),
		Channels:   2,
		Samples:    C.GoBytes(unsafe.Pointer(out), n),
		PTS:        pts,
		Marker:     d.marker,
	})
}

// Flush pushes out whatever the parser and decoder are holding, then resets
// the decoder so it can take input again.
func (d *avDecoder) Flush() error {
	if err := d.feed(nil, 0, C.dp_nopts); err != nil {
		return err
	}
	if ret := C.dp_send(d.u, 1); ret < 0 {
		return avError("drain", ret)
	}
	err := d.receive()
	C.dp_reset(d.u)
	return err
}

func (d *avDecoder) Close() error {
	if d.u == nil {
		return nil
	}
	C.dp_close(d.u)
	C.free(unsafe.Pointer(d.u))
	d.u = nil
	return nil
}

func avError(op string, code C.int) error {
	buf := make([]C.char, 128)
	C.dp_error(code, &buf[0], C.int(len(buf)))
	return fmt.Errorf("mpeg: %s: %s (code=%d)", op, C.GoString(&buf[0]), int(code))
}
