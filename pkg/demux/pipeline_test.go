package demux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discplay/pkg/codec"
	"discplay/pkg/media"
	"discplay/pkg/mpegps"
	"discplay/pkg/session"
	"discplay/pkg/transport"
)

var (
	ac3Stream  = mpegps.Stream{Index: 0, ID: 0xBD, SubID: 0x80, Kind: media.KindAudio, Codec: media.CodecAC3}
	m2vStream  = mpegps.Stream{Index: 1, ID: 0xE0, Kind: media.KindVideo, Codec: media.CodecMPEG2Video}
	testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
)

// scriptedDemuxer replays a fixed packet list, calling before(i) ahead of
// returning packet i.
type scriptedDemuxer struct {
	streams []mpegps.Stream
	packets []*media.Packet
	before  func(i int)
	next    int
	resets  int
}

func (d *scriptedDemuxer) Probe(int64, bool) ([]mpegps.Stream, error) { return d.streams, nil }

func (d *scriptedDemuxer) ReadPacket() (*media.Packet, error) {
	if d.next >= len(d.packets) {
		return nil, io.EOF
	}
	if d.before != nil {
		d.before(d.next)
	}
	pkt := d.packets[d.next]
	d.next++
	return pkt, nil
}

func (d *scriptedDemuxer) Discard() {}
func (d *scriptedDemuxer) Reset()   { d.resets++ }

type nopInput struct{}

func (nopInput) Read([]byte) (int, error) { return 0, io.EOF }
func (nopInput) Close() error             { return nil }

// recorder collects what the fake decoders were fed, in play order.
type recorder struct {
	mu      sync.Mutex
	played  []string
	decoded func(data string)
	flushes int
	closes  int
	opens   int
}

func (r *recorder) opener(failures *int) codec.Opener {
	return func(s mpegps.Stream, _ codec.Sink) (codec.Decoder, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if failures != nil && *failures != 0 {
			if *failures > 0 {
				*failures--
			}
			return nil, fmt.Errorf("cannot open %s", s.Codec)
		}
		r.opens++
		return &recordingDecoder{r: r}, nil
	}
}

type recordingDecoder struct{ r *recorder }

func (d *recordingDecoder) Decode(pkt *media.Packet) error {
	d.r.mu.Lock()
	defer d.r.mu.Unlock()
	d.r.played = append(d.r.played, string(pkt.Data))
	if d.r.decoded != nil {
		d.r.decoded(string(pkt.Data))
	}
	return nil
}

func (d *recordingDecoder) Flush() error {
	d.r.mu.Lock()
	defer d.r.mu.Unlock()
	d.r.flushes++
	return nil
}

func (d *recordingDecoder) Close() error {
	d.r.mu.Lock()
	defer d.r.mu.Unlock()
	d.r.closes++
	return nil
}

func packet(s mpegps.Stream, data string, released *atomic.Int64) *media.Packet {
	return media.NewPacket(s.Index, s.Kind, media.NoPTS, []byte(data), func() {
		if released != nil {
			released.Add(1)
		}
	})
}

type harness struct {
	flags    *session.Flags
	rec      *recorder
	registry *codec.Registry
	scripts  []*scriptedDemuxer
	opened   atomic.Int64
}

func newHarness(audioFailures, videoFailures *int) *harness {
	h := &harness{flags: &session.Flags{}, rec: &recorder{}, registry: codec.NewRegistry()}
	h.registry.Register(media.CodecAC3, h.rec.opener(audioFailures))
	h.registry.Register(media.CodecMPEG2Video, h.rec.opener(videoFailures))
	return h
}

func (h *harness) pipeline(cfg Config) *Pipeline {
	return New(cfg, Deps{
		Open: func(context.Context, func() bool, func() bool) (Input, error) {
			h.opened.Add(1)
			return nopInput{}, nil
		},
		NewDemuxer: func(io.Reader) Demuxer {
			n := int(h.opened.Load()) - 1
			if n >= len(h.scripts) {
				return &scriptedDemuxer{streams: h.scripts[len(h.scripts)-1].streams}
			}
			return h.scripts[n]
		},
		Registry: h.registry,
		Flags:    h.flags,
		Logger:   testLogger,
	})
}

func run(t *testing.T, p *Pipeline) error {
	t.Helper()
	p.Start(context.Background())
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not finish")
	}
	return p.Wait()
}

func TestSeekFlushesEverythingQueuedBeforeIt(t *testing.T) {
	h := newHarness(nil, nil)
	var released atomic.Int64

	var pkts []*media.Packet
	for i := 0; i < 5; i++ {
		pkts = append(pkts,
			packet(ac3Stream, fmt.Sprintf("pre-a%d", 2*i), &released),
			packet(ac3Stream, fmt.Sprintf("pre-a%d", 2*i+1), &released),
			packet(m2vStream, fmt.Sprintf("pre-v%d", i), &released))
	}
	pkts = append(pkts,
		packet(ac3Stream, "post-a0", &released),
		packet(m2vStream, "post-v0", &released),
		packet(ac3Stream, "post-a1", &released))

	script := &scriptedDemuxer{
		streams: []mpegps.Stream{ac3Stream, m2vStream},
		packets: pkts,
		before: func(i int) {
			// pre-v4 is already in hand when the seek lands.
			if i == 14 {
				h.flags.SeekEpoch.Add(1)
			}
		},
	}
	h.scripts = []*scriptedDemuxer{script}

	p := h.pipeline(Config{QueueSize: 16, VideoEnabled: true})
	require.NoError(t, run(t, p))

	assert.Equal(t, []string{"post-a0", "post-v0", "post-a1"}, h.rec.played)
	assert.EqualValues(t, len(pkts), released.Load())
	assert.EqualValues(t, 15, p.Stats().Flushed)
	assert.EqualValues(t, 1, h.flags.SeekAck.Load())
	assert.Equal(t, 1, script.resets)
	assert.Equal(t, 2, h.rec.flushes)
	assert.Equal(t, 2, h.rec.closes)
}

func TestQueuedPacketsAreNotDecodedOnceSeekIsPending(t *testing.T) {
	h := newHarness(nil, nil)
	var released atomic.Int64
	pkts := []*media.Packet{
		packet(ac3Stream, "pre-a0", &released),
		packet(ac3Stream, "pre-a1", &released),
		packet(ac3Stream, "pre-a2", &released),
		packet(ac3Stream, "post-a0", &released),
	}
	h.scripts = []*scriptedDemuxer{{streams: []mpegps.Stream{ac3Stream}, packets: pkts}}
	// pre-a2 fills the queue; the seek lands while pre-a0 is decoding, so
	// pre-a1 is still due in the same drain.
	h.rec.decoded = func(data string) {
		if data == "pre-a0" {
			h.flags.SeekEpoch.Add(1)
		}
	}

	p := h.pipeline(Config{QueueSize: 2})
	require.NoError(t, run(t, p))

	assert.Equal(t, []string{"pre-a0", "post-a0"}, h.rec.played)
	assert.EqualValues(t, len(pkts), released.Load())
	assert.EqualValues(t, 2, p.Stats().Flushed)
	assert.EqualValues(t, 1, h.flags.SeekAck.Load())
}

func TestEndOfStreamDrainsQueuesInOrder(t *testing.T) {
	h := newHarness(nil, nil)
	var pkts []*media.Packet
	for i := 0; i < 4; i++ {
		pkts = append(pkts, packet(ac3Stream, fmt.Sprintf("a%d", i), nil))
	}
	pkts = append(pkts,
		packet(m2vStream, "v0", nil),
		packet(m2vStream, "v1", nil),
		packet(mpegps.Stream{Index: 2, Kind: media.KindSubpicture}, "spu", nil))
	h.scripts = []*scriptedDemuxer{{streams: []mpegps.Stream{ac3Stream, m2vStream}, packets: pkts}}

	p := h.pipeline(Config{QueueSize: 8, VideoEnabled: true})
	require.NoError(t, run(t, p))

	assert.Equal(t, []string{"a0", "v0", "a1", "a2", "v1", "a3"}, h.rec.played)
	assert.EqualValues(t, 1, p.Stats().Discarded)
}

func TestCodecRecheckReopensInput(t *testing.T) {
	h := newHarness(nil, nil)
	first := &scriptedDemuxer{
		streams: []mpegps.Stream{ac3Stream, m2vStream},
		packets: []*media.Packet{packet(ac3Stream, "c1-a0", nil), packet(ac3Stream, "c1-a1", nil), packet(ac3Stream, "never", nil)},
	}
	first.before = func(i int) {
		if i == 1 {
			h.flags.CodecRecheck.Store(true)
		}
	}
	second := &scriptedDemuxer{
		streams: []mpegps.Stream{ac3Stream},
		packets: []*media.Packet{packet(ac3Stream, "c2-a0", nil)},
	}
	h.scripts = []*scriptedDemuxer{first, second}

	p := h.pipeline(Config{QueueSize: 8, VideoEnabled: true})
	require.NoError(t, run(t, p))

	assert.Equal(t, []string{"c1-a0", "c1-a1", "c2-a0"}, h.rec.played)
	assert.EqualValues(t, 2, p.Stats().Cycles)
	assert.EqualValues(t, 2, h.opened.Load())
	assert.Equal(t, 3, h.rec.opens)
	assert.Equal(t, 3, h.rec.closes)
	assert.False(t, h.flags.CodecRecheck.Load())
}

func TestVideoOpenFailureDegradesToAudioOnly(t *testing.T) {
	videoFailures := -1
	h := newHarness(nil, &videoFailures)
	streams := []mpegps.Stream{ac3Stream, m2vStream}
	h.scripts = []*scriptedDemuxer{
		{streams: streams},
		{streams: streams, packets: []*media.Packet{
			packet(ac3Stream, "a0", nil),
			packet(m2vStream, "v0", nil),
			packet(ac3Stream, "a1", nil),
		}},
	}

	p := h.pipeline(Config{QueueSize: 8, VideoEnabled: true})
	require.NoError(t, run(t, p))

	assert.Equal(t, []string{"a0", "a1"}, h.rec.played)
	assert.EqualValues(t, 2, p.Stats().Cycles)
	assert.EqualValues(t, 1, p.Stats().Discarded)
}

func TestAudioOpenFailingTwiceAborts(t *testing.T) {
	audioFailures := -1
	h := newHarness(&audioFailures, nil)
	streams := []mpegps.Stream{ac3Stream}
	h.scripts = []*scriptedDemuxer{{streams: streams}, {streams: streams}}

	p := h.pipeline(Config{QueueSize: 8})
	err := run(t, p)
	assert.ErrorIs(t, err, ErrDecodeOpen)
}

func TestVideoOnlyStreamIsRefused(t *testing.T) {
	h := newHarness(nil, nil)
	h.scripts = []*scriptedDemuxer{{streams: []mpegps.Stream{m2vStream}}}

	p := h.pipeline(Config{QueueSize: 8, VideoEnabled: true})
	assert.ErrorIs(t, run(t, p), ErrNoAudio)
}

// stallingInput never yields data, like a transport whose writer has gone
// quiet, but observes stop at poll granularity.
type stallingInput struct {
	stop func() bool
	poll time.Duration
}

func (s stallingInput) Read([]byte) (int, error) {
	for {
		if s.stop() {
			return 0, transport.ErrStopped
		}
		time.Sleep(s.poll)
	}
}

func (stallingInput) Close() error { return nil }

func TestStopIsObservedWithinOnePollInterval(t *testing.T) {
	const poll = 20 * time.Millisecond
	flags := &session.Flags{}
	p := New(Config{QueueSize: 8, VideoEnabled: true}, Deps{
		Open: func(_ context.Context, stop, _ func() bool) (Input, error) {
			return stallingInput{stop: stop, poll: poll}, nil
		},
		Registry: codec.NewRegistry(),
		Flags:    flags,
		Logger:   testLogger,
	})
	p.Start(context.Background())
	time.Sleep(3 * poll)

	start := time.Now()
	require.NoError(t, p.Stop())
	assert.Less(t, time.Since(start), 3*poll)
}

type flakyReader struct {
	failures int
	lastLen  int
}

func (f *flakyReader) Read(p []byte) (int, error) {
	f.lastLen = len(p)
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return 0, errors.New("input/output error")
	}
	return copy(p, strings.Repeat("x", len(p))), nil
}

func TestRetryReaderHalvesReadUnit(t *testing.T) {
	var retries atomic.Int64
	src := &flakyReader{failures: 2}
	rr := newRetryReader(context.Background(), src, 8192, 3, testLogger, &retries)
	rr.delay = time.Millisecond

	n, err := rr.Read(make([]byte, 8192))
	require.NoError(t, err)
	assert.Equal(t, 2048, n)
	assert.Equal(t, 2048, src.lastLen)
	assert.EqualValues(t, 2, retries.Load())
}

func TestRetryReaderGivesUp(t *testing.T) {
	rr := newRetryReader(context.Background(), &flakyReader{failures: -1}, 4096, 3, testLogger, nil)
	rr.delay = time.Millisecond

	_, err := rr.Read(make([]byte, 4096))
	assert.ErrorIs(t, err, ErrFatalRead)
}

func TestRetryReaderPassesEndOfStream(t *testing.T) {
	var retries atomic.Int64
	rr := newRetryReader(context.Background(), nopInput{}, 0, 3, testLogger, &retries)

	_, err := rr.Read(make([]byte, 16))
	assert.Equal(t, io.EOF, err)
	assert.Zero(t, retries.Load())
}

// ac3PES builds an MPEG-2 private stream 1 packet carrying AC3 substream 0x80,
// padded with dots to size bytes of payload.
func ac3PES(name string, size int) []byte {
	data := append([]byte{0x80, 0x01, 0x00, 0x01}, name...)
	data = append(data, bytes.Repeat([]byte{'.'}, max(size-len(name), 0))...)
	body := append([]byte{0x81, 0x00, 0}, data...)
	return append([]byte{0, 0, 1, 0xBD, byte(len(body) >> 8), byte(len(body))}, body...)
}

func TestSeekDropsBytesAlreadyInTransport(t *testing.T) {
	fifo, err := transport.Create(filepath.Join(t.TempDir(), "stream.fifo"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = fifo.Remove() })

	flags := &session.Flags{}
	rec := &recorder{}
	entered := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	rec.decoded = func(string) {
		once.Do(func() {
			close(entered)
			<-gate
		})
	}
	registry := codec.NewRegistry()
	registry.Register(media.CodecAC3, rec.opener(nil))

	p := New(Config{QueueSize: 2}, Deps{
		Open: func(_ context.Context, stop, wake func() bool) (Input, error) {
			return transport.OpenReader(fifo.Path(), transport.ReaderOptions{
				PollTimeout: 20 * time.Millisecond,
				Stop:        stop,
				Wake:        wake,
			})
		},
		Registry: registry,
		Flags:    flags,
		Logger:   testLogger,
	})
	p.Start(context.Background())
	t.Cleanup(func() { _ = p.Stop() })

	w, err := transport.OpenWriter(context.Background(), fifo.Path(), transport.WriterOptions{
		PollTimeout:  20 * time.Millisecond,
		OpenAttempts: 250,
	})
	require.NoError(t, err)

	// More than one read unit, so part of it is still in the pipe when the
	// first packet decodes.
	pack := []byte{0, 0, 1, 0xBA, 0x44, 0, 4, 0, 4, 1, 0x01, 0x89, 0xC3, 0xF8}
	_, err = w.Write(pack)
	require.NoError(t, err)
	for i := 0; i < 14; i++ {
		_, err = w.Write(ac3PES(fmt.Sprintf("pre-a%d", i), 4000))
		require.NoError(t, err)
	}
	require.NoError(t, w.Flush())

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("nothing was decoded")
	}
	// The decoder holds the demux thread while the navigation side seeks.
	_, err = w.Write(ac3PES("unflushed", 16))
	require.NoError(t, err)
	flags.SeekEpoch.Add(1)
	assert.Positive(t, w.Discard())
	close(gate)
	require.Eventually(t, func() bool { return flags.SeekAck.Load() == 1 }, 5*time.Second, 5*time.Millisecond)

	_, err = w.Write(ac3PES("post-a0", 16))
	require.NoError(t, err)
	_, err = w.Write(ac3PES("post-a1", 16))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not reach end of stream")
	}
	require.NoError(t, p.Wait())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	var names []string
	for _, data := range rec.played {
		names = append(names, strings.TrimRight(data, "."))
	}
	assert.Equal(t, []string{"pre-a0", "post-a0", "post-a1"}, names)
}
