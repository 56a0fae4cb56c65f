// Package demux runs the demux thread: it reads the multiplexed stream off the
// transport, splits it into audio and video packets, queues them, and plays
// them through one decode unit per stream in interleaved order.
//
// The stream set is fixed for one cycle. A codec recheck (raised by the
// navigation thread on a channel hop, or by the pipeline itself when a decoder
// fails to open) drains the queues, closes the input and starts a new cycle.
package demux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"

	"discplay/pkg/codec"
	"discplay/pkg/media"
	"discplay/pkg/mpegps"
	"discplay/pkg/performance"
	"discplay/pkg/session"
	"discplay/pkg/transport"
)

var (
	// ErrNoAudio is returned when the stream has no playable audio. Video-only
	// playback is refused.
	ErrNoAudio = errors.New("demux: no playable audio stream")
	// ErrDecodeOpen is returned when a decoder failed to open twice in a row for
	// the same stream set and there is nothing to degrade to.
	ErrDecodeOpen = errors.New("demux: decoder open failed")
	// ErrFatalRead is returned when a read kept failing after every retry.
	ErrFatalRead = errors.New("demux: fatal read error")

	errReopen = errors.New("demux: reopen requested")
)

// maxDecodeErrors consecutive decode failures trigger a codec recheck.
const maxDecodeErrors = 25

// Input is the readable end of the transport.
type Input interface {
	io.Reader
	Close() error
}

// InputOpener opens the transport for one cycle. stop reports whether the
// pipeline is shutting down; blocking reads must observe it. wake reports a
// pending seek; blocking reads should return transport.ErrInterrupted when it
// fires.
type InputOpener func(ctx context.Context, stop, wake func() bool) (Input, error)

// drainer is an Input that can drop what the writer already pushed.
type drainer interface {
	Drain() (int, error)
}

// Demuxer is the subset of mpegps.Demuxer the pipeline drives.
type Demuxer interface {
	Probe(budget int64, wantVideo bool) ([]mpegps.Stream, error)
	ReadPacket() (*media.Packet, error)
	Discard()
	Reset()
}

// DemuxerFactory builds a demuxer over a reader.
type DemuxerFactory func(r io.Reader) Demuxer

// ProgramStream is the default DemuxerFactory.
func ProgramStream(r io.Reader) Demuxer { return mpegps.NewDemuxer(r) }

// Config tunes the pipeline.
type Config struct {
	// QueueSize is the audio queue capacity; video gets twice as much.
	QueueSize    int
	VideoEnabled bool
	ReadRetries  uint
	ReadUnit     int
	ProbeBytes   int64
}

// Deps are the pipeline's collaborators.
type Deps struct {
	Open       InputOpener
	NewDemuxer DemuxerFactory
	Registry   *codec.Registry
	Sink       codec.Sink
	Flags      *session.Flags
	Monitor    *performance.Monitor
	Logger     *slog.Logger
}

// Stats are cumulative counters for a pipeline run.
type Stats struct {
	Cycles       int64
	Packets      int64
	Discarded    int64
	Flushed      int64
	DecodeErrors int64
	ReadRetries  int64
}

// Pipeline is the demux thread. Everything except the atomics is owned by the
// thread's goroutine.
type Pipeline struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	sched    *scheduler
	audio    *codec.Unit
	video    *codec.Unit
	audioIdx int
	videoIdx int
	epoch    uint64

	videoDisabled bool
	failedSet     string
	decodeErrors  int

	cycles, packets, discarded, flushed, decodeErrs, retries atomic.Int64

	wg      *conc.WaitGroup
	done    chan struct{}
	errMu   sync.Mutex
	err     error
	started atomic.Bool
}

// New builds a pipeline. Start launches it.
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = performance.DefaultQueueSize()
	}
	if cfg.ProbeBytes <= 0 {
		cfg.ProbeBytes = mpegps.DefaultProbeBytes
	}
	if deps.NewDemuxer == nil {
		deps.NewDemuxer = ProgramStream
	}
	if deps.Flags == nil {
		deps.Flags = &session.Flags{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	p := &Pipeline{
		cfg:      cfg,
		deps:     deps,
		log:      deps.Logger,
		audioIdx: -1,
		videoIdx: -1,
		done:     make(chan struct{}),
	}
	p.sched = newScheduler(cfg.QueueSize, p.playAudio, p.playVideo)
	return p
}

// Start launches the demux thread.
func (p *Pipeline) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	p.wg = conc.NewWaitGroup()
	p.wg.Go(func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		defer close(p.done)
		err := p.run(ctx)
		p.setErr(err)
	})
}

// Done is closed when the demux thread has exited.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Err returns the error the thread exited with, if any.
func (p *Pipeline) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

func (p *Pipeline) setErr(err error) {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

// Wait joins the demux thread and returns its error. A panic on the thread
// comes back as an error.
func (p *Pipeline) Wait() error {
	if !p.started.Load() {
		return nil
	}
	if r := p.wg.WaitAndRecover(); r != nil {
		p.setErr(fmt.Errorf("demux: thread panicked: %w", r.AsError()))
	}
	return p.Err()
}

// Stop asks the thread to exit and joins it.
func (p *Pipeline) Stop() error {
	p.deps.Flags.RequestStop()
	return p.Wait()
}

// Stats returns a copy of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Cycles:       p.cycles.Load(),
		Packets:      p.packets.Load(),
		Discarded:    p.discarded.Load(),
		Flushed:      p.flushed.Load(),
		DecodeErrors: p.decodeErrs.Load(),
		ReadRetries:  p.retries.Load(),
	}
}

type exitReason int

const (
	exitStop exitReason = iota
	exitEnd
	exitRecheck
)

func (p *Pipeline) stopping() bool { return p.deps.Flags.Stopping() }

func (p *Pipeline) run(ctx context.Context) error {
	defer func() {
		s := p.Stats()
		p.log.Info("demux thread exiting",
			"cycles", s.Cycles, "packets", s.Packets, "discarded", s.Discarded,
			"flushed", s.Flushed, "decode_errors", s.DecodeErrors, "read_retries", s.ReadRetries)
	}()

	for {
		if p.stopping() || ctx.Err() != nil {
			return nil
		}
		p.deps.Flags.CodecRecheck.Store(false)
		p.cycles.Add(1)

		reason, err := p.cycle(ctx)
		if err != nil {
			return err
		}
		switch reason {
		case exitRecheck:
			p.log.Info("codec recheck, reopening input")
			continue
		case exitEnd:
			if p.deps.Flags.CodecRecheck.Load() {
				continue
			}
			return nil
		default:
			return nil
		}
	}
}

// cycle opens the input, probes the stream set, opens decoders and pumps
// packets until end of input, a recheck, or stop. All resources acquired here
// are released before it returns.
func (p *Pipeline) cycle(ctx context.Context) (exitReason, error) {
	in, err := p.deps.Open(ctx, p.stopping, p.seekPending)
	if err != nil {
		if p.stopping() || errors.Is(err, transport.ErrStopped) {
			return exitStop, nil
		}
		return exitStop, fmt.Errorf("demux: open input: %w", err)
	}
	defer in.Close()

	r := newRetryReader(ctx, in, p.cfg.ReadUnit, p.cfg.ReadRetries, p.log, &p.retries)
	dmx := p.deps.NewDemuxer(r)
	defer dmx.Discard()

	if p.seekPending() {
		p.applySeek(in, dmx)
	}
	var streams []mpegps.Stream
	for {
		streams, err = dmx.Probe(p.cfg.ProbeBytes, p.cfg.VideoEnabled && !p.videoDisabled)
		if errors.Is(err, transport.ErrInterrupted) && p.seekPending() {
			p.applySeek(in, dmx)
			continue
		}
		break
	}
	if err != nil {
		if reason, ok := p.interrupted(err); ok {
			return reason, nil
		}
		if errors.Is(err, mpegps.ErrNoStreams) {
			return exitStop, ErrNoAudio
		}
		return exitStop, fmt.Errorf("demux: probe: %w", err)
	}

	if err := p.openUnits(streams); err != nil {
		if errors.Is(err, errReopen) {
			return exitRecheck, nil
		}
		return exitStop, err
	}
	defer p.closeUnits()

	for {
		if p.stopping() {
			p.flushed.Add(int64(p.sched.flush()))
			return exitStop, nil
		}
		if p.deps.Flags.CodecRecheck.Load() {
			p.sched.drainAll()
			return exitRecheck, nil
		}
		if p.seekPending() {
			p.applySeek(in, dmx)
		}

		pkt, err := dmx.ReadPacket()
		if p.seekPending() && (err == nil || errors.Is(err, transport.ErrInterrupted)) {
			// Everything read before the acknowledgement predates the seek.
			p.drop(pkt)
			p.applySeek(in, dmx)
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.endOfStream()
				return exitEnd, nil
			}
			if reason, ok := p.interrupted(err); ok {
				if reason == exitRecheck {
					p.sched.drainAll()
				} else {
					p.flushed.Add(int64(p.sched.flush()))
				}
				return reason, nil
			}
			p.flushed.Add(int64(p.sched.flush()))
			return exitStop, err
		}
		p.route(pkt)
	}
}

// interrupted classifies errors caused by a stop or recheck request rather
// than by the stream.
func (p *Pipeline) interrupted(err error) (exitReason, bool) {
	switch {
	case p.stopping(), errors.Is(err, transport.ErrStopped), errors.Is(err, context.Canceled):
		return exitStop, true
	case p.deps.Flags.CodecRecheck.Load():
		return exitRecheck, true
	case errors.Is(err, io.EOF):
		return exitEnd, true
	}
	return exitStop, false
}

func streamSet(audio, video *mpegps.Stream) string {
	key := audio.String()
	if video != nil {
		key += "|" + video.String()
	}
	return key
}

// openUnits picks one audio and at most one video stream and opens a decode
// unit for each. A failure triggers one reopen; the same failure on the same
// stream set right after degrades to audio-only, or aborts when audio is the
// one failing.
func (p *Pipeline) openUnits(streams []mpegps.Stream) error {
	var audio, video *mpegps.Stream
	for i := range streams {
		s := &streams[i]
		switch {
		case s.Kind == media.KindAudio && audio == nil && p.deps.Registry.Supports(s.Codec):
			audio = s
		case s.Kind == media.KindVideo && video == nil && p.cfg.VideoEnabled && !p.videoDisabled:
			video = s
		}
	}
	if audio == nil {
		return ErrNoAudio
	}
	key := streamSet(audio, video)

	au, err := p.deps.Registry.Open(*audio, p.deps.Sink, p.deps.Monitor)
	if err != nil {
		if p.failedSet == key {
			return fmt.Errorf("%w: %w", ErrDecodeOpen, err)
		}
		p.log.Warn("audio decoder open failed, will reopen", "stream", audio.String(), "error", err)
		p.failedSet = key
		p.deps.Flags.CodecRecheck.Store(true)
		return errReopen
	}

	var vu *codec.Unit
	if video != nil {
		vu, err = p.deps.Registry.Open(*video, p.deps.Sink, p.deps.Monitor)
		if err != nil {
			if p.failedSet != key {
				_ = au.Close()
				p.log.Warn("video decoder open failed, will reopen", "stream", video.String(), "error", err)
				p.failedSet = key
				p.deps.Flags.CodecRecheck.Store(true)
				return errReopen
			}
			p.log.Warn("video decoder failed again, continuing audio-only", "stream", video.String(), "error", err)
			p.videoDisabled = true
			vu = nil
		}
	}

	p.failedSet = ""
	p.decodeErrors = 0
	p.audio, p.audioIdx = au, audio.Index
	p.video, p.videoIdx = vu, -1
	if vu != nil {
		p.videoIdx = video.Index
	}
	if p.deps.Monitor != nil {
		p.deps.Monitor.Reset()
	}
	p.log.Info("streams opened", "audio", audio.String(), "video", optionalStream(video, vu != nil))
	return nil
}

func optionalStream(s *mpegps.Stream, active bool) string {
	if s == nil || !active {
		return "none"
	}
	return s.String()
}

func (p *Pipeline) closeUnits() {
	if err := p.audio.Close(); err != nil {
		p.log.Warn("close audio decoder", "error", err)
	}
	if err := p.video.Close(); err != nil {
		p.log.Warn("close video decoder", "error", err)
	}
	p.audio, p.video = nil, nil
	p.audioIdx, p.videoIdx = -1, -1
}

// route moves pkt into its queue. Packets of other streams are released
// immediately.
func (p *Pipeline) route(pkt *media.Packet) {
	pkt.Marker = p.epoch
	p.packets.Add(1)

	switch {
	case pkt.StreamIndex == p.audioIdx:
		p.sched.admit(pkt, p.sched.audio)
	case p.video != nil && pkt.StreamIndex == p.videoIdx:
		p.sched.admit(pkt, p.sched.video)
	default:
		p.discarded.Add(1)
		pkt.Release()
	}
}

// seekPending reports whether the navigation thread has issued a seek this
// thread has not flushed for yet.
func (p *Pipeline) seekPending() bool {
	return p.deps.Flags.SeekEpoch.Load() != p.epoch
}

// applySeek empties every place pre-seek bytes can wait: both packet queues,
// the demuxer's read buffer and the transport itself. The acknowledgement
// tells the navigation thread it may move the engine and write again.
func (p *Pipeline) applySeek(in Input, dmx Demuxer) {
	epoch := p.deps.Flags.SeekEpoch.Load()
	n := p.sched.flush()
	p.flushed.Add(int64(n))
	dmx.Reset()

	drained := 0
	if d, ok := in.(drainer); ok {
		var err error
		if drained, err = d.Drain(); err != nil {
			p.log.Warn("transport drain after seek failed", "error", err)
		}
	}
	p.epoch = epoch
	p.deps.Flags.SeekAck.Store(epoch)
	p.log.Debug("seek applied", "epoch", epoch, "packets", n, "drained_bytes", drained)
}

func (p *Pipeline) drop(pkt *media.Packet) {
	if pkt == nil {
		return
	}
	p.flushed.Add(1)
	pkt.Release()
}

// endOfStream plays whatever is queued and pushes an empty flush through each
// decoder so buffered frames come out.
func (p *Pipeline) endOfStream() {
	p.sched.drainAll()
	for _, u := range []*codec.Unit{p.audio, p.video} {
		if u == nil {
			continue
		}
		if err := u.Flush(); err != nil {
			p.log.Warn("decoder flush failed", "stream", u.Stream.String(), "error", err)
		}
	}
}

func (p *Pipeline) playAudio(pkt *media.Packet) { p.play(p.audio, pkt) }
func (p *Pipeline) playVideo(pkt *media.Packet) { p.play(p.video, pkt) }

func (p *Pipeline) play(u *codec.Unit, pkt *media.Packet) {
	if u == nil {
		pkt.Release()
		return
	}
	if p.seekPending() {
		// Queued before the seek; applySeek flushes the rest.
		p.drop(pkt)
		return
	}
	if err := u.Decode(pkt); err != nil {
		p.decodeErrs.Add(1)
		p.decodeErrors++
		p.log.Debug("decode failed", "error", err)
		if p.decodeErrors == maxDecodeErrors {
			p.log.Warn("repeated decode failures, requesting codec recheck", "stream", u.Stream.String())
			p.deps.Flags.CodecRecheck.Store(true)
		}
		return
	}
	p.decodeErrors = 0
}
