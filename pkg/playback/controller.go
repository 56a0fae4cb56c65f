// Package playback runs the navigation thread: it pulls blocks from the
// navigation engine, writes them into the transport for the demux thread, and
// reacts to navigation events (menus, cells, title sets, stills, channel hops).
//
// Controller states:
//
//	Idle -> Opening -> NavigatingMenu <-> NavigatingTitle -> Stopping -> Idle
//
// Run always returns with the controller back in Idle, the demux thread joined
// and every handle released.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"discplay/pkg/disc"
	"discplay/pkg/nav"
	"discplay/pkg/session"
	"discplay/pkg/transport"
)

// State is the controller's state machine position.
type State int32

const (
	Idle State = iota
	Opening
	NavigatingMenu
	NavigatingTitle
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Opening:
		return "opening"
	case NavigatingMenu:
		return "menu"
	case NavigatingTitle:
		return "title"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Output is the write end of the transport.
type Output interface {
	io.Writer
	Flush() error
	Discard() int
	Close() error
}

// OutputOpener opens the transport write end. It may block until the demux
// thread opens the read end; stop reports a pending stop request.
type OutputOpener func(ctx context.Context, stop func() bool) (Output, error)

// Demux is the demux thread as seen from the navigation thread.
type Demux interface {
	Start(ctx context.Context)
	Done() <-chan struct{}
	Err() error
	Stop() error
}

// DemuxFactory builds the demux thread for one session, sharing flags.
type DemuxFactory func(flags *session.Flags) Demux

// EngineOpener opens the navigation engine for a device.
type EngineOpener func(ctx context.Context, device, language string) (nav.Engine, error)

// Options are the per-play settings.
type Options struct {
	Device   string
	Language string
	// Track plays a single title; 0 starts at the disc's first play and menus.
	Track int

	SkipMenus         bool
	AutoContinueMenus bool
	NoSkipMenus       bool

	// PositionInterval is how many blocks pass between position refreshes.
	PositionInterval int
	// ProbeInterval spaces disk-removal probes.
	ProbeInterval time.Duration
	// StillSlice is one still-frame sleep step.
	StillSlice time.Duration
	// WaitSlice is how long a navigation wait sleeps before re-polling.
	WaitSlice time.Duration
	// DrainTimeout bounds how long a clean end waits for the demux thread to
	// play out what it has queued.
	DrainTimeout time.Duration
	// SeekAckTimeout bounds how long a seek waits for the demux thread to
	// throw away pre-seek data before the engine moves.
	SeekAckTimeout time.Duration
}

// Deps are the controller's collaborators.
type Deps struct {
	OpenEngine EngineOpener
	OpenOutput OutputOpener
	NewDemux   DemuxFactory
	// Removed probes for the disc disappearing. Optional.
	Removed func() (bool, error)
	Logger  *slog.Logger
}

type commandKind int

const (
	cmdSelect commandKind = iota
	cmdMove
	cmdActivate
	cmdSelectActivate
	cmdSeek
)

type command struct {
	kind   commandKind
	button int
	dir    nav.Direction
	offset uint32
}

const commandBacklog = 16

var (
	errEndOfDisc  = errors.New("end of disc")
	errEndOfTitle = errors.New("end of title")
)

// Controller is the playback state machine. Run executes on the navigation
// thread; the other exported methods may be called from any goroutine.
type Controller struct {
	opts Options
	deps Deps
	log  *slog.Logger

	state atomic.Int32
	ran   atomic.Bool
	flags *session.Flags
	sess  atomic.Pointer[session.DiscSession]
	cmds  chan command

	// Owned by the navigation thread.
	engine          nav.Engine
	out             Output
	dmx             Demux
	finished        bool
	buttonsCaptured bool
	menuEscaped     bool
	titleStarted    bool
	blocks          int
	lastProbe       time.Time
}

// New builds an idle controller.
func New(opts Options, deps Deps) *Controller {
	if opts.PositionInterval <= 0 {
		opts.PositionInterval = 256
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = time.Second
	}
	if opts.StillSlice <= 0 {
		opts.StillSlice = time.Second
	}
	if opts.WaitSlice <= 0 {
		opts.WaitSlice = 40 * time.Millisecond
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 10 * time.Second
	}
	if opts.SeekAckTimeout <= 0 {
		opts.SeekAckTimeout = time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Controller{
		opts:  opts,
		deps:  deps,
		log:   deps.Logger,
		flags: &session.Flags{},
		cmds:  make(chan command, commandBacklog),
	}
}

// State returns the current state.
func (c *Controller) State() State { return State(c.state.Load()) }

func (c *Controller) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		c.log.Info("playback state", "from", old.String(), "to", s.String())
	}
}

// Flags exposes the flags shared with the demux thread.
func (c *Controller) Flags() *session.Flags { return c.flags }

// Snapshot returns the live session, if any.
func (c *Controller) Snapshot() (session.Snapshot, bool) {
	s := c.sess.Load()
	if s == nil {
		return session.Snapshot{}, false
	}
	return s.Snapshot(), true
}

// Position returns the playback position and disc-reported length in blocks.
func (c *Controller) Position() (pos, length uint32) {
	snap, ok := c.Snapshot()
	if !ok {
		return 0, 0
	}
	return snap.Position, snap.Length
}

// SelectButton highlights menu button n (1-based).
func (c *Controller) SelectButton(n int) { c.send(command{kind: cmdSelect, button: n}) }

// MoveHighlight moves the menu highlight.
func (c *Controller) MoveHighlight(d nav.Direction) { c.send(command{kind: cmdMove, dir: d}) }

// ActivateButton activates the highlighted button, cutting short any timed
// still.
func (c *Controller) ActivateButton() {
	c.send(command{kind: cmdActivate})
	c.flags.WakeUp.Store(true)
}

// ActivateAt selects and activates button n, as for a mouse click.
func (c *Controller) ActivateAt(n int) {
	c.send(command{kind: cmdSelectActivate, button: n})
	c.flags.WakeUp.Store(true)
}

// Seek jumps to a block offset within the current title.
func (c *Controller) Seek(offset uint32) error {
	if snap, ok := c.Snapshot(); ok && snap.NoSeek {
		return ErrSeekDisabled
	}
	c.send(command{kind: cmdSeek, offset: offset})
	return nil
}

// Stop asks Run to wind down. It returns immediately.
func (c *Controller) Stop() {
	c.flags.RequestStop()
	c.flags.WakeUp.Store(true)
}

func (c *Controller) send(cmd command) {
	select {
	case c.cmds <- cmd:
	default:
		c.log.Warn("command dropped, controller busy", "kind", int(cmd.kind))
	}
}

// Run plays one disc session to completion on the calling goroutine, which
// it pins to its OS thread. A Controller runs once.
func (c *Controller) Run(ctx context.Context) (err error) {
	if !c.ran.CompareAndSwap(false, true) {
		return errors.New("playback: controller already used")
	}
	c.setState(Opening)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	log := c.log
	defer func() {
		if serr := c.shutdown(); err == nil {
			err = serr
		}
		if err != nil {
			log.Error("playback ended", "error", err)
		} else {
			log.Info("playback ended")
		}
		c.setState(Idle)
	}()

	log.Info("opening disc", "device", c.opts.Device, "track", c.opts.Track)
	engine, err := c.deps.OpenEngine(ctx, c.opts.Device, c.opts.Language)
	if err != nil {
		return err
	}
	c.engine = engine

	sess := session.New(c.opts.Device, c.opts.Track, c.opts.Language)
	label, lerr := engine.DiscTitle()
	if lerr != nil {
		log.Debug("disc title unavailable", "error", lerr)
	}
	sess.Title = disc.TrackLabel(disc.CleanLabel(label), c.opts.Track)
	c.sess.Store(sess)
	log = log.With("session", sess.ID)

	if c.opts.Track > 0 {
		if err := engine.PlayTitle(c.opts.Track); err != nil {
			return fmt.Errorf("%w: title %d: %w", ErrOpenFailed, c.opts.Track, err)
		}
	}

	c.dmx = c.deps.NewDemux(c.flags)
	c.dmx.Start(ctx)

	out, err := c.deps.OpenOutput(ctx, c.flags.Stopping)
	if err != nil {
		if derr := c.demuxFailure(); derr != nil {
			return derr
		}
		if errors.Is(err, transport.ErrStopped) {
			return nil
		}
		return fmt.Errorf("playback: open transport: %w", err)
	}
	c.out = out

	if engine.InTitleDomain() {
		c.setState(NavigatingTitle)
	} else {
		c.setState(NavigatingMenu)
		c.flags.InMenu.Store(true)
	}
	log.Info("disc opened", "title", sess.Title)

	return c.loop(ctx)
}

// shutdown releases the session in order: transport, demux thread, engine.
// The navigation handle outlives the demux thread.
func (c *Controller) shutdown() error {
	c.setState(Stopping)
	var errs []error

	if c.out != nil {
		if !c.finished {
			c.out.Discard()
			c.flags.RequestStop()
		}
		if err := c.out.Close(); err != nil && !errors.Is(err, transport.ErrNoReader) {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
		c.out = nil
	} else {
		c.flags.RequestStop()
	}

	if c.dmx != nil {
		if c.finished {
			select {
			case <-c.dmx.Done():
			case <-time.After(c.opts.DrainTimeout):
				c.log.Warn("demux drain timed out")
			}
		}
		if err := c.dmx.Stop(); err != nil {
			errs = append(errs, err)
		}
		c.dmx = nil
	}

	if c.engine != nil {
		if err := c.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close engine: %w", err))
		}
		c.engine = nil
	}
	c.sess.Store(nil)
	return errors.Join(errs...)
}

func (c *Controller) loop(ctx context.Context) error {
	for {
		if c.flags.Stopping() {
			c.log.Info("stop requested")
			return nil
		}
		if err := ctx.Err(); err != nil {
			return nil
		}
		select {
		case <-c.dmx.Done():
			if err := c.demuxFailure(); err != nil {
				return err
			}
			return errors.New("playback: demux thread exited")
		default:
		}
		if err := c.probeRemoval(false); err != nil {
			return err
		}
		c.drainCommands()

		ev, err := c.engine.ReadNext()
		if err != nil {
			if rerr := c.probeRemoval(true); rerr != nil {
				return rerr
			}
			return fmt.Errorf("%w: %w", ErrFatalRead, err)
		}

		switch err := c.dispatch(ev); {
		case err == nil:
		case errors.Is(err, errEndOfDisc), errors.Is(err, errEndOfTitle):
			c.finished = true
			c.flush()
			return nil
		case errors.Is(err, transport.ErrStopped):
			return nil
		default:
			return err
		}
	}
}

func (c *Controller) demuxFailure() error {
	select {
	case <-c.dmx.Done():
		return c.dmx.Err()
	default:
		return nil
	}
}

func (c *Controller) probeRemoval(force bool) error {
	if c.deps.Removed == nil {
		return nil
	}
	if !force && time.Since(c.lastProbe) < c.opts.ProbeInterval {
		return nil
	}
	c.lastProbe = time.Now()
	removed, err := c.deps.Removed()
	if err != nil {
		c.log.Debug("drive status probe failed", "error", err)
		return nil
	}
	if removed {
		return fmt.Errorf("%w: %s", ErrDiskRemoved, c.opts.Device)
	}
	return nil
}

func (c *Controller) dispatch(ev nav.Event) error {
	c.log.Debug("nav event", "kind", ev.Kind.String())
	switch ev.Kind {
	case nav.EventBlock:
		if err := c.write(ev.Data); err != nil {
			return err
		}
		c.blocks++
		if c.blocks%c.opts.PositionInterval == 0 {
			c.refreshPosition()
		}
	case nav.EventNavPacket:
		if err := c.write(ev.Data); err != nil {
			return err
		}
		c.navPacket(ev)
	case nav.EventNop:
	case nav.EventStillFrame:
		return c.still(ev)
	case nav.EventWait:
		return c.wait()
	case nav.EventChannelHop:
		c.hop()
	case nav.EventHighlight:
		c.sess.Load().Update(func(s *session.DiscSession) {
			s.Highlight = ev.Highlight
			s.State.HighlightValid = ev.Highlight > 0
		})
	case nav.EventPaletteChange:
	case nav.EventSPUStreamChange:
		c.sess.Load().Update(func(s *session.DiscSession) { s.State.StreamChanged = true })
	case nav.EventAudioStreamChange:
		c.sess.Load().Update(func(s *session.DiscSession) { s.State.AudioChanged = true })
		c.log.Info("audio stream changed", "stream", ev.Stream)
	case nav.EventVTSChange:
		return c.vtsChange(ev)
	case nav.EventCellChange:
		return c.cellChange(ev)
	case nav.EventStop:
		c.log.Info("navigation stopped")
		return errEndOfDisc
	}
	return nil
}

func (c *Controller) write(data []byte) error {
	if _, err := c.out.Write(data); err != nil {
		if errors.Is(err, transport.ErrStopped) {
			return err
		}
		if derr := c.demuxFailure(); derr != nil {
			return derr
		}
		return fmt.Errorf("playback: write transport: %w", err)
	}
	return nil
}

func (c *Controller) flush() {
	if err := c.out.Flush(); err != nil && !errors.Is(err, transport.ErrStopped) {
		c.log.Warn("transport flush failed", "error", err)
	}
}

func (c *Controller) navPacket(ev nav.Event) {
	sess := c.sess.Load()
	sess.Update(func(s *session.DiscSession) { s.NoSeek = false })

	// The library reads ahead; only the first packet of a screen describes it.
	if c.buttonsCaptured || !c.flags.InMenu.Load() || len(ev.Buttons) == 0 {
		return
	}
	buttons := append([]nav.ButtonRect(nil), ev.Buttons...)
	sess.Update(func(s *session.DiscSession) { s.Buttons = buttons })
	c.buttonsCaptured = true
	c.log.Debug("menu buttons captured", "count", len(buttons), "duration", ev.MenuDuration)

	if !c.menuEscaped && c.shouldEscape(len(buttons), ev.MenuDuration) {
		c.escapeMenu(len(buttons), ev.MenuDuration)
	}
}

// shouldEscape decides whether a menu is left without user input. An explicit
// "don't skip" wins over "skip", which wins over the single-button and timed
// menu heuristics.
func (c *Controller) shouldEscape(buttons int, duration time.Duration) bool {
	switch {
	case buttons == 0:
		return false
	case c.opts.NoSkipMenus:
		return false
	case c.opts.SkipMenus:
		return true
	case buttons <= 1:
		return true
	default:
		return duration > 0 && c.opts.AutoContinueMenus
	}
}

func (c *Controller) escapeMenu(buttons int, duration time.Duration) {
	c.menuEscaped = true
	n, _, err := c.engine.CurrentHighlight()
	if err != nil || n <= 0 {
		n = 1
	}
	c.log.Info("auto-escaping menu", "buttons", buttons, "duration", duration, "button", n)
	if err := c.engine.SelectButton(n); err != nil {
		c.log.Warn("menu escape select failed", "button", n, "error", err)
		return
	}
	if err := c.engine.ActivateButton(); err != nil {
		c.log.Warn("menu escape activate failed", "button", n, "error", err)
	}
}

func (c *Controller) still(ev nav.Event) error {
	hold := time.Duration(ev.StillLength) * time.Second
	if ev.StillLength == session.IndefiniteStill {
		hold = 0
	}
	c.sess.Load().Update(func(s *session.DiscSession) { s.StillDuration = hold })
	c.flush()

	if ev.StillLength == session.IndefiniteStill {
		return c.engine.StillSkip()
	}

	c.flags.WakeUp.Store(false)
	for i := 0; i < ev.StillLength; i++ {
		if c.pause(c.opts.StillSlice) {
			if c.flags.Stopping() {
				return nil
			}
			c.flags.WakeUp.Store(false)
			c.log.Debug("still frame interrupted")
			return nil
		}
		c.drainCommands()
	}
	return c.engine.StillSkip()
}

// pause sleeps for d, returning true early on a wake-up or stop.
func (c *Controller) pause(d time.Duration) bool {
	const tick = 10 * time.Millisecond
	deadline := time.Now().Add(d)
	for {
		if c.flags.WakeUp.Load() || c.flags.Stopping() {
			return true
		}
		left := time.Until(deadline)
		if left <= 0 {
			return false
		}
		time.Sleep(min(tick, left))
	}
}

func (c *Controller) wait() error {
	sess := c.sess.Load()
	sess.Update(func(s *session.DiscSession) { s.State.Waiting = true })
	c.flush()
	c.pause(c.opts.WaitSlice)
	sess.Update(func(s *session.DiscSession) { s.State.Waiting = false })
	return c.engine.WaitSkip()
}

// hop handles a navigation-driven jump: the demux thread reopens its codecs
// and bytes still buffered for the old stream are dropped.
func (c *Controller) hop() {
	c.flags.CodecRecheck.Store(true)
	c.sess.Load().Update(func(s *session.DiscSession) {
		s.NoSeek = true
		s.State.StreamChanged = true
	})
	n := c.out.Discard()
	c.log.Info("channel hop", "discarded_bytes", n)
}

func (c *Controller) cellChange(ev nav.Event) error {
	inTitle := c.engine.InTitleDomain()
	c.sess.Load().Update(func(s *session.DiscSession) {
		s.State.CellChanged = true
		s.State.VTSDomain = inTitle
		s.Position = ev.Position
		s.Length = ev.Length
		s.Buttons = nil
	})
	c.flags.InMenu.Store(!inTitle)
	c.buttonsCaptured = false
	c.menuEscaped = false

	if inTitle {
		c.setState(NavigatingTitle)
	} else {
		c.setState(NavigatingMenu)
	}

	if c.opts.Track > 0 && inTitle {
		if ev.Title == c.opts.Track {
			c.titleStarted = true
		} else if c.titleStarted {
			return c.endOfTitle(ev.Title)
		}
	}
	return nil
}

func (c *Controller) vtsChange(ev nav.Event) error {
	c.log.Info("title set changed", "from", ev.OldVTS, "to", ev.NewVTS)
	if c.opts.Track == 0 || !c.titleStarted {
		return nil
	}
	title, _, err := c.engine.CurrentTitle()
	if err != nil || title != c.opts.Track {
		return c.endOfTitle(title)
	}
	return nil
}

func (c *Controller) endOfTitle(now int) error {
	c.log.Info("left the selected title", "track", c.opts.Track, "now", now)
	c.sess.Load().Update(func(s *session.DiscSession) { s.State.EndOfFile = true })
	c.setState(Stopping)
	return errEndOfTitle
}

func (c *Controller) refreshPosition() {
	pos, err := c.engine.Position()
	if err != nil {
		return
	}
	c.sess.Load().Update(func(s *session.DiscSession) {
		s.Position = pos.Offset
		s.Length = pos.Length
	})
}

func (c *Controller) drainCommands() {
	for {
		select {
		case cmd := <-c.cmds:
			c.apply(cmd)
		default:
			return
		}
	}
}

func (c *Controller) apply(cmd command) {
	var err error
	switch cmd.kind {
	case cmdSelect:
		err = c.engine.SelectButton(cmd.button)
	case cmdMove:
		err = c.engine.MoveButton(cmd.dir)
	case cmdActivate:
		err = c.engine.ActivateButton()
	case cmdSelectActivate:
		if err = c.engine.SelectButton(cmd.button); err == nil {
			err = c.engine.ActivateButton()
		}
	case cmdSeek:
		err = c.seek(cmd.offset)
	}
	if err != nil {
		c.log.Warn("command failed", "kind", int(cmd.kind), "error", err)
	}
}

// seek flushes everything queued on both threads before the engine moves, so
// nothing from before the seek is played after it.
// seekAckPoll is how often a seek re-checks the demux acknowledgement.
const seekAckPoll = 5 * time.Millisecond

// awaitSeekAck blocks until the demux thread has flushed for epoch, it exits,
// a stop is requested or SeekAckTimeout passes. Nothing is written in the
// meantime, so the pipe only holds pre-seek bytes.
func (c *Controller) awaitSeekAck(epoch uint64) {
	deadline := time.Now().Add(c.opts.SeekAckTimeout)
	for c.flags.SeekAck.Load() < epoch {
		if c.flags.Stopping() {
			return
		}
		if c.dmx != nil {
			select {
			case <-c.dmx.Done():
				return
			default:
			}
		}
		if time.Now().After(deadline) {
			c.log.Warn("demux did not acknowledge seek", "epoch", epoch, "timeout", c.opts.SeekAckTimeout)
			return
		}
		time.Sleep(seekAckPoll)
	}
}

func (c *Controller) seek(offset uint32) error {
	if snap, ok := c.Snapshot(); ok && snap.NoSeek {
		return ErrSeekDisabled
	}
	epoch := c.flags.SeekEpoch.Add(1)
	dropped := c.out.Discard()
	c.log.Info("seek", "offset", offset, "discarded_bytes", dropped)
	c.awaitSeekAck(epoch)
	if err := c.engine.SeekTo(offset); err != nil {
		return err
	}
	c.refreshPosition()
	return nil
}
