package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/veandco/go-sdl2/sdl"

	"discplay/pkg/audio"
	"discplay/pkg/codec"
	"discplay/pkg/config"
	"discplay/pkg/demux"
	"discplay/pkg/disc"
	"discplay/pkg/dvdnav"
	"discplay/pkg/input"
	"discplay/pkg/layout"
	"discplay/pkg/logging"
	"discplay/pkg/media"
	"discplay/pkg/mpeg"
	"discplay/pkg/nav"
	"discplay/pkg/performance"
	"discplay/pkg/playback"
	"discplay/pkg/render"
	"discplay/pkg/session"
	"discplay/pkg/settings"
	"discplay/pkg/transport"
)

// errQuit ends the whole playlist.
var errQuit = errors.New("quit requested")

const (
	frameInterval = 10 * time.Millisecond
	// seekSteps divides a title into keyboard seek increments.
	seekSteps = 50
)

type player struct {
	cfg    *config.Config
	logger *slog.Logger
	video  bool
}

// play runs one playlist entry: the navigation thread and demux thread run in
// the background while the main thread pumps SDL.
func (p *player) play(ctx context.Context, uri disc.URI) error {
	log := p.logger.With("uri", uri.String())

	if p.cfg.Disc.ReadSpeed > 0 && disc.IsDrive(uri.Device) {
		if err := disc.SetReadSpeed(uri.Device, p.cfg.Disc.ReadSpeed); err != nil {
			log.Warn("read speed not applied", "speed", p.cfg.Disc.ReadSpeed, "error", err)
		}
	}

	fifo, err := transport.Create(p.cfg.Playback.FIFOPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := fifo.Remove(); err != nil {
			log.Warn("fifo cleanup", "error", err)
		}
	}()

	monitor := performance.NewMonitor(120)
	performance.LogMemorySnapshot(log)

	var (
		ctrl     *playback.Controller
		renderer *render.Renderer
	)
	geometry := settings.NewWindowManager(p.cfg.Paths.SettingsPath, logging.Component(log, "settings"))
	out := audio.New(audio.Options{
		Volume: geometry.Volume(),
		Stop:   func() bool { return ctrl.Flags().Stopping() },
		Logger: logging.Component(log, "audio"),
	})
	defer out.Close()

	var videoSink codec.VideoSink = discardVideo{}
	if p.video && p.cfg.Video.Enabled {
		renderer = render.New(render.Options{
			Title:       uri.String(),
			Request:     layout.Request{Width: p.cfg.Video.TargetWidth, Height: p.cfg.Video.TargetHeight},
			Minimum:     layout.Size{W: p.cfg.Video.MinWidth, H: p.cfg.Video.MinHeight},
			ResizeDelay: p.cfg.ResizeDelay(),
			Geometry:    geometry,
			Monitor:     monitor,
			Logger:      logging.Component(log, "render"),
		})
		defer renderer.Close()
		videoSink = renderer
	}
	sink := struct {
		codec.VideoSink
		codec.AudioSink
	}{videoSink, out}

	registry := codec.NewRegistry()
	registry.Register(media.CodecLPCM, codec.OpenLPCM)
	mpeg.Register(registry, mpeg.Options{
		VideoDecoder: p.cfg.Video.Decoder,
		SoftwareOnly: p.cfg.Video.SoftwareDecode,
	}, logging.Component(log, "codec"))

	path := fifo.Path()
	poll := p.cfg.PollTimeout()
	ctrl = playback.New(playback.Options{
		Device:            uri.Device,
		Language:          p.cfg.Disc.Language,
		Track:             uri.Track,
		SkipMenus:         p.cfg.Playback.SkipMenus,
		AutoContinueMenus: p.cfg.Playback.AutoContinueMenus,
		NoSkipMenus:       p.cfg.Playback.NoSkipMenus,
	}, playback.Deps{
		OpenEngine: func(ctx context.Context, device, language string) (nav.Engine, error) {
			return disc.OpenEngine(ctx, dvdnav.Opener(log), device, language, disc.OpenOptions{
				Attempts: uint(p.cfg.Disc.OpenRetries),
				Logger:   logging.Component(log, "disc"),
			})
		},
		OpenOutput: func(ctx context.Context, stop func() bool) (playback.Output, error) {
			return transport.OpenWriter(ctx, path, transport.WriterOptions{PollTimeout: poll, Stop: stop})
		},
		NewDemux: func(flags *session.Flags) playback.Demux {
			return demux.New(demux.Config{
				QueueSize:    p.cfg.Playback.QueueSize,
				VideoEnabled: renderer != nil,
				ReadRetries:  uint(p.cfg.Playback.ReadRetries),
			}, demux.Deps{
				Open: func(_ context.Context, stop, wake func() bool) (demux.Input, error) {
					return transport.OpenReader(path, transport.ReaderOptions{PollTimeout: poll, Stop: stop, Wake: wake})
				},
				Registry: registry,
				Sink:     sink,
				Flags:    flags,
				Monitor:  monitor,
				Logger:   logging.Component(log, "demux"),
			})
		},
		Removed: disc.RemovalProbe(uri.Device),
		Logger:  logging.Component(log, "playback"),
	})

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	err = p.pump(ctrl, renderer, out, done)
	report := monitor.GetReport()
	log.Info("playback statistics",
		"video_frames", report.VideoFrames,
		"audio_chunks", report.AudioChunks,
		"blits", report.Blits,
		"skipped_blits", report.SkippedBlits,
	)
	return err
}

// pump runs the SDL loop on the main thread until the controller finishes.
func (p *player) pump(ctrl *playback.Controller, renderer *render.Renderer, out *audio.Output, done <-chan error) error {
	keyboard := input.NewKeyboard(input.DefaultKeyMap())
	mouse := input.NewMouse()
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	quit := false
	titled := false
	for {
		select {
		case err := <-done:
			if quit && err == nil {
				return errQuit
			}
			return err
		case now := <-ticker.C:
			for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
				switch e := event.(type) {
				case *sdl.QuitEvent:
					quit = true
					ctrl.Stop()
				case *sdl.WindowEvent:
					if renderer != nil {
						renderer.HandleWindowEvent(e, now)
					}
				}
			}

			snap, ok := ctrl.Snapshot()
			if renderer == nil {
				continue
			}
			if ok {
				if !titled {
					renderer.SetTitle(snap.Title)
					titled = true
				}
				renderer.SetButtons(snap.Buttons)
			}

			for _, action := range keyboard.Poll(sdl.GetKeyboardState()) {
				if handleAction(action, ctrl, out, ctrl.Flags().InMenu.Load(), p.logger) {
					quit = true
				}
			}
			if x, y, state := sdl.GetMouseState(); renderer.Active() {
				if click, ok := mouse.Poll(x, y, state); ok && ctrl.Flags().InMenu.Load() {
					if n := renderer.Hit(click.X, click.Y); n > 0 {
						ctrl.ActivateAt(n)
					}
				}
			}
			renderer.Present(now)
		}
	}
}

// controls is what keyboard actions drive.
type controls interface {
	MoveHighlight(nav.Direction)
	ActivateButton()
	Seek(offset uint32) error
	Position() (pos, length uint32)
	Stop()
}

type pauser interface {
	TogglePause() bool
	Clear()
}

// handleAction applies one keyboard action. It reports whether the user asked
// to quit.
func handleAction(a input.Action, ctl controls, out pauser, inMenu bool, logger *slog.Logger) bool {
	switch a {
	case input.ActionUp, input.ActionDown, input.ActionLeft, input.ActionRight:
		if inMenu {
			ctl.MoveHighlight(direction(a))
			return false
		}
		if a == input.ActionLeft || a == input.ActionRight {
			pos, length := ctl.Position()
			target, ok := seekTarget(pos, length, a == input.ActionRight)
			if !ok {
				return false
			}
			if err := ctl.Seek(target); err != nil {
				logger.Debug("seek ignored", "error", err)
				return false
			}
			out.Clear()
		}
	case input.ActionActivate:
		ctl.ActivateButton()
	case input.ActionPause:
		logger.Info("audio pause toggled", "paused", out.TogglePause())
	case input.ActionStop:
		ctl.Stop()
		return true
	}
	return false
}

func direction(a input.Action) nav.Direction {
	switch a {
	case input.ActionUp:
		return nav.Up
	case input.ActionDown:
		return nav.Down
	case input.ActionLeft:
		return nav.Left
	default:
		return nav.Right
	}
}

// seekTarget steps one seekSteps-th of the title forward or back, clamped to
// the title.
func seekTarget(pos, length uint32, forward bool) (uint32, bool) {
	if length == 0 {
		return 0, false
	}
	step := max(length/seekSteps, 1)
	if forward {
		if pos+step >= length {
			return length - 1, pos < length-1
		}
		return pos + step, true
	}
	if pos < step {
		return 0, pos > 0
	}
	return pos - step, true
}

type discardVideo struct{}

func (discardVideo) PlayVideo(codec.Frame) error { return nil }
