package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"discplay/pkg/config"
	"discplay/pkg/disc"
	"discplay/pkg/dvdnav"
	"discplay/pkg/playback"
)

type playFlags struct {
	track          int
	titleTrackOnly bool
	noVideo        bool
	skipMenus      bool
}

func newPlayCommand(ctx *commandContext) *cobra.Command {
	var flags playFlags
	cmd := &cobra.Command{
		Use:   "play [dvd://device[?track] ...]",
		Short: "Play a disc, or the listed titles",
		Long: "With no arguments the configured device plays from its first-play program, menus included.\n" +
			"A whole-disc URI (dvd:///dev/sr0) queues every title; dvd:///dev/sr0?3 queues title 3.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.ensure()
			if err != nil {
				return err
			}
			defer ctx.close()
			applyPlayFlags(cfg, flags)

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runPlay(runCtx, cfg, logger.Logger, args, flags.track)
		},
	}
	cmd.Flags().IntVarP(&flags.track, "track", "t", 0, "Play a single title of the configured device")
	cmd.Flags().BoolVar(&flags.titleTrackOnly, "title-track-only", false, "Queue only the main title of a whole-disc URI")
	cmd.Flags().BoolVar(&flags.noVideo, "no-video", false, "Play audio only")
	cmd.Flags().BoolVar(&flags.skipMenus, "skip-menus", false, "Escape every menu automatically")
	return cmd
}

func applyPlayFlags(cfg *config.Config, flags playFlags) {
	if flags.titleTrackOnly {
		cfg.Disc.TitleTrackOnly = true
	}
	if flags.noVideo {
		cfg.Video.Enabled = false
	}
	if flags.skipMenus {
		cfg.Playback.SkipMenus = true
		cfg.Playback.NoSkipMenus = false
	}
}

func runPlay(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string, track int) error {
	fetcher, err := disc.NewImageFetcher(cfg.Disc.AWSRegion, cfg.Disc.ImageCacheDir, logger)
	if err != nil {
		return err
	}
	resolve := func(device string) (string, error) { return fetcher.Resolve(ctx, device) }

	scan := disc.EngineScanner(dvdnav.Opener(logger), cfg.Disc.Language)
	tables := newTableSet(scan)

	playlist, err := buildPlaylist(cfg, args, track, resolve, tables)
	if err != nil {
		return fmt.Errorf("%s %w", playback.UserMessage(err), err)
	}

	video, err := initSDL(cfg.Video.Enabled, logger)
	if err != nil {
		return err
	}
	defer sdlQuit()

	enumerate := disc.EnumerateOptions{TitleTrackOnly: cfg.Disc.TitleTrackOnly}
	for _, table := range tables.all() {
		monitor := disc.NewMediaMonitor(table.Device(), logger, requeueOnMediaChange(playlist, table, enumerate, logger))
		if err := monitor.Start(ctx); err != nil {
			logger.Warn("media change monitor unavailable", "device", table.Device(), "error", err)
		}
		defer monitor.Stop()
	}

	p := &player{cfg: cfg, logger: logger, video: video}
	var lastErr error
	for {
		uri, ok := playlist.Next()
		if !ok {
			return lastErr
		}
		err := p.play(ctx, uri)
		switch {
		case err == nil:
		case errors.Is(err, errQuit), errors.Is(err, context.Canceled):
			return nil
		default:
			lastErr = err
			logger.Error("playback failed", "uri", uri.String(), "error", err)
			if playback.Modal(err) {
				showModal(video, playback.UserMessage(err))
			}
			if playback.PurgesDisc(err) {
				n := playlist.PurgeDevice(uri.Device)
				logger.Info("playlist purged of disc entries", "device", uri.Device, "removed", n)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// requeueOnMediaChange returns the media-changed handler for a whole-disc
// device. Entries queued for the old disc are purged and the new disc's titles
// are queued in their place.
func requeueOnMediaChange(playlist *disc.Playlist, table *disc.TrackTable, opts disc.EnumerateOptions, logger *slog.Logger) func(string) {
	return func(string) {
		table.Invalidate()
		device := table.Device()
		removed := playlist.PurgeDevice(device)
		uris, err := table.Enumerate(opts)
		if err != nil {
			logger.Info("media changed, nothing to queue", "device", device, "removed", removed, "error", err)
			return
		}
		playlist.Add(uris...)
		logger.Info("media changed, playlist rebuilt", "device", device, "removed", removed, "queued", len(uris))
	}
}

// tableSet keeps one track table per device for the life of the command.
type tableSet struct {
	scan   disc.Scanner
	tables map[string]*disc.TrackTable
	order  []string
}

func newTableSet(scan disc.Scanner) *tableSet {
	return &tableSet{scan: scan, tables: make(map[string]*disc.TrackTable)}
}

func (s *tableSet) get(device string) *disc.TrackTable {
	if t, ok := s.tables[device]; ok {
		return t
	}
	t := disc.NewTrackTable(device, s.scan)
	s.tables[device] = t
	s.order = append(s.order, device)
	return t
}

func (s *tableSet) all() []*disc.TrackTable {
	out := make([]*disc.TrackTable, 0, len(s.order))
	for _, d := range s.order {
		out = append(out, s.tables[d])
	}
	return out
}

// buildPlaylist turns command arguments into queued tracks. Whole-disc URIs
// are enumerated through the device's track table.
func buildPlaylist(cfg *config.Config, args []string, track int, resolve func(string) (string, error), tables *tableSet) (*disc.Playlist, error) {
	if len(args) == 0 {
		device, err := resolve(cfg.Disc.Device)
		if err != nil {
			return nil, err
		}
		if track < 0 {
			return nil, fmt.Errorf("track must not be negative")
		}
		return disc.NewPlaylist(disc.URI{Device: device, Track: track}), nil
	}

	var uris []disc.URI
	for _, arg := range args {
		u, err := disc.ParseURI(arg)
		if err != nil {
			return nil, err
		}
		if u.Device == "" {
			u.Device = cfg.Disc.Device
		}
		if u.Device, err = resolve(u.Device); err != nil {
			return nil, err
		}
		if !u.Whole() {
			uris = append(uris, u)
			continue
		}
		listed, err := tables.get(u.Device).Enumerate(disc.EnumerateOptions{TitleTrackOnly: cfg.Disc.TitleTrackOnly})
		if err != nil {
			return nil, err
		}
		uris = append(uris, listed...)
	}
	return disc.NewPlaylist(uris...), nil
}
