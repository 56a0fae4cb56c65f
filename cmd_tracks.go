package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"discplay/pkg/disc"
	"discplay/pkg/dvdnav"
)

func newTracksCommand(ctx *commandContext) *cobra.Command {
	var titleTrackOnly bool
	cmd := &cobra.Command{
		Use:   "tracks [dvd://device]",
		Short: "List the titles on a disc",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.ensure()
			if err != nil {
				return err
			}
			defer ctx.close()

			device := cfg.Disc.Device
			if len(args) == 1 {
				u, err := disc.ParseURI(args[0])
				if err != nil {
					return err
				}
				if u.Device != "" {
					device = u.Device
				}
			}

			fetcher, err := disc.NewImageFetcher(cfg.Disc.AWSRegion, cfg.Disc.ImageCacheDir, logger.Logger)
			if err != nil {
				return err
			}
			local, err := fetcher.Resolve(cmd.Context(), device)
			if err != nil {
				return err
			}

			table := disc.NewTrackTable(local, disc.EngineScanner(dvdnav.Opener(logger.Logger), cfg.Disc.Language))
			tracks, err := table.Tracks()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", tracks[0].Title, device)
			fmt.Fprintln(out, renderTracks(tracks))

			uris, err := table.Enumerate(disc.EnumerateOptions{TitleTrackOnly: titleTrackOnly || cfg.Disc.TitleTrackOnly})
			if err != nil {
				return err
			}
			for _, u := range uris {
				u.Device = device
				fmt.Fprintln(out, u.String())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&titleTrackOnly, "title-track-only", false, "List only the main title's URI")
	return cmd
}

// renderTracks formats the titles of a track table, skipping the whole-disc
// entry at index 0.
func renderTracks(tracks []disc.TrackInfo) string {
	headers := []string{"#", "Title", "Chapters", "Duration"}
	aligns := []columnAlignment{alignRight, alignLeft, alignRight, alignRight}
	rows := make([][]string, 0, len(tracks))
	for _, t := range tracks[min(1, len(tracks)):] {
		rows = append(rows, []string{
			strconv.Itoa(t.Number),
			t.Title,
			strconv.Itoa(t.Chapters),
			formatDuration(t.Duration),
		})
	}
	return renderTable(headers, rows, aligns)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
