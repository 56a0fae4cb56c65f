package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"discplay/pkg/disc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the drive's tray and media state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := ctx.ensure()
			if err != nil {
				return err
			}
			defer ctx.close()

			device := cfg.Disc.Device
			if !disc.IsDrive(device) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: image (not a drive)\n", device)
				return nil
			}
			status, err := disc.CheckDriveStatus(device)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", device, status)
			return nil
		},
	}
}
