package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"discplay/pkg/config"
	"discplay/pkg/logging"
)

func main() {
	// SDL must stay on the main OS thread.
	runtime.LockOSThread()

	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFlag, deviceFlag, logLevelFlag string
	ctx := &commandContext{configFlag: &configFlag, deviceFlag: &deviceFlag, logLevelFlag: &logLevelFlag}

	rootCmd := &cobra.Command{
		Use:           "discplay",
		Short:         "Play DVDs from a drive or disc image",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&deviceFlag, "device", "d", "", "Drive, image file or s3:// image (overrides disc.device)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newPlayCommand(ctx))
	rootCmd.AddCommand(newTracksCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	return rootCmd
}

// commandContext loads configuration and the logger once per invocation.
type commandContext struct {
	configFlag   *string
	deviceFlag   *string
	logLevelFlag *string

	once   sync.Once
	config *config.Config
	logger *logging.Logger
	err    error
}

func (c *commandContext) ensure() (*config.Config, *logging.Logger, error) {
	c.once.Do(func() {
		cfg, _, _, err := config.Load(strings.TrimSpace(*c.configFlag))
		if err != nil {
			c.err = err
			return
		}
		if device := strings.TrimSpace(*c.deviceFlag); device != "" {
			cfg.Disc.Device = device
		}
		if level := strings.TrimSpace(*c.logLevelFlag); level != "" {
			cfg.Logging.Level = strings.ToLower(level)
			if err := cfg.Validate(); err != nil {
				c.err = err
				return
			}
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.err = err
			return
		}
		logger, err := logging.NewFromConfig(cfg)
		if err != nil {
			c.err = err
			return
		}
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.logger, c.err
}

func (c *commandContext) close() {
	if c.logger != nil {
		_ = c.logger.Close()
	}
}
