package config

import (
	"errors"
	"fmt"
	"time"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDisc(); err != nil {
		return err
	}
	if err := c.validatePlayback(); err != nil {
		return err
	}
	if err := c.validateVideo(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateDisc() error {
	if c.Disc.Device == "" {
		return errors.New("disc.device must be set")
	}
	if len(c.Disc.Language) != 2 {
		return fmt.Errorf("disc.language must be a two-letter code, got %q", c.Disc.Language)
	}
	if c.Disc.OpenRetries < 1 {
		return errors.New("disc.open_retries must be at least 1")
	}
	if c.Disc.ReadSpeed < 0 {
		return errors.New("disc.read_speed must not be negative")
	}
	return nil
}

func (c *Config) validatePlayback() error {
	if c.Playback.FIFOPath == "" {
		return errors.New("playback.fifo_path must be set")
	}
	if c.Playback.NoSkipMenus && c.Playback.SkipMenus {
		return errors.New("playback.skip_menus and playback.no_skip_menus are mutually exclusive")
	}
	if c.Playback.QueueSize < 0 {
		return errors.New("playback.queue_size must be 0 (derive from memory) or positive")
	}
	if c.Playback.ReadRetries < 1 {
		return errors.New("playback.read_retries must be at least 1")
	}
	if c.Playback.PollTimeoutMS < 10 || c.Playback.PollTimeoutMS > 5000 {
		return errors.New("playback.poll_timeout_ms must be between 10 and 5000")
	}
	return nil
}

func (c *Config) validateVideo() error {
	for name, v := range map[string]int{
		"video.target_width":  c.Video.TargetWidth,
		"video.target_height": c.Video.TargetHeight,
	} {
		if v != Inherit && v <= 0 {
			return fmt.Errorf("%s must be positive or -1, got %d", name, v)
		}
	}
	if c.Video.MinWidth < 1 || c.Video.MinHeight < 1 {
		return errors.New("video.min_width and video.min_height must be positive")
	}
	if c.Video.ResizeDelayMS < 0 {
		return errors.New("video.resize_delay_ms must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

// PollTimeout is the transport poll bound.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.Playback.PollTimeoutMS) * time.Millisecond
}

// ResizeDelay is the window resize debounce.
func (c *Config) ResizeDelay() time.Duration {
	return time.Duration(c.Video.ResizeDelayMS) * time.Millisecond
}
