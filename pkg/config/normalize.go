package config

import (
	"fmt"
	"strconv"
	"strings"
)

const envPrefix = "DISCPLAY_"

type lookupFunc func(string) (string, bool)

// envBinding maps one DISCPLAY_* variable onto a field.
type envBinding struct {
	name string
	set  func(c *Config, value string) error
}

func stringField(get func(c *Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*get(c) = v
		return nil
	}
}

func intField(get func(c *Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*get(c) = n
		return nil
	}
}

func boolField(get func(c *Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*get(c) = b
		return nil
	}
}

var envBindings = []envBinding{
	{"DEVICE", stringField(func(c *Config) *string { return &c.Disc.Device })},
	{"LANGUAGE", stringField(func(c *Config) *string { return &c.Disc.Language })},
	{"READ_SPEED", intField(func(c *Config) *int { return &c.Disc.ReadSpeed })},
	{"OPEN_RETRIES", intField(func(c *Config) *int { return &c.Disc.OpenRetries })},
	{"TITLE_TRACK_ONLY", boolField(func(c *Config) *bool { return &c.Disc.TitleTrackOnly })},
	{"IMAGE_CACHE_DIR", stringField(func(c *Config) *string { return &c.Disc.ImageCacheDir })},
	{"AWS_REGION", stringField(func(c *Config) *string { return &c.Disc.AWSRegion })},
	{"FIFO_PATH", stringField(func(c *Config) *string { return &c.Playback.FIFOPath })},
	{"SKIP_MENUS", boolField(func(c *Config) *bool { return &c.Playback.SkipMenus })},
	{"AUTO_CONTINUE_MENUS", boolField(func(c *Config) *bool { return &c.Playback.AutoContinueMenus })},
	{"NO_SKIP_MENUS", boolField(func(c *Config) *bool { return &c.Playback.NoSkipMenus })},
	{"QUEUE_SIZE", intField(func(c *Config) *int { return &c.Playback.QueueSize })},
	{"READ_RETRIES", intField(func(c *Config) *int { return &c.Playback.ReadRetries })},
	{"POLL_TIMEOUT_MS", intField(func(c *Config) *int { return &c.Playback.PollTimeoutMS })},
	{"VIDEO_ENABLED", boolField(func(c *Config) *bool { return &c.Video.Enabled })},
	{"TARGET_WIDTH", intField(func(c *Config) *int { return &c.Video.TargetWidth })},
	{"TARGET_HEIGHT", intField(func(c *Config) *int { return &c.Video.TargetHeight })},
	{"RESIZE_DELAY_MS", intField(func(c *Config) *int { return &c.Video.ResizeDelayMS })},
	{"MIN_WIDTH", intField(func(c *Config) *int { return &c.Video.MinWidth })},
	{"MIN_HEIGHT", intField(func(c *Config) *int { return &c.Video.MinHeight })},
	{"VIDEO_DECODER", stringField(func(c *Config) *string { return &c.Video.Decoder })},
	{"SOFTWARE_DECODE", boolField(func(c *Config) *bool { return &c.Video.SoftwareDecode })},
	{"SETTINGS_PATH", stringField(func(c *Config) *string { return &c.Paths.SettingsPath })},
	{"LOG_LEVEL", stringField(func(c *Config) *string { return &c.Logging.Level })},
	{"LOG_FORMAT", stringField(func(c *Config) *string { return &c.Logging.Format })},
	{"LOG_DIR", stringField(func(c *Config) *string { return &c.Logging.Dir })},
}

// applyEnv overlays DISCPLAY_* variables. AWS_REGION is honoured when the
// config leaves the region empty.
func (c *Config) applyEnv(lookup lookupFunc) error {
	for _, b := range envBindings {
		value, ok := lookup(envPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.set(c, value); err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, b.name, err)
		}
	}
	if c.Disc.AWSRegion == "" {
		if value, ok := lookup("AWS_REGION"); ok {
			c.Disc.AWSRegion = value
		}
	}
	return nil
}

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDisc()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Playback.FIFOPath, err = expandPath(c.Playback.FIFOPath); err != nil {
		return fmt.Errorf("playback.fifo_path: %w", err)
	}
	if c.Disc.ImageCacheDir, err = expandPath(c.Disc.ImageCacheDir); err != nil {
		return fmt.Errorf("disc.image_cache_dir: %w", err)
	}
	if c.Paths.SettingsPath, err = expandPath(c.Paths.SettingsPath); err != nil {
		return fmt.Errorf("paths.settings_path: %w", err)
	}
	if c.Logging.Dir, err = expandPath(c.Logging.Dir); err != nil {
		return fmt.Errorf("logging.dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDisc() {
	c.Disc.Device = strings.TrimSpace(c.Disc.Device)
	// s3:// devices and image files stay as given; ~ is only expanded for
	// local paths.
	if strings.HasPrefix(c.Disc.Device, "~") {
		if expanded, err := expandPath(c.Disc.Device); err == nil {
			c.Disc.Device = expanded
		}
	}
	c.Disc.Language = strings.ToLower(strings.TrimSpace(c.Disc.Language))
	if c.Disc.Language == "" {
		c.Disc.Language = defaultLanguage
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "text":
		c.Logging.Format = defaultLogFormat
	}
}
