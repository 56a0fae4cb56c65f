// Package config loads, normalizes, and validates discplay configuration.
//
// Values come from Default(), then the TOML file, then a .env file in the
// working directory, then DISCPLAY_* environment variables. The result is
// normalized (paths expanded, formats canonicalised) and validated once, so
// the rest of the player can trust it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Inherit is the target width/height sentinel meaning "track the window".
const Inherit = -1

// Disc configures the drive and how titles become playlist entries.
type Disc struct {
	Device         string `toml:"device"`
	Language       string `toml:"language"`
	ReadSpeed      int    `toml:"read_speed"`
	OpenRetries    int    `toml:"open_retries"`
	TitleTrackOnly bool   `toml:"title_track_only"`
	ImageCacheDir  string `toml:"image_cache_dir"`
	AWSRegion      string `toml:"aws_region"`
}

// Playback configures the navigation and demux threads.
type Playback struct {
	FIFOPath          string `toml:"fifo_path"`
	SkipMenus         bool   `toml:"skip_menus"`
	AutoContinueMenus bool   `toml:"auto_continue_menus"`
	NoSkipMenus       bool   `toml:"no_skip_menus"`
	QueueSize         int    `toml:"queue_size"`
	ReadRetries       int    `toml:"read_retries"`
	PollTimeoutMS     int    `toml:"poll_timeout_ms"`
}

// Video configures the popup window.
type Video struct {
	Enabled        bool   `toml:"enabled"`
	TargetWidth    int    `toml:"target_width"`
	TargetHeight   int    `toml:"target_height"`
	ResizeDelayMS  int    `toml:"resize_delay_ms"`
	MinWidth       int    `toml:"min_width"`
	MinHeight      int    `toml:"min_height"`
	Decoder        string `toml:"decoder"`
	SoftwareDecode bool   `toml:"software_decode"`
}

// Paths holds locations of user state.
type Paths struct {
	SettingsPath string `toml:"settings_path"`
}

// Logging configures log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Dir    string `toml:"dir"`
}

// Config is the full player configuration.
type Config struct {
	Disc     Disc     `toml:"disc"`
	Playback Playback `toml:"playback"`
	Video    Video    `toml:"video"`
	Paths    Paths    `toml:"paths"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath is where Load looks when no path is given.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load reads the configuration at path, or the default location when path is
// empty. A missing file is not an error. It returns the resolved path and
// whether a file was read.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolved)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		if err := toml.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	// A missing .env is normal.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, "", false, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		path = defaultConfigPath
	}
	expanded, err := expandPath(path)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config %s is a directory", expanded)
	}
	return expanded, true, nil
}

// EnsureDirectories creates the directories the player writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{filepath.Dir(c.Playback.FIFOPath), filepath.Dir(c.Paths.SettingsPath)}
	if c.Logging.Dir != "" {
		dirs = append(dirs, c.Logging.Dir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && pathValue[1] == '/' {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}
