package config

const (
	defaultConfigPath    = "~/.config/discplay/config.toml"
	defaultDevice        = "/dev/sr0"
	defaultLanguage      = "en"
	defaultOpenRetries   = 5
	defaultImageCacheDir = "~/.cache/discplay/images"
	defaultFIFOPath      = "~/.cache/discplay/dvd.fifo"
	defaultReadRetries   = 3
	defaultPollTimeoutMS = 200
	defaultResizeDelayMS = 250
	defaultMinWidth      = 160
	defaultMinHeight     = 120
	defaultSettingsPath  = "~/.local/share/discplay/settings.json"
	defaultLogLevel      = "info"
	defaultLogFormat     = "console"
)

// Default returns the configuration used when no file or environment
// overrides a value.
func Default() Config {
	return Config{
		Disc: Disc{
			Device:        defaultDevice,
			Language:      defaultLanguage,
			OpenRetries:   defaultOpenRetries,
			ImageCacheDir: defaultImageCacheDir,
		},
		Playback: Playback{
			FIFOPath:      defaultFIFOPath,
			ReadRetries:   defaultReadRetries,
			PollTimeoutMS: defaultPollTimeoutMS,
		},
		Video: Video{
			Enabled:       true,
			TargetWidth:   Inherit,
			TargetHeight:  Inherit,
			ResizeDelayMS: defaultResizeDelayMS,
			MinWidth:      defaultMinWidth,
			MinHeight:     defaultMinHeight,
		},
		Paths: Paths{
			SettingsPath: defaultSettingsPath,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}
