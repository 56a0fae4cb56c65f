package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/veandco/go-sdl2/sdl"
)

var errNoVideoDriver = errors.New("all SDL video drivers failed")

// videoDrivers lists drivers to try, the environment's choice first.
func videoDrivers(env, goos string) []string {
	var drivers []string
	if env != "" {
		drivers = append(drivers, env)
	}
	switch goos {
	case "darwin":
		drivers = append(drivers, "cocoa")
	default:
		drivers = append(drivers, "x11", "wayland", "kmsdrm")
	}
	return append(drivers, "dummy")
}

// initSDL brings up audio, then video with driver fallbacks. Audio is
// required; video is optional and reported through the returned bool.
func initSDL(wantVideo bool, logger *slog.Logger) (video bool, err error) {
	// Closing the video window must not quit the player; audio keeps going.
	sdl.SetHint("SDL_QUIT_ON_LAST_WINDOW_CLOSE", "0")
	sdl.SetHint(sdl.HINT_VIDEO_MINIMIZE_ON_FOCUS_LOSS, "0")

	if err := sdl.Init(sdl.INIT_AUDIO | sdl.INIT_EVENTS); err != nil {
		return false, fmt.Errorf("SDL audio init failed: %w", err)
	}
	if !wantVideo {
		return false, nil
	}

	for _, driver := range videoDrivers(os.Getenv("SDL_VIDEODRIVER"), runtime.GOOS) {
		sdl.SetHint(sdl.HINT_VIDEODRIVER, driver)
		if err := sdl.InitSubSystem(sdl.INIT_VIDEO); err != nil {
			logger.Debug("SDL video driver failed", "driver", driver, "error", err)
			continue
		}
		name, _ := sdl.GetCurrentVideoDriver()
		logger.Info("SDL video initialised", "driver", name)
		if name == "dummy" {
			logger.Warn("no display available, playing audio only")
			sdl.QuitSubSystem(sdl.INIT_VIDEO)
			return false, nil
		}
		return true, nil
	}
	logger.Warn("video disabled, audio continues", "error", errNoVideoDriver)
	return false, nil
}

// showModal reports a device error in a message box, falling back to stderr.
func showModal(video bool, message string) {
	if video {
		if err := sdl.ShowSimpleMessageBox(sdl.MESSAGEBOX_ERROR, "discplay", message, nil); err == nil {
			return
		}
	}
	fmt.Fprintln(os.Stderr, message)
}

func sdlQuit() {
	sdl.Quit()
}
