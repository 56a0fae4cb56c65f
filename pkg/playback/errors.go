package playback

import (
	"errors"

	"discplay/pkg/demux"
	"discplay/pkg/disc"
	"discplay/pkg/transport"
)

// Session-ending errors, grouped the way they are reported to the user.
var (
	ErrNoDrive         = disc.ErrNoDrive
	ErrUnsupportedDisc = disc.ErrUnsupportedDisc
	ErrOpenFailed      = disc.ErrOpenFailed
	ErrDiskRemoved     = disc.ErrDiskRemoved

	ErrNoAudio    = demux.ErrNoAudio
	ErrDecodeOpen = demux.ErrDecodeOpen
	ErrFatalRead  = demux.ErrFatalRead

	// ErrBusy means another session already plays through the same transport.
	ErrBusy = transport.ErrBusy
	// ErrSeekDisabled is returned while a channel hop is in flight.
	ErrSeekDisabled = errors.New("playback: seek disabled during channel hop")
)

// UserMessage maps an error to the text shown to the user. Errors that are
// not meant for the user get a generic message.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoDrive):
		return "No DVD drive found."
	case errors.Is(err, ErrUnsupportedDisc):
		return "The disc is empty or not a DVD-Video disc."
	case errors.Is(err, ErrOpenFailed):
		return "Could not open the disc. It may be busy, damaged or encrypted."
	case errors.Is(err, ErrDiskRemoved):
		return "The disc was removed during playback."
	case errors.Is(err, ErrNoAudio):
		return "The disc has no playable audio track."
	case errors.Is(err, ErrDecodeOpen):
		return "Could not start a decoder for this disc."
	case errors.Is(err, ErrFatalRead):
		return "Reading the disc failed."
	case errors.Is(err, ErrBusy):
		return "Another disc is already playing."
	default:
		return "Playback stopped because of an error."
	}
}

// Modal reports whether err should interrupt the user with a dialog rather
// than a status line: device-open and disk-removal failures.
func Modal(err error) bool {
	return errors.Is(err, ErrNoDrive) ||
		errors.Is(err, ErrUnsupportedDisc) ||
		errors.Is(err, ErrOpenFailed) ||
		errors.Is(err, ErrDiskRemoved)
}

// PurgesDisc reports whether err means queued entries for the same disc
// cannot play either.
func PurgesDisc(err error) bool {
	return Modal(err)
}
