package disc

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// DriveStatus is the result of a CDROM_DRIVE_STATUS query.
type DriveStatus int

const (
	DriveStatusNoInfo   DriveStatus = 0
	DriveStatusNoDisc   DriveStatus = 1
	DriveStatusTrayOpen DriveStatus = 2
	DriveStatusNotReady DriveStatus = 3
	DriveStatusDiscOK   DriveStatus = 4
)

func (s DriveStatus) String() string {
	switch s {
	case DriveStatusNoInfo:
		return "no_info"
	case DriveStatusNoDisc:
		return "no_disc"
	case DriveStatusTrayOpen:
		return "tray_open"
	case DriveStatusNotReady:
		return "not_ready"
	case DriveStatusDiscOK:
		return "disc_ok"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Removed reports whether the status means the disc is gone.
func (s DriveStatus) Removed() bool {
	return s == DriveStatusNoDisc || s == DriveStatusTrayOpen
}

// IsDrive reports whether device is a block or character device node rather
// than an image file or a VIDEO_TS directory.
func IsDrive(device string) bool {
	info, err := os.Stat(device)
	if err != nil {
		return strings.HasPrefix(device, "/dev/")
	}
	return info.Mode()&(fs.ModeDevice|fs.ModeCharDevice) != 0
}

// RemovalProbe returns a check for the disc disappearing from device. Images
// and directories count as removed only when the path itself is gone.
func RemovalProbe(device string) func() (bool, error) {
	if !IsDrive(device) {
		return func() (bool, error) {
			_, err := os.Stat(device)
			if errors.Is(err, fs.ErrNotExist) {
				return true, nil
			}
			return false, err
		}
	}
	return func() (bool, error) {
		status, err := CheckDriveStatus(device)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return true, nil
			}
			return false, err
		}
		return status.Removed(), nil
	}
}
