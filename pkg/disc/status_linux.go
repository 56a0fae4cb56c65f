//go:build linux

package disc

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// From linux/cdrom.h.
const (
	ioctlCDROMSelectSpeed = 0x5322
	ioctlCDROMDriveStatus = 0x5326
)

// CheckDriveStatus queries the drive state.
func CheckDriveStatus(device string) (DriveStatus, error) {
	device = strings.TrimSpace(device)
	if device == "" {
		return DriveStatusNoInfo, fmt.Errorf("empty device path")
	}

	fd, err := unix.Open(device, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return DriveStatusNoInfo, fmt.Errorf("open %s: %w", device, err)
	}
	defer unix.Close(fd) //nolint:errcheck

	r, err := unix.IoctlRetInt(fd, ioctlCDROMDriveStatus)
	if err != nil {
		return DriveStatusNoInfo, fmt.Errorf("ioctl CDROM_DRIVE_STATUS on %s: %w", device, err)
	}
	return DriveStatus(r), nil
}

// SetReadSpeed limits the drive's read speed (in drive "x" units; 0 restores
// the maximum).
func SetReadSpeed(device string, speed int) error {
	fd, err := unix.Open(device, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", device, err)
	}
	defer unix.Close(fd) //nolint:errcheck

	if err := unix.IoctlSetInt(fd, ioctlCDROMSelectSpeed, speed); err != nil {
		return fmt.Errorf("ioctl CDROM_SELECT_SPEED on %s: %w", device, err)
	}
	return nil
}
