//go:build !linux

package disc

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// CheckDriveStatus only knows whether the device node exists on this platform.
func CheckDriveStatus(device string) (DriveStatus, error) {
	device = strings.TrimSpace(device)
	if device == "" {
		return DriveStatusNoInfo, fmt.Errorf("empty device path")
	}
	if _, err := os.Stat(device); err != nil {
		return DriveStatusNoInfo, fmt.Errorf("open %s: %w", device, err)
	}
	return DriveStatusNoInfo, errors.New("drive status not supported on this platform")
}

// SetReadSpeed is not supported on this platform.
func SetReadSpeed(device string, speed int) error {
	return errors.New("read speed control not supported on this platform")
}
