package disc

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/avast/retry-go/v4"

	"discplay/pkg/nav"
)

// Device errors. All of them end the session.
var (
	ErrNoDrive         = errors.New("disc: no drive found")
	ErrUnsupportedDisc = errors.New("disc: unsupported or empty disc")
	ErrOpenFailed      = errors.New("disc: open failed")
	ErrDiskRemoved     = errors.New("disc: disk removed")
)

// OpenOptions tunes OpenEngine.
type OpenOptions struct {
	Attempts uint
	Delay    time.Duration
	Logger   *slog.Logger
}

// OpenEngine opens the navigation engine on device, retrying while the drive
// spins up. Missing devices and empty trays fail without retrying.
func OpenEngine(ctx context.Context, open nav.Opener, device, language string, opts OpenOptions) (nav.Engine, error) {
	if opts.Attempts == 0 {
		opts.Attempts = 5
	}
	if opts.Delay <= 0 {
		opts.Delay = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := checkDevice(device); err != nil {
		return nil, err
	}

	var engine nav.Engine
	err := retry.Do(
		func() error {
			e, err := open(device, language)
			if err != nil {
				return err
			}
			engine = e
			return nil
		},
		retry.Attempts(opts.Attempts),
		retry.Delay(opts.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.RetryIf(func(error) bool {
			// An empty tray will not fill itself while we wait.
			return checkDevice(device) == nil
		}),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("disc open failed, retrying", "device", device, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		if errors.Is(err, ErrNoDrive) || errors.Is(err, ErrUnsupportedDisc) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		if derr := checkDevice(device); derr != nil {
			return nil, derr
		}
		return nil, fmt.Errorf("%w after %d attempts: %w", ErrOpenFailed, opts.Attempts, err)
	}
	return engine, nil
}

func checkDevice(device string) error {
	if device == "" {
		return ErrNoDrive
	}
	if _, err := os.Stat(device); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNoDrive, device)
		}
		return nil
	}
	if !IsDrive(device) {
		return nil
	}
	status, err := CheckDriveStatus(device)
	if err != nil {
		// Not every node answers the ioctl; let the open decide.
		return nil
	}
	if status.Removed() {
		return fmt.Errorf("%w: %s (%s)", ErrUnsupportedDisc, device, status)
	}
	return nil
}
