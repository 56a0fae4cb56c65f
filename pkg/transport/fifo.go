// Package transport is the byte conduit between the navigation thread and the
// demux thread: a named FIFO created per play session, with one writer and one
// reader.
//
// Nothing is framed. The writer pushes whatever the navigation library emits,
// byte for byte, and the reader hands those bytes to the program-stream
// demuxer. Both ends poll with a bounded timeout so a stop request is noticed
// within one poll interval even when the other side has stalled.
package transport

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
)

// DefaultPollTimeout bounds every blocking poll on either end.
const DefaultPollTimeout = 200 * time.Millisecond

var (
	// ErrStopped is returned by reads and writes once the stop check fires.
	ErrStopped = errors.New("transport: stopped")
	// ErrInterrupted is returned by a blocked read when its wake check fires.
	ErrInterrupted = errors.New("transport: read interrupted")
	// ErrBusy is returned when another session already owns the FIFO path.
	ErrBusy = errors.New("transport: fifo in use by another session")
	// ErrNoReader is returned when the read side stays closed past the writer's
	// patience.
	ErrNoReader = errors.New("transport: no reader on fifo")
)

// FIFO is a named pipe owned by one play session. The session lock is held
// from Create until Remove.
type FIFO struct {
	path string
	lock *flock.Flock
}

// Create makes the named pipe at path (reusing an existing FIFO left behind by
// a crashed session) and takes the session lock beside it.
func Create(path string) (*FIFO, error) {
	if path == "" {
		return nil, fmt.Errorf("transport: empty fifo path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("transport: ensure fifo dir: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("transport: lock %s: %w", path, err)
	}
	if !locked {
		return nil, ErrBusy
	}

	info, err := os.Lstat(path)
	switch {
	case err == nil && info.Mode()&fs.ModeNamedPipe != 0:
		// Stale FIFO from an earlier session; reuse it.
	case err == nil:
		_ = lock.Unlock()
		return nil, fmt.Errorf("transport: %s exists and is not a fifo", path)
	case errors.Is(err, fs.ErrNotExist):
		if err := unix.Mkfifo(path, 0o600); err != nil {
			_ = lock.Unlock()
			return nil, fmt.Errorf("transport: mkfifo %s: %w", path, err)
		}
	default:
		_ = lock.Unlock()
		return nil, fmt.Errorf("transport: stat %s: %w", path, err)
	}

	return &FIFO{path: path, lock: lock}, nil
}

// Path returns the FIFO location.
func (f *FIFO) Path() string { return f.path }

// Remove deletes the FIFO and releases the session lock. Both ends should be
// closed first.
func (f *FIFO) Remove() error {
	if f == nil {
		return nil
	}
	var errs []error
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove fifo: %w", err))
	}
	if err := f.lock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("unlock fifo: %w", err))
	}
	_ = os.Remove(f.path + ".lock")
	return errors.Join(errs...)
}

// StopFunc reports whether the owner wants blocked I/O to give up.
type StopFunc func() bool

func (s StopFunc) stopped() bool { return s != nil && s() }

// pollOnce waits up to timeout for events on fd. It returns the revents, or 0
// on timeout.
func pollOnce(fd int, events int16, timeout time.Duration) (int16, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	for {
		n, err := unix.Poll(fds, int(timeout/time.Millisecond))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, nil
		}
		return fds[0].Revents, nil
	}
}

// sleepOrStop waits d in short slices, returning early when stop fires.
func sleepOrStop(d time.Duration, stop StopFunc) bool {
	const slice = 20 * time.Millisecond
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if stop.stopped() {
			return true
		}
		time.Sleep(slice)
	}
	return stop.stopped()
}
