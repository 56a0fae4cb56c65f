package transport

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// ReaderOptions configures the read end.
type ReaderOptions struct {
	PollTimeout time.Duration
	Stop        StopFunc
	// Wake cuts a blocked read short with ErrInterrupted without ending the
	// stream.
	Wake StopFunc
}

// Reader is the demux thread's end of the FIFO. Read blocks until bytes
// arrive, the writer closes (io.EOF), Stop fires (ErrStopped) or Wake fires
// (ErrInterrupted).
type Reader struct {
	fd      int
	timeout time.Duration
	stop    StopFunc
	wake    StopFunc

	sawWriter atomic.Bool
	closed    atomic.Bool
	stalls    atomic.Int64
}

// OpenReader opens path for reading without waiting for a writer.
func OpenReader(path string, opts ReaderOptions) (*Reader, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("transport: open reader %s: %w", path, err)
	}
	timeout := opts.PollTimeout
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	return &Reader{fd: fd, timeout: timeout, stop: opts.Stop, wake: opts.Wake}, nil
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if r.closed.Load() {
			return 0, io.ErrClosedPipe
		}
		if r.stop.stopped() {
			return 0, ErrStopped
		}
		if r.wake.stopped() {
			return 0, ErrInterrupted
		}

		revents, err := pollOnce(r.fd, unix.POLLIN, r.timeout)
		if err != nil {
			return 0, fmt.Errorf("transport: poll reader: %w", err)
		}
		if revents == 0 {
			r.stalls.Add(1)
			continue
		}
		if revents&unix.POLLNVAL != 0 {
			return 0, io.ErrClosedPipe
		}

		n, err := unix.Read(r.fd, p)
		switch {
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
			continue
		case err != nil:
			return 0, fmt.Errorf("transport: read: %w", err)
		case n > 0:
			r.sawWriter.Store(true)
			return n, nil
		case r.sawWriter.Load():
			return 0, io.EOF
		default:
			// No writer has connected yet; hang-up here is not end of stream.
			if sleepOrStop(r.timeout, r.stop) {
				return 0, ErrStopped
			}
		}
	}
}

// Drain throws away whatever is buffered in the pipe without waiting for
// more. It returns the number of bytes dropped.
func (r *Reader) Drain() (int, error) {
	if r.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	buf := make([]byte, 16*1024)
	total := 0
	for {
		n, err := unix.Read(r.fd, buf)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return total, nil
		case err != nil:
			return total, fmt.Errorf("transport: drain: %w", err)
		case n == 0:
			return total, nil
		}
		r.sawWriter.Store(true)
		total += n
	}
}

// Stalls returns how many poll intervals elapsed with no data.
func (r *Reader) Stalls() int64 { return r.stalls.Load() }

// Close releases the descriptor. It is safe to call more than once.
func (r *Reader) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(r.fd)
}
