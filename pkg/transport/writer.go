package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sys/unix"
)

// DefaultWriteBuffer holds sixteen logical blocks before a flush.
const DefaultWriteBuffer = 16 * 2048

// WriterOptions configures the write end.
type WriterOptions struct {
	PollTimeout time.Duration
	Stop        StopFunc
	// OpenAttempts bounds how many poll intervals OpenWriter waits for a reader.
	OpenAttempts uint
	// ReaderWait bounds how long a write waits for a reader that went away (the
	// demux thread closes and reopens its end on a codec recheck).
	ReaderWait time.Duration
	BufferSize int
}

// Writer is the navigation thread's end of the FIFO. Writes are buffered;
// Flush pushes them out and Discard drops them.
type Writer struct {
	raw *rawWriter
	buf *bufio.Writer

	closed atomic.Bool
}

// OpenWriter opens path for writing, retrying while no reader has the FIFO
// open yet.
func OpenWriter(ctx context.Context, path string, opts WriterOptions) (*Writer, error) {
	timeout := opts.PollTimeout
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	attempts := opts.OpenAttempts
	if attempts == 0 {
		attempts = 25
	}
	wait := opts.ReaderWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultWriteBuffer
	}

	var fd int
	err := retry.Do(
		func() error {
			if opts.Stop.stopped() {
				return retry.Unrecoverable(ErrStopped)
			}
			var err error
			fd, err = unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
			if errors.Is(err, unix.ENXIO) {
				return ErrNoReader
			}
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("transport: open writer %s: %w", path, err))
			}
			return nil
		},
		retry.Attempts(attempts),
		retry.Delay(timeout),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err != nil {
		return nil, err
	}

	raw := &rawWriter{fd: fd, timeout: timeout, stop: opts.Stop, readerWait: wait}
	return &Writer{raw: raw, buf: bufio.NewWriterSize(raw, size)}, nil
}

// Write buffers p. It blocks only when the buffer spills into a full pipe.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, errors.New("transport: write on closed writer")
	}
	return w.buf.Write(p)
}

// Flush pushes buffered bytes into the pipe.
func (w *Writer) Flush() error {
	if w.closed.Load() {
		return nil
	}
	return w.buf.Flush()
}

// Discard drops buffered bytes that have not reached the pipe yet. Used on a
// channel hop or seek so stale data is not replayed.
func (w *Writer) Discard() int {
	n := w.buf.Buffered()
	w.buf.Reset(w.raw)
	return n
}

// Written returns the number of bytes that reached the pipe.
func (w *Writer) Written() int64 { return w.raw.written.Load() }

// Close flushes what it can and closes the descriptor. The reader then sees
// end of stream.
func (w *Writer) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	flushErr := w.buf.Flush()
	if errors.Is(flushErr, ErrStopped) {
		flushErr = nil
	}
	return errors.Join(flushErr, unix.Close(w.raw.fd))
}

type rawWriter struct {
	fd         int
	timeout    time.Duration
	readerWait time.Duration
	stop       StopFunc
	written    atomic.Int64
}

func (r *rawWriter) Write(p []byte) (int, error) {
	total := 0
	var orphaned time.Duration
	for total < len(p) {
		if r.stop.stopped() {
			return total, ErrStopped
		}
		n, err := unix.Write(r.fd, p[total:])
		if n > 0 {
			total += n
			r.written.Add(int64(n))
			orphaned = 0
		}
		switch {
		case err == nil:
		case errors.Is(err, unix.EINTR):
		case errors.Is(err, unix.EAGAIN):
			if _, perr := pollOnce(r.fd, unix.POLLOUT, r.timeout); perr != nil {
				return total, fmt.Errorf("transport: poll writer: %w", perr)
			}
		case errors.Is(err, unix.EPIPE):
			if orphaned >= r.readerWait {
				return total, ErrNoReader
			}
			if sleepOrStop(r.timeout, r.stop) {
				return total, ErrStopped
			}
			orphaned += r.timeout
		default:
			return total, fmt.Errorf("transport: write: %w", err)
		}
	}
	return total, nil
}
