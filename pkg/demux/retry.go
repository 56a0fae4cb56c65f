package demux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"

	"discplay/pkg/transport"
)

const (
	// DefaultReadUnit is the largest single read: sixteen DVD sectors.
	DefaultReadUnit = 16 * 2048
	minReadUnit     = 2048
)

// retryReader retries failed reads a bounded number of times, halving the
// read size after every failure. A failure that survives every attempt is
// fatal for the stream.
type retryReader struct {
	ctx      context.Context
	r        io.Reader
	unit     int
	attempts uint
	delay    time.Duration
	logger   *slog.Logger
	retries  *atomic.Int64
}

func newRetryReader(ctx context.Context, r io.Reader, unit int, attempts uint, logger *slog.Logger, retries *atomic.Int64) *retryReader {
	if unit <= 0 {
		unit = DefaultReadUnit
	}
	if attempts == 0 {
		attempts = 3
	}
	return &retryReader{
		ctx:      ctx,
		r:        r,
		unit:     unit,
		attempts: attempts,
		delay:    10 * time.Millisecond,
		logger:   logger,
		retries:  retries,
	}
}

// retryable separates transient read failures from end of stream and
// shutdown, which pass straight through.
func retryable(err error) bool {
	return !errors.Is(err, io.EOF) &&
		!errors.Is(err, transport.ErrStopped) &&
		!errors.Is(err, transport.ErrInterrupted) &&
		!errors.Is(err, io.ErrClosedPipe) &&
		!errors.Is(err, context.Canceled)
}

func (rr *retryReader) Read(p []byte) (int, error) {
	var n int
	err := retry.Do(
		func() error {
			want := len(p)
			if want > rr.unit {
				want = rr.unit
			}
			m, err := rr.r.Read(p[:want])
			n = m
			if m > 0 {
				return nil
			}
			return err
		},
		retry.Context(rr.ctx),
		retry.Attempts(rr.attempts),
		retry.Delay(rr.delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(attempt uint, err error) {
			if rr.unit > minReadUnit {
				rr.unit /= 2
			}
			if rr.retries != nil {
				rr.retries.Add(1)
			}
			rr.logger.Warn("read failed, retrying", "attempt", attempt+1, "read_unit", rr.unit, "error", err)
		}),
	)
	if err != nil && retryable(err) {
		return n, fmt.Errorf("%w: %w", ErrFatalRead, err)
	}
	return n, err
}
