package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPoll = 20 * time.Millisecond

func newFIFO(t *testing.T) *FIFO {
	t.Helper()
	f, err := Create(filepath.Join(t.TempDir(), "stream.fifo"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Remove() })
	return f
}

func TestCreateLocksPath(t *testing.T) {
	f := newFIFO(t)

	_, err := Create(f.Path())
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, f.Remove())
	again, err := Create(f.Path())
	require.NoError(t, err)
	require.NoError(t, again.Remove())
}

func TestBytesPassThroughUnchanged(t *testing.T) {
	f := newFIFO(t)

	r, err := OpenReader(f.Path(), ReaderOptions{PollTimeout: testPoll})
	require.NoError(t, err)
	defer r.Close()

	w, err := OpenWriter(context.Background(), f.Path(), WriterOptions{PollTimeout: testPoll})
	require.NoError(t, err)

	payload := make([]byte, 3*2048)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	done := make(chan error, 1)
	go func() {
		_, err := w.Write(payload)
		if err == nil {
			err = w.Close()
		}
		done <- err
	}()

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, payload, got)
	assert.EqualValues(t, len(payload), w.Written())
}

func TestReaderObservesStopWithinPollInterval(t *testing.T) {
	f := newFIFO(t)

	var stop atomic.Bool
	r, err := OpenReader(f.Path(), ReaderOptions{PollTimeout: testPoll, Stop: stop.Load})
	require.NoError(t, err)
	defer r.Close()

	// Keep a writer attached that never writes.
	w, err := OpenWriter(context.Background(), f.Path(), WriterOptions{PollTimeout: testPoll})
	require.NoError(t, err)
	defer w.Close()

	errCh := make(chan error, 1)
	go func() {
		buf := make([]byte, 2048)
		_, err := r.Read(buf)
		errCh <- err
	}()

	time.Sleep(3 * testPoll)
	stop.Store(true)
	start := time.Now()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStopped)
		assert.Less(t, time.Since(start), 4*testPoll)
	case <-time.After(time.Second):
		t.Fatal("reader did not observe stop")
	}
	assert.Positive(t, r.Stalls())
}

func TestDiscardDropsBufferedBytes(t *testing.T) {
	f := newFIFO(t)

	r, err := OpenReader(f.Path(), ReaderOptions{PollTimeout: testPoll})
	require.NoError(t, err)
	defer r.Close()

	w, err := OpenWriter(context.Background(), f.Path(), WriterOptions{PollTimeout: testPoll})
	require.NoError(t, err)

	_, err = w.Write([]byte("stale"))
	require.NoError(t, err)
	assert.Equal(t, 5, w.Discard())

	_, err = w.Write([]byte("fresh"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(got))
}

func TestOpenWriterGivesUpWithoutReader(t *testing.T) {
	f := newFIFO(t)

	_, err := OpenWriter(context.Background(), f.Path(), WriterOptions{PollTimeout: time.Millisecond, OpenAttempts: 3})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoReader))
}

func TestWakeInterruptsBlockedRead(t *testing.T) {
	f := newFIFO(t)

	var wake atomic.Bool
	r, err := OpenReader(f.Path(), ReaderOptions{PollTimeout: testPoll, Wake: wake.Load})
	require.NoError(t, err)
	defer r.Close()

	w, err := OpenWriter(context.Background(), f.Path(), WriterOptions{PollTimeout: testPoll})
	require.NoError(t, err)
	defer w.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := r.Read(make([]byte, 2048))
		errCh <- err
	}()

	time.Sleep(2 * testPoll)
	wake.Store(true)
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrInterrupted)
	case <-time.After(time.Second):
		t.Fatal("reader did not wake")
	}

	// The stream is still usable once the wake condition clears.
	wake.Store(false)
	_, err = w.Write([]byte("after"))
	require.NoError(t, err)
	require.NoError(t, w.Flush())
	buf := make([]byte, 16)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "after", string(buf[:n]))
}

func TestDrainEmptiesThePipe(t *testing.T) {
	f := newFIFO(t)

	r, err := OpenReader(f.Path(), ReaderOptions{PollTimeout: testPoll})
	require.NoError(t, err)
	defer r.Close()

	w, err := OpenWriter(context.Background(), f.Path(), WriterOptions{PollTimeout: testPoll})
	require.NoError(t, err)

	stale := bytes.Repeat([]byte("s"), 40*1024)
	_, err = w.Write(stale)
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	n, err := r.Drain()
	require.NoError(t, err)
	assert.Equal(t, len(stale), n)

	n, err = r.Drain()
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = w.Write([]byte("fresh"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(got))
}
