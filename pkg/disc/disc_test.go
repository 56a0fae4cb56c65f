package disc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pilebones/go-udev/netlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discplay/pkg/nav"
)

func TestCleanLabel(t *testing.T) {
	tests := map[string]string{
		"THE_GREAT_ESCAPE": "The Great Escape",
		"  space  odyssey": "Space Odyssey",
		"DVD_VIDEO":        DefaultLabel,
		"":                 DefaultLabel,
		"20050101":         DefaultLabel,
	}
	for in, want := range tests {
		assert.Equal(t, want, CleanLabel(in), in)
	}
	assert.Equal(t, "Movie", TrackLabel("Movie", 0))
}

func TestDriveStatusString(t *testing.T) {
	assert.Equal(t, "tray_open", DriveStatusTrayOpen.String())
	assert.Equal(t, "unknown(9)", DriveStatus(9).String())
	assert.True(t, DriveStatusNoDisc.Removed())
	assert.False(t, DriveStatusNotReady.Removed())
}

func TestRemovalProbeForImages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disc.iso")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	probe := RemovalProbe(path)

	removed, err := probe()
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, os.Remove(path))
	removed, err = probe()
	require.NoError(t, err)
	assert.True(t, removed)
}

type stubEngine struct{ nav.Engine }

func TestOpenEngineMissingDeviceIsNoDrive(t *testing.T) {
	calls := 0
	open := func(string, string) (nav.Engine, error) { calls++; return stubEngine{}, nil }
	_, err := OpenEngine(context.Background(), open, filepath.Join(t.TempDir(), "missing"), "", OpenOptions{})
	assert.ErrorIs(t, err, ErrNoDrive)
	assert.Zero(t, calls)
}

func TestOpenEngineRetriesThenFails(t *testing.T) {
	dir := t.TempDir()
	calls := 0
	open := func(string, string) (nav.Engine, error) { calls++; return nil, nav.ErrOpen }

	_, err := OpenEngine(context.Background(), open, dir, "", OpenOptions{Attempts: 3, Delay: time.Millisecond})
	assert.ErrorIs(t, err, ErrOpenFailed)
	assert.ErrorIs(t, err, nav.ErrOpen)
	assert.Equal(t, 3, calls)
}

func TestOpenEngineRecovers(t *testing.T) {
	dir := t.TempDir()
	calls := 0
	open := func(string, string) (nav.Engine, error) {
		calls++
		if calls < 2 {
			return nil, nav.ErrOpen
		}
		return stubEngine{}, nil
	}
	e, err := OpenEngine(context.Background(), open, dir, "", OpenOptions{Attempts: 3, Delay: time.Millisecond})
	require.NoError(t, err)
	assert.NotNil(t, e)
	assert.Equal(t, 2, calls)
}

type fakeS3 struct {
	s3iface.S3API
	objects map[string][]byte
	gets    int
}

func (f *fakeS3) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	body, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, errors.New("not found")
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(body)))}, nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.gets++
	body := f.objects[*in.Bucket+"/"+*in.Key]
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func TestImageFetcherDownloadsOnce(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{"discs/films/movie.iso": []byte("iso-bytes")}}
	f := newImageFetcher(client, t.TempDir(), nil)

	local, err := f.Resolve(context.Background(), "s3://discs/films/movie.iso")
	require.NoError(t, err)
	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "iso-bytes", string(data))

	again, err := f.Resolve(context.Background(), "s3://discs/films/movie.iso")
	require.NoError(t, err)
	assert.Equal(t, local, again)
	assert.Equal(t, 1, client.gets)
}

func TestImageFetcherPassesLocalDevices(t *testing.T) {
	f := newImageFetcher(&fakeS3{}, t.TempDir(), nil)
	got, err := f.Resolve(context.Background(), "/dev/sr0")
	require.NoError(t, err)
	assert.Equal(t, "/dev/sr0", got)

	_, err = f.Resolve(context.Background(), "s3://bucket-only")
	assert.Error(t, err)
	_, err = f.Resolve(context.Background(), "s3://discs/missing.iso")
	assert.ErrorIs(t, err, ErrNoDrive)
}

func TestMediaMonitorHandlesConfiguredDevice(t *testing.T) {
	var changed []string
	m := &MediaMonitor{device: "/dev/sr0", onChange: func(d string) { changed = append(changed, d) }, logger: testLogger()}

	m.handle(netlink.UEvent{Action: netlink.KObjAction("change"), Env: map[string]string{"DEVNAME": "sr1"}})
	m.handle(netlink.UEvent{Action: netlink.KObjAction("change"), Env: map[string]string{"DEVNAME": "/dev/sr0"}})
	m.handle(netlink.UEvent{Action: netlink.KObjAction("change"), Env: map[string]string{"DEVPATH": "/devices/pci0000:00/block/sr0"}})

	assert.Equal(t, []string{"/dev/sr0", "/dev/sr0"}, changed)
}

func TestMediaMonitorNilSafe(t *testing.T) {
	var m *MediaMonitor
	m.Stop()
	assert.NoError(t, m.Start(context.Background()))
	assert.False(t, m.Running())
	assert.Nil(t, NewMediaMonitor("", nil, nil))
	assert.Nil(t, NewMediaMonitor(t.TempDir(), nil, nil))
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
