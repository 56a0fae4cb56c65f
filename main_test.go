package main

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discplay/pkg/config"
	"discplay/pkg/disc"
	"discplay/pkg/input"
	"discplay/pkg/nav"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestVideoDrivers(t *testing.T) {
	assert.Equal(t, []string{"x11", "wayland", "kmsdrm", "dummy"}, videoDrivers("", "linux"))
	assert.Equal(t, []string{"cocoa", "dummy"}, videoDrivers("", "darwin"))
	assert.Equal(t, []string{"wayland", "x11", "wayland", "kmsdrm", "dummy"}, videoDrivers("wayland", "linux"))
}

func TestApplyPlayFlags(t *testing.T) {
	cfg := config.Default()
	cfg.Playback.NoSkipMenus = true

	applyPlayFlags(&cfg, playFlags{titleTrackOnly: true, noVideo: true, skipMenus: true})

	assert.True(t, cfg.Disc.TitleTrackOnly)
	assert.False(t, cfg.Video.Enabled)
	assert.True(t, cfg.Playback.SkipMenus)
	assert.False(t, cfg.Playback.NoSkipMenus)
}

func fakeTables(t *testing.T) *tableSet {
	t.Helper()
	return newTableSet(func(device string) (string, []nav.TitleInfo, error) {
		return "MOVIE_DISC", []nav.TitleInfo{
			{Number: 1, Chapters: 2, Duration: 5 * time.Minute},
			{Number: 2, Chapters: 24, Duration: 2 * time.Hour},
			{Number: 3, Chapters: 1, Duration: time.Minute},
		}, nil
	})
}

func identity(device string) (string, error) { return device, nil }

func drain(p *disc.Playlist) []disc.URI {
	var out []disc.URI
	for {
		u, ok := p.Next()
		if !ok {
			return out
		}
		out = append(out, u)
	}
}

func TestBuildPlaylistWithoutArgsUsesConfiguredDevice(t *testing.T) {
	cfg := config.Default()
	cfg.Disc.Device = "/dev/sr1"

	p, err := buildPlaylist(&cfg, nil, 0, identity, fakeTables(t))
	require.NoError(t, err)
	assert.Equal(t, []disc.URI{{Device: "/dev/sr1"}}, drain(p))

	p, err = buildPlaylist(&cfg, nil, 4, identity, fakeTables(t))
	require.NoError(t, err)
	assert.Equal(t, []disc.URI{{Device: "/dev/sr1", Track: 4}}, drain(p))

	_, err = buildPlaylist(&cfg, nil, -1, identity, fakeTables(t))
	assert.Error(t, err)
}

func TestBuildPlaylistEnumeratesWholeDisc(t *testing.T) {
	cfg := config.Default()
	cfg.Disc.Device = "/dev/sr0"

	p, err := buildPlaylist(&cfg, []string{"dvd://", "dvd://?2"}, 0, identity, fakeTables(t))
	require.NoError(t, err)
	assert.Equal(t, []disc.URI{
		{Device: "/dev/sr0", Track: 1},
		{Device: "/dev/sr0", Track: 2},
		{Device: "/dev/sr0", Track: 3},
		{Device: "/dev/sr0", Track: 2},
	}, drain(p))

	cfg.Disc.TitleTrackOnly = true
	p, err = buildPlaylist(&cfg, []string{"dvd:///dev/sr2"}, 0, identity, fakeTables(t))
	require.NoError(t, err)
	assert.Equal(t, []disc.URI{{Device: "/dev/sr2", Track: 2}}, drain(p))
}

func TestMediaChangeRequeuesDisc(t *testing.T) {
	cfg := config.Default()
	discs := [][]nav.TitleInfo{
		{{Number: 1, Duration: time.Hour}, {Number: 2, Duration: time.Minute}},
		{{Number: 1, Duration: time.Minute}, {Number: 2, Duration: 3 * time.Minute}, {Number: 3, Duration: time.Hour}},
	}
	inserted := 0
	var ejected bool
	tables := newTableSet(func(string) (string, []nav.TitleInfo, error) {
		if ejected {
			return "", nil, errors.New("no medium")
		}
		return "DISC", discs[inserted], nil
	})

	p, err := buildPlaylist(&cfg, []string{"dvd:///dev/sr0", "dvd:///images/extra.iso?1"}, 0, identity, tables)
	require.NoError(t, err)
	_, ok := p.Next()
	require.True(t, ok)

	onChange := requeueOnMediaChange(p, tables.get("/dev/sr0"), disc.EnumerateOptions{}, quietLogger())

	ejected = true
	onChange("/dev/sr0")
	assert.Equal(t, []disc.URI{{Device: "/images/extra.iso", Track: 1}}, drain(p))

	ejected = false
	inserted = 1
	p.Add(disc.URI{Device: "/images/extra.iso", Track: 1})
	onChange("/dev/sr0")
	assert.Equal(t, []disc.URI{
		{Device: "/images/extra.iso", Track: 1},
		{Device: "/dev/sr0", Track: 1},
		{Device: "/dev/sr0", Track: 2},
		{Device: "/dev/sr0", Track: 3},
	}, drain(p))

	onChange = requeueOnMediaChange(p, tables.get("/dev/sr0"), disc.EnumerateOptions{TitleTrackOnly: true}, quietLogger())
	onChange("/dev/sr0")
	assert.Equal(t, []disc.URI{{Device: "/dev/sr0", Track: 3}}, drain(p))
}

func TestBuildPlaylistErrors(t *testing.T) {
	cfg := config.Default()

	_, err := buildPlaylist(&cfg, []string{"http://example.com"}, 0, identity, fakeTables(t))
	assert.ErrorIs(t, err, disc.ErrBadURI)

	boom := errors.New("download failed")
	_, err = buildPlaylist(&cfg, []string{"dvd:///images/movie.iso?1"}, 0,
		func(string) (string, error) { return "", boom }, fakeTables(t))
	assert.ErrorIs(t, err, boom)
}

func TestSeekTarget(t *testing.T) {
	tests := []struct {
		name        string
		pos, length uint32
		forward     bool
		want        uint32
		wantOK      bool
	}{
		{name: "forward step", pos: 100, length: 1000, forward: true, want: 120, wantOK: true},
		{name: "forward clamps", pos: 990, length: 1000, forward: true, want: 999, wantOK: true},
		{name: "at end", pos: 999, length: 1000, forward: true, want: 999, wantOK: false},
		{name: "back step", pos: 100, length: 1000, want: 80, wantOK: true},
		{name: "back clamps", pos: 10, length: 1000, want: 0, wantOK: true},
		{name: "at start", pos: 0, length: 1000, want: 0, wantOK: false},
		{name: "short title", pos: 3, length: 10, forward: true, want: 4, wantOK: true},
		{name: "unknown length", pos: 5, length: 0, forward: true, want: 0, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := seekTarget(tt.pos, tt.length, tt.forward)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

type fakeControls struct {
	moves       []nav.Direction
	activated   int
	seeks       []uint32
	seekErr     error
	pos, length uint32
	stopped     bool
}

func (f *fakeControls) MoveHighlight(d nav.Direction) { f.moves = append(f.moves, d) }
func (f *fakeControls) ActivateButton()               { f.activated++ }
func (f *fakeControls) Position() (uint32, uint32)    { return f.pos, f.length }
func (f *fakeControls) Stop()                         { f.stopped = true }
func (f *fakeControls) Seek(offset uint32) error {
	f.seeks = append(f.seeks, offset)
	return f.seekErr
}

type fakeAudio struct {
	paused  bool
	cleared int
}

func (f *fakeAudio) TogglePause() bool { f.paused = !f.paused; return f.paused }
func (f *fakeAudio) Clear()            { f.cleared++ }

func TestHandleActionInMenuMovesHighlight(t *testing.T) {
	ctl := &fakeControls{pos: 100, length: 1000}
	out := &fakeAudio{}

	for _, a := range []input.Action{input.ActionUp, input.ActionDown, input.ActionLeft, input.ActionRight} {
		assert.False(t, handleAction(a, ctl, out, true, quietLogger()))
	}
	assert.Equal(t, []nav.Direction{nav.Up, nav.Down, nav.Left, nav.Right}, ctl.moves)
	assert.Empty(t, ctl.seeks)

	handleAction(input.ActionActivate, ctl, out, true, quietLogger())
	assert.Equal(t, 1, ctl.activated)
}

func TestHandleActionSeeksDuringTitle(t *testing.T) {
	ctl := &fakeControls{pos: 100, length: 1000}
	out := &fakeAudio{}

	handleAction(input.ActionRight, ctl, out, false, quietLogger())
	handleAction(input.ActionLeft, ctl, out, false, quietLogger())
	handleAction(input.ActionUp, ctl, out, false, quietLogger())
	assert.Equal(t, []uint32{120, 80}, ctl.seeks)
	assert.Equal(t, 2, out.cleared)
	assert.Empty(t, ctl.moves)

	ctl.seekErr = errors.New("not seekable")
	handleAction(input.ActionRight, ctl, out, false, quietLogger())
	assert.Equal(t, 2, out.cleared)
}

func TestHandleActionPauseAndStop(t *testing.T) {
	ctl := &fakeControls{}
	out := &fakeAudio{}

	assert.False(t, handleAction(input.ActionPause, ctl, out, false, quietLogger()))
	assert.True(t, out.paused)
	assert.True(t, handleAction(input.ActionStop, ctl, out, false, quietLogger()))
	assert.True(t, ctl.stopped)
}

func TestRenderTracks(t *testing.T) {
	tracks := []disc.TrackInfo{
		{Title: "Movie Disc", Duration: 2*time.Hour + 6*time.Minute},
		{Number: 1, Title: "Movie Disc - Title 1", Chapters: 24, Duration: 2*time.Hour + 5*time.Second},
	}
	out := renderTracks(tracks)
	assert.Contains(t, out, "Movie Disc - Title 1")
	assert.Contains(t, out, "2:00:05")
	assert.NotContains(t, out, "2:06:00")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0:00:00", formatDuration(0))
	assert.Equal(t, "1:02:03", formatDuration(time.Hour+2*time.Minute+3*time.Second+400*time.Millisecond))
}
