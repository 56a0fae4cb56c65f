package disc

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discplay/pkg/nav"
)

// titleEngine answers the two queries a scan makes.
type titleEngine struct {
	nav.Engine
	label  string
	titles []nav.TitleInfo
	closed bool
}

func (e *titleEngine) DiscTitle() (string, error)       { return e.label, nil }
func (e *titleEngine) Titles() ([]nav.TitleInfo, error) { return e.titles, nil }
func (e *titleEngine) Close() error                     { e.closed = true; return nil }

func TestTitleTrackOnlyEnumeratesPrimaryMovie(t *testing.T) {
	engine := &titleEngine{
		label: "MY_MOVIE",
		titles: []nav.TitleInfo{
			{Number: 1, Chapters: 12, Duration: 10 * time.Minute, StartSector: 0, EndSector: 250_000},
			{Number: 2, Chapters: 3, Duration: 5 * time.Minute, StartSector: 1024, EndSector: 90_000},
		},
	}
	opens := 0
	open := func(device, language string) (nav.Engine, error) {
		opens++
		return engine, nil
	}

	table := NewTrackTable("/dev/sr0", EngineScanner(open, "en"))
	tracks, err := table.Tracks()
	require.NoError(t, err)
	require.Len(t, tracks, 3)
	assert.Equal(t, "My Movie", tracks[0].Title)
	assert.Equal(t, 15*time.Minute, tracks[0].Duration)
	assert.Equal(t, "My Movie - Title 2", tracks[2].Title)
	assert.Equal(t, uint32(1024), tracks[2].StartSector)
	assert.Equal(t, uint32(90_000), tracks[2].EndSector)
	assert.Equal(t, uint32(250_000), tracks[1].EndSector)
	assert.Zero(t, tracks[0].EndSector)
	assert.True(t, engine.closed)

	uris, err := table.Enumerate(EnumerateOptions{TitleTrackOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []URI{{Device: "/dev/sr0", Track: 1}}, uris)

	uris, err = table.Enumerate(EnumerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, []URI{{Device: "/dev/sr0", Track: 1}, {Device: "/dev/sr0", Track: 2}}, uris)
	assert.Equal(t, 1, opens, "cached table must not rescan")
}

func TestTitleTrackOnlyTieGoesToLowestNumber(t *testing.T) {
	tracks := []TrackInfo{
		{},
		{Number: 1, Duration: time.Minute},
		{Number: 2, Duration: 7 * time.Minute},
		{Number: 3, Duration: 7 * time.Minute},
	}
	uris := enumerate("", tracks, EnumerateOptions{TitleTrackOnly: true})
	assert.Equal(t, []URI{{Track: 2}}, uris)
}

func TestInvalidateForcesRescan(t *testing.T) {
	scans := 0
	scan := func(device string) (string, []nav.TitleInfo, error) {
		scans++
		return "", []nav.TitleInfo{{Number: 1, Duration: time.Duration(scans) * time.Minute}}, nil
	}
	table := NewTrackTable("disc.iso", scan)

	_, err := table.Tracks()
	require.NoError(t, err)
	table.Invalidate()
	tracks, err := table.Tracks()
	require.NoError(t, err)

	assert.Equal(t, 2, scans)
	assert.Equal(t, 2*time.Minute, tracks[1].Duration)
	assert.Equal(t, DefaultLabel, tracks[0].Title)
}

func TestScanWithoutTitlesIsUnsupported(t *testing.T) {
	table := NewTrackTable("disc.iso", func(string) (string, []nav.TitleInfo, error) {
		return "EMPTY", nil, nil
	})
	_, err := table.Tracks()
	assert.ErrorIs(t, err, ErrUnsupportedDisc)
}

func TestScanOpenFailure(t *testing.T) {
	open := func(string, string) (nav.Engine, error) { return nil, errors.New("busy") }
	table := NewTrackTable("/dev/sr0", EngineScanner(open, ""))
	_, err := table.Tracks()
	assert.ErrorIs(t, err, ErrOpenFailed)
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		in   string
		want URI
		err  bool
	}{
		{in: "dvd://", want: URI{}},
		{in: "dvd://?3", want: URI{Track: 3}},
		{in: "dvd:///dev/sr1?2", want: URI{Device: "/dev/sr1", Track: 2}},
		{in: "dvd:///dev/sr1", want: URI{Device: "/dev/sr1"}},
		{in: "cdda://?1", err: true},
		{in: "dvd://?x", err: true},
		{in: "dvd://?-1", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseURI(tt.in)
			if tt.err {
				assert.ErrorIs(t, err, ErrBadURI)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want.Track == 0, got.Whole())
		})
	}
}

func TestURIString(t *testing.T) {
	assert.Equal(t, "dvd://?4", URI{Track: 4}.String())
	assert.Equal(t, "dvd:///dev/sr0?1", URI{Device: "/dev/sr0", Track: 1}.String())
	assert.Equal(t, "dvd:///dev/sr0", URI{Device: "/dev/sr0"}.String())
}

func TestPlaylistPurgeDevice(t *testing.T) {
	p := NewPlaylist(
		URI{Device: "/dev/sr0", Track: 1},
		URI{Device: "a.iso", Track: 1},
		URI{Device: "/dev/sr0", Track: 2},
	)
	assert.Equal(t, 2, p.PurgeDevice("/dev/sr0"))
	assert.Equal(t, 1, p.Len())

	u, ok := p.Next()
	require.True(t, ok)
	assert.Equal(t, "a.iso", u.Device)
	_, ok = p.Next()
	assert.False(t, ok)
}

func TestPlaylistAddAppends(t *testing.T) {
	p := NewPlaylist(URI{Device: "a.iso", Track: 1})
	p.Add(URI{Device: "/dev/sr0", Track: 3}, URI{Device: "/dev/sr0", Track: 4})
	assert.Equal(t, 3, p.Len())

	u, _ := p.Next()
	assert.Equal(t, "a.iso", u.Device)
	u, _ = p.Next()
	assert.Equal(t, URI{Device: "/dev/sr0", Track: 3}, u)
}
