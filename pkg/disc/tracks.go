package disc

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"discplay/pkg/nav"
)

// Scheme is the URI scheme for disc tracks.
const Scheme = "dvd"

// TrackInfo is the metadata for one track. Index 0 of a table is the whole
// disc; its sectors stay 0 since title sectors are relative to their title
// set.
type TrackInfo struct {
	Number      int
	Title       string
	StartSector uint32
	EndSector   uint32
	Chapters    int
	Duration    time.Duration
	TagRead     bool
}

// Scanner reads the disc label and title list from device.
type Scanner func(device string) (label string, titles []nav.TitleInfo, err error)

// EngineScanner scans by opening a navigation engine.
func EngineScanner(open nav.Opener, language string) Scanner {
	return func(device string) (string, []nav.TitleInfo, error) {
		engine, err := open(device, language)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %w", ErrOpenFailed, err)
		}
		defer engine.Close()

		label, err := engine.DiscTitle()
		if err != nil {
			label = ""
		}
		titles, err := engine.Titles()
		if err != nil {
			return "", nil, fmt.Errorf("read titles: %w", err)
		}
		return label, titles, nil
	}
}

// TrackTable caches the scanned tracks of one device until the media changes.
type TrackTable struct {
	mu     sync.Mutex
	device string
	scan   Scanner
	tracks []TrackInfo
	valid  bool
}

// NewTrackTable builds an empty table. The first read scans.
func NewTrackTable(device string, scan Scanner) *TrackTable {
	return &TrackTable{device: device, scan: scan}
}

// Device returns the device the table describes.
func (t *TrackTable) Device() string { return t.device }

// Invalidate drops the cached tracks. Wired to the media-changed signal.
func (t *TrackTable) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = nil
	t.valid = false
}

// Tracks returns the table, scanning if needed. The slice is a copy.
func (t *TrackTable) Tracks() ([]TrackInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid {
		if err := t.rescan(); err != nil {
			return nil, err
		}
	}
	return append([]TrackInfo(nil), t.tracks...), nil
}

func (t *TrackTable) rescan() error {
	label, titles, err := t.scan(t.device)
	if err != nil {
		return err
	}
	if len(titles) == 0 {
		return fmt.Errorf("%w: no titles on %s", ErrUnsupportedDisc, t.device)
	}

	name := CleanLabel(label)
	tracks := make([]TrackInfo, 0, len(titles)+1)
	tracks = append(tracks, TrackInfo{Title: name, TagRead: true})
	for _, ti := range titles {
		tracks = append(tracks, TrackInfo{
			Number:      ti.Number,
			Title:       TrackLabel(name, ti.Number),
			StartSector: ti.StartSector,
			EndSector:   ti.EndSector,
			Chapters:    ti.Chapters,
			Duration:    ti.Duration,
			TagRead:     true,
		})
		tracks[0].Duration += ti.Duration
		tracks[0].Chapters += ti.Chapters
	}
	t.tracks = tracks
	t.valid = true
	return nil
}

// EnumerateOptions selects which tracks a whole-disc entry expands to.
type EnumerateOptions struct {
	// TitleTrackOnly keeps only the primary title: the longest one, the lowest
	// number winning ties.
	TitleTrackOnly bool
}

// Enumerate expands the whole disc into single-track URIs.
func (t *TrackTable) Enumerate(opts EnumerateOptions) ([]URI, error) {
	tracks, err := t.Tracks()
	if err != nil {
		return nil, err
	}
	return enumerate(t.device, tracks, opts), nil
}

func enumerate(device string, tracks []TrackInfo, opts EnumerateOptions) []URI {
	if len(tracks) <= 1 {
		return nil
	}
	titles := tracks[1:]
	if opts.TitleTrackOnly {
		best := titles[0]
		for _, ti := range titles[1:] {
			if ti.Duration > best.Duration {
				best = ti
			}
		}
		return []URI{{Device: device, Track: best.Number}}
	}
	uris := make([]URI, 0, len(titles))
	for _, ti := range titles {
		uris = append(uris, URI{Device: device, Track: ti.Number})
	}
	return uris
}

// URI addresses a disc or one of its tracks: dvd://?3 is track 3 on the
// configured drive, dvd:///dev/sr1?3 names the drive explicitly, and a URI
// without a track is the whole disc.
type URI struct {
	Device string
	Track  int
}

// ErrBadURI is returned for URIs that are not disc URIs.
var ErrBadURI = errors.New("disc: not a disc uri")

// ParseURI parses a disc URI.
func ParseURI(s string) (URI, error) {
	u, err := url.Parse(s)
	if err != nil {
		return URI{}, fmt.Errorf("%w: %w", ErrBadURI, err)
	}
	if u.Scheme != Scheme {
		return URI{}, fmt.Errorf("%w: %q", ErrBadURI, s)
	}

	out := URI{Device: u.Host + u.Path}
	if q := strings.TrimSpace(u.RawQuery); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			return URI{}, fmt.Errorf("%w: bad track %q", ErrBadURI, q)
		}
		out.Track = n
	}
	return out, nil
}

// Whole reports whether the URI names the whole disc.
func (u URI) Whole() bool { return u.Track == 0 }

// String formats the URI. The device is omitted when empty.
func (u URI) String() string {
	s := Scheme + "://" + u.Device
	if u.Track > 0 {
		s += "?" + strconv.Itoa(u.Track)
	}
	return s
}

// Playlist is the ordered list of tracks queued for play.
type Playlist struct {
	mu      sync.Mutex
	entries []URI
}

// NewPlaylist queues uris in order.
func NewPlaylist(uris ...URI) *Playlist {
	return &Playlist{entries: append([]URI(nil), uris...)}
}

// Next pops the first entry.
func (p *Playlist) Next() (URI, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.entries) == 0 {
		return URI{}, false
	}
	u := p.entries[0]
	p.entries = p.entries[1:]
	return u, true
}

// Len returns the number of queued entries.
func (p *Playlist) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Add queues uris after the existing entries.
func (p *Playlist) Add(uris ...URI) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, uris...)
}

// PurgeDevice removes every entry on device and returns how many went.
func (p *Playlist) PurgeDevice(device string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.entries[:0]
	for _, u := range p.entries {
		if u.Device != device {
			kept = append(kept, u)
		}
	}
	n := len(p.entries) - len(kept)
	p.entries = kept
	return n
}
