// Package session holds the state shared between the navigation thread and the
// demux thread of one disc play: a mutex-guarded DiscSession record and a small
// set of atomic flags that are read opportunistically.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"discplay/pkg/nav"
)

// IndefiniteStill is the still-frame duration the navigation library reports
// for a frame that is held until the user acts.
const IndefiniteStill = 0xff

// Flags are best-effort signals between the two playback threads. None of them
// carry data; each is set by one side and polled by the other.
type Flags struct {
	// StopRequested is the "please die" flag checked by the demux thread on every
	// loop iteration and at transport poll granularity.
	StopRequested atomic.Bool
	// CodecRecheck asks the demux thread to drain, close its input and reopen.
	CodecRecheck atomic.Bool
	// InMenu is true while the navigation library is outside a title domain.
	InMenu atomic.Bool
	// WakeUp interrupts a timed still-frame wait.
	WakeUp atomic.Bool
	// SeekEpoch increments on every seek; the demux thread flushes its queues when
	// it observes a new value.
	SeekEpoch atomic.Uint64
	// SeekAck is the last epoch the demux thread has flushed for: its queues,
	// its demuxer buffer and the transport are empty of pre-seek bytes.
	SeekAck atomic.Uint64
}

// RequestStop sets the stop flag.
func (f *Flags) RequestStop() { f.StopRequested.Store(true) }

// Stopping reports whether a stop has been requested.
func (f *Flags) Stopping() bool { return f.StopRequested.Load() }

// State captures the playback-engine condition bits the controller tracks.
type State struct {
	EndOfFile      bool
	Waiting        bool
	CellChanged    bool
	AudioChanged   bool
	VideoChanged   bool
	StreamChanged  bool
	VTSDomain      bool
	HighlightValid bool
}

// DiscSession is the one live record per playing disc. Every field is guarded
// by the session mutex; use Lock/Unlock or the accessor helpers. The mutex must
// never be held across disc or pipe I/O.
type DiscSession struct {
	mu sync.Mutex

	ID       string
	Device   string
	Title    string
	Track    int
	Language string

	State         State
	StillDuration time.Duration
	Position      uint32
	Length        uint32
	NoSeek        bool
	Opened        time.Time

	// Buttons is the menu geometry captured for the current screen, in the
	// video stream's native coordinates. Highlight is the selected button.
	Buttons   []nav.ButtonRect
	Highlight int
}

// New creates a session for device playing track (0 = whole disc).
func New(device string, track int, language string) *DiscSession {
	return &DiscSession{
		ID:       uuid.NewString(),
		Device:   device,
		Track:    track,
		Language: language,
		Opened:   time.Now(),
	}
}

// Lock acquires the session mutex.
func (s *DiscSession) Lock() { s.mu.Lock() }

// Unlock releases the session mutex.
func (s *DiscSession) Unlock() { s.mu.Unlock() }

// Update runs fn with the mutex held.
func (s *DiscSession) Update(fn func(s *DiscSession)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

// Snapshot returns a copy of the record taken under the mutex.
func (s *DiscSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:            s.ID,
		Device:        s.Device,
		Title:         s.Title,
		Track:         s.Track,
		State:         s.State,
		StillDuration: s.StillDuration,
		Position:      s.Position,
		Length:        s.Length,
		NoSeek:        s.NoSeek,
		Buttons:       append([]nav.ButtonRect(nil), s.Buttons...),
		Highlight:     s.Highlight,
	}
}

// Snapshot is an unlocked copy of a DiscSession.
type Snapshot struct {
	ID            string
	Device        string
	Title         string
	Track         int
	State         State
	StillDuration time.Duration
	Position      uint32
	Length        uint32
	NoSeek        bool
	Buttons       []nav.ButtonRect
	Highlight     int
}
