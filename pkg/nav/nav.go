// Package nav describes the navigation engine the playback controller drives:
// the events it emits while reading a disc block by block, and the controls
// it exposes for menus, seeking and title selection.
package nav

import (
	"errors"
	"fmt"
	"time"
)

// EventKind tags a NavEvent.
type EventKind int

const (
	EventBlock EventKind = iota
	EventNop
	EventStillFrame
	EventSPUStreamChange
	EventAudioStreamChange
	EventVTSChange
	EventCellChange
	EventNavPacket
	EventStop
	EventHighlight
	EventPaletteChange
	EventChannelHop
	EventWait
)

func (k EventKind) String() string {
	switch k {
	case EventBlock:
		return "block"
	case EventNop:
		return "nop"
	case EventStillFrame:
		return "still"
	case EventSPUStreamChange:
		return "spu_stream_change"
	case EventAudioStreamChange:
		return "audio_stream_change"
	case EventVTSChange:
		return "vts_change"
	case EventCellChange:
		return "cell_change"
	case EventNavPacket:
		return "nav_packet"
	case EventStop:
		return "stop"
	case EventHighlight:
		return "highlight"
	case EventPaletteChange:
		return "palette_change"
	case EventChannelHop:
		return "channel_hop"
	case EventWait:
		return "wait"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// BlockSize is one DVD logical block.
const BlockSize = 2048

// ButtonRect is a clickable menu region in the video stream's native
// coordinates.
type ButtonRect struct {
	X, Y, W, H int
}

// Contains reports whether the point lies inside the rectangle.
func (r ButtonRect) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.W && y >= r.Y && y < r.Y+r.H
}

// Event is one item produced by Engine.ReadNext. Only the fields for Kind are
// meaningful.
type Event struct {
	Kind EventKind

	// Data holds the block bytes for EventBlock and EventNavPacket. It is only
	// valid until the next ReadNext call.
	Data []byte

	// Buttons and MenuDuration accompany EventNavPacket.
	Buttons      []ButtonRect
	MenuDuration time.Duration

	// StillLength is the still-frame hold in seconds; 0xff means indefinite.
	StillLength int

	// Highlight button number for EventHighlight (1-based, 0 none).
	Highlight int

	// VTS change: title set numbers before and after.
	OldVTS, NewVTS int

	// Cell change: current title and position/length in blocks.
	Title    int
	Position uint32
	Length   uint32

	// Logical stream number for audio/SPU stream changes.
	Stream int
}

// TitleInfo describes one title for track enumeration.
type TitleInfo struct {
	Number   int
	Chapters int
	Duration time.Duration
	// StartSector and EndSector bound the title's first program chain within
	// its title set. Both are 0 when the engine cannot tell.
	StartSector uint32
	EndSector   uint32
}

// Position is a disc position in blocks.
type Position struct {
	Offset uint32
	Length uint32
}

// Errors reported by engines.
var (
	ErrOpen     = errors.New("nav: open failed")
	ErrRead     = errors.New("nav: read failed")
	ErrNoButton = errors.New("nav: no such button")
)

// Direction moves the menu highlight.
type Direction int

const (
	Up Direction = iota
	Down
	Left
	Right
)

// Engine wraps the navigation library. It is owned by the navigation thread.
type Engine interface {
	// ReadNext blocks until the next event is available.
	ReadNext() (Event, error)
	SelectButton(n int) error
	MoveButton(d Direction) error
	ActivateButton() error
	// CurrentHighlight returns the highlighted button number and its rectangle.
	CurrentHighlight() (int, *ButtonRect, error)
	SeekTo(offset uint32) error
	PlayTitle(n int) error
	StillSkip() error
	WaitSkip() error
	Position() (Position, error)
	InTitleDomain() bool
	CurrentTitle() (title, part int, err error)
	Titles() ([]TitleInfo, error)
	DiscTitle() (string, error)
	Close() error
}

// Opener opens an Engine on a device or image path.
type Opener func(device, language string) (Engine, error)
