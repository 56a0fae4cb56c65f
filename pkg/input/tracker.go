package input

import (
	"slices"

	"github.com/veandco/go-sdl2/sdl"
)

// Action is a user intent decoded from the keyboard or mouse.
type Action int

const (
	ActionNone Action = iota
	ActionUp
	ActionDown
	ActionLeft
	ActionRight
	ActionActivate
	ActionPause
	ActionStop
)

// KeyMap binds scancodes to actions.
type KeyMap map[sdl.Scancode]Action

// DefaultKeyMap is arrows to move, Enter to activate, Space to pause and
// Escape to stop.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		sdl.SCANCODE_UP:       ActionUp,
		sdl.SCANCODE_DOWN:     ActionDown,
		sdl.SCANCODE_LEFT:     ActionLeft,
		sdl.SCANCODE_RIGHT:    ActionRight,
		sdl.SCANCODE_RETURN:   ActionActivate,
		sdl.SCANCODE_KP_ENTER: ActionActivate,
		sdl.SCANCODE_SPACE:    ActionPause,
		sdl.SCANCODE_ESCAPE:   ActionStop,
	}
}

// KeyPressTracker manages key press state to prevent duplicate key presses
type KeyPressTracker struct {
	pressed map[sdl.Scancode]bool
}

// NewKeyPressTracker creates a new KeyPressTracker
func NewKeyPressTracker() KeyPressTracker {
	return KeyPressTracker{
		pressed: make(map[sdl.Scancode]bool),
	}
}

// IsPressed checks if a key was just pressed (not held)
func (kpt *KeyPressTracker) IsPressed(keyState []uint8, scancode sdl.Scancode) bool {
	if int(scancode) >= len(keyState) {
		return false
	}
	isCurrentlyPressed := keyState[scancode] != 0
	wasPressed := kpt.pressed[scancode]

	kpt.pressed[scancode] = isCurrentlyPressed

	return isCurrentlyPressed && !wasPressed
}

// Keyboard turns polled keyboard state into edge-triggered actions.
type Keyboard struct {
	keys    KeyMap
	tracker KeyPressTracker
	order   []sdl.Scancode
}

// NewKeyboard builds a keyboard decoder for keys.
func NewKeyboard(keys KeyMap) *Keyboard {
	k := &Keyboard{keys: keys, tracker: NewKeyPressTracker()}
	for sc := range keys {
		k.order = append(k.order, sc)
	}
	slices.Sort(k.order)
	return k
}

// Poll returns the actions whose keys went down since the last poll.
func (k *Keyboard) Poll(keyState []uint8) []Action {
	var out []Action
	for _, sc := range k.order {
		if k.tracker.IsPressed(keyState, sc) {
			out = append(out, k.keys[sc])
		}
	}
	return out
}

// MousePressTracker manages mouse button press state to prevent duplicate presses
type MousePressTracker struct {
	// Keyed by SDL button mask (e.g. sdl.ButtonLMask())
	pressed map[uint32]bool
}

// NewMousePressTracker creates a new MousePressTracker
func NewMousePressTracker() MousePressTracker {
	return MousePressTracker{
		pressed: make(map[uint32]bool),
	}
}

// IsPressed checks if a mouse button (by mask) was just pressed (not held)
func (mpt *MousePressTracker) IsPressed(mouseState uint32, buttonMask uint32) bool {
	isCurrentlyPressed := (mouseState & buttonMask) != 0
	wasPressed := mpt.pressed[buttonMask]

	mpt.pressed[buttonMask] = isCurrentlyPressed

	return isCurrentlyPressed && !wasPressed
}

// Click is a left-button press at window coordinates.
type Click struct {
	X, Y int
}

// Mouse turns polled mouse state into clicks.
type Mouse struct {
	tracker MousePressTracker
	mask    uint32
}

// NewMouse tracks the left button.
func NewMouse() *Mouse {
	return &Mouse{tracker: NewMousePressTracker(), mask: sdl.ButtonLMask()}
}

// Poll reports a click when the left button went down since the last poll.
func (m *Mouse) Poll(x, y int32, state uint32) (Click, bool) {
	if !m.tracker.IsPressed(state, m.mask) {
		return Click{}, false
	}
	return Click{X: int(x), Y: int(y)}, true
}
