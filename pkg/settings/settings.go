package settings

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// WindowGeometry is the video window's placement, persisted across plays.
type WindowGeometry struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Valid reports whether the geometry was ever saved.
func (g WindowGeometry) Valid() bool { return g.W > 0 && g.H > 0 }

// Settings is the user state that persists across application restarts.
// Configuration lives in the config file; this is what the player learns.
type Settings struct {
	Window WindowGeometry `json:"window"`
	Volume int            `json:"volume"`
}

var defaultSettings = Settings{
	Volume: 100,
}

// Load reads the settings file. When the file is missing or cannot be parsed,
// defaults are returned so playback can continue.
func Load(path string) Settings {
	f, err := os.Open(path)
	if err != nil {
		return defaultSettings
	}
	defer f.Close()

	var s Settings
	if err := json.NewDecoder(f).Decode(&s); err != nil {
		return defaultSettings
	}

	// Partially written files keep working when new fields are added.
	if s.Volume <= 0 || s.Volume > 100 {
		s.Volume = defaultSettings.Volume
	}
	if !s.Window.Valid() {
		s.Window = defaultSettings.Window
	}
	return s
}

// Save writes the settings through a temp file and rename.
func Save(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// WindowManager restores and persists the video window geometry.
//
// The display toolkit reports window positions after decoration, which differ
// from the undecorated position the window was created at. The first report
// after placement gives the difference (the fudge); saved positions have it
// subtracted so the next play lands where this one was.
type WindowManager struct {
	path   string
	logger *slog.Logger

	mu       sync.Mutex
	settings Settings
	reqX     int
	reqY     int
	placed   bool
	fudgeX   int
	fudgeY   int
	measured bool
}

// NewWindowManager loads the settings at path.
func NewWindowManager(path string, logger *slog.Logger) *WindowManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &WindowManager{path: path, logger: logger, settings: Load(path)}
}

// Restore returns the saved geometry, if any.
func (m *WindowManager) Restore() (WindowGeometry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings.Window, m.settings.Window.Valid()
}

// Volume returns the saved output volume (0-100).
func (m *WindowManager) Volume() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings.Volume
}

// Placed records where the window was asked to appear.
func (m *WindowManager) Placed(x, y int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqX, m.reqY = x, y
	m.placed = true
	m.measured = false
}

// Observe takes a position reported by the toolkit. The first report after
// Placed fixes the fudge.
func (m *WindowManager) Observe(x, y int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.placed || m.measured {
		return
	}
	m.fudgeX = x - m.reqX
	m.fudgeY = y - m.reqY
	m.measured = true
	m.logger.Debug("window placement fudge", "dx", m.fudgeX, "dy", m.fudgeY)
}

// Fudge returns the measured decoration offset.
func (m *WindowManager) Fudge() (dx, dy int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fudgeX, m.fudgeY
}

// Save persists the window at its reported position and size.
func (m *WindowManager) Save(x, y, w, h int) error {
	m.mu.Lock()
	m.settings.Window = WindowGeometry{X: x - m.fudgeX, Y: y - m.fudgeY, W: w, H: h}
	s := m.settings
	m.mu.Unlock()

	if err := Save(m.path, s); err != nil {
		return fmt.Errorf("save window geometry: %w", err)
	}
	m.logger.Info("window geometry saved", "x", s.Window.X, "y", s.Window.Y, "w", w, "h", h)
	return nil
}
