// Package render draws decoded DVD video into an SDL2 window.
//
// Frames arrive on the demux thread and are parked in a FrameSlot. Everything
// that touches SDL runs on the main thread from Present and HandleWindowEvent.
// A window that cannot be created, or that the user closes, disables video
// without interrupting audio.
package render

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/veandco/go-sdl2/sdl"

	"discplay/pkg/codec"
	"discplay/pkg/layout"
	"discplay/pkg/nav"
	"discplay/pkg/performance"
	"discplay/pkg/settings"
)

// Options configures the video window.
type Options struct {
	Title       string
	Request     layout.Request
	Minimum     layout.Size
	ResizeDelay time.Duration
	Geometry    *settings.WindowManager
	Monitor     *performance.Monitor
	Logger      *slog.Logger
}

// Renderer is the video window.
type Renderer struct {
	opts    Options
	log     *slog.Logger
	slot    *FrameSlot
	sizer   *Sizer
	skipper *performance.FrameSkipper

	window   *sdl.Window
	renderer *sdl.Renderer
	texture  *sdl.Texture
	texSize  layout.Size
	windowID uint32

	buttons     layout.ButtonMap
	menuButtons []nav.ButtonRect
}

// New prepares a renderer. The window opens when the first picture arrives.
func New(opts Options) *Renderer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Title == "" {
		opts.Title = "discplay"
	}
	return &Renderer{
		opts:    opts,
		log:     opts.Logger,
		slot:    &FrameSlot{},
		sizer:   NewSizer(opts.Request, opts.Minimum, opts.ResizeDelay),
		skipper: performance.NewFrameSkipper(opts.Logger),
	}
}

// PlayVideo implements codec.VideoSink. It is called on the demux thread.
func (r *Renderer) PlayVideo(f codec.Frame) error { return r.slot.PlayVideo(f) }

// Active reports whether video is still being shown.
func (r *Renderer) Active() bool { return !r.slot.Disabled() }

// WindowID identifies the window in SDL events; 0 until it opens.
func (r *Renderer) WindowID() uint32 { return r.windowID }

// SetTitle renames the window.
func (r *Renderer) SetTitle(title string) {
	r.opts.Title = title
	if r.window != nil {
		r.window.SetTitle(title)
	}
}

// SetButtons installs the current menu geometry in stream coordinates.
func (r *Renderer) SetButtons(buttons []nav.ButtonRect) {
	r.menuButtons = buttons
	r.buttons.Update(buttons, r.sizer.StreamSize(), r.sizer.View())
}

// Hit returns the 1-based menu button under a window point, or 0.
func (r *Renderer) Hit(x, y int) int { return r.buttons.Hit(x, y) }

// Present uploads the newest picture, if any, and redraws. Main thread only.
func (r *Renderer) Present(now time.Time) {
	if !r.Active() {
		return
	}
	if target, apply := r.sizer.Settle(now); apply && r.window != nil {
		r.window.SetSize(int32(target.W), int32(target.H))
		r.log.Debug("window re-aspected", "width", target.W, "height", target.H)
	}
	r.buttons.Update(r.menuButtons, r.sizer.StreamSize(), r.sizer.View())

	// Partially resized frames are never shown.
	if r.sizer.Blocked() {
		return
	}

	var uploadErr error
	took := r.slot.Take(func(f codec.Frame) {
		uploadErr = r.upload(f)
	})
	if uploadErr != nil {
		r.disable(uploadErr)
		return
	}
	if !took || r.texture == nil {
		return
	}

	start := time.Now()
	view := r.sizer.View()
	dst := sdl.Rect{X: int32(view.X), Y: int32(view.Y), W: int32(view.W), H: int32(view.H)}
	_ = r.renderer.SetDrawColor(0, 0, 0, 255)
	_ = r.renderer.Clear()
	if err := r.renderer.Copy(r.texture, nil, &dst); err != nil {
		r.log.Warn("blit failed", "error", err)
		return
	}
	r.renderer.Present()
	if r.opts.Monitor != nil {
		r.opts.Monitor.RecordBlit(time.Since(start))
	}
}

func (r *Renderer) upload(f codec.Frame) error {
	size := layout.Size{W: f.Width, H: f.Height}
	if size.W <= 0 || size.H <= 0 {
		return nil
	}
	if r.window == nil {
		if err := r.open(size); err != nil {
			return err
		}
	}
	if size != r.texSize {
		if err := r.resizeTexture(size); err != nil {
			return err
		}
	}

	if r.opts.Monitor != nil && !r.skipper.ShouldBlit(r.opts.Monitor.GetReport()) {
		r.opts.Monitor.RecordSkippedBlit()
		return nil
	}

	pixels, pitch, err := r.texture.Lock(nil)
	if err != nil {
		return fmt.Errorf("lock texture: %w", err)
	}
	defer r.texture.Unlock()
	copyRows(pixels, pitch, f.Pixels, f.Width*4, f.Height)
	return nil
}

// copyRows copies height rows of stride bytes into a destination whose rows
// are pitch bytes apart.
func copyRows(dst []byte, pitch int, src []byte, stride, height int) {
	if pitch == stride {
		copy(dst, src)
		return
	}
	n := min(pitch, stride)
	for y := 0; y < height; y++ {
		so, do := y*stride, y*pitch
		if so+n > len(src) || do+n > len(dst) {
			return
		}
		copy(dst[do:do+n], src[so:so+n])
	}
}

func (r *Renderer) open(stream layout.Size) error {
	size, _ := r.sizer.Stream(stream)
	x, y := int32(sdl.WINDOWPOS_CENTERED), int32(sdl.WINDOWPOS_CENTERED)
	if r.opts.Geometry != nil {
		if g, ok := r.opts.Geometry.Restore(); ok {
			x, y = int32(g.X), int32(g.Y)
			size = layout.Size{W: g.W, H: g.H}
			r.sizer.Place(size)
		}
	}

	window, err := sdl.CreateWindow(r.opts.Title, x, y, int32(size.W), int32(size.H),
		sdl.WINDOW_SHOWN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return fmt.Errorf("create window: %w", err)
	}
	renderer, err := sdl.CreateRenderer(window, -1, sdl.RENDERER_ACCELERATED|sdl.RENDERER_PRESENTVSYNC)
	if err != nil {
		r.log.Warn("accelerated renderer unavailable, using software", "error", err)
		renderer, err = sdl.CreateRenderer(window, -1, sdl.RENDERER_SOFTWARE)
		if err != nil {
			_ = window.Destroy()
			return fmt.Errorf("create renderer: %w", err)
		}
	}
	if r.opts.Minimum.W > 0 && r.opts.Minimum.H > 0 {
		window.SetMinimumSize(int32(r.opts.Minimum.W), int32(r.opts.Minimum.H))
	}

	r.window = window
	r.renderer = renderer
	r.windowID, _ = window.GetID()
	if r.opts.Geometry != nil {
		var bounds sdl.Rect
		if idx, err := window.GetDisplayIndex(); err == nil {
			bounds, _ = sdl.GetDisplayBounds(idx)
		}
		r.opts.Geometry.Placed(requestedPosition(x, y, size, bounds))
	}
	if info, err := renderer.GetInfo(); err == nil {
		r.log.Info("video window opened",
			"renderer", info.Name,
			"accelerated", info.Flags&sdl.RENDERER_ACCELERATED != 0,
			"width", size.W,
			"height", size.H,
		)
	}
	return nil
}

// requestedPosition turns the position handed to CreateWindow into screen
// coordinates, centering a WINDOWPOS_CENTERED axis within bounds.
func requestedPosition(x, y int32, size layout.Size, bounds sdl.Rect) (int, int) {
	centered := func(v int32) bool {
		return uint32(v)&0xFFFF0000 == uint32(sdl.WINDOWPOS_CENTERED_MASK)
	}
	rx, ry := int(x), int(y)
	if centered(x) {
		rx = int(bounds.X) + (int(bounds.W)-size.W)/2
	}
	if centered(y) {
		ry = int(bounds.Y) + (int(bounds.H)-size.H)/2
	}
	return rx, ry
}

func (r *Renderer) resizeTexture(size layout.Size) error {
	if r.texture != nil {
		_ = r.texture.Destroy()
		r.texture = nil
	}
	texture, err := r.renderer.CreateTexture(uint32(sdl.PIXELFORMAT_RGBA32), sdl.TEXTUREACCESS_STREAMING,
		int32(size.W), int32(size.H))
	if err != nil {
		return fmt.Errorf("create texture: %w", err)
	}
	r.texture = texture
	r.texSize = size
	r.skipper.Reset()

	if target, changed := r.sizer.Stream(size); changed {
		r.window.SetSize(int32(target.W), int32(target.H))
	}
	r.log.Debug("video stream size", "width", size.W, "height", size.H)
	return nil
}

// HandleWindowEvent processes events for the video window. It reports
// whether the event belonged to it.
func (r *Renderer) HandleWindowEvent(e *sdl.WindowEvent, now time.Time) bool {
	if r.window == nil || e.WindowID != r.windowID {
		return false
	}
	switch e.Event {
	case sdl.WINDOWEVENT_SIZE_CHANGED, sdl.WINDOWEVENT_RESIZED:
		r.sizer.Resized(layout.Size{W: int(e.Data1), H: int(e.Data2)}, now)
	case sdl.WINDOWEVENT_MOVED:
		if r.opts.Geometry != nil {
			r.opts.Geometry.Observe(int(e.Data1), int(e.Data2))
		}
	case sdl.WINDOWEVENT_CLOSE:
		r.log.Info("video window closed by user, audio continues")
		r.saveGeometry()
		r.teardown()
		r.slot.Disable()
	}
	return true
}

func (r *Renderer) disable(err error) {
	r.log.Warn("video disabled, audio continues", "error", err)
	r.teardown()
	r.slot.Disable()
}

func (r *Renderer) saveGeometry() {
	if r.window == nil || r.opts.Geometry == nil {
		return
	}
	x, y := r.window.GetPosition()
	w, h := r.window.GetSize()
	if err := r.opts.Geometry.Save(int(x), int(y), int(w), int(h)); err != nil {
		r.log.Warn("window geometry not saved", "error", err)
	}
}

func (r *Renderer) teardown() {
	var errs []error
	if r.texture != nil {
		errs = append(errs, r.texture.Destroy())
		r.texture = nil
	}
	if r.renderer != nil {
		errs = append(errs, r.renderer.Destroy())
		r.renderer = nil
	}
	if r.window != nil {
		errs = append(errs, r.window.Destroy())
		r.window = nil
	}
	r.texSize = layout.Size{}
	if err := errors.Join(errs...); err != nil {
		r.log.Debug("video teardown", "error", err)
	}
}

// Close persists the window geometry and releases SDL objects. Main thread
// only; call after the demux thread has stopped.
func (r *Renderer) Close() {
	r.saveGeometry()
	r.teardown()
	r.slot.Disable()
	if d := r.slot.Dropped(); d > 0 {
		r.log.Debug("frames replaced before display", "count", d)
	}
}
