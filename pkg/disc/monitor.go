package disc

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"
)

// MediaMonitor raises the media-changed signal for one drive from udev
// netlink events.
type MediaMonitor struct {
	device   string
	onChange func(device string)
	logger   *slog.Logger

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewMediaMonitor returns nil when device is empty or not a drive.
func NewMediaMonitor(device string, logger *slog.Logger, onChange func(device string)) *MediaMonitor {
	device = strings.TrimSpace(device)
	if device == "" || !IsDrive(device) {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MediaMonitor{device: device, onChange: onChange, logger: logger}
}

// Start connects to the netlink socket. A connection failure is logged and
// leaves the monitor idle.
func (m *MediaMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("netlink connect failed, media changes will not be detected", "error", err)
		return nil
	}
	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	go m.loop(ctx, conn, m.quit)
	m.logger.Info("media monitor started", "device", m.device)
	return nil
}

// Stop shuts the monitor down. Safe on nil and unstarted monitors.
func (m *MediaMonitor) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	close(m.quit)
	m.quit = nil
	_ = m.conn.Close()
	m.conn = nil
	m.running = false
}

// Running reports whether the monitor is listening.
func (m *MediaMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *MediaMonitor) loop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, mediaMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case ev := <-queue:
			m.handle(ev)
		case err := <-errs:
			m.logger.Warn("netlink monitor error", "error", err)
		}
	}
}

// mediaMatcher accepts change events on optical block devices. Ejects carry
// no ID_CDROM_MEDIA so it is not required.
func mediaMatcher() netlink.Matcher {
	action := "change"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "block",
			"ID_CDROM":  "1",
		},
	})
	return rules
}

func (m *MediaMonitor) handle(ev netlink.UEvent) {
	dev := deviceName(ev)
	if dev != m.device {
		m.logger.Debug("ignoring uevent", "device", dev, "action", string(ev.Action))
		return
	}
	m.logger.Info("media changed", "device", dev, "media", ev.Env["ID_CDROM_MEDIA"] == "1")
	if m.onChange != nil {
		m.onChange(dev)
	}
}

func deviceName(ev netlink.UEvent) string {
	if name := ev.Env["DEVNAME"]; name != "" {
		if !strings.HasPrefix(name, "/") {
			name = "/dev/" + name
		}
		return name
	}
	devpath := ev.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	parts := strings.Split(devpath, "/")
	return "/dev/" + parts[len(parts)-1]
}
