//go:build darwin

package performance

import (
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

// GetSystemMemory approximates memory on macOS: total comes from hw.memsize,
// used is what the Go runtime has obtained from the system.
func GetSystemMemory() MemorySnapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	totalMB := uint64(2048)
	if bytes, err := unix.SysctlUint64("hw.memsize"); err == nil {
		totalMB = bytes / (1024 * 1024)
	}
	usedMB := m.Sys / (1024 * 1024)
	if usedMB > totalMB {
		usedMB = totalMB
	}

	return MemorySnapshot{
		Timestamp:   time.Now(),
		TotalMB:     totalMB,
		AvailableMB: totalMB - usedMB,
		UsedMB:      usedMB,
		FreeMB:      totalMB - usedMB,
	}
}
