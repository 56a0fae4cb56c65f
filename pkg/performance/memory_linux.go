//go:build linux

package performance

import (
	"time"

	"golang.org/x/sys/unix"
)

// GetSystemMemory reads system-wide memory through sysinfo(2). Buffers count as
// available since the kernel reclaims them under pressure.
func GetSystemMemory() MemorySnapshot {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return MemorySnapshot{Timestamp: time.Now()}
	}

	unit := uint64(info.Unit)
	totalMB := uint64(info.Totalram) * unit / (1024 * 1024)
	freeMB := uint64(info.Freeram) * unit / (1024 * 1024)
	bufferMB := uint64(info.Bufferram) * unit / (1024 * 1024)
	availableMB := freeMB + bufferMB

	return MemorySnapshot{
		Timestamp:   time.Now(),
		TotalMB:     totalMB,
		AvailableMB: availableMB,
		UsedMB:      totalMB - availableMB,
		FreeMB:      freeMB,
	}
}
