package performance

import (
	"log/slog"
	"runtime"
	"time"
)

// MemorySnapshot is the system memory state at one moment.
type MemorySnapshot struct {
	Timestamp   time.Time
	TotalMB     uint64
	AvailableMB uint64
	UsedMB      uint64
	FreeMB      uint64
}

// GetAvailableMemoryMB returns only the available memory in MB.
func GetAvailableMemoryMB() uint64 {
	return GetSystemMemory().AvailableMB
}

// GoMemoryStats is the subset of runtime.MemStats worth logging.
type GoMemoryStats struct {
	AllocMB uint64
	SysMB   uint64
	NumGC   uint32
}

// GetGoMemory reads the Go runtime's memory statistics.
func GetGoMemory() GoMemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return GoMemoryStats{
		AllocMB: m.Alloc / (1024 * 1024),
		SysMB:   m.Sys / (1024 * 1024),
		NumGC:   m.NumGC,
	}
}

// MemoryPressureLevel buckets available memory.
type MemoryPressureLevel int

const (
	MemoryPressureNone     MemoryPressureLevel = iota // >800MB available
	MemoryPressureLow                                 // 400-800MB available
	MemoryPressureMedium                              // 200-400MB available
	MemoryPressureHigh                                // 100-200MB available
	MemoryPressureCritical                            // <100MB available
)

// PressureFor classifies an amount of available memory.
func PressureFor(availableMB uint64) MemoryPressureLevel {
	switch {
	case availableMB < 100:
		return MemoryPressureCritical
	case availableMB < 200:
		return MemoryPressureHigh
	case availableMB < 400:
		return MemoryPressureMedium
	case availableMB < 800:
		return MemoryPressureLow
	default:
		return MemoryPressureNone
	}
}

// GetMemoryPressure returns the current memory pressure level.
func GetMemoryPressure() MemoryPressureLevel {
	return PressureFor(GetAvailableMemoryMB())
}

func (m MemoryPressureLevel) String() string {
	switch m {
	case MemoryPressureNone:
		return "none"
	case MemoryPressureLow:
		return "low"
	case MemoryPressureMedium:
		return "medium"
	case MemoryPressureHigh:
		return "high"
	case MemoryPressureCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// QueueSizeFor maps a pressure level to an audio packet queue capacity. DVD
// packets are at most one 2048-byte sector, so even the largest setting stays
// well under a megabyte per queue.
func QueueSizeFor(level MemoryPressureLevel) int {
	switch level {
	case MemoryPressureNone:
		return 256
	case MemoryPressureLow:
		return 128
	case MemoryPressureMedium:
		return 64
	case MemoryPressureHigh:
		return 32
	default:
		return 16
	}
}

// DefaultQueueSize derives the audio queue capacity from current memory
// pressure. The video queue is always twice this.
func DefaultQueueSize() int {
	return QueueSizeFor(GetMemoryPressure())
}

// LogMemorySnapshot logs system and runtime memory at debug level.
func LogMemorySnapshot(logger *slog.Logger) {
	sys := GetSystemMemory()
	goMem := GetGoMemory()
	logger.Debug("memory snapshot",
		"total_mb", sys.TotalMB,
		"available_mb", sys.AvailableMB,
		"used_mb", sys.UsedMB,
		"go_alloc_mb", goMem.AllocMB,
		"go_sys_mb", goMem.SysMB,
		"gc", goMem.NumGC,
		"pressure", PressureFor(sys.AvailableMB).String(),
	)
}
