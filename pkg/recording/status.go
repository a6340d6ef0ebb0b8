package recording

import (
	"fmt"
	"math"
	"time"
)

// Byte size units.
const (
	KB = 1024
	MB = KB * KB
	GB = MB * KB
)

// Status is a point-in-time measurement of process and system resources.
type Status struct {
	When        time.Duration
	CPU         float64
	SystemCPU   float64
	Memory      uint64
	MemoryTotal uint64
	MemoryFree  uint64
	ModuleCount int
	ObjectCount uint64
	Goroutines  int
	Duration    time.Duration
}

// NewStatus rounds When to the millisecond and CPU to a whole percent.
func NewStatus(when time.Duration, cpu, systemCPU float64, memory, memoryTotal, memoryFree uint64,
	moduleCount int, objectCount uint64, goroutines int) Status {
	return Status{
		When:        when.Round(time.Millisecond),
		CPU:         math.Round(cpu),
		SystemCPU:   systemCPU,
		Memory:      memory,
		MemoryTotal: memoryTotal,
		MemoryFree:  memoryFree,
		ModuleCount: moduleCount,
		ObjectCount: objectCount,
		Goroutines:  goroutines,
	}
}

// IsSimilar compares process CPU, memory and the module and object counts.
// SystemCPU and Goroutines fluctuate on an idle process and are ignored,
// along with When and Duration.
func (s Status) IsSimilar(other Status) bool {
	return s.CPU == other.CPU &&
		s.Memory == other.Memory &&
		s.MemoryTotal == other.MemoryTotal &&
		s.MemoryFree == other.MemoryFree &&
		s.ModuleCount == other.ModuleCount &&
		s.ObjectCount == other.ObjectCount
}

// FormatBytes renders a byte amount as GB, MB, KB or bytes.
func FormatBytes(amount uint64) string {
	switch {
	case amount > GB:
		return fmt.Sprintf("%.1fGB", float64(amount)/GB)
	case amount > MB:
		return fmt.Sprintf("%.1fMB", float64(amount)/MB)
	case amount > KB:
		return fmt.Sprintf("%.1fKB", float64(amount)/KB)
	}
	return fmt.Sprintf("%d bytes", amount)
}
