package status

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

// CPUTimes is the cumulative CPU time consumed by the process.
type CPUTimes struct {
	User   time.Duration
	System time.Duration
}

// Total returns user plus system time.
func (c CPUTimes) Total() time.Duration {
	return c.User + c.System
}

// Memory is one memory measurement.
type Memory struct {
	RSS   uint64
	Total uint64
	Free  uint64
}

// Probe reads process and host resources.
type Probe interface {
	CPUTimes() (CPUTimes, error)
	SystemCPU() (float64, error)
	Memory() (Memory, error)
	// HeapObjects returns the number of live heap objects. It may stop the world.
	HeapObjects() uint64
	Goroutines() int
	Modules() int
}

// SystemProbe measures the current process with gopsutil, falling back to
// getrusage for CPU times where gopsutil cannot read them.
type SystemProbe struct {
	proc    *process.Process
	modules int
}

// NewSystemProbe creates a probe for the running process.
func NewSystemProbe() *SystemProbe {
	// A failed lookup leaves proc nil and every reading uses its fallback.
	proc, _ := process.NewProcess(int32(os.Getpid())) //nolint:gosec // PIDs fit in int32.
	return &SystemProbe{proc: proc, modules: moduleCount()}
}

// CPUTimes implements Probe.
func (p *SystemProbe) CPUTimes() (CPUTimes, error) {
	if p.proc != nil {
		if t, err := p.proc.Times(); err == nil {
			return CPUTimes{
				User:   seconds(t.User),
				System: seconds(t.System),
			}, nil
		}
	}
	return rusageTimes()
}

// SystemCPU implements Probe. It averages the per-core utilization since the
// previous call.
func (p *SystemProbe) SystemCPU() (float64, error) {
	perCore, err := cpu.Percent(0, true)
	if err != nil {
		return 0, fmt.Errorf("failed to read system cpu: %w", err)
	}
	if len(perCore) == 0 {
		return 0, nil
	}
	var sum float64
	for _, v := range perCore {
		sum += v
	}
	return sum / float64(len(perCore)), nil
}

// Memory implements Probe.
func (p *SystemProbe) Memory() (Memory, error) {
	var m Memory
	vm, err := mem.VirtualMemory()
	if err != nil {
		return m, fmt.Errorf("failed to read virtual memory: %w", err)
	}
	m.Total = vm.Total
	m.Free = vm.Free

	if p.proc != nil {
		if info, err := p.proc.MemoryInfo(); err == nil {
			m.RSS = info.RSS
			return m, nil
		}
	}
	// Without process info, report what the Go runtime obtained from the OS.
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.RSS = ms.Sys - ms.HeapReleased
	return m, nil
}

// HeapObjects implements Probe.
func (p *SystemProbe) HeapObjects() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapObjects
}

// Goroutines implements Probe.
func (p *SystemProbe) Goroutines() int {
	return runtime.NumGoroutine()
}

// Modules implements Probe.
func (p *SystemProbe) Modules() int {
	return p.modules
}

// moduleCount returns the main module plus its dependencies.
func moduleCount() int {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return 0
	}
	return 1 + len(info.Deps)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
