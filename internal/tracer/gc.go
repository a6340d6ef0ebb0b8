package tracer

import (
	"runtime"
	"sync"
	"time"
)

// GCStats summarizes garbage collection during a session.
type GCStats struct {
	Count     uint32
	Pause     time.Duration
	Collected uint64
	// Uncollectable is always zero in Go; it is kept so reports have a
	// stable shape.
	Uncollectable uint64
}

// gcWatcher reports GC activity as the difference between the runtime
// counters at start and at the time of the read. After stop the result is
// frozen.
type gcWatcher struct {
	mu     sync.Mutex
	base   runtime.MemStats
	final  *GCStats
	active bool
}

func newGCWatcher() *gcWatcher {
	return &gcWatcher{}
}

func (w *gcWatcher) start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	runtime.ReadMemStats(&w.base)
	w.final = nil
	w.active = true
}

func (w *gcWatcher) delta() GCStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return GCStats{
		Count:     ms.NumGC - w.base.NumGC,
		Pause:     time.Duration(ms.PauseTotalNs - w.base.PauseTotalNs),
		Collected: ms.Frees - w.base.Frees,
	}
}

// Stats returns the statistics gathered so far.
func (w *gcWatcher) Stats() GCStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case w.final != nil:
		return *w.final
	case !w.active:
		return GCStats{}
	}
	return w.delta()
}

// stop freezes and returns the final statistics.
func (w *gcWatcher) stop() GCStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.final == nil {
		s := GCStats{}
		if w.active {
			s = w.delta()
		}
		w.final = &s
		w.active = false
	}
	return *w.final
}
