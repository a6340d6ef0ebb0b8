// Package status periodically samples CPU, memory and runtime counters of
// the profiled process and appends them to a recording.
package status

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	stErrors "github.com/coral-mesh/stacktape/internal/errors"
	"github.com/coral-mesh/stacktape/internal/safe"
	"github.com/coral-mesh/stacktape/internal/snapshot"
	"github.com/coral-mesh/stacktape/pkg/recording"
)

// ErrAlreadyRunning is returned by Start on a running generator.
var ErrAlreadyRunning = errors.New("status generator already running")

// Config holds the generator cadences.
type Config struct {
	// Interval between status samples (default: 100ms).
	Interval time.Duration
	// MemoryInterval is the minimum time between memory and object
	// measurements; cached values are reused in between (default: 1s).
	MemoryInterval time.Duration
	// StopTimeout bounds the wait for the loop on Stop (default: 5s).
	StopTimeout time.Duration
}

// Generator samples resources into a recording.
type Generator struct {
	rec    *recording.Recording
	probe  Probe
	logger zerolog.Logger
	config Config
	now    func() time.Time

	// Sampling state, guarded by mu: ticks come from the loop and from Stop.
	mu          sync.Mutex
	lastWall    time.Time
	lastCPU     CPUTimes
	haveCPU     bool
	memory      Memory
	objects     uint64
	goroutines  int
	lastMemTime time.Time

	listener atomic.Pointer[func(rss uint64)]
	loopHook atomic.Pointer[func(goroutineID int64)]

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option customizes a Generator.
type Option func(*Generator)

// WithProbe replaces the system probe.
func WithProbe(p Probe) Option {
	return func(g *Generator) { g.probe = p }
}

// WithClock replaces the wall clock used for CPU and memory throttling.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// New creates a Generator writing to rec.
func New(rec *recording.Recording, config Config, logger zerolog.Logger, opts ...Option) *Generator {
	if config.Interval <= 0 {
		config.Interval = 100 * time.Millisecond
	}
	if config.MemoryInterval <= 0 {
		config.MemoryInterval = time.Second
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = 5 * time.Second
	}
	g := &Generator{
		rec:    rec,
		logger: logger.With().Str("component", "status_generator").Logger(),
		config: config,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.probe == nil {
		g.probe = NewSystemProbe()
	}
	return g
}

// OnMemory registers fn to receive every fresh RSS measurement.
func (g *Generator) OnMemory(fn func(rss uint64)) {
	g.listener.Store(&fn)
}

// OnLoop registers fn to receive the sampling loop's goroutine ID when the
// loop starts, so a stack sampler can leave it out.
func (g *Generator) OnLoop(fn func(goroutineID int64)) {
	g.loopHook.Store(&fn)
}

// Start takes a first sample and starts the sampling loop.
func (g *Generator) Start(ctx context.Context) error {
	if !g.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	g.logger.Debug().
		Dur("interval", g.config.Interval).
		Dur("memory_interval", g.config.MemoryInterval).
		Msg("Starting status generator")

	g.Sample()

	ctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan struct{})
	started := make(chan struct{})
	go g.loop(ctx, started)
	<-started
	return nil
}

func (g *Generator) loop(ctx context.Context, started chan<- struct{}) {
	defer close(g.done)
	if fn := g.loopHook.Load(); fn != nil {
		(*fn)(snapshot.CurrentGoroutineID())
	}
	close(started)
	timer := time.NewTimer(g.config.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if !g.running.Load() {
				return
			}
			g.tick()
			timer.Reset(g.config.Interval)
		}
	}
}

func (g *Generator) tick() {
	defer stErrors.Recover(g.logger, "status tick")
	g.Sample()
}

// Stop ends the loop, waiting at most StopTimeout, then takes two final
// samples so the recording ends with the latest values.
func (g *Generator) Stop() {
	if !g.running.CompareAndSwap(true, false) {
		return
	}
	g.cancel()
	select {
	case <-g.done:
	case <-time.After(g.config.StopTimeout):
		g.logger.Warn().Dur("timeout", g.config.StopTimeout).Msg("Status generator did not stop in time")
	}
	g.tick()
	g.tick()
	g.logger.Debug().Msg("Status generator stopped")
}

// Sample measures resources once and adds the status to the recording. It
// returns the status and whether the recording kept it.
func (g *Generator) Sample() (recording.Status, bool) {
	g.mu.Lock()
	wall := g.now()
	cpu := g.processCPU(wall)
	systemCPU, err := g.probe.SystemCPU()
	if err != nil {
		g.logger.Debug().Err(err).Msg("System CPU unavailable")
	}
	fresh := g.refreshMemory(wall)
	memory, objects, goroutines := g.memory, g.objects, g.goroutines
	g.mu.Unlock()

	if fresh {
		if fn := g.listener.Load(); fn != nil {
			(*fn)(memory.RSS)
		}
	}

	s := recording.NewStatus(
		g.rec.Now(),
		cpu,
		systemCPU,
		memory.RSS,
		memory.Total,
		memory.Free,
		g.probe.Modules(),
		objects,
		goroutines,
	)
	return s, g.rec.AddStatus(s)
}

// processCPU returns the process CPU percentage since the previous call.
func (g *Generator) processCPU(wall time.Time) float64 {
	times, err := g.probe.CPUTimes()
	if err != nil {
		g.logger.Debug().Err(err).Msg("Process CPU times unavailable")
		return 0
	}
	defer func() {
		g.lastWall, g.lastCPU, g.haveCPU = wall, times, true
	}()
	if !g.haveCPU {
		return 0
	}
	elapsed := wall.Sub(g.lastWall)
	if elapsed <= 0 {
		return 0
	}
	used := times.Total() - g.lastCPU.Total()
	return safe.ClampPercent(float64(used) / float64(elapsed) * 100)
}

// refreshMemory re-measures memory when MemoryInterval has elapsed and
// reports whether it did.
func (g *Generator) refreshMemory(wall time.Time) bool {
	if !g.lastMemTime.IsZero() && wall.Sub(g.lastMemTime) < g.config.MemoryInterval {
		return false
	}
	m, err := g.probe.Memory()
	if err != nil {
		g.logger.Debug().Err(err).Msg("Memory information unavailable")
	} else {
		g.memory = m
	}
	g.objects = g.probe.HeapObjects()
	g.goroutines = g.probe.Goroutines()
	g.lastMemTime = wall
	return err == nil
}
