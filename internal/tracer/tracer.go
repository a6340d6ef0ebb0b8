// Package tracer samples the stacks of every goroutine at a fixed cadence
// and turns consecutive samples into calls. It also records markers emitted
// through log interception and, when stopped, a GC and heap report.
package tracer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	stErrors "github.com/coral-mesh/stacktape/internal/errors"
	"github.com/coral-mesh/stacktape/internal/snapshot"
	"github.com/coral-mesh/stacktape/pkg/recording"
)

// MinSampleInterval is the shortest accepted sample interval.
const MinSampleInterval = 5 * time.Millisecond

// ErrInvalidTransition is returned when Start or Stop is called in a state
// that does not allow it.
var ErrInvalidTransition = errors.New("invalid tracer state transition")

// State is the lifecycle state of a Tracer.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Config holds tracer configuration.
type Config struct {
	SampleInterval  time.Duration // Base sample interval (default: 50ms)
	MemoryWarningGB int           // RSS in GiB above which sampling slows down (default: 32)
	CaptureStdout   bool          // Tee os.Stdout into Info markers
	StopTimeout     time.Duration // Join timeout for the sampler (default: 5s)
	LeakReportLimit int           // Allocation sites in the leak report (default: 100)
	SkipLeakReport  bool          // Skip the final GC and heap report
}

// Source returns the current goroutines.
type Source func() ([]snapshot.Goroutine, error)

// Tracer is the stack sampler.
type Tracer struct {
	rec    *recording.Recording
	snap   *snapshot.Snapshotter
	logger zerolog.Logger
	config Config
	source Source

	state    atomic.Int32
	interval atomic.Int64

	// excluded holds the profiler's own goroutines: the sampler, the stdout
	// pump and any loop registered through Exclude.
	excluded sync.Map

	memMu     sync.Mutex
	warningGB uint64

	// mergeMu is held for a whole tick; the sampler owns the merger.
	mergeMu sync.Mutex
	merger  *Merger

	cancel context.CancelFunc
	done   chan struct{}

	gc     *gcWatcher
	stdout *stdoutCapture

	// emitting holds the goroutines currently inside Mark.
	emitting sync.Map
}

// Option customizes a Tracer.
type Option func(*Tracer)

// WithSource replaces the goroutine dump source.
func WithSource(s Source) Option {
	return func(t *Tracer) { t.source = s }
}

// New creates a Tracer writing to rec.
func New(rec *recording.Recording, snap *snapshot.Snapshotter, config Config, logger zerolog.Logger, opts ...Option) *Tracer {
	if config.SampleInterval <= 0 {
		config.SampleInterval = 50 * time.Millisecond
	}
	if config.SampleInterval < MinSampleInterval {
		config.SampleInterval = MinSampleInterval
	}
	if config.MemoryWarningGB <= 0 {
		config.MemoryWarningGB = 32
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = 5 * time.Second
	}
	if config.LeakReportLimit <= 0 {
		config.LeakReportLimit = 100
	}
	if snap == nil {
		snap = snapshot.New(snapshot.Options{})
	}

	t := &Tracer{
		rec:       rec,
		snap:      snap,
		logger:    logger.With().Str("component", "tracer").Logger(),
		config:    config,
		source:    snapshot.CaptureGoroutines,
		merger:    NewMerger(),
		warningGB: uint64(config.MemoryWarningGB),
		gc:        newGCWatcher(),
	}
	t.interval.Store(int64(config.SampleInterval))
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// State returns the current lifecycle state.
func (t *Tracer) State() State {
	return State(t.state.Load())
}

// Interval returns the current sample interval.
func (t *Tracer) Interval() time.Duration {
	return time.Duration(t.interval.Load())
}

// Start begins sampling. It fails unless the tracer is idle.
func (t *Tracer) Start(ctx context.Context) error {
	if !t.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("%w: start while %s", ErrInvalidTransition, t.State())
	}

	t.logger.Debug().
		Dur("interval", t.Interval()).
		Bool("capture_stdout", t.config.CaptureStdout).
		Msg("Starting tracer")

	t.gc.start()
	if t.config.CaptureStdout {
		c, err := captureStdout(func(line string) {
			t.Mark(recording.MarkerInfo, line)
		}, t.Exclude)
		if err != nil {
			t.logger.Warn().Err(err).Msg("Failed to capture stdout")
		} else {
			t.stdout = c
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.loop(ctx)
	return nil
}

func (t *Tracer) loop(ctx context.Context) {
	defer close(t.done)
	t.Exclude(snapshot.CurrentGoroutineID())

	timer := time.NewTimer(t.Interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if t.State() != StateRunning {
				return
			}
			t.Sample()
			// The next tick is scheduled after this one completes.
			timer.Reset(t.Interval())
		}
	}
}

// Exclude stops sampling the goroutine with the given ID. Loops that belong
// to the profiler call it from their own goroutine when they start.
func (t *Tracer) Exclude(goroutineID int64) {
	t.excluded.Store(goroutineID, struct{}{})
}

func (t *Tracer) isExcluded(goroutineID int64) bool {
	_, ok := t.excluded.Load(goroutineID)
	return ok
}

// Sample takes one snapshot of every goroutine and merges it.
func (t *Tracer) Sample() {
	defer stErrors.Recover(t.logger, "tracer sample")

	goroutines, err := t.source()
	if err != nil {
		t.logger.Debug().Err(err).Msg("Failed to capture goroutines")
		return
	}
	when := t.rec.Now()

	t.mergeMu.Lock()
	defer t.mergeMu.Unlock()

	live := make(map[int64]struct{}, len(goroutines))
	for _, g := range goroutines {
		if t.isExcluded(g.ID) {
			// Excluded after it was first seen: drop what was tracked.
			t.merger.Forget(g.ID)
			continue
		}
		live[g.ID] = struct{}{}
		t.rec.AddCall(t.mergeGoroutine(g, when)...)
	}
	t.rec.AddCall(t.merger.Flush(live, when)...)
}

// mergeGoroutine isolates one goroutine so a bad entry cannot abort the tick.
func (t *Tracer) mergeGoroutine(g snapshot.Goroutine, when time.Duration) (calls []recording.Call) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Debug().Int64("goroutine", g.ID).Interface("panic", r).Msg("Skipping goroutine")
			calls = nil
		}
	}()
	return t.merger.Merge(g.ID, t.snap.Build(g.ID, when, g.Frames))
}

// OnMemory slows sampling down when RSS crosses successive GiB thresholds
// above the warning level. The interval never shrinks.
func (t *Tracer) OnMemory(rss uint64) {
	gb := rss / recording.GB

	t.memMu.Lock()
	defer t.memMu.Unlock()
	if gb <= t.warningGB {
		return
	}
	t.warningGB = gb
	scaled := time.Duration(float64(t.config.SampleInterval) * float64(gb) / 10)
	if scaled > t.Interval() {
		t.interval.Store(int64(scaled))
		t.logger.Warn().
			Uint64("rss_gb", gb).
			Dur("interval", scaled).
			Msg("High memory use, sampling less often")
	}
}

// Mark records a marker with the caller's stack. Markers emitted while the
// same goroutine is already inside Mark are dropped.
func (t *Tracer) Mark(kind recording.MarkerKind, message string) {
	now := t.rec.Now()
	t.mark(kind, message, now, recording.DefaultMarkerDuration)
}

// MarkSpan records a marker covering [start, now].
func (t *Tracer) MarkSpan(kind recording.MarkerKind, message string, start time.Duration) {
	t.mark(kind, message, start, t.rec.Now()-start)
}

func (t *Tracer) mark(kind recording.MarkerKind, message string, start, duration time.Duration) {
	gid := snapshot.CurrentGoroutineID()
	if _, busy := t.emitting.LoadOrStore(gid, struct{}{}); busy {
		return
	}
	defer t.emitting.Delete(gid)
	defer stErrors.Recover(t.logger, "marker")

	stack := t.snap.BuildCaller(gid, t.rec.Now(), 2)
	t.rec.AddMarker(recording.NewMarker(kind, start, message, stack, duration))
}

// Stop ends sampling, flushes in-flight calls, restores stdout and records
// the GC and leak report. Failures are logged, never returned as panics.
func (t *Tracer) Stop() (err error) {
	if !t.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return fmt.Errorf("%w: stop while %s", ErrInvalidTransition, t.State())
	}
	defer t.state.Store(int32(StateStopped))
	defer stErrors.RecoverTo(t.logger, "tracer stop", &err)

	t.cancel()
	select {
	case <-t.done:
	case <-time.After(t.config.StopTimeout):
		t.logger.Warn().Dur("timeout", t.config.StopTimeout).Msg("Sampler did not stop in time")
	}

	t.flushAll()

	if t.stdout != nil {
		if err := t.stdout.restore(t.config.StopTimeout); err != nil {
			t.logger.Warn().Err(err).Msg("Failed to restore stdout")
		}
		t.stdout = nil
	}

	stats := t.gc.stop()
	if !t.config.SkipLeakReport {
		t.report(stats)
	}
	t.logger.Debug().Int("calls", len(t.rec.Calls())).Msg("Tracer stopped")
	return nil
}

func (t *Tracer) flushAll() {
	defer stErrors.Recover(t.logger, "final flush")
	if !t.mergeMu.TryLock() {
		t.logger.Warn().Msg("Sampler still busy, skipping final flush")
		return
	}
	defer t.mergeMu.Unlock()
	t.rec.AddCall(t.merger.FlushAll(t.rec.Now())...)
}

func (t *Tracer) report(stats GCStats) {
	defer stErrors.Recover(t.logger, "leak report")

	leaks, err := findLeaks(t.isInteresting, t.config.LeakReportLimit)
	if err != nil {
		t.logger.Debug().Err(err).Msg("Heap profile unavailable")
	}
	kind := recording.MarkerDebug
	if len(leaks.Sites) > 0 {
		kind = recording.MarkerError
	}
	message := FormatReport(stats, leaks, t.rec.Now())
	t.rec.AddMarker(recording.NewMarker(kind, t.rec.Now(), message, recording.Stack{}, recording.DefaultMarkerDuration))
}

// isInteresting reports whether an allocation frame belongs to the profiled
// program rather than the standard library, the runtime or the profiler.
func (t *Tracer) isInteresting(function string) bool {
	if isStdlib(function) {
		return false
	}
	_, ok := t.snap.Resolve(snapshot.NewFrame(function, "", 0))
	return ok
}
