package tracer

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/stacktape/internal/snapshot"
	"github.com/coral-mesh/stacktape/pkg/recording"
)

// fakeSource replays a fixed set of goroutines until replaced.
type fakeSource struct {
	mu         sync.Mutex
	goroutines []snapshot.Goroutine
	err        error
}

func (s *fakeSource) set(goroutines ...snapshot.Goroutine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goroutines = goroutines
}

func (s *fakeSource) capture() ([]snapshot.Goroutine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.goroutines, s.err
}

// goroutine builds a dump entry from function names listed leaf first.
func goroutine(id int64, functions ...string) snapshot.Goroutine {
	g := snapshot.Goroutine{ID: id, State: "running"}
	for i, fn := range functions {
		g.Frames = append(g.Frames, snapshot.NewFrame(fn, "/src/app/main.go", 10+i))
	}
	return g
}

func newTestTracer(src *fakeSource, cfg Config) (*Tracer, *recording.Recording) {
	rec := recording.New("test")
	cfg.SkipLeakReport = true
	return New(rec, nil, cfg, zerolog.Nop(), WithSource(src.capture)), rec
}

func callNames(calls []recording.Call) []string {
	names := make([]string, 0, len(calls))
	for _, c := range calls {
		names = append(names, c.CallSite.Name)
	}
	return names
}

func TestNew_Defaults(t *testing.T) {
	tr := New(recording.New("test"), nil, Config{}, zerolog.Nop())
	assert.Equal(t, 50*time.Millisecond, tr.Interval())
	assert.Equal(t, StateIdle, tr.State())

	tr = New(recording.New("test"), nil, Config{SampleInterval: time.Millisecond}, zerolog.Nop())
	assert.Equal(t, MinSampleInterval, tr.Interval())
}

func TestTracer_StateMachine(t *testing.T) {
	src := &fakeSource{}
	tr, _ := newTestTracer(src, Config{SampleInterval: 5 * time.Millisecond})

	assert.ErrorIs(t, tr.Stop(), ErrInvalidTransition, "stop before start")

	require.NoError(t, tr.Start(context.Background()))
	assert.Equal(t, StateRunning, tr.State())
	assert.ErrorIs(t, tr.Start(context.Background()), ErrInvalidTransition)

	require.NoError(t, tr.Stop())
	assert.Equal(t, StateStopped, tr.State())
	assert.ErrorIs(t, tr.Stop(), ErrInvalidTransition)
	assert.ErrorIs(t, tr.Start(context.Background()), ErrInvalidTransition)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestTracer_Sample(t *testing.T) {
	src := &fakeSource{}
	tr, rec := newTestTracer(src, Config{})

	src.set(goroutine(7, "main.f", "main.main"))
	tr.Sample()
	src.set(goroutine(7, "main.g", "main.f", "main.main"))
	tr.Sample()
	assert.Empty(t, rec.Calls())

	src.set(goroutine(7, "main.f", "main.main"))
	tr.Sample()
	calls := rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "main.g", calls[0].CallSite.Name)
	assert.Equal(t, "main.f", calls[0].CallerSite.Name)
	assert.Equal(t, 2, calls[0].Depth)
	assert.Equal(t, int64(7), calls[0].GoroutineID)

	// The goroutine is gone: its remaining frames end.
	src.set()
	tr.Sample()
	assert.Equal(t, []string{"main.g", "main.main", "main.f"}, callNames(rec.Calls()))
}

func TestTracer_SampleSourceError(t *testing.T) {
	src := &fakeSource{err: errors.New("boom")}
	tr, rec := newTestTracer(src, Config{})

	assert.NotPanics(t, tr.Sample)
	assert.Empty(t, rec.Calls())
}

func TestTracer_StopFlushesInFlightCalls(t *testing.T) {
	src := &fakeSource{}
	src.set(goroutine(1_000_003, "main.work", "main.main"))
	tr, rec := newTestTracer(src, Config{SampleInterval: 5 * time.Millisecond})

	require.NoError(t, tr.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, tr.Stop())

	assert.Equal(t, []string{"main.main", "main.work"}, callNames(rec.Calls()))
}

func TestTracer_LiveGoroutine(t *testing.T) {
	rec := recording.New("test")
	snap := snapshot.New(snapshot.Options{IgnorePrefixes: []string{"runtime.", "runtime/", "testing."}})
	tr := New(rec, snap, Config{SkipLeakReport: true}, zerolog.Nop())

	release := make(chan struct{})
	started := make(chan struct{})
	go blockedWorker(started, release)
	<-started

	tr.Sample()
	close(release)

	found := func() bool {
		tr.Sample()
		for _, c := range rec.Calls() {
			if strings.HasSuffix(c.CallSite.Name, "blockedWorker") {
				return true
			}
		}
		return false
	}
	assert.Eventually(t, found, 2*time.Second, 5*time.Millisecond)
}

//go:noinline
func blockedWorker(started, release chan struct{}) {
	close(started)
	<-release
}

func TestTracer_OnMemory(t *testing.T) {
	tr := New(recording.New("test"), nil, Config{SampleInterval: 50 * time.Millisecond, MemoryWarningGB: 32}, zerolog.Nop())

	tr.OnMemory(8 * recording.GB)
	assert.Equal(t, 50*time.Millisecond, tr.Interval(), "below threshold")

	tr.OnMemory(40 * recording.GB)
	assert.Equal(t, 200*time.Millisecond, tr.Interval())

	tr.OnMemory(36 * recording.GB)
	assert.Equal(t, 200*time.Millisecond, tr.Interval(), "never shrinks")

	tr.OnMemory(60 * recording.GB)
	assert.Equal(t, 300*time.Millisecond, tr.Interval())
}

func TestTracer_Mark(t *testing.T) {
	tr := New(recording.New("test"), nil, Config{}, zerolog.Nop())

	tr.Mark(recording.MarkerWarn, "disk almost full")
	markers := tr.rec.Markers()
	require.Len(t, markers, 1)
	assert.Equal(t, recording.MarkerWarn, markers[0].Kind)
	assert.Equal(t, "disk almost full", markers[0].Message)
	assert.Equal(t, recording.DefaultMarkerDuration, markers[0].Duration)
}

func TestTracer_MarkSpan(t *testing.T) {
	tr := New(recording.New("test"), nil, Config{}, zerolog.Nop())

	start := tr.rec.Now()
	time.Sleep(20 * time.Millisecond)
	tr.MarkSpan(recording.MarkerInfo, "load", start)

	markers := tr.rec.Markers()
	require.Len(t, markers, 1)
	assert.GreaterOrEqual(t, markers[0].Duration, 20*time.Millisecond)
}

func TestTracer_MarkIsNotReentrant(t *testing.T) {
	tr := New(recording.New("test"), nil, Config{}, zerolog.Nop())

	gid := snapshot.CurrentGoroutineID()
	tr.emitting.Store(gid, struct{}{})
	tr.Mark(recording.MarkerInfo, "dropped")
	tr.emitting.Delete(gid)
	tr.Mark(recording.MarkerInfo, "kept")

	markers := tr.rec.Markers()
	require.Len(t, markers, 1)
	assert.Equal(t, "kept", markers[0].Message)
}

func TestTracer_StopRecordsReport(t *testing.T) {
	rec := recording.New("test")
	src := &fakeSource{}
	tr := New(rec, nil, Config{SampleInterval: 5 * time.Millisecond}, zerolog.Nop(), WithSource(src.capture))

	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, tr.Stop())

	markers := rec.Markers()
	require.NotEmpty(t, markers)
	assert.Contains(t, markers[len(markers)-1].Message, "# GC Statistics")
}

func TestTracer_IsInteresting(t *testing.T) {
	tr := New(recording.New("test"), nil, Config{}, zerolog.Nop())

	assert.True(t, tr.isInteresting("github.com/acme/app.Alloc"))
	assert.True(t, tr.isInteresting("main.buildCache"))
	assert.False(t, tr.isInteresting("runtime.malg"))
	assert.False(t, tr.isInteresting("encoding/json.Unmarshal"))
	assert.False(t, tr.isInteresting("github.com/coral-mesh/stacktape/internal/tracer.New"))
}

// liveSnapshotter keeps this package's frames, which the defaults treat as
// profiler internals.
func liveSnapshotter() *snapshot.Snapshotter {
	return snapshot.New(snapshot.Options{
		IgnorePrefixes: []string{"runtime.", "runtime/", "internal/", "testing.", "time.", "sync."},
	})
}

//go:noinline
func scenarioOuter(done chan<- struct{}) {
	defer close(done)
	time.Sleep(50 * time.Millisecond)
	scenarioInner()
	time.Sleep(50 * time.Millisecond)
}

//go:noinline
func scenarioInner() {
	time.Sleep(150 * time.Millisecond)
}

func callsNamed(calls []recording.Call, suffix string) []recording.Call {
	var out []recording.Call
	for _, c := range calls {
		if strings.HasSuffix(c.CallSite.Name, suffix) {
			out = append(out, c)
		}
	}
	return out
}

func TestTracer_NestedCallsInRealTime(t *testing.T) {
	rec := recording.New("test")
	tr := New(rec, liveSnapshotter(), Config{SampleInterval: 10 * time.Millisecond, SkipLeakReport: true}, zerolog.Nop())
	require.NoError(t, tr.Start(context.Background()))

	done := make(chan struct{})
	go scenarioOuter(done)
	<-done

	// The goroutine has exited; the next ticks flush it.
	require.Eventually(t, func() bool {
		return len(callsNamed(rec.Calls(), ".scenarioOuter")) > 0
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, tr.Stop())

	outer := callsNamed(rec.Calls(), ".scenarioOuter")
	inner := callsNamed(rec.Calls(), ".scenarioInner")
	require.Len(t, outer, 1, "flushed exactly once")
	require.Len(t, inner, 1)

	f, g := outer[0], inner[0]
	assert.Equal(t, 0, f.Depth)
	assert.Equal(t, recording.RootCallSite, f.CallerSite)
	assert.Equal(t, 1, g.Depth)
	assert.True(t, g.CallerSite.Equal(f.CallSite), "inner is called by outer")
	assert.Equal(t, f.GoroutineID, g.GoroutineID)

	assert.InDelta(t, float64(150*time.Millisecond), float64(g.Duration), float64(60*time.Millisecond))
	assert.InDelta(t, float64(250*time.Millisecond), float64(f.Duration), float64(80*time.Millisecond))
	assert.GreaterOrEqual(t, g.When, f.When)
	assert.LessOrEqual(t, g.When+g.Duration, f.When+f.Duration)
}

func TestTracer_GoroutineExitFlushedOnce(t *testing.T) {
	rec := recording.New("test")
	tr := New(rec, liveSnapshotter(), Config{SkipLeakReport: true}, zerolog.Nop())

	release := make(chan struct{})
	started := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		blockedWorker(started, release)
	}()
	<-started

	tr.Sample()
	tr.Sample()
	assert.Empty(t, callsNamed(rec.Calls(), ".blockedWorker"), "still running")

	close(release)
	<-exited
	// The goroutine may linger briefly in the dump after its function returns.
	require.Eventually(t, func() bool {
		tr.Sample()
		return len(callsNamed(rec.Calls(), ".blockedWorker")) > 0
	}, 2*time.Second, 5*time.Millisecond)

	worker := callsNamed(rec.Calls(), ".blockedWorker")[0]
	assert.Eventually(t, func() bool {
		tr.Sample()
		for _, id := range tr.merger.Tracked() {
			if id == worker.GoroutineID {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond, "bookkeeping removed once the goroutine is gone")
	assert.Len(t, callsNamed(rec.Calls(), ".blockedWorker"), 1, "no second flush")
}

func TestTracer_ExcludedGoroutines(t *testing.T) {
	src := &fakeSource{}
	src.set(
		goroutine(1_000_003, "main.work", "main.main"),
		goroutine(1_000_004, "github.com/shirou/gopsutil/v4/process.(*Process).Times", "main.poll"),
	)
	tr, rec := newTestTracer(src, Config{})

	tr.Sample()
	tr.Exclude(1_000_004)
	tr.Sample()
	src.set()
	tr.Sample()

	assert.Equal(t, []string{"main.main", "main.work"}, sortedNames(rec.Calls()),
		"an excluded goroutine is dropped without producing calls")
	assert.Empty(t, tr.merger.Tracked())
}

func sortedNames(calls []recording.Call) []string {
	names := callNames(calls)
	sort.Strings(names)
	return names
}
