package tracer

import (
	"sort"
	"time"

	"github.com/coral-mesh/stacktape/pkg/recording"
)

// tracked is the in-flight state of one goroutine: its last stack and the
// offset at which each of its frames was first seen.
type tracked struct {
	stack  recording.Stack
	starts []time.Duration
}

// Merger reconstructs calls by diffing consecutive stacks per goroutine.
// It is not safe for concurrent use; the sampler owns it.
type Merger struct {
	goroutines map[int64]*tracked
}

// NewMerger creates an empty Merger.
func NewMerger() *Merger {
	return &Merger{goroutines: make(map[int64]*tracked)}
}

// Merge diffs stack against the previous stack of the same goroutine and
// returns the calls that ended. Frames are compared by name only, so a frame
// that merely moved to another line keeps running. An empty stack ends every
// frame.
func (m *Merger) Merge(goroutineID int64, stack recording.Stack) []recording.Call {
	prev, ok := m.goroutines[goroutineID]
	if !ok {
		prev = &tracked{}
	}

	common := 0
	for common < prev.stack.Len() && common < stack.Len() && prev.stack.At(common).Equal(stack.At(common)) {
		common++
	}

	var calls []recording.Call
	for depth := common; depth < prev.stack.Len(); depth++ {
		caller := recording.RootCallSite
		if depth > 0 {
			caller = prev.stack.At(depth - 1)
		}
		start := prev.starts[depth]
		calls = append(calls, recording.NewCall(start, goroutineID, prev.stack.At(depth), caller, depth, stack.When-start))
	}

	next := &tracked{stack: stack, starts: make([]time.Duration, stack.Len())}
	copy(next.starts, prev.starts[:common])
	for depth := common; depth < stack.Len(); depth++ {
		next.starts[depth] = stack.When
	}
	m.goroutines[goroutineID] = next
	return calls
}

// Flush ends every tracked goroutine missing from live and forgets it.
func (m *Merger) Flush(live map[int64]struct{}, when time.Duration) []recording.Call {
	var calls []recording.Call
	for _, id := range m.Tracked() {
		if _, ok := live[id]; ok {
			continue
		}
		calls = append(calls, m.Merge(id, recording.NewStack(id, when, nil))...)
		delete(m.goroutines, id)
	}
	return calls
}

// Forget drops the state of a goroutine without producing calls.
func (m *Merger) Forget(goroutineID int64) {
	delete(m.goroutines, goroutineID)
}

// FlushAll ends every in-flight call and forgets all goroutines.
func (m *Merger) FlushAll(when time.Duration) []recording.Call {
	return m.Flush(nil, when)
}

// Tracked returns the IDs of the goroutines with state, sorted.
func (m *Merger) Tracked() []int64 {
	ids := make([]int64, 0, len(m.goroutines))
	for id := range m.goroutines {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
