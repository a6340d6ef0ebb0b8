package recording

import (
	"fmt"
	"time"
)

// CallSite identifies a function as a profiling unit.
type CallSite struct {
	Filename string
	Line     int
	Name     string
}

var (
	// RootCallSite is the caller recorded for calls finalized at depth 0.
	RootCallSite = CallSite{Name: "<root>"}

	// UnknownCallSite stands in for frames whose function cannot be resolved.
	UnknownCallSite = CallSite{Name: "<unknown>"}
)

// Equal reports whether both call sites name the same function. File and
// line are ignored so that line jitter inside one function does not split a
// running call when consecutive stacks are diffed.
func (c CallSite) Equal(other CallSite) bool {
	return c.Name == other.Name
}

// IsSimilar is the strict comparison: filename, line and name must match.
func (c CallSite) IsSimilar(other CallSite) bool {
	return c.Filename == other.Filename && c.Line == other.Line && c.Name == other.Name
}

func (c CallSite) String() string {
	return fmt.Sprintf("%s (%s:%d)", c.Name, c.Filename, c.Line)
}

// Call is a finalized function call reconstructed from consecutive stack samples.
type Call struct {
	When        time.Duration
	GoroutineID int64
	CallSite    CallSite
	CallerSite  CallSite
	Depth       int
	Duration    time.Duration
}

// NewCall builds a Call, rounding times to the millisecond and clamping
// negative durations to zero.
func NewCall(when time.Duration, goroutineID int64, site, caller CallSite, depth int, duration time.Duration) Call {
	if duration < 0 {
		duration = 0
	}
	return Call{
		When:        when.Round(time.Millisecond),
		GoroutineID: goroutineID,
		CallSite:    site,
		CallerSite:  caller,
		Depth:       depth,
		Duration:    duration.Round(time.Millisecond),
	}
}

// End returns the offset at which the call was last seen running.
func (c Call) End() time.Duration {
	return c.When + c.Duration
}

// IsSimilar reports whether both calls have strictly similar call sites.
func (c Call) IsSimilar(other Call) bool {
	return c.CallSite.IsSimilar(other.CallSite)
}

// Stack is the ordered root-to-leaf sequence of call sites of one goroutine
// at one instant. A Stack is immutable once built.
type Stack struct {
	GoroutineID int64
	When        time.Duration
	sites       []CallSite
}

// NewStack copies sites into a new Stack.
func NewStack(goroutineID int64, when time.Duration, sites []CallSite) Stack {
	s := Stack{GoroutineID: goroutineID, When: when}
	if len(sites) > 0 {
		s.sites = append(make([]CallSite, 0, len(sites)), sites...)
	}
	return s
}

// Len returns the depth of the stack.
func (s Stack) Len() int { return len(s.sites) }

// At returns the call site at depth i.
func (s Stack) At(i int) CallSite { return s.sites[i] }

// Sites returns a copy of the call sites, root first.
func (s Stack) Sites() []CallSite {
	if len(s.sites) == 0 {
		return nil
	}
	return append([]CallSite(nil), s.sites...)
}

// Leaf returns the innermost call site, or UnknownCallSite for an empty stack.
func (s Stack) Leaf() CallSite {
	if len(s.sites) == 0 {
		return UnknownCallSite
	}
	return s.sites[len(s.sites)-1]
}
