package snapshot

import (
	"strings"
	"time"

	"github.com/coral-mesh/stacktape/pkg/recording"
)

// DefaultIgnorePrefixes are the function prefixes that never become call
// sites: the runtime, standard library internals, the test harness and the
// profiler itself.
var DefaultIgnorePrefixes = []string{
	"runtime.",
	"runtime/",
	"internal/",
	"testing.tRunner",
	"github.com/coral-mesh/stacktape/internal/",
	"github.com/coral-mesh/stacktape/pkg/",
}

// DefaultWrappers are forwarding frames that are attributed to the function
// they call.
var DefaultWrappers = []string{
	"net/http.HandlerFunc.ServeHTTP",
}

// Options configures a Snapshotter. Nil slices select the defaults; use an
// empty non-nil slice to disable a rule.
type Options struct {
	IgnorePrefixes []string
	Wrappers       []string
}

// Snapshotter turns raw frames into call sites and stacks.
type Snapshotter struct {
	ignore   []string
	wrappers map[string]struct{}
}

// New creates a Snapshotter.
func New(opts Options) *Snapshotter {
	ignore := opts.IgnorePrefixes
	if ignore == nil {
		ignore = DefaultIgnorePrefixes
	}
	wrappers := opts.Wrappers
	if wrappers == nil {
		wrappers = DefaultWrappers
	}
	s := &Snapshotter{
		ignore:   append([]string(nil), ignore...),
		wrappers: make(map[string]struct{}, len(wrappers)),
	}
	for _, w := range wrappers {
		s.wrappers[NormalizeFunction(w)] = struct{}{}
	}
	return s
}

// Resolve maps a frame to a call site. The second result is false when the
// frame is ignored.
func (s *Snapshotter) Resolve(f Frame) (recording.CallSite, bool) {
	name := NormalizeFunction(f.Function)
	if name == "" {
		return recording.CallSite{
			Filename: f.File,
			Line:     f.Line,
			Name:     recording.UnknownCallSite.Name,
		}, true
	}
	for _, prefix := range s.ignore {
		if strings.HasPrefix(name, prefix) {
			return recording.CallSite{}, false
		}
	}
	return recording.CallSite{Filename: f.File, Line: f.Line, Name: name}, true
}

func (s *Snapshotter) isWrapper(f Frame) bool {
	_, ok := s.wrappers[NormalizeFunction(f.Function)]
	return ok
}

// resolveSafe isolates a misbehaving frame so it cannot abort the stack.
func (s *Snapshotter) resolveSafe(f Frame) (site recording.CallSite, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			site, ok = recording.CallSite{}, false
		}
	}()
	return s.Resolve(f)
}

// Build converts leaf-first frames into a root-first Stack. Wrapper frames
// take the identity of the next resolvable callee, which is then folded into
// them.
func (s *Snapshotter) Build(goroutineID int64, when time.Duration, frames []Frame) recording.Stack {
	sites := make([]recording.CallSite, 0, len(frames))
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		if s.isWrapper(f) {
			// Walk towards the leaf for the wrapped function.
			j := i - 1
			for ; j >= 0; j-- {
				if s.isWrapper(frames[j]) {
					continue
				}
				if site, ok := s.resolveSafe(frames[j]); ok {
					sites = append(sites, site)
					break
				}
			}
			i = j
			continue
		}
		if site, ok := s.resolveSafe(f); ok {
			sites = append(sites, site)
		}
	}
	return recording.NewStack(goroutineID, when, sites)
}

// BuildCaller returns the stack of the calling goroutine, skipping skip
// frames above the caller.
func (s *Snapshotter) BuildCaller(goroutineID int64, when time.Duration, skip int) recording.Stack {
	return s.Build(goroutineID, when, CallerFrames(skip+1))
}
