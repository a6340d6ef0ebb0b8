// Package export converts recordings into formats understood by other
// tools: OTLP traces, collapsed stacks for flame graphs and pprof profiles.
package export

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/coral-mesh/stacktape/pkg/recording"
)

// Format is an export output format.
type Format string

const (
	FormatOTLP   Format = "otlp"
	FormatFolded Format = "folded"
	FormatPprof  Format = "pprof"
)

// Formats lists the supported formats.
var Formats = []Format{FormatOTLP, FormatFolded, FormatPprof}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown export format %q (expected otlp, folded or pprof)", s)
}

// Source is the part of a recording that exporters read.
type Source struct {
	Application string
	SessionID   string
	Start       time.Time
	Calls       []recording.Call
	Markers     []recording.Marker
}

// FromRecording snapshots rec.
func FromRecording(rec *recording.Recording) Source {
	return Source{
		Application: rec.ApplicationName(),
		SessionID:   rec.SessionID(),
		Start:       rec.Start(),
		Calls:       rec.Calls(),
		Markers:     rec.Markers(),
	}
}

// Filter returns a copy of s holding only the calls f accepts. A nil filter
// keeps everything.
func (s Source) Filter(f *Filter) (Source, error) {
	if f == nil {
		return s, nil
	}
	calls, err := f.Apply(s.Calls)
	if err != nil {
		return Source{}, err
	}
	s.Calls = calls
	return s, nil
}

// End returns the offset of the last call or marker end.
func (s Source) End() time.Duration {
	var end time.Duration
	for _, c := range s.Calls {
		end = max(end, c.End())
	}
	for _, m := range s.Markers {
		end = max(end, m.When+m.Duration)
	}
	return end
}

// Write renders s in the given format.
func Write(w io.Writer, format Format, s Source) error {
	switch format {
	case FormatOTLP:
		return WriteOTLP(w, s)
	case FormatFolded:
		return WriteFolded(w, s)
	case FormatPprof:
		return WritePprof(w, s)
	}
	return fmt.Errorf("unknown export format %q", format)
}

// node is a call with its enclosing call, if any.
type node struct {
	call   recording.Call
	parent int // index into the nested slice, -1 for roots
	outer  int // nearest enclosing call at any depth, -1 when none
}

// nest orders calls by goroutine, start and depth and links every call to
// the enclosing call one level up. A call encloses another when it starts no
// later and ends no earlier.
func nest(calls []recording.Call) []node {
	sorted := append([]recording.Call(nil), calls...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.GoroutineID != b.GoroutineID {
			return a.GoroutineID < b.GoroutineID
		}
		if a.When != b.When {
			return a.When < b.When
		}
		return a.Depth < b.Depth
	})

	nodes := make([]node, len(sorted))
	var open []int
	for i, c := range sorted {
		if i > 0 && sorted[i-1].GoroutineID != c.GoroutineID {
			open = open[:0]
		}
		for len(open) > 0 {
			top := sorted[open[len(open)-1]]
			if top.Depth < c.Depth && top.End() >= c.End() {
				break
			}
			open = open[:len(open)-1]
		}
		nodes[i] = node{call: c, parent: -1, outer: -1}
		if len(open) > 0 {
			nodes[i].outer = open[len(open)-1]
			if sorted[nodes[i].outer].Depth == c.Depth-1 {
				nodes[i].parent = nodes[i].outer
			}
		}
		open = append(open, i)
	}
	return nodes
}

// path returns the call names from the outermost known ancestor to i.
func path(nodes []node, i int) []string {
	var names []string
	for ; i >= 0; i = nodes[i].parent {
		names = append(names, nodes[i].call.CallSite.Name)
	}
	for l, r := 0, len(names)-1; l < r; l, r = l+1, r-1 {
		names[l], names[r] = names[r], names[l]
	}
	return names
}

// selfTimes returns each node's duration minus the durations of its
// children, never below zero.
func selfTimes(nodes []node) []time.Duration {
	self := make([]time.Duration, len(nodes))
	for i, n := range nodes {
		self[i] += n.call.Duration
		if n.parent >= 0 {
			self[n.parent] -= n.call.Duration
		}
	}
	for i := range self {
		self[i] = max(self[i], 0)
	}
	return self
}
