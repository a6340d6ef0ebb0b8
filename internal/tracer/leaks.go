package tracer

import (
	"bytes"
	"fmt"
	"runtime"
	"runtime/pprof"
	"sort"
	"strings"
	"time"

	"github.com/google/pprof/profile"
)

// LeakSite is an allocation site with objects still alive.
type LeakSite struct {
	Function string
	File     string
	Line     int64
	Objects  int64
	Bytes    int64
}

// LeakReport lists the allocation sites holding the most live objects.
type LeakReport struct {
	// Objects is the number of live objects attributed to program code.
	Objects int64
	Sites   []LeakSite
}

// findLeaks forces a collection and attributes the live heap to the first
// frame of each allocation stack for which interesting returns true.
func findLeaks(interesting func(function string) bool, limit int) (LeakReport, error) {
	runtime.GC()

	var buf bytes.Buffer
	if err := pprof.Lookup("heap").WriteTo(&buf, 0); err != nil {
		return LeakReport{}, fmt.Errorf("failed to write heap profile: %w", err)
	}
	prof, err := profile.Parse(&buf)
	if err != nil {
		return LeakReport{}, fmt.Errorf("failed to parse heap profile: %w", err)
	}
	return liveSites(prof, interesting, limit), nil
}

// liveSites aggregates inuse_objects and inuse_space by allocation site.
func liveSites(prof *profile.Profile, interesting func(function string) bool, limit int) LeakReport {
	objectsIdx, bytesIdx := -1, -1
	for i, st := range prof.SampleType {
		switch st.Type {
		case "inuse_objects":
			objectsIdx = i
		case "inuse_space":
			bytesIdx = i
		}
	}
	if objectsIdx < 0 {
		return LeakReport{}
	}

	var report LeakReport
	sites := make(map[string]*LeakSite)
	for _, s := range prof.Sample {
		objects := s.Value[objectsIdx]
		if objects == 0 {
			continue
		}
		var size int64
		if bytesIdx >= 0 {
			size = s.Value[bytesIdx]
		}

		site, ok := allocationSite(s, interesting)
		if !ok {
			continue
		}
		key := fmt.Sprintf("%s:%s:%d", site.Function, site.File, site.Line)
		agg, found := sites[key]
		if !found {
			agg = &site
			sites[key] = agg
		}
		agg.Objects += objects
		agg.Bytes += size
		report.Objects += objects
	}

	report.Sites = make([]LeakSite, 0, len(sites))
	for _, s := range sites {
		report.Sites = append(report.Sites, *s)
	}
	sort.Slice(report.Sites, func(i, j int) bool {
		a, b := report.Sites[i], report.Sites[j]
		if a.Objects != b.Objects {
			return a.Objects > b.Objects
		}
		return a.Function < b.Function
	})
	if limit > 0 && len(report.Sites) > limit {
		report.Sites = report.Sites[:limit]
	}
	return report
}

// allocationSite returns the innermost interesting frame of a sample.
// Locations are leaf first and inlined lines innermost first.
func allocationSite(s *profile.Sample, interesting func(function string) bool) (LeakSite, bool) {
	for _, loc := range s.Location {
		for _, line := range loc.Line {
			if line.Function == nil || !interesting(line.Function.Name) {
				continue
			}
			return LeakSite{
				Function: line.Function.Name,
				File:     line.Function.Filename,
				Line:     line.Line,
			}, true
		}
	}
	return LeakSite{}, false
}

// isStdlib reports whether function belongs to the Go standard library or
// runtime. Standard library import paths have no dot in their first element;
// package main is the program itself.
func isStdlib(function string) bool {
	if function == "" {
		return true
	}
	first := function
	if i := strings.IndexByte(first, '/'); i >= 0 {
		first = first[:i]
	} else if i := strings.IndexByte(first, '.'); i >= 0 {
		// No slash: "pkg.Func", the package is before the first dot.
		if first[:i] == "main" {
			return false
		}
		return true
	}
	return !strings.Contains(first, ".")
}

// FormatReport renders GC statistics and the leak report as markdown.
func FormatReport(stats GCStats, leaks LeakReport, elapsed time.Duration) string {
	var b strings.Builder
	b.WriteString("# GC Statistics\n")

	count := fmt.Sprintf("%d times", stats.Count)
	if stats.Count == 1 {
		count = "once"
	}
	var percentage float64
	if elapsed > 0 {
		percentage = float64(stats.Pause) / float64(elapsed) * 100
	}
	var average time.Duration
	if stats.Count > 0 {
		average = stats.Pause / time.Duration(stats.Count)
	}
	fmt.Fprintf(&b, "GC ran %s, pausing for %s (%.1f%% of %s), averaging %s per collection.\n",
		count, stats.Pause, percentage, elapsed.Round(time.Millisecond), average)
	fmt.Fprintf(&b, "In total, %d objects were collected.\n", stats.Collected)
	if stats.Uncollectable > 0 {
		fmt.Fprintf(&b, "A total of %d objects were leaked (uncollectable) during runtime.\n", stats.Uncollectable)
	}

	if len(leaks.Sites) > 0 {
		plural := "s"
		if leaks.Objects == 1 {
			plural = ""
		}
		fmt.Fprintf(&b, "\n# Possible Memory Leaks\nFound %d live object%s allocated by the program. Top allocation sites:\n",
			leaks.Objects, plural)
		for _, s := range leaks.Sites {
			instances := "instances"
			if s.Objects == 1 {
				instances = "instance"
			}
			fmt.Fprintf(&b, " - %d %s (%d bytes) from %s (%s:%d)\n",
				s.Objects, instances, s.Bytes, s.Function, s.File, s.Line)
		}
	}
	return b.String()
}
