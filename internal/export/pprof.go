package export

import (
	"fmt"
	"io"

	"github.com/google/pprof/profile"

	"github.com/coral-mesh/stacktape/pkg/recording"
)

// Pprof builds a wall-clock profile with one sample per call, valued by the
// call's self time and located by its reconstructed stack.
func Pprof(s Source) (*profile.Profile, error) {
	prof := &profile.Profile{
		SampleType:    []*profile.ValueType{{Type: "wall", Unit: "nanoseconds"}},
		PeriodType:    &profile.ValueType{Type: "wall", Unit: "nanoseconds"},
		Period:        1,
		TimeNanos:     s.Start.UnixNano(),
		DurationNanos: int64(s.End()),
	}
	if s.Application != "" {
		prof.Comments = append(prof.Comments, "application: "+s.Application)
	}
	if s.SessionID != "" {
		prof.Comments = append(prof.Comments, "session: "+s.SessionID)
	}

	functions := make(map[string]*profile.Function)
	locations := make(map[recording.CallSite]*profile.Location)
	location := func(site recording.CallSite) *profile.Location {
		if loc, ok := locations[site]; ok {
			return loc
		}
		fn, ok := functions[site.Name]
		if !ok {
			fn = &profile.Function{
				ID:         uint64(len(prof.Function) + 1),
				Name:       site.Name,
				SystemName: site.Name,
				Filename:   site.Filename,
				StartLine:  int64(site.Line),
			}
			functions[site.Name] = fn
			prof.Function = append(prof.Function, fn)
		}
		loc := &profile.Location{
			ID:   uint64(len(prof.Location) + 1),
			Line: []profile.Line{{Function: fn, Line: int64(site.Line)}},
		}
		locations[site] = loc
		prof.Location = append(prof.Location, loc)
		return loc
	}

	nodes := nest(s.Calls)
	self := selfTimes(nodes)
	for i := range nodes {
		if self[i] <= 0 {
			continue
		}
		sample := &profile.Sample{
			Value:    []int64{int64(self[i])},
			NumLabel: map[string][]int64{"goroutine": {nodes[i].call.GoroutineID}},
		}
		// Locations are leaf first.
		for j := i; j >= 0; j = nodes[j].parent {
			sample.Location = append(sample.Location, location(nodes[j].call.CallSite))
		}
		prof.Sample = append(prof.Sample, sample)
	}

	if err := prof.CheckValid(); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}
	return prof, nil
}

// WritePprof writes the gzipped protobuf form of Pprof.
func WritePprof(w io.Writer, s Source) error {
	prof, err := Pprof(s)
	if err != nil {
		return err
	}
	if err := prof.Write(w); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	return nil
}
