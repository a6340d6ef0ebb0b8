package recording

import (
	"sort"
	"time"
)

// SiteTotal aggregates the calls of one call site.
type SiteTotal struct {
	Site     CallSite
	Count    int
	Duration time.Duration
}

// Summary describes a recording at a glance.
type Summary struct {
	Application string
	Calls       int
	Markers     int
	Statuses    int
	Goroutines  int
	Span        time.Duration
	TopSites    []SiteTotal
}

// summaryTopN bounds Summary.TopSites.
const summaryTopN = 10

// Summary computes counts, the covered time span and the call sites with
// the largest cumulative duration.
func (r *Recording) Summary() Summary {
	calls := r.Calls()
	markers := r.Markers()
	statuses := r.Statuses()

	s := Summary{
		Application: r.ApplicationName(),
		Calls:       len(calls),
		Markers:     len(markers),
		Statuses:    len(statuses),
	}

	goroutines := make(map[int64]struct{})
	totals := make(map[string]*SiteTotal)
	for _, c := range calls {
		goroutines[c.GoroutineID] = struct{}{}
		if end := c.End(); end > s.Span {
			s.Span = end
		}
		t, ok := totals[c.CallSite.Name]
		if !ok {
			t = &SiteTotal{Site: c.CallSite}
			totals[c.CallSite.Name] = t
		}
		t.Count++
		t.Duration += c.Duration
	}
	for _, m := range markers {
		if end := m.When + m.Duration; end > s.Span {
			s.Span = end
		}
	}
	for _, st := range statuses {
		if st.When > s.Span {
			s.Span = st.When
		}
	}
	s.Goroutines = len(goroutines)

	s.TopSites = make([]SiteTotal, 0, len(totals))
	for _, t := range totals {
		s.TopSites = append(s.TopSites, *t)
	}
	sort.Slice(s.TopSites, func(i, j int) bool {
		if s.TopSites[i].Duration != s.TopSites[j].Duration {
			return s.TopSites[i].Duration > s.TopSites[j].Duration
		}
		return s.TopSites[i].Site.Name < s.TopSites[j].Site.Name
	})
	if len(s.TopSites) > summaryTopN {
		s.TopSites = s.TopSites[:summaryTopN]
	}
	return s
}
