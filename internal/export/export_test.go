package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/stacktape/pkg/recording"
)

const ms = time.Millisecond

func site(name string) recording.CallSite {
	return recording.CallSite{Filename: "/src/app/main.go", Line: 10, Name: name}
}

// sampleSource models main (0-300ms) calling f (0-300ms) which called g
// (50-250ms), plus an unrelated worker goroutine.
func sampleSource() Source {
	main, f, g, work := site("main.main"), site("main.f"), site("main.g"), site("main.worker")
	return Source{
		Application: "app",
		SessionID:   "session-1",
		Start:       time.Unix(1700000000, 0),
		Calls: []recording.Call{
			recording.NewCall(50*ms, 1, g, f, 2, 200*ms),
			recording.NewCall(0, 1, main, recording.RootCallSite, 0, 300*ms),
			recording.NewCall(0, 1, f, main, 1, 300*ms),
			recording.NewCall(10*ms, 2, work, recording.RootCallSite, 0, 40*ms),
		},
		Markers: []recording.Marker{
			recording.NewMarker(recording.MarkerWarn, 100*ms, "slow", recording.NewStack(1, 100*ms, nil), recording.DefaultMarkerDuration),
			recording.NewMarker(recording.MarkerInfo, 500*ms, "late", recording.NewStack(9, 500*ms, nil), recording.DefaultMarkerDuration),
		},
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" OTLP ")
	require.NoError(t, err)
	assert.Equal(t, FormatOTLP, f)

	_, err = ParseFormat("svg")
	assert.Error(t, err)
}

func TestNest(t *testing.T) {
	nodes := nest(sampleSource().Calls)
	require.Len(t, nodes, 4)

	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.call.CallSite.Name
	}
	assert.Equal(t, []string{"main.main", "main.f", "main.g", "main.worker"}, names)
	assert.Equal(t, []int{-1, 0, 1, -1}, []int{nodes[0].parent, nodes[1].parent, nodes[2].parent, nodes[3].parent})
	assert.Equal(t, []string{"main.main", "main.f", "main.g"}, path(nodes, 2))

	self := selfTimes(nodes)
	assert.Equal(t, []time.Duration{0, 100 * ms, 200 * ms, 40 * ms}, self)
}

func TestNest_Siblings(t *testing.T) {
	main, a, b := site("main.main"), site("main.a"), site("main.b")
	nodes := nest([]recording.Call{
		recording.NewCall(0, 1, main, recording.RootCallSite, 0, 100*ms),
		recording.NewCall(0, 1, a, main, 1, 40*ms),
		recording.NewCall(40*ms, 1, b, main, 1, 60*ms),
	})
	assert.Equal(t, 0, nodes[1].parent)
	assert.Equal(t, 0, nodes[2].parent)
}

func TestFolded(t *testing.T) {
	assert.Equal(t, []string{
		"main.main;main.f 100",
		"main.main;main.f;main.g 200",
		"main.worker 40",
	}, Folded(sampleSource()))

	var buf bytes.Buffer
	require.NoError(t, WriteFolded(&buf, sampleSource()))
	assert.Equal(t, 3, strings.Count(buf.String(), "\n"))
}

func TestSanitizeFrames(t *testing.T) {
	assert.Equal(t, []string{"a:b", "c_d"}, sanitizeFrames([]string{"a;b", "c d"}))
}

func TestPprof(t *testing.T) {
	prof, err := Pprof(sampleSource())
	require.NoError(t, err)

	assert.Equal(t, "wall", prof.SampleType[0].Type)
	require.Len(t, prof.Sample, 3)
	var total int64
	for _, s := range prof.Sample {
		total += s.Value[0]
	}
	assert.Equal(t, int64(340*ms), total)

	var buf bytes.Buffer
	require.NoError(t, WritePprof(&buf, sampleSource()))
	parsed, err := profile.Parse(&buf)
	require.NoError(t, err)
	assert.Len(t, parsed.Sample, 3)
	assert.Len(t, parsed.Function, 4)
}

func TestOTLP(t *testing.T) {
	td := OTLP(sampleSource())
	require.Equal(t, 1, td.ResourceSpans().Len())
	rs := td.ResourceSpans().At(0)
	name, ok := rs.Resource().Attributes().Get("service.name")
	require.True(t, ok)
	assert.Equal(t, "app", name.Str())

	spans := rs.ScopeSpans().At(0).Spans()
	// Four calls plus the session span holding the unmatched marker.
	require.Equal(t, 5, spans.Len())

	mainSpan, fSpan, gSpan, workSpan := spans.At(0), spans.At(1), spans.At(2), spans.At(3)
	assert.True(t, mainSpan.ParentSpanID().IsEmpty())
	assert.Equal(t, mainSpan.SpanID(), fSpan.ParentSpanID())
	assert.Equal(t, fSpan.SpanID(), gSpan.ParentSpanID())
	assert.Equal(t, mainSpan.TraceID(), gSpan.TraceID())
	assert.NotEqual(t, mainSpan.TraceID(), workSpan.TraceID())
	assert.Equal(t, 200*ms, gSpan.EndTimestamp().AsTime().Sub(gSpan.StartTimestamp().AsTime()))

	require.Equal(t, 1, gSpan.Events().Len(), "marker lands on the deepest running call")
	assert.Equal(t, "slow", gSpan.Events().At(0).Name())

	session := spans.At(4)
	assert.Equal(t, "app", session.Name())
	require.Equal(t, 1, session.Events().Len())
	assert.Equal(t, "late", session.Events().At(0).Name())
}

func TestOTLP_MarkerTarget(t *testing.T) {
	main, a, inner, b := site("main.main"), site("main.a"), site("main.inner"), site("main.b")
	work, step := site("main.work"), site("main.step")
	calls := []recording.Call{
		recording.NewCall(0, 1, main, recording.RootCallSite, 0, 300*ms),
		recording.NewCall(0, 1, a, main, 1, 100*ms),
		recording.NewCall(20*ms, 1, inner, a, 2, 40*ms),
		recording.NewCall(150*ms, 1, b, main, 1, 100*ms),
		recording.NewCall(0, 2, work, recording.RootCallSite, 0, 300*ms),
		recording.NewCall(50*ms, 2, step, work, 1, 100*ms),
	}

	tests := []struct {
		name      string
		goroutine int64
		when      time.Duration
		want      string
	}{
		{name: "innermost", goroutine: 1, when: 40 * ms, want: "main.inner"},
		{name: "after inner returned", goroutine: 1, when: 80 * ms, want: "main.a"},
		{name: "between siblings", goroutine: 1, when: 120 * ms, want: "main.main"},
		{name: "later sibling", goroutine: 1, when: 200 * ms, want: "main.b"},
		{name: "other goroutine", goroutine: 2, when: 100 * ms, want: "main.step"},
		{name: "other goroutine root", goroutine: 2, when: 200 * ms, want: "main.work"},
		{name: "unknown goroutine", goroutine: 3, when: 100 * ms, want: "app"},
		{name: "after every call", goroutine: 1, when: 400 * ms, want: "app"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := Source{
				Application: "app",
				SessionID:   "session-1",
				Start:       time.Unix(1700000000, 0),
				Calls:       calls,
				Markers: []recording.Marker{
					recording.NewMarker(recording.MarkerInfo, tt.when, "mark",
						recording.NewStack(tt.goroutine, tt.when, nil), recording.DefaultMarkerDuration),
				},
			}
			spans := OTLP(src).ResourceSpans().At(0).ScopeSpans().At(0).Spans()
			var got []string
			for i := 0; i < spans.Len(); i++ {
				if spans.At(i).Events().Len() > 0 {
					got = append(got, spans.At(i).Name())
				}
			}
			assert.Equal(t, []string{tt.want}, got)
		})
	}
}

func TestWriteOTLP(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatOTLP, sampleSource()))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Contains(t, doc, "resourceSpans")
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want []string
	}{
		{"by duration", "call.duration_ms >= 200", []string{"main.g", "main.main", "main.f"}},
		{"by name", `call.name.startsWith("main.w")`, []string{"main.worker"}},
		{"by depth and goroutine", "call.depth == 0 && call.goroutine == 1", []string{"main.main"}},
		{"by caller", `call.caller == "main.f"`, []string{"main.g"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFilter(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.expr, f.String())

			src, err := sampleSource().Filter(f)
			require.NoError(t, err)
			var names []string
			for _, c := range src.Calls {
				names = append(names, c.CallSite.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestFilter_Invalid(t *testing.T) {
	_, err := NewFilter("call.duration_ms >=")
	assert.Error(t, err)

	_, err = NewFilter(`"not a bool"`)
	assert.Error(t, err)

	f, err := NewFilter("call.missing > 1")
	require.NoError(t, err)
	_, err = f.Match(sampleSource().Calls[0])
	assert.Error(t, err)
}

func TestSource_FilterNil(t *testing.T) {
	src, err := sampleSource().Filter(nil)
	require.NoError(t, err)
	assert.Len(t, src.Calls, 4)
	assert.Equal(t, 600*ms, src.End())
}

func TestTree(t *testing.T) {
	root := Tree(sampleSource(), 0.5)

	assert.Equal(t, "app", root.Name)
	assert.Equal(t, 340*time.Millisecond, root.Total)
	assert.Equal(t, int64(2), root.Count)
	require.Len(t, root.Children, 2)

	main := root.Children[0]
	assert.Equal(t, "main.main", main.Name)
	assert.Equal(t, 300*time.Millisecond, main.Total)
	assert.Zero(t, main.Self)
	require.Len(t, main.Children, 1)

	f := main.Children[0]
	assert.Equal(t, 100*time.Millisecond, f.Self)
	assert.False(t, f.Hot)
	require.Len(t, f.Children, 1)

	g := f.Children[0]
	assert.Equal(t, "main.g", g.Name)
	assert.Equal(t, 200*time.Millisecond, g.Self)
	assert.True(t, g.Hot)

	assert.Equal(t, "main.worker", root.Children[1].Name)
}
