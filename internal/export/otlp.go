package export

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/zeebo/xxh3"
	"go.opentelemetry.io/collector/pdata/pcommon"
	"go.opentelemetry.io/collector/pdata/ptrace"

	"github.com/coral-mesh/stacktape/pkg/recording"
)

const scopeName = "github.com/coral-mesh/stacktape"

// OTLP converts the source into traces: one trace per goroutine with a span
// per call, parented to the enclosing call. Markers become events on the
// innermost call of their goroutine that was running at the time, or on a
// session span when no call matches.
func OTLP(s Source) ptrace.Traces {
	td := ptrace.NewTraces()
	rs := td.ResourceSpans().AppendEmpty()
	attrs := rs.Resource().Attributes()
	attrs.PutStr("service.name", s.Application)
	if s.SessionID != "" {
		attrs.PutStr("stacktape.session.id", s.SessionID)
	}
	ss := rs.ScopeSpans().AppendEmpty()
	ss.Scope().SetName(scopeName)

	nodes := nest(s.Calls)
	spans := make([]ptrace.Span, len(nodes))
	for i, n := range nodes {
		c := n.call
		span := ss.Spans().AppendEmpty()
		span.SetTraceID(traceID(s.SessionID, c.GoroutineID))
		span.SetSpanID(spanID(s.SessionID, c.GoroutineID, i))
		if n.parent >= 0 {
			span.SetParentSpanID(spanID(s.SessionID, c.GoroutineID, n.parent))
		}
		span.SetName(c.CallSite.Name)
		span.SetKind(ptrace.SpanKindInternal)
		span.SetStartTimestamp(timestamp(s.Start, c.When))
		span.SetEndTimestamp(timestamp(s.Start, c.End()))

		sa := span.Attributes()
		sa.PutStr("code.function", c.CallSite.Name)
		sa.PutStr("code.filepath", c.CallSite.Filename)
		sa.PutInt("code.lineno", int64(c.CallSite.Line))
		sa.PutInt("thread.id", c.GoroutineID)
		sa.PutInt("stacktape.depth", int64(c.Depth))
		sa.PutStr("stacktape.caller", c.CallerSite.Name)
		spans[i] = span
	}

	idx := newSpanIndex(nodes)
	var session *ptrace.Span
	for _, m := range s.Markers {
		target, ok := idx.lookup(spans, m)
		if !ok {
			if session == nil {
				span := ss.Spans().AppendEmpty()
				span.SetTraceID(traceID(s.SessionID, -1))
				span.SetSpanID(spanID(s.SessionID, -1, 0))
				span.SetName(s.Application)
				span.SetKind(ptrace.SpanKindInternal)
				span.SetStartTimestamp(timestamp(s.Start, 0))
				span.SetEndTimestamp(timestamp(s.Start, s.End()))
				session = &span
			}
			target = *session
		}
		event := target.Events().AppendEmpty()
		event.SetName(m.Message)
		event.SetTimestamp(timestamp(s.Start, m.When))
		event.Attributes().PutStr("stacktape.marker.kind", m.Kind.String())
		if m.Duration > 0 {
			event.Attributes().PutInt("stacktape.marker.duration_ms", m.Duration.Milliseconds())
		}
	}
	return td
}

// WriteOTLP writes OTLP as OTLP/JSON.
func WriteOTLP(w io.Writer, s Source) error {
	marshaler := &ptrace.JSONMarshaler{}
	data, err := marshaler.MarshalTraces(OTLP(s))
	if err != nil {
		return fmt.Errorf("failed to marshal traces: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write traces: %w", err)
	}
	return nil
}

// spanIndex locates calls by goroutine and time. nodes are grouped by
// goroutine and ordered by start, so each goroutine owns a contiguous range.
type spanIndex struct {
	nodes  []node
	ranges map[int64][2]int
}

func newSpanIndex(nodes []node) spanIndex {
	ranges := make(map[int64][2]int)
	for i, n := range nodes {
		r, ok := ranges[n.call.GoroutineID]
		if !ok {
			r[0] = i
		}
		r[1] = i + 1
		ranges[n.call.GoroutineID] = r
	}
	return spanIndex{nodes: nodes, ranges: ranges}
}

// lookup returns the span of the deepest call of the marker's goroutine
// running at the marker's time.
func (x spanIndex) lookup(spans []ptrace.Span, m recording.Marker) (ptrace.Span, bool) {
	r, ok := x.ranges[m.Stack.GoroutineID]
	if !ok {
		return ptrace.Span{}, false
	}
	g := x.nodes[r[0]:r[1]]
	// Last call started at or before the marker. Any call still running at
	// that time encloses it, so the answer is on its outer chain.
	i := sort.Search(len(g), func(i int) bool { return g[i].call.When > m.When }) - 1
	if i < 0 {
		return ptrace.Span{}, false
	}
	for at := r[0] + i; at >= 0; at = x.nodes[at].outer {
		if m.When <= x.nodes[at].call.End() {
			return spans[at], true
		}
	}
	return ptrace.Span{}, false
}

func timestamp(start time.Time, offset time.Duration) pcommon.Timestamp {
	return pcommon.NewTimestampFromTime(start.Add(offset))
}

// traceID derives a stable trace id from the session and goroutine.
func traceID(session string, goroutineID int64) pcommon.TraceID {
	return pcommon.TraceID(xxh3.HashString128(session + "/" + strconv.FormatInt(goroutineID, 10)).Bytes())
}

// spanID derives a stable span id from the session, goroutine and call index.
func spanID(session string, goroutineID int64, index int) pcommon.SpanID {
	var id pcommon.SpanID
	h := xxh3.HashString(session + "/" + strconv.FormatInt(goroutineID, 10) + "/" + strconv.Itoa(index))
	if h == 0 {
		h = 1
	}
	binary.BigEndian.PutUint64(id[:], h)
	return id
}
