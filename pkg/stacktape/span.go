package stacktape

import (
	"fmt"
	"strings"
	"sync"
)

// Span starts a timed marker and returns the function that ends it. attrs
// are alternating keys and values appended to the message as key=value:
//
//	done := session.Span("query", "table", "users")
//	defer done()
//
// The end function records an Info marker covering the span and is safe to
// call more than once; only the first call records.
func (s *Session) Span(name string, attrs ...any) func() {
	t := s.activeTracer()
	if t == nil {
		return func() {}
	}
	start := s.rec.Now()
	msg := spanMessage(name, attrs)

	var once sync.Once
	return func() {
		once.Do(func() {
			t.MarkSpan(KindInfo, msg, start)
		})
	}
}

func spanMessage(name string, attrs []any) string {
	if len(attrs) == 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	for i := 0; i < len(attrs); i += 2 {
		if i+1 < len(attrs) {
			fmt.Fprintf(&b, " %v=%v", attrs[i], attrs[i+1])
		} else {
			fmt.Fprintf(&b, " %v", attrs[i])
		}
	}
	return b.String()
}
