package stacktape

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/stacktape/internal/tracer"
	"github.com/coral-mesh/stacktape/pkg/recording"
)

// Marker kinds accepted by Log.
const (
	KindInfo  = recording.MarkerInfo
	KindWarn  = recording.MarkerWarn
	KindDebug = recording.MarkerDebug
	KindError = recording.MarkerError
)

// Log records a marker of the given kind. The message is the operands
// formatted with their default formats and separated by spaces. Nothing is
// recorded while the session is stopped.
func (s *Session) Log(kind recording.MarkerKind, args ...any) {
	t := s.activeTracer()
	if t == nil {
		return
	}
	t.Mark(kind, message(args))
}

// Info records an Info marker.
func (s *Session) Info(args ...any) { s.Log(KindInfo, args...) }

// Warn records a Warn marker.
func (s *Session) Warn(args ...any) { s.Log(KindWarn, args...) }

// Debug records a Debug marker.
func (s *Session) Debug(args ...any) { s.Log(KindDebug, args...) }

// Error records an Error marker.
func (s *Session) Error(args ...any) { s.Log(KindError, args...) }

func message(args []any) string {
	return strings.TrimSuffix(fmt.Sprintln(args...), "\n")
}

// MarkerHook returns a zerolog hook recording each log message as a marker
// while the session runs:
//
//	logger := zerolog.New(os.Stderr).Hook(session.MarkerHook())
func (s *Session) MarkerHook() zerolog.Hook {
	return sessionHook{s: s}
}

type sessionHook struct {
	s *Session
}

func (h sessionHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	if t := h.s.activeTracer(); t != nil {
		t.MarkerHook().Run(e, level, msg)
	}
}

// MarkerWriter wraps w so that each line written while the session runs is
// also recorded as an Info marker. w may be nil.
func (s *Session) MarkerWriter(w io.Writer) io.Writer {
	return &sessionWriter{s: s, next: w}
}

type sessionWriter struct {
	s    *Session
	next io.Writer

	mu     sync.Mutex
	tracer *tracer.Tracer
	lines  io.Writer
}

func (w *sessionWriter) Write(p []byte) (int, error) {
	n := len(p)
	var err error
	if w.next != nil {
		n, err = w.next.Write(p)
	}

	t := w.s.activeTracer()
	if t == nil {
		return n, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	// A new session gets a fresh line buffer.
	if w.tracer != t {
		w.tracer, w.lines = t, t.MarkerWriter(nil)
	}
	_, _ = w.lines.Write(p)
	return n, err
}
