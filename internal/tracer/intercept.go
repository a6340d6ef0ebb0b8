package tracer

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/stacktape/internal/snapshot"
	"github.com/coral-mesh/stacktape/pkg/recording"
)

// stdoutCapture replaces os.Stdout with a pipe. Everything written is copied
// to the original stdout and every non-blank line is reported to emit.
// Swapping os.Stdout affects the whole process until restore is called.
// started, when set, receives the pump goroutine's ID before any output is
// read.
type stdoutCapture struct {
	original *os.File
	r, w     *os.File
	done     chan struct{}
}

func captureStdout(emit func(line string), started func(goroutineID int64)) (*stdoutCapture, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	c := &stdoutCapture{
		original: os.Stdout,
		r:        r,
		w:        w,
		done:     make(chan struct{}),
	}
	ready := make(chan struct{})
	go func() {
		if started != nil {
			started(snapshot.CurrentGoroutineID())
		}
		close(ready)
		c.pump(emit)
	}()
	<-ready
	os.Stdout = w
	return c, nil
}

func (c *stdoutCapture) pump(emit func(line string)) {
	defer close(c.done)
	reader := bufio.NewReader(c.r)
	for {
		chunk, err := reader.ReadString('\n')
		if chunk != "" {
			_, _ = c.original.WriteString(chunk)
			if line := strings.TrimRight(chunk, "\r\n"); strings.TrimSpace(line) != "" {
				emit(line)
			}
		}
		if err != nil {
			return
		}
	}
}

// restore puts the original stdout back and drains the pipe.
func (c *stdoutCapture) restore(timeout time.Duration) error {
	if os.Stdout == c.w {
		os.Stdout = c.original
	}
	err := c.w.Close()
	select {
	case <-c.done:
	case <-time.After(timeout):
		err = errors.Join(err, errors.New("stdout pump did not drain in time"))
	}
	return errors.Join(err, c.r.Close())
}

// levelKinds maps log levels to marker kinds.
func levelKind(level zerolog.Level) recording.MarkerKind {
	switch level {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return recording.MarkerDebug
	case zerolog.WarnLevel:
		return recording.MarkerWarn
	case zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel:
		return recording.MarkerError
	}
	return recording.MarkerInfo
}

// markerHook turns zerolog events into markers.
type markerHook struct {
	t *Tracer
}

// Run implements zerolog.Hook.
func (h markerHook) Run(_ *zerolog.Event, level zerolog.Level, message string) {
	if message == "" || level == zerolog.Disabled {
		return
	}
	h.t.Mark(levelKind(level), message)
}

// MarkerHook returns a zerolog hook that records every log message as a
// marker of the matching kind:
//
//	logger = logger.Hook(t.MarkerHook())
func (t *Tracer) MarkerHook() zerolog.Hook {
	return markerHook{t: t}
}

// markerWriter forwards writes and records each line as an Info marker.
type markerWriter struct {
	t    *Tracer
	next io.Writer

	mu      sync.Mutex
	partial []byte
}

// MarkerWriter wraps next (which may be nil) so that every complete line
// written through it is also recorded as an Info marker. It suits
// log.SetOutput and similar line-oriented writers.
func (t *Tracer) MarkerWriter(next io.Writer) io.Writer {
	return &markerWriter{t: t, next: next}
}

func (w *markerWriter) Write(p []byte) (int, error) {
	n := len(p)
	var err error
	if w.next != nil {
		n, err = w.next.Write(p)
	}

	w.mu.Lock()
	w.partial = append(w.partial, p...)
	var lines []string
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimRight(w.partial[:i], "\r")))
		w.partial = w.partial[i+1:]
	}
	w.mu.Unlock()

	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			w.t.Mark(recording.MarkerInfo, line)
		}
	}
	return n, err
}
