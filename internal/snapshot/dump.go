package snapshot

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"
)

// Goroutine is one entry of a goroutine dump.
type Goroutine struct {
	ID    int64
	State string
	// Frames are ordered leaf first, as printed by the runtime.
	Frames []Frame
}

const initialDumpSize = 64 << 10

// Capture returns a dump of every goroutine in the process.
func Capture() []byte {
	buf := make([]byte, initialDumpSize)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return buf[:n]
		}
		buf = make([]byte, len(buf)*2)
	}
}

// CaptureGoroutines captures and parses a dump of every goroutine.
func CaptureGoroutines() ([]Goroutine, error) {
	return ParseDump(bytes.NewReader(Capture()))
}

// CurrentGoroutineID returns the ID of the calling goroutine.
func CurrentGoroutineID() int64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	id, _, err := parseHeader(string(bytes.SplitN(buf, []byte("\n"), 2)[0]))
	if err != nil {
		return -1
	}
	return id
}

// ParseDump parses the text produced by runtime.Stack. Entries that cannot be
// parsed are skipped rather than failing the whole dump; an error is returned
// only when reading fails.
func ParseDump(r io.Reader) ([]Goroutine, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var (
		out     []Goroutine
		current *Goroutine
		pending string
		inFrame bool
		created bool
	)
	flush := func() {
		if current != nil {
			out = append(out, *current)
		}
		current = nil
		inFrame = false
		created = false
	}

	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "goroutine "):
			flush()
			id, state, err := parseHeader(line)
			if err != nil {
				continue
			}
			current = &Goroutine{ID: id, State: state}
		case current == nil:
			// Lines outside a goroutine block, e.g. a panic banner.
		case strings.HasPrefix(line, "\t"):
			if !inFrame {
				continue
			}
			inFrame = false
			if created {
				continue
			}
			file, lineNo := parseLocation(line)
			current.Frames = append(current.Frames, NewFrame(pending, file, lineNo))
		case strings.HasPrefix(line, "created by "):
			created = true
			inFrame = true
		case strings.HasPrefix(line, "...") && strings.HasSuffix(line, "elided..."):
			// "...additional frames elided..." and "...N frames elided...".
		default:
			if created {
				continue
			}
			pending = functionName(line)
			inFrame = true
		}
	}
	flush()
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("failed to read goroutine dump: %w", err)
	}
	return out, nil
}

// parseHeader parses "goroutine 18 [chan receive, 2 minutes]:".
func parseHeader(line string) (int64, string, error) {
	rest := strings.TrimPrefix(line, "goroutine ")
	sp := strings.IndexByte(rest, ' ')
	if sp < 0 {
		return 0, "", fmt.Errorf("malformed goroutine header %q", line)
	}
	id, err := strconv.ParseInt(rest[:sp], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed goroutine id in %q: %w", line, err)
	}
	state := ""
	if open := strings.IndexByte(rest, '['); open >= 0 {
		if end := strings.IndexByte(rest[open:], ']'); end > 0 {
			state = rest[open+1 : open+end]
		}
	}
	return id, state, nil
}

// functionName drops the argument list from "pkg.F(0x1, {0x2, 0x3})".
func functionName(line string) string {
	if i := strings.LastIndexByte(line, '('); i > 0 {
		return line[:i]
	}
	return line
}

// parseLocation parses "\t/path/to/file.go:42 +0x1d".
func parseLocation(line string) (string, int) {
	line = strings.TrimSpace(line)
	if sp := strings.LastIndex(line, " +0x"); sp >= 0 {
		line = line[:sp]
	}
	colon := strings.LastIndexByte(line, ':')
	if colon < 0 {
		return line, 0
	}
	n, err := strconv.Atoi(line[colon+1:])
	if err != nil {
		return line, 0
	}
	return line[:colon], n
}
