// Package snapshot captures goroutine stacks and turns them into recording
// call sites.
//
// The Go runtime exposes no per-goroutine frame objects, so stacks are read
// from the runtime's own goroutine dump (runtime.Stack with all=true) and
// parsed into Frame values. Frames of the calling goroutine can also be built
// directly from runtime.Callers, which is what markers use.
package snapshot

import (
	"runtime"
	"strings"
)

// Frame describes one stack frame.
type Frame struct {
	// Function is the fully qualified function name as reported by the runtime.
	Function string
	// Package is the import path of the function's package.
	Package string
	// Receiver is the method receiver type, "(*T)" style pointers reported as "*T".
	Receiver string
	// Name is the function or method name, closures keep their ".funcN" suffix.
	Name string
	File string
	Line int
}

// NewFrame builds a Frame from a function name and position, splitting the
// name into its parts.
func NewFrame(function, file string, line int) Frame {
	pkg, recv, name := SplitFunction(function)
	return Frame{
		Function: function,
		Package:  pkg,
		Receiver: recv,
		Name:     name,
		File:     file,
		Line:     line,
	}
}

// SplitFunction splits a qualified Go function name such as
// "example.com/pkg.(*T).M" into package, receiver and name. Generic type
// arguments are dropped.
func SplitFunction(function string) (pkg, receiver, name string) {
	function = NormalizeFunction(function)
	if function == "" {
		return "", "", ""
	}

	// The package path ends at the first dot after the last slash.
	start := strings.LastIndex(function, "/") + 1
	dot := strings.Index(function[start:], ".")
	if dot < 0 {
		return "", "", function
	}
	pkg = function[:start+dot]
	rest := function[start+dot+1:]

	if strings.HasPrefix(rest, "(") {
		if end := strings.Index(rest, ")."); end > 0 {
			return pkg, rest[1:end], rest[end+2:]
		}
		return pkg, "", rest
	}

	parts := strings.SplitN(rest, ".", 2)
	if len(parts) == 2 && !isClosure(parts[1]) {
		return pkg, parts[0], parts[1]
	}
	return pkg, "", rest
}

func isClosure(s string) bool {
	if !strings.HasPrefix(s, "func") {
		return false
	}
	digits := strings.TrimPrefix(s, "func")
	if i := strings.IndexByte(digits, '.'); i >= 0 {
		digits = digits[:i]
	}
	if digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// NormalizeFunction strips decorations the runtime adds to function names:
// the "-fm" suffix of method values and bracketed generic shapes.
func NormalizeFunction(function string) string {
	function = strings.TrimSuffix(function, "-fm")
	if !strings.Contains(function, "[") {
		return function
	}
	var b strings.Builder
	depth := 0
	for _, r := range function {
		switch {
		case r == '[':
			depth++
		case r == ']' && depth > 0:
			depth--
		case depth == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CallerFrames returns the frames of the calling goroutine, leaf first.
// skip is the number of frames to skip above the caller of CallerFrames.
func CallerFrames(skip int) []Frame {
	pcs := make([]uintptr, 64)
	for {
		n := runtime.Callers(skip+2, pcs)
		if n < len(pcs) {
			pcs = pcs[:n]
			break
		}
		pcs = make([]uintptr, len(pcs)*2)
	}

	frames := make([]Frame, 0, len(pcs))
	it := runtime.CallersFrames(pcs)
	for {
		f, more := it.Next()
		if f.Function != "" || f.File != "" {
			frames = append(frames, NewFrame(f.Function, f.File, f.Line))
		}
		if !more {
			break
		}
	}
	return frames
}
