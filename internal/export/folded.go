package export

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// Folded renders the calls as collapsed stacks, one "a;b;c <ms>" line per
// distinct path, weighted by self time in milliseconds. Lines are sorted.
func Folded(s Source) []string {
	nodes := nest(s.Calls)
	self := selfTimes(nodes)

	weights := make(map[string]time.Duration)
	for i := range nodes {
		if self[i] <= 0 {
			continue
		}
		key := strings.Join(sanitizeFrames(path(nodes, i)), ";")
		weights[key] += self[i]
	}

	lines := make([]string, 0, len(weights))
	for key, w := range weights {
		ms := w.Milliseconds()
		if ms == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %d", key, ms))
	}
	sort.Strings(lines)
	return lines
}

// WriteFolded writes Folded output, one line per stack.
func WriteFolded(w io.Writer, s Source) error {
	bw := bufio.NewWriter(w)
	for _, line := range Folded(s) {
		if _, err := bw.WriteString(line + "\n"); err != nil {
			return fmt.Errorf("failed to write folded stacks: %w", err)
		}
	}
	return bw.Flush()
}

// sanitizeFrames drops the characters the collapsed format reserves.
func sanitizeFrames(names []string) []string {
	r := strings.NewReplacer(";", ":", " ", "_", "\n", "_")
	for i, n := range names {
		names[i] = r.Replace(n)
	}
	return names
}
