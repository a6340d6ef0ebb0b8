package recording

import (
	"fmt"
	"strings"
	"time"
)

// MarkerKind classifies a marker.
type MarkerKind int

// Marker kinds. The numeric values are part of the persisted format.
const (
	MarkerInfo  MarkerKind = 3
	MarkerWarn  MarkerKind = 4
	MarkerDebug MarkerKind = 5
	MarkerError MarkerKind = 6
)

// DefaultMarkerDuration is the width given to point-in-time markers.
const DefaultMarkerDuration = 100 * time.Millisecond

func (k MarkerKind) String() string {
	switch k {
	case MarkerInfo:
		return "info"
	case MarkerWarn:
		return "warn"
	case MarkerDebug:
		return "debug"
	case MarkerError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseMarkerKind parses the String form of a marker kind.
func ParseMarkerKind(s string) (MarkerKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return MarkerInfo, nil
	case "warn", "warning":
		return MarkerWarn, nil
	case "debug":
		return MarkerDebug, nil
	case "error":
		return MarkerError, nil
	}
	return 0, fmt.Errorf("unknown marker kind %q", s)
}

// Marker is an event emitted by the logging API or intercepted output.
type Marker struct {
	Kind     MarkerKind
	When     time.Duration
	Message  string
	Stack    Stack
	Duration time.Duration
}

// NewMarker builds a Marker with its timestamp rounded to the millisecond.
func NewMarker(kind MarkerKind, when time.Duration, message string, stack Stack, duration time.Duration) Marker {
	if duration < 0 {
		duration = 0
	}
	return Marker{
		Kind:     kind,
		When:     when.Round(time.Millisecond),
		Message:  message,
		Stack:    stack,
		Duration: duration,
	}
}
