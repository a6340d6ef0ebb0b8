package status

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/coral-mesh/stacktape/internal/safe"
	"github.com/coral-mesh/stacktape/pkg/recording"
	"github.com/coral-mesh/stacktape/pkg/version"
)

// Output is the JSON form of the status.
type Output struct {
	Info
	Version string `json:"version"`
}

// Formatter handles formatting status output.
type Formatter struct {
	w   io.Writer
	now func() time.Time
}

// NewFormatter creates a new status formatter writing to w.
func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w, now: time.Now}
}

// OutputJSON outputs the status in JSON format.
func (f *Formatter) OutputJSON(info Info) error {
	data, err := json.MarshalIndent(Output{Info: info, Version: version.Version}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(f.w, string(data))
	return err
}

// OutputTable outputs the status in human-readable form.
func (f *Formatter) OutputTable(info Info, verbose bool) error {
	w := f.w
	_, _ = fmt.Fprintln(w, "Stacktape Environment Status")
	_, _ = fmt.Fprintln(w, "============================")
	_, _ = fmt.Fprintln(w)

	state := "enabled"
	if !info.Enabled {
		state = "disabled"
	}
	_, _ = fmt.Fprintf(w, "Profiler:  %s (sample every %s, status every %s)\n", state, info.SampleDelay, info.StatusDelay)
	_, _ = fmt.Fprintf(w, "Config:    %s\n", info.ConfigPath)

	storage := info.Root
	if info.Storage != "" {
		storage = info.Storage
	}
	_, _ = fmt.Fprintf(w, "Storage:   %s\n", storage)

	viewer := "not configured"
	if info.Viewer.Server != "" {
		health := "unreachable"
		if info.Viewer.Healthy {
			health = "reachable"
		}
		viewer = fmt.Sprintf("%s (%s)", info.Viewer.Server, health)
	}
	_, _ = fmt.Fprintf(w, "Viewer:    %s\n", viewer)
	_, _ = fmt.Fprintf(w, "Version:   stacktape %s\n", version.Version)
	_, _ = fmt.Fprintln(w)

	if info.StorageError != "" {
		_, _ = fmt.Fprintf(w, "Storage error: %s\n", info.StorageError)
		return nil
	}
	if len(info.Applications) == 0 {
		_, _ = fmt.Fprintln(w, "No recordings yet.")
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "Run 'stacktape demo' to make one.")
		return nil
	}

	_, _ = fmt.Fprintf(w, "%-25s %-11s %-10s %s\n", "APPLICATION", "RECORDINGS", "SIZE", "LATEST")
	for _, a := range info.Applications {
		name := a.Application
		if len(name) > 25 {
			name = name[:22] + "..."
		}
		latest := formatAge(f.now().Sub(a.Latest)) + " ago"
		if verbose {
			latest += "  " + a.LatestPath
		}
		_, _ = fmt.Fprintf(w, "%-25s %-11d %-10s %s\n",
			name, a.Recordings, recording.FormatBytes(safe.Int64ToUint64(int64(a.TotalBytes))), latest)
	}
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Use 'stacktape ls <application>' to list recordings")
	return nil
}

// formatAge formats a duration coarsely:
// < 1h: minutes and seconds (e.g., "15m 30s")
// 1h - 24h: hours and minutes (e.g., "5h 20m")
// > 24h: days and hours (e.g., "2d 3h")
func formatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		if minutes == 0 {
			return fmt.Sprintf("%ds", seconds)
		}
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}

	hours := int(d.Hours())
	if hours < 24 {
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}

	days := hours / 24
	remainingHours := hours % 24
	return fmt.Sprintf("%dd %dh", days, remainingHours)
}
