package helpers

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// TimeRange is an inclusive interval of wall-clock time.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range. A nil range contains
// everything.
func (r *TimeRange) Contains(t time.Time) bool {
	if r == nil {
		return true
	}
	return !t.Before(r.Start) && !t.After(r.End)
}

// TimeFlags holds the flag values for time range parsing.
type TimeFlags struct {
	Since string
	From  string
	To    string
}

// AddFlags adds time range flags to a FlagSet.
func (f *TimeFlags) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&f.Since, "since", "", "Only recordings made within this duration (e.g. 30m, 24h)")
	flags.StringVar(&f.From, "from", "", "Start time (RFC3339, YYYY-MM-DD or 'now')")
	flags.StringVar(&f.To, "to", "", "End time (RFC3339, YYYY-MM-DD or 'now')")
}

// Parse returns the selected range, or nil when no flag is set.
// --from/--to take precedence over --since.
func (f *TimeFlags) Parse() (*TimeRange, error) {
	now := time.Now()

	if f.From != "" {
		start, err := parseTime(f.From, now)
		if err != nil {
			return nil, fmt.Errorf("invalid --from time: %w", err)
		}

		end := now
		if f.To != "" {
			end, err = parseTime(f.To, now)
			if err != nil {
				return nil, fmt.Errorf("invalid --to time: %w", err)
			}
		}

		if end.Before(start) {
			return nil, fmt.Errorf("end time cannot be before start time")
		}
		return &TimeRange{Start: start, End: end}, nil
	}

	if f.Since != "" {
		duration, err := time.ParseDuration(f.Since)
		if err != nil {
			return nil, fmt.Errorf("invalid --since duration: %w", err)
		}
		return &TimeRange{Start: now.Add(-duration), End: now}, nil
	}

	if f.To != "" {
		end, err := parseTime(f.To, now)
		if err != nil {
			return nil, fmt.Errorf("invalid --to time: %w", err)
		}
		return &TimeRange{End: end}, nil
	}
	return nil, nil
}

func parseTime(s string, now time.Time) (time.Time, error) {
	if s == "now" {
		return now, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format (use RFC3339)")
}
