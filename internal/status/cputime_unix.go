//go:build unix

package status

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

func rusageTimes() (CPUTimes, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return CPUTimes{}, fmt.Errorf("getrusage: %w", err)
	}
	return CPUTimes{
		User:   time.Duration(ru.Utime.Nano()),
		System: time.Duration(ru.Stime.Nano()),
	}, nil
}
