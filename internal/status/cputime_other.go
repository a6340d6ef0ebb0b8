//go:build !unix

package status

import "errors"

func rusageTimes() (CPUTimes, error) {
	return CPUTimes{}, errors.New("process cpu times are not available on this platform")
}
