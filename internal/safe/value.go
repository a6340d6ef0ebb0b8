// Package safe holds small conversions and file helpers that guard against
// out-of-range values and untrusted paths.
package safe

import (
	"math"
)

// Int64ToUint64 converts an int64 to uint64, clamping negative values to zero.
func Int64ToUint64(val int64) uint64 {
	if val < 0 {
		return 0
	}
	return uint64(val)
}

// ClampPercent bounds a percentage to [0, 100]. NaN maps to zero.
func ClampPercent(p float64) float64 {
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
