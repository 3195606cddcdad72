// Package timing extracts the TOTAL timing marker that instrumented
// programs print at exit.
package timing

import (
	"math"
	"regexp"
	"strconv"
	"time"
)

var totalRE = regexp.MustCompile(`(?i)TOTAL:\s*(\d+)H-(\d+)M-(\d+)S-(\d+)us`)

// Parse returns the microseconds carried by the first TOTAL marker in text.
// ok is false when there is no marker or its fields overflow int64.
func Parse(text string) (us int64, ok bool) {
	m := totalRE.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	var f [4]int64
	for i := range f {
		v, err := strconv.ParseInt(m[i+1], 10, 64)
		if err != nil {
			return 0, false
		}
		f[i] = v
	}
	h, mi, s, u := f[0], f[1], f[2], f[3]

	total := h
	for _, step := range []struct{ mul, add int64 }{{60, mi}, {60, s}, {1_000_000, u}} {
		if total > (math.MaxInt64-step.add)/step.mul {
			return 0, false
		}
		total = total*step.mul + step.add
	}
	return total, true
}

// Sample returns the marker value from text, or wall in microseconds when
// the marker is absent. The result is never negative.
func Sample(text string, wall time.Duration) int64 {
	if us, ok := Parse(text); ok {
		return us
	}
	if wall < 0 {
		return 0
	}
	return wall.Microseconds()
}

// Format renders microseconds as seconds with millisecond precision.
func Format(us int64) string {
	return strconv.FormatFloat(float64(us)/1e6, 'f', 3, 64) + "s"
}
