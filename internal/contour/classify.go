package contour

import "math"

// classThresholds are checked in ascending order; the last divisor that
// divides the contour value wins.
var classThresholds = []float64{10, 20, 50, 100, 500, 1000, 5000}

const defaultClass = 2

// ContourClass returns the CTYPE of a contour elevation.
func ContourClass(v float64) int {
	class := defaultClass
	for _, t := range classThresholds {
		if math.Mod(v, t) == 0 {
			class = int(t)
		}
	}
	return class
}

// MajorIndex returns 1 when v falls on every fifth interval.
func MajorIndex(v, interval float64) int {
	step := float64(int(interval * 5))
	if step == 0 {
		return 0
	}
	if math.Mod(v, step) == 0 {
		return 1
	}
	return 0
}
