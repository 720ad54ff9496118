package geometry

import "math"

// Normalize wraps an angle in degrees into the half-open interval (-180, 180].
func Normalize(deg float64) float64 {
	n := math.Mod(deg+180, 360)
	if n <= 0 {
		n += 360
	}
	return n - 180
}

// ShortestDelta returns the signed rotation from current to target that never
// exceeds 180 degrees in magnitude: ((target - current + 180) mod 360) - 180,
// with a floored modulo.
func ShortestDelta(current, target float64) float64 {
	m := math.Mod(target-current+180, 360)
	if m < 0 {
		m += 360
	}
	return m - 180
}
