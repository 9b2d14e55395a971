// Package utils contains small math helpers shared across the module.
package utils

import "math"

// DegToRad converts degrees to radians.
func DegToRad(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// RadToDeg converts radians to degrees.
func RadToDeg(radians float64) float64 {
	return radians * 180 / math.Pi
}

// Float64AlmostEqual returns whether two floats are within epsilon of each other.
func Float64AlmostEqual(v, ov, epsilon float64) bool {
	return math.Abs(v-ov) <= epsilon
}

// Clamp returns value clamped to [min, max].
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// AngleDiff returns the signed difference b-a wrapped to [-pi, pi).
func AngleDiff(a, b float64) float64 {
	diff := math.Mod(b-a+math.Pi, 2*math.Pi)
	if diff < 0 {
		diff += 2 * math.Pi
	}
	return diff - math.Pi
}

// NormalizeAngle wraps an angle to [-pi, pi).
func NormalizeAngle(theta float64) float64 {
	return AngleDiff(0, theta)
}
