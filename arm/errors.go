package arm

import "fmt"

// OutOfRangeError is returned when a joint target lies outside the configured
// limits. The target is rejected, never clamped; the caller may correct and
// resubmit.
type OutOfRangeError struct {
	Axis  int
	Value float64
	Min   float64
	Max   float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("joint %d target %.4f outside limits [%.4f, %.4f]", e.Axis, e.Value, e.Min, e.Max)
}
