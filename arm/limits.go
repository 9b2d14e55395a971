package arm

import (
	"github.com/pkg/errors"

	"github.com/tendon-robotics/armctl/spatialmath"
)

// LimitModel holds the per-joint limits and the fixed flange-to-TCP offset of
// an arm. It is loaded once from configuration and shared read-only; all
// methods are pure functions over that immutable state.
type LimitModel struct {
	lower      []float64
	upper      []float64
	toolOffset spatialmath.Pose
	neutral    []float64
}

// NewLimitModel builds a LimitModel from per-joint radian bounds, the rigid
// tool offset and the neutral (homing) joint configuration.
func NewLimitModel(lower, upper []float64, toolOffset spatialmath.Pose, neutral []float64) (*LimitModel, error) {
	if len(lower) != NumJoints || len(upper) != NumJoints {
		return nil, errors.Errorf("need %d joint limits, got %d lower and %d upper", NumJoints, len(lower), len(upper))
	}
	if len(neutral) != 0 && len(neutral) != NumJoints {
		return nil, errors.Errorf("neutral pose needs %d joints, got %d", NumJoints, len(neutral))
	}
	for i := range lower {
		if lower[i] > upper[i] {
			return nil, errors.Errorf("joint %d lower limit %.4f above upper limit %.4f", i, lower[i], upper[i])
		}
	}
	lm := &LimitModel{
		lower:      append([]float64{}, lower...),
		upper:      append([]float64{}, upper...),
		toolOffset: toolOffset,
		neutral:    append([]float64{}, neutral...),
	}
	if len(neutral) == NumJoints {
		if err := lm.ValidateJoints(neutral); err != nil {
			return nil, errors.Wrap(err, "neutral pose")
		}
	}
	return lm, nil
}

// ValidateJoints checks a joint configuration against the limits, bounds
// inclusive. The first violating axis is reported; nothing is clamped.
func (lm *LimitModel) ValidateJoints(joints []float64) error {
	if len(joints) != NumJoints {
		return errors.Errorf("need %d joints, got %d", NumJoints, len(joints))
	}
	for i, j := range joints {
		if j < lm.lower[i] || j > lm.upper[i] {
			return &OutOfRangeError{Axis: i, Value: j, Min: lm.lower[i], Max: lm.upper[i]}
		}
	}
	return nil
}

// ApplyToolOffset composes the fixed tool offset onto a measured flange pose,
// yielding the TCP pose.
func (lm *LimitModel) ApplyToolOffset(flange spatialmath.Pose) spatialmath.Pose {
	return spatialmath.Compose(flange, lm.toolOffset)
}

// RemoveToolOffset converts a TCP pose back to the flange pose the controller
// is commanded with.
func (lm *LimitModel) RemoveToolOffset(tcp spatialmath.Pose) spatialmath.Pose {
	return spatialmath.Compose(tcp, lm.toolOffset.Invert())
}

// NeutralJoints returns the configured homing configuration, or nil when none
// is configured.
func (lm *LimitModel) NeutralJoints() []float64 {
	if len(lm.neutral) == 0 {
		return nil
	}
	return append([]float64{}, lm.neutral...)
}
