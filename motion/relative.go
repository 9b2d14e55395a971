package motion

import (
	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/tendon-robotics/armctl/arm"
	"github.com/tendon-robotics/armctl/config"
	"github.com/tendon-robotics/armctl/spatialmath"
	"github.com/tendon-robotics/armctl/utils"
)

// RelativeAction is a position/orientation delta to apply against a reference
// pose. It is constructed per command and consumed immediately.
type RelativeAction struct {
	// Pos is the position delta in meters, robot base frame.
	Pos r3.Vector
	// Orn is the orientation delta as extrinsic xyz euler angles in radians.
	Orn r3.Vector
	// Ref overrides the configured reference-frame selector when non-empty.
	Ref config.ReferenceFrame
}

// Translator resolves relative actions into absolute TCP target poses,
// applying the configured clipping and DOF restrictions. Clipping is a
// designed safety rail, not a fault, and is always silent.
type Translator struct {
	params    config.RelActionParams
	workspace arm.Workspace
	logger    golog.Logger
}

// NewTranslator builds a Translator. The workspace may be nil, in which case
// no containment check is applied.
func NewTranslator(params config.RelActionParams, workspace arm.Workspace, logger golog.Logger) (*Translator, error) {
	switch params.Ref {
	case config.ReferenceCurrent, config.ReferenceDesired:
	default:
		return nil, errors.Errorf("invalid reference-frame selector %q", params.Ref)
	}
	return &Translator{params: params, workspace: workspace, logger: logger}, nil
}

func clipVector(v r3.Vector, limit float64) r3.Vector {
	return r3.Vector{
		X: utils.Clamp(v.X, -limit, limit),
		Y: utils.Clamp(v.Y, -limit, limit),
		Z: utils.Clamp(v.Z, -limit, limit),
	}
}

// Resolve composes a relative action onto its reference pose and returns the
// absolute target. current is the last measured TCP pose; desired is the last
// commanded target, so that commands issued faster than the robot converges
// compose against intent rather than lag.
func (t *Translator) Resolve(action RelativeAction, current, desired spatialmath.Pose) (spatialmath.Pose, error) {
	ref := current
	selector := action.Ref
	if selector == "" {
		selector = t.params.Ref
	}
	switch selector {
	case config.ReferenceCurrent:
	case config.ReferenceDesired:
		ref = desired
	default:
		return spatialmath.Pose{}, errors.Errorf("invalid reference-frame selector %q", selector)
	}

	pos := clipVector(action.Pos, t.params.PosClipThreshold)
	orn := clipVector(action.Orn, t.params.RotClipThreshold)

	refEuler := spatialmath.EulerFromQuat(ref.Orientation)
	targetEuler := r3.Vector{
		X: utils.NormalizeAngle(refEuler.X + orn.X),
		Y: utils.NormalizeAngle(refEuler.Y + orn.Y),
		Z: utils.NormalizeAngle(refEuler.Z + orn.Z),
	}

	if t.params.LimitControl5DOF {
		targetEuler = t.restrictOrientation(targetEuler)
	}

	target := spatialmath.Pose{
		Point:       ref.Point.Add(pos),
		Orientation: spatialmath.QuatFromEuler(targetEuler),
	}

	if t.workspace != nil && !t.workspace.Contains(target) {
		return spatialmath.Pose{}, &WorkspaceError{X: target.Point.X, Y: target.Point.Y, Z: target.Point.Z}
	}
	return target, nil
}

// restrictOrientation applies 5-DOF mode: the end-effector roll and pitch are
// either pinned to the configured defaults or clamped to the configured caps,
// leaving yaw as the only freely controllable rotation axis.
func (t *Translator) restrictOrientation(euler r3.Vector) r3.Vector {
	if t.params.DefaultOrnX != nil && t.params.DefaultOrnY != nil {
		euler.X = *t.params.DefaultOrnX
		euler.Y = *t.params.DefaultOrnY
		return euler
	}
	maxRoll := utils.DegToRad(t.params.MaxEERoll)
	maxPitch := utils.DegToRad(t.params.MaxEEPitch)
	euler.X = utils.Clamp(euler.X, -maxRoll, maxRoll)
	euler.Y = utils.Clamp(euler.Y, -maxPitch, maxPitch)
	return euler
}
