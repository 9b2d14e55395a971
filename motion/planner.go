package motion

import (
	"github.com/tendon-robotics/armctl/arm"
	"github.com/tendon-robotics/armctl/config"
	"github.com/tendon-robotics/armctl/spatialmath"
)

// PTPPlan is a validated joint-space motion with its speed/acceleration
// envelope.
type PTPPlan struct {
	Target []float64
	Speed  float64
	Acc    float64
}

// LinearPlan is a Cartesian motion to a TCP target with the configured
// envelope. The speed and acceleration are hard caps communicated to the
// low-level controller.
type LinearPlan struct {
	Target spatialmath.Pose
	Speed  float64
	Acc    float64
}

// Planner chooses between motion primitives and, for continuous control,
// synthesizes the per-tick interpolated servo targets bounded by the servo
// reachability thresholds.
type Planner struct {
	limits *arm.LimitModel

	jointSpeed float64
	jointAcc   float64
	cartSpeed  float64
	cartAcc    float64

	maxStepPos float64
	maxStepOrn float64
}

// NewPlanner builds a Planner over the shared limit model and the configured
// motion envelopes.
func NewPlanner(limits *arm.LimitModel, cfg *config.Config) *Planner {
	return &Planner{
		limits:     limits,
		jointSpeed: cfg.JointSpeed,
		jointAcc:   cfg.JointAcc,
		cartSpeed:  cfg.CartesianSpeed,
		cartAcc:    cfg.CartesianAcc,
		maxStepPos: cfg.ServoMaxDistPos,
		maxStepOrn: cfg.ServoMaxDistOrn,
	}
}

// PlanPointToPoint validates a joint-space target against the limit model.
// Out-of-range targets are rejected outright, never clamped; joint targets are
// expected to already be within range by the time they reach this layer.
func (p *Planner) PlanPointToPoint(target []float64) (PTPPlan, error) {
	if err := p.limits.ValidateJoints(target); err != nil {
		return PTPPlan{}, err
	}
	return PTPPlan{
		Target: append([]float64{}, target...),
		Speed:  p.jointSpeed,
		Acc:    p.jointAcc,
	}, nil
}

// PlanLinear wraps a Cartesian TCP target with the configured envelope.
func (p *Planner) PlanLinear(target spatialmath.Pose) LinearPlan {
	return LinearPlan{Target: target, Speed: p.cartSpeed, Acc: p.cartAcc}
}

// NextServoTarget advances one interpolated step from the last transmitted
// target toward the goal, bounded so a single control tick never asks for more
// than the servo reachability thresholds.
func (p *Planner) NextServoTarget(from, goal spatialmath.Pose) spatialmath.Pose {
	next := goal

	delta := goal.Point.Sub(from.Point)
	if dist := delta.Norm(); dist > p.maxStepPos {
		next.Point = from.Point.Add(delta.Mul(p.maxStepPos / dist))
	}

	if ornDist := spatialmath.OrientationDistance(from.Orientation, goal.Orientation); ornDist > p.maxStepOrn {
		next.Orientation = spatialmath.Slerp(from.Orientation, goal.Orientation, p.maxStepOrn/ornDist)
	}
	return next
}
