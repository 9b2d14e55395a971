// Package arm defines the boundary to a 6-axis manipulator reachable over a
// network connection, together with the joint-limit and tool-offset model the
// motion layer validates against.
package arm

import (
	"context"

	"github.com/tendon-robotics/armctl/spatialmath"
)

// NumJoints is the number of joints of the supported manipulators.
const NumJoints = 6

// Arm is the session to a physical arm controller. Exactly one motion command
// may be active against it at a time; the motion layer owns serialization.
type Arm interface {
	// JointPositions returns the measured joint angles in radians.
	JointPositions(ctx context.Context) ([]float64, error)

	// EndPosition returns the measured flange pose in the robot base frame.
	EndPosition(ctx context.Context) (spatialmath.Pose, error)

	// TCPForce returns the measured generalized force at the tool, one value
	// per axis [Fx Fy Fz Tx Ty Tz], in Newtons and Newton-meters.
	TCPForce(ctx context.Context) ([]float64, error)

	// MoveToJointPositions commands a point-to-point joint-space motion and
	// blocks until the controller reports the target reached.
	MoveToJointPositions(ctx context.Context, joints []float64, speed, acc float64) error

	// MoveLinear commands a linear Cartesian motion to the target flange pose
	// and blocks until the controller reports the target reached.
	MoveLinear(ctx context.Context, target spatialmath.Pose, speed, acc float64) error

	// ServoCartesian transmits one servo target to be tracked for controlTime
	// seconds with the given lookahead and proportional gain. It does not block
	// on convergence.
	ServoCartesian(ctx context.Context, target spatialmath.Pose, controlTime, lookahead, gain float64) error

	// Stop halts any in-progress motion with controlled deceleration.
	Stop(ctx context.Context) error

	// Close shuts down the network session.
	Close(ctx context.Context) error
}
