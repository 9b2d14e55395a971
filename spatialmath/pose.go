// Package spatialmath defines the spatial mathematical operations needed to
// express and compose rigid poses in 3D Euclidean space.
package spatialmath

import (
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose represents a rigid position and orientation in 3D space. Position is in
// meters, orientation is a unit quaternion.
type Pose struct {
	Point       r3.Vector
	Orientation quat.Number
}

// NewZeroPose returns a pose at the origin with no rotation.
func NewZeroPose() Pose {
	return Pose{Orientation: quat.Number{Real: 1}}
}

// NewPose returns a pose with the given position and orientation.
func NewPose(pt r3.Vector, o quat.Number) Pose {
	return Pose{Point: pt, Orientation: o}
}

// NewPoseFromPoint returns a pose at the given position with no rotation.
func NewPoseFromPoint(pt r3.Vector) Pose {
	return Pose{Point: pt, Orientation: quat.Number{Real: 1}}
}

// Compose treats b as a transform in a's frame and returns the resulting pose
// in the world frame. Composing a flange pose with a fixed tool offset yields
// the TCP pose.
func Compose(a, b Pose) Pose {
	return Pose{
		Point:       a.Point.Add(QuatRotate(a.Orientation, b.Point)),
		Orientation: quat.Mul(a.Orientation, b.Orientation),
	}
}

// Invert returns the inverse transform, such that Compose(p, p.Invert()) is
// the zero pose.
func (p Pose) Invert() Pose {
	inv := quat.Conj(p.Orientation)
	return Pose{
		Point:       QuatRotate(inv, p.Point.Mul(-1)),
		Orientation: inv,
	}
}

// Delta returns the pose that transforms from p to other, i.e. the
// position difference and the relative rotation between the two.
func (p Pose) Delta(other Pose) Pose {
	return Pose{
		Point:       other.Point.Sub(p.Point),
		Orientation: quat.Mul(other.Orientation, quat.Conj(p.Orientation)),
	}
}

// AlmostEqual returns whether two poses are within epsilon of each other in
// both position and orientation.
func (p Pose) AlmostEqual(other Pose, epsilon float64) bool {
	if p.Point.Sub(other.Point).Norm() > epsilon {
		return false
	}
	return OrientationDistance(p.Orientation, other.Orientation) <= epsilon
}

func (p Pose) String() string {
	e := EulerFromQuat(p.Orientation)
	return fmt.Sprintf("[%.4f %.4f %.4f | %.4f %.4f %.4f]",
		p.Point.X, p.Point.Y, p.Point.Z, e.X, e.Y, e.Z)
}
