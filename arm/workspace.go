package arm

import (
	"github.com/golang/geo/r3"

	"github.com/tendon-robotics/armctl/spatialmath"
)

// Workspace reports whether a pose lies inside the allowed Cartesian volume.
// Targets produced by the relative-action translator must satisfy it in
// addition to the joint limits.
type Workspace interface {
	Contains(pose spatialmath.Pose) bool
}

// Box is an axis-aligned bounding-box workspace in the robot base frame.
type Box struct {
	Min r3.Vector
	Max r3.Vector
}

// Contains reports whether the pose's position lies inside the box, bounds
// inclusive.
func (b *Box) Contains(pose spatialmath.Pose) bool {
	p := pose.Point
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}
