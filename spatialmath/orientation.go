package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// defaultAngleEpsilon is the value below which a rotation angle is treated as zero.
const defaultAngleEpsilon = 1e-8

// QuatRotate rotates vector v by unit quaternion q.
func QuatRotate(q quat.Number, v r3.Vector) r3.Vector {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// QuatFromEuler converts extrinsic xyz euler angles (radians) to a unit
// quaternion. The resulting rotation is Rz(z) * Ry(y) * Rx(x).
func QuatFromEuler(e r3.Vector) quat.Number {
	cx, sx := math.Cos(e.X/2), math.Sin(e.X/2)
	cy, sy := math.Cos(e.Y/2), math.Sin(e.Y/2)
	cz, sz := math.Cos(e.Z/2), math.Sin(e.Z/2)
	return quat.Number{
		Real: cx*cy*cz + sx*sy*sz,
		Imag: sx*cy*cz - cx*sy*sz,
		Jmag: cx*sy*cz + sx*cy*sz,
		Kmag: cx*cy*sz - sx*sy*cz,
	}
}

// EulerFromQuat converts a unit quaternion to extrinsic xyz euler angles.
func EulerFromQuat(q quat.Number) r3.Vector {
	// gimbal lock guard on the y axis
	sinY := 2 * (q.Real*q.Jmag - q.Kmag*q.Imag)
	var y float64
	if math.Abs(sinY) >= 1 {
		y = math.Copysign(math.Pi/2, sinY)
	} else {
		y = math.Asin(sinY)
	}
	x := math.Atan2(2*(q.Real*q.Imag+q.Jmag*q.Kmag), 1-2*(q.Imag*q.Imag+q.Jmag*q.Jmag))
	z := math.Atan2(2*(q.Real*q.Kmag+q.Imag*q.Jmag), 1-2*(q.Jmag*q.Jmag+q.Kmag*q.Kmag))
	return r3.Vector{X: x, Y: y, Z: z}
}

// QuatFromRotationVector converts an R3 axis-angle rotation vector, whose
// direction is the rotation axis and whose norm is the rotation angle, to a
// unit quaternion. This is the orientation representation Universal Robots
// controllers speak natively.
func QuatFromRotationVector(v r3.Vector) quat.Number {
	theta := v.Norm()
	if theta < defaultAngleEpsilon {
		return quat.Number{Real: 1}
	}
	axis := v.Mul(1 / theta)
	s := math.Sin(theta / 2)
	return quat.Number{
		Real: math.Cos(theta / 2),
		Imag: axis.X * s,
		Jmag: axis.Y * s,
		Kmag: axis.Z * s,
	}
}

// RotationVectorFromQuat converts a unit quaternion to an R3 axis-angle
// rotation vector.
func RotationVectorFromQuat(q quat.Number) r3.Vector {
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	imag := r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	s := imag.Norm()
	if s < defaultAngleEpsilon {
		return r3.Vector{}
	}
	theta := 2 * math.Atan2(s, q.Real)
	return imag.Mul(theta / s)
}

// OrientationDistance returns the rotation angle in radians between two unit
// quaternions. The result is in [0, pi].
func OrientationDistance(q1, q2 quat.Number) float64 {
	dot := q1.Real*q2.Real + q1.Imag*q2.Imag + q1.Jmag*q2.Jmag + q1.Kmag*q2.Kmag
	dot = math.Min(math.Abs(dot), 1)
	return 2 * math.Acos(dot)
}

// Normalize scales q to a unit quaternion.
func Normalize(q quat.Number) quat.Number {
	n := math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

// Slerp spherically interpolates from q1 to q2 by fraction t in [0, 1].
func Slerp(q1, q2 quat.Number, t float64) quat.Number {
	dot := q1.Real*q2.Real + q1.Imag*q2.Imag + q1.Jmag*q2.Jmag + q1.Kmag*q2.Kmag
	if dot < 0 {
		q2 = quat.Scale(-1, q2)
		dot = -dot
	}
	if dot > 1-defaultAngleEpsilon {
		// nearly parallel, lerp is stable
		return Normalize(quat.Add(quat.Scale(1-t, q1), quat.Scale(t, q2)))
	}
	theta := math.Acos(dot)
	sinTheta := math.Sin(theta)
	a := math.Sin((1-t)*theta) / sinTheta
	b := math.Sin(t*theta) / sinTheta
	return quat.Add(quat.Scale(a, q1), quat.Scale(b, q2))
}
