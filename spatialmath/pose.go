package spatialmath

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose represents a position and orientation in 3D Euclidean space, i.e. a rigid transform from a
// reference frame to the frame described by the pose.
type Pose interface {
	Point() r3.Vector
	Orientation() Orientation
}

type pose struct {
	point       r3.Vector
	orientation Orientation
}

// NewPose creates a new Pose from a point and an orientation. A nil orientation is treated as the
// identity rotation.
func NewPose(point r3.Vector, orientation Orientation) Pose {
	if orientation == nil {
		orientation = NewZeroOrientation()
	}
	return &pose{point: point, orientation: orientation}
}

// NewPoseFromPoint creates a new Pose with the given point and no rotation.
func NewPoseFromPoint(point r3.Vector) Pose {
	return NewPose(point, NewZeroOrientation())
}

// NewZeroPose returns a pose at the origin with no rotation.
func NewZeroPose() Pose {
	return NewPose(r3.Vector{}, NewZeroOrientation())
}

func (p *pose) Point() r3.Vector {
	return p.point
}

func (p *pose) Orientation() Orientation {
	return p.orientation
}

// PoseInverse returns a pose that, when composed with p, results in the zero pose. If p is the transform
// from frame A to frame B, PoseInverse(p) is the transform from frame B to frame A.
func PoseInverse(p Pose) Pose {
	invOrient := quat.Conj(p.Orientation().Quaternion())
	invPoint := quat.Mul(quat.Mul(invOrient, quatFromVector(p.Point())), quat.Conj(invOrient))
	return NewPose(r3.Vector{X: -invPoint.Imag, Y: -invPoint.Jmag, Z: -invPoint.Kmag}, &quaternion{invOrient.Real, invOrient.Imag, invOrient.Jmag, invOrient.Kmag})
}

// Compose returns the pose that results from first applying "first" and then "second", i.e. the transform
// from second's parent frame through first's frame.
func Compose(first, second Pose) Pose {
	q1 := first.Orientation().Quaternion()
	q2 := second.Orientation().Quaternion()
	rotatedPoint := quat.Mul(quat.Mul(q1, quatFromVector(second.Point())), quat.Conj(q1))
	newPoint := first.Point().Add(r3.Vector{X: rotatedPoint.Imag, Y: rotatedPoint.Jmag, Z: rotatedPoint.Kmag})
	newOrient := quat.Mul(q1, q2)
	return NewPose(newPoint, &quaternion{newOrient.Real, newOrient.Imag, newOrient.Jmag, newOrient.Kmag})
}

// PoseBetween returns the pose which, when composed with a, yields b: i.e. Compose(a, PoseBetween(a, b))
// is coincident with b.
func PoseBetween(a, b Pose) Pose {
	return Compose(PoseInverse(a), b)
}

// PoseAlmostCoincident returns true if the two poses describe almost the same position and orientation.
func PoseAlmostCoincident(a, b Pose, distTol float64) bool {
	return a.Point().Sub(b.Point()).Norm() < distTol && OrientationAlmostEqual(a.Orientation(), b.Orientation())
}

func quatFromVector(v r3.Vector) quat.Number {
	return quat.Number{Real: 0, Imag: v.X, Jmag: v.Y, Kmag: v.Z}
}
