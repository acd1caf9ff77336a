package spatialmath

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// EulerAngles are three angles (in radians) used to represent the rotation of an object in 3D Euclidean
// space. The angles represent the rotation about the X (Roll), Y (Pitch), and Z (Yaw) axes, applied in that
// order about the fixed axes (equivalently intrinsic Z-Y-X: R = Rz(yaw)·Ry(pitch)·Rx(roll)). This is the
// convention used by the rest of this module for marker and camera poses persisted to the map file.
type EulerAngles struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// NewEulerAngles returns an EulerAngles representing no rotation.
func NewEulerAngles() *EulerAngles {
	return &EulerAngles{0, 0, 0}
}

// EulerAngles returns the orientation in Euler angle representation.
func (e *EulerAngles) EulerAngles() *EulerAngles {
	return e
}

// Quaternion returns the orientation in quaternion representation.
func (e *EulerAngles) Quaternion() quat.Number {
	cr := math.Cos(e.Roll * 0.5)
	sr := math.Sin(e.Roll * 0.5)
	cp := math.Cos(e.Pitch * 0.5)
	sp := math.Sin(e.Pitch * 0.5)
	cy := math.Cos(e.Yaw * 0.5)
	sy := math.Sin(e.Yaw * 0.5)

	return quat.Number{
		Real: cr*cp*cy + sr*sp*sy,
		Imag: sr*cp*cy - cr*sp*sy,
		Jmag: cr*sp*cy + sr*cp*sy,
		Kmag: cr*cp*sy - sr*sp*cy,
	}
}

// AxisAngles returns the orientation in axis angle representation.
func (e *EulerAngles) AxisAngles() *R4AA {
	return QuatToR4AA(e.Quaternion())
}

// RotationMatrix returns the orientation in rotation matrix representation.
func (e *EulerAngles) RotationMatrix() *RotationMatrix {
	return QuatToRotationMatrix(e.Quaternion())
}
