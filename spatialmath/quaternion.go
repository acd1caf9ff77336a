package spatialmath

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// quaternion is an orientation stored as a unit quaternion. It implements the Orientation interface.
type quaternion quat.Number

// NewOrientationFromQuaternion builds an Orientation from a raw quaternion. The quaternion need not be
// normalized; the real-valued conversions below are scale invariant.
func NewOrientationFromQuaternion(q quat.Number) Orientation {
	quat := quaternion(q)
	return &quat
}

func (q *quaternion) Quaternion() quat.Number {
	return quat.Number(*q)
}

func (q *quaternion) AxisAngles() *R4AA {
	return QuatToR4AA(quat.Number(*q))
}

func (q *quaternion) EulerAngles() *EulerAngles {
	return QuatToEulerAngles(quat.Number(*q))
}

func (q *quaternion) RotationMatrix() *RotationMatrix {
	return QuatToRotationMatrix(quat.Number(*q))
}

// QuaternionAlmostEqual returns true if the two quaternions represent almost the same rotation, accounting
// for the double cover of SO(3) by unit quaternions (q and -q are the same rotation).
func QuaternionAlmostEqual(q1, q2 quat.Number, tol float64) bool {
	diff1 := math.Abs(q1.Real-q2.Real) + math.Abs(q1.Imag-q2.Imag) + math.Abs(q1.Jmag-q2.Jmag) + math.Abs(q1.Kmag-q2.Kmag)
	diff2 := math.Abs(q1.Real+q2.Real) + math.Abs(q1.Imag+q2.Imag) + math.Abs(q1.Jmag+q2.Jmag) + math.Abs(q1.Kmag+q2.Kmag)
	return diff1 < tol || diff2 < tol
}

// QuatToR4AA converts a quaternion to an R4 axis angle.
func QuatToR4AA(q quat.Number) *R4AA {
	n := quatNorm(q)
	if n == 0 {
		return NewR4AA()
	}
	q.Real /= n
	q.Imag /= n
	q.Jmag /= n
	q.Kmag /= n
	theta := 2 * math.Acos(clamp(q.Real, -1, 1))
	s := math.Sqrt(1 - q.Real*q.Real)
	if s < 1e-9 {
		return &R4AA{Theta: theta, RX: 0, RY: 0, RZ: 1}
	}
	return &R4AA{Theta: theta, RX: q.Imag / s, RY: q.Jmag / s, RZ: q.Kmag / s}
}

// QuatToEulerAngles converts a quaternion to roll-pitch-yaw Euler angles (fixed-axis X-Y-Z, i.e.
// R = Rz(yaw)·Ry(pitch)·Rx(roll), the convention used throughout this package for marker and camera poses).
func QuatToEulerAngles(q quat.Number) *EulerAngles {
	n := quatNorm(q)
	if n == 0 {
		return NewEulerAngles()
	}
	w, x, y, z := q.Real/n, q.Imag/n, q.Jmag/n, q.Kmag/n

	sinrCosp := 2 * (w*x + y*z)
	cosrCosp := 1 - 2*(x*x+y*y)
	roll := math.Atan2(sinrCosp, cosrCosp)

	sinp := 2 * (w*y - z*x)
	var pitch float64
	if math.Abs(sinp) >= 1 {
		pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		pitch = math.Asin(sinp)
	}

	sinyCosp := 2 * (w*z + x*y)
	cosyCosp := 1 - 2*(y*y+z*z)
	yaw := math.Atan2(sinyCosp, cosyCosp)

	return &EulerAngles{Roll: roll, Pitch: pitch, Yaw: yaw}
}

// QuatToRotationMatrix converts a quaternion to a row-major 3x3 rotation matrix.
func QuatToRotationMatrix(q quat.Number) *RotationMatrix {
	n := quatNorm(q)
	w, x, y, z := q.Real/n, q.Imag/n, q.Jmag/n, q.Kmag/n

	return &RotationMatrix{
		x*x*2 + w*w*2 - 1, x*y*2 - z*w*2, x*z*2 + y*w*2,
		x*y*2 + z*w*2, y*y*2 + w*w*2 - 1, y*z*2 - x*w*2,
		x*z*2 - y*w*2, y*z*2 + x*w*2, z*z*2 + w*w*2 - 1,
	}
}

func quatNorm(q quat.Number) float64 {
	return math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// slerp performs a spherical linear interpolation between two quaternions at parameter t in [0, 1].
func slerp(q1, q2 quat.Number, t float64) quat.Number {
	dot := q1.Real*q2.Real + q1.Imag*q2.Imag + q1.Jmag*q2.Jmag + q1.Kmag*q2.Kmag
	if dot < 0 {
		q2 = quat.Number{Real: -q2.Real, Imag: -q2.Imag, Jmag: -q2.Jmag, Kmag: -q2.Kmag}
		dot = -dot
	}
	const threshold = 0.9995
	if dot > threshold {
		res := quat.Number{
			Real: q1.Real + t*(q2.Real-q1.Real),
			Imag: q1.Imag + t*(q2.Imag-q1.Imag),
			Jmag: q1.Jmag + t*(q2.Jmag-q1.Jmag),
			Kmag: q1.Kmag + t*(q2.Kmag-q1.Kmag),
		}
		n := quatNorm(res)
		return quat.Number{Real: res.Real / n, Imag: res.Imag / n, Jmag: res.Jmag / n, Kmag: res.Kmag / n}
	}

	theta0 := math.Acos(clamp(dot, -1, 1))
	theta := theta0 * t
	sinTheta := math.Sin(theta)
	sinTheta0 := math.Sin(theta0)

	s0 := math.Cos(theta) - dot*sinTheta/sinTheta0
	s1 := sinTheta / sinTheta0

	return quat.Number{
		Real: s0*q1.Real + s1*q2.Real,
		Imag: s0*q1.Imag + s1*q2.Imag,
		Jmag: s0*q1.Jmag + s1*q2.Jmag,
		Kmag: s0*q1.Kmag + s1*q2.Kmag,
	}
}
