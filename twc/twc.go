// Package twc implements TransformWithCovariance (TWC): a rigid SE(3) transform carrying a 6x6
// covariance over (x, y, z, roll, pitch, yaw), plus a validity sentinel that distinguishes "no solution"
// from the identity transform.
package twc

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/clydemcqueen/fiducial-vlam-sam/spatialmath"
)

// PermutationIndices is the index mapping between the external covariance ordering
// (x, y, z, roll, pitch, yaw) and the factor-graph solver's internal ordering
// (roll, pitch, yaw, x, y, z). The permutation is its own inverse.
var PermutationIndices = [6]int{3, 4, 5, 0, 1, 2}

// TWC is a rigid transform plus a 6x6 covariance, or the invalid sentinel produced when a solver has no
// usable solution. Implementations must check IsValid before composing or reading through a TWC.
type TWC struct {
	valid     bool
	transform spatialmath.Pose
	cov       *mat.Dense
}

// Invalid returns the sentinel "no solution" TWC.
func Invalid() TWC {
	return TWC{valid: false}
}

// Identity returns the valid TWC with no rotation, no translation, and zero covariance.
func Identity() TWC {
	return New(spatialmath.NewZeroPose(), mat.NewDense(6, 6, nil))
}

// New builds a valid TWC from a pose and its 6x6 covariance (row/column order x,y,z,roll,pitch,yaw). A nil
// covariance is treated as all-zero.
func New(pose spatialmath.Pose, cov *mat.Dense) TWC {
	if cov == nil {
		cov = mat.NewDense(6, 6, nil)
	}
	return TWC{valid: true, transform: pose, cov: cov}
}

// NewFromVector builds a valid TWC from a 6-vector mean (x,y,z,roll,pitch,yaw) and a 36-entry row-major
// covariance.
func NewFromVector(mean [6]float64, cov36 []float64) TWC {
	point := r3.Vector{X: mean[0], Y: mean[1], Z: mean[2]}
	orient := &spatialmath.EulerAngles{Roll: mean[3], Pitch: mean[4], Yaw: mean[5]}
	pose := spatialmath.NewPose(point, orient)
	var cov *mat.Dense
	if len(cov36) == 36 {
		cov = mat.NewDense(6, 6, append([]float64(nil), cov36...))
	} else {
		cov = mat.NewDense(6, 6, nil)
	}
	return New(pose, cov)
}

// IsValid reports whether this TWC carries a usable solution.
func (t TWC) IsValid() bool {
	return t.valid
}

// Pose returns the underlying rigid transform. Only meaningful when IsValid.
func (t TWC) Pose() spatialmath.Pose {
	return t.transform
}

// Cov returns the 6x6 covariance over (x,y,z,roll,pitch,yaw). Only meaningful when IsValid.
func (t TWC) Cov() *mat.Dense {
	return t.cov
}

// Vector6 returns the mean as (x,y,z,roll,pitch,yaw).
func (t TWC) Vector6() [6]float64 {
	p := t.transform.Point()
	e := t.transform.Orientation().EulerAngles()
	return [6]float64{p.X, p.Y, p.Z, e.Roll, e.Pitch, e.Yaw}
}

// Cov36 flattens the covariance into a 36-entry row-major slice.
func (t TWC) Cov36() []float64 {
	out := make([]float64, 36)
	if t.cov == nil {
		return out
	}
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			out[i*6+j] = t.cov.At(i, j)
		}
	}
	return out
}

// Compose returns the rigid composition of a and b: first apply b in a's frame, then a. Covariance is not
// propagated through composition; callers needing propagated uncertainty use the factor-graph marginals.
func Compose(a, b TWC) TWC {
	if !a.IsValid() || !b.IsValid() {
		return Invalid()
	}
	return New(spatialmath.Compose(a.transform, b.transform), mat.NewDense(6, 6, nil))
}

// Inverse inverts the SE(3) part of a, carrying its covariance through unchanged. The result is only
// intended as an initial estimate, not a statistically correct propagation.
func Inverse(a TWC) TWC {
	if !a.IsValid() {
		return Invalid()
	}
	return New(spatialmath.PoseInverse(a.transform), a.cov)
}

// Apply transforms point (expressed in a's child frame) into a's parent frame.
func Apply(a TWC, point r3.Vector) r3.Vector {
	composed := spatialmath.Compose(a.transform, spatialmath.NewPoseFromPoint(point))
	return composed.Point()
}

// UpdateSimpleAverage folds other into t as a running mean: mean <- (count*mean + other.mean)/(count+1),
// component-wise, with yaw combined via a shortest-arc average. Covariance is left unchanged. t must
// already be valid; count is the number of updates already folded into t (i.e. its current update_count).
func (t TWC) UpdateSimpleAverage(other TWC, count uint32) TWC {
	if !t.IsValid() {
		return other
	}
	if !other.IsValid() {
		return t
	}
	n := float64(count)
	m1 := t.Vector6()
	m2 := other.Vector6()

	avg := [6]float64{}
	for i := 0; i < 3; i++ {
		avg[i] = (n*m1[i] + m2[i]) / (n + 1)
	}
	avg[3] = averageAngleShortestArc(m1[3], m2[3], n)
	avg[4] = averageAngleShortestArc(m1[4], m2[4], n)
	avg[5] = averageAngleShortestArc(m1[5], m2[5], n)

	return New(spatialmath.NewPose(
		r3.Vector{X: avg[0], Y: avg[1], Z: avg[2]},
		&spatialmath.EulerAngles{Roll: avg[3], Pitch: avg[4], Yaw: avg[5]},
	), t.cov)
}

// averageAngleShortestArc folds a second sample into a running angular mean, taking the shorter of the
// two arcs between them so that e.g. averaging -179deg and +179deg yields 180deg, not 0deg.
func averageAngleShortestArc(mean, sample float64, count float64) float64 {
	diff := shortestArc(sample - mean)
	return wrapAngle(mean + diff/(count+1))
}

func shortestArc(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

func wrapAngle(a float64) float64 {
	return shortestArc(a)
}

// PermuteCov permutes the rows and columns of a 6x6 covariance matrix according to idx: out[i][j] =
// in[idx[i]][idx[j]]. Used to convert between the external (x,y,z,roll,pitch,yaw) ordering and the
// factor-graph solver's internal (roll,pitch,yaw,x,y,z) ordering via PermutationIndices.
func PermuteCov(cov *mat.Dense, idx [6]int) *mat.Dense {
	out := mat.NewDense(6, 6, nil)
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			out.Set(i, j, cov.At(idx[i], idx[j]))
		}
	}
	return out
}
