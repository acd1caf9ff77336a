package transform

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/clydemcqueen/fiducial-vlam-sam/lsq"
	"github.com/clydemcqueen/fiducial-vlam-sam/spatialmath"
)

// ErrPnPNoSolution is returned when a perspective-n-point solve cannot produce a usable pose.
var ErrPnPNoSolution = errors.New("pnp: no solution")

const (
	pnpMinPoints          = 4
	pnpRefineIterations   = 100
	ransacIterations      = 100
	ransacReprojThreshold = 8.0 // pixels
)

// PnPSolution is the pose recovered by a perspective-n-point solve: the rotation vector (axis scaled by
// angle) and translation that bring object-frame points into the camera frame.
type PnPSolution struct {
	Rvec r3.Vector
	Tvec r3.Vector
}

// Pose returns the solution as a rigid transform mapping object-frame points to camera-frame points.
func (s *PnPSolution) Pose() spatialmath.Pose {
	return spatialmath.NewPose(s.Tvec, orientationFromRotVec(s.Rvec))
}

// NewPnPSolutionFromPose converts a rigid transform back into rotation-vector form.
func NewPnPSolutionFromPose(pose spatialmath.Pose) *PnPSolution {
	aa := pose.Orientation().AxisAngles()
	return &PnPSolution{Rvec: aa.ToR3(), Tvec: pose.Point()}
}

// orientationFromRotVec builds an Orientation from an R3 rotation vector, treating a near-zero vector as
// the identity rotation.
func orientationFromRotVec(v r3.Vector) spatialmath.Orientation {
	return spatialmath.R3ToR4(v)
}

// ProjectPointToPixel projects a camera-frame 3D point through the full camera model, distortion
// included, without rounding. Points at or behind the camera plane project to (-1, -1).
func (params *PinholeCameraModel) ProjectPointToPixel(p r3.Vector) (float64, float64) {
	if p.Z <= 0 {
		return -1.0, -1.0
	}
	x := p.X / p.Z
	y := p.Y / p.Z
	if params.Distortion != nil {
		x, y = params.Distortion.Transform(x, y)
	}
	return x*params.Fx + params.Ppx, y*params.Fy + params.Ppy
}

// inverseDistorter returns a Distorter that undoes the model's distortion, or nil when there is nothing
// to undo. Only the Brown-Conrady model has a known inverse here; other models fall back to a fixed-point
// inversion of their forward transform.
func (params *PinholeCameraModel) inverseDistorter() Distorter {
	switch d := params.Distortion.(type) {
	case nil:
		return nil
	case *BrownConrady:
		if d == nil {
			return nil
		}
		return &InverseBrownConrady{d.RadialK1, d.RadialK2, d.RadialK3, d.TangentialP1, d.TangentialP2}
	default:
		return &fixedPointInverse{forward: d}
	}
}

// fixedPointInverse inverts an arbitrary forward distortion by fixed-point iteration, the same scheme
// OpenCV's undistortPoints uses.
type fixedPointInverse struct {
	forward Distorter
}

func (f *fixedPointInverse) ModelType() DistortionType { return f.forward.ModelType() }
func (f *fixedPointInverse) CheckValid() error         { return f.forward.CheckValid() }
func (f *fixedPointInverse) Parameters() []float64     { return f.forward.Parameters() }

func (f *fixedPointInverse) Transform(xd, yd float64) (float64, float64) {
	xu, yu := xd, yd
	for i := 0; i < 10; i++ {
		tx, ty := f.forward.Transform(xu, yu)
		xu -= tx - xd
		yu -= ty - yd
	}
	return xu, yu
}

// undistortNormalized inverts the distortion model for one normalized image coordinate.
func (params *PinholeCameraModel) undistortNormalized(xd, yd float64) (float64, float64) {
	inv := params.inverseDistorter()
	if inv == nil {
		return xd, yd
	}
	return inv.Transform(xd, yd)
}

// normalizedImagePoints converts pixel coordinates to undistorted, normalized camera coordinates.
func (params *PinholeCameraModel) normalizedImagePoints(imagePoints []r2.Point) []r2.Point {
	inv := params.inverseDistorter()
	out := make([]r2.Point, len(imagePoints))
	for i, p := range imagePoints {
		x, y := params.PixelToRay(p.X, p.Y)
		if inv != nil {
			x, y = inv.Transform(x, y)
		}
		out[i] = r2.Point{X: x, Y: y}
	}
	return out
}

// SolvePnP recovers the pose that maps objectPoints into the camera frame such that they project onto
// imagePoints. The pose is initialized from a planar homography when the object points are coplanar (the
// common case for fiducial corners) or a 3D DLT otherwise, then refined by minimizing the pixel
// reprojection error with Levenberg-Marquardt.
func SolvePnP(objectPoints []r3.Vector, imagePoints []r2.Point, model *PinholeCameraModel) (*PnPSolution, error) {
	if len(objectPoints) != len(imagePoints) {
		return nil, errors.Errorf("pnp: %d object points but %d image points", len(objectPoints), len(imagePoints))
	}
	if len(objectPoints) < pnpMinPoints {
		return nil, errors.Errorf("pnp: need at least %d points, got %d", pnpMinPoints, len(objectPoints))
	}
	if err := model.PinholeCameraIntrinsics.CheckValid(); err != nil {
		return nil, err
	}

	normalized := model.normalizedImagePoints(imagePoints)
	initial, err := initialPose(objectPoints, normalized)
	if err != nil {
		return nil, err
	}
	return refinePnP(initial, objectPoints, imagePoints, model)
}

// SolvePnPRansac solves the same problem as SolvePnP but with random-sample consensus over minimal
// 4-point subsets, making it robust to a mirror solution or outlier correspondences at the cost of less
// noise smoothing. The sampler is seeded deterministically so repeated solves agree.
func SolvePnPRansac(objectPoints []r3.Vector, imagePoints []r2.Point, model *PinholeCameraModel) (*PnPSolution, error) {
	n := len(objectPoints)
	if n != len(imagePoints) {
		return nil, errors.Errorf("pnp: %d object points but %d image points", n, len(imagePoints))
	}
	if n < pnpMinPoints {
		return nil, errors.Errorf("pnp: need at least %d points, got %d", pnpMinPoints, n)
	}
	if n == pnpMinPoints {
		return SolvePnP(objectPoints, imagePoints, model)
	}

	rng := rand.New(rand.NewSource(1))
	var bestInliers []int
	for iter := 0; iter < ransacIterations; iter++ {
		sample := rng.Perm(n)[:pnpMinPoints]
		subObj := make([]r3.Vector, pnpMinPoints)
		subImg := make([]r2.Point, pnpMinPoints)
		for i, idx := range sample {
			subObj[i] = objectPoints[idx]
			subImg[i] = imagePoints[idx]
		}
		sol, err := SolvePnP(subObj, subImg, model)
		if err != nil {
			continue
		}
		inliers := consensus(sol, objectPoints, imagePoints, model)
		if len(inliers) > len(bestInliers) {
			bestInliers = inliers
			if len(bestInliers) == n {
				break
			}
		}
	}
	if len(bestInliers) < pnpMinPoints {
		return nil, errors.Wrap(ErrPnPNoSolution, "ransac found no consensus set")
	}

	inObj := make([]r3.Vector, len(bestInliers))
	inImg := make([]r2.Point, len(bestInliers))
	for i, idx := range bestInliers {
		inObj[i] = objectPoints[idx]
		inImg[i] = imagePoints[idx]
	}
	return SolvePnP(inObj, inImg, model)
}

// consensus returns the indices whose reprojection error under sol is below the RANSAC threshold.
func consensus(sol *PnPSolution, objectPoints []r3.Vector, imagePoints []r2.Point, model *PinholeCameraModel) []int {
	pose := sol.Pose()
	var inliers []int
	for i, obj := range objectPoints {
		camPt := spatialmath.Compose(pose, spatialmath.NewPoseFromPoint(obj)).Point()
		u, v := model.ProjectPointToPixel(camPt)
		du := u - imagePoints[i].X
		dv := v - imagePoints[i].Y
		if math.Hypot(du, dv) < ransacReprojThreshold {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

// refinePnP minimizes the pixel reprojection error over the 6 pose parameters (rvec, tvec) starting from
// initial, using Levenberg-Marquardt with unit weights.
func refinePnP(initial *PnPSolution, objectPoints []r3.Vector, imagePoints []r2.Point, model *PinholeCameraModel) (*PnPSolution, error) {
	residual := func(x []float64) []float64 {
		pose := spatialmath.NewPose(
			r3.Vector{X: x[3], Y: x[4], Z: x[5]},
			orientationFromRotVec(r3.Vector{X: x[0], Y: x[1], Z: x[2]}),
		)
		out := make([]float64, 2*len(objectPoints))
		for i, obj := range objectPoints {
			camPt := spatialmath.Compose(pose, spatialmath.NewPoseFromPoint(obj)).Point()
			u, v := model.ProjectPointToPixel(camPt)
			out[2*i] = u - imagePoints[i].X
			out[2*i+1] = v - imagePoints[i].Y
		}
		return out
	}

	x0 := []float64{initial.Rvec.X, initial.Rvec.Y, initial.Rvec.Z, initial.Tvec.X, initial.Tvec.Y, initial.Tvec.Z}
	w := identityDense(2 * len(objectPoints))
	result, err := lsq.LevenbergMarquardt(x0, residual, w, pnpRefineIterations)
	if err != nil {
		return nil, errors.Wrap(ErrPnPNoSolution, err.Error())
	}
	return &PnPSolution{
		Rvec: r3.Vector{X: result.X[0], Y: result.X[1], Z: result.X[2]},
		Tvec: r3.Vector{X: result.X[3], Y: result.X[4], Z: result.X[5]},
	}, nil
}

func identityDense(n int) *mat.Dense {
	w := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		w.Set(i, i, 1)
	}
	return w
}

// initialPose produces a rough pose estimate from normalized, undistorted image coordinates: a planar
// homography decomposition when the object points are coplanar, a 3D DLT otherwise.
func initialPose(objectPoints []r3.Vector, normalized []r2.Point) (*PnPSolution, error) {
	centroid, basis, planarity := fitPlane(objectPoints)
	scale := pointSpread(objectPoints, centroid)
	if planarity < 1e-6*math.Max(scale, 1) || len(objectPoints) < 6 {
		return poseFromPlanarPoints(objectPoints, normalized, centroid, basis)
	}
	return poseFromDLT(objectPoints, normalized)
}

// fitPlane fits a least-squares plane to the points and returns its centroid, an orthonormal in-plane
// basis (two columns), and the RMS out-of-plane residual.
func fitPlane(points []r3.Vector) (r3.Vector, [2]r3.Vector, float64) {
	n := len(points)
	var centroid r3.Vector
	for _, p := range points {
		centroid = centroid.Add(p)
	}
	centroid = centroid.Mul(1 / float64(n))

	centered := mat.NewDense(n, 3, nil)
	for i, p := range points {
		d := p.Sub(centroid)
		centered.Set(i, 0, d.X)
		centered.Set(i, 1, d.Y)
		centered.Set(i, 2, d.Z)
	}
	var svd mat.SVD
	if !svd.Factorize(centered, mat.SVDThin) {
		// Degenerate input; report an enormous residual so the caller falls back to the DLT.
		return centroid, [2]r3.Vector{{X: 1}, {Y: 1}}, math.Inf(1)
	}
	var v mat.Dense
	svd.VTo(&v)
	b1 := r3.Vector{X: v.At(0, 0), Y: v.At(1, 0), Z: v.At(2, 0)}
	b2 := r3.Vector{X: v.At(0, 1), Y: v.At(1, 1), Z: v.At(2, 1)}
	sv := svd.Values(nil)
	residual := 0.0
	if len(sv) > 2 {
		residual = sv[2] / math.Sqrt(float64(n))
	}
	return centroid, [2]r3.Vector{b1, b2}, residual
}

func pointSpread(points []r3.Vector, centroid r3.Vector) float64 {
	spread := 0.0
	for _, p := range points {
		spread = math.Max(spread, p.Sub(centroid).Norm())
	}
	return spread
}

// poseFromPlanarPoints estimates the camera-from-object pose for coplanar object points by estimating the
// homography from in-plane coordinates to the normalized image plane and decomposing it, then composing
// with the plane-to-object transform.
func poseFromPlanarPoints(objectPoints []r3.Vector, normalized []r2.Point, centroid r3.Vector, basis [2]r3.Vector) (*PnPSolution, error) {
	plane := make([]r2.Point, len(objectPoints))
	for i, p := range objectPoints {
		d := p.Sub(centroid)
		plane[i] = r2.Point{X: d.Dot(basis[0]), Y: d.Dot(basis[1])}
	}

	h, err := estimateHomography(plane, normalized)
	if err != nil {
		return nil, err
	}
	camFromPlane, err := poseFromHomography(h, plane)
	if err != nil {
		return nil, err
	}

	// T_object_plane: the plane's in-plane basis and centroid expressed in the object frame.
	normal := basis[0].Cross(basis[1])
	objectFromPlane := spatialmath.NewPose(centroid, rotationFromColumns(basis[0], basis[1], normal))
	camFromObject := spatialmath.Compose(camFromPlane, spatialmath.PoseInverse(objectFromPlane))
	return NewPnPSolutionFromPose(camFromObject), nil
}

func rotationFromColumns(c0, c1, c2 r3.Vector) spatialmath.Orientation {
	rm, err := spatialmath.NewRotationMatrix([]float64{
		c0.X, c1.X, c2.X,
		c0.Y, c1.Y, c2.Y,
		c0.Z, c1.Z, c2.Z,
	})
	if err != nil {
		return spatialmath.NewZeroOrientation()
	}
	return rm
}

// estimateHomography computes the 3x3 homography mapping src (plane coordinates) to dst (normalized image
// coordinates) via the Hartley-normalized direct linear transform.
func estimateHomography(src, dst []r2.Point) (*mat.Dense, error) {
	if len(src) < 4 {
		return nil, errors.Wrap(ErrPnPNoSolution, "homography needs at least 4 points")
	}
	srcNorm, tSrc := hartleyNormalize(src)
	dstNorm, tDst := hartleyNormalize(dst)

	n := len(src)
	a := mat.NewDense(2*n, 9, nil)
	for i := 0; i < n; i++ {
		x, y := srcNorm[i].X, srcNorm[i].Y
		u, v := dstNorm[i].X, dstNorm[i].Y
		a.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, errors.Wrap(ErrPnPNoSolution, "homography SVD failed")
	}
	var v mat.Dense
	svd.VTo(&v)
	hNorm := mat.NewDense(3, 3, nil)
	for i := 0; i < 9; i++ {
		hNorm.Set(i/3, i%3, v.At(i, 8))
	}

	// Undo the normalizations: H = T_dst^-1 * H_norm * T_src.
	var tDstInv mat.Dense
	if err := tDstInv.Inverse(tDst); err != nil {
		return nil, errors.Wrap(ErrPnPNoSolution, "homography denormalization failed")
	}
	var tmp, h mat.Dense
	tmp.Mul(hNorm, tSrc)
	h.Mul(&tDstInv, &tmp)
	return &h, nil
}

// hartleyNormalize translates points to their centroid and scales their mean distance to sqrt(2),
// conditioning the DLT system.
func hartleyNormalize(points []r2.Point) ([]r2.Point, *mat.Dense) {
	var cx, cy float64
	for _, p := range points {
		cx += p.X
		cy += p.Y
	}
	n := float64(len(points))
	cx /= n
	cy /= n

	meanDist := 0.0
	for _, p := range points {
		meanDist += math.Hypot(p.X-cx, p.Y-cy)
	}
	meanDist /= n
	scale := 1.0
	if meanDist > 1e-12 {
		scale = math.Sqrt2 / meanDist
	}

	out := make([]r2.Point, len(points))
	for i, p := range points {
		out[i] = r2.Point{X: (p.X - cx) * scale, Y: (p.Y - cy) * scale}
	}
	t := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * cx,
		0, scale, -scale * cy,
		0, 0, 1,
	})
	return out, t
}

// poseFromHomography decomposes a plane-to-normalized-image homography H = s[r1 r2 t] into a rigid
// transform, fixing the sign so the plane centroid lies in front of the camera and orthonormalizing the
// rotation.
func poseFromHomography(h *mat.Dense, plane []r2.Point) (spatialmath.Pose, error) {
	h1 := r3.Vector{X: h.At(0, 0), Y: h.At(1, 0), Z: h.At(2, 0)}
	h2 := r3.Vector{X: h.At(0, 1), Y: h.At(1, 1), Z: h.At(2, 1)}
	h3 := r3.Vector{X: h.At(0, 2), Y: h.At(1, 2), Z: h.At(2, 2)}

	norm := (h1.Norm() + h2.Norm()) / 2
	if norm < 1e-12 {
		return nil, errors.Wrap(ErrPnPNoSolution, "degenerate homography")
	}
	lambda := 1 / norm

	// Depth of the plane centroid under this scaling; flip the sign if it lands behind the camera.
	var cu, cv float64
	for _, p := range plane {
		cu += p.X
		cv += p.Y
	}
	cu /= float64(len(plane))
	cv /= float64(len(plane))
	depth := lambda * (h.At(2, 0)*cu + h.At(2, 1)*cv + h.At(2, 2))
	if depth < 0 {
		lambda = -lambda
	}

	r1 := h1.Mul(lambda)
	r2c := h2.Mul(lambda)
	r3c := r1.Cross(r2c)
	t := h3.Mul(lambda)

	rot, err := orthonormalizeRotation(r1, r2c, r3c)
	if err != nil {
		return nil, err
	}
	return spatialmath.NewPose(t, rot), nil
}

// orthonormalizeRotation projects the column triple onto SO(3) via SVD: R = U diag(1,1,det(UV^T)) V^T.
func orthonormalizeRotation(c0, c1, c2 r3.Vector) (spatialmath.Orientation, error) {
	m := mat.NewDense(3, 3, []float64{
		c0.X, c1.X, c2.X,
		c0.Y, c1.Y, c2.Y,
		c0.Z, c1.Z, c2.Z,
	})
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFull) {
		return nil, errors.Wrap(ErrPnPNoSolution, "rotation SVD failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	var r mat.Dense
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		// Flip the last column of U to land on a proper rotation.
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}
	rm, err := spatialmath.NewRotationMatrix(append([]float64(nil), r.RawMatrix().Data...))
	if err != nil {
		return nil, err
	}
	return rm, nil
}

// poseFromDLT estimates the pose from 6 or more non-coplanar points by solving for the full 3x4
// projection matrix and factoring out the rotation and translation.
func poseFromDLT(objectPoints []r3.Vector, normalized []r2.Point) (*PnPSolution, error) {
	n := len(objectPoints)
	a := mat.NewDense(2*n, 12, nil)
	for i := 0; i < n; i++ {
		p := objectPoints[i]
		u, v := normalized[i].X, normalized[i].Y
		a.SetRow(2*i, []float64{
			p.X, p.Y, p.Z, 1, 0, 0, 0, 0, -u * p.X, -u * p.Y, -u * p.Z, -u,
		})
		a.SetRow(2*i+1, []float64{
			0, 0, 0, 0, p.X, p.Y, p.Z, 1, -v * p.X, -v * p.Y, -v * p.Z, -v,
		})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, errors.Wrap(ErrPnPNoSolution, "dlt SVD failed")
	}
	var v mat.Dense
	svd.VTo(&v)
	p := mat.NewDense(3, 4, nil)
	for i := 0; i < 12; i++ {
		p.Set(i/4, i%4, v.At(i, 11))
	}
	p = adjustPoseSign(p)

	// Scale so the rotation block has unit-norm rows.
	m3 := r3.Vector{X: p.At(2, 0), Y: p.At(2, 1), Z: p.At(2, 2)}
	if m3.Norm() < 1e-12 {
		return nil, errors.Wrap(ErrPnPNoSolution, "degenerate projection matrix")
	}
	p.Scale(1/m3.Norm(), p)

	// If the object centroid projects behind the camera, flip the whole matrix.
	var centroid r3.Vector
	for _, op := range objectPoints {
		centroid = centroid.Add(op)
	}
	centroid = centroid.Mul(1 / float64(n))
	depth := p.At(2, 0)*centroid.X + p.At(2, 1)*centroid.Y + p.At(2, 2)*centroid.Z + p.At(2, 3)
	if depth < 0 {
		p.Scale(-1, p)
	}

	cp := NewCamPoseFromMat(p)
	c0 := r3.Vector{X: cp.Rotation.At(0, 0), Y: cp.Rotation.At(1, 0), Z: cp.Rotation.At(2, 0)}
	c1 := r3.Vector{X: cp.Rotation.At(0, 1), Y: cp.Rotation.At(1, 1), Z: cp.Rotation.At(2, 1)}
	c2 := r3.Vector{X: cp.Rotation.At(0, 2), Y: cp.Rotation.At(1, 2), Z: cp.Rotation.At(2, 2)}
	rot, err := orthonormalizeRotation(c0, c1, c2)
	if err != nil {
		return nil, err
	}
	pose := spatialmath.NewPose(r3.Vector{
		X: cp.Translation.At(0, 0),
		Y: cp.Translation.At(1, 0),
		Z: cp.Translation.At(2, 0),
	}, rot)
	return NewPnPSolutionFromPose(pose), nil
}
