package solver

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/clydemcqueen/fiducial-vlam-sam/lsq"
	"github.com/clydemcqueen/fiducial-vlam-sam/rimage/transform"
	"github.com/clydemcqueen/fiducial-vlam-sam/spatialmath"
	"github.com/clydemcqueen/fiducial-vlam-sam/twc"
)

// constrainedSigma stands in for a noise-free prior: a fixed marker's pose is pinned to within numerical
// precision rather than with a hard equality constraint.
const constrainedSigma = 1e-6

const graphMaxIterations = 100

// symbol keys one pose variable in a factor graph: a namespace character plus an id, e.g. camera poses
// under 'c' and marker poses under 'm' with the marker id as the subscript.
type symbol struct {
	ns byte
	id int64
}

func cameraSymbol(id int64) symbol { return symbol{ns: 'c', id: id} }

func markerSymbol(id int32) symbol { return symbol{ns: 'm', id: int64(id)} }

// factor evaluates one term of the nonlinear least-squares objective: a whitened residual vector over the
// current variable assignment.
type factor func(at func(symbol) spatialmath.Pose) []float64

// factorGraph is a small nonlinear factor graph over SE(3) pose variables. Each variable occupies 6
// entries of the state vector in the solver-internal ordering (rx, ry, rz, tx, ty, tz); residuals are
// pre-whitened so the optimizer runs with unit weights.
type factorGraph struct {
	order   []symbol
	index   map[symbol]int
	factors []factor
}

func newFactorGraph() *factorGraph {
	return &factorGraph{index: make(map[symbol]int)}
}

// variable registers a pose variable; registering an existing symbol is a no-op.
func (g *factorGraph) variable(sym symbol) {
	if _, ok := g.index[sym]; ok {
		return
	}
	g.index[sym] = len(g.order)
	g.order = append(g.order, sym)
}

// addResectioning constrains one camera pose variable with the projection of a known world point onto an
// observed image point: error = project(P; pose) - p, whitened by the isotropic corner sigma.
func (g *factorGraph) addResectioning(
	sym symbol,
	model *transform.PinholeCameraModel,
	sigma float64,
	imagePt r2.Point,
	worldPt r3.Vector,
) {
	g.variable(sym)
	g.factors = append(g.factors, func(at func(symbol) spatialmath.Pose) []float64 {
		// The variable is the camera pose in the world frame; bring the point into the camera frame.
		camFromWorld := spatialmath.PoseInverse(at(sym))
		camPt := spatialmath.Compose(camFromWorld, spatialmath.NewPoseFromPoint(worldPt)).Point()
		u, v := model.ProjectPointToPixel(camPt)
		return []float64{(u - imagePt.X) / sigma, (v - imagePt.Y) / sigma}
	})
}

// addBetween constrains the relative pose of two variables: error = local(measured, inverse(a) * b),
// whitened by the square-root information of the measurement covariance.
func (g *factorGraph) addBetween(a, b symbol, measured spatialmath.Pose, sqrtInfo *mat.Dense) {
	g.variable(a)
	g.variable(b)
	g.factors = append(g.factors, func(at func(symbol) spatialmath.Pose) []float64 {
		predicted := spatialmath.PoseBetween(at(a), at(b))
		return whiten(poseLocal(measured, predicted), sqrtInfo)
	})
}

// addPrior constrains one variable's absolute pose.
func (g *factorGraph) addPrior(sym symbol, measured spatialmath.Pose, sqrtInfo *mat.Dense) {
	g.variable(sym)
	g.factors = append(g.factors, func(at func(symbol) spatialmath.Pose) []float64 {
		return whiten(poseLocal(measured, at(sym)), sqrtInfo)
	})
}

// poseLocal is the local-coordinate difference between a measured and predicted pose: the rotation vector
// and translation of inverse(measured) * predicted, in the internal (r, t) ordering.
func poseLocal(measured, predicted spatialmath.Pose) []float64 {
	delta := spatialmath.PoseBetween(measured, predicted)
	rv := delta.Orientation().AxisAngles().ToR3()
	pt := delta.Point()
	return []float64{rv.X, rv.Y, rv.Z, pt.X, pt.Y, pt.Z}
}

func whiten(residual []float64, sqrtInfo *mat.Dense) []float64 {
	if sqrtInfo == nil {
		return residual
	}
	r := mat.NewVecDense(len(residual), residual)
	var out mat.VecDense
	out.MulVec(sqrtInfo, r)
	return out.RawVector().Data
}

// graphResult is a converged optimization: the variable assignment and the full marginal covariance
// (J^T J)^-1 at the solution, indexed by the graph's variable ordering.
type graphResult struct {
	graph  *factorGraph
	values map[symbol]spatialmath.Pose
	cov    *mat.Dense
}

// optimize runs Levenberg-Marquardt from the given initial assignment. Every registered variable must
// have an initial value.
func (g *factorGraph) optimize(initial map[symbol]spatialmath.Pose) (*graphResult, error) {
	if len(g.order) == 0 {
		return nil, errors.New("factor graph has no variables")
	}
	x0 := make([]float64, 6*len(g.order))
	for i, sym := range g.order {
		pose, ok := initial[sym]
		if !ok {
			return nil, errors.Errorf("no initial value for variable %c%d", sym.ns, sym.id)
		}
		packPose(x0[6*i:6*i+6], pose)
	}

	residual := func(x []float64) []float64 {
		at := func(sym symbol) spatialmath.Pose {
			i := g.index[sym]
			return unpackPose(x[6*i : 6*i+6])
		}
		var out []float64
		for _, f := range g.factors {
			out = append(out, f(at)...)
		}
		return out
	}

	dim := len(residual(x0))
	result, err := lsq.LevenbergMarquardt(x0, residual, identityWeight(dim), graphMaxIterations)
	if err != nil {
		return nil, errors.Wrap(err, "factor graph optimization failed")
	}

	values := make(map[symbol]spatialmath.Pose, len(g.order))
	for i, sym := range g.order {
		values[sym] = unpackPose(result.X[6*i : 6*i+6])
	}
	return &graphResult{graph: g, values: values, cov: result.Covariance}, nil
}

// marginalTWC extracts one variable's optimized pose and marginal covariance, converting the covariance
// from the internal (r, t) ordering to the external (t, r) ordering.
func (r *graphResult) marginalTWC(sym symbol) twc.TWC {
	pose, ok := r.values[sym]
	if !ok {
		return twc.Invalid()
	}
	i := r.graph.index[sym]
	block := mat.NewDense(6, 6, nil)
	for row := 0; row < 6; row++ {
		for col := 0; col < 6; col++ {
			block.Set(row, col, r.cov.At(6*i+row, 6*i+col))
		}
	}
	return twc.New(pose, twc.PermuteCov(block, twc.PermutationIndices))
}

func packPose(dst []float64, pose spatialmath.Pose) {
	rv := pose.Orientation().AxisAngles().ToR3()
	pt := pose.Point()
	dst[0], dst[1], dst[2] = rv.X, rv.Y, rv.Z
	dst[3], dst[4], dst[5] = pt.X, pt.Y, pt.Z
}

func unpackPose(src []float64) spatialmath.Pose {
	rv := r3.Vector{X: src[0], Y: src[1], Z: src[2]}
	pt := r3.Vector{X: src[3], Y: src[4], Z: src[5]}
	return spatialmath.NewPose(pt, spatialmath.R3ToR4(rv))
}

func identityWeight(n int) *mat.Dense {
	w := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		w.Set(i, i, 1)
	}
	return w
}

// sqrtInformation converts a covariance in the internal (r, t) ordering to a whitening matrix: the
// Cholesky factor of its inverse. A nil, all-zero, or non-invertible covariance falls back to an
// isotropic diagonal with the given sigma.
func sqrtInformation(cov *mat.Dense, fallbackSigma float64) *mat.Dense {
	if cov == nil || cov.At(0, 0) == 0 {
		return isotropicSqrtInfo(fallbackSigma)
	}
	var info mat.Dense
	if err := info.Inverse(cov); err != nil {
		return isotropicSqrtInfo(fallbackSigma)
	}
	// Symmetrize before factoring; the inverse of a covariance can pick up tiny asymmetries.
	sym := mat.NewSymDense(6, nil)
	for i := 0; i < 6; i++ {
		for j := i; j < 6; j++ {
			sym.SetSym(i, j, (info.At(i, j)+info.At(j, i))/2)
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		return isotropicSqrtInfo(fallbackSigma)
	}
	var l mat.TriDense
	chol.LTo(&l)
	out := mat.NewDense(6, 6, nil)
	// Whiten with L^T so that ||L^T e||^2 = e^T Sigma^-1 e.
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			out.Set(i, j, l.At(j, i))
		}
	}
	return out
}

func isotropicSqrtInfo(sigma float64) *mat.Dense {
	w := mat.NewDense(6, 6, nil)
	for i := 0; i < 6; i++ {
		w.Set(i, i, 1/sigma)
	}
	return w
}

// constrainedSqrtInfo is the noise model for a pose that is known exactly: a fixed marker's prior.
func constrainedSqrtInfo() *mat.Dense {
	return isotropicSqrtInfo(constrainedSigma)
}
