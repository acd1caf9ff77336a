// Package lsq provides the weighted nonlinear least-squares machinery shared by the geometric and
// factor-graph pose solvers: a Gauss-Newton/Levenberg-Marquardt style optimizer plus the weighted normal
// equations used to recover both the state update and its marginal covariance.
package lsq

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// SolveLS solves the weighted observation equation dx = (GᵀWG)⁻¹GᵀW·dr and returns the error covariance
// (GᵀWG)⁻¹ alongside it.
func SolveLS(G mat.Matrix, dr mat.Vector, W mat.Matrix) (dx mat.Vector, cov mat.Matrix, err error) {
	n1, m1 := G.Dims()
	n2, m2 := W.Dims()
	if n1 != n2 {
		return nil, nil, errors.Errorf("invalid matrix size: G^T(%d x %d), W(%d x %d)", m1, n1, n2, m2)
	}
	if l1 := dr.Len(); l1 != m2 {
		return nil, nil, errors.Errorf("invalid matrix size: W(%d x %d), dr(%d x 1)", n2, m2, l1)
	}

	var wg mat.Dense
	wg.Mul(W, G)
	var a mat.Dense
	a.Mul(G.T(), &wg)

	var gtw mat.Dense
	gtw.Mul(G.T(), W)
	var b mat.VecDense
	b.MulVec(&gtw, dr)

	var x mat.VecDense
	if err = x.SolveVec(&a, &b); err != nil {
		return nil, nil, err
	}
	dx = &x

	var c mat.Dense
	if err = c.Inverse(&a); err != nil {
		return nil, nil, err
	}
	cov = &c

	return dx, cov, nil
}

// ResidualFunc computes the residual vector r(x) = model(x) - measurement for a candidate state x.
type ResidualFunc func(x []float64) []float64

// NumericJacobian computes the Jacobian of fn at x via central differences.
func NumericJacobian(fn ResidualFunc, x []float64) *mat.Dense {
	const eps = 1e-6
	r0 := fn(x)
	jac := mat.NewDense(len(r0), len(x), nil)
	xp := make([]float64, len(x))
	xm := make([]float64, len(x))
	copy(xp, x)
	copy(xm, x)
	for j := range x {
		step := eps * math.Max(1, math.Abs(x[j]))
		xp[j] = x[j] + step
		xm[j] = x[j] - step
		rp := fn(xp)
		rm := fn(xm)
		for i := range rp {
			jac.Set(i, j, (rp[i]-rm[i])/(2*step))
		}
		xp[j] = x[j]
		xm[j] = x[j]
	}
	return jac
}

// Result is the outcome of a Levenberg-Marquardt solve: the converged state, its marginal covariance
// (GᵀWG)⁻¹ evaluated at the solution, and the number of iterations taken.
type Result struct {
	X          []float64
	Covariance *mat.Dense
	Iterations int
}

// LevenbergMarquardt minimizes sum(W * r(x)^2) starting from x0, using step damping in the classic LM
// style: the normal equations (JᵀWJ + λ·diag(JᵀWJ))dx = JᵀW·r are solved each iteration, λ grows on a rejected step
// and shrinks on an accepted one. Returns the converged state and its marginal covariance (JᵀWJ)⁻¹, the
// standard Gauss-Newton/Laplace approximation of the posterior covariance at the optimum.
func LevenbergMarquardt(x0 []float64, residual ResidualFunc, w *mat.Dense, maxIter int) (*Result, error) {
	x := append([]float64(nil), x0...)
	lambda := 1e-3
	r := residual(x)
	cost := weightedSumSquares(r, w)

	var jac *mat.Dense
	var lastCov *mat.Dense
	iter := 0
	for ; iter < maxIter; iter++ {
		jac = NumericJacobian(residual, x)
		n, _ := jac.Dims()
		var jtw mat.Dense
		jtw.Mul(jac.T(), w.Slice(0, n, 0, n))
		var jtwj mat.Dense
		jtwj.Mul(&jtw, jac)

		rows, _ := jtwj.Dims()
		damped := mat.DenseCopyOf(&jtwj)
		for i := 0; i < rows; i++ {
			damped.Set(i, i, damped.At(i, i)*(1+lambda))
		}

		rVec := mat.NewVecDense(len(r), r)
		var b mat.VecDense
		b.MulVec(&jtw, rVec)

		var dx mat.VecDense
		if err := dx.SolveVec(damped, &b); err != nil {
			lambda *= 10
			if lambda > 1e12 {
				return nil, errors.New("levenberg-marquardt: normal equations are singular")
			}
			continue
		}

		xTrial := make([]float64, len(x))
		for i := range x {
			xTrial[i] = x[i] - dx.AtVec(i)
		}
		rTrial := residual(xTrial)
		costTrial := weightedSumSquares(rTrial, w)

		if costTrial < cost {
			improvement := cost - costTrial
			x = xTrial
			r = rTrial
			cost = costTrial
			lambda = math.Max(lambda/10, 1e-12)
			var cov mat.Dense
			if err := cov.Inverse(&jtwj); err == nil {
				lastCov = &cov
			}
			if improvement < 1e-12*(1+cost) {
				iter++
				break
			}
		} else {
			lambda *= 10
			if lambda > 1e12 {
				break
			}
		}
	}

	// Evaluate the marginal covariance at the returned state; keep the last iteration's if that fails.
	jac = NumericJacobian(residual, x)
	n, _ := jac.Dims()
	var jtw mat.Dense
	jtw.Mul(jac.T(), w.Slice(0, n, 0, n))
	var jtwj mat.Dense
	jtwj.Mul(&jtw, jac)
	var cov mat.Dense
	if err := cov.Inverse(&jtwj); err == nil {
		lastCov = &cov
	} else if lastCov == nil {
		return nil, errors.Wrap(err, "levenberg-marquardt: failed to compute marginal covariance")
	}

	return &Result{X: x, Covariance: lastCov, Iterations: iter}, nil
}

func weightedSumSquares(r []float64, w *mat.Dense) float64 {
	sum := 0.0
	for i, ri := range r {
		sum += ri * ri * w.At(i, i)
	}
	return sum
}
