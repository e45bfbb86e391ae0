// Package solver provides a matrix-free conjugate gradient driver for the
// symmetric positive (semi-)definite systems produced by the reconstruction
// operator's normal equations. The system matrix is supplied as an apply
// callback, so the solver never materializes it.
package solver

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Apply computes dst = A*src for the system matrix A. dst and src never
// alias.
type Apply func(dst, src []float64) error

// Result reports how a solve terminated.
type Result struct {
	// Iterations is the number of CG iterations performed
	Iterations int

	// Residual is the final relative residual |b - A*x| / |b|
	Residual float64

	// Converged indicates the tolerance was reached before the
	// iteration cap
	Converged bool
}

// CG solves A*x = b by the conjugate gradient method, overwriting x (which
// supplies the initial estimate; zeros are a valid start). Iteration stops
// when the relative residual drops below tol or after maxIter iterations,
// whichever comes first. A must be symmetric positive semi-definite; with
// an exact adjoint pair feeding the normal equations this holds by
// construction.
func CG(a Apply, b, x []float64, tol float64, maxIter int) (Result, error) {
	n := len(b)
	if len(x) != n {
		return Result{}, fmt.Errorf("solution buffer has %d entries, want %d", len(x), n)
	}
	if tol <= 0 {
		return Result{}, fmt.Errorf("tolerance must be positive, got %g", tol)
	}
	if maxIter < 1 {
		return Result{}, fmt.Errorf("iteration cap must be at least 1, got %d", maxIter)
	}

	bnorm := floats.Norm(b, 2)
	if bnorm == 0 {
		// Homogeneous system: the zero vector is the minimum-norm
		// solution
		for i := range x {
			x[i] = 0
		}
		return Result{Converged: true}, nil
	}

	r := make([]float64, n)
	p := make([]float64, n)
	ap := make([]float64, n)

	// r = b - A*x
	if err := a(r, x); err != nil {
		return Result{}, fmt.Errorf("operator application failed: %w", err)
	}
	for i := range r {
		r[i] = b[i] - r[i]
	}
	copy(p, r)
	rsq := floats.Dot(r, r)

	res := Result{Residual: floats.Norm(r, 2) / bnorm}
	for res.Iterations = 0; res.Iterations < maxIter; res.Iterations++ {
		if res.Residual < tol {
			res.Converged = true
			return res, nil
		}

		if err := a(ap, p); err != nil {
			return res, fmt.Errorf("operator application failed: %w", err)
		}
		pap := floats.Dot(p, ap)
		if pap <= 0 {
			return res, fmt.Errorf("operator is not positive definite along search direction (p'Ap = %g)", pap)
		}

		alpha := rsq / pap
		floats.AddScaled(x, alpha, p)
		floats.AddScaled(r, -alpha, ap)

		rsqNext := floats.Dot(r, r)
		beta := rsqNext / rsq
		for i := range p {
			p[i] = r[i] + beta*p[i]
		}
		rsq = rsqNext
		res.Residual = floats.Norm(r, 2) / bnorm
	}

	res.Converged = res.Residual < tol
	return res, nil
}
