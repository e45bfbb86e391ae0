package solver

import (
	"math"
	"testing"
)

// mulDense returns an Apply over a dense symmetric matrix stored row-major
func mulDense(a []float64, n int) Apply {
	return func(dst, src []float64) error {
		for i := 0; i < n; i++ {
			s := 0.0
			for j := 0; j < n; j++ {
				s += a[i*n+j] * src[j]
			}
			dst[i] = s
		}
		return nil
	}
}

// TestCGDiagonal solves a diagonal system with a known answer
func TestCGDiagonal(t *testing.T) {
	a := []float64{
		4, 0, 0,
		0, 2, 0,
		0, 0, 8,
	}
	b := []float64{8, 2, 16}
	x := make([]float64, 3)

	res, err := CG(mulDense(a, 3), b, x, 1e-12, 50)
	if err != nil {
		t.Fatalf("CG failed: %v", err)
	}
	if !res.Converged {
		t.Fatalf("CG did not converge: residual %g after %d iterations", res.Residual, res.Iterations)
	}

	want := []float64{2, 1, 2}
	for i := range want {
		if math.Abs(x[i]-want[i]) > 1e-10 {
			t.Errorf("x[%d] = %f, want %f", i, x[i], want[i])
		}
	}
}

// TestCGSPD solves a small dense symmetric positive definite system and
// checks the residual directly
func TestCGSPD(t *testing.T) {
	a := []float64{
		6, 2, 1,
		2, 5, 2,
		1, 2, 4,
	}
	b := []float64{1, -3, 2}
	x := make([]float64, 3)

	apply := mulDense(a, 3)
	res, err := CG(apply, b, x, 1e-12, 100)
	if err != nil {
		t.Fatalf("CG failed: %v", err)
	}
	if !res.Converged {
		t.Fatalf("CG did not converge: residual %g", res.Residual)
	}
	// CG on an n-dimensional SPD system finishes in at most n steps in
	// exact arithmetic
	if res.Iterations > 6 {
		t.Errorf("took %d iterations for a 3x3 system", res.Iterations)
	}

	ax := make([]float64, 3)
	if err := apply(ax, x); err != nil {
		t.Fatal(err)
	}
	for i := range b {
		if math.Abs(ax[i]-b[i]) > 1e-9 {
			t.Errorf("residual component %d: A*x = %f, b = %f", i, ax[i], b[i])
		}
	}
}

// TestCGWarmStart verifies that starting from the exact solution converges
// immediately
func TestCGWarmStart(t *testing.T) {
	a := []float64{
		3, 1,
		1, 2,
	}
	x := []float64{1, -1}
	b := []float64{2, -1} // A * [1, -1]

	res, err := CG(mulDense(a, 2), b, x, 1e-10, 10)
	if err != nil {
		t.Fatalf("CG failed: %v", err)
	}
	if res.Iterations != 0 || !res.Converged {
		t.Errorf("warm start should converge without iterating, got %d iterations", res.Iterations)
	}
}

// TestCGZeroRHS verifies the homogeneous system short-circuits to zero
func TestCGZeroRHS(t *testing.T) {
	x := []float64{5, 5}
	res, err := CG(mulDense([]float64{1, 0, 0, 1}, 2), []float64{0, 0}, x, 1e-10, 10)
	if err != nil {
		t.Fatalf("CG failed: %v", err)
	}
	if !res.Converged {
		t.Error("zero right-hand side should converge trivially")
	}
	if x[0] != 0 || x[1] != 0 {
		t.Errorf("solution = %v, want zeros", x)
	}
}

// TestCGInvalidArgs verifies argument validation
func TestCGInvalidArgs(t *testing.T) {
	apply := mulDense([]float64{1}, 1)
	if _, err := CG(apply, []float64{1}, []float64{0, 0}, 1e-10, 10); err == nil {
		t.Error("expected error for mismatched buffer sizes")
	}
	if _, err := CG(apply, []float64{1}, []float64{0}, 0, 10); err == nil {
		t.Error("expected error for non-positive tolerance")
	}
	if _, err := CG(apply, []float64{1}, []float64{0}, 1e-10, 0); err == nil {
		t.Error("expected error for zero iteration cap")
	}
}
