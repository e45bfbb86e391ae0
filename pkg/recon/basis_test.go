package recon

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"dwirecon/internal/models"
	"dwirecon/pkg/shells"
)

// TestShellBasisIdentity verifies that without response functions each
// shell gets the identity basis over the full harmonic count
func TestShellBasisIdentity(t *testing.T) {
	shellList := []shells.Shell{
		{Mean: 0, Volumes: []int{0}},
		{Mean: 1000, Volumes: []int{1, 2, 3, 4, 5, 6}},
	}
	basis, err := buildShellBasis(shellList, 2, nil)
	if err != nil {
		t.Fatalf("buildShellBasis failed: %v", err)
	}
	if len(basis) != 2 {
		t.Fatalf("expected 2 basis matrices, got %d", len(basis))
	}
	for s, b := range basis {
		r, c := b.Dims()
		if r != 6 || c != 6 {
			t.Fatalf("shell %d basis is %dx%d, want 6x6", s, r, c)
		}
		for i := 0; i < 6; i++ {
			for j := 0; j < 6; j++ {
				want := 0.0
				if i == j {
					want = 1
				}
				if b.At(i, j) != want {
					t.Errorf("shell %d basis (%d,%d) = %f, want %f", s, i, j, b.At(i, j), want)
				}
			}
		}
	}
}

// TestShellBasisResponseBlocks verifies the multi-compartment block layout:
// each response function fills its degree blocks with the shell's response
// coefficient
func TestShellBasisResponseBlocks(t *testing.T) {
	shellList := []shells.Shell{
		{Mean: 0, Volumes: []int{0}},
		{Mean: 1000, Volumes: []int{1, 2, 3, 4, 5, 6}},
	}
	// Anisotropic compartment resolving degrees 0 and 2, plus an
	// isotropic compartment with only degree 0
	wm := mat.NewDense(2, 2, []float64{
		1.0, 0.0, // b=0 shell: no angular contrast
		0.8, -0.3,
	})
	iso := mat.NewDense(2, 1, []float64{
		1.0,
		0.5,
	})

	basis, err := buildShellBasis(shellList, 2, []*mat.Dense{wm, iso})
	if err != nil {
		t.Fatalf("buildShellBasis failed: %v", err)
	}

	// nc = NforL(2) + NforL(0) = 7
	if got := coefCount(2, []*mat.Dense{wm, iso}); got != 7 {
		t.Fatalf("coefCount = %d, want 7", got)
	}

	b := basis[1]
	r, c := b.Dims()
	if r != 7 || c != 6 {
		t.Fatalf("basis is %dx%d, want 7x6", r, c)
	}

	// First compartment: row 0 carries the degree-0 coefficient at
	// harmonic index 0; rows 1..5 carry the degree-2 coefficient at
	// harmonic indices 1..5
	if math.Abs(b.At(0, 0)-0.8) > 1e-12 {
		t.Errorf("degree-0 block = %f, want 0.8", b.At(0, 0))
	}
	for i := 1; i < 6; i++ {
		if math.Abs(b.At(i, i)+0.3) > 1e-12 {
			t.Errorf("degree-2 block row %d = %f, want -0.3", i, b.At(i, i))
		}
	}
	// Second compartment: row 6 carries the isotropic coefficient at
	// harmonic index 0
	if math.Abs(b.At(6, 0)-0.5) > 1e-12 {
		t.Errorf("isotropic block = %f, want 0.5", b.At(6, 0))
	}

	// Everything else is zero
	nonzero := 0
	for i := 0; i < 7; i++ {
		for j := 0; j < 6; j++ {
			if b.At(i, j) != 0 {
				nonzero++
			}
		}
	}
	if nonzero != 7 {
		t.Errorf("basis has %d non-zero entries, want 7", nonzero)
	}
}

// TestShellBasisDegreeTooHigh verifies a response resolving beyond lmax is
// rejected
func TestShellBasisDegreeTooHigh(t *testing.T) {
	shellList := []shells.Shell{{Mean: 1000, Volumes: []int{0}}}
	rf := mat.NewDense(1, 3, []float64{1, 0.5, 0.2}) // degrees 0, 2, 4
	if _, err := buildShellBasis(shellList, 2, []*mat.Dense{rf}); err == nil {
		t.Fatal("expected error for response degree exceeding lmax")
	}
}

// TestShellBasisRowCountMismatch verifies responses must carry one row per
// shell
func TestShellBasisRowCountMismatch(t *testing.T) {
	shellList := []shells.Shell{
		{Mean: 0, Volumes: []int{0}},
		{Mean: 1000, Volumes: []int{1}},
	}
	rf := mat.NewDense(1, 1, []float64{1})
	if _, err := buildShellBasis(shellList, 0, []*mat.Dense{rf}); err == nil {
		t.Fatal("expected error for response row count mismatch")
	}
}

// TestOperatorWithResponses exercises the decomposed coefficient space end
// to end: adjointness must hold for the block basis too
func TestOperatorWithResponses(t *testing.T) {
	wm := mat.NewDense(2, 2, []float64{
		1.0, 0.0,
		0.8, -0.3,
	})
	iso := mat.NewDense(2, 1, []float64{
		1.0,
		0.5,
	})
	op := newTestOperator(t, testOperatorConfig{
		geom: models.Geometry{NX: 4, NY: 4, NZ: 2},
		nb0:  1, ndwi: 6, lmax: 2,
		responses: []*mat.Dense{wm, iso},
	})
	if op.Coefficients() != 7 {
		t.Fatalf("Coefficients() = %d, want 7", op.Coefficients())
	}

	dataLen, coefLen := op.Dims()
	u := make([]float64, coefLen)
	v := make([]float64, dataLen)
	for i := range u {
		u[i] = math.Sin(float64(i))
	}
	for i := range v {
		v[i] = math.Cos(float64(i))
	}

	fu := make([]float64, dataLen)
	av := make([]float64, coefLen)
	if err := op.ApplyForward(fu, u); err != nil {
		t.Fatalf("ApplyForward failed: %v", err)
	}
	if err := op.ApplyAdjoint(av, v); err != nil {
		t.Fatalf("ApplyAdjoint failed: %v", err)
	}

	var lhs, rhs float64
	for i := range fu {
		lhs += fu[i] * v[i]
	}
	for i := range u {
		rhs += u[i] * av[i]
	}
	if math.Abs(lhs-rhs) > 1e-9*math.Max(math.Abs(lhs), 1) {
		t.Errorf("<Fu, v> = %.12f but <u, Av> = %.12f", lhs, rhs)
	}
}
