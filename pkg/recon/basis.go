package recon

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"dwirecon/pkg/sh"
	"dwirecon/pkg/shells"
)

// coefCount returns the total number of coefficients per voxel: the plain
// spherical harmonic count when no response functions are given, or the sum
// of each response function's coefficient count in the decomposed basis.
func coefCount(lmax int, rf []*mat.Dense) int {
	if len(rf) == 0 {
		return sh.NforL(lmax)
	}
	n := 0
	for _, r := range rf {
		_, cols := r.Dims()
		n += sh.NforL(2 * (cols - 1))
	}
	return n
}

// buildShellBasis constructs, for each shell, the matrix mapping the
// per-voxel coefficient vector to that shell's spherical harmonic amplitude
// space. Without response functions this is the identity over NforL(lmax)
// coefficients. With response functions, each function contributes one
// coefficient block, and the shell's response coefficient for each even
// degree is placed across that degree's harmonic indices, giving a
// multi-compartment decomposition of the signal.
//
// Each response function is a matrix with one row per shell and one column
// per even degree (column l holding the coefficient of degree 2l). A
// response resolving degrees beyond lmax is a configuration error.
func buildShellBasis(shellList []shells.Shell, lmax int, rf []*mat.Dense) ([]*mat.Dense, error) {
	nc := coefCount(lmax, rf)
	basis := make([]*mat.Dense, len(shellList))

	for s := range shellList {
		if len(rf) == 0 {
			b := mat.NewDense(sh.NforL(lmax), sh.NforL(lmax), nil)
			for i := 0; i < sh.NforL(lmax); i++ {
				b.Set(i, i, 1)
			}
			basis[s] = b
			continue
		}

		b := mat.NewDense(nc, sh.NforL(lmax), nil)
		j := 0
		for ri, r := range rf {
			rows, cols := r.Dims()
			if rows != len(shellList) {
				return nil, fmt.Errorf("response function %d has %d rows, want one per shell (%d)",
					ri, rows, len(shellList))
			}
			if 2*(cols-1) > lmax {
				return nil, fmt.Errorf("response function %d resolves degree %d, exceeding lmax=%d",
					ri, 2*(cols-1), lmax)
			}
			for l := 0; l < cols; l++ {
				// Harmonic indices of degree 2l span
				// [l*(2l-1), (l+1)*(2l+1)).
				for i := l * (2*l - 1); i < (l+1)*(2*l+1); i++ {
					b.Set(j, i, r.At(s, l))
					j++
				}
			}
		}
		basis[s] = b
	}
	return basis, nil
}
