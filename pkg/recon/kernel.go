package recon

import "math"

// sspSupport is the half-width of the slice-selection point-spread kernel:
// through-plane offsets s in [-sspSupport, sspSupport] contribute to each
// acquired slice.
const sspSupport = 2

// DefaultSSPWidth is the default full-width-at-half-maximum of the slice
// profile, in units of slice thickness.
const DefaultSSPWidth = 2.0

// ssp is the slice-selection point-spread function: a symmetric Gaussian
// approximation of the slice excitation profile, sampled at integer
// through-plane offsets and normalized to unit sum.
type ssp [2*sspSupport + 1]float64

func newSSP(fwhm float64) ssp {
	var k ssp
	sigma := fwhm / (2 * math.Sqrt(2*math.Ln2))
	sum := 0.0
	for s := -sspSupport; s <= sspSupport; s++ {
		w := math.Exp(-float64(s*s) / (2 * sigma * sigma))
		k[s+sspSupport] = w
		sum += w
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// at returns the kernel weight at through-plane offset s.
func (k *ssp) at(s int) float64 {
	return k[s+sspSupport]
}

// bspline3 evaluates the degree-3 uniform B-spline at t. Support is (-2, 2)
// with four non-zero taps for any fractional position.
func bspline3(t float64) float64 {
	a := math.Abs(t)
	switch {
	case a < 1:
		return (4 - 6*a*a + 3*a*a*a) / 6
	case a < 2:
		d := 2 - a
		return d * d * d / 6
	default:
		return 0
	}
}

// visitTaps enumerates the 4x4x4 cubic-spline neighborhood around the
// fractional voxel coordinate (px, py, pz), invoking visit with each
// in-bounds voxel index and its separable interpolation weight. Voxels
// outside the grid are skipped: the volume has an implicit Dirichlet
// boundary, so out-of-bounds taps contribute nothing.
func (op *Operator) visitTaps(px, py, pz float64, visit func(vox int, w float64)) {
	gx := math.Ceil(px)
	gy := math.Ceil(py)
	gz := math.Ceil(pz)

	for rz := -2; rz < 2; rz++ {
		z := int(gz) + rz
		if z < 0 || z >= op.nz {
			continue
		}
		wz := bspline3(pz - float64(z))
		for ry := -2; ry < 2; ry++ {
			y := int(gy) + ry
			if y < 0 || y >= op.ny {
				continue
			}
			wyz := wz * bspline3(py-float64(y))
			for rx := -2; rx < 2; rx++ {
				x := int(gx) + rx
				if x < 0 || x >= op.nx {
					continue
				}
				w := wyz * bspline3(px-float64(x))
				visit(z*op.nxy+y*op.nx+x, w)
			}
		}
	}
}

// projectSliceForward scatters the voxel-space amplitude field q into the
// nxy-pixel output of the slice at index row, combining the slice profile
// with cubic-spline interpolation. dst is accumulated into.
func (op *Operator) projectSliceForward(row int, dst, q []float64) {
	v, z := row/op.nz, row%op.nz
	t := op.sliceTransform(v, z)

	for s := -sspSupport; s <= sspSupport; s++ {
		ws := op.ssp.at(s)
		i := 0
		for y := 0; y < op.ny; y++ {
			for x := 0; x < op.nx; x++ {
				px, py, pz := t.apply(float64(x), float64(y), float64(z+s))
				acc := 0.0
				op.visitTaps(px, py, pz, func(vox int, w float64) {
					acc += w * q[vox]
				})
				dst[i] += ws * acc
				i++
			}
		}
	}
}

// projectSliceAdjoint gathers the observed slice data rhs back into the
// voxel-space field dst through the transpose of the same weight pattern
// used by projectSliceForward. Sharing the tap enumeration keeps the two
// passes exact adjoints of each other.
func (op *Operator) projectSliceAdjoint(row int, dst, rhs []float64) {
	v, z := row/op.nz, row%op.nz
	t := op.sliceTransform(v, z)

	for s := -sspSupport; s <= sspSupport; s++ {
		ws := op.ssp.at(s)
		i := 0
		for y := 0; y < op.ny; y++ {
			for x := 0; x < op.nx; x++ {
				px, py, pz := t.apply(float64(x), float64(y), float64(z+s))
				c := ws * rhs[i]
				if c != 0 {
					op.visitTaps(px, py, pz, func(vox int, w float64) {
						dst[vox] += c * w
					})
				}
				i++
			}
		}
	}
}
