// Package recon implements the slice-to-volume reconstruction operator for
// motion-corrected diffusion MRI: a matrix-free linear map between a
// volumetric field of per-voxel spherical harmonic coefficients and the
// stack of acquired 2D slice intensities in scanner space. The operator
// fuses rigid-motion geometry, a slice-selection point-spread function,
// cubic B-spline interpolation and shell-dependent basis composition into
// forward, adjoint and normal-equation applications that are exact adjoints
// of one another, as required by any iterative least-squares solver driving
// them.
package recon

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"dwirecon/internal/models"
	"dwirecon/pkg/sh"
	"dwirecon/pkg/shells"
)

// Params holds the construction inputs of the reconstruction operator.
type Params struct {
	// Geometry describes the reconstruction voxel grid. The acquired
	// slices share its in-plane dimensions and through-plane count.
	Geometry models.Geometry

	// Gradients holds one diffusion gradient per acquired volume
	Gradients models.GradientTable

	// Motion holds the rigid motion estimates: one row per acquired
	// volume, or one per (volume, slice) pair
	Motion models.MotionTable

	// Lmax is the maximum spherical harmonic degree; must be even
	Lmax int

	// Responses optionally decomposes the coefficient space through
	// per-shell response functions, one matrix per compartment with a
	// row per shell and a column per even degree
	Responses []*mat.Dense

	// SSPWidth is the FWHM of the slice profile in slice-thickness
	// units; zero selects DefaultSSPWidth
	SSPWidth float64

	// ShellTolerance is the b-value spread grouping volumes into
	// shells; zero selects shells.DefaultTolerance
	ShellTolerance float64

	// NumWorkers caps the worker goroutines used per projection call;
	// zero or negative means one worker per CPU core
	NumWorkers int
}

// Operator is the slice-to-volume projection operator. It is immutable
// after construction except for the reliability weight vector, which the
// caller may replace between projection calls (never concurrently with an
// in-flight call).
type Operator struct {
	lmax                    int
	nx, ny, nz, nv, nxy, nc int

	t0       *transformContext
	motion   models.MotionTable
	perSlice bool

	// y is the design matrix: row v*nz+z maps the coefficient vector to
	// the predicted amplitude of that slice, incorporating its
	// motion-rotated gradient direction and shell basis
	y *mat.Dense

	// w holds one reliability weight per slice, applied in the adjoint
	// and normal projections only
	w []float64

	ssp     ssp
	workers int
}

// NewOperator validates the construction inputs and builds the operator,
// including the design matrix Y. All configuration invariant violations
// (odd lmax, bad motion row count, unsupported shell degree, degenerate
// geometry transform) surface here, never during projection.
func NewOperator(p *Params) (*Operator, error) {
	if p.Lmax < 0 || p.Lmax%2 != 0 {
		return nil, fmt.Errorf("lmax must be even and non-negative, got %d", p.Lmax)
	}
	if err := p.Geometry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid geometry: %w", err)
	}
	nv := len(p.Gradients)
	if nv == 0 {
		return nil, fmt.Errorf("gradient table is empty")
	}
	if err := p.Motion.ValidateRows(nv, p.Geometry.NZ); err != nil {
		return nil, fmt.Errorf("invalid motion table: %w", err)
	}

	t0, err := newTransformContext(p.Geometry)
	if err != nil {
		return nil, err
	}

	shellList, err := shells.Group(p.Gradients.BValues(), p.ShellTolerance)
	if err != nil {
		return nil, fmt.Errorf("shell grouping failed: %w", err)
	}
	vol2shell, err := shells.VolumeToShell(shellList, nv)
	if err != nil {
		return nil, fmt.Errorf("invalid shell partition: %w", err)
	}

	// Every shell must carry enough samples to support the requested
	// degree; rejecting this here keeps the failure out of the solver
	// loop.
	for _, s := range shellList {
		if s.IsBZero() {
			continue
		}
		if supported := sh.LforN(s.Count()); supported < p.Lmax {
			return nil, fmt.Errorf("shell b=%.0f has %d volumes, supporting lmax=%d < requested %d",
				s.Mean, s.Count(), supported, p.Lmax)
		}
	}

	basis, err := buildShellBasis(shellList, p.Lmax, p.Responses)
	if err != nil {
		return nil, err
	}

	sspWidth := p.SSPWidth
	if sspWidth <= 0 {
		sspWidth = DefaultSSPWidth
	}

	op := &Operator{
		lmax:     p.Lmax,
		nx:       p.Geometry.NX,
		ny:       p.Geometry.NY,
		nz:       p.Geometry.NZ,
		nv:       nv,
		nxy:      p.Geometry.NX * p.Geometry.NY,
		nc:       coefCount(p.Lmax, p.Responses),
		t0:       t0,
		motion:   p.Motion,
		perSlice: p.Motion.PerSlice(nv),
		ssp:      newSSP(sspWidth),
		workers:  p.NumWorkers,
	}

	if err := op.initDesign(p.Gradients, basis, vol2shell); err != nil {
		return nil, err
	}

	op.w = make([]float64, nv*op.nz)
	for i := range op.w {
		op.w[i] = 1
	}
	return op, nil
}

// initDesign fills the design matrix Y: one row per acquired slice, holding
// the shell basis applied to the spherical harmonic delta response at that
// slice's motion-rotated gradient direction.
func (op *Operator) initDesign(grad models.GradientTable, basis []*mat.Dense, vol2shell []int) error {
	op.y = mat.NewDense(op.nv*op.nz, op.nc, nil)

	row := mat.NewVecDense(op.nc, nil)
	for v := 0; v < op.nv; v++ {
		rot := rotationXYZ(op.motion[v].Rotation[0], op.motion[v].Rotation[1], op.motion[v].Rotation[2])
		for z := 0; z < op.nz; z++ {
			if op.perSlice {
				m := op.motion[v*op.nz+z]
				rot = rotationXYZ(m.Rotation[0], m.Rotation[1], m.Rotation[2])
			}
			delta, err := sh.Delta(rotateDir(rot, grad[v].Dir), op.lmax)
			if err != nil {
				return err
			}
			row.MulVec(basis[vol2shell[v]], mat.NewVecDense(len(delta), delta))
			op.y.SetRow(v*op.nz+z, row.RawVector().Data)
		}
	}
	return nil
}

// Dims returns the operator's logical matrix dimensions: rows is the slice
// data length nv*nz*nx*ny, cols the coefficient field length nx*ny*nz*nc.
func (op *Operator) Dims() (rows, cols int) {
	return op.nv * op.nz * op.nxy, op.nx * op.ny * op.nz * op.nc
}

// Coefficients returns the per-voxel coefficient count.
func (op *Operator) Coefficients() int {
	return op.nc
}

// DesignRow returns the design matrix row of the slice at (volume v,
// through-plane z).
func (op *Operator) DesignRow(v, z int) []float64 {
	return op.y.RawRowView(v*op.nz + z)
}

// SetWeights replaces the per-slice reliability weights, one non-negative
// scalar per acquired slice. The geometry and design matrix are untouched,
// so a solver may re-weight between iterations without reconstructing the
// operator. Must not be called while a projection is in flight.
func (op *Operator) SetWeights(w []float64) error {
	if len(w) != op.nv*op.nz {
		return fmt.Errorf("weight vector has %d entries, want %d", len(w), op.nv*op.nz)
	}
	for i, v := range w {
		if v < 0 {
			return fmt.Errorf("weight %d is negative: %f", i, v)
		}
	}
	copy(op.w, w)
	return nil
}

func (op *Operator) checkBuffers(coef, data []float64) error {
	rows, cols := op.Dims()
	if len(coef) != cols {
		return fmt.Errorf("coefficient buffer has %d entries, want %d", len(coef), cols)
	}
	if len(data) != rows {
		return fmt.Errorf("slice data buffer has %d entries, want %d", len(data), rows)
	}
	return nil
}

// ApplyForward computes the forward projection x -> y: for every acquired
// slice, the coefficient field is contracted against that slice's design
// row and the resulting amplitude field is resampled into the slice's 2D
// output through the interpolation kernel. dst is overwritten. Slices write
// disjoint output segments, so the pass is embarrassingly parallel.
func (op *Operator) ApplyForward(dst, src []float64) error {
	if err := op.checkBuffers(src, dst); err != nil {
		return err
	}
	nxyz := op.nxy * op.nz
	for i := range dst {
		dst[i] = 0
	}

	parallelFor(op.nv*op.nz, op.workers, func(start, end int) {
		q := make([]float64, nxyz)
		for row := start; row < end; row++ {
			op.amplitudes(q, src, row)
			op.projectSliceForward(row, dst[row*op.nxy:(row+1)*op.nxy], q)
		}
	})
	return nil
}

// ApplyAdjoint computes the transpose projection y -> x: every slice's
// observed data is gathered back into voxel space through the kernel
// transpose, scaled by the slice's reliability weight, and its outer
// product with the design row is accumulated into the coefficient field.
// dst is overwritten. All slices contribute to the same output, so the
// accumulation runs as a map-reduce over per-worker private buffers.
func (op *Operator) ApplyAdjoint(dst, src []float64) error {
	if err := op.checkBuffers(dst, src); err != nil {
		return err
	}
	nxyz := op.nxy * op.nz
	for i := range dst {
		dst[i] = 0
	}

	parallelSum(op.nv*op.nz, op.workers, len(dst), dst, func(start, end int, acc []float64) {
		r := make([]float64, nxyz)
		for row := start; row < end; row++ {
			for i := range r {
				r[i] = 0
			}
			op.projectSliceAdjoint(row, r, src[row*op.nxy:(row+1)*op.nxy])
			op.accumulate(acc, r, row)
		}
	})
	return nil
}

// ApplyNormal computes the normal-equation application x -> x as the exact
// per-slice composition of forward and adjoint through the slice-sized
// intermediate. Chaining the two passes, rather than fusing them, is what
// guarantees self-adjointness for arbitrary slice profiles.
func (op *Operator) ApplyNormal(dst, src []float64) error {
	_, cols := op.Dims()
	if len(src) != cols {
		return fmt.Errorf("coefficient buffer has %d entries, want %d", len(src), cols)
	}
	if len(dst) != cols {
		return fmt.Errorf("coefficient buffer has %d entries, want %d", len(dst), cols)
	}
	nxyz := op.nxy * op.nz
	for i := range dst {
		dst[i] = 0
	}

	parallelSum(op.nv*op.nz, op.workers, len(dst), dst, func(start, end int, acc []float64) {
		q := make([]float64, nxyz)
		r := make([]float64, nxyz)
		tmp := make([]float64, op.nxy)
		for row := start; row < end; row++ {
			op.amplitudes(q, src, row)
			for i := range tmp {
				tmp[i] = 0
			}
			op.projectSliceForward(row, tmp, q)
			for i := range r {
				r[i] = 0
			}
			op.projectSliceAdjoint(row, r, tmp)
			op.accumulate(acc, r, row)
		}
	})
	return nil
}

// amplitudes contracts the coefficient field against the design row of the
// given slice: q[vox] = sum_c coef[vox*nc+c] * Y[row,c].
func (op *Operator) amplitudes(q, coef []float64, row int) {
	yrow := op.y.RawRowView(row)
	for vox := range q {
		q[vox] = floats.Dot(coef[vox*op.nc:(vox+1)*op.nc], yrow)
	}
}

// accumulate adds the weighted outer product of the voxel field r with the
// slice's design row into the coefficient accumulator.
func (op *Operator) accumulate(acc, r []float64, row int) {
	w := op.w[row]
	if w == 0 {
		return
	}
	yrow := op.y.RawRowView(row)
	for vox, rv := range r {
		if rv == 0 {
			continue
		}
		floats.AddScaled(acc[vox*op.nc:(vox+1)*op.nc], w*rv, yrow)
	}
}
