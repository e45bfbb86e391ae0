package models

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Geometry describes the reconstruction voxel grid and its placement in
// scanner space.
type Geometry struct {
	// NX, NY, NZ are the grid dimensions in voxels
	NX, NY, NZ int

	// VoxelToScanner is the 4x4 affine mapping voxel coordinates to
	// scanner (world) coordinates. A nil transform means the identity:
	// voxel and scanner coordinates coincide.
	VoxelToScanner *mat.Dense
}

// Voxels returns the total voxel count of the grid.
func (g Geometry) Voxels() int {
	return g.NX * g.NY * g.NZ
}

// Validate checks the grid dimensions and transform shape.
func (g Geometry) Validate() error {
	if g.NX < 1 || g.NY < 1 || g.NZ < 1 {
		return fmt.Errorf("invalid grid dimensions %dx%dx%d", g.NX, g.NY, g.NZ)
	}
	if g.VoxelToScanner != nil {
		r, c := g.VoxelToScanner.Dims()
		if r != 4 || c != 4 {
			return fmt.Errorf("voxel-to-scanner transform must be 4x4, got %dx%d", r, c)
		}
	}
	return nil
}

// Gradient holds the diffusion sensitisation of one acquired volume.
type Gradient struct {
	// Dir is the diffusion gradient direction in scanner coordinates.
	// It need not be normalized; b=0 volumes conventionally carry a
	// zero direction.
	Dir [3]float64

	// BValue is the diffusion weighting strength in s/mm^2
	BValue float64
}

// GradientTable holds one Gradient per acquired volume, in acquisition
// order.
type GradientTable []Gradient

// BValues returns the b-value column of the table.
func (t GradientTable) BValues() []float64 {
	b := make([]float64, len(t))
	for i, g := range t {
		b[i] = g.BValue
	}
	return b
}

// RigidMotion holds a 6-parameter rigid-body transform: translation in mm
// followed by rotation angles in radians, applied in X, Y, Z order.
type RigidMotion struct {
	Translation [3]float64
	Rotation    [3]float64
}

// MotionTable holds rigid motion estimates, either one per acquired volume
// or one per (volume, slice) pair. No other row count is valid; consumers
// must check with ValidateRows.
type MotionTable []RigidMotion

// ValidateRows checks the motion table against the acquisition layout:
// exactly nv rows (per-volume motion) or nv*nz rows (per-slice motion).
func (t MotionTable) ValidateRows(nv, nz int) error {
	if len(t) == nv || len(t) == nv*nz {
		return nil
	}
	return fmt.Errorf("motion table has %d rows, want %d (per volume) or %d (per slice)",
		len(t), nv, nv*nz)
}

// PerSlice reports whether the table holds one transform per slice rather
// than one per volume.
func (t MotionTable) PerSlice(nv int) bool {
	return len(t) != nv
}
