package recon

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"dwirecon/internal/models"
)

// affine is the top 3x4 block of a homogeneous transform, stored row-major
// for cheap per-pixel application inside the projection loops.
type affine [12]float64

// apply maps the point (x, y, z) through the transform.
func (a *affine) apply(x, y, z float64) (float64, float64, float64) {
	return a[0]*x + a[1]*y + a[2]*z + a[3],
		a[4]*x + a[5]*y + a[6]*z + a[7],
		a[8]*x + a[9]*y + a[10]*z + a[11]
}

// transformContext holds the fixed voxel-grid/scanner transforms of the
// reconstruction volume, derived once from image geometry.
type transformContext struct {
	voxelToScanner *mat.Dense
	scannerToVoxel *mat.Dense
}

func newTransformContext(g models.Geometry) (*transformContext, error) {
	v2s := mat.NewDense(4, 4, nil)
	if g.VoxelToScanner != nil {
		v2s.Copy(g.VoxelToScanner)
	} else {
		identity4(v2s)
	}

	s2v := mat.NewDense(4, 4, nil)
	if err := s2v.Inverse(v2s); err != nil {
		return nil, fmt.Errorf("voxel-to-scanner transform is singular: %v", err)
	}
	return &transformContext{voxelToScanner: v2s, scannerToVoxel: s2v}, nil
}

// sliceTransform resolves the scanner-to-reconstruction-voxel map for the
// slice acquired at (volume v, through-plane z), composing the fixed grid
// transforms with that slice's rigid motion estimate. The motion table row
// count was validated at construction; anything else here is a programmer
// error.
func (op *Operator) sliceTransform(v, z int) affine {
	var m models.RigidMotion
	if op.perSlice {
		m = op.motion[v*op.nz+z]
	} else {
		m = op.motion[v]
	}

	var tmp, full mat.Dense
	tmp.Mul(motionTransform(m), op.t0.voxelToScanner)
	full.Mul(op.t0.scannerToVoxel, &tmp)

	var a affine
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			a[i*4+j] = full.At(i, j)
		}
	}
	return a
}

// motionTransform converts rigid motion parameters into a homogeneous 4x4
// transform: rotation applied in X, Y, Z order, then translation.
func motionTransform(m models.RigidMotion) *mat.Dense {
	t := mat.NewDense(4, 4, nil)
	r := rotationXYZ(m.Rotation[0], m.Rotation[1], m.Rotation[2])
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t.Set(i, j, r.At(i, j))
		}
		t.Set(i, 3, m.Translation[i])
	}
	t.Set(3, 3, 1)
	return t
}

// rotationXYZ builds the intrinsic X-then-Y-then-Z rotation matrix
// Rx(a1) * Ry(a2) * Rz(a3).
func rotationXYZ(a1, a2, a3 float64) *mat.Dense {
	c1, s1 := math.Cos(a1), math.Sin(a1)
	c2, s2 := math.Cos(a2), math.Sin(a2)
	c3, s3 := math.Cos(a3), math.Sin(a3)

	rx := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, c1, -s1,
		0, s1, c1,
	})
	ry := mat.NewDense(3, 3, []float64{
		c2, 0, s2,
		0, 1, 0,
		-s2, 0, c2,
	})
	rz := mat.NewDense(3, 3, []float64{
		c3, -s3, 0,
		s3, c3, 0,
		0, 0, 1,
	})

	var tmp, r mat.Dense
	tmp.Mul(ry, rz)
	r.Mul(rx, &tmp)
	return &r
}

// rotateDir applies a 3x3 rotation to a direction vector.
func rotateDir(r *mat.Dense, d [3]float64) [3]float64 {
	return [3]float64{
		r.At(0, 0)*d[0] + r.At(0, 1)*d[1] + r.At(0, 2)*d[2],
		r.At(1, 0)*d[0] + r.At(1, 1)*d[1] + r.At(1, 2)*d[2],
		r.At(2, 0)*d[0] + r.At(2, 1)*d[1] + r.At(2, 2)*d[2],
	}
}

func identity4(m *mat.Dense) {
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if i == j {
				m.Set(i, j, 1)
			} else {
				m.Set(i, j, 0)
			}
		}
	}
}
