// Package combine implements explicit recombination of diffusion volume
// pairs acquired with reversed phase encoding. Given a series in which
// every diffusion sensitisation appears twice, once per phase encoding
// direction with equal total readout time, it matches the pairs and merges
// each into a single output volume, optionally modulated by the relative
// susceptibility-distortion Jacobians of the two acquisitions.
package combine

import (
	"fmt"
	"math"

	"dwirecon/internal/models"
	"dwirecon/pkg/shells"
)

// directionMatchThreshold is the minimum |dot product| between unit
// gradient directions for two diffusion-weighted volumes to count as the
// same sensitisation.
const directionMatchThreshold = 0.999

// PhaseEncoding describes one volume's phase encoding: the encoding axis
// (a signed unit direction in image axes) and the total readout time in
// seconds.
type PhaseEncoding struct {
	Dir         [3]float64
	ReadoutTime float64
}

// opposes reports whether q encodes along the same axis as p in the
// reverse direction with equal readout time.
func (p PhaseEncoding) opposes(q PhaseEncoding) bool {
	sum := 0.0
	for i := range p.Dir {
		d := p.Dir[i] + q.Dir[i]
		sum += d * d
	}
	return sum == 0 && p.ReadoutTime == q.ReadoutTime
}

// axisAndSign returns the image axis the phase encoding runs along and its
// sign.
func (p PhaseEncoding) axisAndSign() (int, float64, error) {
	for axis, v := range p.Dir {
		if v != 0 {
			if v > 0 {
				return axis, 1, nil
			}
			return axis, -1, nil
		}
	}
	return 0, 0, fmt.Errorf("phase encoding direction is zero")
}

// Pair identifies two input volumes with equivalent diffusion
// sensitisation and opposite phase encoding.
type Pair struct {
	First, Second int
}

// FindPairs matches every input volume to its reversed-phase-encoding
// counterpart: same b-value shell, opposite encoding of equal readout
// time, and (for diffusion-weighted shells) parallel or antiparallel
// gradient direction. It returns the pairs alongside the output gradient
// table, holding the polarity-aware average direction and mean b-value of
// each pair. Matching failures are user-input errors, reported with the
// offending volume.
func FindPairs(grad models.GradientTable, pe []PhaseEncoding, shellTol float64) ([]Pair, models.GradientTable, error) {
	nv := len(grad)
	if nv == 0 {
		return nil, nil, fmt.Errorf("gradient table is empty")
	}
	if nv%2 != 0 {
		return nil, nil, fmt.Errorf("cannot pair volumes: series holds an odd count (%d)", nv)
	}
	if len(pe) != nv {
		return nil, nil, fmt.Errorf("phase encoding table has %d rows, want %d", len(pe), nv)
	}

	shellList, err := shells.Group(grad.BValues(), shellTol)
	if err != nil {
		return nil, nil, err
	}
	vol2shell, err := shells.VolumeToShell(shellList, nv)
	if err != nil {
		return nil, nil, err
	}

	paired := make([]bool, nv)
	pairs := make([]Pair, 0, nv/2)
	gradOut := make(models.GradientTable, 0, nv/2)

	for first := 0; first < nv; first++ {
		if paired[first] {
			continue
		}
		bzero := shellList[vol2shell[first]].IsBZero()
		match := -1
		for second := first + 1; second < nv; second++ {
			if paired[second] {
				continue
			}
			if vol2shell[second] != vol2shell[first] {
				continue
			}
			if !pe[first].opposes(pe[second]) {
				continue
			}
			if !bzero && !directionsMatch(grad[first].Dir, grad[second].Dir) {
				continue
			}
			match = second
			break
		}
		if match < 0 {
			return nil, nil, fmt.Errorf("no reversed phase encoding counterpart for volume %d (b=%.0f)",
				first, grad[first].BValue)
		}

		paired[first], paired[match] = true, true
		pairs = append(pairs, Pair{First: first, Second: match})
		gradOut = append(gradOut, models.Gradient{
			Dir:    averageDirection(grad[first].Dir, grad[match].Dir),
			BValue: 0.5 * (grad[first].BValue + grad[match].BValue),
		})
	}
	return pairs, gradOut, nil
}

func directionsMatch(a, b [3]float64) bool {
	na := norm(a)
	nb := norm(b)
	if na == 0 || nb == 0 {
		// One direction zero, the other not: no match unless both
		// are zero
		return na == nb
	}
	dot := (a[0]*b[0] + a[1]*b[1] + a[2]*b[2]) / (na * nb)
	return math.Abs(dot) >= directionMatchThreshold
}

// averageDirection averages two gradient directions accounting for
// opposite polarity; a zero pair stays zero.
func averageDirection(a, b [3]float64) [3]float64 {
	avg := [3]float64{
		0.5 * (a[0] + b[0]),
		0.5 * (a[1] + b[1]),
		0.5 * (a[2] + b[2]),
	}
	if norm(avg) < 0.5 {
		avg = [3]float64{
			0.5 * (a[0] - b[0]),
			0.5 * (a[1] - b[1]),
			0.5 * (a[2] - b[2]),
		}
	}
	if n := norm(avg); n > 0 {
		avg[0] /= n
		avg[1] /= n
		avg[2] /= n
	}
	return avg
}

func norm(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

// Combine merges each volume pair into one output volume. Without weights
// the two acquisitions are averaged; with per-volume weight images the
// output is the weight-modulated mean
// (w1*v1 + w2*v2) / (w1 + w2) per voxel, falling back to the plain mean
// where both weights vanish.
func Combine(volumes [][]float64, pairs []Pair, weights [][]float64) ([][]float64, error) {
	if len(volumes) == 0 {
		return nil, fmt.Errorf("no volumes to combine")
	}
	n := len(volumes[0])
	for i, v := range volumes {
		if len(v) != n {
			return nil, fmt.Errorf("volume %d has %d voxels, want %d", i, len(v), n)
		}
	}
	if weights != nil && len(weights) != len(volumes) {
		return nil, fmt.Errorf("weight series has %d volumes, want %d", len(weights), len(volumes))
	}

	out := make([][]float64, len(pairs))
	for p, pair := range pairs {
		if pair.First < 0 || pair.First >= len(volumes) || pair.Second < 0 || pair.Second >= len(volumes) {
			return nil, fmt.Errorf("pair %d references volumes outside the series", p)
		}
		dst := make([]float64, n)
		a, b := volumes[pair.First], volumes[pair.Second]
		if weights == nil {
			for i := range dst {
				dst[i] = 0.5 * (a[i] + b[i])
			}
		} else {
			wa, wb := weights[pair.First], weights[pair.Second]
			for i := range dst {
				if s := wa[i] + wb[i]; s > 0 {
					dst[i] = (wa[i]*a[i] + wb[i]*b[i]) / s
				} else {
					dst[i] = 0.5 * (a[i] + b[i])
				}
			}
		}
		out[p] = dst
	}
	return out, nil
}

// JacobianWeights derives the recombination weight image for one phase
// encoding group from a susceptibility field offset image (in Hz): the
// Jacobian of the distortion along the encoding axis, clamped at zero and
// squared, so that heavily compressed regions contribute little to the
// combined intensity.
func JacobianWeights(field []float64, nx, ny, nz int, pe PhaseEncoding) ([]float64, error) {
	if len(field) != nx*ny*nz {
		return nil, fmt.Errorf("field image has %d voxels, want %d", len(field), nx*ny*nz)
	}
	axis, sign, err := pe.axisAndSign()
	if err != nil {
		return nil, err
	}
	mult := sign * pe.ReadoutTime

	dims := [3]int{nx, ny, nz}
	strides := [3]int{1, nx, nx * ny}
	w := make([]float64, len(field))

	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			for x := 0; x < nx; x++ {
				idx := z*nx*ny + y*nx + x
				pos := [3]int{x, y, z}

				// Central difference along the encoding axis,
				// one-sided at the image edge
				lo, hi := idx, idx
				scale := 0.5
				if pos[axis] > 0 {
					lo = idx - strides[axis]
				}
				if pos[axis] < dims[axis]-1 {
					hi = idx + strides[axis]
				}
				if lo == idx || hi == idx {
					scale = 1.0
				}
				g := (field[hi] - field[lo]) * scale

				jac := math.Max(0, 1+g*mult)
				w[idx] = jac * jac
			}
		}
	}
	return w, nil
}
