// Package shells groups the volumes of a diffusion acquisition into shells
// of (approximately) equal b-value. Every volume belongs to exactly one
// shell; downstream consumers treat the resulting partition as opaque.
package shells

import (
	"fmt"
	"sort"
)

// DefaultTolerance is the b-value spread (in s/mm^2) within which two
// volumes are considered to belong to the same shell.
const DefaultTolerance = 100.0

// Shell is a set of volume indices sharing a common diffusion weighting.
type Shell struct {
	// Mean is the average b-value of the shell's volumes
	Mean float64

	// Volumes holds the acquired-volume indices belonging to this shell,
	// in acquisition order
	Volumes []int
}

// IsBZero reports whether this shell holds the non-diffusion-weighted
// volumes.
func (s Shell) IsBZero() bool {
	return s.Mean < DefaultTolerance/2
}

// Count returns the number of volumes in the shell.
func (s Shell) Count() int {
	return len(s.Volumes)
}

// Group partitions volumes into shells by clustering their b-values. Two
// b-values belong to the same shell when they differ from the running shell
// mean by less than tol. A tol of zero or less selects DefaultTolerance.
func Group(bvalues []float64, tol float64) ([]Shell, error) {
	if len(bvalues) == 0 {
		return nil, fmt.Errorf("no volumes to group into shells")
	}
	if tol <= 0 {
		tol = DefaultTolerance
	}
	for i, b := range bvalues {
		if b < 0 {
			return nil, fmt.Errorf("volume %d has negative b-value %f", i, b)
		}
	}

	// Cluster in order of ascending b-value
	order := make([]int, len(bvalues))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return bvalues[order[i]] < bvalues[order[j]] })

	var shells []Shell
	for _, v := range order {
		b := bvalues[v]
		if len(shells) == 0 || b-shells[len(shells)-1].Mean > tol {
			shells = append(shells, Shell{Mean: b, Volumes: []int{v}})
			continue
		}
		s := &shells[len(shells)-1]
		s.Mean = (s.Mean*float64(len(s.Volumes)) + b) / float64(len(s.Volumes)+1)
		s.Volumes = append(s.Volumes, v)
	}

	// Restore acquisition order within each shell
	for i := range shells {
		sort.Ints(shells[i].Volumes)
	}
	return shells, nil
}

// VolumeToShell returns the shell index of every volume. The mapping is
// total: Group guarantees each volume appears in exactly one shell.
func VolumeToShell(shells []Shell, volumeCount int) ([]int, error) {
	idx := make([]int, volumeCount)
	for i := range idx {
		idx[i] = -1
	}
	for s, shell := range shells {
		for _, v := range shell.Volumes {
			if v < 0 || v >= volumeCount {
				return nil, fmt.Errorf("shell %d references volume %d outside series of %d volumes", s, v, volumeCount)
			}
			if idx[v] != -1 {
				return nil, fmt.Errorf("volume %d assigned to shells %d and %d", v, idx[v], s)
			}
			idx[v] = s
		}
	}
	for v, s := range idx {
		if s == -1 {
			return nil, fmt.Errorf("volume %d not assigned to any shell", v)
		}
	}
	return idx, nil
}
