package shells

import (
	"math"
	"testing"
)

// TestGroupTwoShells verifies grouping of a typical b=0 + single-shell
// acquisition with scanner jitter on the b-values
func TestGroupTwoShells(t *testing.T) {
	bvalues := []float64{0, 995, 0, 1010, 1000, 5, 990}

	shells, err := Group(bvalues, 0)
	if err != nil {
		t.Fatalf("Group failed: %v", err)
	}
	if len(shells) != 2 {
		t.Fatalf("expected 2 shells, got %d", len(shells))
	}

	b0, dwi := shells[0], shells[1]
	if !b0.IsBZero() {
		t.Errorf("first shell should be b=0, mean %f", b0.Mean)
	}
	if b0.Count() != 3 {
		t.Errorf("b=0 shell should hold 3 volumes, got %d", b0.Count())
	}
	if dwi.Count() != 4 {
		t.Errorf("b=1000 shell should hold 4 volumes, got %d", dwi.Count())
	}
	if math.Abs(dwi.Mean-998.75) > 1e-9 {
		t.Errorf("b=1000 shell mean = %f, want 998.75", dwi.Mean)
	}
}

// TestGroupPartition verifies that every volume lands in exactly one shell
func TestGroupPartition(t *testing.T) {
	bvalues := []float64{0, 700, 1000, 705, 2000, 0, 1995, 1005, 710}

	shells, err := Group(bvalues, 0)
	if err != nil {
		t.Fatalf("Group failed: %v", err)
	}
	if len(shells) != 4 {
		t.Fatalf("expected 4 shells, got %d", len(shells))
	}

	idx, err := VolumeToShell(shells, len(bvalues))
	if err != nil {
		t.Fatalf("VolumeToShell failed: %v", err)
	}
	for v, s := range idx {
		if s < 0 || s >= len(shells) {
			t.Errorf("volume %d mapped to invalid shell %d", v, s)
		}
	}

	// Shells come out in ascending b-value order
	for i := 1; i < len(shells); i++ {
		if shells[i].Mean <= shells[i-1].Mean {
			t.Errorf("shells out of order: %f then %f", shells[i-1].Mean, shells[i].Mean)
		}
	}
}

// TestGroupErrors verifies rejection of degenerate inputs
func TestGroupErrors(t *testing.T) {
	if _, err := Group(nil, 0); err == nil {
		t.Error("expected error for empty b-value table")
	}
	if _, err := Group([]float64{0, -5}, 0); err == nil {
		t.Error("expected error for negative b-value")
	}
}
