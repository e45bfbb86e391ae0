// Package sh implements the real even-degree spherical harmonic basis used
// to represent direction-dependent diffusion signal. Coefficients are stored
// in the usual even-degree packing: for degree l and order m, the coefficient
// index is l*(l+1)/2 + m, so a series truncated at degree lmax holds
// NforL(lmax) = (lmax+1)*(lmax+2)/2 values.
package sh

import (
	"fmt"
	"math"
)

// NforL returns the number of coefficients in an even-degree spherical
// harmonic series truncated at degree lmax.
func NforL(lmax int) int {
	return (lmax + 1) * (lmax + 2) / 2
}

// LforN returns the highest even degree whose series fits in n coefficients.
func LforN(n int) int {
	l := 0
	for NforL(l+2) <= n {
		l += 2
	}
	return l
}

// IndexOf returns the coefficient index of degree l, order m within the
// even-degree packing. l must be even and |m| <= l.
func IndexOf(l, m int) int {
	return l*(l+1)/2 + m
}

// Delta evaluates the spherical harmonic basis functions at the given
// direction up to degree lmax, returning one value per coefficient. This is
// the "delta response": the coefficient vector of an idealised unit impulse
// at that direction, which doubles as the design row mapping coefficients to
// signal amplitude along it. The direction need not be normalized; a zero
// vector is treated as the +z axis (the direction of a b=0 volume is
// meaningless and only its degree-0 term is ever used).
func Delta(dir [3]float64, lmax int) ([]float64, error) {
	if lmax < 0 || lmax%2 != 0 {
		return nil, fmt.Errorf("spherical harmonic degree must be even and non-negative, got %d", lmax)
	}

	x, y, z := dir[0], dir[1], dir[2]
	r := math.Sqrt(x*x + y*y + z*z)
	if r == 0 {
		x, y, z = 0, 0, 1
		r = 1
	}
	cosTheta := z / r
	phi := math.Atan2(y, x)

	out := make([]float64, NforL(lmax))
	for l := 0; l <= lmax; l += 2 {
		for m := 0; m <= l; m++ {
			k := normalization(l, m) * legendre(l, m, cosTheta)
			if m == 0 {
				out[IndexOf(l, 0)] = k
				continue
			}
			// Real basis: cos(m*phi) for positive orders,
			// sin(m*phi) for negative orders.
			out[IndexOf(l, m)] = math.Sqrt2 * k * math.Cos(float64(m)*phi)
			out[IndexOf(l, -m)] = math.Sqrt2 * k * math.Sin(float64(m)*phi)
		}
	}
	return out, nil
}

// normalization returns sqrt((2l+1)/(4*pi) * (l-m)!/(l+m)!).
func normalization(l, m int) float64 {
	f := 1.0
	for i := l - m + 1; i <= l+m; i++ {
		f *= float64(i)
	}
	return math.Sqrt((2*float64(l) + 1) / (4 * math.Pi) / f)
}

// legendre evaluates the associated Legendre polynomial P_l^m(x) for
// 0 <= m <= l using the standard stable recurrence (Condon-Shortley phase
// included).
func legendre(l, m int, x float64) float64 {
	// P_m^m
	pmm := 1.0
	if m > 0 {
		somx2 := math.Sqrt((1 - x) * (1 + x))
		fact := 1.0
		for i := 0; i < m; i++ {
			pmm *= -fact * somx2
			fact += 2
		}
	}
	if l == m {
		return pmm
	}
	// P_{m+1}^m
	pmmp1 := x * float64(2*m+1) * pmm
	if l == m+1 {
		return pmmp1
	}
	// Upward recurrence in degree.
	var pll float64
	for ll := m + 2; ll <= l; ll++ {
		pll = (x*float64(2*ll-1)*pmmp1 - float64(ll+m-1)*pmm) / float64(ll-m)
		pmm = pmmp1
		pmmp1 = pll
	}
	return pll
}
