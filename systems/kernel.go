package systems

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Kernels evaluates the SPH smoothing kernels. Inputs are world-space offsets;
// they are converted to metres by the unit scale so kernel coefficients stay
// consistent with densities in kg/m^3.
type Kernels struct {
	H     float64 // smoothing radius in metres
	H2    float64
	Scale float64 // metres per world unit

	poly6     float64
	spiky     float64
	cohesion  float64
	cohesion0 float64 // h^6/64
	adhesion  float64
}

// NewKernels precomputes coefficients for smoothing radius h (world units).
func NewKernels(h, unitScale float64) Kernels {
	hm := h * unitScale
	h3 := hm * hm * hm
	h6 := h3 * h3
	h9 := h6 * h3
	return Kernels{
		H:         hm,
		H2:        hm * hm,
		Scale:     unitScale,
		poly6:     315 / (64 * math.Pi * h9),
		spiky:     45 / (math.Pi * h6),
		cohesion:  32 / (math.Pi * h9),
		cohesion0: h6 / 64,
		adhesion:  0.007 / math.Pow(hm, 3.25),
	}
}

// ToMetres converts a world-space offset.
func (k *Kernels) ToMetres(d r3.Vec) r3.Vec {
	return r3.Scale(k.Scale, d)
}

// Poly6 evaluates the poly6 kernel for a squared distance in metres^2.
// Returns 0 for r2 >= h^2 without taking a square root.
func (k *Kernels) Poly6(r2 float64) float64 {
	if r2 >= k.H2 {
		return 0
	}
	d := k.H2 - r2
	return k.poly6 * d * d * d
}

// Poly6World evaluates poly6 for a world-space offset.
func (k *Kernels) Poly6World(d r3.Vec) float64 {
	return k.Poly6(r3.Norm2(d) * k.Scale * k.Scale)
}

// SpikyGradient returns the negated spiky kernel gradient for the offset
// d = p_i - p_j in metres: a vector pointing from the neighbour toward the
// query particle, zero at r = 0 and for r >= h.
func (k *Kernels) SpikyGradient(d r3.Vec) r3.Vec {
	r2 := r3.Norm2(d)
	if r2 >= k.H2 || r2 < 1e-24 {
		return r3.Vec{}
	}
	r := math.Sqrt(r2)
	x := k.H - r
	return r3.Scale(k.spiky*x*x/r, d)
}

// Cohesion evaluates the Akinci cohesion spline at distance r (metres).
func (k *Kernels) Cohesion(r float64) float64 {
	if r <= 0 || r > k.H {
		return 0
	}
	x := k.H - r
	v := x * x * x * r * r * r
	if 2*r > k.H {
		return k.cohesion * v
	}
	return k.cohesion * (2*v - k.cohesion0)
}

// Adhesion evaluates the Akinci adhesion kernel at distance r (metres). It is
// non-zero only on (h/2, h].
func (k *Kernels) Adhesion(r float64) float64 {
	if 2*r <= k.H || r > k.H {
		return 0
	}
	v := -4*r*r/k.H + 6*r - 2*k.H
	if v <= 0 {
		return 0
	}
	return k.adhesion * math.Pow(v, 0.25)
}
